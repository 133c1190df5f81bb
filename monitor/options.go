package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-ebus/logger"
)

// Default monitor settings.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultClientBuffer = 64
)

type config struct {
	pingInterval time.Duration
	writeTimeout time.Duration
	clientBuffer int
	logger       logger.Logger
}

func defaultConfig() *config {
	return &config{
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		clientBuffer: DefaultClientBuffer,
		logger:       logger.GetLogger(),
	}
}

// Option is a functional option for configuring a Server.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithPingInterval sets the interval of websocket pings to idle clients.
func WithPingInterval(val time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if val <= 0 {
			return fmt.Errorf("monitor: ping interval %v must be positive", val)
		}
		cfg.pingInterval = val

		return nil
	})
}

// WithWriteTimeout sets the deadline of a single frame write.
func WithWriteTimeout(val time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if val <= 0 {
			return fmt.Errorf("monitor: write timeout %v must be positive", val)
		}
		cfg.writeTimeout = val

		return nil
	})
}

// WithClientBuffer sets the number of frames buffered per client. Frames for
// a client with a full buffer are dropped.
func WithClientBuffer(size int) Option {
	return optFunc(func(cfg *config) error {
		if size < 1 {
			return fmt.Errorf("monitor: client buffer %d must be positive", size)
		}
		cfg.clientBuffer = size

		return nil
	})
}

// WithLogger sets the logger of the server.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return errors.New("monitor: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
