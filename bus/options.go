package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-ebus/ebus"
	"github.com/arloliu/go-ebus/logger"
)

// Default bus settings.
const (
	// DefaultIdleTimeout is the bus silence after which a SYN is generated
	// (auto-SYN) or the driver is resynchronized.
	DefaultIdleTimeout = 50 * time.Millisecond
	// DefaultSendTimeout bounds Send when the context carries no deadline.
	DefaultSendTimeout = 5 * time.Second
	// DefaultEventBuffer is the channel capacity of a subscription.
	DefaultEventBuffer = 64
)

// Range limits.
const (
	MinIdleTimeout = 10 * time.Millisecond
	MaxIdleTimeout = 10 * time.Second

	MinSendTimeout = 100 * time.Millisecond
	MaxSendTimeout = 120 * time.Second
)

// pollTimeout is the read timeout of the port. It bounds the latency of
// queued telegrams and of idle detection.
const pollTimeout = 5 * time.Millisecond

// RequestHandler answers a request addressed to the slave address of the bus.
//
// It runs on the bus goroutine and must return quickly: the reply has to be
// on the wire within a few byte times. Returning an error sends no reply.
type RequestHandler func(req ebus.MasterTelegram) ([]byte, error)

type config struct {
	idleTimeout time.Duration
	sendTimeout time.Duration
	autoSyn     bool
	eventBuffer int
	handler     RequestHandler
	driverOpts  []ebus.Option
	logger      logger.Logger
}

func defaultConfig() *config {
	return &config{
		idleTimeout: DefaultIdleTimeout,
		sendTimeout: DefaultSendTimeout,
		eventBuffer: DefaultEventBuffer,
		logger:      logger.GetLogger(),
	}
}

// Option is a functional option for configuring a Bus.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithIdleTimeout sets the bus silence after which the bus generates a SYN
// (with WithAutoSyn) or resynchronizes its driver.
func WithIdleTimeout(val time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if val < MinIdleTimeout || val > MaxIdleTimeout {
			return fmt.Errorf("bus: idle timeout %v out of range [%v, %v]", val, MinIdleTimeout, MaxIdleTimeout)
		}
		cfg.idleTimeout = val

		return nil
	})
}

// WithSendTimeout sets the timeout of Send for contexts without deadline.
func WithSendTimeout(val time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if val < MinSendTimeout || val > MaxSendTimeout {
			return fmt.Errorf("bus: send timeout %v out of range [%v, %v]", val, MinSendTimeout, MaxSendTimeout)
		}
		cfg.sendTimeout = val

		return nil
	})
}

// WithAutoSyn makes this node the SYN generator of the bus.
// Exactly one node of a bus must generate SYNs.
func WithAutoSyn(enabled bool) Option {
	return optFunc(func(cfg *config) error {
		cfg.autoSyn = enabled
		return nil
	})
}

// WithEventBuffer sets the channel capacity of subscriptions.
func WithEventBuffer(size int) Option {
	return optFunc(func(cfg *config) error {
		if size < 1 {
			return fmt.Errorf("bus: event buffer %d must be positive", size)
		}
		cfg.eventBuffer = size

		return nil
	})
}

// WithRequestHandler sets the handler answering requests to the slave address.
// Without a handler such requests are acknowledged but never answered.
func WithRequestHandler(h RequestHandler) Option {
	return optFunc(func(cfg *config) error {
		cfg.handler = h
		return nil
	})
}

// WithDriverOptions passes options to the protocol driver.
func WithDriverOptions(opts ...ebus.Option) Option {
	return optFunc(func(cfg *config) error {
		cfg.driverOpts = append(cfg.driverOpts, opts...)
		return nil
	})
}

// WithLogger sets the logger of the bus and, unless set by WithDriverOptions,
// of its driver.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return errors.New("bus: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
