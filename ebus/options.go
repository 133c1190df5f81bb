package ebus

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-ebus/logger"
)

// Default driver settings.
const (
	// DefaultFairness is the number of SYNs a master skips after it used the bus
	// or lost arbitration against another priority class.
	DefaultFairness = 2
	// DefaultRetryLimit is the number of lost arbitrations or collisions
	// after which a queued telegram is dropped.
	DefaultRetryLimit = 3
	// DefaultQueueSize is the capacity of the outbound telegram queue.
	DefaultQueueSize = 16
)

// Setting limits.
const (
	MaxFairness   = 64
	MaxRetryLimit = 31
	MaxQueueSize  = 1024
)

// TelegramObserver is called with every master telegram framed on the bus,
// including telegrams between other nodes. crcOK tells whether the telegram
// passed the CRC check. It is invoked synchronously from Driver.Process and
// must return quickly.
type TelegramObserver func(t Telegram, crcOK bool)

type driverConfig struct {
	fairness   int
	retryLimit int
	queueSize  int
	logger     logger.Logger
	observer   TelegramObserver
}

func defaultDriverConfig() driverConfig {
	return driverConfig{
		fairness:   DefaultFairness,
		retryLimit: DefaultRetryLimit,
		queueSize:  DefaultQueueSize,
		logger:     logger.GetLogger(),
	}
}

// Option is a functional option for configuring a Driver.
type Option interface {
	apply(*driverConfig) error
}

type optFunc func(*driverConfig) error

func (f optFunc) apply(cfg *driverConfig) error { return f(cfg) }

// WithFairness sets the number of SYNs skipped before arbitrating again.
func WithFairness(n int) Option {
	return optFunc(func(cfg *driverConfig) error {
		if n < 0 || n > MaxFairness {
			return fmt.Errorf("%w: fairness %d out of range [0, %d]", ErrInvalidArgument, n, MaxFairness)
		}
		cfg.fairness = n

		return nil
	})
}

// WithRetryLimit sets the number of lost arbitrations tolerated per telegram.
func WithRetryLimit(n int) Option {
	return optFunc(func(cfg *driverConfig) error {
		if n < 1 || n > MaxRetryLimit {
			return fmt.Errorf("%w: retry limit %d out of range [1, %d]", ErrInvalidArgument, n, MaxRetryLimit)
		}
		cfg.retryLimit = n

		return nil
	})
}

// WithQueueSize sets the capacity of the outbound telegram queue.
func WithQueueSize(n int) Option {
	return optFunc(func(cfg *driverConfig) error {
		if n < 1 || n > MaxQueueSize {
			return fmt.Errorf("%w: queue size %d out of range [1, %d]", ErrInvalidArgument, n, MaxQueueSize)
		}
		cfg.queueSize = n

		return nil
	})
}

// WithLogger sets the logger of the driver.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *driverConfig) error {
		if l == nil {
			return errors.New("ebus: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithTelegramObserver registers fn to be called with every framed telegram.
func WithTelegramObserver(fn TelegramObserver) Option {
	return optFunc(func(cfg *driverConfig) error {
		cfg.observer = fn
		return nil
	})
}
