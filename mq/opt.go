package mq

import "go.uber.org/zap"

// Options define the message queue options.
type Options struct {
	Logger      *zap.Logger
	MaxCapacity int
}

// DefaultOptions returns the default options as used by the message queue.
func DefaultOptions() Options {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return Options{
		Logger:      logger,
		MaxCapacity: 1000,
	}
}

// WithMaxCapacity updates the per-sender queue capacity.
func (opts Options) WithMaxCapacity(maxCapacity int) Options {
	opts.MaxCapacity = maxCapacity
	return opts
}
