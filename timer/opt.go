package timer

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultDelta is the synchrony bound assumed by default.
	DefaultDelta = 100 * time.Millisecond

	// DefaultResolution is the tick period of the view timer by default. It
	// must be at most a tenth of the synchrony bound.
	DefaultResolution = 10 * time.Millisecond
)

// Options represent the options for a view timer.
type Options struct {
	Logger     logrus.FieldLogger
	Delta      time.Duration
	Resolution time.Duration
}

// DefaultOptions returns the default options for a view timer.
func DefaultOptions() Options {
	return Options{
		Logger:     loggerWithFields(logrus.New()),
		Delta:      DefaultDelta,
		Resolution: DefaultResolution,
	}
}

// WithLogLevel updates the log level of the view timer's logger.
func (opts Options) WithLogLevel(level logrus.Level) Options {
	logger := logrus.New()
	logger.SetLevel(level)
	opts.Logger = loggerWithFields(logger)
	return opts
}

// WithLogOutput updates where the view timer's logger will log data to.
func (opts Options) WithLogOutput(output io.Writer) Options {
	logger := logrus.New()
	logger.SetOutput(output)
	opts.Logger = loggerWithFields(logger)
	return opts
}

// WithDelta updates the synchrony bound of the view timer.
func (opts Options) WithDelta(delta time.Duration) Options {
	opts.Delta = delta
	return opts
}

// WithResolution updates the tick period of the view timer.
func (opts Options) WithResolution(resolution time.Duration) Options {
	opts.Resolution = resolution
	return opts
}

func loggerWithFields(logger *logrus.Logger) logrus.FieldLogger {
	return logger.
		WithField("lib", "morpheus").
		WithField("pkg", "timer").
		WithField("com", "timer")
}
