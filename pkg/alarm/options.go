package alarm

import (
	"errors"
	"log/slog"
	"time"
)

// ErrNoHandler is returned by Start when no wake handler was registered.
var ErrNoHandler = errors.New("alarm: no wake handler registered")

type schedulerOptions struct {
	checkInterval time.Duration
	logger        *slog.Logger
}

// Option configures a Scheduler.
type Option func(*schedulerOptions)

// WithCheckInterval sets how often the scheduler scans for due wakes.
// Shorter intervals fire closer to the requested time at the cost of more
// store traffic.
func WithCheckInterval(interval time.Duration) Option {
	return func(o *schedulerOptions) {
		if interval > 0 {
			o.checkInterval = interval
		}
	}
}

// WithLogger sets the logger used by the scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
