package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/bertona88/wofi/internal/metrics"
)

// Option configures a worker.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records job metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the clock used for job bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// runLoop calls process until it reports no work. In watch mode it keeps
// polling, sleeping idle between empty rounds, until ctx is cancelled.
func runLoop(ctx context.Context, logger *slog.Logger, queue string, watch bool, idle time.Duration, process func(context.Context) (int, error)) error {
	logger.InfoContext(ctx, "worker starting", "queue", queue, "watch", watch)
	for {
		if err := ctx.Err(); err != nil {
			logger.InfoContext(ctx, "worker stopping: context cancelled", "queue", queue)
			return err
		}

		processed, err := process(ctx)
		if err != nil {
			return err
		}
		if processed > 0 {
			continue
		}
		if !watch {
			logger.InfoContext(ctx, "worker idle, exiting", "queue", queue)
			return nil
		}

		timer := time.NewTimer(idle)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.InfoContext(ctx, "worker stopping: context cancelled", "queue", queue)
			return ctx.Err()
		case <-timer.C:
		}
	}
}
