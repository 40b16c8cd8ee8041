// Package progress tracks long-running transfers and reports them to a sink
// at a bounded rate.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum time between two reports.
const DefaultInterval = 2 * time.Second

// Update is one progress report.
type Update struct {
	Message string
	Current int64
	Total   int64
	// IsSize marks Current and Total as byte counts rather than item counts.
	IsSize bool
}

// Done reports whether the tracked work is complete.
func (u Update) Done() bool { return u.Total > 0 && u.Current >= u.Total }

// Sink receives progress reports.
type Sink interface {
	Report(ctx context.Context, u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u Update) error

// Report calls f.
func (f SinkFunc) Report(ctx context.Context, u Update) error { return f(ctx, u) }

// Tracker counts completed work and forwards throttled updates to a Sink.
// Sink failures are logged and never returned to the caller.
type Tracker struct {
	mu      sync.Mutex
	ctx     context.Context
	sink    Sink
	limiter *rate.Limiter
	update  Update
}

// NewTracker creates a tracker that reports at most once per interval, plus
// once when the total is reached.
func NewTracker(ctx context.Context, sink Sink, message string, total int64, isSize bool, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		ctx:     ctx,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		update:  Update{Message: message, Total: total, IsSize: isSize},
	}
}

// Add records n more units of completed work. The count never exceeds the total.
func (t *Tracker) Add(n int64) {
	t.mu.Lock()
	if t.update.Total > 0 && t.update.Current+n > t.update.Total {
		n = t.update.Total - t.update.Current
	}
	t.update.Current += n
	u := t.update
	report := u.Done() || t.limiter.Allow()
	t.mu.Unlock()

	if report {
		t.send(u)
	}
}

// Current returns the work completed so far.
func (t *Tracker) Current() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.update.Current
}

// Finish sends a final report regardless of throttling.
func (t *Tracker) Finish() {
	t.mu.Lock()
	u := t.update
	t.mu.Unlock()
	t.send(u)
}

func (t *Tracker) send(u Update) {
	if t.sink == nil {
		return
	}
	if err := t.sink.Report(t.ctx, u); err != nil {
		log.Warn().Err(err).Str("message", u.Message).Msg("Failed to report progress")
	}
}

// LogSink writes progress updates to the global logger.
type LogSink struct{}

// Report logs u at info level.
func (LogSink) Report(_ context.Context, u Update) error {
	evt := log.Info().Str("task", u.Message).Int64("current", u.Current).Int64("total", u.Total)
	if u.Total > 0 {
		evt = evt.Float64("percent", float64(u.Current)*100/float64(u.Total))
	}
	evt.Msg("Progress")
	return nil
}

// Multi fans one update out to several sinks and returns the first error.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, u Update) error {
		var first error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Report(ctx, u); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
