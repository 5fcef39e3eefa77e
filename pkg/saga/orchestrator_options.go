package saga

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/sagakit/pkg/feed"
)

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxAttempts bounds how often Handle restarts from load after losing a
// version race. Values below 1 are ignored.
func WithMaxAttempts(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFeed publishes every committed transition to p.
func WithFeed(p feed.Publisher[Transitioned]) OrchestratorOption {
	return func(o *Orchestrator) {
		o.feed = p
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEffectsTimeout bounds the cancels, schedules and token clears that follow
// a commit. They do not inherit the caller's cancellation.
func WithEffectsTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.effectsWait = d
		}
	}
}
