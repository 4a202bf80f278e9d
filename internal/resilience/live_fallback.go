package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/signbridge/pkg/provider/live"
)

// LiveFallback implements [live.Provider] with a circuit breaker per backend
// and connect-time failover. Established sessions are never migrated: a
// session that fails mid-stream reports its error to the caller like any
// other.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primary as the preferred
// backend. With no fallbacks added it acts as a plain breaker around primary.
//
// Context cancellation and deadline errors neither count against a breaker
// nor move on to the next backend.
func NewLiveFallback(primary live.Provider, primaryName string, cfg FallbackConfig) *LiveFallback {
	cfg.Abort = isContextErr
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return err != nil && !isContextErr(err)
	}
	return &LiveFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *LiveFallback) AddFallback(name string, p live.Provider) {
	f.group.AddFallback(name, p)
}

// Connect opens a session on the first backend that accepts it.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	return ExecuteWithResult(f.group, func(p live.Provider) (live.Session, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities reports the primary backend's capabilities.
func (f *LiveFallback) Capabilities() live.Capabilities {
	return f.group.Primary().Capabilities()
}

// Backends returns each backend's breaker state keyed by name.
func (f *LiveFallback) Backends() map[string]State { return f.group.States() }

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
