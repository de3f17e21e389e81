package archive

import (
	"context"
	"errors"

	"crisis-monitor/pkg/circuitbreaker"
	apperrors "crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/session"
)

// GuardedStore wraps a remote backend with a circuit breaker so ending a
// call does not wait on an archive that keeps failing. A missing summary is
// not a backend failure.
type GuardedStore struct {
	Store
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedStore wraps store with breaker
func NewGuardedStore(store Store, breaker *circuitbreaker.CircuitBreaker) *GuardedStore {
	breaker.SetFailurePredicate(func(err error) bool {
		return !errors.Is(err, apperrors.ErrNotFound)
	})
	return &GuardedStore{Store: store, breaker: breaker}
}

// Save implements session.Archive
func (g *GuardedStore) Save(ctx context.Context, summary *session.Summary) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.Store.Save(ctx, summary)
	})
}

// Get implements session.Archive
func (g *GuardedStore) Get(ctx context.Context, callID string) (*session.Summary, error) {
	var summary *session.Summary
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		summary, err = g.Store.Get(ctx, callID)
		return err
	})
	return summary, err
}

// List returns up to limit summaries, most recently ended first
func (g *GuardedStore) List(ctx context.Context, limit int) ([]*session.Summary, error) {
	var summaries []*session.Summary
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		summaries, err = g.Store.List(ctx, limit)
		return err
	})
	return summaries, err
}

// Ready fails while the breaker is open, so readiness reflects an archive
// that keeps rejecting writes
func (g *GuardedStore) Ready() error {
	if g.breaker.IsOpen() {
		return apperrors.New("archive circuit breaker is open", map[string]interface{}{
			"breaker": g.breaker.Name(),
		})
	}
	return nil
}
