// Package escalation rate-limits escalations to human review. An agent
// that floods the escalation queue can grind review to a halt, so each
// (principal, agent) pair gets a sliding window of allowed escalations;
// past the limit, escalations are converted to denials upstream.
package escalation

import (
	"context"
	"fmt"
	"time"
)

// Defaults for the sliding window.
const (
	DefaultLimit  = 5
	DefaultWindow = 10 * time.Minute
)

// WindowStore reads and writes the escalation timestamp history for a
// key. The read-prune-write sequence is not atomic; production use
// should install an AtomicWindow instead.
type WindowStore interface {
	History(ctx context.Context, key string) ([]time.Time, error)
	Put(ctx context.Context, key string, history []time.Time) error
}

// AtomicWindow registers an escalation in one atomic operation:
// prune entries older than the window, check the count against limit,
// and append now only when admitted. Implementations back this with a
// store-side primitive (e.g. a Redis script).
type AtomicWindow interface {
	Register(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)
}

// Guard is the escalation-flood limiter. It fires only on the escalate
// branch; allow and deny verdicts never consult it.
type Guard struct {
	window WindowStore
	atomic AtomicWindow
	clock  func() time.Time
	limit  int
	span   time.Duration
}

// NewGuard builds a guard over a WindowStore with default limits.
func NewGuard(window WindowStore) *Guard {
	return &Guard{
		window: window,
		clock:  time.Now,
		limit:  DefaultLimit,
		span:   DefaultWindow,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	g.clock = clock
	return g
}

// WithAtomicWindow installs an atomic window primitive. When set it
// replaces the read-prune-write path entirely.
func (g *Guard) WithAtomicWindow(w AtomicWindow) *Guard {
	g.atomic = w
	return g
}

// Key returns the guard key for a (principal, agent) pair.
func Key(principalID, agentID string) string {
	return principalID + "::" + agentID
}

// Admit decides whether one more escalation for the pair is allowed.
// On admission the escalation timestamp has been registered; on refusal
// nothing is registered, so a throttled burst does not extend its own
// window.
func (g *Guard) Admit(ctx context.Context, principalID, agentID string) (bool, error) {
	key := Key(principalID, agentID)
	now := g.clock()

	if g.atomic != nil {
		ok, err := g.atomic.Register(ctx, key, now, g.span, g.limit)
		if err != nil {
			return false, fmt.Errorf("escalation: atomic window: %w", err)
		}
		return ok, nil
	}

	history, err := g.window.History(ctx, key)
	if err != nil {
		return false, fmt.Errorf("escalation: history read: %w", err)
	}
	cutoff := now.Add(-g.span)
	pruned := history[:0:0]
	for _, ts := range history {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	if len(pruned) >= g.limit {
		return false, nil
	}
	pruned = append(pruned, now)
	if err := g.window.Put(ctx, key, pruned); err != nil {
		return false, fmt.Errorf("escalation: history write: %w", err)
	}
	return true, nil
}
