package workflow

import (
	"context"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
)

// Store is the persistence port the workflow engine consumes. All
// durable state lives behind it; the engine itself is safely shareable
// or per-request instantiable.
//
// GetRequest returns (nil, nil) for an unknown id. CreateRequest must be
// atomic insert-if-absent: when a record already exists for the id it
// returns the stored record with created == false and must not
// overwrite. This closes the race between concurrent first-time
// submissions for one request id.
type Store interface {
	GetRequest(ctx context.Context, requestID string) (*contracts.RequestRecord, error)
	CreateRequest(ctx context.Context, rec *contracts.RequestRecord) (stored *contracts.RequestRecord, created bool, err error)
	SaveRequest(ctx context.Context, rec *contracts.RequestRecord) error

	AppendAudit(ctx context.Context, requestID string, event contracts.AuditEvent) error
	GetAudit(ctx context.Context, requestID string) ([]contracts.AuditEvent, error)

	AppendLineage(ctx context.Context, requestID string, event contracts.LineageEvent) error
	GetLineage(ctx context.Context, requestID string) ([]contracts.LineageEvent, error)

	GetEscalationHistory(ctx context.Context, key string) ([]time.Time, error)
	SetEscalationHistory(ctx context.Context, key string, history []time.Time) error

	// Metrics events and rollups are consumed by an external projector;
	// the engine only appends raw events.
	AppendMetricsEvent(ctx context.Context, event contracts.MetricsEvent) error
	MetricsEventsSince(ctx context.Context, since time.Time) ([]contracts.MetricsEvent, error)
	UpsertRollup(ctx context.Context, rollup contracts.MetricsRollup) error
	GetRollup(ctx context.Context, period contracts.RollupPeriod, bucket time.Time, name string) (*contracts.MetricsRollup, error)
}

// ReservationStore is the insert-once, TTL-bounded replay guard for
// human-decision idempotency keys. Reserve returns false when the key
// was already reserved within its TTL.
type ReservationStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// storeWindow adapts the Store escalation-history contract to the
// escalation guard's WindowStore port.
type storeWindow struct {
	store Store
}

func (w storeWindow) History(ctx context.Context, key string) ([]time.Time, error) {
	return w.store.GetEscalationHistory(ctx, key)
}

func (w storeWindow) Put(ctx context.Context, key string, history []time.Time) error {
	return w.store.SetEscalationHistory(ctx, key, history)
}
