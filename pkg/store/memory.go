// Package store provides the persistence adapters behind the workflow
// engine's ports: an in-memory reference implementation, SQLite and
// Postgres row stores, and Redis-backed replay/window primitives.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/hitl"
	"github.com/warden-labs/warden/pkg/workflow"
)

var (
	_ workflow.Store            = (*MemoryStore)(nil)
	_ hitl.Store                = (*MemoryHITLStore)(nil)
	_ workflow.ReservationStore = (*MemoryReservations)(nil)
)

// MemoryStore is the in-memory workflow store. Insert-if-absent is
// atomic under the store mutex, matching the contract the SQL adapters
// honor with ON CONFLICT.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]contracts.RequestRecord
	audit       map[string][]contracts.AuditEvent
	lineage     map[string][]contracts.LineageEvent
	escalations map[string][]time.Time
	events      []contracts.MetricsEvent
	rollups     map[string]contracts.MetricsRollup
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]contracts.RequestRecord),
		audit:       make(map[string][]contracts.AuditEvent),
		lineage:     make(map[string][]contracts.LineageEvent),
		escalations: make(map[string][]time.Time),
		rollups:     make(map[string]contracts.MetricsRollup),
	}
}

func (s *MemoryStore) GetRequest(_ context.Context, requestID string) (*contracts.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[requestID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) CreateRequest(_ context.Context, rec *contracts.RequestRecord) (*contracts.RequestRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Input.RequestID]; ok {
		out := existing
		return &out, false, nil
	}
	s.records[rec.Input.RequestID] = *rec
	out := *rec
	return &out, true, nil
}

func (s *MemoryStore) SaveRequest(_ context.Context, rec *contracts.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Input.RequestID] = *rec
	return nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, requestID string, event contracts.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[requestID] = append(s.audit[requestID], event)
	return nil
}

func (s *MemoryStore) GetAudit(_ context.Context, requestID string) ([]contracts.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.AuditEvent, len(s.audit[requestID]))
	copy(out, s.audit[requestID])
	return out, nil
}

func (s *MemoryStore) AppendLineage(_ context.Context, requestID string, event contracts.LineageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineage[requestID] = append(s.lineage[requestID], event)
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, requestID string) ([]contracts.LineageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.LineageEvent, len(s.lineage[requestID]))
	copy(out, s.lineage[requestID])
	return out, nil
}

func (s *MemoryStore) GetEscalationHistory(_ context.Context, key string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.escalations[key]))
	copy(out, s.escalations[key])
	return out, nil
}

func (s *MemoryStore) SetEscalationHistory(_ context.Context, key string, history []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[key] = append([]time.Time(nil), history...)
	return nil
}

func (s *MemoryStore) AppendMetricsEvent(_ context.Context, event contracts.MetricsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) MetricsEventsSince(_ context.Context, since time.Time) ([]contracts.MetricsEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.MetricsEvent
	for _, e := range s.events {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func rollupKey(period contracts.RollupPeriod, bucket time.Time, name string) string {
	return string(period) + "|" + bucket.UTC().Format(time.RFC3339) + "|" + name
}

func (s *MemoryStore) UpsertRollup(_ context.Context, rollup contracts.MetricsRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups[rollupKey(rollup.Period, rollup.Bucket, rollup.Name)] = rollup
	return nil
}

func (s *MemoryStore) GetRollup(_ context.Context, period contracts.RollupPeriod, bucket time.Time, name string) (*contracts.MetricsRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollups[rollupKey(period, bucket, name)]
	if !ok {
		return nil, nil
	}
	out := r
	return &out, nil
}

// MemoryHITLStore is the in-memory HITL request store.
type MemoryHITLStore struct {
	mu       sync.Mutex
	requests map[string]contracts.HITLRequest
}

// NewMemoryHITLStore creates an empty store.
func NewMemoryHITLStore() *MemoryHITLStore {
	return &MemoryHITLStore{requests: make(map[string]contracts.HITLRequest)}
}

func (s *MemoryHITLStore) Save(_ context.Context, req *contracts.HITLRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = *req
	return nil
}

func (s *MemoryHITLStore) Get(_ context.Context, id string) (*contracts.HITLRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	out := req
	return &out, nil
}

// MemoryReservations is an insert-once TTL reservation store for tests
// and single-process deployments.
type MemoryReservations struct {
	mu    sync.Mutex
	taken map[string]time.Time
	clock func() time.Time
}

// NewMemoryReservations creates an empty reservation store.
func NewMemoryReservations() *MemoryReservations {
	return &MemoryReservations{taken: make(map[string]time.Time), clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryReservations) WithClock(clock func() time.Time) *MemoryReservations {
	s.clock = clock
	return s
}

func (s *MemoryReservations) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if expiry, ok := s.taken[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.taken[key] = now.Add(ttl)
	return true, nil
}
