// Package hitl implements the human-in-the-loop request lifecycle:
// create, approve, reject, and timeout, over a pluggable store.
//
// Status only ever transitions pending -> {approved, rejected}. Once a
// request is terminal, further mutation attempts are no-ops that return
// the existing record unchanged — they never silently succeed with new
// data.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warden-labs/warden/pkg/contracts"
)

// PendingTTL is the window a request stays actionable before a
// clock-checked timeout applies.
const PendingTTL = 5 * time.Minute

var (
	// ErrNotFound reports an unknown HITL request id.
	ErrNotFound = errors.New("hitl: request not found")
	// ErrUnauthorizedApprover reports an approval attempt by an actor
	// other than the request's principal.
	ErrUnauthorizedApprover = errors.New("hitl: approver not authorized")
)

// Store is the persistence port for HITL requests. Get returns
// (nil, nil) when the id is unknown.
type Store interface {
	Save(ctx context.Context, req *contracts.HITLRequest) error
	Get(ctx context.Context, id string) (*contracts.HITLRequest, error)
}

// Workflow drives the HITL request lifecycle.
type Workflow struct {
	store Store
	clock func() time.Time
}

// NewWorkflow creates a workflow over store.
func NewWorkflow(store Store) *Workflow {
	return &Workflow{store: store, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (w *Workflow) WithClock(clock func() time.Time) *Workflow {
	w.clock = clock
	return w
}

// Create opens a pending request with a PendingTTL expiry.
func (w *Workflow) Create(ctx context.Context, agentID, principalID string, tier int, action string) (*contracts.HITLRequest, error) {
	now := w.clock()
	req := &contracts.HITLRequest{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		PrincipalID: principalID,
		Tier:        tier,
		Action:      action,
		Status:      contracts.HITLPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(PendingTTL),
	}
	if err := w.store.Save(ctx, req); err != nil {
		return nil, fmt.Errorf("hitl: save failed: %w", err)
	}
	return req, nil
}

// Approve moves a pending request to approved. Only the request's
// principal may approve; anyone else gets ErrUnauthorizedApprover. An
// already-terminal request is returned unchanged.
func (w *Workflow) Approve(ctx context.Context, id, approverID string) (*contracts.HITLRequest, error) {
	req, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("hitl: get failed: %w", err)
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.Status.Terminal() {
		return req, nil
	}
	if approverID != req.PrincipalID {
		return nil, fmt.Errorf("%w: %q is not principal %q", ErrUnauthorizedApprover, approverID, req.PrincipalID)
	}
	req.Status = contracts.HITLApproved
	req.ApproverID = approverID
	if err := w.store.Save(ctx, req); err != nil {
		return nil, fmt.Errorf("hitl: save failed: %w", err)
	}
	return req, nil
}

// Reject moves a pending request to rejected. Rejection requires no
// special authority: the safe outcome is always reachable. An
// already-terminal request is returned unchanged.
func (w *Workflow) Reject(ctx context.Context, id, rejectReason string) (*contracts.HITLRequest, error) {
	req, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("hitl: get failed: %w", err)
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.Status.Terminal() {
		return req, nil
	}
	req.Status = contracts.HITLRejected
	req.Reason = rejectReason
	if err := w.store.Save(ctx, req); err != nil {
		return nil, fmt.Errorf("hitl: save failed: %w", err)
	}
	return req, nil
}

// Timeout expires a pending request. A nil now forces the timeout
// unconditionally; a supplied now only applies when now >= ExpiresAt,
// otherwise the request is returned unchanged and applied is false.
// Terminal requests are returned unchanged.
func (w *Workflow) Timeout(ctx context.Context, id string, now *time.Time) (req *contracts.HITLRequest, applied bool, err error) {
	req, err = w.store.Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("hitl: get failed: %w", err)
	}
	if req == nil {
		return nil, false, ErrNotFound
	}
	if req.Status.Terminal() {
		return req, false, nil
	}
	if now != nil && now.Before(req.ExpiresAt) {
		return req, false, nil
	}
	req.Status = contracts.HITLRejected
	req.Reason = "timeout"
	if err := w.store.Save(ctx, req); err != nil {
		return nil, false, fmt.Errorf("hitl: save failed: %w", err)
	}
	return req, true, nil
}

// Get returns the current record for id, or ErrNotFound.
func (w *Workflow) Get(ctx context.Context, id string) (*contracts.HITLRequest, error) {
	req, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("hitl: get failed: %w", err)
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}
