package workflow

import (
	"context"
	"fmt"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/decisionhash"
	"github.com/warden-labs/warden/pkg/metrics"
	"github.com/warden-labs/warden/pkg/reason"
)

// Authorization is the outcome of the privileged-execution gate.
type Authorization struct {
	Allowed       bool   `json:"allowed"`
	ReasonCode    string `json:"reason_code"`
	ResponseClass string `json:"response_class"`
}

// AuthorizePrivilegedExecution is the gate consulted immediately before
// any side-effecting execution. It re-derives the decision context hash
// from the current request server-side — a caller-echoed artifact is
// never trusted on its own — and checks the persisted record reached an
// authorized terminal state.
//
// The gate is read-only with respect to the workflow store; every
// branch increments its outcome counter.
func (s *Service) AuthorizePrivilegedExecution(ctx context.Context, in *contracts.RequestInput, pol *contracts.Policy, artifact *contracts.DecisionArtifact) (*Authorization, error) {
	if artifact == nil {
		return s.authz(reason.CodeMissingArtifact, false), nil
	}
	if artifact.Decision != contracts.DecisionAllow {
		return s.authz(reason.CodeNonAllowArtifact, false), nil
	}

	eff := contracts.DefaultPolicy()
	if pol != nil {
		eff = *pol
	}
	hash, err := decisionhash.Compute(in, eff)
	if err != nil {
		return nil, fmt.Errorf("workflow: context hash recompute: %w", err)
	}
	if hash != artifact.DecisionContextHash {
		// The artifact was minted for a different logical request; it
		// cannot be replayed against a mutated one.
		return s.authz(reason.CodeContextMismatch, false), nil
	}

	rec, err := s.store.GetRequest(ctx, artifact.RequestID)
	if err != nil {
		return nil, fmt.Errorf("workflow: request lookup: %w", err)
	}
	if rec == nil {
		return s.authz(reason.CodeArtifactRequestNotFound, false), nil
	}
	if rec.State != contracts.StateAllowedTerminal && rec.State != contracts.StateEscalatedApprovedTerminal {
		return s.authz(reason.CodeArtifactStateNotAuthorized, false), nil
	}
	return s.authz(reason.CodeArtifactAuthorized, true), nil
}

func (s *Service) authz(code string, allowed bool) *Authorization {
	reason.MustKnown(code)
	s.metrics.Incr(metrics.CounterPrivilegedAuthorize, 1, map[string]string{"outcome": code})
	return &Authorization{
		Allowed:       allowed,
		ReasonCode:    code,
		ResponseClass: string(reason.ClassOf(code)),
	}
}
