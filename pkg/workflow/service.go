// Package workflow implements the request workflow decision engine: it
// validates a request, classifies risk, evaluates policy, escalates
// ambiguous or boundary cases to human review, enforces terminal-state
// immutability, throttles escalation abuse, and leaves a tamper-evident
// audit/lineage trail behind every transition.
//
// The engine holds no durable state of its own; everything lives behind
// the Store port, so a Service may be shared or built per request.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warden-labs/warden/pkg/classify"
	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/decisionhash"
	"github.com/warden-labs/warden/pkg/escalation"
	"github.com/warden-labs/warden/pkg/hitl"
	"github.com/warden-labs/warden/pkg/metrics"
	"github.com/warden-labs/warden/pkg/policy"
	"github.com/warden-labs/warden/pkg/reason"
	"github.com/warden-labs/warden/pkg/validate"
)

// ReservationTTL bounds how long a human-decision idempotency key stays
// reserved against replays.
const ReservationTTL = 10 * time.Minute

// ResolveDecision is the human verdict applied to an escalated request.
type ResolveDecision string

const (
	ResolveApprove ResolveDecision = "approve"
	ResolveReject  ResolveDecision = "reject"
	ResolveTimeout ResolveDecision = "timeout"
)

// ResolveParams carries one HITL resolution attempt.
type ResolveParams struct {
	RequestID     string
	HITLRequestID string
	Decision      ResolveDecision

	// Now gates timeout resolutions: nil forces the timeout, a value
	// only applies it once the pending window has expired.
	Now *time.Time

	// ApproverID is the acting approver. Empty resolves to the
	// request's principal.
	ApproverID string

	// IdempotencyKey, when set, is checked against the replay
	// reservation store before any resolution logic runs.
	IdempotencyKey string

	// Reason is the optional human-supplied note on rejection.
	Reason string
}

// Service is the orchestrating state machine.
type Service struct {
	store        Store
	hitl         *hitl.Workflow
	guard        *escalation.Guard
	evaluator    *policy.Evaluator
	validator    *validate.Validator
	metrics      metrics.Sink
	reservations ReservationStore
	clock        func() time.Time
	logger       *slog.Logger
}

// New builds a service over the workflow store and HITL store with a
// no-op metrics sink and the store-backed escalation window. Use the
// With/Set methods to swap in production adapters.
func New(store Store, hitlStore hitl.Store) *Service {
	s := &Service{
		store:     store,
		hitl:      hitl.NewWorkflow(hitlStore),
		guard:     escalation.NewGuard(storeWindow{store}),
		evaluator: policy.MustNewEvaluator(),
		metrics:   metrics.Noop{},
		clock:     time.Now,
		logger:    slog.Default().With("component", "workflow"),
	}
	s.validator = validate.MustNew(s.now)
	return s
}

func (s *Service) now() time.Time { return s.clock() }

// WithClock overrides the clock for deterministic testing. The clock
// propagates to the validator, escalation guard, and HITL workflow.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	s.guard.WithClock(clock)
	s.hitl.WithClock(clock)
	return s
}

// SetMetrics installs a metrics sink.
func (s *Service) SetMetrics(sink metrics.Sink) {
	if sink != nil {
		s.metrics = sink
	}
}

// SetReservations installs the replay reservation store consulted by
// HITL resolutions carrying an idempotency key.
func (s *Service) SetReservations(r ReservationStore) {
	s.reservations = r
}

// SetEscalationWindow installs an atomic escalation window primitive,
// replacing the store-backed read-prune-write path.
func (s *Service) SetEscalationWindow(w escalation.AtomicWindow) {
	s.guard.WithAtomicWindow(w)
}

// SetLogger replaces the structured logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SubmitRequest runs the full decision pipeline for in under pol (nil
// means the default policy) and returns the decision artifact.
//
// Submissions are idempotent on RequestID: a replay returns the stored
// result unchanged with no re-evaluation, duplicate audit entries, or
// duplicate counters.
func (s *Service) SubmitRequest(ctx context.Context, in *contracts.RequestInput, pol *contracts.Policy) (*contracts.RequestResult, error) {
	now := s.clock()
	eff := contracts.DefaultPolicy()
	if pol != nil {
		eff = *pol
	}

	if code := s.validator.Check(in); code != "" {
		// Validation failures are still recorded, never silently
		// dropped.
		if code == reason.CodeBypassDenied || code == reason.CodeSideChannelDenied {
			s.metrics.Incr(metrics.CounterBypassDenied, 1, nil)
		}
		res, err := s.buildResult(in, eff, contracts.DecisionDeny, code, 4, "", now)
		if err != nil {
			return nil, err
		}
		return s.persistDecision(ctx, in, res, contracts.AuditValidationFailure, now)
	}

	existing, err := s.store.GetRequest(ctx, in.RequestID)
	if err != nil {
		return nil, fmt.Errorf("workflow: request lookup: %w", err)
	}
	if existing != nil {
		r := existing.Result
		return &r, nil
	}

	decision, tier, code := contracts.DecisionAllow, 1, reason.CodeDefaultAllow
	switch in.ActionType {
	case contracts.ActionDataAccess:
		if out := classify.Classify(in); out != nil {
			decision, tier, code = out.Decision, out.Tier, out.ReasonCode
		} else {
			decision, tier, code = contracts.DecisionAllow, 1, reason.CodeLowRiskAllowed
		}
	case contracts.ActionPayment:
		v := s.evaluator.Evaluate(eff, in)
		switch {
		case v.Decision == contracts.DecisionDeny:
			decision, tier, code = contracts.DecisionDeny, v.Tier, v.Reasons[0]
		case v.RequiresHITL:
			decision, tier, code = contracts.DecisionEscalate, v.Tier, reason.CodeRequiredEscalated
		default:
			decision, tier, code = contracts.DecisionAllow, v.Tier, reason.CodeWithinLimits
		}
	}

	var hitlID string
	if decision == contracts.DecisionEscalate {
		admitted, err := s.guard.Admit(ctx, in.PrincipalID, in.AgentID)
		switch {
		case err != nil:
			// Fail closed: an unavailable guard must not wave
			// escalations through.
			s.logger.ErrorContext(ctx, "escalation guard unavailable",
				"request_id", in.RequestID, "error", err)
			decision, tier, code = contracts.DecisionDeny, 4, reason.CodeEscalationGuardUnavailable
		case !admitted:
			s.metrics.Incr(metrics.CounterEscalationsThrottled, 1, nil)
			decision, tier, code = contracts.DecisionDeny, 4, reason.CodeEscalationFlood
		default:
			req, err := s.hitl.Create(ctx, in.AgentID, in.PrincipalID, tier, string(in.ActionType))
			if err != nil {
				s.logger.ErrorContext(ctx, "hitl create failed",
					"request_id", in.RequestID, "error", err)
				decision, tier, code = contracts.DecisionDeny, 4, reason.CodeStoreUnavailable
			} else {
				hitlID = req.ID
			}
		}
	}

	res, err := s.buildResult(in, eff, decision, code, tier, hitlID, now)
	if err != nil {
		return nil, err
	}
	return s.persistDecision(ctx, in, res, contracts.AuditDecision, now)
}

// buildResult assembles the decision artifact. An uncataloged reason
// code here is a programmer error and panics via MustKnown.
func (s *Service) buildResult(in *contracts.RequestInput, eff contracts.Policy, decision contracts.Decision, code string, tier int, hitlID string, now time.Time) (*contracts.RequestResult, error) {
	reason.MustKnown(code)
	hash, err := decisionhash.Compute(in, eff)
	if err != nil {
		return nil, fmt.Errorf("workflow: decision context hash: %w", err)
	}
	return &contracts.RequestResult{
		RequestID:           in.RequestID,
		Decision:            decision,
		ReasonCode:          code,
		Tier:                tier,
		TimestampMS:         now.UnixMilli(),
		DecisionContextHash: hash,
		ResponseClass:       string(reason.ClassOf(code)),
		HITLRequestID:       hitlID,
	}, nil
}

// persistDecision writes the record via atomic insert-if-absent and, on
// a fresh insert, appends the audit event, decision counters, and (for
// terminal records) the lineage event. Losing the insert race returns
// the winner's result with no duplicate side effects.
func (s *Service) persistDecision(ctx context.Context, in *contracts.RequestInput, res *contracts.RequestResult, eventType contracts.AuditEventType, now time.Time) (*contracts.RequestResult, error) {
	input := *in
	if input.RequestID == "" {
		// Shape-failed envelopes still leave a trail; key them under a
		// synthetic id so the record is reachable from the audit log.
		input.RequestID = "invalid:" + uuid.New().String()
		res.RequestID = input.RequestID
	}

	rec := &contracts.RequestRecord{
		Input:       input,
		State:       contracts.StateForDecision(res.Decision),
		Result:      *res,
		Terminal:    contracts.StateForDecision(res.Decision).Terminal(),
		CreatedAtMS: now.UnixMilli(),
		UpdatedAtMS: now.UnixMilli(),
	}

	stored, created, err := s.store.CreateRequest(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("workflow: request create: %w", err)
	}
	if !created {
		r := stored.Result
		return &r, nil
	}

	if err := s.store.AppendAudit(ctx, rec.Input.RequestID, newAuditEvent(eventType, rec, now, nil)); err != nil {
		return nil, fmt.Errorf("workflow: audit append: %w", err)
	}
	s.metrics.Incr(metrics.CounterDecisions, 1, map[string]string{"decision": string(res.Decision)})
	s.appendMetricsEvent(ctx, metrics.CounterDecisions, map[string]string{"decision": string(res.Decision)}, now)

	if rec.Terminal {
		if err := s.store.AppendLineage(ctx, rec.Input.RequestID, newLineageEvent(rec, now)); err != nil {
			return nil, fmt.Errorf("workflow: lineage append: %w", err)
		}
	}
	return res, nil
}

// ResolveRequestHitl applies a human decision to a pending escalated
// request and drives it to a terminal state. Every terminal branch
// persists the record and appends both audit and lineage events.
func (s *Service) ResolveRequestHitl(ctx context.Context, p ResolveParams) (*contracts.RequestResult, error) {
	now := s.clock()

	if p.IdempotencyKey != "" && s.reservations != nil {
		reserved, err := s.reservations.Reserve(ctx, "hitl_resolution:"+p.IdempotencyKey, ReservationTTL)
		if err != nil {
			// Fail closed but retryable: without the replay guard an
			// approval could double-apply.
			s.logger.ErrorContext(ctx, "replay guard unavailable", "request_id", p.RequestID, "error", err)
			return s.synthetic(p.RequestID, reason.CodeReplayGuardUnavailable, 4, "", now), nil
		}
		if !reserved {
			rec, err := s.store.GetRequest(ctx, p.RequestID)
			if err == nil && rec != nil && rec.Terminal {
				r := rec.Result
				return &r, nil
			}
			return s.synthetic(p.RequestID, reason.CodeResolutionReplayDetected, 4, "", now), nil
		}
	}

	rec, err := s.store.GetRequest(ctx, p.RequestID)
	if err != nil {
		return nil, fmt.Errorf("workflow: request lookup: %w", err)
	}
	if rec == nil {
		return s.synthetic(p.RequestID, reason.CodeHITLRequestNotFound, 4, "", now), nil
	}

	if rec.Result.HITLRequestID != p.HITLRequestID {
		res := s.synthetic(p.RequestID, reason.CodeHITLRequestMismatch, 4, rec.Result.DecisionContextHash, now)
		s.auditResolutionDenied(ctx, rec, res, now, true)
		return res, nil
	}

	if rec.Terminal {
		// The immutability guarantee: no decision may be revised once a
		// terminal state is reached.
		s.metrics.Incr(metrics.CounterTerminalMutationDenied, 1, nil)
		res := s.synthetic(p.RequestID, reason.CodeTerminalStateImmutable, rec.Result.Tier, rec.Result.DecisionContextHash, now)
		s.auditResolutionDenied(ctx, rec, res, now, false)
		return res, nil
	}

	var (
		decision contracts.Decision
		code     string
		tier     int
		state    contracts.RequestState
	)
	switch p.Decision {
	case ResolveTimeout:
		req, applied, err := s.hitl.Timeout(ctx, p.HITLRequestID, p.Now)
		if err != nil && !errors.Is(err, hitl.ErrNotFound) {
			return nil, err
		}
		if err == nil && !applied && req.Status == contracts.HITLPending {
			// Not yet expired: the request stays pending, untouched.
			r := rec.Result
			return &r, nil
		}
		// Timeout is always fail-closed.
		decision, code, tier = contracts.DecisionDeny, reason.CodeTimeoutFailClosed, 4
		state = contracts.StateEscalatedExpiredTerminal

	case ResolveReject:
		if _, err := s.hitl.Reject(ctx, p.HITLRequestID, p.Reason); err != nil && !errors.Is(err, hitl.ErrNotFound) {
			return nil, err
		}
		decision, code, tier = contracts.DecisionDeny, reason.CodeHITLRejected, rec.Result.Tier
		state = contracts.StateEscalatedRejectedTerminal

	case ResolveApprove:
		approver := p.ApproverID
		if approver == "" {
			approver = rec.Input.PrincipalID
		}
		req, err := s.hitl.Approve(ctx, p.HITLRequestID, approver)
		switch {
		case errors.Is(err, hitl.ErrUnauthorizedApprover):
			// An unauthorized approval attempt terminates the request
			// as rejected; it does not remain pending.
			decision, code, tier = contracts.DecisionDeny, reason.CodeApprovalUnauthorized, 4
			state = contracts.StateEscalatedRejectedTerminal
		case errors.Is(err, hitl.ErrNotFound):
			return s.synthetic(p.RequestID, reason.CodeHITLRequestNotFound, 4, rec.Result.DecisionContextHash, now), nil
		case err != nil:
			return nil, err
		case req.Status != contracts.HITLApproved:
			// The underlying HITL request already reached a different
			// terminal status; the approval cannot apply.
			decision, code, tier = contracts.DecisionDeny, reason.CodeHITLRejected, rec.Result.Tier
			state = contracts.StateEscalatedRejectedTerminal
		default:
			decision, code, tier = contracts.DecisionAllow, reason.CodeHITLApproved, 3
			state = contracts.StateEscalatedApprovedTerminal
		}

	default:
		return nil, fmt.Errorf("workflow: unknown resolution decision %q", p.Decision)
	}

	reason.MustKnown(code)
	res := contracts.RequestResult{
		RequestID:           rec.Input.RequestID,
		Decision:            decision,
		ReasonCode:          code,
		Tier:                tier,
		TimestampMS:         now.UnixMilli(),
		DecisionContextHash: rec.Result.DecisionContextHash,
		ResponseClass:       string(reason.ClassOf(code)),
		HITLRequestID:       rec.Result.HITLRequestID,
	}
	rec.Result = res
	rec.State = state
	rec.Terminal = true
	rec.UpdatedAtMS = now.UnixMilli()

	if err := s.store.SaveRequest(ctx, rec); err != nil {
		return nil, fmt.Errorf("workflow: request save: %w", err)
	}
	if err := s.store.AppendAudit(ctx, rec.Input.RequestID, newAuditEvent(contracts.AuditHITLResolution, rec, now, nil)); err != nil {
		return nil, fmt.Errorf("workflow: audit append: %w", err)
	}
	if err := s.store.AppendLineage(ctx, rec.Input.RequestID, newLineageEvent(rec, now)); err != nil {
		return nil, fmt.Errorf("workflow: lineage append: %w", err)
	}
	s.metrics.Incr(metrics.CounterHITLResolutions, 1, map[string]string{"decision": string(p.Decision)})
	s.appendMetricsEvent(ctx, metrics.CounterHITLResolutions, map[string]string{"decision": string(p.Decision)}, now)

	return &res, nil
}

// synthetic builds a non-persisting denial response for resolution
// attempts that never touch the record.
func (s *Service) synthetic(requestID, code string, tier int, hash string, now time.Time) *contracts.RequestResult {
	reason.MustKnown(code)
	return &contracts.RequestResult{
		RequestID:           requestID,
		Decision:            contracts.DecisionDeny,
		ReasonCode:          code,
		Tier:                tier,
		TimestampMS:         now.UnixMilli(),
		DecisionContextHash: hash,
		ResponseClass:       string(reason.ClassOf(code)),
	}
}

// auditResolutionDenied appends the trail of a refused resolution
// attempt without mutating the stored record. Lineage is appended only
// for the mismatch branch, which the governance chain must see.
func (s *Service) auditResolutionDenied(ctx context.Context, rec *contracts.RequestRecord, res *contracts.RequestResult, now time.Time, lineage bool) {
	attempt := *rec
	attempt.Result = *res
	event := newAuditEvent(contracts.AuditResolutionDenied, &attempt, now, nil)
	if err := s.store.AppendAudit(ctx, rec.Input.RequestID, event); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed", "request_id", rec.Input.RequestID, "error", err)
	}
	if lineage {
		if err := s.store.AppendLineage(ctx, rec.Input.RequestID, newLineageEvent(&attempt, now)); err != nil {
			s.logger.ErrorContext(ctx, "lineage append failed", "request_id", rec.Input.RequestID, "error", err)
		}
	}
}

func (s *Service) appendMetricsEvent(ctx context.Context, name string, labels map[string]string, now time.Time) {
	event := contracts.MetricsEvent{Name: name, Value: 1, Labels: labels, Timestamp: now.UTC()}
	if err := s.store.AppendMetricsEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "metrics event append failed", "name", name, "error", err)
	}
}

// GetRequest returns the persisted record for requestID, or (nil, nil).
func (s *Service) GetRequest(ctx context.Context, requestID string) (*contracts.RequestRecord, error) {
	return s.store.GetRequest(ctx, requestID)
}

// GetAudit returns the full operational trail for requestID in append
// order.
func (s *Service) GetAudit(ctx context.Context, requestID string) ([]contracts.AuditEvent, error) {
	return s.store.GetAudit(ctx, requestID)
}

// GetLineage returns the governance lineage chain for requestID.
func (s *Service) GetLineage(ctx context.Context, requestID string) ([]contracts.LineageEvent, error) {
	return s.store.GetLineage(ctx, requestID)
}
