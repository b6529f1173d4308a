// Package reason holds the closed catalog of decision reason codes.
//
// Every RequestResult carries exactly one code from this catalog. Each
// code belongs to a family, maps to a coarse caller-facing response
// class, and maps to a transport status. A code that is registered but
// left without a class or status is a configuration defect and fails
// loudly at package initialization, never silently at decision time.
package reason

import "fmt"

// Family partitions the catalog by the subsystem that produced the code.
type Family string

const (
	FamilyTrustContext Family = "trust_context"
	FamilyPolicy       Family = "policy"
	FamilySecurity     Family = "security"
	FamilyHITL         Family = "hitl"
	FamilyAdapter      Family = "adapter"
	FamilyUnknown      Family = "unknown"
)

// Class is the coarse caller-facing outcome bucket for a code.
// Callers must treat ClassUnknown as fail-closed, equivalent to blocked.
type Class string

const (
	ClassOK        Class = "ok"
	ClassRetryable Class = "retryable"
	ClassBlocked   Class = "blocked"
	ClassUnknown   Class = "unknown"
)

// Request envelope admission failures.
const (
	CodeInvalidRequestShape = "trust_context_invalid_request_shape"
	CodeInvalidTimestamp    = "trust_context_invalid_timestamp"
	CodeTimestampSkew       = "trust_context_timestamp_skew_fail_closed"
)

// Business-rule outcomes from the policy evaluator and sensitivity
// classifier.
const (
	CodeInvalidPolicy          = "policy_invalid_policy"
	CodeInvalidRequest         = "policy_invalid_request"
	CodeDailyLimitExceeded     = "policy_daily_limit_exceeded"
	CodeCategoryNotAllowed     = "policy_category_not_allowed"
	CodeOutsideAllowedHours    = "policy_outside_allowed_hours"
	CodeMaxTransactionExceeded = "policy_max_transaction_exceeded"
	CodeGuardDenied            = "policy_guard_denied"
	CodeSensitiveScopeDenied   = "policy_sensitive_scope_denied"
	CodeWithinLimits           = "policy_within_limits"
	CodeLowRiskAllowed         = "policy_low_risk_allowed"
	CodeDefaultAllow           = "policy_default_allow"
)

// Security boundary violations and the privileged-execution gate.
const (
	CodeBypassDenied             = "security_handshake_required_bypass_denied"
	CodeSideChannelDenied        = "security_side_channel_denied"
	CodeEscalationFlood          = "security_escalation_flood_throttled"
	CodeMissingArtifact          = "security_missing_decision_artifact"
	CodeNonAllowArtifact         = "security_non_allow_artifact"
	CodeContextMismatch          = "security_decision_context_mismatch"
	CodeArtifactRequestNotFound  = "security_artifact_request_not_found"
	CodeArtifactStateNotAuthorized = "security_artifact_state_not_authorized"
	CodeArtifactAuthorized       = "security_artifact_authorized"
	CodeResolutionReplayDetected = "security_resolution_replay_detected"
)

// Human-in-the-loop lifecycle outcomes.
const (
	CodeRequiredEscalated          = "hitl_required_escalated"
	CodeSensitiveAmbiguousEscalated = "hitl_sensitive_ambiguous_escalated"
	CodeHITLRequestNotFound        = "hitl_request_not_found"
	CodeHITLRequestMismatch        = "hitl_request_mismatch"
	CodeTerminalStateImmutable     = "hitl_terminal_state_immutable"
	CodeTimeoutFailClosed          = "hitl_timeout_fail_closed"
	CodeHITLRejected               = "hitl_rejected"
	CodeHITLApproved               = "hitl_approved"
	CodeApprovalUnauthorized       = "hitl_approval_unauthorized"
)

// Downstream infrastructure failures. Always retryable.
const (
	CodeReplayGuardUnavailable     = "adapter_replay_guard_unavailable"
	CodeEscalationGuardUnavailable = "adapter_escalation_guard_unavailable"
	CodeStoreUnavailable           = "adapter_store_unavailable"
)

type entry struct {
	family Family
	class  Class
	status int
}

// catalog is the closed code registry. Adding a code here without a
// class or status is caught by Validate at init.
var catalog = map[string]entry{
	CodeInvalidRequestShape: {FamilyTrustContext, ClassBlocked, 400},
	CodeInvalidTimestamp:    {FamilyTrustContext, ClassBlocked, 400},
	CodeTimestampSkew:       {FamilyTrustContext, ClassBlocked, 400},

	CodeInvalidPolicy:          {FamilyPolicy, ClassBlocked, 422},
	CodeInvalidRequest:         {FamilyPolicy, ClassBlocked, 422},
	CodeDailyLimitExceeded:     {FamilyPolicy, ClassBlocked, 422},
	CodeCategoryNotAllowed:     {FamilyPolicy, ClassBlocked, 422},
	CodeOutsideAllowedHours:    {FamilyPolicy, ClassBlocked, 422},
	CodeMaxTransactionExceeded: {FamilyPolicy, ClassBlocked, 422},
	CodeGuardDenied:            {FamilyPolicy, ClassBlocked, 422},
	CodeSensitiveScopeDenied:   {FamilyPolicy, ClassBlocked, 422},
	CodeWithinLimits:           {FamilyPolicy, ClassOK, 200},
	CodeLowRiskAllowed:         {FamilyPolicy, ClassOK, 200},
	CodeDefaultAllow:           {FamilyPolicy, ClassOK, 200},

	CodeBypassDenied:               {FamilySecurity, ClassBlocked, 403},
	CodeSideChannelDenied:          {FamilySecurity, ClassBlocked, 403},
	CodeEscalationFlood:            {FamilySecurity, ClassBlocked, 429},
	CodeMissingArtifact:            {FamilySecurity, ClassBlocked, 401},
	CodeNonAllowArtifact:           {FamilySecurity, ClassBlocked, 403},
	CodeContextMismatch:            {FamilySecurity, ClassBlocked, 409},
	CodeArtifactRequestNotFound:    {FamilySecurity, ClassBlocked, 404},
	CodeArtifactStateNotAuthorized: {FamilySecurity, ClassBlocked, 403},
	CodeArtifactAuthorized:         {FamilySecurity, ClassOK, 200},
	CodeResolutionReplayDetected:   {FamilySecurity, ClassBlocked, 409},

	CodeRequiredEscalated:           {FamilyHITL, ClassRetryable, 202},
	CodeSensitiveAmbiguousEscalated: {FamilyHITL, ClassRetryable, 202},
	CodeHITLRequestNotFound:         {FamilyHITL, ClassBlocked, 404},
	CodeHITLRequestMismatch:         {FamilyHITL, ClassBlocked, 409},
	CodeTerminalStateImmutable:      {FamilyHITL, ClassBlocked, 409},
	CodeTimeoutFailClosed:           {FamilyHITL, ClassBlocked, 409},
	CodeHITLRejected:                {FamilyHITL, ClassBlocked, 403},
	CodeHITLApproved:                {FamilyHITL, ClassOK, 200},
	CodeApprovalUnauthorized:        {FamilyHITL, ClassBlocked, 403},

	CodeReplayGuardUnavailable:     {FamilyAdapter, ClassRetryable, 503},
	CodeEscalationGuardUnavailable: {FamilyAdapter, ClassRetryable, 503},
	CodeStoreUnavailable:           {FamilyAdapter, ClassRetryable, 503},
}

func init() {
	if err := Validate(); err != nil {
		panic(err)
	}
}

// Validate checks catalog completeness: every registered code must carry
// a family, a response class, and a transport status. Intended to run at
// startup so a registry defect can never default silently at decision
// time.
func Validate() error {
	for code, e := range catalog {
		if code == "" {
			return fmt.Errorf("reason: empty code registered")
		}
		if e.family == "" || e.family == FamilyUnknown {
			return fmt.Errorf("reason: code %q has no family", code)
		}
		if e.class == "" || e.class == ClassUnknown {
			return fmt.Errorf("reason: code %q has no response class", code)
		}
		if e.status <= 0 {
			return fmt.Errorf("reason: code %q has no transport status", code)
		}
	}
	return nil
}

// Known reports whether code is in the closed catalog.
func Known(code string) bool {
	_, ok := catalog[code]
	return ok
}

// MustKnown panics when code is outside the closed catalog. Constructing
// a result with an uncataloged code is a programmer error, not a caller
// error.
func MustKnown(code string) {
	if !Known(code) {
		panic(fmt.Sprintf("reason: unknown reason code %q", code))
	}
}

// FamilyOf returns the family for code, or FamilyUnknown for an
// unrecognized code.
func FamilyOf(code string) Family {
	if e, ok := catalog[code]; ok {
		return e.family
	}
	return FamilyUnknown
}

// ClassOf returns the response class for code. Unrecognized codes map to
// ClassUnknown, which callers must treat as blocked.
func ClassOf(code string) Class {
	if e, ok := catalog[code]; ok {
		return e.class
	}
	return ClassUnknown
}

// StatusOf returns the transport status for code. A code outside the
// catalog is an error; a registered code always has a status (enforced
// by Validate).
func StatusOf(code string) (int, error) {
	e, ok := catalog[code]
	if !ok {
		return 0, fmt.Errorf("reason: unknown reason code %q", code)
	}
	return e.status, nil
}

// MustStatus is StatusOf for codes the caller has already verified.
func MustStatus(code string) int {
	status, err := StatusOf(code)
	if err != nil {
		panic(err)
	}
	return status
}

// Codes returns every registered code. Order is unspecified.
func Codes() []string {
	out := make([]string, 0, len(catalog))
	for code := range catalog {
		out = append(out, code)
	}
	return out
}
