package contracts

// Decision is the terminal verdict family for a request.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionDeny     Decision = "deny"
	DecisionEscalate Decision = "escalate"
)

// RequestState is the workflow state of a persisted request record.
//
// Transitions:
//
//	submitted -> allowed_terminal | denied_terminal | escalated_pending
//	escalated_pending -> escalated_approved_terminal |
//	                     escalated_rejected_terminal |
//	                     escalated_expired_terminal
//
// Every *_terminal state is immutable: no decision mutation is permitted
// once reached.
type RequestState string

const (
	StateSubmitted                 RequestState = "submitted"
	StateAllowedTerminal           RequestState = "allowed_terminal"
	StateDeniedTerminal            RequestState = "denied_terminal"
	StateEscalatedPending          RequestState = "escalated_pending"
	StateEscalatedApprovedTerminal RequestState = "escalated_approved_terminal"
	StateEscalatedRejectedTerminal RequestState = "escalated_rejected_terminal"
	StateEscalatedExpiredTerminal  RequestState = "escalated_expired_terminal"
)

// Terminal reports whether no further transition is permitted from s.
func (s RequestState) Terminal() bool {
	switch s {
	case StateAllowedTerminal, StateDeniedTerminal,
		StateEscalatedApprovedTerminal, StateEscalatedRejectedTerminal,
		StateEscalatedExpiredTerminal:
		return true
	}
	return false
}

// StateForDecision maps a fresh decision to the workflow state it
// establishes on first persistence.
func StateForDecision(d Decision) RequestState {
	switch d {
	case DecisionAllow:
		return StateAllowedTerminal
	case DecisionEscalate:
		return StateEscalatedPending
	default:
		return StateDeniedTerminal
	}
}

// RequestResult is the decision artifact produced for every submitted
// request. Callers must re-present it to unlock privileged execution;
// the engine re-derives DecisionContextHash server-side and never trusts
// a caller-echoed copy.
type RequestResult struct {
	RequestID  string   `json:"request_id"`
	Decision   Decision `json:"decision"`
	ReasonCode string   `json:"reason_code"`
	Tier       int      `json:"tier"`

	// TimestampMS is engine-assigned and authoritative.
	TimestampMS int64 `json:"timestamp_ms"`

	// DecisionContextHash binds this decision to the normalized inputs
	// that produced it ("sha256:" prefixed hex).
	DecisionContextHash string `json:"decision_context_hash"`

	// ResponseClass is the coarse caller-facing bucket derived from
	// ReasonCode: ok | retryable | blocked | unknown.
	ResponseClass string `json:"response_class"`

	HITLRequestID string `json:"hitl_request_id,omitempty"`
	TxnID         string `json:"txn_id,omitempty"`
}

// DecisionArtifact is the capability-bearing name under which a
// RequestResult is re-presented at the privileged-execution gate.
type DecisionArtifact = RequestResult

// RequestRecord is the persisted unit of workflow state: the original
// input, the current state, and the latest result. Records are created
// on first SubmitRequest, mutated only by HITL resolution, and never
// deleted.
type RequestRecord struct {
	Input    RequestInput  `json:"input"`
	State    RequestState  `json:"state"`
	Result   RequestResult `json:"result"`
	Terminal bool          `json:"terminal"`

	CreatedAtMS int64 `json:"created_at_ms"`
	UpdatedAtMS int64 `json:"updated_at_ms"`
}
