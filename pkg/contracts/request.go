// Package contracts defines the shared domain types for the Warden
// request workflow: request envelopes, decision artifacts, persisted
// workflow records, human-in-the-loop requests, and the audit/lineage
// event shapes that accompany every state transition.
package contracts

import "time"

// ActionType classifies what kind of side effect a request proposes.
type ActionType string

const (
	ActionPayment       ActionType = "payment"
	ActionDataAccess    ActionType = "data_access"
	ActionCredentialUse ActionType = "credential_use"
	ActionExternalCall  ActionType = "external_call"
	ActionOther         ActionType = "other"
)

// Valid reports whether t is one of the closed set of action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionPayment, ActionDataAccess, ActionCredentialUse, ActionExternalCall, ActionOther:
		return true
	}
	return false
}

// Sensitivity labels carried by data-access requests.
const (
	SensitivityHigh         = "high"
	SensitivityConfidential = "confidential"
	SensitivityAmbiguous    = "ambiguous"
)

// PaymentDetails is the payment-shaped payload variant.
// Amount is in the caller's minor-unit-free decimal convention;
// the evaluator only compares it against policy limits.
type PaymentDetails struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Category string  `json:"category,omitempty"`
	Payee    string  `json:"payee,omitempty"`
}

// DataAccessDetails is the data-access payload variant.
type DataAccessDetails struct {
	Resource                 string `json:"resource,omitempty"`
	Sensitivity              string `json:"sensitivity,omitempty"`
	AuthorizedSensitiveScope bool   `json:"authorized_sensitive_scope,omitempty"`
}

// RequestInput is the envelope a caller submits for authorization.
// RequestID doubles as the idempotency key: the first decision persisted
// under it is the only decision that will ever be returned for it.
//
// Exactly one of the detail variants should be populated, selected by
// ActionType. The boundary decodes the payload once; the engine never
// inspects PayloadRef.
type RequestInput struct {
	RequestID   string     `json:"request_id"`
	PrincipalID string     `json:"principal_id"`
	AgentID     string     `json:"agent_id"`
	TenantID    string     `json:"tenant_id,omitempty"`
	ActionType  ActionType `json:"action_type"`
	PayloadRef  string     `json:"payload_ref"`

	// TimestampMS is the caller-asserted submission time in Unix
	// milliseconds. It is admission-checked against engine time but the
	// engine-assigned timestamp on the result is authoritative.
	TimestampMS int64 `json:"timestamp_ms"`

	// PrivilegedPath must be true. A false value signals the caller is
	// attempting to reach the engine around the privileged handshake.
	PrivilegedPath bool `json:"privileged_path"`

	// Envelope-level bypass signals. Either being set is an immediate
	// security denial.
	SideChannelAttempt bool `json:"side_channel_attempt,omitempty"`
	DirectAdapterCall  bool `json:"direct_adapter_call,omitempty"`

	// Identifiers binding the decision to the policy/trust inputs in
	// effect at evaluation time. Empty values hash as "default".
	PolicyVersion   string `json:"policy_version,omitempty"`
	TrustSnapshotID string `json:"trust_snapshot_id,omitempty"`

	Payment    *PaymentDetails    `json:"payment,omitempty"`
	DataAccess *DataAccessDetails `json:"data_access,omitempty"`
}

// Policy is the payment policy configuration evaluated for payment
// requests. Zero-value fields fall back to DefaultPolicy semantics only
// when the caller omits the policy entirely; a supplied policy is taken
// literally and validated by the evaluator.
type Policy struct {
	Version         string   `json:"version,omitempty" yaml:"version"`
	MaxTransaction  float64  `json:"max_transaction" yaml:"max_transaction"`
	DailySpendLimit float64  `json:"daily_spend_limit" yaml:"daily_spend_limit"`
	AllowedHours    string   `json:"allowed_hours,omitempty" yaml:"allowed_hours"` // "HH:MM-HH:MM", empty = no window
	AllowedCategories []string `json:"allowed_categories,omitempty" yaml:"allowed_categories"`

	// Guard is an optional CEL expression evaluated fail-closed before
	// the limit ladder. Empty means no guard.
	Guard string `json:"guard,omitempty" yaml:"guard"`
}

// DefaultPolicy is the policy applied when a caller submits a payment
// request without one.
func DefaultPolicy() Policy {
	return Policy{
		Version:         "default",
		MaxTransaction:  100,
		DailySpendLimit: 1000,
		AllowedHours:    "00:00-24:00",
		AllowedCategories: []string{
			"software",
			"office_supplies",
			"saas",
			"cloud_infra",
		},
	}
}

// HITLStatus is the lifecycle state of a human-in-the-loop request.
type HITLStatus string

const (
	HITLPending  HITLStatus = "pending"
	HITLApproved HITLStatus = "approved"
	HITLRejected HITLStatus = "rejected"
)

// Terminal reports whether no further status transition is permitted.
func (s HITLStatus) Terminal() bool { return s == HITLApproved || s == HITLRejected }

// HITLRequest is a time-boxed request for human judgment.
// Status only ever moves pending -> {approved, rejected}; once terminal,
// mutation attempts are no-ops that return the existing record.
type HITLRequest struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	PrincipalID string     `json:"principal_id"`
	Tier        int        `json:"tier"`
	Action      string     `json:"action"`
	Status      HITLStatus `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	ApproverID  string     `json:"approver_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}
