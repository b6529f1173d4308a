// Package classify risk-classifies data-access requests by their
// declared sensitivity. Payment requests never pass through here; they
// go to the policy evaluator instead.
package classify

import (
	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/reason"
)

// Outcome is a sensitivity verdict. A nil *Outcome from Classify means
// the request carries no elevated sensitivity and falls through to the
// default low-risk allow.
type Outcome struct {
	Decision   contracts.Decision
	Tier       int
	ReasonCode string
}

// Classify inspects the data-access details of in.
//
// High or confidential sensitivity without an authorized sensitive scope
// is denied outright. Ambiguous sensitivity cannot be machine-decided
// and escalates to human review.
func Classify(in *contracts.RequestInput) *Outcome {
	if in.ActionType != contracts.ActionDataAccess || in.DataAccess == nil {
		return nil
	}
	switch in.DataAccess.Sensitivity {
	case contracts.SensitivityHigh, contracts.SensitivityConfidential:
		if !in.DataAccess.AuthorizedSensitiveScope {
			return &Outcome{
				Decision:   contracts.DecisionDeny,
				Tier:       4,
				ReasonCode: reason.CodeSensitiveScopeDenied,
			}
		}
	case contracts.SensitivityAmbiguous:
		return &Outcome{
			Decision:   contracts.DecisionEscalate,
			Tier:       3,
			ReasonCode: reason.CodeSensitiveAmbiguousEscalated,
		}
	}
	return nil
}
