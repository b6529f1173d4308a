// Package decisionhash computes the deterministic hash that binds a
// decision to the normalized inputs that produced it.
//
// The projection is serialized through RFC 8785 (JSON Canonicalization
// Scheme) before hashing, so semantically identical inputs hash
// identically regardless of field insertion order. The timestamp is
// bucketed to whole minutes on purpose: decisions made in the same
// minute under the same policy are hash-equivalent, and sub-minute
// timing cannot be used to force a distinct artifact.
package decisionhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/warden-labs/warden/pkg/contracts"
)

// defaultRef stands in for an omitted policy version or trust snapshot
// identifier so their absence is itself part of the hashed context.
const defaultRef = "default"

type policyParams struct {
	Version           string   `json:"version"`
	MaxTransaction    float64  `json:"max_transaction"`
	DailySpendLimit   float64  `json:"daily_spend_limit"`
	AllowedHours      string   `json:"allowed_hours"`
	AllowedCategories []string `json:"allowed_categories"`
	Guard             string   `json:"guard"`
}

type shapeParams struct {
	Amount                   *float64 `json:"amount,omitempty"`
	Category                 string   `json:"category,omitempty"`
	Sensitivity              string   `json:"sensitivity,omitempty"`
	AuthorizedSensitiveScope bool     `json:"authorized_sensitive_scope"`
}

type projection struct {
	Principal     string       `json:"principal"`
	Agent         string       `json:"agent"`
	Action        string       `json:"action"`
	PayloadRef    string       `json:"payload_ref"`
	PolicyVersion string       `json:"policy_version"`
	TrustSnapshot string       `json:"trust_snapshot"`
	MinuteBucket  int64        `json:"minute_bucket"`
	Policy        policyParams `json:"policy"`
	Shape         shapeParams  `json:"shape"`
}

// Compute returns the "sha256:" prefixed hex hash of the normalized
// decision context for in under the effective policy pol.
func Compute(in *contracts.RequestInput, pol contracts.Policy) (string, error) {
	p := projection{
		Principal:     in.PrincipalID,
		Agent:         in.AgentID,
		Action:        string(in.ActionType),
		PayloadRef:    in.PayloadRef,
		PolicyVersion: orDefault(in.PolicyVersion),
		TrustSnapshot: orDefault(in.TrustSnapshotID),
		MinuteBucket:  in.TimestampMS / 60_000,
		Policy: policyParams{
			Version:           pol.Version,
			MaxTransaction:    pol.MaxTransaction,
			DailySpendLimit:   pol.DailySpendLimit,
			AllowedHours:      pol.AllowedHours,
			AllowedCategories: pol.AllowedCategories,
			Guard:             pol.Guard,
		},
	}
	if p.Policy.AllowedCategories == nil {
		p.Policy.AllowedCategories = []string{}
	}
	if in.Payment != nil {
		amount := in.Payment.Amount
		p.Shape.Amount = &amount
		p.Shape.Category = in.Payment.Category
	}
	if in.DataAccess != nil {
		p.Shape.Sensitivity = in.DataAccess.Sensitivity
		p.Shape.AuthorizedSensitiveScope = in.DataAccess.AuthorizedSensitiveScope
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("decisionhash: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("decisionhash: canonicalization failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func orDefault(s string) string {
	if s == "" {
		return defaultRef
	}
	return s
}
