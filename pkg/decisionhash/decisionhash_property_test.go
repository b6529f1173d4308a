//go:build property
// +build property

package decisionhash

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/warden-labs/warden/pkg/contracts"
)

// TestHashDeterminism verifies the canonical projection hashes
// identically on repeated computation for arbitrary inputs.
func TestHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is deterministic", prop.ForAll(
		func(principal, agent, payloadRef string, amount float64, tsMS int64) bool {
			in := &contracts.RequestInput{
				RequestID:      "req-prop",
				PrincipalID:    principal,
				AgentID:        agent,
				ActionType:     contracts.ActionPayment,
				PayloadRef:     payloadRef,
				TimestampMS:    tsMS,
				PrivilegedPath: true,
				Payment:        &contracts.PaymentDetails{Amount: amount},
			}
			pol := contracts.DefaultPolicy()
			h1, err1 := Compute(in, pol)
			h2, err2 := Compute(in, pol)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Float64Range(0, 1e9),
		gen.Int64Range(1, 1e15),
	))

	properties.Property("same minute bucket is hash equivalent", prop.ForAll(
		func(tsMS int64, offsetMS int64) bool {
			a := &contracts.RequestInput{
				RequestID:      "req-prop",
				PrincipalID:    "p",
				AgentID:        "a",
				ActionType:     contracts.ActionPayment,
				PayloadRef:     "ref",
				TimestampMS:    tsMS,
				PrivilegedPath: true,
				Payment:        &contracts.PaymentDetails{Amount: 10},
			}
			b := *a
			b.TimestampMS = (tsMS/60_000)*60_000 + offsetMS
			pol := contracts.DefaultPolicy()
			h1, err1 := Compute(a, pol)
			h2, err2 := Compute(&b, pol)
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2
		},
		gen.Int64Range(60_000, 1e15),
		gen.Int64Range(0, 59_999),
	))

	properties.TestingRun(t)
}
