package classify

import (
	"testing"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/reason"
)

func dataAccess(sensitivity string, authorized bool) *contracts.RequestInput {
	return &contracts.RequestInput{
		RequestID:      "req-001",
		PrincipalID:    "principal-001",
		AgentID:        "agent-001",
		ActionType:     contracts.ActionDataAccess,
		PayloadRef:     "blob://payload/1",
		PrivilegedPath: true,
		DataAccess: &contracts.DataAccessDetails{
			Sensitivity:              sensitivity,
			AuthorizedSensitiveScope: authorized,
		},
	}
}

func TestHighSensitivityWithoutScopeIsDenied(t *testing.T) {
	for _, sensitivity := range []string{contracts.SensitivityHigh, contracts.SensitivityConfidential} {
		out := Classify(dataAccess(sensitivity, false))
		if out == nil {
			t.Fatalf("%s: expected an outcome", sensitivity)
		}
		if out.Decision != contracts.DecisionDeny || out.Tier != 4 {
			t.Fatalf("%s: expected tier-4 denial, got %+v", sensitivity, out)
		}
		if out.ReasonCode != reason.CodeSensitiveScopeDenied {
			t.Fatalf("%s: unexpected reason %s", sensitivity, out.ReasonCode)
		}
	}
}

func TestAuthorizedScopeFallsThrough(t *testing.T) {
	if out := Classify(dataAccess(contracts.SensitivityHigh, true)); out != nil {
		t.Fatalf("expected fall-through, got %+v", out)
	}
	if out := Classify(dataAccess(contracts.SensitivityConfidential, true)); out != nil {
		t.Fatalf("expected fall-through, got %+v", out)
	}
}

func TestAmbiguousSensitivityEscalates(t *testing.T) {
	out := Classify(dataAccess(contracts.SensitivityAmbiguous, false))
	if out == nil {
		t.Fatal("expected an outcome")
	}
	if out.Decision != contracts.DecisionEscalate || out.Tier != 3 {
		t.Fatalf("expected tier-3 escalation, got %+v", out)
	}
	if out.ReasonCode != reason.CodeSensitiveAmbiguousEscalated {
		t.Fatalf("unexpected reason %s", out.ReasonCode)
	}

	// Scope authorization does not resolve ambiguity.
	out = Classify(dataAccess(contracts.SensitivityAmbiguous, true))
	if out == nil || out.Decision != contracts.DecisionEscalate {
		t.Fatalf("expected escalation regardless of scope, got %+v", out)
	}
}

func TestLowSensitivityFallsThrough(t *testing.T) {
	if out := Classify(dataAccess("low", false)); out != nil {
		t.Fatalf("expected fall-through, got %+v", out)
	}
	if out := Classify(dataAccess("", false)); out != nil {
		t.Fatalf("expected fall-through, got %+v", out)
	}
}

func TestNonDataAccessIsIgnored(t *testing.T) {
	in := dataAccess(contracts.SensitivityHigh, false)
	in.ActionType = contracts.ActionPayment
	if out := Classify(in); out != nil {
		t.Fatalf("expected nil for non data-access action, got %+v", out)
	}

	in = dataAccess(contracts.SensitivityHigh, false)
	in.DataAccess = nil
	if out := Classify(in); out != nil {
		t.Fatalf("expected nil without details, got %+v", out)
	}
}
