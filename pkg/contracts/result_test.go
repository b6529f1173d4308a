package contracts

import "testing"

func TestTerminalStates(t *testing.T) {
	terminal := []RequestState{
		StateAllowedTerminal,
		StateDeniedTerminal,
		StateEscalatedApprovedTerminal,
		StateEscalatedRejectedTerminal,
		StateEscalatedExpiredTerminal,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []RequestState{StateSubmitted, StateEscalatedPending, RequestState("bogus")} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestStateForDecision(t *testing.T) {
	if got := StateForDecision(DecisionAllow); got != StateAllowedTerminal {
		t.Fatalf("allow -> %s", got)
	}
	if got := StateForDecision(DecisionEscalate); got != StateEscalatedPending {
		t.Fatalf("escalate -> %s", got)
	}
	// Anything else, including garbage, lands in the denied terminal.
	if got := StateForDecision(DecisionDeny); got != StateDeniedTerminal {
		t.Fatalf("deny -> %s", got)
	}
	if got := StateForDecision(Decision("bogus")); got != StateDeniedTerminal {
		t.Fatalf("bogus -> %s", got)
	}
}

func TestActionTypeValid(t *testing.T) {
	for _, a := range []ActionType{ActionPayment, ActionDataAccess, ActionCredentialUse, ActionExternalCall, ActionOther} {
		if !a.Valid() {
			t.Fatalf("%s should be valid", a)
		}
	}
	if ActionType("teleport").Valid() || ActionType("").Valid() {
		t.Fatal("unknown action types must be invalid")
	}
}

func TestHITLStatusTerminal(t *testing.T) {
	if HITLPending.Terminal() {
		t.Fatal("pending is not terminal")
	}
	if !HITLApproved.Terminal() || !HITLRejected.Terminal() {
		t.Fatal("approved and rejected are terminal")
	}
}
