package validate

import (
	"testing"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/reason"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func validInput() *contracts.RequestInput {
	return &contracts.RequestInput{
		RequestID:      "req-001",
		PrincipalID:    "principal-001",
		AgentID:        "agent-001",
		ActionType:     contracts.ActionPayment,
		PayloadRef:     "blob://payload/1",
		TimestampMS:    testNow.UnixMilli(),
		PrivilegedPath: true,
		Payment:        &contracts.PaymentDetails{Amount: 20},
	}
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(func() time.Time { return testNow })
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestValidInputPasses(t *testing.T) {
	v := newValidator(t)
	if code := v.Check(validInput()); code != "" {
		t.Fatalf("expected pass, got %s", code)
	}
}

func TestShapeFailures(t *testing.T) {
	v := newValidator(t)

	mutations := map[string]func(*contracts.RequestInput){
		"missing request id":   func(in *contracts.RequestInput) { in.RequestID = "" },
		"missing principal":    func(in *contracts.RequestInput) { in.PrincipalID = "" },
		"missing agent":        func(in *contracts.RequestInput) { in.AgentID = "" },
		"missing payload ref":  func(in *contracts.RequestInput) { in.PayloadRef = "" },
		"unknown action type":  func(in *contracts.RequestInput) { in.ActionType = "teleport" },
		"empty action type":    func(in *contracts.RequestInput) { in.ActionType = "" },
	}
	for name, mutate := range mutations {
		in := validInput()
		mutate(in)
		if code := v.Check(in); code != reason.CodeInvalidRequestShape {
			t.Fatalf("%s: expected shape failure, got %q", name, code)
		}
	}
}

func TestNilInputFailsShape(t *testing.T) {
	v := newValidator(t)
	if code := v.Check(nil); code != reason.CodeInvalidRequestShape {
		t.Fatalf("expected shape failure, got %q", code)
	}
}

func TestInvalidTimestamp(t *testing.T) {
	v := newValidator(t)
	in := validInput()
	in.TimestampMS = 0
	if code := v.Check(in); code != reason.CodeInvalidTimestamp {
		t.Fatalf("expected invalid timestamp, got %q", code)
	}
	in.TimestampMS = -5
	if code := v.Check(in); code != reason.CodeInvalidTimestamp {
		t.Fatalf("expected invalid timestamp, got %q", code)
	}
}

func TestTimestampSkewFailsClosed(t *testing.T) {
	v := newValidator(t)

	in := validInput()
	in.TimestampMS = testNow.Add(-6 * time.Minute).UnixMilli()
	if code := v.Check(in); code != reason.CodeTimestampSkew {
		t.Fatalf("expected skew failure, got %q", code)
	}

	in = validInput()
	in.TimestampMS = testNow.Add(6 * time.Minute).UnixMilli()
	if code := v.Check(in); code != reason.CodeTimestampSkew {
		t.Fatalf("expected skew failure on future timestamp, got %q", code)
	}

	// Inside the window both directions.
	in = validInput()
	in.TimestampMS = testNow.Add(-4 * time.Minute).UnixMilli()
	if code := v.Check(in); code != "" {
		t.Fatalf("expected pass, got %q", code)
	}
}

func TestBypassDenied(t *testing.T) {
	v := newValidator(t)
	in := validInput()
	in.PrivilegedPath = false
	if code := v.Check(in); code != reason.CodeBypassDenied {
		t.Fatalf("expected bypass denial, got %q", code)
	}
}

func TestSideChannelDenied(t *testing.T) {
	v := newValidator(t)

	in := validInput()
	in.SideChannelAttempt = true
	if code := v.Check(in); code != reason.CodeSideChannelDenied {
		t.Fatalf("expected side channel denial, got %q", code)
	}

	in = validInput()
	in.DirectAdapterCall = true
	if code := v.Check(in); code != reason.CodeSideChannelDenied {
		t.Fatalf("expected side channel denial, got %q", code)
	}
}

func TestCheckOrderShortCircuits(t *testing.T) {
	v := newValidator(t)
	// Shape failure wins even when later checks would also fail.
	in := validInput()
	in.RequestID = ""
	in.TimestampMS = -1
	in.PrivilegedPath = false
	if code := v.Check(in); code != reason.CodeInvalidRequestShape {
		t.Fatalf("expected shape failure first, got %q", code)
	}
}
