package reason

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogComplete(t *testing.T) {
	require.NoError(t, Validate())

	for _, code := range Codes() {
		assert.True(t, Known(code))
		assert.NotEqual(t, FamilyUnknown, FamilyOf(code), "code %s", code)
		assert.NotEqual(t, ClassUnknown, ClassOf(code), "code %s", code)

		status, err := StatusOf(code)
		require.NoError(t, err, "code %s", code)
		assert.Greater(t, status, 0, "code %s", code)
	}
}

func TestFamilyMatchesPrefix(t *testing.T) {
	for _, code := range Codes() {
		family := FamilyOf(code)
		if !strings.HasPrefix(code, string(family)+"_") {
			t.Fatalf("code %s does not carry its family prefix %s", code, family)
		}
	}
}

func TestUnknownCodeFailsClosed(t *testing.T) {
	assert.False(t, Known("nonsense_code"))
	assert.Equal(t, ClassUnknown, ClassOf("nonsense_code"))
	assert.Equal(t, FamilyUnknown, FamilyOf("nonsense_code"))

	_, err := StatusOf("nonsense_code")
	assert.Error(t, err)
}

func TestMustKnownPanicsOnUncatalogedCode(t *testing.T) {
	assert.Panics(t, func() { MustKnown("made_up_code") })
	assert.NotPanics(t, func() { MustKnown(CodeWithinLimits) })
}

func TestStatusTable(t *testing.T) {
	cases := map[string]int{
		CodeInvalidRequestShape:     400,
		CodeTimestampSkew:           400,
		CodeDailyLimitExceeded:      422,
		CodeMissingArtifact:         401,
		CodeContextMismatch:         409,
		CodeTerminalStateImmutable:  409,
		CodeArtifactRequestNotFound: 404,
		CodeReplayGuardUnavailable:  503,
		CodeEscalationFlood:         429,
	}
	for code, want := range cases {
		assert.Equal(t, want, MustStatus(code), "code %s", code)
	}
}

func TestResponseClasses(t *testing.T) {
	assert.Equal(t, ClassOK, ClassOf(CodeHITLApproved))
	assert.Equal(t, ClassRetryable, ClassOf(CodeRequiredEscalated))
	assert.Equal(t, ClassRetryable, ClassOf(CodeStoreUnavailable))
	assert.Equal(t, ClassBlocked, ClassOf(CodeBypassDenied))
}
