package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorderAccumulates(t *testing.T) {
	r := NewRecorder()
	r.Incr(CounterDecisions, 1, map[string]string{"decision": "allow"})
	r.Incr(CounterDecisions, 2, nil)
	r.Incr(CounterBypassDenied, 1, nil)

	assert.Equal(t, int64(3), r.Count(CounterDecisions))
	assert.Equal(t, int64(1), r.Count(CounterBypassDenied))
	assert.Equal(t, int64(0), r.Count(CounterEscalationsThrottled))
}

func TestAttrsAreSorted(t *testing.T) {
	kvs := attrs(map[string]string{"outcome": "ok", "decision": "allow"})
	assert.Len(t, kvs, 2)
	assert.Equal(t, "decision", string(kvs[0].Key))
	assert.Equal(t, "outcome", string(kvs[1].Key))

	assert.Nil(t, attrs(nil))
}

func TestNoopDiscards(t *testing.T) {
	// Just must not panic.
	Noop{}.Incr(CounterDecisions, 1, map[string]string{"a": "b"})
}
