package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/hitl"
	"github.com/warden-labs/warden/pkg/workflow"
)

var storeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testRecord(id string) *contracts.RequestRecord {
	return &contracts.RequestRecord{
		Input: contracts.RequestInput{
			RequestID:      id,
			PrincipalID:    "principal-001",
			AgentID:        "agent-001",
			ActionType:     contracts.ActionPayment,
			PayloadRef:     "blob://payload/" + id,
			TimestampMS:    storeNow.UnixMilli(),
			PrivilegedPath: true,
			Payment:        &contracts.PaymentDetails{Amount: 20, Category: "software"},
		},
		State: contracts.StateAllowedTerminal,
		Result: contracts.RequestResult{
			RequestID:           id,
			Decision:            contracts.DecisionAllow,
			ReasonCode:          "policy_within_limits",
			Tier:                1,
			TimestampMS:         storeNow.UnixMilli(),
			DecisionContextHash: "sha256:deadbeef",
			ResponseClass:       "ok",
		},
		Terminal:    true,
		CreatedAtMS: storeNow.UnixMilli(),
		UpdatedAtMS: storeNow.UnixMilli(),
	}
}

// Both adapters honor the same Store contract, so they share one
// conformance run.
func eachStore(t *testing.T, fn func(t *testing.T, s workflow.Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "warden.db"))
		require.NoError(t, err)
		fn(t, s)
	})
}

func TestRequestRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s workflow.Store) {
		ctx := context.Background()

		missing, err := s.GetRequest(ctx, "req-001")
		require.NoError(t, err)
		assert.Nil(t, missing)

		rec := testRecord("req-001")
		stored, created, err := s.CreateRequest(ctx, rec)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, rec.Result, stored.Result)

		got, err := s.GetRequest(ctx, "req-001")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec.Input, got.Input)
		assert.Equal(t, rec.Result, got.Result)
		assert.Equal(t, contracts.StateAllowedTerminal, got.State)
		assert.True(t, got.Terminal)
	})
}

func TestCreateRequestFirstWriteWins(t *testing.T) {
	eachStore(t, func(t *testing.T, s workflow.Store) {
		ctx := context.Background()

		first := testRecord("req-001")
		_, created, err := s.CreateRequest(ctx, first)
		require.NoError(t, err)
		require.True(t, created)

		second := testRecord("req-001")
		second.Result.ReasonCode = "policy_daily_limit_exceeded"
		second.Result.Decision = contracts.DecisionDeny
		stored, created, err := s.CreateRequest(ctx, second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.Result, stored.Result, "loser gets the winner's row")

		got, err := s.GetRequest(ctx, "req-001")
		require.NoError(t, err)
		assert.Equal(t, first.Result, got.Result)
	})
}

func TestSaveRequestOverwrites(t *testing.T) {
	eachStore(t, func(t *testing.T, s workflow.Store) {
		ctx := context.Background()

		rec := testRecord("req-001")
		rec.State = contracts.StateEscalatedPending
		rec.Terminal = false
		_, _, err := s.CreateRequest(ctx, rec)
		require.NoError(t, err)

		rec.State = contracts.StateEscalatedApprovedTerminal
		rec.Terminal = true
		rec.UpdatedAtMS = storeNow.Add(time.Minute).UnixMilli()
		require.NoError(t, s.SaveRequest(ctx, rec))

		got, err := s.GetRequest(ctx, "req-001")
		require.NoError(t, err)
		assert.Equal(t, contracts.StateEscalatedApprovedTerminal, got.State)
		assert.True(t, got.Terminal)
		assert.Equal(t, rec.UpdatedAtMS, got.UpdatedAtMS)
	})
}

func TestAuditAppendOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s workflow.Store) {
		ctx := context.Background()

		for i, typ := range []contracts.AuditEventType{
			contracts.AuditDecision,
			contracts.AuditResolutionDenied,
			contracts.AuditHITLResolution,
		} {
			event := contracts.AuditEvent{
				EventID:   "evt-" + string(rune('a'+i)),
				RequestID: "req-001",
				Type:      typ,
				Timestamp: storeNow.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, s.AppendAudit(ctx, "req-001", event))
		}

		events, err := s.GetAudit(ctx, "req-001")
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, contracts.AuditDecision, events[0].Type)
		assert.Equal(t, contracts.AuditResolutionDenied, events[1].Type)
		assert.Equal(t, contracts.AuditHITLResolution, events[2].Type)

		other, err := s.GetAudit(ctx, "req-other")
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestLineageRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s workflow.Store) {
		ctx := context.Background()

		event := contracts.LineageEvent{
			EventID:     "evt-1",
			RequestID:   "req-001",
			State:       contracts.StateAllowedTerminal,
			Decision:    contracts.DecisionAllow,
			ReasonCode:  "policy_within_limits",
			Timestamp:   storeNow,
			ContentHash: "sha256:cafe",
		}
		require.NoError(t, s.AppendLineage(ctx, "req-001", event))

		events, err := s.GetLineage(ctx, "req-001")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, event.ContentHash, events[0].ContentHash)
		assert.Equal(t, event.State, events[0].State)
	})
}

func TestEscalationHistoryRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s workflow.Store) {
		ctx := context.Background()

		empty, err := s.GetEscalationHistory(ctx, "p::a")
		require.NoError(t, err)
		assert.Empty(t, empty)

		history := []time.Time{storeNow, storeNow.Add(time.Minute)}
		require.NoError(t, s.SetEscalationHistory(ctx, "p::a", history))

		got, err := s.GetEscalationHistory(ctx, "p::a")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Equal(history[0]))
		assert.True(t, got[1].Equal(history[1]))

		// Overwrite replaces rather than appends.
		require.NoError(t, s.SetEscalationHistory(ctx, "p::a", history[:1]))
		got, err = s.GetEscalationHistory(ctx, "p::a")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestMetricsEventsAndRollups(t *testing.T) {
	eachStore(t, func(t *testing.T, s workflow.Store) {
		ctx := context.Background()

		old := contracts.MetricsEvent{Name: "warden_decisions_total", Value: 1, Timestamp: storeNow.Add(-time.Hour)}
		fresh := contracts.MetricsEvent{
			Name:      "warden_decisions_total",
			Value:     1,
			Labels:    map[string]string{"decision": "allow"},
			Timestamp: storeNow,
		}
		require.NoError(t, s.AppendMetricsEvent(ctx, old))
		require.NoError(t, s.AppendMetricsEvent(ctx, fresh))

		events, err := s.MetricsEventsSince(ctx, storeNow.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "allow", events[0].Labels["decision"])

		bucket := storeNow.Truncate(time.Hour)
		rollup := contracts.MetricsRollup{Period: contracts.RollupHourly, Bucket: bucket, Name: "warden_decisions_total", Value: 2}
		require.NoError(t, s.UpsertRollup(ctx, rollup))

		got, err := s.GetRollup(ctx, contracts.RollupHourly, bucket, "warden_decisions_total")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(2), got.Value)

		rollup.Value = 5
		require.NoError(t, s.UpsertRollup(ctx, rollup))
		got, err = s.GetRollup(ctx, contracts.RollupHourly, bucket, "warden_decisions_total")
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Value)

		missing, err := s.GetRollup(ctx, contracts.RollupDaily, bucket, "warden_decisions_total")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func eachHITLStore(t *testing.T, fn func(t *testing.T, s hitl.Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryHITLStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		_, hs, err := OpenSQLitePair(filepath.Join(t.TempDir(), "warden.db"))
		require.NoError(t, err)
		fn(t, hs)
	})
}

func TestHITLStoreRoundTrip(t *testing.T) {
	eachHITLStore(t, func(t *testing.T, s hitl.Store) {
		ctx := context.Background()

		missing, err := s.Get(ctx, "hitl-001")
		require.NoError(t, err)
		assert.Nil(t, missing)

		req := &contracts.HITLRequest{
			ID:          "hitl-001",
			AgentID:     "agent-001",
			PrincipalID: "principal-001",
			Tier:        3,
			Action:      "payment",
			Status:      contracts.HITLPending,
			CreatedAt:   storeNow,
			ExpiresAt:   storeNow.Add(5 * time.Minute),
		}
		require.NoError(t, s.Save(ctx, req))

		got, err := s.Get(ctx, "hitl-001")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, contracts.HITLPending, got.Status)

		req.Status = contracts.HITLApproved
		req.ApproverID = "principal-001"
		require.NoError(t, s.Save(ctx, req))

		got, err = s.Get(ctx, "hitl-001")
		require.NoError(t, err)
		assert.Equal(t, contracts.HITLApproved, got.Status)
		assert.Equal(t, "principal-001", got.ApproverID)
	})
}

func TestMemoryReservations(t *testing.T) {
	now := storeNow
	r := NewMemoryReservations().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := r.Reserve(ctx, "op-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Reserve(ctx, "op-1", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate key inside the TTL must be refused")

	ok, err = r.Reserve(ctx, "op-2", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "distinct keys are independent")

	// The reservation frees up once its TTL lapses.
	now = storeNow.Add(11 * time.Minute)
	ok, err = r.Reserve(ctx, "op-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
