package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestSystem_RedisPersistence(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := store.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	rs, err := store.NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	clock := newTestClock()
	ctx := context.Background()
	s := NewSystem(config.DefaultRecoveryConfig(), zaptest.NewLogger(t), WithStore(rs), WithClock(clock.Now))
	require.NoError(t, s.Start(ctx))

	strategyID, err := s.AddRecoveryStrategy(ctx, customStrategy("redis_strategy", 2, 0.5,
		Action{Type: ActionNotify, Config: map[string]any{"channel": "ops"}, Timeout: 500},
		Action{Type: ActionCustomScript, RollbackAction: &Action{Type: ActionFallback}},
	))
	require.NoError(t, err)

	errorID, err := s.ReportError(ctx, ErrorEvent{
		Severity: SeverityLow,
		Category: CategorySystem,
		Type:     "custom_failure",
		Message:  "redis backed failure",
		Details:  map[string]any{"workflow_id": "wf_1"},
		Impact:   Impact{AffectedWorkflows: []string{"wf_1"}, AffectedUsers: 3},
	})
	require.NoError(t, err)

	attemptID, err := s.TriggerRecovery(ctx, errorID, "")
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(ctx))

	prefix := cfg.KeyPrefix
	assert.True(t, mr.Exists(prefix+store.PrefixError+errorID))
	assert.True(t, mr.Exists(prefix+store.PrefixRecovery+attemptID))
	assert.True(t, mr.Exists(prefix+store.PrefixStrategy+strategyID))
	assert.True(t, mr.TTL(prefix+store.PrefixError+errorID) > 6*24*time.Hour)

	event, err := s.GetError(ctx, errorID)
	require.NoError(t, err)
	assert.True(t, event.Resolved)
	assert.Equal(t, "wf_1", event.Details["workflow_id"])
	assert.Equal(t, []string{"wf_1"}, event.Impact.AffectedWorkflows)

	var attempt Attempt
	require.NoError(t, rs.GetJSON(ctx, store.PrefixRecovery+attemptID, &attempt))
	assert.Equal(t, ResultSuccess, attempt.Result)
	assert.Len(t, attempt.Actions, 2)

	restored := NewSystem(config.DefaultRecoveryConfig(), zap.NewNop(), WithStore(rs), WithClock(clock.Now))
	_, err = restored.RestoreStrategies(ctx)
	require.NoError(t, err)

	st := strategyByID(t, restored, strategyID)
	require.Len(t, st.Actions, 2)
	assert.Equal(t, "ops", st.Actions[0].Config["channel"])
	assert.Equal(t, int64(500), st.Actions[0].Timeout)
	require.NotNil(t, st.Actions[1].RollbackAction)
	assert.Equal(t, ActionFallback, st.Actions[1].RollbackAction.Type)
	assert.InDelta(t, 0.55, st.SuccessRate, 1e-9)
	require.NotNil(t, st.LastUsed)

	stats, err := restored.GetErrorStatistics(ctx, RangeDay)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Resolved)
}

func newRoundTripStore(t *testing.T) *store.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := store.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	rs, err := store.NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func TestPersistence_ErrorEventRoundTrip(t *testing.T) {
	rs := newRoundTripStore(t)
	clock := newTestClock()
	ctx := context.Background()
	s := NewSystem(config.DefaultRecoveryConfig(), zaptest.NewLogger(t), WithStore(rs), WithClock(clock.Now))

	id, err := s.ReportError(ctx, ErrorEvent{
		ID:         "error_round_trip",
		Severity:   SeverityLow,
		Category:   CategoryWorkflow,
		Type:       "step_failure",
		Message:    "step export failed",
		Source:     "workflow_engine",
		Details:    map[string]any{"retries": 2, "nested": map[string]any{"step": 3}, "ids": []string{"a", "b"}},
		Context:    map[string]any{"attempt": int64(1), "ratio": float32(0.5)},
		StackTrace: "main.go:12",
		Impact: Impact{
			AffectedWorkflows: []string{"wf_1"},
			AffectedUsers:     4,
			EstimatedDowntime: 1.5,
			BusinessImpact:    SeverityMedium,
		},
	})
	require.NoError(t, err)

	want := ErrorEvent{
		ID:        "error_round_trip",
		Timestamp: clock.Now(),
		Severity:  SeverityLow,
		Category:  CategoryWorkflow,
		Type:      "step_failure",
		Message:   "step export failed",
		Source:    "workflow_engine",
		Details: map[string]any{
			"retries": 2.0,
			"nested":  map[string]any{"step": 3.0},
			"ids":     []any{"a", "b"},
		},
		Context:    map[string]any{"attempt": 1.0, "ratio": 0.5},
		StackTrace: "main.go:12",
		Impact: Impact{
			AffectedWorkflows: []string{"wf_1"},
			AffectedUsers:     4,
			EstimatedDowntime: 1.5,
			BusinessImpact:    SeverityMedium,
		},
	}

	got, err := s.GetError(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	var raw ErrorEvent
	require.NoError(t, rs.GetJSON(ctx, store.PrefixError+id, &raw))
	assert.Equal(t, want, raw)
}

func TestPersistence_StrategyRoundTrip(t *testing.T) {
	rs := newRoundTripStore(t)
	clock := newTestClock()
	ctx := context.Background()
	s := NewSystem(config.DefaultRecoveryConfig(), zaptest.NewLogger(t), WithStore(rs), WithClock(clock.Now))

	st := customStrategy("typed_strategy", 2, 0.4,
		Action{
			Type:           ActionRetry,
			Config:         map[string]any{"maxAttempts": 5, "initialDelay": int64(250)},
			Timeout:        1000,
			RollbackAction: &Action{Type: ActionFallback, Config: map[string]any{"steps": []int{1, 2}}},
		},
	)
	st.Conditions = append(st.Conditions, Condition{Field: "details.retries", Operator: OpGreaterThan, Value: 1})
	_, err := s.AddRecoveryStrategy(ctx, st)
	require.NoError(t, err)

	for _, want := range s.GetStrategies() {
		t.Run(want.ID, func(t *testing.T) {
			require.NoError(t, rs.PutJSON(ctx, store.PrefixStrategy+want.ID, want, 0))
			var got Strategy
			require.NoError(t, rs.GetJSON(ctx, store.PrefixStrategy+want.ID, &got))
			assert.Equal(t, want, got)
		})
	}

	typed := strategyByID(t, s, "typed_strategy")
	assert.Equal(t, 5.0, typed.Actions[0].Config["maxAttempts"])
	assert.Equal(t, []any{1.0, 2.0}, typed.Actions[0].RollbackAction.Config["steps"])
	assert.Equal(t, 1.0, typed.Conditions[1].Value)
}

func TestPersistence_DefaultStrategiesRoundTrip(t *testing.T) {
	rs := newRoundTripStore(t)
	ctx := context.Background()

	for _, want := range DefaultStrategies() {
		require.NoError(t, rs.PutJSON(ctx, store.PrefixStrategy+want.ID, want, 0))
		var got Strategy
		require.NoError(t, rs.GetJSON(ctx, store.PrefixStrategy+want.ID, &got))
		assert.Equal(t, want, got, want.ID)
	}
}
