package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/store"
	"github.com/BaSui01/autoflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testSystem struct {
	*System
	clock *testClock
	store *store.MemoryStore
}

func newTestSystem(t *testing.T, opts ...Option) *testSystem {
	t.Helper()
	return newTestSystemWithConfig(t, config.DefaultRecoveryConfig(), opts...)
}

func newTestSystemWithConfig(t *testing.T, cfg config.RecoveryConfig, opts ...Option) *testSystem {
	t.Helper()
	clock := newTestClock()
	ms := store.NewMemoryStore(0).WithClock(clock.Now)
	all := append([]Option{WithStore(ms), WithClock(clock.Now)}, opts...)

	s := NewSystem(cfg, zaptest.NewLogger(t), all...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return &testSystem{System: s, clock: clock, store: ms}
}

func failingExecutor(fail map[ActionType]bool) ActionExecutor {
	return ActionExecutorFunc(func(ctx context.Context, action Action, _ ErrorEvent) error {
		if fail[action.Type] {
			return fmt.Errorf("%s refused", action.Type)
		}
		return ctx.Err()
	})
}

func lowEvent(typ, message string) ErrorEvent {
	return ErrorEvent{
		Severity: SeverityLow,
		Category: CategorySystem,
		Type:     typ,
		Message:  message,
		Source:   "test",
	}
}

func customStrategy(id string, priority int, rate float64, actions ...Action) Strategy {
	return Strategy{
		ID:   id,
		Name: id,
		Conditions: []Condition{
			{Field: "type", Operator: OpEquals, Value: "custom_failure"},
		},
		Actions:        actions,
		Priority:       priority,
		MaxAttempts:    3,
		CooldownPeriod: 1000,
		SuccessRate:    rate,
		Enabled:        true,
	}
}

func strategyByID(t *testing.T, s *System, id string) Strategy {
	t.Helper()
	for _, st := range s.GetStrategies() {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("strategy %s not found", id)
	return Strategy{}
}

// =============================================================================
// 📥 错误上报
// =============================================================================

func TestNewSystem_SeedsCatalog(t *testing.T) {
	s := newTestSystem(t)

	strategies := s.GetStrategies()
	require.Len(t, strategies, 4)
	ids := make([]string, 0, len(strategies))
	for _, st := range strategies {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{RetryStrategyID, RollbackStrategyID, ScaleResourcesStrategyID, ServiceRestartStrategyID}, ids)

	patterns := s.GetErrorPatterns()
	require.Len(t, patterns, 3)
	assert.Equal(t, "connection_timeout_pattern", patterns[0].ID)

	indexed, err := s.store.ReadIndex(context.Background(), store.IndexStrategies)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, indexed)
}

func TestReportError_FillsDefaults(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	id, err := s.ReportError(ctx, ErrorEvent{Severity: SeverityLow})
	require.NoError(t, err)
	assert.Contains(t, id, "error_")

	event, err := s.GetError(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, s.clock.Now(), event.Timestamp)
	assert.Equal(t, CategorySystem, event.Category)
	assert.Equal(t, "unknown", event.Type)
	assert.Equal(t, "Unknown error", event.Message)
	assert.Equal(t, "unknown", event.Source)
	assert.Equal(t, SeverityLow, event.Impact.BusinessImpact)
	assert.False(t, event.Resolved)

	ids, err := s.store.ReadIndex(ctx, store.IndexErrors)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestReportError_DefaultSeverityIsMedium(t *testing.T) {
	s := newTestSystem(t, WithActionExecutor(failingExecutor(nil)))

	id, err := s.ReportError(context.Background(), ErrorEvent{Message: "something odd happened"})
	require.NoError(t, err)

	event, err := s.GetError(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, event.Severity)
}

func TestReportError_ClassifiesByPattern(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	id, err := s.ReportError(ctx, ErrorEvent{Type: "db_error", Message: "Deadlock detected on table orders"})
	require.NoError(t, err)

	event, err := s.GetError(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, event.Severity)
	assert.Equal(t, CategoryDatabase, event.Category)

	var stored Pattern
	require.NoError(t, s.store.GetJSON(ctx, store.PrefixPattern+"database_lock_pattern", &stored))
	assert.Equal(t, 1, stored.Frequency)
	assert.Equal(t, s.clock.Now(), stored.LastSeen)
}

func TestReportError_CallerClassificationWins(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	id, err := s.ReportError(ctx, ErrorEvent{
		Severity: SeverityLow,
		Category: CategoryWorkflow,
		Message:  "connection timeout while calling billing",
	})
	require.NoError(t, err)

	event, err := s.GetError(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SeverityLow, event.Severity)
	assert.Equal(t, CategoryWorkflow, event.Category)
}

func TestReportError_EveryMatchingPatternCounts(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	id, err := s.ReportError(ctx, ErrorEvent{
		Severity: SeverityLow,
		Message:  "connection timeout followed by out of memory",
	})
	require.NoError(t, err)

	event, err := s.GetError(ctx, id)
	require.NoError(t, err)
	// 第一个命中的模式决定类别
	assert.Equal(t, CategoryNetwork, event.Category)

	freq := map[string]int{}
	for _, p := range s.GetErrorPatterns() {
		freq[p.ID] = p.Frequency
	}
	assert.Equal(t, 1, freq["connection_timeout_pattern"])
	assert.Equal(t, 1, freq["memory_exhaustion_pattern"])
	assert.Equal(t, 0, freq["database_lock_pattern"])
}

func TestReportError_StoreUnavailable(t *testing.T) {
	s := newTestSystem(t)
	require.NoError(t, s.store.Close())

	_, err := s.ReportError(context.Background(), lowEvent("x", "boom"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStoreUnavailable))
}

// 资源类内存错误自动选择扩容策略
func TestReportError_AutoRecoversMemoryPressure(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	id, err := s.ReportError(ctx, ErrorEvent{
		Severity: SeverityCritical,
		Category: CategoryResource,
		Type:     "memory_exhaustion",
		Message:  "worker ran out of memory",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.GetRecoveryStatus().Recent.Total == 1
	}, 2*time.Second, 5*time.Millisecond)

	s.mu.RLock()
	attempt := s.recent[0].copy()
	s.mu.RUnlock()
	assert.Equal(t, ScaleResourcesStrategyID, attempt.StrategyID)
	assert.Equal(t, id, attempt.ErrorID)
	assert.Equal(t, AttemptCompleted, attempt.Status)
	assert.Equal(t, ResultSuccess, attempt.Result)
	assert.True(t, attempt.Automatic)
	require.Len(t, attempt.Actions, 1)
	assert.Equal(t, ActionScaleResources, attempt.Actions[0].Type)

	require.Eventually(t, func() bool {
		event, err := s.GetError(ctx, id)
		return err == nil && event.Resolved
	}, 2*time.Second, 5*time.Millisecond)

	event, err := s.GetError(ctx, id)
	require.NoError(t, err)
	assert.True(t, event.AutoResolved)
	assert.Equal(t, 1, event.ResolutionAttempts)
	require.NotNil(t, event.ResolvedAt)

	st := strategyByID(t, s.System, ScaleResourcesStrategyID)
	assert.InDelta(t, 0.82, st.SuccessRate, 1e-9)
	require.NotNil(t, st.LastUsed)

	stored, err := s.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, stored.Result)
}

func TestReportError_LowSeverityIsNotRecovered(t *testing.T) {
	s := newTestSystem(t)

	_, err := s.ReportError(context.Background(), ErrorEvent{
		Severity: SeverityLow,
		Category: CategoryResource,
		Type:     "memory_warning",
		Message:  "memory creeping up",
	})
	require.NoError(t, err)

	s.inflight.Wait()
	assert.Equal(t, 0, s.GetRecoveryStatus().Recent.Total)
}

// =============================================================================
// 🛠️ 手动恢复
// =============================================================================

func TestTriggerRecovery_Errors(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	errorID, err := s.ReportError(ctx, lowEvent("custom_failure", "nothing matches this"))
	require.NoError(t, err)

	disabled := customStrategy("disabled_strategy", 1, 0.5, Action{Type: ActionNotify})
	disabled.Enabled = false
	_, err = s.AddRecoveryStrategy(ctx, disabled)
	require.NoError(t, err)

	tests := []struct {
		name       string
		errorID    string
		strategyID string
		code       types.ErrorCode
	}{
		{"unknown error", "error_missing", "", types.ErrNotFound},
		{"unknown strategy", errorID, "strategy_missing", types.ErrNotFound},
		{"disabled strategy", errorID, "disabled_strategy", types.ErrNoStrategy},
		{"nothing matches", errorID, "", types.ErrNoStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.TriggerRecovery(ctx, tt.errorID, tt.strategyID)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
		})
	}
}

func TestTriggerRecovery_FailedAttemptIsRecorded(t *testing.T) {
	s := newTestSystem(t, WithActionExecutor(failingExecutor(map[ActionType]bool{ActionRetry: true})))
	ctx := context.Background()

	errorID, err := s.ReportError(ctx, lowEvent("net_glitch", "upstream reset"))
	require.NoError(t, err)

	attemptID, err := s.TriggerRecovery(ctx, errorID, RetryStrategyID)
	require.NoError(t, err)

	attempt, err := s.GetAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, AttemptFailed, attempt.Status)
	assert.Equal(t, ResultFailed, attempt.Result)
	assert.False(t, attempt.Automatic)
	require.Len(t, attempt.Actions, 1)
	assert.Equal(t, AttemptFailed, attempt.Actions[0].Status)
	assert.Contains(t, attempt.Actions[0].Error, "retry refused")

	event, err := s.GetError(ctx, errorID)
	require.NoError(t, err)
	assert.False(t, event.Resolved)
	assert.Equal(t, 1, event.ResolutionAttempts)
	require.NotNil(t, event.LastAttempt)

	st := strategyByID(t, s.System, RetryStrategyID)
	assert.InDelta(t, 0.765, st.SuccessRate, 1e-9)

	var persisted Strategy
	require.NoError(t, s.store.GetJSON(ctx, store.PrefixStrategy+RetryStrategyID, &persisted))
	assert.InDelta(t, 0.765, persisted.SuccessRate, 1e-9)
}

func TestTriggerRecovery_ManualSuccessIsNotAutoResolved(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	errorID, err := s.ReportError(ctx, lowEvent("net_glitch", "upstream reset"))
	require.NoError(t, err)

	_, err = s.TriggerRecovery(ctx, errorID, RetryStrategyID)
	require.NoError(t, err)

	event, err := s.GetError(ctx, errorID)
	require.NoError(t, err)
	assert.True(t, event.Resolved)
	assert.False(t, event.AutoResolved)
}

func TestTriggerRecovery_Rollback(t *testing.T) {
	tests := []struct {
		name    string
		actions []Action
		fail    map[ActionType]bool
		result  AttemptResult
		logs    int
	}{
		{
			name: "rollback after partial progress",
			actions: []Action{
				{Type: ActionNotify},
				{Type: ActionCustomScript, RollbackAction: &Action{Type: ActionFallback}},
				{Type: ActionRestartService},
			},
			fail:   map[ActionType]bool{ActionCustomScript: true},
			result: ResultPartial,
			logs:   3,
		},
		{
			name: "first action fails",
			actions: []Action{
				{Type: ActionCustomScript, RollbackAction: &Action{Type: ActionFallback}},
				{Type: ActionNotify},
			},
			fail:   map[ActionType]bool{ActionCustomScript: true},
			result: ResultFailed,
			logs:   2,
		},
		{
			name: "rollback fails",
			actions: []Action{
				{Type: ActionNotify},
				{Type: ActionCustomScript, RollbackAction: &Action{Type: ActionFallback}},
			},
			fail:   map[ActionType]bool{ActionCustomScript: true, ActionFallback: true},
			result: ResultFailed,
			logs:   3,
		},
		{
			name: "no rollback declared",
			actions: []Action{
				{Type: ActionNotify},
				{Type: ActionCustomScript},
			},
			fail:   map[ActionType]bool{ActionCustomScript: true},
			result: ResultFailed,
			logs:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSystem(t, WithActionExecutor(failingExecutor(tt.fail)))
			ctx := context.Background()

			_, err := s.AddRecoveryStrategy(ctx, customStrategy("scripted", 1, 0.5, tt.actions...))
			require.NoError(t, err)
			errorID, err := s.ReportError(ctx, lowEvent("custom_failure", "scripted failure"))
			require.NoError(t, err)

			attemptID, err := s.TriggerRecovery(ctx, errorID, "")
			require.NoError(t, err)

			attempt, err := s.GetAttempt(ctx, attemptID)
			require.NoError(t, err)
			assert.Equal(t, tt.result, attempt.Result)
			assert.Equal(t, AttemptFailed, attempt.Status)
			require.Len(t, attempt.Actions, tt.logs)

			last := attempt.Actions[len(attempt.Actions)-1]
			if tt.actions[len(tt.actions)-1].Type == ActionCustomScript && tt.actions[len(tt.actions)-1].RollbackAction == nil {
				assert.False(t, last.Rollback)
			} else {
				assert.True(t, last.Rollback)
				assert.Equal(t, ActionFallback, last.Type)
			}
		})
	}
}

func TestTriggerRecovery_ActionTimeout(t *testing.T) {
	blocking := ActionExecutorFunc(func(ctx context.Context, _ Action, _ ErrorEvent) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s := newTestSystem(t, WithActionExecutor(blocking))
	ctx := context.Background()

	_, err := s.AddRecoveryStrategy(ctx, customStrategy("slow", 1, 0.5, Action{Type: ActionCustomScript, Timeout: 20}))
	require.NoError(t, err)
	errorID, err := s.ReportError(ctx, lowEvent("custom_failure", "slow script"))
	require.NoError(t, err)

	attemptID, err := s.TriggerRecovery(ctx, errorID, "slow")
	require.NoError(t, err)

	attempt, err := s.GetAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, attempt.Result)
	require.Len(t, attempt.Actions, 1)
	assert.Contains(t, attempt.Actions[0].Error, string(types.ErrTimeout))
}

func TestTriggerRecovery_SelectionOrder(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	for _, st := range []Strategy{
		customStrategy("b_low_priority", 1, 0.99, Action{Type: ActionNotify}),
		customStrategy("c_high_rate", 5, 0.9, Action{Type: ActionNotify}),
		customStrategy("a_same_rate", 5, 0.6, Action{Type: ActionNotify}),
		customStrategy("d_same_rate", 5, 0.6, Action{Type: ActionNotify}),
	} {
		_, err := s.AddRecoveryStrategy(ctx, st)
		require.NoError(t, err)
	}

	errorID, err := s.ReportError(ctx, lowEvent("custom_failure", "ordering"))
	require.NoError(t, err)

	selected := s.selectStrategy(mustError(t, s.System, errorID))
	require.NotNil(t, selected)
	assert.Equal(t, "c_high_rate", selected.ID)

	s.mu.Lock()
	s.strategies["c_high_rate"].Enabled = false
	s.mu.Unlock()

	selected = s.selectStrategy(mustError(t, s.System, errorID))
	require.NotNil(t, selected)
	assert.Equal(t, "a_same_rate", selected.ID)
}

func mustError(t *testing.T, s *System, id string) *ErrorEvent {
	t.Helper()
	event, err := s.GetError(context.Background(), id)
	require.NoError(t, err)
	return event
}

func TestTriggerRecovery_CooldownExcludesStrategy(t *testing.T) {
	s := newTestSystem(t, WithActionExecutor(failingExecutor(map[ActionType]bool{ActionCustomScript: true})))
	ctx := context.Background()

	st := customStrategy("flaky", 1, 0.5, Action{Type: ActionCustomScript})
	st.MaxAttempts = 1
	st.CooldownPeriod = 60000
	_, err := s.AddRecoveryStrategy(ctx, st)
	require.NoError(t, err)

	errorID, err := s.ReportError(ctx, lowEvent("custom_failure", "flaky script"))
	require.NoError(t, err)

	_, err = s.TriggerRecovery(ctx, errorID, "")
	require.NoError(t, err)
	state, ok := s.StrategyState("flaky")
	require.True(t, ok)
	assert.Equal(t, BreakerOpen, state)

	_, err = s.TriggerRecovery(ctx, errorID, "")
	assert.True(t, types.IsCode(err, types.ErrNoStrategy))

	s.clock.Advance(time.Minute)
	_, err = s.TriggerRecovery(ctx, errorID, "")
	require.NoError(t, err)
	state, _ = s.StrategyState("flaky")
	assert.Equal(t, BreakerOpen, state)
}

// =============================================================================
// 📚 策略与模式目录
// =============================================================================

func TestAddRecoveryStrategy_Validation(t *testing.T) {
	s := newTestSystem(t)
	valid := func() Strategy {
		return customStrategy("", 1, 0.5, Action{Type: ActionNotify})
	}

	tests := []struct {
		name   string
		mutate func(*Strategy)
	}{
		{"empty name", func(st *Strategy) { st.Name = " " }},
		{"no actions", func(st *Strategy) { st.Actions = nil }},
		{"negative priority", func(st *Strategy) { st.Priority = -1 }},
		{"zero max attempts", func(st *Strategy) { st.MaxAttempts = 0 }},
		{"success rate above one", func(st *Strategy) { st.SuccessRate = 1.5 }},
		{"unknown operator", func(st *Strategy) { st.Conditions[0].Operator = "like" }},
		{"bad regex", func(st *Strategy) {
			st.Conditions = []Condition{{Field: "message", Operator: OpMatches, Value: "(unclosed"}}
		}},
		{"unknown action", func(st *Strategy) { st.Actions = []Action{{Type: "teleport"}} }},
		{"unknown rollback action", func(st *Strategy) {
			st.Actions = []Action{{Type: ActionNotify, RollbackAction: &Action{Type: "undo"}}}
		}},
		{"missing condition field", func(st *Strategy) { st.Conditions[0].Field = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := valid()
			st.Name = "candidate"
			tt.mutate(&st)
			_, err := s.AddRecoveryStrategy(context.Background(), st)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrValidation))
		})
	}
}

func TestAddRecoveryStrategy_PersistsAndIndexes(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	st := customStrategy("", 1, 0, Action{Type: ActionNotify})
	st.Name = "notify on call"
	id, err := s.AddRecoveryStrategy(ctx, st)
	require.NoError(t, err)
	assert.Contains(t, id, "strategy_")

	var persisted Strategy
	require.NoError(t, s.store.GetJSON(ctx, store.PrefixStrategy+id, &persisted))
	assert.Equal(t, "notify on call", persisted.Name)
	assert.Zero(t, persisted.SuccessRate)

	ids, err := s.store.ReadIndex(ctx, store.IndexStrategies)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	// 同 id 替换不重复索引
	st.ID = id
	st.Priority = 7
	_, err = s.AddRecoveryStrategy(ctx, st)
	require.NoError(t, err)
	ids, err = s.store.ReadIndex(ctx, store.IndexStrategies)
	require.NoError(t, err)
	count := 0
	for _, v := range ids {
		if v == id {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 7, strategyByID(t, s.System, id).Priority)
}

func TestRestoreStrategies(t *testing.T) {
	clock := newTestClock()
	ms := store.NewMemoryStore(0).WithClock(clock.Now)
	ctx := context.Background()

	first := NewSystem(config.DefaultRecoveryConfig(), zaptest.NewLogger(t), WithStore(ms), WithClock(clock.Now))
	require.NoError(t, first.Start(ctx))
	_, err := first.AddRecoveryStrategy(ctx, customStrategy("restored", 4, 0.4, Action{Type: ActionNotify}))
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	second := NewSystem(config.DefaultRecoveryConfig(), zaptest.NewLogger(t), WithStore(ms), WithClock(clock.Now))
	n, err := second.RestoreStrategies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 4, strategyByID(t, second, "restored").Priority)
}

func TestAddErrorPattern(t *testing.T) {
	s := newTestSystem(t)
	ctx := context.Background()

	_, err := s.AddErrorPattern(ctx, Pattern{})
	assert.True(t, types.IsCode(err, types.ErrValidation))
	_, err = s.AddErrorPattern(ctx, Pattern{Pattern: "x", Severity: "fatal"})
	assert.True(t, types.IsCode(err, types.ErrValidation))

	id, err := s.AddErrorPattern(ctx, Pattern{
		Pattern:  "certificate expired",
		Category: CategorySecurity,
		Severity: SeverityHigh,
	})
	require.NoError(t, err)
	assert.Contains(t, id, "pattern_")

	patterns := s.GetErrorPatterns()
	require.Len(t, patterns, 4)
	assert.Equal(t, id, patterns[3].ID)

	eventID, err := s.ReportError(ctx, ErrorEvent{Message: "TLS handshake: Certificate Expired"})
	require.NoError(t, err)
	event, err := s.GetError(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, CategorySecurity, event.Category)
	assert.Equal(t, SeverityHigh, event.Severity)
}

func TestGetters_ReturnCopies(t *testing.T) {
	s := newTestSystem(t)

	strategies := s.GetStrategies()
	strategies[0].Actions[0].Config["mutated"] = true
	strategies[0].Priority = 99

	again := strategyByID(t, s.System, strategies[0].ID)
	assert.NotEqual(t, 99, again.Priority)
	assert.NotContains(t, again.Actions[0].Config, "mutated")

	patterns := s.GetErrorPatterns()
	patterns[0].SuggestedStrategies[0] = "changed"
	assert.Equal(t, RetryStrategyID, s.GetErrorPatterns()[0].SuggestedStrategies[0])
}

// =============================================================================
// 🚦 生命周期
// =============================================================================

func TestStart_Twice(t *testing.T) {
	s := newTestSystem(t)
	assert.Error(t, s.Start(context.Background()))
}

func TestShutdown_WaitsForAttempts(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	executor := ActionExecutorFunc(func(ctx context.Context, _ Action, _ ErrorEvent) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	clock := newTestClock()
	s := NewSystem(config.DefaultRecoveryConfig(), zaptest.NewLogger(t),
		WithStore(store.NewMemoryStore(0).WithClock(clock.Now)),
		WithClock(clock.Now),
		WithActionExecutor(executor))
	require.NoError(t, s.Start(context.Background()))

	_, err := s.ReportError(context.Background(), ErrorEvent{
		Severity: SeverityMedium,
		Category: CategoryNetwork,
		Type:     "network_error",
		Message:  "reset by peer",
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	close(release)
}
