package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/metrics"
	"github.com/BaSui01/autoflow/internal/store"
	"github.com/BaSui01/autoflow/internal/sysmetrics"
	"github.com/BaSui01/autoflow/workflow"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeErrorStats struct {
	failures, total int
	err             error
}

func (f fakeErrorStats) ErrorStats(context.Context, string) (int, int, error) {
	return f.failures, f.total, f.err
}

func insightsOfType(insights []PredictiveInsight, typ InsightType) []PredictiveInsight {
	var out []PredictiveInsight
	for _, in := range insights {
		if in.Type == typ {
			out = append(out, in)
		}
	}
	return out
}

// =============================================================================
// 🔮 预测洞察
// =============================================================================

func TestInsights_NoSignals(t *testing.T) {
	s := newTestScheduler(t, newFakeSource())

	insights, err := s.GeneratePredictiveInsights(context.Background())
	require.NoError(t, err)
	assert.Empty(t, insights)
	assert.NotNil(t, insights)
}

func TestInsights_PerformanceDegradation(t *testing.T) {
	source := newFakeSource()
	for i := 0; i < 4; i++ {
		source.addHistory(execution("wf_a", workflow.ExecutionCompleted, 10*time.Second))
	}
	for i := 0; i < 4; i++ {
		source.addHistory(execution("wf_a", workflow.ExecutionCompleted, 20*time.Second))
	}
	s := newTestScheduler(t, source)

	insights, err := s.GeneratePredictiveInsights(context.Background())
	require.NoError(t, err)

	perf := insightsOfType(insights, InsightPerformance)
	require.Len(t, perf, 1)
	assert.Equal(t, SeverityHigh, perf[0].Severity)
	assert.Equal(t, testNow.Add(24*time.Hour), perf[0].PredictedAt)
	assert.InDelta(t, 1.0, perf[0].Metrics["degradation"], 1e-9)
	assert.NotEmpty(t, perf[0].Recommendations)
}

func TestInsights_PerformanceStableOrTooFewSamples(t *testing.T) {
	tests := []struct {
		name  string
		older time.Duration
		newer time.Duration
		each  int
	}{
		{"stable durations", 10 * time.Second, 11 * time.Second, 4},
		{"faster", 20 * time.Second, 10 * time.Second, 4},
		{"too few samples", 10 * time.Second, 30 * time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeSource()
			for i := 0; i < tt.each; i++ {
				source.addHistory(execution("wf_a", workflow.ExecutionCompleted, tt.older))
			}
			for i := 0; i < tt.each; i++ {
				source.addHistory(execution("wf_a", workflow.ExecutionCompleted, tt.newer))
			}
			s := newTestScheduler(t, source)

			insights, err := s.GeneratePredictiveInsights(context.Background())
			require.NoError(t, err)
			assert.Empty(t, insightsOfType(insights, InsightPerformance))
		})
	}
}

func TestInsights_FailureRisk(t *testing.T) {
	tests := []struct {
		name         string
		failed       int
		completed    int
		stats        ErrorStatsSource
		wantSeverity Severity
		wantNone     bool
	}{
		{
			name: "failure rate below gate", failed: 2, completed: 8,
			wantNone: true,
		},
		{
			name: "elevated rate without error stats", failed: 4, completed: 6,
			wantSeverity: SeverityHigh,
		},
		{
			name: "unresolved errors push risk to critical", failed: 8, completed: 2,
			stats:        fakeErrorStats{failures: 9, total: 10},
			wantSeverity: SeverityCritical,
		},
		{
			name: "resolved errors keep risk high", failed: 8, completed: 2,
			stats:        fakeErrorStats{failures: 0, total: 10},
			wantSeverity: SeverityHigh,
		},
		{
			name: "error stats failure ignored", failed: 8, completed: 2,
			stats:        fakeErrorStats{err: errors.New("store down")},
			wantSeverity: SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeSource()
			source.addHistory(executions("wf_a", workflow.ExecutionCompleted, tt.completed)...)
			source.addHistory(executions("wf_a", workflow.ExecutionFailed, tt.failed)...)

			var opts []Option
			if tt.stats != nil {
				opts = append(opts, WithErrorStats(tt.stats))
			}
			s := newTestScheduler(t, source, opts...)

			insights, err := s.GeneratePredictiveInsights(context.Background())
			require.NoError(t, err)

			failure := insightsOfType(insights, InsightFailure)
			if tt.wantNone {
				assert.Empty(t, failure)
				return
			}
			require.Len(t, failure, 1)
			assert.Equal(t, tt.wantSeverity, failure[0].Severity)
			assert.Equal(t, testNow.Add(12*time.Hour), failure[0].PredictedAt)
			assert.InDelta(t, float64(tt.failed)/float64(tt.failed+tt.completed), failure[0].Metrics["failure_rate"], 1e-9)
		})
	}
}

func TestInsights_FailureIgnoresRunningExecutions(t *testing.T) {
	source := newFakeSource()
	source.addHistory(executions("wf_a", workflow.ExecutionRunning, 10)...)
	s := newTestScheduler(t, source)

	insights, err := s.GeneratePredictiveInsights(context.Background())
	require.NoError(t, err)
	assert.Empty(t, insightsOfType(insights, InsightFailure))
}

func TestInsights_ResourceBreach(t *testing.T) {
	sampler := hourlySampler(t,
		sysmetrics.Sample{CPUPercent: 20, MemoryPercent: 80},
		sysmetrics.Sample{CPUPercent: 20, MemoryPercent: 85},
		sysmetrics.Sample{CPUPercent: 20, MemoryPercent: 90},
		sysmetrics.Sample{CPUPercent: 20, MemoryPercent: 95},
	)
	s := newTestScheduler(t, newFakeSource(), WithLoadSource(sampler))

	insights, err := s.GeneratePredictiveInsights(context.Background())
	require.NoError(t, err)

	resource := insightsOfType(insights, InsightResource)
	require.Len(t, resource, 1)
	assert.Equal(t, SeverityHigh, resource[0].Severity)
	assert.Equal(t, testNow, resource[0].PredictedAt)
	assert.InDelta(t, 0.95, resource[0].Metrics[sysmetrics.MetricMemory], 1e-9)
	assert.Equal(t, 24.0, resource[0].Metrics["breaching_hours"])
}

func TestInsights_Opportunity(t *testing.T) {
	wf := testWorkflow("backup_workflow", 20, true)
	source := newFakeSource(wf)
	source.addHistory(executions(wf.ID, workflow.ExecutionCompleted, 10)...)
	s := newTestScheduler(t, source, WithLoadSource(cpuSampler(t, 10)))

	insights, err := s.GeneratePredictiveInsights(context.Background())
	require.NoError(t, err)

	opp := insightsOfType(insights, InsightOpportunity)
	require.Len(t, opp, 1)
	assert.Equal(t, SeverityMedium, opp[0].Severity)
	assert.InDelta(t, 2.9/3-0.5, opp[0].Metrics["potential"], 1e-9)
	assert.Contains(t, opp[0].Recommendations[0], ScheduleNightly)
}

func TestInsights_NoOpportunityForAverageScore(t *testing.T) {
	s := newTestScheduler(t, newFakeSource(testWorkflow("wf_plain", 4, true)))

	insights, err := s.GeneratePredictiveInsights(context.Background())
	require.NoError(t, err)
	assert.Empty(t, insightsOfType(insights, InsightOpportunity))
}

func TestSortInsights(t *testing.T) {
	insights := []PredictiveInsight{
		{Title: "medium", Severity: SeverityMedium, Confidence: 0.9},
		{Title: "high-low-conf", Severity: SeverityHigh, Confidence: 0.4},
		{Title: "critical", Severity: SeverityCritical, Confidence: 0.1},
		{Title: "low", Severity: SeverityLow, Confidence: 1},
		{Title: "high-high-conf", Severity: SeverityHigh, Confidence: 0.8},
	}

	sortInsights(insights)

	var titles []string
	for _, in := range insights {
		titles = append(titles, in.Title)
	}
	assert.Equal(t, []string{"critical", "high-high-conf", "high-low-conf", "medium", "low"}, titles)
}

func TestInsights_CombinedOrderingAndMetrics(t *testing.T) {
	ns := nextNamespace()
	collector := metrics.NewCollector(ns, zap.NewNop())

	wf := testWorkflow("backup_workflow", 20, true)
	source := newFakeSource(wf)
	source.addHistory(executions(wf.ID, workflow.ExecutionCompleted, 2)...)
	source.addHistory(executions("wf_other", workflow.ExecutionFailed, 8)...)

	sampler := hourlySampler(t,
		sysmetrics.Sample{CPUPercent: 10, MemoryPercent: 80},
		sysmetrics.Sample{CPUPercent: 10, MemoryPercent: 95},
	)
	s := newTestScheduler(t, source,
		WithLoadSource(sampler),
		WithErrorStats(fakeErrorStats{failures: 4, total: 4}),
		WithMetrics(collector))

	insights, err := s.GeneratePredictiveInsights(context.Background())
	require.NoError(t, err)
	require.Len(t, insights, 3)

	assert.Equal(t, InsightFailure, insights[0].Type)
	assert.Equal(t, SeverityCritical, insights[0].Severity)
	assert.Equal(t, InsightResource, insights[1].Type)
	assert.Equal(t, InsightOpportunity, insights[2].Type)

	name := ns + "_scheduler_insights_generated_total"
	assert.Equal(t, 1.0, counterValue(t, name, map[string]string{"severity": "critical"}))
	assert.Equal(t, 1.0, counterValue(t, name, map[string]string{"severity": "high"}))
	assert.Equal(t, 1.0, counterValue(t, name, map[string]string{"severity": "medium"}))
}

// =============================================================================
// 🗄️ 洞察缓存
// =============================================================================

func TestInsightsCache_MemoryStoreExpires(t *testing.T) {
	now := testNow
	clock := func() time.Time { return now }
	mem := store.NewMemoryStore(time.Hour).WithClock(clock)

	wf := testWorkflow("backup_workflow", 20, true)
	source := newFakeSource(wf)
	source.addHistory(executions(wf.ID, workflow.ExecutionCompleted, 10)...)
	s := newTestScheduler(t, source, WithStore(mem), WithLoadSource(cpuSampler(t, 10)))
	ctx := context.Background()

	cached, err := s.GetCachedInsights(ctx)
	require.NoError(t, err)
	assert.Empty(t, cached)

	generated, err := s.GeneratePredictiveInsights(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, generated)

	cached, err = s.GetCachedInsights(ctx)
	require.NoError(t, err)
	require.Len(t, cached, len(generated))
	assert.Equal(t, generated[0].Type, cached[0].Type)
	assert.Equal(t, generated[0].Title, cached[0].Title)

	now = now.Add(time.Hour + time.Second)
	cached, err = s.GetCachedInsights(ctx)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestInsightsCache_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := store.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	rs, err := store.NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	wf := testWorkflow("backup_workflow", 20, true)
	source := newFakeSource(wf)
	source.addHistory(executions(wf.ID, workflow.ExecutionCompleted, 10)...)
	s := NewScheduler(config.DefaultSchedulerConfig(), source, zaptest.NewLogger(t),
		WithClock(fixedClock), WithStore(rs), WithLoadSource(cpuSampler(t, 10)))
	ctx := context.Background()

	generated, err := s.GeneratePredictiveInsights(ctx)
	require.NoError(t, err)

	key := cfg.KeyPrefix + store.KeyPredictiveInsights
	require.True(t, mr.Exists(key))
	ttl := mr.TTL(key)
	assert.True(t, ttl > 59*time.Minute && ttl <= time.Hour, "ttl %s", ttl)

	cached, err := s.GetCachedInsights(ctx)
	require.NoError(t, err)
	require.Len(t, cached, len(generated))
	assert.Equal(t, generated[0].PredictedAt.UTC(), cached[0].PredictedAt.UTC())
	assert.InDelta(t, generated[0].Confidence, cached[0].Confidence, 1e-12)

	mr.FastForward(time.Hour + time.Second)
	cached, err = s.GetCachedInsights(ctx)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

// =============================================================================
// 📊 调度效率
// =============================================================================

func TestSchedulingEfficiency(t *testing.T) {
	t.Run("no executions", func(t *testing.T) {
		s := newTestScheduler(t, newFakeSource())

		eff := s.GetSchedulingEfficiency(context.Background())
		assert.Equal(t, Efficiency{
			OverallEfficiency:    0.5,
			ResourceUtilization:  PlaceholderResourceUtilization,
			SuccessRate:          0.5,
			AverageExecutionTime: 0,
			SchedulingAccuracy:   PlaceholderSchedulingAccuracy,
			OptimizationImpact:   PlaceholderOptimizationImpact,
		}, eff)
	})

	t.Run("computed from engine and host", func(t *testing.T) {
		source := newFakeSource()
		source.addHistory(executions("wf_a", workflow.ExecutionCompleted, 3)...)
		source.addHistory(execution("wf_a", workflow.ExecutionFailed, time.Second))
		source.status.Performance.AverageExecutionTime = 12.5

		sampler := hourlySampler(t,
			sysmetrics.Sample{CPUPercent: 40, MemoryPercent: 60, DiskPercent: 20},
			sysmetrics.Sample{CPUPercent: 20, MemoryPercent: 40, DiskPercent: 0},
		)
		s := newTestScheduler(t, source, WithLoadSource(sampler))

		eff := s.GetSchedulingEfficiency(context.Background())
		assert.Equal(t, PlaceholderOverallEfficiency, eff.OverallEfficiency)
		assert.InDelta(t, 0.75, eff.SuccessRate, 1e-9)
		assert.InDelta(t, 12.5, eff.AverageExecutionTime, 1e-9)
		assert.InDelta(t, 0.3, eff.ResourceUtilization, 1e-9)
		assert.Equal(t, PlaceholderSchedulingAccuracy, eff.SchedulingAccuracy)
		assert.Equal(t, PlaceholderOptimizationImpact, eff.OptimizationImpact)
	})
}
