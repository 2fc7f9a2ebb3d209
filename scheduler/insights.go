package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/BaSui01/autoflow/internal/store"
	"github.com/BaSui01/autoflow/internal/sysmetrics"
	"github.com/BaSui01/autoflow/internal/telemetry"
	"github.com/BaSui01/autoflow/workflow"
	"go.uber.org/zap"
)

const (
	trendWindow          = 50
	failureWindow        = 20
	degradationThreshold = 0.2
	failureRateGate      = 0.3
	failureRiskThreshold = 0.7
	resourceThreshold    = 0.9
	opportunityThreshold = 0.3
)

// =============================================================================
// 🔮 预测洞察
// =============================================================================

// GeneratePredictiveInsights 汇总性能趋势、故障风险、资源预测与优化机会，
// 按严重程度与置信度排序后写入缓存
func (s *Scheduler) GeneratePredictiveInsights(ctx context.Context) ([]PredictiveInsight, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.insights")
	defer span.End()

	insights := make([]PredictiveInsight, 0)
	insights = append(insights, s.performanceInsights()...)
	insights = append(insights, s.failureInsights(ctx)...)

	resource, err := s.resourceInsights(ctx)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	insights = append(insights, resource...)

	opportunity, err := s.opportunityInsights(ctx)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	insights = append(insights, opportunity...)

	sortInsights(insights)

	for _, in := range insights {
		s.metrics.RecordInsight(string(in.Severity))
	}
	if err := s.store.PutJSON(ctx, store.KeyPredictiveInsights, insights, s.cfg.InsightsTTL); err != nil {
		s.logger.Warn("failed to cache predictive insights", zap.Error(err))
	}

	s.logger.Info("predictive insights generated", zap.Int("count", len(insights)))
	return insights, nil
}

// GetCachedInsights 读取最近一次生成的洞察，缓存过期时返回空列表
func (s *Scheduler) GetCachedInsights(ctx context.Context) ([]PredictiveInsight, error) {
	var insights []PredictiveInsight
	if err := s.store.GetJSON(ctx, store.KeyPredictiveInsights, &insights); err != nil {
		if store.IsNotFound(err) {
			return []PredictiveInsight{}, nil
		}
		return nil, err
	}
	return insights, nil
}

func sortInsights(insights []PredictiveInsight) {
	sort.SliceStable(insights, func(i, j int) bool {
		a, b := insights[i], insights[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.Confidence > b.Confidence
	})
}

// performanceInsights 比较最近执行中较早一半与较新一半的平均耗时
func (s *Scheduler) performanceInsights() []PredictiveInsight {
	recent := s.source.GetExecutionHistory("", trendWindow)
	durations := make([]time.Duration, 0, len(recent))
	// 历史最新在前，倒序得到时间正序
	for i := len(recent) - 1; i >= 0; i-- {
		e := recent[i]
		if e.Status == workflow.ExecutionCompleted && e.Duration() > 0 {
			durations = append(durations, e.Duration())
		}
	}
	if len(durations) < 4 {
		return nil
	}

	half := len(durations) / 2
	older := meanDuration(durations[:half])
	newer := meanDuration(durations[half:])
	if older <= 0 {
		return nil
	}
	degradation := (newer - older) / older
	if degradation <= degradationThreshold {
		return nil
	}

	conf := math.Min(0.9, 0.5+float64(len(durations))/100)
	return []PredictiveInsight{{
		Type:        InsightPerformance,
		Severity:    SeverityHigh,
		Title:       "Performance degradation trend",
		Description: fmt.Sprintf("Average execution time grew by %.0f%% across recent executions", degradation*100),
		PredictedAt: s.now().Add(24 * time.Hour),
		Confidence:  conf,
		Impact:      "Workflow execution efficiency may drop",
		Recommendations: []string{
			"Check host resource usage",
			"Review slow steps and external dependencies",
			"Consider adding capacity",
		},
		Metrics: map[string]float64{
			"degradation":      degradation,
			"older_avg_second": older,
			"newer_avg_second": newer,
			"confidence":       conf,
		},
	}}
}

func meanDuration(ds []time.Duration) float64 {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total.Seconds() / float64(len(ds))
}

// failureInsights 最近执行失败率达到门槛时，结合未解决的工作流错误评估故障风险
func (s *Scheduler) failureInsights(ctx context.Context) []PredictiveInsight {
	recent := s.source.GetExecutionHistory("", failureWindow)
	finished, failed := 0, 0
	perWorkflow := make(map[string]struct{})
	for _, e := range recent {
		if !e.Status.IsTerminal() {
			continue
		}
		finished++
		if e.Status == workflow.ExecutionFailed {
			failed++
			perWorkflow[e.WorkflowID] = struct{}{}
		}
	}
	if finished == 0 {
		return nil
	}
	failureRate := float64(failed) / float64(finished)
	if failureRate < failureRateGate {
		return nil
	}

	risk := failureRate
	unresolvedRatio := -1.0
	if s.errStats != nil {
		unresolved, total := 0, 0
		for id := range perWorkflow {
			f, t, err := s.errStats.ErrorStats(ctx, id)
			if err != nil {
				s.logger.Warn("error stats unavailable", zap.String("workflow_id", id), zap.Error(err))
				continue
			}
			unresolved += f
			total += t
		}
		if total > 0 {
			unresolvedRatio = float64(unresolved) / float64(total)
			risk = (failureRate + unresolvedRatio) / 2
		}
	}

	conf := 0.9 * math.Min(1, float64(finished)/failureWindow)
	metrics := map[string]float64{
		"failure_rate": failureRate,
		"risk":         risk,
		"confidence":   conf,
	}
	if unresolvedRatio >= 0 {
		metrics["unresolved_error_ratio"] = unresolvedRatio
	}

	if risk > failureRiskThreshold {
		return []PredictiveInsight{{
			Type:        InsightFailure,
			Severity:    SeverityCritical,
			Title:       "High failure risk",
			Description: fmt.Sprintf("%d of the last %d executions failed", failed, finished),
			PredictedAt: s.now().Add(12 * time.Hour),
			Confidence:  conf,
			Impact:      "Service interruption is likely",
			Recommendations: []string{
				"Check system health immediately",
				"Prepare the incident response plan",
				"Schedule preventive maintenance",
			},
			Metrics: metrics,
		}}
	}
	return []PredictiveInsight{{
		Type:        InsightFailure,
		Severity:    SeverityHigh,
		Title:       "Elevated failure rate",
		Description: fmt.Sprintf("%d of the last %d executions failed", failed, finished),
		PredictedAt: s.now().Add(12 * time.Hour),
		Confidence:  conf,
		Impact:      "Failures may keep recurring",
		Recommendations: []string{
			"Review the failing workflows and their recovery attempts",
		},
		Metrics: metrics,
	}}
}

// resourceInsights 取预测中第一个 CPU 或内存超过阈值的点
func (s *Scheduler) resourceInsights(ctx context.Context) ([]PredictiveInsight, error) {
	forecasts, err := s.ForecastResources(ctx, s.cfg.ForecastHours)
	if err != nil {
		return nil, err
	}

	var peakCPU, peakMem float64
	var first *ResourceForecast
	breaches := 0
	for i := range forecasts {
		f := &forecasts[i]
		peakCPU = math.Max(peakCPU, f.CPU)
		peakMem = math.Max(peakMem, f.Memory)
		if f.CPU > resourceThreshold || f.Memory > resourceThreshold {
			breaches++
			if first == nil {
				first = f
			}
		}
	}
	if first == nil {
		return nil, nil
	}

	return []PredictiveInsight{{
		Type:        InsightResource,
		Severity:    SeverityHigh,
		Title:       "Resource shortage warning",
		Description: fmt.Sprintf("Utilization is forecast to exceed %.0f%% at %s", resourceThreshold*100, first.Timestamp.Format(time.RFC3339)),
		PredictedAt: first.Timestamp,
		Confidence:  first.Confidence,
		Impact:      "System performance may degrade",
		Recommendations: []string{
			"Consider adding capacity",
			"Move heavy workflows to quieter hours",
		},
		Metrics: map[string]float64{
			sysmetrics.MetricCPU:    first.CPU,
			sysmetrics.MetricMemory: first.Memory,
			"peak_cpu":              peakCPU,
			"peak_memory":           peakMem,
			"breaching_hours":       float64(breaches),
			"confidence":            first.Confidence,
		},
	}}, nil
}

// opportunityInsights 取预期改进最大的调度建议
func (s *Scheduler) opportunityInsights(ctx context.Context) ([]PredictiveInsight, error) {
	opts, err := s.OptimizeWorkflowScheduling(ctx, "")
	if err != nil {
		return nil, err
	}

	var best *ScheduleOptimization
	for i := range opts {
		if best == nil || opts[i].ExpectedImprovement > best.ExpectedImprovement {
			best = &opts[i]
		}
	}
	if best == nil || best.ExpectedImprovement <= opportunityThreshold {
		return nil, nil
	}

	return []PredictiveInsight{{
		Type:        InsightOpportunity,
		Severity:    SeverityMedium,
		Title:       "Scheduling optimization opportunity",
		Description: fmt.Sprintf("Workflow %s would benefit from schedule %q", best.WorkflowID, best.OptimalSchedule),
		PredictedAt: s.now(),
		Confidence:  best.Confidence,
		Impact:      "Overall efficiency can improve",
		Recommendations: append([]string{
			fmt.Sprintf("Apply schedule %q to %s", best.OptimalSchedule, best.WorkflowID),
		}, best.Recommendations...),
		Metrics: map[string]float64{
			"potential":  best.ExpectedImprovement,
			"score":      best.Score,
			"confidence": best.Confidence,
		},
	}}, nil
}

// =============================================================================
// 📊 调度效率
// =============================================================================

// GetSchedulingEfficiency 返回调度效率指标。成功率与平均耗时来自最近 100 次执行，
// 资源利用率来自主机样本，其余为固定值。
func (s *Scheduler) GetSchedulingEfficiency(_ context.Context) Efficiency {
	execs := s.source.GetExecutionHistory("", 100)

	eff := Efficiency{
		OverallEfficiency:    PlaceholderOverallEfficiency,
		ResourceUtilization:  PlaceholderResourceUtilization,
		SuccessRate:          successRate(execs, defaultFactor),
		AverageExecutionTime: s.source.GetSystemStatus().Performance.AverageExecutionTime,
		SchedulingAccuracy:   PlaceholderSchedulingAccuracy,
		OptimizationImpact:   PlaceholderOptimizationImpact,
	}
	if len(execs) == 0 {
		eff.OverallEfficiency = defaultFactor
	}

	if s.load != nil {
		if history := s.load.History(); len(history) > 0 {
			var sum float64
			for _, x := range history {
				sum += (x.CPUPercent + x.MemoryPercent + x.DiskPercent) / 3
			}
			eff.ResourceUtilization = clamp01(sum / float64(len(history)) / 100)
		}
	}
	return eff
}
