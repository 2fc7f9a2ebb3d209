package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/BaSui01/autoflow/internal/sysmetrics"
	"github.com/BaSui01/autoflow/internal/telemetry"
	"github.com/BaSui01/autoflow/types"
	"github.com/BaSui01/autoflow/workflow"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// 调度档位
const (
	ScheduleNightly     = "0 2 * * *"
	ScheduleEvery6Hours = "0 */6 * * *"
	ScheduleTwiceDaily  = "0 */12 * * *"
)

const (
	historyWindow       = 50
	maxComplexitySteps  = 20
	defaultFactor       = 0.5
	defaultBusinessRisk = 0.5
)

// =============================================================================
// 🎯 调度优化
// =============================================================================

// OptimizeWorkflowScheduling 为指定工作流计算调度建议，id 为空时覆盖全部启用的工作流
func (s *Scheduler) OptimizeWorkflowScheduling(ctx context.Context, workflowID string) ([]ScheduleOptimization, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.optimize", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
	))
	defer span.End()

	targets := s.targets(workflowID)
	if workflowID != "" && len(targets) == 0 {
		err := types.NewNotFoundError("workflow", workflowID)
		telemetry.Fail(span, err)
		return nil, err
	}

	systemLoad := s.systemLoadFactor()
	out := make([]ScheduleOptimization, 0, len(targets))
	for _, wf := range targets {
		opt, err := s.optimize(ctx, wf, systemLoad)
		if err != nil {
			telemetry.Fail(span, err)
			return nil, err
		}
		out = append(out, opt)
	}

	s.logger.Info("schedule optimizations generated", zap.Int("count", len(out)))
	return out, nil
}

func (s *Scheduler) targets(workflowID string) []*workflow.Workflow {
	all := s.source.GetWorkflows()
	out := make([]*workflow.Workflow, 0, len(all))
	for _, wf := range all {
		if workflowID != "" {
			if wf.ID == workflowID {
				out = append(out, wf)
			}
			continue
		}
		if wf.Enabled {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) optimize(ctx context.Context, wf *workflow.Workflow, systemLoad float64) (ScheduleOptimization, error) {
	history, err := s.history(ctx, wf.ID, historyWindow)
	if err != nil {
		return ScheduleOptimization{}, err
	}

	factors := Factors{
		SystemLoad:        systemLoad,
		HistoricalSuccess: successRate(history, defaultFactor),
		ResourceUsage:     resourceUsage(len(wf.Steps)),
		BusinessImpact:    s.businessImpact(wf.ID),
	}

	score := (factors.SystemLoad + factors.HistoricalSuccess + (1 - factors.ResourceUsage)) / 3
	schedule := scheduleForScore(score)
	if _, err := cron.ParseStandard(schedule); err != nil {
		return ScheduleOptimization{}, fmt.Errorf("generated invalid schedule %q: %w", schedule, err)
	}

	return ScheduleOptimization{
		WorkflowID:          wf.ID,
		CurrentSchedule:     wf.Schedule,
		OptimalSchedule:     schedule,
		Score:               score,
		Confidence:          confidence(factors.values()),
		ExpectedImprovement: math.Abs(score - 0.5),
		Factors:             factors,
		Recommendations:     recommendations(factors),
		GeneratedAt:         s.now(),
	}, nil
}

// history 返回最近的执行记录（最新在前），内存中没有时查询归档
func (s *Scheduler) history(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error) {
	execs := s.source.GetExecutionHistory(workflowID, limit)
	if len(execs) > 0 || s.fallback == nil {
		return execs, nil
	}
	archived, err := s.fallback.RecentExecutions(ctx, workflowID, limit)
	if err != nil {
		s.logger.Warn("archived history unavailable", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, nil
	}
	return archived, nil
}

// systemLoadFactor 1 - CPU 负载比例，没有样本时负载按 0.5 计
func (s *Scheduler) systemLoadFactor() float64 {
	load := defaultFactor
	if s.load != nil {
		if cpu, ok := s.load.Metric(sysmetrics.MetricCPU); ok {
			load = clamp01(cpu / 100)
		}
	}
	return math.Max(0, 1-load)
}

func (s *Scheduler) businessImpact(workflowID string) float64 {
	if v, ok := s.cfg.BusinessImpact[workflowID]; ok {
		return clamp01(v)
	}
	return defaultBusinessRisk
}

func successRate(execs []*workflow.Execution, empty float64) float64 {
	if len(execs) == 0 {
		return empty
	}
	completed := 0
	for _, e := range execs {
		if e.Status == workflow.ExecutionCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(execs))
}

func resourceUsage(steps int) float64 {
	return math.Max(0, 1-float64(steps)/maxComplexitySteps)
}

func scheduleForScore(score float64) string {
	switch {
	case score > 0.8:
		return ScheduleNightly
	case score > 0.6:
		return ScheduleEvery6Hours
	default:
		return ScheduleTwiceDaily
	}
}

// confidence 1 - 方差，限制在 [0,1]
func confidence(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return clamp01(1 - variance)
}

func recommendations(f Factors) []string {
	out := []string{}
	if f.SystemLoad < 0.3 {
		out = append(out, "Run this workflow during low-load periods")
	}
	if f.HistoricalSuccess < 0.8 {
		out = append(out, "Review the workflow configuration to improve its success rate")
	}
	if f.ResourceUsage > 0.7 {
		out = append(out, "Optimize the workflow to reduce resource consumption")
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// =============================================================================
// ✅ 应用优化
// =============================================================================

// ApplyOptimizations 应用置信度高于阈值且与当前调度不同的建议，返回应用数。
// 单个工作流更新失败不影响其余建议。
func (s *Scheduler) ApplyOptimizations(ctx context.Context, optimizations []ScheduleOptimization) (int, error) {
	applied := 0
	var errs []error

	for _, opt := range optimizations {
		if opt.Confidence <= s.cfg.ApplyConfidence || opt.OptimalSchedule == opt.CurrentSchedule {
			s.metrics.RecordScheduleOptimization(false)
			continue
		}
		if err := s.source.UpdateSchedule(ctx, opt.WorkflowID, opt.OptimalSchedule); err != nil {
			s.metrics.RecordScheduleOptimization(false)
			errs = append(errs, fmt.Errorf("apply schedule for %s: %w", opt.WorkflowID, err))
			continue
		}
		s.metrics.RecordScheduleOptimization(true)
		applied++
		s.logger.Info("schedule optimization applied",
			zap.String("workflow_id", opt.WorkflowID),
			zap.String("previous", opt.CurrentSchedule),
			zap.String("schedule", opt.OptimalSchedule),
			zap.Float64("confidence", opt.Confidence))
	}

	s.logger.Info("schedule optimizations processed",
		zap.Int("applied", applied),
		zap.Int("total", len(optimizations)))
	return applied, errors.Join(errs...)
}
