package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/metrics"
	"github.com/BaSui01/autoflow/internal/store"
	"github.com/BaSui01/autoflow/internal/sysmetrics"
	"github.com/BaSui01/autoflow/internal/telemetry"
	"github.com/BaSui01/autoflow/workflow"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WorkflowSource 工作流与执行历史来源，由 workflow.Engine 实现
type WorkflowSource interface {
	GetWorkflows() []*workflow.Workflow
	GetExecutionHistory(workflowID string, limit int) []*workflow.Execution
	GetSystemStatus() workflow.SystemStatus
	UpdateSchedule(ctx context.Context, workflowID, expr string) error
}

// LoadSource 主机指标来源，由 sysmetrics.Sampler 实现
type LoadSource interface {
	Metric(name string) (float64, bool)
	History() []sysmetrics.Sample
}

// HistorySource 内存历史为空时的执行记录来源，由 archive.Archive 实现
type HistorySource interface {
	RecentExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error)
}

// ErrorStatsSource 工作流错误统计，由 recovery.System 实现
type ErrorStatsSource interface {
	ErrorStats(ctx context.Context, workflowID string) (failures, total int, err error)
}

// Scheduler 智能调度器
type Scheduler struct {
	cfg      config.SchedulerConfig
	source   WorkflowSource
	load     LoadSource
	fallback HistorySource
	errStats ErrorStatsSource
	store    store.Store
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
	tracer   trace.Tracer

	baseline *BaselineEstimator

	lifecycleMu sync.Mutex
	loopCancel  context.CancelFunc
	loops       sync.WaitGroup
}

// Option 调度器选项
type Option func(*Scheduler)

// WithLoadSource 设置主机指标来源
func WithLoadSource(l LoadSource) Option {
	return func(s *Scheduler) { s.load = l }
}

// WithHistoryFallback 设置执行历史的后备来源
func WithHistoryFallback(h HistorySource) Option {
	return func(s *Scheduler) { s.fallback = h }
}

// WithErrorStats 设置错误统计来源
func WithErrorStats(e ErrorStatsSource) Option {
	return func(s *Scheduler) { s.errStats = e }
}

// WithStore 设置洞察缓存
func WithStore(st store.Store) Option {
	return func(s *Scheduler) { s.store = st }
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// WithClock 设置时间源
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRand 设置基线估计器的随机源
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.baseline = NewBaselineEstimator(r) }
}

// NewScheduler 创建智能调度器
func NewScheduler(cfg config.SchedulerConfig, source WorkflowSource, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ApplyConfidence <= 0 {
		cfg.ApplyConfidence = 0.8
	}
	if cfg.ForecastHours <= 0 {
		cfg.ForecastHours = 24
	}
	if cfg.InsightsTTL <= 0 {
		cfg.InsightsTTL = time.Hour
	}

	s := &Scheduler{
		cfg:    cfg,
		source: source,
		logger: logger.With(zap.String("component", "scheduler")),
		now:    time.Now,
		tracer: telemetry.Tracer("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewMemoryStore(cfg.InsightsTTL)
	}
	if s.baseline == nil {
		s.baseline = NewBaselineEstimator(nil)
	}
	return s
}

// =============================================================================
// 🚦 生命周期
// =============================================================================

// Start 启动优化循环与预测循环
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.loopCancel != nil {
		return errors.New("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel

	s.loops.Add(2)
	go s.runEvery(loopCtx, s.cfg.OptimizeInterval, time.Hour, s.optimizeOnce)
	go s.runEvery(loopCtx, s.cfg.PredictInterval, 30*time.Minute, s.predictOnce)

	s.logger.Info("scheduler started",
		zap.Duration("optimize_interval", s.cfg.OptimizeInterval),
		zap.Duration("predict_interval", s.cfg.PredictInterval),
		zap.Float64("apply_confidence", s.cfg.ApplyConfidence))
	return nil
}

// Shutdown 停止后台循环
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.lifecycleMu.Lock()
	cancel := s.loopCancel
	s.loopCancel = nil
	s.lifecycleMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) runEvery(ctx context.Context, interval, fallback time.Duration, fn func(context.Context)) {
	defer s.loops.Done()

	if interval <= 0 {
		interval = fallback
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) optimizeOnce(ctx context.Context) {
	s.logger.Debug("running scheduled optimization")
	opts, err := s.OptimizeWorkflowScheduling(ctx, "")
	if err != nil {
		s.logger.Error("scheduled optimization failed", zap.Error(err))
		return
	}
	if _, err := s.ApplyOptimizations(ctx, opts); err != nil {
		s.logger.Error("failed to apply optimizations", zap.Error(err))
	}
}

func (s *Scheduler) predictOnce(ctx context.Context) {
	s.logger.Debug("running scheduled prediction")
	if _, err := s.GeneratePredictiveInsights(ctx); err != nil {
		s.logger.Error("scheduled prediction failed", zap.Error(err))
	}
	if _, err := s.ForecastResources(ctx, s.cfg.ForecastHours); err != nil {
		s.logger.Error("resource forecast failed", zap.Error(err))
	}
}
