package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/metrics"
	"github.com/BaSui01/autoflow/internal/store"
	"github.com/BaSui01/autoflow/internal/telemetry"
	"github.com/BaSui01/autoflow/internal/tlsutil"
	"github.com/BaSui01/autoflow/recovery"
	"github.com/BaSui01/autoflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrorReporter 接收步骤失败事件，由 recovery.System 实现
type ErrorReporter interface {
	ReportError(ctx context.Context, event recovery.ErrorEvent) (string, error)
}

// Archiver 归档终态执行，由 archive.Archive 实现
type Archiver interface {
	SaveExecution(ctx context.Context, exec *Execution) error
}

// maxRetainedExecutions 内存中保留的执行记录上限，超出后淘汰最早的终态执行
const maxRetainedExecutions = 1000

// Engine 工作流引擎
type Engine struct {
	cfg        config.EngineConfig
	logger     *zap.Logger
	store      store.Store
	reporter   ErrorReporter
	metrics    *metrics.Collector
	archive    Archiver
	health     HealthSource
	now        func() time.Time
	httpClient *http.Client
	tracer     trace.Tracer

	conditions *ConditionEvaluator
	actions    *ActionRegistry
	pending    map[ActionType]ActionHandler

	sem *semaphore.Weighted

	mu         sync.RWMutex
	workflows  map[string]*Workflow
	executions map[string]*Execution
	history    []string // 按创建顺序
	queue      []string
	cancelled  map[string]chan struct{}
	running    int

	lifecycleMu sync.Mutex
	loopCancel  context.CancelFunc
	runCancel   context.CancelFunc
	runCtx      context.Context
	loops       sync.WaitGroup
	inflight    sync.WaitGroup
}

// Option 引擎选项
type Option func(*Engine)

// WithStore 设置持久化存储
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithErrorReporter 设置错误上报目标
func WithErrorReporter(r ErrorReporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithConditionSource 设置条件评估使用的主机指标源
func WithConditionSource(src HealthSource) Option {
	return func(e *Engine) { e.health = src }
}

// WithActionHandler 替换某一类型的动作处理器
func WithActionHandler(actionType ActionType, h ActionHandler) Option {
	return func(e *Engine) { e.pending[actionType] = h }
}

// WithArchive 设置执行归档
func WithArchive(a Archiver) Option {
	return func(e *Engine) { e.archive = a }
}

// WithClock 设置时间源
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHTTPClient 设置 api_call 使用的 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// NewEngine 创建工作流引擎
func NewEngine(cfg config.EngineConfig, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = 3
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "workflow_engine")),
		now:        time.Now,
		tracer:     telemetry.Tracer("workflow"),
		pending:    make(map[ActionType]ActionHandler),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentExecutions)),
		workflows:  make(map[string]*Workflow),
		executions: make(map[string]*Execution),
		cancelled:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = store.NewMemoryStore(cfg.ExecutionTTL)
	}
	if e.httpClient == nil {
		tlsCfg, err := tlsutil.ClientConfig(tlsutil.Options{CAFile: cfg.ActionCAFile})
		if err != nil {
			e.logger.Warn("failed to load action CA file, using system roots",
				zap.String("ca_file", cfg.ActionCAFile), zap.Error(err))
		}
		e.httpClient = tlsutil.ActionClient(cfg.HTTPTimeout, tlsCfg)
	}

	e.conditions = NewConditionEvaluator(e.health, e.now, e.logger)
	e.actions = NewActionRegistry(e.httpClient, cfg.ActionBaseURL, e.logger)
	for t, h := range e.pending {
		e.actions.Register(t, h)
	}
	e.runCtx = context.Background()

	return e
}

// RegisterCustomAction 注册 custom 动作处理器（config.handler 为名称）
func (e *Engine) RegisterCustomAction(name string, h ActionHandler) {
	e.actions.RegisterCustom(name, h)
}

// RegisterCustomCondition 注册具名自定义条件
func (e *Engine) RegisterCustomCondition(name string, fn CustomCondition) {
	e.conditions.RegisterCustom(name, fn)
}

// =============================================================================
// 🚦 生命周期
// =============================================================================

// Start 启动执行循环与定时调度循环
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.loopCancel != nil {
		return errors.New("workflow engine already started")
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	e.loopCancel, e.runCancel, e.runCtx = loopCancel, runCancel, runCtx

	e.loops.Add(2)
	go e.executionLoop(loopCtx)
	go e.scheduleLoop(loopCtx)

	e.logger.Info("workflow engine started",
		zap.Int("max_concurrent_executions", e.cfg.MaxConcurrentExecutions),
		zap.Duration("execution_tick", e.cfg.ExecutionTick),
		zap.Duration("schedule_tick", e.cfg.ScheduleTick))
	return nil
}

// Shutdown 停止循环并等待运行中的执行结束，ctx 到期时中断它们
func (e *Engine) Shutdown(ctx context.Context) error {
	e.lifecycleMu.Lock()
	loopCancel, runCancel := e.loopCancel, e.runCancel
	e.loopCancel, e.runCancel = nil, nil
	e.lifecycleMu.Unlock()

	if loopCancel == nil {
		return nil
	}
	loopCancel()
	e.loops.Wait()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		runCancel()
		e.logger.Info("workflow engine stopped")
		return nil
	case <-ctx.Done():
		runCancel()
		<-done
		return fmt.Errorf("workflow engine shutdown: %w", ctx.Err())
	}
}

// =============================================================================
// 📋 工作流注册
// =============================================================================

// RegisterWorkflow 校验并注册工作流，未给出 id 时自动生成
func (e *Engine) RegisterWorkflow(ctx context.Context, def Workflow) (string, error) {
	if err := validateSteps(def.Steps); err != nil {
		return "", err
	}

	now := e.now()
	wf := def.Copy()
	wf.jsonTyped()
	if wf.ID == "" {
		wf.ID = "workflow_" + uuid.NewString()
	}
	if wf.Version == "" {
		wf.Version = "1.0.0"
	}
	if wf.Status == "" {
		wf.Status = WorkflowActive
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	for i := range wf.Steps {
		resetStep(&wf.Steps[i])
	}

	wf.NextRun = nil
	if wf.Schedule != "" {
		schedule, err := parseSchedule(wf.Schedule)
		if err != nil {
			return "", err
		}
		next := schedule.Next(now)
		wf.NextRun = &next
	}

	if err := e.saveWorkflow(ctx, wf); err != nil {
		return "", err
	}

	e.mu.Lock()
	_, existed := e.workflows[wf.ID]
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	if !existed {
		if err := e.store.AppendIndex(ctx, store.IndexWorkflows, wf.ID, e.cfg.WorkflowTTL); err != nil {
			e.logger.Warn("failed to index workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
		}
	}

	e.logger.Info("workflow registered",
		zap.String("workflow_id", wf.ID),
		zap.String("name", wf.Name),
		zap.Int("steps", len(wf.Steps)),
		zap.String("schedule", wf.Schedule))
	return wf.ID, nil
}

// RestoreWorkflows 从存储加载已持久化的工作流，返回加载数量
func (e *Engine) RestoreWorkflows(ctx context.Context) (int, error) {
	ids, err := e.store.ReadIndex(ctx, store.IndexWorkflows)
	if err != nil {
		return 0, fmt.Errorf("read workflow index: %w", err)
	}

	seen := make(map[string]bool, len(ids))
	loaded := 0
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		var wf Workflow
		if err := e.store.GetJSON(ctx, store.PrefixWorkflow+id, &wf); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return loaded, fmt.Errorf("load workflow %s: %w", id, err)
		}

		e.mu.Lock()
		if _, ok := e.workflows[id]; !ok {
			e.workflows[id] = &wf
			loaded++
		}
		e.mu.Unlock()
	}

	e.logger.Info("workflows restored", zap.Int("count", loaded))
	return loaded, nil
}

func resetStep(s *Step) {
	s.Status = StepPending
	s.Progress = 0
	s.StartTime = nil
	s.EndTime = nil
	s.ErrorMessage = ""
}

func (e *Engine) saveWorkflow(ctx context.Context, wf *Workflow) error {
	if err := e.store.PutJSON(ctx, store.PrefixWorkflow+wf.ID, wf, e.cfg.WorkflowTTL); err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// UpdateSchedule 更新工作流的 cron 表达式，空字符串清除定时
func (e *Engine) UpdateSchedule(ctx context.Context, workflowID, expr string) error {
	var next *time.Time
	now := e.now()
	if expr != "" {
		schedule, err := parseSchedule(expr)
		if err != nil {
			return err
		}
		n := schedule.Next(now)
		next = &n
	}

	e.mu.Lock()
	wf, ok := e.workflows[workflowID]
	if !ok {
		e.mu.Unlock()
		return types.NewNotFoundError("workflow", workflowID)
	}
	previous := wf.Schedule
	wf.Schedule = expr
	wf.UpdatedAt = now
	wf.NextRun = next
	snapshot := wf.Copy()
	e.mu.Unlock()

	if err := e.saveWorkflow(ctx, snapshot); err != nil {
		return err
	}

	e.logger.Info("workflow schedule updated",
		zap.String("workflow_id", workflowID),
		zap.String("previous", previous),
		zap.String("schedule", expr))
	return nil
}

// =============================================================================
// ▶️ 执行请求
// =============================================================================

// ExecuteWorkflow 创建 pending 执行并加入 FIFO 队列
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, triggerData map[string]any) (string, error) {
	now := e.now()

	e.mu.Lock()
	wf, ok := e.workflows[workflowID]
	if !ok {
		e.mu.Unlock()
		return "", types.NewNotFoundError("workflow", workflowID)
	}
	if !wf.Enabled || wf.Status != WorkflowActive {
		e.mu.Unlock()
		return "", types.NewDisabledError(workflowID)
	}

	exec := &Execution{
		ID:             "exec_" + uuid.NewString(),
		WorkflowID:     workflowID,
		Status:         ExecutionPending,
		CreatedAt:      now,
		Steps:          copySteps(wf.Steps),
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		Logs:           []ExecutionLog{},
		Metadata:       store.JSONMap(triggerData),
	}
	for i := range exec.Steps {
		resetStep(&exec.Steps[i])
	}
	e.appendLogLocked(exec, LogInfo, "", "Execution queued", nil)

	e.executions[exec.ID] = exec
	e.history = append(e.history, exec.ID)
	e.queue = append(e.queue, exec.ID)
	e.cancelled[exec.ID] = make(chan struct{})
	snapshot := exec.Copy()
	running, queued := e.running, len(e.queue)
	e.mu.Unlock()

	e.metrics.SetExecutionLoad(running, queued)
	e.saveExecution(ctx, snapshot)

	e.logger.Info("workflow execution queued",
		zap.String("workflow_id", workflowID),
		zap.String("execution_id", exec.ID),
		zap.Int("queue_depth", queued))
	return exec.ID, nil
}

// saveExecution 尽力持久化，失败只记录日志
func (e *Engine) saveExecution(ctx context.Context, exec *Execution) {
	if err := e.store.PutJSON(ctx, store.PrefixExecution+exec.ID, exec, e.cfg.ExecutionTTL); err != nil {
		e.logger.Warn("failed to persist execution",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
	}
}

// =============================================================================
// 🔍 查询
// =============================================================================

// GetExecutionStatus 返回执行快照，内存中不存在时回退到存储
func (e *Engine) GetExecutionStatus(ctx context.Context, executionID string) (*Execution, error) {
	e.mu.RLock()
	exec, ok := e.executions[executionID]
	var snapshot *Execution
	if ok {
		snapshot = exec.Copy()
	}
	e.mu.RUnlock()
	if ok {
		return snapshot, nil
	}

	var stored Execution
	if err := e.store.GetJSON(ctx, store.PrefixExecution+executionID, &stored); err != nil {
		if store.IsNotFound(err) {
			return nil, types.NewNotFoundError("execution", executionID)
		}
		return nil, err
	}
	return &stored, nil
}

// CancelExecution 取消 pending 或 running 的执行，终态执行不受影响
func (e *Engine) CancelExecution(ctx context.Context, executionID string) error {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return types.NewNotFoundError("execution", executionID)
	}
	if exec.Status.IsTerminal() {
		e.mu.Unlock()
		return nil
	}

	wasRunning := exec.Status == ExecutionRunning
	e.appendLogLocked(exec, LogWarn, "", "Execution cancelled", nil)
	now := e.now()
	// 执行进入终态后不再接受更新，进行中的步骤在此收尾
	for i := range exec.Steps {
		st := &exec.Steps[i]
		switch st.Status {
		case StepPending:
			st.Status = StepSkipped
		case StepRunning:
			st.Status = StepSkipped
			st.EndTime = copyTime(&now)
			st.ErrorMessage = "execution cancelled"
		}
	}
	exec.Status = ExecutionCancelled
	exec.EndTime = &now

	for i, id := range e.queue {
		if id == executionID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	if ch, ok := e.cancelled[executionID]; ok {
		close(ch)
		delete(e.cancelled, executionID)
	}
	snapshot := exec.Copy()
	running, queued := e.running, len(e.queue)
	e.mu.Unlock()

	e.metrics.SetExecutionLoad(running, queued)
	e.finalize(ctx, snapshot)

	e.logger.Info("workflow execution cancelled",
		zap.String("execution_id", executionID),
		zap.Bool("was_running", wasRunning))
	return nil
}

// GetWorkflows 返回所有工作流副本
func (e *Engine) GetWorkflows() []*Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		out = append(out, wf.Copy())
	}
	sortWorkflows(out)
	return out
}

// GetWorkflow 返回单个工作流副本
func (e *Engine) GetWorkflow(workflowID string) (*Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	wf, ok := e.workflows[workflowID]
	if !ok {
		return nil, types.NewNotFoundError("workflow", workflowID)
	}
	return wf.Copy(), nil
}

// GetExecutionHistory 返回执行历史（最新在前），workflowID 为空时不过滤，limit<=0 不限制
func (e *Engine) GetExecutionHistory(workflowID string, limit int) []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Execution, 0)
	for i := len(e.history) - 1; i >= 0; i-- {
		exec, ok := e.executions[e.history[i]]
		if !ok {
			continue
		}
		if workflowID != "" && exec.WorkflowID != workflowID {
			continue
		}
		out = append(out, exec.Copy())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetSystemStatus 返回引擎负载与近期表现
func (e *Engine) GetSystemStatus() SystemStatus {
	var status SystemStatus

	e.mu.RLock()
	status.Workflows.Total = len(e.workflows)
	for _, wf := range e.workflows {
		if wf.Enabled {
			status.Workflows.Enabled++
		}
	}
	status.Executions.Running = e.running
	status.Executions.Queued = len(e.queue)
	e.mu.RUnlock()

	status.Executions.MaxConcurrent = e.cfg.MaxConcurrentExecutions
	status.Executions.Utilization = float64(status.Executions.Running) / float64(e.cfg.MaxConcurrentExecutions) * 100

	recent := e.GetExecutionHistory("", 100)
	finished, completed := 0, 0
	for _, exec := range recent {
		if !exec.Status.IsTerminal() {
			continue
		}
		finished++
		if exec.Status == ExecutionCompleted {
			completed++
		}
	}
	if finished > 0 {
		status.Performance.SuccessRate = round2(float64(completed) / float64(finished) * 100)
	}
	status.Performance.TotalExecutions = len(recent)
	status.Performance.AverageExecutionTime = averageDurationSeconds(e.GetExecutionHistory("", 50))

	return status
}

// averageDurationSeconds 已完成执行的平均耗时（秒）
func averageDurationSeconds(executions []*Execution) float64 {
	var total time.Duration
	n := 0
	for _, exec := range executions {
		if exec.Status != ExecutionCompleted || exec.EndTime == nil || exec.StartTime == nil {
			continue
		}
		total += exec.Duration()
		n++
	}
	if n == 0 {
		return 0
	}
	return total.Seconds() / float64(n)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortWorkflows(wfs []*Workflow) {
	sort.Slice(wfs, func(i, j int) bool {
		if !wfs[i].CreatedAt.Equal(wfs[j].CreatedAt) {
			return wfs[i].CreatedAt.Before(wfs[j].CreatedAt)
		}
		return wfs[i].ID < wfs[j].ID
	})
}
