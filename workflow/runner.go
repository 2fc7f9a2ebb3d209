package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/autoflow/internal/telemetry"
	"github.com/BaSui01/autoflow/recovery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// =============================================================================
// ⏱️ 执行循环
// =============================================================================

func (e *Engine) executionLoop(ctx context.Context) {
	defer e.loops.Done()

	tick := e.cfg.ExecutionTick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drainQueue(e.currentRunCtx())
		}
	}
}

func (e *Engine) currentRunCtx() context.Context {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	return e.runCtx
}

// drainQueue 在有空闲执行槽时出队，出队即标记为 running
func (e *Engine) drainQueue(ctx context.Context) {
	for {
		if !e.sem.TryAcquire(1) {
			return
		}

		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			e.sem.Release(1)
			return
		}
		id := e.queue[0]
		e.queue = e.queue[1:]

		exec, ok := e.executions[id]
		if !ok || exec.Status != ExecutionPending {
			e.mu.Unlock()
			e.sem.Release(1)
			continue
		}
		now := e.now()
		exec.Status = ExecutionRunning
		exec.StartTime = &now
		e.running++
		running, queued := e.running, len(e.queue)
		e.mu.Unlock()

		e.metrics.SetExecutionLoad(running, queued)

		e.inflight.Add(1)
		go func(execID string) {
			defer e.inflight.Done()
			defer e.releaseSlot()
			e.runExecution(ctx, execID)
		}(id)
	}
}

func (e *Engine) releaseSlot() {
	e.mu.Lock()
	e.running--
	running, queued := e.running, len(e.queue)
	e.mu.Unlock()

	e.sem.Release(1)
	e.metrics.SetExecutionLoad(running, queued)
}

// =============================================================================
// 🏃 执行处理
// =============================================================================

// runExecution 按拓扑序逐个处理步骤，步骤之间检查取消
func (e *Engine) runExecution(ctx context.Context, execID string) {
	e.mu.RLock()
	exec, ok := e.executions[execID]
	if !ok {
		e.mu.RUnlock()
		return
	}
	workflowID := exec.WorkflowID
	steps := copySteps(exec.Steps)
	trigger := copyMap(exec.Metadata)
	cancelled := e.cancelled[execID]
	name := workflowID
	if wf, ok := e.workflows[workflowID]; ok && wf.Name != "" {
		name = wf.Name
	}
	e.mu.RUnlock()

	if cancelled == nil {
		return
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("execution.id", execID),
	))
	defer span.End()

	e.appendLog(execID, LogInfo, "", "Starting workflow: "+name, nil)

	order, err := topologicalOrder(steps)
	if err != nil {
		telemetry.Fail(span, err)
		e.complete(ctx, execID, err)
		return
	}

	var stepErr error
	for _, idx := range order {
		if isClosed(cancelled) {
			return
		}
		step := steps[idx]

		if !e.dependenciesMet(execID, step) {
			e.skipStep(execID, step, "dependencies not met")
			continue
		}
		snapshot, ok := e.snapshot(execID)
		if !ok {
			return
		}
		if !e.conditions.EvaluateAll(ctx, step.Conditions, snapshot) {
			e.skipStep(execID, step, "conditions not satisfied")
			continue
		}

		if stepErr = e.executeStep(ctx, execID, workflowID, step, trigger, cancelled); stepErr != nil {
			break
		}
	}

	if isClosed(cancelled) {
		return
	}
	if stepErr != nil {
		telemetry.Fail(span, stepErr)
	}
	e.complete(ctx, execID, stepErr)
}

// executeStep 执行步骤动作，按重试策略重试，最终失败时回滚并上报
func (e *Engine) executeStep(ctx context.Context, execID, workflowID string, step Step, trigger map[string]any, cancelled <-chan struct{}) error {
	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("execution.id", execID),
		attribute.String("step.id", step.ID),
	))
	defer span.End()

	started := e.update(execID, func(exec *Execution) {
		now := e.now()
		if s := exec.step(step.ID); s != nil {
			s.Status = StepRunning
			s.StartTime = &now
		}
		exec.CurrentStep = step.ID
		e.appendLogLocked(exec, LogInfo, step.ID, "Executing step: "+step.Name, nil)
	})
	if !started {
		return errExecutionCancelled
	}

	attempts := step.RetryPolicy.attempts()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = e.runActions(ctx, execID, workflowID, step, step.Actions, trigger)
		if err == nil || !shouldRetry(err) || attempt == attempts {
			break
		}

		delay := step.RetryPolicy.Delay(attempt)
		e.appendLog(execID, LogWarn, step.ID,
			fmt.Sprintf("Retrying step %s (attempt %d/%d)", step.Name, attempt+1, attempts),
			map[string]any{"delay_ms": delay.Milliseconds(), "error": err.Error()})

		if werr := waitRetry(ctx, delay, cancelled); werr != nil {
			err = fmt.Errorf("retry wait aborted: %w", werr)
			break
		}
	}

	if err == nil {
		e.update(execID, func(exec *Execution) {
			now := e.now()
			if s := exec.step(step.ID); s != nil {
				s.Status = StepCompleted
				s.EndTime = &now
				s.Progress = 100
			}
			exec.CompletedSteps = append(exec.CompletedSteps, step.ID)
			exec.recomputeProgress()
			e.appendLogLocked(exec, LogInfo, step.ID, "Step completed: "+step.Name, nil)
		})
		return nil
	}

	if errors.Is(err, errExecutionCancelled) || isClosed(cancelled) {
		return err
	}

	telemetry.Fail(span, err)

	finalStatus := StepFailed
	if len(step.RollbackActions) > 0 {
		e.appendLog(execID, LogWarn, step.ID, "Rolling back step: "+step.Name, nil)
		if rbErr := e.runActions(ctx, execID, workflowID, step, step.RollbackActions, trigger); rbErr != nil {
			e.appendLog(execID, LogError, step.ID, "Rollback failed: "+rbErr.Error(), nil)
		} else {
			finalStatus = StepRollback
			e.appendLog(execID, LogInfo, step.ID, "Rollback completed: "+step.Name, nil)
		}
	}

	e.update(execID, func(exec *Execution) {
		now := e.now()
		if s := exec.step(step.ID); s != nil {
			s.Status = finalStatus
			s.EndTime = &now
			s.ErrorMessage = err.Error()
		}
		exec.FailedSteps = append(exec.FailedSteps, step.ID)
		e.appendLogLocked(exec, LogError, step.ID,
			fmt.Sprintf("Step failed: %s - %s", step.Name, err.Error()), nil)
	})

	e.reportStepFailure(ctx, execID, workflowID, step, err)
	return err
}

func (e *Engine) runActions(ctx context.Context, execID, workflowID string, step Step, actions []Action, trigger map[string]any) error {
	fallback := time.Duration(step.Timeout) * time.Second
	for _, action := range actions {
		req := ActionRequest{
			Action:      action,
			WorkflowID:  workflowID,
			ExecutionID: execID,
			StepID:      step.ID,
			TriggerData: trigger,
		}
		if err := e.actions.Execute(ctx, req, fallback); err != nil {
			return err
		}
	}
	return nil
}

// reportStepFailure 把步骤失败转换为错误事件交给恢复系统
func (e *Engine) reportStepFailure(ctx context.Context, execID, workflowID string, step Step, cause error) {
	if e.reporter == nil {
		return
	}

	impact := recovery.Severity(step.Priority)
	if !impact.IsValid() {
		impact = recovery.SeverityMedium
	}

	event := recovery.ErrorEvent{
		Severity: recovery.SeverityHigh,
		Category: recovery.CategoryWorkflow,
		Type:     "step_failure",
		Message:  fmt.Sprintf("step %s failed: %v", step.ID, cause),
		Source:   "workflow_engine",
		Details: map[string]any{
			"workflow_id":  workflowID,
			"execution_id": execID,
			"step_id":      step.ID,
			"step_name":    step.Name,
		},
		Impact: recovery.Impact{
			AffectedWorkflows: []string{workflowID},
			EstimatedDowntime: float64(step.EstimatedDuration) / 60,
			BusinessImpact:    impact,
		},
	}

	errorID, err := e.reporter.ReportError(ctx, event)
	if err != nil {
		e.logger.Warn("failed to report step failure",
			zap.String("execution_id", execID),
			zap.String("step_id", step.ID),
			zap.Error(err))
		return
	}
	e.appendLog(execID, LogInfo, step.ID, "Failure reported to recovery system",
		map[string]any{"error_id": errorID})
}

// complete 将执行置为终态并落盘
func (e *Engine) complete(ctx context.Context, execID string, cause error) {
	var snapshot *Execution
	ok := e.update(execID, func(exec *Execution) {
		now := e.now()
		for i := range exec.Steps {
			if exec.Steps[i].Status == StepPending {
				exec.Steps[i].Status = StepSkipped
			}
		}
		if cause != nil {
			e.appendLogLocked(exec, LogError, "", "Workflow failed: "+cause.Error(), nil)
			exec.Status = ExecutionFailed
		} else {
			exec.recomputeProgress()
			e.appendLogLocked(exec, LogInfo, "", "Workflow completed successfully", nil)
			exec.Status = ExecutionCompleted
		}
		exec.EndTime = &now
		snapshot = exec.Copy()
	})
	if !ok {
		return
	}

	e.mu.Lock()
	delete(e.cancelled, execID)
	e.mu.Unlock()

	e.finalize(ctx, snapshot)
}

// finalize 持久化、归档并记录指标
func (e *Engine) finalize(ctx context.Context, exec *Execution) {
	ctx = context.WithoutCancel(ctx)

	e.saveExecution(ctx, exec)
	if e.archive != nil {
		if err := e.archive.SaveExecution(ctx, exec); err != nil {
			e.logger.Warn("failed to archive execution",
				zap.String("execution_id", exec.ID),
				zap.Error(err))
		}
	}

	e.metrics.RecordExecution(exec.WorkflowID, string(exec.Status), exec.Duration())
	for _, s := range exec.Steps {
		e.metrics.RecordStep(string(s.Status))
	}

	e.logger.Info("workflow execution finished",
		zap.String("workflow_id", exec.WorkflowID),
		zap.String("execution_id", exec.ID),
		zap.String("status", string(exec.Status)),
		zap.Float64("progress", exec.Progress),
		zap.Strings("failed_steps", exec.FailedSteps))

	e.prune()
}

// prune 淘汰超出保留上限的最早终态执行
func (e *Engine) prune() {
	e.mu.Lock()
	defer e.mu.Unlock()

	excess := len(e.history) - maxRetainedExecutions
	if excess <= 0 {
		return
	}
	kept := e.history[:0]
	for _, id := range e.history {
		exec, ok := e.executions[id]
		if excess > 0 && (!ok || exec.Status.IsTerminal()) {
			delete(e.executions, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	e.history = kept
}

// =============================================================================
// 🔒 受锁保护的状态修改
// =============================================================================

// update 在锁内修改执行，终态执行不再修改
func (e *Engine) update(execID string, fn func(exec *Execution)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.executions[execID]
	if !ok || exec.Status.IsTerminal() {
		return false
	}
	fn(exec)
	return true
}

func (e *Engine) snapshot(execID string) (*Execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	exec, ok := e.executions[execID]
	if !ok {
		return nil, false
	}
	return exec.Copy(), true
}

func (e *Engine) dependenciesMet(execID string, step Step) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	exec, ok := e.executions[execID]
	if !ok {
		return false
	}
	for _, dep := range step.Dependencies {
		if !exec.IsCompleted(dep) {
			return false
		}
	}
	return true
}

func (e *Engine) skipStep(execID string, step Step, reason string) {
	e.update(execID, func(exec *Execution) {
		if s := exec.step(step.ID); s != nil {
			s.Status = StepSkipped
		}
		e.appendLogLocked(exec, LogInfo, step.ID,
			fmt.Sprintf("Skipping step %s: %s", step.Name, reason), nil)
	})
}

func (e *Engine) appendLog(execID string, level LogLevel, stepID, msg string, data map[string]any) {
	e.update(execID, func(exec *Execution) {
		e.appendLogLocked(exec, level, stepID, msg, data)
	})
}

// appendLogLocked 追加日志，超过上限时只保留最近的 TrimExecutionLogs 条
func (e *Engine) appendLogLocked(exec *Execution, level LogLevel, stepID, msg string, data map[string]any) {
	exec.Logs = append(exec.Logs, ExecutionLog{
		Timestamp: e.now(),
		Level:     level,
		StepID:    stepID,
		Message:   msg,
		Data:      data,
	})

	limit, keep := e.cfg.MaxExecutionLogs, e.cfg.TrimExecutionLogs
	if limit > 0 && len(exec.Logs) > limit {
		if keep <= 0 || keep > limit {
			keep = limit
		}
		exec.Logs = append([]ExecutionLog(nil), exec.Logs[len(exec.Logs)-keep:]...)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
