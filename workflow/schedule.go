package workflow

import (
	"context"
	"time"

	"github.com/BaSui01/autoflow/types"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// scheduleParser 标准 5 字段 cron
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule 校验 cron 表达式
func ParseSchedule(expr string) (cron.Schedule, error) {
	return parseSchedule(expr)
}

func parseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, types.NewValidationError("invalid schedule %q: %v", expr, err)
	}
	return schedule, nil
}

func (e *Engine) scheduleLoop(ctx context.Context) {
	defer e.loops.Done()

	tick := e.cfg.ScheduleTick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runDueWorkflows(ctx)
		}
	}
}

// runDueWorkflows 触发到期的定时工作流：next = Next(lastRun 或 createdAt)，now >= next 即到期
func (e *Engine) runDueWorkflows(ctx context.Context) int {
	now := e.now()

	type due struct {
		id       string
		schedule cron.Schedule
	}
	var candidates []due

	e.mu.RLock()
	for _, wf := range e.workflows {
		if !wf.Enabled || wf.Status != WorkflowActive || wf.Schedule == "" {
			continue
		}
		schedule, err := scheduleParser.Parse(wf.Schedule)
		if err != nil {
			e.logger.Warn("skipping workflow with invalid schedule",
				zap.String("workflow_id", wf.ID),
				zap.String("schedule", wf.Schedule),
				zap.Error(err))
			continue
		}
		base := wf.CreatedAt
		if wf.LastRun != nil {
			base = *wf.LastRun
		}
		if !now.Before(schedule.Next(base)) {
			candidates = append(candidates, due{id: wf.ID, schedule: schedule})
		}
	}
	e.mu.RUnlock()

	triggered := 0
	for _, c := range candidates {
		execID, err := e.ExecuteWorkflow(ctx, c.id, map[string]any{"trigger": "scheduled"})
		if err != nil {
			e.logger.Warn("scheduled execution rejected",
				zap.String("workflow_id", c.id),
				zap.Error(err))
			continue
		}
		triggered++

		next := c.schedule.Next(now)
		e.mu.Lock()
		var snapshot *Workflow
		if wf, ok := e.workflows[c.id]; ok {
			lastRun := now
			wf.LastRun = &lastRun
			wf.NextRun = &next
			snapshot = wf.Copy()
		}
		e.mu.Unlock()

		if snapshot != nil {
			if err := e.saveWorkflow(ctx, snapshot); err != nil {
				e.logger.Warn("failed to persist schedule bookkeeping",
					zap.String("workflow_id", c.id),
					zap.Error(err))
			}
		}

		e.logger.Info("scheduled workflow triggered",
			zap.String("workflow_id", c.id),
			zap.String("execution_id", execID),
			zap.Time("next_run", next))
	}
	return triggered
}
