package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/autoflow/types"
	"go.uber.org/zap"
)

// ActionExecutor 执行恢复动作
type ActionExecutor interface {
	Execute(ctx context.Context, action Action, event ErrorEvent) error
}

// ActionExecutorFunc 函数适配器
type ActionExecutorFunc func(ctx context.Context, action Action, event ErrorEvent) error

// Execute 实现 ActionExecutor
func (f ActionExecutorFunc) Execute(ctx context.Context, action Action, event ErrorEvent) error {
	return f(ctx, action, event)
}

// LoggingExecutor 默认执行器：记录动作意图，不在进程内重启服务或扩容
type LoggingExecutor struct {
	logger *zap.Logger
}

// NewLoggingExecutor 创建默认执行器
func NewLoggingExecutor(logger *zap.Logger) *LoggingExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingExecutor{logger: logger}
}

var actionMessages = map[ActionType]string{
	ActionRetry:          "executing retry action",
	ActionRestartService: "executing service restart action",
	ActionRollback:       "executing rollback action",
	ActionScaleResources: "executing scale resources action",
	ActionNotify:         "executing notify action",
	ActionCustomScript:   "executing custom script action",
	ActionFallback:       "executing fallback action",
}

// Execute 实现 ActionExecutor
func (e *LoggingExecutor) Execute(ctx context.Context, action Action, event ErrorEvent) error {
	msg, ok := actionMessages[action.Type]
	if !ok {
		return fmt.Errorf("unknown recovery action type: %s", action.Type)
	}
	e.logger.Info(msg,
		zap.String("error_id", event.ID),
		zap.String("action", string(action.Type)),
		zap.Any("config", action.Config))
	return ctx.Err()
}

// runAction 在动作超时内执行，返回执行记录
func (s *System) runAction(ctx context.Context, action Action, event ErrorEvent, rollback bool) ActionLog {
	entry := ActionLog{
		Type:      action.Type,
		Config:    action.Config,
		StartTime: s.now(),
		Status:    AttemptRunning,
		Rollback:  rollback,
	}

	err := s.executeWithDeadline(ctx, action, event)

	end := s.now()
	entry.EndTime = &end
	if err != nil {
		entry.Status = AttemptFailed
		entry.Error = err.Error()
		s.logger.Warn("recovery action failed",
			zap.String("error_id", event.ID),
			zap.String("action", string(action.Type)),
			zap.Bool("rollback", rollback),
			zap.Error(err))
		return entry
	}
	entry.Status = AttemptCompleted
	return entry
}

func (s *System) executeWithDeadline(ctx context.Context, action Action, event ErrorEvent) error {
	if !knownActionTypes[action.Type] {
		return types.NewActionExecutionError(string(action.Type),
			fmt.Errorf("unknown recovery action type: %s", action.Type))
	}

	actionCtx := ctx
	timeout := time.Duration(action.Timeout) * time.Millisecond
	if timeout > 0 {
		var cancel context.CancelFunc
		actionCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := s.executor.Execute(actionCtx, action, event)
	if ctx.Err() == nil && errors.Is(actionCtx.Err(), context.DeadlineExceeded) {
		return types.NewActionExecutionError(string(action.Type),
			types.NewTimeoutError(string(action.Type), timeout).WithCause(err))
	}
	if err != nil {
		return types.NewActionExecutionError(string(action.Type), err)
	}
	return nil
}
