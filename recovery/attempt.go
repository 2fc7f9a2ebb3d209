package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/autoflow/internal/store"
	"github.com/BaSui01/autoflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// runAttempt 顺序执行策略动作并记录结果。调用方已占用恢复槽。
func (s *System) runAttempt(ctx context.Context, event *ErrorEvent, strategy *Strategy, automatic bool) *Attempt {
	ctx, span := s.tracer.Start(ctx, "recovery.attempt", trace.WithAttributes(
		attribute.String("error.id", event.ID),
		attribute.String("strategy.id", strategy.ID),
		attribute.Bool("recovery.automatic", automatic),
	))
	defer span.End()

	started := s.now()
	attempt := &Attempt{
		ID:         "recovery_" + uuid.NewString(),
		ErrorID:    event.ID,
		StrategyID: strategy.ID,
		Timestamp:  started,
		Status:     AttemptRunning,
		Actions:    make([]ActionLog, 0, len(strategy.Actions)),
		Automatic:  automatic,
	}

	s.mu.Lock()
	s.active[attempt.ID] = attempt
	activeCount := len(s.active)
	s.mu.Unlock()
	s.metrics.SetRecoveriesActive(activeCount)

	s.saveAttempt(ctx, attempt.copy(), true)

	s.logger.Info("recovery attempt started",
		zap.String("attempt_id", attempt.ID),
		zap.String("error_id", event.ID),
		zap.String("strategy_id", strategy.ID),
		zap.Bool("automatic", automatic))

	logs, result, message := s.runActions(ctx, strategy, *event)

	finished := s.now()
	s.mu.Lock()
	attempt.Actions = logs
	attempt.Result = result
	attempt.Message = message
	attempt.Duration = finished.Sub(started).Milliseconds()
	if result == ResultSuccess {
		attempt.Status = AttemptCompleted
	} else {
		attempt.Status = AttemptFailed
	}
	delete(s.active, attempt.ID)
	activeCount = len(s.active)
	s.recent = append(s.recent, attempt)
	if len(s.recent) > recentAttemptLimit {
		s.recent = s.recent[len(s.recent)-recentAttemptLimit:]
	}
	final := attempt.copy()
	s.mu.Unlock()
	s.metrics.SetRecoveriesActive(activeCount)

	if result != ResultSuccess {
		span.SetStatus(codes.Error, message)
	}

	success := result == ResultSuccess
	s.recordStrategyOutcome(ctx, strategy.ID, success, finished)
	s.recordErrorOutcome(ctx, event.ID, success, automatic, finished)

	s.saveAttempt(ctx, final, false)
	if s.archive != nil {
		if err := s.archive.SaveAttempt(ctx, final); err != nil {
			s.logger.Warn("failed to archive recovery attempt", zap.String("attempt_id", final.ID), zap.Error(err))
		}
	}
	s.metrics.RecordRecoveryAttempt(strategy.ID, string(result), finished.Sub(started))

	s.logger.Info("recovery attempt finished",
		zap.String("attempt_id", final.ID),
		zap.String("error_id", event.ID),
		zap.String("strategy_id", strategy.ID),
		zap.String("result", string(result)),
		zap.Int64("duration_ms", final.Duration))
	return final
}

// runActions 顺序执行动作。首个失败的动作若带回滚则执行回滚；
// 回滚成功且此前已有动作成功时结果为 partial。
func (s *System) runActions(ctx context.Context, strategy *Strategy, event ErrorEvent) ([]ActionLog, AttemptResult, string) {
	logs := make([]ActionLog, 0, len(strategy.Actions)+1)
	succeeded := 0

	for _, action := range strategy.Actions {
		entry := s.runAction(ctx, action, event, false)
		logs = append(logs, entry)
		if entry.Status == AttemptCompleted {
			succeeded++
			continue
		}

		msg := fmt.Sprintf("Recovery action %s failed: %s", action.Type, entry.Error)
		if action.RollbackAction == nil {
			return logs, ResultFailed, msg
		}
		rb := s.runAction(ctx, *action.RollbackAction, event, true)
		logs = append(logs, rb)
		if rb.Status == AttemptCompleted && succeeded > 0 {
			return logs, ResultPartial, msg + " (rolled back)"
		}
		return logs, ResultFailed, msg
	}
	return logs, ResultSuccess, "Recovery completed successfully"
}

// updateSuccessRate 指数滑动平均，结果限制在 [0,1]
func updateSuccessRate(rate, weight float64, success bool) float64 {
	outcome := 0.0
	if success {
		outcome = 1
	}
	next := rate*(1-weight) + outcome*weight
	switch {
	case next < 0:
		return 0
	case next > 1:
		return 1
	default:
		return next
	}
}

func (s *System) recordStrategyOutcome(ctx context.Context, strategyID string, success bool, at time.Time) {
	s.mu.Lock()
	st, ok := s.strategies[strategyID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.SuccessRate = updateSuccessRate(st.SuccessRate, s.cfg.EMAWeight, success)
	used := at
	st.LastUsed = &used
	if b := s.breakers[strategyID]; b != nil {
		if success {
			b.RecordSuccess()
		} else {
			b.RecordFailure()
		}
	}
	snapshot := st.copy()
	s.mu.Unlock()

	s.metrics.SetStrategySuccessRate(strategyID, snapshot.SuccessRate)
	if err := s.saveStrategy(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist strategy", zap.String("strategy_id", strategyID), zap.Error(err))
	}
}

func (s *System) recordErrorOutcome(ctx context.Context, errorID string, success, automatic bool, at time.Time) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	event, err := s.loadError(ctx, errorID)
	if err != nil {
		s.logger.Warn("failed to load error for update", zap.String("error_id", errorID), zap.Error(err))
		return
	}
	event.ResolutionAttempts++
	last := at
	event.LastAttempt = &last
	if success {
		event.Resolved = true
		resolved := at
		event.ResolvedAt = &resolved
		event.AutoResolved = automatic
	}
	if err := s.saveError(ctx, event, false); err != nil {
		s.logger.Warn("failed to persist error update", zap.String("error_id", errorID), zap.Error(err))
	}
}

func (s *System) saveAttempt(ctx context.Context, attempt *Attempt, index bool) {
	if err := s.store.PutJSON(ctx, store.PrefixRecovery+attempt.ID, attempt, s.cfg.ErrorTTL); err != nil {
		s.logger.Warn("failed to persist recovery attempt", zap.String("attempt_id", attempt.ID), zap.Error(err))
		return
	}
	if index {
		if err := s.store.AppendIndex(ctx, store.IndexRecoveries, attempt.ID, s.cfg.IndexTTL); err != nil {
			s.logger.Warn("failed to index recovery attempt", zap.String("attempt_id", attempt.ID), zap.Error(err))
		}
	}
}

// GetAttempt 返回恢复尝试，优先内存中的记录
func (s *System) GetAttempt(ctx context.Context, attemptID string) (*Attempt, error) {
	s.mu.RLock()
	if a, ok := s.active[attemptID]; ok {
		out := a.copy()
		s.mu.RUnlock()
		return out, nil
	}
	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].ID == attemptID {
			out := s.recent[i].copy()
			s.mu.RUnlock()
			return out, nil
		}
	}
	s.mu.RUnlock()

	var a Attempt
	if err := s.store.GetJSON(ctx, store.PrefixRecovery+attemptID, &a); err != nil {
		if store.IsNotFound(err) {
			return nil, types.NewNotFoundError("recovery attempt", attemptID)
		}
		return nil, err
	}
	return &a, nil
}
