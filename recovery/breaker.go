package recovery

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState 策略冷却熔断器状态
type BreakerState int

const (
	// BreakerClosed 策略可用
	BreakerClosed BreakerState = iota
	// BreakerOpen 冷却中，策略不参与选择
	BreakerOpen
	// BreakerHalfOpen 冷却结束，下一次尝试决定是否恢复
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// cooldownBreaker 每个策略一个。连续失败达到 maxAttempts 次后打开，
// 经过 cooldownPeriod 进入半开；半开成功则关闭，失败则重新打开。
type cooldownBreaker struct {
	strategyID string
	threshold  int
	cooldown   time.Duration
	now        func() time.Time
	logger     *zap.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

func newCooldownBreaker(s *Strategy, now func() time.Time, logger *zap.Logger) *cooldownBreaker {
	b := &cooldownBreaker{
		strategyID: s.ID,
		now:        now,
		logger:     logger.With(zap.String("strategy_id", s.ID)),
	}
	b.configure(s.MaxAttempts, s.Cooldown())
	return b
}

// configure 策略定义被替换时更新阈值
func (b *cooldownBreaker) configure(threshold int, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if threshold < 1 {
		threshold = 1
	}
	b.threshold = threshold
	b.cooldown = cooldown
}

// Available 报告策略是否可以被选择。冷却期满的打开状态在此转为半开。
func (b *cooldownBreaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transitionTo(BreakerHalfOpen, "cooldown elapsed")
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess 记录成功
func (b *cooldownBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != BreakerClosed {
		b.transitionTo(BreakerClosed, "recovery succeeded")
	}
}

// RecordFailure 记录失败
func (b *cooldownBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transitionTo(BreakerOpen, fmt.Sprintf("%d consecutive failures", b.failures))
		}
	case BreakerHalfOpen:
		b.openedAt = b.now()
		b.transitionTo(BreakerOpen, "failure in half-open state")
	}
}

// State 当前状态
func (b *cooldownBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionTo 状态转换（必须在锁内调用）
func (b *cooldownBreaker) transitionTo(next BreakerState, reason string) {
	prev := b.state
	b.state = next

	b.logger.Info("strategy cooldown state change",
		zap.String("old_state", prev.String()),
		zap.String("new_state", next.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures),
		zap.Duration("cooldown", b.cooldown))
}
