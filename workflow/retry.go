package workflow

import (
	"context"
	"errors"
	"time"
)

// attempts 返回步骤的总尝试次数
func (p *RetryPolicy) attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay 计算第 attempt 次失败后的等待时间
//
//	fixed:       initial
//	linear:      initial * attempt
//	exponential: initial * 2^(attempt-1)
//
// 结果不超过 MaxDelay（MaxDelay 为 0 时不设上限）。
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if p == nil || attempt < 1 {
		return 0
	}

	initial := time.Duration(p.InitialDelay) * time.Millisecond
	maxDelay := time.Duration(p.MaxDelay) * time.Millisecond

	var delay time.Duration
	switch p.BackoffStrategy {
	case BackoffLinear:
		delay = initial * time.Duration(attempt)
	case BackoffExponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		delay = initial * time.Duration(1<<shift)
	default:
		delay = initial
	}

	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// shouldRetry 除上下文取消外的动作错误都可重试
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// waitRetry 等待退避时间，同时监听 ctx 与执行取消
func waitRetry(ctx context.Context, delay time.Duration, cancelled <-chan struct{}) error {
	if delay <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cancelled:
			return errExecutionCancelled
		default:
			return nil
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cancelled:
		return errExecutionCancelled
	case <-timer.C:
		return nil
	}
}

var errExecutionCancelled = errors.New("execution cancelled")
