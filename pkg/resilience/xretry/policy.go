package xretry

import (
	"context"
	"time"
)

// RetryPolicy 决定失败后是否继续。
type RetryPolicy interface {
	// MaxAttempts 返回最大尝试次数（含首次），0 表示不限。
	MaxAttempts() int
	// ShouldRetry 在第 attempt 次失败后调用，attempt 从 1 开始。
	ShouldRetry(ctx context.Context, attempt int, err error) bool
}

// BackoffPolicy 计算第 attempt 次失败后的等待时间，attempt 从 1 开始。
type BackoffPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedRetryPolicy 最多尝试固定次数。
type FixedRetryPolicy struct {
	maxAttempts int
}

// NewFixedRetry 创建固定次数策略，maxAttempts 最小为 1。
func NewFixedRetry(maxAttempts int) *FixedRetryPolicy {
	return &FixedRetryPolicy{maxAttempts: max(maxAttempts, 1)}
}

func (p *FixedRetryPolicy) MaxAttempts() int { return p.maxAttempts }

func (p *FixedRetryPolicy) ShouldRetry(ctx context.Context, attempt int, err error) bool {
	if ctx.Err() != nil || attempt >= p.maxAttempts {
		return false
	}
	return IsRetryable(err)
}

// NeverRetryPolicy 从不重试。
type NeverRetryPolicy struct{}

// NewNeverRetry 创建不重试策略。
func NewNeverRetry() NeverRetryPolicy { return NeverRetryPolicy{} }

func (NeverRetryPolicy) MaxAttempts() int { return 1 }

func (NeverRetryPolicy) ShouldRetry(context.Context, int, error) bool { return false }

var (
	_ RetryPolicy = (*FixedRetryPolicy)(nil)
	_ RetryPolicy = NeverRetryPolicy{}
)
