package xretry

import (
	"math/rand/v2"
	"time"
)

// RetryJitter retry.backoff.ms 系列退避的抖动比例，实际延迟落在 [0.8, 1.2] 倍之间。
const RetryJitter = 0.2

// 未配置时的默认值，与 retry.backoff.ms / retry.backoff.max.ms 的默认值一致。
const (
	defaultRetryBackoff    = 100 * time.Millisecond
	defaultRetryBackoffMax = time.Second
)

// ExponentialBackoff 指数退避：第 n 次失败后等待 initial*2^(n-1)，
// 按 jitter 上下浮动，且不超过 max。
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	jitter       float64
}

// ExponentialBackoffOption 指数退避配置选项。
type ExponentialBackoffOption func(*ExponentialBackoff)

// WithInitialDelay 设置首次延迟（retry.backoff.ms），非正值忽略。
func WithInitialDelay(d time.Duration) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		if d > 0 {
			b.initialDelay = d
		}
	}
}

// WithMaxDelay 设置延迟上限（retry.backoff.max.ms），非正值忽略。
func WithMaxDelay(d time.Duration) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		if d > 0 {
			b.maxDelay = d
		}
	}
}

// WithJitter 设置抖动比例，限制在 [0,1]。
func WithJitter(j float64) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		b.jitter = min(max(j, 0), 1)
	}
}

// NewExponentialBackoff 创建指数退避，默认 100ms 起步、1s 封顶、RetryJitter 抖动。
// 上限小于首次延迟时取首次延迟。
func NewExponentialBackoff(opts ...ExponentialBackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: defaultRetryBackoff,
		maxDelay:     defaultRetryBackoffMax,
		jitter:       RetryJitter,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.maxDelay = max(b.maxDelay, b.initialDelay)
	return b
}

// NewRetryBackoff 按客户端的 retry.backoff.ms 与 retry.backoff.max.ms 创建退避。
// 重连、元数据刷新、生产重试与提交重试共用同一条曲线。
func NewRetryBackoff(base, ceiling time.Duration) *ExponentialBackoff {
	return NewExponentialBackoff(WithInitialDelay(base), WithMaxDelay(ceiling))
}

// NextDelay 返回第 attempt 次失败后的等待时间，attempt 小于 1 按 1 处理。
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	d := b.initialDelay
	for i := 1; i < attempt; i++ {
		if d > b.maxDelay/2 {
			d = b.maxDelay
			break
		}
		d *= 2
	}
	if b.jitter > 0 {
		d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*b.jitter)) //nolint:gosec // 抖动不需要密码学随机数
	}
	return min(max(d, 0), b.maxDelay)
}

// FixedBackoff 固定延迟，测试与限速场景使用。
type FixedBackoff time.Duration

// NewFixedBackoff 创建固定延迟策略，负值按 0 处理。
func NewFixedBackoff(delay time.Duration) FixedBackoff {
	return FixedBackoff(max(delay, 0))
}

func (b FixedBackoff) NextDelay(int) time.Duration { return time.Duration(b) }

// NoBackoff 立即重试。
type NoBackoff struct{}

func (NoBackoff) NextDelay(int) time.Duration { return 0 }

var (
	_ BackoffPolicy = (*ExponentialBackoff)(nil)
	_ BackoffPolicy = FixedBackoff(0)
	_ BackoffPolicy = NoBackoff{}
)
