package mqcore

import (
	"context"
	"time"

	"github.com/omeyang/xkclient/pkg/resilience/xretry"
)

// ConsumeFunc 消费函数签名。
// 返回 error 时触发退避，返回 nil 时重置退避。
type ConsumeFunc func(ctx context.Context) error

// ConsumeLoopOptions 消费循环配置。
type ConsumeLoopOptions struct {
	// Backoff 退避策略，默认 xretry.NewExponentialBackoff()。
	Backoff xretry.BackoffPolicy

	// OnError 每次消费错误时调用，可选。
	OnError func(err error)

	// Stop 返回 true 时循环以该错误退出，不再退避。
	// 用于客户端关闭、致命错误等不可恢复的情况。
	Stop func(err error) bool
}

// ConsumeLoopOption 配置函数类型。
type ConsumeLoopOption func(*ConsumeLoopOptions)

// WithBackoff 设置退避策略，nil 被忽略。
func WithBackoff(backoff xretry.BackoffPolicy) ConsumeLoopOption {
	return func(o *ConsumeLoopOptions) {
		if backoff != nil {
			o.Backoff = backoff
		}
	}
}

// WithOnError 设置错误回调。
func WithOnError(onError func(err error)) ConsumeLoopOption {
	return func(o *ConsumeLoopOptions) {
		o.OnError = onError
	}
}

// WithStop 设置终止判定。
func WithStop(stop func(err error) bool) ConsumeLoopOption {
	return func(o *ConsumeLoopOptions) {
		o.Stop = stop
	}
}

// RunConsumeLoop 运行消费循环，直到 ctx 取消或 Stop 判定终止。
//
// 成功时重置退避计数，失败时按 Backoff 等待后重试。
// ctx 取消时返回 ctx.Err()。
func RunConsumeLoop(ctx context.Context, consume ConsumeFunc, opts ...ConsumeLoopOption) error {
	options := &ConsumeLoopOptions{
		Backoff: xretry.NewExponentialBackoff(),
	}
	for _, opt := range opts {
		opt(options)
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := consume(ctx)
		if err == nil {
			attempt = 0
			continue
		}
		if options.OnError != nil {
			options.OnError(err)
		}
		if options.Stop != nil && options.Stop(err) {
			return err
		}

		attempt++
		timer := time.NewTimer(options.Backoff.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
