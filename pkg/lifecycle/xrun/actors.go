package xrun

import (
	"context"
	"os"
	"syscall"
	"time"
)

// DefaultSignals 返回 Run 默认监听的信号：SIGHUP、SIGINT、SIGTERM、SIGQUIT。
// 每次调用返回新切片。
func DefaultSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

// testSigChanKey 测试经由 ctx 注入信号。
type testSigChanKey struct{}

func testSigChan(ctx context.Context) <-chan os.Signal {
	c, _ := ctx.Value(testSigChanKey{}).(<-chan os.Signal)
	return c
}

func withTestSigChan(ctx context.Context, c <-chan os.Signal) context.Context {
	return context.WithValue(ctx, testSigChanKey{}, c)
}

// PollFunc 服务客户端事件队列最多 timeout，返回服务的事件数。
// 形如 Producer.Poll；客户端关闭后返回错误。
type PollFunc func(timeout time.Duration) (int, error)

// PollLoop 返回替代后台 poller 的任务：以 slice 为单次阻塞上限反复调用 poll，
// 使投递报告与客户端事件在任务所在的 goroutine 上送达。
//
// ctx 结束时返回 nil，未服务的事件留给客户端 Close 处理；poll 报错时以该错误结束。
func PollLoop(poll PollFunc, slice time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if poll == nil {
			return ErrNilFunc
		}
		if slice <= 0 {
			return ErrInvalidInterval
		}
		for ctx.Err() == nil {
			if _, err := poll(slice); err != nil {
				return err
			}
		}
		return nil
	}
}

// Ticker 返回周期执行 fn 的任务，immediate 为 true 时启动即执行一次。
//
// 间隔从上一次 fn 返回时起算：积压、水位之类的查询可能慢于 interval，
// 慢的一轮只推迟下一轮，不会连续补跑。fn 返回错误时任务以该错误结束。
func Ticker(interval time.Duration, immediate bool, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ErrInvalidInterval
		}
		if fn == nil {
			return ErrNilFunc
		}
		first := interval
		if immediate {
			first = 0
		}
		t := time.NewTimer(first)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			// 计时器与取消同时就绪时 select 随机选择，这里以取消为准
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx); err != nil {
				return err
			}
			t.Reset(interval)
		}
	}
}
