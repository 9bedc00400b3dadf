package xrun

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xkclient/pkg/observability/xlog"
)

// Group 基于 errgroup 的任务组。任一任务返回错误时其余任务的 ctx 被取消。
//
// Go、GoWithName、Cancel 可并发调用；Wait 只调用一次。
type Group struct {
	eg       *errgroup.Group
	ctx      context.Context
	causeCtx context.Context
	cancel   context.CancelCauseFunc
	opts     *groupOptions
}

// NewGroup 创建任务组，返回的 ctx 在任一任务失败或 Cancel 时取消。
func NewGroup(ctx context.Context, opts ...Option) (*Group, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	causeCtx, cancel := context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(causeCtx)
	return &Group{eg: eg, ctx: egCtx, causeCtx: causeCtx, cancel: cancel, opts: o}, egCtx
}

// Go 启动一个任务。
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		return fn(g.ctx)
	})
}

// GoWithName 同 Go，并在日志中记录任务的启停。
func (g *Group) GoWithName(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		log := g.opts.logger.With(xlog.Component(g.opts.name), xlog.Operation(name))
		log.Debug(g.ctx, "task starting")
		err := fn(g.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn(g.ctx, "task exited with error", xlog.Err(err))
		} else {
			log.Debug(g.ctx, "task stopped")
		}
		return err
	})
}

// Wait 等待全部任务结束，错误语义见包文档。
func (g *Group) Wait() error {
	defer g.cancel(nil)

	err := g.eg.Wait()
	if errors.Is(err, context.Canceled) {
		if g.causeCtx.Err() == nil {
			// 任务自己返回的取消
			return err
		}
		return g.cause()
	}
	if err == nil && g.causeCtx.Err() != nil {
		return g.cause()
	}
	return err
}

func (g *Group) cause() error {
	if c := context.Cause(g.causeCtx); c != nil && !errors.Is(c, context.Canceled) {
		return c
	}
	return nil
}

// Cancel 取消全部任务，cause 非 nil 时由 Wait 返回。
// cause 不应包装 context.Canceled，否则会被当作普通取消过滤。
func (g *Group) Cancel(cause error) { g.cancel(cause) }

// Context 返回任务共享的 ctx。
func (g *Group) Context() context.Context { return g.ctx }

// Run 在监听终止信号的 Group 中运行 tasks 并等待结束。
// 全部 tasks 返回后信号监听随之退出；收到信号时返回 *SignalError。
func Run(ctx context.Context, opts []Option, tasks ...func(ctx context.Context) error) error {
	g, _ := NewGroup(ctx, opts...)
	if !g.opts.noSignalHandler {
		signals := g.opts.signals
		if len(signals) == 0 {
			signals = DefaultSignals()
		}
		g.Go(func(ctx context.Context) error {
			return g.watchSignals(ctx, signals)
		})
	}
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		g.Go(func(ctx context.Context) error {
			defer wg.Done()
			if t == nil {
				return ErrNilFunc
			}
			return t(ctx)
		})
	}
	g.Go(func(context.Context) error {
		wg.Wait()
		g.cancel(nil)
		return nil
	})
	return g.Wait()
}

func (g *Group) watchSignals(ctx context.Context, signals []os.Signal) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)

	var sig os.Signal
	select {
	case sig = <-testSigChan(ctx):
	case sig = <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.opts.logger.Info(ctx, "received signal", xlog.Component(g.opts.name), xlog.Operation(sig.String()))
	g.cancel(&SignalError{Signal: sig})
	return nil
}

// Server http.Server 满足的最小接口。
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServer 把 server 包装为任务：ctx 取消时 Shutdown，
// shutdownTimeout ≤ 0 表示等待全部在途请求。
// 外部直接关闭服务器时任务返回 nil；监听失败返回该错误。
func HTTPServer(server Server, shutdownTimeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if server == nil {
			return ErrNilServer
		}
		shutdownErr := make(chan error, 1)
		listenDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				sctx := context.WithoutCancel(ctx)
				if shutdownTimeout > 0 {
					var cancel context.CancelFunc
					sctx, cancel = context.WithTimeout(sctx, shutdownTimeout)
					defer cancel()
				}
				shutdownErr <- server.Shutdown(sctx)
			case <-listenDone:
			}
		}()

		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			select {
			case e := <-shutdownErr:
				return e
			case <-ctx.Done():
				return <-shutdownErr
			default:
				close(listenDone)
				return nil
			}
		}
		close(listenDone)
		return err
	}
}
