package xkafka

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omeyang/xkclient/internal/mqcore"
	"github.com/omeyang/xkclient/internal/pending"
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/mq/xqueue"
	"github.com/omeyang/xkclient/pkg/observability/xlog"
	"github.com/omeyang/xkclient/pkg/resilience/xretry"
)

// 生命周期状态。
const (
	stateStarting int32 = iota
	stateRunning
	stateClosing
	stateClosed
)

// syslog 严重级别。
const (
	logErr     = 3
	logWarning = 4
	logNotice  = 5
	logInfo    = 6
	logDebug   = 7
)

// idleWait 没有待办工作时 serve 循环的最长休眠。
const idleWait = time.Second

var handleSeq atomic.Uint64

// op 在 serve goroutine 上执行的请求。
type op func(ctx context.Context)

// engine 角色相关的后台逻辑，所有方法都在 serve goroutine 上调用。
type engine interface {
	// run 执行到期工作，返回距下次需要运行的时间。
	run(ctx context.Context, now time.Time) time.Duration
	// notify 额外的唤醒源，可为 nil。
	notify() <-chan struct{}
	// groupEvents 当前消费组会话的事件流，可为 nil。
	groupEvents() <-chan xbroker.GroupEvent
	onGroupEvent(ctx context.Context, ev xbroker.GroupEvent, ok bool)
	// shutdown 在 serve 退出前执行收尾，受 close.timeout.ms 约束。
	shutdown(ctx context.Context)
	// failAll 以致命错误结束所有未决工作。
	failAll(err *Error)
	appendStats(doc *statsDoc)
}

// handle 是生产者、消费者与管理客户端共享的运行时。
//
// 恰有一个 serve goroutine 驱动传输 I/O 与协议状态；应用 goroutine 通过队列
// 和带超时的请求与之交互。
type handle struct {
	name   string
	role   role
	conf   *settings
	opts   *options
	logger xlog.Logger
	sink   EventSink

	transport xbroker.Transport
	meta      *metadataCache
	eng       engine

	state atomic.Int32
	fatal atomic.Pointer[Error]
	// admitMu 读锁下入队的工作一定先于 stateClosing 被引擎看到。
	admitMu sync.RWMutex

	// mainQ 投递报告、错误、统计、OAuth 刷新与异步提交结果。
	mainQ *xqueue.Queue[Event]
	// consumerQ 消息、分区 EOF 与再均衡事件（仅消费者）。
	consumerQ *xqueue.Queue[Event]
	ops       *xqueue.Queue[op]

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}
	pollWG sync.WaitGroup

	abortMu  sync.Mutex
	aborts   map[uint64]func(error)
	abortSeq uint64

	oauth oauthState
	stats handleStats

	closeOnce sync.Once
	closeErr  error
}

// handleStats 统计计数器。
type handleStats struct {
	txMsgs   atomic.Int64
	txBytes  atomic.Int64
	txErrs   atomic.Int64
	rxMsgs   atomic.Int64
	rxBytes  atomic.Int64
	requests atomic.Int64
}

func newHandle(conf ConfigMap, r role, opts []Option) (*handle, error) {
	s, err := parseSettings(conf.Clone(), r)
	if err != nil {
		return nil, err
	}
	o := defaultOptions(r)
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = xlog.Default()
	}
	if o.sink == nil {
		o.sink = NewLogSink(o.logger)
	}

	h := &handle{
		name:   fmt.Sprintf("%s#%s-%d", s.clientID, r, handleSeq.Add(1)),
		role:   r,
		conf:   s,
		opts:   o,
		sink:   o.sink,
		mainQ:  xqueue.New[Event](),
		ops:    xqueue.New[op](),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		aborts: make(map[uint64]func(error)),
	}
	h.logger = xlog.ForClient(o.logger, h.name, r.String(), s.groupID)
	h.oauth.refreshC = make(chan struct{}, 1)
	h.ctx, h.cancel = context.WithCancel(context.Background())

	t, err := dialTransport(h.ctx, s, o)
	if err != nil {
		h.cancel()
		return nil, err
	}
	h.transport = t
	h.meta, err = newMetadataCache(t, s.metadataRefresh, s.requestTimeout)
	if err != nil {
		if o.transport == nil {
			_ = t.Close()
		}
		h.cancel()
		return nil, &Error{Code: ErrInvalidArg, Kind: KindConfig, Op: "init", Message: err.Error(), cause: err}
	}
	return h, nil
}

// dialTransport 选择 Transport：显式注入 > test.mock.num.brokers > Factory。
func dialTransport(ctx context.Context, s *settings, o *options) (xbroker.Transport, error) {
	var t xbroker.Transport
	switch {
	case o.transport != nil:
		t = o.transport
	case s.mockBrokers > 0:
		cluster := xbroker.NewMockCluster(
			xbroker.WithMockBrokers(int32(s.mockBrokers)),
			xbroker.WithMockAutoCreateTopics(4),
		)
		t = cluster.Transport()
	case o.factory != nil:
		retryer := xretry.NewRetryer(
			xretry.WithRetryPolicy(xretry.NewFixedRetry(3)),
			xretry.WithBackoffPolicy(xretry.NewRetryBackoff(s.retryBackoff, s.retryBackoffMax)),
		)
		dctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
		dialed, err := xretry.DoWithResult(dctx, retryer, func(ctx context.Context) (xbroker.Transport, error) {
			return o.factory(ctx, xbroker.DialConfig{
				Brokers:    s.brokers,
				ClientID:   s.clientID,
				Properties: s.properties,
			})
		})
		if err != nil {
			return nil, fromBroker("dial", err)
		}
		t = dialed
	default:
		return nil, &Error{Code: ErrInvalidArg, Kind: KindConfig, Op: "dial", Message: ErrNoTransport.Error(), cause: ErrNoTransport}
	}
	if o.breaker != nil {
		t = xbroker.WithBreaker(t, o.breaker)
	}
	return t, nil
}

// start 启动 serve goroutine 与可选的后台 poller。
func (h *handle) start(eng engine) {
	h.eng = eng
	h.state.Store(stateRunning)
	go h.serve()
	if h.opts.backgroundPl {
		h.pollWG.Add(1)
		go h.backgroundPoll()
	}
	if h.conf.saslMechanism == "OAUTHBEARER" {
		h.requestTokenRefresh()
	}
	h.log(logDebug, "INIT", "client started")
}

func (h *handle) serve() {
	defer close(h.doneCh)

	timer := time.NewTimer(0)
	defer timer.Stop()
	var statsC <-chan time.Time
	if h.conf.statisticsInterval > 0 {
		ticker := time.NewTicker(h.conf.statisticsInterval)
		defer ticker.Stop()
		statsC = ticker.C
	}

	for {
		wait := idleWait
		if h.fatal.Load() == nil {
			wait = min(h.eng.run(h.ctx, time.Now()), idleWait)
		}
		timer.Reset(max(wait, 0))

		select {
		case <-h.stopCh:
			h.drainOps()
			sctx, cancel := context.WithTimeout(h.ctx, h.conf.closeTimeout)
			h.eng.shutdown(sctx)
			cancel()
			h.drainOps()
			return
		case <-h.ops.Signal():
			h.drainOps()
		case <-h.eng.notify():
		case ev, ok := <-h.eng.groupEvents():
			h.eng.onGroupEvent(h.ctx, ev, ok)
		case <-h.oauth.timerC():
			h.requestTokenRefresh()
		case <-statsC:
			h.emitStats()
		case <-timer.C:
		}
	}
}

func (h *handle) drainOps() {
	for {
		fn, ok := h.ops.Pop(0)
		if !ok {
			return
		}
		if fn != nil {
			fn(h.ctx)
		}
	}
}

// kick 唤醒 serve 循环。
func (h *handle) kick() {
	h.ops.Push(nil)
}

func (h *handle) backgroundPoll() {
	defer h.pollWG.Done()
	for {
		ev, ok := h.mainQ.Pop(xqueue.Infinite)
		if !ok {
			if h.mainQ.Closed() {
				return
			}
			continue
		}
		h.serveMain(ev)
	}
}

// serveMain 服务主队列事件，返回需要交给应用的事件。
func (h *handle) serveMain(ev Event) Event {
	switch e := ev.(type) {
	case deliveryEvent:
		if p, ok := h.eng.(*producerEngine); ok {
			p.resolve(e)
		}
		return nil
	case *Error:
		h.sink.OnError(e)
		return e
	case *Stats:
		h.sink.OnStats(e.JSON)
		return e
	case OAuthBearerTokenRefresh:
		h.sink.OnOAuthRefresh(e.Config)
		return e
	default:
		return ev
	}
}

// pollMain 服务主队列最多 timeout，返回服务的事件数。
func (h *handle) pollMain(timeout time.Duration) int {
	n := 0
	wait := timeout
	for {
		ev, ok := h.mainQ.Pop(wait)
		if !ok {
			return n
		}
		h.serveMain(ev)
		n++
		wait = 0
	}
}

// usable 检查客户端能否执行 op。
func (h *handle) usable(op string) *Error {
	if h.state.Load() >= stateClosing {
		return newClosedError(op)
	}
	if f := h.fatal.Load(); f != nil {
		return f.withOp(op)
	}
	return nil
}

// admit 在准入读锁下检查状态并执行 fn。fn 入队的工作要么在关闭前被引擎接收，
// 要么整个调用以关闭错误失败。
func (h *handle) admit(op string, fn func() error) error {
	h.admitMu.RLock()
	defer h.admitMu.RUnlock()
	if err := h.usable(op); err != nil {
		return err
	}
	return fn()
}

// call 在 serve goroutine 上执行 fn 并等待结果。
//
// timeout 同时约束等待与 fn 收到的 ctx；timeout <= 0 表示只受 ctx 约束。
// 等待超时后 fn 仍可能继续执行到其 ctx 结束。
func (h *handle) call(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := h.usable(name); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res := pending.New[any]()
	h.ops.Push(func(sctx context.Context) {
		opCtx, cancel := context.WithCancel(sctx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		if timeout > 0 {
			var tcancel context.CancelFunc
			opCtx, tcancel = context.WithTimeout(opCtx, timeout)
			defer tcancel()
		}
		h.stats.requests.Add(1)
		v, err := fn(opCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			err = newTimeoutError(name)
		}
		res.Resolve(v, err)
	})

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-res.Done():
		v, err, _ := res.Result()
		return v, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer:
		return nil, newTimeoutError(name)
	case <-h.doneCh:
		if v, err, ok := res.Result(); ok {
			return v, err
		}
		return nil, newClosedError(name)
	}
}

// trackAbort 登记关闭时需要中止的未决工作，返回注销函数。
// 客户端已在关闭时立即以关闭错误调用 fn。
func (h *handle) trackAbort(fn func(error)) func() {
	h.abortMu.Lock()
	defer h.abortMu.Unlock()
	if h.state.Load() >= stateClosing {
		fn(newClosedError("close"))
		return func() {}
	}
	h.abortSeq++
	id := h.abortSeq
	h.aborts[id] = fn
	return func() {
		h.abortMu.Lock()
		delete(h.aborts, id)
		h.abortMu.Unlock()
	}
}

// setFatal 记录粘性致命错误，只有第一次生效。
func (h *handle) setFatal(code ErrorCode, reason string) *Error {
	e := &Error{Code: code, Kind: KindFatal, Op: "fatal", Message: reason, Fatal: true, cause: mqcore.ErrFatal}
	if !h.fatal.CompareAndSwap(nil, e) {
		return h.fatal.Load()
	}
	h.log(logErr, "FATAL", fmt.Sprintf("fatal error: %s: %s", code, reason))
	h.mainQ.Push(e)
	h.ops.Push(func(context.Context) { h.eng.failAll(e) })
	return e
}

// log 按 log_level 过滤后交给 sink。
func (h *handle) log(level int, facility, msg string) {
	if level > h.conf.logLevel {
		return
	}
	h.sink.OnLog(level, facility, msg)
}

// postError 把非致命错误放入主队列。
func (h *handle) postError(err *Error) {
	h.mainQ.Push(err)
}

// close 停止 serve goroutine 并释放资源。beforeStop 在停止前于调用方 goroutine 执行。
func (h *handle) close(beforeStop func()) error {
	h.closeOnce.Do(func() {
		if beforeStop != nil && h.fatal.Load() == nil {
			beforeStop()
		}
		h.admitMu.Lock()
		h.state.Store(stateClosing)
		h.admitMu.Unlock()
		close(h.stopCh)
		<-h.doneCh

		// 服务剩余主队列事件，使等待中的投递句柄得到结果
		for {
			ev, ok := h.mainQ.Pop(0)
			if !ok {
				break
			}
			h.serveMain(ev)
		}
		h.eng.failAll(newClosedError("close"))

		h.abortMu.Lock()
		aborts := h.aborts
		h.aborts = map[uint64]func(error){}
		h.abortMu.Unlock()
		for _, fn := range aborts {
			fn(newClosedError("close"))
		}

		h.mainQ.Close()
		if h.consumerQ != nil {
			h.consumerQ.Close()
		}
		h.ops.Close()
		h.pollWG.Wait()
		h.oauth.stop()

		h.meta.close()
		err := h.transport.Close()
		h.cancel()
		h.state.Store(stateClosed)
		h.log(logDebug, "DESTROY", "client closed")
		if err != nil {
			h.closeErr = fromBroker("close", err)
		}
	})
	return h.closeErr
}

// armCleanup 注册回收兜底：owner 被回收而从未关闭时记录告警。
// 后台 goroutine 只引用 handle，不引用 owner，因此 owner 可以被回收；
// 资源本身不会被释放。
func armCleanup[T any](owner *T, h *handle) {
	runtime.AddCleanup(owner, func(h *handle) {
		if h.state.Load() < stateClosing {
			h.logger.Warn(context.Background(), "client was garbage collected without Close, leaking its resources")
		}
	}, h)
}

// clusterDescription 元数据快照。
func (h *handle) describeCluster(ctx context.Context) (*xbroker.Metadata, error) {
	md, err := h.meta.refresh(ctx, nil)
	if err != nil {
		return nil, fromBroker("describe_cluster", err)
	}
	return md, nil
}
