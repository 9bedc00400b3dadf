package xqueue

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Infinite 表示无限期等待。
const Infinite time.Duration = -1

// Queue 是并发安全的无界 FIFO 事件队列。
// 必须通过 [New] 创建，零值不可用。
type Queue[T any] struct {
	mu     sync.Mutex
	buf    *queue.Queue
	fwd    *Queue[T]
	io     *ioEvent
	closed bool

	// signal 容量为 1，合并多次入队通知。
	signal chan struct{}
	// wake 容量为 1，用于打断一次阻塞的 Pop。
	wake chan struct{}
	done chan struct{}

	dropped  atomic.Int64
	ioErrors atomic.Int64
}

// ioEvent 描述 IO 事件唤醒目标。
type ioEvent struct {
	w       io.Writer
	payload []byte
}

// New 创建空队列。
func New[T any]() *Queue[T] {
	return &Queue[T]{
		buf:    queue.New(),
		signal: make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push 入队一个事件，永不阻塞。
//
// 队列关闭后的入队被静默丢弃，并计入 Dropped。
// 若队列已转发，事件直接进入目标队列。
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.fwd != nil {
		fwd := q.fwd
		q.mu.Unlock()
		fwd.Push(v)
		return
	}
	if q.closed {
		q.mu.Unlock()
		q.dropped.Add(1)
		return
	}
	wasEmpty := q.buf.Length() == 0
	q.buf.Add(v)
	ev := q.io
	q.mu.Unlock()

	q.notify()
	// 仅在空 → 非空的边沿写入
	if wasEmpty && ev != nil {
		q.fire(ev)
	}
}

// Pop 出队一个事件。
//
// timeout 为 0 时不阻塞；为 [Infinite]（或任意负值）时一直等待，
// 直到有事件、[Queue.Wake] 或 [Queue.Close]。
// 超时、被唤醒或队列关闭时返回零值和 false。
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	if v, ok, closed := q.tryPop(); ok || closed || timeout == 0 {
		return v, ok
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	return q.wait(nil, timer)
}

// PopContext 出队一个事件，等待直到 ctx 结束。
func (q *Queue[T]) PopContext(ctx context.Context) (T, bool) {
	if v, ok, closed := q.tryPop(); ok || closed {
		return v, ok
	}
	return q.wait(ctx.Done(), nil)
}

func (q *Queue[T]) wait(ctxDone <-chan struct{}, timer <-chan time.Time) (T, bool) {
	var zero T
	for {
		select {
		case <-q.signal:
		case <-q.wake:
			return zero, false
		case <-q.done:
			return zero, false
		case <-ctxDone:
			return zero, false
		case <-timer:
			return zero, false
		}
		v, ok, closed := q.tryPop()
		if ok || closed {
			return v, ok
		}
		// 信号已被其他消费者消费掉对应事件，继续等待
	}
}

func (q *Queue[T]) tryPop() (v T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return v, false, true
	}
	if q.buf.Length() == 0 {
		return v, false, false
	}
	v, _ = q.buf.Remove().(T)
	if q.buf.Length() > 0 {
		// 仍有剩余，转交信号给下一个等待者
		q.notify()
	}
	return v, true, false
}

func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Signal 返回入队通知通道。
//
// 收到通知只表示队列可能非空，调用方应以 Pop(0) 循环取空。
// 供需要在 select 中同时等待多个来源的单一消费者使用。
func (q *Queue[T]) Signal() <-chan struct{} {
	return q.signal
}

// Len 返回当前排队的事件数。
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Length()
}

// Dropped 返回关闭后被丢弃的入队次数（含关闭时清空的事件）。
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}

// IOErrors 返回 IO 事件写入失败的次数。
func (q *Queue[T]) IOErrors() int64 {
	return q.ioErrors.Load()
}

// Wake 打断一个正在阻塞的 Pop，使其返回 false。
// 没有等待者时，下一次阻塞 Pop 会立即返回。
func (q *Queue[T]) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// EnableIOEvent 启用基于文件描述符的边沿触发唤醒。
//
// 设计决策: 写入使用 unix.Write 直接作用于 fd，不经过 os.File，
// 避免 os.File 终结器意外关闭调用方持有的描述符。调用方应使用非阻塞 fd，
// EAGAIN 等写入错误只计数不传播。
func (q *Queue[T]) EnableIOEvent(fd int, payload []byte) {
	q.EnableIOEventWriter(fdWriter(fd), payload)
}

// EnableIOEventWriter 启用基于 io.Writer 的边沿触发唤醒。
// 若启用时队列已非空，立即写入一次，避免错过当前边沿。
func (q *Queue[T]) EnableIOEventWriter(w io.Writer, payload []byte) {
	if w == nil {
		q.DisableIOEvent()
		return
	}
	ev := &ioEvent{w: w, payload: append([]byte(nil), payload...)}
	if len(ev.payload) == 0 {
		ev.payload = []byte{1}
	}

	q.mu.Lock()
	q.io = ev
	pending := q.buf.Length() > 0
	q.mu.Unlock()

	if pending {
		q.fire(ev)
	}
}

// DisableIOEvent 关闭 IO 事件唤醒。
func (q *Queue[T]) DisableIOEvent() {
	q.mu.Lock()
	q.io = nil
	q.mu.Unlock()
}

func (q *Queue[T]) fire(ev *ioEvent) {
	if _, err := ev.w.Write(ev.payload); err != nil {
		q.ioErrors.Add(1)
	}
}

// Forward 将队列转发到 dst。
//
// 当前排队事件按原顺序迁移到 dst，之后的 Push 直接进入 dst。
// dst 为 nil 时取消转发。转发链不允许成环，调用方负责保证。
func (q *Queue[T]) Forward(dst *Queue[T]) {
	q.mu.Lock()
	if dst == nil {
		q.fwd = nil
		q.mu.Unlock()
		return
	}
	var moved []T
	for q.buf.Length() > 0 {
		v, _ := q.buf.Remove().(T)
		moved = append(moved, v)
	}
	q.fwd = dst
	q.mu.Unlock()

	for _, v := range moved {
		dst.Push(v)
	}
}

// Close 关闭队列并唤醒所有阻塞的 Pop。
// 剩余事件被丢弃。Close 是幂等的。
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.dropped.Add(int64(q.buf.Length()))
	q.buf = queue.New()
	q.io = nil
	close(q.done)
}

// Closed 报告队列是否已关闭。
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
