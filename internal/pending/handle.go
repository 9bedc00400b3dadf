package pending

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrWaitTimeout 表示等待超时，句柄仍处于待定状态。
var ErrWaitTimeout = errors.New("pending: wait timed out")

// State 表示句柄状态。
type State int32

const (
	// StatePending 已登记，尚未交给网络层，关闭时可以被丢弃。
	StatePending State = iota
	// StateInFlight 已发往 broker 等待响应，无法再取消。
	StateInFlight
	// StateCompleted 已解析（成功或失败）。
	StateCompleted
)

// String 返回状态名。
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "pending-elsewhere"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Handle 是只能解析一次的待定结果。
// 必须通过 [New] 创建。
type Handle[T any] struct {
	state atomic.Int32
	done  chan struct{}
	val   T
	err   error
}

// New 创建待定句柄。
func New[T any]() *Handle[T] {
	return &Handle[T]{done: make(chan struct{})}
}

// MarkInFlight 将待定句柄标记为已发出。
// 只有处于 StatePending 的句柄会发生转换。
func (h *Handle[T]) MarkInFlight() bool {
	return h.state.CompareAndSwap(int32(StatePending), int32(StateInFlight))
}

// Resolve 解析句柄。只有第一次调用生效，返回 true；之后的调用返回 false。
func (h *Handle[T]) Resolve(v T, err error) bool {
	for {
		s := h.state.Load()
		if State(s) == StateCompleted {
			return false
		}
		if h.state.CompareAndSwap(s, int32(StateCompleted)) {
			break
		}
	}
	h.val, h.err = v, err
	close(h.done)
	return true
}

// State 返回当前状态。返回 StateCompleted 时结果已经可读。
func (h *Handle[T]) State() State {
	select {
	case <-h.done:
		return StateCompleted
	default:
	}
	// 解析进行中：结果尚未发布，仍按已发出报告
	if s := State(h.state.Load()); s != StateCompleted {
		return s
	}
	return StateInFlight
}

// Done 返回解析完成时关闭的 channel。
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Result 非阻塞地读取结果，未解析时 ok 为 false。
func (h *Handle[T]) Result() (v T, err error, ok bool) {
	select {
	case <-h.done:
		return h.val, h.err, true
	default:
		return v, nil, false
	}
}

// Wait 等待解析结果。
//
// timeout 为 0 时仅检查一次；为负值时无限等待。
// 超时返回 [ErrWaitTimeout]，句柄状态不变，之后可以再次等待。
func (h *Handle[T]) Wait(timeout time.Duration) (T, error) {
	if v, err, ok := h.Result(); ok {
		return v, err
	}
	var zero T
	if timeout == 0 {
		return zero, ErrWaitTimeout
	}
	if timeout < 0 {
		<-h.done
		return h.val, h.err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return h.val, h.err
	case <-t.C:
		return zero, ErrWaitTimeout
	}
}

// WaitContext 等待解析结果直到 ctx 结束，ctx 结束时返回 ctx.Err()。
func (h *Handle[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
