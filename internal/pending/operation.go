package pending

import (
	"context"
	"sync"
	"time"
)

// Decoder 将原始结果解码为具体类型。
type Decoder[T any] func(raw any) (T, error)

// Operation 是带解码器的通用待定操作。
//
// 引擎以原始结果调用 Resolve；等待方在首次读取成功结果时解码一次，
// 之后的 Wait 返回相同的解码结果。
type Operation[T any] struct {
	name   string
	h      *Handle[any]
	decode Decoder[T]

	once sync.Once
	val  T
	err  error
}

// NewOperation 创建待定操作。decode 为 nil 时使用类型断言。
func NewOperation[T any](name string, decode Decoder[T]) *Operation[T] {
	if decode == nil {
		decode = assertDecoder[T]
	}
	return &Operation[T]{name: name, h: New[any](), decode: decode}
}

func assertDecoder[T any](raw any) (T, error) {
	v, _ := raw.(T)
	return v, nil
}

// Name 返回操作名。
func (o *Operation[T]) Name() string { return o.name }

// Resolve 以原始结果解析操作。只有第一次调用生效。
func (o *Operation[T]) Resolve(raw any, err error) bool {
	return o.h.Resolve(raw, err)
}

// MarkInFlight 标记请求已发往 broker。
func (o *Operation[T]) MarkInFlight() bool { return o.h.MarkInFlight() }

// State 返回当前状态。
func (o *Operation[T]) State() State { return o.h.State() }

// Done 返回解析完成时关闭的 channel。
func (o *Operation[T]) Done() <-chan struct{} { return o.h.Done() }

// Wait 等待并解码结果，语义同 [Handle.Wait]。
func (o *Operation[T]) Wait(timeout time.Duration) (T, error) {
	raw, err := o.h.Wait(timeout)
	return o.finish(raw, err)
}

// WaitContext 等待并解码结果，语义同 [Handle.WaitContext]。
func (o *Operation[T]) WaitContext(ctx context.Context) (T, error) {
	raw, err := o.h.WaitContext(ctx)
	return o.finish(raw, err)
}

func (o *Operation[T]) finish(raw any, err error) (T, error) {
	if err == ErrWaitTimeout {
		var zero T
		return zero, err
	}
	if _, _, ok := o.h.Result(); !ok {
		// ctx 结束，未解析
		var zero T
		return zero, err
	}
	o.once.Do(func() {
		if err != nil {
			o.err = err
			return
		}
		o.val, o.err = o.decode(raw)
	})
	return o.val, o.err
}
