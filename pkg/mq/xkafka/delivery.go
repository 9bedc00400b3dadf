package xkafka

import (
	"context"
	"errors"
	"time"

	"github.com/omeyang/xkclient/internal/pending"
)

// DeliveryReport 一条消息的最终投递结果。
// 成功时 Message.TopicPartition 带有分配的分区与偏移，Error 为 nil。
type DeliveryReport struct {
	Message *Message
	Error   error
}

func (r *DeliveryReport) String() string {
	if r.Error != nil {
		return "delivery failed: " + r.Error.Error()
	}
	return "delivered " + r.Message.TopicPartition.String()
}

// DeliveryState 投递句柄状态。
type DeliveryState int

const (
	// DeliveryPending 已入队，尚未发往 broker，可被 Purge 丢弃。
	DeliveryPending DeliveryState = iota
	// DeliveryInFlight 已发往 broker，等待结果。
	DeliveryInFlight
	// DeliveryDelivered 已成功写入。
	DeliveryDelivered
	// DeliveryFailed 最终失败。
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryInFlight:
		return "in-flight"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryFailed:
		return "failed"
	default:
		return "pending"
	}
}

// DeliveryHandle 跟踪一条消息的投递。
//
// 报告在 Poll（应用或后台 poller）服务主队列时解析，
// 关闭了后台 poller 的应用必须自行调用 Producer.Poll 或 Flush。
type DeliveryHandle struct {
	seq uint64
	h   *pending.Handle[*DeliveryReport]
}

// Seq 返回句柄序号，在同一生产者内唯一且递增。
func (d *DeliveryHandle) Seq() uint64 { return d.seq }

// Wait 等待投递结果，timeout 语义同 xqueue.Queue.Pop。
//
// 超时返回 Kind 为 KindTimeout 的错误，句柄保持未决；
// 投递失败时返回报告与报告中的错误。
func (d *DeliveryHandle) Wait(timeout time.Duration) (*DeliveryReport, error) {
	r, err := d.h.Wait(timeout)
	return d.result(r, err)
}

// WaitContext 等待直到 ctx 结束。
func (d *DeliveryHandle) WaitContext(ctx context.Context) (*DeliveryReport, error) {
	r, err := d.h.WaitContext(ctx)
	return d.result(r, err)
}

func (d *DeliveryHandle) result(r *DeliveryReport, err error) (*DeliveryReport, error) {
	if errors.Is(err, pending.ErrWaitTimeout) {
		return nil, newTimeoutError("delivery")
	}
	return r, err
}

// Done 在结果可用时关闭。
func (d *DeliveryHandle) Done() <-chan struct{} { return d.h.Done() }

// State 返回当前状态。
func (d *DeliveryHandle) State() DeliveryState {
	if _, err, ok := d.h.Result(); ok {
		if err != nil {
			return DeliveryFailed
		}
		return DeliveryDelivered
	}
	if d.h.State() == pending.StateInFlight {
		return DeliveryInFlight
	}
	return DeliveryPending
}
