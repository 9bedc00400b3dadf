package xconfluent

import (
	"context"
	"errors"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// ErrNoBrokers 表示 bootstrap.servers 为空。
var ErrNoBrokers = errors.New("xconfluent: no bootstrap brokers")

// wrapErr 把 librdkafka 错误转换为 xbroker 错误。
//
// broker 错误码原样保留；本地的分区未知与偏移重置错误映射为对应的协议错误码，
// 其余本地错误视为连接级故障。
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var ke kafka.Error
	if !errors.As(err, &ke) {
		return err
	}
	switch code := ke.Code(); {
	case code == kafka.ErrNoError:
		return nil
	case code == kafka.ErrAutoOffsetReset:
		return xbroker.NewError(xbroker.ErrOffsetOutOfRange, ke.String())
	case code == kafka.ErrUnknownPartition || code == kafka.ErrUnknownTopic:
		return xbroker.NewError(xbroker.ErrUnknownTopicOrPartition, ke.String())
	case code >= kafka.ErrUnknown:
		return xbroker.NewError(xbroker.ErrorCode(code), ke.String())
	default:
		return err
	}
}

// timeoutMs 返回 ctx 剩余时间的毫秒数，没有截止时间时使用 def。
func timeoutMs(ctx context.Context, def time.Duration) int {
	d := def
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
	}
	return max(int(d.Milliseconds()), 1)
}
