package xbroker

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mock_transport.go -package=xbroker . Transport

// Transport 是运行时对 broker 集群的请求/响应原语。
//
// 所有方法都必须可并发调用。返回的 *Error 携带 broker 错误码；
// 其他错误视为连接级故障。
type Transport interface {
	Metadata(ctx context.Context, topics []string) (*Metadata, error)
	Produce(ctx context.Context, tp TopicPartition, records []Record) ([]ProduceResult, error)
	Fetch(ctx context.Context, tp TopicPartition, offset int64, maxRecords int) (FetchResult, error)
	Watermarks(ctx context.Context, tp TopicPartition) (Watermarks, error)
	ListOffsets(ctx context.Context, tp TopicPartition, spec OffsetSpec) (ListedOffset, error)
	CommitOffsets(ctx context.Context, group string, offsets map[TopicPartition]OffsetAndMetadata) (map[TopicPartition]error, error)
	FetchCommitted(ctx context.Context, group string, tps []TopicPartition) (map[TopicPartition]OffsetAndMetadata, error)
	CreateTopics(ctx context.Context, specs []TopicSpec) (map[string]error, error)
	DeleteTopics(ctx context.Context, topics []string) (map[string]error, error)
	JoinGroup(ctx context.Context, req JoinRequest) (GroupSession, error)
	Close() error
}

// DialConfig 建立传输所需的连接参数。
type DialConfig struct {
	Brokers  []string
	ClientID string
	// Properties 其余客户端配置的字符串形式，实现按需读取
	// （如 security.protocol、sasl.mechanisms）。
	Properties map[string]string
}

// Factory 根据连接参数创建 Transport。
type Factory func(ctx context.Context, cfg DialConfig) (Transport, error)

// TokenReceiver 由支持 SASL/OAUTHBEARER 的 Transport 实现，
// 客户端在应用设置新令牌后调用。
type TokenReceiver interface {
	SetToken(value string, expiration time.Time) error
}

// DeliverLatest 向容量为 1 的事件通道投递 ev，未读的旧事件被丢弃。
// 同一通道的投递方需要互斥。
func DeliverLatest(ch chan GroupEvent, ev GroupEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Await 在独立 goroutine 中执行不接受 ctx 的阻塞调用。
// ctx 先结束时立即返回 ctx.Err()，fn 由其自身的超时兜底。
func Await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
