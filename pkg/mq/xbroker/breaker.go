package xbroker

import (
	"context"
	"errors"
	"time"

	"github.com/omeyang/xkclient/pkg/resilience/xbreaker"
)

// NewBreaker 创建适用于传输层的熔断器：
// 成功、ctx 取消和不可重试的 broker 错误码都不计为失败。
func NewBreaker(name string, opts ...xbreaker.Option) *xbreaker.Breaker {
	base := []xbreaker.Option{xbreaker.WithSuccessPolicy(xbreaker.SuccessFunc(healthyOutcome))}
	return xbreaker.NewBreaker(name, append(base, opts...)...)
}

func healthyOutcome(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var be *Error
	if errors.As(err, &be) {
		return !be.Retryable()
	}
	return false
}

// WithBreaker 以熔断器包装 next 的请求/响应调用。Close 不经过熔断器。
func WithBreaker(next Transport, b *xbreaker.Breaker) Transport {
	if b == nil {
		return next
	}
	return &breakerTransport{next: next, b: b}
}

type breakerTransport struct {
	next Transport
	b    *xbreaker.Breaker
}

func (t *breakerTransport) Metadata(ctx context.Context, topics []string) (*Metadata, error) {
	return xbreaker.Execute(ctx, t.b, func() (*Metadata, error) {
		return t.next.Metadata(ctx, topics)
	})
}

func (t *breakerTransport) Produce(ctx context.Context, tp TopicPartition, records []Record) ([]ProduceResult, error) {
	return xbreaker.Execute(ctx, t.b, func() ([]ProduceResult, error) {
		return t.next.Produce(ctx, tp, records)
	})
}

func (t *breakerTransport) Fetch(ctx context.Context, tp TopicPartition, offset int64, maxRecords int) (FetchResult, error) {
	return xbreaker.Execute(ctx, t.b, func() (FetchResult, error) {
		return t.next.Fetch(ctx, tp, offset, maxRecords)
	})
}

func (t *breakerTransport) Watermarks(ctx context.Context, tp TopicPartition) (Watermarks, error) {
	return xbreaker.Execute(ctx, t.b, func() (Watermarks, error) {
		return t.next.Watermarks(ctx, tp)
	})
}

func (t *breakerTransport) ListOffsets(ctx context.Context, tp TopicPartition, spec OffsetSpec) (ListedOffset, error) {
	return xbreaker.Execute(ctx, t.b, func() (ListedOffset, error) {
		return t.next.ListOffsets(ctx, tp, spec)
	})
}

func (t *breakerTransport) CommitOffsets(ctx context.Context, group string, offsets map[TopicPartition]OffsetAndMetadata) (map[TopicPartition]error, error) {
	return xbreaker.Execute(ctx, t.b, func() (map[TopicPartition]error, error) {
		return t.next.CommitOffsets(ctx, group, offsets)
	})
}

func (t *breakerTransport) FetchCommitted(ctx context.Context, group string, tps []TopicPartition) (map[TopicPartition]OffsetAndMetadata, error) {
	return xbreaker.Execute(ctx, t.b, func() (map[TopicPartition]OffsetAndMetadata, error) {
		return t.next.FetchCommitted(ctx, group, tps)
	})
}

func (t *breakerTransport) CreateTopics(ctx context.Context, specs []TopicSpec) (map[string]error, error) {
	return xbreaker.Execute(ctx, t.b, func() (map[string]error, error) {
		return t.next.CreateTopics(ctx, specs)
	})
}

func (t *breakerTransport) DeleteTopics(ctx context.Context, topics []string) (map[string]error, error) {
	return xbreaker.Execute(ctx, t.b, func() (map[string]error, error) {
		return t.next.DeleteTopics(ctx, topics)
	})
}

func (t *breakerTransport) JoinGroup(ctx context.Context, req JoinRequest) (GroupSession, error) {
	return xbreaker.Execute(ctx, t.b, func() (GroupSession, error) {
		return t.next.JoinGroup(ctx, req)
	})
}

func (t *breakerTransport) Close() error { return t.next.Close() }

// SetToken 转发给被包装的传输，不经过熔断器。
func (t *breakerTransport) SetToken(value string, expiration time.Time) error {
	if r, ok := t.next.(TokenReceiver); ok {
		return r.SetToken(value, expiration)
	}
	return nil
}

var (
	_ Transport     = (*breakerTransport)(nil)
	_ TokenReceiver = (*breakerTransport)(nil)
)
