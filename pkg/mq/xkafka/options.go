package xkafka

import (
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/observability/xlog"
	"github.com/omeyang/xkclient/pkg/observability/xmetrics"
	"github.com/omeyang/xkclient/pkg/resilience/xbreaker"
	"github.com/omeyang/xkclient/pkg/resilience/xretry"
)

// options 客户端选项。部分选项只对特定角色生效，其他角色忽略。
type options struct {
	transport    xbroker.Transport
	factory      xbroker.Factory
	breaker      *xbreaker.Breaker
	logger       xlog.Logger
	sink         EventSink
	tracer       Tracer
	observer     xmetrics.Observer
	listener     RebalanceListener
	pollSet      bool
	backgroundPl bool
	commitRetry  xretry.RetryPolicy
}

func defaultOptions(r role) *options {
	return &options{
		tracer:       NoopTracer{},
		observer:     xmetrics.NoopObserver{},
		pollSet:      true,
		backgroundPl: r != roleConsumer,
		commitRetry:  xretry.NewFixedRetry(3),
	}
}

// Option 客户端配置选项。
type Option func(*options)

// WithTransport 使用已建立的 Transport。客户端关闭时一并关闭它。
func WithTransport(t xbroker.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.transport = t
		}
	}
}

// WithTransportFactory 设置 Transport 工厂，客户端创建时以 bootstrap.servers 拨号。
func WithTransportFactory(f xbroker.Factory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithBreaker 以熔断器包装 Transport 的请求调用。
func WithBreaker(b *xbreaker.Breaker) Option {
	return func(o *options) {
		if b != nil {
			o.breaker = b
		}
	}
}

// WithLogger 设置日志记录器，默认 xlog.Default()。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEventSink 设置事件接收者，默认把日志与错误写入 Logger。
func WithEventSink(s EventSink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithTracer 设置链路追踪器：生产时注入，Each 消费时提取。
func WithTracer(t Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithObserver 设置统一观测接口。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithRebalanceListener 设置再均衡监听器（仅消费者）。
func WithRebalanceListener(l RebalanceListener) Option {
	return func(o *options) {
		o.listener = l
	}
}

// WithConsumerPollSet 设置是否把主队列并入消费者队列（默认 true）。
// 关闭后主队列事件需通过 Consumer.EventsPoll 服务。
func WithConsumerPollSet(enable bool) Option {
	return func(o *options) {
		o.pollSet = enable
	}
}

// WithBackgroundPoll 设置是否启动后台 poller 服务主队列。
// 生产者与管理客户端默认开启，消费者默认关闭。
func WithBackgroundPoll(enable bool) Option {
	return func(o *options) {
		o.backgroundPl = enable
	}
}

// WithCommitRetry 设置同步提交在可重试错误上的重试策略，默认最多 3 次。
func WithCommitRetry(p xretry.RetryPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.commitRetry = p
		}
	}
}
