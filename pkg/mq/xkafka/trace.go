package xkafka

import (
	"context"
	"strconv"

	"github.com/omeyang/xkclient/internal/mqcore"
	"github.com/omeyang/xkclient/pkg/observability/xmetrics"
)

// componentName 观测组件名。
const componentName = "xkafka"

// Tracer 在消息头中注入和提取追踪信息。
type Tracer = mqcore.Tracer

// NoopTracer 空实现。
type NoopTracer = mqcore.NoopTracer

// OTelTracer 基于 OpenTelemetry 的 W3C Trace Context 实现。
type OTelTracer = mqcore.OTelTracer

// NewOTelTracer 创建 OTelTracer，默认使用 TraceContext + Baggage 传播器。
func NewOTelTracer(opts ...mqcore.OTelTracerOption) OTelTracer {
	return mqcore.NewOTelTracer(opts...)
}

// MergeTraceContext 把从消息头提取的追踪信息合并进 base。
func MergeTraceContext(base, extracted context.Context) context.Context {
	return mqcore.MergeTraceContext(base, extracted)
}

func topicAttrs(topic string, partition int32) []xmetrics.Attr {
	return []xmetrics.Attr{
		xmetrics.String("messaging.system", "kafka"),
		xmetrics.String("messaging.destination.name", topic),
		xmetrics.String("messaging.kafka.partition", strconv.Itoa(int(partition))),
	}
}

// startSpan 以客户端组件名开始观测。
func (h *handle) startSpan(ctx context.Context, operation string, kind xmetrics.Kind, attrs ...xmetrics.Attr) (context.Context, xmetrics.Span) {
	attrs = append(attrs, xmetrics.String("messaging.client_id", h.name))
	return xmetrics.Start(ctx, h.opts.observer, xmetrics.SpanOptions{
		Component: componentName,
		Operation: operation,
		Kind:      kind,
		Attrs:     attrs,
	})
}
