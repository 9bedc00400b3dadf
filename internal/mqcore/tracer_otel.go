package mqcore

import (
	"context"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type otelTracerConfig struct {
	propagator propagation.TextMapPropagator
}

// OTelTracerOption 定义 OTelTracer 的配置选项。
type OTelTracerOption func(*otelTracerConfig)

// WithOTelPropagator 设置自定义的 Propagator，nil 被忽略。
func WithOTelPropagator(propagator propagation.TextMapPropagator) OTelTracerOption {
	return func(cfg *otelTracerConfig) {
		if propagator != nil {
			cfg.propagator = propagator
		}
	}
}

// OTelTracer 基于 OpenTelemetry 的链路追踪实现。
// 默认组合 TraceContext 与 Baggage 两种 propagator。
type OTelTracer struct {
	propagator propagation.TextMapPropagator
}

// NewOTelTracer 创建 OTelTracer。
func NewOTelTracer(opts ...OTelTracerOption) OTelTracer {
	cfg := &otelTracerConfig{
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return OTelTracer{propagator: cfg.propagator}
}

// Inject 将追踪信息注入到消息头。headers 为 nil 时不做任何操作。
func (t OTelTracer) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.propagator.Inject(ctx, propagation.MapCarrier(headers))
}

// Extract 从消息头提取追踪信息。
func (t OTelTracer) Extract(headers map[string]string) context.Context {
	if len(headers) == 0 {
		return context.Background()
	}
	return t.propagator.Extract(context.Background(), propagation.MapCarrier(headers))
}

var _ Tracer = OTelTracer{}

// MergeTraceContext 把 extracted 中的远端 SpanContext 与 Baggage 合并进 base。
//
// base 的取消与截止时间保持不变；extracted 没有有效 SpanContext 时原样返回 base。
// nil 参数视为 context.Background()。
func MergeTraceContext(base, extracted context.Context) context.Context {
	if base == nil {
		base = context.Background()
	}
	if extracted == nil {
		return base
	}
	if sc := trace.SpanContextFromContext(extracted); sc.IsValid() {
		base = trace.ContextWithRemoteSpanContext(base, sc)
	}
	if bag := baggage.FromContext(extracted); bag.Len() > 0 {
		base = baggage.ContextWithBaggage(base, bag)
	}
	return base
}
