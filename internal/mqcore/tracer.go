package mqcore

import (
	"context"
	"iter"
	"maps"
	"slices"
)

// W3C Trace Context 与 Baggage 在消息头中使用的名称。
const (
	HeaderTraceparent = "traceparent"
	HeaderTracestate  = "tracestate"
	HeaderBaggage     = "baggage"
)

// Tracer 在消息头中注入和提取追踪信息，默认使用 HeaderTraceparent 等 W3C 头名。
type Tracer interface {
	// Inject 将 ctx 中的追踪信息写入 headers。
	Inject(ctx context.Context, headers map[string]string)

	// Extract 从 headers 提取追踪信息，返回携带远端 SpanContext 的 Context。
	Extract(headers map[string]string) context.Context
}

// NoopTracer 不注入也不提取。
type NoopTracer struct{}

func (NoopTracer) Inject(context.Context, map[string]string) {}

func (NoopTracer) Extract(map[string]string) context.Context { return context.Background() }

var _ Tracer = NoopTracer{}

// InjectHeaders 把 ctx 的追踪头按键的字典序交给 set。
// 消息头是有序列表，固定顺序使同一 ctx 产生相同的记录头。
func InjectHeaders(ctx context.Context, t Tracer, set func(key, value string)) {
	carrier := make(map[string]string, 3)
	t.Inject(ctx, carrier)
	for _, k := range slices.Sorted(maps.Keys(carrier)) {
		set(k, carrier[k])
	}
}

// ExtractHeaders 从有序消息头中提取追踪信息。
// 消息头允许重名，同名时以最后出现的为准，与逐条覆盖写入的语义一致。
func ExtractHeaders(t Tracer, headers iter.Seq2[string, []byte]) context.Context {
	carrier := make(map[string]string, 3)
	for k, v := range headers {
		carrier[k] = string(v)
	}
	if len(carrier) == 0 {
		return context.Background()
	}
	return t.Extract(carrier)
}
