package mqcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omeyang/xkclient/pkg/resilience/xretry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// 错误
// =============================================================================

func TestErrors_Prefix(t *testing.T) {
	for _, err := range []error{ErrNilMessage, ErrNilHandler, ErrClosed, ErrFatal} {
		assert.True(t, strings.HasPrefix(err.Error(), "mq:"), err.Error())
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(fmt.Errorf("poll: %w", ErrClosed)))
	assert.True(t, Terminal(fmt.Errorf("produce: %w", ErrFatal)))
	assert.False(t, Terminal(errors.New("broker transport failure")))
	assert.False(t, Terminal(nil))
}

// =============================================================================
// Tracer
// =============================================================================

func TestNoopTracer(t *testing.T) {
	headers := map[string]string{}
	NoopTracer{}.Inject(context.Background(), headers)
	assert.Empty(t, headers)
	assert.NotNil(t, NoopTracer{}.Extract(headers))
}

func TestOTelTracer_RoundTrip(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "produce")
	defer span.End()
	member, err := baggage.NewMember("tenant", "t1")
	require.NoError(t, err)
	bag, err := baggage.New(member)
	require.NoError(t, err)
	ctx = baggage.ContextWithBaggage(ctx, bag)

	tracer := NewOTelTracer()
	headers := map[string]string{}
	tracer.Inject(ctx, headers)
	require.Contains(t, headers, "traceparent")

	extracted := tracer.Extract(headers)
	sc := trace.SpanContextFromContext(extracted)
	assert.True(t, sc.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
	assert.Equal(t, "t1", baggage.FromContext(extracted).Member("tenant").Value())
}

func TestOTelTracer_NilAndEmpty(t *testing.T) {
	tracer := NewOTelTracer(WithOTelPropagator(nil))
	tracer.Inject(context.Background(), nil)
	assert.False(t, trace.SpanContextFromContext(tracer.Extract(nil)).IsValid())
}

// fixedTracer 注入固定的头，记录提取时收到的头。
type fixedTracer struct {
	inject map[string]string
	got    map[string]string
}

func (f *fixedTracer) Inject(_ context.Context, headers map[string]string) {
	for k, v := range f.inject {
		headers[k] = v
	}
}

func (f *fixedTracer) Extract(headers map[string]string) context.Context {
	f.got = headers
	return context.Background()
}

func TestInjectHeaders_SortedKeys(t *testing.T) {
	tr := &fixedTracer{inject: map[string]string{
		HeaderTracestate:  "vendor=1",
		HeaderBaggage:     "tenant=t1",
		HeaderTraceparent: "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	}}
	for range 5 {
		var keys []string
		InjectHeaders(context.Background(), tr, func(k, _ string) { keys = append(keys, k) })
		assert.Equal(t, []string{HeaderBaggage, HeaderTraceparent, HeaderTracestate}, keys)
	}
}

func TestExtractHeaders_LastDuplicateWins(t *testing.T) {
	tr := &fixedTracer{}
	headers := func(yield func(string, []byte) bool) {
		_ = yield(HeaderTraceparent, []byte("old")) &&
			yield("order-id", []byte("42")) &&
			yield(HeaderTraceparent, []byte("new"))
	}
	ExtractHeaders(tr, headers)
	assert.Equal(t, "new", tr.got[HeaderTraceparent])
	assert.Equal(t, "42", tr.got["order-id"])

	tr.got = nil
	ctx := ExtractHeaders(tr, func(func(string, []byte) bool) {})
	assert.NotNil(t, ctx)
	assert.Nil(t, tr.got, "no headers, no propagation")
}

func TestMergeTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := NewOTelTracer()

	spanCtx, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()
	headers := map[string]string{}
	tracer.Inject(spanCtx, headers)

	base, cancel := context.WithCancel(context.Background())
	merged := MergeTraceContext(base, tracer.Extract(headers))
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(merged).TraceID())
	cancel()
	assert.Error(t, merged.Err(), "merged context keeps base cancellation")

	//nolint:staticcheck // nil context 分支
	assert.NotNil(t, MergeTraceContext(nil, nil))
	assert.Equal(t, base, MergeTraceContext(base, context.Background()))
}

// =============================================================================
// 消费循环
// =============================================================================

func TestRunConsumeLoop_BackoffAndReset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls, errs atomic.Int32
	err := RunConsumeLoop(ctx, func(context.Context) error {
		n := calls.Add(1)
		switch {
		case n <= 2:
			return errors.New("boom")
		case n >= 5:
			cancel()
		}
		return nil
	},
		WithBackoff(xretry.NewFixedBackoff(time.Millisecond)),
		WithOnError(func(error) { errs.Add(1) }),
	)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(2), errs.Load())
	assert.GreaterOrEqual(t, calls.Load(), int32(5))
}

func TestRunConsumeLoop_Stop(t *testing.T) {
	fatal := errors.New("fatal")
	err := RunConsumeLoop(context.Background(), func(context.Context) error {
		return fatal
	}, WithStop(func(err error) bool { return errors.Is(err, fatal) }))
	assert.ErrorIs(t, err, fatal)
}

func TestRunConsumeLoop_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := RunConsumeLoop(ctx, func(context.Context) error {
		return errors.New("always")
	}, WithBackoff(xretry.NewFixedBackoff(time.Hour)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
