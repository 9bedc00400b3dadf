package xlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, b *Builder) (LoggerWithLevel, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, cleanup, err := b.SetOutput(&buf).Build()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cleanup()) })
	return l, &buf
}

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestBuilder_JSONAndLevel(t *testing.T) {
	l, buf := build(t, New().SetFormat("JSON").SetLevelString("warn"))
	ctx := context.Background()

	l.Info(ctx, "skipped")
	l.Warn(ctx, "rebalance", Group("billing"), Generation(7))
	l.Error(ctx, "commit failed", Topic("orders"), Partition(3), Offset(42), Err(errors.New("boom")))

	recs := decode(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "rebalance", recs[0]["msg"])
	assert.Equal(t, "billing", recs[0][KeyGroup])
	assert.EqualValues(t, 7, recs[0][KeyGeneration])
	assert.Equal(t, "orders", recs[1][KeyTopic])
	assert.EqualValues(t, 3, recs[1][KeyPartition])
	assert.EqualValues(t, 42, recs[1][KeyOffset])
	assert.Equal(t, "boom", recs[1][KeyError])

	assert.Equal(t, LevelWarn, l.GetLevel())
	l.SetLevel(LevelDebug)
	assert.True(t, l.Enabled(ctx, LevelDebug))
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
	}{
		{"format", New().SetFormat("xml")},
		{"level", New().SetLevelString("loud")},
		{"output", New().SetOutput(nil)},
		{"rotation", New().SetRotation(" ")},
		{"rotation size", New().SetRotation("x.log", WithMaxSize(0))},
		{"first wins", New().SetFormat("xml").SetFormat("json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.b.Build()
			assert.Error(t, err)
		})
	}
}

func TestBuilder_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	l, cleanup, err := New().SetRotation(path, WithMaxSize(1), WithMaxBackups(2), WithMaxAge(1), WithCompress(false)).Build()
	require.NoError(t, err)

	l.Info(context.Background(), "partition assigned", Topic("orders"))
	require.NoError(t, cleanup())
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "partition assigned")
	assert.Contains(t, string(data), "topic=orders")
}

func TestBuilder_ReplaceAttr(t *testing.T) {
	l, buf := build(t, New().SetFormat("json").SetReplaceAttr(func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == "sasl.password" {
			return slog.String(a.Key, "***")
		}
		return a
	}))
	l.Info(context.Background(), "dial", slog.String("sasl.password", "secret"))
	assert.Equal(t, "***", decode(t, buf)[0]["sasl.password"])
}

func TestLogger_WithSharesLevel(t *testing.T) {
	l, buf := build(t, New().SetFormat("json"))
	child := l.With(Client("rdkafka#producer-1")).WithGroup("g")

	l.SetLevel(LevelError)
	child.Info(context.Background(), "dropped")
	l.SetLevel(LevelInfo)
	child.Info(context.Background(), "kept", Count(2))

	recs := decode(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "rdkafka#producer-1", recs[0][KeyClient])
	assert.Equal(t, map[string]any{KeyCount: float64(2)}, recs[0]["g"])

	assert.Same(t, l, l.With())
	assert.Same(t, l, l.WithGroup(""))
}

func TestLogger_Stack(t *testing.T) {
	l, buf := build(t, New().SetFormat("json").SetAddSource(true))
	l.Stack(context.Background(), "fatal error raised")

	rec := decode(t, buf)[0]
	assert.Contains(t, rec[KeyStack], "TestLogger_Stack")
	src, ok := rec["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, src["file"], "xlog_test.go")
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }
func (h failingHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }

func TestLogger_HandleError(t *testing.T) {
	var got []error
	lw, _, err := New().SetOnError(func(err error) {
		got = append(got, err)
		panic("callback panics")
	}).Build()
	require.NoError(t, err)
	l := lw.(*xlogger)
	l.handler = failingHandler{}

	l.Info(context.Background(), "x")
	l.With(Component("c")).Error(context.Background(), "y")

	assert.Len(t, got, 2)
	assert.Equal(t, uint64(4), ErrorCount(l), "two write errors plus two callback panics")
	assert.Zero(t, ErrorCount(nil))
}

func TestGlobal(t *testing.T) {
	t.Cleanup(ResetDefault)

	var buf bytes.Buffer
	l, _, err := New().SetOutput(&buf).SetLevel(LevelDebug).Build()
	require.NoError(t, err)
	SetDefault(l)
	SetDefault(nil)
	assert.Same(t, l, Default())

	ctx := context.Background()
	Debug(ctx, "d")
	Info(ctx, "i")
	Warn(ctx, "w")
	Error(ctx, "e")
	out := buf.String()
	for _, want := range []string{"msg=d", "msg=i", "msg=w", "msg=e"} {
		assert.Contains(t, out, want)
	}

	ResetDefault()
	assert.NotSame(t, l, Default())
}

func TestLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, " INFO ": LevelInfo, "warning": LevelWarn, "Error": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)

	var lv Level
	require.NoError(t, lv.UnmarshalText([]byte("warn")))
	text, err := lv.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "WARN", string(text))
	assert.Error(t, lv.UnmarshalText([]byte("nope")))
}

func TestSyslogLevel(t *testing.T) {
	want := []Level{LevelError, LevelError, LevelError, LevelError, LevelWarn, LevelInfo, LevelInfo, LevelDebug}
	for sev, w := range want {
		assert.Equal(t, w, SyslogLevel(sev), "severity %d", sev)
	}
}

func TestForClient(t *testing.T) {
	l, buf := build(t, New().SetFormat("json").SetLevel(LevelDebug))
	ctx := context.Background()

	ForClient(l, "rdkafka#consumer-1", "consumer", "billing").Info(ctx, "joined")
	ForClient(l, "rdkafka#producer-2", "producer", "").Info(ctx, "connected")

	recs := decode(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "rdkafka#consumer-1", recs[0][KeyClient])
	assert.Equal(t, "consumer", recs[0][KeyRole])
	assert.Equal(t, "billing", recs[0][KeyGroup])
	assert.Equal(t, "producer", recs[1][KeyRole])
	assert.NotContains(t, recs[1], KeyGroup)
}

func TestLogSyslog(t *testing.T) {
	l, buf := build(t, New().SetFormat("json").SetLevel(LevelInfo))
	ctx := context.Background()

	LogSyslog(ctx, l, 3, "COMMIT", "commit failed", Group("billing"))
	LogSyslog(ctx, l, 4, "REBALANCE", "assignment lost")
	LogSyslog(ctx, l, 6, "REBALANCE", "assigned")
	LogSyslog(ctx, l, 7, "FETCH", "fetch response")

	recs := decode(t, buf)
	require.Len(t, recs, 3)
	assert.Equal(t, "ERROR", recs[0]["level"])
	assert.Equal(t, "COMMIT", recs[0][KeyFacility])
	assert.Equal(t, "billing", recs[0][KeyGroup])
	assert.Equal(t, "WARN", recs[1]["level"])
	assert.Equal(t, "INFO", recs[2]["level"])
	assert.Equal(t, "REBALANCE", recs[2][KeyFacility])
}
