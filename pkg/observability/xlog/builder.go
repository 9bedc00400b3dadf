package xlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 轮转默认值。
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 14
)

// ReplaceAttrFunc 同 slog.HandlerOptions.ReplaceAttr，返回空 Key 删除该属性。
type ReplaceAttrFunc func(groups []string, a slog.Attr) slog.Attr

// RotateOption 调整文件轮转。
type RotateOption func(*lumberjack.Logger)

func WithMaxSize(mb int) RotateOption { return func(l *lumberjack.Logger) { l.MaxSize = mb } }

func WithMaxBackups(n int) RotateOption { return func(l *lumberjack.Logger) { l.MaxBackups = n } }

func WithMaxAge(days int) RotateOption { return func(l *lumberjack.Logger) { l.MaxAge = days } }

func WithCompress(on bool) RotateOption { return func(l *lumberjack.Logger) { l.Compress = on } }

// Builder 构建 Logger。第一个配置错误会保留到 Build 返回，之后的 Set 仍执行但不覆盖它。
type Builder struct {
	output      io.Writer
	levelVar    *slog.LevelVar
	format      string
	addSource   bool
	enrich      bool
	replaceAttr ReplaceAttrFunc
	rotator     *lumberjack.Logger
	onError     func(error)
	err         error
}

// New 返回默认 Builder：stderr、Info、text，启用 trace 注入。
func New() *Builder {
	return &Builder{
		output:   os.Stderr,
		levelVar: new(slog.LevelVar),
		format:   "text",
		enrich:   true,
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) SetOutput(w io.Writer) *Builder {
	if w == nil {
		return b.fail(errors.New("xlog: nil output"))
	}
	b.output = w
	return b
}

func (b *Builder) SetLevel(level Level) *Builder {
	b.levelVar.Set(slog.Level(level))
	return b
}

func (b *Builder) SetLevelString(s string) *Builder {
	level, err := ParseLevel(s)
	if err != nil {
		return b.fail(err)
	}
	return b.SetLevel(level)
}

// SetFormat 取 text 或 json，空串视为 text。
func (b *Builder) SetFormat(format string) *Builder {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", "text":
		b.format = "text"
	case "json":
		b.format = "json"
	default:
		return b.fail(fmt.Errorf("xlog: unknown format %q", format))
	}
	return b
}

func (b *Builder) SetAddSource(enable bool) *Builder {
	b.addSource = enable
	return b
}

// SetEnrich 控制是否从 ctx 注入 trace_id 与 span_id。
func (b *Builder) SetEnrich(enable bool) *Builder {
	b.enrich = enable
	return b
}

// SetRotation 把输出切换为按大小轮转的文件。Build 返回的 cleanup 负责关闭它。
func (b *Builder) SetRotation(filename string, opts ...RotateOption) *Builder {
	if strings.TrimSpace(filename) == "" {
		return b.fail(errors.New("xlog: empty rotation filename"))
	}
	r := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAge:     DefaultMaxAgeDays,
		Compress:   true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.MaxSize <= 0 || r.MaxBackups < 0 || r.MaxAge < 0 {
		return b.fail(fmt.Errorf("xlog: invalid rotation for %s", filename))
	}
	b.rotator = r
	b.output = r
	return b
}

// SetOnError 在 handler 写入失败时回调，回调在日志调用方的 goroutine 中同步执行。
func (b *Builder) SetOnError(fn func(error)) *Builder {
	b.onError = fn
	return b
}

func (b *Builder) SetReplaceAttr(fn ReplaceAttrFunc) *Builder {
	b.replaceAttr = fn
	return b
}

// Build 返回 Logger 与幂等的 cleanup。
func (b *Builder) Build() (LoggerWithLevel, func() error, error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	opts := &slog.HandlerOptions{Level: b.levelVar, AddSource: b.addSource}
	if b.replaceAttr != nil {
		opts.ReplaceAttr = b.replaceAttr
	}

	var h slog.Handler
	if b.format == "json" {
		h = slog.NewJSONHandler(b.output, opts)
	} else {
		h = slog.NewTextHandler(b.output, opts)
	}
	if b.enrich {
		h = &EnrichHandler{base: h}
	}

	l := &xlogger{
		handler:   h,
		levelVar:  b.levelVar,
		addSource: b.addSource,
		onError:   b.onError,
		errors:    new(atomic.Uint64),
		inOnError: new(atomic.Bool),
	}

	rotator := b.rotator
	cleanup := sync.OnceValue(func() error {
		if rotator == nil {
			return nil
		}
		return rotator.Close()
	})
	return l, cleanup, nil
}
