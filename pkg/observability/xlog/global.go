package xlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	global   atomic.Pointer[LoggerWithLevel]
	globalMu sync.Mutex
)

// Default 返回进程级 Logger，首次调用时惰性创建（stderr、Info、text）。
//
// 库代码在未通过 WithLogger 注入时使用它，命令行程序可用 SetDefault 替换。
func Default() LoggerWithLevel {
	if l := global.Load(); l != nil {
		return *l
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if l := global.Load(); l != nil {
		return *l
	}
	l, _, err := New().Build()
	if err != nil {
		l = fallbackLogger()
	}
	global.Store(&l)
	return l
}

func fallbackLogger() LoggerWithLevel {
	return &xlogger{
		handler:   slog.Default().Handler(),
		levelVar:  new(slog.LevelVar),
		errors:    new(atomic.Uint64),
		inOnError: new(atomic.Bool),
	}
}

// SetDefault 替换进程级 Logger，nil 被忽略。
func SetDefault(l LoggerWithLevel) {
	if l != nil {
		global.Store(&l)
	}
}

// ResetDefault 丢弃当前 Logger，下次 Default 重新创建。
func ResetDefault() {
	globalMu.Lock()
	global.Store(nil)
	globalMu.Unlock()
}

func globalLog(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	l := Default()
	if xl, ok := l.(*xlogger); ok {
		xl.logWithSkip(ctx, level, msg, attrs, 1)
		return
	}
	switch level {
	case slog.LevelDebug:
		l.Debug(ctx, msg, attrs...)
	case slog.LevelInfo:
		l.Info(ctx, msg, attrs...)
	case slog.LevelWarn:
		l.Warn(ctx, msg, attrs...)
	default:
		l.Error(ctx, msg, attrs...)
	}
}

func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	globalLog(ctx, slog.LevelDebug, msg, attrs)
}

func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	globalLog(ctx, slog.LevelInfo, msg, attrs)
}

func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	globalLog(ctx, slog.LevelWarn, msg, attrs)
}

func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	globalLog(ctx, slog.LevelError, msg, attrs)
}
