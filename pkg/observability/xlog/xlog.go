package xlog

import (
	"context"
	"log/slog"
)

// Logger 是 xkclient 内部使用的日志接口。
//
// 所有方法都要求 ctx，EnrichHandler 从中提取 trace_id 与 span_id；
// 属性只接受 slog.Attr。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)

	// Stack 以 Error 级别记录并附带调用栈，用于 poll 回调 panic 之类的诊断。
	Stack(ctx context.Context, msg string, attrs ...slog.Attr)

	// With 派生带固定属性的 Logger，与父级共享级别。
	With(attrs ...slog.Attr) Logger

	WithGroup(name string) Logger
}

// Leveler 运行时级别控制，配置热更新改的是它。
type Leveler interface {
	SetLevel(level Level)
	GetLevel() Level
	Enabled(ctx context.Context, level Level) bool
}

// LoggerWithLevel 是 Build 的返回类型。
type LoggerWithLevel interface {
	Logger
	Leveler
}

// 客户端日志的附加字段。
const (
	// KeyRole 客户端角色：producer、consumer 或 admin。
	KeyRole = "role"
	// KeyFacility 客户端内部子系统，例如 REBALANCE、COMMIT、FETCH。
	KeyFacility = "facility"
)

// ForClient 派生单个客户端实例的日志器，固定携带实例名与角色；
// group 非空时（消费者）再带上消费组。
func ForClient(l Logger, name, role, group string) Logger {
	attrs := []slog.Attr{Client(name), slog.String(KeyRole, role)}
	if group != "" {
		attrs = append(attrs, Group(group))
	}
	return l.With(attrs...)
}

// LogSyslog 按 syslog 严重级别记录客户端内部日志。
// 级别映射见 SyslogLevel，facility 以 KeyFacility 字段输出。
func LogSyslog(ctx context.Context, l Logger, severity int, facility, msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String(KeyFacility, facility))
	switch SyslogLevel(severity) {
	case LevelError:
		l.Error(ctx, msg, attrs...)
	case LevelWarn:
		l.Warn(ctx, msg, attrs...)
	case LevelInfo:
		l.Info(ctx, msg, attrs...)
	default:
		l.Debug(ctx, msg, attrs...)
	}
}
