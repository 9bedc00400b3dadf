// Package xlog 是 xkclient 的结构化日志，基于 log/slog。
//
// 用 Builder 构建 Logger：
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		SetRotation("/var/log/xkcat.log", xlog.WithMaxSize(50)).
//		Build()
//	defer cleanup()
//
// 所有日志方法要求 ctx。默认的 EnrichHandler 从 ctx 中的 OpenTelemetry
// span 注入 trace_id 与 span_id。级别可在运行时通过 SetLevel 调整，
// 派生 logger 共享同一级别。
//
// Topic、Partition、Offset、Group 等属性构造函数统一了客户端日志的字段名。
// SyslogLevel 把 librdkafka 风格的 syslog 严重级别映射为 Level。
//
// Default 返回惰性创建的进程级 Logger，xkafka 在没有通过 WithLogger
// 注入时使用它。
package xlog
