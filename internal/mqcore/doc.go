// Package mqcore 提供消息客户端族的共享内核。
//
// 本包是 internal 包，仅供 pkg/mq 下的客户端包使用。
//
// 主要功能：
//   - Tracer 接口：在消息头中注入和提取 W3C 追踪上下文
//   - InjectHeaders/ExtractHeaders：在有序、允许重名的消息头上运行 Tracer
//   - OTelTracer：基于 OpenTelemetry propagator 的 Tracer 实现
//   - MergeTraceContext：把消息中提取的远端 SpanContext 合并进本地 context
//   - RunConsumeLoop：基于 xretry.BackoffPolicy 的消费循环
//   - 共享错误定义与 Terminal 判定
package mqcore
