// Package xmetrics 定义 xkclient 的观测接口 Observer，并提供基于
// OpenTelemetry 的实现。
//
//	obs, _ := xmetrics.NewOTelObserver()
//	p, _ := xkafka.NewProducer(conf, xkafka.WithObserver(obs))
//
// 客户端对 produce、consume、commit、committed、watermarks、flush 与
// 各类管理请求开始一个跨度，并记录两项指标：
//   - xkclient.operation.total（component、operation、status）
//   - xkclient.operation.duration，单位秒
package xmetrics
