// Package testhooks 连接客户端内部与测试支撑包。
//
// 生产 API 不暴露故障注入能力；客户端包在初始化时注册钩子，
// 测试支撑包（xkafkatest）通过这里调用。
package testhooks

// InjectFatal 向客户端注入致命错误。
// client 为客户端实例，code 为错误码，reason 为错误描述。
// 客户端包未注册时为 nil。
var InjectFatal func(client any, code int, reason string) error
