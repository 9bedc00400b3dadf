// Package xbreaker 提供 broker 请求的熔断保护。
//
// Breaker 基于 [sony/gobreaker/v2]，由 TripPolicy 决定何时打开，
// 由 SuccessPolicy 决定哪些错误计入失败。客户端传输层用它包裹
// 请求/响应类调用：连接级故障计为失败，broker 返回的业务错误码不计。
//
// # 状态
//
//   - StateClosed：请求正常通过
//   - StateOpen：请求直接失败，返回 *BreakerError
//   - StateHalfOpen：放行有限的探测请求
//
// 熔断错误的 Retryable() 返回 false，与 xretry 组合时不会被重试。
//
// [sony/gobreaker/v2]: https://github.com/sony/gobreaker
package xbreaker
