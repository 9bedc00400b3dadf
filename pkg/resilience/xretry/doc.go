// Package xretry 提供重试与退避策略。
//
// 两类用法：
//   - BackoffPolicy 单独使用，计算第 N 次失败后的等待时间
//     （生产者重发、消费循环退避）
//   - Retryer 组合 RetryPolicy 与 BackoffPolicy，基于 [avast/retry-go/v5]
//     执行带重试的调用（传输层连接、同步提交）
//
// 客户端内的退避统一由 NewRetryBackoff 按 retry.backoff.ms 与
// retry.backoff.max.ms 构造：逐次翻倍，±20% 抖动。
//
// 错误是否可重试由 IsRetryable 判定：实现 Retryable() bool 的错误按其返回值，
// 其他错误默认可重试。
//
// [avast/retry-go/v5]: https://github.com/avast/retry-go
package xretry
