// Package xkafka 是分区日志 broker 的客户端运行时核心。
//
// 提供生产者、消费者与管理客户端三种角色，共享同一套句柄运行时：
// 每个客户端恰有一个 serve goroutine 驱动传输 I/O 与协议状态，
// 应用 goroutine 只通过 xqueue 队列与带超时的请求与之交互。
// 传输由 xbroker.Transport 抽象，可以是内存 mock 集群（test.mock.num.brokers）、
// xbroker/xsarama 或 xbroker/xconfluent。
//
// # 配置
//
// 配置以 librdkafka 属性名写在 [ConfigMap] 中，创建时复制并解析为不可变快照，
// 非法值在 New* 处以 KindConfig 错误返回。[ConfigFromXconf] 可从 xconf 的子树构建 ConfigMap。
//
// # 投递跟踪
//
// [Producer.Produce] 立即返回 [DeliveryHandle]。投递报告在主队列被服务时解析：
// 默认由后台 poller 服务，也可以通过 [Producer.Poll] 或 [Producer.Flush] 服务。
// [Producer.Purge] 丢弃尚未发出的消息，对应句柄以 ErrPurgeQueue 失败。
//
// # 再均衡
//
// 订阅模式下，协调器下发的分配被规划为撤销/分配转换并放入消费者队列，
// 在调用 [Consumer.Poll] 的 goroutine 上执行。注册了 [RebalanceListener] 时调用它，
// 监听器可以自行调用 Assign/IncrementalAssign；没有监听器或监听器没有应用时自动应用，
// 并把 [AssignedPartitions]/[RevokedPartitions] 返回给 Poll 的调用者。
// 会话超时被逐出时撤销事件的 Lost 为 true，[Consumer.AssignmentLost] 返回 true。
//
// # 偏移
//
// enable.auto.offset.store=true（默认）时 Poll 返回消息即存储其后一个偏移，
// 手动 StoreOffset 会被拒绝。无参数 Commit 提交已存储的偏移；
// [Consumer.Lag] 以高水位减已提交偏移计算积压，拿不到水位的分区不出现在结果中。
//
// # 错误
//
// 所有错误都是 *[Error]，以 Kind 分类。致命错误是粘性的：之后的每个调用都返回它，
// 未决的投递全部以它失败。关闭后的调用返回 KindClosed 错误，Op 为被调用的方法，
// 且满足 errors.Is(err, ErrClosed)。多分区操作的逐分区失败聚合为 *[PartitionErrors]。
package xkafka
