// Package xbroker 定义客户端运行时与 broker 之间的传输原语。
//
// 协议编码不在本包范围内：运行时只通过 [Transport] 发出请求/响应类调用，
// 由具体实现负责线路格式。本包提供：
//   - 请求与结果类型（TopicPartition、Record、Watermarks、OffsetAndMetadata 等）
//   - broker 错误码 [ErrorCode] 与 [Error]
//   - [MockCluster]：内存集群，含分区日志、水位、消费组协调器和错误注入
//   - [WithBreaker]：以 xbreaker 熔断器装饰任意 Transport
//
// 生产环境实现位于子包 xsarama（IBM/sarama）与 xconfluent（confluent-kafka-go）。
//
// # 消费组
//
// JoinGroup 返回 [GroupSession]，其 Events 持续推送协调器下发的完整分配。
// 每个事件都携带完整分配，较旧的未读事件可以被较新的覆盖；
// 客户端根据自身协议（eager/cooperative）对比新旧分配得到撤销与分配集合。
package xbroker
