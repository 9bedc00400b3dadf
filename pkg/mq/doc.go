// Package mq 提供 Kafka 客户端运行时的子包。
//
// 子包列表：
//   - xqueue: 可转发、可唤醒的本地事件队列
//   - xbroker: 与具体协议库解耦的 broker 传输接口及内存实现
//   - xbroker/xsarama: 基于 IBM/sarama 的传输
//   - xbroker/xconfluent: 基于 confluent-kafka-go 的传输
//   - xkafka: 生产者、消费者与管理客户端
//
// 内部包：
//   - internal/pending: 投递句柄与管理操作的未决结果
//   - internal/mqcore: 共享的追踪传播与消费循环
package mq
