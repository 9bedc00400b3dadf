// Package xsarama 基于 IBM/sarama 实现 [xbroker.Transport]。
//
// 生产与拉取直接向分区 leader 发送请求，不使用 sarama 的异步消费者；
// 消费组成员身份由 sarama ConsumerGroup 维护，只用于获取分配，
// 消息仍由客户端运行时按分区拉取。
//
// 用法：
//
//	c, err := xkafka.NewConsumer(conf, xkafka.WithTransportFactory(xsarama.Factory()))
//
// 支持的连接属性：security.protocol、sasl.mechanisms（PLAIN、OAUTHBEARER）、
// sasl.username、sasl.password、broker.version.fallback、acks、
// request.timeout.ms、message.max.bytes、fetch.wait.max.ms、fetch.min.bytes、
// max.partition.fetch.bytes、fetch.max.bytes、metadata.max.age.ms、isolation.level。
package xsarama
