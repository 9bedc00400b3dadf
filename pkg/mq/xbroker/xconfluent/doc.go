// Package xconfluent 基于 confluent-kafka-go（librdkafka）实现 [xbroker.Transport]。
//
// 一个传输持有三类 librdkafka 句柄：
//   - 生产者：同步等待交付报告，管理客户端与之共享句柄
//   - 拉取消费者：以手动分配方式按分区拉取，不加入任何消费组
//   - 组消费者：每次 JoinGroup 创建一个，只维护成员身份，分到的分区立即暂停
//
// 连接属性沿用 librdkafka 的命名，只转发与连接、安全、拉取和生产相关的键，
// 其余属性由客户端运行时自身处理。包需要 cgo。
package xconfluent
