// Package xqueue 提供客户端运行时的事件队列。
//
// Queue 是有序、并发安全、无界的 FIFO，用于在后台 goroutine 与应用 goroutine
// 之间传递已完成事件（消息、投递报告、错误、再均衡通知、统计信息）。
//
// # 出队语义
//
//   - Pop(0)：非阻塞，队列为空立即返回
//   - Pop(Infinite)：阻塞直到有事件、Wake 或 Close
//   - Pop(d)：最多等待 d
//
// 队列假定多生产者、单消费者（poller），但多消费者同样安全。
// 事件顺序严格等于入队顺序。
//
// # IO 事件模式
//
// EnableIOEvent 打开边沿触发唤醒：仅在队列由空变为非空时向目标描述符写入
// 一次 payload；队列未被取空之前不会再次写入。因此收到通知后必须循环 Pop
// 直到队列为空，否则之后不会再有通知。
//
// # 队列转发
//
// Forward 将当前内容和后续入队全部转交给目标队列，用于把主队列并入消费者
// 队列，由同一个 Poll 统一服务。
package xqueue
