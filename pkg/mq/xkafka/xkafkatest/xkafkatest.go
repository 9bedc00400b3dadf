// Package xkafkatest 提供基于内存集群的 xkafka 测试支撑。
//
// 同一个 [Cluster] 创建的客户端共享分区日志与消费组状态；
// 客户端在测试结束时自动关闭。
package xkafkatest

import (
	"errors"
	"testing"

	"github.com/omeyang/xkclient/internal/testhooks"
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/mq/xkafka"
)

// Cluster 内存 broker 集群。
type Cluster struct {
	*xbroker.MockCluster
}

// NewCluster 创建集群。
func NewCluster(opts ...xbroker.MockOption) *Cluster {
	return &Cluster{MockCluster: xbroker.NewMockCluster(opts...)}
}

// Config 返回指向本集群的基础配置，extra 中的键覆盖默认值。
func (c *Cluster) Config(extra xkafka.ConfigMap) xkafka.ConfigMap {
	conf := xkafka.ConfigMap{
		"bootstrap.servers": c.BootstrapServers(),
		"client.id":         "xkafkatest",
		"retry.backoff.ms":  10,
	}
	for k, v := range extra {
		conf[k] = v
	}
	return conf
}

// Option 返回连接到本集群的传输选项。
func (c *Cluster) Option() xkafka.Option {
	return xkafka.WithTransportFactory(c.Factory())
}

// NewProducer 创建生产者，测试结束时关闭。
func (c *Cluster) NewProducer(tb testing.TB, extra xkafka.ConfigMap, opts ...xkafka.Option) *xkafka.Producer {
	tb.Helper()
	p, err := xkafka.NewProducer(c.Config(extra), append([]xkafka.Option{c.Option()}, opts...)...)
	if err != nil {
		tb.Fatalf("xkafkatest: new producer: %v", err)
	}
	tb.Cleanup(func() { _ = p.Close() })
	return p
}

// NewConsumer 创建消费者，未指定 group.id 时使用测试名。
func (c *Cluster) NewConsumer(tb testing.TB, extra xkafka.ConfigMap, opts ...xkafka.Option) *xkafka.Consumer {
	tb.Helper()
	conf := c.Config(xkafka.ConfigMap{"group.id": tb.Name()})
	for k, v := range extra {
		conf[k] = v
	}
	cons, err := xkafka.NewConsumer(conf, append([]xkafka.Option{c.Option()}, opts...)...)
	if err != nil {
		tb.Fatalf("xkafkatest: new consumer: %v", err)
	}
	tb.Cleanup(func() { _ = cons.Close() })
	return cons
}

// NewAdmin 创建管理客户端。
func (c *Cluster) NewAdmin(tb testing.TB, extra xkafka.ConfigMap, opts ...xkafka.Option) *xkafka.Admin {
	tb.Helper()
	a, err := xkafka.NewAdmin(c.Config(extra), append([]xkafka.Option{c.Option()}, opts...)...)
	if err != nil {
		tb.Fatalf("xkafkatest: new admin: %v", err)
	}
	tb.Cleanup(func() { _ = a.Close() })
	return a
}

// ErrNotSupported 客户端类型不支持注入。
var ErrNotSupported = errors.New("xkafkatest: fatal injection not supported")

// InjectFatal 让客户端进入致命状态，效果与幂等生产者遇到不可恢复错误相同。
// client 为 *xkafka.Producer、*xkafka.Consumer 或 *xkafka.Admin。
func InjectFatal(client any, code xkafka.ErrorCode, reason string) error {
	if testhooks.InjectFatal == nil {
		return ErrNotSupported
	}
	return testhooks.InjectFatal(client, int(code), reason)
}
