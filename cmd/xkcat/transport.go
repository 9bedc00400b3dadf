package main

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/mq/xbroker/xsarama"
	"github.com/omeyang/xkclient/pkg/mq/xkafka"
)

// transports 可选的传输实现，confluent 在 cgo 构建中注册。
var transports = map[string]func() xbroker.Factory{
	"sarama": func() xbroker.Factory { return xsarama.Factory() },
	"mock":   func() xbroker.Factory { return mockCluster().Factory() },
}

// mockCluster 进程内共享的内存集群，未知主题按单分区自动创建。
var mockCluster = sync.OnceValue(func() *xbroker.MockCluster {
	return xbroker.NewMockCluster(xbroker.WithMockAutoCreateTopics(1))
})

func transportNames() string {
	return strings.Join(slices.Sorted(maps.Keys(transports)), ", ")
}

// resolveTransport 返回 name 对应的传输选项。mock 未指定 broker 时补上内存集群地址。
func resolveTransport(name string, conf xkafka.ConfigMap) (xkafka.Option, error) {
	factory, ok := transports[name]
	if !ok {
		return nil, usagef("unknown transport %q (available: %s)", name, transportNames())
	}
	if _, set := conf["bootstrap.servers"]; !set {
		if name != "mock" {
			return nil, usagef("--brokers or bootstrap.servers is required")
		}
		conf["bootstrap.servers"] = mockCluster().BootstrapServers()
	}
	return xkafka.WithTransportFactory(factory()), nil
}
