package xconfluent

import (
	"fmt"
	"maps"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// Option 调整各 librdkafka 句柄共用的配置。
type Option func(kafka.ConfigMap)

// WithProperty 设置任意 librdkafka 属性。
func WithProperty(key string, value kafka.ConfigValue) Option {
	return func(m kafka.ConfigMap) { m[key] = value }
}

// 转发给所有句柄的属性前缀与键。
var (
	sharedPrefixes = []string{"security.", "sasl.", "ssl.", "socket.", "reconnect.", "enable.ssl."}
	sharedKeys     = map[string]bool{
		"broker.version.fallback":            true,
		"api.version.request":                true,
		"client.rack":                        true,
		"message.max.bytes":                  true,
		"metadata.max.age.ms":                true,
		"topic.metadata.refresh.interval.ms": true,
		"debug":                              true,
	}
	producerKeys = map[string]bool{
		"acks":               true,
		"request.timeout.ms": true,
		"compression.type":   true,
		"compression.codec":  true,
	}
	fetchKeys = map[string]bool{
		"fetch.wait.max.ms":         true,
		"fetch.min.bytes":           true,
		"fetch.max.bytes":           true,
		"max.partition.fetch.bytes": true,
		"isolation.level":           true,
	}
)

// configs 各句柄的 librdkafka 配置。
type configs struct {
	producer kafka.ConfigMap
	fetch    kafka.ConfigMap
	group    kafka.ConfigMap
	oauth    bool
}

func shared(key string) bool {
	if sharedKeys[key] {
		return true
	}
	for _, p := range sharedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// newConfigs 按用途拆分连接属性。生产者不做内部重试，
// 拉取消费者不自动重置偏移，越界由客户端运行时处理。
func newConfigs(dc xbroker.DialConfig, opts []Option) (configs, error) {
	if len(dc.Brokers) == 0 {
		return configs{}, ErrNoBrokers
	}
	base := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(dc.Brokers, ","),
	}
	if dc.ClientID != "" {
		base["client.id"] = dc.ClientID
	}
	producer, fetch := kafka.ConfigMap{}, kafka.ConfigMap{}
	for k, v := range dc.Properties {
		switch {
		case shared(k):
			base[k] = v
		case producerKeys[k]:
			producer[k] = v
		case fetchKeys[k]:
			fetch[k] = v
		}
	}
	for _, opt := range opts {
		opt(base)
	}
	oauth := strings.EqualFold(fmt.Sprint(base["sasl.mechanisms"]), "OAUTHBEARER")

	cs := configs{
		producer: maps.Clone(base),
		fetch:    maps.Clone(base),
		group:    maps.Clone(base),
		oauth:    oauth,
	}
	maps.Copy(cs.producer, kafka.ConfigMap{
		"acks":                      "all",
		"enable.idempotence":        false,
		"message.send.max.retries":  0,
		"linger.ms":                 0,
		"go.delivery.reports":       true,
		"go.delivery.report.fields": "none",
	})
	maps.Copy(cs.producer, producer)

	maps.Copy(cs.fetch, kafka.ConfigMap{
		"group.id":                 "xkclient-fetch-" + uuid.NewString(),
		"enable.auto.commit":       false,
		"enable.auto.offset.store": false,
		"auto.offset.reset":        "error",
		"enable.partition.eof":     false,
		"fetch.wait.max.ms":        100,
		"isolation.level":          "read_committed",
	})
	maps.Copy(cs.fetch, fetch)

	maps.Copy(cs.group, kafka.ConfigMap{
		"enable.auto.commit":       false,
		"enable.auto.offset.store": false,
		"enable.partition.eof":     false,
	})
	return cs, nil
}

// groupConfig 在组消费者配置上写入本次加入的参数。
func (cs configs) groupConfig(req xbroker.JoinRequest) kafka.ConfigMap {
	m := maps.Clone(cs.group)
	m["group.id"] = req.Group
	m["partition.assignment.strategy"] = assignmentStrategy(req.Assignor)
	if req.InstanceID != "" {
		m["group.instance.id"] = req.InstanceID
	}
	if req.SessionTimeout > 0 {
		m["session.timeout.ms"] = int(req.SessionTimeout.Milliseconds())
	}
	return m
}

func assignmentStrategy(name string) string {
	switch name {
	case "roundrobin", "cooperative-sticky":
		return name
	default:
		return "range"
	}
}
