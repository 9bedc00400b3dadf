package xkafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xkclient/pkg/config/xconf"
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

func TestParseSettings_ProducerDefaults(t *testing.T) {
	s, err := parseSettings(ConfigMap{"bootstrap.servers": "a:9092, b:9092"}, roleProducer)
	require.NoError(t, err)

	assert.Equal(t, []string{"a:9092", "b:9092"}, s.brokers)
	assert.Equal(t, 1000000, s.maxMessageBytes)
	assert.Equal(t, 5*time.Millisecond, s.linger)
	assert.Equal(t, 5*time.Minute, s.messageTimeout)
	assert.Equal(t, "murmur2_random", s.partitioner)
	assert.Equal(t, "a:9092, b:9092", s.properties["bootstrap.servers"])
}

func TestParseSettings_ConsumerDefaults(t *testing.T) {
	s, err := parseSettings(ConfigMap{"test.mock.num.brokers": 1, "group.id": "g"}, roleConsumer)
	require.NoError(t, err)

	assert.True(t, s.autoCommit)
	assert.True(t, s.autoOffsetStore)
	assert.Equal(t, resetLatest, s.offsetReset)
	assert.Equal(t, xbroker.ProtocolEager, s.protocol())
	assert.Equal(t, "range", s.assignor.Name())
}

func TestParseSettings_Aliases(t *testing.T) {
	s, err := parseSettings(ConfigMap{
		"metadata.broker.list": "x:1",
		"queue.buffering.max.ms": "20",
		"retries":                3,
		"delivery.timeout.ms":    float64(1500),
	}, roleProducer)
	require.NoError(t, err)

	assert.Equal(t, []string{"x:1"}, s.brokers)
	assert.Equal(t, 20*time.Millisecond, s.linger)
	assert.Equal(t, 3, s.maxRetries)
	assert.Equal(t, 1500*time.Millisecond, s.messageTimeout)
}

func TestParseSettings_Errors(t *testing.T) {
	cases := []struct {
		name string
		conf ConfigMap
		role role
		key  string
	}{
		{"missing brokers", ConfigMap{}, roleProducer, "bootstrap.servers"},
		{"missing group", ConfigMap{"bootstrap.servers": "a"}, roleConsumer, "group.id"},
		{"bad integer", ConfigMap{"bootstrap.servers": "a", "linger.ms": "soon"}, roleProducer, "linger.ms"},
		{"out of range", ConfigMap{"bootstrap.servers": "a", "message.max.bytes": 1}, roleProducer, "message.max.bytes"},
		{"bad bool", ConfigMap{"bootstrap.servers": "a", "enable.idempotence": "maybe"}, roleProducer, "enable.idempotence"},
		{"bad enum", ConfigMap{"bootstrap.servers": "a", "group.id": "g", "auto.offset.reset": "sideways"}, roleConsumer, "auto.offset.reset"},
		{"mixed assignors", ConfigMap{"bootstrap.servers": "a", "group.id": "g", "partition.assignment.strategy": "range,cooperative-sticky"}, roleConsumer, "partition.assignment.strategy"},
		{"unknown assignor", ConfigMap{"bootstrap.servers": "a", "group.id": "g", "partition.assignment.strategy": "magic"}, roleConsumer, "partition.assignment.strategy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseSettings(tc.conf, tc.role)
			require.Error(t, err)
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, KindConfig, e.Kind)
			assert.Contains(t, e.Message, tc.key)
		})
	}
}

func TestParseSettings_CooperativeProtocol(t *testing.T) {
	s, err := parseSettings(ConfigMap{
		"bootstrap.servers":             "a",
		"group.id":                      "g",
		"partition.assignment.strategy": "cooperative-sticky",
	}, roleConsumer)
	require.NoError(t, err)
	assert.Equal(t, xbroker.ProtocolCooperative, s.protocol())
}

func TestConfigMap_CopiedOnCreate(t *testing.T) {
	conf := ConfigMap{"bootstrap.servers": "a"}
	s, err := parseSettings(conf.Clone(), roleProducer)
	require.NoError(t, err)
	conf["bootstrap.servers"] = "b"
	assert.Equal(t, []string{"a"}, s.brokers)

	assert.Error(t, conf.SetKey("", 1))
	assert.Equal(t, "fallback", conf.Get("missing", "fallback"))
}

func TestConfigFromXconf(t *testing.T) {
	yaml := []byte(`
kafka:
  bootstrap:
    servers: [b1:9092, b2:9092]
  group:
    id: billing
  enable:
    auto:
      commit: false
  linger:
    ms: 25
`)
	cfg, err := xconf.NewFromBytes(yaml, xconf.FormatYAML)
	require.NoError(t, err)

	conf, err := ConfigFromXconf(cfg, "kafka")
	require.NoError(t, err)
	assert.Equal(t, "b1:9092,b2:9092", conf["bootstrap.servers"])
	assert.Equal(t, "billing", conf["group.id"])

	s, err := parseSettings(conf, roleConsumer)
	require.NoError(t, err)
	assert.False(t, s.autoCommit)

	_, err = ConfigFromXconf(cfg, "missing")
	assert.Error(t, err)
}
