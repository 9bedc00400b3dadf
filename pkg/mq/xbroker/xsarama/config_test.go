package xsarama

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

func dial(props map[string]string) xbroker.DialConfig {
	return xbroker.DialConfig{Brokers: []string{"localhost:9092"}, ClientID: "xkclient-test", Properties: props}
}

func TestNewConfig_Defaults(t *testing.T) {
	sc, tokens, err := newConfig(dial(nil), nil)
	require.NoError(t, err)
	assert.Nil(t, tokens)
	assert.Equal(t, "xkclient-test", sc.ClientID)
	assert.Equal(t, defaultVersion, sc.Version)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.True(t, sc.Producer.Return.Successes)
	assert.Zero(t, sc.Producer.Retry.Max)
	assert.False(t, sc.Consumer.Offsets.AutoCommit.Enable)
	assert.Equal(t, sarama.ReadCommitted, sc.Consumer.IsolationLevel)
	assert.Equal(t, 100*time.Millisecond, sc.Consumer.MaxWaitTime)
}

func TestNewConfig_Properties(t *testing.T) {
	sc, _, err := newConfig(dial(map[string]string{
		"broker.version.fallback":   "2.8.0",
		"acks":                      "1",
		"request.timeout.ms":        "5000",
		"fetch.wait.max.ms":         "250",
		"message.max.bytes":         "2048",
		"max.partition.fetch.bytes": "4096",
		"isolation.level":           "read_uncommitted",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, sarama.V2_8_0_0, sc.Version)
	assert.Equal(t, sarama.WaitForLocal, sc.Producer.RequiredAcks)
	assert.Equal(t, 5*time.Second, sc.Net.ReadTimeout)
	assert.Equal(t, 5*time.Second, sc.Producer.Timeout)
	assert.Equal(t, 250*time.Millisecond, sc.Consumer.MaxWaitTime)
	assert.Equal(t, 2048, sc.Producer.MaxMessageBytes)
	assert.Equal(t, int32(4096), sc.Consumer.Fetch.Default)
	assert.Equal(t, sarama.ReadUncommitted, sc.Consumer.IsolationLevel)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
	}{
		{"bad version", map[string]string{"broker.version.fallback": "banana"}},
		{"too old", map[string]string{"broker.version.fallback": "0.10.2.0"}},
		{"bad acks", map[string]string{"acks": "2"}},
		{"bad millis", map[string]string{"request.timeout.ms": "soon"}},
		{"bad size", map[string]string{"fetch.max.bytes": "-1"}},
		{"bad isolation", map[string]string{"isolation.level": "serializable"}},
		{"bad protocol", map[string]string{"security.protocol": "kerberos"}},
		{"bad mechanism", map[string]string{"security.protocol": "sasl_plaintext", "sasl.mechanisms": "GSSAPI"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newConfig(dial(tt.props), nil)
			assert.Error(t, err)
		})
	}
}

func TestNewConfig_Security(t *testing.T) {
	t.Run("sasl plain over tls", func(t *testing.T) {
		sc, tokens, err := newConfig(dial(map[string]string{
			"security.protocol": "SASL_SSL",
			"sasl.mechanisms":   "PLAIN",
			"sasl.username":     "alice",
			"sasl.password":     "secret",
		}), nil)
		require.NoError(t, err)
		assert.Nil(t, tokens)
		assert.True(t, sc.Net.TLS.Enable)
		assert.True(t, sc.Net.SASL.Enable)
		assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypePlaintext), sc.Net.SASL.Mechanism)
		assert.Equal(t, "alice", sc.Net.SASL.User)
	})

	t.Run("oauthbearer", func(t *testing.T) {
		sc, tokens, err := newConfig(dial(map[string]string{
			"security.protocol": "sasl_plaintext",
			"sasl.mechanisms":   "OAUTHBEARER",
		}), nil)
		require.NoError(t, err)
		require.NotNil(t, tokens)
		assert.Same(t, tokens, sc.Net.SASL.TokenProvider)

		_, err = tokens.Token()
		require.ErrorIs(t, err, errNoToken)

		tokens.set("jwt", time.Now().Add(time.Minute))
		tok, err := tokens.Token()
		require.NoError(t, err)
		assert.Equal(t, "jwt", tok.Token)

		tokens.set("old", time.Now().Add(-time.Second))
		_, err = tokens.Token()
		assert.ErrorIs(t, err, errNoToken)
	})
}

func TestNewConfig_OptionsApplyLast(t *testing.T) {
	sc, _, err := newConfig(dial(map[string]string{"broker.version.fallback": "2.8.0"}), []Option{
		WithVersion(sarama.V3_3_0_0),
		WithConfig(func(c *sarama.Config) { c.Producer.MaxMessageBytes = 512 }),
	})
	require.NoError(t, err)
	assert.Equal(t, sarama.V3_3_0_0, sc.Version)
	assert.Equal(t, 512, sc.Producer.MaxMessageBytes)
}
