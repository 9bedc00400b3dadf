package xsarama

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// defaultVersion 未配置 broker.version.fallback 时使用的协议版本。
var defaultVersion = sarama.V3_0_0_0

// Option 调整 sarama 配置，在连接属性之后应用。
type Option func(*sarama.Config)

// WithVersion 指定 broker 协议版本。
func WithVersion(v sarama.KafkaVersion) Option {
	return func(c *sarama.Config) { c.Version = v }
}

// WithTLS 启用 TLS 并使用给定配置。
func WithTLS(tc *tls.Config) Option {
	return func(c *sarama.Config) {
		c.Net.TLS.Enable = true
		c.Net.TLS.Config = tc
	}
}

// WithConfig 直接修改 sarama 配置。
func WithConfig(fn func(*sarama.Config)) Option {
	return func(c *sarama.Config) { fn(c) }
}

type properties map[string]string

func (p properties) millis(key string) (time.Duration, bool, error) {
	v, ok := p[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("xsarama: %s: invalid milliseconds %q", key, v)
	}
	return time.Duration(n) * time.Millisecond, true, nil
}

func (p properties) int32(key string) (int32, bool, error) {
	v, ok := p[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n <= 0 {
		return 0, false, fmt.Errorf("xsarama: %s: invalid size %q", key, v)
	}
	return int32(n), true, nil
}

// newConfig 把连接属性映射为 sarama 配置。
// 生产者不做内部重试，重试与超时由客户端运行时负责。
func newConfig(dc xbroker.DialConfig, opts []Option) (*sarama.Config, *tokenSource, error) {
	sc := sarama.NewConfig()
	if dc.ClientID != "" {
		sc.ClientID = dc.ClientID
	}
	sc.Version = defaultVersion
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Max = 0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewManualPartitioner
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	sc.Consumer.MaxWaitTime = 100 * time.Millisecond
	sc.Metadata.Full = false

	p := properties(dc.Properties)
	if v := p["broker.version.fallback"]; v != "" {
		ver, err := sarama.ParseKafkaVersion(v)
		if err != nil {
			return nil, nil, fmt.Errorf("xsarama: broker.version.fallback: %w", err)
		}
		sc.Version = ver
	}

	acks := p["acks"]
	if acks == "" {
		acks = p["request.required.acks"]
	}
	switch acks {
	case "", "all", "-1":
	case "0":
		sc.Producer.RequiredAcks = sarama.NoResponse
	case "1":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		return nil, nil, fmt.Errorf("xsarama: acks: unsupported value %q", acks)
	}

	if d, ok, err := p.millis("request.timeout.ms"); err != nil {
		return nil, nil, err
	} else if ok && d > 0 {
		sc.Net.ReadTimeout = d
		sc.Net.WriteTimeout = d
		sc.Producer.Timeout = d
	}
	if d, ok, err := p.millis("fetch.wait.max.ms"); err != nil {
		return nil, nil, err
	} else if ok {
		sc.Consumer.MaxWaitTime = d
	}
	if d, ok, err := p.millis("metadata.max.age.ms"); err != nil {
		return nil, nil, err
	} else if ok {
		sc.Metadata.RefreshFrequency = d
	}
	sizes := []struct {
		key string
		set func(int32)
	}{
		{"message.max.bytes", func(n int32) { sc.Producer.MaxMessageBytes = int(n) }},
		{"fetch.min.bytes", func(n int32) { sc.Consumer.Fetch.Min = n }},
		{"max.partition.fetch.bytes", func(n int32) { sc.Consumer.Fetch.Default = n }},
		{"fetch.max.bytes", func(n int32) { sc.Consumer.Fetch.Max = n }},
	}
	for _, s := range sizes {
		n, ok, err := p.int32(s.key)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			s.set(n)
		}
	}
	switch p["isolation.level"] {
	case "", "read_committed":
		sc.Consumer.IsolationLevel = sarama.ReadCommitted
	case "read_uncommitted":
		sc.Consumer.IsolationLevel = sarama.ReadUncommitted
	default:
		return nil, nil, fmt.Errorf("xsarama: isolation.level: unsupported value %q", p["isolation.level"])
	}

	tokens, err := applySecurity(sc, p)
	if err != nil {
		return nil, nil, err
	}
	for _, opt := range opts {
		opt(sc)
	}
	if !sc.Version.IsAtLeast(sarama.V1_0_0_0) {
		return nil, nil, fmt.Errorf("xsarama: broker version %s is older than 1.0.0", sc.Version)
	}
	if err := sc.Validate(); err != nil {
		return nil, nil, fmt.Errorf("xsarama: %w", err)
	}
	return sc, tokens, nil
}

func applySecurity(sc *sarama.Config, p properties) (*tokenSource, error) {
	proto := strings.ToLower(p["security.protocol"])
	switch proto {
	case "", "plaintext":
		return nil, nil
	case "ssl":
		sc.Net.TLS.Enable = true
		return nil, nil
	case "sasl_ssl":
		sc.Net.TLS.Enable = true
	case "sasl_plaintext":
	default:
		return nil, fmt.Errorf("xsarama: security.protocol: unsupported value %q", proto)
	}

	sc.Net.SASL.Enable = true
	switch mech := strings.ToUpper(p["sasl.mechanisms"]); mech {
	case "", sarama.SASLTypePlaintext:
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User = p["sasl.username"]
		sc.Net.SASL.Password = p["sasl.password"]
		return nil, nil
	case sarama.SASLTypeOAuth:
		tokens := &tokenSource{}
		sc.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		sc.Net.SASL.TokenProvider = tokens
		return tokens, nil
	default:
		return nil, fmt.Errorf("xsarama: sasl.mechanisms: unsupported value %q", mech)
	}
}

var errNoToken = errors.New("xsarama: no valid oauthbearer token")

// tokenSource 保存应用设置的 OAUTHBEARER 令牌，供 sarama 建连时读取。
type tokenSource struct {
	mu     sync.Mutex
	value  string
	expiry time.Time
}

func (s *tokenSource) set(value string, expiry time.Time) {
	s.mu.Lock()
	s.value, s.expiry = value, expiry
	s.mu.Unlock()
}

// Token 实现 sarama.AccessTokenProvider。
func (s *tokenSource) Token() (*sarama.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == "" || !time.Now().Before(s.expiry) {
		return nil, errNoToken
	}
	return &sarama.AccessToken{Token: s.value}, nil
}
