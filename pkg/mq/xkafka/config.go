package xkafka

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// ConfigValue 配置值：string、bool、整数或浮点数。
type ConfigValue any

// ConfigMap 客户端配置，键采用 librdkafka 的属性名。
type ConfigMap map[string]ConfigValue

// SetKey 设置配置项。
func (m ConfigMap) SetKey(key string, value ConfigValue) error {
	if key == "" {
		return newConfigError("(empty)", "empty property name")
	}
	m[key] = value
	return nil
}

// Get 读取配置项，不存在时返回 def。
func (m ConfigMap) Get(key string, def ConfigValue) ConfigValue {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

// Clone 浅拷贝。
func (m ConfigMap) Clone() ConfigMap {
	return maps.Clone(m)
}

// role 客户端角色。
type role int

const (
	roleProducer role = iota
	roleConsumer
	roleAdmin
)

func (r role) String() string {
	switch r {
	case roleConsumer:
		return "consumer"
	case roleAdmin:
		return "admin"
	default:
		return "producer"
	}
}

// offsetReset auto.offset.reset 策略。
type offsetReset int

const (
	resetLatest offsetReset = iota
	resetEarliest
	resetError
)

// settings 是配置解析后的不可变快照。
type settings struct {
	role     role
	brokers  []string
	clientID string

	mockBrokers        int
	requestTimeout     time.Duration
	metadataRefresh    time.Duration
	retryBackoff       time.Duration
	retryBackoffMax    time.Duration
	statisticsInterval time.Duration
	closeTimeout       time.Duration
	logLevel           int

	saslMechanism string
	oauthConfig   string

	// producer
	maxMessageBytes int
	queueMaxMsgs    int
	linger          time.Duration
	batchNumMsgs    int
	maxRetries      int
	messageTimeout  time.Duration
	idempotence     bool
	partitioner     string

	// consumer
	groupID            string
	groupInstanceID    string
	autoCommit         bool
	autoCommitInterval time.Duration
	autoOffsetStore    bool
	offsetReset        offsetReset
	assignor           xbroker.Assignor
	sessionTimeout     time.Duration
	partitionEOF       bool
	queuedMinMsgs      int
	fetchMaxRecords    int
	fetchWait          time.Duration

	// properties 交给 Transport 的全部配置字符串形式。
	properties map[string]string
}

// protocol 当前分配策略对应的再均衡协议。
func (s *settings) protocol() xbroker.Protocol {
	if s.assignor == nil {
		return xbroker.ProtocolEager
	}
	return s.assignor.Protocol()
}

// configReader 逐项读取配置并记录首个错误。
type configReader struct {
	m   ConfigMap
	err error
}

func (r *configReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *configReader) str(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func (r *configReader) lookup(keys ...string) (ConfigValue, bool) {
	for _, k := range keys {
		if v, ok := r.m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// integer 读取整数，支持别名，校验 [lo, hi]。
func (r *configReader) integer(def, lo, hi int, keys ...string) int {
	v, ok := r.lookup(keys...)
	if !ok {
		return def
	}
	key := keys[0]
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		n = int64(min(uint64(x), math.MaxInt64))
	case float64:
		if x != math.Trunc(x) {
			r.fail(newConfigError(key, "expected integer, got %v", x))
			return def
		}
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			r.fail(newConfigError(key, "expected integer, got %q", x))
			return def
		}
		n = parsed
	default:
		r.fail(newConfigError(key, "expected integer, got %T", v))
		return def
	}
	if n < int64(lo) || n > int64(hi) {
		r.fail(newConfigError(key, "value %d out of range [%d..%d]", n, lo, hi))
		return def
	}
	return int(n)
}

func (r *configReader) millis(def time.Duration, lo, hi int, keys ...string) time.Duration {
	return time.Duration(r.integer(int(def/time.Millisecond), lo, hi, keys...)) * time.Millisecond
}

func (r *configReader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			r.fail(newConfigError(key, "expected boolean, got %q", x))
			return def
		}
		return b
	default:
		r.fail(newConfigError(key, "expected boolean, got %T", v))
		return def
	}
}

func (r *configReader) enum(key, def string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(r.str(key, def)))
	if !slices.Contains(allowed, v) {
		r.fail(newConfigError(key, "invalid value %q, expected one of %s", v, strings.Join(allowed, ", ")))
		return def
	}
	return v
}

// partitionerNames 支持的分区器。
var partitionerNames = []string{
	"murmur2_random", "murmur2", "consistent", "consistent_random",
	"fnv1a", "fnv1a_random", "random", "xxhash",
}

// parseSettings 解析配置快照。conf 不会被修改。
func parseSettings(conf ConfigMap, r role) (*settings, error) {
	rd := &configReader{m: conf}
	s := &settings{role: r}

	servers := rd.str("bootstrap.servers", rd.str("metadata.broker.list", ""))
	for b := range strings.SplitSeq(servers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			s.brokers = append(s.brokers, b)
		}
	}
	s.clientID = rd.str("client.id", "xkclient")
	s.mockBrokers = rd.integer(0, 0, 10000, "test.mock.num.brokers")
	s.requestTimeout = rd.millis(30*time.Second, 1, 900000, "request.timeout.ms", "socket.timeout.ms")
	s.metadataRefresh = rd.millis(5*time.Minute, 10, 3600000, "topic.metadata.refresh.interval.ms")
	s.retryBackoff = rd.millis(100*time.Millisecond, 1, 300000, "retry.backoff.ms")
	s.retryBackoffMax = rd.millis(time.Second, 1, 300000, "retry.backoff.max.ms")
	s.statisticsInterval = rd.millis(0, 0, 86400000, "statistics.interval.ms")
	s.closeTimeout = rd.millis(5*time.Second, 0, 3600000, "close.timeout.ms")
	s.logLevel = rd.integer(6, 0, 7, "log_level")
	s.saslMechanism = strings.ToUpper(rd.str("sasl.mechanisms", rd.str("sasl.mechanism", "")))
	s.oauthConfig = rd.str("sasl.oauthbearer.config", "")
	s.retryBackoffMax = max(s.retryBackoffMax, s.retryBackoff)

	if len(s.brokers) == 0 && s.mockBrokers == 0 {
		rd.fail(newConfigError("bootstrap.servers", "required property not set"))
	}

	switch r {
	case roleProducer:
		s.maxMessageBytes = rd.integer(1000000, 1000, 1000000000, "message.max.bytes")
		s.queueMaxMsgs = rd.integer(100000, 1, 2147483647, "queue.buffering.max.messages")
		s.linger = rd.millis(5*time.Millisecond, 0, 900000, "linger.ms", "queue.buffering.max.ms")
		s.batchNumMsgs = rd.integer(10000, 1, 1000000, "batch.num.messages")
		s.maxRetries = rd.integer(2147483647, 0, 2147483647, "message.send.max.retries", "retries")
		s.messageTimeout = rd.millis(5*time.Minute, 0, 2147483647, "message.timeout.ms", "delivery.timeout.ms")
		s.idempotence = rd.boolean("enable.idempotence", false)
		s.partitioner = rd.enum("partitioner", "murmur2_random", partitionerNames...)
	case roleConsumer:
		s.groupID = rd.str("group.id", "")
		if s.groupID == "" {
			rd.fail(newConfigError("group.id", "required property not set"))
		}
		s.groupInstanceID = rd.str("group.instance.id", "")
		s.autoCommit = rd.boolean("enable.auto.commit", true)
		s.autoCommitInterval = rd.millis(5*time.Second, 0, 86400000, "auto.commit.interval.ms")
		s.autoOffsetStore = rd.boolean("enable.auto.offset.store", true)
		switch rd.enum("auto.offset.reset", "latest", "smallest", "earliest", "beginning", "largest", "latest", "end", "error") {
		case "smallest", "earliest", "beginning":
			s.offsetReset = resetEarliest
		case "error":
			s.offsetReset = resetError
		default:
			s.offsetReset = resetLatest
		}
		s.assignor = parseAssignor(rd)
		s.sessionTimeout = rd.millis(45*time.Second, 1, 3600000, "session.timeout.ms")
		s.partitionEOF = rd.boolean("enable.partition.eof", false)
		s.queuedMinMsgs = rd.integer(100000, 1, 10000000, "queued.min.messages")
		s.fetchMaxRecords = rd.integer(500, 1, 1000000, "fetch.max.records")
		s.fetchWait = rd.millis(100*time.Millisecond, 0, 300000, "fetch.wait.max.ms")
	}

	if rd.err != nil {
		return nil, rd.err
	}
	s.properties = stringProperties(conf)
	return s, nil
}

// parseAssignor 取策略列表中第一个受支持的分配器。
// 协作与急切策略不能混用。
func parseAssignor(rd *configReader) xbroker.Assignor {
	raw := rd.str("partition.assignment.strategy", "range,roundrobin")
	var chosen xbroker.Assignor
	var protocols []xbroker.Protocol
	for name := range strings.SplitSeq(raw, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		a, ok := xbroker.AssignorByName(name)
		if !ok {
			rd.fail(newConfigError("partition.assignment.strategy", "unsupported assignor %q", name))
			return nil
		}
		if chosen == nil {
			chosen = a
		}
		protocols = append(protocols, a.Protocol())
	}
	if chosen == nil {
		rd.fail(newConfigError("partition.assignment.strategy", "no assignor configured"))
		return nil
	}
	for _, p := range protocols {
		if p != protocols[0] {
			rd.fail(newConfigError("partition.assignment.strategy", "cannot mix eager and cooperative assignors"))
			return nil
		}
	}
	return chosen
}

func stringProperties(conf ConfigMap) map[string]string {
	out := make(map[string]string, len(conf))
	for k, v := range conf {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
