package xkafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/omeyang/xkclient/pkg/observability/xlog"
)

// Event 从 Poll 返回的事件。
//
// 具体类型：*Message、*Error、PartitionEOF、OffsetsCommitted、*Stats、
// OAuthBearerTokenRefresh。
type Event interface {
	String() string
}

// PartitionEOF 分区已读到高水位。Offset 为下一条将到达的偏移。
type PartitionEOF TopicPartition

func (p PartitionEOF) String() string {
	return fmt.Sprintf("EOF at %s", TopicPartition(p))
}

// OffsetsCommitted 异步提交的结果。
type OffsetsCommitted struct {
	Error   error
	Offsets []TopicPartition
}

func (o OffsetsCommitted) String() string {
	return fmt.Sprintf("OffsetsCommitted (%v, %v)", o.Error, o.Offsets)
}

// Stats 统计 JSON。
type Stats struct {
	JSON string
}

func (s *Stats) String() string { return s.JSON }

// OAuthBearerTokenRefresh 请求应用设置新的 OAUTHBEARER 令牌。
type OAuthBearerTokenRefresh struct {
	Config string
}

func (o OAuthBearerTokenRefresh) String() string { return "OAuthBearerTokenRefresh" }

// 以下为运行时内部事件，由 Poll 就地服务，不返回给应用。

// deliveryEvent 投递报告，按序号关联到 DeliveryHandle。
type deliveryEvent struct {
	seq    uint64
	report *DeliveryReport
}

func (d deliveryEvent) String() string { return "delivery report" }

// fetchedMessage 拉取到的消息，version 过期时丢弃。
type fetchedMessage struct {
	msg     *Message
	version uint64
}

func (f fetchedMessage) String() string { return f.msg.String() }

// eofEvent 与 fetchedMessage 一样受 version 约束。
type eofEvent struct {
	eof     PartitionEOF
	version uint64
}

func (e eofEvent) String() string { return e.eof.String() }

// =============================================================================
// EventSink
// =============================================================================

// EventSink 接收客户端事件。回调在服务队列的 goroutine 上执行，不应长时间阻塞。
type EventSink interface {
	// OnLog 客户端日志，level 为 syslog 严重级别（0–7）。
	OnLog(level int, facility, msg string)
	// OnStats 统计 JSON，按 statistics.interval.ms 触发。
	OnStats(json string)
	// OnError 非致命或致命的客户端错误。
	OnError(err *Error)
	// OnOAuthRefresh 需要刷新 OAUTHBEARER 令牌。
	OnOAuthRefresh(config string)
}

// BaseSink 是 EventSink 的空实现，可嵌入以只覆盖部分回调。
type BaseSink struct{}

func (BaseSink) OnLog(int, string, string) {}
func (BaseSink) OnStats(string)            {}
func (BaseSink) OnError(*Error)            {}
func (BaseSink) OnOAuthRefresh(string)     {}

// LogSink 把事件写入 xlog.Logger。
type LogSink struct {
	Logger xlog.Logger
}

// NewLogSink 创建 LogSink，nil logger 使用 xlog.Default()。
func NewLogSink(l xlog.Logger) *LogSink {
	if l == nil {
		l = xlog.Default()
	}
	return &LogSink{Logger: l}
}

func (s *LogSink) OnLog(level int, facility, msg string) {
	xlog.LogSyslog(context.Background(), s.Logger, level, facility, msg)
}

func (s *LogSink) OnStats(json string) {
	s.Logger.Debug(context.Background(), "statistics", slog.Int("bytes", len(json)))
}

func (s *LogSink) OnError(err *Error) {
	s.Logger.Error(context.Background(), "client error",
		xlog.Err(err), slog.String("code", err.Code.String()), slog.Bool("fatal", err.Fatal))
}

func (s *LogSink) OnOAuthRefresh(string) {
	s.Logger.Warn(context.Background(), "oauthbearer token refresh requested",
		slog.Time("at", time.Now()))
}

var (
	_ EventSink = BaseSink{}
	_ EventSink = (*LogSink)(nil)
)
