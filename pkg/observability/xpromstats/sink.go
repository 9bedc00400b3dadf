package xpromstats

import (
	"github.com/omeyang/xkclient/pkg/mq/xkafka"
)

// Sink 把 OnStats 送入 Collector，其余回调转发给 Next。
type Sink struct {
	collector *Collector
	next      xkafka.EventSink
}

var _ xkafka.EventSink = (*Sink)(nil)

// NewSink 创建 Sink。next 为 nil 时使用 xkafka.NewLogSink(nil)。
func NewSink(c *Collector, next xkafka.EventSink) *Sink {
	if next == nil {
		next = xkafka.NewLogSink(nil)
	}
	return &Sink{collector: c, next: next}
}

func (s *Sink) OnStats(json string) {
	if err := s.collector.Update([]byte(json)); err != nil {
		s.next.OnLog(4, "STATS", err.Error())
	}
	s.next.OnStats(json)
}

func (s *Sink) OnLog(level int, facility, msg string) { s.next.OnLog(level, facility, msg) }

func (s *Sink) OnError(err *xkafka.Error) { s.next.OnError(err) }

func (s *Sink) OnOAuthRefresh(config string) { s.next.OnOAuthRefresh(config) }
