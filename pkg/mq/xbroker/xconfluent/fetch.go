package xconfluent

import (
	"context"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

const (
	// fetchWait 单次 Fetch 在没有数据时最长等待的时间。
	fetchWait = 100 * time.Millisecond
	// bufferLimit 单分区缓冲的消息数上限，超过后暂停该分区。
	bufferLimit = 1000
)

// fetcher 以手动分配的 librdkafka 消费者模拟按分区拉取。
//
// 首次拉取某分区时从请求偏移开始分配，请求偏移与缓冲位置不一致时 seek。
// Poll 得到的其他分区消息留在各自的缓冲中。
type fetcher struct {
	mu     sync.Mutex
	c      *kafka.Consumer
	closed bool
	next   map[xbroker.TopicPartition]int64
	buf    map[xbroker.TopicPartition][]*kafka.Message
	errs   map[xbroker.TopicPartition]error
	paused map[xbroker.TopicPartition]bool
}

func newFetcher(c *kafka.Consumer) *fetcher {
	return &fetcher{
		c:      c,
		next:   make(map[xbroker.TopicPartition]int64),
		buf:    make(map[xbroker.TopicPartition][]*kafka.Message),
		errs:   make(map[xbroker.TopicPartition]error),
		paused: make(map[xbroker.TopicPartition]bool),
	}
}

func kafkaTP(tp xbroker.TopicPartition, offset int64) kafka.TopicPartition {
	topic := tp.Topic
	return kafka.TopicPartition{Topic: &topic, Partition: tp.Partition, Offset: kafka.Offset(offset)}
}

func (f *fetcher) fetch(ctx context.Context, tp xbroker.TopicPartition, offset int64, maxRecords int) (xbroker.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return xbroker.FetchResult{}, xbroker.ErrTransportClosed
	}
	if err := f.position(tp, offset); err != nil {
		return xbroker.FetchResult{}, err
	}

	deadline := time.Now().Add(fetchWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for len(f.buf[tp]) == 0 && f.errs[tp] == nil && ctx.Err() == nil {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		f.pollOnce(max(int(left.Milliseconds()), 1))
	}
	if err := f.errs[tp]; err != nil {
		delete(f.errs, tp)
		return xbroker.FetchResult{}, err
	}

	res := xbroker.FetchResult{Records: f.take(tp, maxRecords)}
	low, high, err := f.c.GetWatermarkOffsets(tp.Topic, tp.Partition)
	if err != nil || high < 0 {
		low, high, err = f.c.QueryWatermarkOffsets(tp.Topic, tp.Partition, timeoutMs(ctx, defaultTimeout))
		if err != nil {
			return xbroker.FetchResult{}, wrapErr(err)
		}
	}
	res.Watermarks = xbroker.Watermarks{Low: max(low, 0), High: high}
	return res, nil
}

// position 保证分区已分配且下一条消息就是 offset。
func (f *fetcher) position(tp xbroker.TopicPartition, offset int64) error {
	next, assigned := f.next[tp]
	var err error
	switch {
	case !assigned:
		err = f.c.IncrementalAssign([]kafka.TopicPartition{kafkaTP(tp, offset)})
	case next != offset:
		err = f.c.Seek(kafkaTP(tp, offset), 0)
	default:
		return nil
	}
	if err != nil {
		return wrapErr(err)
	}
	f.next[tp] = offset
	delete(f.buf, tp)
	delete(f.errs, tp)
	return f.resume(tp)
}

// pollOnce 取一个事件放入对应分区的缓冲。
func (f *fetcher) pollOnce(timeoutMs int) {
	switch ev := f.c.Poll(timeoutMs).(type) {
	case *kafka.Message:
		if ev.TopicPartition.Topic == nil {
			return
		}
		tp := xbroker.TopicPartition{Topic: *ev.TopicPartition.Topic, Partition: ev.TopicPartition.Partition}
		if ev.TopicPartition.Error != nil {
			f.errs[tp] = wrapErr(ev.TopicPartition.Error)
			return
		}
		expect, ok := f.next[tp]
		if !ok {
			return
		}
		if q := f.buf[tp]; len(q) > 0 {
			expect = int64(q[len(q)-1].TopicPartition.Offset) + 1
		}
		// seek 之前已在途的旧消息
		if int64(ev.TopicPartition.Offset) < expect {
			return
		}
		f.buf[tp] = append(f.buf[tp], ev)
		if len(f.buf[tp]) >= bufferLimit && !f.paused[tp] {
			if f.c.Pause([]kafka.TopicPartition{kafkaTP(tp, 0)}) == nil {
				f.paused[tp] = true
			}
		}
	case kafka.OAuthBearerTokenRefresh:
		// 令牌由 SetToken 统一下发
	}
}

// take 从缓冲取出至多 n 条，推进下一偏移。
func (f *fetcher) take(tp xbroker.TopicPartition, n int) []xbroker.FetchedRecord {
	q := f.buf[tp]
	if n <= 0 || n > len(q) {
		n = len(q)
	}
	if n == 0 {
		return nil
	}
	out := make([]xbroker.FetchedRecord, n)
	for i, m := range q[:n] {
		out[i] = fromMessage(m)
	}
	f.buf[tp] = q[n:]
	f.next[tp] = out[n-1].Offset + 1
	if len(f.buf[tp]) < bufferLimit/2 {
		_ = f.resume(tp)
	}
	return out
}

func (f *fetcher) resume(tp xbroker.TopicPartition) error {
	if !f.paused[tp] {
		return nil
	}
	if err := f.c.Resume([]kafka.TopicPartition{kafkaTP(tp, 0)}); err != nil {
		return wrapErr(err)
	}
	delete(f.paused, tp)
	return nil
}

func fromMessage(m *kafka.Message) xbroker.FetchedRecord {
	fr := xbroker.FetchedRecord{
		Record: xbroker.Record{
			Key:       m.Key,
			Value:     m.Value,
			Timestamp: m.Timestamp,
		},
		Offset:      int64(m.TopicPartition.Offset),
		LeaderEpoch: -1,
	}
	if m.TopicPartition.LeaderEpoch != nil {
		fr.LeaderEpoch = *m.TopicPartition.LeaderEpoch
	}
	if len(m.Headers) > 0 {
		fr.Headers = make([]xbroker.Header, len(m.Headers))
		for i, h := range m.Headers {
			fr.Headers[i] = xbroker.Header{Key: h.Key, Value: h.Value}
		}
	}
	return fr
}

func (f *fetcher) setToken(tok kafka.OAuthBearerToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	return f.c.SetOAuthBearerToken(tok)
}

func (f *fetcher) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return wrapErr(f.c.Close())
}
