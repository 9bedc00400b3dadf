package xkafka

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/omeyang/xkclient/internal/mqcore"
	"github.com/omeyang/xkclient/internal/pending"
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/mq/xqueue"
	"github.com/omeyang/xkclient/pkg/observability/xmetrics"
	"github.com/omeyang/xkclient/pkg/resilience/xretry"
)

// maxTopicNameLen broker 接受的主题名最大长度。
const maxTopicNameLen = 249

// flushSlice Flush 单次服务主队列的最长等待。
const flushSlice = 100 * time.Millisecond

// Producer 异步生产者。
//
// Produce 校验后立即返回 DeliveryHandle；消息由后台 goroutine 分区、攒批并发送，
// 每条消息恰好产生一个投递报告。所有方法可并发调用。
type Producer struct {
	h   *handle
	eng *producerEngine
}

// NewProducer 创建生产者。conf 会被复制，之后修改不影响客户端。
func NewProducer(conf ConfigMap, opts ...Option) (*Producer, error) {
	h, err := newHandle(conf, roleProducer, opts)
	if err != nil {
		return nil, err
	}
	eng := newProducerEngine(h)
	h.start(eng)
	p := &Producer{h: h, eng: eng}
	armCleanup(p, h)
	return p, nil
}

// String 返回客户端名。
func (p *Producer) String() string { return p.h.name }

// Produce 校验并入队一条消息。
//
// 校验失败（主题名、大小、头、分区号）同步返回 Kind 为 KindValidation 的错误，
// 不会入队；本地队列已满返回 ErrQueueFull。消息在返回前被复制，
// 调用方可以继续使用 msg。ctx 只用于注入追踪信息，不约束投递。
func (p *Producer) Produce(ctx context.Context, msg *Message) (*DeliveryHandle, error) {
	if err := p.h.usable("produce"); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, &Error{Code: ErrInvalidArg, Kind: KindValidation, Op: "produce", Message: "nil message", cause: ErrNilMessage}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tp := msg.TopicPartition
	ctx, span := p.h.startSpan(ctx, "produce", xmetrics.KindProducer, topicAttrs(tp.Topic, tp.Partition)...)

	dh, err := p.produce(ctx, msg)
	span.End(xmetrics.Result{Err: err})
	if err != nil {
		return nil, err
	}
	return dh, nil
}

func (p *Producer) produce(ctx context.Context, msg *Message) (*DeliveryHandle, error) {
	if err := p.validate(msg); err != nil {
		return nil, err
	}
	if p.eng.registry.Len() >= p.h.conf.queueMaxMsgs {
		e := newError(KindLocal, ErrQueueFull, "produce", "local queue full")
		e.Retriable = true
		return nil, e
	}

	m := msg.clone()
	m.TopicPartition.Offset = OffsetInvalid
	m.TopicPartition.Error = nil
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.TimestampType = TimestampCreateTime
	mqcore.InjectHeaders(ctx, p.h.opts.tracer, m.setHeader)

	var dh *DeliveryHandle
	err := p.h.admit("produce", func() error {
		seq, ph := p.eng.registry.Register()
		now := time.Now()
		om := &outMsg{seq: seq, msg: m, enqueued: now}
		if d := p.h.conf.messageTimeout; d > 0 {
			om.deadline = now.Add(d)
		}
		p.eng.sendQ.Push(om)
		dh = &DeliveryHandle{seq: seq, h: ph}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dh, nil
}

func (p *Producer) validate(msg *Message) error {
	tp := msg.TopicPartition
	if err := validateTopic("produce", tp.Topic); err != nil {
		return err
	}
	if tp.Partition < PartitionAny {
		return newErrorf(KindValidation, ErrInvalidArg, "produce", "invalid partition %d", tp.Partition)
	}
	for _, h := range msg.Headers {
		if h.Key == "" {
			return newError(KindValidation, ErrInvalidArg, "produce", "header key must not be empty")
		}
	}
	if size := msg.size(); size > p.h.conf.maxMessageBytes {
		return newErrorf(KindValidation, ErrMsgSizeTooLarge, "produce",
			"message size %d exceeds message.max.bytes %d", size, p.h.conf.maxMessageBytes)
	}
	if tp.Partition != PartitionAny {
		if n, ok := p.h.meta.partitions(tp.Topic); ok && tp.Partition >= n {
			return newErrorf(KindValidation, ErrUnknownPartition, "produce",
				"partition %d out of range for %q (%d partitions)", tp.Partition, tp.Topic, n)
		}
	}
	return nil
}

// validateTopic 主题名只允许 [a-zA-Z0-9._-]，长度 1..249。
func validateTopic(op, topic string) *Error {
	if topic == "" {
		return newError(KindValidation, ErrInvalidArg, op, "topic name must not be empty")
	}
	if len(topic) > maxTopicNameLen {
		return newErrorf(KindValidation, ErrInvalidArg, op, "topic name longer than %d characters", maxTopicNameLen)
	}
	if topic == "." || topic == ".." {
		return newErrorf(KindValidation, ErrInvalidArg, op, "topic name %q is not allowed", topic)
	}
	for _, r := range topic {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return newErrorf(KindValidation, ErrInvalidArg, op, "topic name %q contains illegal character %q", topic, r)
		}
	}
	return nil
}

// Poll 服务主队列最多 timeout，返回服务的事件数。
// 投递报告在此解析对应的 DeliveryHandle。关闭后返回关闭错误。
func (p *Producer) Poll(timeout time.Duration) (int, error) {
	if err := p.h.usable("poll"); err != nil && err.Kind == KindClosed {
		return 0, err
	}
	return p.h.pollMain(timeout), nil
}

// Flush 等待所有未决消息得到投递结果，最多 timeout。
// linger 在 Flush 期间失效。返回仍未解析的消息数；超时时同时返回超时错误，
// 关闭后返回关闭错误。
func (p *Producer) Flush(timeout time.Duration) (int, error) {
	if err := p.h.usable("flush"); err != nil && err.Kind == KindClosed {
		return p.Len(), err
	}
	_, span := p.h.startSpan(context.Background(), "flush", xmetrics.KindProducer)
	p.eng.flushing.Add(1)
	defer p.eng.flushing.Add(-1)
	p.h.kick()

	deadline := time.Now().Add(timeout)
	for p.Len() > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 || p.h.state.Load() >= stateClosing {
			break
		}
		p.h.pollMain(min(remaining, flushSlice))
	}
	n := p.Len()
	var err *Error
	switch {
	case p.h.state.Load() >= stateClosing:
		err = newClosedError("flush")
	case n > 0:
		err = newTimeoutError("flush")
	}
	if err == nil {
		span.End(xmetrics.Result{Attrs: []xmetrics.Attr{xmetrics.Int("remaining", n)}})
		return n, nil
	}
	span.End(xmetrics.Result{Err: err, Attrs: []xmetrics.Attr{xmetrics.Int("remaining", n)}})
	return n, err
}

// Len 返回尚未解析的消息数：排队中、发送中以及报告尚未被服务的消息。
func (p *Producer) Len() int {
	return p.eng.registry.Len()
}

// Purge 丢弃尚未发往 broker 的消息，它们以 ErrPurgeQueue 报告。
// 已发送等待确认的消息不受影响。
func (p *Producer) Purge() error {
	_, err := p.h.call(context.Background(), "purge", p.h.conf.requestTimeout, func(context.Context) (any, error) {
		p.eng.purge(newError(KindLocal, ErrPurgeQueue, "purge", "purged from local queue"), false)
		return nil, nil
	})
	return err
}

// SetOAuthBearerToken 设置 OAUTHBEARER 令牌，应在收到 OAuthBearerTokenRefresh 后调用。
func (p *Producer) SetOAuthBearerToken(token OAuthBearerToken) error {
	return p.h.setOAuthBearerToken(token)
}

// SetOAuthBearerTokenFailure 报告令牌获取失败，客户端稍后再次请求。
func (p *Producer) SetOAuthBearerTokenFailure(reason string) error {
	return p.h.setOAuthBearerTokenFailure(reason)
}

// GetMetadata 查询集群元数据，topics 为空时返回全部主题。
func (p *Producer) GetMetadata(ctx context.Context, topics []string, timeout time.Duration) (*xbroker.Metadata, error) {
	v, err := p.h.call(ctx, "get_metadata", timeout, func(ctx context.Context) (any, error) {
		md, err := p.h.meta.refresh(ctx, topics)
		if err != nil {
			return nil, fromBroker("get_metadata", err)
		}
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*xbroker.Metadata), nil
}

// QueryWatermarkOffsets 向 broker 查询分区水位。
func (p *Producer) QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (low, high int64, err error) {
	return p.h.queryWatermarks(topic, partition, timeout, nil)
}

// Stats 返回当前统计快照的 JSON。
func (p *Producer) Stats(ctx context.Context) (string, error) {
	return p.h.statsJSON(ctx)
}

// Health 检查客户端可用且能获取集群元数据。
func (p *Producer) Health(ctx context.Context) error {
	_, err := p.GetMetadata(ctx, nil, p.h.conf.requestTimeout)
	return err
}

// Fatal 返回粘性致命错误，没有时返回 nil。
func (p *Producer) Fatal() error {
	if f := p.h.fatal.Load(); f != nil {
		return f
	}
	return nil
}

// Close 在 close.timeout.ms 内尽量发送排队的消息，其余以 ErrPurgeQueue 报告，
// 然后释放资源。可重复调用。
func (p *Producer) Close() error {
	return p.h.close(nil)
}

// =============================================================================
// producerEngine
// =============================================================================

// outMsg 引擎侧的待发消息，只保存序号，句柄由调用方持有。
type outMsg struct {
	seq       uint64
	msg       *Message
	enqueued  time.Time
	deadline  time.Time
	notBefore time.Time
	retries   int
}

func (m *outMsg) expired(now time.Time) bool {
	return !m.deadline.IsZero() && !now.Before(m.deadline)
}

// partQueue 单个分区的发送队列。
type partQueue struct {
	msgs []*outMsg
}

func (q *partQueue) ready(now time.Time) bool {
	return len(q.msgs) > 0 && !now.Before(q.msgs[0].notBefore)
}

// idempotenceFatal 幂等生产者遇到这些错误后无法保证顺序与去重。
var idempotenceFatal = map[ErrorCode]bool{
	ErrOutOfOrderSequenceNumber:             true,
	ErrInvalidProducerEpoch:                 true,
	ErrProducerFenced:                       true,
	ErrorCode(xbroker.ErrUnknownProducerID): true,
}

type producerEngine struct {
	h        *handle
	conf     *settings
	sendQ    *xqueue.Queue[*outMsg]
	registry *pending.Registry[*DeliveryReport]
	part     partitioner
	backoff  xretry.BackoffPolicy
	flushing atomic.Int32

	// 以下只在 serve goroutine 上访问。
	queues      map[xbroker.TopicPartition]*partQueue
	waiting     []*outMsg
	metaAt      time.Time
	metaAttempt int
}

func newProducerEngine(h *handle) *producerEngine {
	return &producerEngine{
		h:        h,
		conf:     h.conf,
		sendQ:    xqueue.New[*outMsg](),
		registry: pending.NewRegistry[*DeliveryReport](),
		part:     newPartitioner(h.conf.partitioner),
		backoff:  xretry.NewRetryBackoff(h.conf.retryBackoff, h.conf.retryBackoffMax),
		queues:   make(map[xbroker.TopicPartition]*partQueue),
	}
}

func (p *producerEngine) notify() <-chan struct{}                    { return p.sendQ.Signal() }
func (p *producerEngine) groupEvents() <-chan xbroker.GroupEvent      { return nil }
func (p *producerEngine) onGroupEvent(context.Context, xbroker.GroupEvent, bool) {}

func (p *producerEngine) run(ctx context.Context, now time.Time) time.Duration {
	p.intake()
	p.routeWaiting(ctx, now)
	p.expire(now)
	return p.dispatch(ctx, now)
}

// intake 把新消息分配到分区队列；分区数未知的消息等待元数据。
func (p *producerEngine) intake() {
	for {
		om, ok := p.sendQ.Pop(0)
		if !ok {
			return
		}
		p.route(om)
	}
}

func (p *producerEngine) route(om *outMsg) {
	tp := om.msg.TopicPartition
	n, known := p.h.meta.partitions(tp.Topic)
	switch {
	case tp.Partition == PartitionAny && !known:
		p.waiting = append(p.waiting, om)
		return
	case tp.Partition == PartitionAny:
		om.msg.TopicPartition.Partition = p.part(om.msg.Key, n)
	case known && tp.Partition >= n:
		p.fail(om, newErrorf(KindBroker, ErrUnknownPartition, "produce",
			"partition %d does not exist in %q", tp.Partition, tp.Topic))
		return
	}
	key := om.msg.TopicPartition.key()
	q, ok := p.queues[key]
	if !ok {
		q = &partQueue{}
		p.queues[key] = q
	}
	q.msgs = append(q.msgs, om)
}

// routeWaiting 为等待分区的消息刷新元数据，失败时按退避重试。
func (p *producerEngine) routeWaiting(ctx context.Context, now time.Time) {
	if len(p.waiting) == 0 || now.Before(p.metaAt) {
		return
	}
	topics := make([]string, 0, len(p.waiting))
	for _, om := range p.waiting {
		if !slices.Contains(topics, om.msg.TopicPartition.Topic) {
			topics = append(topics, om.msg.TopicPartition.Topic)
		}
	}
	p.h.stats.requests.Add(1)
	if _, err := p.h.meta.refresh(ctx, topics); err != nil {
		p.metaAttempt++
		p.metaAt = now.Add(p.backoff.NextDelay(p.metaAttempt))
		p.h.log(logWarning, "METADATA", "metadata refresh failed: "+err.Error())
		return
	}
	p.metaAttempt = 0
	waiting := p.waiting
	p.waiting = nil
	for _, om := range waiting {
		if _, ok := p.h.meta.partitions(om.msg.TopicPartition.Topic); ok {
			p.route(om)
			continue
		}
		p.waiting = append(p.waiting, om)
	}
	if len(p.waiting) > 0 {
		p.metaAttempt++
		p.metaAt = now.Add(p.backoff.NextDelay(p.metaAttempt))
	}
}

// expire 以 message.timeout.ms 结束尚未发送成功的消息。
func (p *producerEngine) expire(now time.Time) {
	kept := p.waiting[:0]
	for _, om := range p.waiting {
		if !om.expired(now) {
			kept = append(kept, om)
			continue
		}
		topic := om.msg.TopicPartition.Topic
		if info, ok := p.h.meta.lookup(topic); ok && info.err != nil {
			p.fail(om, newErrorf(KindBroker, ErrUnknownTopic, "produce", "topic %q unknown: %v", topic, info.err))
			continue
		}
		p.fail(om, newError(KindTimeout, ErrMsgTimedOut, "produce", "message timed out"))
	}
	clear(p.waiting[len(kept):])
	p.waiting = kept

	for _, q := range p.queues {
		kept := q.msgs[:0]
		for _, om := range q.msgs {
			if om.expired(now) {
				p.fail(om, newError(KindTimeout, ErrMsgTimedOut, "produce", "message timed out"))
				continue
			}
			kept = append(kept, om)
		}
		clear(q.msgs[len(kept):])
		q.msgs = kept
	}
}

// dispatch 发送就绪的批次，返回下次需要运行的间隔。
//
// 分区队列在攒满 batch.num.messages、最早的消息等待超过 linger.ms、
// 或正在 Flush/关闭时发送。
func (p *producerEngine) dispatch(ctx context.Context, now time.Time) time.Duration {
	urgent := p.flushing.Load() > 0 || p.h.state.Load() >= stateClosing
	next := idleWait
	if len(p.waiting) > 0 {
		next = min(next, max(p.metaAt.Sub(now), 0))
	}
	for _, key := range p.sortedKeys() {
		q := p.queues[key]
		for q.ready(now) {
			due := q.msgs[0].enqueued.Add(p.conf.linger)
			if !urgent && len(q.msgs) < p.conf.batchNumMsgs && now.Before(due) {
				next = min(next, due.Sub(now))
				break
			}
			p.send(ctx, key, q, now)
		}
		if len(q.msgs) > 0 {
			if wait := q.msgs[0].notBefore.Sub(now); wait > 0 {
				next = min(next, wait)
			}
			if d := q.msgs[0].deadline; !d.IsZero() {
				next = min(next, max(d.Sub(now), 0))
			}
		} else {
			delete(p.queues, key)
		}
	}
	for _, om := range p.waiting {
		if !om.deadline.IsZero() {
			next = min(next, max(om.deadline.Sub(now), 0))
		}
	}
	return next
}

func (p *producerEngine) sortedKeys() []xbroker.TopicPartition {
	keys := make([]xbroker.TopicPartition, 0, len(p.queues))
	for k := range p.queues {
		keys = append(keys, k)
	}
	xbroker.SortPartitions(keys)
	return keys
}

// send 发送分区队列头部的一个批次。
func (p *producerEngine) send(ctx context.Context, key xbroker.TopicPartition, q *partQueue, now time.Time) {
	n := min(len(q.msgs), p.conf.batchNumMsgs)
	// 只发送退避已结束的连续前缀，保持分区内顺序。
	for i := 1; i < n; i++ {
		if now.Before(q.msgs[i].notBefore) {
			n = i
			break
		}
	}
	batch := slices.Clone(q.msgs[:n])
	q.msgs = q.msgs[n:]

	records := make([]xbroker.Record, len(batch))
	for i, om := range batch {
		p.registry.MarkInFlight(om.seq)
		records[i] = xbroker.Record{
			Key:       om.msg.Key,
			Value:     om.msg.Value,
			Headers:   toBrokerHeaders(om.msg.Headers),
			Timestamp: om.msg.Timestamp,
		}
	}

	rctx, cancel := context.WithTimeout(ctx, p.conf.requestTimeout)
	results, err := p.h.transport.Produce(rctx, key, records)
	cancel()
	p.h.stats.requests.Add(1)
	if err != nil {
		p.h.log(logWarning, "PRODUCE", fmt.Sprintf("produce to %s failed: %v", key, err))
		p.retryOrFail(q, batch, fromBroker("produce", err), now)
		return
	}

	var retry []*outMsg
	var retryErr *Error
	for i, om := range batch {
		if i >= len(results) {
			retry = append(retry, om)
			retryErr = newError(KindLocal, ErrFail, "produce", "short produce response")
			continue
		}
		r := results[i]
		if r.Err != nil {
			e := fromBroker("produce", r.Err)
			if e.Retryable() && p.canRetry(om, now) {
				retry = append(retry, om)
				retryErr = e
				continue
			}
			p.terminal(om, p.giveUp(om, e))
			continue
		}
		p.deliver(om, r)
	}
	if len(retry) > 0 {
		p.retryOrFail(q, retry, retryErr, now)
	}
}

func (p *producerEngine) canRetry(om *outMsg, now time.Time) bool {
	if om.retries >= p.conf.maxRetries {
		return false
	}
	delay := p.backoff.NextDelay(om.retries + 1)
	return om.deadline.IsZero() || now.Add(delay).Before(om.deadline)
}

// giveUp 返回放弃重试时报告的错误。可重试的错误因 message.timeout.ms 无法再重试时按超时报告。
func (p *producerEngine) giveUp(om *outMsg, err *Error) *Error {
	if !err.Retryable() || om.retries >= p.conf.maxRetries {
		return err
	}
	e := newError(KindTimeout, ErrMsgTimedOut, "produce", "message timed out: "+err.Message)
	e.cause = err
	return e
}

// retryOrFail 可重试的批次放回队首，按退避延后；其余以 err 结束。
func (p *producerEngine) retryOrFail(q *partQueue, batch []*outMsg, err *Error, now time.Time) {
	if err.Code == ErrNotLeaderForPartition || err.Code == ErrUnknownTopicOrPartition {
		p.h.meta.invalidate(batch[0].msg.TopicPartition.Topic)
	}
	var requeue []*outMsg
	for _, om := range batch {
		if err.Retryable() && p.canRetry(om, now) {
			om.retries++
			om.notBefore = now.Add(p.backoff.NextDelay(om.retries))
			requeue = append(requeue, om)
			continue
		}
		p.terminal(om, p.giveUp(om, err))
	}
	if len(requeue) > 0 {
		q.msgs = append(requeue, q.msgs...)
	}
}

// terminal 不可重试的失败；幂等生产者遇到序号类错误时整个客户端进入致命状态。
func (p *producerEngine) terminal(om *outMsg, err *Error) {
	if p.conf.idempotence && idempotenceFatal[err.Code] {
		err = p.h.setFatal(err.Code, "idempotent producer: "+err.Message)
	}
	p.fail(om, err)
}

func (p *producerEngine) deliver(om *outMsg, r xbroker.ProduceResult) {
	om.msg.TopicPartition.Offset = Offset(r.Offset)
	if !r.Timestamp.IsZero() && !r.Timestamp.Equal(om.msg.Timestamp) {
		om.msg.Timestamp = r.Timestamp
		om.msg.TimestampType = TimestampLogAppendTime
	}
	p.h.stats.txMsgs.Add(1)
	p.h.stats.txBytes.Add(int64(om.msg.size()))
	p.h.mainQ.Push(deliveryEvent{seq: om.seq, report: &DeliveryReport{Message: om.msg}})
}

func (p *producerEngine) fail(om *outMsg, err *Error) {
	p.h.stats.txErrs.Add(1)
	om.msg.TopicPartition.Error = err
	p.h.mainQ.Push(deliveryEvent{seq: om.seq, report: &DeliveryReport{Message: om.msg, Error: err}})
}

// resolve 在服务主队列时把报告交给调用方的句柄。
func (p *producerEngine) resolve(e deliveryEvent) {
	var err error
	if e.report.Error != nil {
		err = e.report.Error
	}
	p.registry.Resolve(e.seq, e.report, err)
}

// purge 丢弃本地排队的消息。all 为 false 时跳过已发送过的消息（重试中）。
func (p *producerEngine) purge(err *Error, all bool) {
	p.intake()
	pendingOnly := func(om *outMsg) bool {
		if all {
			return true
		}
		h, ok := p.registry.Lookup(om.seq)
		return ok && h.State() == pending.StatePending
	}
	kept := p.waiting[:0]
	for _, om := range p.waiting {
		if pendingOnly(om) {
			p.fail(om, err)
			continue
		}
		kept = append(kept, om)
	}
	p.waiting = kept
	for key, q := range p.queues {
		kept := q.msgs[:0]
		for _, om := range q.msgs {
			if pendingOnly(om) {
				p.fail(om, err)
				continue
			}
			kept = append(kept, om)
		}
		q.msgs = kept
		if len(q.msgs) == 0 {
			delete(p.queues, key)
		}
	}
}

func (p *producerEngine) outstanding() int {
	n := len(p.waiting) + p.sendQ.Len()
	for _, q := range p.queues {
		n += len(q.msgs)
	}
	return n
}

// shutdown 在宽限期内继续发送，超时后剩余消息以 ErrPurgeQueue 报告。
func (p *producerEngine) shutdown(ctx context.Context) {
	p.flushing.Add(1)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		wait := p.run(ctx, time.Now())
		if p.outstanding() == 0 {
			return
		}
		timer.Reset(max(wait, time.Millisecond))
		select {
		case <-ctx.Done():
			p.purge(newError(KindLocal, ErrPurgeQueue, "close", "purged on close"), true)
			return
		case <-p.sendQ.Signal():
		case <-timer.C:
		}
	}
}

// failAll 以 err 结束引擎中的全部消息；关闭时还放弃所有未解析的句柄。
func (p *producerEngine) failAll(err *Error) {
	p.purge(err, true)
	if err.Kind != KindClosed {
		return
	}
	p.registry.Abandon(func(uint64) (*DeliveryReport, error) {
		return &DeliveryReport{Error: err}, err
	})
}

func (p *producerEngine) appendStats(doc *statsDoc) {
	doc.MsgCnt = p.registry.Len()
	for key, q := range p.queues {
		doc.partition(key.Topic, key.Partition).MsgqCnt = len(q.msgs)
	}
}

var _ engine = (*producerEngine)(nil)

