package xkafka

import (
	"context"
	"fmt"
	"time"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/observability/xmetrics"
	"github.com/omeyang/xkclient/pkg/resilience/xretry"
)

// =============================================================================
// 存储
// =============================================================================

// storedFor 返回 parts（nil 时为全部分配）中已存储且尚未提交的偏移。
func (s *consumerState) storedFor(parts []TopicPartition) []TopicPartition {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.assignmentLocked()
	if parts != nil {
		keys = keys[:0:0]
		for _, tp := range parts {
			keys = append(keys, tp.key())
		}
	}
	var out []TopicPartition
	for _, k := range keys {
		ps, ok := s.parts[k]
		if !ok || ps.stored < 0 || ps.stored == ps.committed {
			continue
		}
		tp := fromKey(k, Offset(ps.stored))
		tp.Metadata = ps.storedMeta
		tp.LeaderEpoch = ps.storedEpoch
		out = append(out, tp)
	}
	return out
}

// StoreOffsets 存储待提交偏移，由自动提交或无参数的 Commit 提交。
//
// enable.auto.offset.store 开启时返回 KindConfig 错误。
// 未分配的分区以 *PartitionErrors 报告，其余分区照常存储。
func (c *Consumer) StoreOffsets(list *TopicPartitionList) error {
	return c.storeOffsets("store_offsets", list)
}

// StoreOffset 存储 msg 之后的偏移，可选附带提交元数据。
func (c *Consumer) StoreOffset(msg *Message, metadata ...string) error {
	if msg == nil {
		return &Error{Code: ErrInvalidArg, Kind: KindValidation, Op: "store_offset", Message: ErrNilMessage.Error(), cause: ErrNilMessage}
	}
	tp := msg.TopicPartition
	tp.Offset++
	tp.Error = nil
	if len(metadata) > 0 {
		tp.Metadata = &metadata[0]
	}
	return c.storeOffsets("store_offset", NewTopicPartitionList(tp))
}

func (c *Consumer) storeOffsets(op string, list *TopicPartitionList) error {
	if err := c.h.usable(op); err != nil {
		return err
	}
	if c.h.conf.autoOffsetStore {
		e := newConfigError("enable.auto.offset.store",
			"%s requires enable.auto.offset.store=false", op)
		e.Op = op
		return e
	}
	if list == nil || list.Len() == 0 {
		return newError(KindValidation, ErrInvalidArg, op, "empty partition list")
	}
	c.st.mu.Lock()
	items := c.st.forEachLocked(list, func(tp *TopicPartition, ps *partState) {
		switch {
		case ps == nil:
			tp.Error = newErrorf(KindState, ErrState, op, "%s not assigned", tp.key())
		case !tp.Offset.Valid():
			tp.Error = newErrorf(KindValidation, ErrInvalidArg, op, "invalid offset %s", tp.Offset)
		default:
			ps.stored = int64(tp.Offset)
			ps.storedMeta = tp.Metadata
			ps.storedEpoch = tp.LeaderEpoch
		}
	})
	c.st.mu.Unlock()
	return partitionErrors(op, items)
}

// =============================================================================
// 提交
// =============================================================================

// Commit 提交偏移。
//
// list 为 nil 时提交当前分配中已存储的偏移（自动存储下即消费位置），
// 没有可提交的偏移时返回 ErrNoOffset。同步提交等待 broker 确认，可重试错误按
// WithCommitRetry 重试；异步提交立即返回 nil 列表，结果以 OffsetsCommitted
// 事件送达。
func (c *Consumer) Commit(ctx context.Context, list *TopicPartitionList, async bool) (*TopicPartitionList, error) {
	if err := c.h.usable("commit"); err != nil {
		return nil, err
	}
	var offsets []TopicPartition
	if list != nil {
		offsets = list.Items()
	} else {
		offsets = c.st.storedFor(nil)
	}
	return c.commit(ctx, "commit", offsets, async)
}

// CommitMessage 同步提交 msg 之后的偏移。
func (c *Consumer) CommitMessage(ctx context.Context, msg *Message) (*TopicPartitionList, error) {
	if msg == nil {
		return nil, &Error{Code: ErrInvalidArg, Kind: KindValidation, Op: "commit_message", Message: ErrNilMessage.Error(), cause: ErrNilMessage}
	}
	tp := msg.TopicPartition
	tp.Offset++
	tp.Error = nil
	return c.commit(ctx, "commit_message", []TopicPartition{tp}, false)
}

// CommitOffsets 同步提交 list 中的偏移。
func (c *Consumer) CommitOffsets(ctx context.Context, list *TopicPartitionList) (*TopicPartitionList, error) {
	if list == nil {
		return nil, newError(KindValidation, ErrInvalidArg, "commit_offsets", "nil partition list")
	}
	return c.commit(ctx, "commit_offsets", list.Items(), false)
}

func (c *Consumer) commit(ctx context.Context, op string, offsets []TopicPartition, async bool) (*TopicPartitionList, error) {
	if err := c.h.usable(op); err != nil {
		return nil, err
	}
	if c.h.conf.groupID == "" {
		return nil, newError(KindConfig, ErrInvalidArg, op, "group.id is required to commit offsets")
	}
	if len(offsets) == 0 {
		return nil, newError(KindLocal, ErrNoOffset, op, "no offsets to commit")
	}
	for _, tp := range offsets {
		if !tp.Offset.Valid() {
			return nil, newErrorf(KindValidation, ErrInvalidArg, op, "%s: invalid commit offset %s", tp.key(), tp.Offset)
		}
	}

	if async {
		c.h.ops.Push(func(sctx context.Context) {
			rctx, cancel := context.WithTimeout(sctx, c.h.conf.requestTimeout)
			defer cancel()
			res, err := c.eng.commitOffsets(rctx, op, offsets)
			if err == nil {
				err = partitionErrors(op, res)
			}
			c.h.mainQ.Push(OffsetsCommitted{Error: err, Offsets: res})
		})
		return nil, nil
	}

	ctx, span := c.h.startSpan(ctx, op, xmetrics.KindClient,
		xmetrics.String("messaging.consumer.group.name", c.h.conf.groupID))
	retryer := xretry.NewRetryer(
		xretry.WithRetryPolicy(c.h.opts.commitRetry),
		xretry.WithBackoffPolicy(xretry.NewRetryBackoff(c.h.conf.retryBackoff, c.h.conf.retryBackoffMax)),
		xretry.WithOnRetry(func(attempt int, err error) {
			c.h.log(logWarning, "COMMIT", fmt.Sprintf("commit attempt %d failed: %v", attempt, err))
		}),
	)
	res, err := xretry.DoWithResult(ctx, retryer, func(ctx context.Context) ([]TopicPartition, error) {
		v, err := c.h.call(ctx, op, c.h.conf.requestTimeout, func(ctx context.Context) (any, error) {
			return c.eng.commitOffsets(ctx, op, offsets)
		})
		if err != nil {
			return nil, err
		}
		return v.([]TopicPartition), nil
	})
	if err == nil {
		err = partitionErrors(op, res)
	}
	span.End(xmetrics.Result{Err: err})
	if res == nil {
		return nil, err
	}
	return NewTopicPartitionList(res...), err
}

// commitOffsets 在 serve goroutine 上提交，返回带分区错误的结果。
// 整个请求失败时返回错误，结果为 nil。
func (e *consumerEngine) commitOffsets(ctx context.Context, op string, offsets []TopicPartition) ([]TopicPartition, error) {
	req := make(map[xbroker.TopicPartition]xbroker.OffsetAndMetadata, len(offsets))
	for _, tp := range offsets {
		om := xbroker.OffsetAndMetadata{Offset: int64(tp.Offset), LeaderEpoch: -1}
		if tp.Metadata != nil {
			om.Metadata = *tp.Metadata
		}
		if tp.LeaderEpoch != nil {
			om.LeaderEpoch = *tp.LeaderEpoch
		}
		req[tp.key()] = om
	}
	e.h.stats.requests.Add(1)
	perPart, err := e.h.transport.CommitOffsets(ctx, e.conf.groupID, req)
	if err != nil {
		return nil, fromBroker(op, err)
	}

	out := make([]TopicPartition, len(offsets))
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	for i, tp := range offsets {
		out[i] = tp
		out[i].Error = nil
		if perr := perPart[tp.key()]; perr != nil {
			out[i].Error = fromBroker(op, perr)
			continue
		}
		if ps, ok := e.st.parts[tp.key()]; ok {
			ps.committed = int64(tp.Offset)
		}
	}
	e.h.log(logDebug, "COMMIT", fmt.Sprintf("%s: committed %d offset(s)", op, len(offsets)))
	return out, nil
}

// =============================================================================
// 查询
// =============================================================================

// Position 返回下一条将交给应用的偏移，未知时为 OffsetInvalid。
// list 为 nil 时查询当前分配；未分配的分区 Error 为 ErrUnknownPartition。
func (c *Consumer) Position(list *TopicPartitionList) (*TopicPartitionList, error) {
	if err := c.h.usable("position"); err != nil {
		return nil, err
	}
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	items := c.st.forEachLocked(list, func(tp *TopicPartition, ps *partState) {
		tp.Offset = OffsetInvalid
		if ps == nil {
			tp.Error = newErrorf(KindState, ErrUnknownPartition, "position", "%s not assigned", tp.key())
			return
		}
		if ps.position >= 0 {
			tp.Offset = Offset(ps.position)
		}
	})
	return NewTopicPartitionList(items...), nil
}

// Committed 向协调器查询已提交偏移。list 为 nil 时查询当前分配；
// 没有提交记录的分区 Offset 为 OffsetInvalid。
func (c *Consumer) Committed(list *TopicPartitionList, timeout time.Duration) (*TopicPartitionList, error) {
	if err := c.h.usable("committed"); err != nil {
		return nil, err
	}
	if c.h.conf.groupID == "" {
		return nil, newError(KindConfig, ErrInvalidArg, "committed", "group.id is required to query committed offsets")
	}
	c.st.mu.Lock()
	items := c.st.forEachLocked(list, func(*TopicPartition, *partState) {})
	c.st.mu.Unlock()
	keys := make([]xbroker.TopicPartition, len(items))
	for i, tp := range items {
		keys[i] = tp.key()
	}

	ctx, span := c.h.startSpan(context.Background(), "committed", xmetrics.KindClient)
	v, err := c.h.call(ctx, "committed", timeout, func(ctx context.Context) (any, error) {
		got, err := c.h.transport.FetchCommitted(ctx, c.h.conf.groupID, keys)
		if err != nil {
			return nil, fromBroker("committed", err)
		}
		return got, nil
	})
	span.End(xmetrics.Result{Err: err})
	if err != nil {
		return nil, err
	}
	got := v.(map[xbroker.TopicPartition]xbroker.OffsetAndMetadata)

	out := NewTopicPartitionList()
	for _, tp := range items {
		tp.Offset = OffsetInvalid
		tp.Error = nil
		if om, ok := got[tp.key()]; ok && om.Offset >= 0 {
			tp.Offset = Offset(om.Offset)
			if om.Metadata != "" {
				meta := om.Metadata
				tp.Metadata = &meta
			}
			if om.LeaderEpoch >= 0 {
				epoch := om.LeaderEpoch
				tp.LeaderEpoch = &epoch
			}
		}
		out.Add(tp)
	}
	return out, nil
}

// QueryWatermarkOffsets 向 broker 查询分区水位。
func (c *Consumer) QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (low, high int64, err error) {
	return c.h.queryWatermarks(topic, partition, timeout, c.st)
}

// GetWatermarkOffsets 返回最近一次拉取得知的水位，不发起请求。
// 还没有拉取过该分区时返回 ErrState。
func (c *Consumer) GetWatermarkOffsets(topic string, partition int32) (low, high int64, err error) {
	if err := c.h.usable("get_watermark_offsets"); err != nil {
		return -1, -1, err
	}
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	wm, ok := c.st.wm[xbroker.TopicPartition{Topic: topic, Partition: partition}]
	if !ok {
		return -1, -1, newErrorf(KindState, ErrState, "get_watermark_offsets", "no cached watermarks for %s[%d]", topic, partition)
	}
	return wm.Low, wm.High, nil
}

// queryWatermarks 供生产者与消费者共用。st 非 nil 时刷新消费者的水位缓存。
func (h *handle) queryWatermarks(topic string, partition int32, timeout time.Duration, st *consumerState) (low, high int64, err error) {
	const op = "query_watermark_offsets"
	if e := validateTopic(op, topic); e != nil {
		return -1, -1, e
	}
	if partition < 0 {
		return -1, -1, newErrorf(KindValidation, ErrInvalidArg, op, "invalid partition %d", partition)
	}
	key := xbroker.TopicPartition{Topic: topic, Partition: partition}
	ctx, span := h.startSpan(context.Background(), op, xmetrics.KindClient, topicAttrs(topic, partition)...)
	v, err := h.call(ctx, op, timeout, func(ctx context.Context) (any, error) {
		wm, err := h.transport.Watermarks(ctx, key)
		if err != nil {
			return nil, fromBroker(op, err)
		}
		return wm, nil
	})
	span.End(xmetrics.Result{Err: err})
	if err != nil {
		return -1, -1, err
	}
	wm := v.(xbroker.Watermarks)
	if st != nil {
		st.mu.Lock()
		st.wm[key] = wm
		st.mu.Unlock()
	}
	return wm.Low, wm.High, nil
}

// OffsetsForTimes 把 list 中每个分区的 Offset 视为毫秒时间戳，返回时间戳不早于它的
// 第一条消息的偏移；没有这样的消息时为 OffsetEnd。
func (c *Consumer) OffsetsForTimes(list *TopicPartitionList, timeout time.Duration) (*TopicPartitionList, error) {
	if err := c.h.usable("offsets_for_times"); err != nil {
		return nil, err
	}
	return c.h.offsetsForTimes(list, timeout)
}

func (h *handle) offsetsForTimes(list *TopicPartitionList, timeout time.Duration) (*TopicPartitionList, error) {
	const op = "offsets_for_times"
	if list == nil || list.Len() == 0 {
		return nil, newError(KindValidation, ErrInvalidArg, op, "empty partition list")
	}
	items := list.Items()
	v, err := h.call(context.Background(), op, timeout, func(ctx context.Context) (any, error) {
		for i := range items {
			tp := &items[i]
			listed, err := h.transport.ListOffsets(ctx, tp.key(), xbroker.OffsetSpecForTimestamp(int64(tp.Offset)))
			if err != nil {
				tp.Offset = OffsetInvalid
				tp.Error = fromBroker(op, err)
				continue
			}
			tp.Error = nil
			tp.Offset = Offset(listed.Offset)
			if listed.Offset < 0 {
				tp.Offset = OffsetEnd
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	res := v.([]TopicPartition)
	return NewTopicPartitionList(res...), partitionErrors(op, res)
}

// Lag 计算 committed 中每个分区的积压：高水位减已提交偏移。
//
// committed 的每个主题在结果中都有一个内层映射（可能为空）；分区只在已提交偏移
// 有效且能取得高水位时出现。timeout 约束整个调用，超出时限未查询到的分区视为
// 水位不可得。
func (c *Consumer) Lag(committed *TopicPartitionList, timeout time.Duration) (map[string]map[int32]int64, error) {
	if err := c.h.usable("lag"); err != nil {
		return nil, err
	}
	if committed == nil {
		return nil, newError(KindValidation, ErrInvalidArg, "lag", "nil partition list")
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	out := make(map[string]map[int32]int64)
	for _, tp := range committed.Items() {
		inner, ok := out[tp.Topic]
		if !ok {
			inner = make(map[int32]int64)
			out[tp.Topic] = inner
		}
		if !tp.Offset.Valid() || tp.Error != nil {
			continue
		}
		wait := timeout
		if timeout > 0 {
			if wait = time.Until(deadline); wait <= 0 {
				continue
			}
		}
		_, high, err := c.QueryWatermarkOffsets(tp.Topic, tp.Partition, wait)
		if err != nil {
			if IsClosed(err) || IsFatal(err) {
				return nil, err
			}
			continue
		}
		inner[tp.Partition] = max(high-int64(tp.Offset), 0)
	}
	return out, nil
}
