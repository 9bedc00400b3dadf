package xkafka

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omeyang/xkclient/internal/mqcore"
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/mq/xqueue"
	"github.com/omeyang/xkclient/pkg/observability/xmetrics"
	"github.com/omeyang/xkclient/pkg/resilience/xretry"
)

// Consumer 消费组成员或手动分配的消费者。
//
// 消息、分区 EOF 与再均衡事件进入消费者队列，由 Poll 服务；
// 再均衡监听器在调用 Poll 的 goroutine 上执行。
type Consumer struct {
	h   *handle
	eng *consumerEngine
	st  *consumerState
}

// NewConsumer 创建消费者。group.id 必填。
func NewConsumer(conf ConfigMap, opts ...Option) (*Consumer, error) {
	h, err := newHandle(conf, roleConsumer, opts)
	if err != nil {
		return nil, err
	}
	h.consumerQ = xqueue.New[Event]()
	if h.opts.pollSet {
		h.mainQ.Forward(h.consumerQ)
	}
	st := newConsumerState()
	eng := newConsumerEngine(h, st)
	h.start(eng)
	c := &Consumer{h: h, eng: eng, st: st}
	armCleanup(c, h)
	return c, nil
}

// String 返回客户端名。
func (c *Consumer) String() string { return c.h.name }

// =============================================================================
// 分配表
// =============================================================================

// partState 单个已分配分区的状态。
//
// version 在分配、seek、pause 时递增，携带旧 version 的已拉取消息在 Poll 时丢弃。
type partState struct {
	version   uint64
	needStart bool
	startAt   Offset
	// fetchPos 下一次拉取的偏移，startPos 为起点解析结果。
	fetchPos int64
	startPos int64
	// position 下一条交给应用的偏移，-1 未知。
	position    int64
	stored      int64
	storedMeta  *string
	storedEpoch *int32
	committed   int64
	paused      bool
	stopped     bool
	eofAt       int64
	leaderEpoch int32
	retryAt     time.Time
	retries     int
}

func (p *partState) fetchState() string {
	switch {
	case p.stopped:
		return "stopped"
	case p.paused:
		return "paused"
	case p.needStart:
		return "offset-query"
	default:
		return "active"
	}
}

// consumerState 应用 goroutine 与 serve goroutine 共享的消费者状态，受 mu 保护。
type consumerState struct {
	mu           sync.Mutex
	parts        map[xbroker.TopicPartition]*partState
	versionSeq   uint64
	wm           map[xbroker.TopicPartition]xbroker.Watermarks
	subscription []string
	memberID     string
	generation   int32
	rebalanceCnt int
	rbState      rebalanceState
	lost         bool

	// rebalanceMu 串行化监听器调用；finalRevoked 在 Close 撤销后丢弃剩余再均衡事件。
	rebalanceMu  sync.Mutex
	finalRevoked bool

	// inCallback 监听器执行期间为 true，允许订阅模式下的 Assign。
	inCallback atomic.Bool
	// applied 监听器已自行应用本次转换。
	applied atomic.Bool
}

func newConsumerState() *consumerState {
	return &consumerState{
		parts: make(map[xbroker.TopicPartition]*partState),
		wm:    make(map[xbroker.TopicPartition]xbroker.Watermarks),
	}
}

func (s *consumerState) newPartLocked(tp TopicPartition) *partState {
	s.versionSeq++
	start := tp.Offset
	if start != OffsetBeginning && start != OffsetEnd && !start.Valid() {
		start = OffsetStored
	}
	epoch := int32(-1)
	if tp.LeaderEpoch != nil {
		epoch = *tp.LeaderEpoch
	}
	ps := &partState{
		version: s.versionSeq, needStart: true, startAt: start,
		fetchPos: -1, startPos: -1, position: -1, stored: -1, committed: -1, eofAt: -1,
		leaderEpoch: epoch,
	}
	// 具体偏移直接作为起点，只有逻辑偏移需要查询。
	if start.Valid() {
		ps.needStart = false
		ps.fetchPos = int64(start)
		ps.startPos = int64(start)
		ps.position = int64(start)
	}
	return ps
}

// assign 以 tps 替换全部分配。
func (s *consumerState) assign(tps []TopicPartition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.parts)
	for _, tp := range tps {
		s.parts[tp.key()] = s.newPartLocked(tp)
	}
	s.applied.Store(true)
}

// incrementalAssign 追加分区，已分配的分区逐个报错。
func (s *consumerState) incrementalAssign(op string, tps []TopicPartition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TopicPartition, len(tps))
	for i, tp := range tps {
		out[i] = tp
		if _, ok := s.parts[tp.key()]; ok {
			out[i].Error = newErrorf(KindState, ErrState, op, "%s already assigned", tp.key())
			continue
		}
		s.parts[tp.key()] = s.newPartLocked(tp)
	}
	s.applied.Store(true)
	return partitionErrors(op, out)
}

func (s *consumerState) incrementalUnassign(tps []TopicPartition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tp := range tps {
		delete(s.parts, tp.key())
	}
	s.applied.Store(true)
}

// assignmentLocked 返回已排序的当前分配。
func (s *consumerState) assignmentLocked() []xbroker.TopicPartition {
	keys := make([]xbroker.TopicPartition, 0, len(s.parts))
	for k := range s.parts {
		keys = append(keys, k)
	}
	xbroker.SortPartitions(keys)
	return keys
}

// forEach 对 list（nil 时为当前分配）中的每个分区调用 fn，未分配的分区 ps 为 nil。
func (s *consumerState) forEachLocked(list *TopicPartitionList, fn func(tp *TopicPartition, ps *partState)) []TopicPartition {
	var items []TopicPartition
	if list == nil {
		for _, k := range s.assignmentLocked() {
			items = append(items, fromKey(k, OffsetInvalid))
		}
	} else {
		items = list.Items()
	}
	for i := range items {
		fn(&items[i], s.parts[items[i].key()])
	}
	return items
}

// =============================================================================
// 订阅与分配
// =============================================================================

// Subscribe 订阅主题，替换已有订阅。以 ^ 开头的名称按正则匹配。
func (c *Consumer) Subscribe(topics ...string) error {
	if err := c.h.usable("subscribe"); err != nil {
		return err
	}
	sub, err := parseSubscription(topics)
	if err != nil {
		return err
	}
	_, err = c.h.call(context.Background(), "subscribe", c.h.conf.requestTimeout, func(ctx context.Context) (any, error) {
		c.eng.setSubscription(ctx, sub)
		return nil, nil
	})
	return err
}

// Unsubscribe 离开消费组，自愿撤销当前分配（AssignmentLost 为 false）。
func (c *Consumer) Unsubscribe() error {
	_, err := c.h.call(context.Background(), "unsubscribe", c.h.conf.requestTimeout, func(ctx context.Context) (any, error) {
		c.eng.unsubscribe(ctx)
		return nil, nil
	})
	return err
}

// Subscription 返回当前订阅。
func (c *Consumer) Subscription() ([]string, error) {
	if err := c.h.usable("subscription"); err != nil {
		return nil, err
	}
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	return slices.Clone(c.st.subscription), nil
}

// Assign 以 list 替换当前分配。未指定具体偏移的分区从已提交偏移开始，
// 没有提交时按 auto.offset.reset。
//
// 订阅模式下只能在再均衡监听器中调用，否则返回 ErrState。
func (c *Consumer) Assign(list *TopicPartitionList) error {
	if err := c.checkAssign("assign"); err != nil {
		return err
	}
	var items []TopicPartition
	if list != nil {
		items = list.Items()
	}
	c.st.assign(items)
	c.h.kick()
	return nil
}

// Unassign 清空当前分配。
func (c *Consumer) Unassign() error {
	if err := c.checkAssign("unassign"); err != nil {
		return err
	}
	c.st.assign(nil)
	c.h.kick()
	return nil
}

// IncrementalAssign 追加分区，用于协作协议。已分配的分区以 *PartitionErrors 报告。
func (c *Consumer) IncrementalAssign(list *TopicPartitionList) error {
	if err := c.checkAssign("incremental_assign"); err != nil {
		return err
	}
	err := c.st.incrementalAssign("incremental_assign", list.Items())
	c.h.kick()
	return err
}

// IncrementalUnassign 移除分区，用于协作协议。
func (c *Consumer) IncrementalUnassign(list *TopicPartitionList) error {
	if err := c.checkAssign("incremental_unassign"); err != nil {
		return err
	}
	c.st.incrementalUnassign(list.Items())
	c.h.kick()
	return nil
}

// checkAssign 显式分配与订阅的协调：订阅中只允许在监听器内修改分配。
func (c *Consumer) checkAssign(op string) error {
	if err := c.h.usable(op); err != nil {
		return err
	}
	c.st.mu.Lock()
	subscribed := len(c.st.subscription) > 0
	c.st.mu.Unlock()
	if subscribed && !c.st.inCallback.Load() {
		return newError(KindState, ErrState, op, "cannot change assignment while subscribed outside a rebalance callback")
	}
	return nil
}

// Assignment 返回当前分配（已排序）。
func (c *Consumer) Assignment() (*TopicPartitionList, error) {
	if err := c.h.usable("assignment"); err != nil {
		return nil, err
	}
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	out := NewTopicPartitionList()
	for _, k := range c.st.assignmentLocked() {
		out.Add(fromKey(k, OffsetInvalid))
	}
	return out, nil
}

// AssignmentLost 报告当前（或最近一次）撤销是否为非自愿丢失。
func (c *Consumer) AssignmentLost() bool {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	return c.st.lost
}

// RebalanceProtocol 返回 "EAGER" 或 "COOPERATIVE"。
func (c *Consumer) RebalanceProtocol() string {
	return c.h.conf.protocol().String()
}

// MemberID 返回消费组成员 ID，未加入时为空。
func (c *Consumer) MemberID() (string, error) {
	if err := c.h.usable("member_id"); err != nil {
		return "", err
	}
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	return c.st.memberID, nil
}

// Pause 暂停拉取。已拉取未返回的消息被丢弃，恢复后从当前位置继续。
// 未分配的分区以 *PartitionErrors 报告，其余分区照常暂停。
func (c *Consumer) Pause(list *TopicPartitionList) error {
	return c.setPaused("pause", list, true)
}

// Resume 恢复拉取。
func (c *Consumer) Resume(list *TopicPartitionList) error {
	return c.setPaused("resume", list, false)
}

func (c *Consumer) setPaused(op string, list *TopicPartitionList, paused bool) error {
	if err := c.h.usable(op); err != nil {
		return err
	}
	if list == nil {
		return newError(KindValidation, ErrInvalidArg, op, "nil partition list")
	}
	c.st.mu.Lock()
	items := c.st.forEachLocked(list, func(tp *TopicPartition, ps *partState) {
		if ps == nil {
			tp.Error = newErrorf(KindState, ErrUnknownPartition, op, "%s not assigned", tp.key())
			return
		}
		if ps.paused == paused {
			return
		}
		ps.paused = paused
		if paused {
			c.st.versionSeq++
			ps.version = c.st.versionSeq
			switch {
			case ps.position >= 0:
				ps.fetchPos = ps.position
			case ps.startPos >= 0:
				ps.fetchPos = ps.startPos
			}
		}
	})
	c.st.mu.Unlock()
	c.h.kick()
	return partitionErrors(op, items)
}

// Seek 把分区的拉取位置移到 tp.Offset，可以是具体偏移或
// OffsetBeginning/OffsetEnd/OffsetStored。
func (c *Consumer) Seek(tp TopicPartition) error {
	return c.seek("seek", tp)
}

// SeekBy 按主题、分区与偏移定位。
func (c *Consumer) SeekBy(topic string, partition int32, offset Offset) error {
	return c.seek("seek_by", TopicPartition{Topic: topic, Partition: partition, Offset: offset})
}

func (c *Consumer) seek(op string, tp TopicPartition) error {
	if err := c.h.usable(op); err != nil {
		return err
	}
	if tp.Offset == OffsetInvalid || (tp.Offset < 0 && tp.Offset != OffsetBeginning && tp.Offset != OffsetEnd && tp.Offset != OffsetStored) {
		return newErrorf(KindValidation, ErrInvalidArg, op, "invalid offset %s", tp.Offset)
	}
	c.st.mu.Lock()
	ps, ok := c.st.parts[tp.key()]
	if !ok {
		c.st.mu.Unlock()
		return newErrorf(KindState, ErrUnknownPartition, op, "%s not assigned", tp.key())
	}
	c.st.versionSeq++
	ps.version = c.st.versionSeq
	ps.eofAt = -1
	ps.stopped = false
	ps.retries = 0
	ps.retryAt = time.Time{}
	if tp.Offset.Valid() {
		ps.needStart = false
		ps.fetchPos = int64(tp.Offset)
		ps.startPos = int64(tp.Offset)
		ps.position = int64(tp.Offset)
	} else {
		ps.needStart = true
		ps.startAt = tp.Offset
		ps.position = -1
	}
	c.st.mu.Unlock()
	c.h.kick()
	return nil
}

// =============================================================================
// Poll
// =============================================================================

// Poll 返回下一个事件，最多等待 timeout（0 不阻塞，xqueue.Infinite 无限期）。
//
// 返回 *Message、PartitionEOF、*Error、OffsetsCommitted、*Stats、
// OAuthBearerTokenRefresh，以及没有监听器时的 AssignedPartitions/RevokedPartitions；
// 超时返回 nil。客户端关闭时返回 Kind 为 KindClosed 的 *Error。
func (c *Consumer) Poll(timeout time.Duration) Event {
	if err := c.h.usable("poll"); err != nil && err.Kind == KindClosed {
		return err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	wait := timeout
	for {
		ev, ok := c.h.consumerQ.Pop(wait)
		if !ok {
			if c.h.consumerQ.Closed() {
				return newClosedError("poll")
			}
			return nil
		}
		if out := c.serveEvent(ev); out != nil {
			return out
		}
		if timeout >= 0 {
			wait = 0
			if timeout > 0 {
				wait = max(time.Until(deadline), 0)
			}
		}
	}
}

// ReadMessage 返回下一条消息，跳过其他事件（错误除外）。
func (c *Consumer) ReadMessage(timeout time.Duration) (*Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		wait := timeout
		if timeout > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				return nil, newTimeoutError("read_message")
			}
		}
		switch e := c.Poll(wait).(type) {
		case *Message:
			return e, nil
		case *Error:
			return nil, e
		case nil:
			if timeout >= 0 {
				return nil, newTimeoutError("read_message")
			}
		}
	}
}

// EventsPoll 服务未并入消费者队列的主队列（WithConsumerPollSet(false)），
// 返回下一个需要应用处理的事件。
func (c *Consumer) EventsPoll(timeout time.Duration) Event {
	if err := c.h.usable("events_poll"); err != nil && err.Kind == KindClosed {
		return err
	}
	ev, ok := c.h.mainQ.Pop(timeout)
	if !ok {
		if c.h.mainQ.Closed() {
			return newClosedError("events_poll")
		}
		return nil
	}
	return c.h.serveMain(ev)
}

// serveEvent 服务消费者队列事件，返回需要交给应用的事件。
func (c *Consumer) serveEvent(ev Event) Event {
	switch e := ev.(type) {
	case fetchedMessage:
		tp := e.msg.TopicPartition
		c.st.mu.Lock()
		ps, ok := c.st.parts[tp.key()]
		if !ok || ps.version != e.version {
			c.st.mu.Unlock()
			return nil
		}
		ps.position = int64(tp.Offset) + 1
		if c.h.conf.autoOffsetStore {
			ps.stored = ps.position
			ps.storedMeta = nil
			ps.storedEpoch = tp.LeaderEpoch
		}
		c.st.mu.Unlock()
		return e.msg
	case eofEvent:
		c.st.mu.Lock()
		ps, ok := c.st.parts[TopicPartition(e.eof).key()]
		stale := !ok || ps.version != e.version
		c.st.mu.Unlock()
		if stale {
			return nil
		}
		return e.eof
	case rebalanceEvent:
		return c.serveRebalance(e)
	default:
		return c.h.serveMain(ev)
	}
}

// Each 持续消费消息并交给 handler，直到 ctx 结束、客户端关闭或遇到致命错误。
//
// handler 的 ctx 带有从消息头提取的追踪信息。handler 返回错误或出现非致命客户端
// 错误时按 retry.backoff.ms 退避后继续。
func (c *Consumer) Each(ctx context.Context, handler func(ctx context.Context, msg *Message) error) error {
	if handler == nil {
		return &Error{Code: ErrInvalidArg, Kind: KindValidation, Op: "each", Message: "nil handler", cause: ErrNilHandler}
	}
	if err := c.h.usable("each"); err != nil {
		return err
	}
	pollWait := max(c.h.conf.fetchWait, 10*time.Millisecond)
	consume := func(ctx context.Context) error {
		switch e := c.Poll(pollWait).(type) {
		case *Message:
			return c.handle(ctx, e, handler)
		case *Error:
			return e
		default:
			return nil
		}
	}
	return mqcore.RunConsumeLoop(ctx, consume,
		mqcore.WithBackoff(xretry.NewRetryBackoff(c.h.conf.retryBackoff, c.h.conf.retryBackoffMax)),
		mqcore.WithOnError(func(err error) {
			c.h.log(logWarning, "CONSUME", "consume loop error: "+err.Error())
		}),
		mqcore.WithStop(mqcore.Terminal),
	)
}

func (c *Consumer) handle(ctx context.Context, msg *Message, handler func(context.Context, *Message) error) error {
	tp := msg.TopicPartition
	hctx := MergeTraceContext(ctx, mqcore.ExtractHeaders(c.h.opts.tracer, msg.headerSeq()))
	hctx, span := c.h.startSpan(hctx, "consume", xmetrics.KindConsumer, topicAttrs(tp.Topic, tp.Partition)...)
	err := handler(hctx, msg)
	span.End(xmetrics.Result{Err: err})
	return err
}

// SetOAuthBearerToken 设置 OAUTHBEARER 令牌。
func (c *Consumer) SetOAuthBearerToken(token OAuthBearerToken) error {
	return c.h.setOAuthBearerToken(token)
}

// SetOAuthBearerTokenFailure 报告令牌获取失败。
func (c *Consumer) SetOAuthBearerTokenFailure(reason string) error {
	return c.h.setOAuthBearerTokenFailure(reason)
}

// Stats 返回当前统计快照的 JSON。
func (c *Consumer) Stats(ctx context.Context) (string, error) {
	return c.h.statsJSON(ctx)
}

// Fatal 返回粘性致命错误，没有时返回 nil。
func (c *Consumer) Fatal() error {
	if f := c.h.fatal.Load(); f != nil {
		return f
	}
	return nil
}

// Close 撤销当前分配（调用监听器并在自动提交开启时提交），离开消费组并释放资源。
// 阻塞中的 Poll 返回关闭错误。可重复调用。
func (c *Consumer) Close() error {
	return c.h.close(func() {
		// 等待进行中的监听器返回，再按其结果决定最终撤销的分区
		c.st.rebalanceMu.Lock()
		defer c.st.rebalanceMu.Unlock()
		c.st.finalRevoked = true

		c.st.mu.Lock()
		subscribed := len(c.st.subscription) > 0
		generation := c.st.generation
		var parts []TopicPartition
		for _, k := range c.st.assignmentLocked() {
			parts = append(parts, fromKey(k, OffsetStored))
		}
		c.st.mu.Unlock()

		if subscribed && len(parts) > 0 {
			c.serveRebalanceLocked(rebalanceEvent{partitions: parts, generation: generation})
			return
		}
		if c.h.conf.autoCommit && len(parts) > 0 {
			c.commitBeforeRevoke(parts)
		}
	})
}

// =============================================================================
// consumerEngine
// =============================================================================

// fetchTask serve goroutine 在锁外执行的一次拉取。
type fetchTask struct {
	key     xbroker.TopicPartition
	pos     int64
	version uint64
}

// startTask 需要解析起点的分区。
type startTask struct {
	key     xbroker.TopicPartition
	startAt Offset
	version uint64
}

type consumerEngine struct {
	h       *handle
	conf    *settings
	st      *consumerState
	backoff xretry.BackoffPolicy

	// 以下只在 serve goroutine 上访问。
	sub          *subscription
	session      xbroker.GroupSession
	events       <-chan xbroker.GroupEvent
	joinedTopics []string
	planned      map[xbroker.TopicPartition]struct{}
	generation   int32
	joinAt       time.Time
	joinAttempt  int
	regexAt      time.Time
	commitAt     time.Time
}

func newConsumerEngine(h *handle, st *consumerState) *consumerEngine {
	return &consumerEngine{
		h:        h,
		conf:     h.conf,
		st:       st,
		backoff:  xretry.NewRetryBackoff(h.conf.retryBackoff, h.conf.retryBackoffMax),
		planned:  make(map[xbroker.TopicPartition]struct{}),
		commitAt: time.Now().Add(h.conf.autoCommitInterval),
	}
}

func (e *consumerEngine) notify() <-chan struct{}               { return nil }
func (e *consumerEngine) groupEvents() <-chan xbroker.GroupEvent { return e.events }

func (e *consumerEngine) run(ctx context.Context, now time.Time) time.Duration {
	next := e.maybeJoin(ctx, now)
	next = min(next, e.maybeAutoCommit(ctx, now))
	starts, fetches, wait := e.plan(now)
	e.resolveStarts(ctx, starts)
	fetched := false
	for _, f := range fetches {
		if e.fetch(ctx, f) {
			fetched = true
		}
	}
	switch {
	case len(starts) > 0 || fetched:
		return 0
	case len(fetches) > 0:
		// 已追上高水位，transport 不做长轮询
		return min(next, wait, e.conf.fetchWait)
	default:
		return min(next, wait)
	}
}

// plan 在锁内快照需要解析起点和拉取的分区。
func (e *consumerEngine) plan(now time.Time) (starts []startTask, fetches []fetchTask, wait time.Duration) {
	wait = idleWait
	backlog := e.h.consumerQ.Len() >= e.conf.queuedMinMsgs
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	for _, key := range e.st.assignmentLocked() {
		ps := e.st.parts[key]
		if ps.paused || ps.stopped {
			continue
		}
		if now.Before(ps.retryAt) {
			wait = min(wait, ps.retryAt.Sub(now))
			continue
		}
		if ps.needStart {
			starts = append(starts, startTask{key: key, startAt: ps.startAt, version: ps.version})
			continue
		}
		if !backlog {
			fetches = append(fetches, fetchTask{key: key, pos: ps.fetchPos, version: ps.version})
		}
	}
	return starts, fetches, wait
}

// resolveStarts 解析起点：已提交偏移，或按 auto.offset.reset 查询水位。
func (e *consumerEngine) resolveStarts(ctx context.Context, tasks []startTask) {
	if len(tasks) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, e.conf.requestTimeout)
	defer cancel()

	var stored []xbroker.TopicPartition
	for _, t := range tasks {
		if t.startAt == OffsetStored {
			stored = append(stored, t.key)
		}
	}
	committed := map[xbroker.TopicPartition]xbroker.OffsetAndMetadata{}
	if len(stored) > 0 {
		e.h.stats.requests.Add(1)
		got, err := e.h.transport.FetchCommitted(rctx, e.conf.groupID, stored)
		if err != nil {
			e.startFailed(tasks, fromBroker("offset_fetch", err))
			return
		}
		committed = got
	}

	for _, t := range tasks {
		spec := t.startAt
		var committedOff int64 = -1
		if spec == OffsetStored {
			if om, ok := committed[t.key]; ok && om.Offset >= 0 {
				committedOff = om.Offset
				e.setStart(t, om.Offset, committedOff)
				continue
			}
			switch e.conf.offsetReset {
			case resetEarliest:
				spec = OffsetBeginning
			case resetError:
				e.stopPartition(t, newErrorf(KindLocal, ErrAutoOffsetReset, "offset_reset",
					"%s: no committed offset and auto.offset.reset=error", t.key))
				continue
			default:
				spec = OffsetEnd
			}
		}
		e.h.stats.requests.Add(1)
		listed, err := e.h.transport.ListOffsets(rctx, t.key, xbroker.OffsetSpec(spec))
		if err != nil {
			e.startFailed([]startTask{t}, fromBroker("list_offsets", err))
			continue
		}
		e.setStart(t, listed.Offset, committedOff)
	}
}

func (e *consumerEngine) setStart(t startTask, pos, committed int64) {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	ps, ok := e.st.parts[t.key]
	if !ok || ps.version != t.version {
		return
	}
	ps.needStart = false
	ps.fetchPos = pos
	ps.startPos = pos
	ps.retries = 0
	if committed >= 0 {
		ps.committed = committed
	}
	e.h.log(logDebug, "FETCH", fmt.Sprintf("%s starting at offset %d", t.key, pos))
}

func (e *consumerEngine) startFailed(tasks []startTask, err *Error) {
	e.h.log(logWarning, "OFFSET", "start offset query failed: "+err.Error())
	now := time.Now()
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	for _, t := range tasks {
		if ps, ok := e.st.parts[t.key]; ok && ps.version == t.version {
			ps.retries++
			ps.retryAt = now.Add(e.backoff.NextDelay(ps.retries))
		}
	}
	if !err.Retryable() {
		e.h.consumerQ.Push(err)
	}
}

// stopPartition 停止拉取并报告错误，直到 Seek 或重新分配。
func (e *consumerEngine) stopPartition(t startTask, err *Error) {
	e.st.mu.Lock()
	if ps, ok := e.st.parts[t.key]; ok && ps.version == t.version {
		ps.stopped = true
		ps.needStart = false
	}
	e.st.mu.Unlock()
	e.h.consumerQ.Push(err)
}

// fetch 拉取一个分区，返回是否拿到记录。
func (e *consumerEngine) fetch(ctx context.Context, f fetchTask) bool {
	fctx, cancel := context.WithTimeout(ctx, e.conf.requestTimeout)
	res, err := e.h.transport.Fetch(fctx, f.key, f.pos, e.conf.fetchMaxRecords)
	cancel()
	e.h.stats.requests.Add(1)
	if err != nil {
		e.fetchFailed(f, fromBroker("fetch", err))
		return false
	}

	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	e.st.wm[f.key] = res.Watermarks
	ps, ok := e.st.parts[f.key]
	if !ok || ps.version != f.version {
		return false
	}
	ps.retries = 0
	for _, r := range res.Records {
		epoch := r.LeaderEpoch
		msg := &Message{
			TopicPartition: TopicPartition{
				Topic: f.key.Topic, Partition: f.key.Partition,
				Offset: Offset(r.Offset), LeaderEpoch: &epoch,
			},
			Key:           r.Key,
			Value:         r.Value,
			Headers:       fromBrokerHeaders(r.Headers),
			Timestamp:     r.Timestamp,
			TimestampType: TimestampCreateTime,
		}
		e.h.stats.rxMsgs.Add(1)
		e.h.stats.rxBytes.Add(int64(msg.size()))
		e.h.consumerQ.Push(fetchedMessage{msg: msg, version: f.version})
		ps.fetchPos = r.Offset + 1
	}
	if e.conf.partitionEOF && ps.fetchPos >= res.Watermarks.High && ps.eofAt != ps.fetchPos {
		ps.eofAt = ps.fetchPos
		e.h.consumerQ.Push(eofEvent{
			eof:     PartitionEOF{Topic: f.key.Topic, Partition: f.key.Partition, Offset: Offset(ps.fetchPos)},
			version: f.version,
		})
	}
	return len(res.Records) > 0
}

// fetchFailed 越界按 auto.offset.reset 重置；其他错误退避，不可重试的报告给应用。
func (e *consumerEngine) fetchFailed(f fetchTask, err *Error) {
	now := time.Now()
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	ps, ok := e.st.parts[f.key]
	if !ok || ps.version != f.version {
		return
	}
	if err.Code == ErrOffsetOutOfRange {
		e.h.log(logWarning, "FETCH", fmt.Sprintf("%s offset %d out of range, resetting", f.key, f.pos))
		if e.conf.offsetReset == resetError {
			ps.stopped = true
			e.h.consumerQ.Push(newErrorf(KindBroker, ErrAutoOffsetReset, "fetch",
				"%s: offset %d out of range and auto.offset.reset=error", f.key, f.pos))
			return
		}
		ps.needStart = true
		ps.startAt = OffsetEnd
		if e.conf.offsetReset == resetEarliest {
			ps.startAt = OffsetBeginning
		}
		return
	}
	if err.Code == ErrNotLeaderForPartition || err.Code == ErrUnknownTopicOrPartition {
		e.h.meta.invalidate(f.key.Topic)
	}
	ps.retries++
	ps.retryAt = now.Add(e.backoff.NextDelay(ps.retries))
	if !err.Retryable() {
		e.h.consumerQ.Push(err)
	}
}

// maybeAutoCommit 按 auto.commit.interval.ms 提交已存储的偏移。
func (e *consumerEngine) maybeAutoCommit(ctx context.Context, now time.Time) time.Duration {
	if !e.conf.autoCommit || e.conf.autoCommitInterval <= 0 {
		return idleWait
	}
	if now.Before(e.commitAt) {
		return e.commitAt.Sub(now)
	}
	e.commitAt = now.Add(e.conf.autoCommitInterval)
	if offsets := e.st.storedFor(nil); len(offsets) > 0 {
		if _, err := e.commitOffsets(ctx, "auto_commit", offsets); err != nil {
			e.h.log(logWarning, "COMMIT", "auto commit failed: "+err.Error())
		}
	}
	return e.conf.autoCommitInterval
}

// shutdown 提交剩余偏移并离开消费组。
func (e *consumerEngine) shutdown(ctx context.Context) {
	if e.conf.autoCommit {
		if offsets := e.st.storedFor(nil); len(offsets) > 0 {
			if _, err := e.commitOffsets(ctx, "commit", offsets); err != nil {
				e.h.log(logWarning, "COMMIT", "final commit failed: "+err.Error())
			}
		}
	}
	e.sub = nil
	e.leaveSession(ctx)
}

func (e *consumerEngine) failAll(*Error) {}

func (e *consumerEngine) appendStats(doc *statsDoc) {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	for key, ps := range e.st.parts {
		p := doc.partition(key.Topic, key.Partition)
		p.FetchState = ps.fetchState()
		p.AppOffset = ps.position
		p.StoredOffset = ps.stored
		p.CommittedOffset = ps.committed
		if wm, ok := e.st.wm[key]; ok {
			p.HiOffset, p.LoOffset = wm.High, wm.Low
			if ps.committed >= 0 {
				p.ConsumerLag = max(wm.High-ps.committed, 0)
			}
		}
	}
	state := "wait-join"
	switch {
	case e.session != nil:
		state = "up"
	case e.sub == nil:
		state = "init"
	}
	doc.Cgrp = &cgrpStats{
		State:          state,
		RebalanceState: e.st.rbState.String(),
		RebalanceCnt:   e.st.rebalanceCnt,
		AssignmentSize: len(e.st.parts),
		Generation:     e.st.generation,
	}
}

var _ engine = (*consumerEngine)(nil)
