package xkafka

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/observability/xlog"
)

// RebalanceListener 接收再均衡通知，在调用 Poll 的 goroutine 上执行。
// 通知逐个串行送达，Close 的最终撤销也不例外；回调内不能调用 Poll 或 Close。
//
// 回调内可以调用 Assign/IncrementalAssign 等方法自行应用变更；
// 没有调用时，回调返回后客户端自动应用。回调返回错误或 panic 都不会
// 中断再均衡，错误以 ErrRebalanceCallback 报告给 EventSink。
type RebalanceListener interface {
	// OnPartitionsAssigned 急切协议下为完整的新分配，协作协议下只含新增分区。
	OnPartitionsAssigned(c *Consumer, partitions []TopicPartition) error
	// OnPartitionsRevoked 急切协议下为完整的旧分配，协作协议下只含移除分区。
	// c.AssignmentLost() 为 true 时分区已被协调器非自愿收回，不应再提交。
	OnPartitionsRevoked(c *Consumer, partitions []TopicPartition) error
}

// RebalanceHooks 以函数实现 RebalanceListener，nil 字段忽略对应通知。
type RebalanceHooks struct {
	Assigned func(c *Consumer, partitions []TopicPartition) error
	Revoked  func(c *Consumer, partitions []TopicPartition) error
}

func (r RebalanceHooks) OnPartitionsAssigned(c *Consumer, partitions []TopicPartition) error {
	if r.Assigned == nil {
		return nil
	}
	return r.Assigned(c, partitions)
}

func (r RebalanceHooks) OnPartitionsRevoked(c *Consumer, partitions []TopicPartition) error {
	if r.Revoked == nil {
		return nil
	}
	return r.Revoked(c, partitions)
}

var _ RebalanceListener = RebalanceHooks{}

// AssignedPartitions 分区已分配。没有设置 RebalanceListener 时由 Poll 返回。
type AssignedPartitions struct {
	Partitions []TopicPartition
}

func (e AssignedPartitions) String() string {
	return fmt.Sprintf("AssignedPartitions: %v", e.Partitions)
}

// RevokedPartitions 分区已收回。没有设置 RebalanceListener 时由 Poll 返回。
type RevokedPartitions struct {
	Partitions []TopicPartition
	Lost       bool
}

func (e RevokedPartitions) String() string {
	if e.Lost {
		return fmt.Sprintf("RevokedPartitions (lost): %v", e.Partitions)
	}
	return fmt.Sprintf("RevokedPartitions: %v", e.Partitions)
}

// rebalanceState 分配状态机。
type rebalanceState int

const (
	rbUnassigned rebalanceState = iota
	rbAssigning
	rbAssigned
	rbRevoking
)

func (s rebalanceState) String() string {
	switch s {
	case rbAssigning:
		return "assigning"
	case rbAssigned:
		return "assigned"
	case rbRevoking:
		return "revoking"
	default:
		return "unassigned"
	}
}

// rebalanceEvent 计划好的一次转换，由 serve goroutine 放入消费者队列。
type rebalanceEvent struct {
	assign     bool
	partitions []TopicPartition
	lost       bool
	generation int32
}

func (e rebalanceEvent) String() string {
	if e.assign {
		return AssignedPartitions{Partitions: e.partitions}.String()
	}
	return RevokedPartitions{Partitions: e.partitions, Lost: e.lost}.String()
}

// =============================================================================
// 订阅与组会话（serve goroutine）
// =============================================================================

// subscription 解析后的订阅：普通主题名与 ^ 开头的正则。
type subscription struct {
	raw      []string
	topics   []string
	patterns []*regexp.Regexp
}

func parseSubscription(topics []string) (*subscription, error) {
	if len(topics) == 0 {
		return nil, newError(KindValidation, ErrInvalidArg, "subscribe", "no topics given")
	}
	sub := &subscription{raw: slices.Clone(topics)}
	for _, t := range topics {
		if strings.HasPrefix(t, "^") {
			re, err := regexp.Compile(t)
			if err != nil {
				return nil, newErrorf(KindValidation, ErrInvalidArg, "subscribe", "invalid topic pattern %q: %v", t, err)
			}
			sub.patterns = append(sub.patterns, re)
			continue
		}
		if err := validateTopic("subscribe", t); err != nil {
			return nil, err
		}
		if !slices.Contains(sub.topics, t) {
			sub.topics = append(sub.topics, t)
		}
	}
	return sub, nil
}

// resolve 返回订阅当前匹配的主题（已排序）。有正则时查询全部主题元数据。
func (e *consumerEngine) resolveTopics(ctx context.Context) ([]string, error) {
	sub := e.sub
	out := slices.Clone(sub.topics)
	if len(sub.patterns) > 0 {
		md, err := e.h.meta.refresh(ctx, nil)
		if err != nil {
			return nil, err
		}
		for name, tm := range md.Topics {
			if tm.Err != nil || slices.Contains(out, name) {
				continue
			}
			for _, re := range sub.patterns {
				if re.MatchString(name) {
					out = append(out, name)
					break
				}
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// setSubscription 替换订阅；已有会话时离组并以新主题重新加入。
// 已计划的分配保留，下一次组事件以它为基准规划撤销与分配。
func (e *consumerEngine) setSubscription(ctx context.Context, sub *subscription) {
	e.sub = sub
	e.leaveSession(ctx)
	e.joinAt = time.Time{}
	e.joinAttempt = 0
	e.regexAt = time.Time{}
	e.st.mu.Lock()
	e.st.subscription = slices.Clone(sub.raw)
	e.st.mu.Unlock()
}

// unsubscribe 离组并自愿撤销计划中的全部分区。
func (e *consumerEngine) unsubscribe(ctx context.Context) {
	e.sub = nil
	e.leaveSession(ctx)
	if len(e.planned) > 0 {
		e.h.consumerQ.Push(rebalanceEvent{partitions: e.plannedList(), generation: e.generation})
		clear(e.planned)
	}
	e.st.mu.Lock()
	e.st.subscription = nil
	e.st.lost = false
	e.st.memberID = ""
	e.st.mu.Unlock()
}

func (e *consumerEngine) leaveSession(ctx context.Context) {
	if e.session == nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, e.conf.requestTimeout)
	defer cancel()
	if err := e.session.Leave(lctx); err != nil {
		e.h.log(logWarning, "CGRP", "leave group failed: "+err.Error())
	}
	e.session = nil
	e.events = nil
	e.joinedTopics = nil
}

// maybeJoin 订阅中且没有会话时加入消费组，失败按退避重试。
func (e *consumerEngine) maybeJoin(ctx context.Context, now time.Time) time.Duration {
	if e.sub == nil {
		return idleWait
	}
	if e.session != nil {
		return e.maybeRefreshPattern(ctx, now)
	}
	if now.Before(e.joinAt) {
		return e.joinAt.Sub(now)
	}

	jctx, cancel := context.WithTimeout(ctx, e.conf.requestTimeout)
	defer cancel()
	topics, err := e.resolveTopics(jctx)
	if err == nil {
		e.h.stats.requests.Add(1)
		var session xbroker.GroupSession
		session, err = e.h.transport.JoinGroup(jctx, xbroker.JoinRequest{
			Group:          e.conf.groupID,
			InstanceID:     e.conf.groupInstanceID,
			Topics:         topics,
			Assignor:       e.conf.assignor.Name(),
			Protocol:       e.conf.protocol(),
			SessionTimeout: e.conf.sessionTimeout,
		})
		if err == nil {
			e.session = session
			e.events = session.Events()
			e.joinedTopics = topics
			e.joinAttempt = 0
			e.regexAt = now.Add(e.conf.metadataRefresh)
			e.st.mu.Lock()
			e.st.memberID = session.MemberID()
			e.st.mu.Unlock()
			e.h.log(logInfo, "CGRP", fmt.Sprintf("joined group %q as %s with topics %v",
				e.conf.groupID, session.MemberID(), topics))
			return 0
		}
	}

	ke := fromBroker("join_group", err)
	e.joinAttempt++
	delay := e.backoff.NextDelay(e.joinAttempt)
	e.joinAt = now.Add(delay)
	e.h.log(logWarning, "CGRP", "join group failed: "+ke.Error())
	if !ke.Retryable() {
		e.h.postError(ke)
	}
	return delay
}

// maybeRefreshPattern 正则订阅按 topic.metadata.refresh.interval.ms 重新匹配，
// 匹配集合变化时重新入组。
func (e *consumerEngine) maybeRefreshPattern(ctx context.Context, now time.Time) time.Duration {
	if len(e.sub.patterns) == 0 {
		return idleWait
	}
	if now.Before(e.regexAt) {
		return e.regexAt.Sub(now)
	}
	e.regexAt = now.Add(e.conf.metadataRefresh)
	rctx, cancel := context.WithTimeout(ctx, e.conf.requestTimeout)
	topics, err := e.resolveTopics(rctx)
	cancel()
	if err != nil {
		e.h.log(logWarning, "CGRP", "pattern refresh failed: "+err.Error())
		return e.conf.metadataRefresh
	}
	if !slices.Equal(topics, e.joinedTopics) {
		e.h.log(logInfo, "CGRP", fmt.Sprintf("subscription changed to %v, rejoining", topics))
		e.leaveSession(ctx)
		e.joinAt = time.Time{}
		return 0
	}
	return e.conf.metadataRefresh
}

// onGroupEvent 把协调器的分配规划为撤销/分配事件，放入消费者队列。
func (e *consumerEngine) onGroupEvent(ctx context.Context, ev xbroker.GroupEvent, ok bool) {
	now := time.Now()
	if !ok {
		// 会话结束：被逐出或传输关闭，仍在订阅时重新加入
		e.session = nil
		e.events = nil
		e.joinedTopics = nil
		e.joinAttempt++
		e.joinAt = now.Add(e.backoff.NextDelay(e.joinAttempt))
		return
	}
	if ev.Err != nil {
		e.h.postError(fromBroker("group", ev.Err))
		return
	}
	e.generation = ev.Generation
	e.st.mu.Lock()
	e.st.generation = ev.Generation
	e.st.rebalanceCnt++
	e.st.mu.Unlock()

	if ev.Lost {
		e.h.log(logWarning, "CGRP", fmt.Sprintf("assignment lost in generation %d", ev.Generation))
		if len(e.planned) > 0 {
			e.h.consumerQ.Push(rebalanceEvent{partitions: e.plannedList(), lost: true, generation: ev.Generation})
			clear(e.planned)
		}
		e.session = nil
		e.events = nil
		e.joinedTopics = nil
		e.joinAt = now.Add(e.conf.retryBackoff)
		return
	}

	next := make(map[xbroker.TopicPartition]struct{}, len(ev.Assignment))
	for _, tp := range ev.Assignment {
		next[tp] = struct{}{}
	}
	revoke, assign := planRebalance(e.conf.protocol(), e.planned, next)
	e.h.logger.Debug(ctx, "group assignment received",
		xlog.Group(e.conf.groupID), xlog.Generation(ev.Generation),
		slog.Int("assigned", len(assign)), slog.Int("revoked", len(revoke)))
	if len(revoke) > 0 {
		e.h.consumerQ.Push(rebalanceEvent{partitions: revoke, generation: ev.Generation})
	}
	e.h.consumerQ.Push(rebalanceEvent{assign: true, partitions: assign, generation: ev.Generation})
	e.planned = next
}

// planRebalance 根据协议计算撤销与分配集合。
//
// 急切协议撤销全部旧分区再分配全部新分区；协作协议只撤销 old\new、只分配 new\old。
func planRebalance(p xbroker.Protocol, old, next map[xbroker.TopicPartition]struct{}) (revoke, assign []TopicPartition) {
	if p == xbroker.ProtocolEager {
		return partitionSet(old, nil), partitionSet(next, nil)
	}
	return partitionSet(old, next), partitionSet(next, old)
}

// partitionSet 返回 a\b（已排序），b 为 nil 时返回 a。
func partitionSet(a, b map[xbroker.TopicPartition]struct{}) []TopicPartition {
	out := make([]TopicPartition, 0, len(a))
	for tp := range a {
		if _, ok := b[tp]; ok {
			continue
		}
		out = append(out, fromKey(tp, OffsetStored))
	}
	slices.SortFunc(out, compareTP)
	return out
}

func (e *consumerEngine) plannedList() []TopicPartition {
	return partitionSet(e.planned, nil)
}

// =============================================================================
// 转换执行（Poll goroutine）
// =============================================================================

// serveRebalance 执行一次计划好的转换：撤销前自动提交，调用监听器，
// 监听器没有自行应用时自动应用。没有监听器时返回对应事件给应用。
func (c *Consumer) serveRebalance(ev rebalanceEvent) Event {
	c.st.rebalanceMu.Lock()
	defer c.st.rebalanceMu.Unlock()
	if c.st.finalRevoked {
		return nil
	}
	return c.serveRebalanceLocked(ev)
}

// serveRebalanceLocked 调用方持有 rebalanceMu。
func (c *Consumer) serveRebalanceLocked(ev rebalanceEvent) Event {
	st := c.st
	st.mu.Lock()
	if ev.assign {
		st.rbState = rbAssigning
		st.lost = false
	} else {
		st.rbState = rbRevoking
		if ev.lost {
			st.lost = true
		}
	}
	st.mu.Unlock()

	protocol := c.h.conf.protocol()
	c.h.log(logInfo, "REBALANCE", fmt.Sprintf("%s generation %d: %s", protocol, ev.generation, ev))

	if !ev.assign && !ev.lost && c.h.conf.autoCommit && len(ev.partitions) > 0 {
		c.commitBeforeRevoke(ev.partitions)
	}

	st.applied.Store(false)
	var out Event
	if l := c.h.opts.listener; l != nil {
		st.inCallback.Store(true)
		err := c.invokeListener(l, ev)
		st.inCallback.Store(false)
		if err != nil {
			ke := &Error{
				Code: ErrFail, Kind: KindLocal, Op: "rebalance",
				Message: err.Error(), cause: fmt.Errorf("%w: %w", ErrRebalanceCallback, err),
			}
			c.h.log(logErr, "REBALANCE", "rebalance listener failed: "+err.Error())
			c.h.sink.OnError(ke)
		}
	} else if ev.assign {
		out = AssignedPartitions{Partitions: slices.Clone(ev.partitions)}
	} else {
		out = RevokedPartitions{Partitions: slices.Clone(ev.partitions), Lost: ev.lost}
	}

	if !st.applied.Load() {
		c.autoApply(protocol, ev)
	}

	st.mu.Lock()
	if len(st.parts) > 0 {
		st.rbState = rbAssigned
	} else {
		st.rbState = rbUnassigned
	}
	st.mu.Unlock()
	return out
}

// invokeListener 调用监听器，panic 转为错误。
func (c *Consumer) invokeListener(l RebalanceListener, ev rebalanceEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	parts := slices.Clone(ev.partitions)
	if ev.assign {
		return l.OnPartitionsAssigned(c, parts)
	}
	return l.OnPartitionsRevoked(c, parts)
}

func (c *Consumer) autoApply(p xbroker.Protocol, ev rebalanceEvent) {
	switch {
	case p == xbroker.ProtocolEager && ev.assign:
		c.st.assign(ev.partitions)
	case p == xbroker.ProtocolEager:
		c.st.assign(nil)
	case ev.assign:
		_ = c.st.incrementalAssign("incremental_assign", ev.partitions)
	default:
		c.st.incrementalUnassign(ev.partitions)
	}
	c.h.kick()
}

// commitBeforeRevoke 同步提交即将撤销分区的已存储偏移，失败只记录。
func (c *Consumer) commitBeforeRevoke(parts []TopicPartition) {
	offsets := c.st.storedFor(parts)
	if len(offsets) == 0 {
		return
	}
	if _, err := c.commit(context.Background(), "commit", offsets, false); err != nil {
		c.h.log(logWarning, "COMMIT", "commit before revoke failed: "+err.Error())
	}
}
