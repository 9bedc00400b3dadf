package xsarama

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// JoinGroup 以 sarama ConsumerGroup 加入消费组，等到首次分配后返回。
//
// 同一传输对每个组只保留一个成员，重复加入会先离开旧成员。
func (t *Transport) JoinGroup(ctx context.Context, req xbroker.JoinRequest) (xbroker.GroupSession, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	if req.Group == "" {
		return nil, xbroker.NewError(xbroker.ErrInvalidTopic, "empty group id")
	}
	conf := t.groupConfig(req)
	cg, err := xbroker.Await(ctx, func() (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(t.brokers, req.Group, conf)
	})
	if err != nil {
		return nil, wrapErr(err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		t:       t,
		group:   req.Group,
		cg:      cg,
		cancel:  cancel,
		backoff: conf.Consumer.Group.Rebalance.Retry.Backoff,
		events:  make(chan xbroker.GroupEvent, 1),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.wg.Add(2)
	go s.run(sctx, req.Topics)
	go s.watchErrors()

	select {
	case <-s.ready:
	case <-s.done:
		return nil, s.failure()
	case <-ctx.Done():
		_ = s.stop()
		return nil, ctx.Err()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = s.stop()
		return nil, xbroker.ErrTransportClosed
	}
	prev := t.sessions[req.Group]
	t.sessions[req.Group] = s
	t.mu.Unlock()
	if prev != nil {
		_ = prev.stop()
	}
	return s, nil
}

// groupConfig 复制客户端配置并写入本次加入的分配策略与会话参数。
func (t *Transport) groupConfig(req xbroker.JoinRequest) *sarama.Config {
	c := *t.conf
	c.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{balanceStrategy(req.Assignor)}
	c.Consumer.Group.InstanceId = req.InstanceID
	if req.SessionTimeout > 0 {
		c.Consumer.Group.Session.Timeout = req.SessionTimeout
		if c.Consumer.Group.Heartbeat.Interval*3 > req.SessionTimeout {
			c.Consumer.Group.Heartbeat.Interval = req.SessionTimeout / 3
		}
	}
	c.Consumer.Offsets.AutoCommit.Enable = false
	// 认领的分区不在这里消费，缓冲只需容纳一条
	c.ChannelBufferSize = 1
	return &c
}

// balanceStrategy 按分配器名称选择 sarama 策略。
// sarama 只实现急切协议，cooperative-sticky 退化为急切的 sticky，
// 撤销集合仍由客户端按协作协议计算。
func balanceStrategy(name string) sarama.BalanceStrategy {
	switch name {
	case "roundrobin":
		return sarama.NewBalanceStrategyRoundRobin()
	case "cooperative-sticky", "sticky":
		return sarama.NewBalanceStrategySticky()
	default:
		return sarama.NewBalanceStrategyRange()
	}
}

// session 实现 xbroker.GroupSession 与 sarama.ConsumerGroupHandler。
type session struct {
	t       *Transport
	group   string
	cg      sarama.ConsumerGroup
	cancel  context.CancelFunc
	backoff time.Duration

	events    chan xbroker.GroupEvent
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopErr   error

	mu         sync.Mutex
	closed     bool
	memberID   string
	generation int32
	err        error
}

func (s *session) run(ctx context.Context, topics []string) {
	defer s.wg.Done()
	defer close(s.done)
	defer s.finish()
	for {
		err := s.cg.Consume(ctx, topics, s)
		if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		if err != nil {
			s.mu.Lock()
			s.err = wrapErr(err)
			s.mu.Unlock()
			if !s.joined() {
				return
			}
			s.deliver(xbroker.GroupEvent{Err: wrapErr(err)})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}
}

// watchErrors 把成员身份失效映射为 Lost 事件并结束会话，其余错误原样上报。
func (s *session) watchErrors() {
	defer s.wg.Done()
	for err := range s.cg.Errors() {
		werr := wrapErr(err)
		switch code, _ := xbroker.CodeOf(werr); code {
		case xbroker.ErrUnknownMemberID, xbroker.ErrIllegalGeneration:
			s.mu.Lock()
			gen := s.generation
			s.mu.Unlock()
			s.deliver(xbroker.GroupEvent{Generation: gen, Lost: true})
			s.t.forget(s)
			s.cancel()
		default:
			s.deliver(xbroker.GroupEvent{Err: werr})
		}
	}
}

// finish 关闭 ConsumerGroup 与事件通道。
func (s *session) finish() {
	if err := s.cg.Close(); err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
		s.mu.Lock()
		s.stopErr = wrapErr(err)
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.closed = true
	close(s.events)
	s.mu.Unlock()
}

func (s *session) deliver(ev xbroker.GroupEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	xbroker.DeliverLatest(s.events, ev)
}

func (s *session) joined() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return xbroker.ErrTransportClosed
}

func (s *session) identity() (string, int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberID, s.generation
}

// stop 结束会话并等待后台 goroutine 退出。
func (s *session) stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

// Setup 在每一代开始时推送完整分配。
func (s *session) Setup(sess sarama.ConsumerGroupSession) error {
	var assignment []xbroker.TopicPartition
	for topic, parts := range sess.Claims() {
		for _, p := range parts {
			assignment = append(assignment, xbroker.TopicPartition{Topic: topic, Partition: p})
		}
	}
	xbroker.SortPartitions(assignment)
	s.mu.Lock()
	s.memberID = sess.MemberID()
	s.generation = sess.GenerationID()
	s.mu.Unlock()
	s.deliver(xbroker.GroupEvent{Generation: sess.GenerationID(), Assignment: assignment})
	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

func (s *session) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 不读取消息，只在本代结束前占住认领。
func (s *session) ConsumeClaim(sess sarama.ConsumerGroupSession, _ sarama.ConsumerGroupClaim) error {
	<-sess.Context().Done()
	return nil
}

func (s *session) MemberID() string {
	id, _ := s.identity()
	return id
}

func (s *session) Events() <-chan xbroker.GroupEvent { return s.events }

func (s *session) Leave(ctx context.Context) error {
	s.t.forget(s)
	_, err := xbroker.Await(ctx, func() (struct{}, error) { return struct{}{}, s.stop() })
	return err
}

func (t *Transport) forget(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[s.group] == s {
		delete(t.sessions, s.group)
	}
}

var (
	_ xbroker.GroupSession        = (*session)(nil)
	_ sarama.ConsumerGroupHandler = (*session)(nil)
)
