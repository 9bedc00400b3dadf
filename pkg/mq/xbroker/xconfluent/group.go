package xconfluent

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// groupPollMs 组消费者驱动回调的 Poll 间隔。
const groupPollMs = 100

// JoinGroup 创建组消费者订阅主题，等到首次分配后返回。
func (t *Transport) JoinGroup(ctx context.Context, req xbroker.JoinRequest) (xbroker.GroupSession, error) {
	release, err := t.acquire()
	if err != nil {
		return nil, err
	}
	if req.Group == "" {
		release()
		return nil, xbroker.NewError(xbroker.ErrInvalidTopic, "empty group id")
	}
	conf := t.conf.groupConfig(req)
	c, err := kafka.NewConsumer(&conf)
	release()
	if err != nil {
		return nil, wrapErr(err)
	}
	if tok := t.currentToken(); tok != nil {
		_ = c.SetOAuthBearerToken(*tok)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		t:        t,
		group:    req.Group,
		name:     c.String(),
		c:        c,
		cancel:   cancel,
		assigned: make(map[xbroker.TopicPartition]struct{}),
		events:   make(chan xbroker.GroupEvent, 1),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := c.SubscribeTopics(req.Topics, s.onRebalance); err != nil {
		cancel()
		_ = c.Close()
		return nil, wrapErr(err)
	}
	go s.run(sctx)

	select {
	case <-s.ready:
	case <-s.done:
		return nil, s.failure()
	case <-ctx.Done():
		_ = s.stop()
		return nil, ctx.Err()
	}

	t.mu.Lock()
	if t.sessions == nil {
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

// session 一个组消费者的成员身份。分到的分区立即暂停，不拉取消息。
type session struct {
	t      *Transport
	group  string
	name   string
	c      *kafka.Consumer
	cancel context.CancelFunc

	// 仅在 run goroutine（含其中的再均衡回调）访问
	assigned   map[xbroker.TopicPartition]struct{}
	generation int32

	events    chan xbroker.GroupEvent
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once

	// cmu 保护句柄：提交持读锁，关闭持写锁
	cmu     sync.RWMutex
	cclosed bool

	mu      sync.Mutex
	closed  bool
	err     error
	stopErr error
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)
	defer s.finish()
	for ctx.Err() == nil {
		switch ev := s.c.Poll(groupPollMs).(type) {
		case kafka.Error:
			err := wrapErr(ev)
			if _, isBroker := xbroker.CodeOf(err); !isBroker && !ev.IsFatal() {
				// 连接类错误由 librdkafka 自行恢复
				continue
			}
			if !s.joined() {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				return
			}
			s.deliver(xbroker.GroupEvent{Err: err})
			if ev.IsFatal() {
				return
			}
		case kafka.OAuthBearerTokenRefresh:
			if tok := s.t.currentToken(); tok != nil {
				_ = s.c.SetOAuthBearerToken(*tok)
			}
		}
	}
}

// onRebalance 在 Poll 中被调用：分配后暂停分区并推送完整分配，
// 分配丢失时推送 Lost 并结束会话。
func (s *session) onRebalance(c *kafka.Consumer, ev kafka.Event) error {
	cooperative := c.GetRebalanceProtocol() == "COOPERATIVE"
	switch e := ev.(type) {
	case kafka.AssignedPartitions:
		var err error
		if cooperative {
			err = c.IncrementalAssign(e.Partitions)
		} else {
			clear(s.assigned)
			err = c.Assign(e.Partitions)
		}
		if err == nil && len(e.Partitions) > 0 {
			err = c.Pause(e.Partitions)
		}
		if err != nil {
			s.deliver(xbroker.GroupEvent{Err: wrapErr(err)})
		}
		for _, p := range e.Partitions {
			if p.Topic != nil {
				s.assigned[xbroker.TopicPartition{Topic: *p.Topic, Partition: p.Partition}] = struct{}{}
			}
		}
		s.generation++
		assignment := slices.Collect(maps.Keys(s.assigned))
		xbroker.SortPartitions(assignment)
		s.deliver(xbroker.GroupEvent{Generation: s.generation, Assignment: assignment})
		s.readyOnce.Do(func() { close(s.ready) })

	case kafka.RevokedPartitions:
		lost := c.AssignmentLost()
		if cooperative {
			_ = c.IncrementalUnassign(e.Partitions)
			for _, p := range e.Partitions {
				if p.Topic != nil {
					delete(s.assigned, xbroker.TopicPartition{Topic: *p.Topic, Partition: p.Partition})
				}
			}
		} else {
			_ = c.Unassign()
			clear(s.assigned)
		}
		if lost {
			s.deliver(xbroker.GroupEvent{Generation: s.generation, Lost: true})
			s.t.forget(s)
			s.cancel()
		}
	}
	return nil
}

// finish 关闭组消费者（触发最后一次撤销回调）与事件通道。
func (s *session) finish() {
	s.cmu.Lock()
	s.cclosed = true
	err := s.c.Close()
	s.cmu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopErr = wrapErr(err)
	s.closed = true
	close(s.events)
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

func (s *session) commit(parts []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	if s.cclosed {
		return nil, xbroker.ErrTransportClosed
	}
	return s.c.CommitOffsets(parts)
}

func (s *session) setToken(tok kafka.OAuthBearerToken) error {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	if s.cclosed {
		return nil
	}
	return s.c.SetOAuthBearerToken(tok)
}

// stop 结束会话并等待组消费者关闭。
func (s *session) stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

// MemberID 返回 librdkafka 实例名。Go 绑定不暴露协调器分配的成员 ID。
func (s *session) MemberID() string { return s.name }

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

var _ xbroker.GroupSession = (*session)(nil)
