package xbroker

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

type mockGroup struct {
	name       string
	generation int32
	assignor   Assignor
	members    map[string]*mockSession
	assignment map[string][]TopicPartition
	committed  map[TopicPartition]OffsetAndMetadata
}

type mockSession struct {
	c      *MockCluster
	t      *mockTransport
	group  string
	id     string
	topics []string
	events chan GroupEvent
	left   bool
}

func (c *MockCluster) groupLocked(name string) *mockGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &mockGroup{
			name:       name,
			assignor:   RangeAssignor{},
			members:    make(map[string]*mockSession),
			assignment: make(map[string][]TopicPartition),
			committed:  make(map[TopicPartition]OffsetAndMetadata),
		}
		c.groups[name] = g
	}
	return g
}

func (c *MockCluster) joinLocked(t *mockTransport, req JoinRequest) *mockSession {
	g := c.groupLocked(req.Group)
	if len(g.members) == 0 {
		if a, ok := AssignorByName(req.Assignor); ok {
			g.assignor = a
		}
	}
	s := &mockSession{
		c:      c,
		t:      t,
		group:  req.Group,
		id:     "member-" + uuid.NewString(),
		topics: slices.Clone(req.Topics),
		events: make(chan GroupEvent, 1),
	}
	g.members[s.id] = s
	c.rebalanceLocked(g)
	return s
}

func (c *MockCluster) leaveLocked(s *mockSession) {
	if s.left {
		return
	}
	s.left = true
	close(s.events)
	g := c.groups[s.group]
	if g == nil {
		return
	}
	delete(g.members, s.id)
	delete(g.assignment, s.id)
	c.rebalanceLocked(g)
}

func (c *MockCluster) rebalanceLocked(g *mockGroup) {
	if len(g.members) == 0 {
		g.generation++
		return
	}
	members := make([]Member, 0, len(g.members))
	partitions := make(map[string]int32)
	for _, s := range g.members {
		members = append(members, Member{ID: s.id, Topics: s.topics})
		for _, topic := range s.topics {
			if parts, ok := c.topics[topic]; ok {
				partitions[topic] = int32(len(parts))
			}
		}
	}
	g.assignment = g.assignor.Assign(members, partitions, g.assignment)
	g.generation++
	for id, s := range g.members {
		s.deliverLocked(GroupEvent{Generation: g.generation, Assignment: slices.Clone(g.assignment[id])})
	}
}

// topicsChangedLocked 对订阅了 topic 的消费组重新分配。
func (c *MockCluster) topicsChangedLocked(topic string) {
	for _, g := range c.groups {
		for _, s := range g.members {
			if slices.Contains(s.topics, topic) {
				c.rebalanceLocked(g)
				break
			}
		}
	}
}

// ExpireMember 模拟会话超时：成员收到 Lost 事件后会话结束，其余成员重新分配。
func (c *MockCluster) ExpireMember(group, memberID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[group]
	if !ok {
		return false
	}
	s, ok := g.members[memberID]
	if !ok {
		return false
	}
	s.deliverLocked(GroupEvent{Generation: g.generation, Lost: true})
	c.leaveLocked(s)
	s.t.forget(s)
	return true
}

// Members 返回消费组当前成员 ID（已排序）。
func (c *MockCluster) Members(group string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[group]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Generation 返回消费组当前代数。
func (c *MockCluster) Generation(group string) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[group]; ok {
		return g.generation
	}
	return 0
}

func (s *mockSession) deliverLocked(ev GroupEvent) { DeliverLatest(s.events, ev) }

func (s *mockSession) MemberID() string { return s.id }

func (s *mockSession) Events() <-chan GroupEvent { return s.events }

func (s *mockSession) Leave(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.c.mu.Lock()
	s.c.leaveLocked(s)
	s.c.mu.Unlock()
	s.t.forget(s)
	return nil
}

var _ GroupSession = (*mockSession)(nil)
