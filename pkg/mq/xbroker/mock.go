package xbroker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Op 标识一类传输调用，用于错误注入。
type Op string

const (
	OpMetadata       Op = "metadata"
	OpProduce        Op = "produce"
	OpFetch          Op = "fetch"
	OpWatermarks     Op = "watermarks"
	OpListOffsets    Op = "list_offsets"
	OpCommit         Op = "commit"
	OpFetchCommitted Op = "fetch_committed"
	OpCreateTopics   Op = "create_topics"
	OpDeleteTopics   Op = "delete_topics"
	OpJoinGroup      Op = "join_group"
)

// MockCluster 是内存中的 broker 集群。并发安全。
//
// 多个客户端通过各自的 [MockCluster.Transport] 共享同一份分区日志和消费组状态。
type MockCluster struct {
	mu              sync.Mutex
	id              string
	brokers         int32
	autoCreate      int32
	maxMessageBytes int
	topics          map[string][]*mockPartition
	groups          map[string]*mockGroup
	faults          map[Op][]error
}

type mockPartition struct {
	low     int64
	records []FetchedRecord
}

func (p *mockPartition) high() int64 { return p.low + int64(len(p.records)) }

// MockOption MockCluster 配置选项。
type MockOption func(*MockCluster)

// WithMockBrokers 设置 broker 数量，默认 1。
func WithMockBrokers(n int32) MockOption {
	return func(c *MockCluster) {
		if n > 0 {
			c.brokers = n
		}
	}
}

// WithMockAutoCreateTopics 写入或按名查询未知主题时自动以 partitions 个分区创建。
func WithMockAutoCreateTopics(partitions int32) MockOption {
	return func(c *MockCluster) {
		if partitions > 0 {
			c.autoCreate = partitions
		}
	}
}

// WithMockMaxMessageBytes 设置 broker 端单条记录上限。
func WithMockMaxMessageBytes(n int) MockOption {
	return func(c *MockCluster) {
		if n > 0 {
			c.maxMessageBytes = n
		}
	}
}

// NewMockCluster 创建内存集群。
func NewMockCluster(opts ...MockOption) *MockCluster {
	c := &MockCluster{
		id:      uuid.NewString(),
		brokers: 1,
		topics:  make(map[string][]*mockPartition),
		groups:  make(map[string]*mockGroup),
		faults:  make(map[Op][]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClusterID 返回集群 ID。
func (c *MockCluster) ClusterID() string { return c.id }

// BootstrapServers 返回虚构的 broker 地址列表。
func (c *MockCluster) BootstrapServers() string {
	addrs := make([]string, 0, c.brokers)
	for i := range c.brokers {
		addrs = append(addrs, fmt.Sprintf("mock-%d:%d", i+1, 9092))
	}
	return strings.Join(addrs, ",")
}

// CreateTopic 直接创建主题。
func (c *MockCluster) CreateTopic(name string, partitions int32) error {
	res, err := c.Transport().CreateTopics(context.Background(), []TopicSpec{{Name: name, NumPartitions: partitions}})
	if err != nil {
		return err
	}
	return res[name]
}

// InjectError 使接下来 n 次 op 调用返回 broker 错误码 code。
// Produce 与 CommitOffsets 的 broker 错误体现在每条记录/每个分区上。
func (c *MockCluster) InjectError(op Op, code ErrorCode, n int) {
	c.InjectFailure(op, NewError(code, "injected"), n)
}

// InjectFailure 使接下来 n 次 op 调用返回 err。
// 非 *Error 的错误视为连接级故障，整个调用失败。
func (c *MockCluster) InjectFailure(op Op, err error, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for range n {
		c.faults[op] = append(c.faults[op], err)
	}
}

func (c *MockCluster) takeFaultLocked(op Op) error {
	q := c.faults[op]
	if len(q) == 0 {
		return nil
	}
	c.faults[op] = q[1:]
	return q[0]
}

// DeleteRecords 删除 tp 上 before 之前的记录，提升低水位。
func (c *MockCluster) DeleteRecords(tp TopicPartition, before int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.partitionLocked(tp)
	if err != nil {
		return err
	}
	before = min(before, p.high())
	if before <= p.low {
		return nil
	}
	p.records = slices.Clone(p.records[before-p.low:])
	p.low = before
	return nil
}

// Committed 读取消费组在 tp 上的提交，用于测试断言。
func (c *MockCluster) Committed(group string, tp TopicPartition) (OffsetAndMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[group]
	if !ok {
		return OffsetAndMetadata{}, false
	}
	om, ok := g.committed[tp]
	return om, ok
}

// Transport 返回连接到本集群的新传输。
// 关闭传输会让通过它加入的消费组成员离组，不影响集群本身。
func (c *MockCluster) Transport() Transport {
	return &mockTransport{c: c, sessions: make(map[*mockSession]struct{})}
}

// Factory 返回总是连接到本集群的 Factory。
func (c *MockCluster) Factory() Factory {
	return func(context.Context, DialConfig) (Transport, error) {
		return c.Transport(), nil
	}
}

func (c *MockCluster) partitionLocked(tp TopicPartition) (*mockPartition, error) {
	parts, ok := c.topics[tp.Topic]
	if !ok || tp.Partition < 0 || int(tp.Partition) >= len(parts) {
		return nil, NewError(ErrUnknownTopicOrPartition, tp.String())
	}
	return parts[tp.Partition], nil
}

func (c *MockCluster) createTopicLocked(spec TopicSpec) error {
	switch {
	case spec.Name == "" || strings.ContainsAny(spec.Name, " /\\"):
		return NewError(ErrInvalidTopic, spec.Name)
	case c.topics[spec.Name] != nil:
		return NewError(ErrTopicAlreadyExists, fmt.Sprintf("topic %q already exists", spec.Name))
	case spec.NumPartitions <= 0:
		return NewError(ErrInvalidPartitions, "number of partitions must be larger than 0")
	case int32(spec.ReplicationFactor) > c.brokers:
		return NewError(ErrInvalidReplicationFactor,
			fmt.Sprintf("replication factor %d larger than available brokers %d", spec.ReplicationFactor, c.brokers))
	}
	parts := make([]*mockPartition, spec.NumPartitions)
	for i := range parts {
		parts[i] = &mockPartition{}
	}
	c.topics[spec.Name] = parts
	c.topicsChangedLocked(spec.Name)
	return nil
}

// =============================================================================
// mockTransport
// =============================================================================

type mockTransport struct {
	c        *MockCluster
	closed   atomic.Bool
	mu       sync.Mutex
	sessions map[*mockSession]struct{}
}

// enter 执行公共前置检查并加集群锁。返回 nil 错误时调用方负责解锁。
func (t *mockTransport) enter(ctx context.Context, op Op) (fault error, err error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.c.mu.Lock()
	return t.c.takeFaultLocked(op), nil
}

// failWhole 返回需要整个调用失败的故障：连接级错误总是如此，broker 错误在 perItem 为 false 时如此。
func failWhole(fault error, perItem bool) error {
	if fault == nil {
		return nil
	}
	if _, ok := fault.(*Error); ok && perItem {
		return nil
	}
	return fault
}

func (t *mockTransport) Metadata(ctx context.Context, topics []string) (*Metadata, error) {
	fault, err := t.enter(ctx, OpMetadata)
	if err != nil {
		return nil, err
	}
	defer t.c.mu.Unlock()
	if fault != nil {
		return nil, fault
	}

	c := t.c
	md := &Metadata{ClusterID: c.id, ControllerID: 1, Topics: make(map[string]TopicMetadata)}
	for i := range c.brokers {
		md.Brokers = append(md.Brokers, BrokerMetadata{ID: i + 1, Host: fmt.Sprintf("mock-%d", i+1), Port: 9092})
	}
	if len(topics) == 0 {
		for name := range c.topics {
			topics = append(topics, name)
		}
	}
	for _, name := range topics {
		parts, ok := c.topics[name]
		if !ok && c.autoCreate > 0 {
			if c.createTopicLocked(TopicSpec{Name: name, NumPartitions: c.autoCreate}) == nil {
				parts, ok = c.topics[name]
			}
		}
		if !ok {
			md.Topics[name] = TopicMetadata{Name: name, Err: NewError(ErrUnknownTopicOrPartition, name)}
			continue
		}
		tm := TopicMetadata{Name: name}
		for p := range parts {
			leader := int32(p)%c.brokers + 1
			tm.Partitions = append(tm.Partitions, PartitionMetadata{
				ID: int32(p), Leader: leader, Replicas: []int32{leader}, ISR: []int32{leader},
			})
		}
		md.Topics[name] = tm
	}
	return md, nil
}

func (t *mockTransport) Produce(ctx context.Context, tp TopicPartition, records []Record) ([]ProduceResult, error) {
	fault, err := t.enter(ctx, OpProduce)
	if err != nil {
		return nil, err
	}
	defer t.c.mu.Unlock()
	if err := failWhole(fault, true); err != nil {
		return nil, err
	}

	c := t.c
	results := make([]ProduceResult, len(records))
	fail := func(err error) ([]ProduceResult, error) {
		for i := range results {
			results[i] = ProduceResult{Offset: -1, Err: err}
		}
		return results, nil
	}
	if fault != nil {
		return fail(fault)
	}
	if _, ok := c.topics[tp.Topic]; !ok && c.autoCreate > 0 {
		if err := c.createTopicLocked(TopicSpec{Name: tp.Topic, NumPartitions: c.autoCreate}); err != nil {
			return fail(err)
		}
	}
	p, err := c.partitionLocked(tp)
	if err != nil {
		return fail(err)
	}

	now := time.Now()
	for i, r := range records {
		if c.maxMessageBytes > 0 && recordSize(r) > c.maxMessageBytes {
			results[i] = ProduceResult{Offset: -1, Err: NewError(ErrMessageSizeTooLarge, "")}
			continue
		}
		ts := r.Timestamp
		if ts.IsZero() {
			ts = now
		}
		fr := FetchedRecord{
			Record: Record{
				Key:       slices.Clone(r.Key),
				Value:     slices.Clone(r.Value),
				Headers:   slices.Clone(r.Headers),
				Timestamp: ts,
			},
			Offset: p.high(),
		}
		p.records = append(p.records, fr)
		results[i] = ProduceResult{Offset: fr.Offset, Timestamp: ts}
	}
	return results, nil
}

func recordSize(r Record) int {
	n := len(r.Key) + len(r.Value)
	for _, h := range r.Headers {
		n += len(h.Key) + len(h.Value)
	}
	return n
}

func (t *mockTransport) Fetch(ctx context.Context, tp TopicPartition, offset int64, maxRecords int) (FetchResult, error) {
	fault, err := t.enter(ctx, OpFetch)
	if err != nil {
		return FetchResult{}, err
	}
	defer t.c.mu.Unlock()
	if fault != nil {
		return FetchResult{}, fault
	}

	p, err := t.c.partitionLocked(tp)
	if err != nil {
		return FetchResult{}, err
	}
	wm := Watermarks{Low: p.low, High: p.high()}
	if offset < wm.Low || offset > wm.High {
		return FetchResult{Watermarks: wm}, NewError(ErrOffsetOutOfRange,
			fmt.Sprintf("offset %d outside [%d,%d]", offset, wm.Low, wm.High))
	}
	end := wm.High
	if maxRecords > 0 {
		end = min(end, offset+int64(maxRecords))
	}
	return FetchResult{
		Records:    slices.Clone(p.records[offset-p.low : end-p.low]),
		Watermarks: wm,
	}, nil
}

func (t *mockTransport) Watermarks(ctx context.Context, tp TopicPartition) (Watermarks, error) {
	fault, err := t.enter(ctx, OpWatermarks)
	if err != nil {
		return Watermarks{}, err
	}
	defer t.c.mu.Unlock()
	if fault != nil {
		return Watermarks{}, fault
	}
	p, err := t.c.partitionLocked(tp)
	if err != nil {
		return Watermarks{}, err
	}
	return Watermarks{Low: p.low, High: p.high()}, nil
}

func (t *mockTransport) ListOffsets(ctx context.Context, tp TopicPartition, spec OffsetSpec) (ListedOffset, error) {
	fault, err := t.enter(ctx, OpListOffsets)
	if err != nil {
		return ListedOffset{}, err
	}
	defer t.c.mu.Unlock()
	if fault != nil {
		return ListedOffset{}, fault
	}
	p, err := t.c.partitionLocked(tp)
	if err != nil {
		return ListedOffset{}, err
	}
	switch spec {
	case OffsetSpecEarliest:
		return ListedOffset{Offset: p.low, Timestamp: -1, LeaderEpoch: -1}, nil
	case OffsetSpecLatest:
		return ListedOffset{Offset: p.high(), Timestamp: -1, LeaderEpoch: -1}, nil
	}
	for _, r := range p.records {
		if ms := r.Timestamp.UnixMilli(); ms >= int64(spec) {
			return ListedOffset{Offset: r.Offset, Timestamp: ms, LeaderEpoch: -1}, nil
		}
	}
	return ListedOffset{Offset: -1, Timestamp: -1, LeaderEpoch: -1}, nil
}

func (t *mockTransport) CommitOffsets(ctx context.Context, group string, offsets map[TopicPartition]OffsetAndMetadata) (map[TopicPartition]error, error) {
	fault, err := t.enter(ctx, OpCommit)
	if err != nil {
		return nil, err
	}
	defer t.c.mu.Unlock()
	if err := failWhole(fault, true); err != nil {
		return nil, err
	}

	g := t.c.groupLocked(group)
	res := make(map[TopicPartition]error, len(offsets))
	for tp, om := range offsets {
		if fault != nil {
			res[tp] = fault
			continue
		}
		if _, err := t.c.partitionLocked(tp); err != nil {
			res[tp] = err
			continue
		}
		g.committed[tp] = om
		res[tp] = nil
	}
	return res, nil
}

func (t *mockTransport) FetchCommitted(ctx context.Context, group string, tps []TopicPartition) (map[TopicPartition]OffsetAndMetadata, error) {
	fault, err := t.enter(ctx, OpFetchCommitted)
	if err != nil {
		return nil, err
	}
	defer t.c.mu.Unlock()
	if fault != nil {
		return nil, fault
	}
	g := t.c.groups[group]
	res := make(map[TopicPartition]OffsetAndMetadata, len(tps))
	for _, tp := range tps {
		om := OffsetAndMetadata{Offset: NoCommittedOffset, LeaderEpoch: -1}
		if g != nil {
			if got, ok := g.committed[tp]; ok {
				om = got
			}
		}
		res[tp] = om
	}
	return res, nil
}

func (t *mockTransport) CreateTopics(ctx context.Context, specs []TopicSpec) (map[string]error, error) {
	fault, err := t.enter(ctx, OpCreateTopics)
	if err != nil {
		return nil, err
	}
	defer t.c.mu.Unlock()
	if fault != nil {
		return nil, fault
	}
	res := make(map[string]error, len(specs))
	for _, spec := range specs {
		res[spec.Name] = t.c.createTopicLocked(spec)
	}
	return res, nil
}

func (t *mockTransport) DeleteTopics(ctx context.Context, topics []string) (map[string]error, error) {
	fault, err := t.enter(ctx, OpDeleteTopics)
	if err != nil {
		return nil, err
	}
	defer t.c.mu.Unlock()
	if fault != nil {
		return nil, fault
	}
	res := make(map[string]error, len(topics))
	for _, name := range topics {
		if _, ok := t.c.topics[name]; !ok {
			res[name] = NewError(ErrUnknownTopicOrPartition, name)
			continue
		}
		delete(t.c.topics, name)
		t.c.topicsChangedLocked(name)
		res[name] = nil
	}
	return res, nil
}

func (t *mockTransport) JoinGroup(ctx context.Context, req JoinRequest) (GroupSession, error) {
	fault, err := t.enter(ctx, OpJoinGroup)
	if err != nil {
		return nil, err
	}
	defer t.c.mu.Unlock()
	if fault != nil {
		return nil, fault
	}
	if req.Group == "" {
		return nil, NewError(ErrInvalidTopic, "empty group id")
	}
	s := t.c.joinLocked(t, req)
	t.mu.Lock()
	t.sessions[s] = struct{}{}
	t.mu.Unlock()
	return s, nil
}

func (t *mockTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	sessions := make([]*mockSession, 0, len(t.sessions))
	for s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.sessions = nil
	t.mu.Unlock()

	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for _, s := range sessions {
		t.c.leaveLocked(s)
	}
	return nil
}

func (t *mockTransport) forget(s *mockSession) {
	t.mu.Lock()
	delete(t.sessions, s)
	t.mu.Unlock()
}

var _ Transport = (*mockTransport)(nil)
