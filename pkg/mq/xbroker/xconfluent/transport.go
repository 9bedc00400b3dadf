package xconfluent

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// defaultTimeout ctx 没有截止时间时阻塞调用使用的超时。
const defaultTimeout = 30 * time.Second

// oauthPrincipal 设置 OAUTHBEARER 令牌时使用的主体名。
const oauthPrincipal = "xkclient"

// Transport 基于 librdkafka 的传输实现。
type Transport struct {
	conf     configs
	producer *kafka.Producer
	admin    *kafka.AdminClient
	fetcher  *fetcher
	wg       sync.WaitGroup

	// rw 保护句柄：请求持读锁，Close 持写锁后销毁句柄
	rw     sync.RWMutex
	closed bool

	mu       sync.Mutex
	token    *kafka.OAuthBearerToken
	sessions map[string]*session
}

// Factory 返回使用 confluent-kafka-go 的 [xbroker.Factory]。
func Factory(opts ...Option) xbroker.Factory {
	return func(ctx context.Context, dc xbroker.DialConfig) (xbroker.Transport, error) {
		return Dial(ctx, dc, opts...)
	}
}

// Dial 创建生产者、管理客户端与拉取消费者。librdkafka 异步建连，
// 创建句柄不等待 broker 可达。
func Dial(ctx context.Context, dc xbroker.DialConfig, opts ...Option) (*Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cs, err := newConfigs(dc, opts)
	if err != nil {
		return nil, err
	}
	pconf := maps.Clone(cs.producer)
	p, err := kafka.NewProducer(&pconf)
	if err != nil {
		return nil, wrapErr(err)
	}
	admin, err := kafka.NewAdminClientFromProducer(p)
	if err != nil {
		p.Close()
		return nil, wrapErr(err)
	}
	fconf := maps.Clone(cs.fetch)
	fc, err := kafka.NewConsumer(&fconf)
	if err != nil {
		admin.Close()
		p.Close()
		return nil, wrapErr(err)
	}

	t := &Transport{
		conf:     cs,
		producer: p,
		admin:    admin,
		fetcher:  newFetcher(fc),
		sessions: make(map[string]*session),
	}
	t.wg.Add(1)
	go t.drainProducerEvents()
	return t, nil
}

// drainProducerEvents 消费生产者的非交付事件，避免事件通道堆积。
func (t *Transport) drainProducerEvents() {
	defer t.wg.Done()
	for ev := range t.producer.Events() {
		if _, ok := ev.(kafka.OAuthBearerTokenRefresh); ok {
			t.mu.Lock()
			tok := t.token
			t.mu.Unlock()
			if tok != nil {
				_ = t.producer.SetOAuthBearerToken(*tok)
			}
		}
	}
}

// acquire 持有句柄读锁，传输已关闭时返回 ErrTransportClosed。
func (t *Transport) acquire() (func(), error) {
	t.rw.RLock()
	if t.closed {
		t.rw.RUnlock()
		return nil, xbroker.ErrTransportClosed
	}
	return t.rw.RUnlock, nil
}

// SetToken 实现 [xbroker.TokenReceiver]，令牌应用到所有句柄。
func (t *Transport) SetToken(value string, expiration time.Time) error {
	if !t.conf.oauth {
		return errors.New("xconfluent: sasl.mechanisms is not OAUTHBEARER")
	}
	release, err := t.acquire()
	if err != nil {
		return err
	}
	defer release()

	tok := kafka.OAuthBearerToken{TokenValue: value, Expiration: expiration, Principal: oauthPrincipal}
	t.mu.Lock()
	t.token = &tok
	sessions := slices.Collect(maps.Values(t.sessions))
	t.mu.Unlock()

	errs := []error{
		t.producer.SetOAuthBearerToken(tok),
		t.fetcher.setToken(tok),
	}
	for _, s := range sessions {
		errs = append(errs, s.setToken(tok))
	}
	return wrapErr(errors.Join(errs...))
}

func (t *Transport) currentToken() *kafka.OAuthBearerToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

func (t *Transport) Metadata(ctx context.Context, topics []string) (*xbroker.Metadata, error) {
	release, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ms := timeoutMs(ctx, defaultTimeout)
	md := &xbroker.Metadata{Topics: make(map[string]xbroker.TopicMetadata)}
	if len(topics) == 0 {
		got, err := t.admin.GetMetadata(nil, true, ms)
		if err != nil {
			return nil, wrapErr(err)
		}
		mergeMetadata(md, got)
	}
	for _, topic := range topics {
		got, err := t.admin.GetMetadata(&topic, false, ms)
		if err != nil {
			return nil, wrapErr(err)
		}
		mergeMetadata(md, got)
	}
	if md.ClusterID, err = t.admin.ClusterID(ctx); err != nil {
		return nil, wrapErr(err)
	}
	if md.ControllerID, err = t.admin.ControllerID(ctx); err != nil {
		return nil, wrapErr(err)
	}
	return md, nil
}

func mergeMetadata(md *xbroker.Metadata, got *kafka.Metadata) {
	if len(md.Brokers) == 0 {
		for _, b := range got.Brokers {
			md.Brokers = append(md.Brokers, xbroker.BrokerMetadata{ID: b.ID, Host: b.Host, Port: b.Port})
		}
		slices.SortFunc(md.Brokers, func(a, b xbroker.BrokerMetadata) int { return cmp.Compare(a.ID, b.ID) })
	}
	for name, tm := range got.Topics {
		parts := make([]xbroker.PartitionMetadata, 0, len(tm.Partitions))
		for _, pm := range tm.Partitions {
			parts = append(parts, xbroker.PartitionMetadata{
				ID:       pm.ID,
				Leader:   pm.Leader,
				Replicas: pm.Replicas,
				ISR:      pm.Isrs,
				Err:      wrapErr(pm.Error),
			})
		}
		slices.SortFunc(parts, func(a, b xbroker.PartitionMetadata) int { return cmp.Compare(a.ID, b.ID) })
		md.Topics[name] = xbroker.TopicMetadata{Name: name, Partitions: parts, Err: wrapErr(tm.Error)}
	}
}

// Produce 逐条提交给 librdkafka 并等待全部交付报告。
// 本地拒绝（如队列已满）时其后的记录不再提交，以同一错误返回。
func (t *Transport) Produce(ctx context.Context, tp xbroker.TopicPartition, records []xbroker.Record) ([]xbroker.ProduceResult, error) {
	release, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	res := make([]xbroker.ProduceResult, len(records))
	reports := make(chan kafka.Event, len(records))
	topic := tp.Topic
	submitted := len(records)
	for i, r := range records {
		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: tp.Partition},
			Key:            r.Key,
			Value:          r.Value,
			Headers:        toHeaders(r.Headers),
			Timestamp:      r.Timestamp,
			Opaque:         i,
		}
		if err := t.producer.Produce(msg, reports); err != nil {
			for j := i; j < len(records); j++ {
				res[j].Err = wrapErr(err)
			}
			submitted = i
			break
		}
	}
	for got := 0; got < submitted; {
		select {
		case ev := <-reports:
			m, ok := ev.(*kafka.Message)
			if !ok {
				continue
			}
			i, ok := m.Opaque.(int)
			if !ok || i < 0 || i >= len(res) {
				continue
			}
			res[i] = xbroker.ProduceResult{
				Offset:    int64(m.TopicPartition.Offset),
				Timestamp: m.Timestamp,
				Err:       wrapErr(m.TopicPartition.Error),
			}
			got++
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res, nil
}

func toHeaders(hs []xbroker.Header) []kafka.Header {
	if len(hs) == 0 {
		return nil
	}
	out := make([]kafka.Header, len(hs))
	for i, h := range hs {
		out[i] = kafka.Header{Key: h.Key, Value: h.Value}
	}
	return out
}

func (t *Transport) Fetch(ctx context.Context, tp xbroker.TopicPartition, offset int64, maxRecords int) (xbroker.FetchResult, error) {
	release, err := t.acquire()
	if err != nil {
		return xbroker.FetchResult{}, err
	}
	defer release()
	return t.fetcher.fetch(ctx, tp, offset, maxRecords)
}

func (t *Transport) Watermarks(ctx context.Context, tp xbroker.TopicPartition) (xbroker.Watermarks, error) {
	release, err := t.acquire()
	if err != nil {
		return xbroker.Watermarks{}, err
	}
	defer release()
	low, high, err := t.producer.QueryWatermarkOffsets(tp.Topic, tp.Partition, timeoutMs(ctx, defaultTimeout))
	if err != nil {
		return xbroker.Watermarks{}, wrapErr(err)
	}
	return xbroker.Watermarks{Low: low, High: high}, nil
}

func offsetSpec(spec xbroker.OffsetSpec) kafka.OffsetSpec {
	switch spec {
	case xbroker.OffsetSpecEarliest:
		return kafka.EarliestOffsetSpec
	case xbroker.OffsetSpecLatest:
		return kafka.LatestOffsetSpec
	default:
		return kafka.NewOffsetSpecForTimestamp(int64(spec))
	}
}

func (t *Transport) ListOffsets(ctx context.Context, tp xbroker.TopicPartition, spec xbroker.OffsetSpec) (xbroker.ListedOffset, error) {
	release, err := t.acquire()
	if err != nil {
		return xbroker.ListedOffset{}, err
	}
	defer release()

	topic := tp.Topic
	req := map[kafka.TopicPartition]kafka.OffsetSpec{
		{Topic: &topic, Partition: tp.Partition}: offsetSpec(spec),
	}
	res, err := t.admin.ListOffsets(ctx, req)
	if err != nil {
		return xbroker.ListedOffset{}, wrapErr(err)
	}
	for k, info := range res.ResultInfos {
		if k.Topic == nil || *k.Topic != tp.Topic || k.Partition != tp.Partition {
			continue
		}
		if err := wrapErr(info.Error); err != nil {
			return xbroker.ListedOffset{}, err
		}
		lo := xbroker.ListedOffset{Offset: int64(info.Offset), Timestamp: info.Timestamp, LeaderEpoch: -1}
		if info.LeaderEpoch != nil {
			lo.LeaderEpoch = *info.LeaderEpoch
		}
		return lo, nil
	}
	return xbroker.ListedOffset{}, xbroker.NewError(xbroker.ErrUnknownTopicOrPartition, tp.String())
}

func toPartitions(offsets map[xbroker.TopicPartition]xbroker.OffsetAndMetadata) []kafka.TopicPartition {
	out := make([]kafka.TopicPartition, 0, len(offsets))
	for tp, om := range offsets {
		topic, meta := tp.Topic, om.Metadata
		p := kafka.TopicPartition{
			Topic:     &topic,
			Partition: tp.Partition,
			Offset:    kafka.Offset(om.Offset),
			Metadata:  &meta,
		}
		if om.LeaderEpoch >= 0 {
			epoch := om.LeaderEpoch
			p.LeaderEpoch = &epoch
		}
		out = append(out, p)
	}
	return out
}

func partitionErrors(want map[xbroker.TopicPartition]xbroker.OffsetAndMetadata, got []kafka.TopicPartition) map[xbroker.TopicPartition]error {
	res := make(map[xbroker.TopicPartition]error, len(want))
	for tp := range want {
		res[tp] = nil
	}
	for _, p := range got {
		if p.Topic == nil {
			continue
		}
		tp := xbroker.TopicPartition{Topic: *p.Topic, Partition: p.Partition}
		if _, ok := res[tp]; ok {
			res[tp] = wrapErr(p.Error)
		}
	}
	return res
}

// CommitOffsets 本传输持有该组的活跃成员时经成员提交，
// 否则通过管理接口修改组偏移（要求组内没有其他活跃成员）。
func (t *Transport) CommitOffsets(ctx context.Context, group string, offsets map[xbroker.TopicPartition]xbroker.OffsetAndMetadata) (map[xbroker.TopicPartition]error, error) {
	release, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	parts := toPartitions(offsets)
	t.mu.Lock()
	s := t.sessions[group]
	t.mu.Unlock()
	if s != nil {
		committed, err := xbroker.Await(ctx, func() ([]kafka.TopicPartition, error) { return s.commit(parts) })
		if err != nil {
			return nil, wrapErr(err)
		}
		return partitionErrors(offsets, committed), nil
	}

	res, err := t.admin.AlterConsumerGroupOffsets(ctx, []kafka.ConsumerGroupTopicPartitions{{Group: group, Partitions: parts}})
	if err != nil {
		return nil, wrapErr(err)
	}
	var got []kafka.TopicPartition
	for _, g := range res.ConsumerGroupsTopicPartitions {
		got = append(got, g.Partitions...)
	}
	return partitionErrors(offsets, got), nil
}

func (t *Transport) FetchCommitted(ctx context.Context, group string, tps []xbroker.TopicPartition) (map[xbroker.TopicPartition]xbroker.OffsetAndMetadata, error) {
	release, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	parts := make([]kafka.TopicPartition, len(tps))
	out := make(map[xbroker.TopicPartition]xbroker.OffsetAndMetadata, len(tps))
	for i, tp := range tps {
		topic := tp.Topic
		parts[i] = kafka.TopicPartition{Topic: &topic, Partition: tp.Partition}
		out[tp] = xbroker.OffsetAndMetadata{Offset: xbroker.NoCommittedOffset, LeaderEpoch: -1}
	}
	res, err := t.admin.ListConsumerGroupOffsets(ctx, []kafka.ConsumerGroupTopicPartitions{{Group: group, Partitions: parts}})
	if err != nil {
		return nil, wrapErr(err)
	}
	for _, g := range res.ConsumerGroupsTopicPartitions {
		for _, p := range g.Partitions {
			if p.Topic == nil {
				continue
			}
			if err := wrapErr(p.Error); err != nil {
				return nil, err
			}
			om := xbroker.OffsetAndMetadata{Offset: xbroker.NoCommittedOffset, LeaderEpoch: -1}
			if p.Offset >= 0 {
				om.Offset = int64(p.Offset)
			}
			if p.Metadata != nil {
				om.Metadata = *p.Metadata
			}
			if p.LeaderEpoch != nil {
				om.LeaderEpoch = *p.LeaderEpoch
			}
			out[xbroker.TopicPartition{Topic: *p.Topic, Partition: p.Partition}] = om
		}
	}
	return out, nil
}

func (t *Transport) CreateTopics(ctx context.Context, specs []xbroker.TopicSpec) (map[string]error, error) {
	release, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ks := make([]kafka.TopicSpecification, len(specs))
	for i, s := range specs {
		ks[i] = kafka.TopicSpecification{
			Topic:             s.Name,
			NumPartitions:     int(s.NumPartitions),
			ReplicationFactor: int(s.ReplicationFactor),
			Config:            s.Config,
		}
	}
	results, err := t.admin.CreateTopics(ctx, ks)
	if err != nil {
		return nil, wrapErr(err)
	}
	return topicErrors(results), nil
}

func (t *Transport) DeleteTopics(ctx context.Context, topics []string) (map[string]error, error) {
	release, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	results, err := t.admin.DeleteTopics(ctx, topics)
	if err != nil {
		return nil, wrapErr(err)
	}
	return topicErrors(results), nil
}

func topicErrors(results []kafka.TopicResult) map[string]error {
	out := make(map[string]error, len(results))
	for _, r := range results {
		out[r.Topic] = wrapErr(r.Error)
	}
	return out
}

// Close 离开所有消费组并销毁全部句柄。
func (t *Transport) Close() error {
	t.rw.Lock()
	if t.closed {
		t.rw.Unlock()
		return nil
	}
	t.closed = true
	t.rw.Unlock()

	t.mu.Lock()
	sessions := slices.Collect(maps.Values(t.sessions))
	t.sessions = nil
	t.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.stop())
	}
	errs = append(errs, t.fetcher.close())
	t.admin.Close()
	t.producer.Close()
	t.wg.Wait()
	return errors.Join(errs...)
}

var (
	_ xbroker.Transport     = (*Transport)(nil)
	_ xbroker.TokenReceiver = (*Transport)(nil)
)
