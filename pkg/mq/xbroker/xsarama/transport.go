package xsarama

import (
	"cmp"
	"context"
	"errors"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// ErrNoBrokers 表示 bootstrap.servers 为空。
var ErrNoBrokers = errors.New("xsarama: no bootstrap brokers")

// Transport 基于 sarama.Client 的传输实现。
//
// 集群管理与同步生产者在首次使用时创建，OAUTHBEARER 场景下
// 应用可以先调用 SetToken 再发起首个请求。
type Transport struct {
	brokers []string
	conf    *sarama.Config
	client  sarama.Client
	tokens  *tokenSource

	mu       sync.Mutex
	closed   bool
	admin    sarama.ClusterAdmin
	producer sarama.SyncProducer
	sessions map[string]*session
}

// Factory 返回使用 sarama 的 [xbroker.Factory]。
func Factory(opts ...Option) xbroker.Factory {
	return func(ctx context.Context, dc xbroker.DialConfig) (xbroker.Transport, error) {
		return Dial(ctx, dc, opts...)
	}
}

// Dial 创建 sarama 客户端。元数据按需拉取，创建本身不连接 broker。
func Dial(ctx context.Context, dc xbroker.DialConfig, opts ...Option) (*Transport, error) {
	if len(dc.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	conf, tokens, err := newConfig(dc, opts)
	if err != nil {
		return nil, err
	}
	client, err := xbroker.Await(ctx, func() (sarama.Client, error) {
		return sarama.NewClient(dc.Brokers, conf)
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return &Transport{
		brokers:  slices.Clone(dc.Brokers),
		conf:     conf,
		client:   client,
		tokens:   tokens,
		sessions: make(map[string]*session),
	}, nil
}

func (t *Transport) live() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return xbroker.ErrTransportClosed
	}
	return nil
}

func (t *Transport) clusterAdmin() (sarama.ClusterAdmin, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, xbroker.ErrTransportClosed
	}
	if t.admin == nil {
		a, err := sarama.NewClusterAdminFromClient(t.client)
		if err != nil {
			return nil, wrapErr(err)
		}
		t.admin = a
	}
	return t.admin, nil
}

func (t *Transport) syncProducer() (sarama.SyncProducer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, xbroker.ErrTransportClosed
	}
	if t.producer == nil {
		p, err := sarama.NewSyncProducerFromClient(t.client)
		if err != nil {
			return nil, wrapErr(err)
		}
		t.producer = p
	}
	return t.producer, nil
}

// SetToken 实现 [xbroker.TokenReceiver]。
func (t *Transport) SetToken(value string, expiration time.Time) error {
	if t.tokens == nil {
		return errors.New("xsarama: sasl.mechanisms is not OAUTHBEARER")
	}
	t.tokens.set(value, expiration)
	return nil
}

func (t *Transport) Metadata(ctx context.Context, topics []string) (*xbroker.Metadata, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	return xbroker.Await(ctx, func() (*xbroker.Metadata, error) {
		b, err := t.client.Controller()
		if err != nil {
			return nil, wrapErr(err)
		}
		resp, err := b.GetMetadata(sarama.NewMetadataRequest(t.conf.Version, topics))
		if err != nil {
			return nil, wrapErr(err)
		}
		return convertMetadata(resp), nil
	})
}

func convertMetadata(resp *sarama.MetadataResponse) *xbroker.Metadata {
	md := &xbroker.Metadata{
		ControllerID: resp.ControllerID,
		Brokers:      make([]xbroker.BrokerMetadata, 0, len(resp.Brokers)),
		Topics:       make(map[string]xbroker.TopicMetadata, len(resp.Topics)),
	}
	if resp.ClusterID != nil {
		md.ClusterID = *resp.ClusterID
	}
	for _, b := range resp.Brokers {
		host, port := splitAddr(b.Addr())
		md.Brokers = append(md.Brokers, xbroker.BrokerMetadata{ID: b.ID(), Host: host, Port: port})
	}
	slices.SortFunc(md.Brokers, func(a, b xbroker.BrokerMetadata) int { return cmp.Compare(a.ID, b.ID) })
	for _, tm := range resp.Topics {
		parts := make([]xbroker.PartitionMetadata, 0, len(tm.Partitions))
		for _, pm := range tm.Partitions {
			parts = append(parts, xbroker.PartitionMetadata{
				ID:       pm.ID,
				Leader:   pm.Leader,
				Replicas: pm.Replicas,
				ISR:      pm.Isr,
				Err:      kerr(pm.Err),
			})
		}
		slices.SortFunc(parts, func(a, b xbroker.PartitionMetadata) int { return cmp.Compare(a.ID, b.ID) })
		md.Topics[tm.Name] = xbroker.TopicMetadata{Name: tm.Name, Partitions: parts, Err: kerr(tm.Err)}
	}
	return md
}

func splitAddr(addr string) (string, int) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	n, _ := strconv.Atoi(port)
	return host, n
}

func (t *Transport) Produce(ctx context.Context, tp xbroker.TopicPartition, records []xbroker.Record) ([]xbroker.ProduceResult, error) {
	p, err := t.syncProducer()
	if err != nil {
		return nil, err
	}
	msgs := make([]*sarama.ProducerMessage, len(records))
	index := make(map[*sarama.ProducerMessage]int, len(records))
	for i, r := range records {
		msgs[i] = toProducerMessage(tp, r)
		index[msgs[i]] = i
	}
	_, err = xbroker.Await(ctx, func() (struct{}, error) { return struct{}{}, p.SendMessages(msgs) })

	res := make([]xbroker.ProduceResult, len(records))
	var perrs sarama.ProducerErrors
	switch {
	case err == nil:
	case errors.As(err, &perrs):
		for _, pe := range perrs {
			if i, ok := index[pe.Msg]; ok {
				res[i].Err = wrapErr(pe.Err)
			}
		}
	default:
		return nil, wrapErr(err)
	}
	for i, m := range msgs {
		if res[i].Err == nil {
			res[i].Offset = m.Offset
			res[i].Timestamp = m.Timestamp
		}
	}
	return res, nil
}

func toProducerMessage(tp xbroker.TopicPartition, r xbroker.Record) *sarama.ProducerMessage {
	m := &sarama.ProducerMessage{
		Topic:     tp.Topic,
		Partition: tp.Partition,
		Timestamp: r.Timestamp,
	}
	if r.Key != nil {
		m.Key = sarama.ByteEncoder(r.Key)
	}
	if r.Value != nil {
		m.Value = sarama.ByteEncoder(r.Value)
	}
	if len(r.Headers) > 0 {
		m.Headers = make([]sarama.RecordHeader, len(r.Headers))
		for i, h := range r.Headers {
			m.Headers[i] = sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value}
		}
	}
	return m
}

func (t *Transport) Fetch(ctx context.Context, tp xbroker.TopicPartition, offset int64, maxRecords int) (xbroker.FetchResult, error) {
	if err := t.live(); err != nil {
		return xbroker.FetchResult{}, err
	}
	return xbroker.Await(ctx, func() (xbroker.FetchResult, error) {
		leader, err := t.client.Leader(tp.Topic, tp.Partition)
		if err != nil {
			return xbroker.FetchResult{}, wrapErr(err)
		}
		maxBytes := t.conf.Consumer.Fetch.Max
		if maxBytes <= 0 {
			maxBytes = sarama.MaxResponseSize
		}
		req := &sarama.FetchRequest{
			Version:     5,
			MaxWaitTime: int32(t.conf.Consumer.MaxWaitTime / time.Millisecond),
			MinBytes:    t.conf.Consumer.Fetch.Min,
			MaxBytes:    maxBytes,
			Isolation:   t.conf.Consumer.IsolationLevel,
		}
		req.AddBlock(tp.Topic, tp.Partition, offset, t.conf.Consumer.Fetch.Default, -1)
		resp, err := leader.Fetch(req)
		if err != nil {
			return xbroker.FetchResult{}, wrapErr(err)
		}
		block := resp.GetBlock(tp.Topic, tp.Partition)
		if block == nil {
			return xbroker.FetchResult{}, xbroker.NewError(xbroker.ErrUnknownTopicOrPartition, tp.String())
		}
		if block.Err != sarama.ErrNoError {
			if block.Err == sarama.ErrNotLeaderForPartition {
				_ = t.client.RefreshMetadata(tp.Topic)
			}
			return xbroker.FetchResult{}, kerr(block.Err)
		}
		return xbroker.FetchResult{
			Records:    decodeRecords(block, offset, maxRecords),
			Watermarks: xbroker.Watermarks{Low: block.LogStartOffset, High: block.HighWaterMarkOffset},
		}, nil
	})
}

// decodeRecords 展开记录批次，跳过控制批次与 from 之前的记录。
// 旧版消息集合也按同样规则展开。
func decodeRecords(block *sarama.FetchResponseBlock, from int64, limit int) []xbroker.FetchedRecord {
	var out []xbroker.FetchedRecord
	add := func(fr xbroker.FetchedRecord) bool {
		if fr.Offset >= from {
			out = append(out, fr)
		}
		return limit <= 0 || len(out) < limit
	}
	for _, rs := range block.RecordsSet {
		switch {
		case rs.RecordBatch != nil:
			b := rs.RecordBatch
			if b.Control {
				continue
			}
			for _, r := range b.Records {
				ts := b.FirstTimestamp.Add(r.TimestampDelta)
				if b.LogAppendTime {
					ts = b.MaxTimestamp
				}
				fr := xbroker.FetchedRecord{
					Record: xbroker.Record{
						Key:       r.Key,
						Value:     r.Value,
						Headers:   fromHeaders(r.Headers),
						Timestamp: ts,
					},
					Offset:      b.FirstOffset + r.OffsetDelta,
					LeaderEpoch: b.PartitionLeaderEpoch,
				}
				if !add(fr) {
					return out
				}
			}
		case rs.MsgSet != nil:
			for _, outer := range rs.MsgSet.Messages {
				inner := outer.Messages()
				// 压缩的 v1 消息内层偏移是相对值，以外层偏移对齐最后一条
				var base int64
				if outer.Msg.Set != nil && outer.Msg.Version >= 1 && len(inner) > 0 {
					base = outer.Offset - inner[len(inner)-1].Offset
				}
				for _, mb := range inner {
					fr := xbroker.FetchedRecord{
						Record:      xbroker.Record{Key: mb.Msg.Key, Value: mb.Msg.Value, Timestamp: mb.Msg.Timestamp},
						Offset:      mb.Offset + base,
						LeaderEpoch: -1,
					}
					if !add(fr) {
						return out
					}
				}
			}
		}
	}
	return out
}

func fromHeaders(hs []*sarama.RecordHeader) []xbroker.Header {
	if len(hs) == 0 {
		return nil
	}
	out := make([]xbroker.Header, 0, len(hs))
	for _, h := range hs {
		out = append(out, xbroker.Header{Key: string(h.Key), Value: h.Value})
	}
	return out
}

func (t *Transport) Watermarks(ctx context.Context, tp xbroker.TopicPartition) (xbroker.Watermarks, error) {
	if err := t.live(); err != nil {
		return xbroker.Watermarks{}, err
	}
	return xbroker.Await(ctx, func() (xbroker.Watermarks, error) {
		low, err := t.client.GetOffset(tp.Topic, tp.Partition, sarama.OffsetOldest)
		if err != nil {
			return xbroker.Watermarks{}, wrapErr(err)
		}
		high, err := t.client.GetOffset(tp.Topic, tp.Partition, sarama.OffsetNewest)
		if err != nil {
			return xbroker.Watermarks{}, wrapErr(err)
		}
		return xbroker.Watermarks{Low: low, High: high}, nil
	})
}

func (t *Transport) ListOffsets(ctx context.Context, tp xbroker.TopicPartition, spec xbroker.OffsetSpec) (xbroker.ListedOffset, error) {
	if err := t.live(); err != nil {
		return xbroker.ListedOffset{}, err
	}
	return xbroker.Await(ctx, func() (xbroker.ListedOffset, error) {
		leader, err := t.client.Leader(tp.Topic, tp.Partition)
		if err != nil {
			return xbroker.ListedOffset{}, wrapErr(err)
		}
		req := &sarama.OffsetRequest{Version: 1}
		req.AddBlock(tp.Topic, tp.Partition, int64(spec), 1)
		resp, err := leader.GetAvailableOffsets(req)
		if err != nil {
			return xbroker.ListedOffset{}, wrapErr(err)
		}
		block := resp.GetBlock(tp.Topic, tp.Partition)
		if block == nil {
			return xbroker.ListedOffset{}, xbroker.NewError(xbroker.ErrUnknownTopicOrPartition, tp.String())
		}
		if block.Err != sarama.ErrNoError {
			return xbroker.ListedOffset{}, kerr(block.Err)
		}
		return xbroker.ListedOffset{Offset: block.Offset, Timestamp: block.Timestamp, LeaderEpoch: -1}, nil
	})
}

// CommitOffsets 向组协调器提交偏移。本传输持有该组的活跃成员时
// 以其成员 ID 与代数提交，否则以独立消费者（代数 -1）提交。
func (t *Transport) CommitOffsets(ctx context.Context, group string, offsets map[xbroker.TopicPartition]xbroker.OffsetAndMetadata) (map[xbroker.TopicPartition]error, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	memberID, generation := "", int32(sarama.GroupGenerationUndefined)
	t.mu.Lock()
	s := t.sessions[group]
	t.mu.Unlock()
	if s != nil {
		memberID, generation = s.identity()
	}
	return xbroker.Await(ctx, func() (map[xbroker.TopicPartition]error, error) {
		coord, err := t.client.Coordinator(group)
		if err != nil {
			return nil, wrapErr(err)
		}
		req := &sarama.OffsetCommitRequest{
			Version:                 2,
			ConsumerGroup:           group,
			ConsumerGroupGeneration: generation,
			ConsumerID:              memberID,
			RetentionTime:           -1,
		}
		for tp, om := range offsets {
			req.AddBlock(tp.Topic, tp.Partition, om.Offset, 0, om.Metadata)
		}
		resp, err := coord.CommitOffset(req)
		if err != nil {
			return nil, wrapErr(err)
		}
		res := make(map[xbroker.TopicPartition]error, len(offsets))
		for tp := range offsets {
			code := resp.Errors[tp.Topic][tp.Partition]
			if code == sarama.ErrNotCoordinatorForConsumer {
				_ = t.client.RefreshCoordinator(group)
			}
			res[tp] = kerr(code)
		}
		return res, nil
	})
}

func (t *Transport) FetchCommitted(ctx context.Context, group string, tps []xbroker.TopicPartition) (map[xbroker.TopicPartition]xbroker.OffsetAndMetadata, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	return xbroker.Await(ctx, func() (map[xbroker.TopicPartition]xbroker.OffsetAndMetadata, error) {
		coord, err := t.client.Coordinator(group)
		if err != nil {
			return nil, wrapErr(err)
		}
		req := &sarama.OffsetFetchRequest{Version: 1, ConsumerGroup: group}
		for _, tp := range tps {
			req.AddPartition(tp.Topic, tp.Partition)
		}
		resp, err := coord.FetchOffset(req)
		if err != nil {
			return nil, wrapErr(err)
		}
		if resp.Err != sarama.ErrNoError {
			return nil, kerr(resp.Err)
		}
		res := make(map[xbroker.TopicPartition]xbroker.OffsetAndMetadata, len(tps))
		for _, tp := range tps {
			om := xbroker.OffsetAndMetadata{Offset: xbroker.NoCommittedOffset, LeaderEpoch: -1}
			if block := resp.GetBlock(tp.Topic, tp.Partition); block != nil {
				if block.Err != sarama.ErrNoError {
					return nil, kerr(block.Err)
				}
				om.Offset = block.Offset
				om.Metadata = block.Metadata
			}
			res[tp] = om
		}
		return res, nil
	})
}

func (t *Transport) CreateTopics(ctx context.Context, specs []xbroker.TopicSpec) (map[string]error, error) {
	admin, err := t.clusterAdmin()
	if err != nil {
		return nil, err
	}
	return xbroker.Await(ctx, func() (map[string]error, error) {
		res := make(map[string]error, len(specs))
		for _, spec := range specs {
			detail := &sarama.TopicDetail{
				NumPartitions:     spec.NumPartitions,
				ReplicationFactor: spec.ReplicationFactor,
			}
			if len(spec.Config) > 0 {
				detail.ConfigEntries = make(map[string]*string, len(spec.Config))
				for k, v := range spec.Config {
					detail.ConfigEntries[k] = &v
				}
			}
			res[spec.Name] = wrapErr(admin.CreateTopic(spec.Name, detail, false))
		}
		return res, nil
	})
}

func (t *Transport) DeleteTopics(ctx context.Context, topics []string) (map[string]error, error) {
	admin, err := t.clusterAdmin()
	if err != nil {
		return nil, err
	}
	return xbroker.Await(ctx, func() (map[string]error, error) {
		res := make(map[string]error, len(topics))
		for _, name := range topics {
			res[name] = wrapErr(admin.DeleteTopic(name))
		}
		return res, nil
	})
}

// Close 离开所有消费组并关闭生产者与客户端。
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.sessions = nil
	producer, admin := t.producer, t.admin
	t.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.stop())
	}
	if producer != nil {
		errs = append(errs, producer.Close())
	}
	// ClusterAdmin 关闭时一并关闭底层客户端
	if admin != nil {
		errs = append(errs, admin.Close())
	} else {
		errs = append(errs, t.client.Close())
	}
	return errors.Join(errs...)
}

var (
	_ xbroker.Transport     = (*Transport)(nil)
	_ xbroker.TokenReceiver = (*Transport)(nil)
)
