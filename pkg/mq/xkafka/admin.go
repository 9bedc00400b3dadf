package xkafka

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/omeyang/xkclient/internal/pending"
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/observability/xmetrics"
)

// Admin 集群管理客户端。
//
// 每个操作立即返回 *Operation，请求在 serve goroutine 上执行；
// 参数错误在调用处同步返回。
type Admin struct {
	h *handle
}

// NewAdmin 创建管理客户端。
func NewAdmin(conf ConfigMap, opts ...Option) (*Admin, error) {
	h, err := newHandle(conf, roleAdmin, opts)
	if err != nil {
		return nil, err
	}
	h.start(adminEngine{})
	a := &Admin{h: h}
	armCleanup(a, h)
	return a, nil
}

// String 返回客户端名。
func (a *Admin) String() string { return a.h.name }

// Close 中止未完成的操作（以关闭错误解析）并释放资源。可重复调用。
func (a *Admin) Close() error { return a.h.close(nil) }

// =============================================================================
// Operation
// =============================================================================

// OperationState 管理操作状态。
type OperationState int

const (
	// OperationPending 已提交，尚未发出请求。
	OperationPending OperationState = iota
	// OperationInFlight 请求已发出，等待 broker 响应。
	OperationInFlight
	// OperationCompleted 已解析。
	OperationCompleted
)

func (s OperationState) String() string {
	switch s {
	case OperationInFlight:
		return "pending-elsewhere"
	case OperationCompleted:
		return "completed"
	default:
		return "pending"
	}
}

// Operation 异步管理操作的结果。
//
// Wait 超时返回 Kind 为 KindTimeout 的错误，操作保持未决，可以再次等待；
// broker 拒绝时返回带 broker 错误码与消息的 *Error；成功时返回解码后的结果。
type Operation[T any] struct {
	op *pending.Operation[T]
}

// Name 返回操作名。
func (o *Operation[T]) Name() string { return o.op.Name() }

// Wait 等待结果，timeout 语义同 xqueue.Queue.Pop。
func (o *Operation[T]) Wait(timeout time.Duration) (T, error) {
	v, err := o.op.Wait(timeout)
	return v, o.translate(err)
}

// WaitContext 等待直到 ctx 结束。
func (o *Operation[T]) WaitContext(ctx context.Context) (T, error) {
	v, err := o.op.WaitContext(ctx)
	return v, o.translate(err)
}

func (o *Operation[T]) translate(err error) error {
	if errors.Is(err, pending.ErrWaitTimeout) {
		return newTimeoutError(o.op.Name())
	}
	return err
}

// Done 在结果可用时关闭。
func (o *Operation[T]) Done() <-chan struct{} { return o.op.Done() }

// State 返回当前状态。
func (o *Operation[T]) State() OperationState {
	switch o.op.State() {
	case pending.StateInFlight:
		return OperationInFlight
	case pending.StateCompleted:
		return OperationCompleted
	default:
		return OperationPending
	}
}

// submit 提交一个管理请求：request 在 serve goroutine 上执行，
// 其原始结果交给 decode 得到 T。新增操作只需提供 request 与 decode。
func submit[T any](h *handle, ctx context.Context, name string, request func(ctx context.Context) (any, error), decode pending.Decoder[T]) *Operation[T] {
	op := &Operation[T]{op: pending.NewOperation(name, decode)}
	if err := h.usable(name); err != nil {
		op.op.Resolve(nil, err)
		return op
	}
	if ctx == nil {
		ctx = context.Background()
	}
	untrack := h.trackAbort(func(err error) { op.op.Resolve(nil, err) })
	h.ops.Push(func(sctx context.Context) {
		defer untrack()
		if ctx.Err() != nil {
			op.op.Resolve(nil, ctx.Err())
			return
		}
		rctx, cancel := context.WithTimeout(sctx, h.conf.requestTimeout)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		op.op.MarkInFlight()
		rctx, span := h.startSpan(rctx, name, xmetrics.KindClient)
		h.stats.requests.Add(1)
		raw, err := request(rctx)
		span.End(xmetrics.Result{Err: err})
		if err != nil {
			op.op.Resolve(nil, fromBroker(name, err))
			return
		}
		op.op.Resolve(raw, nil)
	})
	return op
}

// =============================================================================
// 主题
// =============================================================================

// TopicSpecification 创建主题的参数。
type TopicSpecification struct {
	Topic         string
	NumPartitions int
	// ReplicationFactor -1 使用 broker 默认值。
	ReplicationFactor int
	Config            map[string]string
}

// TopicResult 单个主题操作的结果。
type TopicResult struct {
	Topic string
	Error error
}

func (r TopicResult) String() string {
	if r.Error != nil {
		return r.Topic + " (" + r.Error.Error() + ")"
	}
	return r.Topic
}

// CreateTopics 创建主题。结果按主题名排序，逐主题的失败记录在 TopicResult.Error。
func (a *Admin) CreateTopics(ctx context.Context, specs ...TopicSpecification) (*Operation[[]TopicResult], error) {
	req, err := a.createRequest("create_topics", specs)
	if err != nil {
		return nil, err
	}
	return submit(a.h, ctx, "create_topics", req, topicResults("create_topics")), nil
}

// CreateTopic 创建单个主题。broker 拒绝时 Wait 返回该主题的错误。
func (a *Admin) CreateTopic(ctx context.Context, spec TopicSpecification) (*Operation[TopicResult], error) {
	req, err := a.createRequest("create_topic", []TopicSpecification{spec})
	if err != nil {
		return nil, err
	}
	return submit(a.h, ctx, "create_topic", req, singleTopic("create_topic")), nil
}

func (a *Admin) createRequest(name string, specs []TopicSpecification) (func(context.Context) (any, error), error) {
	if len(specs) == 0 {
		return nil, newError(KindValidation, ErrInvalidArg, name, "no topics given")
	}
	req := make([]xbroker.TopicSpec, len(specs))
	for i, s := range specs {
		if err := validateTopic(name, s.Topic); err != nil {
			return nil, err
		}
		if s.NumPartitions < 1 {
			return nil, newErrorf(KindValidation, ErrInvalidArg, name, "%s: num_partitions must be >= 1", s.Topic)
		}
		if s.ReplicationFactor == 0 || s.ReplicationFactor < -1 {
			return nil, newErrorf(KindValidation, ErrInvalidArg, name, "%s: replication_factor must be >= 1 or -1", s.Topic)
		}
		req[i] = xbroker.TopicSpec{
			Name:              s.Topic,
			NumPartitions:     int32(s.NumPartitions),
			ReplicationFactor: int16(s.ReplicationFactor),
			Config:            maps.Clone(s.Config),
		}
	}
	return func(ctx context.Context) (any, error) {
		res, err := a.h.transport.CreateTopics(ctx, req)
		for _, s := range req {
			a.h.meta.invalidate(s.Name)
		}
		return res, err
	}, nil
}

// DeleteTopics 删除主题。
func (a *Admin) DeleteTopics(ctx context.Context, topics ...string) (*Operation[[]TopicResult], error) {
	req, err := a.deleteRequest("delete_topics", topics)
	if err != nil {
		return nil, err
	}
	return submit(a.h, ctx, "delete_topics", req, topicResults("delete_topics")), nil
}

// DeleteTopic 删除单个主题。
func (a *Admin) DeleteTopic(ctx context.Context, topic string) (*Operation[TopicResult], error) {
	req, err := a.deleteRequest("delete_topic", []string{topic})
	if err != nil {
		return nil, err
	}
	return submit(a.h, ctx, "delete_topic", req, singleTopic("delete_topic")), nil
}

func (a *Admin) deleteRequest(name string, topics []string) (func(context.Context) (any, error), error) {
	if len(topics) == 0 {
		return nil, newError(KindValidation, ErrInvalidArg, name, "no topics given")
	}
	for _, t := range topics {
		if err := validateTopic(name, t); err != nil {
			return nil, err
		}
	}
	topics = slices.Clone(topics)
	return func(ctx context.Context) (any, error) {
		res, err := a.h.transport.DeleteTopics(ctx, topics)
		for _, t := range topics {
			a.h.meta.invalidate(t)
		}
		return res, err
	}, nil
}

// topicResults 把 broker 的逐主题错误解码为排序后的结果。
func topicResults(op string) pending.Decoder[[]TopicResult] {
	return func(raw any) ([]TopicResult, error) {
		m, _ := raw.(map[string]error)
		out := make([]TopicResult, 0, len(m))
		for topic, err := range m {
			r := TopicResult{Topic: topic}
			if err != nil {
				r.Error = fromBroker(op, err)
			}
			out = append(out, r)
		}
		slices.SortFunc(out, func(a, b TopicResult) int { return cmp.Compare(a.Topic, b.Topic) })
		return out, nil
	}
}

// singleTopic 单主题操作的解码器，主题错误成为操作错误。
func singleTopic(op string) pending.Decoder[TopicResult] {
	batch := topicResults(op)
	return func(raw any) (TopicResult, error) {
		res, _ := batch(raw)
		if len(res) == 0 {
			return TopicResult{}, newError(KindBroker, ErrFail, op, "empty response")
		}
		return res[0], res[0].Error
	}
}

// =============================================================================
// 偏移
// =============================================================================

// ListOffsetsResult 单个分区的偏移查询结果。
type ListOffsetsResult struct {
	TopicPartition TopicPartition
	Timestamp      int64
	LeaderEpoch    *int32
}

// ListOffsets 查询分区偏移。list 中每个分区的 Offset 指定查询条件：
// OffsetBeginning 最早、OffsetEnd 最新，非负值为毫秒时间戳。
//
// 结果按主题、分区排序，没有分区时为空切片；
// 部分分区失败时结果仍完整返回，错误为 *PartitionErrors。
func (a *Admin) ListOffsets(ctx context.Context, list *TopicPartitionList) (*Operation[[]ListOffsetsResult], error) {
	const name = "list_offsets"
	if list == nil {
		return nil, newError(KindValidation, ErrInvalidArg, name, "nil partition list")
	}
	items := list.Items()
	for _, tp := range items {
		if err := validateTopic(name, tp.Topic); err != nil {
			return nil, err
		}
		if tp.Partition < 0 {
			return nil, newErrorf(KindValidation, ErrInvalidArg, name, "invalid partition %d", tp.Partition)
		}
		if tp.Offset != OffsetBeginning && tp.Offset != OffsetEnd && !tp.Offset.Valid() {
			return nil, newErrorf(KindValidation, ErrInvalidArg, name, "%s: invalid offset spec %s", tp.key(), tp.Offset)
		}
	}
	return submit(a.h, ctx, name, func(ctx context.Context) (any, error) {
		out := make([]ListOffsetsResult, len(items))
		for i, tp := range items {
			var spec xbroker.OffsetSpec
			switch tp.Offset {
			case OffsetBeginning:
				spec = xbroker.OffsetSpecEarliest
			case OffsetEnd:
				spec = xbroker.OffsetSpecLatest
			default:
				spec = xbroker.OffsetSpecForTimestamp(int64(tp.Offset))
			}
			res := ListOffsetsResult{TopicPartition: fromKey(tp.key(), OffsetInvalid), Timestamp: -1}
			listed, err := a.h.transport.ListOffsets(ctx, tp.key(), spec)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				res.TopicPartition.Error = fromBroker(name, err)
			} else {
				res.TopicPartition.Offset = Offset(listed.Offset)
				res.Timestamp = listed.Timestamp
				if listed.LeaderEpoch >= 0 {
					epoch := listed.LeaderEpoch
					res.LeaderEpoch = &epoch
				}
			}
			out[i] = res
		}
		return out, nil
	}, decodeListOffsets), nil
}

func decodeListOffsets(raw any) ([]ListOffsetsResult, error) {
	res, _ := raw.([]ListOffsetsResult)
	if res == nil {
		res = []ListOffsetsResult{}
	}
	slices.SortFunc(res, func(a, b ListOffsetsResult) int { return compareTP(a.TopicPartition, b.TopicPartition) })
	tps := make([]TopicPartition, len(res))
	for i, r := range res {
		tps[i] = r.TopicPartition
	}
	return res, partitionErrors("list_offsets", tps)
}

// =============================================================================
// 集群
// =============================================================================

// ClusterDescription 集群描述。
type ClusterDescription struct {
	ClusterID    string
	ControllerID int32
	Brokers      []xbroker.BrokerMetadata
	// Topics 已知主题及其分区数，不可用的主题不在其中。
	Topics map[string]int
}

// DescribeCluster 查询集群节点与主题。
func (a *Admin) DescribeCluster(ctx context.Context) *Operation[*ClusterDescription] {
	return submit(a.h, ctx, "describe_cluster", func(ctx context.Context) (any, error) {
		return a.h.describeCluster(ctx)
	}, func(raw any) (*ClusterDescription, error) {
		md, _ := raw.(*xbroker.Metadata)
		if md == nil {
			return nil, newError(KindBroker, ErrFail, "describe_cluster", "empty metadata response")
		}
		d := &ClusterDescription{
			ClusterID:    md.ClusterID,
			ControllerID: md.ControllerID,
			Brokers:      slices.Clone(md.Brokers),
			Topics:       make(map[string]int, len(md.Topics)),
		}
		slices.SortFunc(d.Brokers, func(a, b xbroker.BrokerMetadata) int { return cmp.Compare(a.ID, b.ID) })
		for name, t := range md.Topics {
			if t.Err == nil {
				d.Topics[name] = len(t.Partitions)
			}
		}
		return d, nil
	})
}

// GetMetadata 同步查询集群元数据，topics 为空时返回全部主题。
func (a *Admin) GetMetadata(ctx context.Context, topics []string, timeout time.Duration) (*xbroker.Metadata, error) {
	v, err := a.h.call(ctx, "get_metadata", timeout, func(ctx context.Context) (any, error) {
		md, err := a.h.meta.refresh(ctx, topics)
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

// =============================================================================
// adminEngine
// =============================================================================

// adminEngine 管理客户端没有后台工作，请求都以 op 执行。
type adminEngine struct{}

func (adminEngine) run(context.Context, time.Time) time.Duration           { return idleWait }
func (adminEngine) notify() <-chan struct{}                               { return nil }
func (adminEngine) groupEvents() <-chan xbroker.GroupEvent                { return nil }
func (adminEngine) onGroupEvent(context.Context, xbroker.GroupEvent, bool) {}
func (adminEngine) shutdown(context.Context)                              {}
func (adminEngine) failAll(*Error)                                        {}
func (adminEngine) appendStats(*statsDoc)                                 {}

var _ engine = adminEngine{}
