package xkafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/mq/xkafka"
)

// =============================================================================
// 主题
// =============================================================================

func TestAdmin_CreateTopics(t *testing.T) {
	c := newOrdersCluster(t)
	a := c.NewAdmin(t, nil)

	op, err := a.CreateTopics(context.Background(),
		xkafka.TopicSpecification{Topic: "payments", NumPartitions: 2, ReplicationFactor: 1},
		xkafka.TopicSpecification{Topic: "orders", NumPartitions: 1, ReplicationFactor: -1},
	)
	require.NoError(t, err)
	assert.Equal(t, "create_topics", op.Name())

	res, err := op.Wait(waitFor)
	require.NoError(t, err)
	assert.Equal(t, xkafka.OperationCompleted, op.State())
	require.Len(t, res, 2)
	assert.Equal(t, "orders", res[0].Topic)
	assert.Equal(t, xkafka.ErrTopicAlreadyExists, xkafka.CodeOf(res[0].Error))
	assert.Equal(t, "payments", res[1].Topic)
	assert.NoError(t, res[1].Error)

	md, err := a.GetMetadata(context.Background(), []string{"payments"}, waitFor)
	require.NoError(t, err)
	assert.Len(t, md.Topics["payments"].Partitions, 2)
}

func TestAdmin_CreateTopicSurfacesBrokerError(t *testing.T) {
	c := newOrdersCluster(t)
	a := c.NewAdmin(t, nil)

	op, err := a.CreateTopic(context.Background(), xkafka.TopicSpecification{
		Topic: "orders", NumPartitions: 1, ReplicationFactor: 1,
	})
	require.NoError(t, err)
	res, err := op.Wait(waitFor)
	require.Error(t, err)
	assert.Equal(t, xkafka.ErrTopicAlreadyExists, xkafka.CodeOf(err))
	assert.Equal(t, "orders", res.Topic)

	op, err = a.CreateTopic(context.Background(), xkafka.TopicSpecification{
		Topic: "replicated", NumPartitions: 1, ReplicationFactor: 3,
	})
	require.NoError(t, err)
	_, err = op.Wait(waitFor)
	assert.Equal(t, xkafka.ErrorCode(xbroker.ErrInvalidReplicationFactor), xkafka.CodeOf(err))
}

func TestAdmin_CreateTopicValidation(t *testing.T) {
	c := newOrdersCluster(t)
	a := c.NewAdmin(t, nil)

	tests := []struct {
		name  string
		specs []xkafka.TopicSpecification
	}{
		{"no topics", nil},
		{"bad name", []xkafka.TopicSpecification{{Topic: "a b", NumPartitions: 1, ReplicationFactor: 1}}},
		{"zero partitions", []xkafka.TopicSpecification{{Topic: "t", NumPartitions: 0, ReplicationFactor: 1}}},
		{"zero replication", []xkafka.TopicSpecification{{Topic: "t", NumPartitions: 1, ReplicationFactor: 0}}},
		{"negative replication", []xkafka.TopicSpecification{{Topic: "t", NumPartitions: 1, ReplicationFactor: -2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := a.CreateTopics(context.Background(), tt.specs...)
			require.Error(t, err)
			assert.Nil(t, op)
			assert.Equal(t, xkafka.ErrInvalidArg, xkafka.CodeOf(err))
		})
	}
}

func TestAdmin_DeleteTopics(t *testing.T) {
	c := newOrdersCluster(t)
	a := c.NewAdmin(t, nil)

	op, err := a.DeleteTopics(context.Background(), "orders", "missing")
	require.NoError(t, err)
	res, err := op.Wait(waitFor)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "missing", res[0].Topic)
	assert.Equal(t, xkafka.ErrUnknownTopicOrPartition, xkafka.CodeOf(res[0].Error))
	assert.NoError(t, res[1].Error)

	single, err := a.DeleteTopic(context.Background(), "orders")
	require.NoError(t, err)
	_, err = single.Wait(waitFor)
	assert.Equal(t, xkafka.ErrUnknownTopicOrPartition, xkafka.CodeOf(err))

	_, err = a.DeleteTopics(context.Background())
	assert.Equal(t, xkafka.ErrInvalidArg, xkafka.CodeOf(err))
}

// =============================================================================
// 偏移与集群
// =============================================================================

func TestAdmin_ListOffsets(t *testing.T) {
	c := newOrdersCluster(t)
	p := c.NewProducer(t, nil)
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	for i := range 3 {
		m := msgTo("orders", 0, "v")
		m.Timestamp = base.Add(time.Duration(i) * time.Second)
		dh, err := p.Produce(context.Background(), m)
		require.NoError(t, err)
		_, err = dh.Wait(waitFor)
		require.NoError(t, err)
	}
	a := c.NewAdmin(t, nil)

	op, err := a.ListOffsets(context.Background(), xkafka.NewTopicPartitionList().
		AddPartition("orders", 1, xkafka.OffsetEnd).
		AddPartition("orders", 0, xkafka.Offset(base.Add(time.Second).UnixMilli())).
		AddPartition("orders", 2, xkafka.OffsetBeginning))
	require.NoError(t, err)
	res, err := op.Wait(waitFor)
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.Equal(t, int32(0), res[0].TopicPartition.Partition)
	assert.Equal(t, xkafka.Offset(1), res[0].TopicPartition.Offset)
	assert.Equal(t, base.Add(time.Second).UnixMilli(), res[0].Timestamp)
	assert.Equal(t, xkafka.Offset(0), res[1].TopicPartition.Offset)
	assert.Equal(t, xkafka.Offset(0), res[2].TopicPartition.Offset)
}

func TestAdmin_ListOffsetsPartialFailure(t *testing.T) {
	c := newOrdersCluster(t)
	a := c.NewAdmin(t, nil)

	op, err := a.ListOffsets(context.Background(), xkafka.NewTopicPartitionList().
		AddPartition("orders", 0, xkafka.OffsetEnd).
		AddPartition("orders", 8, xkafka.OffsetEnd))
	require.NoError(t, err)
	res, err := op.Wait(waitFor)
	var pe *xkafka.PartitionErrors
	require.ErrorAs(t, err, &pe)
	require.Len(t, res, 2)
	assert.NoError(t, res[0].TopicPartition.Error)
	assert.Equal(t, xkafka.ErrUnknownTopicOrPartition, xkafka.CodeOf(res[1].TopicPartition.Error))
}

func TestAdmin_ListOffsetsEmpty(t *testing.T) {
	c := newOrdersCluster(t)
	a := c.NewAdmin(t, nil)

	op, err := a.ListOffsets(context.Background(), xkafka.NewTopicPartitionList())
	require.NoError(t, err)
	res, err := op.Wait(waitFor)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)

	_, err = a.ListOffsets(context.Background(), nil)
	assert.Equal(t, xkafka.ErrInvalidArg, xkafka.CodeOf(err))
	_, err = a.ListOffsets(context.Background(), xkafka.NewTopicPartitionList().AddPartition("orders", 0, xkafka.OffsetStored))
	assert.Equal(t, xkafka.ErrInvalidArg, xkafka.CodeOf(err))
}

func TestAdmin_DescribeCluster(t *testing.T) {
	c := newOrdersCluster(t, xbroker.WithMockBrokers(3))
	a := c.NewAdmin(t, nil)

	d, err := a.DescribeCluster(context.Background()).Wait(waitFor)
	require.NoError(t, err)
	assert.Equal(t, c.ClusterID(), d.ClusterID)
	require.Len(t, d.Brokers, 3)
	assert.Equal(t, int32(1), d.Brokers[0].ID)
	assert.Equal(t, map[string]int{"orders": 3}, d.Topics)
}

// =============================================================================
// 等待语义
// =============================================================================

// blockingTransport 的 CreateTopics 阻塞到 release 关闭或 ctx 结束。
type blockingTransport struct {
	xbroker.Transport
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTransport) CreateTopics(ctx context.Context, specs []xbroker.TopicSpec) (map[string]error, error) {
	close(b.entered)
	select {
	case <-b.release:
		return b.Transport.CreateTopics(ctx, specs)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newBlockingAdmin(t *testing.T) (*xkafka.Admin, *blockingTransport) {
	t.Helper()
	c := newOrdersCluster(t)
	bt := &blockingTransport{
		Transport: c.Transport(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	a, err := xkafka.NewAdmin(c.Config(nil), xkafka.WithTransport(bt))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, bt
}

func TestAdmin_WaitTimeoutKeepsOperationPending(t *testing.T) {
	a, bt := newBlockingAdmin(t)

	op, err := a.CreateTopic(context.Background(), xkafka.TopicSpecification{
		Topic: "slow", NumPartitions: 1, ReplicationFactor: 1,
	})
	require.NoError(t, err)
	<-bt.entered

	_, err = op.Wait(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, xkafka.IsTimeout(err))
	assert.Equal(t, xkafka.OperationInFlight, op.State())
	assert.Equal(t, "pending-elsewhere", op.State().String())

	close(bt.release)
	res, err := op.Wait(waitFor)
	require.NoError(t, err)
	assert.Equal(t, "slow", res.Topic)
	<-op.Done()
}

func TestAdmin_CallerContextCancels(t *testing.T) {
	a, bt := newBlockingAdmin(t)

	ctx, cancel := context.WithCancel(context.Background())
	op, err := a.CreateTopic(ctx, xkafka.TopicSpecification{
		Topic: "slow", NumPartitions: 1, ReplicationFactor: 1,
	})
	require.NoError(t, err)
	<-bt.entered
	cancel()

	_, err = op.WaitContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdmin_AfterClose(t *testing.T) {
	c := newOrdersCluster(t)
	a := c.NewAdmin(t, nil)
	require.NoError(t, a.Close())

	op, err := a.CreateTopic(context.Background(), xkafka.TopicSpecification{
		Topic: "late", NumPartitions: 1, ReplicationFactor: 1,
	})
	require.NoError(t, err)
	_, err = op.Wait(waitFor)
	assert.True(t, xkafka.IsClosed(err))
	assert.Equal(t, xkafka.OperationCompleted, op.State())

	_, err = a.DescribeCluster(context.Background()).Wait(waitFor)
	assert.True(t, xkafka.IsClosed(err))
}

func TestUseAdmin(t *testing.T) {
	c := newOrdersCluster(t)
	err := xkafka.UseAdmin(c.Config(nil), func(a *xkafka.Admin) error {
		op, err := a.DeleteTopic(context.Background(), "orders")
		if err != nil {
			return err
		}
		_, err = op.Wait(waitFor)
		return err
	}, c.Option())
	require.NoError(t, err)

	assert.Error(t, c.DeleteRecords(xbroker.TopicPartition{Topic: "orders"}, 0))
}
