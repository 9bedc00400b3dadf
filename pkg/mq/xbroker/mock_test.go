package xbroker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recv(t *testing.T, s GroupSession) GroupEvent {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "session events closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no group event")
		return GroupEvent{}
	}
}

// =============================================================================
// 分区日志
// =============================================================================

func TestMockCluster_ProduceFetchWatermarks(t *testing.T) {
	c := NewMockCluster()
	require.NoError(t, c.CreateTopic("orders", 3))
	tr := c.Transport()
	defer tr.Close()
	ctx := context.Background()
	tp := TopicPartition{Topic: "orders", Partition: 1}

	res, err := tr.Produce(ctx, tp, []Record{{Value: []byte("a")}, {Value: []byte("b")}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, int64(0), res[0].Offset)
	assert.Equal(t, int64(1), res[1].Offset)
	assert.False(t, res[0].Timestamp.IsZero())

	wm, err := tr.Watermarks(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, Watermarks{Low: 0, High: 2}, wm)

	fr, err := tr.Fetch(ctx, tp, 1, 10)
	require.NoError(t, err)
	require.Len(t, fr.Records, 1)
	assert.Equal(t, []byte("b"), fr.Records[0].Value)
	assert.Equal(t, int64(1), fr.Records[0].Offset)

	fr, err = tr.Fetch(ctx, tp, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, fr.Records)

	_, err = tr.Fetch(ctx, tp, 5, 10)
	assert.ErrorIs(t, err, NewError(ErrOffsetOutOfRange, ""))

	require.NoError(t, c.DeleteRecords(tp, 1))
	_, err = tr.Fetch(ctx, tp, 0, 10)
	assert.ErrorIs(t, err, NewError(ErrOffsetOutOfRange, ""))
	lo, err := tr.ListOffsets(ctx, tp, OffsetSpecEarliest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lo.Offset)
}

func TestMockCluster_UnknownTopic(t *testing.T) {
	c := NewMockCluster()
	tr := c.Transport()
	defer tr.Close()
	ctx := context.Background()
	tp := TopicPartition{Topic: "missing", Partition: 0}

	res, err := tr.Produce(ctx, tp, []Record{{Value: []byte("x")}})
	require.NoError(t, err)
	assert.ErrorIs(t, res[0].Err, NewError(ErrUnknownTopicOrPartition, ""))

	_, err = tr.Watermarks(ctx, tp)
	assert.ErrorIs(t, err, NewError(ErrUnknownTopicOrPartition, ""))

	md, err := tr.Metadata(ctx, []string{"missing"})
	require.NoError(t, err)
	assert.Error(t, md.Topics["missing"].Err)
}

func TestMockCluster_AutoCreateAndMaxBytes(t *testing.T) {
	c := NewMockCluster(WithMockAutoCreateTopics(2), WithMockMaxMessageBytes(4), WithMockBrokers(3))
	tr := c.Transport()
	defer tr.Close()
	ctx := context.Background()

	res, err := tr.Produce(ctx, TopicPartition{Topic: "auto", Partition: 1}, []Record{
		{Value: []byte("ok")},
		{Value: []byte("too large")},
	})
	require.NoError(t, err)
	assert.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, NewError(ErrMessageSizeTooLarge, ""))

	md, err := tr.Metadata(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, md.Topics["auto"].Partitions, 2)
	assert.Len(t, md.Brokers, 3)
	assert.Equal(t, c.ClusterID(), md.ClusterID)
	assert.Equal(t, "mock-1:9092,mock-2:9092,mock-3:9092", c.BootstrapServers())
}

func TestMockCluster_ListOffsetsByTimestamp(t *testing.T) {
	c := NewMockCluster()
	require.NoError(t, c.CreateTopic("t", 1))
	tr := c.Transport()
	defer tr.Close()
	ctx := context.Background()
	tp := TopicPartition{Topic: "t"}
	base := time.UnixMilli(1_700_000_000_000)

	_, err := tr.Produce(ctx, tp, []Record{
		{Value: []byte("a"), Timestamp: base},
		{Value: []byte("b"), Timestamp: base.Add(time.Second)},
	})
	require.NoError(t, err)

	lo, err := tr.ListOffsets(ctx, tp, OffsetSpecForTimestamp(base.Add(500*time.Millisecond).UnixMilli()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), lo.Offset)

	lo, err = tr.ListOffsets(ctx, tp, OffsetSpecForTimestamp(base.Add(time.Hour).UnixMilli()))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), lo.Offset)

	lo, err = tr.ListOffsets(ctx, tp, OffsetSpecLatest)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lo.Offset)
}

// =============================================================================
// 管理与提交
// =============================================================================

func TestMockCluster_TopicAdmin(t *testing.T) {
	c := NewMockCluster()
	tr := c.Transport()
	defer tr.Close()
	ctx := context.Background()

	res, err := tr.CreateTopics(ctx, []TopicSpec{
		{Name: "a", NumPartitions: 1},
		{Name: "b", NumPartitions: 0},
		{Name: "c", NumPartitions: 1, ReplicationFactor: 3},
	})
	require.NoError(t, err)
	assert.NoError(t, res["a"])
	assert.ErrorIs(t, res["b"], NewError(ErrInvalidPartitions, ""))
	assert.ErrorIs(t, res["c"], NewError(ErrInvalidReplicationFactor, ""))

	res, err = tr.CreateTopics(ctx, []TopicSpec{{Name: "a", NumPartitions: 1}})
	require.NoError(t, err)
	assert.ErrorIs(t, res["a"], NewError(ErrTopicAlreadyExists, ""))

	del, err := tr.DeleteTopics(ctx, []string{"a", "zz"})
	require.NoError(t, err)
	assert.NoError(t, del["a"])
	assert.ErrorIs(t, del["zz"], NewError(ErrUnknownTopicOrPartition, ""))
}

func TestMockCluster_CommitAndFetchCommitted(t *testing.T) {
	c := NewMockCluster()
	require.NoError(t, c.CreateTopic("t", 2))
	tr := c.Transport()
	defer tr.Close()
	ctx := context.Background()
	p0 := TopicPartition{Topic: "t", Partition: 0}
	p1 := TopicPartition{Topic: "t", Partition: 1}
	bad := TopicPartition{Topic: "t", Partition: 9}

	res, err := tr.CommitOffsets(ctx, "g", map[TopicPartition]OffsetAndMetadata{
		p0:  {Offset: 5, Metadata: "m"},
		bad: {Offset: 1},
	})
	require.NoError(t, err)
	assert.NoError(t, res[p0])
	assert.Error(t, res[bad])

	got, err := tr.FetchCommitted(ctx, "g", []TopicPartition{p0, p1})
	require.NoError(t, err)
	assert.Equal(t, OffsetAndMetadata{Offset: 5, Metadata: "m"}, got[p0])
	assert.Equal(t, NoCommittedOffset, got[p1].Offset)

	om, ok := c.Committed("g", p0)
	assert.True(t, ok)
	assert.Equal(t, int64(5), om.Offset)
}

func TestMockCluster_InjectError(t *testing.T) {
	c := NewMockCluster()
	require.NoError(t, c.CreateTopic("t", 1))
	tr := c.Transport()
	defer tr.Close()
	ctx := context.Background()
	tp := TopicPartition{Topic: "t"}

	c.InjectError(OpProduce, ErrNotLeaderForPartition, 1)
	res, err := tr.Produce(ctx, tp, []Record{{Value: []byte("x")}})
	require.NoError(t, err)
	assert.ErrorIs(t, res[0].Err, NewError(ErrNotLeaderForPartition, ""))

	res, err = tr.Produce(ctx, tp, []Record{{Value: []byte("x")}})
	require.NoError(t, err)
	assert.NoError(t, res[0].Err)

	errConn := errors.New("connection reset")
	c.InjectFailure(OpWatermarks, errConn, 2)
	for range 2 {
		_, err = tr.Watermarks(ctx, tp)
		assert.ErrorIs(t, err, errConn)
	}
	_, err = tr.Watermarks(ctx, tp)
	assert.NoError(t, err)
}

func TestMockTransport_Closed(t *testing.T) {
	tr := NewMockCluster().Transport()
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	_, err := tr.Metadata(context.Background(), nil)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

// =============================================================================
// 消费组
// =============================================================================

func TestMockCluster_GroupJoinLeaveRebalance(t *testing.T) {
	c := NewMockCluster()
	require.NoError(t, c.CreateTopic("t", 4))
	ctx := context.Background()
	t1, t2 := c.Transport(), c.Transport()
	defer t1.Close()
	defer t2.Close()

	req := JoinRequest{Group: "g", Topics: []string{"t"}, Assignor: "range"}
	s1, err := t1.JoinGroup(ctx, req)
	require.NoError(t, err)
	ev := recv(t, s1)
	assert.Len(t, ev.Assignment, 4)
	gen1 := ev.Generation

	s2, err := t2.JoinGroup(ctx, req)
	require.NoError(t, err)
	ev1, ev2 := recv(t, s1), recv(t, s2)
	assert.Greater(t, ev1.Generation, gen1)
	assert.Len(t, ev1.Assignment, 2)
	assert.Len(t, ev2.Assignment, 2)
	assert.Len(t, c.Members("g"), 2)

	require.NoError(t, s2.Leave(ctx))
	_, open := <-s2.Events()
	assert.False(t, open)
	assert.Len(t, recv(t, s1).Assignment, 4)
}

func TestMockCluster_ExpireMemberDeliversLost(t *testing.T) {
	c := NewMockCluster()
	require.NoError(t, c.CreateTopic("t", 2))
	tr := c.Transport()
	defer tr.Close()

	s, err := tr.JoinGroup(context.Background(), JoinRequest{Group: "g", Topics: []string{"t"}})
	require.NoError(t, err)
	recv(t, s)

	require.True(t, c.ExpireMember("g", s.MemberID()))
	ev := recv(t, s)
	assert.True(t, ev.Lost)
	assert.Empty(t, ev.Assignment)
	_, open := <-s.Events()
	assert.False(t, open)
	assert.False(t, c.ExpireMember("g", s.MemberID()))
}

func TestMockCluster_TopicCreationTriggersRebalance(t *testing.T) {
	c := NewMockCluster()
	tr := c.Transport()
	defer tr.Close()

	s, err := tr.JoinGroup(context.Background(), JoinRequest{Group: "g", Topics: []string{"late"}})
	require.NoError(t, err)
	assert.Empty(t, recv(t, s).Assignment)

	require.NoError(t, c.CreateTopic("late", 2))
	assert.Len(t, recv(t, s).Assignment, 2)
}

func TestMockTransport_CloseLeavesGroup(t *testing.T) {
	c := NewMockCluster()
	tr := c.Transport()
	s, err := tr.JoinGroup(context.Background(), JoinRequest{Group: "g", Topics: []string{"t"}})
	require.NoError(t, err)
	recv(t, s)
	require.NoError(t, tr.Close())
	assert.Empty(t, c.Members("g"))
}

func TestMockCluster_MetadataAutoCreate(t *testing.T) {
	c := NewMockCluster(WithMockAutoCreateTopics(3))
	tr := c.Transport()
	defer tr.Close()

	md, err := tr.Metadata(context.Background(), []string{"fresh"})
	require.NoError(t, err)
	require.NoError(t, md.Topics["fresh"].Err)
	assert.Len(t, md.Topics["fresh"].Partitions, 3)

	md, err = tr.Metadata(context.Background(), []string{"bad topic"})
	require.NoError(t, err)
	assert.Error(t, md.Topics["bad topic"].Err)
}
