package xkafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xkclient/pkg/mq/xkafka"
	"github.com/omeyang/xkclient/pkg/mq/xkafka/xkafkatest"
)

// produceN 向 topic 的 partition 写入 n 条消息并等待确认。
func produceN(t *testing.T, c *xkafkatest.Cluster, topic string, partition int32, n int) {
	t.Helper()
	p := c.NewProducer(t, nil)
	for i := range n {
		dh, err := p.Produce(context.Background(), msgTo(topic, partition, fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
		_, err = dh.Wait(waitFor)
		require.NoError(t, err)
	}
}

// pollFor 轮询直到得到 T 类型的事件。
func pollFor[T xkafka.Event](t *testing.T, c *xkafka.Consumer) T {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if ev, ok := c.Poll(50 * time.Millisecond).(T); ok {
			return ev
		}
	}
	var zero T
	t.Fatalf("no %T within %s", zero, waitFor)
	return zero
}

// pollUntil 轮询直到 cond 成立。
func pollUntil(t *testing.T, c *xkafka.Consumer, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", waitFor)
		}
		c.Poll(20 * time.Millisecond)
	}
}

func assignmentLen(t *testing.T, c *xkafka.Consumer) int {
	t.Helper()
	a, err := c.Assignment()
	require.NoError(t, err)
	return a.Len()
}

// =============================================================================
// 订阅
// =============================================================================

func TestConsumer_SubscribeAndRead(t *testing.T) {
	c := newOrdersCluster(t)
	produceN(t, c, "orders", 0, 2)
	produceN(t, c, "orders", 2, 1)

	cons := c.NewConsumer(t, xkafka.ConfigMap{"auto.offset.reset": "earliest"})
	require.NoError(t, cons.Subscribe("orders"))
	sub, err := cons.Subscription()
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, sub)

	assigned := pollFor[xkafka.AssignedPartitions](t, cons)
	assert.Len(t, assigned.Partitions, 3)
	assert.Equal(t, 3, assignmentLen(t, cons))
	id, err := cons.MemberID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "EAGER", cons.RebalanceProtocol())

	got := map[int32][]string{}
	for range 3 {
		msg, err := cons.ReadMessage(waitFor)
		require.NoError(t, err)
		got[msg.TopicPartition.Partition] = append(got[msg.TopicPartition.Partition], string(msg.Value))
	}
	assert.Equal(t, map[int32][]string{0: {"v0", "v1"}, 2: {"v0"}}, got)
}

func TestConsumer_LatestSkipsExisting(t *testing.T) {
	c := newOrdersCluster(t)
	produceN(t, c, "orders", 0, 3)

	cons := c.NewConsumer(t, xkafka.ConfigMap{"enable.partition.eof": true})
	require.NoError(t, cons.Subscribe("orders"))
	pollFor[xkafka.AssignedPartitions](t, cons)

	eof := pollUntilEOF(t, cons, 0)
	assert.Equal(t, xkafka.Offset(3), eof.Offset)
}

func pollUntilEOF(t *testing.T, c *xkafka.Consumer, partition int32) xkafka.PartitionEOF {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		switch ev := c.Poll(50 * time.Millisecond).(type) {
		case xkafka.PartitionEOF:
			if ev.Partition == partition {
				return ev
			}
		case *xkafka.Message:
			t.Fatalf("unexpected message %s", ev)
		}
	}
	t.Fatalf("no EOF for partition %d", partition)
	return xkafka.PartitionEOF{}
}

func TestConsumer_SubscribeValidation(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)

	assert.Error(t, cons.Subscribe())
	assert.Error(t, cons.Subscribe("bad/topic"))
	assert.Error(t, cons.Subscribe("^(unclosed"))
}

func TestConsumer_PatternSubscription(t *testing.T) {
	c := newOrdersCluster(t)
	require.NoError(t, c.CreateTopic("orders-eu", 1))
	require.NoError(t, c.CreateTopic("billing", 1))

	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Subscribe("^orders.*"))
	assigned := pollFor[xkafka.AssignedPartitions](t, cons)

	topics := map[string]bool{}
	for _, tp := range assigned.Partitions {
		topics[tp.Topic] = true
	}
	assert.Equal(t, map[string]bool{"orders": true, "orders-eu": true}, topics)
}

func TestConsumer_AssignWhileSubscribed(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Subscribe("orders"))

	err := cons.Assign(xkafka.NewTopicPartitionList().AddPartition("orders", 0, xkafka.OffsetBeginning))
	require.Error(t, err)
	assert.Equal(t, xkafka.ErrState, xkafka.CodeOf(err))
}

func TestConsumer_UnsubscribeRevokes(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Subscribe("orders"))
	pollFor[xkafka.AssignedPartitions](t, cons)

	require.NoError(t, cons.Unsubscribe())
	revoked := pollFor[xkafka.RevokedPartitions](t, cons)
	assert.Len(t, revoked.Partitions, 3)
	assert.False(t, revoked.Lost)
	assert.Equal(t, 0, assignmentLen(t, cons))
	assert.Empty(t, c.Members(t.Name()))
}

// =============================================================================
// 再均衡
// =============================================================================

func TestConsumer_ListenerAppliesAssignment(t *testing.T) {
	c := newOrdersCluster(t)
	var assignedCalls atomic.Int32
	hooks := xkafka.RebalanceHooks{
		Assigned: func(cons *xkafka.Consumer, parts []xkafka.TopicPartition) error {
			assignedCalls.Add(1)
			// 只接管第一个分区
			return cons.Assign(xkafka.NewTopicPartitionList(parts[0]))
		},
	}
	cons := c.NewConsumer(t, nil, xkafka.WithRebalanceListener(hooks))
	require.NoError(t, cons.Subscribe("orders"))

	pollUntil(t, cons, func() bool { return assignedCalls.Load() > 0 })
	a, err := cons.Assignment()
	require.NoError(t, err)
	require.Equal(t, 1, a.Len())
	assert.True(t, a.Contains("orders", 0))
}

func TestConsumer_ListenerErrorFallsBackToAutoApply(t *testing.T) {
	c := newOrdersCluster(t)
	var called atomic.Bool
	hooks := xkafka.RebalanceHooks{
		Assigned: func(*xkafka.Consumer, []xkafka.TopicPartition) error {
			called.Store(true)
			panic("listener exploded")
		},
	}
	cons := c.NewConsumer(t, nil, xkafka.WithRebalanceListener(hooks))
	require.NoError(t, cons.Subscribe("orders"))

	pollUntil(t, cons, called.Load)
	assert.Equal(t, 3, assignmentLen(t, cons))
}

func TestConsumer_LostAssignment(t *testing.T) {
	c := newOrdersCluster(t)
	var mu sync.Mutex
	var revokedLost []bool
	var assigned atomic.Int32
	hooks := xkafka.RebalanceHooks{
		Assigned: func(*xkafka.Consumer, []xkafka.TopicPartition) error {
			assigned.Add(1)
			return nil
		},
		Revoked: func(cons *xkafka.Consumer, _ []xkafka.TopicPartition) error {
			mu.Lock()
			revokedLost = append(revokedLost, cons.AssignmentLost())
			mu.Unlock()
			return nil
		},
	}
	cons := c.NewConsumer(t, nil, xkafka.WithRebalanceListener(hooks))
	require.NoError(t, cons.Subscribe("orders"))
	pollUntil(t, cons, func() bool { return assigned.Load() == 1 })

	id, err := cons.MemberID()
	require.NoError(t, err)
	require.True(t, c.ExpireMember(t.Name(), id))

	pollUntil(t, cons, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(revokedLost) == 1
	})
	mu.Lock()
	assert.True(t, revokedLost[0])
	mu.Unlock()

	// 重新入组后得到新的分配，丢失标记清除
	pollUntil(t, cons, func() bool { return assigned.Load() == 2 })
	assert.False(t, cons.AssignmentLost())
	assert.Equal(t, 3, assignmentLen(t, cons))
	newID, err := cons.MemberID()
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)
}

func TestConsumer_CloseWaitsForRunningListener(t *testing.T) {
	c := newOrdersCluster(t)
	var (
		mu       sync.Mutex
		calls    []string
		revoked  []xkafka.TopicPartition
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	entered := make(chan struct{})
	var once sync.Once
	track := func(name string) func() {
		n := inFlight.Add(1)
		for m := maxSeen.Load(); n > m && !maxSeen.CompareAndSwap(m, n); m = maxSeen.Load() {
		}
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
		return func() { inFlight.Add(-1) }
	}
	hooks := xkafka.RebalanceHooks{
		Assigned: func(*xkafka.Consumer, []xkafka.TopicPartition) error {
			defer track("assigned")()
			once.Do(func() { close(entered) })
			time.Sleep(100 * time.Millisecond)
			return nil
		},
		Revoked: func(_ *xkafka.Consumer, parts []xkafka.TopicPartition) error {
			defer track("revoked")()
			mu.Lock()
			revoked = append(revoked, parts...)
			mu.Unlock()
			return nil
		},
	}
	cons := c.NewConsumer(t, nil, xkafka.WithRebalanceListener(hooks))
	require.NoError(t, cons.Subscribe("orders"))

	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			if e, ok := cons.Poll(20 * time.Millisecond).(*xkafka.Error); ok && xkafka.IsClosed(e) {
				return
			}
		}
	}()

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("assignment listener never ran")
	}
	require.NoError(t, cons.Close())

	select {
	case <-polled:
	case <-time.After(waitFor):
		t.Fatal("Poll did not return after Close")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"assigned", "revoked"}, calls)
	assert.Len(t, revoked, 3)
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestConsumer_EagerRebalanceRevokesEverything(t *testing.T) {
	c := newOrdersCluster(t)
	conf := xkafka.ConfigMap{"group.id": "eager-group"}
	first := c.NewConsumer(t, conf)
	require.NoError(t, first.Subscribe("orders"))
	pollFor[xkafka.AssignedPartitions](t, first)

	second := c.NewConsumer(t, conf)
	require.NoError(t, second.Subscribe("orders"))
	pollFor[xkafka.AssignedPartitions](t, second)

	revoked := pollFor[xkafka.RevokedPartitions](t, first)
	assert.Len(t, revoked.Partitions, 3)
	reassigned := pollFor[xkafka.AssignedPartitions](t, first)
	assert.Equal(t, 3, len(reassigned.Partitions)+assignmentLen(t, second))
}

func TestConsumer_CooperativeRebalanceRevokesDifference(t *testing.T) {
	c := newOrdersCluster(t)
	conf := xkafka.ConfigMap{
		"group.id":                      "coop-group",
		"partition.assignment.strategy": "cooperative-sticky",
	}
	first := c.NewConsumer(t, conf)
	assert.Equal(t, "COOPERATIVE", first.RebalanceProtocol())
	require.NoError(t, first.Subscribe("orders"))
	pollFor[xkafka.AssignedPartitions](t, first)
	require.Equal(t, 3, assignmentLen(t, first))

	second := c.NewConsumer(t, conf)
	require.NoError(t, second.Subscribe("orders"))
	gained := pollFor[xkafka.AssignedPartitions](t, second)
	require.NotEmpty(t, gained.Partitions)

	revoked := pollFor[xkafka.RevokedPartitions](t, first)
	assert.Len(t, revoked.Partitions, len(gained.Partitions))
	assert.Equal(t, 3-len(gained.Partitions), assignmentLen(t, first))
}

// =============================================================================
// 手动分配与定位
// =============================================================================

func TestConsumer_AssignFromBeginning(t *testing.T) {
	c := newOrdersCluster(t)
	produceN(t, c, "orders", 1, 3)

	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Assign(xkafka.NewTopicPartitionList().AddPartition("orders", 1, xkafka.OffsetBeginning)))

	for i := range 3 {
		msg, err := cons.ReadMessage(waitFor)
		require.NoError(t, err)
		assert.Equal(t, xkafka.Offset(i), msg.TopicPartition.Offset)
	}
	pos, err := cons.Position(nil)
	require.NoError(t, err)
	got, ok := pos.Get("orders", 1)
	require.True(t, ok)
	assert.Equal(t, xkafka.Offset(3), got.Offset)
}

func TestConsumer_AssignAtOffset(t *testing.T) {
	c := newOrdersCluster(t)
	produceN(t, c, "orders", 1, 5)

	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Assign(xkafka.NewTopicPartitionList().AddPartition("orders", 1, 3)))

	pos, err := cons.Position(nil)
	require.NoError(t, err)
	got, ok := pos.Get("orders", 1)
	require.True(t, ok)
	assert.Equal(t, xkafka.Offset(3), got.Offset)

	for _, want := range []xkafka.Offset{3, 4} {
		msg, err := cons.ReadMessage(waitFor)
		require.NoError(t, err)
		assert.Equal(t, want, msg.TopicPartition.Offset)
		assert.Equal(t, fmt.Sprintf("v%d", want), string(msg.Value))
	}
}

func TestConsumer_SeekRewinds(t *testing.T) {
	c := newOrdersCluster(t)
	produceN(t, c, "orders", 0, 3)

	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Assign(xkafka.NewTopicPartitionList().AddPartition("orders", 0, 2)))
	msg, err := cons.ReadMessage(waitFor)
	require.NoError(t, err)
	assert.Equal(t, xkafka.Offset(2), msg.TopicPartition.Offset)

	require.NoError(t, cons.SeekBy("orders", 0, 1))
	msg, err = cons.ReadMessage(waitFor)
	require.NoError(t, err)
	assert.Equal(t, xkafka.Offset(1), msg.TopicPartition.Offset)

	require.NoError(t, cons.Seek(xkafka.TopicPartition{Topic: "orders", Partition: 0, Offset: xkafka.OffsetBeginning}))
	msg, err = cons.ReadMessage(waitFor)
	require.NoError(t, err)
	assert.Equal(t, xkafka.Offset(0), msg.TopicPartition.Offset)

	err = cons.SeekBy("orders", 2, 0)
	assert.Equal(t, xkafka.ErrUnknownPartition, xkafka.CodeOf(err))
	err = cons.SeekBy("orders", 0, xkafka.OffsetInvalid)
	assert.Equal(t, xkafka.ErrInvalidArg, xkafka.CodeOf(err))
}

func TestConsumer_PauseResume(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)
	list := xkafka.NewTopicPartitionList().AddPartition("orders", 0, xkafka.OffsetBeginning)
	require.NoError(t, cons.Assign(list))
	require.NoError(t, cons.Pause(list))

	produceN(t, c, "orders", 0, 1)
	_, err := cons.ReadMessage(200 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, xkafka.IsTimeout(err))

	require.NoError(t, cons.Resume(list))
	msg, err := cons.ReadMessage(waitFor)
	require.NoError(t, err)
	assert.Equal(t, xkafka.Offset(0), msg.TopicPartition.Offset)
}

func TestConsumer_PauseUnassigned(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Assign(xkafka.NewTopicPartitionList().AddPartition("orders", 0, xkafka.OffsetEnd)))

	err := cons.Pause(xkafka.NewTopicPartitionList().
		AddPartition("orders", 0, xkafka.OffsetInvalid).
		AddPartition("orders", 1, xkafka.OffsetInvalid))
	var pe *xkafka.PartitionErrors
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Partitions, 1)
	assert.Equal(t, int32(1), pe.Partitions[0].Partition)
}

func TestConsumer_IncrementalAssign(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)

	require.NoError(t, cons.IncrementalAssign(xkafka.NewTopicPartitionList().AddPartition("orders", 0, xkafka.OffsetEnd)))
	require.NoError(t, cons.IncrementalAssign(xkafka.NewTopicPartitionList().AddPartition("orders", 1, xkafka.OffsetEnd)))
	assert.Equal(t, 2, assignmentLen(t, cons))

	err := cons.IncrementalAssign(xkafka.NewTopicPartitionList().AddPartition("orders", 1, xkafka.OffsetEnd))
	assert.Equal(t, xkafka.ErrState, xkafka.CodeOf(err))

	require.NoError(t, cons.IncrementalUnassign(xkafka.NewTopicPartitionList().AddPartition("orders", 0, xkafka.OffsetInvalid)))
	a, err := cons.Assignment()
	require.NoError(t, err)
	assert.True(t, a.Contains("orders", 1))
	assert.False(t, a.Contains("orders", 0))

	require.NoError(t, cons.Unassign())
	assert.Equal(t, 0, assignmentLen(t, cons))
}

func TestConsumer_ResetErrorStopsPartition(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, xkafka.ConfigMap{"auto.offset.reset": "error"})
	require.NoError(t, cons.Assign(xkafka.NewTopicPartitionList().AddPartition("orders", 0, xkafka.OffsetStored)))

	ev := pollFor[*xkafka.Error](t, cons)
	assert.Equal(t, xkafka.ErrAutoOffsetReset, ev.Code)
}

// =============================================================================
// Each / Stats / 关闭
// =============================================================================

func TestConsumer_Each(t *testing.T) {
	c := newOrdersCluster(t)
	produceN(t, c, "orders", 0, 4)
	cons := c.NewConsumer(t, xkafka.ConfigMap{"auto.offset.reset": "earliest"})
	require.NoError(t, cons.Subscribe("orders"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	var seen atomic.Int32
	var failedOnce atomic.Bool
	err := cons.Each(ctx, func(_ context.Context, msg *xkafka.Message) error {
		if !failedOnce.Swap(true) {
			return errors.New("transient handler failure")
		}
		if seen.Add(1) == 3 {
			cancel()
		}
		return nil
	})
	assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
	assert.GreaterOrEqual(t, seen.Load(), int32(3))

	assert.ErrorIs(t, cons.Each(context.Background(), nil), xkafka.ErrNilHandler)
}

func TestConsumer_StatsReportGroup(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Subscribe("orders"))
	pollFor[xkafka.AssignedPartitions](t, cons)

	raw, err := cons.Stats(context.Background())
	require.NoError(t, err)
	var doc struct {
		Type string `json:"type"`
		Cgrp struct {
			State          string `json:"state"`
			AssignmentSize int    `json:"assignment_size"`
		} `json:"cgrp"`
		Topics map[string]struct {
			Partitions map[string]json.RawMessage `json:"partitions"`
		} `json:"topics"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, "consumer", doc.Type)
	assert.Equal(t, "up", doc.Cgrp.State)
	assert.Equal(t, 3, doc.Cgrp.AssignmentSize)
	assert.Len(t, doc.Topics["orders"].Partitions, 3)
}

func TestConsumer_PollAfterClose(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Subscribe("orders"))
	pollFor[xkafka.AssignedPartitions](t, cons)

	require.NoError(t, cons.Close())
	ev := cons.Poll(10 * time.Millisecond)
	err, ok := ev.(*xkafka.Error)
	require.True(t, ok, "got %v", ev)
	assert.True(t, xkafka.IsClosed(err))
	assert.Empty(t, c.Members(t.Name()))

	_, err2 := cons.ReadMessage(10 * time.Millisecond)
	assert.True(t, xkafka.IsClosed(err2))
	assert.True(t, xkafka.IsClosed(cons.Subscribe("orders")))
}

func TestConsumer_ClosedErrorNamesMethod(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)
	require.NoError(t, cons.Close())

	orders0 := xkafka.NewTopicPartitionList(xkafka.TopicPartition{Topic: "orders", Partition: 0, Offset: 1})
	msg := &xkafka.Message{TopicPartition: xkafka.TopicPartition{Topic: "orders", Partition: 0, Offset: 1}}
	asErr := func(ev xkafka.Event) error {
		if e, ok := ev.(*xkafka.Error); ok {
			return e
		}
		return fmt.Errorf("unexpected event %v", ev)
	}
	tests := []struct {
		op   string
		call func() error
	}{
		{"unsubscribe", cons.Unsubscribe},
		{"assign", func() error { return cons.Assign(orders0) }},
		{"pause", func() error { return cons.Pause(orders0) }},
		{"resume", func() error { return cons.Resume(orders0) }},
		{"seek", func() error { return cons.Seek(orders0.Items()[0]) }},
		{"seek_by", func() error { return cons.SeekBy("orders", 0, 1) }},
		{"store_offset", func() error { return cons.StoreOffset(msg) }},
		{"commit", func() error { _, err := cons.Commit(context.Background(), nil, false); return err }},
		{"position", func() error { _, err := cons.Position(nil); return err }},
		{"committed", func() error { _, err := cons.Committed(orders0, 10*time.Millisecond); return err }},
		{"query_watermark_offsets", func() error {
			_, _, err := cons.QueryWatermarkOffsets("orders", 0, 10*time.Millisecond)
			return err
		}},
		{"lag", func() error { _, err := cons.Lag(orders0, 10*time.Millisecond); return err }},
		{"assignment", func() error { _, err := cons.Assignment(); return err }},
		{"events_poll", func() error { return asErr(cons.EventsPoll(0)) }},
		{"poll", func() error { return asErr(cons.Poll(0)) }},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, xkafka.IsClosed(err), "got %v", err)
			assert.Equal(t, "xkafka: "+tt.op+": client closed", err.Error())
		})
	}
}

func TestConsumer_CloseUnblocksPoll(t *testing.T) {
	c := newOrdersCluster(t)
	cons := c.NewConsumer(t, nil)

	done := make(chan xkafka.Event, 1)
	go func() { done <- cons.Poll(-1) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cons.Close())

	select {
	case ev := <-done:
		err, ok := ev.(*xkafka.Error)
		require.True(t, ok)
		assert.True(t, xkafka.IsClosed(err))
	case <-time.After(waitFor):
		t.Fatal("Poll did not return after Close")
	}
}

func TestConsumer_RequiresGroupID(t *testing.T) {
	c := newOrdersCluster(t)
	_, err := xkafka.NewConsumer(xkafka.ConfigMap{"bootstrap.servers": c.BootstrapServers()}, c.Option())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group.id")
}
