package xqueue

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingWriter 记录写入次数和字节。
type countingWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	n   int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	return w.buf.Write(p)
}

func (w *countingWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *countingWriter) Bytes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Len()
}

// =============================================================================
// FIFO 与出队语义
// =============================================================================

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	defer q.Close()

	for i := range 100 {
		q.Push(i)
	}
	assert.Equal(t, 100, q.Len())

	for i := range 100 {
		v, ok := q.Pop(0)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop(0)
	assert.False(t, ok)
}

func TestQueue_PopNonBlockingOnEmpty(t *testing.T) {
	q := New[string]()
	defer q.Close()

	start := time.Now()
	_, ok := q.Pop(0)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_PopTimeout(t *testing.T) {
	q := New[string]()
	defer q.Close()

	start := time.Now()
	_, ok := q.Pop(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestQueue_PopWaitsForPush(t *testing.T) {
	q := New[string]()
	defer q.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("hello")
	}()

	v, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestQueue_InfinitePopInterruptedByClose(t *testing.T) {
	q := New[int]()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(Infinite)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("infinite pop was not interrupted by Close")
	}
}

func TestQueue_WakeInterruptsPop(t *testing.T) {
	q := New[int]()
	defer q.Close()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(Infinite)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Wake()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop was not woken")
	}
}

func TestQueue_PopContext(t *testing.T) {
	q := New[int]()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.PopContext(ctx)
	assert.False(t, ok)

	q.Push(7)
	v, ok := q.PopContext(context.Background())
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestQueue_PushAfterCloseDropped(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Close()
	q.Close()

	q.Push(2)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, int64(2), q.Dropped())
	assert.True(t, q.Closed())

	_, ok := q.Pop(Infinite)
	assert.False(t, ok)
}

func TestQueue_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	q := New[[2]int]()
	defer q.Close()

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Push([2]int{p, i})
			}
		}()
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	received := 0
	for received < producers*perProducer {
		v, ok := q.Pop(time.Second)
		require.True(t, ok)
		assert.Greater(t, v[1], last[v[0]])
		last[v[0]] = v[1]
		received++
	}
	wg.Wait()
}

// =============================================================================
// IO 事件
// =============================================================================

func TestQueue_IOEventCoalescedPerEdge(t *testing.T) {
	q := New[int]()
	defer q.Close()

	w := &countingWriter{}
	q.EnableIOEventWriter(w, []byte{'x'})

	for i := range 10 {
		q.Push(i)
	}
	assert.Equal(t, 1, w.Count(), "N pushes into an empty queue produce one marker")

	for range 9 {
		_, ok := q.Pop(0)
		require.True(t, ok)
	}
	q.Push(99)
	assert.Equal(t, 1, w.Count(), "no marker while the queue stays non-empty")

	for q.Len() > 0 {
		q.Pop(0)
	}
	q.Push(100)
	assert.Equal(t, 2, w.Count(), "drain then refill produces exactly one more")
	assert.Equal(t, 2, w.Bytes())
}

func TestQueue_IOEventEnableOnNonEmptyFiresOnce(t *testing.T) {
	q := New[int]()
	defer q.Close()

	q.Push(1)
	w := &countingWriter{}
	q.EnableIOEventWriter(w, nil)
	assert.Equal(t, 1, w.Count())

	q.DisableIOEvent()
	q.Pop(0)
	q.Push(2)
	assert.Equal(t, 1, w.Count())
}

// =============================================================================
// 转发
// =============================================================================

func TestQueue_Forward(t *testing.T) {
	src := New[int]()
	dst := New[int]()
	defer src.Close()
	defer dst.Close()

	src.Push(1)
	src.Push(2)
	dst.Push(0)
	src.Forward(dst)
	src.Push(3)

	assert.Equal(t, 0, src.Len())
	for want := range 4 {
		v, ok := dst.Pop(0)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}

	src.Forward(nil)
	src.Push(4)
	assert.Equal(t, 1, src.Len())
	assert.Equal(t, 0, dst.Len())
}

func TestQueue_ForwardWakesDestinationPoller(t *testing.T) {
	src := New[int]()
	dst := New[int]()
	defer src.Close()
	defer dst.Close()
	src.Forward(dst)

	go func() {
		time.Sleep(10 * time.Millisecond)
		src.Push(5)
	}()
	v, ok := dst.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestQueue_SignalSelect(t *testing.T) {
	q := New[int]()
	defer q.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(1)
		q.Push(2)
	}()

	select {
	case <-q.Signal():
	case <-time.After(time.Second):
		t.Fatal("no signal after push")
	}
	var got []int
	for len(got) < 2 {
		v, ok := q.Pop(time.Second)
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
}
