package pending

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Handle
// =============================================================================

func TestHandle_ResolveOnce(t *testing.T) {
	h := New[int]()
	assert.Equal(t, StatePending, h.State())

	assert.True(t, h.Resolve(1, nil))
	assert.False(t, h.Resolve(2, errors.New("late")))
	assert.Equal(t, StateCompleted, h.State())

	v, err := h.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestHandle_ConcurrentResolveSingleWinner(t *testing.T) {
	h := New[int]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.Resolve(i, nil) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestHandle_StateCompletedOnlyAfterPublish(t *testing.T) {
	h := New[int]()
	// Resolve 赢得 CAS 但尚未发布结果的窗口
	h.state.Store(int32(StateCompleted))
	assert.Equal(t, StateInFlight, h.State())
	_, _, ok := h.Result()
	assert.False(t, ok)

	h.val, h.err = 7, nil
	close(h.done)
	assert.Equal(t, StateCompleted, h.State())
}

func TestHandle_CompletedStateHasResult(t *testing.T) {
	for range 50 {
		h := New[int]()
		failure := errors.New("broker down")
		go h.Resolve(0, failure)
		require.Eventually(t, func() bool { return h.State() == StateCompleted }, time.Second, time.Microsecond)
		_, err, ok := h.Result()
		require.True(t, ok)
		require.ErrorIs(t, err, failure)
	}
}

func TestHandle_WaitTimeoutLeavesPending(t *testing.T) {
	h := New[string]()

	_, err := h.Wait(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, StatePending, h.State())

	_, err = h.Wait(0)
	assert.ErrorIs(t, err, ErrWaitTimeout)

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Resolve("ok", nil)
	}()
	v, err := h.Wait(-1)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestHandle_MarkInFlight(t *testing.T) {
	h := New[int]()
	assert.True(t, h.MarkInFlight())
	assert.False(t, h.MarkInFlight())
	assert.Equal(t, StateInFlight, h.State())
	assert.Equal(t, "pending-elsewhere", h.State().String())

	assert.True(t, h.Resolve(0, nil))
	assert.False(t, h.MarkInFlight())
}

func TestHandle_WaitContext(t *testing.T) {
	h := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.WaitContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	h.Resolve(3, nil)
	v, err := h.WaitContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	select {
	case <-h.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_RegisterResolve(t *testing.T) {
	r := NewRegistry[string]()
	s1, h1 := r.Register()
	s2, h2 := r.Register()
	assert.Less(t, s1, s2)
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.MarkInFlight(s1))
	assert.Equal(t, StateInFlight, h1.State())

	assert.True(t, r.Resolve(s1, "a", nil))
	assert.False(t, r.Resolve(s1, "again", nil))
	assert.Equal(t, 1, r.Len())

	v, err := h1.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, StatePending, h2.State())

	_, ok := r.Lookup(s1)
	assert.False(t, ok)
	assert.False(t, r.MarkInFlight(99))
}

func TestRegistry_Abandon(t *testing.T) {
	r := NewRegistry[uint64]()
	_, h1 := r.Register()
	_, h2 := r.Register()
	errGone := errors.New("gone")

	n := r.Abandon(func(seq uint64) (uint64, error) { return seq, errGone })
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, r.Len())

	for _, h := range []*Handle[uint64]{h1, h2} {
		_, err := h.Wait(0)
		assert.ErrorIs(t, err, errGone)
	}
}

// =============================================================================
// Operation
// =============================================================================

func TestOperation_DecodesOnce(t *testing.T) {
	var calls atomic.Int32
	op := NewOperation("describe", func(raw any) (int, error) {
		calls.Add(1)
		s, _ := raw.(string)
		return len(s), nil
	})
	assert.Equal(t, "describe", op.Name())

	_, err := op.Wait(0)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, int32(0), calls.Load())

	require.True(t, op.Resolve("abcd", nil))
	for range 3 {
		v, err := op.Wait(time.Second)
		require.NoError(t, err)
		assert.Equal(t, 4, v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestOperation_ErrorSkipsDecoder(t *testing.T) {
	op := NewOperation[int]("create", func(any) (int, error) {
		t.Fatal("decoder must not run on error")
		return 0, nil
	})
	errBroker := errors.New("broker")
	op.Resolve(nil, errBroker)
	_, err := op.Wait(-1)
	assert.ErrorIs(t, err, errBroker)
}

func TestOperation_DecoderError(t *testing.T) {
	errDecode := errors.New("malformed")
	op := NewOperation[int]("list", func(any) (int, error) { return 0, errDecode })
	op.Resolve(struct{}{}, nil)
	_, err := op.WaitContext(context.Background())
	assert.ErrorIs(t, err, errDecode)
}

func TestOperation_DefaultAssertDecoder(t *testing.T) {
	op := NewOperation[[]string]("names", nil)
	op.MarkInFlight()
	assert.Equal(t, StateInFlight, op.State())
	op.Resolve([]string{"a"}, nil)
	<-op.Done()
	v, err := op.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, v)
}
