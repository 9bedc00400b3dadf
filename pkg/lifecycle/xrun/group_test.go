package xrun

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestGroup_Wait(t *testing.T) {
	boom := errors.New("boom")
	custom := errors.New("custom stop")

	tests := []struct {
		name string
		run  func(t *testing.T) error
		want error
	}{
		{"empty", func(*testing.T) error {
			g, _ := NewGroup(context.Background())
			return g.Wait()
		}, nil},
		{"task error cancels siblings", func(t *testing.T) error {
			g, _ := NewGroup(context.Background())
			var stopped atomic.Bool
			g.Go(func(ctx context.Context) error {
				err := blockUntilDone(ctx)
				stopped.Store(true)
				return err
			})
			g.Go(func(context.Context) error { return boom })
			err := g.Wait()
			assert.True(t, stopped.Load())
			return err
		}, boom},
		{"cancel cause preserved", func(*testing.T) error {
			g, _ := NewGroup(context.Background())
			g.Go(func(context.Context) error { return nil })
			g.Go(blockUntilDone)
			g.Cancel(custom)
			return g.Wait()
		}, custom},
		{"cancel nil filtered", func(*testing.T) error {
			g, _ := NewGroup(context.Background())
			g.Go(blockUntilDone)
			g.Cancel(nil)
			return g.Wait()
		}, nil},
		{"parent cancel filtered", func(*testing.T) error {
			ctx, cancel := context.WithCancel(context.Background())
			g, _ := NewGroup(ctx)
			g.Go(blockUntilDone)
			cancel()
			return g.Wait()
		}, nil},
		{"task-internal cancel kept", func(*testing.T) error {
			g, _ := NewGroup(context.Background())
			g.Go(func(context.Context) error { return context.Canceled })
			return g.Wait()
		}, context.Canceled},
		{"nil func", func(*testing.T) error {
			g, _ := NewGroup(context.Background())
			g.Go(nil)
			return g.Wait()
		}, ErrNilFunc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(t)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGroup_GoWithName(t *testing.T) {
	g, ctx := NewGroup(context.Background(), WithName("test"), WithLogger(nil), nil)
	assert.Equal(t, ctx, g.Context())

	boom := errors.New("boom")
	g.GoWithName("failing", func(context.Context) error { return boom })
	g.GoWithName("waiting", blockUntilDone)
	g.GoWithName("nil", nil)
	err := g.Wait()
	assert.True(t, errors.Is(err, boom) || errors.Is(err, ErrNilFunc))
}

func TestRun_Signal(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	ctx := withTestSigChan(context.Background(), sigCh)

	done := make(chan error, 1)
	go func() { done <- Run(ctx, nil, blockUntilDone) }()
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		var sigErr *SignalError
		require.ErrorAs(t, err, &sigErr)
		assert.Equal(t, syscall.SIGTERM, sigErr.Signal)
		assert.ErrorIs(t, err, ErrSignal)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after signal")
	}
}

func TestRun_WithoutSignalHandler(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGINT
	ctx, cancel := context.WithCancel(withTestSigChan(context.Background(), sigCh))
	time.AfterFunc(50*time.Millisecond, cancel)

	err := Run(ctx, []Option{WithoutSignalHandler()}, blockUntilDone)
	assert.NoError(t, err)
	assert.Len(t, sigCh, 1, "signal must not be consumed")
}

func TestRun_TasksFinish(t *testing.T) {
	var n atomic.Int32
	task := func(context.Context) error { n.Add(1); return nil }
	err := Run(context.Background(), []Option{WithSignals([]os.Signal{syscall.SIGUSR1})}, task, task)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), n.Load())
}

func TestRun_TaskErrorStopsSignalWatch(t *testing.T) {
	boom := errors.New("boom")
	err := Run(context.Background(), nil, func(context.Context) error { return boom }, nil)
	assert.True(t, errors.Is(err, boom) || errors.Is(err, ErrNilFunc))
}

func TestDefaultSignals(t *testing.T) {
	a := DefaultSignals()
	a[0] = syscall.SIGUSR2
	assert.Equal(t, syscall.SIGHUP, DefaultSignals()[0])
	assert.Len(t, a, 4)
}

func TestSignalError(t *testing.T) {
	assert.Equal(t, "received signal <nil>", (&SignalError{}).Error())
	assert.Equal(t, "received signal interrupt", (&SignalError{Signal: os.Interrupt}).Error())
	assert.ErrorIs(t, &SignalError{}, ErrSignal)
}

func TestTicker(t *testing.T) {
	t.Run("immediate then periodic until error", func(t *testing.T) {
		var n atomic.Int32
		stop := errors.New("stop")
		err := Ticker(5*time.Millisecond, true, func(context.Context) error {
			if n.Add(1) == 3 {
				return stop
			}
			return nil
		})(context.Background())
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, int32(3), n.Load())
	})

	t.Run("stops on cancel", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := Ticker(time.Hour, false, func(context.Context) error { return nil })(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("canceled before immediate run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := Ticker(time.Second, true, func(context.Context) error { called = true; return nil })(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("invalid", func(t *testing.T) {
		assert.ErrorIs(t, Ticker(0, true, func(context.Context) error { return nil })(context.Background()), ErrInvalidInterval)
		assert.ErrorIs(t, Ticker(time.Second, true, nil)(context.Background()), ErrNilFunc)
	})
}

func TestTicker_IntervalCountsFromCompletion(t *testing.T) {
	var (
		mu    sync.Mutex
		marks []time.Time
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := Ticker(10*time.Millisecond, true, func(context.Context) error {
		mu.Lock()
		marks = append(marks, time.Now())
		n := len(marks)
		mu.Unlock()
		if n == 3 {
			cancel()
			return nil
		}
		time.Sleep(30 * time.Millisecond)
		return nil
	})(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, marks, 3)
	for i := 1; i < len(marks); i++ {
		assert.GreaterOrEqual(t, marks[i].Sub(marks[i-1]), 40*time.Millisecond)
	}
}

func TestPollLoop(t *testing.T) {
	t.Run("serves until cancel", func(t *testing.T) {
		var calls atomic.Int32
		ctx, cancel := context.WithCancel(context.Background())
		err := PollLoop(func(timeout time.Duration) (int, error) {
			assert.Equal(t, 5*time.Millisecond, timeout)
			if calls.Add(1) == 4 {
				cancel()
			}
			return 1, nil
		}, 5*time.Millisecond)(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("stops on client error", func(t *testing.T) {
		closed := errors.New("client closed")
		err := PollLoop(func(time.Duration) (int, error) { return 0, closed }, time.Millisecond)(context.Background())
		assert.ErrorIs(t, err, closed)
	})

	t.Run("invalid", func(t *testing.T) {
		assert.ErrorIs(t, PollLoop(nil, time.Millisecond)(context.Background()), ErrNilFunc)
		noop := func(time.Duration) (int, error) { return 0, nil }
		assert.ErrorIs(t, PollLoop(noop, 0)(context.Background()), ErrInvalidInterval)
	})
}

// fakeServer 在 close 前阻塞 ListenAndServe。
type fakeServer struct {
	listenErr   error
	shutdownErr error

	once      sync.Once
	closed    chan struct{}
	shutdowns atomic.Int32
}

func newFakeServer() *fakeServer { return &fakeServer{closed: make(chan struct{})} }

func (s *fakeServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.closed
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.shutdowns.Add(1)
	s.close()
	return s.shutdownErr
}

func (s *fakeServer) close() { s.once.Do(func() { close(s.closed) }) }

func TestHTTPServer(t *testing.T) {
	t.Run("shutdown on cancel", func(t *testing.T) {
		srv := newFakeServer()
		ctx, cancel := context.WithCancel(context.Background())
		g, _ := NewGroup(ctx)
		g.Go(HTTPServer(srv, time.Second))
		cancel()
		assert.NoError(t, g.Wait())
		assert.Equal(t, int32(1), srv.shutdowns.Load())
	})

	t.Run("shutdown error propagates", func(t *testing.T) {
		srv := newFakeServer()
		srv.shutdownErr = errors.New("shutdown failed")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := HTTPServer(srv, 0)(ctx)
		assert.EqualError(t, err, "shutdown failed")
	})

	t.Run("external close", func(t *testing.T) {
		srv := newFakeServer()
		srv.close()
		assert.NoError(t, HTTPServer(srv, time.Second)(context.Background()))
		assert.Zero(t, srv.shutdowns.Load())
	})

	t.Run("listen error", func(t *testing.T) {
		srv := newFakeServer()
		srv.listenErr = errors.New("address in use")
		assert.EqualError(t, HTTPServer(srv, time.Second)(context.Background()), "address in use")
	})

	t.Run("nil server", func(t *testing.T) {
		assert.ErrorIs(t, HTTPServer(nil, time.Second)(context.Background()), ErrNilServer)
	})
}
