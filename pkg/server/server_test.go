package server

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/adapter"
	"github.com/marmos91/stockd/pkg/session"
	"github.com/marmos91/stockd/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	protocol string
	port     int
	failWith error

	mu       sync.Mutex
	services *adapter.Services
	stopped  chan struct{}
	stopOnce sync.Once
	stops    atomic.Int32
}

func newFake(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, stopped: make(chan struct{})}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.failWith != nil {
		return f.failWith
	}
	select {
	case <-ctx.Done():
	case <-f.stopped:
	}
	return nil
}

func (f *fakeAdapter) SetServices(svc *adapter.Services) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services = svc
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.stops.Add(1)
	f.stopOnce.Do(func() { close(f.stopped) })
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

type reportingAdapter struct {
	*fakeAdapter
	reports atomic.Int32
}

func (r *reportingAdapter) Report() string {
	r.reports.Add(1)
	return "in_flight=0"
}

func (r *reportingAdapter) ReportInterval() time.Duration { return 5 * time.Millisecond }

func services() *adapter.Services {
	return &adapter.Services{Store: memory.New(), Sessions: session.NewRegistry()}
}

func TestAddAdapterInjectsServices(t *testing.T) {
	svc := services()
	srv := New(svc, Options{})

	a := newFake("command", 8080)
	require.NoError(t, srv.AddAdapter(a))
	assert.Same(t, svc, a.services)

	assert.Error(t, srv.AddAdapter(newFake("command", 9000)))
	assert.Error(t, srv.AddAdapter(newFake("other", 8080)))
	assert.Len(t, srv.Adapters(), 1)
}

func TestNewPanicsWithoutServices(t *testing.T) {
	assert.Panics(t, func() { New(nil, Options{}) })
	assert.Panics(t, func() { New(&adapter.Services{}, Options{}) })
}

func TestServeWithoutAdapters(t *testing.T) {
	assert.Error(t, New(services(), Options{}).Serve(context.Background()))
}

func TestServeRunsTasksAndStopsOnCancel(t *testing.T) {
	srv := New(services(), Options{})
	a := newFake("command", 8080)
	require.NoError(t, srv.AddAdapter(a))

	var ran, stopped atomic.Bool
	srv.AddTask(Task{Name: "feed", Run: func(ctx context.Context) error {
		ran.Store(true)
		<-ctx.Done()
		stopped.Store(true)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.True(t, stopped.Load())
	assert.Equal(t, int32(1), a.stops.Load())

	assert.Panics(t, func() { _ = srv.Serve(context.Background()) })
	assert.Panics(t, func() { srv.AddTask(Task{Name: "late"}) })
}

func TestAdapterFailureStopsOthers(t *testing.T) {
	srv := New(services(), Options{})
	good := newFake("good", 1)
	bad := newFake("bad", 2)
	bad.failWith = errors.New("bind: address in use")

	require.NoError(t, srv.AddAdapter(good))
	require.NoError(t, srv.AddAdapter(bad))

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad adapter error")
	assert.Equal(t, int32(1), good.stops.Load())
}

func TestMetricsLogTask(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger.SetWriter(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	}))
	t.Cleanup(func() { _ = logger.SetOutput("stdout") })

	srv := New(services(), Options{})
	r := &reportingAdapter{fakeAdapter: newFake("command", 8080)}
	require.NoError(t, srv.AddAdapter(r))
	assert.Equal(t, []string{"command-metrics-log"}, srv.Tasks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool { return r.reports.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, buf.String(), "command metrics: in_flight=0")
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
