package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/stockd/pkg/adapter"
	"github.com/marmos91/stockd/pkg/session"
	"github.com/marmos91/stockd/pkg/stats"
	"github.com/marmos91/stockd/pkg/store"
	"github.com/marmos91/stockd/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	adapter *Adapter
	store   store.Store
	stats   *stats.MemoryRecorder
	cancel  context.CancelFunc
	done    chan error
}

func start(t *testing.T, cfg Config, seed map[store.Domain][]store.Row) *harness {
	t.Helper()
	return startWith(t, cfg, memory.NewWithRows(seed))
}

func startWith(t *testing.T, cfg Config, s store.Store) *harness {
	t.Helper()

	cfg.ListenAddr = "127.0.0.1:0"
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	h := &harness{
		adapter: New(cfg, nil),
		store:   s,
		stats:   stats.NewMemoryRecorder(),
		done:    make(chan error, 1),
	}
	h.adapter.SetServices(&adapter.Services{Store: h.store, Sessions: session.NewRegistry(), Stats: h.stats})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.adapter.Serve(ctx) }()

	select {
	case <-h.adapter.Ready():
	case err := <-h.done:
		t.Fatalf("Serve failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not start")
	}

	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Error("Serve did not return after cancel")
	}
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", h.adapter.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// raw sends one bare command line and returns the reply without its newline.
func (h *harness) raw(t *testing.T, line string) string {
	t.Helper()
	conn := h.dial(t)
	_, err := fmt.Fprintf(conn, "%s\n", line)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return strings.TrimSuffix(string(reply), "\n")
}

// closedWithoutReply dials, optionally sends line, and expects the server
// to close the connection without writing anything.
func (h *harness) closedWithoutReply(t *testing.T, line string) {
	t.Helper()
	conn := h.dial(t)
	if line != "" {
		_, err := fmt.Fprintf(conn, "%s\n", line)
		require.NoError(t, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := io.ReadAll(conn)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection was not closed")
	}
	assert.Empty(t, string(reply))
}

func (h *harness) http(t *testing.T, request string) *http.Response {
	t.Helper()
	conn := h.dial(t)
	_, err := io.WriteString(conn, request)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestRawRoundTrip(t *testing.T) {
	h := start(t, Config{TradeRequiresAuth: true}, nil)

	assert.Equal(t, "ERROR|Invalid credentials", h.raw(t, "LOGIN|alice|pw1"))
	assert.Equal(t, "OK|User registered", h.raw(t, "REGISTER|alice|pw1"))
	assert.True(t, strings.HasPrefix(h.raw(t, "LOGIN|alice|pw1"), "OK|Login successful|"))
	assert.Equal(t, "ERROR|Not authenticated", h.raw(t, "PORTFOLIO"))
	assert.Equal(t, "ERROR|Unknown command", h.raw(t, "FOO|bar"))

	assert.Eventually(t, func() bool { return h.adapter.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(5), h.stats.Total().OK+h.stats.Total().Failed)
}

func TestHTTPLoginCookieAndPortfolio(t *testing.T) {
	h := start(t, Config{TradeRequiresAuth: true}, map[store.Domain][]store.Row{
		store.DomainUsers:    {{"alice", "pw1"}},
		store.DomainHoldings: {{"alice", "AAPL", "4"}},
	})

	resp := h.http(t, "GET /LOGIN%7Calice%7Cpw1 HTTP/1.1\r\nHost: x\r\nOrigin: http://app.test\r\n\r\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://app.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, body(t, resp), "OK|Login successful|")

	var token string
	for _, c := range resp.Cookies() {
		if c.Name == "sid" {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)

	resp = h.http(t, "GET /PORTFOLIO HTTP/1.1\r\nHost: x\r\nCookie: sid="+token+"\r\n\r\n")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK|Portfolio|AAPL,4", body(t, resp))

	payload := "PORTFOLIO"
	resp = h.http(t, fmt.Sprintf("POST / HTTP/1.1\r\nHost: x\r\nAuthorization: Bearer %s\r\nContent-Length: %d\r\n\r\n%s", token, len(payload), payload))
	assert.Equal(t, "OK|Portfolio|AAPL,4", body(t, resp))

	resp = h.http(t, "GET /PORTFOLIO HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ERROR|Not authenticated", body(t, resp))
}

func TestHTTPPreflight(t *testing.T) {
	h := start(t, Config{}, nil)

	resp := h.http(t, "OPTIONS /LOGIN HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Empty(t, body(t, resp))
}

func TestConcurrentBuysOverTheWire(t *testing.T) {
	h := start(t, Config{Workers: 4}, map[store.Domain][]store.Row{
		store.DomainMarket: {{"AAPL", "Apple", "150.0"}},
	})

	var wg sync.WaitGroup
	for _, qty := range []int{5, 3} {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			assert.Equal(t, "OK|Trade completed", h.raw(t, fmt.Sprintf("BUY|alice|AAPL|%d", qty)))
		}(qty)
	}
	wg.Wait()

	rows, err := h.store.Read(context.Background(), store.DomainHoldings)
	require.NoError(t, err)
	assert.Equal(t, []store.Row{{"alice", "AAPL", "8"}}, rows)
}

func TestAdmissionRejectsWhenFull(t *testing.T) {
	h := start(t, Config{MaxConnections: 1, Workers: 2, AdmissionTimeout: 100 * time.Millisecond, ReadTimeout: 5 * time.Second}, nil)

	// Holds the only slot: admitted, but never sends a request.
	idle := h.dial(t)
	require.Eventually(t, func() bool { return h.adapter.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	h.closedWithoutReply(t, "")

	_ = idle.Close()
	require.Eventually(t, func() bool { return h.adapter.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "OK|Market data|", h.raw(t, "GET_MARKET"))
	assert.Contains(t, h.adapter.Report(), "rejected=1")
}

func TestThrottleClosesExcessConnections(t *testing.T) {
	h := start(t, Config{ClientRate: 0.001, ClientBurst: 1}, nil)

	assert.Equal(t, "OK|Market data|", h.raw(t, "GET_MARKET"))
	h.closedWithoutReply(t, "")
	assert.Contains(t, h.adapter.Report(), "rejected=1")
}

func TestOversizedRequestIsMalformed(t *testing.T) {
	h := start(t, Config{MaxRequestBytes: 64}, nil)

	conn := h.dial(t)
	_, err := io.WriteString(conn, strings.Repeat("A", 65))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "ERROR|Malformed command\n", string(reply))
}

type failingBackend struct{}

func (failingBackend) Load(context.Context, store.Domain) ([]store.Row, error) {
	return nil, errors.New("device not ready")
}

func (failingBackend) Save(context.Context, store.Domain, []store.Row) error {
	return errors.New("device not ready")
}

func (failingBackend) AppendRow(context.Context, store.Domain, store.Row) error {
	return errors.New("device not ready")
}

func (failingBackend) Close() error { return nil }

func TestStoreFailureClosesWithoutReply(t *testing.T) {
	h := startWith(t, Config{}, store.NewLocked(failingBackend{}))

	h.closedWithoutReply(t, "LOGIN|alice|pw1")

	// The slot was released despite the failure.
	require.Eventually(t, func() bool { return h.adapter.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "ERROR|Unknown command", h.raw(t, "NOPE"))
}

func TestGracefulShutdownDrainsInFlight(t *testing.T) {
	h := start(t, Config{Workers: 1, ReadTimeout: 5 * time.Second}, nil)

	conn := h.dial(t)
	require.Eventually(t, func() bool { return h.adapter.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	h.cancel()

	// The admitted request still completes after shutdown began.
	_, err := io.WriteString(conn, "GET_MARKET\n")
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "OK|Market data|\n", string(reply))

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	h.done <- nil

	_, err = net.DialTimeout("tcp", h.adapter.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestStopBeforeServe(t *testing.T) {
	a := New(Config{}, nil)
	assert.NoError(t, a.Stop(context.Background()))
}

func TestServeRequiresServices(t *testing.T) {
	a := New(Config{ListenAddr: "127.0.0.1:0"}, nil)
	assert.Error(t, a.Serve(context.Background()))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "LOGIN|alice|***", redact("LOGIN|alice|secret"))
	assert.Equal(t, "BUY|alice|AAPL|1", redact("BUY|alice|AAPL|1"))
}

// stallingBackend serves rows from memory but holds every holdings Load
// until release is closed.
type stallingBackend struct {
	mu      sync.Mutex
	data    map[store.Domain][]store.Row
	entered chan struct{}
	release chan struct{}
}

func (b *stallingBackend) Load(_ context.Context, d store.Domain) ([]store.Row, error) {
	if d == store.DomainHoldings {
		select {
		case b.entered <- struct{}{}:
		default:
		}
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return store.CloneRows(b.data[d]), nil
}

func (b *stallingBackend) Save(_ context.Context, d store.Domain, rows []store.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[d] = store.CloneRows(rows)
	return nil
}

func (b *stallingBackend) AppendRow(_ context.Context, d store.Domain, row store.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[d] = append(b.data[d], row)
	return nil
}

func (b *stallingBackend) Close() error { return nil }

// A request stuck on one domain keeps its worker and admission slot, while
// requests touching other domains are still served.
func TestSlowDomainHoldsWorkerOnly(t *testing.T) {
	b := &stallingBackend{
		data:    map[store.Domain][]store.Row{store.DomainMarket: {{"AAPL", "Apple", "150.0"}}},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := startWith(t, Config{Workers: 2, MaxConnections: 2, ReadTimeout: 5 * time.Second}, store.NewLocked(b))
	var once sync.Once
	unblock := func() { once.Do(func() { close(b.release) }) }
	t.Cleanup(unblock)

	stuck := h.dial(t)
	_, err := io.WriteString(stuck, "BUY|alice|AAPL|1\n")
	require.NoError(t, err)

	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("buy never reached the holdings domain")
	}

	report := h.adapter.Report()
	assert.Contains(t, report, "in_flight=1/2")
	assert.Contains(t, report, "busy_workers=1")

	assert.True(t, strings.HasPrefix(h.raw(t, "GET_MARKET"), "OK|Market data|AAPL,Apple,"))
	assert.Eventually(t, func() bool {
		return h.adapter.ActiveConnections() == 1 && strings.Contains(h.adapter.Report(), "busy_workers=1")
	}, time.Second, 10*time.Millisecond)

	unblock()
	_ = stuck.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := io.ReadAll(stuck)
	require.NoError(t, err)
	assert.Equal(t, "OK|Trade completed\n", string(reply))
	require.Eventually(t, func() bool { return h.adapter.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStopDuringServeStartup(t *testing.T) {
	for i := 0; i < 20; i++ {
		a := New(Config{ListenAddr: "127.0.0.1:0", ShutdownTimeout: time.Second}, nil)
		a.SetServices(&adapter.Services{Store: memory.New(), Sessions: session.NewRegistry(), Stats: stats.Nop{}})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- a.Serve(ctx) }()

		assert.NoError(t, a.Stop(context.Background()))

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("Serve kept running after Stop")
		}
		cancel()
	}
}
