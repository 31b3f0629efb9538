package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"panelctl/internal/clock"
	"panelctl/internal/wire"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeConn struct {
	inbound chan []byte
	written chan string

	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		written: make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.written <- string(data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(event string, args ...string) {
	c.inbound <- wire.Frame(event, args...)
}

// fakeDialer hands out conns in order. A nil entry fails the dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials chan string
}

func (d *fakeDialer) Dial(_ context.Context, url string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	var conn *fakeConn
	if len(d.conns) > 0 {
		conn = d.conns[0]
		d.conns = d.conns[1:]
	}
	d.mu.Unlock()
	d.dials <- url
	if conn == nil {
		return nil, errors.New("connection refused")
	}
	return conn, nil
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
	ttl   time.Duration
	clk   clock.Clock
}

func (f *countingFetcher) Fetch(context.Context, string) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cred := &Credential{Token: fmt.Sprintf("token-%d", f.calls), SocketURL: "ws://daemon/api/servers/abc/ws"}
	if f.ttl > 0 {
		cred.ExpiresAt = f.clk.Now().Add(f.ttl)
	}
	return cred, nil
}

func (f *countingFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func expectNothing[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	tr        *Transport
	clk       *clock.FakeClock
	dialer    *fakeDialer
	fetcher   *countingFetcher
	lifecycle chan Lifecycle
	events    chan wire.Event
}

func newHarness(t *testing.T, conns ...*fakeConn) *harness {
	t.Helper()
	clk := clock.Fake(epoch)
	h := &harness{
		clk:       clk,
		dialer:    &fakeDialer{conns: conns, dials: make(chan string, 64)},
		fetcher:   &countingFetcher{clk: clk, ttl: 10 * time.Minute},
		lifecycle: make(chan Lifecycle, 64),
		events:    make(chan wire.Event, 64),
	}
	h.tr = New("abc", h.fetcher, Options{Clock: clk, Dialer: h.dialer})
	h.tr.OnLifecycle(func(l Lifecycle) { h.lifecycle <- l })
	h.tr.OnEvent(func(ev wire.Event) { h.events <- ev })
	t.Cleanup(func() { h.tr.Close() })
	return h
}

func (h *harness) nextState(t *testing.T, want State) Lifecycle {
	t.Helper()
	l := receive(t, h.lifecycle, "lifecycle "+want.String())
	if l.State != want {
		t.Fatalf("lifecycle = %v (attempt %d, err %v), want %v", l.State, l.Attempt, l.Err, want)
	}
	return l
}

func TestHandshakeAndQueuedRequests(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, conn)
	h.tr.Start(context.Background())

	h.nextState(t, Connecting)
	if got := receive(t, conn.written, "auth frame"); got != `{"event":"auth","args":["token-1"]}` {
		t.Fatalf("first frame = %s", got)
	}

	if err := h.tr.Send(wire.SetState{Action: wire.ActionStart}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("power action before auth: err = %v, want ErrNotConnected", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.tr.Send(wire.SendStats{}); err != nil {
			t.Fatalf("queue stats: %v", err)
		}
	}
	if err := h.tr.Send(wire.SendLogs{}); err != nil {
		t.Fatalf("queue logs: %v", err)
	}

	conn.push(wire.EventAuthSuccess)
	h.nextState(t, Connected)

	if got := receive(t, conn.written, "logs request"); got != `{"event":"send logs","args":[]}` {
		t.Errorf("flushed %s, want send logs", got)
	}
	if got := receive(t, conn.written, "stats request"); got != `{"event":"send stats","args":[]}` {
		t.Errorf("flushed %s, want send stats", got)
	}
	expectNothing(t, conn.written, "extra frame")

	if err := h.tr.Send(wire.SetState{Action: wire.ActionStart}); err != nil {
		t.Fatalf("Send after auth: %v", err)
	}
	if got := receive(t, conn.written, "set state"); got != `{"event":"set state","args":["start"]}` {
		t.Errorf("wrote %s", got)
	}
}

func TestEventsDeliveredInOrderWithoutAuthFrames(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, conn)
	h.tr.Start(context.Background())
	h.nextState(t, Connecting)
	receive(t, conn.written, "auth frame")

	conn.push(wire.EventAuthSuccess)
	conn.push(wire.EventStatus, "starting")
	conn.inbound <- []byte(`{"event":`)
	conn.push(wire.EventConsoleOutput, "hello")
	conn.push(wire.EventStatus, "running")
	conn.push("something new")

	want := []wire.Event{
		wire.Status{Value: "starting"},
		wire.ConsoleOutput{Line: "hello"},
		wire.Status{Value: "running"},
	}
	for _, w := range want {
		if got := receive(t, h.events, "event"); got != w {
			t.Fatalf("event = %#v, want %#v", got, w)
		}
	}
	if got := receive(t, h.events, "unrecognized event"); got.Kind() != wire.KindUnrecognized {
		t.Errorf("event = %#v, want unrecognized", got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	h := newHarness(t)
	h.tr.Start(context.Background())

	receive(t, h.dialer.dials, "first dial")
	for _, step := range []time.Duration{1, 2, 4, 8, 16, 30, 30} {
		wait := step * time.Second
		h.clk.WaitForTimers(1)
		h.clk.Advance(wait - time.Millisecond)
		if h.clk.Pending() != 1 {
			t.Fatalf("backoff %v fired early", wait)
		}
		expectNothing(t, h.dialer.dials, "dial before backoff elapsed")
		h.clk.Advance(time.Millisecond)
		receive(t, h.dialer.dials, fmt.Sprintf("dial after %v", wait))
	}
}

func TestDegradedAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t)
	h.tr.Start(context.Background())

	var last Lifecycle
	for attempt := 1; attempt <= 6; attempt++ {
		l := h.nextState(t, Connecting)
		if l.Attempt != attempt {
			t.Fatalf("attempt = %d, want %d", l.Attempt, attempt)
		}
		last = h.nextState(t, Disconnected)
		if attempt < 6 {
			h.clk.WaitForTimers(1)
			h.clk.Advance(DefaultMaxBackoff)
		}
	}
	if !last.Degraded {
		t.Errorf("attempt %d not flagged degraded", last.Attempt)
	}
}

func TestReconnectRefetchesExpiringCredential(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	h := newHarness(t, first, second)
	h.fetcher.ttl = 2 * time.Minute
	h.tr.Start(context.Background())

	h.nextState(t, Connecting)
	receive(t, first.written, "auth frame")
	first.push(wire.EventAuthSuccess)
	h.nextState(t, Connected)

	// Still valid beyond the safety margin: reused.
	first.Close()
	h.nextState(t, Disconnected)
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultInitialBackoff)
	h.nextState(t, Connecting)
	if got := receive(t, second.written, "auth frame"); got != `{"event":"auth","args":["token-1"]}` {
		t.Errorf("reconnect auth = %s, want reused token-1", got)
	}
	if h.fetcher.Calls() != 1 {
		t.Errorf("fetcher calls = %d, want 1", h.fetcher.Calls())
	}
}

func TestReconnectFetchesWhenWithinSafetyMargin(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	h := newHarness(t, first, second)
	h.fetcher.ttl = 61 * time.Second
	h.tr.Start(context.Background())

	h.nextState(t, Connecting)
	receive(t, first.written, "auth frame")
	first.Close()
	h.nextState(t, Disconnected)
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultInitialBackoff)
	h.nextState(t, Connecting)
	if got := receive(t, second.written, "auth frame"); got != `{"event":"auth","args":["token-2"]}` {
		t.Errorf("reconnect auth = %s, want fresh token-2", got)
	}
}

func TestTokenExpiringReauthenticatesInPlace(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, conn)
	h.tr.Start(context.Background())
	h.nextState(t, Connecting)
	receive(t, conn.written, "auth frame")
	conn.push(wire.EventAuthSuccess)
	h.nextState(t, Connected)

	conn.push(wire.EventTokenExpiring)
	if got := receive(t, conn.written, "re-auth"); got != `{"event":"auth","args":["token-2"]}` {
		t.Errorf("re-auth = %s", got)
	}
	conn.push(wire.EventAuthSuccess)
	expectNothing(t, h.lifecycle, "lifecycle change on in-place refresh")
	if !h.tr.Ready() {
		t.Error("transport not ready after refresh")
	}
}

func TestTokenExpiredReauthenticatesWithoutNewConnection(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, conn)
	h.tr.Start(context.Background())
	h.nextState(t, Connecting)
	receive(t, conn.written, "auth frame")
	conn.push(wire.EventAuthSuccess)
	h.nextState(t, Connected)

	conn.push(wire.EventTokenExpired)
	if got := receive(t, conn.written, "re-auth"); got != `{"event":"auth","args":["token-2"]}` {
		t.Errorf("re-auth = %s", got)
	}
	conn.push(wire.EventAuthSuccess)
	expectNothing(t, h.lifecycle, "lifecycle change on re-auth after expiry")

	// A rejected token on a live session is refreshed the same way.
	conn.push(wire.EventJWTError, "token expired")
	receive(t, conn.written, "re-auth after jwt error")
	conn.push(wire.EventAuthSuccess)
	expectNothing(t, h.lifecycle, "lifecycle change on re-auth after jwt error")
	if !h.tr.Ready() {
		t.Error("transport not ready after re-auth")
	}
}

func TestSecondJWTErrorIsFatal(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, conn)
	h.tr.Start(context.Background())
	h.nextState(t, Connecting)
	receive(t, conn.written, "auth frame")

	conn.push(wire.EventJWTError, "signature invalid")
	if got := receive(t, conn.written, "re-auth"); got != `{"event":"auth","args":["token-2"]}` {
		t.Errorf("re-auth = %s", got)
	}
	conn.push(wire.EventJWTError, "signature invalid")

	l := h.nextState(t, AuthErrorFatal)
	if !errors.Is(l.Err, ErrAuthFatal) || !l.Terminal() {
		t.Errorf("fatal lifecycle err = %v", l.Err)
	}
	receive(t, h.tr.Done(), "transport stop")
	if h.clk.Pending() != 0 {
		t.Error("transport scheduled a retry after a fatal auth error")
	}
}

func TestFatalFetcherErrorStopsRetrying(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = fmt.Errorf("panel returned 403: %w", ErrAuthFatal)
	h.tr.Start(context.Background())

	h.nextState(t, Connecting)
	h.nextState(t, AuthErrorFatal)
	receive(t, h.tr.Done(), "transport stop")
	expectNothing(t, h.dialer.dials, "dial")
}

func TestTransientFetcherErrorRetries(t *testing.T) {
	h := newHarness(t, newFakeConn())
	h.fetcher.err = errors.New("panel unavailable")
	h.tr.Start(context.Background())

	h.nextState(t, Connecting)
	l := h.nextState(t, Disconnected)
	if errors.Is(l.Err, ErrAuthFatal) {
		t.Fatalf("transient error treated as fatal: %v", l.Err)
	}
	h.fetcher.mu.Lock()
	h.fetcher.err = nil
	h.fetcher.mu.Unlock()
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultInitialBackoff)
	h.nextState(t, Connecting)
	receive(t, h.dialer.dials, "dial after retry")
}

func TestCloseStopsDeliveryAndBackoff(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, conn)
	h.tr.Start(context.Background())
	h.nextState(t, Connecting)
	receive(t, conn.written, "auth frame")
	conn.push(wire.EventAuthSuccess)
	h.nextState(t, Connected)

	if err := h.tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	receive(t, h.tr.Done(), "transport stop")

	conn.push(wire.EventConsoleOutput, "late line")
	expectNothing(t, h.events, "event after Close")
	expectNothing(t, h.lifecycle, "lifecycle after Close")

	if err := h.tr.Send(wire.SendStats{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close: err = %v, want ErrClosed", err)
	}
}

func TestCloseAbortsBackoffWait(t *testing.T) {
	h := newHarness(t)
	h.tr.Start(context.Background())
	receive(t, h.dialer.dials, "first dial")
	h.clk.WaitForTimers(1)

	h.tr.Close()
	receive(t, h.tr.Done(), "transport stop")
	expectNothing(t, h.dialer.dials, "dial after Close")
}

func TestCredentialExpiresWithin(t *testing.T) {
	var missing *Credential
	if !missing.ExpiresWithin(epoch, time.Minute) {
		t.Error("missing credential should need a fetch")
	}
	noExpiry := &Credential{Token: "t"}
	if noExpiry.ExpiresWithin(epoch, time.Minute) {
		t.Error("credential without expiry reported expiring")
	}
	c := &Credential{Token: "t", ExpiresAt: epoch.Add(90 * time.Second)}
	if c.ExpiresWithin(epoch, time.Minute) {
		t.Error("credential 90s from expiry is within a 60s margin")
	}
	if !c.ExpiresWithin(epoch.Add(30*time.Second), time.Minute) {
		t.Error("credential 60s from expiry is outside a 60s margin")
	}
}
