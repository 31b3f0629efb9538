// Package transport owns the console socket of one server view: it
// authenticates, refreshes the token, reconnects with backoff and
// delivers decoded events in the order they were read.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"panelctl/internal/clock"
	"panelctl/internal/wire"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by Send for commands that are only
	// delivered over a ready connection.
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("transport closed")
)

const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultSafetyMargin   = 60 * time.Second
	DefaultDegradedAfter  = 5
)

type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	Dialer Dialer
	// Header is sent with the websocket handshake. The daemon checks
	// Origin against the panel URL.
	Header http.Header

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SafetyMargin   time.Duration
	DegradedAfter  int
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(DefaultMaxBackoff, o.InitialBackoff)
	}
	if o.SafetyMargin <= 0 {
		o.SafetyMargin = DefaultSafetyMargin
	}
	if o.DegradedAfter <= 0 {
		o.DegradedAfter = DefaultDegradedAfter
	}
}

// Transport is a reconnecting, authenticated console socket. Handlers
// registered with OnEvent and OnLifecycle are called from a single
// goroutine, in order, and never after Close returns. They must not
// block or call Close.
type Transport struct {
	serverID string
	fetcher  CredentialFetcher
	opts     Options
	logger   *slog.Logger

	mu         sync.Mutex
	conn       Conn
	ready      bool
	closed     bool
	started    bool
	credential *Credential
	queued     map[wire.Slot]wire.Command
	cancel     context.CancelFunc
	done       chan struct{}

	writeMu sync.Mutex

	emitMu      sync.RWMutex
	onEvent     []func(wire.Event)
	onLifecycle []func(Lifecycle)
}

func New(serverID string, fetcher CredentialFetcher, opts Options) *Transport {
	opts.setDefaults()
	return &Transport{
		serverID: serverID,
		fetcher:  fetcher,
		opts:     opts,
		logger:   opts.Logger.With("server", serverID),
		queued:   make(map[wire.Slot]wire.Command),
		done:     make(chan struct{}),
	}
}

// OnEvent registers a handler for decoded daemon events. Authentication
// events are consumed by the transport and not delivered.
func (t *Transport) OnEvent(fn func(wire.Event)) {
	t.emitMu.Lock()
	t.onEvent = append(t.onEvent, fn)
	t.emitMu.Unlock()
}

func (t *Transport) OnLifecycle(fn func(Lifecycle)) {
	t.emitMu.Lock()
	t.onLifecycle = append(t.onLifecycle, fn)
	t.emitMu.Unlock()
}

// Start runs the connection loop in a new goroutine.
func (t *Transport) Start(ctx context.Context) {
	go func() {
		if err := t.Run(ctx); err != nil && !errors.Is(err, ErrClosed) {
			t.logger.Warn("transport stopped", "error", err)
		}
	}()
}

// Run connects and keeps the connection alive until ctx is cancelled,
// Close is called, or authentication fails permanently. Only one Run
// may be active per transport.
func (t *Transport) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("transport already running")
	}
	t.started = true
	if t.closed {
		t.mu.Unlock()
		close(t.done)
		return ErrClosed
	}
	t.cancel = cancel
	t.mu.Unlock()
	defer close(t.done)

	backoff := t.opts.InitialBackoff
	attempt := 0
	for {
		attempt++
		t.emitLifecycle(Lifecycle{State: Connecting, Attempt: attempt, Degraded: t.degraded(attempt)})

		authenticated, err := t.session(ctx, attempt)
		if t.isClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthFatal) {
			t.logger.Error("authentication failed permanently", "error", err)
			t.emitLifecycle(Lifecycle{State: AuthErrorFatal, Attempt: attempt, Err: err})
			return err
		}
		if authenticated {
			attempt = 0
			backoff = t.opts.InitialBackoff
		}

		t.emitLifecycle(Lifecycle{State: Disconnected, Attempt: attempt, Degraded: t.degraded(attempt), Err: err})
		t.logger.Warn("connection lost, will retry", "error", err, "attempt", attempt, "backoff", backoff)

		select {
		case <-t.opts.Clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > t.opts.MaxBackoff {
			backoff = t.opts.MaxBackoff
		}
	}
}

func (t *Transport) degraded(attempt int) bool {
	return attempt > t.opts.DegradedAfter
}

// session runs one connection from dial to close. It reports whether
// the connection ever authenticated.
func (t *Transport) session(ctx context.Context, attempt int) (bool, error) {
	cred, err := t.currentCredential(ctx)
	if err != nil {
		return false, err
	}

	conn, err := t.opts.Dialer.Dial(ctx, cred.SocketURL, t.opts.Header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return false, ErrClosed
	}
	t.conn = conn
	t.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		t.mu.Lock()
		t.conn = nil
		t.ready = false
		t.mu.Unlock()
		conn.Close()
	}()

	if err := t.write(conn, wire.Auth{Token: cred.Token}); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}

	authenticated := false
	// refetchedForJWT is set when a jwt error forced a new credential;
	// a second jwt error with that credential cannot be recovered.
	refetchedForJWT := false

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("socket closed unexpectedly", "error", err)
			}
			return authenticated, err
		}
		if t.isClosed() {
			return authenticated, ErrClosed
		}

		ev, err := wire.Decode(data)
		if err != nil {
			t.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		switch ev := ev.(type) {
		case wire.AuthSuccess:
			// Only the first success on a connection is a new connection;
			// later ones re-authenticate a session subscribers already see
			// as connected.
			first := !authenticated
			refetchedForJWT = false
			authenticated = true
			t.setReady(true)
			if first {
				t.emitLifecycle(Lifecycle{State: Connected, Attempt: attempt})
			}
			t.flush(conn)
		case wire.TokenExpiring:
			if err := t.reauthenticate(ctx, conn); err != nil {
				return authenticated, err
			}
		case wire.TokenExpired:
			t.setReady(false)
			if err := t.reauthenticate(ctx, conn); err != nil {
				return authenticated, err
			}
		case wire.JWTError:
			if refetchedForJWT {
				return authenticated, fmt.Errorf("%w: daemon rejected refreshed token: %s", ErrAuthFatal, ev.Message)
			}
			refetchedForJWT = true
			t.setReady(false)
			t.logger.Warn("daemon rejected token, refreshing", "reason", ev.Message)
			if err := t.reauthenticate(ctx, conn); err != nil {
				return authenticated, err
			}
		default:
			t.emitEvent(ev)
		}
	}
}

// reauthenticate fetches a new credential and re-sends auth on the
// live connection.
func (t *Transport) reauthenticate(ctx context.Context, conn Conn) error {
	cred, err := t.fetch(ctx)
	if err != nil {
		return err
	}
	if err := t.write(conn, wire.Auth{Token: cred.Token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	return nil
}

// currentCredential returns the cached credential, fetching a new one
// if it is missing or about to expire.
func (t *Transport) currentCredential(ctx context.Context) (*Credential, error) {
	t.mu.Lock()
	cred := t.credential
	t.mu.Unlock()
	if !cred.ExpiresWithin(t.opts.Clock.Now(), t.opts.SafetyMargin) {
		return cred, nil
	}
	return t.fetch(ctx)
}

func (t *Transport) fetch(ctx context.Context) (*Credential, error) {
	cred, err := t.fetcher.Fetch(ctx, t.serverID)
	if err != nil {
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	if cred == nil || cred.Token == "" {
		return nil, fmt.Errorf("fetch credential: empty credential")
	}
	t.mu.Lock()
	t.credential = cred
	t.mu.Unlock()
	return cred, nil
}

// Send writes cmd if the connection is ready. Otherwise stats and logs
// requests are queued, replacing any earlier request of the same kind,
// and every other command fails with ErrNotConnected.
func (t *Transport) Send(cmd wire.Command) error {
	if cmd == nil {
		return fmt.Errorf("send: nil command")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.ready || t.conn == nil {
		if cmd.Slot().Collapsible() {
			t.queued[cmd.Slot()] = cmd
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()

	if err := t.write(conn, cmd); err != nil {
		return fmt.Errorf("send %q: %w", cmd.Name(), err)
	}
	return nil
}

// flush writes queued requests in slot order.
func (t *Transport) flush(conn Conn) {
	t.mu.Lock()
	var pending []wire.Command
	for _, slot := range []wire.Slot{wire.SlotLogs, wire.SlotStats} {
		if cmd, ok := t.queued[slot]; ok {
			pending = append(pending, cmd)
			delete(t.queued, slot)
		}
	}
	t.mu.Unlock()

	for _, cmd := range pending {
		if err := t.write(conn, cmd); err != nil {
			t.logger.Debug("flush failed", "command", cmd.Name(), "error", err)
			return
		}
	}
}

func (t *Transport) write(conn Conn, cmd wire.Command) error {
	data, err := wire.Encode(cmd)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) setReady(ready bool) {
	t.mu.Lock()
	t.ready = ready
	t.mu.Unlock()
}

// Ready reports whether the connection is authenticated.
func (t *Transport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) emitEvent(ev wire.Event) {
	t.emitMu.RLock()
	defer t.emitMu.RUnlock()
	if t.isClosed() {
		return
	}
	for _, fn := range t.onEvent {
		fn(ev)
	}
}

func (t *Transport) emitLifecycle(l Lifecycle) {
	l.At = t.opts.Clock.Now()
	t.emitMu.RLock()
	defer t.emitMu.RUnlock()
	if t.isClosed() {
		return
	}
	for _, fn := range t.onLifecycle {
		fn(l)
	}
}

// Close stops reconnecting, aborts any backoff wait and closes the
// socket. No handler is called after Close returns.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.ready = false
	t.queued = make(map[wire.Slot]wire.Command)
	conn, cancel, started := t.conn, t.cancel, t.started
	t.mu.Unlock()

	// Wait out handler calls that began before closed was set.
	t.emitMu.Lock()
	t.emitMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if started {
		<-t.done
	}
	return nil
}

// Done is closed when Run returns.
func (t *Transport) Done() <-chan struct{} { return t.done }
