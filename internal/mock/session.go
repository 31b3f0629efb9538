package mock

import (
	"errors"
	"sync"
	"time"

	"panelctl/internal/wire"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// session is one console socket. Frames reach the socket only through
// deliver, so the hub and the session's own replies never race on a
// closed channel.
type session struct {
	panel  *Panel
	server *simServer
	conn   *websocket.Conn

	mu         sync.Mutex
	send       chan []byte
	closed     bool
	registered bool
	authed     bool
	timers     []*time.Timer
}

func newSession(p *Panel, srv *simServer, conn *websocket.Conn) *session {
	return &session{
		panel:  p,
		server: srv,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
}

func (s *session) deliver(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// drop closes the outbound queue; the write pump then closes the socket.
func (s *session) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *session) writePump() {
	defer s.conn.Close()
	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *session) readPump() {
	defer func() {
		s.mu.Lock()
		registered := s.registered
		s.mu.Unlock()
		if registered {
			s.server.hub.remove(s)
		}
		s.drop()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.panel.logger.Debug("console socket closed", "error", err)
			}
			return
		}

		cmd, err := wire.DecodeCommand(data)
		if err != nil {
			s.panel.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}

		if auth, ok := cmd.(wire.Auth); ok {
			s.authenticate(auth.Token)
			continue
		}

		s.mu.Lock()
		authed := s.authed
		s.mu.Unlock()
		if !authed {
			continue
		}
		s.handle(cmd)
	}
}

func (s *session) handle(cmd wire.Command) {
	switch cmd := cmd.(type) {
	case wire.SetState:
		if err := s.server.setState(cmd.Action); err != nil {
			s.deliver(wire.Frame(wire.EventDaemonError, err.Error()))
		}
	case wire.SendLogs:
		for _, f := range s.server.hub.History() {
			s.deliver(f)
		}
	case wire.SendStats:
		s.deliver(s.server.statsFrame())
	case wire.SendCommand:
		if err := s.server.command(cmd.Line); err != nil {
			s.deliver(wire.Frame(wire.EventDaemonError, err.Error()))
		}
	}
}

// authenticate validates a console token. The first success joins the
// server's hub; later ones only move the expiry warnings.
func (s *session) authenticate(token string) {
	claims, err := s.panel.parseToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			s.deliver(wire.Frame(wire.EventTokenExpired))
			return
		}
		s.deliver(wire.Frame(wire.EventJWTError, err.Error()))
		return
	}
	if claims.ServerUUID != s.server.Info().UUID {
		s.deliver(wire.Frame(wire.EventJWTError, "token is not valid for this server"))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	first := !s.registered
	s.registered = true
	s.authed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = s.expiryTimers(claims.ExpiresAt.Time)
	s.mu.Unlock()

	if first {
		s.server.hub.add(s)
	}
	s.deliver(wire.Frame(wire.EventAuthSuccess))
	s.deliver(wire.Frame(wire.EventStatus, s.server.State()))
}

// expiryTimers warns before the token expires and reports the expiry.
// Called with mu held.
func (s *session) expiryTimers(exp time.Time) []*time.Timer {
	var timers []*time.Timer
	if warnIn := time.Until(exp) - s.panel.opts.ExpiryWarning; warnIn > 0 {
		timers = append(timers, time.AfterFunc(warnIn, func() {
			s.deliver(wire.Frame(wire.EventTokenExpiring))
		}))
	}
	timers = append(timers, time.AfterFunc(time.Until(exp), func() {
		s.mu.Lock()
		s.authed = false
		s.mu.Unlock()
		s.deliver(wire.Frame(wire.EventTokenExpired))
	}))
	return timers
}
