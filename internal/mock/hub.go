package mock

// Hub fans daemon frames out to the authenticated sessions of one
// server and keeps recent console output for "send logs".
type Hub struct {
	sessions   map[*session]bool
	broadcast  chan frame
	register   chan *session
	unregister chan *session
	kick       chan struct{}
	history    chan chan [][]byte
	stop       chan struct{}

	lines      [][]byte
	maxHistory int
}

type frame struct {
	data   []byte
	record bool
}

func NewHub(maxHistory int) *Hub {
	if maxHistory < 0 {
		maxHistory = 0
	}
	return &Hub{
		sessions:   make(map[*session]bool),
		broadcast:  make(chan frame, 4096),
		register:   make(chan *session),
		unregister: make(chan *session),
		kick:       make(chan struct{}),
		history:    make(chan chan [][]byte),
		stop:       make(chan struct{}),
		maxHistory: maxHistory,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.sessions[s] = true

		case s := <-h.unregister:
			delete(h.sessions, s)

		case reply := <-h.history:
			snapshot := make([][]byte, len(h.lines))
			copy(snapshot, h.lines)
			reply <- snapshot

		case f := <-h.broadcast:
			if f.record && h.maxHistory > 0 {
				h.lines = append(h.lines, f.data)
				if len(h.lines) > h.maxHistory {
					h.lines = h.lines[1:]
				}
			}
			for s := range h.sessions {
				if !s.deliver(f.data) {
					s.drop()
					delete(h.sessions, s)
				}
			}

		case <-h.kick:
			for s := range h.sessions {
				s.drop()
			}
			h.sessions = make(map[*session]bool)

		case <-h.stop:
			for s := range h.sessions {
				s.drop()
			}
			h.lines = nil
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.stop)
}

// Broadcast sends a frame to every session. Recorded frames are
// replayed to sessions that ask for logs.
func (h *Hub) Broadcast(data []byte, record bool) {
	select {
	case h.broadcast <- frame{data: data, record: record}:
	case <-h.stop:
	}
}

// History returns the recorded frames, oldest first.
func (h *Hub) History() [][]byte {
	reply := make(chan [][]byte, 1)
	select {
	case h.history <- reply:
		return <-reply
	case <-h.stop:
		return nil
	}
}

// Kick closes every session, as a daemon restart would.
func (h *Hub) Kick() {
	select {
	case h.kick <- struct{}{}:
	case <-h.stop:
	}
}

func (h *Hub) add(s *session) {
	select {
	case h.register <- s:
	case <-h.stop:
	}
}

func (h *Hub) remove(s *session) {
	select {
	case h.unregister <- s:
	case <-h.stop:
	}
}
