package workerpool

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arkeep-io/persona-orchestrator/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// session represents one connected worker transport. conn is written to
// exclusively by writePump — gorilla/websocket connections are not safe for
// concurrent writes, so every outbound frame goes through the send channel.
type session struct {
	workerID     string
	version      string
	capabilities []string
	connectedAt  time.Time

	conn *websocket.Conn
	send chan []byte

	// state and currentExecutionID are mutated under Pool.mu, not a
	// per-session lock, since Assign/route/unregister all need to observe
	// and mutate them atomically with respect to the session registry.
	state               protocol.WorkerState
	currentExecutionID  string

	hbMu          sync.Mutex
	heartbeat     *time.Ticker
	heartbeatStop chan struct{}
	lastHeartbeat time.Time
}

// enqueue places raw on the session's send buffer. Returns false if the
// buffer is full (the worker is too slow to keep up) or already closed.
func (s *session) enqueue(raw []byte) bool {
	defer func() { recover() }() // sending on a closed channel after shutdown
	select {
	case s.send <- raw:
		return true
	default:
		return false
	}
}

// writePump forwards queued frames to the wire. It is the sole writer of
// conn, per gorilla/websocket's concurrency contract.
func (s *session) writePump() {
	for raw := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

// startHeartbeat begins a ticker that calls tick every HeartbeatInterval
// until stopHeartbeat is called.
func (s *session) startHeartbeat(tick func()) {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	if s.heartbeat != nil {
		return
	}
	s.heartbeat = time.NewTicker(HeartbeatInterval)
	s.heartbeatStop = make(chan struct{})
	ticker := s.heartbeat
	stop := s.heartbeatStop
	go func() {
		for {
			select {
			case <-ticker.C:
				tick()
			case <-stop:
				return
			}
		}
	}()
}

func (s *session) stopHeartbeat() {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	if s.heartbeat == nil {
		return
	}
	s.heartbeat.Stop()
	close(s.heartbeatStop)
	s.heartbeat = nil
}

func (s *session) touchHeartbeat() {
	s.hbMu.Lock()
	s.lastHeartbeat = time.Now().UTC()
	s.hbMu.Unlock()
}

func (s *session) lastHeartbeatSnapshot() time.Time {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	return s.lastHeartbeat
}

// closeTransport sends a close frame with the given code/reason and closes
// the underlying connection. Also closes the send channel so writePump
// exits; safe to call more than once.
func (s *session) closeTransport(code int, reason string) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	s.conn.Close()
	defer func() { recover() }()
	close(s.send)
}
