// Package workerpool implements the duplex worker transport (§4.2): a
// WebSocket listener that authenticates connections via a shared-secret
// query-string token, performs the hello/ack handshake, tracks each
// worker's session state, and routes inbound frames to the Dispatcher via
// an explicit callback interface rather than a runtime event emitter.
package workerpool

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkeep-io/persona-orchestrator/internal/wire"
	"github.com/arkeep-io/persona-orchestrator/pkg/protocol"
)

const (
	// HeartbeatInterval is how often the pool sends a heartbeat frame to an
	// idle connection to detect half-open transports.
	HeartbeatInterval = 30 * time.Second

	// HeartbeatTimeout is how long a session may go without any inbound
	// frame before its transport is closed as stale.
	HeartbeatTimeout = 90 * time.Second

	// HelloTimeout bounds how long a newly accepted connection has to send
	// its hello frame before it is closed with a policy-violation code.
	HelloTimeout = 10 * time.Second

	// MaxOutputBytes bounds the size of a single assign's output, per §4.3.
	MaxOutputBytes = 10 * 1024 * 1024

	closePolicyViolation = 1008
	closeGoingAway       = 1001
)

// Handlers receives notifications of worker pool activity. The Dispatcher
// implements this interface and is wired in at construction, replacing the
// runtime event-emitter pattern with an explicit, statically typed contract.
type Handlers interface {
	OnWorkerConnected(workerID string)
	OnWorkerReady(workerID string)
	OnStdout(workerID string, msg wire.Stdout)
	OnStderr(workerID string, msg wire.Stderr)
	OnEvent(workerID string, msg wire.Event)
	OnComplete(workerID string, msg wire.Complete)
	OnWorkerDisconnected(workerID string, currentExecutionID *string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Pool is the registry of connected worker sessions. The zero value is not
// usable — create instances with New.
//
// All registry mutations and the assign/send operations that need to
// observe-then-mutate a session's state go through mu, per the single
// coarse lock discipline used for every shared mutable map in this service.
type Pool struct {
	mu          sync.Mutex
	sessions    map[string]*session
	workerToken string
	handlers    Handlers
	logger      *zap.Logger
}

// New creates a Pool. workerToken is the shared-secret value every
// connecting worker must present in its connection query string.
func New(workerToken string, handlers Handlers, logger *zap.Logger) *Pool {
	return &Pool{
		sessions:    make(map[string]*session),
		workerToken: workerToken,
		handlers:    handlers,
		logger:      logger.Named("workerpool"),
	}
}

// HandleConn is the HTTP handler that accepts a worker connection. It
// verifies the shared-secret token, upgrades to WebSocket, and waits for
// the hello handshake before installing the session. It blocks for the
// lifetime of the connection.
func (p *Pool) HandleConn(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != p.workerToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		conn:          conn,
		send:          make(chan []byte, 64),
		state:         protocol.WorkerStateConnecting,
		connectedAt:   time.Now().UTC(),
		lastHeartbeat: time.Now().UTC(),
	}

	if err := p.awaitHello(s); err != nil {
		p.logger.Warn("hello handshake failed", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closePolicyViolation, "hello timeout"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	p.register(s)

	go s.writePump()
	p.readLoop(s)
}

// awaitHello blocks until the first frame arrives or HelloTimeout elapses.
// Any frame other than a well-formed hello is treated as a failed handshake.
func (p *Pool) awaitHello(s *session) error {
	s.conn.SetReadDeadline(time.Now().Add(HelloTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}

	env, err := wire.Decode(raw)
	if err != nil || env.Type != wire.TypeHello {
		return fmt.Errorf("first frame was not a valid hello")
	}

	var hello wire.Hello
	if err := json.Unmarshal(env.Payload, &hello); err != nil || hello.WorkerID == "" {
		return fmt.Errorf("malformed hello payload")
	}

	s.workerID = hello.WorkerID
	s.version = hello.Version
	s.capabilities = hello.Capabilities
	return nil
}

// register installs s in the session map, evicting any prior session for
// the same workerID, then starts the heartbeat timer and replies with ack.
func (p *Pool) register(s *session) {
	p.mu.Lock()
	if prior, exists := p.sessions[s.workerID]; exists {
		p.logger.Warn("replacing existing worker session", zap.String("worker_id", s.workerID))
		prior.stopHeartbeat()
		prior.closeTransport(closeGoingAway, "superseded by new connection")
		delete(p.sessions, s.workerID)
	}

	s.state = protocol.WorkerStateIdle
	s.lastHeartbeat = time.Now().UTC()
	s.startHeartbeat(p.heartbeatTick(s))
	p.sessions[s.workerID] = s
	p.mu.Unlock()

	ack, _ := wire.Encode(wire.TypeAck, wire.Ack{WorkerID: s.workerID})
	s.enqueue(ack)

	p.logger.Info("worker connected", zap.String("worker_id", s.workerID), zap.String("version", s.version))
	p.handlers.OnWorkerConnected(s.workerID)
}

// heartbeatTick returns the function the session's heartbeat ticker invokes
// on every tick: close the transport if the worker has gone silent for
// longer than HeartbeatTimeout, otherwise send a heartbeat frame.
func (p *Pool) heartbeatTick(s *session) func() {
	return func() {
		if time.Since(s.lastHeartbeatSnapshot()) > HeartbeatTimeout {
			p.logger.Warn("worker heartbeat timeout", zap.String("worker_id", s.workerID))
			s.closeTransport(closeGoingAway, "heartbeat timeout")
			return
		}
		hb, _ := wire.Encode(wire.TypeHeartbeat, wire.Heartbeat{Timestamp: time.Now().UTC().Unix()})
		s.enqueue(hb)
	}
}

// readLoop consumes frames from s until the connection closes, routing each
// to the appropriate handler. It always ends by unregistering the session.
func (p *Pool) readLoop(s *session) {
	defer p.unregister(s)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.touchHeartbeat()

		env, err := wire.Decode(raw)
		if err != nil {
			p.logger.Warn("dropping unparseable frame", zap.String("worker_id", s.workerID), zap.Error(err))
			continue
		}

		p.route(s, env)
	}
}

func (p *Pool) route(s *session, env wire.Envelope) {
	switch env.Type {
	case wire.TypeReady:
		p.mu.Lock()
		s.state = protocol.WorkerStateIdle
		s.currentExecutionID = ""
		p.mu.Unlock()
		p.handlers.OnWorkerReady(s.workerID)

	case wire.TypeStdout:
		var msg wire.Stdout
		if json.Unmarshal(env.Payload, &msg) == nil {
			p.handlers.OnStdout(s.workerID, msg)
		}

	case wire.TypeStderr:
		var msg wire.Stderr
		if json.Unmarshal(env.Payload, &msg) == nil {
			p.handlers.OnStderr(s.workerID, msg)
		}

	case wire.TypeEvent:
		var msg wire.Event
		if json.Unmarshal(env.Payload, &msg) == nil {
			p.handlers.OnEvent(s.workerID, msg)
		}

	case wire.TypeComplete:
		var msg wire.Complete
		if json.Unmarshal(env.Payload, &msg) == nil {
			p.mu.Lock()
			s.state = protocol.WorkerStateIdle
			s.currentExecutionID = ""
			p.mu.Unlock()
			p.handlers.OnComplete(s.workerID, msg)
		}

	case wire.TypeHeartbeat:
		// touchHeartbeat already handled above; nothing further to do.

	default:
		p.logger.Warn("unknown frame type", zap.String("worker_id", s.workerID), zap.String("type", string(env.Type)))
	}
}

// unregister removes s from the registry and notifies handlers with its
// last known in-flight execution, if any, so the Dispatcher can fail it.
func (p *Pool) unregister(s *session) {
	p.mu.Lock()
	if current, exists := p.sessions[s.workerID]; exists && current == s {
		delete(p.sessions, s.workerID)
	}
	s.stopHeartbeat()
	var inFlight *string
	if s.currentExecutionID != "" {
		id := s.currentExecutionID
		inFlight = &id
	}
	p.mu.Unlock()

	s.closeTransport(closeGoingAway, "disconnect")

	p.logger.Info("worker disconnected", zap.String("worker_id", s.workerID))
	p.handlers.OnWorkerDisconnected(s.workerID, inFlight)
}

// Send delivers an arbitrary envelope to workerID. Returns false if the
// worker is not connected.
func (p *Pool) Send(workerID string, t wire.Type, payload any) bool {
	p.mu.Lock()
	s, ok := p.sessions[workerID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	raw, err := wire.Encode(t, payload)
	if err != nil {
		return false
	}
	return s.enqueue(raw)
}

// Assign atomically transitions an idle worker to executing and sends the
// assign frame. Returns false if the worker is missing, not idle, or the
// send fails — on a failed send the caller must treat the worker as
// unusable for this assignment and re-queue the request.
func (p *Pool) Assign(workerID string, assign wire.Assign) bool {
	p.mu.Lock()
	s, ok := p.sessions[workerID]
	if !ok || s.state != protocol.WorkerStateIdle {
		p.mu.Unlock()
		return false
	}
	s.state = protocol.WorkerStateExecuting
	s.currentExecutionID = assign.ExecutionID
	p.mu.Unlock()

	raw, err := wire.Encode(wire.TypeAssign, assign)
	if err != nil || !s.enqueue(raw) {
		p.mu.Lock()
		s.state = protocol.WorkerStateIdle
		s.currentExecutionID = ""
		p.mu.Unlock()
		return false
	}
	return true
}

// GetIdleWorker returns the workerID of any idle session, or false if none
// are available. Iteration order over the map is unspecified, which is
// acceptable per §4.2.
func (p *Pool) GetIdleWorker() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.sessions {
		if s.state == protocol.WorkerStateIdle {
			return id, true
		}
	}
	return "", false
}

// Shutdown queues a shutdown frame on every connected session and stops its
// heartbeat. It does not close the transports and does not wait for workers
// to acknowledge.
func (p *Pool) Shutdown(reason string, gracePeriod time.Duration) {
	p.mu.Lock()
	sessions := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	msg := wire.Shutdown{Reason: reason, GracePeriodMs: gracePeriod.Milliseconds()}
	raw, _ := wire.Encode(wire.TypeShutdown, msg)

	for _, s := range sessions {
		s.enqueue(raw)
		s.stopHeartbeat()
	}

	p.logger.Info("worker pool shutdown broadcast", zap.Int("sessions", len(sessions)))
}
