// Package wire implements the frame-level encode/decode of the typed message
// envelope exchanged between the orchestrator and a worker over a single
// duplex transport. Every frame is a tagged record discriminated by a "type"
// field; the codec itself is symmetric even though which variants travel in
// which direction is not (see Type sets below).
//
// JSON example:
//
//	{"type":"assign","payload":{"executionId":"018f...","prompt":"..."}}
package wire

import "encoding/json"

// Type identifies the kind of frame carried by an Envelope.
type Type string

// Worker -> orchestrator frame types.
const (
	TypeHello    Type = "hello"
	TypeReady    Type = "ready"
	TypeStdout   Type = "stdout"
	TypeStderr   Type = "stderr"
	TypeComplete Type = "complete"
	TypeEvent    Type = "event"
	TypeHeartbeat Type = "heartbeat" // sent by both sides
)

// Orchestrator -> worker frame types.
const (
	TypeAck      Type = "ack"
	TypeAssign   Type = "assign"
	TypeCancel   Type = "cancel"
	TypeShutdown Type = "shutdown"
)

// Envelope is the outer frame every message is wrapped in before being
// written to the transport as a single WebSocket text frame.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a typed payload into a frame-ready Envelope.
func Encode(t Type, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Decode unmarshals a raw frame into its Envelope. Callers then switch on
// Type and unmarshal Payload into the matching struct below. An unparseable
// frame should be dropped with a warning by the caller — Decode itself just
// surfaces the error.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ─── Worker -> orchestrator payloads ─────────────────────────────────────────

// Hello is sent once, immediately after connecting, before any other frame.
type Hello struct {
	WorkerID     string   `json:"workerId"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// Ready signals the worker has finished handshake/warmup and can accept assignments.
type Ready struct{}

// Stdout carries one chunk of a running execution's standard output.
type Stdout struct {
	ExecutionID string `json:"executionId"`
	Chunk       string `json:"chunk"`
	Timestamp   int64  `json:"timestamp"`
}

// Stderr carries one chunk of a running execution's standard error.
type Stderr struct {
	ExecutionID string `json:"executionId"`
	Chunk       string `json:"chunk"`
	Timestamp   int64  `json:"timestamp"`
}

// Complete reports the terminal outcome of an execution.
type Complete struct {
	ExecutionID  string  `json:"executionId"`
	Status       string  `json:"status"`
	ExitCode     int     `json:"exitCode"`
	DurationMs   int64   `json:"durationMs"`
	SessionID    *string `json:"sessionId,omitempty"`
	TotalCostUSD *float64 `json:"totalCostUsd,omitempty"`
}

// Event carries a persona-emitted event detected by the worker during execution.
type Event struct {
	ExecutionID string          `json:"executionId"`
	EventType   string          `json:"eventType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Heartbeat is sent by either side to refresh liveness tracking.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

// ─── Orchestrator -> worker payloads ─────────────────────────────────────────

// Ack acknowledges a successful hello and registration.
type Ack struct {
	WorkerID     string `json:"workerId"`
	SessionToken string `json:"sessionToken"`
}

// AssignConfig bounds an assignment's resource usage.
type AssignConfig struct {
	TimeoutMs      int64 `json:"timeoutMs"`
	MaxOutputBytes int64 `json:"maxOutputBytes"`
}

// Assign instructs an idle worker to execute a persona run.
type Assign struct {
	ExecutionID string            `json:"executionId"`
	PersonaID   string            `json:"personaId"`
	Prompt      string            `json:"prompt"`
	Env         map[string]string `json:"env"`
	Config      AssignConfig      `json:"config"`
}

// Cancel requests that the worker abort the named execution. Advisory only —
// the authoritative terminal state still arrives via a subsequent Complete frame.
type Cancel struct {
	ExecutionID string `json:"executionId"`
}

// Shutdown tells the worker the orchestrator is going away and gives it a
// grace period to wind down any in-flight execution before the transport closes.
type Shutdown struct {
	Reason        string `json:"reason"`
	GracePeriodMs int64  `json:"gracePeriodMs"`
}
