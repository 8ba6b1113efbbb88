// Package bus defines the opaque message-bus contract described in §6: a
// connect/disconnect/subscribe/produce interface the core depends on without
// knowing which broker backs it. Two implementations are provided: a
// franz-go/Kafka-backed client for when brokers are configured, and a no-op
// client substituted with no semantic change to the core other than loss of
// external fan-out.
package bus

import "context"

// Topic names used by the core. TopicExecRequest is the consumed topic: the
// orchestrator binary subscribes to it and submits each request it receives.
const (
	TopicExecRequest = "persona.exec.v1"
	TopicOutput      = "persona.output.v1"
	TopicLifecycle   = "persona.lifecycle.v1"
	TopicEvents      = "persona.events.v1"
	TopicDLQ         = "persona.dlq.v1"
)

// Handler processes one message received from a subscribed topic.
type Handler func(ctx context.Context, topic string, key, value []byte)

// Client is the opaque message bus contract the core depends on. Produce
// calls are fire-and-forget: failures are logged by the implementation and
// never returned to the caller, per §5's suspension/blocking-point rules.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(topic string, handler Handler) error
	Produce(ctx context.Context, topic string, key, value []byte)
}
