package bus

import "context"

// NoopClient satisfies Client with no external fan-out. It is substituted
// in place of KafkaClient when no brokers are configured, per §6: the core
// loses external fan-out but nothing else about its behavior changes.
type NoopClient struct{}

// NewNoopClient creates a NoopClient.
func NewNoopClient() *NoopClient { return &NoopClient{} }

func (NoopClient) Connect(ctx context.Context) error    { return nil }
func (NoopClient) Disconnect(ctx context.Context) error { return nil }
func (NoopClient) Subscribe(topic string, handler Handler) error { return nil }
func (NoopClient) Produce(ctx context.Context, topic string, key, value []byte) {}
