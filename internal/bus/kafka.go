package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// pollFetchTimeout bounds a single PollFetches call so the consume loop can
// observe context cancellation promptly, mirrored from the pack's own
// franz-go consumer loop which polls on a short fixed timeout rather than
// blocking indefinitely.
const pollFetchTimeout = 5 * time.Second

// KafkaClient is the franz-go-backed Client used when brokers are
// configured. A single kgo.Client services both production and consumption;
// one consume loop fetches records and hands each to the handler registered
// for its topic.
type KafkaClient struct {
	brokers []string
	groupID string

	mu     sync.Mutex
	client *kgo.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handlers map[string]Handler

	logger *zap.Logger
}

// NewKafkaClient creates a client that will connect to brokers using
// consumer group groupID once Connect is called.
func NewKafkaClient(brokers []string, groupID string, logger *zap.Logger) *KafkaClient {
	return &KafkaClient{
		brokers:  brokers,
		groupID:  groupID,
		handlers: make(map[string]Handler),
		logger:   logger.Named("bus.kafka"),
	}
}

// Connect opens the underlying kgo.Client against the configured brokers,
// consuming TopicExecRequest only, and starts the consume loop. Subscribe
// does not add topics to the client or start further loops.
func (k *KafkaClient) Connect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.client != nil {
		return nil
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(k.brokers...),
		kgo.ConsumerGroup(k.groupID),
		kgo.ConsumeTopics(TopicExecRequest),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("bus: kafka connect: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return fmt.Errorf("bus: kafka ping: %w", err)
	}

	k.client = client
	loopCtx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.wg.Add(1)
	go k.consumeLoop(loopCtx)

	k.logger.Info("connected", zap.Strings("brokers", k.brokers), zap.String("group_id", k.groupID))
	return nil
}

// Disconnect stops the consume loop and closes the underlying client.
func (k *KafkaClient) Disconnect(ctx context.Context) error {
	k.mu.Lock()
	client := k.client
	cancel := k.cancel
	k.client = nil
	k.cancel = nil
	k.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	k.wg.Wait()

	if client != nil {
		client.Close()
	}
	return nil
}

// Subscribe registers handler for topic. The topic must have been included
// in the client's consume-topics at construction for records to arrive;
// this implementation dispatches by the record's own topic field, so
// handlers for topics the client isn't subscribed to simply never fire.
func (k *KafkaClient) Subscribe(topic string, handler Handler) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.handlers[topic] = handler
	return nil
}

// consumeLoop polls fetches until ctx is cancelled, dispatching each record
// to the handler registered for its topic.
func (k *KafkaClient) consumeLoop(ctx context.Context) {
	defer k.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, pollFetchTimeout)
		fetches := k.client.PollFetches(fetchCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			k.logger.Warn("fetch error", zap.String("topic", topic), zap.Int32("partition", partition), zap.Error(err))
		})

		fetches.EachRecord(func(rec *kgo.Record) {
			k.mu.Lock()
			handler := k.handlers[rec.Topic]
			k.mu.Unlock()
			if handler == nil {
				return
			}
			handler(ctx, rec.Topic, rec.Key, rec.Value)
		})
	}
}

// Produce publishes value to topic asynchronously. Per the bus contract,
// failures are logged rather than surfaced to the caller.
func (k *KafkaClient) Produce(ctx context.Context, topic string, key, value []byte) {
	k.mu.Lock()
	client := k.client
	k.mu.Unlock()
	if client == nil {
		k.logger.Warn("produce before connect", zap.String("topic", topic))
		return
	}

	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.Warn("produce failed", zap.String("topic", topic), zap.Error(err))
		}
	})
}
