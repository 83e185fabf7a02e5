package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// TopicPublisher publishes one message and waits for the server ack.
type TopicPublisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) error
}

// GooglePublisher adapts a Pub/Sub publisher to TopicPublisher.
type GooglePublisher struct {
	publisher *pubsub.Publisher
}

func NewGooglePublisher(client *pubsub.Client, topicID string) *GooglePublisher {
	return &GooglePublisher{publisher: client.Publisher(topicID)}
}

func (p *GooglePublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) error {
	_, err := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes}).Get(ctx)
	return err
}

// Stop flushes pending messages.
func (p *GooglePublisher) Stop() {
	p.publisher.Stop()
}

// PubsubSink publishes events as JSON from a single background worker. Emit
// never blocks: when the buffer is full the event is dropped and logged.
type PubsubSink struct {
	publisher TopicPublisher
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan push.Event
	done   chan struct{}
}

func NewPubsubSink(publisher TopicPublisher, bufferSize int, timeout time.Duration, logger *slog.Logger) *PubsubSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &PubsubSink{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.With("component", "PubsubSink"),
		queue:     make(chan push.Event, bufferSize),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *PubsubSink) Emit(_ context.Context, e push.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.logger.Warn("Event buffer full, dropping event", "event", e.Name, "platform", e.Platform)
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (s *PubsubSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event sink drain interrupted: %w", ctx.Err())
	}
}

func (s *PubsubSink) run() {
	defer close(s.done)
	for e := range s.queue {
		s.publish(e)
	}
}

func (s *PubsubSink) publish(e push.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("Failed to encode event", "event", e.Name, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	attrs := map[string]string{"event": e.Name, "platform": e.Platform}
	if err := s.publisher.Publish(ctx, data, attrs); err != nil {
		s.logger.Warn("Failed to publish event", "event", e.Name, "err", err)
	}
}
