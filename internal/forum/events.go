package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
)

const (
	TopicMessageCreated = "forum.message_created"
	TopicThreadUpdated  = "forum.thread_updated"
)

// EventBus carries forum lifecycle events over an in-process watermill
// pub/sub. It implements both Events and Publisher.
type EventBus struct {
	pubsub *gochannel.GoChannel

	mu              sync.RWMutex
	messageHandlers []MessageCreatedHandler
	threadHandlers  []ThreadUpdatedHandler

	wg sync.WaitGroup
}

// NewEventBus creates a new EventBus. A nil logger falls back to watermill's
// std logger. Once the bus is started, publishing returns after every
// handler has seen the event.
func NewEventBus(logger watermill.LoggerAdapter) *EventBus {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	return &EventBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, logger),
	}
}

func (b *EventBus) OnMessageCreated(h MessageCreatedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messageHandlers = append(b.messageHandlers, h)
}

func (b *EventBus) OnThreadUpdated(h ThreadUpdatedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threadHandlers = append(b.threadHandlers, h)
}

func (b *EventBus) PublishMessageCreated(ctx context.Context, e MessageCreated) error {
	return b.publish(ctx, TopicMessageCreated, e)
}

func (b *EventBus) PublishThreadUpdated(ctx context.Context, e ThreadUpdated) error {
	return b.publish(ctx, TopicThreadUpdated, e)
}

func (b *EventBus) publish(ctx context.Context, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}
	return nil
}

// Start subscribes to both topics and dispatches events until ctx is done.
// Events published before Start are dropped.
func (b *EventBus) Start(ctx context.Context) error {
	created, err := b.pubsub.Subscribe(ctx, TopicMessageCreated)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicMessageCreated, err)
	}
	updated, err := b.pubsub.Subscribe(ctx, TopicThreadUpdated)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicThreadUpdated, err)
	}

	b.wg.Add(2)
	go b.consume(ctx, created, b.dispatchMessageCreated)
	go b.consume(ctx, updated, b.dispatchThreadUpdated)
	return nil
}

// Close stops the pub/sub and waits for in-flight handlers.
func (b *EventBus) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

func (b *EventBus) consume(ctx context.Context, msgs <-chan *message.Message, dispatch func(context.Context, []byte)) {
	defer b.wg.Done()
	for msg := range msgs {
		dispatch(ctx, msg.Payload)
		// Handler failures are logged; events are never redelivered.
		msg.Ack()
	}
}

func (b *EventBus) dispatchMessageCreated(ctx context.Context, payload []byte) {
	var e MessageCreated
	if err := json.Unmarshal(payload, &e); err != nil {
		logging.Errorw("dropping malformed event", "topic", TopicMessageCreated, "error", err)
		return
	}
	b.mu.RLock()
	handlers := append([]MessageCreatedHandler(nil), b.messageHandlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			logging.Errorw("message created handler failed", "message_id", e.MessageID, "error", err)
		}
	}
}

func (b *EventBus) dispatchThreadUpdated(ctx context.Context, payload []byte) {
	var e ThreadUpdated
	if err := json.Unmarshal(payload, &e); err != nil {
		logging.Errorw("dropping malformed event", "topic", TopicThreadUpdated, "error", err)
		return
	}
	b.mu.RLock()
	handlers := append([]ThreadUpdatedHandler(nil), b.threadHandlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			logging.Errorw("thread updated handler failed", "thread_id", e.ThreadID, "error", err)
		}
	}
}
