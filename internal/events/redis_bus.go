package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus implements Bus on top of Redis pub/sub. One Redis subscription is
// shared by every local subscriber of a channel.
type RedisBus struct {
	client        *redis.Client
	log           zerolog.Logger
	subscriptions map[string]*redis.PubSub
	subscribers   map[string]map[chan Event]struct{}
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewRedisBus(client *redis.Client, log zerolog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:        client,
		log:           log,
		subscriptions: make(map[string]*redis.PubSub),
		subscribers:   make(map[string]map[chan Event]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of events that is closed when ctx is done or the bus closes.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	b.mu.RLock()
	_, exists := b.subscriptions[channel]
	b.mu.RUnlock()

	// Confirm a new Redis subscription before taking the write lock, so a slow
	// round trip does not hold up fan-out on other channels. Waiting for the
	// confirmation means no message published after Subscribe returns is lost.
	var pending *redis.PubSub
	if !exists {
		pending = b.client.Subscribe(b.ctx, channel)
		if _, err := pending.Receive(ctx); err != nil {
			_ = pending.Close()
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	b.mu.Lock()
	if _, exists := b.subscriptions[channel]; !exists {
		if pending == nil {
			// the shared subscription went away while we were unlocked
			b.mu.Unlock()
			return b.Subscribe(ctx, channel)
		}
		b.subscriptions[channel] = pending
		go b.receive(channel, pending)
		pending = nil
	}

	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan Event]struct{})
	}

	eventChan := make(chan Event, 64)
	b.subscribers[channel][eventChan] = struct{}{}
	count := len(b.subscribers[channel])
	b.mu.Unlock()

	if pending != nil {
		// another caller registered the channel first
		_ = pending.Close()
	}

	b.log.Debug().Str("channel", channel).Int("subscribers", count).Msg("subscribed")

	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.removeSubscriber(channel, eventChan)
	}()

	return eventChan, nil
}

func (b *RedisBus) receive(channel string, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn().Err(err).Str("channel", channel).Msg("dropping malformed event")
				continue
			}

			b.mu.RLock()
			for subscriber := range b.subscribers[channel] {
				select {
				case subscriber <- event:
				default:
					b.log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber full, skipping event")
				}
			}
			b.mu.RUnlock()
		}
	}
}

func (b *RedisBus) removeSubscriber(channel string, eventChan chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, exists := b.subscribers[channel]
	if !exists {
		return
	}
	if _, ok := subscribers[eventChan]; !ok {
		return
	}

	delete(subscribers, eventChan)
	close(eventChan)

	if len(subscribers) == 0 {
		delete(b.subscribers, channel)
		if pubsub, ok := b.subscriptions[channel]; ok {
			_ = pubsub.Close()
			delete(b.subscriptions, channel)
		}
	}
}

// Close stops all subscriptions and closes every subscriber channel.
func (b *RedisBus) Close() error {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for channel, pubsub := range b.subscriptions {
		if err := pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", channel, err))
		}
		delete(b.subscriptions, channel)
	}
	for channel, subscribers := range b.subscribers {
		for subscriber := range subscribers {
			close(subscriber)
		}
		delete(b.subscribers, channel)
	}

	return errors.Join(errs...)
}
