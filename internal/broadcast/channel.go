// Package broadcast carries document updates between processes over a single
// named Redis pub/sub channel. Messages are transient; delivery is best
// effort and convergence does not depend on it being ordered or complete,
// only on every context eventually seeing the durable log.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SyncMessage is the wire format for one document mutation. Update is an
// opaque incremental update from the mergeable-document library; this package
// never inspects it. ClientID identifies the publishing process so receivers
// can skip updates they already applied locally.
type SyncMessage struct {
	ClientID  string `json:"clientId"`
	ProjectID string `json:"projectId"`
	Update    []byte `json:"update"`
}

// Channel is a handle on the shared sync channel.
type Channel struct {
	client *redis.Client
	name   string
	owned  bool
}

// Dial connects to Redis and returns a channel handle.
func Dial(ctx context.Context, redisURL, name string) (*Channel, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Channel{client: client, name: name, owned: true}, nil
}

// NewWithClient wraps an existing Redis client; the caller keeps ownership of
// the client's lifetime.
func NewWithClient(client *redis.Client, name string) *Channel {
	return &Channel{client: client, name: name}
}

func (c *Channel) Publish(ctx context.Context, msg SyncMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal sync message: %w", err)
	}
	if err := c.client.Publish(ctx, c.name, payload).Err(); err != nil {
		return fmt.Errorf("publish sync message: %w", err)
	}
	return nil
}

// Subscribe opens a subscription on the channel. The returned handle owns a
// dedicated receive loop; Close stops the loop and releases the underlying
// Redis subscription.
func (c *Channel) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := c.client.Subscribe(ctx, c.name)
	// Force the SUBSCRIBE round trip so callers never miss messages published
	// after Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &Subscription{
		pubsub:   pubsub,
		messages: make(chan SyncMessage, 64),
	}
	go sub.receive()
	return sub, nil
}

// Close releases the Redis client if this handle dialed it.
func (c *Channel) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}

// Subscription is an explicit unsubscribe handle.
type Subscription struct {
	pubsub   *redis.PubSub
	messages chan SyncMessage
}

// Messages delivers decoded sync messages. The channel is closed when the
// subscription closes; undecodable payloads are dropped.
func (s *Subscription) Messages() <-chan SyncMessage {
	return s.messages
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func (s *Subscription) receive() {
	defer close(s.messages)
	for raw := range s.pubsub.Channel() {
		var msg SyncMessage
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			continue
		}
		s.messages <- msg
	}
}
