package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// queueKeyPrefix namespaces per-agent work queues in Redis.
const queueKeyPrefix = "agent_queue:"

// RedisBus is a Redis-backed Bus. Topics map to Redis pub/sub channels;
// per-agent queues map to Redis lists consumed with BRPOP, so multiple
// coordinator processes can share one transport.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to Redis at addr and verifies the connection.
func NewRedisBus(addr, password string, db int) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log.Printf("[bus] connected to redis at %s", addr)
	return &RedisBus{client: client}, nil
}

// NewRedisBusFromURL connects using a redis:// URL.
func NewRedisBusFromURL(redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log.Printf("[bus] connected to redis at %s", opts.Addr)
	return &RedisBus{client: client}, nil
}

// NewRedisBusFromClient wraps an existing client, e.g. for tests against
// miniredis.
func NewRedisBusFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish JSON-encodes msg and publishes it on the topic channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription on topic and adapts it to a Message
// channel. Messages that fail to decode are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	pubsub := b.client.Subscribe(ctx, topic)

	// Force the subscription onto the wire before returning so messages
	// published after Subscribe are observed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan Message, subscriberBufferSize)
	raw := pubsub.Channel()

	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-raw:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					log.Printf("[bus] skipping undecodable message on %s: %v", topic, err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// EnqueueTask pushes the JSON-encoded task onto the agent's list.
func (b *RedisBus) EnqueueTask(ctx context.Context, agentID string, task *models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := b.client.LPush(ctx, queueKeyPrefix+agentID, data).Err(); err != nil {
		return fmt.Errorf("enqueue task for %s: %w", agentID, err)
	}
	return nil
}

// DequeueTask performs a blocking pop with timeout. Timeout on an empty
// queue returns (nil, nil).
func (b *RedisBus) DequeueTask(ctx context.Context, agentID string, timeout time.Duration) (*models.Task, error) {
	res, err := b.client.BRPop(ctx, timeout, queueKeyPrefix+agentID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue task for %s: %w", agentID, err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue task for %s: unexpected reply length %d", agentID, len(res))
	}

	var task models.Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decode task for %s: %w", agentID, err)
	}
	return &task, nil
}

// Close closes the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
