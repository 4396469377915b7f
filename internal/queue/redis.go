package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig represents Redis Pub/Sub configuration
type RedisConfig struct {
	URL      string // Redis URL (e.g., redis://localhost:6379)
	Password string // Optional password
	DB       int    // Database number (default: 0)
}

// RedisQueue implements Queue using Redis Pub/Sub
type RedisQueue struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	wg            sync.WaitGroup
	mu            sync.Mutex
}

// newRedisQueue creates a new Redis queue instance
func newRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		// Fallback to a bare host:port
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisQueueWithClient(client), nil
}

func newRedisQueueWithClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
	}
}

// Publish publishes a message to a Redis channel
func (q *RedisQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := q.client.Publish(ctx, subject, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", subject, err)
	}
	return nil
}

// Subscribe subscribes to a Redis channel
func (q *RedisQueue) Subscribe(subject string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := q.client.Subscribe(ctx, subject)
	// Wait for the subscription confirmation so no message published
	// after Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to Redis channel %s: %w", subject, err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for msg := range pubsub.Channel() {
			_ = handler([]byte(msg.Payload))
		}
	}()

	q.subscriptions[subject] = pubsub
	return nil
}

// Unsubscribe unsubscribes from a subject
func (q *RedisQueue) Unsubscribe(subject string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	pubsub, exists := q.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}

	delete(q.subscriptions, subject)
	return pubsub.Close()
}

// Close closes all subscriptions and the Redis connection
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	for subject, pubsub := range q.subscriptions {
		_ = pubsub.Close()
		delete(q.subscriptions, subject)
	}
	q.mu.Unlock()

	q.wg.Wait()
	return q.client.Close()
}
