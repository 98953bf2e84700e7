package crosstab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/logutils"
)

const DefaultRedisChannel = "wallet-state-sync"

// RedisChannel broadcasts messages between processes over Redis pub/sub.
type RedisChannel struct {
	client     *redis.Client
	ownsClient bool
	name       string
	logger     *zap.Logger

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewRedisChannel uses client for the named pub/sub channel. The client is
// not closed by Close.
func NewRedisChannel(client *redis.Client, name string, logger *zap.Logger) *RedisChannel {
	if name == "" {
		name = DefaultRedisChannel
	}
	return &RedisChannel{
		client:  client,
		name:    name,
		logger:  logutils.OrDefault(logger).Named("crosstab-redis"),
		pubsubs: make(map[*redis.PubSub]struct{}),
	}
}

// DialRedisChannel connects to redisURL (redis://host:port/db) and checks
// the connection.
func DialRedisChannel(ctx context.Context, redisURL, name string, logger *zap.Logger) (*RedisChannel, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	c := NewRedisChannel(client, name, logger)
	c.ownsClient = true
	return c, nil
}

func (c *RedisChannel) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.client.Publish(ctx, c.name, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe blocks until Redis confirmed the subscription, so messages
// published after it returns are delivered.
func (c *RedisChannel) Subscribe(fn func(Notification)) func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	c.mu.Unlock()

	ctx := context.Background()
	pubsub := c.client.Subscribe(ctx, c.name)
	if _, err := pubsub.Receive(ctx); err != nil {
		c.logger.Error("redis subscribe failed", zap.String("channel", c.name), zap.Error(err))
		pubsub.Close()
		return func() {}
	}

	c.mu.Lock()
	c.pubsubs[pubsub] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for redisMsg := range pubsub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
				c.logger.Warn("dropping malformed message", zap.String("channel", c.name), zap.Error(err))
				continue
			}
			fn(Notification{Message: &msg})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.pubsubs, pubsub)
			c.mu.Unlock()
			if err := pubsub.Close(); err != nil {
				c.logger.Debug("failed to close subscription", zap.Error(err))
			}
		})
	}
}

func (c *RedisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pubsubs := c.pubsubs
	c.pubsubs = make(map[*redis.PubSub]struct{})
	c.mu.Unlock()

	for pubsub := range pubsubs {
		if err := pubsub.Close(); err != nil {
			c.logger.Debug("failed to close subscription", zap.Error(err))
		}
	}
	c.wg.Wait()

	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}
