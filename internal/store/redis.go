package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "pyshare:buffer"

// Redis keeps the buffer under a single key and publishes every write so that other
// coordinator processes pointed at the same key can relay it to their clients.
type Redis struct {
	rdb     *redis.Client
	key     string
	channel string
	origin  string
}

type redisUpdate struct {
	Origin string `json:"origin"`
	Value  string `json:"value"`
}

// NewRedis wraps an existing client. An empty key selects DefaultRedisKey.
func NewRedis(rdb *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{
		rdb:     rdb,
		key:     key,
		channel: key + ":updates",
		origin:  uuid.NewString(),
	}
}

// Key returns the key holding the buffer.
func (s *Redis) Key() string {
	return s.key
}

// DialRedis connects to addr and verifies the server answers a PING.
func DialRedis(ctx context.Context, addr string, key string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(rdb, key), nil
}

func (s *Redis) Get(ctx context.Context) (string, error) {
	value, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", s.key, err)
	}
	return value, nil
}

func (s *Redis) Set(ctx context.Context, value string) error {
	payload, err := json.Marshal(redisUpdate{Origin: s.origin, Value: value})
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key, value, 0)
		pipe.Publish(ctx, s.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

// Watch subscribes to the update channel. The returned channel is closed when ctx is
// done or the subscription ends.
func (s *Redis) Watch(ctx context.Context) (<-chan string, error) {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var update redisUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					glog.Warningf("store: dropping malformed update on %s: %v", s.channel, err)
					continue
				}
				if update.Origin == s.origin {
					continue
				}
				select {
				case out <- update.Value:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the underlying client.
func (s *Redis) Close() error {
	return s.rdb.Close()
}
