package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/config"
)

var ErrCacheMiss = errors.New("cache miss")

// CacheService wraps the Redis client shared by the vehicle cache and the
// live feed.
type CacheService struct {
	client redis.UniversalClient
}

func NewCacheService(ctx context.Context, cfg config.RedisConfig) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var lastErr error
	for i := 0; i < 10; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client}, nil
		}
		logrus.WithError(lastErr).Warnf("redis ping attempt %d/10 failed", i+1)
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		}
	}

	client.Close()
	return nil, fmt.Errorf("redis ping failed after 10 attempts: %w", lastErr)
}

// NewCacheServiceFromClient wraps an existing client.
func NewCacheServiceFromClient(client redis.UniversalClient) *CacheService {
	return &CacheService{client: client}
}

func (s *CacheService) Client() redis.UniversalClient {
	return s.client
}

// Get decodes the JSON value at key into dest, or returns ErrCacheMiss.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

// Set stores value as one JSON string; a zero ttl keeps it forever.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Keys returns every key matching pattern, walking the keyspace with SCAN.
func (s *CacheService) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

func (s *CacheService) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.client.Subscribe(ctx, channel)
}

// Listen subscribes to channel and relays message payloads until ctx is
// done. The subscription is confirmed before Listen returns.
func (s *CacheService) Listen(ctx context.Context, channel string) (<-chan string, error) {
	pubsub := s.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *CacheService) Close() error {
	return s.client.Close()
}
