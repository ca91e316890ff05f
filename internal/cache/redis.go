package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrBusClosed is returned by Bus operations once Close has been called.
var ErrBusClosed = errors.New("cache: bus closed")

// RedisKV is a KV backed by Redis, the teacher's data/cache/cache.go
// NewAuto() primary path when REDIS_ADDR is set.
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV wraps an already-configured *redis.Client.
func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (r *RedisKV) Get(key string) ([]byte, bool) {
	val, err := r.rdb.Get(context.Background(), key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return nil, false
	}
	return val, true
}

func (r *RedisKV) Set(key string, val []byte, ttl time.Duration) {
	if err := r.rdb.Set(context.Background(), key, val, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

func (r *RedisKV) Del(key string) {
	if err := r.rdb.Del(context.Background(), key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis del failed")
	}
}

// RedisBus is a Bus backed by Redis Pub/Sub. Delivery is at-most-once
// and not persisted — a client reconnecting after a gap must fall back
// to the initial-window fetch (spec §5), not bus replay.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus wraps an already-configured *redis.Client.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go sub.loop(ctx, channel, handler)
	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

func (s *redisSubscription) loop(ctx context.Context, channel string, handler Handler) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m := &Message{Channel: channel, Payload: []byte(msg.Payload), Timestamp: time.Now()}
			if err := handler(ctx, m); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("feed handler returned error")
			}
		}
	}
}

func (s *redisSubscription) Unsubscribe() error {
	close(s.done)
	return s.pubsub.Close()
}
