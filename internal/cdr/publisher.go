package cdr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher mirrors terminal records to interested consumers (billing,
// analytics) without coupling them to the database.
type Publisher interface {
	Publish(ctx context.Context, r Record) error
}

// RedisPublisher publishes each record as a JSON message on a pub/sub
// channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal cdr: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish cdr: %w", err)
	}
	return nil
}
