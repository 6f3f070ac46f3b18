package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror publishes lifecycle events to a redis pub/sub channel so
// consumers without a websocket connection (dashboards, billing)
// observe the same stream the gateway fans out.
type RedisMirror struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
	clock   func() time.Time
}

func NewRedisMirror(rdb *redis.Client, channel string, log *slog.Logger) *RedisMirror {
	if log == nil {
		log = slog.Default()
	}
	return &RedisMirror{rdb: rdb, channel: channel, log: log, clock: time.Now}
}

type mirroredEvent struct {
	Type      string         `json:"type"`
	CallID    string         `json:"call_id"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Broadcast implements Broadcaster. Publish failures are logged and
// swallowed; the mirror must never affect call handling.
func (m *RedisMirror) Broadcast(callID string, eventType string, data map[string]any) {
	payload, err := json.Marshal(mirroredEvent{
		Type:      eventType,
		CallID:    callID,
		Data:      data,
		Timestamp: m.clock(),
	})
	if err != nil {
		m.log.Warn("event mirror marshal failed", "call_id", callID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.rdb.Publish(ctx, m.channel, payload).Err(); err != nil {
		m.log.Warn("event mirror publish failed", "call_id", callID, "err", err)
	}
}

// MultiBroadcaster fans one event out to several broadcasters.
type MultiBroadcaster []Broadcaster

func (mb MultiBroadcaster) Broadcast(callID string, eventType string, data map[string]any) {
	for _, b := range mb {
		if b != nil {
			b.Broadcast(callID, eventType, data)
		}
	}
}
