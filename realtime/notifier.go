package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-agent/domain"
)

// DefaultChannel is the Redis pub/sub channel shared by all API instances.
const DefaultChannel = "sync.events"

type envelope struct {
	UserID string          `json:"user_id"`
	Frame  json.RawMessage `json:"frame"`
}

// Notifier turns task events into sync frames. With a Redis client the frame is published
// so that every instance's Relay delivers it; without one it goes straight to the local hub.
type Notifier struct {
	hub     *Hub
	redis   *redis.Client
	channel string
	log     *log.Logger
}

func NewNotifier(hub *Hub, client *redis.Client, channel string, logger *log.Logger) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Notifier{hub: hub, redis: client, channel: channel, log: logger}
}

// Publish implements tasks.EventSink.
func (n *Notifier) Publish(ctx context.Context, ev domain.TaskEvent) {
	frame, err := encode(SyncFrame(ev))
	if err != nil {
		n.log.WithError(err).Error("encode sync frame")
		return
	}
	n.Send(ctx, ev.UserID, frame)
}

// Notify sends a notification frame to every session of owner.
func (n *Notifier) Notify(ctx context.Context, owner, title, body string) {
	frame, err := encode(Frame{Type: FrameNotification, Data: map[string]any{
		"title":     title,
		"body":      body,
		"timestamp": time.Now().UTC(),
	}})
	if err != nil {
		return
	}
	n.Send(ctx, owner, frame)
}

// Send delivers an encoded frame to owner through Redis when configured.
func (n *Notifier) Send(ctx context.Context, owner string, frame []byte) {
	if n.redis == nil {
		n.hub.Broadcast(owner, frame)
		return
	}
	data, err := sonic.Marshal(envelope{UserID: owner, Frame: frame})
	if err != nil {
		n.log.WithError(err).Error("encode sync envelope")
		return
	}
	if err := n.redis.Publish(ctx, n.channel, data).Err(); err != nil {
		n.log.WithError(err).Warn("publish sync frame failed, delivering locally")
		n.hub.Broadcast(owner, frame)
	}
}
