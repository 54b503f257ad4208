package realtime

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Relay subscribes to the sync channel and broadcasts each frame to the local hub.
type Relay struct {
	hub     *Hub
	redis   *redis.Client
	channel string
	log     *log.Logger
	retry   time.Duration
}

func NewRelay(hub *Hub, client *redis.Client, channel string, logger *log.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Relay{hub: hub, redis: client, channel: channel, log: logger, retry: time.Second}
}

// Run blocks until ctx is cancelled, resubscribing whenever the subscription channel closes.
func (r *Relay) Run(ctx context.Context) {
	for {
		sub := r.redis.Subscribe(ctx, r.channel)
		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.log.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retry):
		}
	}
}

func (r *Relay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := sonic.UnmarshalString(msg.Payload, &env); err != nil {
				r.log.WithError(err).Error("unable to parse sync envelope")
				continue
			}
			if env.UserID == "" || len(env.Frame) == 0 {
				r.log.Warn("ignoring sync envelope without owner or frame")
				continue
			}
			n := r.hub.Broadcast(env.UserID, env.Frame)
			r.log.WithFields(log.Fields{"user": env.UserID, "sessions": n}).Debug("sync frame relayed")
		}
	}
}
