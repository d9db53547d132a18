package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"intake.org/internal/audit"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher broadcasts envelopes on a pub/sub channel so every API
// instance can push to its own connected clients.
type RedisPublisher struct {
	client   redisPublisher
	channel  string
	producer string
}

func NewRedisPublisher(client *redis.Client, channel, producer string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, producer: producer}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Deliver(ctx context.Context, evt Event) error {
	body, err := json.Marshal(Wrap(evt, p.producer, audit.RequestIDFromContext(ctx)))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return p.client.Publish(ctx, p.channel, body).Err()
}

// RelayRedis forwards envelopes from channel into hub until ctx ends.
func RelayRedis(ctx context.Context, client *redis.Client, channel string, hub *Hub, log *logrus.Logger) error {
	ps := client.Subscribe(ctx, channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			evt, err := decodeEnvelope(msg.Payload)
			if err != nil {
				log.WithError(err).WithField("channel", channel).Warn("relay: bad payload")
				continue
			}
			hub.Publish(evt)
		}
	}
}

func decodeEnvelope(payload string) (Event, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Event{}, err
	}
	if env.Data.ReceiverID <= 0 {
		return Event{}, fmt.Errorf("envelope %s has no receiver", env.Meta.ID)
	}
	return env.Data, nil
}
