package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventsChannel is the Redis channel carrying chat events between instances.
const EventsChannel = "chat:events"

// Event is a message addressed to a set of users.
type Event struct {
	UserIDs []string           `json:"user_ids"`
	Message models.ChatMessage `json:"message"`
}

// RedisRelay publishes events to Redis and delivers events received from
// Redis to the local notifier, so a user connected to any instance
// receives them.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   chathub.Notifier
	logger  zerolog.Logger
}

func NewRedisRelay(client *redis.Client, local chathub.Notifier, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: EventsChannel,
		local:   local,
		logger:  logger,
	}
}

// Notify publishes the event for every instance, this one included.
func (r *RedisRelay) Notify(ctx context.Context, userIDs []string, msg models.ChatMessage) error {
	payload, err := json.Marshal(Event{UserIDs: userIDs, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Listen delivers published events locally until ctx is cancelled.
func (r *RedisRelay) Listen(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("relay listening")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logger.Error().Err(err).Msg("error unmarshalling relay event")
		return
	}
	if err := r.local.Notify(ctx, event.UserIDs, event.Message); err != nil {
		r.logger.Warn().Err(err).Str("type", event.Message.Type).Msg("local delivery failed")
	}
}
