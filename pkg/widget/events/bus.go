package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SubscriberBuffer is how many decoded events a subscriber may fall behind
// before further events are dropped for it.
const SubscriberBuffer = 256

// Settings selects the bus backend.
type Settings struct {
	RedisEnabled  bool   `mapstructure:"redis_enabled" yaml:"redis_enabled"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisGroup    string `mapstructure:"redis_group" yaml:"redis_group"`
	RedisConsumer string `mapstructure:"redis_consumer" yaml:"redis_consumer"`
}

// Bus publishes and subscribes widget events.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	redis      *redis.Client
	settings   Settings
	logger     watermill.LoggerAdapter
}

// NewInMemoryBus uses a watermill gochannel. Events only reach subscribers
// that exist when they are published. Publish waits for subscribers to ack
// so events arrive in order.
func NewInMemoryBus() *Bus {
	logger := NewWatermillLogger(log.Logger)
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return &Bus{publisher: gc, subscriber: gc, logger: logger}
}

// NewBus wraps an existing publisher/subscriber pair.
func NewBus(pub message.Publisher, sub message.Subscriber) *Bus {
	return &Bus{publisher: pub, subscriber: sub, logger: NewWatermillLogger(log.Logger)}
}

// BuildBus returns a Redis Streams backed bus when enabled, an in-memory
// one otherwise.
func BuildBus(s Settings) (*Bus, error) {
	if !s.RedisEnabled {
		return NewInMemoryBus(), nil
	}
	if s.RedisAddr == "" {
		s.RedisAddr = "localhost:6379"
	}
	if s.RedisGroup == "" {
		s.RedisGroup = "punku-chat"
	}
	if s.RedisConsumer == "" {
		s.RedisConsumer = "consumer-" + uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := NewWatermillLogger(log.Logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.RedisGroup,
		Consumer:      s.RedisConsumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}
	return &Bus{publisher: pub, subscriber: sub, redis: client, settings: s, logger: logger}, nil
}

// Publish encodes ev and publishes it on the widget's topic.
func (b *Bus) Publish(ev Event) error {
	if b == nil || b.publisher == nil {
		return nil
	}
	if ev.AtMs == 0 {
		ev.AtMs = Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", string(ev.Type))
	if err := b.publisher.Publish(Topic(ev.WidgetID), msg); err != nil {
		return errors.Wrapf(err, "publish %s", ev.Type)
	}
	return nil
}

// Subscribe streams decoded events for widgetID until ctx is done.
// Undecodable messages are acked and dropped. A subscriber that stops
// draining loses events once SubscriberBuffer is full; Publish never waits
// on it.
func (b *Bus) Subscribe(ctx context.Context, widgetID string) (<-chan Event, error) {
	if b == nil || b.subscriber == nil {
		return nil, errors.New("events: bus has no subscriber")
	}
	topic := Topic(widgetID)
	if b.redis != nil {
		if err := ensureGroupAtTail(ctx, b.redis, topic, b.settings.RedisGroup); err != nil {
			return nil, err
		}
	}
	msgs, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", topic)
	}
	out := make(chan Event, SubscriberBuffer)
	go func() {
		defer close(out)
		dropped := 0
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Warn().Err(err).Str("component", "events").Str("topic", topic).Msg("failed to decode event")
				msg.Ack()
				continue
			}
			msg.Ack()
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- ev:
				if dropped > 0 {
					log.Warn().Str("component", "events").Str("topic", topic).Int("dropped", dropped).Msg("subscriber caught up after dropping events")
					dropped = 0
				}
			default:
				dropped++
				if dropped == 1 {
					log.Warn().Str("component", "events").Str("topic", topic).Str("type", string(ev.Type)).Msg("subscriber is not draining, dropping events")
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if b.subscriber != nil && any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ensureGroupAtTail creates the consumer group at $ so a new subscriber
// does not replay the stream history.
func ensureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create redis consumer group")
	}
	log.Info().Str("component", "events").Str("stream", stream).Str("group", group).Msg("created redis consumer group at tail")
	return nil
}
