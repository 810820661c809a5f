package redis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-registrations/internal/capacity"
	"github.com/robertarktes/event-registrations/internal/observability"
)

const capacityPattern = "event:*:capacity"

func CapacityChannel(eventID uuid.UUID) string {
	return "event:" + eventID.String() + ":capacity"
}

// Broadcaster publishes committed registeredCount values so open event
// pages can update live. Subscribers that miss a message simply see the
// next one; the store stays authoritative.
type Broadcaster struct {
	client *redis.Client
	logger observability.Logger
}

var _ capacity.Publisher = (*Broadcaster)(nil)

func NewBroadcaster(client *redis.Client, logger observability.Logger) *Broadcaster {
	return &Broadcaster{client: client, logger: logger}
}

func (b *Broadcaster) Publish(ctx context.Context, change capacity.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, CapacityChannel(change.EventID), payload).Err()
}

// Subscribe streams changes for one event until ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, eventID uuid.UUID) <-chan capacity.Change {
	return b.stream(ctx, b.client.Subscribe(ctx, CapacityChannel(eventID)))
}

// SubscribeAll streams changes for every event until ctx is done.
func (b *Broadcaster) SubscribeAll(ctx context.Context) <-chan capacity.Change {
	return b.stream(ctx, b.client.PSubscribe(ctx, capacityPattern))
}

func (b *Broadcaster) stream(ctx context.Context, sub *redis.PubSub) <-chan capacity.Change {
	out := make(chan capacity.Change)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change capacity.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					b.logger.WithField("channel", msg.Channel).Warn("dropping malformed capacity message: ", err)
					continue
				}
				if change.EventID == uuid.Nil {
					change.EventID, _ = uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(msg.Channel, "event:"), ":capacity"))
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
