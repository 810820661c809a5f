package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
)

const (
	Exchange = "fel.events"

	publishAttempts = 3
)

type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

var _ notify.Notifier = (*Publisher)(nil)

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

// Publish sends msg with routing key key, retrying transient failures.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	var err error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		p.mu.Lock()
		err = p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
		p.mu.Unlock()
		if err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "publish %s", key)
}

// Notify publishes n on the exchange with its kind as routing key.
func (p *Publisher) Notify(ctx context.Context, n notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.Publish(ctx, string(n.Kind), Message(fmt.Sprintf("%s:%s:%d", n.Kind, n.RegistrationID, n.At.UnixNano()), body))
}

// Message wraps a JSON body as a persistent publishing.
func Message(id string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    id,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
