// Package outbox moves notifications written by the store's transactions
// onto the message bus.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-registrations/internal/adapters/crdb"
	"github.com/robertarktes/event-registrations/internal/adapters/rabbit"
	"github.com/robertarktes/event-registrations/internal/observability"
)

const batchSize = 50

// Source is the outbox table; *crdb.Store implements it.
type Source interface {
	RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, rec crdb.OutboxRecord) error) (int, error)
	OldestPending(ctx context.Context) (time.Time, bool, error)
}

// Sink is the broker; *rabbit.Publisher implements it.
type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

var (
	_ Source = (*crdb.Store)(nil)
	_ Sink   = (*rabbit.Publisher)(nil)
)

type Relay struct {
	source   Source
	sink     Sink
	logger   observability.Logger
	interval time.Duration
}

func NewRelay(source Source, sink Sink, logger observability.Logger, interval time.Duration) *Relay {
	return &Relay{source: source, sink: sink, logger: logger, interval: interval}
}

func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("outbox relay started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox relay failed: ", err)
			}
		}
	}
}

// Drain relays batches until a batch comes back short and returns how many
// records were published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.source.RelayOutbox(ctx, batchSize, r.publish)
		total += n
		if err != nil {
			return total, err
		}
		if n < batchSize {
			break
		}
	}
	oldest, pending, err := r.source.OldestPending(ctx)
	if err != nil {
		return total, err
	}
	if pending {
		observability.OutboxLag.Set(time.Since(oldest).Seconds())
	} else {
		observability.OutboxLag.Set(0)
	}
	return total, nil
}

func (r *Relay) publish(ctx context.Context, rec crdb.OutboxRecord) error {
	err := r.sink.Publish(ctx, rec.EventType, rabbit.Message(rec.DedupeKey, rec.Payload))
	if err != nil {
		r.logger.WithField("outbox_id", rec.ID).WithField("attempts", rec.Attempts+1).Warn("outbox publish failed: ", err)
	}
	return err
}
