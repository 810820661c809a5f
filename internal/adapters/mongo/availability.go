package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/capacity"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AvailabilityProjection is a read model of registeredCount per event,
// fed by capacity broadcasts. It may lag the store.
type AvailabilityProjection struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAvailabilityProjection(db *mongo.Database, logger observability.Logger) *AvailabilityProjection {
	return &AvailabilityProjection{
		coll:   db.Collection("event_availability"),
		logger: logger,
	}
}

type AvailabilityDoc struct {
	EventID         string    `bson:"_id" json:"eventId"`
	RegisteredCount int       `bson:"registered_count" json:"registeredCount"`
	Version         int64     `bson:"version" json:"version"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updatedAt"`
}

// Apply records change unless the stored document already carries the
// same or a newer version. Broadcasts may arrive out of order.
func (p *AvailabilityProjection) Apply(ctx context.Context, change capacity.Change) error {
	filter := bson.M{
		"_id": change.EventID.String(),
		"$or": bson.A{
			bson.M{"version": bson.M{"$lt": change.Version}},
			bson.M{"version": bson.M{"$exists": false}},
		},
	}
	update := bson.M{"$set": bson.M{
		"registered_count": change.RegisteredCount,
		"version":          change.Version,
		"updated_at":       time.Now(),
	}}
	_, err := p.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// the filter missed an existing document, so it is newer
		p.logger.WithField("event_id", change.EventID).WithField("version", change.Version).Debug("stale availability change ignored")
		return nil
	}
	if err != nil {
		p.logger.Error("failed to update event availability: ", err)
		return err
	}
	return nil
}

// Publish lets the projection sit behind notify.Dispatcher directly.
func (p *AvailabilityProjection) Publish(ctx context.Context, change capacity.Change) error {
	return p.Apply(ctx, change)
}

func (p *AvailabilityProjection) Get(ctx context.Context, eventID uuid.UUID) (*AvailabilityDoc, error) {
	var doc AvailabilityDoc
	err := p.coll.FindOne(ctx, bson.M{"_id": eventID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.NotFound("availability")
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
