package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger keeps a record of every participant notification that went
// out, keyed so a redelivered message is stored once.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("notification_audit"),
		logger: logger,
	}
}

type AuditLog struct {
	ID             string    `bson:"_id"`
	Action         string    `bson:"action"`
	EventID        string    `bson:"event_id"`
	RegistrationID string    `bson:"registration_id,omitempty"`
	ParticipantID  string    `bson:"participant_id,omitempty"`
	Email          string    `bson:"email,omitempty"`
	TicketID       string    `bson:"ticket_id,omitempty"`
	Timestamp      time.Time `bson:"timestamp"`
	RecordedAt     time.Time `bson:"recorded_at"`
	Data           bson.M    `bson:"data,omitempty"`
}

func auditID(n notify.Notification) string {
	return string(n.Kind) + ":" + n.EventID.String() + ":" + n.RegistrationID.String() + ":" + n.ParticipantID.String() + ":" + n.At.UTC().Format(time.RFC3339Nano)
}

func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// LogNotification upserts the audit entry for n.
func (a *AuditLogger) LogNotification(ctx context.Context, n notify.Notification) error {
	entry := AuditLog{
		ID:             auditID(n),
		Action:         string(n.Kind),
		EventID:        n.EventID.String(),
		RegistrationID: idString(n.RegistrationID),
		ParticipantID:  idString(n.ParticipantID),
		Email:          n.Email,
		TicketID:       n.TicketID,
		Timestamp:      n.At,
		RecordedAt:     time.Now(),
	}
	if n.Comment != "" || n.EventName != "" {
		entry.Data = bson.M{"event_name": n.EventName, "comment": n.Comment}
	}
	_, err := a.coll.ReplaceOne(ctx, bson.M{"_id": entry.ID}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		a.logger.Error("failed to insert audit log: ", err)
		return err
	}
	return nil
}

// Notify lets the audit log sit behind notify.Dispatcher directly.
func (a *AuditLogger) Notify(ctx context.Context, n notify.Notification) error {
	return a.LogNotification(ctx, n)
}

// History returns the audit entries of one registration, oldest first.
func (a *AuditLogger) History(ctx context.Context, registrationID uuid.UUID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"registration_id": registrationID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
