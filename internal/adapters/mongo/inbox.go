package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InboxRepository keeps one document per delivered notification, keyed by the
// message id so redeliveries are absorbed.
type InboxRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewInboxRepository(db *mongo.Database, logger observability.Logger) *InboxRepository {
	return &InboxRepository{
		coll:   db.Collection("notifications"),
		logger: logger,
	}
}

type NotificationDoc struct {
	ID         string    `bson:"_id"`
	Kind       string    `bson:"kind"`
	UserID     int64     `bson:"user_id"`
	EventID    int64     `bson:"event_id"`
	Context    bson.M    `bson:"context,omitempty"`
	ReceivedAt time.Time `bson:"received_at"`
	Read       bool      `bson:"read"`
}

func (i *InboxRepository) EnsureIndexes(ctx context.Context) error {
	_, err := i.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "received_at", Value: -1}},
	})
	return errors.Wrap(err, "create inbox index")
}

// Store inserts doc and reports false if a document with the same id already exists.
func (i *InboxRepository) Store(ctx context.Context, doc NotificationDoc) (bool, error) {
	if doc.ReceivedAt.IsZero() {
		doc.ReceivedAt = time.Now().UTC()
	}
	_, err := i.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		i.logger.WithError(err).WithField("message_id", doc.ID).Error("failed to store notification")
		return false, err
	}
	return true, nil
}

// ListForUser returns the newest notifications of userID first.
func (i *InboxRepository) ListForUser(ctx context.Context, userID int64, limit int64) ([]NotificationDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}}).SetLimit(limit)
	cur, err := i.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find notifications")
	}
	var docs []NotificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode notifications")
	}
	return docs, nil
}

func (i *InboxRepository) MarkRead(ctx context.Context, userID int64, id string) error {
	res, err := i.coll.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return errors.Wrap(err, "mark notification read")
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(mongo.ErrNoDocuments, "notification %s", id)
	}
	return nil
}
