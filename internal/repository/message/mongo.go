package message

import (
	"context"
	"errors"

	"secure_drop/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "messages"

type (
	// MongoBackend keeps one document per slot, keyed by recipient id.
	MongoBackend struct {
		collection *mongo.Collection
	}

	mongoRecord struct {
		RecipientID         string `bson:"_id"`
		model.StoredMessage `bson:",inline"`
	}
)

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{
		collection: db.Collection(mongoCollection),
	}
}

func (r *MongoBackend) Load(ctx context.Context, recipientID string) (*model.StoredMessage, error) {
	filter := bson.M{
		"_id": recipientID,
	}

	var rec mongoRecord
	err := r.collection.FindOne(ctx, filter).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msg := rec.StoredMessage
	msg.ExpiryUTC = msg.ExpiryUTC.UTC()
	return &msg, nil
}

func (r *MongoBackend) Save(ctx context.Context, recipientID string, msg *model.StoredMessage) error {
	rec := mongoRecord{
		RecipientID:   recipientID,
		StoredMessage: *msg,
	}
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": recipientID}, rec, options.Replace().SetUpsert(true))
	return err
}

func (r *MongoBackend) Remove(ctx context.Context, recipientID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": recipientID})
	return err
}

func (r *MongoBackend) RemoveAll(ctx context.Context) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Close is a no-op, the client belongs to whoever connected it.
func (r *MongoBackend) Close() error {
	return nil
}
