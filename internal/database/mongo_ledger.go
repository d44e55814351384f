package database

import (
	"context"
	"fmt"
	"time"

	"tg-crm/internal/database/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedger implements DeliveryLedger on a MongoDB collection with a unique
// (message_id, recipient_id) index.
type MongoLedger struct {
	collection *mongo.Collection
}

// NewMongoLedger creates a ledger backed by the deliveries collection.
func NewMongoLedger(db *mongo.Database) *MongoLedger {
	return &MongoLedger{collection: db.Collection(deliveryCollectionName)}
}

// Upsert writes the delivery record in a single atomic FindOneAndUpdate.
func (l *MongoLedger) Upsert(ctx context.Context, messageID, recipientID primitive.ObjectID, status models.DeliveryStatus, errorText string) (*models.Delivery, error) {
	if !validStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	now := time.Now()
	filter := bson.M{"message_id": messageID, "recipient_id": recipientID}
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"error_text": errorText,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var d models.Delivery
	err := l.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced on insert; the loser retries as a plain update.
		err = l.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert delivery %s/%s: %w", messageID.Hex(), recipientID.Hex(), err)
	}
	return &d, nil
}

// CountByStatus groups the deliveries of a message by status.
func (l *MongoLedger) CountByStatus(ctx context.Context, messageID primitive.ObjectID) (models.StatusCounts, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "message_id", Value: messageID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	var counts models.StatusCounts
	cursor, err := l.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return counts, fmt.Errorf("failed to count deliveries of %s: %w", messageID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return counts, fmt.Errorf("failed to decode delivery counts of %s: %w", messageID.Hex(), err)
	}
	for _, row := range rows {
		addCount(&counts, row.Status, row.Count)
	}
	return counts, nil
}

// ListByMessage returns every delivery record of a message, most recently updated first.
func (l *MongoLedger) ListByMessage(ctx context.Context, messageID primitive.ObjectID) ([]models.Delivery, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := l.collection.Find(ctx, bson.M{"message_id": messageID}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find deliveries of %s: %w", messageID.Hex(), err)
	}
	defer cursor.Close(ctx)

	deliveries := []models.Delivery{}
	if err = cursor.All(ctx, &deliveries); err != nil {
		return nil, fmt.Errorf("failed to decode deliveries of %s: %w", messageID.Hex(), err)
	}
	return deliveries, nil
}
