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

// MongoClientRepository implements ClientRepository for MongoDB.
type MongoClientRepository struct {
	collection *mongo.Collection
}

// NewMongoClientRepository creates a new MongoDB client repository.
func NewMongoClientRepository(db *mongo.Database) *MongoClientRepository {
	return &MongoClientRepository{
		collection: db.Collection(clientCollectionName),
	}
}

// GetClients loads the recipients of a broadcast. Results follow storage (_id) order.
func (r *MongoClientRepository) GetClients(ctx context.Context, ids []primitive.ObjectID) ([]models.Client, error) {
	if len(ids) == 0 {
		return []models.Client{}, nil
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find clients: %w", err)
	}
	defer cursor.Close(ctx)

	var clients []models.Client
	if err = cursor.All(ctx, &clients); err != nil {
		return nil, fmt.Errorf("failed to decode clients: %w", err)
	}
	return clients, nil
}

// MarkBlocked sets the blocked flag of a client.
func (r *MongoClientRepository) MarkBlocked(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"blocked": true}})
	if err != nil {
		return fmt.Errorf("failed to mark client %s as blocked: %w", id.Hex(), err)
	}
	return nil
}

// UpsertClient updates or inserts client information keyed by Telegram user ID.
// A client writing to the bot again is no longer considered blocked.
func (r *MongoClientRepository) UpsertClient(ctx context.Context, client *models.Client) error {
	if client.UserID == 0 {
		return fmt.Errorf("client user id is required")
	}

	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"user_id": client.UserID},
		clientUpsert(client, time.Now()),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert client %d: %w", client.UserID, err)
	}
	return nil
}

// clientUpsert refreshes the profile and clears the blocked flag. The bot source
// and creation time are only written when the client is created.
func clientUpsert(client *models.Client, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"username":   client.Username,
			"first_name": client.FirstName,
			"last_name":  client.LastName,
			"blocked":    false,
		},
		"$setOnInsert": bson.M{
			"bot_source": client.BotSource,
			"created_at": now,
		},
	}
}
