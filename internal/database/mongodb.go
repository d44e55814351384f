package database

import (
	"context"
	"fmt"
	"time"

	"tg-crm/config"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	broadcastCollectionName = "broadcasts"
	clientCollectionName    = "clients"
	deliveryCollectionName  = "deliveries"
)

// ConnectDB establishes a connection to the MongoDB database using the provided configuration.
// It returns the MongoDB client, database object, and an error if connection fails.
func ConnectDB(ctx context.Context, cfg *config.Config) (*mongo.Client, *mongo.Database, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(cfg.MongoDBURI).SetServerAPIOptions(serverAPI)

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Send a ping to confirm a successful connection
	var result bson.M
	if err := client.Database("admin").RunCommand(connectCtx, bson.D{{Key: "ping", Value: 1}}).Decode(&result); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	log.Info().Str("database", cfg.MongoDBDatabase).Msg("connected to MongoDB")

	return client, client.Database(cfg.MongoDBDatabase), nil
}

// EnsureIndexes creates the indexes the engine relies on.
// The unique (message_id, recipient_id) index is what makes ledger upserts idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(deliveryCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "recipient_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("message_recipient_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create deliveries index: %w", err)
	}

	_, err = db.Collection(clientCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_id_unique").
			SetPartialFilterExpression(bson.M{"user_id": bson.M{"$gt": 0}}),
	})
	if err != nil {
		return fmt.Errorf("failed to create clients index: %w", err)
	}

	_, err = db.Collection(broadcastCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create broadcasts index: %w", err)
	}
	return nil
}
