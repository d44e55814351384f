package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tg-crm/internal/database/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBroadcastRepository implements BroadcastRepository for MongoDB.
type MongoBroadcastRepository struct {
	collection *mongo.Collection
}

// NewMongoBroadcastRepository creates a new MongoDB broadcast repository.
func NewMongoBroadcastRepository(db *mongo.Database) *MongoBroadcastRepository {
	return &MongoBroadcastRepository{
		collection: db.Collection(broadcastCollectionName),
	}
}

// CreateBroadcast stores a new draft broadcast.
func (r *MongoBroadcastRepository) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	if b.State == "" {
		b.State = models.StateDraft
	}
	b.CreatedAt = time.Now()

	if _, err := r.collection.InsertOne(ctx, b); err != nil {
		return fmt.Errorf("failed to insert broadcast: %w", err)
	}
	return nil
}

// GetBroadcast retrieves a single broadcast by its ObjectID.
func (r *MongoBroadcastRepository) GetBroadcast(ctx context.Context, id primitive.ObjectID) (*models.Broadcast, error) {
	var b models.Broadcast
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBroadcastNotFound
		}
		return nil, fmt.Errorf("failed to find broadcast %s: %w", id.Hex(), err)
	}
	return &b, nil
}

// TransitionState moves the broadcast between lifecycle states with a single conditional update,
// so two orchestrator instances cannot both enter the same state.
func (r *MongoBroadcastRepository) TransitionState(ctx context.Context, id primitive.ObjectID, from []models.BroadcastState, to models.BroadcastState, runID string) (bool, error) {
	now := time.Now()
	set := bson.M{"state": to}
	switch to {
	case models.StateSending:
		set["run_id"] = runID
		set["started_at"] = now
	case models.StateCompleted:
		set["completed_at"] = now
	}

	filter := bson.M{"_id": id, "state": bson.M{"$in": from}}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to move broadcast %s to %s: %w", id.Hex(), to, err)
	}
	if result.MatchedCount == 1 {
		return true, nil
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to check broadcast %s: %w", id.Hex(), err)
	}
	if n == 0 {
		return false, ErrBroadcastNotFound
	}
	return false, nil
}

// MarkSent sets the sent flag of the broadcast.
func (r *MongoBroadcastRepository) MarkSent(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"sent": true}})
	if err != nil {
		return fmt.Errorf("failed to mark broadcast %s as sent: %w", id.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return ErrBroadcastNotFound
	}
	return nil
}

// ListByState retrieves broadcasts in the given state, oldest first.
func (r *MongoBroadcastRepository) ListByState(ctx context.Context, state models.BroadcastState, limit int) ([]models.Broadcast, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"state": state}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s broadcasts: %w", state, err)
	}
	defer cursor.Close(ctx)

	var broadcasts []models.Broadcast
	if err = cursor.All(ctx, &broadcasts); err != nil {
		return nil, fmt.Errorf("failed to decode %s broadcasts: %w", state, err)
	}
	return broadcasts, nil
}
