package database

import (
	"context"

	"tg-crm/internal/database/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BroadcastRepository stores composed broadcasts and their lifecycle state.
type BroadcastRepository interface {
	// CreateBroadcast stores a new draft and assigns its ID.
	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	// GetBroadcast returns ErrBroadcastNotFound if no broadcast has the given ID.
	GetBroadcast(ctx context.Context, id primitive.ObjectID) (*models.Broadcast, error)
	// TransitionState atomically moves the broadcast to state `to` if its current state is one of `from`.
	// It reports false when the broadcast exists but is in another state.
	TransitionState(ctx context.Context, id primitive.ObjectID, from []models.BroadcastState, to models.BroadcastState, runID string) (bool, error)
	// MarkSent flips the sent flag once a fan-out has been attempted to completion.
	MarkSent(ctx context.Context, id primitive.ObjectID) error
	// ListByState returns up to limit broadcasts in the given state, oldest first.
	ListByState(ctx context.Context, state models.BroadcastState, limit int) ([]models.Broadcast, error)
}

// ClientRepository stores bot clients (broadcast recipients).
type ClientRepository interface {
	// GetClients returns the clients with the given IDs in storage order.
	GetClients(ctx context.Context, ids []primitive.ObjectID) ([]models.Client, error)
	// MarkBlocked records that the client blocked the bot.
	MarkBlocked(ctx context.Context, id primitive.ObjectID) error
	// UpsertClient creates the client on first interaction or refreshes its profile.
	UpsertClient(ctx context.Context, client *models.Client) error
}

// DeliveryLedger persists one delivery record per (message, recipient) pair.
type DeliveryLedger interface {
	// Upsert creates or updates the record for the pair. Calling it twice never creates a second record.
	Upsert(ctx context.Context, messageID, recipientID primitive.ObjectID, status models.DeliveryStatus, errorText string) (*models.Delivery, error)
	CountByStatus(ctx context.Context, messageID primitive.ObjectID) (models.StatusCounts, error)
	ListByMessage(ctx context.Context, messageID primitive.ObjectID) ([]models.Delivery, error)
}
