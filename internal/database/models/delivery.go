package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeliveryStatus is the outcome of delivering a broadcast to one recipient.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is the ledger entry for a (message, recipient) pair.
type Delivery struct {
	MessageID   primitive.ObjectID `bson:"message_id" json:"message_id"`
	RecipientID primitive.ObjectID `bson:"recipient_id" json:"recipient_id"`
	Status      DeliveryStatus     `bson:"status" json:"status"`
	ErrorText   string             `bson:"error_text,omitempty" json:"error_text,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// StatusCounts aggregates ledger entries of one message.
type StatusCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
