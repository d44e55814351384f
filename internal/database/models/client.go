package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Client is a Telegram user acquired by one of the bots.
// UserID is zero when the destination chat is unknown.
type Client struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    int64              `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Username  string             `bson:"username,omitempty" json:"username,omitempty"`
	FirstName string             `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName  string             `bson:"last_name,omitempty" json:"last_name,omitempty"`
	BotSource string             `bson:"bot_source,omitempty" json:"bot_source,omitempty"`
	Blocked   bool               `bson:"blocked" json:"blocked"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
