package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BroadcastState is the lifecycle state of a broadcast.
type BroadcastState string

const (
	StateDraft     BroadcastState = "draft"     // Still editable by the operator
	StateQueued    BroadcastState = "queued"    // Requested, waiting for a dispatcher worker
	StateSending   BroadcastState = "sending"   // Fan-out in progress
	StateCompleted BroadcastState = "completed" // Fan-out attempted to completion
)

// MediaKind identifies the type of an attachment.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MediaItem is a file attached to a broadcast.
// Either Path (file on disk) or FileID (already uploaded to Telegram) is set.
type MediaItem struct {
	Kind           MediaKind `bson:"kind" json:"kind"`
	Position       int       `bson:"position" json:"position"`
	Path           string    `bson:"path,omitempty" json:"path,omitempty"`
	FileID         string    `bson:"file_id,omitempty" json:"file_id,omitempty"`
	ChoiceNumber   int       `bson:"choice_number,omitempty" json:"choice_number,omitempty"`     // Voting audio only
	TranscodedPath string    `bson:"transcoded_path,omitempty" json:"transcoded_path,omitempty"` // mp3 form of an audio item
	Caption        string    `bson:"caption,omitempty" json:"caption,omitempty"`
}

// Broadcast is a composed message with its frozen recipient set.
type Broadcast struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Text          string               `bson:"text" json:"text"`
	PostMediaText string               `bson:"post_media_text,omitempty" json:"post_media_text,omitempty"`
	ButtonsJSON   string               `bson:"buttons_json,omitempty" json:"buttons_json,omitempty"`
	Comment       string               `bson:"comment,omitempty" json:"comment,omitempty"`
	Media         []MediaItem          `bson:"media,omitempty" json:"media,omitempty"`
	RecipientIDs  []primitive.ObjectID `bson:"recipient_ids" json:"recipient_ids"`
	Sent          bool                 `bson:"sent" json:"sent"`
	State         BroadcastState       `bson:"state" json:"state"`
	RunID         string               `bson:"run_id,omitempty" json:"run_id,omitempty"`
	CreatedAt     time.Time            `bson:"created_at" json:"created_at"`
	StartedAt     time.Time            `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt   time.Time            `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}
