package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message types
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// ValidMessageType reports whether t is one of the fixed message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// Message represents a chat message document in MongoDB. Messages are never
// physically removed; delete sets DeletedAt and excludes the document from
// default reads.
type Message struct {
	ID              primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	ConversationID  primitive.ObjectID  `json:"conversationId" bson:"conversation_id"`
	SenderID        string              `json:"senderId" bson:"sender_id"`
	Content         string              `json:"content" bson:"content"`
	Type            string              `json:"type" bson:"type"`
	ReplyTo         *primitive.ObjectID `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
	Attachments     []Attachment        `json:"attachments,omitempty" bson:"attachments,omitempty"`
	Reactions       []Reaction          `json:"reactions,omitempty" bson:"reactions,omitempty"`
	CreatedAt       time.Time           `json:"createdAt" bson:"created_at"`
	EditedAt        *time.Time          `json:"editedAt,omitempty" bson:"edited_at,omitempty"`
	OriginalContent string              `json:"originalContent,omitempty" bson:"original_content,omitempty"`
	DeletedAt       *time.Time          `json:"deletedAt,omitempty" bson:"deleted_at,omitempty"`
}

// Attachment describes a file attached to a message
type Attachment struct {
	ID   string `json:"id" bson:"id"`
	URL  string `json:"url" bson:"url"`
	Name string `json:"name" bson:"name"`
	Type string `json:"type" bson:"type"`
	Size int64  `json:"size" bson:"size"`
}

// Reaction represents one user's reaction on a message. A user holds at most
// one reaction per message; a new reaction replaces the previous one.
type Reaction struct {
	UserID    string    `json:"userId" bson:"user_id"`
	Emoji     string    `json:"emoji" bson:"emoji"`
	ReactedAt time.Time `json:"reactedAt" bson:"reacted_at"`
}

// IsDeleted reports whether the message has been soft-deleted.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Preview returns the LastMessage summary for this message.
func (m *Message) Preview() *LastMessage {
	return &LastMessage{
		MessageID: m.ID.Hex(),
		Content:   m.Content,
		SenderID:  m.SenderID,
		SentAt:    m.CreatedAt,
	}
}
