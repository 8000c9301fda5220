package model

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation status values
const (
	ConversationStatusActive   = "active"
	ConversationStatusArchived = "archived"
)

// Participant roles
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Conversation represents a chat conversation document in MongoDB
type Conversation struct {
	ID              primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	Participants    []Participant        `json:"participants" bson:"participants"`
	ParticipantsKey string               `json:"-" bson:"participants_key"`
	EventID         string               `json:"eventId,omitempty" bson:"event_id,omitempty"`
	Title           string               `json:"title,omitempty" bson:"title,omitempty"`
	Settings        ConversationSettings `json:"settings" bson:"settings"`
	LastMessage     *LastMessage         `json:"lastMessage" bson:"last_message"`
	UnreadCounters  map[string]int64     `json:"unreadCounters" bson:"unread_counters"`
	Status          string               `json:"status" bson:"status"`
	CreatedBy       string               `json:"createdBy" bson:"created_by"`
	CreatedAt       time.Time            `json:"createdAt" bson:"created_at"`
	UpdatedAt       time.Time            `json:"updatedAt" bson:"updated_at"`
}

// Participant represents a user inside a conversation
type Participant struct {
	UserID     string    `json:"userId" bson:"user_id"`
	Role       string    `json:"role" bson:"role"`
	JoinedAt   time.Time `json:"joinedAt" bson:"joined_at"`
	LastReadAt time.Time `json:"lastReadAt" bson:"last_read_at"`
}

// LastMessage stores the most recent non-deleted message preview
type LastMessage struct {
	MessageID string    `json:"messageId,omitempty" bson:"message_id,omitempty"`
	Content   string    `json:"content" bson:"content"`
	SenderID  string    `json:"senderId,omitempty" bson:"sender_id,omitempty"`
	SentAt    time.Time `json:"sentAt" bson:"sent_at"`
}

// ConversationSettings holds conversation-level settings
type ConversationSettings struct {
	AllowFileSharing bool `json:"allowFileSharing" bson:"allow_file_sharing"`
	Notifications    bool `json:"notifications" bson:"notifications"`
}

// DefaultSettings returns the settings applied to newly created conversations.
func DefaultSettings() ConversationSettings {
	return ConversationSettings{AllowFileSharing: true, Notifications: true}
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the user ids of all participants in document order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// UnreadFor returns the cached unread counter for userID.
func (c *Conversation) UnreadFor(userID string) int64 {
	if c.UnreadCounters == nil {
		return 0
	}
	return c.UnreadCounters[userID]
}

// DedupKey builds the uniqueness key for a participant-id set and optional
// event: sorted user ids joined with ":", a "|" separator, then the event id
// (empty when the conversation is not bound to an event). A unique index on
// this key keeps resolution from ever creating duplicate conversations.
func DedupKey(participantIDs []string, eventID string) string {
	ids := make([]string, len(participantIDs))
	copy(ids, participantIDs)
	sort.Strings(ids)
	return strings.Join(ids, ":") + "|" + eventID
}
