package event

import (
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
)

// Chat Event Types - Client to Server
const (
	// EventJoinChat - join a conversation room
	EventJoinChat = "join_chat"

	// EventLeaveChat - leave a conversation room
	EventLeaveChat = "leave_chat"

	// EventSendMessage - send a message into a conversation
	EventSendMessage = "send_message"

	// EventTypingStart / EventTypingStop - ephemeral typing indicators
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"

	// EventAddReaction - react to a message
	EventAddReaction = "add_reaction"

	// EventEditMessage - edit an own message
	EventEditMessage = "edit_message"

	// EventDeleteMessage - soft-delete a message
	EventDeleteMessage = "delete_message"
)

// Chat Event Types - Server to Client
const (
	// EventChatJoined / EventChatLeft - room membership acknowledgements
	EventChatJoined = "chat_joined"
	EventChatLeft   = "chat_left"

	// EventNewMessage - a message was created in a joined conversation
	EventNewMessage = "new_message"

	// EventMessageUpdated / EventMessageEdited - a message's content changed.
	// Both names are emitted for the same mutation; clients may listen to
	// either.
	EventMessageUpdated = "message_updated"
	EventMessageEdited  = "message_edited"

	// EventMessageDeleted - a message was soft-deleted
	EventMessageDeleted = "message_deleted"

	// EventReactionAdded - a reaction was set on a message
	EventReactionAdded = "reaction_added"

	// EventUnreadCountUpdate - targeted unread counter refresh on the
	// recipient's personal room
	EventUnreadCountUpdate = "unread_count_update"

	// EventUserTyping / EventUserStoppedTyping - relayed typing indicators
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"

	// EventAdminMessageMonitor - elevated-role-only mirror of every new
	// message, emitted to the monitoring room
	EventAdminMessageMonitor = "admin_message_monitor"

	// EventError - scoped error, never disconnects the session
	EventError = "error"
)

// -----------------------------------------------------------------
// Client to server payloads
// -----------------------------------------------------------------

type JoinChatPayload struct {
	ChatID string `json:"chatId"`
}

type LeaveChatPayload struct {
	ChatID string `json:"chatId"`
}

type SendMessagePayload struct {
	ChatID      string             `json:"chatId"`
	Content     string             `json:"content"`
	Type        string             `json:"type,omitempty"`
	ReplyTo     string             `json:"replyTo,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

type TypingPayload struct {
	ChatID string `json:"chatId"`
}

type AddReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type EditMessagePayload struct {
	MessageID  string `json:"messageId"`
	NewContent string `json:"newContent"`
}

type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

// -----------------------------------------------------------------
// Server to client payloads
// -----------------------------------------------------------------

type ChatJoinedPayload struct {
	ChatID string `json:"chatId"`
}

type ChatLeftPayload struct {
	ChatID string `json:"chatId"`
}

// NewMessagePayload carries the full message so clients can update their
// local view without a re-fetch.
type NewMessagePayload struct {
	ChatID  string         `json:"chatId"`
	Message *model.Message `json:"message"`
}

type MessageEditedPayload struct {
	ChatID  string         `json:"chatId"`
	Message *model.Message `json:"message"`
}

type MessageDeletedPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	DeletedBy string `json:"deletedBy"`
}

type ReactionAddedPayload struct {
	ChatID    string         `json:"chatId"`
	MessageID string         `json:"messageId"`
	Reaction  model.Reaction `json:"reaction"`
}

type UnreadCountUpdatePayload struct {
	ChatID      string `json:"chatId"`
	UnreadCount int64  `json:"unreadCount"`
}

type UserTypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// AdminMonitorPayload mirrors a new message to the monitoring room.
type AdminMonitorPayload struct {
	ChatID   string         `json:"chatId"`
	SenderID string         `json:"senderId"`
	Message  *model.Message `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
