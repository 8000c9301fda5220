// Package auth holds the identity token codec and the authorization
// predicates shared by the REST surface and the WebSocket hub. Both
// transports must call these predicates and nothing else; membership rules
// are never re-derived per transport.
package auth

import (
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
)

// CanAccess reports whether the identity may read or write the conversation:
// participants and elevated-role identities only.
func CanAccess(conversation *model.Conversation, identity model.Identity) bool {
	if conversation == nil {
		return false
	}
	if identity.IsElevated() {
		return true
	}
	return conversation.HasParticipant(identity.UserID)
}

// CanAddParticipant reports whether the identity may add a participant.
// Any participant may add; elevated roles get no extra grant here.
func CanAddParticipant(conversation *model.Conversation, identity model.Identity) bool {
	if conversation == nil {
		return false
	}
	return conversation.HasParticipant(identity.UserID)
}

// CanRemoveParticipant reports whether the identity may remove targetUserID.
// Self-removal is the only allowed removal path.
func CanRemoveParticipant(conversation *model.Conversation, identity model.Identity, targetUserID string) bool {
	if conversation == nil {
		return false
	}
	return identity.UserID == targetUserID && conversation.HasParticipant(identity.UserID)
}

// CanModerate reports whether the identity may delete the message: the
// original sender or an elevated role.
func CanModerate(message *model.Message, identity model.Identity) bool {
	if message == nil {
		return false
	}
	return message.SenderID == identity.UserID || identity.IsElevated()
}

// CanEdit reports whether the identity may edit the message. Edits are
// author-only and never allowed for system or deleted messages.
func CanEdit(message *model.Message, identity model.Identity) bool {
	if message == nil || message.IsDeleted() {
		return false
	}
	if message.Type == model.MessageTypeSystem {
		return false
	}
	return message.SenderID == identity.UserID
}
