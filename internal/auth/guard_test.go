package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
)

func conversationWith(userIDs ...string) *model.Conversation {
	participants := make([]model.Participant, 0, len(userIDs))
	for _, id := range userIDs {
		participants = append(participants, model.Participant{UserID: id, Role: model.RoleMember})
	}
	return &model.Conversation{Participants: participants, Status: model.ConversationStatusActive}
}

func TestCanAccess(t *testing.T) {
	conv := conversationWith("alice", "bob")

	assert.True(t, CanAccess(conv, model.Identity{UserID: "alice", Role: model.RoleMember}))
	assert.False(t, CanAccess(conv, model.Identity{UserID: "mallory", Role: model.RoleMember}))
	assert.True(t, CanAccess(conv, model.Identity{UserID: "ops", Role: model.RoleAdmin}))
	assert.False(t, CanAccess(nil, model.Identity{UserID: "ops", Role: model.RoleAdmin}))
}

func TestCanAddParticipant(t *testing.T) {
	conv := conversationWith("alice")

	assert.True(t, CanAddParticipant(conv, model.Identity{UserID: "alice", Role: model.RoleMember}))
	assert.False(t, CanAddParticipant(conv, model.Identity{UserID: "bob", Role: model.RoleMember}))
	// elevation grants read access, not membership powers
	assert.False(t, CanAddParticipant(conv, model.Identity{UserID: "ops", Role: model.RoleAdmin}))
	assert.False(t, CanAddParticipant(nil, model.Identity{UserID: "alice", Role: model.RoleMember}))
}

func TestCanRemoveParticipantSelfOnly(t *testing.T) {
	conv := conversationWith("alice", "bob")

	assert.True(t, CanRemoveParticipant(conv, model.Identity{UserID: "alice", Role: model.RoleMember}, "alice"))
	assert.False(t, CanRemoveParticipant(conv, model.Identity{UserID: "alice", Role: model.RoleMember}, "bob"))
	assert.False(t, CanRemoveParticipant(conv, model.Identity{UserID: "ops", Role: model.RoleAdmin}, "bob"))
	assert.False(t, CanRemoveParticipant(conv, model.Identity{UserID: "mallory", Role: model.RoleMember}, "mallory"))
}

func TestCanModerate(t *testing.T) {
	msg := &model.Message{SenderID: "alice", Type: model.MessageTypeText}

	assert.True(t, CanModerate(msg, model.Identity{UserID: "alice", Role: model.RoleMember}))
	assert.False(t, CanModerate(msg, model.Identity{UserID: "bob", Role: model.RoleMember}))
	assert.True(t, CanModerate(msg, model.Identity{UserID: "ops", Role: model.RoleAdmin}))
	assert.False(t, CanModerate(nil, model.Identity{UserID: "ops", Role: model.RoleAdmin}))
}

func TestCanEdit(t *testing.T) {
	msg := &model.Message{SenderID: "alice", Type: model.MessageTypeText}

	assert.True(t, CanEdit(msg, model.Identity{UserID: "alice", Role: model.RoleMember}))
	assert.False(t, CanEdit(msg, model.Identity{UserID: "bob", Role: model.RoleMember}))
	assert.False(t, CanEdit(msg, model.Identity{UserID: "ops", Role: model.RoleAdmin}), "moderation does not include rewriting")

	system := &model.Message{SenderID: "alice", Type: model.MessageTypeSystem}
	assert.False(t, CanEdit(system, model.Identity{UserID: "alice", Role: model.RoleMember}))

	now := time.Now()
	deleted := &model.Message{SenderID: "alice", Type: model.MessageTypeText, DeletedAt: &now}
	assert.False(t, CanEdit(deleted, model.Identity{UserID: "alice", Role: model.RoleMember}))

	assert.False(t, CanEdit(nil, model.Identity{UserID: "alice", Role: model.RoleMember}))
}
