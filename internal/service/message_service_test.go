package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/apperr"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/event"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/repo"
)

func setupConversation(t *testing.T, f *fixture, caller string, others ...string) string {
	t.Helper()

	inputs := make([]ParticipantInput, 0, len(others))
	for _, id := range others {
		inputs = append(inputs, ParticipantInput{UserID: id})
	}
	conv, err := f.chats.Resolve(context.Background(), member(caller), ResolveRequest{Participants: inputs})
	require.NoError(t, err)
	return conv.ID.Hex()
}

func TestSendUpdatesDerivedState(t *testing.T) {
	f := newFixture([]string{"alice", "bob", "carol"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob", "carol")

	msg, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "  hello  "})
	require.NoError(t, err)

	assert.Equal(t, "hello", msg.Content, "content is trimmed")
	assert.Equal(t, model.MessageTypeText, msg.Type, "type defaults to text")
	assert.Equal(t, "alice", msg.SenderID)
	assert.False(t, msg.CreatedAt.IsZero())

	conv := f.mustGet(t, id)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, msg.ID.Hex(), conv.LastMessage.MessageID)
	assert.Equal(t, "hello", conv.LastMessage.Content)
	assert.Equal(t, "alice", conv.LastMessage.SenderID)

	assert.Equal(t, int64(0), conv.UnreadFor("alice"), "sender never counts their own message")
	assert.Equal(t, int64(1), conv.UnreadFor("bob"))
	assert.Equal(t, int64(1), conv.UnreadFor("carol"))
}

func TestSendBroadcasts(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	_, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "hi"})
	require.NoError(t, err)

	assert.Contains(t, f.broadcaster.eventsFor("chat:"+id), event.EventNewMessage)
	assert.Contains(t, f.broadcaster.eventsFor("monitor"), event.EventAdminMessageMonitor)
	assert.Contains(t, f.broadcaster.eventsFor("user:bob"), event.EventUnreadCountUpdate)
	assert.Empty(t, f.broadcaster.eventsFor("user:alice"), "no unread push to the sender")
}

func TestSendValidation(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	_, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "   "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "x", Type: "voice"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.msgs.Send(ctx, member("mallory"), SendRequest{ConversationID: id, Content: "hi"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.msgs.Send(ctx, member("alice"), SendRequest{
		ConversationID: id,
		Content:        "see attached",
		ReplyTo:        "ffffffffffffffffffffffff",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSendAttachmentsGatedBySettings(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	attachment := model.Attachment{ID: "att-1", Name: "venue.pdf", Type: "application/pdf", URL: "https://cdn/venue.pdf", Size: 2048}

	_, err := f.msgs.Send(ctx, member("alice"), SendRequest{
		ConversationID: id,
		Content:        "floor plan",
		Type:           model.MessageTypeFile,
		Attachments:    []model.Attachment{attachment},
	})
	require.NoError(t, err)

	settings := model.ConversationSettings{AllowFileSharing: false, Notifications: true}
	_, err = f.chats.UpdateSettings(ctx, member("alice"), id, nil, &settings)
	require.NoError(t, err)

	_, err = f.msgs.Send(ctx, member("alice"), SendRequest{
		ConversationID: id,
		Content:        "another one",
		Type:           model.MessageTypeFile,
		Attachments:    []model.Attachment{attachment},
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestReplyToCrossConversationRejected(t *testing.T) {
	f := newFixture([]string{"alice", "bob", "carol"})
	ctx := context.Background()
	first := setupConversation(t, f, "alice", "bob")
	second := setupConversation(t, f, "alice", "carol")

	msg, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: first, Content: "original"})
	require.NoError(t, err)

	_, err = f.msgs.Send(ctx, member("alice"), SendRequest{
		ConversationID: second,
		Content:        "replying across rooms",
		ReplyTo:        msg.ID.Hex(),
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	reply, err := f.msgs.Send(ctx, member("bob"), SendRequest{
		ConversationID: first,
		Content:        "replying in place",
		ReplyTo:        msg.ID.Hex(),
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, msg.ID, *reply.ReplyTo)
}

func TestEditSnapshotsOriginalOnce(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	msg, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "first"})
	require.NoError(t, err)

	edited, err := f.msgs.Edit(ctx, member("alice"), msg.ID.Hex(), "second")
	require.NoError(t, err)
	assert.Equal(t, "second", edited.Content)
	assert.Equal(t, "first", edited.OriginalContent)
	require.NotNil(t, edited.EditedAt)

	edited, err = f.msgs.Edit(ctx, member("alice"), msg.ID.Hex(), "third")
	require.NoError(t, err)
	assert.Equal(t, "third", edited.Content)
	assert.Equal(t, "first", edited.OriginalContent, "snapshot survives repeated edits")

	conv := f.mustGet(t, id)
	assert.Equal(t, "third", conv.LastMessage.Content, "editing the last message refreshes the preview")
}

func TestEditOnlyBySender(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	msg, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "mine"})
	require.NoError(t, err)

	_, err = f.msgs.Edit(ctx, member("bob"), msg.ID.Hex(), "hijacked")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// elevated roles may delete but never edit someone else's words
	_, err = f.msgs.Edit(ctx, admin("ops"), msg.ID.Hex(), "hijacked")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestEditOlderMessageKeepsPreview(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	older, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "older"})
	require.NoError(t, err)
	newer, err := f.msgs.Send(ctx, member("bob"), SendRequest{ConversationID: id, Content: "newer"})
	require.NoError(t, err)

	_, err = f.msgs.Edit(ctx, member("alice"), older.ID.Hex(), "older, revised")
	require.NoError(t, err)

	conv := f.mustGet(t, id)
	assert.Equal(t, newer.ID.Hex(), conv.LastMessage.MessageID)
	assert.Equal(t, "newer", conv.LastMessage.Content)
}

func TestDeleteRecomputesLastMessage(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	first, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "first"})
	require.NoError(t, err)
	second, err := f.msgs.Send(ctx, member("bob"), SendRequest{ConversationID: id, Content: "second"})
	require.NoError(t, err)

	require.NoError(t, f.msgs.Delete(ctx, member("bob"), second.ID.Hex()))

	conv := f.mustGet(t, id)
	assert.Equal(t, first.ID.Hex(), conv.LastMessage.MessageID, "preview falls back to the newest surviving message")
	assert.Contains(t, f.broadcaster.eventsFor("chat:"+id), event.EventMessageDeleted)

	stored, err := f.messages.GetByID(ctx, second.ID.Hex())
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())
	assert.Equal(t, "second", stored.Content, "content retained for audit")

	require.NoError(t, f.msgs.Delete(ctx, member("alice"), first.ID.Hex()))
	conv = f.mustGet(t, id)
	require.NotNil(t, conv.LastMessage)
	assert.Empty(t, conv.LastMessage.Content, "no survivors leaves an empty placeholder")
	assert.Empty(t, conv.LastMessage.MessageID)
}

func TestDeletePermissionsAndConflicts(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	msg, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "target"})
	require.NoError(t, err)

	err = f.msgs.Delete(ctx, member("bob"), msg.ID.Hex())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// moderators can remove anyone's message
	require.NoError(t, f.msgs.Delete(ctx, admin("ops"), msg.ID.Hex()))

	err = f.msgs.Delete(ctx, admin("ops"), msg.ID.Hex())
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.msgs.Edit(ctx, member("alice"), msg.ID.Hex(), "too late")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.msgs.React(ctx, member("alice"), msg.ID.Hex(), "+1")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestReactLastWritePerUserWins(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	msg, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "react to me"})
	require.NoError(t, err)

	_, err = f.msgs.React(ctx, member("bob"), msg.ID.Hex(), "+1")
	require.NoError(t, err)
	_, err = f.msgs.React(ctx, member("alice"), msg.ID.Hex(), "tada")
	require.NoError(t, err)

	updated, err := f.msgs.React(ctx, member("bob"), msg.ID.Hex(), "heart")
	require.NoError(t, err)

	require.Len(t, updated.Reactions, 2, "one reaction per user")
	byUser := make(map[string]string, len(updated.Reactions))
	for _, r := range updated.Reactions {
		byUser[r.UserID] = r.Emoji
	}
	assert.Equal(t, "heart", byUser["bob"])
	assert.Equal(t, "tada", byUser["alice"])

	_, err = f.msgs.React(ctx, member("mallory"), msg.ID.Hex(), "+1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

// deletingMessageRepo soft-deletes the message right before the reaction
// write lands, interleaving a delete between the service's liveness check and
// the store update.
type deletingMessageRepo struct {
	repo.MessageRepository
}

func (r *deletingMessageRepo) SetReaction(ctx context.Context, id string, reaction model.Reaction) (*model.Message, error) {
	if _, err := r.MessageRepository.SoftDelete(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	return r.MessageRepository.SetReaction(ctx, id, reaction)
}

func TestReactLosesRaceAgainstDelete(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	msg, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "going away"})
	require.NoError(t, err)

	racing := NewMessageService(
		f.conversations,
		&deletingMessageRepo{MessageRepository: f.messages},
		f.chats,
		f.broadcaster,
		zap.NewNop(),
	)

	_, err = racing.React(ctx, member("bob"), msg.ID.Hex(), "+1")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	stored, err := f.messages.GetByID(ctx, msg.ID.Hex())
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())
	assert.Empty(t, stored.Reactions, "no reaction may land on a deleted message")
}

func TestHistoryChronologicalPages(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	for i := 1; i <= 5; i++ {
		_, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	latest, err := f.msgs.History(ctx, member("bob"), id, 1, 2)
	require.NoError(t, err)
	require.Len(t, latest.Messages, 2)
	assert.Equal(t, "m4", latest.Messages[0].Content)
	assert.Equal(t, "m5", latest.Messages[1].Content)
	assert.True(t, latest.HasMore)

	middle, err := f.msgs.History(ctx, member("bob"), id, 2, 2)
	require.NoError(t, err)
	require.Len(t, middle.Messages, 2)
	assert.Equal(t, "m2", middle.Messages[0].Content)
	assert.Equal(t, "m3", middle.Messages[1].Content)

	oldest, err := f.msgs.History(ctx, member("bob"), id, 3, 2)
	require.NoError(t, err)
	require.Len(t, oldest.Messages, 1)
	assert.Equal(t, "m1", oldest.Messages[0].Content)
	assert.False(t, oldest.HasMore)
}

func TestHistoryHidesDeletedAndStampsReadState(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	kept, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "kept"})
	require.NoError(t, err)
	gone, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: "gone"})
	require.NoError(t, err)
	require.NoError(t, f.msgs.Delete(ctx, member("alice"), gone.ID.Hex()))

	page, err := f.msgs.History(ctx, member("bob"), id, 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, kept.ID, page.Messages[0].ID)

	conv := f.mustGet(t, id)
	assert.Equal(t, int64(0), conv.UnreadFor("bob"), "reading history counts as catching up")
	for _, p := range conv.Participants {
		if p.UserID == "bob" {
			assert.False(t, p.LastReadAt.IsZero())
		}
	}

	_, err = f.msgs.History(ctx, member("mallory"), id, 1, 50)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// an elevated reader outside the conversation leaves read state alone
	before := f.mustGet(t, id)
	_, err = f.msgs.History(ctx, admin("ops"), id, 1, 50)
	require.NoError(t, err)
	after := f.mustGet(t, id)
	assert.Equal(t, before.UnreadCounters, after.UnreadCounters)
}

// The end-to-end shape of a two-party exchange: counters, read stamps, edit
// and delete effects all flowing through one conversation.
func TestTwoPartyExchangeScenario(t *testing.T) {
	f := newFixture([]string{"alice", "bob"})
	ctx := context.Background()
	id := setupConversation(t, f, "alice", "bob")

	for _, content := range []string{"hey", "are you around?"} {
		_, err := f.msgs.Send(ctx, member("alice"), SendRequest{ConversationID: id, Content: content})
		require.NoError(t, err)
	}

	conv := f.mustGet(t, id)
	assert.Equal(t, int64(2), conv.UnreadFor("bob"))
	assert.Equal(t, int64(0), conv.UnreadFor("alice"))

	_, err := f.msgs.History(ctx, member("bob"), id, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.mustGet(t, id).UnreadFor("bob"))

	reply, err := f.msgs.Send(ctx, member("bob"), SendRequest{ConversationID: id, Content: "yes, what's up"})
	require.NoError(t, err)
	conv = f.mustGet(t, id)
	assert.Equal(t, int64(1), conv.UnreadFor("alice"))
	assert.Equal(t, reply.ID.Hex(), conv.LastMessage.MessageID)

	_, err = f.msgs.Edit(ctx, member("bob"), reply.ID.Hex(), "yes, what's up?")
	require.NoError(t, err)
	assert.Equal(t, "yes, what's up?", f.mustGet(t, id).LastMessage.Content)

	require.NoError(t, f.msgs.Delete(ctx, member("bob"), reply.ID.Hex()))
	conv = f.mustGet(t, id)
	assert.Equal(t, "are you around?", conv.LastMessage.Content)
}
