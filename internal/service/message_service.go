package service

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/apperr"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/auth"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/event"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/repo"
)

// SendRequest holds the inputs for a message create.
type SendRequest struct {
	ConversationID string             `json:"chatId"`
	Content        string             `json:"content"`
	Type           string             `json:"type"`
	ReplyTo        string             `json:"replyTo"`
	Attachments    []model.Attachment `json:"attachments"`
}

// HistoryPage is one chronological slice of a conversation's messages.
type HistoryPage struct {
	Messages []model.Message `json:"messages"`
	Page     int64           `json:"page"`
	Limit    int64           `json:"limit"`
	HasMore  bool            `json:"hasMore"`
}

// MessageService orchestrates the message lifecycle
// (create -> edit* -> delete, plus reactions) and keeps the owning
// conversation's derived state consistent at every transition. Derived-state
// updates for one conversation run under a per-conversation mutex; broadcasts
// are emitted after the store write and never fail it.
type MessageService struct {
	conversations repo.ConversationRepository
	messages      repo.MessageRepository
	chats         *ChatService
	broadcaster   Broadcaster
	locks         *keyedMutex
	logger        *zap.Logger
}

func NewMessageService(
	conversations repo.ConversationRepository,
	messages repo.MessageRepository,
	chats *ChatService,
	broadcaster Broadcaster,
	logger *zap.Logger,
) *MessageService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster()
	}
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		chats:         chats,
		broadcaster:   broadcaster,
		locks:         newKeyedMutex(),
		logger:        logger,
	}
}

// SetBroadcaster wires the fan-out hub after construction.
func (s *MessageService) SetBroadcaster(b Broadcaster) {
	if b != nil {
		s.broadcaster = b
	}
}

// -----------------------------------------------------------------------------
// Send
// -----------------------------------------------------------------------------

// Send creates a message and applies its effects on the conversation: last
// message preview, unread counters for everyone but the sender, then the
// new_message / monitor / unread broadcasts.
func (s *MessageService) Send(ctx context.Context, identity model.Identity, req SendRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperr.Validation("message content cannot be empty")
	}

	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if !model.ValidMessageType(msgType) {
		return nil, apperr.Validation("invalid message type %q", msgType)
	}

	conversation, err := s.chats.Authorized(ctx, identity, req.ConversationID)
	if err != nil {
		return nil, err
	}

	if len(req.Attachments) > 0 && !conversation.Settings.AllowFileSharing {
		return nil, apperr.Validation("file sharing is disabled for this conversation")
	}

	var replyTo *primitive.ObjectID
	if req.ReplyTo != "" {
		ref, err := s.messages.GetByID(ctx, req.ReplyTo)
		if err != nil {
			return nil, apperr.Validation("replyTo message does not exist")
		}
		if ref.ConversationID.Hex() != conversation.ID.Hex() {
			return nil, apperr.Validation("replyTo message belongs to a different conversation")
		}
		id := ref.ID
		replyTo = &id
	}

	unlock := s.locks.Lock(conversation.ID.Hex())
	defer unlock()

	msg := &model.Message{
		ConversationID: conversation.ID,
		SenderID:       identity.UserID,
		Content:        content,
		Type:           msgType,
		ReplyTo:        replyTo,
		Attachments:    req.Attachments,
		CreatedAt:      time.Now().UTC(),
	}

	inserted, err := s.messages.Insert(ctx, msg)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	recipients := make([]string, 0, len(conversation.Participants))
	for _, p := range conversation.Participants {
		if p.UserID != identity.UserID {
			recipients = append(recipients, p.UserID)
		}
	}

	if err := s.conversations.ApplyNewMessage(ctx, conversation.ID.Hex(), inserted.Preview(), recipients); err != nil {
		// The message is durable; the preview/counters converge on the next
		// mutation. Surface the failure anyway so the caller can retry.
		return nil, mapRepoErr(err)
	}

	chatID := conversation.ID.Hex()
	s.broadcaster.ToConversation(chatID, event.New(event.EventNewMessage, event.NewMessagePayload{
		ChatID:  chatID,
		Message: inserted,
	}))
	s.broadcaster.ToMonitors(event.New(event.EventAdminMessageMonitor, event.AdminMonitorPayload{
		ChatID:   chatID,
		SenderID: identity.UserID,
		Message:  inserted,
	}))
	for _, p := range conversation.Participants {
		if p.UserID == identity.UserID {
			continue
		}
		s.broadcaster.ToUser(p.UserID, event.New(event.EventUnreadCountUpdate, event.UnreadCountUpdatePayload{
			ChatID:      chatID,
			UnreadCount: conversation.UnreadFor(p.UserID) + 1,
		}))
	}

	return inserted, nil
}

// -----------------------------------------------------------------------------
// Edit
// -----------------------------------------------------------------------------

// Edit replaces the content of the caller's own message. The pre-edit content
// is snapshotted into originalContent on the first edit only. When the edited
// message is the conversation's current last message, the cached preview is
// refreshed.
func (s *MessageService) Edit(ctx context.Context, identity model.Identity, messageID string, newContent string) (*model.Message, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, apperr.Validation("message content cannot be empty")
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if msg.IsDeleted() {
		return nil, apperr.Conflict("cannot edit a deleted message")
	}
	if !auth.CanEdit(msg, identity) {
		return nil, apperr.Forbidden("only the sender may edit this message")
	}

	chatID := msg.ConversationID.Hex()
	unlock := s.locks.Lock(chatID)
	defer unlock()

	original := ""
	if msg.OriginalContent == "" {
		original = msg.Content
	}

	updated, err := s.messages.ApplyEdit(ctx, messageID, newContent, original, time.Now().UTC())
	if err != nil {
		return nil, mapRepoErr(err)
	}

	if err := s.refreshPreviewAfterEdit(ctx, chatID, updated); err != nil {
		s.logger.Warn("last message preview refresh failed",
			zap.String("conversation_id", chatID),
			zap.Error(err),
		)
	}

	payload := event.MessageEditedPayload{ChatID: chatID, Message: updated}
	s.broadcaster.ToConversation(chatID, event.New(event.EventMessageUpdated, payload))
	s.broadcaster.ToConversation(chatID, event.New(event.EventMessageEdited, payload))

	return updated, nil
}

// refreshPreviewAfterEdit updates the cached preview when the edited message
// is the conversation's newest surviving message. The log, not the cache,
// decides.
func (s *MessageService) refreshPreviewAfterEdit(ctx context.Context, chatID string, edited *model.Message) error {
	newest, err := s.messages.NewestNonDeleted(ctx, chatID)
	if err != nil {
		return err
	}
	if newest == nil || newest.ID != edited.ID {
		return nil
	}
	return s.conversations.SetLastMessage(ctx, chatID, edited.Preview())
}

// -----------------------------------------------------------------------------
// Delete
// -----------------------------------------------------------------------------

// Delete soft-deletes a message; sender or elevated role. Content is retained
// for audit but the message leaves all default views. When the deleted
// message backed the cached preview, the preview is recomputed from the
// newest surviving message, or cleared to an empty placeholder.
func (s *MessageService) Delete(ctx context.Context, identity model.Identity, messageID string) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return mapRepoErr(err)
	}
	if msg.IsDeleted() {
		return apperr.Conflict("message is already deleted")
	}
	if !auth.CanModerate(msg, identity) {
		return apperr.Forbidden("only the sender or an admin may delete this message")
	}

	chatID := msg.ConversationID.Hex()
	unlock := s.locks.Lock(chatID)
	defer unlock()

	if _, err := s.messages.SoftDelete(ctx, messageID, time.Now().UTC()); err != nil {
		return mapRepoErr(err)
	}

	if err := s.recomputeLastMessage(ctx, chatID); err != nil {
		s.logger.Warn("last message recompute failed",
			zap.String("conversation_id", chatID),
			zap.Error(err),
		)
	}

	s.broadcaster.ToConversation(chatID, event.New(event.EventMessageDeleted, event.MessageDeletedPayload{
		ChatID:    chatID,
		MessageID: messageID,
		DeletedBy: identity.UserID,
	}))
	return nil
}

// recomputeLastMessage rebuilds the cached preview from the message log.
func (s *MessageService) recomputeLastMessage(ctx context.Context, chatID string) error {
	newest, err := s.messages.NewestNonDeleted(ctx, chatID)
	if err != nil {
		return err
	}

	preview := &model.LastMessage{}
	if newest != nil {
		preview = newest.Preview()
	}
	return s.conversations.SetLastMessage(ctx, chatID, preview)
}

// -----------------------------------------------------------------------------
// React
// -----------------------------------------------------------------------------

// React upserts the caller's reaction on a message; at most one reaction per
// user per message, last write wins. The store write is guarded against
// soft-deleted messages, so a delete racing the react surfaces as a conflict
// rather than attaching a reaction to a deleted message.
func (s *MessageService) React(ctx context.Context, identity model.Identity, messageID string, emoji string) (*model.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, apperr.Validation("emoji cannot be empty")
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if msg.IsDeleted() {
		return nil, apperr.Conflict("cannot react to a deleted message")
	}

	chatID := msg.ConversationID.Hex()
	if _, err := s.chats.Authorized(ctx, identity, chatID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(chatID)
	defer unlock()

	reaction := model.Reaction{
		UserID:    identity.UserID,
		Emoji:     emoji,
		ReactedAt: time.Now().UTC(),
	}
	updated, err := s.messages.SetReaction(ctx, messageID, reaction)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	s.broadcaster.ToConversation(chatID, event.New(event.EventReactionAdded, event.ReactionAddedPayload{
		ChatID:    chatID,
		MessageID: messageID,
		Reaction:  reaction,
	}))
	return updated, nil
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// History returns one page of non-deleted messages in chronological order.
// Internally the query runs newest-first so page 1 is always the latest
// slice; the page is reversed before returning. HasMore is size-based and can
// over-report by one page when the total is an exact multiple of limit;
// accepted behavior. A successful read by a participant stamps their
// lastReadAt to the time of the call.
func (s *MessageService) History(ctx context.Context, identity model.Identity, chatID string, page, limit int64) (*HistoryPage, error) {
	conversation, err := s.chats.Authorized(ctx, identity, chatID)
	if err != nil {
		return nil, err
	}

	result, err := s.messages.History(ctx, chatID, page, limit)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	// newest-first from the store; chronological for the caller
	msgs := result.Data
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	if conversation.HasParticipant(identity.UserID) {
		if _, err := s.conversations.MarkRead(ctx, chatID, identity.UserID, time.Now().UTC()); err != nil {
			s.logger.Warn("history read-state update failed",
				zap.String("conversation_id", chatID),
				zap.String("user_id", identity.UserID),
				zap.Error(err),
			)
		}
	}

	return &HistoryPage{
		Messages: msgs,
		Page:     result.Page,
		Limit:    result.PageSize,
		HasMore:  result.HasMore,
	}, nil
}
