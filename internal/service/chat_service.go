package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/apperr"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/auth"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/db"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/event"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/repo"
)

// ParticipantInput is one requested participant in a resolve call.
type ParticipantInput struct {
	UserID string `json:"userId" binding:"required"`
	Role   string `json:"role"`
}

// ResolveRequest describes the conversation a caller wants to reach.
type ResolveRequest struct {
	Participants []ParticipantInput `json:"participants" binding:"required"`
	EventID      string             `json:"eventId"`
	Title        string             `json:"title"`
}

// ConversationView is a conversation annotated with the caller's unread count.
type ConversationView struct {
	*model.Conversation
	UnreadCount int64 `json:"unreadCount"`
}

// ChatService owns conversation resolution and all conversation-level
// mutations. Message lifecycle lives in MessageService; both share the same
// guard predicates and the same stores.
type ChatService struct {
	conversations repo.ConversationRepository
	users         repo.UserDirectory
	events        repo.EventDirectory
	broadcaster   Broadcaster
	logger        *zap.Logger
}

func NewChatService(
	conversations repo.ConversationRepository,
	users repo.UserDirectory,
	events repo.EventDirectory,
	broadcaster Broadcaster,
	logger *zap.Logger,
) *ChatService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster()
	}
	return &ChatService{
		conversations: conversations,
		users:         users,
		events:        events,
		broadcaster:   broadcaster,
		logger:        logger,
	}
}

// SetBroadcaster wires the fan-out hub after construction. The hub needs the
// services to handle socket events, so the container builds services first.
func (s *ChatService) SetBroadcaster(b Broadcaster) {
	if b != nil {
		s.broadcaster = b
	}
}

// -----------------------------------------------------------------------------
// Resolution
// -----------------------------------------------------------------------------

// Resolve finds or creates the one active conversation for the normalized
// participant set and optional event. Safe under concurrent identical
// requests: a duplicate-key insert failure is retried as a lookup.
func (s *ChatService) Resolve(ctx context.Context, identity model.Identity, req ResolveRequest) (*model.Conversation, error) {
	participants, err := s.normalizeParticipants(identity, req.Participants)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}

	if err := s.validateParticipants(ctx, ids); err != nil {
		return nil, err
	}
	if req.EventID != "" {
		exists, err := s.events.EventExists(ctx, req.EventID)
		if err != nil {
			return nil, apperr.Transient(err, "event lookup unavailable")
		}
		if !exists {
			return nil, apperr.Validation("event %s does not exist", req.EventID)
		}
	}

	key := model.DedupKey(ids, req.EventID)

	existing, err := s.conversations.FindByKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrConversationNotFound) {
		return nil, apperr.Transient(err, "conversation lookup failed")
	}

	now := time.Now().UTC()
	counters := make(map[string]int64, len(participants))
	for _, p := range participants {
		counters[p.UserID] = 0
	}

	conversation := &model.Conversation{
		Participants:    participants,
		ParticipantsKey: key,
		EventID:         req.EventID,
		Title:           strings.TrimSpace(req.Title),
		Settings:        model.DefaultSettings(),
		LastMessage:     &model.LastMessage{},
		UnreadCounters:  counters,
		Status:          model.ConversationStatusActive,
		CreatedBy:       identity.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.conversations.Create(ctx, conversation)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, repo.ErrDuplicateConversation) {
		return nil, apperr.Transient(err, "conversation create failed")
	}

	// Lost the create race; the winner's document is what we wanted anyway.
	existing, err = s.conversations.FindByKey(ctx, key)
	if err != nil {
		return nil, apperr.Transient(err, "conversation lookup after conflict failed")
	}
	return existing, nil
}

func (s *ChatService) normalizeParticipants(identity model.Identity, inputs []ParticipantInput) ([]model.Participant, error) {
	if len(inputs) == 0 {
		return nil, apperr.Validation("participants list cannot be empty")
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(inputs)+1)
	participants := make([]model.Participant, 0, len(inputs)+1)

	for _, in := range inputs {
		userID := strings.TrimSpace(in.UserID)
		if userID == "" {
			return nil, apperr.Validation("participant userId cannot be empty")
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		role := in.Role
		if role == "" {
			role = model.RoleMember
		}
		participants = append(participants, model.Participant{
			UserID:   userID,
			Role:     role,
			JoinedAt: now,
			// zero LastReadAt: everything ever sent starts unread
		})
	}

	if _, ok := seen[identity.UserID]; !ok {
		participants = append(participants, model.Participant{
			UserID:   identity.UserID,
			Role:     identity.Role,
			JoinedAt: now,
		})
	}

	return participants, nil
}

func (s *ChatService) validateParticipants(ctx context.Context, ids []string) error {
	active, err := s.users.FindActiveUsers(ctx, ids)
	if err != nil {
		return apperr.Transient(err, "user lookup unavailable")
	}

	var missing []string
	for _, id := range ids {
		if _, ok := active[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("unknown or inactive participants: %s", strings.Join(missing, ", "))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Get returns the conversation annotated with the caller's unread count.
func (s *ChatService) Get(ctx context.Context, identity model.Identity, id string) (*ConversationView, error) {
	conversation, err := s.authorized(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	return &ConversationView{
		Conversation: conversation,
		UnreadCount:  conversation.UnreadFor(identity.UserID),
	}, nil
}

// List returns the caller's conversations, newest activity first.
func (s *ChatService) List(ctx context.Context, identity model.Identity, filter repo.ConversationFilter) (*db.Page[ConversationView], error) {
	page, err := s.conversations.ListForUser(ctx, identity.UserID, filter)
	if err != nil {
		return nil, apperr.Transient(err, "conversation listing failed")
	}
	return annotate(page, identity.UserID), nil
}

// ListAll returns every conversation on the platform; elevated roles only.
func (s *ChatService) ListAll(ctx context.Context, identity model.Identity, filter repo.ConversationFilter) (*db.Page[ConversationView], error) {
	if !identity.IsElevated() {
		return nil, apperr.Forbidden("admin access required")
	}

	page, err := s.conversations.ListAll(ctx, filter)
	if err != nil {
		return nil, apperr.Transient(err, "conversation listing failed")
	}
	return annotate(page, identity.UserID), nil
}

func annotate(page *db.Page[model.Conversation], userID string) *db.Page[ConversationView] {
	views := make([]ConversationView, 0, len(page.Data))
	for i := range page.Data {
		c := page.Data[i]
		views = append(views, ConversationView{
			Conversation: &c,
			UnreadCount:  c.UnreadFor(userID),
		})
	}
	return &db.Page[ConversationView]{
		Data:     views,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	}
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// UpdateSettings patches the title and/or settings; participants only.
func (s *ChatService) UpdateSettings(ctx context.Context, identity model.Identity, id string, title *string, settings *model.ConversationSettings) (*model.Conversation, error) {
	conversation, err := s.authorized(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(identity.UserID) {
		return nil, apperr.Forbidden("only participants may update conversation settings")
	}
	if title == nil && settings == nil {
		return nil, apperr.Validation("nothing to update")
	}

	updated, err := s.conversations.UpdateSettings(ctx, id, title, settings)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return updated, nil
}

// AddParticipant appends a user to the conversation. Any participant may add;
// the new user must resolve to an active platform user.
func (s *ChatService) AddParticipant(ctx context.Context, identity model.Identity, id string, userID string, role string) (*model.Conversation, error) {
	conversation, err := s.authorized(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAddParticipant(conversation, identity) {
		return nil, apperr.Forbidden("only participants may add members")
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Validation("userId is required")
	}
	if err := s.validateParticipants(ctx, []string{userID}); err != nil {
		return nil, err
	}

	if role == "" {
		role = model.RoleMember
	}
	participant := model.Participant{
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}

	updated, err := s.conversations.AddParticipant(ctx, id, participant)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info("participant added",
		zap.String("conversation_id", id),
		zap.String("user_id", userID),
		zap.String("added_by", identity.UserID),
	)
	return updated, nil
}

// RemoveParticipant removes a user from the conversation. Self-removal is the
// only allowed path.
func (s *ChatService) RemoveParticipant(ctx context.Context, identity model.Identity, id string, userID string) (*model.Conversation, error) {
	conversation, err := s.authorized(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanRemoveParticipant(conversation, identity, userID) {
		return nil, apperr.Forbidden("participants may only remove themselves")
	}

	updated, err := s.conversations.RemoveParticipant(ctx, id, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info("participant removed",
		zap.String("conversation_id", id),
		zap.String("user_id", userID),
	)
	return updated, nil
}

// MarkRead stamps the caller's lastReadAt and zeroes their unread counter,
// then refreshes the counter on the caller's personal room so their other
// connections converge.
func (s *ChatService) MarkRead(ctx context.Context, identity model.Identity, id string) error {
	conversation, err := s.authorized(ctx, identity, id)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(identity.UserID) {
		return apperr.Forbidden("only participants may mark a conversation read")
	}

	if _, err := s.conversations.MarkRead(ctx, id, identity.UserID, time.Now().UTC()); err != nil {
		return mapRepoErr(err)
	}

	s.broadcaster.ToUser(identity.UserID, event.New(event.EventUnreadCountUpdate, event.UnreadCountUpdatePayload{
		ChatID:      id,
		UnreadCount: 0,
	}))
	return nil
}

// Archive sets the conversation status to archived; participants only.
// Archived conversations stay readable and drop out of the resolution key
// space, so a fresh conversation for the same set can be created later.
func (s *ChatService) Archive(ctx context.Context, identity model.Identity, id string) error {
	conversation, err := s.authorized(ctx, identity, id)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(identity.UserID) {
		return apperr.Forbidden("only participants may archive a conversation")
	}

	if err := s.conversations.Archive(ctx, id); err != nil {
		return mapRepoErr(err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// authorized loads the conversation and enforces CanAccess. This is the single
// authorization gate both transports funnel through.
func (s *ChatService) authorized(ctx context.Context, identity model.Identity, id string) (*model.Conversation, error) {
	conversation, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !auth.CanAccess(conversation, identity) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return conversation, nil
}

// Authorized exposes the guard-checked conversation load to the hub, which
// must re-validate access at room-join time.
func (s *ChatService) Authorized(ctx context.Context, identity model.Identity, id string) (*model.Conversation, error) {
	return s.authorized(ctx, identity, id)
}

func mapRepoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrConversationNotFound):
		return apperr.NotFound("conversation not found")
	case errors.Is(err, repo.ErrMessageNotFound):
		return apperr.NotFound("message not found")
	case errors.Is(err, repo.ErrMessageDeleted):
		return apperr.Conflict("message is deleted")
	case errors.Is(err, repo.ErrInvalidConversationID):
		return apperr.Validation("invalid conversation id")
	default:
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Transient(err, "storage unavailable")
	}
}
