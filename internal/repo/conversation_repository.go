package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/db"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
)

var (
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
	ErrDuplicateConversation = errors.New("conversation with identical participant set already exists")
	ErrConversationNotFound  = errors.New("conversation not found")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second
)

// ConversationFilter narrows ListForUser / ListAll queries.
type ConversationFilter struct {
	EventID    string
	ActiveOnly bool
	Page       int64
	PageSize   int64
}

// ConversationRepository is the durable conversation store. Derived-state
// writes (last message preview, unread counters) are single-document Mongo
// updates, so concurrent sends and mark-reads on the same conversation are
// serialized by the storage engine rather than by an application lock.
type ConversationRepository interface {
	EnsureIndexes(ctx context.Context) error
	Create(ctx context.Context, conversation *model.Conversation) (*model.Conversation, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindByKey(ctx context.Context, key string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string, filter ConversationFilter) (*db.Page[model.Conversation], error)
	ListAll(ctx context.Context, filter ConversationFilter) (*db.Page[model.Conversation], error)
	UpdateSettings(ctx context.Context, id string, title *string, settings *model.ConversationSettings) (*model.Conversation, error)
	AddParticipant(ctx context.Context, id string, participant model.Participant) (*model.Conversation, error)
	RemoveParticipant(ctx context.Context, id string, userID string) (*model.Conversation, error)
	MarkRead(ctx context.Context, id string, userID string, at time.Time) (*model.Conversation, error)
	ApplyNewMessage(ctx context.Context, id string, preview *model.LastMessage, recipientIDs []string) error
	SetLastMessage(ctx context.Context, id string, preview *model.LastMessage) error
	Archive(ctx context.Context, id string) error
}

type conversationRepository struct {
	con       *mongo.Database
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

func NewConversationRepository(con *mongo.Database, repo *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		con:       con,
		mongoRepo: repo,
		logger:    logger,
	}
}

// EnsureIndexes creates the uniqueness and listing indexes. The partial
// unique index on participants_key only covers active conversations, so an
// archived conversation never blocks resolution of a fresh one.
func (r *conversationRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "participants_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": model.ConversationStatusActive}),
		},
		{Keys: bson.D{{Key: "participants.user_id", Value: 1}}},
		{Keys: bson.D{{Key: "last_message.sent_at", Value: -1}}},
	}
	return r.mongoRepo.EnsureIndexes(ctx, indexes)
}

// -----------------------------------------------------------------------------
// Create / lookup
// -----------------------------------------------------------------------------

// Create inserts a new conversation. Returns ErrDuplicateConversation when
// the unique participants_key index rejects the insert; the resolution layer
// retries as a lookup in that case.
func (r *conversationRepository) Create(ctx context.Context, conversation *model.Conversation) (*model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	id, err := r.mongoRepo.Create(ctx, *conversation)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			r.logger.Debug("duplicate conversation insert",
				zap.String("participants_key", conversation.ParticipantsKey),
			)
			return nil, ErrDuplicateConversation
		}
		r.logger.Error("failed to insert conversation", zap.Error(err))
		return nil, fmt.Errorf("insert conversation failed: %w", err)
	}

	created, err := r.mongoRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read back created conversation: %w", err)
	}

	r.logger.Info("conversation created",
		zap.String("conversation_id", id),
		zap.Int("participants", len(created.Participants)),
	)
	return created, nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	if id == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conversation, err := r.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch conversation failed: %w", err)
	}
	return conversation, nil
}

// FindByKey looks up the active conversation with the given dedup key.
func (r *conversationRepository) FindByKey(ctx context.Context, key string) (*model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("participants_key", key).
		Eq("status", model.ConversationStatusActive).
		Build()

	conversation, err := r.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("lookup conversation by key failed: %w", err)
	}
	return conversation, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string, filter ConversationFilter) (*db.Page[model.Conversation], error) {
	f := db.NewFilter().Eq("participants.user_id", userID)
	return r.list(ctx, f, filter)
}

// ListAll returns every conversation; elevated-role callers only.
func (r *conversationRepository) ListAll(ctx context.Context, filter ConversationFilter) (*db.Page[model.Conversation], error) {
	return r.list(ctx, db.NewFilter(), filter)
}

func (r *conversationRepository) list(ctx context.Context, f *db.FilterBuilder, filter ConversationFilter) (*db.Page[model.Conversation], error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	if filter.EventID != "" {
		f.Eq("event_id", filter.EventID)
	}
	if filter.ActiveOnly {
		f.Eq("status", model.ConversationStatusActive)
	}

	page, err := r.mongoRepo.FindPage(ctx, f.Build(), db.PageParams{
		Page:     filter.Page,
		PageSize: filter.PageSize,
		SortBy:   "last_message.sent_at",
		SortDesc: true,
	})
	if err != nil {
		r.logger.Error("failed to list conversations", zap.Error(err))
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	return page, nil
}

// -----------------------------------------------------------------------------
// Participant and settings mutations
// -----------------------------------------------------------------------------

func (r *conversationRepository) UpdateSettings(ctx context.Context, id string, title *string, settings *model.ConversationSettings) (*model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	set := bson.M{"updated_at": time.Now().UTC()}
	if title != nil {
		set["title"] = *title
	}
	if settings != nil {
		set["settings"] = *settings
	}

	updated, err := r.findOneAndUpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("conversation settings updated", zap.String("conversation_id", id))
	return updated, nil
}

// AddParticipant appends a participant with a zero lastReadAt. No-op when the
// user is already present. The dedup key is recomputed from the new id set;
// the $ne guard in the filter keeps a concurrent double-add from appending
// twice, and both writers derive the same sorted key.
func (r *conversationRepository) AddParticipant(ctx context.Context, id string, participant model.Participant) (*model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.HasParticipant(participant.UserID) {
		return current, nil
	}

	newKey := model.DedupKey(append(current.ParticipantIDs(), participant.UserID), current.EventID)

	filter := db.NewFilter().
		ObjectID("_id", id).
		Ne("participants.user_id", participant.UserID).
		Build()
	set := bson.M{
		"participants_key": newKey,
		"updated_at":       time.Now().UTC(),
	}
	set["unread_counters."+participant.UserID] = int64(0)
	update := bson.M{
		"$push": bson.M{"participants": participant},
		"$set":  set,
	}

	if _, err := r.mongoRepo.UpdateOne(ctx, filter, update); err != nil {
		r.logger.Error("failed to add participant",
			zap.String("conversation_id", id),
			zap.String("user_id", participant.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("add participant failed: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *conversationRepository) RemoveParticipant(ctx context.Context, id string, userID string) (*model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.HasParticipant(userID) {
		return current, nil
	}

	remaining := make([]string, 0, len(current.Participants))
	for _, p := range current.Participants {
		if p.UserID != userID {
			remaining = append(remaining, p.UserID)
		}
	}
	newKey := model.DedupKey(remaining, current.EventID)

	update := bson.M{
		"$pull":  bson.M{"participants": bson.M{"user_id": userID}},
		"$unset": bson.M{"unread_counters." + userID: ""},
		"$set": bson.M{
			"participants_key": newKey,
			"updated_at":       time.Now().UTC(),
		},
	}

	if _, err := r.mongoRepo.UpdateByID(ctx, id, update); err != nil {
		r.logger.Error("failed to remove participant",
			zap.String("conversation_id", id),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("remove participant failed: %w", err)
	}

	return r.GetByID(ctx, id)
}

// -----------------------------------------------------------------------------
// Derived state
// -----------------------------------------------------------------------------

// MarkRead stamps the participant's lastReadAt and zeroes their unread
// counter in a single document update.
func (r *conversationRepository) MarkRead(ctx context.Context, id string, userID string, at time.Time) (*model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("_id", id).
		Eq("participants.user_id", userID).
		Build()
	set := bson.M{"participants.$.last_read_at": at}
	set["unread_counters."+userID] = int64(0)
	update := bson.M{"$set": set}

	updated, err := r.mongoRepo.FindOneAndUpdate(ctx, filter, update)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		r.logger.Error("failed to mark conversation read",
			zap.String("conversation_id", id),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("mark read failed: %w", err)
	}
	return updated, nil
}

// ApplyNewMessage records a freshly sent message on the conversation: the
// last-message preview is replaced and every recipient's unread counter is
// incremented, all in one atomic document update so a racing MarkRead is
// either fully before or fully after this write.
func (r *conversationRepository) ApplyNewMessage(ctx context.Context, id string, preview *model.LastMessage, recipientIDs []string) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"last_message": preview,
			"updated_at":   time.Now().UTC(),
		},
	}
	if len(recipientIDs) > 0 {
		inc := bson.M{}
		for _, userID := range recipientIDs {
			inc["unread_counters."+userID] = int64(1)
		}
		update["$inc"] = inc
	}

	if _, err := r.mongoRepo.UpdateByID(ctx, id, update); err != nil {
		r.logger.Error("failed to apply new message to conversation",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return fmt.Errorf("apply new message failed: %w", err)
	}
	return nil
}

// SetLastMessage replaces the cached preview. Used by edit/delete recompute;
// preview may be an empty placeholder when no non-deleted messages remain.
func (r *conversationRepository) SetLastMessage(ctx context.Context, id string, preview *model.LastMessage) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"last_message": preview,
			"updated_at":   time.Now().UTC(),
		},
	}

	if _, err := r.mongoRepo.UpdateByID(ctx, id, update); err != nil {
		r.logger.Error("failed to set last message",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return fmt.Errorf("set last message failed: %w", err)
	}
	return nil
}

func (r *conversationRepository) Archive(ctx context.Context, id string) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"status":     model.ConversationStatusArchived,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.mongoRepo.UpdateByID(ctx, id, update)
	if err != nil {
		r.logger.Error("failed to archive conversation",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return fmt.Errorf("archive conversation failed: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrConversationNotFound
	}

	r.logger.Info("conversation archived", zap.String("conversation_id", id))
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (r *conversationRepository) findOneAndUpdateByID(ctx context.Context, id string, update bson.M) (*model.Conversation, error) {
	filter := db.NewFilter().ObjectID("_id", id).Build()

	updated, err := r.mongoRepo.FindOneAndUpdate(ctx, filter, update)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("update conversation failed: %w", err)
	}
	return updated, nil
}

func (r *conversationRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
