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
	ErrInvalidMessage  = errors.New("invalid message: message cannot be nil")
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageDeleted  = errors.New("message is deleted")
)

const (
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	defaultHistoryPageSize = 50
)

// MessageRepository is the durable message store. Messages are soft-deleted:
// DeletedAt is set and the document drops out of history and latest-message
// queries, but the record stays for audit.
type MessageRepository interface {
	EnsureIndexes(ctx context.Context) error
	Insert(ctx context.Context, msg *model.Message) (*model.Message, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ApplyEdit(ctx context.Context, id string, newContent string, originalContent string, at time.Time) (*model.Message, error)
	SoftDelete(ctx context.Context, id string, at time.Time) (*model.Message, error)
	SetReaction(ctx context.Context, id string, reaction model.Reaction) (*model.Message, error)
	History(ctx context.Context, conversationID string, page, limit int64) (*db.Page[model.Message], error)
	NewestNonDeleted(ctx context.Context, conversationID string) (*model.Message, error)
}

type messageRepository struct {
	con       *mongo.Database
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

func NewMessageRepository(con *mongo.Database, repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		con:       con,
		mongoRepo: repo,
		logger:    logger,
	}
}

func (m *messageRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	return m.mongoRepo.EnsureIndexes(ctx, indexes)
}

// -----------------------------------------------------------------------------
// Insert
// -----------------------------------------------------------------------------

func (m *messageRepository) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	if msg.ConversationID.IsZero() {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}

		id, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			inserted, err := m.mongoRepo.FindByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("read back inserted message: %w", err)
			}

			m.logger.Info("message inserted",
				zap.String("message_id", id),
				zap.String("conversation_id", msg.ConversationID.Hex()),
				zap.Int("attempt", attempt+1),
			)
			return inserted, nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID.Hex()),
	)
	return nil, fmt.Errorf("insert message failed: %w", lastErr)
}

func (m *messageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	msg, err := m.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		m.logger.Error("failed to fetch message",
			zap.String("message_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch message failed: %w", err)
	}
	return msg, nil
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// ApplyEdit updates the content and edit stamp. originalContent is only
// written when non-empty; the lifecycle layer passes the pre-edit content on
// the first edit and "" afterwards, so the snapshot is populated at most once.
func (m *messageRepository) ApplyEdit(ctx context.Context, id string, newContent string, originalContent string, at time.Time) (*model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	set := bson.M{
		"content":   newContent,
		"edited_at": at,
	}
	if originalContent != "" {
		set["original_content"] = originalContent
	}

	return m.findOneAndUpdateByID(ctx, id, bson.M{"$set": set})
}

func (m *messageRepository) SoftDelete(ctx context.Context, id string, at time.Time) (*model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	return m.findOneAndUpdateByID(ctx, id, bson.M{
		"$set": bson.M{"deleted_at": at},
	})
}

// SetReaction upserts the user's reaction in one atomic pipeline update: the
// user's previous reaction is filtered out and the new one appended in a
// single round trip, so a user holds at most one reaction per message even
// under concurrent reacts. The filter excludes soft-deleted messages, so a
// delete racing the react loses cleanly; ErrMessageDeleted is returned in
// that case.
func (m *messageRepository) SetReaction(ctx context.Context, id string, reaction model.Reaction) (*model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("_id", id).
		Exists("deleted_at", false).
		Build()

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"reactions": bson.M{"$concatArrays": bson.A{
				bson.M{"$filter": bson.M{
					"input": bson.M{"$ifNull": bson.A{"$reactions", bson.A{}}},
					"as":    "r",
					"cond":  bson.M{"$ne": bson.A{"$$r.user_id", reaction.UserID}},
				}},
				bson.A{reaction},
			}},
		}}},
	}

	updated, err := m.mongoRepo.FindOneAndUpdateWithPipeline(ctx, filter, pipeline)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// missed the guarded filter: either gone or soft-deleted
			if _, lookupErr := m.GetByID(ctx, id); lookupErr == nil {
				return nil, ErrMessageDeleted
			}
			return nil, ErrMessageNotFound
		}
		m.logger.Error("failed to set reaction",
			zap.String("message_id", id),
			zap.String("user_id", reaction.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("set reaction failed: %w", err)
	}
	return updated, nil
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// History returns one page of non-deleted messages, newest first. Callers
// reverse the slice to chronological order before returning it to clients.
func (m *messageRepository) History(ctx context.Context, conversationID string, page, limit int64) (*db.Page[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}
	if limit < 1 {
		limit = defaultHistoryPageSize
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("conversation_id", conversationID).
		Exists("deleted_at", false).
		Build()

	result, err := m.mongoRepo.FindPage(ctx, filter, db.PageParams{
		Page:     page,
		PageSize: limit,
		SortBy:   "created_at",
		SortDesc: true,
	})
	if err != nil {
		m.logger.Error("failed to load message history",
			zap.String("conversation_id", conversationID),
			zap.Int64("page", page),
			zap.Error(err),
		)
		return nil, fmt.Errorf("load history failed: %w", err)
	}

	m.logger.Debug("history page loaded",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(result.Data)),
		zap.Int64("page", result.Page),
		zap.Bool("has_more", result.HasMore),
	)
	return result, nil
}

// NewestNonDeleted returns the newest surviving message of the conversation,
// or nil when none remain.
func (m *messageRepository) NewestNonDeleted(ctx context.Context, conversationID string) (*model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("conversation_id", conversationID).
		Exists("deleted_at", false).
		Build()
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(1)

	msgs, err := m.mongoRepo.FindAll(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find newest message failed: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// -----------------------------------------------------------------------------
// Private helpers
// -----------------------------------------------------------------------------

func (m *messageRepository) findOneAndUpdateByID(ctx context.Context, id string, update bson.M) (*model.Message, error) {
	filter := db.NewFilter().ObjectID("_id", id).Build()

	updated, err := m.mongoRepo.FindOneAndUpdate(ctx, filter, update)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		m.logger.Error("failed to update message",
			zap.String("message_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("update message failed: %w", err)
	}
	return updated, nil
}

func (m *messageRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *messageRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (m *messageRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
