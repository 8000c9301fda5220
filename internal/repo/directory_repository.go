package repo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/db"
)

// UserDirectory is the lookup service for platform users. The chat core only
// needs to know which of a set of ids resolve to active users.
type UserDirectory interface {
	FindActiveUsers(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// EventDirectory is the lookup service for platform events.
type EventDirectory interface {
	EventExists(ctx context.Context, id string) (bool, error)
}

// directoryUser is the slice of the platform user record the chat core reads.
type directoryUser struct {
	UserID   string `bson:"user_id"`
	IsActive bool   `bson:"is_active"`
}

// directoryEvent is the slice of the platform event record the chat core reads.
type directoryEvent struct {
	EventID string `bson:"event_id"`
}

type mongoDirectory struct {
	users  *db.Repository[directoryUser]
	events *db.Repository[directoryEvent]
}

// NewDirectory builds a directory backed by the platform's users and events
// collections.
func NewDirectory(con *mongo.Database, usersCollection, eventsCollection string) (UserDirectory, EventDirectory) {
	d := &mongoDirectory{
		users:  db.NewRepository[directoryUser](con, usersCollection),
		events: db.NewRepository[directoryEvent](con, eventsCollection),
	}
	return d, d
}

func (d *mongoDirectory) FindActiveUsers(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}

	filter := db.NewFilter().
		In("user_id", ids).
		Eq("is_active", true).
		Build()

	users, err := d.users.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("lookup active users failed: %w", err)
	}

	active := make(map[string]struct{}, len(users))
	for _, u := range users {
		active[u.UserID] = struct{}{}
	}
	return active, nil
}

func (d *mongoDirectory) EventExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	_, err := d.events.FindOne(ctx, db.NewFilter().Eq("event_id", id).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("lookup event failed: %w", err)
	}
	return true, nil
}
