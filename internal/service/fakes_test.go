package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/db"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/event"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/repo"
)

// ----------------------------------------------------------------------------
// In-memory conversation repository
// ----------------------------------------------------------------------------

type fakeConversationRepo struct {
	mu    sync.Mutex
	store map[string]*model.Conversation
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{store: make(map[string]*model.Conversation)}
}

func (f *fakeConversationRepo) EnsureIndexes(context.Context) error { return nil }

func (f *fakeConversationRepo) Create(_ context.Context, conversation *model.Conversation) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.store {
		if existing.Status == model.ConversationStatusActive && existing.ParticipantsKey == conversation.ParticipantsKey {
			return nil, repo.ErrDuplicateConversation
		}
	}

	stored := *conversation
	stored.ID = primitive.NewObjectID()
	f.store[stored.ID.Hex()] = &stored

	out := stored
	return &out, nil
}

func (f *fakeConversationRepo) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.store[id]
	if !ok {
		return nil, repo.ErrConversationNotFound
	}
	out := *c
	return &out, nil
}

func (f *fakeConversationRepo) FindByKey(_ context.Context, key string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.store {
		if c.Status == model.ConversationStatusActive && c.ParticipantsKey == key {
			out := *c
			return &out, nil
		}
	}
	return nil, repo.ErrConversationNotFound
}

func (f *fakeConversationRepo) ListForUser(_ context.Context, userID string, filter repo.ConversationFilter) (*db.Page[model.Conversation], error) {
	return f.listWhere(func(c *model.Conversation) bool { return c.HasParticipant(userID) }, filter), nil
}

func (f *fakeConversationRepo) ListAll(_ context.Context, filter repo.ConversationFilter) (*db.Page[model.Conversation], error) {
	return f.listWhere(func(*model.Conversation) bool { return true }, filter), nil
}

func (f *fakeConversationRepo) listWhere(match func(*model.Conversation) bool, filter repo.ConversationFilter) *db.Page[model.Conversation] {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Conversation
	for _, c := range f.store {
		if !match(c) {
			continue
		}
		if filter.EventID != "" && c.EventID != filter.EventID {
			continue
		}
		if filter.ActiveOnly && c.Status != model.ConversationStatusActive {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		var ti, tj time.Time
		if out[i].LastMessage != nil {
			ti = out[i].LastMessage.SentAt
		}
		if out[j].LastMessage != nil {
			tj = out[j].LastMessage.SentAt
		}
		return ti.After(tj)
	})

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start > int64(len(out)) {
		start = int64(len(out))
	}
	end := start + size
	if end > int64(len(out)) {
		end = int64(len(out))
	}
	slice := out[start:end]

	return &db.Page[model.Conversation]{
		Data:     slice,
		Page:     page,
		PageSize: size,
		HasMore:  int64(len(slice)) == size,
	}
}

func (f *fakeConversationRepo) UpdateSettings(_ context.Context, id string, title *string, settings *model.ConversationSettings) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.store[id]
	if !ok {
		return nil, repo.ErrConversationNotFound
	}
	if title != nil {
		c.Title = *title
	}
	if settings != nil {
		c.Settings = *settings
	}
	c.UpdatedAt = time.Now().UTC()
	out := *c
	return &out, nil
}

func (f *fakeConversationRepo) AddParticipant(_ context.Context, id string, participant model.Participant) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.store[id]
	if !ok {
		return nil, repo.ErrConversationNotFound
	}
	if !c.HasParticipant(participant.UserID) {
		c.Participants = append(c.Participants, participant)
		if c.UnreadCounters == nil {
			c.UnreadCounters = make(map[string]int64)
		}
		c.UnreadCounters[participant.UserID] = 0
		c.ParticipantsKey = model.DedupKey(c.ParticipantIDs(), c.EventID)
	}
	out := *c
	return &out, nil
}

func (f *fakeConversationRepo) RemoveParticipant(_ context.Context, id string, userID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.store[id]
	if !ok {
		return nil, repo.ErrConversationNotFound
	}
	participants := c.Participants[:0]
	for _, p := range c.Participants {
		if p.UserID != userID {
			participants = append(participants, p)
		}
	}
	c.Participants = participants
	delete(c.UnreadCounters, userID)
	c.ParticipantsKey = model.DedupKey(c.ParticipantIDs(), c.EventID)
	out := *c
	return &out, nil
}

func (f *fakeConversationRepo) MarkRead(_ context.Context, id string, userID string, at time.Time) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.store[id]
	if !ok {
		return nil, repo.ErrConversationNotFound
	}
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			c.Participants[i].LastReadAt = at
		}
	}
	if c.UnreadCounters == nil {
		c.UnreadCounters = make(map[string]int64)
	}
	c.UnreadCounters[userID] = 0
	out := *c
	return &out, nil
}

func (f *fakeConversationRepo) ApplyNewMessage(_ context.Context, id string, preview *model.LastMessage, recipientIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.store[id]
	if !ok {
		return repo.ErrConversationNotFound
	}
	c.LastMessage = preview
	if c.UnreadCounters == nil {
		c.UnreadCounters = make(map[string]int64)
	}
	for _, userID := range recipientIDs {
		c.UnreadCounters[userID]++
	}
	return nil
}

func (f *fakeConversationRepo) SetLastMessage(_ context.Context, id string, preview *model.LastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.store[id]
	if !ok {
		return repo.ErrConversationNotFound
	}
	c.LastMessage = preview
	return nil
}

func (f *fakeConversationRepo) Archive(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.store[id]
	if !ok {
		return repo.ErrConversationNotFound
	}
	c.Status = model.ConversationStatusArchived
	return nil
}

// ----------------------------------------------------------------------------
// In-memory message repository
// ----------------------------------------------------------------------------

type fakeMessageRepo struct {
	mu    sync.Mutex
	store map[string]*model.Message
	order []string // insertion order for stable sorting
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{store: make(map[string]*model.Message)}
}

func (f *fakeMessageRepo) EnsureIndexes(context.Context) error { return nil }

func (f *fakeMessageRepo) Insert(_ context.Context, msg *model.Message) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := *msg
	stored.ID = primitive.NewObjectID()
	f.store[stored.ID.Hex()] = &stored
	f.order = append(f.order, stored.ID.Hex())

	out := stored
	return &out, nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.store[id]
	if !ok {
		return nil, repo.ErrMessageNotFound
	}
	out := *m
	return &out, nil
}

func (f *fakeMessageRepo) ApplyEdit(_ context.Context, id string, newContent string, originalContent string, at time.Time) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.store[id]
	if !ok {
		return nil, repo.ErrMessageNotFound
	}
	m.Content = newContent
	m.EditedAt = &at
	if originalContent != "" {
		m.OriginalContent = originalContent
	}
	out := *m
	return &out, nil
}

func (f *fakeMessageRepo) SoftDelete(_ context.Context, id string, at time.Time) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.store[id]
	if !ok {
		return nil, repo.ErrMessageNotFound
	}
	m.DeletedAt = &at
	out := *m
	return &out, nil
}

func (f *fakeMessageRepo) SetReaction(_ context.Context, id string, reaction model.Reaction) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.store[id]
	if !ok {
		return nil, repo.ErrMessageNotFound
	}
	if m.IsDeleted() {
		return nil, repo.ErrMessageDeleted
	}
	reactions := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.UserID != reaction.UserID {
			reactions = append(reactions, r)
		}
	}
	m.Reactions = append(reactions, reaction)
	out := *m
	return &out, nil
}

func (f *fakeMessageRepo) History(_ context.Context, conversationID string, page, limit int64) (*db.Page[model.Message], error) {
	msgs := f.nonDeletedNewestFirst(conversationID)

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	start := (page - 1) * limit
	if start > int64(len(msgs)) {
		start = int64(len(msgs))
	}
	end := start + limit
	if end > int64(len(msgs)) {
		end = int64(len(msgs))
	}
	slice := msgs[start:end]

	return &db.Page[model.Message]{
		Data:     slice,
		Page:     page,
		PageSize: limit,
		HasMore:  int64(len(slice)) == limit,
	}, nil
}

func (f *fakeMessageRepo) NewestNonDeleted(_ context.Context, conversationID string) (*model.Message, error) {
	msgs := f.nonDeletedNewestFirst(conversationID)
	if len(msgs) == 0 {
		return nil, nil
	}
	out := msgs[0]
	return &out, nil
}

func (f *fakeMessageRepo) nonDeletedNewestFirst(conversationID string) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Message
	for _, id := range f.order {
		m := f.store[id]
		if m.ConversationID.Hex() == conversationID && !m.IsDeleted() {
			out = append(out, *m)
		}
	}
	// insertion order is chronological; flip to newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ----------------------------------------------------------------------------
// Directories and broadcaster
// ----------------------------------------------------------------------------

type fakeUserDirectory struct {
	active map[string]struct{}
}

func newFakeUserDirectory(ids ...string) *fakeUserDirectory {
	active := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}
	return &fakeUserDirectory{active: active}
}

func (f *fakeUserDirectory) FindActiveUsers(_ context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := f.active[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

type fakeEventDirectory struct {
	events map[string]struct{}
}

func newFakeEventDirectory(ids ...string) *fakeEventDirectory {
	events := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		events[id] = struct{}{}
	}
	return &fakeEventDirectory{events: events}
}

func (f *fakeEventDirectory) EventExists(_ context.Context, id string) (bool, error) {
	_, ok := f.events[id]
	return ok, nil
}

type broadcastRecord struct {
	Target string // "chat:<id>", "user:<id>" or "monitor"
	Event  event.WsEvent
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	records []broadcastRecord
}

func (r *recordingBroadcaster) ToConversation(conversationID string, ev event.WsEvent) {
	r.record("chat:"+conversationID, ev)
}

func (r *recordingBroadcaster) ToUser(userID string, ev event.WsEvent) {
	r.record("user:"+userID, ev)
}

func (r *recordingBroadcaster) ToMonitors(ev event.WsEvent) {
	r.record("monitor", ev)
}

func (r *recordingBroadcaster) record(target string, ev event.WsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, broadcastRecord{Target: target, Event: ev})
}

func (r *recordingBroadcaster) eventsFor(target string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for _, rec := range r.records {
		if rec.Target == target {
			names = append(names, rec.Event.Event)
		}
	}
	return names
}

// ----------------------------------------------------------------------------
// Fixture
// ----------------------------------------------------------------------------

type fixture struct {
	conversations *fakeConversationRepo
	messages      *fakeMessageRepo
	broadcaster   *recordingBroadcaster
	chats         *ChatService
	msgs          *MessageService
}

func newFixture(activeUsers []string, events ...string) *fixture {
	conversations := newFakeConversationRepo()
	messages := newFakeMessageRepo()
	broadcaster := &recordingBroadcaster{}
	logger := zap.NewNop()

	chats := NewChatService(
		conversations,
		newFakeUserDirectory(activeUsers...),
		newFakeEventDirectory(events...),
		broadcaster,
		logger,
	)
	msgs := NewMessageService(conversations, messages, chats, broadcaster, logger)

	return &fixture{
		conversations: conversations,
		messages:      messages,
		broadcaster:   broadcaster,
		chats:         chats,
		msgs:          msgs,
	}
}

func member(userID string) model.Identity {
	return model.Identity{UserID: userID, Role: model.RoleMember}
}

func admin(userID string) model.Identity {
	return model.Identity{UserID: userID, Role: model.RoleAdmin}
}
