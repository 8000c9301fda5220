package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/auth"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/event"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/service"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load

	// MonitorRoom is the elevated-role-only room mirroring every message.
	MonitorRoom = "monitor"
)

// ConversationRoom names the broadcast room for a conversation.
func ConversationRoom(conversationID string) string {
	return "chat:" + conversationID
}

// PersonalRoom names a user's personal room for targeted notifications.
func PersonalRoom(userID string) string {
	return "user:" + userID
}

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type roomBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Client
}

// Hub is the realtime fan-out layer: a session registry (user -> latest
// connection), sharded room membership, and the event pipeline between
// connected clients and the lifecycle services. It implements
// service.Broadcaster, so every durable mutation is mirrored to the right
// rooms regardless of the transport that performed it.
type Hub struct {
	shards [shardCount]*roomBucket

	onlineUsers   map[string]*Client
	onlineUsersMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	chats    *service.ChatService
	messages *service.MessageService
	verifier auth.TokenVerifier
	logger   *zap.Logger

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewHub(chats *service.ChatService, messages *service.MessageService, verifier auth.TokenVerifier, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		onlineUsers: make(map[string]*Client),
		register:    make(chan *Client, 1024),
		unregister:  make(chan *Client, 1024),
		inbound:     make(chan inboundMessage, 4096), // buffer for burst handling
		chats:       chats,
		messages:    messages,
		verifier:    verifier,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &roomBucket{
			rooms: make(map[string]map[string]*Client),
		}
	}

	// run manager loop
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// addClient records the session and joins the client's standing rooms. A
// previous connection by the same user is displaced: latest connection wins.
func (h *Hub) addClient(c *Client) {
	h.onlineUsersMu.Lock()
	previous := h.onlineUsers[c.identity.UserID]
	h.onlineUsers[c.identity.UserID] = c
	h.onlineUsersMu.Unlock()

	if previous != nil && previous != c {
		h.logger.Debug("displacing previous connection",
			zap.String("user_id", c.identity.UserID),
			zap.String("old_client_id", previous.ID),
		)
		h.detachFromRooms(previous)
		previous.Close()
	}

	h.joinRoom(c, PersonalRoom(c.identity.UserID))
	if c.identity.IsElevated() {
		h.joinRoom(c, MonitorRoom)
	}

	h.logger.Info("client registered",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.identity.UserID),
	)
}

func (h *Hub) removeClient(c *Client) {
	h.onlineUsersMu.Lock()
	if current, ok := h.onlineUsers[c.identity.UserID]; ok && current == c {
		delete(h.onlineUsers, c.identity.UserID)
	}
	h.onlineUsersMu.Unlock()

	h.detachFromRooms(c)
	c.Close()

	h.logger.Info("client removed",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.identity.UserID),
	)
}

// -----------------------------------------------------------------------------
// Room membership
// -----------------------------------------------------------------------------

func getShard(room string) uint32 {
	if room == "" {
		return 0
	}
	sum := sha1.Sum([]byte(room))
	return binary.BigEndian.Uint32(sum[:4]) % shardCount
}

func (h *Hub) joinRoom(c *Client, room string) {
	b := h.shards[getShard(room)]
	b.Lock()
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		b.rooms[room] = members
	}
	members[c.ID] = c
	b.Unlock()

	c.trackRoom(room)
}

func (h *Hub) leaveRoom(c *Client, room string) {
	b := h.shards[getShard(room)]
	b.Lock()
	if members, ok := b.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	b.Unlock()

	c.untrackRoom(room)
}

func (h *Hub) detachFromRooms(c *Client) {
	for _, room := range c.joinedRooms() {
		h.leaveRoom(c, room)
	}
}

func (h *Hub) publishToRoom(room string, ev event.WsEvent) {
	b := h.shards[getShard(room)]

	// collect clients while holding RLock
	b.RLock()
	members, ok := b.rooms[room]
	if !ok || len(members) == 0 {
		b.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(members))
	for _, c := range members {
		clients = append(clients, c)
	}
	b.RUnlock()

	// deliver without holding the lock
	for _, c := range clients {
		if !c.SafeSend(ev, sendTimeout) {
			h.logger.Warn("egress full, dropping client",
				zap.String("client_id", c.ID),
				zap.String("room", room),
			)
			if kickOnFull {
				h.Unregister(c)
			}
		}
	}
}

// Unregister asynchronously removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-time.After(unregisterTimeout):
		h.logger.Warn("failed to unregister client: timeout", zap.String("client_id", c.ID))
	}
}

// -----------------------------------------------------------------------------
// service.Broadcaster
// -----------------------------------------------------------------------------

// ToConversation delivers to everyone joined to the conversation's room.
func (h *Hub) ToConversation(conversationID string, ev event.WsEvent) {
	h.publishToRoom(ConversationRoom(conversationID), ev)
}

// ToUser delivers to the user's personal room.
func (h *Hub) ToUser(userID string, ev event.WsEvent) {
	h.publishToRoom(PersonalRoom(userID), ev)
}

// ToMonitors delivers to the elevated-role monitoring room.
func (h *Hub) ToMonitors(ev event.WsEvent) {
	h.publishToRoom(MonitorRoom, ev)
}

// -----------------------------------------------------------------------------
// Connection setup
// -----------------------------------------------------------------------------

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS authenticates and upgrades an incoming WebSocket request. An
// invalid, missing, or expired token rejects the connection before any room
// join. The verification runs under a bounded duration and fails closed on
// timeout.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	identity, err := h.verifyWithTimeout(token, authTimeout)
	if err != nil {
		h.logger.Debug("websocket handshake rejected", zap.Error(err))
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(identity, conn, h)
}

func (h *Hub) verifyWithTimeout(token string, timeout time.Duration) (model.Identity, error) {
	type result struct {
		identity model.Identity
		err      error
	}

	ch := make(chan result, 1)
	go func() {
		identity, err := h.verifier.Verify(token)
		ch <- result{identity, err}
	}()

	select {
	case res := <-ch:
		return res.identity, res.err
	case <-time.After(timeout):
		return model.Identity{}, context.DeadlineExceeded
	}
}

// Stop shuts down the hub and closes every connection. Safe to call more
// than once; the server shutdown sequence and the container cleanup both
// reach it.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()

		for _, shard := range h.shards {
			shard.RLock()
			for _, members := range shard.rooms {
				for _, client := range members {
					client.Close()
				}
			}
			shard.RUnlock()
		}

		close(h.inbound)
		h.wg.Wait()
	})
}
