package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/event"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
)

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong message from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings to peer with this period
	maxMessageSize     = 64 * 1024              // max inbound message size (64KB)
	sendBufSize        = 256                    // per-connection outbound buffer size
	workerPoolSize     = 16                     // number of workers to process inbound messages
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound messages
	kickOnFull         = true                   // when true, disconnect client when egress is full
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound channel
	authTimeout        = 3 * time.Second        // bounded duration for handshake auth; fail closed
	handlerTimeout     = 10 * time.Second       // per-event service call budget
)

// Client is one authenticated WebSocket connection. A client may be joined to
// many rooms at once (its personal room, conversation rooms, the monitor
// room); the joined set is tracked here so the hub can detach it on
// disconnect.
type Client struct {
	ID       string
	identity model.Identity
	conn     *websocket.Conn
	manager  *Hub
	egress   chan event.WsEvent

	rooms   map[string]struct{}
	roomsMu sync.RWMutex

	// cancel or stop goroutine
	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool
	closedMu       sync.RWMutex
}

// RegisterClient creates a new client for a verified identity and starts its
// read/write pumps.
func RegisterClient(identity model.Identity, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		ID:         uuid.New().String(),
		identity:   identity,
		conn:       conn,
		manager:    h,
		egress:     make(chan event.WsEvent, sendBufSize),
		rooms:      make(map[string]struct{}),
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}

	select {
	case h.register <- client:
		go client.readMessages()
		go client.writeMessages()
		return client
	case <-time.After(registerTimeout):
		h.logger.Warn("failed to register client: timeout",
			zap.String("client_id", client.ID),
			zap.String("user_id", identity.UserID),
		)
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) readMessages() {
	defer func() {
		c.manager.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var ev event.WsEvent
			if err := c.conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					c.manager.logger.Debug("client disconnected", zap.String("client_id", c.ID))
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					c.manager.logger.Debug("client timed out", zap.String("client_id", c.ID))
					return
				}
				c.manager.logger.Debug("read error",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
				return
			}

			// Non-blocking handoff to the worker pool so a slow handler never
			// stalls the reader.
			select {
			case c.manager.inbound <- inboundMessage{client: c, event: ev}:
			case <-time.After(inboundSendTimeout):
				c.manager.logger.Warn("inbound queue full, dropping client", zap.String("client_id", c.ID))
				c.cancel()
				c.conn.Close()
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) writeMessages() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.egress:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.manager.logger.Debug("write error",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// SafeSend attempts to enqueue an event on the client's egress channel.
// Returns false if the client is closed or the buffer stays full past the
// timeout. The read lock pairs with the write lock in Close, so the egress
// channel is never closed while a send is in flight.
func (c *Client) SafeSend(ev event.WsEvent, timeout time.Duration) bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close tears the client down exactly once.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()

		// Blocked SafeSend calls observe the cancelled context and release
		// the read lock, so closing egress under the write lock cannot race
		// a send.
		c.closedMu.Lock()
		c.closed = true
		close(c.egress)
		c.closedMu.Unlock()

		// Wait for the write pump to close conn, or force close after timeout
		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
			}
		}()
	})
}

// IsClosed returns true if the client has been closed.
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// -----------------------------------------------------------------
// Room tracking
// -----------------------------------------------------------------

func (c *Client) trackRoom(room string) {
	c.roomsMu.Lock()
	c.rooms[room] = struct{}{}
	c.roomsMu.Unlock()
}

func (c *Client) untrackRoom(room string) {
	c.roomsMu.Lock()
	delete(c.rooms, room)
	c.roomsMu.Unlock()
}

func (c *Client) inRoom(room string) bool {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) joinedRooms() []string {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
