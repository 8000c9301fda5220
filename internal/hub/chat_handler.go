package hub

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/apperr"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/event"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/service"
)

// handleEvent dispatches one inbound client event to the lifecycle services.
// All durable mutations go through the same service methods as the REST
// surface, so authorization and derived state cannot diverge between
// transports. Failures are reported as scoped error events; the session is
// never disconnected for a rejected operation.
func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	ctx, cancel := context.WithTimeout(h.ctx, handlerTimeout)
	defer cancel()

	switch ev.Event {
	case event.EventJoinChat:
		h.handleJoinChat(ctx, ev, c)
	case event.EventLeaveChat:
		h.handleLeaveChat(ev, c)
	case event.EventSendMessage:
		h.handleSendMessage(ctx, ev, c)
	case event.EventTypingStart:
		h.handleTyping(ev, c, event.EventUserTyping)
	case event.EventTypingStop:
		h.handleTyping(ev, c, event.EventUserStoppedTyping)
	case event.EventAddReaction:
		h.handleAddReaction(ctx, ev, c)
	case event.EventEditMessage:
		h.handleEditMessage(ctx, ev, c)
	case event.EventDeleteMessage:
		h.handleDeleteMessage(ctx, ev, c)
	default:
		h.logger.Debug("unknown event type",
			zap.String("event", ev.Event),
			zap.String("client_id", c.ID),
		)
		h.sendError(c, "unknown event type: "+ev.Event)
	}
}

// handleJoinChat re-validates access at join time. A participant removed
// after connecting must not be able to rejoin the room.
func (h *Hub) handleJoinChat(ctx context.Context, ev event.WsEvent, c *Client) {
	var payload event.JoinChatPayload
	if !h.decode(ev, &payload, c) {
		return
	}
	if payload.ChatID == "" {
		h.sendError(c, "chatId is required")
		return
	}

	if _, err := h.chats.Authorized(ctx, c.identity, payload.ChatID); err != nil {
		h.sendError(c, apperr.MessageOf(err))
		return
	}

	h.joinRoom(c, ConversationRoom(payload.ChatID))
	c.SafeSend(event.New(event.EventChatJoined, event.ChatJoinedPayload{ChatID: payload.ChatID}), sendTimeout)

	h.logger.Debug("client joined chat room",
		zap.String("client_id", c.ID),
		zap.String("chat_id", payload.ChatID),
	)
}

// handleLeaveChat is always permitted.
func (h *Hub) handleLeaveChat(ev event.WsEvent, c *Client) {
	var payload event.LeaveChatPayload
	if !h.decode(ev, &payload, c) {
		return
	}

	h.leaveRoom(c, ConversationRoom(payload.ChatID))
	c.SafeSend(event.New(event.EventChatLeft, event.ChatLeftPayload{ChatID: payload.ChatID}), sendTimeout)
}

func (h *Hub) handleSendMessage(ctx context.Context, ev event.WsEvent, c *Client) {
	var payload event.SendMessagePayload
	if !h.decode(ev, &payload, c) {
		return
	}

	_, err := h.messages.Send(ctx, c.identity, service.SendRequest{
		ConversationID: payload.ChatID,
		Content:        payload.Content,
		Type:           payload.Type,
		ReplyTo:        payload.ReplyTo,
		Attachments:    payload.Attachments,
	})
	if err != nil {
		h.sendError(c, apperr.MessageOf(err))
	}
	// success broadcasts are emitted by the service through the hub
}

// handleTyping relays an ephemeral typing indicator. Only valid while the
// emitting connection is joined to the conversation's room; never persisted.
func (h *Hub) handleTyping(ev event.WsEvent, c *Client, relayEvent string) {
	var payload event.TypingPayload
	if !h.decode(ev, &payload, c) {
		return
	}

	room := ConversationRoom(payload.ChatID)
	if !c.inRoom(room) {
		h.sendError(c, "join the chat before sending typing events")
		return
	}

	h.publishToRoom(room, event.New(relayEvent, event.UserTypingPayload{
		ChatID: payload.ChatID,
		UserID: c.identity.UserID,
	}))
}

func (h *Hub) handleAddReaction(ctx context.Context, ev event.WsEvent, c *Client) {
	var payload event.AddReactionPayload
	if !h.decode(ev, &payload, c) {
		return
	}

	if _, err := h.messages.React(ctx, c.identity, payload.MessageID, payload.Emoji); err != nil {
		h.sendError(c, apperr.MessageOf(err))
	}
}

func (h *Hub) handleEditMessage(ctx context.Context, ev event.WsEvent, c *Client) {
	var payload event.EditMessagePayload
	if !h.decode(ev, &payload, c) {
		return
	}

	if _, err := h.messages.Edit(ctx, c.identity, payload.MessageID, payload.NewContent); err != nil {
		h.sendError(c, apperr.MessageOf(err))
	}
}

func (h *Hub) handleDeleteMessage(ctx context.Context, ev event.WsEvent, c *Client) {
	var payload event.DeleteMessagePayload
	if !h.decode(ev, &payload, c) {
		return
	}

	if err := h.messages.Delete(ctx, c.identity, payload.MessageID); err != nil {
		h.sendError(c, apperr.MessageOf(err))
	}
}

// -----------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------

func (h *Hub) decode(ev event.WsEvent, dst any, c *Client) bool {
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		h.logger.Debug("malformed payload",
			zap.String("event", ev.Event),
			zap.String("client_id", c.ID),
			zap.Error(err),
		)
		h.sendError(c, "malformed payload for "+ev.Event)
		return false
	}
	return true
}

func (h *Hub) sendError(c *Client, message string) {
	c.SafeSend(event.New(event.EventError, event.ErrorPayload{Message: message}), sendTimeout)
}
