package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/auth"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/repo"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/service"
)

// ChatHandler exposes the conversation and message operations over HTTP.
// Identity comes from the auth middleware; every operation funnels through
// the same services the WebSocket surface uses.
type ChatHandler interface {
	ListChats(c *gin.Context)
	CreateChat(c *gin.Context)
	GetChat(c *gin.Context)
	UpdateChat(c *gin.Context)
	AddParticipant(c *gin.Context)
	RemoveParticipant(c *gin.Context)
	MarkRead(c *gin.Context)
	ArchiveChat(c *gin.Context)
	GetMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	EditMessage(c *gin.Context)
	DeleteMessage(c *gin.Context)
	AddReaction(c *gin.Context)
	ListAllChats(c *gin.Context)
}

type chatHandler struct {
	chats    *service.ChatService
	messages *service.MessageService
	logger   *zap.Logger
}

func NewChatHandler(chats *service.ChatService, messages *service.MessageService, logger *zap.Logger) ChatHandler {
	return &chatHandler{
		chats:    chats,
		messages: messages,
		logger:   logger,
	}
}

// -----------------------------------------------------------------------------
// Conversations
// -----------------------------------------------------------------------------

// ListChats returns the caller's conversations annotated with unread counts.
func (h *chatHandler) ListChats(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	page, err := h.chats.List(c.Request.Context(), identity, repo.ConversationFilter{
		EventID:    c.Query("eventId"),
		ActiveOnly: c.DefaultQuery("status", model.ConversationStatusActive) == model.ConversationStatusActive,
		Page:       queryInt(c, "page", 1),
		PageSize:   queryInt(c, "limit", 20),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

// CreateChat resolves or creates the conversation for the requested
// participant set.
func (h *chatHandler) CreateChat(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	var req service.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	conversation, err := h.chats.Resolve(c.Request.Context(), identity, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, conversation)
}

func (h *chatHandler) GetChat(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	view, err := h.chats.Get(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, view)
}

type updateChatRequest struct {
	Title    *string                     `json:"title"`
	Settings *model.ConversationSettings `json:"settings"`
}

func (h *chatHandler) UpdateChat(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	var req updateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	updated, err := h.chats.UpdateSettings(c.Request.Context(), identity, c.Param("id"), req.Title, req.Settings)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, updated)
}

type addParticipantRequest struct {
	UserID string `json:"userId" binding:"required"`
	Role   string `json:"role"`
}

func (h *chatHandler) AddParticipant(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId is required"})
		return
	}

	updated, err := h.chats.AddParticipant(c.Request.Context(), identity, c.Param("id"), req.UserID, req.Role)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, updated)
}

func (h *chatHandler) RemoveParticipant(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	updated, err := h.chats.RemoveParticipant(c.Request.Context(), identity, c.Param("id"), c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, updated)
}

func (h *chatHandler) MarkRead(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	if err := h.chats.MarkRead(c.Request.Context(), identity, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMessage(c, http.StatusOK, "conversation marked as read")
}

func (h *chatHandler) ArchiveChat(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	if err := h.chats.Archive(c.Request.Context(), identity, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMessage(c, http.StatusOK, "conversation archived")
}

// ListAllChats is the elevated-role-only global listing.
func (h *chatHandler) ListAllChats(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	page, err := h.chats.ListAll(c.Request.Context(), identity, repo.ConversationFilter{
		EventID:  c.Query("eventId"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "limit", 20),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

// GetMessages returns one chronological page of history. Reading history as
// a participant stamps lastReadAt as a side effect.
func (h *chatHandler) GetMessages(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	page, err := h.messages.History(
		c.Request.Context(),
		identity,
		c.Param("id"),
		queryInt(c, "page", 1),
		queryInt(c, "limit", 50),
	)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, page)
}

type sendMessageRequest struct {
	Content     string             `json:"content" binding:"required"`
	Type        string             `json:"type"`
	ReplyTo     string             `json:"replyTo"`
	Attachments []model.Attachment `json:"attachments"`
}

func (h *chatHandler) SendMessage(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "content is required"})
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), identity, service.SendRequest{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Type:           req.Type,
		ReplyTo:        req.ReplyTo,
		Attachments:    req.Attachments,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *chatHandler) EditMessage(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "content is required"})
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), identity, c.Param("messageId"), req.Content)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, msg)
}

func (h *chatHandler) DeleteMessage(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	if err := h.messages.Delete(c.Request.Context(), identity, c.Param("messageId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondMessage(c, http.StatusOK, "message deleted")
}

type addReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (h *chatHandler) AddReaction(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	var req addReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "emoji is required"})
		return
	}

	msg, err := h.messages.React(c.Request.Context(), identity, c.Param("messageId"), req.Emoji)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, msg)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func queryInt(c *gin.Context, name string, fallback int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
