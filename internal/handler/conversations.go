// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lostfound/messaging/internal/middleware"
	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/service"
	"github.com/lostfound/messaging/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log.Named("conversations_handler"),
	}
}

// Resolve handles POST /api/v1/conversations. It returns the conversation
// with other_user_id, creating it on first contact.
func (h *ConversationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.ResolveConversationRequest
	if err := middleware.DecodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.service.Resolve(ctx, userID, req.OtherUserID)
	if err != nil {
		writeServiceError(w, h.logger, "resolve conversation", err)
		return
	}

	conv, err := h.service.Get(ctx, userID, id)
	if err != nil {
		writeServiceError(w, h.logger, "load conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ResolveConversationResponse{
		ConversationID: id,
		Conversation:   conv,
	})
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	convs, err := h.service.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(w, h.logger, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "get conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
