package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/middleware"
	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/realtime"
	"github.com/lostfound/messaging/internal/service"
	"github.com/lostfound/messaging/pkg/logger"
	"github.com/lostfound/messaging/pkg/metrics"
)

const streamBuffer = 64

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	messageService      *service.MessageService
	conversationService *service.ConversationService
	realtime            *realtime.Manager
	logger              *logger.Logger
	heartbeat           time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	msgSvc *service.MessageService,
	convSvc *service.ConversationService,
	rt *realtime.Manager,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		messageService:      msgSvc,
		conversationService: convSvc,
		realtime:            rt,
		logger:              log.Named("stream_handler"),
		heartbeat:           30 * time.Second,
	}
}

// ReplayCompleteEvent marks the end of the history replay.
type ReplayCompleteEvent struct {
	MessageCount int `json:"message_count"`
}

// Stream handles GET /api/v1/conversations/:id/stream
// The history is replayed first, then live inserts follow. Set
// ?replay=false to receive live inserts only.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.conversationService.Get(ctx, userID, conversationID); err != nil {
		writeServiceError(w, h.logger, "open stream", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before loading history so nothing inserted in between is lost.
	live := make(chan model.Message, streamBuffer)
	unsubscribe, err := h.realtime.Subscribe(ctx, conversationID, func(m model.Message) {
		select {
		case live <- m:
		default:
			h.logger.Warn("stream client too slow, dropping event",
				zap.String("conversation_id", conversationID),
				zap.String("message_id", m.ID),
			)
		}
	})
	if err != nil {
		writeServiceError(w, h.logger, "subscribe", err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	seen := make(map[string]struct{})
	if r.URL.Query().Get("replay") != "false" {
		history, err := h.messageService.History(ctx, conversationID, userID)
		if err != nil {
			h.logger.Error("failed to replay messages", zap.String("conversation_id", conversationID), zap.Error(err))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay messages",
			})
		}
		for _, msg := range history {
			seen[msg.ID] = struct{}{}
			sendSSEEvent(w, flusher, "message", msg)
		}
		sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{MessageCount: len(history)})
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("conversation_id", conversationID))
			return

		case msg := <-live:
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
			if err := sendSSEEvent(w, flusher, "message", msg); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		}
	}
}
