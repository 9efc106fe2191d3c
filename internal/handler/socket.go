package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/chat"
	"github.com/lostfound/messaging/internal/middleware"
	"github.com/lostfound/messaging/internal/realtime"
	"github.com/lostfound/messaging/internal/service"
	"github.com/lostfound/messaging/pkg/logger"
	"github.com/lostfound/messaging/pkg/metrics"
)

const (
	writeWait       = 10 * time.Second
	pingPeriod      = 30 * time.Second
	readTimeout     = 60 * time.Second
	maxFrameBytes   = 64 * 1024
	socketSendQueue = 128
)

type inboundFrame struct {
	Type           string `json:"type" validate:"required,oneof=open select send refresh close"`
	OtherUserID    string `json:"other_user_id,omitempty" validate:"required_if=Type open,max=128"`
	ConversationID string `json:"conversation_id,omitempty" validate:"required_if=Type select"`
	Content        string `json:"content,omitempty"`
}

type snapshotFrame struct {
	Type     string        `json:"type"`
	Snapshot chat.Snapshot `json:"snapshot"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// SocketHandler serves a websocket chat session per connection.
type SocketHandler struct {
	conversations   *service.ConversationService
	messages        *service.MessageService
	realtime        *realtime.Manager
	logger          *logger.Logger
	upgrader        websocket.Upgrader
	inflightTimeout time.Duration
}

// NewSocketHandler creates a websocket handler. An empty allowedOrigins
// accepts any origin.
func NewSocketHandler(
	convSvc *service.ConversationService,
	msgSvc *service.MessageService,
	rt *realtime.Manager,
	allowedOrigins []string,
	log *logger.Logger,
) *SocketHandler {
	return &SocketHandler{
		conversations: convSvc,
		messages:      msgSvc,
		realtime:      rt,
		logger:        log.Named("socket_handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		inflightTimeout: 10 * time.Second,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve handles GET /api/v1/ws
func (h *SocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	log := h.logger.WithRequest(middleware.GetCorrelationID(r.Context()), userID)
	conn := newSocketConn(userID, ws)
	conn.Start()

	metrics.ChatSessionsActive.Inc()
	defer metrics.ChatSessionsActive.Dec()

	// The session outlives the upgrade request's deadline handling.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	view := chat.NewView(userID, h.conversations, h.messages, h.realtime, log)
	view.OnChange(func(s chat.Snapshot) {
		conn.SendJSON(&snapshotFrame{Type: "snapshot", Snapshot: s})
	})

	var inflight sync.WaitGroup
	defer func() {
		cancel()
		view.Close()
		inflight.Wait()
		conn.Close(websocket.CloseNormalClosure, "session closed")
		log.Debug("chat session ended", zap.String("session_id", conn.ID))
	}()

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	h.async(ctx, &inflight, conn, log, view.Refresh)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.SendJSON(&errorFrame{Type: "error", Code: "bad_request", Error: "invalid payload"})
			continue
		}
		if err := middleware.ValidateStruct(&frame); err != nil {
			conn.SendJSON(&errorFrame{Type: "error", Code: "bad_request", Error: err.Error()})
			continue
		}

		switch frame.Type {
		case "open":
			other := frame.OtherUserID
			h.async(ctx, &inflight, conn, log, func(ctx context.Context) error { return view.Open(ctx, other) })
		case "select":
			id := frame.ConversationID
			h.async(ctx, &inflight, conn, log, func(ctx context.Context) error { return view.Select(ctx, id) })
		case "refresh":
			h.async(ctx, &inflight, conn, log, view.Refresh)
		case "send":
			if err := middleware.ValidateMessageContent(frame.Content); err != nil {
				conn.SendJSON(&errorFrame{Type: "error", Code: "bad_request", Error: err.Error()})
				continue
			}
			// Sends run in order on the read loop.
			view.Compose(frame.Content)
			h.run(ctx, conn, log, view.SendDraft)
		case "close":
			return
		}
	}
}

func (h *SocketHandler) async(ctx context.Context, wg *sync.WaitGroup, conn *socketConn, log *logger.Logger, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.run(ctx, conn, log, fn)
	}()
}

func (h *SocketHandler) run(ctx context.Context, conn *socketConn, log *logger.Logger, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, h.inflightTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil || errors.Is(err, chat.ErrSuperseded) || errors.Is(err, chat.ErrClosed) {
		return
	}
	if errors.Is(err, chat.ErrNoActiveConversation) {
		conn.SendJSON(&errorFrame{Type: "error", Code: "no_active_conversation", Error: "open a conversation first"})
		return
	}
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Warn("chat action failed", zap.Error(err))
	}
	conn.SendJSON(&errorFrame{Type: "error", Code: errorCode(status), Error: msg})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// socketConn wraps a websocket and serialises writes through a buffered
// channel. It is safe for concurrent use.
type socketConn struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

func newSocketConn(userID string, ws *websocket.Conn) *socketConn {
	return &socketConn{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, socketSendQueue),
		closed: make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (c *socketConn) Start() {
	go c.writeLoop()
}

// SendJSON enqueues v for delivery. A client whose buffer is full is
// disconnected so backpressure stays bounded.
func (c *socketConn) SendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case <-c.closed:
	case c.send <- payload:
	default:
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
	}
}

// Close terminates the connection and stops the write loop.
func (c *socketConn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *socketConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		}
	}
}

func (c *socketConn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
