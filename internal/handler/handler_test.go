package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostfound/messaging/internal/middleware"
	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/internal/profile"
	"github.com/lostfound/messaging/internal/realtime"
	"github.com/lostfound/messaging/internal/service"
	"github.com/lostfound/messaging/internal/store/memory"
	"github.com/lostfound/messaging/pkg/logger"
)

const testSecret = "handler-test-secret"

type testAPI struct {
	server *httptest.Server
	msgs   *memory.MessageStore
}

func newTestAPI(t *testing.T, checks map[string]CheckFunc) *testAPI {
	t.Helper()
	log := logger.Nop()

	convs := memory.NewConversationStore()
	msgs := memory.NewMessageStore(convs)
	profiles := profile.NewStaticProvider(model.Profile{ID: "owner", FullName: "Olive Owner"})

	convSvc := service.NewConversationService(convs, msgs, profiles, log)
	msgSvc := service.NewMessageService(convs, msgs, log)
	rt := realtime.NewManager(msgs, log, realtime.Options{})

	router := NewRouter(RouterConfig{
		JWTSecret:      testSecret,
		RequestTimeout: 5 * time.Second,
	}, Handlers{
		Health:        NewHealthHandler(checks),
		Conversations: NewConversationHandler(convSvc, log),
		Messages:      NewMessageHandler(msgSvc, log),
		Stream:        NewStreamHandler(msgSvc, convSvc, rt, log),
		Socket:        NewSocketHandler(convSvc, msgSvc, rt, nil, log),
	}, log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, msgs: msgs}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (a *testAPI) do(t *testing.T, userID, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.server.URL+path, r)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (a *testAPI) resolve(t *testing.T, self, other string) string {
	t.Helper()
	resp := a.do(t, self, http.MethodPost, "/api/v1/conversations", map[string]string{"other_user_id": other})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[model.ResolveConversationResponse](t, resp).ConversationID
}

func TestResolveEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	id := api.resolve(t, "finder", "owner")
	assert.Equal(t, id, api.resolve(t, "owner", "finder"))

	resp := api.do(t, "finder", http.MethodPost, "/api/v1/conversations", map[string]string{"other_user_id": "finder"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, "finder", http.MethodPost, "/api/v1/conversations", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, "", http.MethodPost, "/api/v1/conversations", map[string]string{"other_user_id": "owner"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, "finder", http.MethodGet, "/api/v1/conversations/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, "stranger", http.MethodGet, "/api/v1/conversations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, "finder", http.MethodGet, "/api/v1/conversations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	id := api.resolve(t, "finder", "owner")
	base := "/api/v1/conversations/" + id

	resp := api.do(t, "finder", http.MethodPost, base+"/messages", map[string]string{"content": "  Is this yours?  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[model.SendMessageResponse](t, resp)
	assert.Equal(t, "Is this yours?", sent.Message.Content)

	resp = api.do(t, "finder", http.MethodPost, base+"/messages", map[string]string{"content": "   "})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, "stranger", http.MethodPost, base+"/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(t, "owner", http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[model.ListConversationsResponse](t, resp)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	assert.Equal(t, model.UnknownUserName, list.Conversations[0].OtherUser.FullName)

	resp = api.do(t, "owner", http.MethodPost, base+"/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decode[model.MarkReadResponse](t, resp).Marked)

	resp = api.do(t, "owner", http.MethodGet, base+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[model.ListMessagesResponse](t, resp)
	require.Len(t, history.Messages, 1)
	assert.True(t, history.Messages[0].IsRead)

	resp = api.do(t, "finder", http.MethodGet, "/api/v1/conversations", nil)
	list = decode[model.ListConversationsResponse](t, resp)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "Olive Owner", list.Conversations[0].OtherUser.FullName)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t, map[string]CheckFunc{
		"ok":     func(context.Context) error { return nil },
		"broken": func(context.Context) error { return errors.New("down") },
	})

	resp := api.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = api.do(t, "", http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[map[string]interface{}](t, resp)
	assert.Contains(t, body["checks"], "broken")
	assert.NotContains(t, body["checks"], "ok")
}

type sseEvent struct {
	name string
	data string
}

func readEvents(scanner *bufio.Scanner, events chan<- sseEvent) {
	defer close(events)
	var ev sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events <- ev
			ev = sseEvent{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended before %q", name)
			if ev.name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %q event", name)
		}
	}
}

func TestStreamReplaysThenFollows(t *testing.T) {
	api := newTestAPI(t, nil)
	id := api.resolve(t, "finder", "owner")
	base := "/api/v1/conversations/" + id

	resp := api.do(t, "finder", http.MethodPost, base+"/messages", map[string]string{"content": "first"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.server.URL+base+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "owner"))

	stream, err := api.server.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	events := make(chan sseEvent, 16)
	go readEvents(bufio.NewScanner(stream.Body), events)

	nextEvent(t, events, "connected")
	replayed := nextEvent(t, events, "message")
	assert.Contains(t, replayed.data, `"content":"first"`)
	nextEvent(t, events, "replay_complete")

	resp = api.do(t, "finder", http.MethodPost, base+"/messages", map[string]string{"content": "second"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	live := nextEvent(t, events, "message")
	var msg model.Message
	require.NoError(t, json.Unmarshal([]byte(live.data), &msg))
	assert.Equal(t, "second", msg.Content)
}

func TestStreamRejectsOutsiders(t *testing.T) {
	api := newTestAPI(t, nil)
	id := api.resolve(t, "finder", "owner")

	resp := api.do(t, "stranger", http.MethodGet, "/api/v1/conversations/"+id+"/stream", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type socketFrame struct {
	Type     string `json:"type"`
	Code     string `json:"code"`
	Snapshot struct {
		State          string          `json:"state"`
		ConversationID string          `json:"conversation_id"`
		Messages       []model.Message `json:"messages"`
	} `json:"snapshot"`
}

func readFrameUntil(t *testing.T, ws *websocket.Conn, match func(socketFrame) bool) socketFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f socketFrame
		require.NoError(t, ws.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func TestSocketSession(t *testing.T) {
	api := newTestAPI(t, nil)

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/api/v1/ws?access_token=" + token(t, "finder")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "send", "content": "too early"}))
	errFrame := readFrameUntil(t, ws, func(f socketFrame) bool { return f.Type == "error" })
	assert.Equal(t, "no_active_conversation", errFrame.Code)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "bogus"}))
	errFrame = readFrameUntil(t, ws, func(f socketFrame) bool { return f.Type == "error" })
	assert.Equal(t, "bad_request", errFrame.Code)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "open", "other_user_id": "owner"}))
	live := readFrameUntil(t, ws, func(f socketFrame) bool {
		return f.Type == "snapshot" && f.Snapshot.State == "live"
	})
	convID := live.Snapshot.ConversationID
	require.NotEmpty(t, convID)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "send", "content": "found your wallet"}))
	withMsg := readFrameUntil(t, ws, func(f socketFrame) bool {
		return f.Type == "snapshot" && len(f.Snapshot.Messages) == 1
	})
	assert.Equal(t, "found your wallet", withMsg.Snapshot.Messages[0].Content)

	resp := api.do(t, "owner", http.MethodPost, "/api/v1/conversations/"+convID+"/messages", map[string]string{"content": "thank you!"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	readFrameUntil(t, ws, func(f socketFrame) bool {
		return f.Type == "snapshot" && len(f.Snapshot.Messages) == 2
	})

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "close"}))
	require.Eventually(t, func() bool { return api.msgs.Listeners(convID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSocketRequiresAuth(t *testing.T) {
	api := newTestAPI(t, nil)

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestContentLimitIsSharedByTransports(t *testing.T) {
	api := newTestAPI(t, nil)
	id := api.resolve(t, "finder", "owner")

	// 6000 runes, 12000 bytes.
	long := strings.Repeat("é", 6000)

	resp := api.do(t, "finder", http.MethodPost, "/api/v1/conversations/"+id+"/messages", map[string]string{"content": long})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/api/v1/ws?access_token=" + token(t, "finder")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "select", "conversation_id": id}))
	readFrameUntil(t, ws, func(f socketFrame) bool {
		return f.Type == "snapshot" && f.Snapshot.State == "live"
	})

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "send", "content": long}))
	errFrame := readFrameUntil(t, ws, func(f socketFrame) bool { return f.Type == "error" })
	assert.Equal(t, "bad_request", errFrame.Code)

	history, err := api.msgs.ListByConversation(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, history)
}
