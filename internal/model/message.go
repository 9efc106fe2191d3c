package model

import (
	"strings"
	"time"
)

// Message is an immutable entry in a conversation log. Only IsRead changes
// after creation, and only from false to true.
type Message struct {
	ID             string    `json:"id" validate:"required"`
	ConversationID string    `json:"conversation_id" validate:"required"`
	SenderID       string    `json:"sender_id" validate:"required"`
	Content        string    `json:"content" validate:"required"`
	CreatedAt      time.Time `json:"created_at" validate:"required"`
	IsRead         bool      `json:"is_read"`
}

// NormalizeContent trims content and reports whether anything is left.
func NormalizeContent(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	return trimmed, trimmed != ""
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}

// ListMessagesResponse is the response for a conversation history.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// MarkReadResponse reports how many messages were flipped to read.
type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
