// Package model defines data structures for the messaging service.
package model

import (
	"time"
)

// Conversation is a two-party thread. User1ID always holds the smaller
// identifier of the pair so each unordered pair maps to a single row.
type Conversation struct {
	ID        string    `json:"id"`
	User1ID   string    `json:"user1_id"`
	User2ID   string    `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanonicalPair orders two user identifiers by ordinal comparison.
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// NewConversation builds a conversation between a and b in canonical order.
func NewConversation(id, a, b string, now time.Time) *Conversation {
	user1, user2 := CanonicalPair(a, b)
	return &Conversation{
		ID:        id,
		User1ID:   user1,
		User2ID:   user2,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasParticipant reports whether userID occupies either slot.
func (c *Conversation) HasParticipant(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	return c.User1ID == userID || c.User2ID == userID
}

// Connects reports whether the conversation is exactly between a and b.
func (c *Conversation) Connects(a, b string) bool {
	if c == nil {
		return false
	}
	return (c.User1ID == a && c.User2ID == b) || (c.User1ID == b && c.User2ID == a)
}

// Counterpart returns the participant that is not selfID.
func (c *Conversation) Counterpart(selfID string) string {
	if c.User1ID == selfID {
		return c.User2ID
	}
	return c.User1ID
}

// ConversationSummary is a conversation enriched for list rendering.
type ConversationSummary struct {
	Conversation
	OtherUser   Profile  `json:"other_user"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

// ResolveConversationRequest asks for the conversation with another user.
type ResolveConversationRequest struct {
	OtherUserID string `json:"other_user_id" validate:"required,max=128"`
}

// ResolveConversationResponse carries the resolved conversation.
type ResolveConversationResponse struct {
	ConversationID string        `json:"conversation_id"`
	Conversation   *Conversation `json:"conversation,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}
