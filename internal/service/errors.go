package service

import "errors"

var (
	// ErrUnauthenticated is returned when no current user is known.
	ErrUnauthenticated = errors.New("no authenticated user")
	// ErrInvalidParticipants rejects self conversations before any write.
	ErrInvalidParticipants = errors.New("invalid participants: a conversation needs two distinct users")
	// ErrResolutionFailed means the conversation could not be found or created.
	ErrResolutionFailed = errors.New("conversation resolution failed")
	// ErrConversationNotFound is returned for unknown conversations.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrNotParticipant is returned when the caller is not part of the conversation.
	ErrNotParticipant = errors.New("user is not a participant in the conversation")
	// ErrSendFailed means the message insert failed; the content may be resent.
	ErrSendFailed = errors.New("message send failed")
)
