package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair("u2", "u1")
	assert.Equal(t, "u1", a)
	assert.Equal(t, "u2", b)

	a, b = CanonicalPair("u1", "u2")
	assert.Equal(t, "u1", a)
	assert.Equal(t, "u2", b)

	// Ordinal, not case-folded.
	a, b = CanonicalPair("b", "B")
	assert.Equal(t, "B", a)
	assert.Equal(t, "b", b)
}

func TestConversationParticipants(t *testing.T) {
	conv := NewConversation("c1", "zed", "amy", time.Now())

	assert.Equal(t, "amy", conv.User1ID)
	assert.Equal(t, "zed", conv.User2ID)
	assert.True(t, conv.HasParticipant("amy"))
	assert.True(t, conv.HasParticipant("zed"))
	assert.False(t, conv.HasParticipant("bob"))
	assert.False(t, conv.HasParticipant(""))
	assert.True(t, conv.Connects("zed", "amy"))
	assert.True(t, conv.Connects("amy", "zed"))
	assert.False(t, conv.Connects("amy", "bob"))
	assert.Equal(t, "zed", conv.Counterpart("amy"))
	assert.Equal(t, "amy", conv.Counterpart("zed"))
}

func TestNormalizeContent(t *testing.T) {
	got, ok := NormalizeContent("  hello \n")
	assert.True(t, ok)
	assert.Equal(t, "hello", got)

	_, ok = NormalizeContent(" \t\n ")
	assert.False(t, ok)
}

func TestProfileDisplayName(t *testing.T) {
	assert.Equal(t, "Ada", Profile{FullName: "Ada", Email: "a@x"}.DisplayName())
	assert.Equal(t, "a@x", Profile{Email: "a@x"}.DisplayName())
	assert.Equal(t, "User", Profile{}.DisplayName())
	assert.Equal(t, UnknownUserName, PlaceholderProfile("u9").DisplayName())
}
