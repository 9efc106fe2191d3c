package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostfound/messaging/pkg/logger"
)

func TestSendPersistsAndBumpsActivity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	convID, err := f.convSvc.Resolve(ctx, "u1", "u2")
	require.NoError(t, err)
	before, err := f.mem.Get(ctx, convID)
	require.NoError(t, err)

	msg, err := f.msgSvc.Send(ctx, convID, "u1", "  I found a blue backpack  ")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "I found a blue backpack", msg.Content)
	assert.Equal(t, "u1", msg.SenderID)
	assert.False(t, msg.IsRead)

	after, err := f.mem.Get(ctx, convID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.False(t, after.UpdatedAt.Before(msg.CreatedAt))
	assert.EqualValues(t, 1, f.convs.touches.Load())

	stored, ok := f.msgs.Get(convID, msg.ID)
	require.True(t, ok)
	assert.Equal(t, msg.Content, stored.Content)
}

func TestSendIgnoresBlankContent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	convID, err := f.convSvc.Resolve(ctx, "u1", "u2")
	require.NoError(t, err)

	for _, content := range []string{"", "   ", "\n\t "} {
		msg, err := f.msgSvc.Send(ctx, convID, "u1", content)
		require.NoError(t, err)
		assert.Nil(t, msg)
	}

	history, err := f.msgSvc.History(ctx, convID, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Zero(t, f.convs.touches.Load())
}

func TestSendRejectsOutsiders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	convID, err := f.convSvc.Resolve(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = f.msgSvc.Send(ctx, convID, "u3", "hello")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.msgSvc.Send(ctx, "missing", "u1", "hello")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = f.msgSvc.Send(ctx, convID, "", "hello")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSendReportsInsertFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	convID, err := f.convSvc.Resolve(ctx, "u1", "u2")
	require.NoError(t, err)

	svc := NewMessageService(f.convs, &failingMessages{MessageStore: f.msgs}, logger.Nop())
	_, err = svc.Send(ctx, convID, "u1", "hello")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Zero(t, f.convs.touches.Load())
}

func TestMarkReadOnlyTouchesIncoming(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	convID, err := f.convSvc.Resolve(ctx, "u1", "u2")
	require.NoError(t, err)
	otherID, err := f.convSvc.Resolve(ctx, "u2", "u3")
	require.NoError(t, err)

	_, err = f.msgSvc.Send(ctx, convID, "u1", "from u1")
	require.NoError(t, err)
	_, err = f.msgSvc.Send(ctx, convID, "u2", "from u2")
	require.NoError(t, err)
	_, err = f.msgSvc.Send(ctx, convID, "u2", "again from u2")
	require.NoError(t, err)
	_, err = f.msgSvc.Send(ctx, otherID, "u3", "elsewhere")
	require.NoError(t, err)

	n, err := f.msgSvc.MarkRead(ctx, convID, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	history, err := f.msgSvc.History(ctx, convID, "u1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, m := range history {
		if m.SenderID == "u1" {
			assert.False(t, m.IsRead, "own messages stay unread")
		} else {
			assert.True(t, m.IsRead)
		}
	}

	elsewhere, err := f.msgSvc.History(ctx, otherID, "u2")
	require.NoError(t, err)
	require.Len(t, elsewhere, 1)
	assert.False(t, elsewhere[0].IsRead)

	n, err = f.msgSvc.MarkRead(ctx, convID, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.msgSvc.MarkRead(ctx, convID, "u3")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestHistoryIsChronological(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	convID, err := f.convSvc.Resolve(ctx, "finder", "owner")
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.msgSvc.Send(ctx, convID, "finder", text)
		require.NoError(t, err)
	}

	history, err := f.msgSvc.History(ctx, convID, "owner")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
}

// A finder and an owner meet for the first time, talk, and the owner reads.
func TestFirstContactScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	idA, err := f.convSvc.Resolve(ctx, "user-a", "user-b")
	require.NoError(t, err)
	idB, err := f.convSvc.Resolve(ctx, "user-b", "user-a")
	require.NoError(t, err)
	require.Equal(t, idA, idB)

	_, err = f.msgSvc.Send(ctx, idA, "user-a", "hi")
	require.NoError(t, err)
	_, err = f.msgSvc.Send(ctx, idA, "user-b", "hello")
	require.NoError(t, err)

	list, err := f.convSvc.List(ctx, "user-b")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "hello", list[0].LastMessage.Content)

	n, err := f.msgSvc.MarkRead(ctx, idA, "user-b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	list, err = f.convSvc.List(ctx, "user-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, 1, f.mem.Len())
}
