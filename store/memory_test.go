// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/util/jsontime"

	"github.com/example/chatmodule/types"
)

var base = time.UnixMilli(1700000000000)

func msgAt(id, room string, offset time.Duration) *types.Message {
	return &types.Message{ID: id, RoomID: room, Content: id, Timestamp: base.Add(offset)}
}

func ids(msgs []*types.Message) []string {
	out := make([]string, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.ID
	}
	return out
}

func TestInsertKeepsRoomSorted(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(nil)
	require.NoError(t, ms.InsertMessage(ctx, msgAt("b", "r1", 2*time.Second)))
	require.NoError(t, ms.InsertMessage(ctx, msgAt("a", "r1", time.Second)))
	require.NoError(t, ms.InsertMessage(ctx, msgAt("c", "r1", 2*time.Second)))
	require.NoError(t, ms.InsertMessage(ctx, msgAt("x", "r2", 0)))

	msgs, err := ms.GetMessagesForRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(msgs))

	all, err := ms.AllMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "a", "b", "c"}, ids(all))
}

func TestInsertReplacesSameID(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(nil)
	require.NoError(t, ms.InsertMessage(ctx, msgAt("a", "r1", 0)))
	require.NoError(t, ms.InsertMessage(ctx, msgAt("b", "r1", time.Second)))
	moved := msgAt("a", "r1", 2*time.Second)
	moved.Content = "edited"
	require.NoError(t, ms.InsertMessage(ctx, moved))

	msgs, err := ms.GetMessagesForRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(msgs))
	assert.Equal(t, "edited", msgs[1].Content)
	all, _ := ms.AllMessages(ctx)
	assert.Len(t, all, 2)
}

func TestUpdateMessage(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(nil)
	found, err := ms.UpdateMessage(ctx, msgAt("missing", "r1", 0))
	require.NoError(t, err)
	assert.False(t, found)
	msgs, _ := ms.GetMessagesForRoom(ctx, "r1")
	assert.Empty(t, msgs)

	require.NoError(t, ms.InsertMessage(ctx, msgAt("a", "r1", 0)))
	update := msgAt("a", "r1", 0)
	update.Status = types.MessageStatusSent
	update.ServerID = "srv-1"
	found, err = ms.UpdateMessage(ctx, update)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := ms.FindByServerID(ctx, "srv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, types.MessageStatusSent, got.Status)

	require.NoError(t, ms.DeleteMessage(ctx, "a"))
	got, _ = ms.FindByServerID(ctx, "srv-1")
	assert.Nil(t, got)
	got, _ = ms.GetMessage(ctx, "a")
	assert.Nil(t, got)
}

func TestReturnedMessagesAreCopies(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(nil)
	msg := msgAt("a", "r1", 0)
	require.NoError(t, ms.InsertMessage(ctx, msg))
	msg.Content = "changed after insert"
	got, _ := ms.GetMessage(ctx, "a")
	assert.Equal(t, "a", got.Content)
	got.Content = "changed after get"
	again, _ := ms.GetMessage(ctx, "a")
	assert.Equal(t, "a", again.Content)
}

func TestRooms(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(nil)
	require.NoError(t, ms.PutRoom(ctx, &types.ChatRoom{ID: "r1", Name: "First", UpdatedAt: base}))
	require.NoError(t, ms.TouchRoom(ctx, msgAt("m1", "r2", time.Minute), true))
	require.NoError(t, ms.TouchRoom(ctx, msgAt("m2", "r2", 2*time.Minute), true))
	require.NoError(t, ms.TouchRoom(ctx, msgAt("m0", "r2", 0), false))

	room, err := ms.GetRoom(ctx, "r2")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, types.DefaultRoomName, room.Name)
	assert.Equal(t, 2, room.UnreadCount)
	assert.Equal(t, "m2", room.LastMessage.ID)

	rooms, err := ms.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "r2", rooms[0].ID)

	require.NoError(t, ms.ResetUnread(ctx, "r2"))
	room, _ = ms.GetRoom(ctx, "r2")
	assert.Equal(t, 0, room.UnreadCount)
	missing, _ := ms.GetRoom(ctx, "nope")
	assert.Nil(t, missing)
}

func TestOutboxFIFO(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(nil)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, ms.Enqueue(ctx, &OutboxEntry{
			MessageID: id,
			Event:     "sendMessage",
			Payload:   json.RawMessage(`{"id":"` + id + `"}`),
			QueuedAt:  jsontime.UnixMilliNow(),
		}))
	}
	// Re-queueing keeps the original position
	require.NoError(t, ms.Enqueue(ctx, &OutboxEntry{MessageID: "m1", Event: "sendMessage", Payload: json.RawMessage(`{"v":2}`)}))
	pending, err := ms.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "m1", pending[0].MessageID)
	assert.JSONEq(t, `{"v":2}`, string(pending[0].Payload))
	assert.Equal(t, "m2", pending[1].MessageID)
	assert.Equal(t, "m3", pending[2].MessageID)

	require.NoError(t, ms.Remove(ctx, pending[1].ID))
	pending, _ = ms.Pending(ctx)
	assert.Len(t, pending, 2)
}

func TestOutboxCleanupFailed(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore(nil)
	first := &OutboxEntry{MessageID: "m1", Event: "sendMessage"}
	second := &OutboxEntry{MessageID: "m2", Event: "sendMessage"}
	require.NoError(t, ms.Enqueue(ctx, first))
	require.NoError(t, ms.Enqueue(ctx, second))
	for i := 1; i <= 3; i++ {
		count, err := ms.IncrementRetry(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}
	removed, err := ms.CleanupFailed(ctx, 3)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "m1", removed[0].MessageID)
	pending, _ := ms.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, "m2", pending[0].MessageID)
}

func TestNoopOutbox(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, DisabledOutbox.Enqueue(ctx, &OutboxEntry{}), ErrOutboxDisabled)
	pending, err := DisabledOutbox.Pending(ctx)
	assert.NoError(t, err)
	assert.Empty(t, pending)
}
