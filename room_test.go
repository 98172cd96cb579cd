// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chatmodule"
	"github.com/example/chatmodule/socket/sockettest"
	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
)

func TestCreateRoomAndWait(t *testing.T) {
	cli, srv := newConnectedClient(t)
	srv.Handle("createRoom", func(sess *sockettest.Session, args []json.RawMessage) []any {
		_ = sess.Emit("roomConnected", map[string]any{"roomId": "room-5"})
		return nil
	})
	ec := collectEvents(cli)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	room, err := cli.CreateRoomAndWait(ctx, "42", "7")
	require.NoError(t, err)
	assert.Equal(t, "room-5", room.ID)
	assert.Equal(t, types.DefaultRoomName, room.Name)
	assert.Equal(t, []string{"42", "7"}, room.Participants)

	created := waitForEvent[*events.RoomCreated](t, ec)
	assert.Equal(t, "room-5", created.Room.ID)

	evts := srv.ReceivedNamed("createRoom")
	require.Len(t, evts, 1)
	assert.Equal(t, map[string]any{"senderId": float64(42), "receiverId": float64(7), "token": "secret"}, evts[0].Arg(0))
	assert.Equal(t, 1, cli.Router.ListenerCount("roomConnected"))
}

func TestCreateRoomAndWaitAck(t *testing.T) {
	cli, srv := newConnectedClient(t, chatmodule.WithAckTimeout(time.Second))
	srv.Handle("createRoom", func(sess *sockettest.Session, args []json.RawMessage) []any {
		return []any{map[string]any{"data": map[string]any{"roomId": 6}}}
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	room, err := cli.CreateRoomAndWait(ctx, "42", "7")
	require.NoError(t, err)
	assert.Equal(t, "6", room.ID)
	stored, err := cli.Room(ctx, "6")
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestCreateRoomAndWaitWithoutAck(t *testing.T) {
	testCases := []struct {
		name  string
		delay time.Duration
	}{
		{"EventBeforeAckTimeout", 0},
		{"EventAfterAckTimeout", 300 * time.Millisecond},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cli, srv := newConnectedClient(t, chatmodule.WithAckTimeout(100*time.Millisecond))
			srv.DropAcks.Store(true)
			srv.Handle("createRoom", func(sess *sockettest.Session, args []json.RawMessage) []any {
				go func() {
					time.Sleep(tc.delay)
					_ = sess.Emit("roomConnected", map[string]any{"roomId": "room-5"})
				}()
				return nil
			})
			ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
			defer cancel()

			room, err := cli.CreateRoomAndWait(ctx, "42", "7")
			require.NoError(t, err)
			assert.Equal(t, "room-5", room.ID)
			assert.Equal(t, []string{"42", "7"}, room.Participants)
		})
	}
}

func TestCreateRoomAndWaitTimeout(t *testing.T) {
	cli, _ := newConnectedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := cli.CreateRoomAndWait(ctx, "42", "7")
	assert.ErrorIs(t, err, chatmodule.ErrRoomTimeout)

	cli.Disconnect()
	_, err = cli.CreateRoomAndWait(context.Background(), "42", "7")
	assert.ErrorIs(t, err, chatmodule.ErrNotConnected)
}

func TestRoomConnectedEvent(t *testing.T) {
	cli, srv := newConnectedClient(t)
	ec := collectEvents(cli)
	srv.Emit("roomConnected", "room-9")
	created := waitForEvent[*events.RoomCreated](t, ec)
	assert.Equal(t, "room-9", created.Room.ID)
	assert.JSONEq(t, `"room-9"`, string(created.Raw))

	rooms, err := cli.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, types.DefaultRoomName, rooms[0].Name)
}

func TestJoinAndLeaveRoom(t *testing.T) {
	cli, srv := newConnectedClient(t)
	ctx := context.Background()
	require.NoError(t, cli.JoinRoom(ctx, "room-1"))
	require.NoError(t, cli.JoinRoom(ctx, "room-0"))
	assert.Equal(t, []string{"room-0", "room-1"}, cli.JoinedRooms())

	joins := srv.WaitForEvent("joinRoom", 2, waitTimeout)
	require.Len(t, joins, 2)
	assert.Equal(t, map[string]any{"token": "secret", "roomId": "room-1"}, joins[0].Arg(0))

	require.NoError(t, cli.LeaveRoom(ctx, "room-1"))
	assert.Equal(t, []string{"room-0"}, cli.JoinedRooms())
	leaves := srv.WaitForEvent("leaveRoom", 1, waitTimeout)
	require.Len(t, leaves, 1)
	assert.Equal(t, map[string]any{"token": "secret", "roomId": "room-1", "senderId": "42"}, leaves[0].Arg(0))

	assert.ErrorIs(t, cli.JoinRoom(ctx, ""), chatmodule.ErrMissingRoomID)
}

func TestSendTyping(t *testing.T) {
	cli, srv := newConnectedClient(t)
	require.NoError(t, cli.SendTyping(context.Background(), "room-1", true))
	evts := srv.WaitForEvent("typing", 1, waitTimeout)
	require.Len(t, evts, 1)
	assert.Equal(t, map[string]any{"roomId": "room-1", "senderId": "42", "isTyping": true, "token": "secret"}, evts[0].Arg(0))

	cli.Disconnect()
	assert.ErrorIs(t, cli.SendTyping(context.Background(), "room-1", false), chatmodule.ErrNotConnected)
}
