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
	waLog "github.com/example/chatmodule/util/log"
)

func newOfflineClient(t *testing.T, opts ...chatmodule.Option) *chatmodule.Client {
	t.Helper()
	baseOpts := []chatmodule.Option{
		chatmodule.WithCurrentUser("42", "Alice"),
		chatmodule.WithReceiver("7"),
		chatmodule.WithNetworkChecker(chatmodule.AlwaysOnline),
	}
	cli, err := chatmodule.NewClient(chatmodule.NewConfig("http://127.0.0.1:1", "secret", append(baseOpts, opts...)...), waLog.Noop)
	require.NoError(t, err)
	return cli
}

func getMessage(t *testing.T, cli *chatmodule.Client, id string) *types.Message {
	t.Helper()
	msg, err := cli.MessageStore.GetMessage(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, msg, "message %s not found", id)
	return msg
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	noMedia := newOfflineClient(t, chatmodule.WithMediaMessages(false, false, false))
	_, err := noMedia.SendImage(ctx, "https://example.com/a.png", "r1", "")
	assert.ErrorIs(t, err, chatmodule.ErrFeatureDisabled)
	_, err = noMedia.SendAudio(ctx, "https://example.com/a.ogg", 3*time.Second, "r1")
	assert.ErrorIs(t, err, chatmodule.ErrFeatureDisabled)
	_, err = noMedia.SendVideo(ctx, "https://example.com/a.mp4", 10, time.Second, "r1")
	assert.ErrorIs(t, err, chatmodule.ErrFeatureDisabled)

	smallFiles := newOfflineClient(t, chatmodule.WithFileSharing(true, 10), chatmodule.WithVideoConfig(true, 20))
	_, err = smallFiles.SendFile(ctx, "https://example.com/a.pdf", "a.pdf", 100, "application/pdf", "r1")
	assert.ErrorIs(t, err, chatmodule.ErrFileTooLarge)
	_, err = smallFiles.SendVideo(ctx, "https://example.com/a.mp4", 15, time.Second, "r1")
	assert.NoError(t, err)
	_, err = smallFiles.SendVideo(ctx, "https://example.com/a.mp4", 25, time.Second, "r1")
	assert.ErrorIs(t, err, chatmodule.ErrFileTooLarge)

	noFiles := newOfflineClient(t, chatmodule.WithFileSharing(false, 10))
	_, err = noFiles.SendFile(ctx, "https://example.com/a.pdf", "a.pdf", 1, "application/pdf", "r1")
	assert.ErrorIs(t, err, chatmodule.ErrFeatureDisabled)

	_, err = noFiles.SendText(ctx, "   ", "r1")
	assert.ErrorIs(t, err, chatmodule.ErrEmptyMessage)
	_, err = noFiles.SendText(ctx, "hi", "")
	assert.ErrorIs(t, err, chatmodule.ErrMissingRoomID)

	msgs, err := noFiles.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendText(t *testing.T) {
	cli, srv := newConnectedClient(t)
	ec := collectEvents(cli)

	msg, err := cli.SendText(context.Background(), "Hello", "r1")
	require.NoError(t, err)
	assert.Equal(t, types.MessageStatusSent, msg.Status)
	assert.True(t, msg.IsLocal)
	assert.Equal(t, "42", msg.SenderID)
	assert.Equal(t, "7", msg.ReceiverID)

	inserted := waitForEvent[*events.MessageUpdated](t, ec)
	assert.Equal(t, types.MessageStatusSending, inserted.Message.Status)
	sent := waitForEvent[*events.MessageUpdated](t, ec)
	assert.Equal(t, types.MessageStatusSending, sent.Old)
	assert.Equal(t, types.MessageStatusSent, sent.Message.Status)

	evts := srv.WaitForEvent("sendMessage", 1, waitTimeout)
	require.Len(t, evts, 1)
	payload := evts[0].Arg(0)
	assert.Equal(t, "Hello", payload["message"])
	assert.Equal(t, float64(0), payload["type"])
	assert.Equal(t, "42", payload["senderId"])
	assert.Equal(t, "7", payload["receiverId"])
	assert.Equal(t, "r1", payload["roomId"])
	assert.Equal(t, "Alice", payload["name"])
	assert.Equal(t, "", payload["file_name"])
	assert.Equal(t, msg.ID, payload["messageId"])
	assert.Equal(t, "secret", payload["token"])

	room, err := cli.Room(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, msg.ID, room.LastMessage.ID)
	assert.Equal(t, 0, room.UnreadCount)
}

func TestSendWithAckAndReceipts(t *testing.T) {
	cli, srv := newConnectedClient(t, chatmodule.WithAckTimeout(time.Second))
	srv.Handle("sendMessage", func(sess *sockettest.Session, args []json.RawMessage) []any {
		return []any{map[string]any{"messageId": "srv-1"}}
	})
	msg, err := cli.SendText(context.Background(), "Hello", "r1")
	require.NoError(t, err)
	assert.Equal(t, types.MessageStatusSent, msg.Status)
	assert.Equal(t, "srv-1", msg.ServerID)

	ec := collectEvents(cli)
	srv.Emit("messageDelivered", map[string]any{"messageId": "srv-1", "roomId": "r1"})
	receipt := waitForEvent[*events.Receipt](t, ec)
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.Equal(t, events.ReceiptTypeDelivered, receipt.Type)
	assert.Equal(t, types.MessageStatusDelivered, getMessage(t, cli, msg.ID).Status)

	srv.Emit("messageRead", msg.ID)
	receipt = waitForEvent[*events.Receipt](t, ec)
	assert.Equal(t, events.ReceiptTypeRead, receipt.Type)
	assert.Equal(t, "r1", receipt.RoomID)
	assert.Equal(t, types.MessageStatusRead, getMessage(t, cli, msg.ID).Status)

	srv.Emit("messageDelivered", map[string]any{"messageId": "srv-1"})
	waitForEvent[*events.Receipt](t, ec)
	assert.Equal(t, types.MessageStatusRead, getMessage(t, cli, msg.ID).Status)
}

func TestSendAckTimeout(t *testing.T) {
	cli, srv := newConnectedClient(t, chatmodule.WithAckTimeout(100*time.Millisecond))
	srv.DropAcks.Store(true)
	msg, err := cli.SendText(context.Background(), "Hello", "r1")
	assert.ErrorIs(t, err, chatmodule.ErrAckTimeout)
	require.NotNil(t, msg)
	assert.Equal(t, types.MessageStatusFailed, msg.Status)
	assert.Equal(t, types.MessageStatusFailed, getMessage(t, cli, msg.ID).Status)
}

func TestSendOfflineQueued(t *testing.T) {
	srv := sockettest.NewServer()
	defer srv.Close()
	cli := newTestClient(t, srv)
	ctx := context.Background()

	msg, err := cli.SendText(ctx, "Queued", "r1")
	require.NoError(t, err)
	assert.Equal(t, types.MessageStatusSending, msg.Status)
	require.NoError(t, cli.Emit(ctx, "custom", nil))
	pending, err := cli.Outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, msg.ID, pending[0].MessageID)
	assert.NotContains(t, string(pending[0].Payload), "secret")

	ec := collectEvents(cli)
	require.NoError(t, cli.Connect(ctx))
	flushed := waitForEvent[*events.OutboxFlushed](t, ec)
	assert.Equal(t, 2, flushed.Sent)
	assert.Equal(t, 0, flushed.Failed)
	assert.Equal(t, 0, flushed.Left)

	evts := srv.WaitForEvent("sendMessage", 1, waitTimeout)
	require.Len(t, evts, 1)
	assert.Equal(t, "Queued", evts[0].Arg(0)["message"])
	assert.Equal(t, "secret", evts[0].Arg(0)["token"])
	custom := srv.WaitForEvent("custom", 1, waitTimeout)
	require.Len(t, custom, 1)
	assert.Equal(t, map[string]any{"token": "secret"}, custom[0].Arg(0))
	assert.Equal(t, types.MessageStatusSent, getMessage(t, cli, msg.ID).Status)
}

func TestSendOfflineRetriesExhausted(t *testing.T) {
	srv := sockettest.NewServer()
	defer srv.Close()
	srv.DropAcks.Store(true)
	cli := newTestClient(t, srv, chatmodule.WithAckTimeout(50*time.Millisecond), chatmodule.WithOutboxMaxRetries(1))
	ctx := context.Background()
	msg, err := cli.SendText(ctx, "Queued", "r1")
	require.NoError(t, err)

	ec := collectEvents(cli)
	require.NoError(t, cli.Connect(ctx))
	flushed := waitForEvent[*events.OutboxFlushed](t, ec)
	assert.Equal(t, 0, flushed.Sent)
	assert.Equal(t, 1, flushed.Failed)
	assert.Equal(t, 0, flushed.Left)
	assert.Equal(t, types.MessageStatusFailed, getMessage(t, cli, msg.ID).Status)
}

func TestSendOfflineDisabled(t *testing.T) {
	cli := newOfflineClient(t, chatmodule.WithOfflineMessages(false))
	msg, err := cli.SendText(context.Background(), "Hello", "r1")
	assert.ErrorIs(t, err, chatmodule.ErrNotConnected)
	require.NotNil(t, msg)
	assert.Equal(t, types.MessageStatusFailed, msg.Status)
	assert.ErrorIs(t, cli.Emit(context.Background(), "custom", nil), chatmodule.ErrNotConnected)
}

func TestReceiveMessage(t *testing.T) {
	cli, srv := newConnectedClient(t)
	ec := collectEvents(cli)
	ctx := context.Background()

	incoming := map[string]any{
		"senderId":  "7",
		"name":      "Bob",
		"roomId":    "r1",
		"message":   "Hi there",
		"type":      0,
		"messageId": "m1",
		"timestamp": time.Now().UnixMilli(),
	}
	srv.Emit("newMessage", incoming)
	evt := waitForEvent[*events.Message](t, ec)
	assert.Equal(t, "m1", evt.Message.ID)
	assert.Equal(t, "m1", evt.Message.ServerID)
	assert.Equal(t, "Bob", evt.Message.SenderName)
	assert.Equal(t, types.MessageStatusDelivered, evt.Message.Status)
	assert.False(t, evt.Message.IsLocal)

	// The same message again must not be stored twice
	srv.Emit("newMessage", incoming)
	srv.Emit("newMessage", map[string]any{"senderId": "7", "roomId": "r1", "message": "Second"})
	evt = waitForEvent[*events.Message](t, ec)
	assert.Equal(t, "Second", evt.Message.Content)
	assert.NotEmpty(t, evt.Message.ID)

	msgs, err := cli.GetMessagesForRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	room, err := cli.Room(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, room.UnreadCount)

	require.NoError(t, cli.MarkRoomRead(ctx, "r1"))
	reads := srv.WaitForEvent("messageRead", 2, waitTimeout)
	require.Len(t, reads, 2)
	assert.Equal(t, "m1", reads[0].Arg(0)["messageId"])
	assert.Equal(t, "r1", reads[0].Arg(0)["roomId"])
	room, err = cli.Room(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, room.UnreadCount)
	assert.Equal(t, types.MessageStatusRead, getMessage(t, cli, "m1").Status)
}

func TestReceiveOwnEcho(t *testing.T) {
	cli, srv := newConnectedClient(t)
	ctx := context.Background()
	msg, err := cli.SendText(ctx, "Hello", "r1")
	require.NoError(t, err)

	ec := collectEvents(cli)
	srv.Emit("newMessage", map[string]any{"senderId": "42", "roomId": "r1", "message": "Hello", "messageId": "srv-9"})
	updated := waitForEvent[*events.MessageUpdated](t, ec)
	assert.Equal(t, msg.ID, updated.Message.ID)
	assert.Equal(t, "srv-9", updated.Message.ServerID)

	msgs, err := cli.GetMessagesForRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	room, err := cli.Room(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, room.UnreadCount)
}

func TestReceiveInvalidMessageIgnored(t *testing.T) {
	cli, srv := newConnectedClient(t)
	ec := collectEvents(cli)
	srv.Emit("newMessage", map[string]any{"roomId": "r1"})
	srv.Emit("newMessage", map[string]any{"senderId": 7, "roomId": 3, "message": "ok"})
	evt := waitForEvent[*events.Message](t, ec)
	assert.Equal(t, "7", evt.Message.SenderID)
	assert.Equal(t, "3", evt.Message.RoomID)
	msgs, err := cli.Messages(context.Background())
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
