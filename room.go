// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/example/chatmodule/protocol"
	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
)

func (cli *Client) handleRoomConnected(data json.RawMessage) {
	roomID, ok := protocol.ExtractRoomID(data, &cli.mapping)
	if !ok {
		cli.recvLog.Warnf("Couldn't find room ID in %s payload", cli.mapping.EventName(protocol.EventRoomConnected))
		return
	}
	room, err := cli.ensureRoom(context.Background(), roomID)
	if err != nil {
		cli.recvLog.Errorf("Failed to store room %s: %v", roomID, err)
		return
	}
	cli.recvLog.Infof("Room %s connected", roomID)
	cli.dispatchEvent(&events.RoomCreated{Room: room, Raw: data})
}

func (cli *Client) ensureRoom(ctx context.Context, roomID string, participants ...string) (*types.ChatRoom, error) {
	room, err := cli.RoomStore.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	} else if room != nil {
		if len(room.Participants) == 0 && len(participants) > 0 {
			room.Participants = participants
			err = cli.RoomStore.PutRoom(ctx, room)
		}
		return room, err
	}
	now := time.Now()
	room = &types.ChatRoom{
		ID:           roomID,
		Name:         types.DefaultRoomName,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err = cli.RoomStore.PutRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// CreateRoom asks the server to create a room between the two users.
// The server answers with a roomConnected event, which is emitted as events.RoomCreated.
func (cli *Client) CreateRoom(ctx context.Context, senderID, receiverID string) error {
	_, err := cli.emit(ctx, emitRequest{
		event: cli.mapping.EventName(protocol.EventCreateRoom),
		data:  cli.mapping.CreateRoomParams(senderID, receiverID, ""),
	})
	return err
}

// CreateRoomAndWait creates a room like CreateRoom and waits for the server to confirm it.
//
// The room ID is taken from whichever comes first: the acknowledgement payload (only requested when
// AckTimeout is set) or the roomConnected event. A missing ack doesn't fail the call.
// ErrRoomTimeout is returned if ctx is done first.
func (cli *Client) CreateRoomAndWait(ctx context.Context, senderID, receiverID string) (*types.ChatRoom, error) {
	if cli.getSocket() == nil {
		return nil, ErrNotConnected
	}
	confirmed := make(chan string, 1)
	connectedEvent := cli.mapping.EventName(protocol.EventRoomConnected)
	listenerID := cli.Router.Once(connectedEvent, func(data json.RawMessage) {
		roomID, _ := protocol.ExtractRoomID(data, &cli.mapping)
		confirmed <- roomID
	})
	defer cli.Router.Off(connectedEvent, listenerID)

	emitCtx, cancelEmit := context.WithCancel(ctx)
	defer cancelEmit()
	emitDone := make(chan emitResult, 1)
	go func() {
		resp, err := cli.emit(emitCtx, emitRequest{
			event:   cli.mapping.EventName(protocol.EventCreateRoom),
			data:    cli.mapping.CreateRoomParams(senderID, receiverID, ""),
			waitAck: true,
		})
		emitDone <- emitResult{resp: resp, err: err}
	}()

	for {
		select {
		case res := <-emitDone:
			emitDone = nil
			if errors.Is(res.err, ErrAckTimeout) {
				cli.sendLog.Debugf("createRoom wasn't acknowledged, waiting for %s event", connectedEvent)
			} else if res.err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("%w: %w", ErrRoomTimeout, ctx.Err())
				}
				return nil, res.err
			} else if len(res.resp.Ack) > 0 {
				if roomID, ok := protocol.ExtractRoomID(res.resp.Ack[0], &cli.mapping); ok && roomID != "" {
					return cli.ensureRoom(ctx, roomID, senderID, receiverID)
				}
			}
		case roomID := <-confirmed:
			if roomID == "" {
				return nil, ErrRoomIDNotFound
			}
			return cli.ensureRoom(ctx, roomID, senderID, receiverID)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrRoomTimeout, ctx.Err())
		}
	}
}

// JoinRoom joins an existing room so that its messages are delivered to this client.
func (cli *Client) JoinRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrMissingRoomID
	}
	_, err := cli.emit(ctx, emitRequest{
		event: cli.mapping.EventName(protocol.EventJoinRoom),
		data:  cli.mapping.JoinRoomParams("", roomID),
	})
	if err != nil {
		return err
	}
	cli.joinedRooms.Add(roomID)
	_, err = cli.ensureRoom(ctx, roomID, cli.Config.CurrentUserID)
	return err
}

// LeaveRoom leaves a room that was joined with JoinRoom.
func (cli *Client) LeaveRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrMissingRoomID
	}
	_, err := cli.emit(ctx, emitRequest{
		event: cli.mapping.EventName(protocol.EventLeaveRoom),
		data:  cli.mapping.LeaveRoomParams("", roomID, cli.Config.CurrentUserID),
	})
	if err != nil {
		return err
	}
	cli.joinedRooms.Remove(roomID)
	return nil
}

// JoinedRooms returns the IDs of the rooms joined with JoinRoom, sorted.
func (cli *Client) JoinedRooms() []string {
	rooms := cli.joinedRooms.AsList()
	slices.Sort(rooms)
	return rooms
}

// SendTyping tells the other participants of the room whether the current user is typing.
// Typing notifications are never queued.
func (cli *Client) SendTyping(ctx context.Context, roomID string, typing bool) error {
	conn := cli.getSocket()
	if conn == nil {
		return ErrNotConnected
	} else if roomID == "" {
		return ErrMissingRoomID
	}
	params := cli.mapping.TypingParams(roomID, cli.Config.CurrentUserID, typing)
	return conn.Emit(ctx, cli.mapping.EventName(protocol.EventTyping), cli.mapping.AuthenticatedPayload(params, cli.Config.AuthToken))
}

// Rooms returns all known rooms, most recently active first.
func (cli *Client) Rooms(ctx context.Context) ([]*types.ChatRoom, error) {
	return cli.RoomStore.Rooms(ctx)
}

// Room returns the room with the given ID, or nil if it isn't known.
func (cli *Client) Room(ctx context.Context, roomID string) (*types.ChatRoom, error) {
	return cli.RoomStore.GetRoom(ctx, roomID)
}

// GetMessagesForRoom returns the messages of a room sorted by timestamp.
func (cli *Client) GetMessagesForRoom(ctx context.Context, roomID string) ([]*types.Message, error) {
	return cli.MessageStore.GetMessagesForRoom(ctx, roomID)
}
