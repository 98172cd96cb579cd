// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
)

func (cli *Client) handleReceivedMessage(data json.RawMessage) {
	ctx := context.Background()
	parsed, err := cli.mapping.ParseMessage(data)
	if err != nil {
		cli.recvLog.Warnf("Failed to parse incoming message: %v", err)
		return
	}

	cli.messageLock.Lock()
	existing, err := cli.findExisting(ctx, parsed)
	if err != nil {
		cli.messageLock.Unlock()
		cli.recvLog.Errorf("Failed to look up message %s: %v", parsed.ServerID, err)
		return
	}
	if existing != nil {
		old := existing.Status
		changed := mergeServerFields(existing, parsed)
		if changed {
			_, err = cli.MessageStore.UpdateMessage(ctx, existing)
		}
		cli.messageLock.Unlock()
		if err != nil {
			cli.recvLog.Errorf("Failed to update message %s: %v", existing.ID, err)
		} else if changed {
			cli.recvLog.Debugf("Reconciled server copy of message %s (server ID %s)", existing.ID, existing.ServerID)
			cli.dispatchEvent(&events.MessageUpdated{Message: existing.Clone(), Old: old})
		}
		return
	}

	msg := parsed
	msg.ID = msg.ServerID
	if msg.ID == "" {
		msg.ID = GenerateMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Status = types.MessageStatusDelivered
	incoming := msg.SenderID != cli.Config.CurrentUserID
	err = cli.MessageStore.InsertMessage(ctx, msg)
	if err == nil {
		err = cli.RoomStore.TouchRoom(ctx, msg, incoming)
	}
	cli.messageLock.Unlock()
	if err != nil {
		cli.recvLog.Errorf("Failed to store incoming message %s: %v", msg.ID, err)
		return
	}
	cli.recvLog.Debugf("Received %s message %s from %s", msg.Type, msg.ID, msg.SourceString())
	cli.dispatchEvent(&events.Message{Message: msg.Clone(), Raw: data})
}

// findExisting finds the local copy of an inbound message: first by ID, then by server ID, then by
// matching the server's echo of our own message by content. Must be called with messageLock held.
func (cli *Client) findExisting(ctx context.Context, parsed *types.Message) (*types.Message, error) {
	if parsed.ServerID != "" {
		if msg, err := cli.MessageStore.GetMessage(ctx, parsed.ServerID); err != nil || msg != nil {
			return msg, err
		} else if msg, err = cli.MessageStore.FindByServerID(ctx, parsed.ServerID); err != nil || msg != nil {
			return msg, err
		}
	}
	if parsed.SenderID != cli.Config.CurrentUserID {
		return nil, nil
	}
	roomMessages, err := cli.MessageStore.GetMessagesForRoom(ctx, parsed.RoomID)
	if err != nil {
		return nil, err
	}
	for _, msg := range roomMessages {
		if msg.IsLocal && msg.ServerID == "" &&
			(msg.Status == types.MessageStatusSending || msg.Status == types.MessageStatusSent) &&
			msg.Type == parsed.Type && msg.Content == parsed.Content {
			return msg, nil
		}
	}
	return nil, nil
}

func mergeServerFields(local, server *types.Message) bool {
	changed := false
	if server.ServerID != "" && local.ServerID == "" && server.ServerID != local.ID {
		local.ServerID = server.ServerID
		changed = true
	}
	if local.FileURL == nil && server.FileURL != nil {
		local.FileURL = server.FileURL
		changed = true
	}
	if local.ThumbnailURL == nil && server.ThumbnailURL != nil {
		local.ThumbnailURL = server.ThumbnailURL
		changed = true
	}
	if local.SenderName == "" && server.SenderName != "" {
		local.SenderName = server.SenderName
		changed = true
	}
	if local.Status.CanAdvanceTo(types.MessageStatusSent) {
		local.Status = types.MessageStatusSent
		changed = true
	}
	return changed
}

// Messages returns all known messages sorted by timestamp.
func (cli *Client) Messages(ctx context.Context) ([]*types.Message, error) {
	return cli.MessageStore.AllMessages(ctx)
}
