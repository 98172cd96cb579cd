// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/chatmodule/protocol"
	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
)

func receiptStatus(receiptType events.ReceiptType) types.MessageStatus {
	if receiptType == events.ReceiptTypeRead {
		return types.MessageStatusRead
	}
	return types.MessageStatusDelivered
}

func (cli *Client) lookupMessage(ctx context.Context, id string) (*types.Message, error) {
	msg, err := cli.MessageStore.GetMessage(ctx, id)
	if err != nil || msg != nil {
		return msg, err
	}
	return cli.MessageStore.FindByServerID(ctx, id)
}

func (cli *Client) handleReceipt(data json.RawMessage, receiptType events.ReceiptType) {
	ctx := context.Background()
	messageID, roomID, err := cli.mapping.ParseReceipt(data)
	if err != nil {
		cli.recvLog.Warnf("Failed to parse %s receipt: %v", receiptType, err)
		return
	}
	msg, err := cli.lookupMessage(ctx, messageID)
	if err != nil {
		cli.recvLog.Errorf("Failed to look up message %s for %s receipt: %v", messageID, receiptType, err)
		return
	} else if msg == nil {
		cli.recvLog.Debugf("Ignoring %s receipt for unknown message %s", receiptType, messageID)
		return
	}
	cli.setMessageStatus(ctx, msg.ID, receiptStatus(receiptType))
	if roomID == "" {
		roomID = msg.RoomID
	}
	cli.dispatchEvent(&events.Receipt{
		MessageID: msg.ID,
		RoomID:    roomID,
		Type:      receiptType,
		Timestamp: time.Now(),
	})
}

// MarkRoomRead sends read receipts for all unread incoming messages in the room and resets the
// room's unread count.
func (cli *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrMissingRoomID
	}
	msgs, err := cli.MessageStore.GetMessagesForRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get messages of %s: %w", roomID, err)
	}
	event := cli.mapping.EventName(protocol.EventMessageRead)
	var sent int
	for _, msg := range msgs {
		if msg.SenderID == cli.Config.CurrentUserID || msg.Status == types.MessageStatusRead {
			continue
		}
		serverID := msg.ServerID
		if serverID == "" {
			serverID = msg.ID
		}
		_, err = cli.emit(ctx, emitRequest{
			event: event,
			data:  cli.mapping.ReceiptParams(serverID, roomID),
		})
		if err != nil {
			return fmt.Errorf("failed to send read receipt for %s: %w", msg.ID, err)
		}
		cli.setMessageStatus(ctx, msg.ID, types.MessageStatusRead)
		sent++
	}
	cli.sendLog.Debugf("Marked %d messages in %s as read", sent, roomID)
	return cli.RoomStore.ResetUnread(ctx, roomID)
}
