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
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/ptr"

	"github.com/example/chatmodule/protocol"
	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
)

// GenerateMessageID generates a random local message ID.
func GenerateMessageID() string {
	return uuid.NewString()
}

// SendText sends a plain text message to the given room.
func (cli *Client) SendText(ctx context.Context, content, roomID string) (*types.Message, error) {
	return cli.SendMessage(ctx, &types.Message{
		Content: content,
		Type:    types.MessageTypeText,
		RoomID:  roomID,
	})
}

// SendImage sends an image that has already been uploaded to the given URL.
func (cli *Client) SendImage(ctx context.Context, imageURL, roomID, thumbnailURL string) (*types.Message, error) {
	msg := &types.Message{
		Content:  "Image",
		Type:     types.MessageTypeImage,
		RoomID:   roomID,
		FileURL:  ptr.Ptr(imageURL),
		MimeType: ptr.Ptr("image/*"),
	}
	if thumbnailURL != "" {
		msg.ThumbnailURL = ptr.Ptr(thumbnailURL)
	}
	return cli.SendMessage(ctx, msg)
}

// SendFile sends a file attachment. The file name is also used as the message content.
func (cli *Client) SendFile(ctx context.Context, fileURL, fileName string, fileSize int64, mimeType, roomID string) (*types.Message, error) {
	return cli.SendMessage(ctx, &types.Message{
		Content:  fileName,
		Type:     types.MessageTypeFile,
		RoomID:   roomID,
		FileName: ptr.Ptr(fileName),
		FileSize: ptr.Ptr(fileSize),
		FileURL:  ptr.Ptr(fileURL),
		MimeType: ptr.Ptr(mimeType),
	})
}

// SendAudio sends a voice message.
func (cli *Client) SendAudio(ctx context.Context, audioURL string, duration time.Duration, roomID string) (*types.Message, error) {
	return cli.SendMessage(ctx, &types.Message{
		Content:  "Audio message",
		Type:     types.MessageTypeAudio,
		RoomID:   roomID,
		FileURL:  ptr.Ptr(audioURL),
		Duration: ptr.Ptr(duration),
		MimeType: ptr.Ptr("audio/*"),
	})
}

// SendVideo sends a video. The size is checked against Config.MaxVideoSize.
func (cli *Client) SendVideo(ctx context.Context, videoURL string, size int64, duration time.Duration, roomID string) (*types.Message, error) {
	return cli.SendMessage(ctx, &types.Message{
		Content:  "Video",
		Type:     types.MessageTypeVideo,
		RoomID:   roomID,
		FileURL:  ptr.Ptr(videoURL),
		FileSize: ptr.Ptr(size),
		Duration: ptr.Ptr(duration),
		MimeType: ptr.Ptr("video/*"),
	})
}

func (cli *Client) checkSendable(msg *types.Message) error {
	if msg.RoomID == "" {
		return ErrMissingRoomID
	}
	var enabled bool
	limit := cli.Config.MaxFileSize
	switch msg.Type {
	case types.MessageTypeImage:
		enabled = cli.Config.EnableImageMessages
	case types.MessageTypeAudio:
		enabled = cli.Config.EnableAudioMessages
	case types.MessageTypeFile:
		enabled = cli.Config.EnableFileSharing
	case types.MessageTypeVideo:
		enabled = cli.Config.EnableVideoMessages
		limit = cli.Config.MaxVideoSize
	default:
		if strings.TrimSpace(msg.Content) == "" {
			return ErrEmptyMessage
		}
		return nil
	}
	if !enabled {
		return fmt.Errorf("%w: %s", ErrFeatureDisabled, msg.Type)
	} else if msg.FileSize != nil && *msg.FileSize > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, *msg.FileSize, limit)
	}
	return nil
}

// SendMessage sends a message to the room in msg.RoomID.
//
// The message is stored locally with status SENDING before anything is sent, so it shows up in
// GetMessagesForRoom immediately. Empty sender and receiver fields are filled from the config.
//
// If the client isn't connected and offline messages are enabled, the message is queued and returned
// with status SENDING and a nil error. If sending fails, the message is marked as FAILED and returned
// along with the error. Validation errors return a nil message.
func (cli *Client) SendMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	if msg == nil {
		return nil, ErrEmptyMessage
	} else if err := cli.checkSendable(msg); err != nil {
		return nil, err
	}
	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = GenerateMessageID()
	}
	if msg.SenderID == "" {
		msg.SenderID = cli.Config.CurrentUserID
	}
	if msg.SenderName == "" {
		msg.SenderName = cli.Config.CurrentUserName
	}
	if msg.ReceiverID == "" {
		msg.ReceiverID = cli.Config.ReceiverID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Status = types.MessageStatusSending
	msg.IsLocal = true

	cli.messageLock.Lock()
	err := cli.MessageStore.InsertMessage(ctx, msg)
	if err == nil {
		err = cli.RoomStore.TouchRoom(ctx, msg, false)
	}
	cli.messageLock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	cli.dispatchEvent(&events.MessageUpdated{Message: msg.Clone(), Old: types.MessageStatusSending})
	cli.sendLog.Debugf("Sending %s message %s to %s", msg.Type, msg.ID, msg.RoomID)

	resp, err := cli.emit(ctx, emitRequest{
		event:     cli.mapping.EventName(protocol.EventSendMessage),
		data:      cli.mapping.MessageParams(msg),
		messageID: msg.ID,
		waitAck:   true,
	})
	if err != nil {
		cli.sendLog.Warnf("Failed to send message %s: %v", msg.ID, err)
		if updated := cli.setMessageStatus(ctx, msg.ID, types.MessageStatusFailed); updated != nil {
			msg = updated
		}
		return msg, err
	} else if resp.Queued {
		return msg, nil
	}
	if updated := cli.markSent(ctx, msg.ID, resp.Ack); updated != nil {
		msg = updated
	}
	return msg, nil
}

// markSent moves a message to SENT and stores the server ID found in the ack payload, if any.
func (cli *Client) markSent(ctx context.Context, id string, ack []json.RawMessage) *types.Message {
	var serverID string
	if len(ack) > 0 {
		serverID, _, _ = cli.mapping.ParseReceipt(ack[0])
	}
	return cli.modifyMessage(ctx, id, func(msg *types.Message) bool {
		changed := false
		if serverID != "" && serverID != msg.ID && msg.ServerID == "" {
			msg.ServerID = serverID
			changed = true
		}
		if msg.Status.CanAdvanceTo(types.MessageStatusSent) {
			msg.Status = types.MessageStatusSent
			changed = true
		}
		return changed
	})
}

func (cli *Client) setMessageStatus(ctx context.Context, id string, status types.MessageStatus) *types.Message {
	return cli.modifyMessage(ctx, id, func(msg *types.Message) bool {
		if !msg.Status.CanAdvanceTo(status) {
			return false
		}
		msg.Status = status
		return true
	})
}

// modifyMessage applies fn to the stored message and saves it if fn returns true.
// The resulting message is returned, or nil if the message isn't known.
func (cli *Client) modifyMessage(ctx context.Context, id string, fn func(msg *types.Message) bool) *types.Message {
	cli.messageLock.Lock()
	msg, err := cli.MessageStore.GetMessage(ctx, id)
	if err != nil || msg == nil {
		cli.messageLock.Unlock()
		if err != nil {
			cli.Log.Errorf("Failed to get message %s: %v", id, err)
		}
		return nil
	}
	old := msg.Status
	if !fn(msg) {
		cli.messageLock.Unlock()
		return msg
	}
	_, err = cli.MessageStore.UpdateMessage(ctx, msg)
	cli.messageLock.Unlock()
	if err != nil {
		cli.Log.Errorf("Failed to update message %s: %v", id, err)
		return nil
	}
	cli.Log.Debugf("Message %s status %s -> %s", id, old, msg.Status)
	cli.dispatchEvent(&events.MessageUpdated{Message: msg.Clone(), Old: old})
	return msg
}
