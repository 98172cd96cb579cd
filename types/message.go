// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

import (
	"fmt"
	"strings"
	"time"

	"go.mau.fi/util/ptr"
)

// MessageType is the kind of content a message carries. The numeric value is what goes on the wire.
type MessageType int

const (
	MessageTypeText   MessageType = 0
	MessageTypeImage  MessageType = 1
	MessageTypeAudio  MessageType = 2
	MessageTypeFile   MessageType = 3
	MessageTypeSystem MessageType = 4
	MessageTypeVideo  MessageType = 5
)

// MessageTypeFromInt maps a wire value to a MessageType. Unknown values are treated as text.
func MessageTypeFromInt(value int) MessageType {
	switch mt := MessageType(value); mt {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio, MessageTypeFile, MessageTypeSystem, MessageTypeVideo:
		return mt
	default:
		return MessageTypeText
	}
}

// MessageTypeFromName maps a type name like "image" to a MessageType. Unknown names are treated as text.
func MessageTypeFromName(name string) MessageType {
	for mt := MessageTypeText; mt <= MessageTypeVideo; mt++ {
		if strings.EqualFold(mt.String(), strings.TrimSpace(name)) {
			return mt
		}
	}
	return MessageTypeText
}

func (mt MessageType) String() string {
	switch mt {
	case MessageTypeText:
		return "text"
	case MessageTypeImage:
		return "image"
	case MessageTypeAudio:
		return "audio"
	case MessageTypeFile:
		return "file"
	case MessageTypeSystem:
		return "system"
	case MessageTypeVideo:
		return "video"
	default:
		return fmt.Sprintf("MessageType(%d)", int(mt))
	}
}

// MessageStatus is the delivery state of a message.
//
// The order of the constants is meaningful: a status only ever moves towards MessageStatusRead,
// with the exception of MessageStatusFailed, which can be reached from the unacknowledged states.
type MessageStatus int

const (
	MessageStatusSending MessageStatus = iota
	MessageStatusSent
	MessageStatusDelivered
	MessageStatusRead
	MessageStatusFailed
)

func (ms MessageStatus) String() string {
	switch ms {
	case MessageStatusSending:
		return "SENDING"
	case MessageStatusSent:
		return "SENT"
	case MessageStatusDelivered:
		return "DELIVERED"
	case MessageStatusRead:
		return "READ"
	case MessageStatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("MessageStatus(%d)", int(ms))
	}
}

// CanAdvanceTo reports whether a message in status ms may be moved to next.
func (ms MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	switch {
	case ms == next:
		return false
	case next == MessageStatusFailed:
		return ms == MessageStatusSending || ms == MessageStatusSent
	case ms == MessageStatusFailed:
		return true
	default:
		return next > ms
	}
}

// Message is a single chat message, either created locally or received from the server.
type Message struct {
	ID         string // Local identifier. Generated for outgoing messages, taken from the server for incoming ones when available.
	ServerID   string // Identifier assigned by the server in an acknowledgement, if any.
	SenderID   string
	SenderName string
	ReceiverID string
	Content    string
	Type       MessageType
	Timestamp  time.Time
	Status     MessageStatus
	RoomID     string

	FileName *string
	FileSize *int64
	FileURL  *string
	MimeType *string

	ThumbnailURL *string
	Duration     *time.Duration // For audio and video

	ReplyToMessageID string
	Metadata         map[string]string

	IsLocal       bool // True for messages created by this client
	LocalFilePath string
}

// IsMedia returns true if the message carries an attachment.
func (msg *Message) IsMedia() bool {
	switch msg.Type {
	case MessageTypeImage, MessageTypeAudio, MessageTypeFile, MessageTypeVideo:
		return true
	default:
		return false
	}
}

// DisplayText returns a short human-readable representation of the message for chat lists.
func (msg *Message) DisplayText() string {
	switch msg.Type {
	case MessageTypeImage:
		return "📷 Image"
	case MessageTypeAudio:
		return "🎵 Audio message"
	case MessageTypeVideo:
		return "🎬 Video"
	case MessageTypeFile:
		if name := ptr.Val(msg.FileName); name != "" {
			return "📎 " + name
		}
		return "📎 File"
	default:
		return msg.Content
	}
}

// WithStatus returns a copy of the message with the status replaced.
func (msg Message) WithStatus(status MessageStatus) Message {
	msg.Status = status
	return msg
}

// Clone returns a deep copy of the message, so that the caller can't modify stored state.
func (msg *Message) Clone() *Message {
	if msg == nil {
		return nil
	}
	cp := *msg
	if msg.Metadata != nil {
		cp.Metadata = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.FileName = clonePtr(msg.FileName)
	cp.FileSize = clonePtr(msg.FileSize)
	cp.FileURL = clonePtr(msg.FileURL)
	cp.MimeType = clonePtr(msg.MimeType)
	cp.ThumbnailURL = clonePtr(msg.ThumbnailURL)
	cp.Duration = clonePtr(msg.Duration)
	return &cp
}

// SourceString returns a log-friendly representation of who sent the message and where.
func (msg *Message) SourceString() string {
	if msg.ReceiverID != "" {
		return fmt.Sprintf("%s to %s in %s", msg.SenderID, msg.ReceiverID, msg.RoomID)
	}
	return fmt.Sprintf("%s in %s", msg.SenderID, msg.RoomID)
}

func clonePtr[T any](val *T) *T {
	if val == nil {
		return nil
	}
	cp := *val
	return &cp
}
