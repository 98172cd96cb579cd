// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package events contains all the events that chatmodule.Client emits to functions registered with AddEventHandler.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/chatmodule/types"
)

// Connected is emitted when the client has successfully connected to the chat server and the
// namespace handshake has completed.
type Connected struct{}

// Reconnected is emitted instead of Connected when the connection was re-established by the
// automatic reconnection loop.
type Reconnected struct {
	Attempts int
}

// Disconnected is emitted when the socket is closed. Remote is false when the disconnection was
// requested with Client.Disconnect.
type Disconnected struct {
	Reason string
	Remote bool
}

// ConnectFailure is emitted when connecting fails, either on the initial attempt or on a
// reconnection attempt.
type ConnectFailure struct {
	Err     error
	Attempt int
}

// ReconnectFailed is emitted when all automatic reconnection attempts have been used up.
// The client is in StateFailed after this and will only reconnect when Connect is called again.
type ReconnectFailed struct {
	Attempts int
}

// ConnectionStateChanged is emitted on every transition of the connection state machine.
type ConnectionStateChanged struct {
	Old types.ConnectionState
	New types.ConnectionState
	Err error
}

// NetworkChanged is emitted when Client.UpdateNetworkStatus notices a change in network availability.
type NetworkChanged struct {
	Online bool
}

// Message is emitted when receiving a new message from another user.
type Message struct {
	Message *types.Message
	Raw     json.RawMessage
}

// MessageUpdated is emitted whenever a message in the local store is inserted or changes,
// including local-first inserts of outgoing messages and status changes.
type MessageUpdated struct {
	Message *types.Message
	Old     types.MessageStatus
}

type ReceiptType string

const (
	ReceiptTypeDelivered ReceiptType = "delivered"
	ReceiptTypeRead      ReceiptType = "read"
)

func (rt ReceiptType) GoString() string {
	switch rt {
	case ReceiptTypeRead:
		return "ReceiptTypeRead"
	case ReceiptTypeDelivered:
		return "ReceiptTypeDelivered"
	default:
		return fmt.Sprintf("ReceiptType(%#v)", string(rt))
	}
}

// Receipt is emitted when an outgoing message is delivered to or read by the other user.
type Receipt struct {
	MessageID string
	RoomID    string
	Type      ReceiptType
	Timestamp time.Time
}

// RoomCreated is emitted when the server confirms the creation of (or connection to) a room.
type RoomCreated struct {
	Room *types.ChatRoom
	Raw  json.RawMessage
}

// OutboxFlushed is emitted after queued offline emits have been sent following a (re)connection.
type OutboxFlushed struct {
	Sent   int
	Failed int
	Left   int
}
