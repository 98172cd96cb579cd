// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package store contains interfaces for storing messages, rooms and queued outgoing events.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/oklog/ulid/v2"
	"go.mau.fi/util/jsontime"

	"github.com/example/chatmodule/types"
)

var ErrOutboxDisabled = errors.New("offline outbox is disabled")

type MessageStore interface {
	// InsertMessage stores a message, replacing any existing message with the same ID.
	InsertMessage(ctx context.Context, msg *types.Message) error
	// UpdateMessage replaces an existing message. It returns false without storing anything if the
	// message is not known.
	UpdateMessage(ctx context.Context, msg *types.Message) (bool, error)
	// GetMessage returns nil if the message is not known.
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	FindByServerID(ctx context.Context, serverID string) (*types.Message, error)
	// GetMessagesForRoom returns the messages of a room sorted by timestamp.
	GetMessagesForRoom(ctx context.Context, roomID string) ([]*types.Message, error)
	AllMessages(ctx context.Context) ([]*types.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

type RoomStore interface {
	PutRoom(ctx context.Context, room *types.ChatRoom) error
	GetRoom(ctx context.Context, id string) (*types.ChatRoom, error)
	Rooms(ctx context.Context) ([]*types.ChatRoom, error)
	// TouchRoom records a new last message in the room, creating the room if necessary.
	// Incoming messages also increment the unread count.
	TouchRoom(ctx context.Context, msg *types.Message, incoming bool) error
	ResetUnread(ctx context.Context, roomID string) error
}

// OutboxEntry is an event that was emitted while the connection was down.
type OutboxEntry struct {
	ID         ulid.ULID          `json:"id"`
	MessageID  string             `json:"message_id,omitempty"`
	Event      string             `json:"event"`
	Payload    json.RawMessage    `json:"payload"`
	QueuedAt   jsontime.UnixMilli `json:"queued_at"`
	RetryCount int                `json:"retry_count"`
}

type OutboxStore interface {
	// Enqueue adds an entry to the end of the queue. If an entry with the same message ID is already
	// queued, it's replaced in place.
	Enqueue(ctx context.Context, entry *OutboxEntry) error
	// Pending returns all queued entries in the order they were queued.
	Pending(ctx context.Context) ([]*OutboxEntry, error)
	Remove(ctx context.Context, id ulid.ULID) error
	IncrementRetry(ctx context.Context, id ulid.ULID) (int, error)
	// CleanupFailed removes and returns the entries that have been retried at least maxRetries times.
	CleanupFailed(ctx context.Context, maxRetries int) ([]*OutboxEntry, error)
}

type AllStores interface {
	MessageStore
	RoomStore
	OutboxStore
}
