// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/example/chatmodule/types"
	waLog "github.com/example/chatmodule/util/log"
)

// MemoryStore keeps everything in memory. All returned values are copies.
type MemoryStore struct {
	log  waLog.Logger
	lock sync.RWMutex

	messages  map[string]*types.Message
	serverIDs map[string]string
	roomMsgs  map[string][]*types.Message
	rooms     map[string]*types.ChatRoom
	outbox    []*OutboxEntry
}

var _ AllStores = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store. The logger can be nil.
func NewMemoryStore(log waLog.Logger) *MemoryStore {
	if log == nil {
		log = waLog.Noop
	}
	return &MemoryStore{
		log:       log,
		messages:  make(map[string]*types.Message),
		serverIDs: make(map[string]string),
		roomMsgs:  make(map[string][]*types.Message),
		rooms:     make(map[string]*types.ChatRoom),
	}
}

func cloneAll(msgs []*types.Message) []*types.Message {
	out := make([]*types.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Clone()
	}
	return out
}

func (ms *MemoryStore) removeFromRoom(msg *types.Message) {
	list := ms.roomMsgs[msg.RoomID]
	index := slices.Index(list, msg)
	if index < 0 {
		return
	}
	list = slices.Delete(list, index, index+1)
	if len(list) == 0 {
		delete(ms.roomMsgs, msg.RoomID)
	} else {
		ms.roomMsgs[msg.RoomID] = list
	}
}

// insertSorted inserts the message after all messages with an equal or earlier timestamp.
func (ms *MemoryStore) insertSorted(msg *types.Message) {
	list := ms.roomMsgs[msg.RoomID]
	index := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp.After(msg.Timestamp)
	})
	ms.roomMsgs[msg.RoomID] = slices.Insert(list, index, msg)
}

func (ms *MemoryStore) put(msg *types.Message) {
	if existing, ok := ms.messages[msg.ID]; ok {
		ms.removeFromRoom(existing)
		if existing.ServerID != "" && existing.ServerID != msg.ServerID {
			delete(ms.serverIDs, existing.ServerID)
		}
	}
	stored := msg.Clone()
	ms.messages[msg.ID] = stored
	if msg.ServerID != "" {
		ms.serverIDs[msg.ServerID] = msg.ID
	}
	ms.insertSorted(stored)
}

func (ms *MemoryStore) InsertMessage(ctx context.Context, msg *types.Message) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	ms.put(msg)
	return nil
}

func (ms *MemoryStore) UpdateMessage(ctx context.Context, msg *types.Message) (bool, error) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	if _, ok := ms.messages[msg.ID]; !ok {
		ms.log.Debugf("Not updating unknown message %s", msg.ID)
		return false, nil
	}
	ms.put(msg)
	return true, nil
}

func (ms *MemoryStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return ms.messages[id].Clone(), nil
}

func (ms *MemoryStore) FindByServerID(ctx context.Context, serverID string) (*types.Message, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	id, ok := ms.serverIDs[serverID]
	if !ok {
		return nil, nil
	}
	return ms.messages[id].Clone(), nil
}

func (ms *MemoryStore) GetMessagesForRoom(ctx context.Context, roomID string) ([]*types.Message, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return cloneAll(ms.roomMsgs[roomID]), nil
}

func (ms *MemoryStore) AllMessages(ctx context.Context) ([]*types.Message, error) {
	ms.lock.RLock()
	out := make([]*types.Message, 0, len(ms.messages))
	for _, msg := range ms.messages {
		out = append(out, msg.Clone())
	}
	ms.lock.RUnlock()
	slices.SortStableFunc(out, func(a, b *types.Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		} else if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (ms *MemoryStore) DeleteMessage(ctx context.Context, id string) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	existing, ok := ms.messages[id]
	if !ok {
		return nil
	}
	ms.removeFromRoom(existing)
	delete(ms.messages, id)
	if existing.ServerID != "" {
		delete(ms.serverIDs, existing.ServerID)
	}
	return nil
}

func (ms *MemoryStore) PutRoom(ctx context.Context, room *types.ChatRoom) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	ms.rooms[room.ID] = room.Clone()
	return nil
}

func (ms *MemoryStore) GetRoom(ctx context.Context, id string) (*types.ChatRoom, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return ms.rooms[id].Clone(), nil
}

// Rooms returns all rooms, most recently updated first.
func (ms *MemoryStore) Rooms(ctx context.Context) ([]*types.ChatRoom, error) {
	ms.lock.RLock()
	out := make([]*types.ChatRoom, 0, len(ms.rooms))
	for _, room := range ms.rooms {
		out = append(out, room.Clone())
	}
	ms.lock.RUnlock()
	slices.SortFunc(out, func(a, b *types.ChatRoom) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		} else if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (ms *MemoryStore) TouchRoom(ctx context.Context, msg *types.Message, incoming bool) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	room, ok := ms.rooms[msg.RoomID]
	if !ok {
		now := time.Now()
		room = &types.ChatRoom{
			ID:        msg.RoomID,
			Name:      types.DefaultRoomName,
			CreatedAt: now,
		}
		ms.rooms[msg.RoomID] = room
	}
	if room.LastMessage == nil || !msg.Timestamp.Before(room.LastMessage.Timestamp) {
		room.LastMessage = msg.Clone()
		room.UpdatedAt = msg.Timestamp
	}
	if incoming {
		room.UnreadCount++
	}
	return nil
}

func (ms *MemoryStore) ResetUnread(ctx context.Context, roomID string) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	if room, ok := ms.rooms[roomID]; ok {
		room.UnreadCount = 0
	}
	return nil
}

func cloneEntry(entry *OutboxEntry) *OutboxEntry {
	cp := *entry
	cp.Payload = slices.Clone(entry.Payload)
	return &cp
}

func (ms *MemoryStore) Enqueue(ctx context.Context, entry *OutboxEntry) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	if entry.ID == (ulid.ULID{}) {
		entry.ID = ulid.Make()
	}
	if entry.MessageID != "" {
		for i, existing := range ms.outbox {
			if existing.MessageID == entry.MessageID {
				replacement := cloneEntry(entry)
				replacement.ID = existing.ID
				entry.ID = existing.ID
				ms.outbox[i] = replacement
				return nil
			}
		}
	}
	ms.outbox = append(ms.outbox, cloneEntry(entry))
	slices.SortStableFunc(ms.outbox, func(a, b *OutboxEntry) int {
		return a.ID.Compare(b.ID)
	})
	return nil
}

func (ms *MemoryStore) Pending(ctx context.Context) ([]*OutboxEntry, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	out := make([]*OutboxEntry, len(ms.outbox))
	for i, entry := range ms.outbox {
		out[i] = cloneEntry(entry)
	}
	return out, nil
}

func (ms *MemoryStore) Remove(ctx context.Context, id ulid.ULID) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	ms.outbox = slices.DeleteFunc(ms.outbox, func(entry *OutboxEntry) bool {
		return entry.ID == id
	})
	return nil
}

func (ms *MemoryStore) IncrementRetry(ctx context.Context, id ulid.ULID) (int, error) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	for _, entry := range ms.outbox {
		if entry.ID == id {
			entry.RetryCount++
			return entry.RetryCount, nil
		}
	}
	return 0, nil
}

func (ms *MemoryStore) CleanupFailed(ctx context.Context, maxRetries int) ([]*OutboxEntry, error) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	var removed []*OutboxEntry
	ms.outbox = slices.DeleteFunc(ms.outbox, func(entry *OutboxEntry) bool {
		if entry.RetryCount >= maxRetries {
			removed = append(removed, entry)
			return true
		}
		return false
	})
	if len(removed) > 0 {
		ms.log.Debugf("Dropped %d outbox entries after %d retries", len(removed), maxRetries)
	}
	return removed, nil
}
