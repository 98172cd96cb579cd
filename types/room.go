// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

import (
	"time"
)

// DefaultRoomName is the name given to rooms that were learned from a room creation response.
const DefaultRoomName = "Chat Room"

// ChatRoom is a conversation between the current user and one other participant.
type ChatRoom struct {
	ID           string
	Name         string
	Description  string
	ImageURL     string
	Participants []string
	LastMessage  *Message
	UnreadCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Metadata     map[string]string
}

// Clone returns a deep copy of the room.
func (room *ChatRoom) Clone() *ChatRoom {
	if room == nil {
		return nil
	}
	cp := *room
	cp.Participants = append([]string(nil), room.Participants...)
	cp.LastMessage = room.LastMessage.Clone()
	if room.Metadata != nil {
		cp.Metadata = make(map[string]string, len(room.Metadata))
		for k, v := range room.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// User is a chat participant.
type User struct {
	ID        string
	Name      string
	Email     string
	AvatarURL string
	IsOnline  bool
	LastSeen  time.Time
	Metadata  map[string]string
}
