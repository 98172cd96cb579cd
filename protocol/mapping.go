// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package protocol maps the internal chat vocabulary to the field and event names used on the wire.
package protocol

import (
	"maps"
)

// Parameter keys of the internal vocabulary.
const (
	ParamMessage      = "message"
	ParamType         = "type"
	ParamSenderID     = "senderId"
	ParamReceiverID   = "receiverId"
	ParamRoomID       = "roomId"
	ParamFileName     = "fileName"
	ParamName         = "name"
	ParamChatID       = "chatId"
	ParamToken        = "token"
	ParamMessageID    = "messageId"
	ParamTimestamp    = "timestamp"
	ParamFileSize     = "fileSize"
	ParamFileURL      = "fileUrl"
	ParamMimeType     = "mimeType"
	ParamThumbnailURL = "thumbnailUrl"
	ParamDuration     = "duration"
	ParamTyping       = "isTyping"
)

// Event keys of the internal vocabulary.
const (
	EventSendMessage      = "sendMessage"
	EventReceiveMessage   = "receiveMessage"
	EventMessageDelivered = "messageDelivered"
	EventMessageRead      = "messageRead"
	EventCreateRoom       = "createRoom"
	EventRoomConnected    = "roomConnected"
	EventJoinRoom         = "joinRoom"
	EventLeaveRoom        = "leaveRoom"
	EventTyping           = "typing"
)

var defaultParameterNames = map[string]string{
	ParamMessage:      "message",
	ParamType:         "type",
	ParamSenderID:     "senderId",
	ParamReceiverID:   "receiverId",
	ParamRoomID:       "roomId",
	ParamFileName:     "file_name",
	ParamName:         "name",
	ParamChatID:       "chatId",
	ParamToken:        "token",
	ParamMessageID:    "messageId",
	ParamTimestamp:    "timestamp",
	ParamFileSize:     "fileSize",
	ParamFileURL:      "fileUrl",
	ParamMimeType:     "mimeType",
	ParamThumbnailURL: "thumbnailUrl",
	ParamDuration:     "duration",
	ParamTyping:       "isTyping",
}

var defaultEventNames = map[string]string{
	EventSendMessage:      "sendMessage",
	EventReceiveMessage:   "newMessage",
	EventMessageDelivered: "messageDelivered",
	EventMessageRead:      "messageRead",
	EventCreateRoom:       "createRoom",
	EventRoomConnected:    "roomConnected",
	EventJoinRoom:         "joinRoom",
	EventLeaveRoom:        "leaveRoom",
	EventTyping:           "typing",
}

// Mapping translates internal parameter and event keys to wire names.
//
// Mappings are values: the With* methods return modified copies and never touch the receiver.
type Mapping struct {
	ParameterNames map[string]string `yaml:"parameter_names" json:"parameter_names"`
	EventNames     map[string]string `yaml:"event_names" json:"event_names"`
	// UseStringForMessageType sends the message type as a decimal string instead of a number.
	UseStringForMessageType bool `yaml:"use_string_for_message_type" json:"use_string_for_message_type"`
	// RoomIDResponseField overrides the field that room creation responses are searched for.
	RoomIDResponseField string `yaml:"room_id_response_field,omitempty" json:"room_id_response_field,omitempty"`
}

// DefaultMapping returns a new mapping with the default wire names.
func DefaultMapping() Mapping {
	return Mapping{
		ParameterNames: maps.Clone(defaultParameterNames),
		EventNames:     maps.Clone(defaultEventNames),
	}
}

// Clone returns a deep copy of the mapping.
func (m Mapping) Clone() Mapping {
	m.ParameterNames = maps.Clone(m.ParameterNames)
	m.EventNames = maps.Clone(m.EventNames)
	return m
}

func merge(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

// WithParameterNames returns a copy of the mapping with the given parameter names added or replaced.
func (m Mapping) WithParameterNames(names map[string]string) Mapping {
	m.ParameterNames = merge(m.ParameterNames, names)
	m.EventNames = maps.Clone(m.EventNames)
	return m
}

// WithEventNames returns a copy of the mapping with the given event names added or replaced.
func (m Mapping) WithEventNames(names map[string]string) Mapping {
	m.EventNames = merge(m.EventNames, names)
	m.ParameterNames = maps.Clone(m.ParameterNames)
	return m
}

// Param returns the wire name of a parameter key, or the key itself if it's not mapped.
func (m *Mapping) Param(key string) string {
	if name, ok := m.ParameterNames[key]; ok && name != "" {
		return name
	}
	return key
}

// EventName returns the wire name of an event key, or the key itself if it's not mapped.
func (m *Mapping) EventName(key string) string {
	if name, ok := m.EventNames[key]; ok && name != "" {
		return name
	}
	return key
}

// RoomIDField returns the field that room creation responses are searched for.
func (m *Mapping) RoomIDField() string {
	if m.RoomIDResponseField != "" {
		return m.RoomIDResponseField
	}
	return m.Param(ParamRoomID)
}

// Overrides is a shortcut for replacing the most commonly customized names. Empty fields are left as-is.
type Overrides struct {
	RoomIDField         string `yaml:"room_id_field" json:"room_id_field"`
	RoomIDResponseField string `yaml:"room_id_response_field" json:"room_id_response_field"`
	SenderIDField       string `yaml:"sender_id_field" json:"sender_id_field"`
	ReceiverIDField     string `yaml:"receiver_id_field" json:"receiver_id_field"`
	SendMessageEvent    string `yaml:"send_message_event" json:"send_message_event"`
	ReceiveMessageEvent string `yaml:"receive_message_event" json:"receive_message_event"`
	CreateRoomEvent     string `yaml:"create_room_event" json:"create_room_event"`
	RoomCreatedEvent    string `yaml:"room_created_event" json:"room_created_event"`
}

func setIfNotEmpty(target map[string]string, key, value string) {
	if value != "" {
		target[key] = value
	}
}

// Apply returns a copy of the mapping with the non-empty overrides applied.
func (m Mapping) Apply(o Overrides) Mapping {
	params := make(map[string]string)
	setIfNotEmpty(params, ParamRoomID, o.RoomIDField)
	setIfNotEmpty(params, ParamSenderID, o.SenderIDField)
	setIfNotEmpty(params, ParamReceiverID, o.ReceiverIDField)
	events := make(map[string]string)
	setIfNotEmpty(events, EventSendMessage, o.SendMessageEvent)
	setIfNotEmpty(events, EventReceiveMessage, o.ReceiveMessageEvent)
	setIfNotEmpty(events, EventCreateRoom, o.CreateRoomEvent)
	setIfNotEmpty(events, EventRoomConnected, o.RoomCreatedEvent)
	out := m.WithParameterNames(params).WithEventNames(events)
	if o.RoomIDResponseField != "" {
		out.RoomIDResponseField = o.RoomIDResponseField
	}
	return out
}
