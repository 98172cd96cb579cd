// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"encoding/json"
	"maps"
	"strconv"

	"go.mau.fi/util/ptr"

	"github.com/example/chatmodule/types"
)

// TypeValue returns the wire representation of a message type.
func (m *Mapping) TypeValue(t types.MessageType) any {
	if m.UseStringForMessageType {
		return strconv.Itoa(int(t))
	}
	return int(t)
}

// MessageParams builds the payload of a sendMessage event.
func (m *Mapping) MessageParams(msg *types.Message) map[string]any {
	params := map[string]any{
		m.Param(ParamMessage):    msg.Content,
		m.Param(ParamType):       m.TypeValue(msg.Type),
		m.Param(ParamSenderID):   msg.SenderID,
		m.Param(ParamReceiverID): msg.ReceiverID,
		m.Param(ParamRoomID):     msg.RoomID,
		m.Param(ParamFileName):   ptr.Val(msg.FileName),
		m.Param(ParamName):       msg.SenderName,
		m.Param(ParamMessageID):  msg.ID,
		m.Param(ParamTimestamp):  msg.Timestamp.UnixMilli(),
	}
	if msg.FileURL != nil {
		params[m.Param(ParamFileURL)] = *msg.FileURL
	}
	if msg.FileSize != nil {
		params[m.Param(ParamFileSize)] = *msg.FileSize
	}
	if msg.MimeType != nil {
		params[m.Param(ParamMimeType)] = *msg.MimeType
	}
	if msg.ThumbnailURL != nil {
		params[m.Param(ParamThumbnailURL)] = *msg.ThumbnailURL
	}
	if msg.Duration != nil {
		params[m.Param(ParamDuration)] = msg.Duration.Milliseconds()
	}
	return params
}

// numericID sends purely numeric user IDs as numbers, the way room creation endpoints expect them.
func numericID(id string) any {
	if val, err := strconv.ParseInt(id, 10, 64); err == nil {
		return val
	}
	return id
}

// CreateRoomParams builds the createRoom payload. Numeric user IDs are sent as numbers.
func (m *Mapping) CreateRoomParams(senderID, receiverID, token string) map[string]any {
	return map[string]any{
		m.Param(ParamSenderID):   numericID(senderID),
		m.Param(ParamReceiverID): numericID(receiverID),
		m.Param(ParamToken):      token,
	}
}

// JoinRoomParams builds the joinRoom payload.
func (m *Mapping) JoinRoomParams(token, roomID string) map[string]any {
	return map[string]any{
		m.Param(ParamToken):  token,
		m.Param(ParamRoomID): roomID,
	}
}

// LeaveRoomParams builds the leaveRoom payload.
func (m *Mapping) LeaveRoomParams(token, roomID, senderID string) map[string]any {
	return map[string]any{
		m.Param(ParamToken):    token,
		m.Param(ParamRoomID):   roomID,
		m.Param(ParamSenderID): senderID,
	}
}

// ReceiptParams builds the payload of a messageDelivered or messageRead event.
func (m *Mapping) ReceiptParams(messageID, roomID string) map[string]any {
	params := map[string]any{
		m.Param(ParamMessageID): messageID,
	}
	if roomID != "" {
		params[m.Param(ParamRoomID)] = roomID
	}
	return params
}

// TypingParams builds the payload of a typing indicator.
func (m *Mapping) TypingParams(roomID, senderID string, typing bool) map[string]any {
	return map[string]any{
		m.Param(ParamRoomID):   roomID,
		m.Param(ParamSenderID): senderID,
		m.Param(ParamTyping):   typing,
	}
}

// AuthenticatedPayload adds the auth token to an outgoing payload.
//
// Objects (maps, structs, JSON object strings) get the token as an extra field. Anything that doesn't
// encode to a JSON object is wrapped as {token, data}. Without a token the data is returned as-is,
// with nil replaced by an empty object.
func (m *Mapping) AuthenticatedPayload(data any, token string) any {
	if token == "" {
		if data == nil {
			return map[string]any{}
		}
		return data
	}
	key := m.Param(ParamToken)
	var raw []byte
	switch typed := data.(type) {
	case nil:
		return map[string]any{key: token}
	case map[string]any:
		out := maps.Clone(typed)
		out[key] = token
		return out
	case json.RawMessage:
		raw = typed
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		var err error
		raw, err = json.Marshal(typed)
		if err != nil {
			raw = nil
		}
	}
	if obj, ok := decodeObject(raw); ok {
		obj[key] = token
		return obj
	}
	return map[string]any{key: token, "data": data}
}

func decodeObject(raw []byte) (map[string]any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
