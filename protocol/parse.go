// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mau.fi/util/ptr"

	"github.com/example/chatmodule/types"
)

type fields map[string]json.RawMessage

func parseFields(data json.RawMessage) (fields, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidPayload
	}
	var f fields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return f, nil
}

// str reads a string field. Numbers are accepted and formatted in decimal.
func (f fields) str(name string) (string, bool) {
	raw, ok := f[name]
	if !ok {
		return "", false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if json.Unmarshal(raw, &n) != nil {
			return "", false
		}
		return n.String(), true
	default:
		return "", false
	}
}

// int reads an integer field. Numeric strings are accepted.
func (f fields) integer(name string) (int64, bool, error) {
	s, ok := f.str(name)
	if !ok {
		return 0, false, nil
	}
	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		floatVal, floatErr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if floatErr != nil {
			return 0, true, fmt.Errorf("%w %s: %q is not a number", ErrInvalidField, name, s)
		}
		val = int64(floatVal)
	}
	return val, true, nil
}

func (f fields) time(name string) (time.Time, bool) {
	s, ok := f.str(name)
	if !ok {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

func (f fields) messageType(name string) types.MessageType {
	val, ok, err := f.integer(name)
	if ok && err == nil {
		return types.MessageTypeFromInt(int(val))
	} else if s, ok := f.str(name); ok {
		return types.MessageTypeFromName(s)
	}
	return types.MessageTypeText
}

// ParseMessage parses an inbound message payload using the mapped field names.
//
// The sender, room and message fields are required. The server message ID, if present, is stored in
// ServerID and ID is left empty for the caller to assign. A missing timestamp is left as the zero time.
func (m *Mapping) ParseMessage(data json.RawMessage) (*types.Message, error) {
	f, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	msg := &types.Message{Status: types.MessageStatusDelivered}
	var ok bool
	if msg.SenderID, ok = f.str(m.Param(ParamSenderID)); !ok {
		return nil, fmt.Errorf("%w %s", ErrMissingField, m.Param(ParamSenderID))
	}
	if msg.RoomID, ok = f.str(m.Param(ParamRoomID)); !ok {
		return nil, fmt.Errorf("%w %s", ErrMissingField, m.Param(ParamRoomID))
	}
	if msg.Content, ok = f.str(m.Param(ParamMessage)); !ok {
		return nil, fmt.Errorf("%w %s", ErrMissingField, m.Param(ParamMessage))
	}
	msg.SenderName, _ = f.str(m.Param(ParamName))
	msg.ReceiverID, _ = f.str(m.Param(ParamReceiverID))
	msg.ServerID, _ = f.str(m.Param(ParamMessageID))
	msg.Type = f.messageType(m.Param(ParamType))
	msg.Timestamp, _ = f.time(m.Param(ParamTimestamp))

	if name, ok := f.str(m.Param(ParamFileName)); ok && name != "" {
		msg.FileName = ptr.Ptr(name)
	}
	if fileURL, ok := f.str(m.Param(ParamFileURL)); ok && fileURL != "" {
		msg.FileURL = ptr.Ptr(fileURL)
	}
	if mime, ok := f.str(m.Param(ParamMimeType)); ok && mime != "" {
		msg.MimeType = ptr.Ptr(mime)
	}
	if thumb, ok := f.str(m.Param(ParamThumbnailURL)); ok && thumb != "" {
		msg.ThumbnailURL = ptr.Ptr(thumb)
	}
	if size, ok, err := f.integer(m.Param(ParamFileSize)); err != nil {
		return nil, err
	} else if ok {
		msg.FileSize = ptr.Ptr(size)
	}
	if dur, ok, err := f.integer(m.Param(ParamDuration)); err != nil {
		return nil, err
	} else if ok {
		msg.Duration = ptr.Ptr(time.Duration(dur) * time.Millisecond)
	}
	return msg, nil
}

// ParseReceipt parses a delivery or read receipt. The payload may be an object or a bare message ID.
func (m *Mapping) ParseReceipt(data json.RawMessage) (messageID, roomID string, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err = json.Unmarshal(trimmed, &messageID); err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		} else if messageID = strings.TrimSpace(messageID); messageID == "" {
			return "", "", fmt.Errorf("%w %s", ErrMissingField, m.Param(ParamMessageID))
		}
		return messageID, "", nil
	}
	f, err := parseFields(trimmed)
	if err != nil {
		return "", "", err
	}
	var ok bool
	messageID, ok = f.str(m.Param(ParamMessageID))
	if !ok {
		messageID, ok = f.str(ParamMessageID)
	}
	if !ok || messageID == "" {
		return "", "", fmt.Errorf("%w %s", ErrMissingField, m.Param(ParamMessageID))
	}
	roomID, _ = f.str(m.Param(ParamRoomID))
	return messageID, roomID, nil
}
