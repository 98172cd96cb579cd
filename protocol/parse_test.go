// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chatmodule/types"
)

func TestParseMessage(t *testing.T) {
	m := DefaultMapping()
	msg, err := m.ParseMessage(json.RawMessage(`{
		"senderId": 2,
		"name": "Bob",
		"receiverId": "1",
		"message": "hi there",
		"type": "3",
		"roomId": "room-1",
		"file_name": "report.pdf",
		"fileSize": "2048",
		"fileUrl": "https://example.com/report.pdf",
		"mimeType": "application/pdf",
		"messageId": "srv-9",
		"timestamp": 1700000000000
	}`))
	require.NoError(t, err)
	assert.Equal(t, "2", msg.SenderID)
	assert.Equal(t, "Bob", msg.SenderName)
	assert.Equal(t, "1", msg.ReceiverID)
	assert.Equal(t, "hi there", msg.Content)
	assert.Equal(t, types.MessageTypeFile, msg.Type)
	assert.Equal(t, "room-1", msg.RoomID)
	assert.Equal(t, "report.pdf", *msg.FileName)
	assert.EqualValues(t, 2048, *msg.FileSize)
	assert.Equal(t, "application/pdf", *msg.MimeType)
	assert.Equal(t, "srv-9", msg.ServerID)
	assert.Empty(t, msg.ID)
	assert.True(t, msg.Timestamp.Equal(time.UnixMilli(1700000000000)))
	assert.Equal(t, types.MessageStatusDelivered, msg.Status)
}

func TestParseMessageTypes(t *testing.T) {
	m := DefaultMapping()
	parseType := func(val string) types.MessageType {
		msg, err := m.ParseMessage(json.RawMessage(`{"senderId":"1","roomId":"r","message":"x","type":` + val + `}`))
		require.NoError(t, err)
		return msg.Type
	}
	assert.Equal(t, types.MessageTypeImage, parseType(`1`))
	assert.Equal(t, types.MessageTypeAudio, parseType(`"2"`))
	assert.Equal(t, types.MessageTypeVideo, parseType(`"video"`))
	assert.Equal(t, types.MessageTypeText, parseType(`99`))
	assert.Equal(t, types.MessageTypeText, parseType(`null`))
}

func TestParseMessageMappedFields(t *testing.T) {
	m := DefaultMapping().WithParameterNames(map[string]string{ParamRoomID: "room_id", ParamMessage: "text"})
	msg, err := m.ParseMessage(json.RawMessage(`{"senderId":"1","room_id":"r","text":"x","timestamp":"2024-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "r", msg.RoomID)
	assert.Equal(t, "x", msg.Content)
	assert.Equal(t, 2024, msg.Timestamp.Year())
}

func TestParseMessageErrors(t *testing.T) {
	m := DefaultMapping()
	_, err := m.ParseMessage(json.RawMessage(`{"roomId":"r","message":"x"}`))
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = m.ParseMessage(json.RawMessage(`{"senderId":"1","message":"x"}`))
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = m.ParseMessage(json.RawMessage(`{"senderId":"1","roomId":"r"}`))
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = m.ParseMessage(json.RawMessage(`"just a string"`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = m.ParseMessage(json.RawMessage(`{"senderId":"1","roomId":"r","message":"x","fileSize":"big"}`))
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestParseReceipt(t *testing.T) {
	m := DefaultMapping()
	id, room, err := m.ParseReceipt(json.RawMessage(`{"messageId":"m1","roomId":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	assert.Equal(t, "r1", room)

	id, room, err = m.ParseReceipt(json.RawMessage(`"m2"`))
	require.NoError(t, err)
	assert.Equal(t, "m2", id)
	assert.Empty(t, room)

	mapped := DefaultMapping().WithParameterNames(map[string]string{ParamMessageID: "msg_id"})
	id, _, err = mapped.ParseReceipt(json.RawMessage(`{"msg_id":5}`))
	require.NoError(t, err)
	assert.Equal(t, "5", id)
	id, _, err = mapped.ParseReceipt(json.RawMessage(`{"messageId":"fallback"}`))
	require.NoError(t, err)
	assert.Equal(t, "fallback", id)

	_, _, err = m.ParseReceipt(json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrMissingField)
	_, _, err = m.ParseReceipt(json.RawMessage(`""`))
	assert.ErrorIs(t, err, ErrMissingField)
}
