// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadProfileYAML(t *testing.T) {
	path := writeFile(t, "profile.yaml", `
parameter_names:
  roomId: room_id
event_names:
  receiveMessage: message
use_string_for_message_type: true
overrides:
  room_created_event: roomCreated
`)
	m, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "room_id", m.Param(ParamRoomID))
	assert.Equal(t, "file_name", m.Param(ParamFileName))
	assert.Equal(t, "message", m.EventName(EventReceiveMessage))
	assert.Equal(t, "roomCreated", m.EventName(EventRoomConnected))
	assert.True(t, m.UseStringForMessageType)
}

func TestLoadProfileJSONC(t *testing.T) {
	path := writeFile(t, "profile.jsonc", `{
	// Legacy backend names
	"parameter_names": {"senderId": "from", "receiverId": "to",},
	"room_id_response_field": "id",
}`)
	m, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "from", m.Param(ParamSenderID))
	assert.Equal(t, "to", m.Param(ParamReceiverID))
	assert.Equal(t, "id", m.RoomIDField())
	assert.False(t, m.UseStringForMessageType)
}

func TestLoadProfileErrors(t *testing.T) {
	_, err := LoadProfile(writeFile(t, "profile.toml", `x = 1`))
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = LoadProfile(writeFile(t, "broken.yaml", "parameter_names: [1, 2"))
	assert.Error(t, err)
}

func TestMappingYAMLRoundTrip(t *testing.T) {
	m := DefaultMapping().WithParameterNames(map[string]string{ParamRoomID: "room_id"})
	out, err := yaml.Marshal(&m)
	require.NoError(t, err)
	profile, err := ParseProfile(out, "yaml")
	require.NoError(t, err)
	assert.Equal(t, m, profile.Mapping(DefaultMapping()))
}
