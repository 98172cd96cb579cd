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
)

// nestedResponseFields are the wrapper objects that room IDs are also searched in.
var nestedResponseFields = []string{"data", "result", "response"}

// ExtractRoomID finds the room ID in a room creation response.
//
// The response may be a bare string, a JSON object (text, bytes or a decoded map), an array or a
// number. Objects are searched for the room ID field at the top level and then inside the data,
// result and response objects. Text that looks like an object but can't be parsed is returned as-is.
func ExtractRoomID(data any, m *Mapping) (string, bool) {
	if m == nil {
		def := DefaultMapping()
		m = &def
	}
	return extractRoomID(data, m.RoomIDField())
}

func extractRoomID(data any, field string) (string, bool) {
	switch typed := data.(type) {
	case nil:
		return "", false
	case string:
		return extractFromText(typed, field)
	case []byte:
		return extractFromText(string(typed), field)
	case json.RawMessage:
		return extractFromText(string(typed), field)
	case map[string]any:
		return extractFromObject(typed, field)
	case []any:
		if len(typed) == 0 {
			return "", false
		}
		return extractRoomID(typed[0], field)
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(typed), true
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return "", false
		}
		return extractFromText(string(raw), field)
	}
}

func extractFromText(text, field string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return "", false
	}
	switch text[0] {
	case '"':
		var s string
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return text, true
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	case '{', '[':
		dec := json.NewDecoder(bytes.NewReader([]byte(text)))
		dec.UseNumber()
		var parsed any
		if err := dec.Decode(&parsed); err != nil {
			return text, true
		}
		return extractRoomID(parsed, field)
	default:
		return text, true
	}
}

func extractFromObject(obj map[string]any, field string) (string, bool) {
	if id, ok := scalarString(obj[field]); ok {
		return id, true
	}
	for _, nestedField := range nestedResponseFields {
		nested, ok := obj[nestedField].(map[string]any)
		if !ok {
			continue
		}
		if id, ok := scalarString(nested[field]); ok {
			return id, true
		}
	}
	return "", false
}

func scalarString(val any) (string, bool) {
	switch typed := val.(type) {
	case string:
		typed = strings.TrimSpace(typed)
		return typed, typed != ""
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int, int64:
		return fmt.Sprint(typed), true
	default:
		return "", false
	}
}
