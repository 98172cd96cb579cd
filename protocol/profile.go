// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Profile is the on-disk form of a protocol mapping. Everything is optional and merged onto the defaults.
type Profile struct {
	ParameterNames          map[string]string `yaml:"parameter_names" json:"parameter_names"`
	EventNames              map[string]string `yaml:"event_names" json:"event_names"`
	UseStringForMessageType *bool             `yaml:"use_string_for_message_type" json:"use_string_for_message_type"`
	RoomIDResponseField     string            `yaml:"room_id_response_field" json:"room_id_response_field"`
	Overrides               *Overrides        `yaml:"overrides" json:"overrides"`
}

// Mapping merges the profile onto the given base mapping.
func (p *Profile) Mapping(base Mapping) Mapping {
	out := base.WithParameterNames(p.ParameterNames).WithEventNames(p.EventNames)
	if p.UseStringForMessageType != nil {
		out.UseStringForMessageType = *p.UseStringForMessageType
	}
	if p.RoomIDResponseField != "" {
		out.RoomIDResponseField = p.RoomIDResponseField
	}
	if p.Overrides != nil {
		out = out.Apply(*p.Overrides)
	}
	return out
}

// ParseProfile parses a profile in the given format ("yaml" or "json", the latter allowing comments
// and trailing commas).
func ParseProfile(data []byte, format string) (*Profile, error) {
	var profile Profile
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("failed to parse yaml profile: %w", err)
		}
	case "json", "jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &profile); err != nil {
			return nil, fmt.Errorf("failed to parse json profile: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
	return &profile, nil
}

// LoadProfile reads a profile file and merges it onto the default mapping. The format is chosen by
// the file extension.
func LoadProfile(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("failed to read profile: %w", err)
	}
	profile, err := ParseProfile(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return Mapping{}, err
	}
	return profile.Mapping(DefaultMapping()), nil
}
