// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule

import (
	"errors"
	"fmt"
)

// Connection errors
var (
	ErrNotConnected     = errors.New("not connected to the chat server")
	ErrAlreadyConnected = errors.New("already connected to the chat server")
	ErrNoNetwork        = errors.New("network is not available")
	ErrConnectCancelled = errors.New("connection attempt was cancelled by Disconnect")
	ErrReconnectFailed  = errors.New("automatic reconnection attempts exhausted")
	ErrAckTimeout       = errors.New("timed out waiting for server acknowledgement")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrRoomTimeout      = errors.New("timed out waiting for room confirmation")
	ErrRoomIDNotFound   = errors.New("no room ID found in server response")
	ErrUnknownMessage   = errors.New("unknown message")
)

// Some errors that the Send* methods can return
var (
	ErrFeatureDisabled = errors.New("message type is disabled in configuration")
	ErrFileTooLarge    = errors.New("file exceeds the configured size limit")
	ErrEmptyMessage    = errors.New("message content is empty")
	ErrMissingRoomID   = errors.New("room ID is required")
)

// ConfigError is returned by Config.Validate.
type ConfigError struct {
	Field  string
	Reason string
}

func (err *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", err.Field, err.Reason)
}

func (err *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
