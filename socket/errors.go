// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package socket

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrSocketClosed        = errors.New("socket is closed")
	ErrSocketAlreadyOpen   = errors.New("socket is already open")
	ErrUnsupportedScheme   = errors.New("unsupported url scheme")
	ErrInvalidPacket       = errors.New("invalid socket.io packet")
	ErrBinaryUnsupported   = errors.New("binary socket.io packets are not supported")
	ErrUnexpectedHandshake = errors.New("unexpected engine.io handshake")
	ErrUnsupportedProxy    = errors.New("unsupported proxy scheme")
)

// ErrWithStatusCode is returned by Connect when the websocket upgrade failed with a HTTP response.
type ErrWithStatusCode struct {
	error
	StatusCode int
}

func (err ErrWithStatusCode) Unwrap() error {
	return err.error
}

// ConnectError is returned by Connect when the server rejected the namespace connection,
// usually because the auth payload was not accepted.
type ConnectError struct {
	Namespace string
	Message   string
	Data      json.RawMessage
}

func (err *ConnectError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("server refused connection to namespace %s", err.Namespace)
	}
	return fmt.Sprintf("server refused connection to namespace %s: %s", err.Namespace, err.Message)
}
