// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package socket implements a Socket.IO (protocol v5, Engine.IO v4) client over a websocket.
package socket

import (
	"time"
)

const (
	// EngineIOVersion is the Engine.IO protocol revision sent in the EIO query parameter.
	EngineIOVersion = "4"
	// DefaultPath is the default HTTP path of Socket.IO servers.
	DefaultPath = "/socket.io/"
	// DefaultNamespace is the main namespace.
	DefaultNamespace = "/"

	DefaultConnectTimeout = 10 * time.Second
	// DefaultMaxPayload is used as the read limit until the server announces its own.
	DefaultMaxPayload = 1_000_000
)

// Disconnect reasons passed to Conn.OnDisconnect. They use the same strings as the reference
// JavaScript client so that servers and logs look familiar.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

// Engine.IO packet types. Each websocket message carries exactly one Engine.IO packet whose
// first byte is the type.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineUpgrade = '5'
	engineNoop    = '6'
)
