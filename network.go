// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"
)

// NetworkChecker reports whether the network is currently usable.
type NetworkChecker interface {
	Online(ctx context.Context) bool
}

// NetworkCheckerFunc is a function that implements NetworkChecker.
type NetworkCheckerFunc func(ctx context.Context) bool

func (fn NetworkCheckerFunc) Online(ctx context.Context) bool {
	return fn(ctx)
}

// AlwaysOnline is a NetworkChecker that never reports the network as unavailable.
var AlwaysOnline NetworkChecker = NetworkCheckerFunc(func(ctx context.Context) bool {
	return true
})

// DialChecker considers the network available if a TCP connection to the address can be opened.
type DialChecker struct {
	Address string
	Timeout time.Duration
}

// NewDialChecker creates a DialChecker for the host of the given server URL.
func NewDialChecker(serverURL string) *DialChecker {
	dc := &DialChecker{Timeout: 3 * time.Second}
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return dc
	}
	port := parsed.Port()
	if port == "" {
		switch strings.ToLower(parsed.Scheme) {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	dc.Address = net.JoinHostPort(parsed.Hostname(), port)
	return dc
}

func (dc *DialChecker) Online(ctx context.Context) bool {
	if dc.Address == "" {
		return false
	}
	dialer := net.Dialer{Timeout: dc.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", dc.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
