// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule

import (
	"github.com/example/chatmodule/router"
)

// AddEventListener registers a listener for a raw wire event. The listener receives the first
// argument of the event, or an empty object if the event had no arguments.
//
// Listeners run on the client's handler goroutine, in the order the events were received.
func (cli *Client) AddEventListener(event string, fn router.Listener) router.ListenerID {
	return cli.Router.On(event, fn)
}

// Once registers a listener that is removed after its first call.
func (cli *Client) Once(event string, fn router.Listener) router.ListenerID {
	return cli.Router.Once(event, fn)
}

// RemoveEventListener removes a single listener. It returns false if the ID wasn't registered for the event.
func (cli *Client) RemoveEventListener(event string, id router.ListenerID) bool {
	return cli.Router.Off(event, id)
}

// RemoveEventListeners removes every listener of the event, including the client's own ones.
func (cli *Client) RemoveEventListeners(event string) {
	cli.Router.OffAll(event)
}

// RegisteredEvents returns the names of all events that have at least one listener.
func (cli *Client) RegisteredEvents() []string {
	return cli.Router.Registered()
}

// IsEventRegistered checks if the event has any listeners.
func (cli *Client) IsEventRegistered(event string) bool {
	return cli.Router.IsRegistered(event)
}

// Events returns a stream of every inbound wire event. Call the returned function to close the stream.
//
// Events are dropped if the channel buffer is full.
func (cli *Client) Events(buffer int) (<-chan router.Event, func()) {
	return cli.Router.Subscribe(buffer)
}
