// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package router routes inbound wire events by name to registered listeners and to stream subscribers.
package router

import (
	"encoding/json"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	waLog "github.com/example/chatmodule/util/log"
)

// Listener handles the payload of one inbound event.
type Listener func(data json.RawMessage)

// ListenerID identifies a registered listener.
type ListenerID uint64

// Event is a single inbound wire event as published on the stream.
type Event struct {
	Name       string
	Data       json.RawMessage
	ReceivedAt time.Time
}

var emptyObject = json.RawMessage("{}")

type wrappedListener struct {
	fn Listener
	id ListenerID
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// Router holds the listeners of each event name. The zero value is not usable, use New.
type Router struct {
	log    waLog.Logger
	nextID atomic.Uint64

	// OnRegister is called when an event gets its first listener, OnUnregister when it loses its last one.
	OnRegister   func(event string)
	OnUnregister func(event string)

	listeners     map[string][]wrappedListener
	listenersLock sync.RWMutex

	subscribers     map[uint64]*subscriber
	subscribersLock sync.Mutex
	nextSubID       uint64
}

// New creates an empty router. The logger can be nil.
func New(log waLog.Logger) *Router {
	if log == nil {
		log = waLog.Noop
	}
	return &Router{
		log:         log,
		listeners:   make(map[string][]wrappedListener),
		subscribers: make(map[uint64]*subscriber),
	}
}

// On registers a listener for the given event. Listeners are called in registration order.
func (r *Router) On(event string, fn Listener) ListenerID {
	id := ListenerID(r.nextID.Add(1))
	r.listenersLock.Lock()
	existing := r.listeners[event]
	r.listeners[event] = append(existing, wrappedListener{fn: fn, id: id})
	r.listenersLock.Unlock()
	if len(existing) == 0 {
		r.log.Debugf("Registered event %s", event)
		if r.OnRegister != nil {
			r.OnRegister(event)
		}
	}
	return id
}

// Once registers a listener that removes itself after the first call.
func (r *Router) Once(event string, fn Listener) ListenerID {
	var id ListenerID
	var fired atomic.Bool
	r.listenersLock.Lock()
	id = ListenerID(r.nextID.Add(1))
	existing := r.listeners[event]
	r.listeners[event] = append(existing, wrappedListener{id: id, fn: func(data json.RawMessage) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		r.Off(event, id)
		fn(data)
	}})
	r.listenersLock.Unlock()
	if len(existing) == 0 && r.OnRegister != nil {
		r.OnRegister(event)
	}
	return id
}

// Off removes a listener. When the last listener of an event is removed, the event is unregistered.
// Returns true if the listener was found.
func (r *Router) Off(event string, id ListenerID) bool {
	r.listenersLock.Lock()
	list := r.listeners[event]
	index := slices.IndexFunc(list, func(l wrappedListener) bool {
		return l.id == id
	})
	if index < 0 {
		r.listenersLock.Unlock()
		return false
	}
	list = slices.Delete(slices.Clone(list), index, index+1)
	unregistered := len(list) == 0
	if unregistered {
		delete(r.listeners, event)
	} else {
		r.listeners[event] = list
	}
	r.listenersLock.Unlock()
	if unregistered {
		r.log.Debugf("Unregistered event %s", event)
		if r.OnUnregister != nil {
			r.OnUnregister(event)
		}
	}
	return true
}

// OffAll removes every listener of the given event.
func (r *Router) OffAll(event string) {
	r.listenersLock.Lock()
	_, existed := r.listeners[event]
	delete(r.listeners, event)
	r.listenersLock.Unlock()
	if existed && r.OnUnregister != nil {
		r.OnUnregister(event)
	}
}

// Reset removes all listeners of all events.
func (r *Router) Reset() {
	r.listenersLock.Lock()
	events := make([]string, 0, len(r.listeners))
	for event := range r.listeners {
		events = append(events, event)
	}
	r.listeners = make(map[string][]wrappedListener)
	r.listenersLock.Unlock()
	if r.OnUnregister != nil {
		for _, event := range events {
			r.OnUnregister(event)
		}
	}
}

// Registered returns the sorted names of all events that have at least one listener.
func (r *Router) Registered() []string {
	r.listenersLock.RLock()
	defer r.listenersLock.RUnlock()
	events := make([]string, 0, len(r.listeners))
	for event := range r.listeners {
		events = append(events, event)
	}
	slices.Sort(events)
	return events
}

// IsRegistered checks if the event has any listeners.
func (r *Router) IsRegistered(event string) bool {
	r.listenersLock.RLock()
	defer r.listenersLock.RUnlock()
	_, ok := r.listeners[event]
	return ok
}

// ListenerCount returns the number of listeners registered for the event.
func (r *Router) ListenerCount(event string) int {
	r.listenersLock.RLock()
	defer r.listenersLock.RUnlock()
	return len(r.listeners[event])
}

// Subscribe returns a channel that receives every dispatched event.
//
// Events are dropped for a subscriber whose buffer is full. The returned function unsubscribes and
// closes the channel.
func (r *Router) Subscribe(buffer int) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, buffer)}
	r.subscribersLock.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subscribers[id] = sub
	r.subscribersLock.Unlock()
	return sub.ch, func() {
		r.subscribersLock.Lock()
		defer r.subscribersLock.Unlock()
		if !sub.closed {
			sub.closed = true
			delete(r.subscribers, id)
			close(sub.ch)
		}
	}
}

// Dispatch publishes the event on the stream and then calls the listeners of the event.
func (r *Router) Dispatch(event string, data json.RawMessage) {
	if len(data) == 0 || string(data) == "null" {
		data = emptyObject
	}
	evt := Event{Name: event, Data: data, ReceivedAt: time.Now()}
	r.subscribersLock.Lock()
	for id, sub := range r.subscribers {
		select {
		case sub.ch <- evt:
		default:
			r.log.Warnf("Stream subscriber %d is full, dropping %s event", id, event)
		}
	}
	r.subscribersLock.Unlock()

	r.listenersLock.RLock()
	list := r.listeners[event]
	r.listenersLock.RUnlock()
	for _, l := range list {
		r.callListener(event, l, data)
	}
}

func (r *Router) callListener(event string, l wrappedListener, data json.RawMessage) {
	defer func() {
		if err := recover(); err != nil {
			r.log.Errorf("Listener %d for %s panicked: %v\n%s", l.id, event, err, debug.Stack())
		}
	}()
	l.fn(data)
}
