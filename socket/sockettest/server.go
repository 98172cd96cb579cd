// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sockettest contains an in-process Socket.IO server for tests.
package sockettest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/example/chatmodule/socket"
)

// Handler handles an inbound event. The returned values are sent back as the ack arguments if the
// client requested an ack.
type Handler func(sess *Session, args []json.RawMessage) []any

// Event is an event received from a client.
type Event struct {
	Name    string
	Args    []json.RawMessage
	Session *Session
}

// Arg unmarshals the nth event argument into a map for easy assertions.
func (evt Event) Arg(n int) map[string]any {
	if n >= len(evt.Args) {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(evt.Args[n], &out)
	return out
}

// Session is one connected client.
type Session struct {
	SID  string
	Auth json.RawMessage

	srv    *Server
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Server is a minimal Socket.IO v5 server speaking only the websocket transport.
type Server struct {
	*httptest.Server

	PingInterval time.Duration
	PingTimeout  time.Duration
	// SendPings can be set to false to simulate a server that stopped responding.
	SendPings atomic.Bool
	// DropAcks makes the server ignore ack requests from clients.
	DropAcks atomic.Bool
	// Authorize validates the CONNECT auth payload. A non-nil error is sent to the client as CONNECT_ERROR.
	Authorize func(auth json.RawMessage) error

	lock     sync.Mutex
	handlers map[string]Handler
	sessions map[*Session]struct{}
	received []Event
	connects int
	notify   chan struct{}

	ackCounter atomic.Uint64
	ackLock    sync.Mutex
	ackWaiters map[uint64]chan []json.RawMessage
}

// NewServer starts a new test server. Close must be called when the test is done.
func NewServer() *Server {
	srv := &Server{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		handlers:     make(map[string]Handler),
		sessions:     make(map[*Session]struct{}),
		notify:       make(chan struct{}),
		ackWaiters:   make(map[uint64]chan []json.RawMessage),
	}
	srv.SendPings.Store(true)
	srv.Server = httptest.NewServer(srv)
	return srv
}

// WSURL returns the websocket URL of the Socket.IO endpoint.
func (srv *Server) WSURL() string {
	u, err := socket.BuildURL(srv.URL, "")
	if err != nil {
		panic(err)
	}
	return u
}

// Close disconnects all clients and shuts down the server.
func (srv *Server) Close() {
	srv.DropAll()
	srv.Server.Close()
}

// Handle registers a handler for the given event name.
func (srv *Server) Handle(event string, handler Handler) {
	srv.lock.Lock()
	srv.handlers[event] = handler
	srv.lock.Unlock()
}

// Received returns a copy of all events received so far.
func (srv *Server) Received() []Event {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	out := make([]Event, len(srv.received))
	copy(out, srv.received)
	return out
}

// ReceivedNamed returns the received events with the given name.
func (srv *Server) ReceivedNamed(name string) []Event {
	var out []Event
	for _, evt := range srv.Received() {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

// Connects returns the number of successful namespace connections so far.
func (srv *Server) Connects() int {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	return srv.connects
}

// SessionCount returns the number of currently connected clients.
func (srv *Server) SessionCount() int {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	return len(srv.sessions)
}

func (srv *Server) changed() {
	srv.lock.Lock()
	close(srv.notify)
	srv.notify = make(chan struct{})
	srv.lock.Unlock()
}

// WaitFor blocks until the condition returns true or the timeout is reached.
func (srv *Server) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.After(timeout)
	for {
		srv.lock.Lock()
		ch := srv.notify
		srv.lock.Unlock()
		if cond() {
			return true
		}
		select {
		case <-ch:
		case <-deadline:
			return cond()
		}
	}
}

// WaitForEvent waits until at least count events with the given name have been received.
func (srv *Server) WaitForEvent(name string, count int, timeout time.Duration) []Event {
	var evts []Event
	srv.WaitFor(timeout, func() bool {
		evts = srv.ReceivedNamed(name)
		return len(evts) >= count
	})
	return evts
}

// WaitForSessions waits until exactly n clients are connected.
func (srv *Server) WaitForSessions(n int, timeout time.Duration) bool {
	return srv.WaitFor(timeout, func() bool {
		return srv.SessionCount() == n
	})
}

func (srv *Server) allSessions() []*Session {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	out := make([]*Session, 0, len(srv.sessions))
	for sess := range srv.sessions {
		out = append(out, sess)
	}
	return out
}

// Emit sends an event to all connected clients.
func (srv *Server) Emit(event string, args ...any) {
	for _, sess := range srv.allSessions() {
		_ = sess.Emit(event, args...)
	}
}

// EmitRaw sends a raw Engine.IO message to all connected clients.
func (srv *Server) EmitRaw(data string) {
	for _, sess := range srv.allSessions() {
		_ = sess.conn.Write(sess.ctx, websocket.MessageText, []byte(data))
	}
}

// EmitWithAck sends an event to the first connected client and waits for its ack.
func (srv *Server) EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	sessions := srv.allSessions()
	if len(sessions) == 0 {
		return nil, errors.New("no connected sessions")
	}
	id := srv.ackCounter.Add(1)
	ch := make(chan []json.RawMessage, 1)
	srv.ackLock.Lock()
	srv.ackWaiters[id] = ch
	srv.ackLock.Unlock()
	pkt, err := socket.NewEventPacket(socket.DefaultNamespace, &id, event, args...)
	if err != nil {
		return nil, err
	}
	if err = sessions[0].write(pkt); err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DisconnectAll sends a namespace disconnect to all clients. The clients are expected to close the
// transport themselves and not reconnect.
func (srv *Server) DisconnectAll() {
	for _, sess := range srv.allSessions() {
		_ = sess.write(&socket.Packet{Type: socket.PacketDisconnect, Namespace: socket.DefaultNamespace})
	}
}

// DropAll abruptly closes all client transports.
func (srv *Server) DropAll() {
	for _, sess := range srv.allSessions() {
		sess.close()
	}
}

// ServeHTTP implements the websocket transport endpoint.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("EIO") != socket.EngineIOVersion || r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{SID: uuid.NewString(), srv: srv, conn: conn, ctx: ctx, cancel: cancel}
	defer sess.close()
	open, _ := json.Marshal(&socket.Handshake{
		SID:          sess.SID,
		Upgrades:     []string{},
		PingInterval: srv.PingInterval.Milliseconds(),
		PingTimeout:  srv.PingTimeout.Milliseconds(),
		MaxPayload:   socket.DefaultMaxPayload,
	})
	if conn.Write(ctx, websocket.MessageText, append([]byte{'0'}, open...)) != nil {
		return
	}
	go sess.pingLoop()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		} else if len(data) == 0 || data[0] != '4' {
			continue
		}
		pkt, err := socket.DecodePacket(string(data[1:]))
		if err != nil {
			continue
		}
		if !sess.handle(pkt) {
			return
		}
	}
}

func (sess *Session) handle(pkt *socket.Packet) bool {
	srv := sess.srv
	switch pkt.Type {
	case socket.PacketConnect:
		sess.Auth = pkt.Data
		if srv.Authorize != nil {
			if err := srv.Authorize(pkt.Data); err != nil {
				data, _ := json.Marshal(map[string]string{"message": err.Error()})
				_ = sess.write(&socket.Packet{Type: socket.PacketConnectError, Namespace: pkt.Namespace, Data: data})
				return true
			}
		}
		data, _ := json.Marshal(map[string]string{"sid": sess.SID})
		srv.lock.Lock()
		srv.sessions[sess] = struct{}{}
		srv.connects++
		srv.lock.Unlock()
		_ = sess.write(&socket.Packet{Type: socket.PacketConnect, Namespace: pkt.Namespace, Data: data})
		srv.changed()
	case socket.PacketEvent:
		name, args, err := pkt.EventArgs()
		if err != nil {
			return true
		}
		srv.lock.Lock()
		srv.received = append(srv.received, Event{Name: name, Args: args, Session: sess})
		handler := srv.handlers[name]
		srv.lock.Unlock()
		var res []any
		if handler != nil {
			res = handler(sess, args)
		}
		if pkt.ID != nil && !srv.DropAcks.Load() {
			ack, err := socket.NewAckPacket(pkt.Namespace, *pkt.ID, res...)
			if err == nil {
				_ = sess.write(ack)
			}
		}
		srv.changed()
	case socket.PacketAck:
		args, _ := pkt.AckArgs()
		srv.ackLock.Lock()
		ch, ok := srv.ackWaiters[*pkt.ID]
		delete(srv.ackWaiters, *pkt.ID)
		srv.ackLock.Unlock()
		if ok {
			ch <- args
		}
	case socket.PacketDisconnect:
		return false
	}
	return true
}

// Emit sends an event to this client.
func (sess *Session) Emit(event string, args ...any) error {
	pkt, err := socket.NewEventPacket(socket.DefaultNamespace, nil, event, args...)
	if err != nil {
		return err
	}
	return sess.write(pkt)
}

func (sess *Session) write(pkt *socket.Packet) error {
	err := sess.conn.Write(sess.ctx, websocket.MessageText, []byte("4"+pkt.Encode()))
	if err != nil {
		return fmt.Errorf("failed to write to session %s: %w", sess.SID, err)
	}
	return nil
}

func (sess *Session) pingLoop() {
	if sess.srv.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(sess.srv.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			if sess.srv.SendPings.Load() {
				_ = sess.conn.Write(sess.ctx, websocket.MessageText, []byte{'2'})
			}
		}
	}
}

func (sess *Session) close() {
	srv := sess.srv
	srv.lock.Lock()
	_, existed := srv.sessions[sess]
	delete(srv.sessions, sess)
	srv.lock.Unlock()
	sess.cancel()
	_ = sess.conn.CloseNow()
	if existed {
		srv.changed()
	}
}
