// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	waLog "github.com/example/chatmodule/util/log"
)

// AckFunc answers an inbound event that requested an acknowledgement.
type AckFunc func(args ...any) error

// Conn is a single Socket.IO connection to one namespace.
//
// A Conn can be reconnected after it has been closed, but reconnection policy is up to the caller.
type Conn struct {
	URL            string
	Namespace      string
	Auth           any
	HTTPHeaders    http.Header
	HTTPClient     *http.Client
	Proxy          *url.URL
	ConnectTimeout time.Duration

	// OnEvent is called from the read pump for every inbound event. ack is nil if the server did not
	// request an acknowledgement.
	OnEvent func(name string, args []json.RawMessage, ack AckFunc)
	// OnDisconnect is called in a new goroutine after an established connection is lost or closed.
	// remote is false only when the connection was closed with Close.
	OnDisconnect func(reason string, remote bool)

	log       waLog.Logger
	lock      sync.Mutex
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	handshake *Handshake
	sid       string

	ackCounter atomic.Uint64
	ackWaiters map[uint64]chan []json.RawMessage
	ackLock    sync.Mutex
}

// NewConn creates a disconnected socket for the given websocket URL. The logger can be nil.
func NewConn(log waLog.Logger, wsURL string) *Conn {
	if log == nil {
		log = waLog.Noop
	}
	return &Conn{
		URL:            wsURL,
		Namespace:      DefaultNamespace,
		ConnectTimeout: DefaultConnectTimeout,
		HTTPHeaders:    http.Header{},

		log:        log,
		ackWaiters: make(map[uint64]chan []json.RawMessage),
	}
}

func (c *Conn) namespace() string {
	if c.Namespace == "" {
		return DefaultNamespace
	}
	return c.Namespace
}

// IsConnected returns true if the namespace connection has been established and not yet lost.
func (c *Conn) IsConnected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn != nil
}

// SID returns the Socket.IO session id of the current connection.
func (c *Conn) SID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.sid
}

// Handshake returns the Engine.IO handshake of the current connection.
func (c *Conn) Handshake() *Handshake {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.handshake
}

// Connect dials the server and connects to the namespace.
//
// The context only bounds the handshake, the connection stays open until Close is called or the
// server goes away.
func (c *Conn) Connect(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn != nil {
		return ErrSocketAlreadyOpen
	}
	opts, err := c.makeDialOptions()
	if err != nil {
		return err
	}
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
	defer cancelDial()

	c.log.Debugf("Dialing %s", c.URL)
	conn, resp, err := websocket.Dial(dialCtx, c.URL, opts)
	if err != nil {
		if resp != nil {
			err = ErrWithStatusCode{err, resp.StatusCode}
		}
		return fmt.Errorf("failed to dial socket.io websocket: %w", err)
	}
	conn.SetReadLimit(DefaultMaxPayload)
	hs, sid, err := c.doHandshake(dialCtx, conn)
	if err != nil {
		_ = conn.CloseNow()
		return err
	}
	c.log.Debugf("Connected to namespace %s with sid %s", c.namespace(), sid)

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.conn = conn
	c.handshake = hs
	c.sid = sid
	pings := make(chan struct{}, 1)
	go c.readPump(c.ctx, conn, pings)
	go c.heartbeat(c.ctx, conn, pings, hs)
	return nil
}

func (c *Conn) doHandshake(ctx context.Context, conn *websocket.Conn) (*Handshake, string, error) {
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read engine.io handshake: %w", err)
	} else if msgType != websocket.MessageText || len(data) == 0 || data[0] != engineOpen {
		return nil, "", fmt.Errorf("%w: got %q", ErrUnexpectedHandshake, truncate(data))
	}
	var hs Handshake
	if err = json.Unmarshal(data[1:], &hs); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnexpectedHandshake, err)
	}
	if hs.MaxPayload > 0 {
		conn.SetReadLimit(hs.MaxPayload)
	}

	connectPkt := &Packet{Type: PacketConnect, Namespace: c.namespace()}
	if c.Auth != nil {
		connectPkt.Data, err = json.Marshal(c.Auth)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal auth payload: %w", err)
		}
	}
	if err = writeMessage(ctx, conn, connectPkt); err != nil {
		return nil, "", fmt.Errorf("failed to send connect packet: %w", err)
	}

	for {
		msgType, data, err = conn.Read(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read connect response: %w", err)
		} else if msgType != websocket.MessageText || len(data) == 0 {
			continue
		}
		switch data[0] {
		case enginePing:
			if err = conn.Write(ctx, websocket.MessageText, []byte{enginePong}); err != nil {
				return nil, "", fmt.Errorf("failed to answer ping during handshake: %w", err)
			}
			continue
		case engineClose:
			return nil, "", fmt.Errorf("%w: server closed the transport", ErrUnexpectedHandshake)
		case engineMessage:
		default:
			continue
		}
		pkt, err := DecodePacket(string(data[1:]))
		if err != nil {
			c.log.Warnf("Failed to decode packet during handshake: %v", err)
			continue
		} else if pkt.Namespace != c.namespace() {
			continue
		}
		switch pkt.Type {
		case PacketConnect:
			var payload struct {
				SID string `json:"sid"`
			}
			if len(pkt.Data) > 0 {
				_ = json.Unmarshal(pkt.Data, &payload)
			}
			return &hs, payload.SID, nil
		case PacketConnectError:
			return nil, "", parseConnectError(pkt)
		}
	}
}

func parseConnectError(pkt *Packet) error {
	cerr := &ConnectError{Namespace: pkt.Namespace}
	if len(pkt.Data) == 0 {
		return cerr
	}
	var payload struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(pkt.Data, &payload); err == nil {
		cerr.Message = payload.Message
		cerr.Data = payload.Data
	} else if err = json.Unmarshal(pkt.Data, &cerr.Message); err != nil {
		cerr.Message = string(pkt.Data)
	}
	return cerr
}

func (c *Conn) readPump(ctx context.Context, conn *websocket.Conn, pings chan<- struct{}) {
	c.log.Debugf("Socket.IO read pump starting %p", conn)
	defer c.log.Debugf("Socket.IO read pump exiting %p", conn)
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if !c.isCurrent(conn) || errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			reason := ReasonTransportClose
			if websocket.CloseStatus(err) == -1 {
				c.log.Errorf("Error reading from websocket: %v", err)
				reason = ReasonTransportError
			}
			c.closeConn(conn, reason, true)
			return
		} else if msgType != websocket.MessageText || len(data) == 0 {
			c.log.Warnf("Got unexpected websocket message type %d", msgType)
			continue
		}
		if !c.handleEnginePacket(ctx, conn, data, pings) {
			return
		}
	}
}

func (c *Conn) handleEnginePacket(ctx context.Context, conn *websocket.Conn, data []byte, pings chan<- struct{}) bool {
	switch data[0] {
	case enginePing:
		select {
		case pings <- struct{}{}:
		default:
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte{enginePong}); err != nil {
			c.log.Warnf("Failed to send pong: %v", err)
		}
	case engineClose:
		c.closeConn(conn, ReasonTransportClose, true)
		return false
	case engineMessage:
		pkt, err := DecodePacket(string(data[1:]))
		if err != nil {
			c.log.Warnf("Failed to decode packet %q: %v", truncate(data), err)
			return true
		} else if pkt.Namespace != c.namespace() {
			c.log.Debugf("Ignoring packet for other namespace %s", pkt.Namespace)
			return true
		}
		return c.handlePacket(ctx, conn, pkt)
	case enginePong, engineNoop, engineUpgrade:
	default:
		c.log.Debugf("Ignoring unknown engine.io packet type %q", data[0])
	}
	return true
}

func (c *Conn) handlePacket(ctx context.Context, conn *websocket.Conn, pkt *Packet) bool {
	switch pkt.Type {
	case PacketEvent:
		name, args, err := pkt.EventArgs()
		if err != nil {
			c.log.Warnf("Failed to parse event: %v", err)
			return true
		}
		var ack AckFunc
		if pkt.ID != nil {
			id := *pkt.ID
			ack = func(args ...any) error {
				ackPkt, err := NewAckPacket(c.namespace(), id, args...)
				if err != nil {
					return err
				}
				return writeMessage(ctx, conn, ackPkt)
			}
		}
		if c.OnEvent != nil {
			c.OnEvent(name, args, ack)
		}
	case PacketAck:
		if pkt.ID == nil {
			c.log.Warnf("Got ack packet without id")
			return true
		}
		args, err := pkt.AckArgs()
		if err != nil {
			c.log.Warnf("Failed to parse ack %d: %v", *pkt.ID, err)
			return true
		}
		c.receiveAck(*pkt.ID, args)
	case PacketDisconnect:
		c.closeConn(conn, ReasonServerDisconnect, true)
		return false
	case PacketConnectError:
		c.log.Warnf("Got connect error after connection was established: %v", parseConnectError(pkt))
	case PacketConnect:
		c.log.Debugf("Ignoring duplicate connect packet")
	}
	return true
}

func (c *Conn) heartbeat(ctx context.Context, conn *websocket.Conn, pings <-chan struct{}, hs *Handshake) {
	timeout := time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond
	if timeout <= 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pings:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			c.log.Warnf("No ping received in %s, closing connection", timeout)
			c.closeConn(conn, ReasonPingTimeout, true)
			return
		}
	}
}

func (c *Conn) isCurrent(conn *websocket.Conn) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn == conn
}

func (c *Conn) closeConn(conn *websocket.Conn, reason string, remote bool) {
	c.lock.Lock()
	if c.conn != conn {
		c.lock.Unlock()
		return
	}
	c.conn = nil
	c.handshake = nil
	c.sid = ""
	cancel := c.cancel
	c.cancel = nil
	c.lock.Unlock()

	if remote {
		err := conn.CloseNow()
		if err != nil {
			c.log.Debugf("Error force closing websocket: %v", err)
		}
	} else {
		err := conn.Close(websocket.StatusNormalClosure, "")
		if err != nil {
			c.log.Debugf("Error sending close to websocket: %v", err)
		}
	}
	cancel()
	c.failAckWaiters()
	c.log.Debugf("Connection closed: %s", reason)
	if c.OnDisconnect != nil {
		go c.OnDisconnect(reason, remote)
	}
}

// Close disconnects from the namespace and closes the websocket.
func (c *Conn) Close() {
	c.lock.Lock()
	conn := c.conn
	ctx := c.ctx
	c.lock.Unlock()
	if conn == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, time.Second)
	err := writeMessage(writeCtx, conn, &Packet{Type: PacketDisconnect, Namespace: c.namespace()})
	cancel()
	if err != nil {
		c.log.Debugf("Failed to send disconnect packet: %v", err)
	}
	c.closeConn(conn, ReasonClientDisconnect, false)
}

// Emit sends an event without waiting for an acknowledgement.
func (c *Conn) Emit(ctx context.Context, event string, args ...any) error {
	pkt, err := NewEventPacket(c.namespace(), nil, event, args...)
	if err != nil {
		return err
	}
	return c.writePacket(ctx, pkt)
}

// EmitWithAck sends an event and waits until the server acknowledges it.
//
// The wait is bounded only by the context. If the connection is lost before the ack arrives,
// ErrSocketClosed is returned.
func (c *Conn) EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	id := c.ackCounter.Add(1) - 1
	pkt, err := NewEventPacket(c.namespace(), &id, event, args...)
	if err != nil {
		return nil, err
	}
	ch := make(chan []json.RawMessage, 1)
	c.ackLock.Lock()
	c.ackWaiters[id] = ch
	c.ackLock.Unlock()
	defer c.cancelAck(id)

	if err = c.writePacket(ctx, pkt); err != nil {
		return nil, err
	}
	select {
	case args, ok := <-ch:
		if !ok {
			return nil, ErrSocketClosed
		}
		return args, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) receiveAck(id uint64, args []json.RawMessage) {
	c.ackLock.Lock()
	defer c.ackLock.Unlock()
	ch, ok := c.ackWaiters[id]
	if !ok {
		c.log.Debugf("Dropping ack %d with no waiter", id)
		return
	}
	delete(c.ackWaiters, id)
	ch <- args
}

func (c *Conn) cancelAck(id uint64) {
	c.ackLock.Lock()
	delete(c.ackWaiters, id)
	c.ackLock.Unlock()
}

func (c *Conn) failAckWaiters() {
	c.ackLock.Lock()
	defer c.ackLock.Unlock()
	for _, ch := range c.ackWaiters {
		close(ch)
	}
	c.ackWaiters = make(map[uint64]chan []json.RawMessage)
}

func (c *Conn) writePacket(ctx context.Context, pkt *Packet) error {
	c.lock.Lock()
	conn := c.conn
	c.lock.Unlock()
	if conn == nil {
		return ErrSocketClosed
	}
	return writeMessage(ctx, conn, pkt)
}

func writeMessage(ctx context.Context, conn *websocket.Conn, pkt *Packet) error {
	return conn.Write(ctx, websocket.MessageText, []byte(string(rune(engineMessage))+pkt.Encode()))
}

func truncate(data []byte) string {
	if len(data) > 64 {
		return string(data[:64]) + "..."
	}
	return string(data)
}
