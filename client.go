// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package chatmodule implements a client for one-to-one chat over a Socket.IO server.
package chatmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/util/exsync"

	"github.com/example/chatmodule/protocol"
	"github.com/example/chatmodule/router"
	"github.com/example/chatmodule/socket"
	"github.com/example/chatmodule/store"
	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
	waLog "github.com/example/chatmodule/util/log"
)

// EventHandler is a function that can handle events emitted by the client.
type EventHandler func(evt any)

var nextHandlerID atomic.Uint32

type wrappedEventHandler struct {
	fn EventHandler
	id uint32
}

type inboundEvent struct {
	name string
	args []json.RawMessage
	ack  socket.AckFunc
}

type reconnectLoop struct {
	cancel context.CancelFunc
}

// Client contains everything necessary to connect to a chat server and exchange messages.
type Client struct {
	Config       *Config
	Log          waLog.Logger
	recvLog      waLog.Logger
	sendLog      waLog.Logger
	Router       *router.Router
	MessageStore store.MessageStore
	RoomStore    store.RoomStore
	Outbox       store.OutboxStore

	mapping protocol.Mapping
	wsURL   string

	socket     *socket.Conn
	socketLock sync.Mutex
	connecting bool
	connCancel context.CancelFunc
	generation uint64

	state     types.ConnectionState
	stateLock sync.RWMutex
	online    atomic.Bool

	reconnect     *reconnectLoop
	reconnectLock sync.Mutex

	handlerQueue      chan inboundEvent
	eventHandlers     []wrappedEventHandler
	eventHandlersLock sync.RWMutex

	joinedRooms *exsync.Set[string]
	flushLock   sync.Mutex
	// Serializes reconciliation of inbound messages with local state.
	messageLock sync.Mutex
}

const handlerQueueSize = 2048

// NewClient initializes a new chat client. The config is validated but no connection is made.
//
// The logger can be nil, it will default to a no-op logger.
func NewClient(cfg *Config, log waLog.Logger) (*Client, error) {
	if log == nil {
		log = waLog.Noop
	}
	if cfg == nil {
		return nil, &ConfigError{Field: "config", Reason: "must not be nil"}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wsURL, err := socket.BuildURL(cfg.ServerURL, cfg.Path)
	if err != nil {
		return nil, &ConfigError{Field: "server URL", Reason: err.Error()}
	}
	cfg = cfg.clone()
	if cfg.NetworkChecker == nil {
		cfg.NetworkChecker = NewDialChecker(cfg.ServerURL)
	}
	memStore := store.NewMemoryStore(log.Sub("Store"))
	cli := &Client{
		Config:       cfg,
		Log:          log,
		recvLog:      log.Sub("Recv"),
		sendLog:      log.Sub("Send"),
		Router:       router.New(log.Sub("Router")),
		MessageStore: memStore,
		RoomStore:    memStore,
		Outbox:       memStore,

		mapping:       cfg.Protocol.Clone(),
		wsURL:         wsURL,
		state:         types.StateDisconnected,
		handlerQueue:  make(chan inboundEvent, handlerQueueSize),
		eventHandlers: make([]wrappedEventHandler, 0, 1),
		joinedRooms:   exsync.NewSet[string](),
	}
	if !cfg.EnableOfflineMessages {
		cli.Outbox = store.DisabledOutbox
	}
	cli.online.Store(true)
	cli.Router.OnRegister = func(event string) {
		cli.recvLog.Debugf("Listening to %s events", event)
	}
	cli.registerDefaultListeners()
	if cfg.AuthToken != "" {
		log.Debugf("Client created for %s as user %s (token provided)", cfg.ServerURL, cfg.CurrentUserID)
	} else {
		log.Debugf("Client created for %s as user %s (no token)", cfg.ServerURL, cfg.CurrentUserID)
	}
	return cli, nil
}

// Mapping returns a copy of the protocol mapping used by the client.
func (cli *Client) Mapping() protocol.Mapping {
	return cli.mapping.Clone()
}

func (cli *Client) registerDefaultListeners() {
	cli.Router.On(cli.mapping.EventName(protocol.EventReceiveMessage), cli.handleReceivedMessage)
	cli.Router.On(cli.mapping.EventName(protocol.EventMessageDelivered), func(data json.RawMessage) {
		cli.handleReceipt(data, events.ReceiptTypeDelivered)
	})
	cli.Router.On(cli.mapping.EventName(protocol.EventMessageRead), func(data json.RawMessage) {
		cli.handleReceipt(data, events.ReceiptTypeRead)
	})
	cli.Router.On(cli.mapping.EventName(protocol.EventRoomConnected), cli.handleRoomConnected)
}

// State returns the current connection state.
func (cli *Client) State() types.ConnectionState {
	cli.stateLock.RLock()
	defer cli.stateLock.RUnlock()
	return cli.state
}

// IsConnected checks if the client is connected to the server.
func (cli *Client) IsConnected() bool {
	return cli.State() == types.StateConnected && cli.getSocket() != nil
}

// IsOnline returns the network availability seen by the last check.
func (cli *Client) IsOnline() bool {
	return cli.online.Load()
}

func (cli *Client) setState(state types.ConnectionState, err error) {
	cli.stateLock.Lock()
	old := cli.state
	cli.state = state
	cli.stateLock.Unlock()
	if old == state && err == nil {
		return
	}
	cli.Log.Debugf("Connection state %s -> %s", old, state)
	cli.dispatchEvent(&events.ConnectionStateChanged{Old: old, New: state, Err: err})
}

func (cli *Client) getSocket() *socket.Conn {
	cli.socketLock.Lock()
	defer cli.socketLock.Unlock()
	return cli.socket
}

func (cli *Client) checkNetwork(ctx context.Context) bool {
	online := cli.Config.NetworkChecker.Online(ctx)
	cli.online.Store(online)
	return online
}

func (cli *Client) newSocket(connCtx context.Context) *socket.Conn {
	conn := socket.NewConn(cli.Log.Sub("Socket"), cli.wsURL)
	conn.Namespace = cli.Config.Namespace
	conn.ConnectTimeout = cli.Config.ConnectionTimeout
	conn.Proxy = cli.Config.Proxy
	if cli.Config.AuthToken != "" {
		conn.Auth = map[string]string{"token": cli.Config.AuthToken}
	}
	conn.OnEvent = func(name string, args []json.RawMessage, ack socket.AckFunc) {
		cli.queueInbound(connCtx, name, args, ack)
	}
	conn.OnDisconnect = func(reason string, remote bool) {
		cli.onSocketDisconnect(conn, reason, remote)
	}
	return conn
}

// Connect connects the client to the chat server.
//
// If the client is already connected, this is a no-op. If the initial connection fails, the error is
// returned and automatic reconnection is started in the background.
func (cli *Client) Connect(ctx context.Context) error {
	cli.stopReconnect()
	err := cli.connect(ctx, 0)
	if errors.Is(err, ErrAlreadyConnected) {
		return nil
	} else if err == nil {
		cli.dispatchEvent(&events.Connected{})
		go cli.flushAfterConnect()
	} else if !errors.Is(err, ErrNoNetwork) && !errors.Is(err, ErrConnectCancelled) && ctx.Err() == nil {
		cli.startReconnect()
	}
	return err
}

func (cli *Client) connect(ctx context.Context, attempt int) error {
	if !cli.checkNetwork(ctx) {
		cli.setState(types.StateNoNetwork, ErrNoNetwork)
		return ErrNoNetwork
	}
	cli.socketLock.Lock()
	if cli.socket != nil || cli.connecting {
		alreadyConnected := cli.socket != nil
		cli.socketLock.Unlock()
		if alreadyConnected && cli.State() != types.StateConnected {
			cli.setState(types.StateConnected, nil)
		}
		return ErrAlreadyConnected
	}
	cli.connecting = true
	gen := cli.generation
	cli.socketLock.Unlock()

	cli.setState(types.StateConnecting, nil)
	connCtx, connCancel := context.WithCancel(context.Background())
	conn := cli.newSocket(connCtx)
	err := conn.Connect(ctx)

	cli.socketLock.Lock()
	cli.connecting = false
	if err == nil && gen != cli.generation {
		cli.socketLock.Unlock()
		connCancel()
		conn.Close()
		return ErrConnectCancelled
	} else if err != nil {
		cli.socketLock.Unlock()
		connCancel()
		cli.Log.Warnf("Failed to connect (attempt %d): %v", attempt, err)
		cli.setState(types.StateError, err)
		cli.dispatchEvent(&events.ConnectFailure{Err: err, Attempt: attempt})
		return fmt.Errorf("failed to connect to %s: %w", cli.Config.ServerURL, err)
	}
	cli.socket = conn
	cli.connCancel = connCancel
	cli.socketLock.Unlock()

	go cli.handlerQueueLoop(connCtx)
	cli.Log.Infof("Connected to %s", cli.Config.ServerURL)
	cli.setState(types.StateConnected, nil)
	return nil
}

func (cli *Client) onSocketDisconnect(conn *socket.Conn, reason string, remote bool) {
	cli.socketLock.Lock()
	if cli.socket != conn {
		cli.socketLock.Unlock()
		cli.Log.Debugf("Ignoring disconnect of old socket (%s)", reason)
		return
	}
	cli.socket = nil
	if cli.connCancel != nil {
		cli.connCancel()
		cli.connCancel = nil
	}
	cli.socketLock.Unlock()

	cli.Log.Infof("Disconnected: %s", reason)
	cli.dispatchEvent(&events.Disconnected{Reason: reason, Remote: remote})
	if !remote {
		cli.setState(types.StateDisconnected, nil)
	} else if reason == socket.ReasonServerDisconnect {
		cli.setState(types.StateDisconnected, nil)
	} else {
		cli.startReconnect()
	}
}

// Disconnect closes the connection and stops automatic reconnection. Registered listeners are kept.
func (cli *Client) Disconnect() {
	cli.stopReconnect()
	cli.socketLock.Lock()
	conn := cli.socket
	cli.socket = nil
	cli.generation++
	if cli.connCancel != nil {
		cli.connCancel()
		cli.connCancel = nil
	}
	cli.socketLock.Unlock()
	if conn == nil {
		if cli.State() != types.StateDisconnected {
			cli.setState(types.StateDisconnected, nil)
		}
		return
	}
	cli.setState(types.StateDisconnecting, nil)
	conn.Close()
	cli.dispatchEvent(&events.Disconnected{Reason: socket.ReasonClientDisconnect, Remote: false})
	cli.setState(types.StateDisconnected, nil)
}

// DisconnectAndReset disconnects and removes every wire event listener registered by the caller.
// The client's own listeners are registered again, so the client can still be reconnected.
func (cli *Client) DisconnectAndReset() {
	cli.Disconnect()
	cli.Router.Reset()
	cli.registerDefaultListeners()
}

func (cli *Client) startReconnect() {
	if cli.Config.ReconnectionAttempts <= 0 {
		cli.setState(types.StateFailed, ErrReconnectFailed)
		cli.dispatchEvent(&events.ReconnectFailed{Attempts: 0})
		return
	}
	cli.reconnectLock.Lock()
	if cli.reconnect != nil {
		cli.reconnectLock.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &reconnectLoop{cancel: cancel}
	cli.reconnect = loop
	cli.reconnectLock.Unlock()
	cli.setState(types.StateReconnecting, nil)
	go cli.autoReconnect(ctx, loop)
}

func (cli *Client) stopReconnect() {
	cli.reconnectLock.Lock()
	if cli.reconnect != nil {
		cli.reconnect.cancel()
		cli.reconnect = nil
	}
	cli.reconnectLock.Unlock()
}

// reconnectDelay is the exponential backoff with +-50% jitter, capped at the configured maximum.
func (cli *Client) reconnectDelay(attempt int) time.Duration {
	delay := cli.Config.ReconnectDelay
	for i := 1; i < attempt && delay < cli.Config.ReconnectDelayMax; i++ {
		delay *= 2
	}
	delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	return min(delay, cli.Config.ReconnectDelayMax)
}

func (cli *Client) autoReconnect(ctx context.Context, loop *reconnectLoop) {
	defer func() {
		cli.reconnectLock.Lock()
		if cli.reconnect == loop {
			cli.reconnect = nil
		}
		cli.reconnectLock.Unlock()
		loop.cancel()
	}()
	attempts := cli.Config.ReconnectionAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		delay := cli.reconnectDelay(attempt)
		cli.Log.Debugf("Automatically reconnecting after %v (attempt %d/%d)", delay, attempt, attempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		attemptCtx, cancel := context.WithTimeout(ctx, cli.Config.ConnectionTimeout)
		err := cli.connect(attemptCtx, attempt)
		cancel()
		if errors.Is(err, ErrAlreadyConnected) {
			cli.Log.Debugf("Already connected, stopping reconnection")
			return
		} else if err == nil {
			cli.Log.Infof("Reconnected after %d attempts", attempt)
			cli.dispatchEvent(&events.Reconnected{Attempts: attempt})
			go cli.flushAfterConnect()
			return
		} else if errors.Is(err, ErrNoNetwork) {
			cli.Log.Debugf("Network is unavailable, stopping reconnection until it comes back")
			return
		} else if ctx.Err() != nil || errors.Is(err, ErrConnectCancelled) {
			return
		}
		cli.setState(types.StateReconnecting, nil)
	}
	cli.Log.Warnf("Giving up after %d reconnection attempts", attempts)
	cli.setState(types.StateFailed, ErrReconnectFailed)
	cli.dispatchEvent(&events.ReconnectFailed{Attempts: attempts})
}

// UpdateNetworkStatus checks the network availability again and reacts to changes.
//
// Coming back online while in StateNoNetwork reconnects, going offline switches to StateNoNetwork.
func (cli *Client) UpdateNetworkStatus(ctx context.Context) error {
	wasOnline := cli.online.Load()
	nowOnline := cli.Config.NetworkChecker.Online(ctx)
	cli.online.Store(nowOnline)
	cli.Log.Debugf("Network status: was online: %t, now online: %t", wasOnline, nowOnline)
	if wasOnline != nowOnline {
		cli.dispatchEvent(&events.NetworkChanged{Online: nowOnline})
	}
	if !nowOnline {
		if wasOnline {
			cli.Log.Warnf("Network lost")
			cli.setState(types.StateNoNetwork, ErrNoNetwork)
		}
		return nil
	}
	if cli.State() == types.StateNoNetwork {
		cli.Log.Infof("Network restored, reconnecting")
		return cli.Connect(ctx)
	}
	return nil
}

// AddEventHandler registers a new function to receive all events emitted by this client.
//
// The returned integer is the event handler ID, which can be passed to RemoveEventHandler to remove it.
//
// Handlers are called synchronously from the goroutine that produced the event, so they should not
// block for long or call Connect and Disconnect directly.
func (cli *Client) AddEventHandler(handler EventHandler) uint32 {
	nextID := nextHandlerID.Add(1)
	cli.eventHandlersLock.Lock()
	cli.eventHandlers = append(cli.eventHandlers, wrappedEventHandler{handler, nextID})
	cli.eventHandlersLock.Unlock()
	return nextID
}

// RemoveEventHandler removes a previously registered event handler function.
// If the function with the given ID is found, this returns true.
func (cli *Client) RemoveEventHandler(id uint32) bool {
	cli.eventHandlersLock.Lock()
	defer cli.eventHandlersLock.Unlock()
	for index := range cli.eventHandlers {
		if cli.eventHandlers[index].id == id {
			if index == 0 {
				cli.eventHandlers[0].fn = nil
				cli.eventHandlers = cli.eventHandlers[1:]
				return true
			} else if index < len(cli.eventHandlers)-1 {
				copy(cli.eventHandlers[index:], cli.eventHandlers[index+1:])
			}
			cli.eventHandlers[len(cli.eventHandlers)-1].fn = nil
			cli.eventHandlers = cli.eventHandlers[:len(cli.eventHandlers)-1]
			return true
		}
	}
	return false
}

// RemoveEventHandlers removes all event handlers that have been registered with AddEventHandler
func (cli *Client) RemoveEventHandlers() {
	cli.eventHandlersLock.Lock()
	cli.eventHandlers = make([]wrappedEventHandler, 0, 1)
	cli.eventHandlersLock.Unlock()
}

func (cli *Client) dispatchEvent(evt any) {
	cli.eventHandlersLock.RLock()
	defer func() {
		cli.eventHandlersLock.RUnlock()
		err := recover()
		if err != nil {
			cli.Log.Errorf("Event handler panicked while handling a %T: %v\n%s", evt, err, debug.Stack())
		}
	}()
	for _, handler := range cli.eventHandlers {
		handler.fn(evt)
	}
}

// queueInbound hands an event from the socket read pump to the handler loop.
// Events still waiting for queue space when their connection ends are dropped.
func (cli *Client) queueInbound(connCtx context.Context, name string, args []json.RawMessage, ack socket.AckFunc) {
	evt := inboundEvent{name: name, args: args, ack: ack}
	select {
	case cli.handlerQueue <- evt:
	default:
		cli.Log.Warnf("Handler queue is full, message ordering is no longer guaranteed")
		go func() {
			select {
			case cli.handlerQueue <- evt:
			case <-connCtx.Done():
				cli.recvLog.Warnf("Dropped %s event that was still waiting for the handler queue after disconnect", name)
			}
		}()
	}
}

func (cli *Client) handlerQueueLoop(ctx context.Context) {
	for {
		select {
		case evt := <-cli.handlerQueue:
			cli.handleInbound(evt)
		case <-ctx.Done():
			return
		}
	}
}

func (cli *Client) handleInbound(evt inboundEvent) {
	var data json.RawMessage
	if len(evt.args) > 0 {
		data = evt.args[0]
	}
	cli.recvLog.Debugf("Received %s event (%d bytes)", evt.name, len(data))
	cli.Router.Dispatch(evt.name, data)
	if evt.ack != nil {
		if err := evt.ack(); err != nil {
			cli.recvLog.Warnf("Failed to acknowledge %s event: %v", evt.name, err)
		}
	}
}
