// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.mau.fi/util/jsontime"

	"github.com/example/chatmodule/socket"
	"github.com/example/chatmodule/store"
	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
)

type emitRequest struct {
	event     string
	data      any
	messageID string
	waitAck   bool
}

type emitResponse struct {
	Queued bool
	Ack    []json.RawMessage
}

type emitResult struct {
	resp *emitResponse
	err  error
}

// Emit sends an arbitrary event to the server with the auth token added to the payload.
//
// If the client is not connected and offline messages are enabled, the event is queued and sent
// after the next successful connection. Otherwise ErrNotConnected is returned.
func (cli *Client) Emit(ctx context.Context, event string, data any) error {
	_, err := cli.emit(ctx, emitRequest{event: event, data: data})
	return err
}

// EmitWithAck sends an event and waits for the server to acknowledge it.
//
// Unlike Emit, this never queues: when the client is disconnected, ErrNotConnected is returned.
// If the config has no AckTimeout, the wait is only bounded by ctx.
func (cli *Client) EmitWithAck(ctx context.Context, event string, data any) ([]json.RawMessage, error) {
	conn := cli.getSocket()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return cli.sendWithAck(ctx, conn, event, cli.mapping.AuthenticatedPayload(data, cli.Config.AuthToken))
}

func (cli *Client) emit(ctx context.Context, req emitRequest) (*emitResponse, error) {
	conn := cli.getSocket()
	if conn == nil {
		return cli.enqueue(ctx, req)
	}
	payload := cli.mapping.AuthenticatedPayload(req.data, cli.Config.AuthToken)
	if req.waitAck && cli.Config.AckTimeout > 0 {
		ack, err := cli.sendWithAck(ctx, conn, req.event, payload)
		if err != nil {
			return nil, err
		}
		return &emitResponse{Ack: ack}, nil
	}
	err := conn.Emit(ctx, req.event, payload)
	if errors.Is(err, socket.ErrSocketClosed) {
		return cli.enqueue(ctx, req)
	} else if err != nil {
		return nil, err
	}
	cli.sendLog.Debugf("Sent %s event", req.event)
	return &emitResponse{}, nil
}

func (cli *Client) sendWithAck(ctx context.Context, conn *socket.Conn, event string, payload any) ([]json.RawMessage, error) {
	if cli.Config.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Config.AckTimeout)
		defer cancel()
	}
	ack, err := conn.EmitWithAck(ctx, event, payload)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w for %s", ErrAckTimeout, event)
	} else if errors.Is(err, socket.ErrSocketClosed) {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	} else if err != nil {
		return nil, err
	}
	cli.sendLog.Debugf("Sent %s event and received ack with %d args", event, len(ack))
	return ack, nil
}

// enqueue stores the event without the auth token, which is added again when the outbox is flushed.
func (cli *Client) enqueue(ctx context.Context, req emitRequest) (*emitResponse, error) {
	if !cli.Config.EnableOfflineMessages {
		return nil, ErrNotConnected
	}
	var payload json.RawMessage
	if req.data != nil {
		var err error
		payload, err = json.Marshal(req.data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload for outbox: %w", req.event, err)
		}
	}
	entry := &store.OutboxEntry{
		ID:        ulid.Make(),
		MessageID: req.messageID,
		Event:     req.event,
		Payload:   payload,
		QueuedAt:  jsontime.UnixMilliNow(),
	}
	if err := cli.Outbox.Enqueue(ctx, entry); errors.Is(err, store.ErrOutboxDisabled) {
		return nil, ErrNotConnected
	} else if err != nil {
		return nil, fmt.Errorf("failed to queue %s event: %w", req.event, err)
	}
	cli.sendLog.Debugf("Not connected, queued %s event %s", req.event, entry.ID)
	return &emitResponse{Queued: true}, nil
}

func (cli *Client) flushAfterConnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := cli.FlushOutbox(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		cli.Log.Warnf("Failed to flush outbox: %v", err)
	}
}

// FlushOutbox sends all queued events in the order they were queued.
//
// Entries that fail are kept for the next flush until they've been retried Config.OutboxMaxRetries
// times, after which they're dropped and the corresponding messages are marked as failed.
func (cli *Client) FlushOutbox(ctx context.Context) error {
	cli.flushLock.Lock()
	defer cli.flushLock.Unlock()
	if cli.getSocket() == nil {
		return ErrNotConnected
	}
	pending, err := cli.Outbox.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox entries: %w", err)
	} else if len(pending) == 0 {
		return nil
	}
	cli.sendLog.Infof("Flushing %d queued events", len(pending))
	var sent, failed int
	for _, entry := range pending {
		conn := cli.getSocket()
		if conn == nil {
			cli.sendLog.Warnf("Connection lost while flushing outbox")
			break
		}
		err = cli.flushEntry(ctx, conn, entry)
		if err != nil {
			failed++
			cli.sendLog.Warnf("Failed to send queued %s event %s: %v", entry.Event, entry.ID, err)
			if _, incErr := cli.Outbox.IncrementRetry(ctx, entry.ID); incErr != nil {
				cli.sendLog.Errorf("Failed to increment retry count of %s: %v", entry.ID, incErr)
			}
			continue
		}
		sent++
		if err = cli.Outbox.Remove(ctx, entry.ID); err != nil {
			cli.sendLog.Errorf("Failed to remove %s from outbox: %v", entry.ID, err)
		}
	}
	dropped, err := cli.Outbox.CleanupFailed(ctx, cli.Config.OutboxMaxRetries)
	if err != nil {
		cli.sendLog.Errorf("Failed to clean up failed outbox entries: %v", err)
	}
	for _, entry := range dropped {
		cli.sendLog.Warnf("Dropping %s event %s after %d retries", entry.Event, entry.ID, entry.RetryCount)
		if entry.MessageID != "" {
			cli.setMessageStatus(ctx, entry.MessageID, types.MessageStatusFailed)
		}
	}
	left, _ := cli.Outbox.Pending(ctx)
	cli.dispatchEvent(&events.OutboxFlushed{Sent: sent, Failed: failed, Left: len(left)})
	return nil
}

func (cli *Client) flushEntry(ctx context.Context, conn *socket.Conn, entry *store.OutboxEntry) error {
	var data any
	if len(entry.Payload) > 0 {
		data = entry.Payload
	}
	payload := cli.mapping.AuthenticatedPayload(data, cli.Config.AuthToken)
	if entry.MessageID != "" && cli.Config.AckTimeout > 0 {
		ack, err := cli.sendWithAck(ctx, conn, entry.Event, payload)
		if err != nil {
			return err
		}
		cli.markSent(ctx, entry.MessageID, ack)
		return nil
	}
	if err := conn.Emit(ctx, entry.Event, payload); err != nil {
		return err
	}
	if entry.MessageID != "" {
		cli.markSent(ctx, entry.MessageID, nil)
	}
	return nil
}
