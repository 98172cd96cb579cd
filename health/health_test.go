// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/util/jsontime"

	"github.com/example/chatmodule/store"
	"github.com/example/chatmodule/types"
	waLog "github.com/example/chatmodule/util/log"
)

type fakeClient struct {
	state  types.ConnectionState
	online bool
}

func (fc *fakeClient) State() types.ConnectionState { return fc.state }
func (fc *fakeClient) IsOnline() bool               { return fc.online }

func TestClientChecker(t *testing.T) {
	tests := []struct {
		state    types.ConnectionState
		expected Status
	}{
		{types.StateConnected, StatusHealthy},
		{types.StateConnecting, StatusDegraded},
		{types.StateReconnecting, StatusDegraded},
		{types.StateNoNetwork, StatusDegraded},
		{types.StateDisconnected, StatusUnhealthy},
		{types.StateError, StatusUnhealthy},
		{types.StateFailed, StatusUnhealthy},
	}
	for _, test := range tests {
		t.Run(test.state.String(), func(t *testing.T) {
			res := NewClientChecker(&fakeClient{state: test.state, online: true}, "").Check(context.Background())
			assert.Equal(t, test.expected, res.Status)
			assert.Equal(t, test.state.String(), res.Details["state"])
		})
	}
	assert.Equal(t, StatusUnhealthy, NewClientChecker(nil, "").Check(context.Background()).Status)
}

func TestOutboxChecker(t *testing.T) {
	ctx := context.Background()
	outbox := store.NewMemoryStore(waLog.Noop)
	checker := NewOutboxChecker(outbox, 1, "")
	assert.Equal(t, "outbox", checker.Name())
	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	for i := 0; i < 2; i++ {
		require.NoError(t, outbox.Enqueue(ctx, &store.OutboxEntry{ID: ulid.Make(), Event: "custom", QueuedAt: jsontime.UnixMilliNow()}))
	}
	res := checker.Check(ctx)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, 2, res.Details["pending"])

	failing := NewOutboxChecker(&failingOutbox{}, 0, "")
	assert.Equal(t, StatusUnhealthy, failing.Check(ctx).Status)
}

type failingOutbox struct {
	store.NoopOutbox
}

func (fo *failingOutbox) Pending(ctx context.Context) ([]*store.OutboxEntry, error) {
	return nil, errors.New("broken")
}

func TestMonitorHTTPHandler(t *testing.T) {
	client := &fakeClient{state: types.StateConnected}
	monitor := NewMonitor(waLog.Noop)
	monitor.AddChecker(NewClientChecker(client, ""))
	monitor.AddChecker(NewLivenessChecker(""))

	rec := httptest.NewRecorder()
	monitor.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Components, 2)

	client.state = types.StateFailed
	rec = httptest.NewRecorder()
	monitor.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Components["chat"].Status)
}
