// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package health provides health checking and monitoring utilities.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/example/chatmodule/store"
	"github.com/example/chatmodule/types"
	waLog "github.com/example/chatmodule/util/log"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Report represents the overall health status.
type Report struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker defines the interface for health checkers.
type Checker interface {
	Check(ctx context.Context) ComponentHealth
	Name() string
}

// Monitor monitors the health of various components.
type Monitor struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	log      waLog.Logger
}

// NewMonitor creates a new health monitor.
func NewMonitor(log waLog.Logger) *Monitor {
	if log == nil {
		log = waLog.Noop
	}
	return &Monitor{
		checkers: make(map[string]Checker),
		log:      log,
	}
}

// AddChecker adds a health checker. A checker with the same name is replaced.
func (hm *Monitor) AddChecker(checker Checker) {
	hm.mu.Lock()
	hm.checkers[checker.Name()] = checker
	hm.mu.Unlock()
}

// Check performs health checks on all registered checkers.
func (hm *Monitor) Check(ctx context.Context) Report {
	hm.mu.RLock()
	checkers := make(map[string]Checker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	components := make(map[string]ComponentHealth)
	overallStatus := StatusHealthy

	for name, checker := range checkers {
		health := checker.Check(ctx)
		components[name] = health

		if health.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if health.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return Report{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// HTTPHandler returns an HTTP handler for health checks.
func (hm *Monitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := hm.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		switch report.Status {
		case StatusHealthy:
			w.WriteHeader(http.StatusOK)
		case StatusDegraded:
			w.WriteHeader(http.StatusOK) // Still usable
		case StatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(report); err != nil {
			hm.log.Warnf("Failed to write health report: %v", err)
		}
	}
}

// StateSource is implemented by the chat client.
type StateSource interface {
	State() types.ConnectionState
	IsOnline() bool
}

// ClientChecker checks chat client connectivity.
type ClientChecker struct {
	client StateSource
	name   string
}

// NewClientChecker creates a chat client health checker.
func NewClientChecker(client StateSource, name string) *ClientChecker {
	if name == "" {
		name = "chat"
	}
	return &ClientChecker{
		client: client,
		name:   name,
	}
}

func (cc *ClientChecker) Name() string {
	return cc.name
}

func (cc *ClientChecker) Check(ctx context.Context) ComponentHealth {
	if cc.client == nil {
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   "client is nil",
			Timestamp: time.Now(),
		}
	}

	state := cc.client.State()
	details := map[string]any{
		"state":  state.String(),
		"online": cc.client.IsOnline(),
	}
	switch state {
	case types.StateConnected:
		return ComponentHealth{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
			Details:   details,
		}
	case types.StateConnecting, types.StateReconnecting, types.StateNoNetwork:
		return ComponentHealth{
			Status:    StatusDegraded,
			Message:   fmt.Sprintf("connection is %s", state),
			Timestamp: time.Now(),
			Details:   details,
		}
	default:
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   fmt.Sprintf("not connected to chat server (%s)", state),
			Timestamp: time.Now(),
			Details:   details,
		}
	}
}

// OutboxChecker reports the outbox as degraded when too many events are waiting to be sent.
type OutboxChecker struct {
	outbox    store.OutboxStore
	threshold int
	name      string
}

// NewOutboxChecker creates an outbox health checker. A threshold of zero or less defaults to 100.
func NewOutboxChecker(outbox store.OutboxStore, threshold int, name string) *OutboxChecker {
	if name == "" {
		name = "outbox"
	}
	if threshold <= 0 {
		threshold = 100
	}
	return &OutboxChecker{
		outbox:    outbox,
		threshold: threshold,
		name:      name,
	}
}

func (oc *OutboxChecker) Name() string {
	return oc.name
}

func (oc *OutboxChecker) Check(ctx context.Context) ComponentHealth {
	pending, err := oc.outbox.Pending(ctx)
	if err != nil {
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   fmt.Sprintf("failed to read outbox: %v", err),
			Timestamp: time.Now(),
			Details: map[string]any{
				"error": err.Error(),
			},
		}
	}

	details := map[string]any{
		"pending":   len(pending),
		"threshold": oc.threshold,
	}
	if len(pending) > 0 {
		details["oldest"] = pending[0].QueuedAt.Time
	}
	if len(pending) > oc.threshold {
		return ComponentHealth{
			Status:    StatusDegraded,
			Message:   fmt.Sprintf("%d events waiting to be sent", len(pending)),
			Timestamp: time.Now(),
			Details:   details,
		}
	}
	return ComponentHealth{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Details:   details,
	}
}

// LivenessChecker is a simple health check that always returns healthy.
type LivenessChecker struct {
	name string
}

// NewLivenessChecker creates a liveness checker.
func NewLivenessChecker(name string) *LivenessChecker {
	if name == "" {
		name = "liveness"
	}
	return &LivenessChecker{name: name}
}

func (lc *LivenessChecker) Name() string {
	return lc.name
}

func (lc *LivenessChecker) Check(ctx context.Context) ComponentHealth {
	return ComponentHealth{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
}
