// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// NoopOutbox is used when offline messaging is disabled. Enqueue always fails with Error.
type NoopOutbox struct {
	Error error
}

var DisabledOutbox = &NoopOutbox{Error: ErrOutboxDisabled}

var _ OutboxStore = (*NoopOutbox)(nil)

func (n *NoopOutbox) Enqueue(ctx context.Context, entry *OutboxEntry) error {
	return n.Error
}

func (n *NoopOutbox) Pending(ctx context.Context) ([]*OutboxEntry, error) {
	return nil, nil
}

func (n *NoopOutbox) Remove(ctx context.Context, id ulid.ULID) error {
	return nil
}

func (n *NoopOutbox) IncrementRetry(ctx context.Context, id ulid.ULID) (int, error) {
	return 0, n.Error
}

func (n *NoopOutbox) CleanupFailed(ctx context.Context, maxRetries int) ([]*OutboxEntry, error) {
	return nil, nil
}
