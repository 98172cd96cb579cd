// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

import (
	"errors"
)

var (
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidField   = errors.New("invalid field value")
	ErrInvalidPayload = errors.New("payload is not a JSON object")
	ErrUnknownFormat  = errors.New("unknown profile format")
)
