// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/util/ptr"
)

func TestMessageTypeFromInt(t *testing.T) {
	assert.Equal(t, MessageTypeImage, MessageTypeFromInt(1))
	assert.Equal(t, MessageTypeVideo, MessageTypeFromInt(5))
	assert.Equal(t, MessageTypeText, MessageTypeFromInt(42))
	assert.Equal(t, MessageTypeText, MessageTypeFromInt(-1))
}

func TestStatusCanAdvanceTo(t *testing.T) {
	for _, test := range []struct {
		from, to MessageStatus
		want     bool
	}{
		{MessageStatusSending, MessageStatusSent, true},
		{MessageStatusSending, MessageStatusRead, true},
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusDelivered, MessageStatusRead, true},
		{MessageStatusRead, MessageStatusDelivered, false},
		{MessageStatusDelivered, MessageStatusSent, false},
		{MessageStatusSent, MessageStatusSent, false},
		{MessageStatusSending, MessageStatusFailed, true},
		{MessageStatusSent, MessageStatusFailed, true},
		{MessageStatusDelivered, MessageStatusFailed, false},
		{MessageStatusFailed, MessageStatusSent, true},
		{MessageStatusFailed, MessageStatusRead, true},
	} {
		assert.Equal(t, test.want, test.from.CanAdvanceTo(test.to), "%s -> %s", test.from, test.to)
	}
}

func TestDisplayText(t *testing.T) {
	assert.Equal(t, "hello", (&Message{Content: "hello"}).DisplayText())
	assert.Equal(t, "📷 Image", (&Message{Type: MessageTypeImage, Content: "Image"}).DisplayText())
	assert.Equal(t, "📎 File", (&Message{Type: MessageTypeFile}).DisplayText())
	assert.Equal(t, "📎 report.pdf", (&Message{Type: MessageTypeFile, FileName: ptr.Ptr("report.pdf")}).DisplayText())
	assert.Equal(t, "joined", (&Message{Type: MessageTypeSystem, Content: "joined"}).DisplayText())
}

func TestIsMedia(t *testing.T) {
	assert.False(t, (&Message{Type: MessageTypeText}).IsMedia())
	assert.False(t, (&Message{Type: MessageTypeSystem}).IsMedia())
	assert.True(t, (&Message{Type: MessageTypeAudio}).IsMedia())
	assert.True(t, (&Message{Type: MessageTypeVideo}).IsMedia())
}

func TestMessageCloneIsDeep(t *testing.T) {
	dur := 3 * time.Second
	orig := &Message{ID: "a", FileName: ptr.Ptr("x"), Duration: &dur, Metadata: map[string]string{"k": "v"}}
	cp := orig.Clone()
	*cp.FileName = "y"
	cp.Metadata["k"] = "changed"
	*cp.Duration = time.Second
	assert.Equal(t, "x", *orig.FileName)
	assert.Equal(t, "v", orig.Metadata["k"])
	assert.Equal(t, 3*time.Second, *orig.Duration)
	assert.Nil(t, (*Message)(nil).Clone())
}

func TestWithStatusCopies(t *testing.T) {
	orig := Message{ID: "a", Status: MessageStatusSending}
	updated := orig.WithStatus(MessageStatusRead)
	assert.Equal(t, MessageStatusSending, orig.Status)
	assert.Equal(t, MessageStatusRead, updated.Status)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "NO_NETWORK", StateNoNetwork.String())
	assert.Equal(t, "UNKNOWN", ConnectionState(99).String())
}
