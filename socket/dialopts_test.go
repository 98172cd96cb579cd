// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package socket

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyClient(t *testing.T) {
	httpProxy, _ := url.Parse("http://proxy.local:8080")
	client, err := ProxyClient(nil, httpProxy)
	require.NoError(t, err)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	req, _ := http.NewRequest(http.MethodGet, "https://chat.example.com", nil)
	proxied, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, httpProxy, proxied)

	socksProxy, _ := url.Parse("socks5://127.0.0.1:1080")
	client, err = ProxyClient(&http.Client{}, socksProxy)
	require.NoError(t, err)
	transport, ok = client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, transport.DialContext != nil || transport.Dial != nil)

	ftpProxy, _ := url.Parse("ftp://proxy.local")
	_, err = ProxyClient(nil, ftpProxy)
	assert.ErrorIs(t, err, ErrUnsupportedProxy)
}
