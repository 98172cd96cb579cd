// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package socket

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/net/proxy"
)

// BuildURL converts a server base URL into the websocket URL of the Socket.IO endpoint.
//
// http and https are mapped to ws and wss respectively. An empty path uses DefaultPath.
func BuildURL(base, path string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse server url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w %q", ErrUnsupportedScheme, parsed.Scheme)
	}
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + path
	q := parsed.Query()
	q.Set("EIO", EngineIOVersion)
	q.Set("transport", "websocket")
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// ProxyClient returns a HTTP client that dials through the given proxy.
//
// http and https proxies are used through http.Transport.Proxy, socks5 proxies through
// golang.org/x/net/proxy.
func ProxyClient(base *http.Client, proxyURL *url.URL) (*http.Client, error) {
	var client http.Client
	if base != nil {
		client = *base
	}
	switch proxyURL.Scheme {
	case "http", "https":
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	case "socks5", "socks5h":
		px, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks proxy dialer: %w", err)
		}
		transport := &http.Transport{}
		if contextDialer, ok := px.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = px.Dial
		}
		client.Transport = transport
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedProxy, proxyURL.Scheme)
	}
	return &client, nil
}

func (c *Conn) makeDialOptions() (*websocket.DialOptions, error) {
	client := c.HTTPClient
	if c.Proxy != nil {
		var err error
		client, err = ProxyClient(client, c.Proxy)
		if err != nil {
			return nil, err
		}
	}
	return &websocket.DialOptions{
		HTTPClient: client,
		HTTPHeader: c.HTTPHeaders,
	}, nil
}
