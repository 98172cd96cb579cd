// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chatmodule

import (
	"net/url"
	"strings"
	"time"

	"github.com/example/chatmodule/protocol"
	"github.com/example/chatmodule/socket"
)

const (
	DefaultMaxFileSize          = 10 * 1024 * 1024
	DefaultMaxVideoSize         = 50 * 1024 * 1024
	DefaultConnectionTimeout    = 10 * time.Second
	DefaultReconnectionAttempts = 5
	DefaultReconnectDelay       = 1 * time.Second
	DefaultReconnectDelayMax    = 5 * time.Second
	DefaultOutboxMaxRetries     = 3
)

// Config contains everything the client needs to know about the server and the current user.
//
// Use NewConfig to get a config with the defaults filled in.
type Config struct {
	ServerURL string
	AuthToken string

	CurrentUserID   string
	CurrentUserName string
	ReceiverID      string

	EnableOfflineMessages bool
	EnableFileSharing     bool
	EnableAudioMessages   bool
	EnableImageMessages   bool
	EnableVideoMessages   bool
	MaxFileSize           int64
	MaxVideoSize          int64

	ConnectionTimeout    time.Duration
	ReconnectionAttempts int
	ReconnectDelay       time.Duration
	ReconnectDelayMax    time.Duration
	// AckTimeout enables waiting for server acknowledgements of sent messages. Zero means messages are
	// considered sent as soon as they're written to the socket.
	AckTimeout       time.Duration
	OutboxMaxRetries int

	Protocol  protocol.Mapping
	Namespace string
	Path      string
	Proxy     *url.URL

	NetworkChecker NetworkChecker
}

type Option func(*Config)

// NewConfig creates a config with the default values and applies the given options.
func NewConfig(serverURL, authToken string, opts ...Option) *Config {
	cfg := &Config{
		ServerURL: serverURL,
		AuthToken: authToken,

		CurrentUserID:   "1",
		CurrentUserName: "User",
		ReceiverID:      "1",

		EnableOfflineMessages: true,
		EnableFileSharing:     true,
		EnableAudioMessages:   true,
		EnableImageMessages:   true,
		EnableVideoMessages:   true,
		MaxFileSize:           DefaultMaxFileSize,
		MaxVideoSize:          DefaultMaxVideoSize,

		ConnectionTimeout:    DefaultConnectionTimeout,
		ReconnectionAttempts: DefaultReconnectionAttempts,
		ReconnectDelay:       DefaultReconnectDelay,
		ReconnectDelayMax:    DefaultReconnectDelayMax,
		OutboxMaxRetries:     DefaultOutboxMaxRetries,

		Protocol:  protocol.DefaultMapping(),
		Namespace: socket.DefaultNamespace,
		Path:      socket.DefaultPath,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithCurrentUser sets the ID and display name of the logged-in user.
func WithCurrentUser(userID, userName string) Option {
	return func(cfg *Config) {
		cfg.CurrentUserID = userID
		cfg.CurrentUserName = userName
	}
}

// WithReceiver sets the default other participant for new rooms.
func WithReceiver(userID string) Option {
	return func(cfg *Config) {
		cfg.ReceiverID = userID
	}
}

// WithOfflineMessages enables or disables queueing emits while disconnected.
func WithOfflineMessages(enabled bool) Option {
	return func(cfg *Config) {
		cfg.EnableOfflineMessages = enabled
	}
}

// WithFileSharing enables or disables file messages and sets their maximum size in bytes.
func WithFileSharing(enabled bool, maxSize int64) Option {
	return func(cfg *Config) {
		cfg.EnableFileSharing = enabled
		cfg.MaxFileSize = maxSize
	}
}

// WithMediaMessages enables or disables audio, image and video messages.
func WithMediaMessages(audio, images, videos bool) Option {
	return func(cfg *Config) {
		cfg.EnableAudioMessages = audio
		cfg.EnableImageMessages = images
		cfg.EnableVideoMessages = videos
	}
}

// WithVideoConfig enables or disables video messages and sets their maximum size in bytes.
func WithVideoConfig(enabled bool, maxSize int64) Option {
	return func(cfg *Config) {
		cfg.EnableVideoMessages = enabled
		cfg.MaxVideoSize = maxSize
	}
}

// WithConnectionSettings sets the connect timeout and how many times to retry after a connection drops.
func WithConnectionSettings(timeout time.Duration, reconnectionAttempts int) Option {
	return func(cfg *Config) {
		cfg.ConnectionTimeout = timeout
		cfg.ReconnectionAttempts = reconnectionAttempts
	}
}

// WithReconnectDelay sets the base delay of the reconnection backoff and its upper bound.
func WithReconnectDelay(base, maxDelay time.Duration) Option {
	return func(cfg *Config) {
		cfg.ReconnectDelay = base
		cfg.ReconnectDelayMax = maxDelay
	}
}

// WithProtocol replaces the whole wire name mapping.
func WithProtocol(mapping protocol.Mapping) Option {
	return func(cfg *Config) {
		cfg.Protocol = mapping
	}
}

// WithParameterNames applies the common field and event name overrides on top of the current mapping.
func WithParameterNames(overrides protocol.Overrides) Option {
	return func(cfg *Config) {
		cfg.Protocol = cfg.Protocol.Apply(overrides)
	}
}

// WithOutboxMaxRetries sets how many failed flushes a queued emit survives before it's dropped.
func WithOutboxMaxRetries(retries int) Option {
	return func(cfg *Config) {
		cfg.OutboxMaxRetries = retries
	}
}

// WithAckTimeout makes sends wait up to the given time for a server acknowledgement.
func WithAckTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.AckTimeout = timeout
	}
}

// WithProxy dials the server through an HTTP(S) or SOCKS5 proxy.
func WithProxy(proxyURL *url.URL) Option {
	return func(cfg *Config) {
		cfg.Proxy = proxyURL
	}
}

// WithNamespace sets the Socket.IO namespace to connect to.
func WithNamespace(namespace string) Option {
	return func(cfg *Config) {
		cfg.Namespace = namespace
	}
}

// WithPath sets the HTTP path of the Socket.IO endpoint.
func WithPath(path string) Option {
	return func(cfg *Config) {
		cfg.Path = path
	}
}

// WithNetworkChecker replaces the default reachability check done before connecting.
func WithNetworkChecker(checker NetworkChecker) Option {
	return func(cfg *Config) {
		cfg.NetworkChecker = checker
	}
}

func (cfg *Config) clone() *Config {
	out := *cfg
	out.Protocol = cfg.Protocol.Clone()
	if cfg.Proxy != nil {
		proxyURL := *cfg.Proxy
		out.Proxy = &proxyURL
	}
	return &out
}

// Validate checks that the config can be used to create a client.
func (cfg *Config) Validate() error {
	parsed, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return &ConfigError{Field: "server URL", Reason: err.Error()}
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return &ConfigError{Field: "server URL", Reason: "scheme must be http, https, ws or wss"}
	}
	if parsed.Host == "" {
		return &ConfigError{Field: "server URL", Reason: "host is missing"}
	}
	if strings.TrimSpace(cfg.CurrentUserID) == "" {
		return &ConfigError{Field: "current user ID", Reason: "must not be empty"}
	}
	if cfg.MaxFileSize <= 0 {
		return &ConfigError{Field: "max file size", Reason: "must be positive"}
	}
	if cfg.MaxVideoSize <= 0 {
		return &ConfigError{Field: "max video size", Reason: "must be positive"}
	}
	if cfg.ConnectionTimeout <= 0 {
		return &ConfigError{Field: "connection timeout", Reason: "must be positive"}
	}
	if cfg.ReconnectionAttempts < 0 {
		return &ConfigError{Field: "reconnection attempts", Reason: "must not be negative"}
	}
	if cfg.ReconnectDelay < 0 || cfg.ReconnectDelayMax < cfg.ReconnectDelay {
		return &ConfigError{Field: "reconnect delay", Reason: "max must be at least the base delay"}
	}
	if cfg.OutboxMaxRetries < 1 {
		return &ConfigError{Field: "outbox max retries", Reason: "must be at least 1"}
	}
	if cfg.Namespace != "" && !strings.HasPrefix(cfg.Namespace, "/") {
		return &ConfigError{Field: "namespace", Reason: "must start with a slash"}
	}
	return nil
}
