// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/example/chatmodule"
	"github.com/example/chatmodule/health"
	"github.com/example/chatmodule/protocol"
	waLog "github.com/example/chatmodule/util/log"
)

var cfgFile string

const (
	serverKey     = "server"
	tokenKey      = "token"
	userIDKey     = "user-id"
	userNameKey   = "user-name"
	receiverKey   = "receiver"
	profileKey    = "profile"
	logLevelKey   = "log-level"
	healthAddrKey = "health-addr"
	ackTimeoutKey = "ack-timeout"
)

var rootCmd = &cobra.Command{
	Use:          "chatdemo",
	Short:        "Terminal client for Socket.IO chat servers",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chatdemo.yaml)")
	flags.String(serverKey, "http://localhost:3000", "Chat server URL")
	flags.String(tokenKey, "", "Auth token sent on connect and with every event")
	flags.String(userIDKey, "1", "ID of the current user")
	flags.String(userNameKey, "User", "Display name of the current user")
	flags.String(receiverKey, "1", "ID of the user to chat with")
	flags.String(profileKey, "", "Protocol profile (.yaml or .json) with custom field and event names")
	flags.String(logLevelKey, "INFO", "Minimum log level (DEBUG, INFO, WARN, ERROR)")
	flags.String(healthAddrKey, "", "Address to serve the health report on, e.g. :8080")
	flags.Duration(ackTimeoutKey, 0, "Wait for server acknowledgements of sent messages")

	for _, key := range []string{serverKey, tokenKey, userIDKey, userNameKey, receiverKey, profileKey, logLevelKey, healthAddrKey, ackTimeoutKey} {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(key)))
	}

	rootCmd.AddCommand(chatCmd, sendCmd, profileCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".chatdemo")
	}

	viper.SetEnvPrefix("CHATDEMO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

func loadMapping() (protocol.Mapping, error) {
	path := viper.GetString(profileKey)
	if path == "" {
		return protocol.DefaultMapping(), nil
	}
	return protocol.LoadProfile(path)
}

func newClient() (*chatmodule.Client, waLog.Logger, error) {
	log := waLog.Writer(os.Stderr, "Main", viper.GetString(logLevelKey), true)
	mapping, err := loadMapping()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load protocol profile: %w", err)
	}
	cfg := chatmodule.NewConfig(viper.GetString(serverKey), viper.GetString(tokenKey),
		chatmodule.WithCurrentUser(viper.GetString(userIDKey), viper.GetString(userNameKey)),
		chatmodule.WithReceiver(viper.GetString(receiverKey)),
		chatmodule.WithProtocol(mapping),
		chatmodule.WithAckTimeout(viper.GetDuration(ackTimeoutKey)),
	)
	cli, err := chatmodule.NewClient(cfg, log.Sub("Client"))
	if err != nil {
		return nil, nil, err
	}
	return cli, log, nil
}

// startHealthServer serves the health report if an address is configured. The returned function stops it.
func startHealthServer(cli *chatmodule.Client, log waLog.Logger) func() {
	addr := viper.GetString(healthAddrKey)
	if addr == "" {
		return func() {}
	}
	monitor := health.NewMonitor(log.Sub("Health"))
	monitor.AddChecker(health.NewClientChecker(cli, ""))
	monitor.AddChecker(health.NewOutboxChecker(cli.Outbox, 0, ""))
	monitor.AddChecker(health.NewLivenessChecker(""))
	mux := http.NewServeMux()
	mux.Handle("/health", monitor.HTTPHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("Serving health report on %s/health", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Health server failed: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
