// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
)

var sendWait time.Duration

var sendCmd = &cobra.Command{
	Use:   "send ROOM TEXT...",
	Short: "Send a single text message and wait until it's sent",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, log, err := newClient()
		if err != nil {
			return err
		}
		updates := make(chan *types.Message, 64)
		cli.AddEventHandler(func(rawEvt any) {
			if evt, ok := rawEvt.(*events.MessageUpdated); ok {
				select {
				case updates <- evt.Message:
				default:
				}
			}
		})
		ctx, cancel := context.WithTimeout(cmd.Context(), sendWait)
		defer cancel()
		if err = cli.Connect(ctx); err != nil {
			log.Warnf("Failed to connect, message will be queued: %v", err)
		}
		defer cli.Disconnect()

		msg, err := cli.SendText(ctx, strings.Join(args[1:], " "), args[0])
		if err != nil {
			return err
		}
		for msg.Status == types.MessageStatusSending {
			select {
			case update := <-updates:
				if update.ID == msg.ID {
					msg = update
				}
			case <-ctx.Done():
				return fmt.Errorf("message %s was not sent in time", msg.ID)
			}
		}
		if msg.Status == types.MessageStatusFailed {
			return fmt.Errorf("message %s failed to send", msg.ID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", msg.ID, msg.Status)
		return nil
	},
}

func init() {
	sendCmd.Flags().DurationVar(&sendWait, "wait", 30*time.Second, "How long to wait for the message to be sent")
}
