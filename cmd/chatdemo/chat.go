// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/example/chatmodule"
	"github.com/example/chatmodule/types"
	"github.com/example/chatmodule/types/events"
	waLog "github.com/example/chatmodule/util/log"
)

var (
	chatRoom   string
	createRoom bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Connect and chat interactively",
	Long: `Connects to the server and sends every line read from stdin as a text message.

Lines starting with a slash are commands:
  /image URL [THUMBNAIL_URL]
  /file URL NAME SIZE MIME
  /audio URL MILLISECONDS
  /video URL SIZE MILLISECONDS
  /room create [RECEIVER] | join ID | leave ID
  /rooms
  /typing on|off
  /read
  /quit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatRoom, "room", "", "Room to join and send messages to")
	chatCmd.Flags().BoolVar(&createRoom, "create", false, "Create a room with the receiver before starting")
}

type chatSession struct {
	cli  *chatmodule.Client
	log  waLog.Logger
	out  io.Writer
	room string
}

func (cs *chatSession) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		fmt.Fprintf(cs.out, "[%s] %s: %s\n", evt.Message.RoomID, evt.Message.SenderName, evt.Message.DisplayText())
	case *events.Receipt:
		fmt.Fprintf(cs.out, "Message %s was %s\n", evt.MessageID, evt.Type)
	case *events.RoomCreated:
		fmt.Fprintf(cs.out, "Room %s is ready\n", evt.Room.ID)
	case *events.Disconnected:
		cs.log.Infof("Disconnected (%s)", evt.Reason)
	case *events.Reconnected:
		cs.log.Infof("Reconnected after %d attempts", evt.Attempts)
	case *events.ReconnectFailed:
		cs.log.Errorf("Gave up reconnecting after %d attempts", evt.Attempts)
	case *events.OutboxFlushed:
		cs.log.Infof("Sent %d queued events (%d failed, %d left)", evt.Sent, evt.Failed, evt.Left)
	case *events.MessageUpdated:
		if evt.Message.Status != evt.Old {
			cs.log.Debugf("Message %s is now %s", evt.Message.ID, evt.Message.Status)
		}
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cli, log, err := newClient()
	if err != nil {
		return err
	}
	cs := &chatSession{cli: cli, log: log, out: cmd.OutOrStdout(), room: chatRoom}
	cli.AddEventHandler(cs.handleEvent)
	stopHealth := startHealthServer(cli, log)
	defer stopHealth()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = cli.Connect(ctx); err != nil {
		log.Warnf("Initial connection failed: %v", err)
	}
	defer cli.Disconnect()

	if createRoom {
		if err = cs.createRoom(ctx, cli.Config.ReceiverID); err != nil {
			return err
		}
	} else if cs.room != "" {
		if err = cli.JoinRoom(ctx, cs.room); err != nil {
			return fmt.Errorf("failed to join %s: %w", cs.room, err)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := cs.handleLine(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (cs *chatSession) createRoom(ctx context.Context, receiverID string) error {
	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	room, err := cs.cli.CreateRoomAndWait(waitCtx, cs.cli.Config.CurrentUserID, receiverID)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	cs.room = room.ID
	return cs.cli.JoinRoom(ctx, room.ID)
}

func (cs *chatSession) handleLine(ctx context.Context, line string) bool {
	if line == "" {
		return false
	} else if !strings.HasPrefix(line, "/") {
		cs.report(cs.cli.SendText(ctx, line, cs.room))
		return false
	}
	args, err := shellwords.Parse(line[1:])
	if err != nil {
		cs.log.Errorf("Failed to parse command: %v", err)
		return false
	} else if len(args) == 0 {
		return false
	}
	cmd := strings.ToLower(args[0])
	args = args[1:]
	if cmd == "quit" || cmd == "exit" {
		return true
	}
	if err = cs.handleCommand(ctx, cmd, args); err != nil {
		cs.log.Errorf("/%s failed: %v", cmd, err)
	}
	return false
}

var errUsage = errors.New("invalid arguments, see --help for usage")

func (cs *chatSession) handleCommand(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "image":
		if len(args) < 1 {
			return errUsage
		}
		var thumbnail string
		if len(args) > 1 {
			thumbnail = args[1]
		}
		cs.report(cs.cli.SendImage(ctx, args[0], cs.room, thumbnail))
	case "file":
		if len(args) < 4 {
			return errUsage
		}
		size, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size: %w", err)
		}
		cs.report(cs.cli.SendFile(ctx, args[0], args[1], size, args[3], cs.room))
	case "audio":
		if len(args) < 2 {
			return errUsage
		}
		ms, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		cs.report(cs.cli.SendAudio(ctx, args[0], time.Duration(ms)*time.Millisecond, cs.room))
	case "video":
		if len(args) < 3 {
			return errUsage
		}
		size, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size: %w", err)
		}
		ms, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		cs.report(cs.cli.SendVideo(ctx, args[0], size, time.Duration(ms)*time.Millisecond, cs.room))
	case "room":
		if len(args) < 1 {
			return errUsage
		}
		switch strings.ToLower(args[0]) {
		case "create":
			receiver := cs.cli.Config.ReceiverID
			if len(args) > 1 {
				receiver = args[1]
			}
			return cs.createRoom(ctx, receiver)
		case "join":
			if len(args) < 2 {
				return errUsage
			}
			if err := cs.cli.JoinRoom(ctx, args[1]); err != nil {
				return err
			}
			cs.room = args[1]
		case "leave":
			if len(args) < 2 {
				return errUsage
			}
			return cs.cli.LeaveRoom(ctx, args[1])
		default:
			return errUsage
		}
	case "rooms":
		rooms, err := cs.cli.Rooms(ctx)
		if err != nil {
			return err
		}
		for _, room := range rooms {
			var last string
			if room.LastMessage != nil {
				last = room.LastMessage.DisplayText()
			}
			fmt.Fprintf(cs.out, "%s (%s) unread: %d %s\n", room.ID, room.Name, room.UnreadCount, last)
		}
	case "typing":
		return cs.cli.SendTyping(ctx, cs.room, len(args) == 0 || args[0] != "off")
	case "read":
		return cs.cli.MarkRoomRead(ctx, cs.room)
	default:
		return fmt.Errorf("unknown command /%s", cmd)
	}
	return nil
}

func (cs *chatSession) report(msg *types.Message, err error) {
	if err != nil {
		cs.log.Errorf("Failed to send message: %v", err)
	} else if msg.Status == types.MessageStatusSending {
		cs.log.Infof("Not connected, message %s was queued", msg.ID)
	}
}
