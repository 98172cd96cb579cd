// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package socket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PacketType is the type of a Socket.IO packet.
type PacketType byte

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

func (pt PacketType) String() string {
	switch pt {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(pt))
	}
}

// Packet is a decoded Socket.IO packet.
//
// The text encoding is <type>[<namespace>,][<ack id>][<json data>], where the namespace is
// omitted for the main namespace.
type Packet struct {
	Type      PacketType
	Namespace string
	ID        *uint64
	Data      json.RawMessage
}

// Encode serializes the packet into its text form (without the Engine.IO message prefix).
func (p *Packet) Encode() string {
	var sb strings.Builder
	sb.WriteByte('0' + byte(p.Type))
	if p.Namespace != "" && p.Namespace != DefaultNamespace {
		sb.WriteString(p.Namespace)
		sb.WriteByte(',')
	}
	if p.ID != nil {
		sb.WriteString(strconv.FormatUint(*p.ID, 10))
	}
	if len(p.Data) > 0 {
		sb.Write(p.Data)
	}
	return sb.String()
}

// DecodePacket parses the text form of a Socket.IO packet.
func DecodePacket(data string) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty packet", ErrInvalidPacket)
	}
	if data[0] < '0' || data[0] > '0'+byte(PacketBinaryAck) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPacket, data[0])
	}
	pkt := &Packet{Type: PacketType(data[0] - '0'), Namespace: DefaultNamespace}
	if pkt.Type == PacketBinaryEvent || pkt.Type == PacketBinaryAck {
		return nil, ErrBinaryUnsupported
	}
	i := 1
	if i < len(data) && data[i] == '/' {
		end := strings.IndexByte(data[i:], ',')
		if end < 0 {
			pkt.Namespace = data[i:]
			return pkt, nil
		}
		pkt.Namespace = data[i : i+end]
		i += end + 1
	}
	start := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if i > start {
		id, err := strconv.ParseUint(data[start:i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad ack id: %w", ErrInvalidPacket, err)
		}
		pkt.ID = &id
	}
	if i < len(data) {
		payload := json.RawMessage(data[i:])
		if !json.Valid(payload) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidPacket)
		}
		pkt.Data = payload
	}
	return pkt, nil
}

// NewEventPacket builds an EVENT packet whose data is the array [name, args...].
func NewEventPacket(namespace string, id *uint64, name string, args ...any) (*Packet, error) {
	items := make([]any, 0, len(args)+1)
	items = append(items, name)
	items = append(items, args...)
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	return &Packet{Type: PacketEvent, Namespace: namespace, ID: id, Data: data}, nil
}

// NewAckPacket builds an ACK packet answering the event with the given id.
func NewAckPacket(namespace string, id uint64, args ...any) (*Packet, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ack %d: %w", id, err)
	}
	return &Packet{Type: PacketAck, Namespace: namespace, ID: &id, Data: data}, nil
}

// EventArgs splits the data of an EVENT packet into the event name and its arguments.
func (p *Packet) EventArgs() (string, []json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return "", nil, fmt.Errorf("%w: event data is not an array: %w", ErrInvalidPacket, err)
	} else if len(items) == 0 {
		return "", nil, fmt.Errorf("%w: event data is empty", ErrInvalidPacket)
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name is not a string", ErrInvalidPacket)
	}
	return name, items[1:], nil
}

// AckArgs returns the arguments of an ACK packet.
func (p *Packet) AckArgs() ([]json.RawMessage, error) {
	if len(p.Data) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return nil, fmt.Errorf("%w: ack data is not an array: %w", ErrInvalidPacket, err)
	}
	return items, nil
}

// Handshake is the payload of the Engine.IO open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}
