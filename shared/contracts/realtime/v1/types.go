// Package v1 defines the Relay Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeRoomJoin joins a room (client -> server) and is echoed back.
	TypeRoomJoin = "room_join"
	// TypeRoomLeave leaves a room (client -> server).
	TypeRoomLeave = "room_leave"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send request (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew broadcasts a newly accepted message (server -> room members).
	TypeMessageNew = "message_new"

	// TypePresenceCount broadcasts a room's participant count after every change.
	TypePresenceCount = "presence_count"
	// TypePresenceList returns the live roster of a room.
	TypePresenceList = "presence_list"

	// TypeRoomHistoryFetch requests room history (client -> server).
	TypeRoomHistoryFetch = "room_history_fetch"
	// TypeRoomHistoryChunk returns a window of history (server -> client).
	TypeRoomHistoryChunk = "room_history_chunk"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRoomJoin,
		TypeRoomLeave,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypePresenceCount,
		TypePresenceList,
		TypeRoomHistoryFetch,
		TypeRoomHistoryChunk,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session. The token is
// optional here because the handshake already authenticated the connection.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// HelloAckPayload returns the server-assigned session identity.
type HelloAckPayload struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
}

// RoomJoinPayload requests membership in a room.
type RoomJoinPayload struct {
	RoomID string `json:"room_id"`
}

// RoomLeavePayload leaves a room.
type RoomLeavePayload struct {
	RoomID string `json:"room_id"`
}

// MessageSendPayload requests sending a message into a room.
type MessageSendPayload struct {
	RoomID      string `json:"room_id"`
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

// MessageAckPayload acknowledges a send request and returns the canonical server ids.
type MessageAckPayload struct {
	RoomID      string `json:"room_id"`
	ClientMsgID string `json:"client_msg_id"`
	ServerMsgID string `json:"server_msg_id"`
	Seq         int64  `json:"seq"`
}

// MessageNewPayload is broadcast when a new message is accepted (non-duplicate).
type MessageNewPayload struct {
	RoomID      string    `json:"room_id"`
	ClientMsgID string    `json:"client_msg_id"`
	ServerMsgID string    `json:"server_msg_id"`
	Seq         int64     `json:"seq"`
	Sender      string    `json:"sender"`
	Text        string    `json:"text"`
	ServerTS    time.Time `json:"server_ts"`
}

// PresenceCountPayload carries a room's participant count. AtMS is epoch
// milliseconds of the change that produced it.
type PresenceCountPayload struct {
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
	AtMS   int64  `json:"at_ms"`
}

// PresenceListPayload carries the live roster of a room.
type PresenceListPayload struct {
	RoomID       string   `json:"room_id"`
	Participants []string `json:"participants"`
	AtMS         int64    `json:"at_ms"`
}

// RoomHistoryFetchPayload requests a history window for a room.
type RoomHistoryFetchPayload struct {
	RoomID   string `json:"room_id"`
	AfterSeq *int64 `json:"after_seq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// RoomHistoryChunkPayload returns messages for a history fetch request.
type RoomHistoryChunkPayload struct {
	RoomID   string              `json:"room_id"`
	Messages []MessageNewPayload `json:"messages"`
	HasMore  bool                `json:"has_more"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
