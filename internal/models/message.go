package models

import (
	"encoding/json"
	"fmt"
)

// Room event types.
const (
	TypeJoinRoom       = "join-room"
	TypeSendMessage    = "send-message"
	TypeReceiveMessage = "receive-message"
)

// RoomEvent websocket envelope for room presence traffic. RoomID is set
// on inbound join-room and send-message events, outbound receive-message
// events only carry the payload.
type RoomEvent struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e RoomEvent) String() string {
	return fmt.Sprintf("RoomEvent(type=%s, roomId=%s)", e.Type, e.RoomID)
}

// CodeRunRequest request to execute a snippet of code remotely.
type CodeRunRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// CodeRunResult outcome of a remote code execution.
type CodeRunResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}
