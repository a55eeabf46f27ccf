// Package protocol holds the multiworld server's JSON command set.
//
// Every websocket text frame carries a JSON array of commands, each an object
// routed by its "cmd" field.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Commands.
const (
	CmdRoomInfo          = "RoomInfo"
	CmdConnect           = "Connect"
	CmdConnected         = "Connected"
	CmdConnectionRefused = "ConnectionRefused"
	CmdConnectUpdate     = "ConnectUpdate"
	CmdReceivedItems     = "ReceivedItems"
	CmdLocationChecks    = "LocationChecks"
	CmdStatusUpdate      = "StatusUpdate"
	CmdRoomUpdate        = "RoomUpdate"
	CmdBounce            = "Bounce"
	CmdBounced           = "Bounced"
	CmdSync              = "Sync"
	CmdPrintJSON         = "PrintJSON"
)

const TagDeathLink = "DeathLink"

// ClientVersion is the protocol version we announce in Connect.
var ClientVersion = NetworkVersion{Major: 0, Minor: 5, Build: 0, Class: "Version"}

// BaseMessage lets us route unknown commands by name.
type BaseMessage struct {
	Cmd string `json:"cmd"`
}

// DecodeBatch splits a frame into its commands.
func DecodeBatch(b []byte) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode command batch: %w", err)
	}
	return out, nil
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// EncodeBatch packs commands into one frame.
func EncodeBatch(msgs ...any) ([]byte, error) {
	if msgs == nil {
		msgs = []any{}
	}
	return json.Marshal(msgs)
}
