// Package control implements the newline-delimited JSON codec used on
// the two auxiliary channels of the bridge: the control channel
// (caller -> agent, e.g. terminal resize) and the status channel
// (agent -> caller, ready/error).
package control

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies a decoded control message. The set is closed:
// anything that does not parse into a known variant becomes
// MessageUnknown and is ignored by the consumer.
type MessageType int

const (
	// MessageUnknown is a syntactically valid message of an
	// unrecognized or invalid kind. It carries no payload.
	MessageUnknown MessageType = iota

	// MessageResize carries a validated window size change.
	MessageResize
)

// Message is a decoded control channel message.
type Message struct {
	Type MessageType

	// Rows and Cols are set for MessageResize and are both positive.
	Rows int
	Cols int

	// RawType preserves the wire "type" value for diagnostics on
	// MessageUnknown.
	RawType string
}

// wireMessage is the on-the-wire shape of a control message.
type wireMessage struct {
	Type string `json:"type"`
	Rows int    `json:"rows,omitempty"`
	Cols int    `json:"cols,omitempty"`
}

const typeResize = "resize"

// EncodeResize renders a resize message as a single wire line.
func EncodeResize(rows, cols int) ([]byte, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid resize %dx%d: rows and cols must be positive", rows, cols)
	}
	data, err := json.Marshal(wireMessage{Type: typeResize, Rows: rows, Cols: cols})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Status message types on the agent -> caller side channel.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// Status is the structured message the agent emits on its side channel
// once startup succeeds or fails.
type Status struct {
	Type    string `json:"type"`
	Pid     int    `json:"pid,omitempty"`
	Message string `json:"message,omitempty"`
}

// EncodeStatus renders a status message as a single wire line.
func EncodeStatus(s Status) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeStatus parses one status line. The line must not contain the
// trailing newline.
func DecodeStatus(line []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(line, &s); err != nil {
		return Status{}, err
	}
	return s, nil
}
