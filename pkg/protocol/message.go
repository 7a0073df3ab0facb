package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version this build understands.
const Version = 1

// MessageType is the closed set of message kinds.
type MessageType uint8

const (
	// MessagePhase carries a phase download.
	MessagePhase MessageType = iota + 1
	// MessageRun tells a player to execute its held phase.
	MessageRun
	// MessageResult carries one step outcome or an acknowledgement.
	MessageResult
	// MessageDone marks the end of a stream.
	MessageDone
	// MessageError reports a failure to the peer.
	MessageError
	// MessageConfig is reserved for configuration pushes.
	MessageConfig
)

var messageTypeNames = map[MessageType]string{
	MessagePhase:  "phase",
	MessageRun:    "run",
	MessageResult: "result",
	MessageDone:   "done",
	MessageError:  "error",
	MessageConfig: "config",
}

// String returns the wire name of the type.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// ParseMessageType maps a wire name to a MessageType.
func ParseMessageType(name string) (MessageType, error) {
	for t, n := range messageTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", name)
}

// MarshalJSON encodes the type as its wire name.
func (t MessageType) MarshalJSON() ([]byte, error) {
	name, ok := messageTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("cannot encode %s", t)
	}
	return json.Marshal(name)
}

// Message is one decoded frame.
type Message struct {
	Version int            `json:"version"`
	Type    MessageType    `json:"type"`
	Data    map[string]any `json:"data"`
}
