package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultMaxMessageSize is the frame size limit used when none is configured.
	DefaultMaxMessageSize = 10 * 1024 * 1024

	headerSize = 4
)

// Codec encodes and decodes frames under a fixed size limit.
// A Codec holds no per-connection state and is safe for concurrent use.
type Codec struct {
	maxMessageSize int
}

// NewCodec returns a codec enforcing maxMessageSize on both directions.
// A non-positive size selects DefaultMaxMessageSize.
func NewCodec(maxMessageSize int) *Codec {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Codec{maxMessageSize: maxMessageSize}
}

// MaxMessageSize returns the configured frame body limit in bytes.
func (c *Codec) MaxMessageSize() int {
	return c.maxMessageSize
}

type envelope struct {
	Version int            `json:"version"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
}

// Encode returns the complete frame for a message: length header and body.
func (c *Codec) Encode(t MessageType, data map[string]any) ([]byte, error) {
	name, ok := messageTypeNames[t]
	if !ok {
		return nil, newError(CodeInvalidFormat, nil, "cannot encode %s", t)
	}
	if data == nil {
		data = map[string]any{}
	}

	body, err := json.Marshal(envelope{Version: Version, Type: name, Data: data})
	if err != nil {
		return nil, newError(CodeInvalidPayload, err, "cannot encode %s message", name)
	}
	if len(body) > c.maxMessageSize {
		return nil, newError(CodeMessageTooLarge, nil,
			"message size (%d bytes) exceeds maximum (%d bytes)", len(body), c.maxMessageSize)
	}

	frame := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(body)))
	copy(frame[headerSize:], body)
	return frame, nil
}

// Send writes one frame to w with a single Write call.
func (c *Codec) Send(w io.Writer, t MessageType, data map[string]any) error {
	frame, err := c.Encode(t, data)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", t, err)
	}
	return nil
}

// Receive reads exactly one frame from r.
//
// The declared length is checked against the limit before any body byte is
// read. I/O failures other than a closed stream (deadlines, resets) are
// returned wrapped, not as *Error.
//
// Data is decoded with encoding/json defaults: every number comes back as
// float64, so an int sent by Send arrives as float64 and payload readers
// such as DecodeResult convert it back.
func (c *Codec) Receive(r io.Reader) (*Message, error) {
	var header [headerSize]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newError(CodeConnectionClosed, nil,
				"connection closed after %d of %d header bytes", n, headerSize)
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if uint64(length) > uint64(c.maxMessageSize) {
		return nil, newError(CodeMessageTooLarge, nil,
			"message too large: %d bytes (max: %d)", length, c.maxMessageSize)
	}

	body := make([]byte, length)
	n, err = io.ReadFull(r, body)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newError(CodeIncompleteMessage, nil,
				"received %d of %d body bytes", n, length)
		}
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	return decodeBody(body)
}

// Decode parses a complete frame held in memory.
func (c *Codec) Decode(frame []byte) (*Message, error) {
	return c.Receive(bytes.NewReader(frame))
}

func decodeBody(body []byte) (*Message, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, newError(CodeInvalidFormat, err, "body is not valid JSON")
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, newError(CodeInvalidFormat, nil, "message must be a JSON object, not %s", jsonKind(raw))
	}

	rawVersion, ok := obj["version"]
	if !ok {
		return nil, newError(CodeMissingVersion, nil, "missing version field")
	}
	if v, ok := rawVersion.(float64); !ok || v != Version {
		return nil, newError(CodeUnsupportedVersion, nil, "unsupported protocol version: %v", rawVersion)
	}

	typeName, ok := obj["type"].(string)
	if !ok {
		return nil, newError(CodeInvalidFormat, nil, "missing or non-string type field")
	}
	t, err := ParseMessageType(typeName)
	if err != nil {
		return nil, newError(CodeInvalidFormat, err, "bad type field")
	}

	rawData, ok := obj["data"]
	if !ok {
		return nil, newError(CodeInvalidFormat, nil, "missing data field")
	}
	data, ok := rawData.(map[string]any)
	if !ok {
		return nil, newError(CodeInvalidFormat, nil, "data must be a JSON object, not %s", jsonKind(rawData))
	}

	return &Message{Version: Version, Type: t, Data: data}, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
