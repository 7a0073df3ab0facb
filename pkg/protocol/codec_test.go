package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/pkg/types"
)

// rawFrame builds a frame around an arbitrary body.
func rawFrame(body string) []byte {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

// countingReader records how many bytes were consumed.
type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestNewCodec(t *testing.T) {
	assert.Equal(t, DefaultMaxMessageSize, NewCodec(0).MaxMessageSize())
	assert.Equal(t, DefaultMaxMessageSize, NewCodec(-5).MaxMessageSize())
	assert.Equal(t, 1024, NewCodec(1024).MaxMessageSize())
}

func TestSendReceive(t *testing.T) {
	codec := NewCodec(0)
	buf := &bytes.Buffer{}

	require.NoError(t, codec.Send(buf, MessageResult, map[string]any{"code": 0, "message": "ok"}))

	frame := buf.Bytes()
	length := binary.BigEndian.Uint32(frame[:4])
	assert.Equal(t, int(length), len(frame)-4)
	assert.JSONEq(t, `{"version":1,"type":"result","data":{"code":0,"message":"ok"}}`, string(frame[4:]))

	msg, err := codec.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, Version, msg.Version)
	assert.Equal(t, MessageResult, msg.Type)
	assert.Equal(t, map[string]any{"code": float64(0), "message": "ok"}, msg.Data)
}

func TestSendNilDataEncodesEmptyObject(t *testing.T) {
	frame, err := NewCodec(0).Encode(MessageRun, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"type":"run","data":{}}`, string(frame[4:]))
}

func TestSendRejectsOversizedMessage(t *testing.T) {
	codec := NewCodec(32)
	buf := &bytes.Buffer{}

	err := codec.Send(buf, MessageError, ErrorData(string(make([]byte, 64))))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMessageTooLarge))
	assert.Zero(t, buf.Len(), "nothing may be written for a rejected message")
}

func TestReceiveErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  *Error
	}{
		{"empty stream", nil, ErrConnectionClosed},
		{"short header", []byte{0, 0}, ErrConnectionClosed},
		{"short body", rawFrame(`{"version":1}`)[:8], ErrIncompleteMessage},
		{"not json", rawFrame(`{nope`), ErrInvalidFormat},
		{"array body", rawFrame(`[1,2,3]`), ErrInvalidFormat},
		{"string body", rawFrame(`"hello"`), ErrInvalidFormat},
		{"missing version", rawFrame(`{"type":"run","data":{}}`), ErrMissingVersion},
		{"wrong version", rawFrame(`{"version":2,"type":"run","data":{}}`), ErrUnsupportedVersion},
		{"string version", rawFrame(`{"version":"1","type":"run","data":{}}`), ErrUnsupportedVersion},
		{"unknown type", rawFrame(`{"version":1,"type":"launch","data":{}}`), ErrInvalidFormat},
		{"missing type", rawFrame(`{"version":1,"data":{}}`), ErrInvalidFormat},
		{"missing data", rawFrame(`{"version":1,"type":"run"}`), ErrInvalidFormat},
		{"array data", rawFrame(`{"version":1,"type":"run","data":[]}`), ErrInvalidFormat},
	}

	codec := NewCodec(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := codec.Receive(bytes.NewReader(tt.input))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var perr *Error
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func TestReceiveRejectsOversizedFrameBeforeReadingBody(t *testing.T) {
	codec := NewCodec(16)

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 1<<30)
	body := bytes.Repeat([]byte("x"), 64)
	reader := &countingReader{r: io.MultiReader(bytes.NewReader(header), bytes.NewReader(body))}

	_, err := codec.Receive(reader)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMessageTooLarge))
	assert.Equal(t, 4, reader.read, "only the header may be consumed")
}

func TestReceiveWrongVersionIsNotPartiallyInterpreted(t *testing.T) {
	codec := NewCodec(0)
	frame := rawFrame(`{"version":7,"type":"phase","data":{"resulthost":"h","resultport":1,"steps":[]}}`)

	msg, err := codec.Decode(frame)
	assert.Nil(t, msg)
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestReceiveOverTCPWithPartialWrites(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	codec := NewCodec(0)
	frame, err := codec.Encode(MessagePhase, PhaseData(&types.PhaseSpec{
		ResultHost: "127.0.0.1",
		ResultPort: 6971,
		Steps:      []types.StepSpec{{Command: "echo hi", Timeout: 5 * time.Second}},
	}))
	require.NoError(t, err)

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		// Dribble the frame out a few bytes at a time.
		for i := 0; i < len(frame); i += 3 {
			end := i + 3
			if end > len(frame) {
				end = len(frame)
			}
			conn.Write(frame[i:end])
			time.Sleep(time.Millisecond)
		}
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	msg, err := codec.Receive(conn)
	require.NoError(t, err)
	assert.Equal(t, MessagePhase, msg.Type)

	spec, err := DecodePhase(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", spec.ResultHost)
	assert.Equal(t, 6971, spec.ResultPort)
	require.Len(t, spec.Steps, 1)
	assert.Equal(t, "echo hi", spec.Steps[0].Command)
	assert.Equal(t, 5*time.Second, spec.Steps[0].Timeout)
}

func TestReceiveReturnsIOErrorsUnwrapped(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			time.Sleep(500 * time.Millisecond)
			conn.Close()
		}
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))

	_, err = NewCodec(0).Receive(conn)
	require.Error(t, err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
	assert.False(t, errors.Is(err, ErrConnectionClosed))
}

func TestMessageTypeNames(t *testing.T) {
	for _, name := range []string{"phase", "run", "result", "done", "error", "config"} {
		mt, err := ParseMessageType(name)
		require.NoError(t, err)
		assert.Equal(t, name, mt.String())
	}
	_, err := ParseMessageType("PHASE")
	assert.Error(t, err)

	_, err = NewCodec(0).Encode(MessageType(99), nil)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}
