package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/pkg/protocol"
)

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand(&protocol.Message{
		Version: protocol.Version,
		Type:    protocol.MessagePhase,
		Data: map[string]any{
			"resulthost": "127.0.0.1",
			"resultport": float64(6971),
			"steps":      []any{map[string]any{"command": "echo hi"}},
		},
	})
	require.NoError(t, err)
	pc, ok := cmd.(phaseCommand)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:6971", pc.spec.ResultAddress())
	assert.Equal(t, protocol.MessagePhase, cmd.messageType())

	cmd, err = parseCommand(&protocol.Message{Version: protocol.Version, Type: protocol.MessageRun, Data: map[string]any{}})
	require.NoError(t, err)
	assert.IsType(t, runCommand{}, cmd)
}

func TestParseCommandRejects(t *testing.T) {
	tests := []struct {
		name string
		msg  *protocol.Message
	}{
		{"result", &protocol.Message{Type: protocol.MessageResult, Data: map[string]any{"code": 0.0, "message": "x"}}},
		{"done", &protocol.Message{Type: protocol.MessageDone, Data: map[string]any{}}},
		{"config", &protocol.Message{Type: protocol.MessageConfig, Data: map[string]any{}}},
		{"phase without host", &protocol.Message{Type: protocol.MessagePhase, Data: map[string]any{"resultport": 1.0}}},
		{"phase with bad steps", &protocol.Message{Type: protocol.MessagePhase, Data: map[string]any{
			"resulthost": "h", "resultport": 1.0, "steps": "echo",
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := parseCommand(tt.msg)
			assert.Error(t, err)
			assert.Nil(t, cmd)
		})
	}
}
