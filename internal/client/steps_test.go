package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"yqhp/conductor/pkg/types"
)

func TestParseStep(t *testing.T) {
	def := types.DefaultStepTimeout
	tests := []struct {
		name     string
		key      string
		value    string
		expected StepOptions
	}{
		{"plain", "step1", "echo hi", StepOptions{"echo hi", false, def}},
		{"spawn key", "spawn1", "iperf -s", StepOptions{"iperf -s", true, def}},
		{"spawn key upper", "SPAWN", "sleep 10", StepOptions{"sleep 10", true, def}},
		{"timeout key", "timeout30", "wget http://example.com", StepOptions{"wget http://example.com", false, 30 * time.Second}},
		{"timeout key no number", "timeoutabc", "echo test", StepOptions{"echo test", false, def}},
		{"timeout key trailing letters", "timeout10a", "echo test", StepOptions{"echo test", false, def}},
		{"timeout key zero", "timeout0", "echo test", StepOptions{"echo test", false, def}},
		{"spawn value", "cmd", "spawn:iperf -s", StepOptions{"iperf -s", true, def}},
		{"timeout value", "cmd", "timeout15: make test", StepOptions{"make test", false, 15 * time.Second}},
		{"timeout value malformed", "cmd2", "timeoutabc:echo test", StepOptions{"timeoutabc:echo test", false, def}},
		{"bare timeout command", "cmd1", "timeout", StepOptions{"timeout", false, def}},
		{"coreutils timeout", "cmd", "timeout 5 sleep 10", StepOptions{"timeout 5 sleep 10", false, def}},
		{"colon in command", "cmd", "echo a:b", StepOptions{"echo a:b", false, def}},
		{"url command", "cmd", "curl http://host:80/x", StepOptions{"curl http://host:80/x", false, def}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseStep(tt.key, tt.value))
		})
	}
}
