package player

import (
	"fmt"

	"yqhp/conductor/pkg/protocol"
	"yqhp/conductor/pkg/types"
)

// command 是经过校验的命令，只有 phaseCommand 和 runCommand 两种
type command interface {
	messageType() protocol.MessageType
}

// phaseCommand 携带一个完整的阶段定义
type phaseCommand struct {
	spec *types.PhaseSpec
}

func (phaseCommand) messageType() protocol.MessageType { return protocol.MessagePhase }

// runCommand 要求执行当前持有的阶段
type runCommand struct{}

func (runCommand) messageType() protocol.MessageType { return protocol.MessageRun }

// parseCommand 把线路消息转换为命令，不产生任何副作用
func parseCommand(msg *protocol.Message) (command, error) {
	switch msg.Type {
	case protocol.MessagePhase:
		spec, err := protocol.DecodePhase(msg.Data)
		if err != nil {
			return nil, err
		}
		return phaseCommand{spec: spec}, nil
	case protocol.MessageRun:
		return runCommand{}, nil
	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
}
