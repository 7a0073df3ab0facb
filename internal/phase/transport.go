package phase

import (
	"context"
	"fmt"
	"net"
	"time"

	"yqhp/conductor/pkg/protocol"
	"yqhp/conductor/pkg/types"
)

const (
	// DefaultDialTimeout 默认建连超时
	DefaultDialTimeout = time.Second
	// DefaultIOTimeout 默认单次连接读写超时
	DefaultIOTimeout = time.Second
	// DefaultRetries 建连失败后的默认重试次数
	DefaultRetries = 3
	// DefaultRetryInterval 默认重试间隔
	DefaultRetryInterval = 100 * time.Millisecond
)

// Transport 一次一连接的消息发送器，client 与 player 共用
type Transport struct {
	Codec         *protocol.Codec
	DialTimeout   time.Duration
	IOTimeout     time.Duration
	Retries       int
	RetryInterval time.Duration
}

// NewTransport 使用默认超时与重试策略创建 Transport。codec 为 nil 时使用默认帧大小上限。
func NewTransport(codec *protocol.Codec) *Transport {
	if codec == nil {
		codec = protocol.NewCodec(0)
	}
	return &Transport{
		Codec:         codec,
		DialTimeout:   DefaultDialTimeout,
		IOTimeout:     DefaultIOTimeout,
		Retries:       DefaultRetries,
		RetryInterval: DefaultRetryInterval,
	}
}

// Dial 建立到 address 的 TCP 连接，失败时按重试策略重试。
// 返回的连接已设置 IOTimeout 截止时间。
func (t *Transport) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: t.DialTimeout}

	var lastErr error
	for attempt := 0; attempt <= t.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.RetryInterval):
			}
		}

		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			if t.IOTimeout > 0 {
				conn.SetDeadline(time.Now().Add(t.IOTimeout))
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("connect to %s: %w", address, lastErr)
}

// Send 建立连接，发送一条消息后关闭
func (t *Transport) Send(ctx context.Context, address string, msgType protocol.MessageType, data map[string]any) error {
	conn, err := t.Dial(ctx, address)
	if err != nil {
		return err
	}
	defer conn.Close()
	return t.Codec.Send(conn, msgType, data)
}

// Request 建立连接，发送一条消息并读取一条回复
func (t *Transport) Request(ctx context.Context, address string, msgType protocol.MessageType, data map[string]any) (*protocol.Message, error) {
	conn, err := t.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := t.Codec.Send(conn, msgType, data); err != nil {
		return nil, err
	}
	reply, err := t.Codec.Receive(conn)
	if err != nil {
		return nil, fmt.Errorf("await reply from %s: %w", address, err)
	}
	return reply, nil
}

// SendResult 通过一条独立连接回传一个结果
func (t *Transport) SendResult(ctx context.Context, address string, rv types.RetVal) error {
	return t.Send(ctx, address, protocol.MessageResult, protocol.ResultData(rv))
}
