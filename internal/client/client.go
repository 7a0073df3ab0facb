package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"yqhp/conductor/internal/config"
	"yqhp/conductor/internal/phase"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/protocol"
	"yqhp/conductor/pkg/types"
)

var log = logger.Named("client")

// ResultSink receives every result collected for a phase, the DONE sentinel included.
type ResultSink interface {
	AddResult(code int, message string)
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(code int, message string)

// AddResult calls f(code, message).
func (f ResultSinkFunc) AddResult(code int, message string) {
	f(code, message)
}

// logSink prints results the way the command line shows them.
type logSink struct {
	worker string
}

func (s logSink) AddResult(code int, message string) {
	if code == types.ResultDone {
		log.Info("[%s] done", s.worker)
		return
	}
	log.Info("[%s] %d %s", s.worker, code, message)
}

// Options configures a Client.
type Options struct {
	// Transport carries phase and run messages. Nil selects phase.NewTransport(nil).
	Transport *phase.Transport
	// ListenHost is the interface the result listener binds to. Empty binds all interfaces.
	ListenHost string
}

// Client is the conductor-side proxy of one worker.
type Client struct {
	name      string
	worker    *config.WorkerConfig
	phases    map[types.PhaseName]*phase.Phase
	transport *phase.Transport
	listenAt  string

	mu       sync.Mutex
	listener *resultListener
}

// New builds the four phases of a worker. Invalid ports fail here, before any I/O.
func New(worker *config.WorkerConfig, opts Options) (*Client, error) {
	if worker == nil {
		return nil, errors.New("client: worker config is nil")
	}
	if worker.Player == "" {
		return nil, fmt.Errorf("client %s: player host is required", worker.Name)
	}
	if !types.ValidPort(worker.CmdPort) {
		return nil, fmt.Errorf("client %s: cmdport %d out of range 1-65535", worker.Name, worker.CmdPort)
	}
	if !types.ValidPort(worker.ResultsPort) {
		return nil, fmt.Errorf("client %s: resultsport %d out of range 1-65535", worker.Name, worker.ResultsPort)
	}

	transport := opts.Transport
	if transport == nil {
		transport = phase.NewTransport(nil)
	}

	c := &Client{
		name:      worker.Name,
		worker:    worker,
		phases:    make(map[types.PhaseName]*phase.Phase, len(types.AllPhases)),
		transport: transport,
		listenAt:  net.JoinHostPort(opts.ListenHost, strconv.Itoa(worker.ResultsPort)),
	}

	for _, name := range types.AllPhases {
		p := phase.New(worker.Conductor, worker.ResultsPort)
		for _, entry := range worker.Phases[name] {
			step := ParseStep(entry.Key, entry.Value)
			p.Append(phase.NewStep(step.Command, step.Spawn, step.Timeout))
		}
		c.phases[name] = p
		log.Debug("[%s] %s phase: %d step(s)", c.name, name, p.Len())
	}
	return c, nil
}

// Name returns the worker name.
func (c *Client) Name() string {
	return c.name
}

// CommandAddress returns the player's command address.
func (c *Client) CommandAddress() string {
	return c.worker.CommandAddress()
}

// Phase returns the definition of one phase.
func (c *Client) Phase(name types.PhaseName) *phase.Phase {
	return c.phases[name]
}

// Download sends one phase to the player and waits for its acknowledgement.
func (c *Client) Download(ctx context.Context, name types.PhaseName) error {
	p, ok := c.phases[name]
	if !ok {
		return c.wrap(OpDownload, fmt.Errorf("unknown phase %q", name))
	}

	log.Info("[%s] Downloading %s phase to %s", c.name, name, c.CommandAddress())
	reply, err := c.transport.Request(ctx, c.CommandAddress(), protocol.MessagePhase, protocol.PhaseData(p.Spec()))
	if err != nil {
		log.Error("[%s] Failed to connect to %s: %v", c.name, c.CommandAddress(), err)
		return c.wrap(OpDownload, err)
	}

	switch reply.Type {
	case protocol.MessageResult:
		ack, err := protocol.DecodeResult(reply.Data)
		if err != nil {
			return c.wrap(OpDownload, err)
		}
		log.Debug("[%s] ack: %s", c.name, ack)
		return nil
	case protocol.MessageError:
		return c.wrap(OpDownload, fmt.Errorf("player rejected phase: %s", protocol.DecodeError(reply.Data)))
	default:
		return c.wrap(OpDownload, fmt.Errorf("unexpected %s reply", reply.Type))
	}
}

// Trigger binds the result listener and then tells the player to run its held
// phase. Binding first guarantees the listener exists before the first result.
func (c *Client) Trigger(ctx context.Context) error {
	ln, err := c.listen(ctx)
	if err != nil {
		return c.wrap(OpTrigger, err)
	}

	if err := c.transport.Send(ctx, c.CommandAddress(), protocol.MessageRun, nil); err != nil {
		log.Error("[%s] Failed to connect to %s: %v", c.name, c.CommandAddress(), err)
		c.Close()
		return c.wrap(OpTrigger, err)
	}
	log.Debug("[%s] run sent, collecting on %s", c.name, ln.Addr())
	return nil
}

// listen binds a fresh result listener, replacing any left over from an aborted phase.
func (c *Client) listen(ctx context.Context) (*resultListener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}

	lc := net.ListenConfig{Control: reuseControl}
	ln, err := lc.Listen(ctx, "tcp", c.listenAt)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", c.listenAt, err)
	}
	c.listener = &resultListener{Listener: ln}
	return c.listener, nil
}

// ResultAddr returns the bound result listener address, or nil before Trigger.
func (c *Client) ResultAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// CollectResults accepts one RESULT per connection and forwards it to sink until
// the DONE sentinel arrives. A nil sink logs each result. The listener is closed
// on return whatever the outcome.
func (c *Client) CollectResults(ctx context.Context, sink ResultSink) error {
	if sink == nil {
		sink = logSink{worker: c.name}
	}

	c.mu.Lock()
	ln := c.listener
	c.listener = nil
	c.mu.Unlock()
	if ln == nil {
		return c.wrap(OpCollect, errors.New("no result listener, trigger first"))
	}
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return c.wrap(OpCollect, ctx.Err())
			}
			return c.wrap(OpCollect, fmt.Errorf("accept: %w", err))
		}

		rv, err := c.receiveResult(conn)
		conn.Close()
		if err != nil {
			log.Warn("[%s] discarding result connection: %v", c.name, err)
			continue
		}

		sink.AddResult(rv.Code, rv.Message)
		if rv.IsDone() {
			return nil
		}
	}
}

func (c *Client) receiveResult(conn net.Conn) (types.RetVal, error) {
	if c.transport.IOTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.transport.IOTimeout))
	}

	msg, err := c.transport.Codec.Receive(conn)
	if err != nil {
		return types.RetVal{}, fmt.Errorf("from %s: %w", conn.RemoteAddr(), err)
	}
	if msg.Type != protocol.MessageResult {
		return types.RetVal{}, fmt.Errorf("from %s: expected result, got %s", conn.RemoteAddr(), msg.Type)
	}
	return protocol.DecodeResult(msg.Data)
}

// Close releases a result listener left open by a Trigger without a collect.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	err := c.listener.Close()
	c.listener = nil
	return err
}

// resultListener closes its socket exactly once.
type resultListener struct {
	net.Listener
	once sync.Once
	err  error
}

func (l *resultListener) Close() error {
	l.once.Do(func() {
		l.err = l.Listener.Close()
	})
	return l.err
}
