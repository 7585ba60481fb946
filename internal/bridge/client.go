// Package bridge manages the long-lived external intelligence process and the
// correlation-keyed request/response protocol spoken to it over NDJSON.
// The bridge is an optional collaborator: when it is down or never becomes
// ready, calls fail fast and workers fall back to local execution.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mknight/arbiter/internal/config"
	"github.com/mknight/arbiter/internal/events"
	"github.com/mknight/arbiter/internal/log"
	"github.com/mknight/arbiter/internal/protocol"
)

// State is the bridge lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateDegraded   State = "degraded"
	StateClosed     State = "closed"
)

var (
	// ErrUnavailable is returned when the bridge is not ready (never started,
	// degraded, or still starting past its deadline). Callers fall back.
	ErrUnavailable = errors.New("bridge: unavailable")

	// ErrCallTimeout is returned when a call's response did not arrive in time.
	ErrCallTimeout = errors.New("bridge: call timed out")

	// ErrClosed is returned for calls pending or arriving after Stop.
	ErrClosed = errors.New("bridge: closed")
)

// maxResponseLine caps the size of a single response line from the bridge.
const maxResponseLine = 1024 * 1024

// Client owns one bridge process. A single reader loop delivers responses to
// pending callers by correlation id; stdin writes are serialized so no two
// requests interleave on the wire.
type Client struct {
	cfg       config.BridgeConfig
	transport Transport
	logger    *slog.Logger
	hub       *events.Hub

	mu      sync.Mutex
	state   State
	pending map[string]chan *protocol.Response

	writeMu sync.Mutex
	stdin   io.WriteCloser

	readyCh    chan struct{} // closed once on readiness
	degradedCh chan struct{} // closed once on degradation
	closedCh   chan struct{} // closed once on Stop
}

// New creates a Client that launches cfg.Command as a child process.
func New(cfg config.BridgeConfig, hub *events.Hub) *Client {
	logger := log.WithComponent("bridge")
	return NewWithTransport(cfg, hub, newProcTransport(cfg.Command, cfg.Args, logger))
}

// NewWithTransport creates a Client over a caller-supplied transport.
func NewWithTransport(cfg config.BridgeConfig, hub *events.Hub, transport Transport) *Client {
	return &Client{
		cfg:        cfg,
		transport:  transport,
		logger:     log.WithComponent("bridge"),
		hub:        hub,
		state:      StateNotStarted,
		pending:    make(map[string]chan *protocol.Response),
		readyCh:    make(chan struct{}),
		degradedCh: make(chan struct{}),
		closedCh:   make(chan struct{}),
	}
}

// Start launches the bridge process and begins the handshake. It returns
// immediately; if no readiness message arrives before the startup deadline
// the client degrades rather than blocking the system.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNotStarted {
		c.mu.Unlock()
		return errors.New("bridge: already started")
	}
	c.state = StateStarting
	c.mu.Unlock()

	stdin, stdout, err := c.transport.Start(ctx)
	if err != nil {
		c.degrade("spawn failed", err)
		return err
	}

	c.writeMu.Lock()
	c.stdin = stdin
	c.writeMu.Unlock()

	go c.readLoop(stdout)
	go c.watchStartup()

	return nil
}

// watchStartup degrades the client if the readiness handshake does not land
// before the startup deadline.
func (c *Client) watchStartup() {
	deadline := time.NewTimer(c.cfg.StartupDeadline)
	defer deadline.Stop()

	select {
	case <-c.readyCh:
	case <-c.closedCh:
	case <-deadline.C:
		c.degrade("startup deadline elapsed without readiness", nil)
	}
}

// Call sends one request and waits for its correlated response. Blocks no
// longer than the call timeout; a late response is discarded by the reader.
func (c *Client) Call(ctx context.Context, method protocol.Method, args []any) (*protocol.Response, error) {
	if err := c.awaitReady(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := make(chan *protocol.Response, 1)

	c.mu.Lock()
	if c.state != StateReady {
		st := c.state
		c.mu.Unlock()
		if st == StateClosed {
			return nil, ErrClosed
		}
		return nil, ErrUnavailable
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := &protocol.Request{ID: id, Method: method, Args: args}
	if err := c.write(req); err != nil {
		c.removePending(id)
		return nil, err
	}

	timeout := time.NewTimer(c.cfg.CallTimeout)
	defer timeout.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timeout.C:
		c.removePending(id)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-c.degradedCh:
		c.removePending(id)
		return nil, ErrUnavailable
	case <-c.closedCh:
		c.removePending(id)
		return nil, ErrClosed
	}
}

// awaitReady resolves the Starting state: a call placed during startup waits
// for the handshake to settle one way or the other.
func (c *Client) awaitReady(ctx context.Context) error {
	switch c.State() {
	case StateReady:
		return nil
	case StateStarting:
		select {
		case <-c.readyCh:
			return nil
		case <-c.degradedCh:
			return ErrUnavailable
		case <-c.closedCh:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	case StateClosed:
		return ErrClosed
	default:
		return ErrUnavailable
	}
}

func (c *Client) write(req *protocol.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return ErrUnavailable
	}
	return protocol.EncodeRequest(c.stdin, req)
}

// readLoop is the single consumer of the bridge's stdout. Unmatched and
// malformed lines are logged and dropped; they never crash the loop.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseLine)

	for scanner.Scan() {
		data := scanner.Bytes()
		line, err := protocol.DecodeLine(data)
		if err != nil {
			c.logger.Warn("dropping malformed bridge line", "error", err)
			continue
		}

		if line.Ready {
			c.markReady()
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[line.Response.ID]
		if ok {
			delete(c.pending, line.Response.ID)
		}
		c.mu.Unlock()

		if !ok {
			// Late or unknown correlation id; the caller already gave up.
			c.logger.Debug("discarding uncorrelated bridge response", "id", line.Response.ID)
			continue
		}
		ch <- line.Response
	}

	// Stdout closed: the process died or was stopped.
	c.mu.Lock()
	closed := c.state == StateClosed
	c.mu.Unlock()
	if !closed {
		c.degrade("bridge stdout closed", scanner.Err())
	}
	c.releasePending()
}

func (c *Client) markReady() {
	c.mu.Lock()
	if c.state != StateStarting {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.mu.Unlock()

	close(c.readyCh)
	c.logger.Info("bridge ready")
	if c.hub != nil {
		c.hub.Publish(events.TypeBridgeReady, nil)
	}
}

func (c *Client) degrade(reason string, err error) {
	c.mu.Lock()
	if c.state == StateDegraded || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateDegraded
	c.mu.Unlock()

	close(c.degradedCh)
	c.logger.Warn("bridge degraded", "reason", reason, "error", err)
	if c.hub != nil {
		c.hub.Publish(events.TypeBridgeDown, map[string]string{"reason": reason})
	}
}

// Stop terminates the bridge process and releases all pending waiters.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.state = StateClosed
	c.mu.Unlock()

	close(c.closedCh)
	c.releasePending()

	if prev == StateNotStarted {
		return nil
	}

	c.writeMu.Lock()
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	c.writeMu.Unlock()

	return c.transport.Stop()
}

// releasePending drops all waiters; they observe closedCh (or degradedCh) and
// return instead of hanging forever.
func (c *Client) releasePending() {
	c.mu.Lock()
	for id := range c.pending {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether calls can currently be served.
func (c *Client) Ready() bool {
	return c.State() == StateReady
}
