package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"metriclens/internal/logging"
)

// Connector owns the process-wide tool connection. Establishment is
// memoized: concurrent first callers share one in-flight attempt through a
// singleflight group instead of racing duplicate subprocesses, and a failed
// attempt is forgotten so the next caller retries from scratch.
type Connector struct {
	mu        sync.Mutex
	transport Transport
	state     ConnState

	newTransport func() Transport
	sf           singleflight.Group

	connectTimeout time.Duration
	invokeTimeout  time.Duration
}

// Option configures a Connector.
type Option func(*Connector)

// WithTimeouts overrides the connection and invocation deadlines.
func WithTimeouts(connect, invoke time.Duration) Option {
	return func(c *Connector) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if invoke > 0 {
			c.invokeTimeout = invoke
		}
	}
}

// WithTransportFactory substitutes the transport constructor. Tests use this
// to inject fakes.
func WithTransportFactory(f func() Transport) Option {
	return func(c *Connector) { c.newTransport = f }
}

// NewConnector creates a connector that will launch the given tool command
// on first use.
func NewConnector(command string, opts ...Option) *Connector {
	c := &Connector{
		state:          StateUnconnected,
		connectTimeout: 20 * time.Second,
		invokeTimeout:  30 * time.Second,
	}
	c.newTransport = func() Transport { return NewStdioTransport(command) }
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Connector) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect idempotently returns the live transport, establishing it on first
// call. All concurrent callers await the same attempt.
func (c *Connector) Connect(ctx context.Context) (Transport, error) {
	c.mu.Lock()
	if c.transport != nil && c.transport.Connected() {
		t := c.transport
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("connect", func() (any, error) {
		c.mu.Lock()
		c.state = StateConnecting
		c.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()

		t := c.newTransport()
		if err := t.Connect(cctx); err != nil {
			c.mu.Lock()
			c.state = StateFailed
			c.transport = nil
			c.mu.Unlock()
			return nil, err
		}

		c.mu.Lock()
		c.transport = t
		c.state = StateReady
		c.mu.Unlock()
		logging.Get(logging.CategoryTools).Infof("analytics tool connected")
		return t, nil
	})
	// Forget the key either way: success is served from c.transport above,
	// and a failed attempt must not poison later calls.
	c.sf.Forget("connect")
	if err != nil {
		return nil, err
	}
	return v.(Transport), nil
}

// ListOperations returns the names the tool currently exposes. Best-effort:
// any failure yields an empty set, never an error.
func (c *Connector) ListOperations(ctx context.Context) []string {
	t, err := c.Connect(ctx)
	if err != nil {
		logging.Get(logging.CategoryTools).Debugf("catalog unavailable: %v", err)
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()
	schemas, err := t.ListTools(lctx)
	if err != nil {
		logging.Get(logging.CategoryTools).Debugf("catalog listing failed: %v", err)
		return nil
	}

	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	return names
}

// Invoke performs one operation call, bounded by the invoke timeout.
func (c *Connector) Invoke(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	t, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}

	ictx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()
	out, err := t.CallTool(ictx, name, args)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	return out, nil
}

// Close tears the connection down. Called only at process shutdown.
func (c *Connector) Close() error {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.state = StateUnconnected
	c.mu.Unlock()
	if t != nil {
		return t.Close()
	}
	return nil
}
