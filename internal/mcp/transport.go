package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"metriclens/internal/logging"
)

// Transport is the wire to the analytics tool. Concrete implementation is
// the stdio subprocess transport; tests substitute fakes.
type Transport interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]OperationSchema, error)
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	Connected() bool
	Close() error
}

// StdioTransport runs the analytics tool as a subprocess and multiplexes
// JSON-RPC calls over its stdin/stdout. Concurrent callers are safe: each
// request carries a unique id and responses are dispatched to the waiting
// caller through a pending-request map, so composite fan-out does not
// serialize behind a single outstanding call.
type StdioTransport struct {
	mu sync.Mutex

	command string
	args    []string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	connected bool
	pending   map[int]chan *rpcResponse
	nextID    int

	wg sync.WaitGroup
}

// NewStdioTransport creates a transport for the given command line
// (executable plus arguments, e.g. "npx analytics-mcp").
func NewStdioTransport(command string) *StdioTransport {
	parts := strings.Fields(command)
	var bin string
	var args []string
	if len(parts) > 0 {
		bin = parts[0]
		args = parts[1:]
	}
	return &StdioTransport{
		command: bin,
		args:    args,
		pending: make(map[int]chan *rpcResponse),
		nextID:  1,
	}
}

// Connect starts the subprocess, begins the reader loops and performs the
// initialize handshake. Failure leaves the transport closed.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	if t.command == "" {
		t.mu.Unlock()
		return fmt.Errorf("%w: no tool command configured", ErrTransportUnavailable)
	}

	cmd := exec.Command(t.command, t.args...)
	stdin, err := cmd.StdinPipe()
	if err == nil {
		t.stdout, err = cmd.StdoutPipe()
	}
	if err == nil {
		t.stderr, err = cmd.StderrPipe()
	}
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: pipe setup failed: %v", ErrTransportUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: failed to start %s: %v", ErrTransportUnavailable, t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.connected = true
	t.wg.Add(2)
	go t.drainStderr()
	go t.readLoop()
	t.mu.Unlock()

	if err := t.initialize(ctx); err != nil {
		_ = t.Close()
		return fmt.Errorf("%w: initialize handshake failed: %v", ErrTransportUnavailable, err)
	}
	return nil
}

// initialize performs the MCP handshake and sends the initialized
// notification the protocol requires before any other request.
func (t *StdioTransport) initialize(ctx context.Context) error {
	_, err := t.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]string{
			"name":    "metriclens",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return err
	}

	note, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stdin != nil {
		_, _ = t.stdin.Write(append(note, '\n'))
	}
	return nil
}

func (t *StdioTransport) drainStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		logging.Get(logging.CategoryTools).Debugf("tool stderr: %s", scanner.Text())
	}
}

// readLoop dispatches responses to waiting callers by request id.
func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	log := logging.Get(logging.CategoryTools)

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Warnf("unparseable line from tool: %v", err)
			continue
		}
		if resp.ID == 0 {
			// Server-initiated notification; nothing waits on these.
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if !ok {
			log.Warnf("response for unknown request id %d", resp.ID)
			continue
		}
		ch <- &resp
	}

	// Pipe closed: fail anything still in flight so callers unblock.
	t.mu.Lock()
	t.connected = false
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()
}

// call sends one request and waits for its response or context expiry.
func (t *StdioTransport) call(ctx context.Context, method string, params any) (*rpcResponse, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: not connected", ErrTransportUnavailable)
	}

	id := t.nextID
	t.nextID++
	ch := make(chan *rpcResponse, 1)
	t.pending[id] = ch

	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: write failed: %v", ErrTransportUnavailable, err)
	}
	t.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection closed mid-call", ErrTransportUnavailable)
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// ListTools retrieves the current operation catalog.
func (t *StdioTransport) ListTools(ctx context.Context) ([]OperationSchema, error) {
	resp, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list failed: %s", resp.Error.Message)
	}

	var result struct {
		Tools []OperationSchema `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one operation. JSON-RPC errors and tool-level isError
// payloads are classified into the package's typed failures.
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	start := time.Now()
	resp, err := t.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryTools).Debugf("call %s took %s", name, time.Since(start).Round(time.Millisecond))

	if resp.Error != nil {
		return nil, classifyRPCError(name, resp.Error)
	}

	var payload toolCallPayload
	if err := json.Unmarshal(resp.Result, &payload); err == nil && payload.IsError {
		return nil, fmt.Errorf("%w: %s", ErrRemoteValidation, firstText(payload))
	}
	return resp.Result, nil
}

// classifyRPCError maps the tool's error vocabulary onto the typed failures.
// Deployments disagree on whether an unknown tool name is a method-not-found
// code or a message, so both are checked.
func classifyRPCError(name string, e *rpcError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == codeMethodNotFound,
		strings.Contains(msg, "unknown tool"),
		strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %s", ErrOperationNotFound, name)
	case e.Code == codeInvalidParams,
		strings.Contains(msg, "invalid"):
		return fmt.Errorf("%w: %s", ErrRemoteValidation, e.Message)
	default:
		return fmt.Errorf("tool error %d calling %s: %s", e.Code, name, e.Message)
	}
}

func firstText(p toolCallPayload) string {
	for _, c := range p.Content {
		if c.Type == "text" && c.Text != "" {
			return c.Text
		}
	}
	return "tool reported an error with no message"
}

// Connected reports whether the subprocess is up.
func (t *StdioTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Close kills the subprocess and unblocks in-flight callers.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if !t.connected && t.cmd == nil {
		t.mu.Unlock()
		return nil
	}
	t.connected = false
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	cmd := t.cmd
	t.cmd = nil
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logging.Get(logging.CategoryTools).Warnf("timeout waiting for transport readers to exit")
	}

	if cmd != nil {
		_ = cmd.Wait()
	}
	return nil
}

var _ Transport = (*StdioTransport)(nil)
