// Package mcp maintains the single logical connection to the remote
// analytics-reporting tool (an MCP server spoken to over stdio JSON-RPC)
// and exposes operation listing and invocation on top of it.
package mcp

import (
	"encoding/json"
	"errors"
)

// ConnState is the lifecycle state of the shared tool connection.
type ConnState string

const (
	StateUnconnected ConnState = "unconnected"
	StateConnecting  ConnState = "connecting"
	StateReady       ConnState = "ready"
	StateFailed      ConnState = "failed"
)

// Typed failures crossing the connector boundary. Callers branch with
// errors.Is rather than string matching.
var (
	// ErrTransportUnavailable: the tool process could not be started or the
	// connection handshake failed. Terminal for the current request.
	ErrTransportUnavailable = errors.New("analytics tool transport unavailable")

	// ErrOperationNotFound: the tool rejected the operation name itself.
	// Resolution should move on to the next candidate name.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrRemoteValidation: the tool accepted the call shape but rejected the
	// parameter values. Recoverable via refinement.
	ErrRemoteValidation = errors.New("remote validation error")
)

// OperationSchema is one operation advertised by the tool catalog.
type OperationSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSON-RPC 2.0 framing. The analytics tool speaks line-delimited JSON-RPC
// over its stdio pipes.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

// JSON-RPC error codes the tool is known to emit.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// toolCallPayload is the result shape of a tools/call response: a content
// list plus an isError marker for tool-level failures.
type toolCallPayload struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}
