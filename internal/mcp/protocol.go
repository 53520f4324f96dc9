// ABOUTME: JSON-RPC 2.0 message types, error codes, and response constructors.
// ABOUTME: Responses are only built through these constructors so result and error never coexist.

package mcp

import (
	"encoding/json"

	"github.com/2389/beacon/internal/tools"
)

// ProtocolVersion is the MCP protocol version advertised in initialize responses.
const ProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Capability failure codes
const (
	CodePermissionDenied = -32001
	CodeElementNotFound  = -32002
	CodeActionFailed     = -32003
	CodeTimeout          = -32004
)

// Request represents a JSON-RPC 2.0 request.
// ID is kept raw so it can be echoed byte-for-byte. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carried no id member.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// nullID is echoed when the request id is absent or unreadable.
var nullID = json.RawMessage("null")

func echoID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

// NewResult builds a successful response.
func NewResult(id json.RawMessage, result any) *Response {
	if result == nil {
		result = struct{}{}
	}
	return &Response{JSONRPC: "2.0", ID: echoID(id), Result: result}
}

// NewError builds an error response with an arbitrary code.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      echoID(id),
		Error:   &RPCError{Code: code, Message: message},
	}
}

func NewParseError(id json.RawMessage, message string) *Response {
	return NewError(id, CodeParseError, message)
}

func NewInvalidRequest(id json.RawMessage, message string) *Response {
	return NewError(id, CodeInvalidRequest, message)
}

func NewMethodNotFound(id json.RawMessage, message string) *Response {
	return NewError(id, CodeMethodNotFound, message)
}

func NewInvalidParams(id json.RawMessage, message string) *Response {
	return NewError(id, CodeInvalidParams, message)
}

func NewInternalError(id json.RawMessage, message string) *Response {
	return NewError(id, CodeInternalError, message)
}

func NewPermissionDenied(id json.RawMessage, message string) *Response {
	return NewError(id, CodePermissionDenied, message)
}

func NewElementNotFound(id json.RawMessage, message string) *Response {
	return NewError(id, CodeElementNotFound, message)
}

func NewActionFailed(id json.RawMessage, message string) *Response {
	return NewError(id, CodeActionFailed, message)
}

func NewTimeout(id json.RawMessage, message string) *Response {
	return NewError(id, CodeTimeout, message)
}

// codeForKind maps a capability failure kind to its JSON-RPC code.
func codeForKind(kind tools.Kind) int {
	switch kind {
	case tools.KindInvalidParams:
		return CodeInvalidParams
	case tools.KindPermissionDenied:
		return CodePermissionDenied
	case tools.KindElementNotFound:
		return CodeElementNotFound
	case tools.KindActionFailed:
		return CodeActionFailed
	case tools.KindTimeout:
		return CodeTimeout
	default:
		return CodeInternalError
	}
}

// MCP-specific types

// ToolInfo represents an MCP tool definition.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// InitializeResult is the result for initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ServerInfo identifies the server in initialize responses.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
