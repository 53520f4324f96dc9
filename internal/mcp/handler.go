// ABOUTME: Transport-independent JSON-RPC dispatcher for initialize, tools/list, and tools/call.
// ABOUTME: Maps capability failures to error codes and never lets a panic escape.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/beacon/internal/telemetry"
	"github.com/2389/beacon/internal/tools"
)

// DefaultToolTimeout bounds a single tools/call when no timeout is configured.
const DefaultToolTimeout = 30 * time.Second

// errCapabilityPanic marks a capability that panicked during Execute.
var errCapabilityPanic = errors.New("capability panicked")

// Config holds configuration for the protocol handler.
type Config struct {
	Registry      *tools.Registry
	Logger        *slog.Logger
	ServerName    string
	ServerVersion string
	ToolTimeout   time.Duration
	Metrics       *telemetry.Metrics
}

// Handler dispatches JSON-RPC requests against a tool registry.
// It keeps no per-client state; one Handler serves every transport.
type Handler struct {
	registry    *tools.Registry
	logger      *slog.Logger
	info        ServerInfo
	toolTimeout time.Duration
	metrics     *telemetry.Metrics
}

// NewHandler creates a Handler with the given configuration.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info := ServerInfo{Name: cfg.ServerName, Version: cfg.ServerVersion}
	if info.Name == "" {
		info.Name = "beacon"
	}
	if info.Version == "" {
		info.Version = "dev"
	}

	timeout := cfg.ToolTimeout
	if timeout == 0 {
		timeout = DefaultToolTimeout
	}

	return &Handler{
		registry:    cfg.Registry,
		logger:      logger,
		info:        info,
		toolTimeout: timeout,
		metrics:     cfg.Metrics,
	}, nil
}

// HandleMessage decodes a raw JSON-RPC message and dispatches it.
func (h *Handler) HandleMessage(ctx context.Context, body []byte) *Response {
	req, errResp := decodeRequest(body)
	if errResp != nil {
		return errResp
	}
	return h.HandleRequest(ctx, req)
}

// decodeRequest parses body into a Request, or returns the error response for it.
func decodeRequest(body []byte) (*Request, *Response) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, NewParseError(nil, "invalid JSON")
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewInvalidRequest(nil, "request must be a JSON object")
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, NewInvalidRequest(recoverID(trimmed), "malformed request")
	}
	return &req, nil
}

// acceptNotification reports whether req is a well-formed notification, which
// transports acknowledge without a JSON-RPC reply.
func acceptNotification(req *Request, logger *slog.Logger) bool {
	if !req.IsNotification() || req.JSONRPC != "2.0" {
		return false
	}
	if strings.HasPrefix(req.Method, "notifications/") {
		logger.Debug("accepted MCP notification", "method", req.Method)
	} else {
		logger.Warn("received notification for non-notification method", "method", req.Method)
	}
	return true
}

// recoverID extracts the id member of a request whose other members failed to decode.
func recoverID(body []byte) json.RawMessage {
	var header struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &header); err != nil {
		return nil
	}
	return header.ID
}

// HandleRequest dispatches a decoded request. The response always echoes req.ID
// (null when absent); transports decide whether notifications get a reply.
func (h *Handler) HandleRequest(ctx context.Context, req *Request) (resp *Response) {
	if req == nil {
		return NewInvalidRequest(nil, "empty request")
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in request handler",
				"method", req.Method,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			resp = NewInternalError(req.ID, "internal error")
		}
	}()

	if req.JSONRPC != "2.0" {
		return NewInvalidRequest(req.ID, "invalid JSON-RPC version")
	}
	if req.Method == "" {
		return NewInvalidRequest(req.ID, "method is required")
	}

	h.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", req.IsNotification(),
	)

	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "ping":
		return NewResult(req.ID, struct{}{})
	case "tools/list":
		return h.handleToolsList(req)
	case "tools/call":
		return h.handleToolsCall(ctx, req)
	default:
		return NewMethodNotFound(req.ID, "method not found: "+req.Method)
	}
}

func (h *Handler) handleInitialize(req *Request) *Response {
	return NewResult(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
		ServerInfo: h.info,
	})
}

func (h *Handler) handleToolsList(req *Request) *Response {
	defs := h.registry.List()

	result := ListToolsResult{Tools: make([]ToolInfo, len(defs))}
	for i, def := range defs {
		result.Tools[i] = ToolInfo{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}
	}

	h.logger.Debug("tools/list", "count", len(defs))
	return NewResult(req.ID, result)
}

func (h *Handler) handleToolsCall(ctx context.Context, req *Request) *Response {
	params := bytes.TrimSpace(req.Params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return NewInvalidParams(req.ID, "params are required")
	}

	var call CallToolParams
	if err := json.Unmarshal(params, &call); err != nil {
		return NewInvalidParams(req.ID, "invalid params")
	}
	if call.Name == "" {
		return NewInvalidParams(req.ID, "tool name is required")
	}

	capability, ok := h.registry.Get(call.Name)
	if !ok {
		return NewMethodNotFound(req.ID, "tool not found: "+call.Name)
	}

	callID := uuid.New().String()
	h.logger.Debug("tools/call", "tool_name", call.Name, "call_id", callID)

	callCtx, cancel := context.WithTimeout(ctx, h.toolTimeout)
	defer cancel()

	start := time.Now()
	value, err := h.execute(callCtx, capability, call.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		resp := h.toolError(req.ID, call.Name, callID, err)
		h.metrics.RecordToolCall(ctx, call.Name, outcomeFor(err), elapsed)
		return resp
	}

	result, err := toCallResult(value)
	if err != nil {
		h.logger.Error("tool result not serializable", "tool_name", call.Name, "call_id", callID, "error", err)
		h.metrics.RecordToolCall(ctx, call.Name, tools.KindInternal.String(), elapsed)
		return NewInternalError(req.ID, "tool result could not be encoded")
	}

	h.metrics.RecordToolCall(ctx, call.Name, "ok", elapsed)
	h.logger.Debug("tools/call complete",
		"tool_name", call.Name,
		"call_id", callID,
		"duration_ms", elapsed.Milliseconds(),
		"is_error", result.IsError,
	)
	return NewResult(req.ID, result)
}

// execute runs the capability, converting a panic into errCapabilityPanic.
func (h *Handler) execute(ctx context.Context, c tools.Capability, args json.RawMessage) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("capability panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			value, err = nil, errCapabilityPanic
		}
	}()
	return c.Execute(ctx, args)
}

// toolError maps a capability failure onto a JSON-RPC error response.
// Untyped errors are logged in full and answered with a generic message.
func (h *Handler) toolError(id json.RawMessage, toolName, callID string, err error) *Response {
	h.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"call_id", callID,
		"error", err,
	)

	var te *tools.Error
	switch {
	case errors.As(err, &te):
		return NewError(id, codeForKind(te.Kind), te.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeout(id, "tool execution timed out")
	case errors.Is(err, context.Canceled):
		return NewInternalError(id, "request cancelled")
	default:
		return NewInternalError(id, "tool execution failed")
	}
}

func outcomeFor(err error) string {
	if kind, ok := tools.KindOf(err); ok {
		return kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return tools.KindTimeout.String()
	}
	return tools.KindInternal.String()
}

// toCallResult wraps a capability's return value in MCP result content.
func toCallResult(value any) (*tools.Result, error) {
	switch v := value.(type) {
	case nil:
		return &tools.Result{Content: []tools.Content{}}, nil
	case *tools.Result:
		if v == nil {
			return &tools.Result{Content: []tools.Content{}}, nil
		}
		if v.Content == nil {
			return &tools.Result{Content: []tools.Content{}, IsError: v.IsError}, nil
		}
		return v, nil
	case tools.Result:
		return toCallResult(&v)
	case string:
		return tools.TextResult(v), nil
	case json.RawMessage:
		return tools.TextResult(string(v)), nil
	case []byte:
		return tools.TextResult(string(v)), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return tools.TextResult(string(data)), nil
	}
}
