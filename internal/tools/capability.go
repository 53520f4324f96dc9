// ABOUTME: Capability interface implemented by device operations exposed as tools.
// ABOUTME: Includes result content helpers, argument decoding, and the Exclusive wrapper.

package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
)

// Capability executes one named device operation.
// params holds the raw "arguments" object of a tools/call request (may be empty).
// The returned value is a *Result, a string, or any JSON-marshalable value.
type Capability interface {
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

// CapabilityFunc adapts a plain function to the Capability interface.
type CapabilityFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (f CapabilityFunc) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	return f(ctx, params)
}

// Content is one entry of a tool result's content list.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Result is an explicit tool result with its content list.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult returns a result carrying a single text item.
func TextResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}

// ImageResult returns a result carrying a single base64 encoded image.
func ImageResult(data []byte, mimeType string) *Result {
	return &Result{Content: []Content{{
		Type:     "image",
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}}}
}

// DecodeParams unmarshals tool arguments into v.
// Empty or null arguments leave v untouched. Malformed arguments yield a
// KindInvalidParams error.
func DecodeParams(params json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return Wrap(KindInvalidParams, "invalid arguments", err)
	}
	return nil
}

type exclusive struct {
	slot chan struct{}
	next Capability
}

// Exclusive serializes calls to c. A waiting call gives up when its context ends.
func Exclusive(c Capability) Capability {
	return &exclusive{slot: make(chan struct{}, 1), next: c}
}

func (e *exclusive) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, Wrap(KindTimeout, "tool busy", ctx.Err())
	}
	defer func() { <-e.slot }()

	return e.next.Execute(ctx, params)
}
