// ABOUTME: Tests for the stdio transport using an in-memory pipe and a jsonrpc2 client.
// ABOUTME: Verifies results, typed error codes and raw-line framing edge cases.

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startStdio(t *testing.T) *jsonrpc2.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeConn(ctx, newTestHandler(t, setupTestRegistry(t)), serverSide, nil)
	}()

	client := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.PlainObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
			return nil, nil
		}))

	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("stdio server did not stop")
		}
	})
	return client
}

func TestStdioInitializeAndList(t *testing.T) {
	client := startStdio(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var init InitializeResult
	require.NoError(t, client.Call(ctx, "initialize", map[string]any{}, &init))
	assert.Equal(t, ProtocolVersion, init.ProtocolVersion)
	assert.Equal(t, "beacon-test", init.ServerInfo.Name)

	var list ListToolsResult
	require.NoError(t, client.Call(ctx, "tools/list", nil, &list))
	assert.NotEmpty(t, list.Tools)
	assert.Equal(t, "echo", list.Tools[0].Name)
}

func TestStdioToolsCall(t *testing.T) {
	client := startStdio(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	err := client.Call(ctx, "tools/call", map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"text": "over stdio"},
	}, &result)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "over stdio", result.Content[0].Text)
}

func TestStdioErrorCodes(t *testing.T) {
	client := startStdio(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, "tools/call", map[string]any{"name": "missing"}, nil)
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr), "expected jsonrpc2 error, got %v", err)
	assert.Equal(t, int64(CodeElementNotFound), rpcErr.Code)

	err = client.Call(ctx, "nope", nil, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(CodeMethodNotFound), rpcErr.Code)
}

// rawStdio drives ServeConn with hand-written lines so malformed input can be sent.
type rawStdio struct {
	conn   net.Conn
	reader *bufio.Reader
}

func startRawStdio(t *testing.T) *rawStdio {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeConn(ctx, newTestHandler(t, setupTestRegistry(t)), serverSide, nil)
	}()

	t.Cleanup(func() {
		_ = clientSide.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("stdio server did not stop")
		}
	})
	return &rawStdio{conn: clientSide, reader: bufio.NewReader(clientSide)}
}

func (c *rawStdio) send(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, c.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *rawStdio) read(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadBytes('\n')
	require.NoError(t, err, "no reply on stdio")

	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(line, &msg))
	return msg
}

func errorCode(t *testing.T, msg map[string]json.RawMessage) int {
	t.Helper()
	require.Contains(t, msg, "error")
	var rpcErr RPCError
	require.NoError(t, json.Unmarshal(msg["error"], &rpcErr))
	return rpcErr.Code
}

func TestStdioRejectsWrongVersion(t *testing.T) {
	c := startRawStdio(t)

	c.send(t, `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`)
	msg := c.read(t)

	assert.Equal(t, CodeInvalidRequest, errorCode(t, msg))
	assert.JSONEq(t, `1`, string(msg["id"]))
	assert.NotContains(t, msg, "result")
}

func TestStdioEchoesNullID(t *testing.T) {
	c := startRawStdio(t)

	c.send(t, `{"jsonrpc":"2.0","id":null,"method":"initialize"}`)
	msg := c.read(t)

	assert.Equal(t, "null", string(msg["id"]))
	assert.Contains(t, msg, "result")
}

func TestStdioParseErrorKeepsStreamOpen(t *testing.T) {
	c := startRawStdio(t)

	c.send(t, `{"jsonrpc":"2.0",`)
	msg := c.read(t)
	assert.Equal(t, CodeParseError, errorCode(t, msg))
	assert.Equal(t, "null", string(msg["id"]))

	c.send(t, `{"jsonrpc":"2.0","id":"after","method":"ping"}`)
	msg = c.read(t)
	assert.JSONEq(t, `"after"`, string(msg["id"]))
	assert.Contains(t, msg, "result")
}

func TestStdioNotificationGetsNoReply(t *testing.T) {
	c := startRawStdio(t)

	c.send(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	c.send(t, "")
	c.send(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)

	// The first reply is for the ping, so the notification produced nothing.
	msg := c.read(t)
	assert.JSONEq(t, `7`, string(msg["id"]))
}

func TestLineCodecReadsFinalUnterminatedLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\n  {\"a\":1}\n{\"b\":2}"))

	var raw json.RawMessage
	require.NoError(t, lineCodec{}.ReadObject(r, &raw))
	assert.Equal(t, `{"a":1}`, string(raw))
	require.NoError(t, lineCodec{}.ReadObject(r, &raw))
	assert.Equal(t, `{"b":2}`, string(raw))
	assert.ErrorIs(t, lineCodec{}.ReadObject(r, &raw), io.EOF)
}
