// ABOUTME: Newline-delimited JSON-RPC transport over stdin/stdout for local MCP clients.
// ABOUTME: jsonrpc2 buffered streams carry the frames; the protocol handler owns the message rules.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
)

// stdioConn joins a reader and writer into the ReadWriteCloser jsonrpc2 expects.
type stdioConn struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (c *stdioConn) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// lineCodec frames one message per line. Reading hands back the raw line so
// malformed JSON reaches the handler as a parse error instead of wedging the
// stream. Writing is jsonrpc2's plain encoder, which terminates with '\n'.
type lineCodec struct {
	jsonrpc2.PlainObjectCodec
}

// ReadObject reads the next non-blank line into v. A *json.RawMessage
// receives the line verbatim.
func (lineCodec) ReadObject(stream *bufio.Reader, v any) error {
	for {
		line, err := stream.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if raw, ok := v.(*json.RawMessage); ok {
				*raw = append((*raw)[:0], line...)
				return nil
			}
			return json.Unmarshal(line, v)
		}
		if err != nil {
			return err
		}
	}
}

// ServeStdio serves h on the given streams until ctx is cancelled or the input closes.
func ServeStdio(ctx context.Context, h *Handler, in io.Reader, out io.Writer, logger *slog.Logger) error {
	conn := &stdioConn{Reader: in, Writer: out}
	if c, ok := in.(io.Closer); ok {
		conn.closers = append(conn.closers, c)
	}
	if c, ok := out.(io.Closer); ok {
		conn.closers = append(conn.closers, c)
	}
	return ServeConn(ctx, h, conn, logger)
}

// ServeConn serves h on an arbitrary stream, one JSON object per line.
// Requests are dispatched concurrently; replies may arrive out of order.
// When the input ends, in-flight requests finish before ServeConn returns.
func ServeConn(ctx context.Context, h *Handler, rwc io.ReadWriteCloser, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	stream := jsonrpc2.NewBufferedStream(rwc, lineCodec{})
	defer func() { _ = stream.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	s := &stdioServer{handler: h, stream: stream, logger: logger}
	logger.Info("serving MCP over stdio")

	var wg sync.WaitGroup
	for {
		var raw json.RawMessage
		err := stream.ReadObject(&raw)
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				logger.Info("stdio client disconnected")
				return nil
			}
			return fmt.Errorf("reading stdio message: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatch(ctx, raw)
		}()
	}
}

type stdioServer struct {
	handler *Handler
	stream  jsonrpc2.ObjectStream
	logger  *slog.Logger
}

// dispatch applies the same rules as the HTTP transport: oversized and
// malformed messages get error replies, accepted notifications get none.
func (s *stdioServer) dispatch(ctx context.Context, raw json.RawMessage) {
	if int64(len(raw)) > MaxRequestBodySize {
		s.reply(NewInvalidRequest(nil, "message too large"))
		return
	}

	req, errResp := decodeRequest(raw)
	if errResp != nil {
		s.reply(errResp)
		return
	}
	if acceptNotification(req, s.logger) {
		return
	}
	s.reply(s.handler.HandleRequest(ctx, req))
}

func (s *stdioServer) reply(resp *Response) {
	if err := s.stream.WriteObject(resp); err != nil {
		s.logger.Warn("failed to write stdio reply", "error", err)
	}
}
