// ABOUTME: HTTP transport serving the protocol handler on POST /mcp.
// ABOUTME: Notifications are acknowledged with 202; everything else gets a JSON-RPC body.

package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// Server exposes a Handler over HTTP. Authentication is applied by the caller
// as middleware around the Server.
type Server struct {
	handler *Handler
	logger  *slog.Logger
}

// NewServer creates an HTTP transport for h. Pass nil logger for default.
func NewServer(h *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{handler: h, logger: logger}
}

// ServeHTTP accepts a single JSON-RPC message per POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		// We don't support server-initiated SSE streams
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handlePost(w, r)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeResponse(w, NewParseError(nil, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeResponse(w, NewInvalidRequest(nil, "request body too large"))
		return
	}

	req, errResp := decodeRequest(body)
	if errResp != nil {
		s.writeResponse(w, errResp)
		return
	}

	// Handle notifications: accept and return HTTP 202 with no body
	if acceptNotification(req, s.logger) {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.writeResponse(w, s.handler.HandleRequest(r.Context(), req))
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
