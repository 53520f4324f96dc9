// ABOUTME: HTTP routes for the MCP endpoint, health check, metrics and tunnel control API
// ABOUTME: Tunnel status changes are streamed to clients as Server-Sent Events

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/beacon/internal/auth"
	"github.com/2389/beacon/internal/mcp"
	"github.com/2389/beacon/internal/tunnel"
)

// stopTimeout bounds how long POST /api/tunnel/stop waits for the tunnel to exit.
const stopTimeout = 10 * time.Second

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// StartTunnelRequest is the optional JSON body for POST /api/tunnel/start.
type StartTunnelRequest struct {
	Provider string `json:"provider,omitempty"`
}

// TunnelResponse wraps the status and the providers that can be started.
type TunnelResponse struct {
	tunnel.Status
	Providers []tunnel.ProviderType `json:"providers"`
}

// routes builds the HTTP handler. Everything except /health is behind bearer auth.
func (g *Gateway) routes(verifier auth.TokenVerifier) http.Handler {
	protect := auth.BearerAuth(verifier, g.logger, g.metrics)

	api := http.NewServeMux()
	api.Handle("/mcp", mcp.NewServer(g.handler, g.logger.With("component", "mcp-http")))
	api.HandleFunc("GET /api/tunnel", g.handleTunnelStatus)
	api.HandleFunc("GET /api/tunnel/events", g.handleTunnelEvents)
	api.HandleFunc("POST /api/tunnel/start", g.handleTunnelStart)
	api.HandleFunc("POST /api/tunnel/stop", g.handleTunnelStop)
	api.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, http.StatusNotFound, "not found")
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, protect(g.telemetry.Handler()))
	}
	mux.Handle("/", protect(api))

	return g.withMiddleware(mux)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: g.version})
}

func (g *Gateway) tunnelResponse(st tunnel.Status) TunnelResponse {
	return TunnelResponse{Status: st, Providers: g.tunnel.Providers()}
}

// handleTunnelStatus handles GET /api/tunnel.
func (g *Gateway) handleTunnelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.tunnelResponse(g.tunnel.Status()))
}

// handleTunnelStart handles POST /api/tunnel/start. The body is optional;
// without a provider the configured one is used.
func (g *Gateway) handleTunnelStart(w http.ResponseWriter, r *http.Request) {
	var req StartTunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Provider == "" {
		req.Provider = g.config.Tunnel.Provider
	}

	provider, err := tunnel.ParseProviderType(req.Provider)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := g.tunnel.Start(provider); {
	case errors.Is(err, tunnel.ErrUnknownProvider):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tunnel.ErrAlreadyActive):
		sendJSONError(w, http.StatusConflict, err.Error())
	case err != nil:
		g.logger.Error("failed to start tunnel", "provider", provider, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusAccepted, g.tunnelResponse(g.tunnel.Status()))
	}
}

// handleTunnelStop handles POST /api/tunnel/stop.
func (g *Gateway) handleTunnelStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()

	if err := g.tunnel.Stop(ctx); err != nil {
		g.logger.Warn("tunnel stop incomplete", "error", err)
	}
	writeJSON(w, http.StatusOK, g.tunnelResponse(g.tunnel.Status()))
}

// handleTunnelEvents handles GET /api/tunnel/events. The current status is
// sent first, then every transition until the client goes away or the
// gateway shuts down.
func (g *Gateway) handleTunnelEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for st := range g.tunnel.Subscribe(r.Context()) {
		if err := writeSSEEvent(w, "status", st); err != nil {
			g.logger.Debug("tunnel event stream closed", "error", err)
			return
		}
		flusher.Flush()
	}
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func writeSSEEvent(w io.Writer, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling SSE data: %w", err)
	}
	_, err = io.WriteString(w, formatSSEEvent(event, string(dataJSON)))
	return err
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
