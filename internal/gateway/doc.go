// Package gateway orchestrates the beacon server components.
//
// # Overview
//
// The gateway package is the central coordinator of the beacon server. It
// owns the settings store, the tool registry and MCP handler, the
// certificate manager, the tunnel manager and the HTTP server.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, gateway.Options{Version: version, Logger: logger})
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// New resolves credentials, prepares TLS and registers the built-in tools.
// Run binds the listener, optionally starts the configured tunnel and waits.
// Shutdown stops the tunnel first, then drains HTTP and closes the store.
//
// # HTTP API
//
//   - POST /mcp - MCP JSON-RPC endpoint
//   - GET /health - Liveness check (no auth)
//   - GET /api/tunnel - Current tunnel status and available providers
//   - GET /api/tunnel/events - Tunnel status as Server-Sent Events
//   - POST /api/tunnel/start - Start a tunnel: {"provider": "cloudflare_quick"}
//   - POST /api/tunnel/stop - Stop the tunnel
//   - GET /metrics - Prometheus text, when metrics.enabled is set
//
// Everything except /health requires "Authorization: Bearer <token>".
//
// # SSE Streaming
//
// The events stream sends the current status on connect, then one event per
// transition:
//
//	event: status
//	data: {"state":"connected","url":"https://x.trycloudflare.com","provider":"cloudflare_quick",...}
//
// # Credentials
//
// A missing bearer token or JWT secret is generated on first start and kept
// in the settings store, so restarts reuse it. See ResolveToken.
package gateway
