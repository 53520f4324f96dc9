// Package tunnel makes the local beacon server reachable from the internet.
//
// # State Machine
//
// Manager runs at most one tunnel attempt. Each attempt moves through
//
//	disconnected -> connecting -> connected | error
//
// and Stop returns to disconnected from any state. Start and Stop are
// serialized; a cancelled attempt can never publish a later status.
// Subscribe delivers the current status followed by every transition in
// order, without dropping any for slow readers.
//
// # Providers
//
//   - cloudflare_quick: runs `cloudflared tunnel --url <local>` and waits for
//     the printed https://*.trycloudflare.com URL.
//   - cloudflare_named: runs `cloudflared tunnel run` with TUNNEL_TOKEN in the
//     environment; the public URL comes from configuration.
//   - tailscale_funnel: embeds a tsnet node and reverse-proxies Funnel :443 to
//     the local server.
//
// Subprocesses run in their own process group. Stopping sends an interrupt,
// waits three seconds, then kills the group, and always waits for exit.
//
// BundledResolver finds the cloudflared binary shipped next to beacon for the
// current platform, falling back to compatible architectures and $PATH.
package tunnel
