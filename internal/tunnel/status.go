// ABOUTME: Tunnel status values and provider types
// ABOUTME: Status transitions per attempt: disconnected -> connecting -> connected|error

package tunnel

import (
	"fmt"
	"time"
)

// State is the connectivity state of the tunnel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Active reports whether a tunnel attempt is in progress or established.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// ProviderType selects how the tunnel is established.
type ProviderType string

const (
	// ProviderCloudflareQuick runs an anonymous cloudflared quick tunnel.
	ProviderCloudflareQuick ProviderType = "cloudflare_quick"
	// ProviderCloudflareNamed runs a managed cloudflared tunnel from a token.
	ProviderCloudflareNamed ProviderType = "cloudflare_named"
	// ProviderTailscaleFunnel exposes the server through an embedded tsnet node.
	ProviderTailscaleFunnel ProviderType = "tailscale_funnel"
)

// AllProviderTypes lists the known provider types.
var AllProviderTypes = []ProviderType{
	ProviderCloudflareQuick,
	ProviderCloudflareNamed,
	ProviderTailscaleFunnel,
}

// Valid reports whether p is a known provider type.
func (p ProviderType) Valid() bool {
	for _, known := range AllProviderTypes {
		if p == known {
			return true
		}
	}
	return false
}

// ParseProviderType validates s as a provider type.
func ParseProviderType(s string) (ProviderType, error) {
	p := ProviderType(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// Status is an observable snapshot of the tunnel.
type Status struct {
	State     State        `json:"state"`
	URL       string       `json:"url,omitempty"`
	Provider  ProviderType `json:"provider,omitempty"`
	Message   string       `json:"message,omitempty"`
	ChangedAt time.Time    `json:"changed_at"`
}

// Disconnected is the idle status.
func Disconnected() Status {
	return Status{State: StateDisconnected}
}

// Connecting is published when an attempt starts.
func Connecting(p ProviderType) Status {
	return Status{State: StateConnecting, Provider: p}
}

// Connected carries the public URL of an established tunnel.
func Connected(url string, p ProviderType) Status {
	return Status{State: StateConnected, URL: url, Provider: p}
}

// Failed is the terminal status of a failed or crashed attempt.
func Failed(p ProviderType, msg string) Status {
	return Status{State: StateError, Provider: p, Message: msg}
}
