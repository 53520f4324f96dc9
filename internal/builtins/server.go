// ABOUTME: Server pack reporting server, tunnel and certificate state as tools
// ABOUTME: Sources are narrow interfaces satisfied by the tunnel and certs managers

package builtins

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/beacon/internal/certs"
	"github.com/2389/beacon/internal/tools"
	"github.com/2389/beacon/internal/tunnel"
)

// TunnelStatusSource reports the current tunnel status.
type TunnelStatusSource interface {
	Status() tunnel.Status
}

// CertificateSource reports the certificate currently used for TLS.
type CertificateSource interface {
	Active() *certs.Material
}

// ServerDeps holds what the server pack reports on. Tunnel and Certs may be
// nil when those features are not configured.
type ServerDeps struct {
	Name       string
	Version    string
	StartedAt  time.Time
	TLSEnabled bool
	AuthMode   string
	Registry   *tools.Registry
	Tunnel     TunnelStatusSource
	Certs      CertificateSource
	Now        func() time.Time
}

// ServerPack creates the server pack.
func ServerPack(deps ServerDeps) *Pack {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &serverHandlers{deps: deps}
	return &Pack{
		ID: "builtin:server",
		Tools: []Tool{
			newTool(mcp.NewTool("get_server_info",
				mcp.WithDescription("Get the beacon server name, version, uptime, and security settings."),
			), tools.CapabilityFunc(h.ServerInfo)),
			newTool(mcp.NewTool("get_tunnel_status",
				mcp.WithDescription("Get the public tunnel state, provider, and URL."),
			), tools.CapabilityFunc(h.TunnelStatus)),
			newTool(mcp.NewTool("get_certificate_info",
				mcp.WithDescription("Get details of the TLS certificate the server is using."),
			), tools.CapabilityFunc(h.CertificateInfo)),
		},
	}
}

type serverHandlers struct {
	deps ServerDeps
}

type serverInfoOutput struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	TLS           bool      `json:"tls"`
	AuthMode      string    `json:"auth_mode"`
	ToolCount     int       `json:"tool_count"`
}

func (h *serverHandlers) ServerInfo(ctx context.Context, _ json.RawMessage) (any, error) {
	out := serverInfoOutput{
		Name:      h.deps.Name,
		Version:   h.deps.Version,
		StartedAt: h.deps.StartedAt,
		TLS:       h.deps.TLSEnabled,
		AuthMode:  h.deps.AuthMode,
	}
	if !h.deps.StartedAt.IsZero() {
		out.UptimeSeconds = int64(h.deps.Now().Sub(h.deps.StartedAt).Seconds())
	}
	if h.deps.Registry != nil {
		out.ToolCount = h.deps.Registry.Len()
	}
	return out, nil
}

type tunnelStatusOutput struct {
	tunnel.Status
	Configured bool `json:"configured"`
}

func (h *serverHandlers) TunnelStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	if h.deps.Tunnel == nil {
		return tunnelStatusOutput{Status: tunnel.Disconnected()}, nil
	}
	return tunnelStatusOutput{Status: h.deps.Tunnel.Status(), Configured: true}, nil
}

type certificateInfoOutput struct {
	Hostname          string    `json:"hostname"`
	Source            string    `json:"source"`
	Subject           string    `json:"subject"`
	Issuer            string    `json:"issuer"`
	DNSNames          []string  `json:"dns_names,omitempty"`
	IPAddresses       []string  `json:"ip_addresses,omitempty"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	Expired           bool      `json:"expired"`
	HasKey            bool      `json:"has_key"`
	CertificateCount  int       `json:"certificate_count"`
	SHA256Fingerprint string    `json:"sha256_fingerprint"`
}

func (h *serverHandlers) CertificateInfo(ctx context.Context, _ json.RawMessage) (any, error) {
	if h.deps.Certs == nil {
		return nil, tools.ElementNotFound("TLS is not configured")
	}
	m := h.deps.Certs.Active()
	if m == nil {
		return nil, tools.ElementNotFound("no active certificate")
	}

	out := certificateInfoOutput{
		Hostname:         m.Hostname,
		Source:           string(m.Source),
		NotBefore:        m.NotBefore,
		NotAfter:         m.NotAfter,
		Expired:          m.Expired(h.deps.Now()),
		HasKey:           m.HasKey(),
		CertificateCount: m.CertificateCount(),
	}
	if leaf := m.Leaf(); leaf != nil {
		out.Subject = leaf.Subject.String()
		out.Issuer = leaf.Issuer.String()
		out.DNSNames = leaf.DNSNames
		for _, ip := range leaf.IPAddresses {
			out.IPAddresses = append(out.IPAddresses, ip.String())
		}
		sum := sha256.Sum256(leaf.Raw)
		out.SHA256Fingerprint = hex.EncodeToString(sum[:])
	}
	return out, nil
}
