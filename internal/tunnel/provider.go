// ABOUTME: Provider and Tunnel interfaces implemented by cloudflared and tsnet backends
// ABOUTME: A Provider blocks in Start until the tunnel publishes its public URL

package tunnel

import (
	"context"
	"errors"
)

// Tunnel errors
var (
	ErrAlreadyActive   = errors.New("tunnel already active")
	ErrUnknownProvider = errors.New("unknown tunnel provider")
	ErrNoURL           = errors.New("tunnel exited before publishing a URL")

	errProcessExited = errors.New("tunnel process exited")
)

// Provider establishes tunnels of one type.
type Provider interface {
	Type() ProviderType

	// Start launches a tunnel to localURL and returns once it has a public
	// URL. Cancelling ctx aborts the attempt and releases its resources.
	Start(ctx context.Context, localURL string) (Tunnel, error)
}

// Tunnel is an established tunnel.
type Tunnel interface {
	// URL is the public base URL.
	URL() string

	// Done is closed when the tunnel stops for any reason.
	Done() <-chan struct{}

	// Err describes why the tunnel stopped. It is nil while running.
	Err() error

	// Close stops the tunnel and waits for it to exit.
	Close() error
}
