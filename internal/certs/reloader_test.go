// ABOUTME: Tests for the keystore reloader
// ABOUTME: A second manager rewrites the custom slot and the watcher picks it up

package certs

import (
	"context"
	"testing"
	"time"

	"github.com/2389/beacon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloader_PicksUpRewrittenKeystore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := store.NewMemoryStore()
	dir := t.TempDir()
	server := newTestManagerAt(t, dir, settings)
	_, err := server.GenerateSelfSigned(ctx, "device.local")
	require.NoError(t, err)

	reloaded := make(chan *Material, 4)
	r := NewReloader(server, SourceCustom, 50*time.Millisecond, func(m *Material, err error) {
		if err == nil {
			reloaded <- m
		}
	})
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-r.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("reloader did not start")
	}

	// A separate process (here: another manager) imports a new keystore.
	cli := newTestManagerAt(t, dir, settings)
	_, err = cli.ImportCustom(ctx, customKeystore(t, "custom.example.com", "pw"), "pw")
	require.NoError(t, err)

	select {
	case mat := <-reloaded:
		assert.Equal(t, "custom.example.com", mat.Hostname)
		assert.Equal(t, "custom.example.com", server.Active().Hostname)
	case <-time.After(5 * time.Second):
		t.Fatal("reloader did not pick up the rewritten keystore")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reloader did not stop")
	}
}

func TestReloader_BadRewriteKeepsActive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := store.NewMemoryStore()
	server := newTestManagerAt(t, t.TempDir(), settings)
	active, err := server.GenerateSelfSigned(ctx, "device.local")
	require.NoError(t, err)

	failures := make(chan error, 4)
	r := NewReloader(server, SourceCustom, 50*time.Millisecond, func(_ *Material, err error) {
		if err != nil {
			failures <- err
		}
	})
	go func() { _ = r.Run(ctx) }()
	<-r.Ready()

	require.NoError(t, writeFileAtomic(server.Path(SourceCustom), []byte("garbage")))

	select {
	case <-failures:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a failed reload")
	}
	assert.Same(t, active, server.Active())
}
