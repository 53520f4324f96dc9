//go:build !windows

// ABOUTME: Tests for bundled binary resolution across layouts and architectures
// ABOUTME: Uses temp directories with explicit GOOS/GOARCH so results are platform independent

package tunnel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExec(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
}

func TestBundledResolver_Layouts(t *testing.T) {
	tests := []struct {
		name string
		rel  string
	}{
		{"flat", "cloudflared-linux-amd64"},
		{"platform dir", "linux-amd64/cloudflared"},
		{"nested archive", "linux_amd64/cloudflared-2026.1.0/bin/cloudflared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeExec(t, filepath.Join(dir, tt.rel), 0o755)

			r := &BundledResolver{Name: "cloudflared", Dirs: []string{dir}, GOOS: "linux", GOARCH: "amd64"}
			got, err := r.Resolve()
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.rel), got)
		})
	}
}

func TestBundledResolver_PrefersPrimaryArch(t *testing.T) {
	dir := t.TempDir()
	writeExec(t, filepath.Join(dir, "cloudflared-linux-386"), 0o755)
	writeExec(t, filepath.Join(dir, "cloudflared-linux-amd64"), 0o755)

	r := &BundledResolver{Name: "cloudflared", Dirs: []string{dir}, GOOS: "linux", GOARCH: "amd64"}
	got, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cloudflared-linux-amd64"), got)
}

func TestBundledResolver_ArchFallback(t *testing.T) {
	dir := t.TempDir()
	writeExec(t, filepath.Join(dir, "cloudflared-darwin-arm"), 0o755)

	r := &BundledResolver{Name: "cloudflared", Dirs: []string{dir}, GOOS: "darwin", GOARCH: "arm64"}
	got, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cloudflared-darwin-arm"), got)
}

func TestBundledResolver_SkipsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	writeExec(t, filepath.Join(dir, "cloudflared-linux-amd64"), 0o644)
	writeExec(t, filepath.Join(dir, "linux-amd64", "cloudflared"), 0o755)

	r := &BundledResolver{Name: "cloudflared", Dirs: []string{dir}, GOOS: "linux", GOARCH: "amd64"}
	assert.Len(t, r.Candidates(), 2)

	got, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "linux-amd64", "cloudflared"), got)
}

func TestBundledResolver_WindowsExtension(t *testing.T) {
	dir := t.TempDir()
	writeExec(t, filepath.Join(dir, "cloudflared-windows-amd64.exe"), 0o644)

	r := &BundledResolver{Name: "cloudflared", Dirs: []string{dir}, GOOS: "windows", GOARCH: "amd64"}
	got, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cloudflared-windows-amd64.exe"), got)
}

func TestBundledResolver_SearchPath(t *testing.T) {
	binDir := t.TempDir()
	writeExec(t, filepath.Join(binDir, "beacon-test-tunnel"), 0o755)
	t.Setenv("PATH", binDir)

	r := &BundledResolver{Name: "beacon-test-tunnel", Dirs: []string{t.TempDir()}, GOOS: "linux", GOARCH: "amd64"}

	_, err := r.Resolve()
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	r.SearchPath = true
	got, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(binDir, "beacon-test-tunnel"), got)
}

func TestBundledResolver_NotFound(t *testing.T) {
	r := &BundledResolver{Name: "cloudflared", Dirs: []string{"", filepath.Join(t.TempDir(), "missing")}, GOOS: "linux", GOARCH: "riscv64"}
	_, err := r.Resolve()
	assert.ErrorIs(t, err, ErrBinaryNotFound)
	assert.Contains(t, err.Error(), "linux/riscv64")

	_, err = (&BundledResolver{}).Resolve()
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestStaticResolver(t *testing.T) {
	_, err := StaticResolver{}.Resolve()
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	got, err := StaticResolver{Path: "/opt/cloudflared"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/opt/cloudflared", got)
}
