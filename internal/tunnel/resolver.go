// ABOUTME: Locates the tunnel client executable among bundled, per-platform binaries
// ABOUTME: Tries the primary architecture, then compatible fallbacks, then optionally $PATH

package tunnel

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrBinaryNotFound is returned when no usable executable exists.
var ErrBinaryNotFound = errors.New("tunnel binary not found")

// BinaryResolver finds an executable path.
type BinaryResolver interface {
	Resolve() (string, error)
}

// archFallbacks lists architectures whose binaries also run on the key architecture.
var archFallbacks = map[string][]string{
	"amd64": {"386"},
	"arm64": {"arm"},
}

// BundledResolver searches Dirs for a binary built for GOOS/GOARCH.
// Within each directory the accepted layouts are:
//
//	<name>-<os>-<arch>[.exe]
//	<os>-<arch>/<name>[.exe]
//	<os>_<arch>/**/<name>[.exe]
type BundledResolver struct {
	Name       string
	Dirs       []string
	GOOS       string
	GOARCH     string
	SearchPath bool
}

// NewBundledResolver creates a resolver for the running platform.
func NewBundledResolver(name string, dirs []string, searchPath bool) *BundledResolver {
	return &BundledResolver{
		Name:       name,
		Dirs:       dirs,
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		SearchPath: searchPath,
	}
}

func (r *BundledResolver) archs() []string {
	return append([]string{r.GOARCH}, archFallbacks[r.GOARCH]...)
}

func (r *BundledResolver) patterns(arch string) []string {
	ext := ""
	if r.GOOS == "windows" {
		ext = ".exe"
	}
	return []string{
		fmt.Sprintf("%s-%s-%s%s", r.Name, r.GOOS, arch, ext),
		fmt.Sprintf("%s-%s/%s%s", r.GOOS, arch, r.Name, ext),
		fmt.Sprintf("%s_%s/**/%s%s", r.GOOS, arch, r.Name, ext),
	}
}

// Candidates returns every matching bundled path in resolution order.
func (r *BundledResolver) Candidates() []string {
	var out []string
	for _, arch := range r.archs() {
		for _, dir := range r.Dirs {
			if dir == "" {
				continue
			}
			fsys := os.DirFS(dir)
			for _, pattern := range r.patterns(arch) {
				matches, err := doublestar.Glob(fsys, pattern)
				if err != nil {
					continue
				}
				sort.Strings(matches)
				for _, m := range matches {
					out = append(out, filepath.Join(dir, filepath.FromSlash(m)))
				}
			}
		}
	}
	return out
}

// Resolve returns the first candidate that is an executable regular file,
// falling back to $PATH when SearchPath is set.
func (r *BundledResolver) Resolve() (string, error) {
	if r.Name == "" {
		return "", fmt.Errorf("%w: no binary name", ErrBinaryNotFound)
	}
	for _, path := range r.Candidates() {
		if isExecutable(path, r.GOOS) {
			return path, nil
		}
	}
	if r.SearchPath {
		if path, err := exec.LookPath(r.Name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s for %s/%s", ErrBinaryNotFound, r.Name, r.GOOS, r.GOARCH)
}

func isExecutable(path, goos string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// StaticResolver always resolves to Path.
type StaticResolver struct {
	Path string
}

// Resolve returns Path if it is set.
func (r StaticResolver) Resolve() (string, error) {
	if r.Path == "" {
		return "", ErrBinaryNotFound
	}
	return r.Path, nil
}
