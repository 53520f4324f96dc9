// ABOUTME: Runs a tunnel client subprocess and scans its output for readiness
// ABOUTME: Stops with an interrupt to the process group, a grace period, then a kill

package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	stopGracePeriod = 3 * time.Second
	outputTailLines = 20
	maxLineBytes    = 1 << 20
)

// processConfig describes a tunnel subprocess.
type processConfig struct {
	Bin  string
	Args []string
	Env  []string

	// Match reports the public URL once a line signals readiness.
	Match func(line string) (url string, ok bool)

	// Secrets are redacted from logs and error messages.
	Secrets []string
	Logger  *slog.Logger
}

// processTunnel is a Tunnel backed by a subprocess.
type processTunnel struct {
	cfg processConfig
	cmd *exec.Cmd

	url       string
	ready     chan struct{}
	readyOnce sync.Once

	done chan struct{}
	err  error // written before done is closed

	tailMu sync.Mutex
	tail   []string

	closeOnce sync.Once
}

// startProcess launches the subprocess and waits until it is ready, exits,
// or ctx is done. On any failure the process has fully exited on return.
func startProcess(ctx context.Context, cfg processConfig) (*processTunnel, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cmd := exec.Command(cfg.Bin, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Bin, err)
	}

	t := &processTunnel{
		cfg:   cfg,
		cmd:   cmd,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	cfg.Logger.Info("started tunnel process", "bin", cfg.Bin, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go t.scan(&wg, stdout, "stdout")
	go t.scan(&wg, stderr, "stderr")
	go func() {
		wg.Wait()
		t.err = cmd.Wait()
		close(t.done)
	}()

	select {
	case <-t.ready:
		return t, nil
	case <-t.done:
		return nil, t.exitError(ErrNoURL)
	case <-ctx.Done():
		_ = t.Close()
		return nil, ctx.Err()
	}
}

func (t *processTunnel) scan(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		clean := sanitize(line, t.cfg.Secrets...)
		t.remember(clean)
		t.cfg.Logger.Debug("tunnel output", "stream", stream, "line", clean)

		if u, ok := t.cfg.Match(line); ok {
			t.readyOnce.Do(func() {
				t.url = u
				close(t.ready)
			})
		}
	}
	// Drain whatever is left after an oversized line.
	_, _ = io.Copy(io.Discard, r)
}

func (t *processTunnel) remember(line string) {
	if line == "" {
		return
	}
	t.tailMu.Lock()
	defer t.tailMu.Unlock()
	t.tail = append(t.tail, line)
	if len(t.tail) > outputTailLines {
		t.tail = t.tail[len(t.tail)-outputTailLines:]
	}
}

// lastOutput returns up to n of the most recent output lines.
func (t *processTunnel) lastOutput(n int) []string {
	t.tailMu.Lock()
	defer t.tailMu.Unlock()
	if len(t.tail) < n {
		n = len(t.tail)
	}
	return append([]string(nil), t.tail[len(t.tail)-n:]...)
}

// exitError describes a finished process. Only valid after done is closed.
func (t *processTunnel) exitError(base error) error {
	detail := "exit status 0"
	if t.err != nil {
		detail = t.err.Error()
	}
	if tail := t.lastOutput(3); len(tail) > 0 {
		detail += ": " + strings.Join(tail, " | ")
	}
	return fmt.Errorf("%w (%s)", base, sanitize(detail, t.cfg.Secrets...))
}

func (t *processTunnel) URL() string { return t.url }

func (t *processTunnel) Done() <-chan struct{} { return t.done }

func (t *processTunnel) Err() error {
	select {
	case <-t.done:
		return t.exitError(errProcessExited)
	default:
		return nil
	}
}

// Close interrupts the process group, waits up to stopGracePeriod, then
// kills it. It returns once the process has exited.
func (t *processTunnel) Close() error {
	t.closeOnce.Do(func() {
		select {
		case <-t.done:
			return
		default:
		}

		pid := t.cmd.Process.Pid
		if err := interruptProcess(t.cmd.Process); err != nil {
			t.cfg.Logger.Debug("interrupt failed", "pid", pid, "error", err)
		}

		select {
		case <-t.done:
		case <-time.After(stopGracePeriod):
			t.cfg.Logger.Warn("tunnel process ignored interrupt, killing", "pid", pid)
			if err := killProcess(t.cmd.Process); err != nil {
				t.cfg.Logger.Debug("kill failed", "pid", pid, "error", err)
			}
			<-t.done
		}
		t.cfg.Logger.Info("tunnel process stopped", "pid", pid)
	})
	<-t.done
	return nil
}
