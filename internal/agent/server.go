package agent

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mosaicdev/mosaic/internal/errors"
)

// addressPattern extracts the listening address embedded in the readiness line.
var addressPattern = regexp.MustCompile(`https?://[^\s]+`)

// maxDiagnosticLines bounds the output captured for failure reporting.
const maxDiagnosticLines = 64

// closeGracePeriod is how long Close waits for the runtime to exit after
// SIGTERM before force-killing it.
const closeGracePeriod = 2 * time.Second

// runtimeProcess is the handle for the spawned agent runtime subprocess.
type runtimeProcess struct {
	cmd *exec.Cmd
	log *slog.Logger

	mu     sync.Mutex
	closed bool
	diag   []string // output captured before readiness, for failure reporting

	// waitDone is closed when cmd.Wait() returns. The wait goroutine is the
	// sole caller of cmd.Wait(); Close selects on this channel instead of
	// waiting itself.
	waitDone chan struct{}
	waitErr  error
}

// startRuntime spawns the agent runtime and blocks until it prints its
// readiness line, the process exits, or the timeout elapses. On success it
// returns the process handle and the parsed base address.
func startRuntime(cfg Config, log *slog.Logger) (*runtimeProcess, string, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, "", errors.RuntimeStartFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, "", errors.RuntimeStartFailed(err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, "", errors.RuntimeStartFailed(err)
	}

	p := &runtimeProcess{
		cmd:      cmd,
		log:      log,
		waitDone: make(chan struct{}),
	}
	log.Info("runtime process started", "command", cfg.Command, "pid", cmd.Process.Pid)

	ready := make(chan string, 1)
	go p.scanOutput(stdout, cfg.ReadyMarker, ready)
	go p.drainStderr(stderr)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()

	select {
	case line := <-ready:
		addr := addressPattern.FindString(line)
		if addr == "" {
			p.Close()
			return nil, "", errors.E(errors.Op("agent.startRuntime"), errors.KindInvalid,
				fmt.Sprintf("readiness line carries no address: %q", line))
		}
		addr = strings.TrimRight(addr, "/")
		log.Info("runtime ready", "address", addr)
		return p, addr, nil

	case <-p.waitDone:
		return nil, "", errors.E(errors.Op("agent.startRuntime"), errors.KindProcess,
			fmt.Sprintf("runtime exited before becoming ready: %s", p.diagnostics()), p.waitErr)

	case <-time.After(cfg.ReadyTimeout):
		p.Close()
		return nil, "", errors.RuntimeNotReady(p.diagnostics())
	}
}

// scanOutput reads runtime stdout line by line. Lines before the readiness
// marker are buffered as diagnostics; once the marker is seen the readiness
// line is delivered and the rest of the stream is drained so the runtime can
// never block on a full pipe.
func (p *runtimeProcess) scanOutput(stdout io.ReadCloser, marker string, ready chan<- string) {
	sc := bufio.NewScanner(stdout)
	found := false
	for sc.Scan() {
		line := sc.Text()
		if found {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), marker) {
			found = true
			ready <- line
			continue
		}
		p.appendDiagnostic(line)
	}
	if err := sc.Err(); err != nil {
		p.log.Debug("runtime stdout scan ended", "error", err)
	}
}

// drainStderr captures runtime stderr for failure reporting.
func (p *runtimeProcess) drainStderr(stderr io.ReadCloser) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		p.appendDiagnostic(sc.Text())
	}
}

func (p *runtimeProcess) appendDiagnostic(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.diag) < maxDiagnosticLines {
		p.diag = append(p.diag, line)
	}
}

func (p *runtimeProcess) diagnostics() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.diag, "\n")
}

// Close terminates the runtime: SIGTERM first, then a kill after the grace
// period. Best-effort and idempotent; failures are logged, not returned.
func (p *runtimeProcess) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.cmd.Process == nil {
		return
	}

	p.log.Debug("stopping runtime process", "pid", p.cmd.Process.Pid)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.log.Debug("SIGTERM failed", "error", err)
	}

	select {
	case <-p.waitDone:
		p.log.Debug("runtime exited gracefully")
	case <-time.After(closeGracePeriod):
		p.log.Debug("force killing runtime")
		if err := p.cmd.Process.Kill(); err != nil {
			p.log.Warn("failed to kill runtime", "error", err)
		}
		<-p.waitDone
	}
}
