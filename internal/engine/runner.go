package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"veilbox/internal/core"
)

const stopGrace = 2 * time.Second

// Runner manages the external tunnel engine process. It implements the
// session's Engine interface: render config, start the child, pipe its
// output into the log ring, and report unexpected exits.
type Runner struct {
	cfg  core.EngineConfig
	logs *LogRing

	// onExit is invoked when the child exits without Disconnect being
	// called first.
	onExitMu sync.Mutex
	onExit   func(error)

	mu       sync.Mutex
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// NewRunner creates a runner for the configured engine binary.
func NewRunner(cfg core.EngineConfig, logs *LogRing) *Runner {
	return &Runner{cfg: cfg, logs: logs}
}

// OnExit registers a callback for unexpected child exits.
func (r *Runner) OnExit(fn func(error)) {
	r.onExitMu.Lock()
	r.onExit = fn
	r.onExitMu.Unlock()
}

func (r *Runner) notifyExit(err error) {
	r.onExitMu.Lock()
	fn := r.onExit
	r.onExitMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Connect renders the config for the request and starts the engine.
// Any already-running child is stopped first.
func (r *Runner) Connect(ctx context.Context, req core.ConnectRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil && r.cmd.Process != nil {
		r.stopLocked()
	}

	if err := os.MkdirAll(r.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	configJSON, err := BuildConfig(req, r.cfg.ProxyHost, r.cfg.ProxyPort)
	if err != nil {
		return err
	}
	cfgPath := filepath.Join(r.cfg.DataDir, "engine_config.json")
	if err := os.WriteFile(cfgPath, configJSON, 0o644); err != nil {
		return fmt.Errorf("write engine config: %w", err)
	}

	cleanupStaleCaches(r.cfg.DataDir)

	binary := r.cfg.Binary
	if !filepath.IsAbs(binary) {
		if exe, err := os.Executable(); err == nil {
			binary = filepath.Join(filepath.Dir(exe), binary)
		}
	}
	if _, err := os.Stat(binary); err != nil {
		return fmt.Errorf("engine binary not found at %s: %w", binary, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, binary, "run", "-c", cfgPath)
	cmd.Dir = r.cfg.DataDir
	cmd.SysProcAttr = hideWindowAttr()
	// Ask for a clean shutdown on cancel; WaitDelay kills stragglers.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start engine: %w", err)
	}
	done := make(chan struct{})
	r.cmd = cmd
	r.cancel = cancel
	r.done = done
	r.stopping = false
	core.Log.Infof("Engine", "Started %s (pid %d)", filepath.Base(binary), cmd.Process.Pid)

	go r.pipe(stdout)
	go r.pipe(stderr)

	// The single waiter: everyone else observes the exit through done.
	go func() {
		err := cmd.Wait()
		close(done)
		r.mu.Lock()
		expected := r.stopping || r.cmd != cmd
		if r.cmd == cmd {
			r.cmd = nil
			r.cancel = nil
			r.done = nil
		}
		r.mu.Unlock()
		if !expected {
			core.Log.Warnf("Engine", "Process exited unexpectedly: %v", err)
			r.notifyExit(err)
		}
	}()

	return nil
}

func (r *Runner) pipe(rd io.Reader) {
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		r.logs.Append(sc.Text())
	}
}

// Disconnect stops the engine process, waiting briefly before killing it.
func (r *Runner) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	return nil
}

// stopLocked stops the current child: cancel sends the interrupt, the
// exec layer escalates to kill after the grace, and the waiter goroutine
// reports the exit through done. Caller holds r.mu.
func (r *Runner) stopLocked() {
	if r.cmd == nil {
		r.cancel = nil
		r.done = nil
		return
	}
	r.stopping = true
	cmd := r.cmd
	done := r.done
	if r.cancel != nil {
		r.cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopGrace + time.Second):
			// The exec layer's kill did not reap it either.
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}
	r.cmd = nil
	r.cancel = nil
	r.done = nil
}

// TailLogs returns the last n engine log lines.
func (r *Runner) TailLogs(n int) []string {
	return r.logs.LastN(n)
}

// cleanupStaleCaches removes fallback engine cache files beyond the
// three most recent. The engine creates cache-<nano>.db files when the
// primary cache.db is held by a dying previous instance.
func cleanupStaleCaches(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "cache-*.db"))
	if err != nil || len(matches) <= 3 {
		return
	}
	sort.Slice(matches, func(i, j int) bool {
		ii, errI := os.Stat(matches[i])
		jj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] < matches[j]
		}
		return ii.ModTime().Before(jj.ModTime())
	})
	for _, path := range matches[:len(matches)-3] {
		if err := os.Remove(path); err != nil {
			core.Log.Debugf("Engine", "Remove stale cache %s: %v", path, err)
		}
	}
}
