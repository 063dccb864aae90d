package launch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"leak-sentinel/internal/config"
)

// Launcher optionally spawns the target server as a subprocess and
// guarantees best-effort cleanup when the measurement ends.
type Launcher struct {
	cfg    *config.Config
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

func NewLauncher(cfg *config.Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Start spawns target_command (if configured) and polls /health until
// the target answers or the startup timeout elapses. With no
// target_command configured it only verifies the target is reachable.
func (l *Launcher) Start(ctx context.Context) error {
	if len(l.cfg.TargetCommand) > 0 {
		cmdCtx, cancel := context.WithCancel(ctx)
		l.cancel = cancel

		cmd := exec.CommandContext(cmdCtx, l.cfg.TargetCommand[0], l.cfg.TargetCommand[1:]...)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			cancel()
			return fmt.Errorf("failed to start target: %w", err)
		}
		l.cmd = cmd
	}

	if err := l.waitReady(ctx); err != nil {
		l.Stop()
		return err
	}
	return nil
}

func (l *Launcher) waitReady(ctx context.Context) error {
	client := &http.Client{Timeout: l.cfg.RequestTimeout()}
	deadline := time.Now().Add(l.cfg.StartupTimeout())
	url := l.cfg.TargetURL + "/health"

	for {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("target %s not ready after %v", l.cfg.TargetURL, l.cfg.StartupTimeout())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// Stop kills the spawned target, if any. Errors are swallowed: cleanup
// runs on every exit path, including aborted measurements.
func (l *Launcher) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.cmd != nil && l.cmd.Process != nil {
		_ = l.cmd.Process.Kill()
		_ = l.cmd.Wait()
	}
	l.cmd = nil
	l.cancel = nil
}
