// Package shell provides the exec-backed implementations of the external
// collaborator interfaces: a command runner and an application launcher.
package shell

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
)

// ExecRunner runs commands on the host with an optional extra environment.
type ExecRunner struct {
	Env []string
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	return cmd.CombinedOutput()
}

// ExecLauncher starts a host application on a specific X display. The
// application name is resolved through PATH; a name with no launchable
// entry point is reported as an error for the caller to log and drop.
type ExecLauncher struct{}

func (l *ExecLauncher) Launch(ctx context.Context, name string, displayID int) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("no launchable entry point for %q: %w", name, err)
	}

	cmd := exec.Command(path)
	cmd.Env = append(os.Environ(), fmt.Sprintf("DISPLAY=:%d", displayID))
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}

	// The launched app outlives any one command; reap it in the background
	// so it never lingers as a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("launched app %s exited: %v", name, err)
		}
	}()
	return nil
}
