package display

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"keyhole/internal/encode"
)

// XvfbBackend creates off-screen displays by running one Xvfb server per
// display. The platform display id is the X display number.
type XvfbBackend struct {
	// Version reported to flag gating. Xvfb supports the full flag set,
	// so this defaults to the newest level the pipeline knows about.
	Version int
}

func NewXvfbBackend() *XvfbBackend {
	return &XvfbBackend{Version: 34}
}

func (b *XvfbBackend) HostVersion() int {
	if b.Version == 0 {
		return 34
	}
	return b.Version
}

type xvfbDisplay struct {
	num    int
	cmd    *exec.Cmd
	tmpDir string
}

func (d *xvfbDisplay) ID() int { return d.num }

func (d *xvfbDisplay) Release() {
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan error, 1)
		go func() { done <- d.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			d.cmd.Process.Kill()
		}
	}
	os.Remove(fmt.Sprintf("/tmp/.X%d-lock", d.num))
	os.Remove(fmt.Sprintf("/tmp/.X11-unix/X%d", d.num))
	if d.tmpDir != "" {
		os.RemoveAll(d.tmpDir)
	}
}

func (b *XvfbBackend) Create(name string, width, height, dpi int, surface encode.Surface, flags Flag) (Handle, error) {
	reapStaleServers()

	num := findAvailableDisplay()
	displayName := fmt.Sprintf(":%d", num)

	tmpDir, err := os.MkdirTemp("", "keyhole-x-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	args := []string{
		displayName,
		"-screen", "0", fmt.Sprintf("%dx%dx24", width, height),
		"-dpi", strconv.Itoa(dpi),
		"-nolisten", "tcp",
		"-nocursor",
		"-fbdir", tmpDir,
	}

	log.Printf("starting Xvfb %s for %s (%dx%d dpi=%d flags=%#x)",
		displayName, name, width, height, dpi, flags)
	cmd := exec.Command("Xvfb", args...)

	serverLog, err := os.Create(filepath.Join(tmpDir, "xvfb.log"))
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("create xvfb log: %w", err)
	}
	cmd.Stdout = serverLog
	cmd.Stderr = serverLog
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:    true,
		Pdeathsig: syscall.SIGTERM,
	}

	if err := cmd.Start(); err != nil {
		serverLog.Close()
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("start Xvfb: %w", err)
	}

	d := &xvfbDisplay{num: num, cmd: cmd, tmpDir: tmpDir}
	if err := waitReady(displayName, 10*time.Second); err != nil {
		d.Release()
		return nil, fmt.Errorf("Xvfb not ready: %w", err)
	}

	if surface != nil {
		if err := surface.Bind(displayName); err != nil {
			d.Release()
			return nil, fmt.Errorf("bind surface to %s: %w", displayName, err)
		}
	}

	log.Printf("Xvfb ready on %s", displayName)
	return d, nil
}

// SetIMEPolicy records the soft-keyboard placement on the display's root
// window so display-aware IMEs stay local to it.
func (b *XvfbBackend) SetIMEPolicy(displayID int, policy IMEPolicy) error {
	value := [...]string{"local", "fallback", "hide"}[policy]
	cmd := exec.Command("xprop", "-root",
		"-f", "_KEYHOLE_IME_POLICY", "8s",
		"-set", "_KEYHOLE_IME_POLICY", value)
	cmd.Env = append(os.Environ(), fmt.Sprintf("DISPLAY=:%d", displayID))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xprop: %w: %s", err, out)
	}
	return nil
}

func waitReady(displayName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	socketPath := fmt.Sprintf("/tmp/.X11-unix/X%s", strings.TrimPrefix(displayName, ":"))
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			cmd := exec.Command("xdpyinfo")
			cmd.Env = append(os.Environ(), "DISPLAY="+displayName)
			if err := cmd.Run(); err == nil {
				return nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for X server on %s", displayName)
}

func findAvailableDisplay() int {
	for i := 1; i <= 99; i++ {
		socket := fmt.Sprintf("/tmp/.X11-unix/X%d", i)
		lock := fmt.Sprintf("/tmp/.X%d-lock", i)
		_, sockErr := os.Stat(socket)
		_, lockErr := os.Stat(lock)
		if os.IsNotExist(sockErr) && os.IsNotExist(lockErr) {
			return i
		}
	}
	return 99
}

// reapStaleServers kills Xvfb processes left behind by previous runs that
// weren't shut down (parent killed with SIGKILL, crashed, etc.). Orphaned
// servers hold display numbers and lock files hostage.
func reapStaleServers() {
	procs, err := process.Processes()
	if err != nil {
		return
	}
	myPID := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == myPID {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if !strings.Contains(cmdline, "Xvfb") || !strings.Contains(cmdline, "keyhole-x-") {
			continue
		}
		ppid, err := p.Ppid()
		if err == nil && ppid == myPID {
			continue
		}
		log.Printf("killing stale Xvfb process %d", p.Pid)
		p.Terminate()
		for i := 0; i < 10; i++ {
			time.Sleep(100 * time.Millisecond)
			if running, _ := p.IsRunning(); !running {
				break
			}
		}
	}

	// Remove lock files whose owning process is gone.
	for i := 1; i <= 99; i++ {
		lock := fmt.Sprintf("/tmp/.X%d-lock", i)
		data, err := os.ReadFile(lock)
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			continue
		}
		if err := syscall.Kill(pid, 0); err != nil {
			log.Printf("removing stale X lock file for display :%d (pid %d)", i, pid)
			os.Remove(lock)
			os.Remove(fmt.Sprintf("/tmp/.X11-unix/X%d", i))
		}
	}
}
