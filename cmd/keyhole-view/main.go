// keyhole-view connects to a running engine, brings up a virtual
// display, and pipes the H.264 stream into an external player.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"keyhole/internal/client"
	"keyhole/internal/types"
)

var (
	flagAddr    = flag.String("addr", "127.0.0.1:8899", "Engine address")
	flagToken   = flag.String("token", "", "Bearer token")
	flagWidth   = flag.Int("width", 1080, "Requested display width")
	flagHeight  = flag.Int("height", 1920, "Requested display height")
	flagDPI     = flag.Int("dpi", 320, "Requested display density")
	flagBitrate = flag.Int("bitrate", 0, "Video bitrate in kbps (0 = engine default)")
	flagApp     = flag.String("app", "", "Application to launch on the display")
	flagPlayer  = flag.String("player", "ffplay -loglevel error -fflags nobuffer -i -", "Player command reading H.264 from stdin")
	flagShot    = flag.String("screenshot", "", "Take a screenshot to this file and exit")
)

// playerDecoder feeds the raw stream into an external player process.
type playerDecoder struct {
	command string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (d *playerDecoder) Attach(size types.VideoSize) error {
	parts := strings.Fields(d.command)
	if len(parts) == 0 {
		return fmt.Errorf("empty player command")
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	log.Printf("player %q started for %dx%d stream", parts[0], size.Width, size.Height)

	d.mu.Lock()
	d.cmd = cmd
	d.stdin = stdin
	d.mu.Unlock()
	return nil
}

func (d *playerDecoder) Submit(frame []byte) {
	d.mu.Lock()
	stdin := d.stdin
	d.mu.Unlock()
	if stdin == nil {
		return
	}
	if _, err := stdin.Write(frame); err != nil {
		log.Printf("player write: %v", err)
		d.Detach()
	}
}

func (d *playerDecoder) Detach() {
	d.mu.Lock()
	cmd, stdin := d.cmd, d.stdin
	d.cmd, d.stdin = nil, nil
	d.mu.Unlock()
	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	ctrl, err := client.Dial(ctx, *flagAddr, *flagToken)
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	defer ctrl.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	id, err := ctrl.EnsureDisplay(ctx, *flagWidth, *flagHeight, *flagDPI, *flagBitrate)
	cancel()
	if err != nil {
		log.Fatalf("ensure display: %v", err)
	}
	log.Printf("virtual display %d ready", id)

	if *flagShot != "" {
		ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
		img, err := ctrl.Screenshot(ctx)
		cancel()
		if err != nil {
			log.Fatalf("screenshot: %v", err)
		}
		if len(img) == 0 {
			log.Fatal("screenshot: engine returned no image")
		}
		if err := os.WriteFile(*flagShot, img, 0644); err != nil {
			log.Fatal(err)
		}
		log.Printf("screenshot written to %s (%d bytes)", *flagShot, len(img))
		return
	}

	if *flagApp != "" {
		if err := ctrl.LaunchApp(*flagApp); err != nil {
			log.Printf("launch %q: %v", *flagApp, err)
		}
	}

	dec := &playerDecoder{command: *flagPlayer}
	renderer := client.NewRenderer(ctrl, dec)
	renderer.SurfaceAvailable()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %s, shutting down...", sig)

	renderer.SurfaceDestroyed()
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := ctrl.DestroyDisplay(ctx); err != nil {
		log.Printf("destroy display: %v", err)
	}
	cancel()
}
