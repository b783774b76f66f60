package main

import (
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"keyhole/internal/config"
	"keyhole/internal/ipc"
	"keyhole/internal/preview"
	"keyhole/internal/session"
)

var (
	flagAddr        = flag.String("addr", "", "IPC listen address (overrides config)")
	flagToken       = flag.String("token", "", "Bearer token for authentication (overrides config)")
	flagConfig      = flag.String("config", "", "Path to YAML config file")
	flagPreviewAddr = flag.String("preview-addr", "", "WHEP preview listen address (empty = disabled)")
	flagIdle        = flag.Duration("idle-threshold", 0, "Idle self-termination threshold (overrides config)")
	flagLogFile     = flag.String("log-file", "", "Append log output to this file as well as stderr")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *flagAddr != "" {
		cfg.Server.Addr = *flagAddr
	}
	if *flagToken != "" {
		cfg.Server.Token = *flagToken
	}
	if *flagPreviewAddr != "" {
		cfg.Preview.Addr = *flagPreviewAddr
	}
	if *flagIdle > 0 {
		cfg.Idle.Threshold = *flagIdle
	}

	if *flagLogFile != "" {
		f, err := os.OpenFile(*flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	sess := session.New(session.Options{
		DefaultBitrateKbps: cfg.Video.BitrateKbps,
		IdleThreshold:      cfg.Idle.Threshold,
		IdleTick:           cfg.Idle.Tick,
	})
	sess.Start()

	srv := ipc.NewServer(sess.Control, cfg.Server.Token)

	var prev *preview.Server
	if cfg.Preview.Addr != "" {
		token := cfg.Preview.Token
		if token == "" {
			token = cfg.Server.Token
		}
		prev = preview.NewServer(sess.Control, token)
		go func() {
			log.Printf("preview listening on %s", cfg.Preview.Addr)
			if err := http.ListenAndServe(cfg.Preview.Addr, prev.Handler()); err != nil {
				log.Printf("preview server: %v", err)
			}
		}()
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down...", sig)
		if prev != nil {
			prev.Teardown()
		}
		sess.Stop()
		os.Exit(0)
	}()

	log.Printf("keyhole session %s (idle threshold %s, default bitrate %d kbps)",
		sess.ID, cfg.Idle.Threshold, cfg.Video.BitrateKbps)

	if err := srv.ListenAndServe(cfg.Server.Addr); err != nil {
		log.Fatal(err)
	}
}
