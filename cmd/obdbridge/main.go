package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmarinho/obdbridge/internal/elm"
	"github.com/dmarinho/obdbridge/internal/logger"
	"github.com/dmarinho/obdbridge/internal/server"
	"github.com/dmarinho/obdbridge/internal/telemetry"
	"github.com/dmarinho/obdbridge/internal/transport"
)

func main() {
	configPath := flag.String("config", "/etc/obdbridge/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated ELM327 adapter")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] obdbridge starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Transport.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// Pick the adapter transport
	var link transport.Link
	switch cfg.Transport.Type {
	case "serial":
		link = transport.NewSerial(cfg.SerialConfig())
	default:
		link = transport.NewDemo()
	}
	defer link.Close()

	// The command channel and telemetry stack start immediately. Until the
	// link is up, commands fail or time out and every metric reads as
	// absent.
	ch := elm.NewChannel(link)

	store := telemetry.NewStore()
	hub := telemetry.NewHub(store)
	svc := telemetry.NewService(ch, store, hub, cfg.Groups())

	rec := logger.New(cfg.Logging)
	defer rec.Close()
	if rec.IsEnabled() {
		svc.SetRecorder(rec)
	}

	// Connect with exponential backoff, then initialize the adapter.
	// Non-blocking, the server starts regardless.
	go func() {
		connectWithRetry(ctx, link, 10)
		if ctx.Err() != nil {
			return
		}
		go ch.Pump(ctx, link.Chunks())
		if err := ch.Init(ctx); err != nil {
			log.Printf("[main] adapter init failed: %v", err)
			return
		}
		log.Println("[main] adapter init complete")

		// Read stored codes once up front, like every scan tool does.
		snap := svc.RefreshDiagnostics(ctx)
		if len(snap.DTCs) > 0 {
			log.Printf("[main] active fault codes: %v", snap.DTCs)
		} else {
			log.Println("[main] no fault codes found")
		}
	}()

	svc.Start(ctx)

	srv := server.New(cfg, svc, hub)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, link transport.Link, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := link.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
					link.Name(), attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
					link.Name(), attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", link.Name(), attempt+1)
			return
		}
	}
}
