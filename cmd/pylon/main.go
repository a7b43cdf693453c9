package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/solaris-dev/pylon/internal/app"
	"github.com/solaris-dev/pylon/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	result, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go result.Ingestor.Run(runCtx, result.Gateway.Ready(), result.Gateway.PresenceUpdates())
	result.Gateway.Start()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}
	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		log.Printf("shutdown signal received")
	case <-result.Gateway.Done():
		// Terminal gateway failure: no session is coming back, so going
		// down lets the supervisor restart the process cleanly.
		if err := result.Gateway.Err(); err != nil {
			log.Printf("gateway terminated: %v", err)
			exitCode = 1
		}
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	if err := result.Cleanup(); err != nil {
		log.Printf("cleanup error: %v", err)
	}
	log.Printf("shutdown complete")
	os.Exit(exitCode)
}
