package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssd-technologies/takedat/internal/config"
	"github.com/ssd-technologies/takedat/internal/directory"
	"github.com/ssd-technologies/takedat/internal/relay"
	"github.com/ssd-technologies/takedat/internal/server"
	"github.com/ssd-technologies/takedat/internal/storage"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := directory.New(store, cfg.SessionTTL, cfg.MaxFileSize)
	hub := relay.NewHub(relay.NewTracker(), dir, cfg.RelayRate, server.CheckOrigin(cfg.AllowedOrigins))
	srv := server.New(dir, hub, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		APIRate:        cfg.APIRate,
		StaticDir:      cfg.StaticDir,
		ChunkSize:      cfg.ChunkSize,
	})
	srv.StartWorkers(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	fmt.Printf("takedat relay running on http://%s (store: %s, session ttl: %s)\n", cfg.Addr(), cfg.Store, cfg.SessionTTL)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

func openStore(cfg *config.Server) (storage.SessionStore, error) {
	switch cfg.Store {
	case config.StoreRedis:
		return storage.NewRedisStore(cfg.RedisAddr)
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return storage.NewDB(cfg.DBPath())
	}
}
