package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tapestry/engine/internal/app"
	"tapestry/engine/internal/archive"
	"tapestry/engine/internal/bridge"
	"tapestry/engine/internal/broadcast"
	"tapestry/engine/internal/config"
	"tapestry/engine/internal/gitrepo"
	"tapestry/engine/internal/session"
	"tapestry/engine/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	channel, err := broadcast.Dial(ctx, cfg.RedisURL, cfg.SyncChannel)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer channel.Close()

	catalog := store.NewCatalogStore(db)
	snapshots := store.NewArchiveStore(db)
	contents := store.NewContentStore(db)

	var mirror archive.Mirror
	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			log.Fatalf("failed to create repos dir: %v", err)
		}
		mirror = gitrepo.New(cfg.ReposDir)
	}

	archiveService := archive.New(catalog, snapshots, contents, mirror)
	coordinator := session.New(catalog, contents, channel, archiveService)
	defer coordinator.Close()
	coordinator.OnRehydrate(func(projectID string) {
		log.Printf("project %s active; application state should rehydrate", projectID)
	})

	stateBridge := bridge.New(coordinator)
	service := app.New(catalog, archiveService, coordinator, stateBridge, db)
	httpServer := app.NewHTTPServer(service)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("engine listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}
