package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/awest/flightwatch/pkg/predict"
	"github.com/awest/flightwatch/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 15 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	log.Println("Starting flightwatch server...")

	cfg := server.LoadConfig()
	log.Printf("Data directory: %s", cfg.DataDir)

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	cacheTier := server.InitializeCache(cfg)
	defer cacheTier.Close()

	backupMgr, backupMonitor, err := server.InitializeBackups(store, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize backups: %v", err)
	}

	predictor := predict.New()
	log.Println("Delay predictor ready (rule-based, v1.0)")

	hub := server.NewFlightHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("WebSocket hub started for live flight updates")

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.BroadcastBoard(ctx, store, hub)
	}()
	log.Println("Board broadcaster started (updates every 15s)")

	stopBackups := make(chan bool)
	wg.Add(1)
	go server.RunBackupScheduler(backupMgr, backupMonitor, stopBackups, &wg)

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(store, stopGC, &wg)

	srv := server.NewServer(store, cacheTier, backupMgr, predictor, hub, backupMonitor)

	router := mux.NewRouter()
	server.SetupRoutes(router, srv, cfg.Port)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", cfg.Port)
		log.Println("API endpoints:")
		log.Println("   POST /v1/ingest           - Ingest flight observations")
		log.Println("   GET  /v1/flights/{cat}    - Query arrivals/departures")
		log.Println("   POST /v1/predict          - Delay risk prediction")
		log.Println("   GET  /v1/stats            - Storage & cache statistics")
		log.Println("   POST /v1/backup           - Trigger a backup")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// Stop background goroutines before waiting on them.
	cancel()
	close(stopBackups)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("Gracefully shutting down server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("flightwatch server exited cleanly")
}
