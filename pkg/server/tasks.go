package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/awest/flightwatch/pkg/backup"
	"github.com/awest/flightwatch/pkg/config"
	"github.com/awest/flightwatch/pkg/flight"
	"github.com/awest/flightwatch/pkg/server/monitor"
	"github.com/awest/flightwatch/pkg/storage"
	badgerstore "github.com/awest/flightwatch/pkg/storage/badger"
)

// RunBackupScheduler drives the backup lifecycle: hourly snapshot, a daily
// slot for the daily snapshot plus compress/cleanup sweeps, and a weekly
// slot for the weekly snapshot plus archive export. The manager itself is
// schedule-agnostic; all cadence lives here.
func RunBackupScheduler(mgr *backup.Manager, mon *monitor.SweepMonitor, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	hourly := time.NewTicker(config.HourlyBackupInterval)
	daily := time.NewTicker(config.DailySweepInterval)
	weekly := time.NewTicker(config.WeeklySweepInterval)
	defer hourly.Stop()
	defer daily.Stop()
	defer weekly.Stop()

	// runWithRetry runs one backup with exponential backoff between
	// attempts. Sweeps are not retried: they are idempotent and rerun on
	// the next tick anyway.
	runWithRetry := func(backupType string) {
		const maxRetries = 3
		baseDelay := 30 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1))
				log.Printf("Retrying %s backup in %v (attempt %d/%d)...", backupType, delay, attempt+1, maxRetries+1)
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), config.BackupTimeout)
			start := time.Now()
			_, err := mgr.CreateBackup(ctx, backupType)
			cancel()

			if err == nil {
				mon.RecordSuccess()
				log.Printf("%s backup completed in %v", backupType, time.Since(start).Round(time.Millisecond))
				return
			}

			mon.RecordFailure(err)
			log.Printf("%s backup failed (attempt %d/%d): %v", backupType, attempt+1, maxRetries+1, err)

			if status := mon.Status(); status.ConsecutiveErrors > 3 {
				log.Printf("ALERT: backups have been failing! Consecutive errors: %d", status.ConsecutiveErrors)
			}
		}

		log.Printf("%s backup failed after %d attempts, will retry on next schedule", backupType, maxRetries+1)
	}

	runDailySweeps := func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.ArchiveExportTimeout)
		defer cancel()

		if _, err := mgr.CompressOldBackups(ctx); err != nil {
			log.Printf("Compression sweep failed: %v", err)
		}
		if _, err := mgr.CleanupOldBackups(ctx); err != nil {
			log.Printf("Cleanup sweep failed: %v", err)
		}
	}

	runArchiveExport := func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.ArchiveExportTimeout)
		defer cancel()

		if _, err := mgr.ExportOldData(ctx, config.ArchiveAfterDays); err != nil {
			log.Printf("Archive export failed: %v", err)
		}
	}

	// Startup backup, non-blocking. Tracked by the WaitGroup so shutdown
	// waits out a retry sleep instead of abandoning the goroutine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("Running startup backup...")
		runWithRetry(backup.TypeStartup)
	}()

	for {
		select {
		case <-hourly.C:
			runWithRetry(backup.TypeHourly)
		case <-daily.C:
			runWithRetry(backup.TypeDaily)
			runDailySweeps()
		case <-weekly.C:
			runWithRetry(backup.TypeWeekly)
			runArchiveExport()
		case <-stop:
			log.Println("Stopping backup scheduler")
			return
		}
	}
}

// BroadcastBoard periodically pushes the current arrival/departure boards
// to WebSocket clients. Uses exponential backoff on errors to prevent log
// spam during outages.
func BroadcastBoard(ctx context.Context, store storage.Store, hub *FlightHub) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Skip querying if no clients connected.
			if !hub.HasClients() {
				continue
			}

			board := make(map[string]any, 4)
			var queryErr error
			for _, category := range flight.Categories() {
				records, err := store.Query(ctx, category, config.QueryDefaultDays)
				if err != nil {
					queryErr = err
					break
				}
				board[string(category)] = records
			}

			if queryErr != nil {
				consecutiveErrors++
				now := time.Now()

				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.Printf("Failed to query board for broadcast (error #%d, backoff %v): %v",
						consecutiveErrors, backoff, queryErr)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Printf("Board broadcast recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}

			board["type"] = "board_update"
			board["timestamp"] = time.Now().Unix()
			if err := hub.Broadcast(board); err != nil {
				log.Printf("Failed to broadcast board: %v", err)
			}
		}
	}
}

// RunBadgerGC runs BadgerDB value-log garbage collection periodically.
// The LSM tree accumulates deleted data in the value log; without GC the
// purge sweeps never reclaim disk.
func RunBadgerGC(store storage.Store, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	badgerStore, ok := store.(*badgerstore.Store)
	if !ok {
		log.Println("Store is not BadgerDB, skipping GC")
		return
	}

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			log.Println("Running BadgerDB garbage collection...")
			start := time.Now()

			// One iteration per tick; 0.5 discard ratio.
			if err := badgerStore.RunGC(0.5); err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
