package server

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/awest/flightwatch/pkg/backup"
	"github.com/awest/flightwatch/pkg/cache"
	"github.com/awest/flightwatch/pkg/config"
	"github.com/awest/flightwatch/pkg/server/monitor"
	"github.com/awest/flightwatch/pkg/storage"
	badgerstore "github.com/awest/flightwatch/pkg/storage/badger"
)

// Config holds server configuration.
type Config struct {
	DataDir     string
	BackupDir   string
	RedisAddr   string
	Port        string
	MaxMemoryMB int64
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() Config {
	dataDir := getEnv("FLIGHTWATCH_DATA_DIR", "./data/flightwatch")
	backupDir := getEnv("FLIGHTWATCH_BACKUP_DIR", "./backups")
	redisAddr := os.Getenv("FLIGHTWATCH_REDIS_ADDR")
	maxMemoryMB := getEnvInt64("FLIGHTWATCH_MAX_MEMORY_MB", config.DefaultMaxMemoryMB)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	return Config{
		DataDir:     dataDir,
		BackupDir:   backupDir,
		RedisAddr:   redisAddr,
		Port:        getPort(),
		MaxMemoryMB: maxMemoryMB,
	}
}

// InitializeStorage opens the BadgerDB flight store.
func InitializeStorage(cfg Config) (storage.Store, error) {
	log.Println("Initializing BadgerDB flight store with Snappy compression...")
	store, err := badgerstore.New(badgerstore.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB flight store initialized successfully")
	return store, nil
}

// InitializeCache builds the cache chain. A missing or unreachable Redis
// only disables the remote tier.
func InitializeCache(cfg Config) cache.Cache {
	tiered := cache.Connect(cfg.RedisAddr)
	log.Printf("Cache tier ready (backend: %s)", tiered.Stats(context.Background()).Backend)
	return tiered
}

// InitializeBackups creates the backup manager and its health monitor.
func InitializeBackups(store storage.Store, cfg Config) (*backup.Manager, *monitor.SweepMonitor, error) {
	manager, err := backup.New(store, backup.DefaultConfig(cfg.BackupDir))
	if err != nil {
		return nil, nil, err
	}
	// Hourly cadence plus headroom before the health check trips.
	backupMonitor := monitor.NewSweepMonitor("backup", 2*time.Hour)
	log.Printf("Backup manager ready (hourly/daily/weekly sweeps)")
	return manager, backupMonitor, nil
}

// getEnv gets a string from an environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from an environment variable or returns the default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getPort gets the server port from the PORT environment variable.
func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return config.DefaultPort
}
