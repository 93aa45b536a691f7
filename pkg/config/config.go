package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultMaxMemoryMB = 48
)

// Background sweep intervals
const (
	HourlyBackupInterval = 1 * time.Hour
	DailySweepInterval   = 24 * time.Hour
	WeeklySweepInterval  = 7 * 24 * time.Hour
	BadgerGCInterval     = 10 * time.Minute
)

// Retention defaults
const (
	ArchiveAfterDays = 90
)

// Query timeouts and limits
const (
	QueryTimeout         = 30 * time.Second
	QueryDefaultDays     = 1
	QueryMaxDays         = 90
	StatsTimeout         = 5 * time.Second
	IngestTimeout        = 10 * time.Second
	IngestMaxBatch       = 1000
	BackupTimeout        = 2 * time.Minute
	ArchiveExportTimeout = 5 * time.Minute
)

// Cache TTLs. Upstream feeds refresh every 15-30s.
const (
	CacheFlightTTL     = 20 * time.Second
	CacheAggregatedTTL = 30 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
