// Package backup manages the snapshot lifecycle of the flight store:
// timestamped artifacts, age-based compression, tiered retention and
// archive export of stale rows. The manager is schedule-agnostic; a
// scheduler invokes the sweep operations on whatever cadence it wants.
package backup

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/awest/flightwatch/pkg/flight"
	"github.com/awest/flightwatch/pkg/storage"
)

// Backup cadence tiers. Each tier has its own retention window.
const (
	TypeHourly  = "hourly"
	TypeDaily   = "daily"
	TypeWeekly  = "weekly"
	TypeMonthly = "monthly"
	TypeStartup = "startup"
	TypeManual  = "manual"
)

const timestampLayout = "20060102_150405"

// Config holds the retention policy. Retention counts follow the tier's
// natural unit: hourly is a number of backups kept (converted to
// fractional days), daily is days, weekly is weeks, monthly is months.
type Config struct {
	Dir      string
	Basename string

	HourlyRetention   int
	DailyRetention    int
	WeeklyRetention   int
	MonthlyRetention  int
	CompressAfterDays int
}

// DefaultConfig returns the tuned retention policy.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		Basename:          "flightwatch",
		HourlyRetention:   12,
		DailyRetention:    14,
		WeeklyRetention:   8,
		MonthlyRetention:  6,
		CompressAfterDays: 3,
	}
}

// Artifact describes one backup file on disk.
type Artifact struct {
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	SizeKB    float64   `json:"size_kb"`
	Timestamp time.Time `json:"timestamp"`
}

// sidecar metadata written next to each uncompressed artifact.
type metadata struct {
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	SizeKB    float64 `json:"size_kb"`
	Database  string  `json:"database"`
	Created   string  `json:"created"`
}

// Stats summarizes the backup directory for the stats endpoint.
type Stats struct {
	TotalBackups int                  `json:"total_backups"`
	TotalSizeMB  float64              `json:"total_size_mb"`
	ByType       map[string]TierStats `json:"by_type"`
	OldestBackup string               `json:"oldest_backup,omitempty"`
	NewestBackup string               `json:"newest_backup,omitempty"`
}

// TierStats is the per-tier slice of Stats.
type TierStats struct {
	Count  int     `json:"count"`
	SizeMB float64 `json:"size_mb"`
}

// Manager runs the backup lifecycle against one store.
type Manager struct {
	store storage.Store
	cfg   Config

	archiveDir string

	// now is swappable so retention math can be tested without waiting.
	now func() time.Time
}

// New creates the manager and its directories.
func New(store storage.Store, cfg Config) (*Manager, error) {
	if cfg.Basename == "" {
		cfg.Basename = "flightwatch"
	}
	archiveDir := filepath.Join(cfg.Dir, "archive")
	for _, dir := range []string{cfg.Dir, archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create backup dir %s: %w", dir, err)
		}
	}

	log.Printf("Backup manager initialized: dir=%s retention=%dh/%dd/%dw/%dm compress_after=%dd",
		cfg.Dir, cfg.HourlyRetention, cfg.DailyRetention, cfg.WeeklyRetention,
		cfg.MonthlyRetention, cfg.CompressAfterDays)

	return &Manager{
		store:      store,
		cfg:        cfg,
		archiveDir: archiveDir,
		now:        time.Now,
	}, nil
}

// CreateBackup streams a consistent snapshot of the store to a timestamped
// artifact and writes its metadata sidecar. An empty store is a skip, not
// an error: the artifact is removed and (nil, nil) returned.
func (m *Manager) CreateBackup(ctx context.Context, backupType string) (*Artifact, error) {
	now := m.now()
	timestamp := now.Format(timestampLayout)
	filename := fmt.Sprintf("%s_%s_%s.db", m.cfg.Basename, backupType, timestamp)
	path := filepath.Join(m.cfg.Dir, filename)

	log.Printf("Creating %s backup: %s", backupType, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create backup file: %w", err)
	}

	written, err := m.store.Backup(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("backup snapshot: %w", err)
	}
	if written == 0 {
		log.Printf("No data to back up, skipping %s", filename)
		os.Remove(path)
		return nil, nil
	}

	art := &Artifact{
		Path:      path,
		Type:      backupType,
		SizeKB:    float64(written) / 1024,
		Timestamp: now,
	}
	if err := m.writeSidecar(art, now); err != nil {
		// The backup itself succeeded; a missing sidecar only loses
		// bookkeeping detail.
		log.Printf("Failed to write backup metadata for %s: %v", filename, err)
	}

	log.Printf("Backup created: %s (%.2f KB)", filename, art.SizeKB)
	return art, nil
}

func (m *Manager) writeSidecar(art *Artifact, now time.Time) error {
	meta := metadata{
		Timestamp: now.Format(timestampLayout),
		Type:      art.Type,
		SizeKB:    art.SizeKB,
		Database:  filepath.Base(art.Path),
		Created:   now.Format(time.RFC3339),
	}
	buf, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sidecarPath(art.Path), buf, 0o644)
}

// CompressOldBackups gzips artifacts older than the compression threshold
// and removes the originals. Already-compressed artifacts are skipped by
// suffix. Each artifact is handled independently; a failure on one is
// logged and the sweep moves on. Interruptible between artifacts.
func (m *Manager) CompressOldBackups(ctx context.Context) (int, error) {
	cutoff := m.now().AddDate(0, 0, -m.cfg.CompressAfterDays)
	files, err := filepath.Glob(filepath.Join(m.cfg.Dir, m.cfg.Basename+"_*.db"))
	if err != nil {
		return 0, fmt.Errorf("scan backup dir: %w", err)
	}

	compressed := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return compressed, err
		}

		info, err := os.Stat(path)
		if err != nil {
			log.Printf("Skipping %s: %v", filepath.Base(path), err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		log.Printf("Compressing old backup: %s", filepath.Base(path))
		if err := gzipFile(path); err != nil {
			log.Printf("Failed to compress %s: %v", filepath.Base(path), err)
			continue
		}
		// The sidecar follows its artifact into compressed form.
		if side := sidecarPath(path); fileExists(side) {
			if err := gzipFile(side); err != nil {
				log.Printf("Failed to compress metadata %s: %v", filepath.Base(side), err)
			}
		}
		compressed++
	}

	if compressed > 0 {
		log.Printf("Compressed %d old backups", compressed)
	}
	return compressed, nil
}

// CleanupOldBackups removes artifacts older than their tier's retention
// window, plus their sidecars. Hourly retention is a backup count and is
// converted to fractional days.
func (m *Manager) CleanupOldBackups(ctx context.Context) (int, error) {
	files, err := filepath.Glob(filepath.Join(m.cfg.Dir, m.cfg.Basename+"_*.db*"))
	if err != nil {
		return 0, fmt.Errorf("scan backup dir: %w", err)
	}

	now := m.now()
	removed := 0
	tiers := []struct {
		name          string
		retentionDays float64
	}{
		{TypeHourly, float64(m.cfg.HourlyRetention) / 24},
		{TypeDaily, float64(m.cfg.DailyRetention)},
		{TypeWeekly, float64(m.cfg.WeeklyRetention) * 7},
		{TypeMonthly, float64(m.cfg.MonthlyRetention) * 30},
	}

	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		cutoff := now.Add(-time.Duration(tier.retentionDays * 24 * float64(time.Hour)))

		for _, path := range files {
			if !strings.Contains(filepath.Base(path), "_"+tier.name+"_") {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}

			log.Printf("Removing old %s backup: %s", tier.name, filepath.Base(path))
			if err := os.Remove(path); err != nil {
				log.Printf("Failed to remove %s: %v", filepath.Base(path), err)
				continue
			}
			if side := sidecarPath(path); fileExists(side) {
				os.Remove(side)
			}
			removed++
		}
	}

	if removed > 0 {
		log.Printf("Removed %d old backups per retention policy", removed)
	}
	return removed, nil
}

// ArchiveEnvelope is the content of one archive file: the rows exported
// from the store at a cutoff, write-once and read-only thereafter.
type ArchiveEnvelope struct {
	CutoffDate  string                `json:"cutoff_date"`
	ArchivedAt  string                `json:"archived_at"`
	FlightCount int                   `json:"flight_count"`
	Flights     []flight.StoredRecord `json:"flights"`
}

// ExportOldData bulk-exports rows with date buckets older than daysOld to
// a compressed archive, then purges them from the live store. Returns the
// number of rows archived.
func (m *Manager) ExportOldData(ctx context.Context, daysOld int) (int, error) {
	now := m.now()
	cutoffDate := storage.CutoffDate(now, daysOld)

	log.Printf("Archiving data older than %s", cutoffDate)

	old, err := m.store.QueryOlderThan(ctx, daysOld)
	if err != nil {
		return 0, fmt.Errorf("query old rows: %w", err)
	}
	if len(old) == 0 {
		log.Printf("No old data to archive")
		return 0, nil
	}

	envelope := ArchiveEnvelope{
		CutoffDate:  cutoffDate,
		ArchivedAt:  now.Format(time.RFC3339),
		FlightCount: len(old),
		Flights:     old,
	}

	path := filepath.Join(m.archiveDir, fmt.Sprintf("archive_%s.json.gz", cutoffDate))
	if err := writeGzipJSON(path, envelope); err != nil {
		return 0, fmt.Errorf("write archive: %w", err)
	}

	// Purge only after the archive is safely on disk.
	groups, err := m.store.PurgeOlderThan(ctx, daysOld)
	if err != nil {
		return len(old), fmt.Errorf("purge after archive: %w", err)
	}

	log.Printf("Archived %d flights to %s, purged %d date groups", len(old), filepath.Base(path), groups)
	return len(old), nil
}

// Stats scans the backup directory and summarizes it.
func (m *Manager) Stats() (*Stats, error) {
	files, err := filepath.Glob(filepath.Join(m.cfg.Dir, m.cfg.Basename+"_*.db*"))
	if err != nil {
		return nil, fmt.Errorf("scan backup dir: %w", err)
	}

	stats := &Stats{ByType: make(map[string]TierStats)}
	if len(files) == 0 {
		return stats, nil
	}

	var times []time.Time
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		stats.TotalBackups++
		sizeMB := float64(info.Size()) / (1024 * 1024)
		stats.TotalSizeMB += sizeMB

		tier := tierFromName(filepath.Base(path), m.cfg.Basename)
		ts := stats.ByType[tier]
		ts.Count++
		ts.SizeMB += sizeMB
		stats.ByType[tier] = ts

		times = append(times, info.ModTime())
	}

	if len(times) > 0 {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		stats.OldestBackup = times[0].Format(time.RFC3339)
		stats.NewestBackup = times[len(times)-1].Format(time.RFC3339)
	}
	return stats, nil
}

// tierFromName extracts the backup type from
// "{basename}_{type}_{timestamp}.db[.gz]".
func tierFromName(name, basename string) string {
	rest := strings.TrimPrefix(name, basename+"_")
	if idx := strings.IndexByte(rest, '_'); idx > 0 {
		return rest[:idx]
	}
	return "unknown"
}

// sidecarPath maps an artifact path to its metadata path, preserving the
// compression suffix.
func sidecarPath(artifactPath string) string {
	if strings.HasSuffix(artifactPath, ".db.gz") {
		return strings.TrimSuffix(artifactPath, ".db.gz") + ".json.gz"
	}
	return strings.TrimSuffix(artifactPath, ".db") + ".json"
}

// gzipFile compresses src to src.gz and removes the original, keeping the
// original's mtime so retention still sees the artifact's real age.
func gzipFile(src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dst := src + ".gz"
	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	os.Chtimes(dst, info.ModTime(), info.ModTime())
	return os.Remove(src)
}

func writeGzipJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		gz.Close()
		f.Close()
		os.Remove(path)
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
