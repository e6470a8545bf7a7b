package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"labbooking/internal/config"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	snapshotPrefix  = "backup_"
	snapshotRecords = "records"
	snapshotDB      = "audit.db"
)

// BackupService snapshots the record directory and the audit journal into
// StoragePath/backup_<timestamp>/ and prunes snapshots past retention.
type BackupService struct {
	recordDir string
	dbPath    string
	config    config.BackupConfig
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewBackupService(recordDir, dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BackupService{
		recordDir: recordDir,
		dbPath:    dbPath,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	s.logger.Info().Str("schedule", s.config.Schedule).Msg("Backup service started")

	interval := 24 * time.Hour
	if s.config.Schedule != "" {
		if d, err := time.ParseDuration(s.config.Schedule); err == nil && d > 0 {
			interval = d
		} else {
			s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("Failed to parse backup schedule, using default 24h")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PerformBackup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup writes one snapshot and returns its directory.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := snapshotPrefix + s.now().Format("20060102_150405.000")
	snapshot := filepath.Join(s.config.StoragePath, name)
	if err := os.Mkdir(snapshot, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	copied, err := s.copyRecords(ctx, filepath.Join(snapshot, snapshotRecords))
	if err != nil {
		return "", err
	}

	if s.dbPath != "" && s.dbPath != ":memory:" {
		if err := s.backupDB(filepath.Join(snapshot, snapshotDB)); err != nil {
			return "", err
		}
	}

	s.logger.Info().Str("path", snapshot).Int("records", copied).Msg("Backup completed successfully")
	return snapshot, nil
}

func (s *BackupService) copyRecords(ctx context.Context, dst string) (int, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(s.recordDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read record directory: %w", err)
	}

	copied := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		err := copyFile(filepath.Join(s.recordDir, entry.Name()), filepath.Join(dst, entry.Name()))
		if os.IsNotExist(err) {
			// deleted while we were copying
			continue
		}
		if err != nil {
			return copied, fmt.Errorf("failed to copy %s: %w", entry.Name(), err)
		}
		copied++
	}
	return copied, nil
}

func (s *BackupService) backupDB(backupPath string) error {
	s.logger.Debug().Str("path", backupPath).Msg("Backing up audit database using VACUUM INTO")

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, falling back to file copy")
		// io.Copy is not atomic for SQLite; concurrent writes may corrupt the copy
		return copyFile(s.dbPath, backupPath)
	}
	return nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return err
	}
	return destination.Close()
}

// CleanupOldBackups removes snapshots older than RetentionDays.
func (s *BackupService) CleanupOldBackups() {
	if s.config.RetentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)

	for _, file := range files {
		if !strings.HasPrefix(file.Name(), snapshotPrefix) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old backup")
			if err := os.RemoveAll(filepath.Join(s.config.StoragePath, file.Name())); err != nil {
				s.logger.Warn().Err(err).Str("file", file.Name()).Msg("Failed to delete old backup")
			}
		}
	}
}
