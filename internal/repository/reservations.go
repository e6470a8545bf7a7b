package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"labbooking/internal/config"
	"labbooking/internal/models"

	"github.com/rs/zerolog"
)

const recordExt = ".json"

// FileReservationRepository keeps one JSON file per reservation in a flat
// directory. File names encode the composite key:
//
//	<FISCALCODE>_<HEALTHCARD>_<ID>.json
type FileReservationRepository struct {
	dir     string
	logger  *zerolog.Logger
	initErr error
	once    sync.Once
}

func NewFileReservationRepository(cfg config.StorageConfig, logger *zerolog.Logger) *FileReservationRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FileReservationRepository{
		dir:    filepath.Clean(cfg.Dir),
		logger: logger,
	}
}

// ensureDir creates the record directory on first use.
func (r *FileReservationRepository) ensureDir() error {
	r.once.Do(func() {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			r.initErr = &models.StorageError{Op: "mkdir", Path: r.dir, Err: err}
		}
	})
	return r.initErr
}

func (r *FileReservationRepository) Dir() string {
	return r.dir
}

// Locate derives the backing file of a key.
func (r *FileReservationRepository) Locate(key models.Key) string {
	return filepath.Join(r.dir, filterPrefix(key.Filter())+key.ID+recordExt)
}

func filterPrefix(f models.Filter) string {
	return strings.ToUpper(f.FiscalCode) + "_" + f.HealthCard + "_"
}

// ListAll parses every record file in the directory, in directory order.
func (r *FileReservationRepository) ListAll(ctx context.Context) ([]models.StoredRecord, error) {
	return r.scan(ctx, "")
}

// List parses the records of one patient.
func (r *FileReservationRepository) List(ctx context.Context, filter models.Filter) ([]models.StoredRecord, error) {
	return r.scan(ctx, filterPrefix(filter))
}

func (r *FileReservationRepository) scan(ctx context.Context, prefix string) ([]models.StoredRecord, error) {
	if err := r.ensureDir(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, &models.StorageError{Op: "list", Path: r.dir, Err: err}
	}

	out := make([]models.StoredRecord, 0)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) || !strings.HasPrefix(name, prefix) {
			continue
		}

		path := filepath.Join(r.dir, name)
		rec, err := readRecord(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// deleted between ReadDir and open
				continue
			}
			var se *models.StorageError
			if errors.As(err, &se) && se.Op == "decode" {
				r.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable record")
				continue
			}
			return nil, err
		}
		out = append(out, models.StoredRecord{Locator: path, Record: rec})
	}
	return out, nil
}

// Read loads the record of key, or returns models.ErrNotFound.
func (r *FileReservationRepository) Read(ctx context.Context, key models.Key) (*models.StoredRecord, error) {
	if err := r.ensureDir(); err != nil {
		return nil, err
	}
	path := r.Locate(key)
	rec, err := readRecord(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
		}
		return nil, err
	}
	return &models.StoredRecord{Locator: path, Record: rec}, nil
}

func (r *FileReservationRepository) Exists(ctx context.Context, key models.Key) (bool, error) {
	if err := r.ensureDir(); err != nil {
		return false, err
	}
	path := r.Locate(key)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &models.StorageError{Op: "stat", Path: path, Err: err}
	}
}

// Write replaces the whole file of key with rec. The data goes to a temp
// file in the same directory first and is renamed into place, so readers
// never observe a partially written record.
func (r *FileReservationRepository) Write(ctx context.Context, key models.Key, rec models.Record) (string, error) {
	if err := r.ensureDir(); err != nil {
		return "", err
	}
	path := r.Locate(key)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", &models.StorageError{Op: "encode", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(r.dir, ".tmp-*")
	if err != nil {
		return "", &models.StorageError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", &models.StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", &models.StorageError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", &models.StorageError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", &models.StorageError{Op: "rename", Path: path, Err: err}
	}

	r.logger.Debug().Str("path", path).Msg("record written")
	return path, nil
}

// Delete removes the file of key and reports whether it existed.
func (r *FileReservationRepository) Delete(ctx context.Context, key models.Key) (bool, error) {
	if err := r.ensureDir(); err != nil {
		return false, err
	}
	path := r.Locate(key)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &models.StorageError{Op: "delete", Path: path, Err: err}
	}
	r.logger.Debug().Str("path", path).Msg("record deleted")
	return true, nil
}

// Ping checks that the record directory is usable.
func (r *FileReservationRepository) Ping(ctx context.Context) error {
	if err := r.ensureDir(); err != nil {
		return err
	}
	info, err := os.Stat(r.dir)
	if err != nil {
		return &models.StorageError{Op: "stat", Path: r.dir, Err: err}
	}
	if !info.IsDir() {
		return &models.StorageError{Op: "stat", Path: r.dir, Err: errors.New("not a directory")}
	}
	return nil
}

func readRecord(path string) (models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Record{}, err
		}
		return models.Record{}, &models.StorageError{Op: "read", Path: path, Err: err}
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.Record{}, &models.StorageError{Op: "decode", Path: path, Err: err}
	}
	return rec, nil
}
