// Package store is a versioned key/value file store. Each file is a JSON
// object mapping keys to values, optionally gzip-compressed. Before a write
// replaces an existing file, the previous content is copied to a _backup
// sibling. The store has no knowledge of what it persists.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
)

// BackupSuffix is inserted before the file extension of backup siblings.
const BackupSuffix = "_backup"

// Config configures a Store.
type Config struct {
	// Dir holds all data files. Created if missing.
	Dir string
	// Backups enables backup-before-overwrite.
	Backups bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Store reads and writes key/value files under one directory.
// Writes are serialized; the store assumes a single writing process.
type Store struct {
	dir     string
	backups bool
	logger  *slog.Logger
	tracer  trace.Tracer
	mu      sync.Mutex
}

// SaveOption tweaks a single Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	compress bool
}

// WithCompression gzips the file written by this call.
func WithCompression(on bool) SaveOption {
	return func(o *saveOptions) { o.compress = on }
}

// New creates a store rooted at cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.NewInvalidRequest("store dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, errors.NewIOFailure("mkdir", cfg.Dir, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Store{
		dir:     cfg.Dir,
		backups: cfg.Backups,
		logger:  logger.With(slog.String("component", "store")),
		tracer:  tp.Tracer("vertias/store"),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path of file.
func (s *Store) Path(file string) string {
	return filepath.Join(s.dir, file)
}

// BackupName returns the backup sibling name for file:
// "equipment.json" -> "equipment_backup.json".
func BackupName(file string) string {
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + BackupSuffix + ext
}

// Save stores value under key in file, preserving the file's other keys.
func (s *Store) Save(ctx context.Context, key string, value any, file string, opts ...SaveOption) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("marshal %s: %w", key, err))
	}
	return s.update(ctx, "save", file, opts, func(entries map[string]json.RawMessage) bool {
		entries[key] = raw
		return true
	})
}

// SaveEntries stores every entry in one write, preserving the file's other keys.
func (s *Store) SaveEntries(ctx context.Context, entries map[string]json.RawMessage, file string, opts ...SaveOption) error {
	return s.update(ctx, "save_entries", file, opts, func(current map[string]json.RawMessage) bool {
		if len(entries) == 0 {
			return false
		}
		for k, v := range entries {
			current[k] = v
		}
		return true
	})
}

// SaveAll replaces the whole content of file with entries.
func (s *Store) SaveAll(ctx context.Context, entries map[string]json.RawMessage, file string, opts ...SaveOption) error {
	return s.update(ctx, "save_all", file, opts, func(current map[string]json.RawMessage) bool {
		for k := range current {
			delete(current, k)
		}
		for k, v := range entries {
			current[k] = v
		}
		return true
	})
}

// DeleteKey removes key from file. Missing keys are not an error.
func (s *Store) DeleteKey(ctx context.Context, key, file string) error {
	return s.update(ctx, "delete_key", file, nil, func(entries map[string]json.RawMessage) bool {
		if _, ok := entries[key]; !ok {
			return false
		}
		delete(entries, key)
		return true
	})
}

// Read returns the raw value stored under key in file.
func (s *Store) Read(ctx context.Context, key, file string) (json.RawMessage, error) {
	return s.read(ctx, "load", key, s.Path(file))
}

// ReadBackup returns the raw value stored under key in file's backup sibling.
func (s *Store) ReadBackup(ctx context.Context, key, file string) (json.RawMessage, error) {
	return s.read(ctx, "load_backup", key, s.Path(BackupName(file)))
}

// Exists reports whether key is present in file. Unreadable files count as absent.
func (s *Store) Exists(key, file string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := readEntries(s.Path(file))
	if err != nil {
		return false
	}
	_, ok := entries[key]
	return ok
}

// FileExists reports whether file is present on disk.
func (s *Store) FileExists(file string) bool {
	_, err := os.Stat(s.Path(file))
	return err == nil
}

// HasBackup reports whether file has a backup sibling.
func (s *Store) HasBackup(file string) bool {
	return s.FileExists(BackupName(file))
}

// Keys lists the keys in file, sorted. A missing file has no keys.
func (s *Store) Keys(file string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := readEntries(s.Path(file))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes file. A missing file is not an error.
func (s *Store) Delete(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(file)
}

// Purge removes file and its backup sibling.
func (s *Store) Purge(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.remove(file); err != nil {
		return err
	}
	return s.remove(BackupName(file))
}

func (s *Store) remove(file string) error {
	path := s.Path(file)
	if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		metrics.StoreOperations.WithLabelValues("delete", file, "error").Inc()
		return errors.NewIOFailure("delete", path, err)
	}
	metrics.StoreOperations.WithLabelValues("delete", file, "ok").Inc()
	return nil
}

// update applies mutate to file's entries and writes the result when mutate
// reports a change.
func (s *Store) update(ctx context.Context, op, file string, opts []SaveOption, mutate func(map[string]json.RawMessage) bool) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(attribute.String("file", file)))
	defer span.End()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
		}
		metrics.StoreOperations.WithLabelValues(op, file, status).Inc()
		metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return errors.NewIOFailure(op, file, err)
	}

	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(file)
	entries, readErr := readEntries(path)
	existing := readErr == nil
	if readErr != nil {
		if !errors.Is(readErr, errors.ErrNotFound) {
			s.logger.Warn("existing file unreadable, rewriting from scratch",
				slog.String("file", file),
				slog.String("error", readErr.Error()),
			)
		}
		entries = make(map[string]json.RawMessage)
	}

	if !mutate(entries) {
		return nil
	}

	if existing && s.backups {
		if err := copyFile(path, s.Path(BackupName(file))); err != nil {
			// Best-effort: a failed backup never blocks the save
			s.logger.Warn("backup before overwrite failed",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
		}
	}

	data, err := encodeEntries(entries, o.compress)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := WriteAtomic(path, data); err != nil {
		s.logger.Error("write failed", slog.String("file", file), slog.String("error", err.Error()))
		return errors.NewIOFailure("write", path, err)
	}

	span.SetAttributes(attribute.Int("bytes", len(data)), attribute.Bool("compressed", o.compress))
	s.logger.Debug("file written",
		slog.String("file", file),
		slog.Int("keys", len(entries)),
		slog.Int("bytes", len(data)),
		slog.Bool("compressed", o.compress),
	)
	return nil
}

func (s *Store) read(ctx context.Context, op, key, path string) (raw json.RawMessage, err error) {
	start := time.Now()
	file := filepath.Base(path)
	_, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("file", file),
		attribute.String("key", key),
	))
	defer span.End()
	defer func() {
		status := "ok"
		if err != nil {
			status = string(errors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
		}
		metrics.StoreOperations.WithLabelValues(op, file, status).Inc()
		metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	entries, err := readEntries(path)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	raw, ok := entries[key]
	if !ok {
		return nil, errors.NewNotFound(key)
	}
	return raw, nil
}

// readEntries loads and decodes a data file, transparently gunzipping.
func readEntries(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.NewNotFound(filepath.Base(path))
		}
		return nil, errors.NewIOFailure("read", path, err)
	}

	if isGzip(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.NewValidation(fmt.Sprintf("%s: bad gzip header: %v", filepath.Base(path), err))
		}
		data, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, errors.NewValidation(fmt.Sprintf("%s: truncated gzip stream: %v", filepath.Base(path), err))
		}
	}

	entries := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.NewValidation(fmt.Sprintf("%s: invalid JSON: %v", filepath.Base(path), err))
	}
	return entries, nil
}

func encodeEntries(entries map[string]json.RawMessage, compress bool) ([]byte, error) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	if !compress {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// copyFile copies src over dst atomically. Only files that still decode
// are copied so a corrupt primary never replaces a good backup.
func copyFile(src, dst string) error {
	if _, err := readEntries(src); err != nil {
		return fmt.Errorf("skip backup of unreadable file: %w", err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return WriteAtomic(dst, data)
}
