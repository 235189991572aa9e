// Package store keeps the accumulated booking series in a CSV file bounded
// to a retention window.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"trainflow/internal/fileutil"
	"trainflow/internal/logger"
)

// Store is the file-backed series. The working file is created from the
// baseline on first use; the baseline itself is never written.
type Store struct {
	path     string
	baseline string
	maxRows  int
	log      *slog.Logger

	mu sync.Mutex
}

func New(path, baseline string, maxRows int, log *slog.Logger) *Store {
	return &Store{
		path:     path,
		baseline: baseline,
		maxRows:  maxRows,
		log:      logger.OrNop(log),
	}
}

func (s *Store) Path() string { return s.path }

// Load returns the working series, or the baseline when no working file
// exists yet. A missing baseline is an empty series.
func (s *Store) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, _, err := s.load(ctx)
	return records, err
}

// Append adds records at the end of the series and truncates it to the
// newest maxRows rows. It returns the stored length.
func (s *Store) Append(ctx context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, extra, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	combined := make([]Record, 0, len(existing)+len(records))
	combined = append(combined, existing...)
	for _, r := range records {
		combined = append(combined, r.Normalize())
	}
	combined = tail(combined, s.maxRows)

	if err := s.write(combined, extra); err != nil {
		return 0, err
	}
	return len(combined), nil
}

// Retain truncates the stored series to its newest max rows.
func (s *Store) Retain(ctx context.Context, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, extra, err := s.load(ctx)
	if err != nil {
		return err
	}
	return s.write(tail(existing, max), extra)
}

// LastDate returns the newest date in the series, or the zero time when the
// series is empty.
func (s *Store) LastDate(ctx context.Context) (time.Time, error) {
	records, err := s.Load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, r := range records {
		if r.Date.After(last) {
			last = r.Date
		}
	}
	return last, nil
}

// Remove deletes the working file. The baseline is left alone.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fileutil.RemoveIfExists(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrDataIO, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) ([]Record, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	records, extra, err := LoadFile(s.path)
	if err == nil {
		return records, extra, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}

	records, extra, err = LoadFile(s.baseline)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn("baseline series not found, starting empty", "path", s.baseline)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("seeded series from baseline", "path", s.baseline, "rows", len(records))
	return records, extra, nil
}

func (s *Store) write(records []Record, extra []string) error {
	err := fileutil.WriteFunc(s.path, 0o644, func(w io.Writer) error {
		return WriteCSV(w, records, extra)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDataIO, err)
	}
	return nil
}

// LoadFile reads a series file. A missing file yields an error matching
// os.ErrNotExist; anything else wraps ErrDataIO.
func LoadFile(path string) ([]Record, []string, error) {
	if path == "" {
		return nil, nil, os.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrDataIO, err)
	}
	defer f.Close()

	records, extra, err := ReadCSV(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, extra, nil
}

func tail(records []Record, max int) []Record {
	if max <= 0 || len(records) <= max {
		return records
	}
	return records[len(records)-max:]
}
