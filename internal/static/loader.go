// Package static bulk-loads a static GTFS dataset into one text table per file.
package static

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subway-rt/poller/internal/db"
)

// Store creates and fills the per-file tables
type Store interface {
	CreateTextTable(ctx context.Context, table string, columns []string) error
	CopyTable(ctx context.Context, table string, columns []string, src db.RowSource) (int64, error)
}

// FileResult is the outcome of loading one file
type FileResult struct {
	File     string
	Table    string
	Rows     int64
	Duration time.Duration
	Err      error
}

// Loader copies GTFS text files into the store
type Loader struct {
	store  Store
	logger *zap.Logger
}

// NewLoader creates a loader
func NewLoader(store Store, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, logger: logger}
}

// Load reads a dataset from a directory or a .zip archive. A failing file is
// logged and reported in its FileResult; the remaining files still load.
func (l *Loader) Load(ctx context.Context, path string) ([]FileResult, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return l.LoadZip(ctx, path)
	}
	return l.LoadDir(ctx, path)
}

// LoadDir loads every *.txt file in dir, in name order
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]FileResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read GTFS directory: %w", err)
	}

	var results []FileResult
	for _, entry := range entries {
		if entry.IsDir() || !isDataFile(entry.Name()) {
			continue
		}

		result := l.loadPath(ctx, filepath.Join(dir, entry.Name()))
		results = append(results, result)
	}
	return results, nil
}

// LoadZip loads every *.txt member at the root of a GTFS zip archive
func (l *Loader) LoadZip(ctx context.Context, zipPath string) ([]FileResult, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	files := make([]*zip.File, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.Contains(f.Name, "/") || !isDataFile(f.Name) {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var results []FileResult
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			results = append(results, l.failed(f.Name, tableName(f.Name), 0, fmt.Errorf("failed to open %s: %w", f.Name, err)))
			continue
		}
		results = append(results, l.LoadFile(ctx, f.Name, rc))
		rc.Close()
	}
	return results, nil
}

func (l *Loader) loadPath(ctx context.Context, path string) FileResult {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return l.failed(name, tableName(name), 0, err)
	}
	defer f.Close()
	return l.LoadFile(ctx, name, f)
}

// LoadFile creates the file's table and copies its rows in
func (l *Loader) LoadFile(ctx context.Context, name string, r io.Reader) FileResult {
	start := time.Now()
	table := tableName(name)

	src, err := newCSVSource(r)
	if err != nil {
		return l.failed(name, table, time.Since(start), err)
	}

	if err := l.store.CreateTextTable(ctx, table, src.columns); err != nil {
		return l.failed(name, table, time.Since(start), err)
	}

	rows, err := l.store.CopyTable(ctx, table, src.columns, src)
	if err != nil {
		return l.failed(name, table, time.Since(start), err)
	}

	result := FileResult{File: name, Table: table, Rows: rows, Duration: time.Since(start)}
	l.logger.Info("loaded static file",
		zap.String("file", name),
		zap.String("table", table),
		zap.Int64("rows", rows),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (l *Loader) failed(name, table string, d time.Duration, err error) FileResult {
	l.logger.Error("failed to load static file",
		zap.String("file", name),
		zap.String("table", table),
		zap.Error(err),
	)
	return FileResult{File: name, Table: table, Duration: d, Err: err}
}

func isDataFile(name string) bool {
	return strings.HasSuffix(name, ".txt")
}

func tableName(file string) string {
	return strings.TrimSuffix(filepath.Base(file), ".txt")
}

// csvSource streams CSV records as copy rows. Empty cells become NULL.
type csvSource struct {
	reader  *csv.Reader
	columns []string
	values  []any
	err     error
}

func newCSVSource(r io.Reader) (*csvSource, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		columns[i] = h
	}

	return &csvSource{reader: reader, columns: columns}, nil
}

func (s *csvSource) Next() bool {
	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		s.err = err
		return false
	}

	s.values = make([]any, len(record))
	for i, v := range record {
		if v != "" {
			s.values[i] = v
		}
	}
	return true
}

func (s *csvSource) Values() ([]any, error) {
	return s.values, nil
}

func (s *csvSource) Err() error {
	return s.err
}
