// Package csv persists each domain as one CSV file, <dir>/<domain>.csv.
//
// Reads load the whole file and writes rewrite it, the same naive layout the
// service has always used. The per-domain lock makes each call atomic within
// the process; a crash in the middle of Save can still leave the previous
// file in place but never a half-written one, since Save renames a temp file.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/stockd/pkg/store"
)

// Config selects the directory holding the CSV files.
type Config struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

type backend struct {
	dir string
}

// New creates dir if needed and returns a CSV-backed Record Store.
func New(ctx context.Context, cfg Config) (*store.LockedStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, errors.New("csv store: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv store: create %s: %w", cfg.Dir, err)
	}
	return store.NewLocked(&backend{dir: cfg.Dir}), nil
}

func (b *backend) path(d store.Domain) string {
	return filepath.Join(b.dir, string(d)+".csv")
}

func (b *backend) Load(_ context.Context, d store.Domain) ([]store.Row, error) {
	f, err := os.Open(b.path(d))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// Decode parses CSV rows. Records may have differing field counts.
func Decode(r io.Reader) ([]store.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var rows []store.Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, store.Row(record))
	}
}

func (b *backend) Save(_ context.Context, d store.Domain, rows []store.Row) error {
	tmp, err := os.CreateTemp(b.dir, "."+string(d)+"-*.csv")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := Encode(tmp, rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, b.path(d))
}

func (b *backend) AppendRow(_ context.Context, d store.Domain, row store.Row) error {
	f, err := os.OpenFile(b.path(d), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	if err := Encode(f, []store.Row{row}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Encode writes rows as CSV records.
func Encode(w io.Writer, rows []store.Row) error {
	cw := csv.NewWriter(w)
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (b *backend) Close() error { return nil }
