// Package sqlite stores domains in a single SQLite table through sqlx, with
// the schema managed by goose migrations embedded in the binary.
package sqlite

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/marmos91/stockd/pkg/store"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Config configures the SQLite backend.
type Config struct {
	// Path is the database file. ":memory:" keeps everything in RAM.
	Path string `mapstructure:"path" validate:"required"`
}

type record struct {
	Seq    int64  `db:"seq"`
	Fields string `db:"fields"`
}

type backend struct {
	db *sqlx.DB
}

// New connects to the database at cfg.Path and applies pending migrations.
func New(ctx context.Context, cfg Config) (*store.LockedStore, error) {
	db, err := Open(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	return store.NewLocked(&backend{db: db}), nil
}

// Open returns a migrated connection pool. A single open connection keeps
// SQLite's writer lock from ever being contended inside the process.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", fmt.Sprintf("%s?_journal=WAL&_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("connecting to db : %w", err)
	}
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting dialect for migrations : %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migration : %w", err)
	}

	return db, nil
}

func (b *backend) Load(ctx context.Context, d store.Domain) ([]store.Row, error) {
	var records []record
	err := b.db.SelectContext(ctx, &records,
		`SELECT seq, fields FROM records WHERE domain = ? ORDER BY seq`, string(d))
	if err != nil {
		return nil, err
	}

	rows := make([]store.Row, 0, len(records))
	for _, rec := range records {
		var row store.Row
		if err := json.Unmarshal([]byte(rec.Fields), &row); err != nil {
			return nil, fmt.Errorf("decode %s/%d: %w", d, rec.Seq, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *backend) Save(ctx context.Context, d store.Domain, rows []store.Row) (err error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM records WHERE domain = ?`, string(d)); err != nil {
		return err
	}

	for i, row := range rows {
		var fields []byte
		if fields, err = json.Marshal(row); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO records (domain, seq, fields) VALUES (?, ?, ?)`, string(d), i, string(fields)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (b *backend) AppendRow(ctx context.Context, d store.Domain, row store.Row) error {
	fields, err := json.Marshal(row)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO records (domain, seq, fields)
		VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM records WHERE domain = ?), ?)`,
		string(d), string(d), string(fields))
	return err
}

func (b *backend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("closing sqlite store : %w", err)
	}
	return nil
}
