// Package badger stores domains in an embedded BadgerDB.
//
// Each row is its own key, so Append is a single small write. Save replaces a
// domain inside one transaction, which gives crash atomicity the CSV backend
// lacks.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/stockd/pkg/store"
)

// Config configures the Badger backend.
type Config struct {
	// DBPath is the directory BadgerDB keeps its files in.
	DBPath string `mapstructure:"db_path" validate:"required_without=InMemory"`

	// InMemory runs Badger without touching disk. Mostly for tests.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is Badger's block cache size (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
}

type backend struct {
	db *badger.DB
}

// New opens (or creates) the database described by cfg.
func New(ctx context.Context, cfg Config) (*store.LockedStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, errors.New("badger store: db_path is required")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}

	// Rows are tiny strings; compression buys nothing.
	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return store.NewLocked(&backend{db: db}), nil
}

func (b *backend) Load(_ context.Context, d store.Domain) ([]store.Row, error) {
	var rows []store.Row

	err := b.db.View(func(txn *badger.Txn) error {
		prefix := keyRowPrefix(d)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var row store.Row
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

func (b *backend) Save(_ context.Context, d store.Domain, rows []store.Row) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, keyRowPrefix(d)); err != nil {
			return err
		}

		for i, row := range rows {
			val, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := txn.Set(keyRow(d, uint64(i)), val); err != nil {
				return err
			}
		}
		return txn.Set(keyNext(d), encodeSeq(uint64(len(rows))))
	})
}

func (b *backend) AppendRow(_ context.Context, d store.Domain, row store.Row) error {
	val, err := json.Marshal(row)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, d)
		if err != nil {
			return err
		}
		if err := txn.Set(keyRow(d, seq), val); err != nil {
			return err
		}
		return txn.Set(keyNext(d), encodeSeq(seq+1))
	})
}

func (b *backend) Close() error {
	return b.db.Close()
}

func nextSeq(txn *badger.Txn, d store.Domain) (uint64, error) {
	item, err := txn.Get(keyNext(d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var seq uint64
	err = item.Value(func(val []byte) error {
		seq, err = decodeSeq(val)
		return err
	})
	return seq, err
}

// deletePrefix collects keys first; deleting while iterating is not allowed.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
