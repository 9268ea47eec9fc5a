package memory

import (
	"context"
	"sync"

	"github.com/marmos91/stockd/pkg/store"
)

// backend keeps every domain in a map. The map itself is shared across
// domains, so it has its own short-held mutex on top of the per-domain locks
// provided by store.LockedStore.
type backend struct {
	mu   sync.RWMutex
	data map[store.Domain][]store.Row
}

// New returns an empty in-memory Record Store. Contents are lost on Close.
func New() *store.LockedStore {
	return store.NewLocked(&backend{data: make(map[store.Domain][]store.Row)})
}

// NewWithRows returns a store pre-filled with seed rows per domain.
func NewWithRows(seed map[store.Domain][]store.Row) *store.LockedStore {
	b := &backend{data: make(map[store.Domain][]store.Row, len(seed))}
	for d, rows := range seed {
		b.data[d] = store.CloneRows(rows)
	}
	return store.NewLocked(b)
}

func (b *backend) Load(_ context.Context, d store.Domain) ([]store.Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data[d], nil
}

func (b *backend) Save(_ context.Context, d store.Domain, rows []store.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[d] = rows
	return nil
}

func (b *backend) AppendRow(_ context.Context, d store.Domain, row store.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[d] = append(b.data[d], row)
	return nil
}

func (b *backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make(map[store.Domain][]store.Row)
	return nil
}
