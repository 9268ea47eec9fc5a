package store

import (
	"context"
	"fmt"
	"sync"
)

// Backend is the raw persistence a LockedStore serializes. Implementations
// need not coordinate calls on the same domain; LockedStore never issues two
// concurrent calls for one domain. Calls on different domains may overlap.
type Backend interface {
	Load(ctx context.Context, d Domain) ([]Row, error)
	Save(ctx context.Context, d Domain, rows []Row) error
	AppendRow(ctx context.Context, d Domain, row Row) error
	Close() error
}

// LockedStore turns a Backend into a Store by giving each domain its own mutex.
type LockedStore struct {
	backend Backend
	locks   map[Domain]*sync.Mutex
}

// NewLocked wraps b. The lock map is fixed at construction so lookups need no
// further synchronization.
func NewLocked(b Backend) *LockedStore {
	locks := make(map[Domain]*sync.Mutex, len(Domains))
	for _, d := range Domains {
		locks[d] = &sync.Mutex{}
	}
	return &LockedStore{backend: b, locks: locks}
}

func (s *LockedStore) lock(d Domain) (func(), error) {
	mu, ok := s.locks[d]
	if !ok {
		return nil, CheckDomain(d)
	}
	mu.Lock()
	return mu.Unlock, nil
}

func (s *LockedStore) Read(ctx context.Context, d Domain) ([]Row, error) {
	unlock, err := s.lock(d)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.backend.Load(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", d, ErrStoreIO, err)
	}
	return CloneRows(rows), nil
}

func (s *LockedStore) Append(ctx context.Context, d Domain, row Row) error {
	unlock, err := s.lock(d)
	if err != nil {
		return err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.backend.AppendRow(ctx, d, row.Clone()); err != nil {
		return fmt.Errorf("append %s: %w: %w", d, ErrStoreIO, err)
	}
	return nil
}

func (s *LockedStore) Write(ctx context.Context, d Domain, rows []Row) error {
	unlock, err := s.lock(d)
	if err != nil {
		return err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.backend.Save(ctx, d, CloneRows(rows)); err != nil {
		return fmt.Errorf("write %s: %w: %w", d, ErrStoreIO, err)
	}
	return nil
}

func (s *LockedStore) Update(ctx context.Context, d Domain, fn UpdateFunc) error {
	unlock, err := s.lock(d)
	if err != nil {
		return err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	rows, err := s.backend.Load(ctx, d)
	if err != nil {
		return fmt.Errorf("update %s: %w: %w", d, ErrStoreIO, err)
	}

	next, err := fn(CloneRows(rows))
	if err != nil {
		return err
	}

	if err := s.backend.Save(ctx, d, CloneRows(next)); err != nil {
		return fmt.Errorf("update %s: %w: %w", d, ErrStoreIO, err)
	}
	return nil
}

func (s *LockedStore) Close() error {
	return s.backend.Close()
}
