// Package store defines the Record Store: named domains of ordered rows,
// each guarded by a lock the store owns.
//
// Callers never see a lock. Every call is atomic with respect to other calls
// on the same domain, and Update extends that to a whole read-modify-write
// so two concurrent handlers can never lose each other's changes.
//
// No operation ever holds two domain locks at once. A handler needing two
// domains performs two calls, and there is no atomicity across them.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Domain names one record set.
type Domain string

const (
	// DomainUsers rows: username, password
	DomainUsers Domain = "users"
	// DomainMarket rows: ticker, name, price
	DomainMarket Domain = "market"
	// DomainHoldings rows: username, ticker, quantity
	DomainHoldings Domain = "holdings"
	// DomainTransactions rows: username, type, ticker, quantity, price
	DomainTransactions Domain = "transactions"
)

// Domains lists every known domain in a stable order.
var Domains = []Domain{DomainUsers, DomainMarket, DomainHoldings, DomainTransactions}

var (
	// ErrUnknownDomain is returned for a domain outside Domains.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrStoreIO wraps any failure of the underlying persistence.
	ErrStoreIO = errors.New("store i/o failure")
)

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

func (d Domain) String() string { return string(d) }

// CheckDomain returns ErrUnknownDomain wrapped with the offending name.
func CheckDomain(d Domain) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, string(d))
	}
	return nil
}

// Row is an ordered sequence of fields.
type Row []string

// Clone returns a copy that shares no memory with r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// CloneRows deep-copies a row slice.
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// UpdateFunc receives the current rows of a domain and returns the rows to
// persist. Returning an error aborts the update and leaves the domain as it was.
type UpdateFunc func(rows []Row) ([]Row, error)

// Store is the Record Store consumed by handlers.
//
// Rows returned by Read are copies; mutating them has no effect on the store.
type Store interface {
	// Read returns every row of the domain in order.
	Read(ctx context.Context, d Domain) ([]Row, error)

	// Append adds a row at the end of the domain.
	Append(ctx context.Context, d Domain, row Row) error

	// Write replaces the whole domain.
	Write(ctx context.Context, d Domain, rows []Row) error

	// Update runs fn under the domain lock and persists what it returns.
	Update(ctx context.Context, d Domain, fn UpdateFunc) error

	// Close releases backend resources.
	Close() error
}
