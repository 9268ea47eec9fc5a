// Package testing holds the contract tests every Record Store backend must pass.
package testing

import (
	"testing"

	"github.com/marmos91/stockd/pkg/store"
)

// StoreTestSuite exercises the store.Store contract. It knows nothing about
// the backend, so each backend package runs it with its own factory.
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for every test. The suite closes it.
	NewStore func(t *testing.T) store.Store

	// Reopen, when set, closes s and opens a new store over the same persisted
	// data. Backends without persistence leave it nil.
	Reopen func(t *testing.T, s store.Store) store.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	test.Run("Basic", suite.RunBasicTests)
	test.Run("Update", suite.RunUpdateTests)
	test.Run("Concurrency", suite.RunConcurrencyTests)
	if suite.Reopen != nil {
		test.Run("Persistence", suite.TestPersistence)
	}
}

func (suite *StoreTestSuite) open(t *testing.T) store.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
