package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/stockd/pkg/store"
	storetesting "github.com/marmos91/stockd/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	paths := map[store.Store]string{}

	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			path := filepath.Join(t.TempDir(), "stockd.db")
			s, err := New(context.Background(), Config{Path: path})
			require.NoError(t, err)
			paths[s] = path
			return s
		},
		Reopen: func(t *testing.T, s store.Store) store.Store {
			require.NoError(t, s.Close())
			reopened, err := New(context.Background(), Config{Path: paths[s]})
			require.NoError(t, err)
			return reopened
		},
	}

	suite.Run(t)
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockd.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM records`))
	assert.Zero(t, count)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
