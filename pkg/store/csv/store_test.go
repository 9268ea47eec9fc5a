package csv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/stockd/pkg/store"
	storetesting "github.com/marmos91/stockd/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVStore(t *testing.T) {
	dirs := map[store.Store]string{}

	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Store {
			dir := t.TempDir()
			s, err := New(context.Background(), Config{Dir: dir})
			require.NoError(t, err)
			dirs[s] = dir
			return s
		},
		Reopen: func(t *testing.T, s store.Store) store.Store {
			require.NoError(t, s.Close())
			reopened, err := New(context.Background(), Config{Dir: dirs[s]})
			require.NoError(t, err)
			return reopened
		},
	}

	suite.Run(t)
}

// Files written by the previous implementation are plain comma-joined lines.
func TestReadsPlainLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "market.csv"),
		[]byte("AAPL,Apple Inc.,150.0\nMSFT,Microsoft Corporation,300.5\n\n"), 0o644))

	s, err := New(context.Background(), Config{Dir: dir})
	require.NoError(t, err)

	rows, err := s.Read(context.Background(), store.DomainMarket)
	require.NoError(t, err)
	assert.Equal(t, []store.Row{
		{"AAPL", "Apple Inc.", "150.0"},
		{"MSFT", "Microsoft Corporation", "300.5"},
	}, rows)
}

func TestMalformedFileIsStoreIO(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.csv"), []byte("\"unterminated,pw\n"), 0o644))

	s, err := New(context.Background(), Config{Dir: dir})
	require.NoError(t, err)

	_, err = s.Read(context.Background(), store.DomainUsers)
	assert.ErrorIs(t, err, store.ErrStoreIO)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
