package testing

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/marmos91/stockd/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunUpdateTests(test *testing.T) {
	test.Run("Update_Persists", suite.TestUpdatePersists)
	test.Run("Update_ErrorLeavesDomain", suite.TestUpdateErrorLeavesDomain)
	test.Run("Update_ContextCancelled", suite.TestUpdateContextCancelled)
}

func (suite *StoreTestSuite) RunConcurrencyTests(test *testing.T) {
	test.Run("Update_NoLostUpdates", suite.TestUpdateNoLostUpdates)
	test.Run("Append_Concurrent", suite.TestAppendConcurrent)
}

func (suite *StoreTestSuite) TestUpdatePersists(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()

	require.NoError(test, s.Write(ctx, store.DomainHoldings, []store.Row{{"alice", "AAPL", "5"}}))

	err := s.Update(ctx, store.DomainHoldings, func(rows []store.Row) ([]store.Row, error) {
		rows[0][2] = "8"
		return append(rows, store.Row{"alice", "MSFT", "1"}), nil
	})
	require.NoError(test, err)

	rows, err := s.Read(ctx, store.DomainHoldings)
	require.NoError(test, err)
	assert.Equal(test, []store.Row{{"alice", "AAPL", "8"}, {"alice", "MSFT", "1"}}, rows)
}

func (suite *StoreTestSuite) TestUpdateErrorLeavesDomain(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()
	sentinel := errors.New("insufficient")

	require.NoError(test, s.Write(ctx, store.DomainHoldings, []store.Row{{"alice", "AAPL", "5"}}))

	err := s.Update(ctx, store.DomainHoldings, func(rows []store.Row) ([]store.Row, error) {
		rows[0][2] = "0"
		return nil, sentinel
	})
	assert.ErrorIs(test, err, sentinel)
	assert.NotErrorIs(test, err, store.ErrStoreIO)

	rows, err := s.Read(ctx, store.DomainHoldings)
	require.NoError(test, err)
	assert.Equal(test, []store.Row{{"alice", "AAPL", "5"}}, rows)
}

func (suite *StoreTestSuite) TestUpdateContextCancelled(test *testing.T) {
	s := suite.open(test)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Update(ctx, store.DomainHoldings, func(rows []store.Row) ([]store.Row, error) {
		called = true
		return rows, nil
	})
	assert.ErrorIs(test, err, context.Canceled)
	assert.False(test, called)
}

// TestUpdateNoLostUpdates increments one counter row from many goroutines.
// Any interleaving of two read-modify-write cycles would lose an increment.
func (suite *StoreTestSuite) TestUpdateNoLostUpdates(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()
	const workers = 20

	require.NoError(test, s.Write(ctx, store.DomainHoldings, []store.Row{{"alice", "AAPL", "0"}}))

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(ctx, store.DomainHoldings, func(rows []store.Row) ([]store.Row, error) {
				n, err := strconv.Atoi(rows[0][2])
				if err != nil {
					return nil, err
				}
				rows[0][2] = strconv.Itoa(n + 1)
				return rows, nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(test, err)
	}

	rows, err := s.Read(ctx, store.DomainHoldings)
	require.NoError(test, err)
	assert.Equal(test, strconv.Itoa(workers), rows[0][2])
}

func (suite *StoreTestSuite) TestAppendConcurrent(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(test, s.Append(ctx, store.DomainTransactions, store.Row{"u" + strconv.Itoa(i), "BUY", "AAPL", "1", "1.00"}))
		}(i)
	}
	wg.Wait()

	rows, err := s.Read(ctx, store.DomainTransactions)
	require.NoError(test, err)
	assert.Len(test, rows, writers)
}
