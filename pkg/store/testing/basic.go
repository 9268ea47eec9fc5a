package testing

import (
	"context"
	"testing"

	"github.com/marmos91/stockd/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunBasicTests(test *testing.T) {
	test.Run("Read_Empty", suite.TestReadEmpty)
	test.Run("Append_PreservesOrder", suite.TestAppendPreservesOrder)
	test.Run("Write_Replaces", suite.TestWriteReplaces)
	test.Run("Write_Empty", suite.TestWriteEmpty)
	test.Run("Domains_Isolated", suite.TestDomainsIsolated)
	test.Run("Read_ReturnsCopies", suite.TestReadReturnsCopies)
	test.Run("UnknownDomain", suite.TestUnknownDomain)
	test.Run("Fields_WithSeparators", suite.TestFieldsWithSeparators)
}

func (suite *StoreTestSuite) TestReadEmpty(test *testing.T) {
	s := suite.open(test)

	for _, d := range store.Domains {
		rows, err := s.Read(context.Background(), d)
		require.NoError(test, err)
		assert.Empty(test, rows, "domain %s", d)
	}
}

func (suite *StoreTestSuite) TestAppendPreservesOrder(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()

	require.NoError(test, s.Append(ctx, store.DomainTransactions, store.Row{"alice", "BUY", "AAPL", "10", "150.00"}))
	require.NoError(test, s.Append(ctx, store.DomainTransactions, store.Row{"bob", "BUY", "MSFT", "1", "300.00"}))
	require.NoError(test, s.Append(ctx, store.DomainTransactions, store.Row{"alice", "SELL", "AAPL", "4", "151.00"}))

	rows, err := s.Read(ctx, store.DomainTransactions)
	require.NoError(test, err)
	require.Len(test, rows, 3)
	assert.Equal(test, store.Row{"alice", "BUY", "AAPL", "10", "150.00"}, rows[0])
	assert.Equal(test, store.Row{"bob", "BUY", "MSFT", "1", "300.00"}, rows[1])
	assert.Equal(test, store.Row{"alice", "SELL", "AAPL", "4", "151.00"}, rows[2])
}

func (suite *StoreTestSuite) TestWriteReplaces(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()

	require.NoError(test, s.Append(ctx, store.DomainMarket, store.Row{"OLD", "Old Corp", "1.00"}))
	require.NoError(test, s.Write(ctx, store.DomainMarket, []store.Row{
		{"AAPL", "Apple Inc.", "150.00"},
		{"MSFT", "Microsoft Corporation", "300.00"},
	}))

	rows, err := s.Read(ctx, store.DomainMarket)
	require.NoError(test, err)
	assert.Equal(test, []store.Row{
		{"AAPL", "Apple Inc.", "150.00"},
		{"MSFT", "Microsoft Corporation", "300.00"},
	}, rows)
}

func (suite *StoreTestSuite) TestWriteEmpty(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()

	require.NoError(test, s.Append(ctx, store.DomainHoldings, store.Row{"alice", "AAPL", "1"}))
	require.NoError(test, s.Write(ctx, store.DomainHoldings, nil))

	rows, err := s.Read(ctx, store.DomainHoldings)
	require.NoError(test, err)
	assert.Empty(test, rows)
}

func (suite *StoreTestSuite) TestDomainsIsolated(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()

	require.NoError(test, s.Append(ctx, store.DomainUsers, store.Row{"alice", "pw1"}))

	rows, err := s.Read(ctx, store.DomainHoldings)
	require.NoError(test, err)
	assert.Empty(test, rows)

	users, err := s.Read(ctx, store.DomainUsers)
	require.NoError(test, err)
	assert.Len(test, users, 1)
}

func (suite *StoreTestSuite) TestReadReturnsCopies(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()

	require.NoError(test, s.Append(ctx, store.DomainUsers, store.Row{"alice", "pw1"}))

	rows, err := s.Read(ctx, store.DomainUsers)
	require.NoError(test, err)
	rows[0][1] = "tampered"

	again, err := s.Read(ctx, store.DomainUsers)
	require.NoError(test, err)
	assert.Equal(test, "pw1", again[0][1])
}

func (suite *StoreTestSuite) TestUnknownDomain(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()

	_, err := s.Read(ctx, store.Domain("orders"))
	assert.ErrorIs(test, err, store.ErrUnknownDomain)

	err = s.Append(ctx, store.Domain("orders"), store.Row{"x"})
	assert.ErrorIs(test, err, store.ErrUnknownDomain)

	err = s.Write(ctx, store.Domain("orders"), nil)
	assert.ErrorIs(test, err, store.ErrUnknownDomain)

	err = s.Update(ctx, store.Domain("orders"), func(rows []store.Row) ([]store.Row, error) { return rows, nil })
	assert.ErrorIs(test, err, store.ErrUnknownDomain)
}

func (suite *StoreTestSuite) TestFieldsWithSeparators(test *testing.T) {
	s := suite.open(test)
	ctx := context.Background()

	row := store.Row{"AMZN", "Amazon.com, Inc.", "185.50"}
	require.NoError(test, s.Append(ctx, store.DomainMarket, row))

	rows, err := s.Read(ctx, store.DomainMarket)
	require.NoError(test, err)
	require.Len(test, rows, 1)
	assert.Equal(test, row, rows[0])
}

func (suite *StoreTestSuite) TestPersistence(test *testing.T) {
	s := suite.NewStore(test)
	ctx := context.Background()

	require.NoError(test, s.Append(ctx, store.DomainUsers, store.Row{"alice", "pw1"}))
	require.NoError(test, s.Write(ctx, store.DomainHoldings, []store.Row{{"alice", "AAPL", "8"}}))

	reopened := suite.Reopen(test, s)
	defer func() { _ = reopened.Close() }()

	users, err := reopened.Read(ctx, store.DomainUsers)
	require.NoError(test, err)
	assert.Equal(test, []store.Row{{"alice", "pw1"}}, users)

	holdings, err := reopened.Read(ctx, store.DomainHoldings)
	require.NoError(test, err)
	assert.Equal(test, []store.Row{{"alice", "AAPL", "8"}}, holdings)
}
