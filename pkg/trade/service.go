// Package trade implements the account and trading operations behind the
// command verbs: users, market prices, holdings and the transaction log.
//
// Every read-modify-write goes through store.Update so concurrent trades on
// the same holdings never lose an update. A trade touches two domains in two
// separate calls: holdings first, then the transaction log. A failure in
// between leaves the holdings change without its log entry.
package trade

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"strconv"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/store"
	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Quote is one market row.
type Quote struct {
	Ticker string
	Name   string
	Price  decimal.Decimal
}

// Holding is one (user, ticker) position.
type Holding struct {
	Ticker   string
	Quantity int64
}

// Trade is a completed buy or sell as written to the transaction log.
type Trade struct {
	User     string          `json:"user"`
	Side     string          `json:"type"`
	Ticker   string          `json:"ticker"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Row renders t as a transactions row.
func (t Trade) Row() store.Row {
	return store.Row{t.User, t.Side, t.Ticker, strconv.FormatInt(t.Quantity, 10), t.Price.StringFixed(2)}
}

// Service runs the business operations against a Record Store.
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Login checks user and password against the users domain.
//
// Passwords are stored as given; comparison is constant time.
func (s *Service) Login(ctx context.Context, user, password string) error {
	rows, err := s.store.Read(ctx, store.DomainUsers)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if len(row) < 2 || row[0] != user {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(row[1]), []byte(password)) == 1 {
			return nil
		}
		return ErrInvalidCredentials
	}
	return ErrInvalidCredentials
}

// Register adds user unless the name is taken.
func (s *Service) Register(ctx context.Context, user, password string) error {
	return s.store.Update(ctx, store.DomainUsers, func(rows []store.Row) ([]store.Row, error) {
		for _, row := range rows {
			if len(row) > 0 && row[0] == user {
				return nil, ErrUserExists
			}
		}
		return append(rows, store.Row{user, password}), nil
	})
}

// Market returns every well-formed market row in stored order.
func (s *Service) Market(ctx context.Context) ([]Quote, error) {
	rows, err := s.store.Read(ctx, store.DomainMarket)
	if err != nil {
		return nil, err
	}

	quotes := make([]Quote, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		price, err := decimal.NewFromString(row[2])
		if err != nil {
			logger.Warn("Skipping market row for %s: bad price %q", row[0], row[2])
			continue
		}
		quotes = append(quotes, Quote{Ticker: row[0], Name: row[1], Price: price})
	}
	return quotes, nil
}

// Price returns the current price of ticker. Missing or non-positive prices
// are ErrUnknownTicker.
func (s *Service) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	quotes, err := s.Market(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	for _, q := range quotes {
		if q.Ticker == ticker && q.Price.IsPositive() {
			return q.Price, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
}

// Portfolio returns user's positions.
func (s *Service) Portfolio(ctx context.Context, user string) ([]Holding, error) {
	rows, err := s.store.Read(ctx, store.DomainHoldings)
	if err != nil {
		return nil, err
	}

	var holdings []Holding
	for _, row := range rows {
		if len(row) < 3 || row[0] != user {
			continue
		}
		qty, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: holdings %s/%s quantity %q", ErrCorruptRecord, row[0], row[1], row[2])
		}
		holdings = append(holdings, Holding{Ticker: row[1], Quantity: qty})
	}
	return holdings, nil
}

// Buy adds qty shares of ticker to user's holdings at the current price and
// logs the trade.
func (s *Service) Buy(ctx context.Context, user, ticker string, qty int64) (Trade, error) {
	if qty <= 0 {
		return Trade{}, ErrInsufficientQuantity
	}

	price, err := s.Price(ctx, ticker)
	if err != nil {
		return Trade{}, err
	}

	err = s.store.Update(ctx, store.DomainHoldings, func(rows []store.Row) ([]store.Row, error) {
		i, current, err := findHolding(rows, user, ticker)
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return append(rows, store.Row{user, ticker, strconv.FormatInt(qty, 10)}), nil
		}
		if qty > math.MaxInt64-current {
			return nil, fmt.Errorf("%w: position %s/%s would overflow", ErrInsufficientQuantity, user, ticker)
		}
		rows[i][2] = strconv.FormatInt(current+qty, 10)
		return rows, nil
	})
	if err != nil {
		return Trade{}, err
	}

	return s.log(ctx, Trade{User: user, Side: SideBuy, Ticker: ticker, Quantity: qty, Price: price})
}

// Sell removes qty shares of ticker from user's holdings. A position sold
// down to zero is removed.
func (s *Service) Sell(ctx context.Context, user, ticker string, qty int64) (Trade, error) {
	if qty <= 0 {
		return Trade{}, ErrInsufficientQuantity
	}

	price, err := s.Price(ctx, ticker)
	if err != nil {
		return Trade{}, err
	}

	err = s.store.Update(ctx, store.DomainHoldings, func(rows []store.Row) ([]store.Row, error) {
		i, current, err := findHolding(rows, user, ticker)
		if err != nil {
			return nil, err
		}
		if i < 0 || current < qty {
			return nil, ErrInsufficientHoldings
		}
		if current == qty {
			return append(rows[:i], rows[i+1:]...), nil
		}
		rows[i][2] = strconv.FormatInt(current-qty, 10)
		return rows, nil
	})
	if err != nil {
		return Trade{}, err
	}

	return s.log(ctx, Trade{User: user, Side: SideSell, Ticker: ticker, Quantity: qty, Price: price})
}

// Transactions returns user's logged trades, oldest first. A non-empty side
// keeps only trades of that side.
func (s *Service) Transactions(ctx context.Context, user, side string) ([]Trade, error) {
	rows, err := s.store.Read(ctx, store.DomainTransactions)
	if err != nil {
		return nil, err
	}

	var trades []Trade
	for _, row := range rows {
		if len(row) < 5 || row[0] != user || (side != "" && row[1] != side) {
			continue
		}
		qty, err := strconv.ParseInt(row[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction quantity %q", ErrCorruptRecord, row[3])
		}
		price, err := decimal.NewFromString(row[4])
		if err != nil {
			return nil, fmt.Errorf("%w: transaction price %q", ErrCorruptRecord, row[4])
		}
		trades = append(trades, Trade{User: row[0], Side: row[1], Ticker: row[2], Quantity: qty, Price: price})
	}
	return trades, nil
}

func (s *Service) log(ctx context.Context, t Trade) (Trade, error) {
	if err := s.store.Append(ctx, store.DomainTransactions, t.Row()); err != nil {
		logger.Error("Holdings updated but transaction log failed for %s %s %s x%d: %v",
			t.User, t.Side, t.Ticker, t.Quantity, err)
		return t, err
	}
	return t, nil
}

func findHolding(rows []store.Row, user, ticker string) (int, int64, error) {
	for i, row := range rows {
		if len(row) < 3 || row[0] != user || row[1] != ticker {
			continue
		}
		qty, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return -1, 0, fmt.Errorf("%w: holdings %s/%s quantity %q", ErrCorruptRecord, user, ticker, row[2])
		}
		return i, qty, nil
	}
	return -1, 0, nil
}
