package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/store"
	"github.com/marmos91/stockd/pkg/trade"
)

// RecentSellsLimit bounds the RECENT_SELLS payload.
const RecentSellsLimit = 10

// storeFailure maps a Record Store failure to a fatal result. Anything else
// becomes the verb's generic error reply.
func storeFailure(verb string, err error, msg string) Result {
	if errors.Is(err, store.ErrStoreIO) {
		logger.Error("%s aborted: %v", verb, err)
		return Fatal(store.ErrStoreIO, "Storage failure")
	}
	logger.Debug("%s failed: %v", verb, err)
	return Fail(err, msg)
}

func (d *Dispatcher) handleLogin(ctx context.Context, call *Call) Result {
	user, pass := call.Command.Arg(0), call.Command.Rest(1)

	if err := d.trade.Login(ctx, user, pass); err != nil {
		return storeFailure(VerbLogin, err, "Invalid credentials")
	}

	token, err := d.sessions.Create(user)
	if err != nil {
		logger.Error("Cannot issue session for %s: %v", user, err)
		return Fail(err, "Invalid credentials")
	}

	logger.Info("User %s logged in", user)
	return OkPayload("Login successful", token).WithToken(token)
}

func (d *Dispatcher) handleRegister(ctx context.Context, call *Call) Result {
	user, pass := call.Command.Arg(0), call.Command.Rest(1)

	if err := d.trade.Register(ctx, user, pass); err != nil {
		return storeFailure(VerbRegister, err, "User exists")
	}

	logger.Info("Registered user %s", user)
	return Ok("User registered")
}

func (d *Dispatcher) handleLogout(_ context.Context, call *Call) Result {
	d.sessions.Revoke(call.Token)
	logger.Info("User %s logged out", call.Identity)
	return Ok("Logged out").WithRevoke()
}

func (d *Dispatcher) handleMarket(ctx context.Context, _ *Call) Result {
	quotes, err := d.trade.Market(ctx)
	if err != nil {
		return storeFailure(VerbMarket, err, "Market unavailable")
	}

	entries := make([]string, 0, len(quotes))
	for _, q := range quotes {
		entries = append(entries, q.Ticker+","+q.Name+","+q.Price.String())
	}
	return OkPayload("Market data", strings.Join(entries, ";"))
}

func (d *Dispatcher) handleBuy(ctx context.Context, call *Call) Result {
	user, ticker, qty, ok := tradeArgs(call)
	if !ok {
		return Fail(ErrMalformedCommand, "Malformed command")
	}

	if _, err := d.trade.Buy(ctx, user, ticker, qty); err != nil {
		return storeFailure(VerbBuy, err, "Buy failed")
	}
	return Ok("Trade completed")
}

func (d *Dispatcher) handleSell(ctx context.Context, call *Call) Result {
	user, ticker, qty, ok := tradeArgs(call)
	if !ok {
		return Fail(ErrMalformedCommand, "Malformed command")
	}

	if _, err := d.trade.Sell(ctx, user, ticker, qty); err != nil {
		return storeFailure(VerbSell, err, "Sell failed")
	}
	return Ok("Trade completed")
}

func tradeArgs(call *Call) (user, ticker string, qty int64, ok bool) {
	qty, err := strconv.ParseInt(call.Command.Arg(2), 10, 64)
	if err != nil {
		return "", "", 0, false
	}
	return call.Command.Arg(0), call.Command.Arg(1), qty, true
}

// handlePortfolio ignores any argument: the identity comes from the session.
func (d *Dispatcher) handlePortfolio(ctx context.Context, call *Call) Result {
	holdings, err := d.trade.Portfolio(ctx, call.Identity)
	if err != nil {
		return storeFailure(VerbPortfolio, err, "Portfolio unavailable")
	}

	entries := make([]string, 0, len(holdings))
	for _, h := range holdings {
		entries = append(entries, h.Ticker+","+strconv.FormatInt(h.Quantity, 10))
	}
	return OkPayload("Portfolio", strings.Join(entries, ";"))
}

func (d *Dispatcher) handleBuys(ctx context.Context, call *Call) Result {
	trades, err := d.trade.Transactions(ctx, call.Identity, trade.SideBuy)
	if err != nil {
		return storeFailure(VerbBuys, err, "Transactions unavailable")
	}
	return transactionsResult(trades)
}

// handleSells returns the caller's most recent sells, newest first.
func (d *Dispatcher) handleSells(ctx context.Context, call *Call) Result {
	trades, err := d.trade.Transactions(ctx, call.Identity, trade.SideSell)
	if err != nil {
		return storeFailure(VerbSells, err, "Transactions unavailable")
	}

	recent := make([]trade.Trade, 0, RecentSellsLimit)
	for i := len(trades) - 1; i >= 0 && len(recent) < RecentSellsLimit; i-- {
		recent = append(recent, trades[i])
	}
	return transactionsResult(recent)
}

func transactionsResult(trades []trade.Trade) Result {
	if trades == nil {
		trades = []trade.Trade{}
	}
	body, err := json.Marshal(trades)
	if err != nil {
		return Fail(err, "Transactions unavailable")
	}
	return OkPayload("Transactions", string(body))
}
