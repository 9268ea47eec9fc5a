// Package market keeps the market domain fresh from a quote provider.
//
// The provider speaks the GLOBAL_QUOTE JSON shape:
//
//	{"Global Quote": {"01. symbol": "AAPL", "05. price": "150.2500"}}
//
// Each refresh fetches every configured symbol, paced to the provider's
// request budget, then rewrites the market domain in one Store.Update. A
// symbol whose fetch failed keeps its previous row. Rows for symbols the feed
// does not track are left alone.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/internal/ratelimiter"
	"github.com/marmos91/stockd/pkg/metrics"
	"github.com/marmos91/stockd/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	ErrRateLimited = errors.New("provider rate limit reached")
	ErrBadQuote    = errors.New("unexpected quote response")
)

// Config configures a Feed.
type Config struct {
	Interval          time.Duration
	ProviderURL       string
	APIKey            string
	Symbols           []string
	Names             map[string]string
	RequestsPerMinute uint
	Timeout           time.Duration
}

// Feed periodically refreshes market prices.
type Feed struct {
	cfg     Config
	store   store.Store
	client  *http.Client
	pacer   *ratelimiter.RateLimiter
	metrics metrics.FeedMetrics
}

type Option func(*Feed)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Feed) { f.client = c }
}

func WithMetrics(m metrics.FeedMetrics) Option {
	return func(f *Feed) {
		if m != nil {
			f.metrics = m
		}
	}
}

func New(cfg Config, s store.Store, opts ...Option) *Feed {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	f := &Feed{
		cfg:     cfg,
		store:   s,
		client:  &http.Client{Timeout: cfg.Timeout},
		pacer:   ratelimiter.PerMinute(cfg.RequestsPerMinute),
		metrics: metrics.NewNoopFeedMetrics(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run refreshes once immediately and then every Interval until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	logger.Info("Market feed started: %d symbols every %s", len(f.cfg.Symbols), f.cfg.Interval)

	interval := f.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Market refresh failed: %v", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("Market feed stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh fetches every symbol and writes the result. It returns the number
// of symbols that got a fresh price.
func (f *Feed) Refresh(ctx context.Context) (int, error) {
	fresh := make(map[string]decimal.Decimal, len(f.cfg.Symbols))

	for _, symbol := range f.cfg.Symbols {
		if err := f.pacer.Wait(ctx); err != nil {
			return 0, err
		}

		start := time.Now()
		price, err := f.fetch(ctx, symbol)
		f.metrics.RecordFetch(symbol, err == nil, time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			logger.Warn("Keeping previous price for %s: %v", symbol, err)
			continue
		}
		logger.Debug("Fetched %s at %s", symbol, price)
		fresh[symbol] = price
	}

	if len(fresh) == 0 {
		return 0, nil
	}

	err := f.store.Update(ctx, store.DomainMarket, func(rows []store.Row) ([]store.Row, error) {
		return merge(rows, f.cfg.Symbols, fresh, f.cfg.Names), nil
	})
	if err != nil {
		return 0, fmt.Errorf("write market: %w", err)
	}

	f.metrics.SetLastRefresh(time.Now())
	logger.Info("Market updated: %d/%d fresh prices", len(fresh), len(f.cfg.Symbols))
	return len(fresh), nil
}

// merge updates rows in place and appends tracked symbols not yet present,
// in configuration order.
func merge(rows []store.Row, symbols []string, fresh map[string]decimal.Decimal, names map[string]string) []store.Row {
	seen := make(map[string]bool, len(rows))

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		price, ok := fresh[row[0]]
		if !ok {
			continue
		}
		seen[row[0]] = true
		rows[i] = store.Row{row[0], nameOf(row[0], row, names), price.String()}
	}

	for _, symbol := range symbols {
		price, ok := fresh[symbol]
		if !ok || seen[symbol] {
			continue
		}
		seen[symbol] = true
		rows = append(rows, store.Row{symbol, nameOf(symbol, nil, names), price.String()})
	}
	return rows
}

// nameOf prefers the configured name, then the stored one, then the symbol.
func nameOf(symbol string, row store.Row, names map[string]string) string {
	if n, ok := names[symbol]; ok && n != "" {
		return n
	}
	if len(row) > 1 && row[1] != "" {
		return row[1]
	}
	return symbol
}

type globalQuote struct {
	Quote        map[string]string `json:"Global Quote"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	ErrorMessage string            `json:"Error Message"`
}

func (f *Feed) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u, err := url.Parse(f.cfg.ProviderURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("provider url: %w", err)
	}
	q := u.Query()
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	if f.cfg.APIKey != "" {
		q.Set("apikey", f.cfg.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("provider returned %s", resp.Status)
	}

	var body globalQuote
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrBadQuote, err)
	}

	switch {
	case body.ErrorMessage != "":
		return decimal.Zero, fmt.Errorf("%w: %s", ErrBadQuote, body.ErrorMessage)
	case body.Note != "", body.Information != "" && body.Quote == nil:
		return decimal.Zero, ErrRateLimited
	}

	raw, ok := body.Quote["05. price"]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", ErrBadQuote, symbol)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price %q", ErrBadQuote, raw)
	}
	return price, nil
}
