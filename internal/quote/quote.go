// Package quote provides market data and FX rate sources for the basket
// engine. The pricing paths consume the Source interface only; concrete
// implementations cover a static fallback table, an EODHD-backed live
// source, a Redis read-through cache, and a last-good-snapshot decorator.
package quote

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deltaone/basket-engine/internal/model"
)

// ErrUnavailable is wrapped by sources when a fetch fails or times out.
// Callers fall back to the last successful snapshot where one exists.
var ErrUnavailable = errors.New("quote: source unavailable")

// Source serves spot quotes and FX rates for pricing. Implementations must
// honor the context deadline and never block indefinitely. Tickers absent
// from the result simply have no data; that is not an error.
type Source interface {
	FetchQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error)
	FetchFxRates(ctx context.Context, pairs []model.CurrencyPair) (map[model.CurrencyPair]model.FxRate, error)
}

// StaticSource serves quotes and FX rates from fixed in-memory tables.
// It backs development setups without an API token and fills gaps left by
// the live provider. Everything it returns is tagged as fallback data.
type StaticSource struct {
	quotes map[string]model.Quote
	fx     map[model.CurrencyPair]model.FxRate
}

var defaultQuotes = map[string]decimal.Decimal{
	"AAPL":  decimal.RequireFromString("189.54"),
	"MSFT":  decimal.RequireFromString("338.11"),
	"GOOGL": decimal.RequireFromString("141.25"),
	"AMZN":  decimal.RequireFromString("128.78"),
	"META":  decimal.RequireFromString("297.35"),
	"TSLA":  decimal.RequireFromString("256.55"),
	"NVDA":  decimal.RequireFromString("430.90"),
	"NFLX":  decimal.RequireFromString("410.12"),
	"BABA":  decimal.RequireFromString("87.65"),
	"ORCL":  decimal.RequireFromString("114.78"),
}

var defaultFxRates = map[model.CurrencyPair]decimal.Decimal{
	{From: "USD", To: "EUR"}: decimal.RequireFromString("0.92"),
	{From: "EUR", To: "USD"}: decimal.RequireFromString("1.087"),
	{From: "USD", To: "GBP"}: decimal.RequireFromString("0.78"),
	{From: "GBP", To: "USD"}: decimal.RequireFromString("1.28"),
	{From: "USD", To: "JPY"}: decimal.RequireFromString("140.0"),
	{From: "JPY", To: "USD"}: decimal.RequireFromString("0.00714"),
}

// NewStaticSource creates a source backed by the built-in demonstration
// tables: large-cap US equities quoted in USD plus the major USD crosses.
func NewStaticSource() *StaticSource {
	quotes := make(map[string]model.Quote, len(defaultQuotes))
	for ticker, price := range defaultQuotes {
		quotes[ticker] = model.Quote{
			Ticker:   ticker,
			Price:    price,
			Currency: "USD",
			Origin:   model.OriginFallback,
		}
	}
	fx := make(map[model.CurrencyPair]model.FxRate, len(defaultFxRates))
	for pair, rate := range defaultFxRates {
		fx[pair] = model.FxRate{Pair: pair, Rate: rate, Origin: model.OriginFallback}
	}
	return &StaticSource{quotes: quotes, fx: fx}
}

// NewStaticSourceFrom creates a source over caller-supplied tables.
// Entries are re-tagged as fallback data regardless of input.
func NewStaticSourceFrom(quotes map[string]model.Quote, fx map[model.CurrencyPair]model.FxRate) *StaticSource {
	s := &StaticSource{
		quotes: make(map[string]model.Quote, len(quotes)),
		fx:     make(map[model.CurrencyPair]model.FxRate, len(fx)),
	}
	for ticker, q := range quotes {
		ticker = strings.ToUpper(ticker)
		q.Ticker = ticker
		q.Currency = strings.ToUpper(q.Currency)
		q.Origin = model.OriginFallback
		s.quotes[ticker] = q
	}
	for pair, r := range fx {
		r.Pair = pair
		r.Origin = model.OriginFallback
		s.fx[pair] = r
	}
	return s
}

func (s *StaticSource) FetchQuotes(_ context.Context, tickers []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(tickers))
	for _, ticker := range tickers {
		if q, ok := s.quotes[strings.ToUpper(ticker)]; ok {
			out[q.Ticker] = q
		}
	}
	return out, nil
}

func (s *StaticSource) FetchFxRates(_ context.Context, pairs []model.CurrencyPair) (map[model.CurrencyPair]model.FxRate, error) {
	out := make(map[model.CurrencyPair]model.FxRate, len(pairs))
	for _, pair := range pairs {
		if r, ok := s.fx[pair]; ok {
			out[pair] = r
		}
	}
	return out, nil
}
