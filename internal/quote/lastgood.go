package quote

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/deltaone/basket-engine/internal/model"
)

// LastGoodSource remembers the most recent successful result per ticker
// and pair. When the upstream fails, the remembered values are served for
// the keys it has seen; keys never fetched successfully are simply absent,
// so only the baskets that need them fail. The upstream error propagates
// only when nothing requested is remembered.
type LastGoodSource struct {
	upstream Source

	mu     sync.RWMutex
	quotes map[string]model.Quote
	fx     map[model.CurrencyPair]model.FxRate
}

// NewLastGoodSource wraps an upstream source with last-good fallback.
func NewLastGoodSource(upstream Source) *LastGoodSource {
	return &LastGoodSource{
		upstream: upstream,
		quotes:   make(map[string]model.Quote),
		fx:       make(map[model.CurrencyPair]model.FxRate),
	}
}

func (s *LastGoodSource) FetchQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error) {
	fetched, err := s.upstream.FetchQuotes(ctx, tickers)
	if err == nil {
		s.mu.Lock()
		for ticker, q := range fetched {
			s.quotes[ticker] = q
		}
		s.mu.Unlock()
		return fetched, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Quote, len(tickers))
	for _, ticker := range tickers {
		if q, ok := s.quotes[strings.ToUpper(ticker)]; ok {
			out[q.Ticker] = q
		}
	}
	if len(out) == 0 && len(tickers) > 0 {
		return nil, err
	}
	slog.Warn("quote fetch failed, serving last good snapshot",
		"err", err, "requested", len(tickers), "served", len(out))
	return out, nil
}

func (s *LastGoodSource) FetchFxRates(ctx context.Context, pairs []model.CurrencyPair) (map[model.CurrencyPair]model.FxRate, error) {
	fetched, err := s.upstream.FetchFxRates(ctx, pairs)
	if err == nil {
		s.mu.Lock()
		for pair, r := range fetched {
			s.fx[pair] = r
		}
		s.mu.Unlock()
		return fetched, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.CurrencyPair]model.FxRate, len(pairs))
	for _, pair := range pairs {
		if r, ok := s.fx[pair]; ok {
			out[pair] = r
		}
	}
	if len(out) == 0 && len(pairs) > 0 {
		return nil, err
	}
	slog.Warn("fx fetch failed, serving last good snapshot",
		"err", err, "requested", len(pairs), "served", len(out))
	return out, nil
}
