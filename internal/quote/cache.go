package quote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deltaone/basket-engine/internal/model"
)

// CachedSource wraps an upstream Source with a Redis read-through cache.
// Quotes and FX rates are cached under short TTLs so bursts of pricing
// requests between broadcast ticks do not hammer the live provider. Redis
// failures degrade to plain upstream fetches.
type CachedSource struct {
	upstream Source
	rdb      *redis.Client
	ttl      time.Duration
}

// NewCachedSource creates a cached wrapper around an upstream source.
func NewCachedSource(upstream Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{
		upstream: upstream,
		rdb:      rdb,
		ttl:      ttl,
	}
}

func (s *CachedSource) FetchQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(tickers))
	var misses []string

	for _, ticker := range tickers {
		data, err := s.rdb.Get(ctx, quoteKey(ticker)).Bytes()
		if err != nil {
			misses = append(misses, ticker)
			continue
		}
		var q model.Quote
		if json.Unmarshal(data, &q) != nil {
			misses = append(misses, ticker)
			continue
		}
		out[q.Ticker] = q
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := s.upstream.FetchQuotes(ctx, misses)
	if err != nil {
		return nil, err
	}
	for ticker, q := range fetched {
		out[ticker] = q
		if data, err := json.Marshal(q); err == nil {
			s.rdb.Set(ctx, quoteKey(ticker), data, s.ttl)
		}
	}
	return out, nil
}

func (s *CachedSource) FetchFxRates(ctx context.Context, pairs []model.CurrencyPair) (map[model.CurrencyPair]model.FxRate, error) {
	out := make(map[model.CurrencyPair]model.FxRate, len(pairs))
	var misses []model.CurrencyPair

	for _, pair := range pairs {
		data, err := s.rdb.Get(ctx, fxKey(pair)).Bytes()
		if err != nil {
			misses = append(misses, pair)
			continue
		}
		var r model.FxRate
		if json.Unmarshal(data, &r) != nil {
			misses = append(misses, pair)
			continue
		}
		out[r.Pair] = r
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := s.upstream.FetchFxRates(ctx, misses)
	if err != nil {
		return nil, err
	}
	for pair, r := range fetched {
		out[pair] = r
		if data, err := json.Marshal(r); err == nil {
			s.rdb.Set(ctx, fxKey(pair), data, s.ttl)
		}
	}
	return out, nil
}

func quoteKey(ticker string) string     { return "quote:" + ticker }
func fxKey(p model.CurrencyPair) string { return "fx:" + p.String() }
