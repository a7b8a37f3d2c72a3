package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deltaone/basket-engine/internal/model"
)

// DefaultLiveURL is the EODHD delayed real-time quote endpoint.
const DefaultLiveURL = "https://eodhd.com/api/real-time"

// LiveSource fetches delayed intraday quotes from the EODHD REST API.
// Tickers the API does not return are filled from the static fallback
// table, tagged accordingly. FX rates are always served from the fallback
// table; the delayed quote feed carries none.
type LiveSource struct {
	token    string
	baseURL  string
	client   *http.Client
	fallback *StaticSource
}

// NewLiveSource creates a live source authenticated by the given API token.
// An empty baseURL selects the EODHD endpoint; a nil client gets a 5 second
// timeout, the bounded-timeout guarantee the pricing paths rely on.
func NewLiveSource(token, baseURL string, client *http.Client) *LiveSource {
	if baseURL == "" {
		baseURL = DefaultLiveURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &LiveSource{
		token:    token,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		fallback: NewStaticSource(),
	}
}

// eodhdSymbol maps a bare ticker onto the EODHD symbol space; symbols
// without an exchange suffix default to the US composite.
func eodhdSymbol(ticker string) string {
	ticker = strings.ToUpper(ticker)
	if strings.Contains(ticker, ".") {
		return ticker
	}
	return ticker + ".US"
}

func baseTicker(symbol string) string {
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// priceFields is the extraction order for the quote price; delayed entries
// outside trading hours only populate the later fields.
var priceFields = []string{"close", "adjusted_close", "price", "last", "close_prev"}

func extractPrice(entry map[string]any) (decimal.Decimal, bool) {
	for _, field := range priceFields {
		v, ok := entry[field]
		if !ok || v == nil {
			continue
		}
		var raw string
		switch t := v.(type) {
		case json.Number:
			raw = t.String()
		case string:
			raw = t
		default:
			continue
		}
		if price, err := decimal.NewFromString(raw); err == nil {
			return price, true
		}
	}
	return decimal.Decimal{}, false
}

func (s *LiveSource) FetchQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error) {
	if len(tickers) == 0 {
		return map[string]model.Quote{}, nil
	}

	symbols := make(map[string]bool, len(tickers))
	for _, ticker := range tickers {
		if strings.TrimSpace(ticker) == "" {
			continue
		}
		symbols[eodhdSymbol(ticker)] = true
	}
	sorted := make([]string, 0, len(symbols))
	for symbol := range symbols {
		sorted = append(sorted, symbol)
	}
	sort.Strings(sorted)

	query := url.Values{"api_token": {s.token}, "fmt": {"json"}}
	reqURL := s.baseURL + "/" + strings.Join(sorted, ",") + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request", ErrUnavailable)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		// url.Error carries the full request URL including the api token;
		// unwrap it so the token never reaches the logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	// The endpoint returns a single object for one symbol, a list otherwise.
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	var entries []map[string]any
	switch t := payload.(type) {
	case []any:
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				entries = append(entries, m)
			}
		}
	case map[string]any:
		entries = append(entries, t)
	default:
		return nil, fmt.Errorf("%w: unexpected payload shape", ErrUnavailable)
	}

	quotes := make(map[string]model.Quote, len(entries))
	for _, entry := range entries {
		code := firstString(entry, "code", "symbol", "ticker")
		if code == "" {
			continue
		}
		price, ok := extractPrice(entry)
		if !ok {
			continue
		}
		currency := firstString(entry, "currency")
		if currency == "" {
			currency = "USD"
		}
		ticker := strings.ToUpper(baseTicker(code))
		quotes[ticker] = model.Quote{
			Ticker:   ticker,
			Price:    price,
			Currency: strings.ToUpper(currency),
			Origin:   model.OriginLive,
		}
	}

	// Fill tickers the API skipped from the static table so a thin live
	// response does not fail whole baskets.
	missing := make([]string, 0)
	for _, ticker := range tickers {
		if _, ok := quotes[strings.ToUpper(ticker)]; !ok {
			missing = append(missing, ticker)
		}
	}
	if len(missing) > 0 {
		slog.Debug("live source missing tickers, consulting fallback", "missing", missing)
		filled, _ := s.fallback.FetchQuotes(ctx, missing)
		for ticker, q := range filled {
			quotes[ticker] = q
		}
	}
	return quotes, nil
}

func (s *LiveSource) FetchFxRates(ctx context.Context, pairs []model.CurrencyPair) (map[model.CurrencyPair]model.FxRate, error) {
	return s.fallback.FetchFxRates(ctx, pairs)
}

func firstString(entry map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := entry[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
