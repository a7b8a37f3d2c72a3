// Package model defines the core domain types shared across the basket engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteOrigin tags whether a quote or FX rate came from the live provider
// or the static fallback table.
type QuoteOrigin string

const (
	OriginLive     QuoteOrigin = "live"
	OriginFallback QuoteOrigin = "fallback"
)

// CurrencyPair identifies a conversion from one ISO currency to another.
type CurrencyPair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// String renders the pair as FROM/TO for error messages and cache keys.
func (p CurrencyPair) String() string {
	return p.From + "/" + p.To
}

// Position is a single weighted constituent of a basket definition.
// Weight is signed: shorts are negative. Price and Currency, when set,
// override the quote snapshot for this position only.
type Position struct {
	Ticker   string            `json:"ticker"`
	Weight   decimal.Decimal   `json:"weight"`
	Price    *decimal.Decimal  `json:"price,omitempty"`
	Currency string            `json:"currency,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QuoteOverride is an inline market data point supplied with a pricing
// request, taking precedence over the quote source for its ticker.
type QuoteOverride struct {
	Ticker   string          `json:"ticker"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency,omitempty"`
}

// FxOverride is an inline FX rate supplied with a pricing request.
type FxOverride struct {
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Rate          decimal.Decimal `json:"rate"`
}

// BasketDefinition is the client-supplied description of a basket.
// It is treated as immutable once handed to the pricing engine; a replace
// supplies a wholly new definition for the same basket id.
type BasketDefinition struct {
	BasketName   string           `json:"basket_name"`
	BaseCurrency string           `json:"base_currency"`
	Positions    []Position       `json:"positions"`
	Notional     *decimal.Decimal `json:"notional,omitempty"`
	MarketData   []QuoteOverride  `json:"market_data,omitempty"`
	FxRates      []FxOverride     `json:"fx_rates,omitempty"`
}

// Quote is a spot price for one instrument in its quote currency.
type Quote struct {
	Ticker   string          `json:"ticker"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Origin   QuoteOrigin     `json:"source"`
}

// FxRate converts one unit of Pair.From into Pair.To.
type FxRate struct {
	Pair   CurrencyPair    `json:"pair"`
	Rate   decimal.Decimal `json:"rate"`
	Origin QuoteOrigin     `json:"source"`
}

// PricedPosition is the evaluation outcome for a single constituent.
type PricedPosition struct {
	Ticker           string           `json:"ticker"`
	RawWeight        decimal.Decimal  `json:"raw_weight"`
	NormalizedWeight decimal.Decimal  `json:"normalized_weight"`
	Price            decimal.Decimal  `json:"price"`
	PriceCurrency    string           `json:"price_currency"`
	FxRateToBase     decimal.Decimal  `json:"fx_rate_to_base"`
	PriceInBase      decimal.Decimal  `json:"price_in_base"`
	Contribution     decimal.Decimal  `json:"contribution"`
	PositionNotional *decimal.Decimal `json:"position_notional,omitempty"`
	Shares           *decimal.Decimal `json:"shares,omitempty"`
	QuoteOrigin      QuoteOrigin      `json:"quote_source"`
}

// PricedBasket is one successful pricing pass over a basket definition.
// BasketID is empty for one-shot pricing that is never stored.
type PricedBasket struct {
	BasketID      string           `json:"basket_id,omitempty"`
	BasketName    string           `json:"basket_name"`
	BaseCurrency  string           `json:"base_currency"`
	AsOf          time.Time        `json:"as_of"`
	NetWeightSum  decimal.Decimal  `json:"net_weight_sum"`
	GrossValue    decimal.Decimal  `json:"gross_value"`
	TotalNotional *decimal.Decimal `json:"total_notional,omitempty"`
	Positions     []PricedPosition `json:"positions"`
	Warnings      []string         `json:"warnings"`
}

// StoredBasket couples a basket definition with its latest successful
// pricing snapshot inside the registry.
type StoredBasket struct {
	BasketID   string           `json:"basket_id"`
	Definition BasketDefinition `json:"definition"`
	Pricing    PricedBasket     `json:"pricing"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
