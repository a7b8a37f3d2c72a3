// Package pricing implements the deterministic valuation of delta-one
// custom baskets: gross-exposure weight normalization, FX conversion into
// the base currency, notional allocation, and implied share quantities.
//
// The engine is purely functional — given a basket definition and one quote
// snapshot it always produces the identical PricedBasket, which the live
// feed relies on for snapshot consistency.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deltaone/basket-engine/internal/model"
)

// WarnWeightSum is attached when signed weights do not sum to one.
// Pricing proceeds regardless, using gross-exposure normalization.
const WarnWeightSum = "weights do not sum to one"

var (
	// ErrDegenerateWeights is returned when the basket carries no priceable
	// exposure: every weight is zero, or the signed basket value is zero
	// while a target notional was requested.
	ErrDegenerateWeights = errors.New("pricing: degenerate weights")

	// weightSumTolerance bounds |Σ weight − 1| before WarnWeightSum fires.
	// 1e-6 proved too strict for weights supplied with limited decimal
	// precision; 1e-4 matches typical client inputs.
	weightSumTolerance = decimal.New(1, -4)

	one = decimal.NewFromInt(1)
)

// Presentation scales for monetary fields. Raw values are carried through
// intermediate math; only reported fields are quantized. Normalized weights
// are reported unquantized so their magnitudes sum to one at full division
// precision.
const (
	moneyScale    int32 = 4
	notionalScale int32 = 2
)

// UnknownInstrumentError reports a position whose ticker has no quote in
// the snapshot and no inline override.
type UnknownInstrumentError struct {
	Ticker string
}

func (e *UnknownInstrumentError) Error() string {
	return fmt.Sprintf("pricing: no market data available for %s", e.Ticker)
}

// MissingFxRateError reports an unconvertible quote currency: neither the
// pair nor its inverse is present in the FX snapshot.
type MissingFxRateError struct {
	Pair model.CurrencyPair
}

func (e *MissingFxRateError) Error() string {
	return fmt.Sprintf("pricing: no FX rate available for %s", e.Pair)
}

// Price values a basket definition against one quote/FX snapshot.
//
// Pricing is atomic: any missing quote or FX rate fails the whole basket
// and no partial result is returned. Warnings accompany successful results
// only.
func Price(
	def model.BasketDefinition,
	quotes map[string]model.Quote,
	fx map[model.CurrencyPair]model.FxRate,
	asOf time.Time,
) (model.PricedBasket, error) {
	type resolved struct {
		quote       model.Quote
		fxRate      decimal.Decimal
		priceInBase decimal.Decimal
	}

	weightSum := decimal.Zero
	grossWeight := decimal.Zero
	base := strings.ToUpper(def.BaseCurrency)

	lines := make([]resolved, len(def.Positions))
	for i, pos := range def.Positions {
		quote, err := resolveQuote(pos, quotes)
		if err != nil {
			return model.PricedBasket{}, err
		}
		rate, err := rateToBase(quote.Currency, base, fx)
		if err != nil {
			return model.PricedBasket{}, err
		}
		lines[i] = resolved{
			quote:       quote,
			fxRate:      rate,
			priceInBase: quote.Price.Mul(rate),
		}
		weightSum = weightSum.Add(pos.Weight)
		grossWeight = grossWeight.Add(pos.Weight.Abs())
	}

	if grossWeight.IsZero() {
		return model.PricedBasket{}, fmt.Errorf("%w: all position weights are zero", ErrDegenerateWeights)
	}

	warnings := []string{}
	if weightSum.Sub(one).Abs().GreaterThan(weightSumTolerance) {
		warnings = append(warnings, WarnWeightSum)
	}

	// Unit contributions: normalized weight × price in base currency.
	// Their signed sum is the per-unit-notional basket value.
	units := make([]decimal.Decimal, len(def.Positions))
	unitValue := decimal.Zero
	for i, pos := range def.Positions {
		units[i] = pos.Weight.Div(grossWeight).Mul(lines[i].priceInBase)
		unitValue = unitValue.Add(units[i])
	}

	// With a target notional, contributions are scaled so they sum exactly
	// to the notional. A zero signed basket value cannot be scaled.
	scale := one
	if def.Notional != nil {
		if unitValue.IsZero() {
			return model.PricedBasket{}, fmt.Errorf(
				"%w: signed basket value is zero, cannot allocate notional", ErrDegenerateWeights)
		}
		scale = def.Notional.Div(unitValue)
	}

	grossValue := decimal.Zero
	priced := make([]model.PricedPosition, len(def.Positions))
	for i, pos := range def.Positions {
		contribution := units[i].Mul(scale)
		grossValue = grossValue.Add(contribution)

		pp := model.PricedPosition{
			Ticker:           pos.Ticker,
			RawWeight:        pos.Weight,
			NormalizedWeight: pos.Weight.Div(grossWeight),
			Price:            lines[i].quote.Price,
			PriceCurrency:    lines[i].quote.Currency,
			FxRateToBase:     lines[i].fxRate,
			PriceInBase:      lines[i].priceInBase.Round(moneyScale),
			Contribution:     contribution.Round(moneyScale),
			QuoteOrigin:      lines[i].quote.Origin,
		}
		if def.Notional != nil {
			posNotional := contribution.Round(notionalScale)
			pp.PositionNotional = &posNotional
			if !lines[i].priceInBase.IsZero() {
				shares := contribution.Div(lines[i].priceInBase).Round(moneyScale)
				pp.Shares = &shares
			}
		}
		priced[i] = pp
	}

	return model.PricedBasket{
		BasketName:    def.BasketName,
		BaseCurrency:  base,
		AsOf:          asOf,
		NetWeightSum:  weightSum,
		GrossValue:    grossValue.Round(moneyScale),
		TotalNotional: def.Notional,
		Positions:     priced,
		Warnings:      warnings,
	}, nil
}

// resolveQuote picks the price for a position: the inline override wins,
// otherwise the snapshot is consulted by upper-cased ticker.
func resolveQuote(pos model.Position, quotes map[string]model.Quote) (model.Quote, error) {
	ticker := strings.ToUpper(pos.Ticker)
	if pos.Price != nil {
		currency := strings.ToUpper(pos.Currency)
		if currency == "" {
			currency = "USD"
		}
		return model.Quote{
			Ticker:   ticker,
			Price:    *pos.Price,
			Currency: currency,
			Origin:   model.OriginFallback,
		}, nil
	}
	quote, ok := quotes[ticker]
	if !ok {
		return model.Quote{}, &UnknownInstrumentError{Ticker: ticker}
	}
	return quote, nil
}

// rateToBase resolves the conversion rate from a quote currency into the
// base currency. Same-currency conversion is 1 with no lookup; a missing
// direct pair falls back to the inverse before failing.
func rateToBase(from, to string, fx map[model.CurrencyPair]model.FxRate) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		return one, nil
	}
	if rate, ok := fx[model.CurrencyPair{From: from, To: to}]; ok {
		return rate.Rate, nil
	}
	if inv, ok := fx[model.CurrencyPair{From: to, To: from}]; ok && !inv.Rate.IsZero() {
		return one.Div(inv.Rate), nil
	}
	return decimal.Zero, &MissingFxRateError{Pair: model.CurrencyPair{From: from, To: to}}
}

// RequiredTickers returns the tickers a snapshot must cover to price the
// definition: every position without an inline price override,
// deduplicated, upper-cased, in first-seen order.
func RequiredTickers(def model.BasketDefinition) []string {
	seen := make(map[string]bool)
	var tickers []string
	for _, pos := range def.Positions {
		if pos.Price != nil {
			continue
		}
		ticker := strings.ToUpper(pos.Ticker)
		if !seen[ticker] {
			seen[ticker] = true
			tickers = append(tickers, ticker)
		}
	}
	return tickers
}

// RequiredPairs returns the currency pairs needed to convert the resolved
// quote currencies into the base currency. Positions whose quote is absent
// from the snapshot are skipped; Price reports those as unknown instruments.
func RequiredPairs(def model.BasketDefinition, quotes map[string]model.Quote) []model.CurrencyPair {
	base := strings.ToUpper(def.BaseCurrency)
	seen := make(map[model.CurrencyPair]bool)
	var pairs []model.CurrencyPair
	for _, pos := range def.Positions {
		currency := ""
		switch {
		case pos.Price != nil:
			currency = strings.ToUpper(pos.Currency)
			if currency == "" {
				currency = "USD"
			}
		default:
			quote, ok := quotes[strings.ToUpper(pos.Ticker)]
			if !ok {
				continue
			}
			currency = strings.ToUpper(quote.Currency)
		}
		if currency == base {
			continue
		}
		pair := model.CurrencyPair{From: currency, To: base}
		if !seen[pair] {
			seen[pair] = true
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

// MergeOverrides layers a definition's inline market data and FX rates on
// top of a shared snapshot, returning fresh maps when overrides exist. The
// input maps are never mutated — the snapshot stays shared across baskets.
func MergeOverrides(
	def model.BasketDefinition,
	quotes map[string]model.Quote,
	fx map[model.CurrencyPair]model.FxRate,
) (map[string]model.Quote, map[model.CurrencyPair]model.FxRate) {
	if len(def.MarketData) > 0 {
		merged := make(map[string]model.Quote, len(quotes)+len(def.MarketData))
		for k, v := range quotes {
			merged[k] = v
		}
		for _, o := range def.MarketData {
			ticker := strings.ToUpper(o.Ticker)
			currency := strings.ToUpper(o.Currency)
			if currency == "" {
				currency = "USD"
			}
			merged[ticker] = model.Quote{
				Ticker:   ticker,
				Price:    o.Price,
				Currency: currency,
				Origin:   model.OriginFallback,
			}
		}
		quotes = merged
	}
	if len(def.FxRates) > 0 {
		merged := make(map[model.CurrencyPair]model.FxRate, len(fx)+len(def.FxRates))
		for k, v := range fx {
			merged[k] = v
		}
		for _, o := range def.FxRates {
			pair := model.CurrencyPair{
				From: strings.ToUpper(o.BaseCurrency),
				To:   strings.ToUpper(o.QuoteCurrency),
			}
			merged[pair] = model.FxRate{Pair: pair, Rate: o.Rate, Origin: model.OriginFallback}
		}
		fx = merged
	}
	return quotes, fx
}
