// Package basket provides the HTTP handlers and request validation for
// creating, replacing, listing and pricing custom baskets.
package basket

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deltaone/basket-engine/internal/model"
)

// ErrInvalidDefinition is wrapped by all definition validation failures.
var ErrInvalidDefinition = errors.New("basket: invalid definition")

// currencyRegex matches a three-letter ISO 4217 code.
var currencyRegex = regexp.MustCompile(`^[A-Za-z]{3}$`)

// ValidateDefinition checks a client-supplied definition and normalizes it
// in place: tickers and currency codes are upper-cased, the base currency
// defaults to USD. Weight of zero is allowed per position; only a basket
// that is all zeros is rejected, and that happens at pricing time.
func ValidateDefinition(def *model.BasketDefinition) error {
	if strings.TrimSpace(def.BasketName) == "" {
		return fmt.Errorf("%w: basket_name is required", ErrInvalidDefinition)
	}

	if def.BaseCurrency == "" {
		def.BaseCurrency = "USD"
	}
	if !currencyRegex.MatchString(def.BaseCurrency) {
		return fmt.Errorf("%w: base_currency %q is not a 3-letter code", ErrInvalidDefinition, def.BaseCurrency)
	}
	def.BaseCurrency = strings.ToUpper(def.BaseCurrency)

	if len(def.Positions) == 0 {
		return fmt.Errorf("%w: at least one position is required", ErrInvalidDefinition)
	}
	for i := range def.Positions {
		pos := &def.Positions[i]
		if strings.TrimSpace(pos.Ticker) == "" {
			return fmt.Errorf("%w: positions[%d].ticker is required", ErrInvalidDefinition, i)
		}
		pos.Ticker = strings.ToUpper(strings.TrimSpace(pos.Ticker))
		if pos.Currency != "" {
			if !currencyRegex.MatchString(pos.Currency) {
				return fmt.Errorf("%w: positions[%d].currency %q is not a 3-letter code", ErrInvalidDefinition, i, pos.Currency)
			}
			pos.Currency = strings.ToUpper(pos.Currency)
		}
		if pos.Price != nil && pos.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: positions[%d].price must be positive", ErrInvalidDefinition, i)
		}
	}

	if def.Notional != nil && def.Notional.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: notional must be positive", ErrInvalidDefinition)
	}

	for i := range def.MarketData {
		o := &def.MarketData[i]
		if strings.TrimSpace(o.Ticker) == "" {
			return fmt.Errorf("%w: market_data[%d].ticker is required", ErrInvalidDefinition, i)
		}
		o.Ticker = strings.ToUpper(strings.TrimSpace(o.Ticker))
		if o.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: market_data[%d].price must be positive", ErrInvalidDefinition, i)
		}
		if o.Currency == "" {
			o.Currency = "USD"
		}
		if !currencyRegex.MatchString(o.Currency) {
			return fmt.Errorf("%w: market_data[%d].currency %q is not a 3-letter code", ErrInvalidDefinition, i, o.Currency)
		}
		o.Currency = strings.ToUpper(o.Currency)
	}

	for i := range def.FxRates {
		o := &def.FxRates[i]
		if !currencyRegex.MatchString(o.BaseCurrency) || !currencyRegex.MatchString(o.QuoteCurrency) {
			return fmt.Errorf("%w: fx_rates[%d] currencies must be 3-letter codes", ErrInvalidDefinition, i)
		}
		o.BaseCurrency = strings.ToUpper(o.BaseCurrency)
		o.QuoteCurrency = strings.ToUpper(o.QuoteCurrency)
		if o.Rate.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: fx_rates[%d].rate must be positive", ErrInvalidDefinition, i)
		}
	}

	return nil
}
