package pricing

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deltaone/basket-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var asOf = time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC)

func usdQuotes(prices map[string]float64) map[string]model.Quote {
	quotes := make(map[string]model.Quote, len(prices))
	for ticker, price := range prices {
		quotes[ticker] = model.Quote{
			Ticker:   ticker,
			Price:    d(price),
			Currency: "USD",
			Origin:   model.OriginFallback,
		}
	}
	return quotes
}

func techDefinition() model.BasketDefinition {
	return model.BasketDefinition{
		BasketName:   "Tech",
		BaseCurrency: "USD",
		Positions: []model.Position{
			{Ticker: "AAPL", Weight: d(0.5)},
			{Ticker: "MSFT", Weight: d(0.3)},
			{Ticker: "GOOGL", Weight: d(0.2)},
		},
	}
}

func techQuotes() map[string]model.Quote {
	return usdQuotes(map[string]float64{"AAPL": 150, "MSFT": 300, "GOOGL": 120})
}

func noFx() map[model.CurrencyPair]model.FxRate {
	return map[model.CurrencyPair]model.FxRate{}
}

// --- Basic valuation ---

func TestPrice_TechBasket(t *testing.T) {
	priced, err := Price(techDefinition(), techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(priced.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", priced.Warnings)
	}
	if !priced.NetWeightSum.Equal(d(1)) {
		t.Errorf("expected net weight sum 1, got %s", priced.NetWeightSum)
	}
	if !priced.GrossValue.Equal(d(189)) {
		t.Errorf("expected gross value 189, got %s", priced.GrossValue)
	}

	wantContributions := []float64{75, 90, 24}
	for i, pp := range priced.Positions {
		if !pp.NormalizedWeight.Equal(pp.RawWeight) {
			t.Errorf("positions[%d]: weights already gross-sum 1, normalized %s should equal raw %s",
				i, pp.NormalizedWeight, pp.RawWeight)
		}
		if !pp.Contribution.Equal(d(wantContributions[i])) {
			t.Errorf("positions[%d]: expected contribution %v, got %s", i, wantContributions[i], pp.Contribution)
		}
		if pp.Shares != nil {
			t.Errorf("positions[%d]: shares should be omitted without a notional", i)
		}
	}
}

func TestPrice_KeepsPositionOrder(t *testing.T) {
	priced, err := Price(techDefinition(), techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"AAPL", "MSFT", "GOOGL"}
	for i, pp := range priced.Positions {
		if pp.Ticker != want[i] {
			t.Errorf("positions[%d]: expected %s, got %s", i, want[i], pp.Ticker)
		}
	}
}

func TestPrice_WeightSumWarning(t *testing.T) {
	def := techDefinition()
	def.Positions[2].Weight = d(0.1) // sum 0.9

	priced, err := Price(def, techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(priced.Warnings) != 1 || priced.Warnings[0] != WarnWeightSum {
		t.Fatalf("expected warning %q, got %v", WarnWeightSum, priced.Warnings)
	}
	if !priced.NetWeightSum.Equal(d(0.9)) {
		t.Errorf("expected net weight sum 0.9, got %s", priced.NetWeightSum)
	}

	// Normalized weights are raw/0.9 under gross normalization.
	want := d(0.5).Div(d(0.9))
	if !priced.Positions[0].NormalizedWeight.Equal(want) {
		t.Errorf("expected normalized weight %s, got %s", want, priced.Positions[0].NormalizedWeight)
	}
}

func TestPrice_WeightSumToleranceBoundary(t *testing.T) {
	def := techDefinition()
	// Sum 1.0001 sits exactly on the tolerance; no warning.
	def.Positions[0].Weight = d(0.5001)
	priced, err := Price(def, techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(priced.Warnings) != 0 {
		t.Errorf("sum within tolerance should not warn, got %v", priced.Warnings)
	}

	def.Positions[0].Weight = d(0.5002)
	priced, err = Price(def, techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(priced.Warnings) != 1 {
		t.Errorf("sum beyond tolerance should warn, got %v", priced.Warnings)
	}
}

// --- Normalization properties ---

func TestPrice_GrossNormalizationSumsToOne(t *testing.T) {
	tolerance := decimal.New(1, -9)
	weightSets := [][]float64{
		{0.5, 0.3, 0.2},
		{1, 1, 1},
		{0.7, -0.3, 0.2},
		{-1, 2, -0.5},
		{0.0001, 5000},
		{0, 0.4, 0.6},
	}

	for _, weights := range weightSets {
		def := model.BasketDefinition{BasketName: "P", BaseCurrency: "USD"}
		quotes := map[string]model.Quote{}
		tickers := []string{"AAPL", "MSFT", "GOOGL"}
		for i, w := range weights {
			def.Positions = append(def.Positions, model.Position{Ticker: tickers[i], Weight: d(w)})
			quotes[tickers[i]] = model.Quote{Ticker: tickers[i], Price: d(100), Currency: "USD"}
		}

		priced, err := Price(def, quotes, noFx(), asOf)
		if err != nil {
			t.Fatalf("weights %v: unexpected error: %v", weights, err)
		}
		sum := decimal.Zero
		for _, pp := range priced.Positions {
			sum = sum.Add(pp.NormalizedWeight.Abs())
		}
		if sum.Sub(d(1)).Abs().GreaterThan(tolerance) {
			t.Errorf("weights %v: Σ|normalized| = %s, want 1", weights, sum)
		}
	}
}

func TestPrice_AllZeroWeights(t *testing.T) {
	def := model.BasketDefinition{
		BasketName:   "Zero",
		BaseCurrency: "USD",
		Positions: []model.Position{
			{Ticker: "AAPL", Weight: decimal.Zero},
			{Ticker: "MSFT", Weight: decimal.Zero},
		},
	}
	_, err := Price(def, techQuotes(), noFx(), asOf)
	if !errors.Is(err, ErrDegenerateWeights) {
		t.Fatalf("expected ErrDegenerateWeights, got %v", err)
	}
}

func TestPrice_DuplicateTickersSummed(t *testing.T) {
	def := model.BasketDefinition{
		BasketName:   "Dup",
		BaseCurrency: "USD",
		Positions: []model.Position{
			{Ticker: "AAPL", Weight: d(0.25)},
			{Ticker: "AAPL", Weight: d(0.25)},
			{Ticker: "MSFT", Weight: d(0.5)},
		},
	}
	priced, err := Price(def, techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(priced.Positions) != 3 {
		t.Fatalf("each occurrence keeps its own breakdown row, got %d", len(priced.Positions))
	}
	if !priced.NetWeightSum.Equal(d(1)) {
		t.Errorf("duplicate weights sum into the totals, got %s", priced.NetWeightSum)
	}
	// 0.25×150 + 0.25×150 + 0.5×300 = 225
	if !priced.GrossValue.Equal(d(225)) {
		t.Errorf("expected gross value 225, got %s", priced.GrossValue)
	}
}

// --- Error taxonomy ---

func TestPrice_UnknownInstrument(t *testing.T) {
	def := techDefinition()
	def.Positions = append(def.Positions, model.Position{Ticker: "ZZZZ", Weight: d(0.1)})

	_, err := Price(def, techQuotes(), noFx(), asOf)
	var unknown *UnknownInstrumentError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownInstrumentError, got %v", err)
	}
	if unknown.Ticker != "ZZZZ" {
		t.Errorf("expected ticker ZZZZ, got %s", unknown.Ticker)
	}
}

func TestPrice_MissingFxRate(t *testing.T) {
	def := model.BasketDefinition{
		BasketName:   "FX",
		BaseCurrency: "USD",
		Positions:    []model.Position{{Ticker: "SAP", Weight: d(1)}},
	}
	quotes := map[string]model.Quote{
		"SAP": {Ticker: "SAP", Price: d(180), Currency: "EUR"},
	}

	_, err := Price(def, quotes, noFx(), asOf)
	var missing *MissingFxRateError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFxRateError, got %v", err)
	}
	want := model.CurrencyPair{From: "EUR", To: "USD"}
	if missing.Pair != want {
		t.Errorf("expected pair %s, got %s", want, missing.Pair)
	}
}

func TestPrice_FxConversion(t *testing.T) {
	def := model.BasketDefinition{
		BasketName:   "FX",
		BaseCurrency: "USD",
		Positions:    []model.Position{{Ticker: "SAP", Weight: d(1)}},
	}
	quotes := map[string]model.Quote{
		"SAP": {Ticker: "SAP", Price: d(200), Currency: "EUR"},
	}
	pair := model.CurrencyPair{From: "EUR", To: "USD"}
	fx := map[model.CurrencyPair]model.FxRate{
		pair: {Pair: pair, Rate: d(1.087)},
	}

	priced, err := Price(def, quotes, fx, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !priced.Positions[0].FxRateToBase.Equal(d(1.087)) {
		t.Errorf("expected fx rate 1.087, got %s", priced.Positions[0].FxRateToBase)
	}
	if !priced.Positions[0].PriceInBase.Equal(d(217.4)) {
		t.Errorf("expected price in base 217.4, got %s", priced.Positions[0].PriceInBase)
	}
}

func TestPrice_InverseFxFallback(t *testing.T) {
	def := model.BasketDefinition{
		BasketName:   "FX",
		BaseCurrency: "EUR",
		Positions:    []model.Position{{Ticker: "AAPL", Weight: d(1)}},
	}
	quotes := usdQuotes(map[string]float64{"AAPL": 150})
	// Only the opposite direction is available.
	pair := model.CurrencyPair{From: "EUR", To: "USD"}
	fx := map[model.CurrencyPair]model.FxRate{
		pair: {Pair: pair, Rate: d(1.25)},
	}

	priced, err := Price(def, quotes, fx, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := d(1).Div(d(1.25))
	if !priced.Positions[0].FxRateToBase.Equal(want) {
		t.Errorf("expected inverted rate %s, got %s", want, priced.Positions[0].FxRateToBase)
	}
}

// --- Notional allocation ---

func TestPrice_NotionalAllocation(t *testing.T) {
	def := techDefinition()
	notional := d(1000000)
	def.Notional = &notional

	priced, err := Price(def, techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Contributions scale so they sum exactly to the notional.
	if priced.GrossValue.Sub(notional).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("expected gross value %s, got %s", notional, priced.GrossValue)
	}

	// shares[AAPL] = (0.5 × 150 × 1,000,000/189) / 150
	wantContribution := notional.Mul(d(75)).Div(d(189))
	wantShares := wantContribution.Div(d(150))
	aapl := priced.Positions[0]
	if aapl.Shares == nil {
		t.Fatal("expected shares with a notional")
	}
	if aapl.Contribution.Sub(wantContribution).Abs().GreaterThan(d(0.001)) {
		t.Errorf("expected contribution ≈ %s, got %s", wantContribution, aapl.Contribution)
	}
	if aapl.Shares.Sub(wantShares).Abs().GreaterThan(d(0.001)) {
		t.Errorf("expected shares ≈ %s, got %s", wantShares, *aapl.Shares)
	}
	if aapl.PositionNotional == nil {
		t.Fatal("expected position notional with a notional")
	}
}

func TestPrice_FractionalSharesKept(t *testing.T) {
	def := techDefinition()
	notional := d(1000)
	def.Notional = &notional

	priced, err := Price(def, techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, pp := range priced.Positions {
		if pp.Shares == nil {
			t.Fatalf("positions[%d]: missing shares", i)
		}
		if pp.Shares.Equal(pp.Shares.Floor()) {
			t.Logf("positions[%d]: shares happen to be whole: %s", i, pp.Shares)
		}
	}
	// 1000/189 × 0.5×150 / 150 = 2.6455...
	if priced.Positions[0].Shares.Sub(d(2.6455)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("expected fractional shares ≈ 2.6455, got %s", priced.Positions[0].Shares)
	}
}

func TestPrice_NotionalZeroBasketValueFails(t *testing.T) {
	def := model.BasketDefinition{
		BasketName:   "Offset",
		BaseCurrency: "USD",
		Positions: []model.Position{
			{Ticker: "AAPL", Weight: d(0.5)},
			{Ticker: "AAPL", Weight: d(-0.5)},
		},
	}
	notional := d(1000)
	def.Notional = &notional

	_, err := Price(def, techQuotes(), noFx(), asOf)
	if !errors.Is(err, ErrDegenerateWeights) {
		t.Fatalf("expected ErrDegenerateWeights for zero basket value with notional, got %v", err)
	}

	// Without a notional the same basket is priceable at value zero.
	def.Notional = nil
	priced, err := Price(def, techQuotes(), noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error without notional: %v", err)
	}
	if !priced.GrossValue.IsZero() {
		t.Errorf("expected zero gross value, got %s", priced.GrossValue)
	}
}

// --- Determinism ---

func TestPrice_Idempotent(t *testing.T) {
	def := techDefinition()
	def.Positions[2].Weight = d(0.1) // include a warning in the comparison
	notional := d(500000)
	def.Notional = &notional
	quotes := techQuotes()
	fx := noFx()

	first, err := Price(def, quotes, fx, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Price(def, quotes, fx, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("pricing is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

// --- Overrides and helpers ---

func TestPrice_PositionPriceOverride(t *testing.T) {
	override := d(175.5)
	def := model.BasketDefinition{
		BasketName:   "Override",
		BaseCurrency: "USD",
		Positions: []model.Position{
			{Ticker: "AAPL", Weight: d(1), Price: &override},
		},
	}

	// No quote snapshot needed at all.
	priced, err := Price(def, map[string]model.Quote{}, noFx(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !priced.Positions[0].Price.Equal(override) {
		t.Errorf("expected override price %s, got %s", override, priced.Positions[0].Price)
	}
	if !priced.GrossValue.Equal(d(175.5)) {
		t.Errorf("expected gross value 175.5, got %s", priced.GrossValue)
	}
}

func TestMergeOverrides_DoesNotMutateSnapshot(t *testing.T) {
	def := model.BasketDefinition{
		MarketData: []model.QuoteOverride{{Ticker: "AAPL", Price: d(999), Currency: "USD"}},
		FxRates:    []model.FxOverride{{BaseCurrency: "EUR", QuoteCurrency: "USD", Rate: d(2)}},
	}
	quotes := techQuotes()
	fx := noFx()

	merged, mergedFx := MergeOverrides(def, quotes, fx)

	if !merged["AAPL"].Price.Equal(d(999)) {
		t.Errorf("expected override to win, got %s", merged["AAPL"].Price)
	}
	if !quotes["AAPL"].Price.Equal(d(150)) {
		t.Errorf("shared snapshot was mutated: %s", quotes["AAPL"].Price)
	}
	pair := model.CurrencyPair{From: "EUR", To: "USD"}
	if !mergedFx[pair].Rate.Equal(d(2)) {
		t.Errorf("expected fx override, got %v", mergedFx[pair])
	}
	if len(fx) != 0 {
		t.Errorf("shared fx snapshot was mutated: %v", fx)
	}
}

func TestRequiredTickers(t *testing.T) {
	override := d(100)
	def := model.BasketDefinition{
		Positions: []model.Position{
			{Ticker: "aapl", Weight: d(0.3)},
			{Ticker: "AAPL", Weight: d(0.3)},
			{Ticker: "MSFT", Weight: d(0.2), Price: &override},
			{Ticker: "GOOGL", Weight: d(0.2)},
		},
	}
	got := RequiredTickers(def)
	want := []string{"AAPL", "GOOGL"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestRequiredPairs(t *testing.T) {
	def := model.BasketDefinition{
		BaseCurrency: "USD",
		Positions: []model.Position{
			{Ticker: "AAPL", Weight: d(0.5)},
			{Ticker: "SAP", Weight: d(0.3)},
			{Ticker: "SONY", Weight: d(0.2)},
		},
	}
	quotes := map[string]model.Quote{
		"AAPL": {Ticker: "AAPL", Currency: "USD", Price: d(150)},
		"SAP":  {Ticker: "SAP", Currency: "EUR", Price: d(180)},
		"SONY": {Ticker: "SONY", Currency: "JPY", Price: d(12000)},
	}
	got := RequiredPairs(def, quotes)
	want := []model.CurrencyPair{
		{From: "EUR", To: "USD"},
		{From: "JPY", To: "USD"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
