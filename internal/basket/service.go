package basket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deltaone/basket-engine/internal/metrics"
	"github.com/deltaone/basket-engine/internal/model"
	"github.com/deltaone/basket-engine/internal/pricing"
	"github.com/deltaone/basket-engine/internal/quote"
	"github.com/deltaone/basket-engine/internal/store"
)

// Service handles basket operations. Pricing happens outside the store
// lock; the store swap is atomic, so concurrent replaces on one id resolve
// to exactly one submitted definition.
type Service struct {
	store   store.Store
	source  quote.Source
	timeout time.Duration // bound on quote source fetches
}

// NewService creates a new basket service.
func NewService(st store.Store, src quote.Source, quoteTimeout time.Duration) *Service {
	return &Service{
		store:   st,
		source:  src,
		timeout: quoteTimeout,
	}
}

// priceDefinition fetches a quote snapshot for one definition and runs the
// pricing engine over it. The fetch carries a bounded timeout; the engine
// itself is synchronous CPU work.
func (s *Service) priceDefinition(ctx context.Context, def model.BasketDefinition) (model.PricedBasket, error) {
	start := time.Now()
	priced, err := s.priceOnce(ctx, def)
	metrics.PricingDuration.Observe(time.Since(start).Seconds())
	metrics.PricingRequests.WithLabelValues(pricingStatus(err)).Inc()
	return priced, err
}

func (s *Service) priceOnce(ctx context.Context, def model.BasketDefinition) (model.PricedBasket, error) {
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	quotes, err := s.source.FetchQuotes(fctx, pricing.RequiredTickers(def))
	if err != nil {
		metrics.QuoteFetchErrors.Inc()
		return model.PricedBasket{}, err
	}
	fx, err := s.source.FetchFxRates(fctx, pricing.RequiredPairs(def, quotes))
	if err != nil {
		metrics.QuoteFetchErrors.Inc()
		return model.PricedBasket{}, err
	}

	q, f := pricing.MergeOverrides(def, quotes, fx)
	return pricing.Price(def, q, f, time.Now().UTC())
}

func pricingStatus(err error) string {
	var unknownInstrument *pricing.UnknownInstrumentError
	var missingFx *pricing.MissingFxRateError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &unknownInstrument):
		return "unknown_instrument"
	case errors.As(err, &missingFx):
		return "missing_fx_rate"
	case errors.Is(err, pricing.ErrDegenerateWeights):
		return "degenerate_weights"
	case errors.Is(err, quote.ErrUnavailable):
		return "source_unavailable"
	default:
		return "error"
	}
}

// --- HTTP Handlers ---

// CreateBasket handles POST /baskets
func (s *Service) CreateBasket(w http.ResponseWriter, r *http.Request) {
	var def model.BasketDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	if err := ValidateDefinition(&def); err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	priced, err := s.priceDefinition(ctx, def)
	if err != nil {
		writePricingError(w, err)
		return
	}

	id := uuid.New().String()
	priced.BasketID = id
	if err := s.store.Create(ctx, &model.StoredBasket{
		BasketID:   id,
		Definition: def,
		Pricing:    priced,
	}); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	metrics.ActiveBaskets.Inc()

	slog.Info("basket created",
		"basket_id", id,
		"name", def.BasketName,
		"base_currency", def.BaseCurrency,
		"positions", len(def.Positions),
		"gross_value", priced.GrossValue.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(priced)
}

// ReplaceBasket handles PUT and PATCH /baskets/{basketID}
func (s *Service) ReplaceBasket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "basketID")
	ctx := r.Context()

	// Reject unknown ids before doing any pricing work.
	if _, err := s.store.Get(ctx, id); err != nil {
		writeError(w, "basket not found", http.StatusNotFound)
		return
	}

	var def model.BasketDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	if err := ValidateDefinition(&def); err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	priced, err := s.priceDefinition(ctx, def)
	if err != nil {
		writePricingError(w, err)
		return
	}
	priced.BasketID = id

	if _, err := s.store.Replace(ctx, id, def, priced); err != nil {
		writePricingError(w, err)
		return
	}

	slog.Info("basket replaced",
		"basket_id", id,
		"name", def.BasketName,
		"gross_value", priced.GrossValue.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(priced)
}

// GetBasket handles GET /baskets/{basketID}
func (s *Service) GetBasket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "basketID")

	sb, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, "basket not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sb.Pricing)
}

// ListBaskets handles GET /baskets
// Returns the latest pricing snapshot of every basket in insertion order.
func (s *Service) ListBaskets(w http.ResponseWriter, r *http.Request) {
	baskets, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, "failed to list baskets", http.StatusInternalServerError)
		return
	}

	out := make([]model.PricedBasket, 0, len(baskets))
	for _, sb := range baskets {
		out = append(out, sb.Pricing)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// PriceBasket handles POST /pricing/basket
// One-shot pricing: the basket is valued but never stored and gets no id.
func (s *Service) PriceBasket(w http.ResponseWriter, r *http.Request) {
	var def model.BasketDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	if err := ValidateDefinition(&def); err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	priced, err := s.priceDefinition(r.Context(), def)
	if err != nil {
		writePricingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(priced)
}

// GetMarketQuote handles GET /market-data/{ticker}
func (s *Service) GetMarketQuote(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	fctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	quotes, err := s.source.FetchQuotes(fctx, []string{ticker})
	if err != nil {
		writePricingError(w, err)
		return
	}
	q, ok := quotes[strings.ToUpper(ticker)]
	if !ok {
		writeError(w, "no market data available for "+ticker, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writePricingError maps pricing and store errors onto HTTP statuses:
// data errors are 400, unknown ids 404, an unreachable quote source 503.
func writePricingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "basket not found", http.StatusNotFound)
	case errors.Is(err, quote.ErrUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusBadRequest)
	}
}
