// Package broadcast drives the periodic re-pricing of every stored basket
// and fans the resulting snapshots out to live-feed subscribers over SSE
// and WebSocket.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/deltaone/basket-engine/internal/metrics"
	"github.com/deltaone/basket-engine/internal/model"
	"github.com/deltaone/basket-engine/internal/pricing"
	"github.com/deltaone/basket-engine/internal/quote"
	"github.com/deltaone/basket-engine/internal/store"
)

// subscriberBuffer bounds the per-subscriber channel. A subscriber that
// falls this many ticks behind is dropped rather than delaying delivery.
const subscriberBuffer = 4

// Broadcaster owns the tick loop and the subscriber registry. It acts as a
// plain store client: re-priced snapshots go through Store.UpdatePricing so
// list and get reads observe the same data the feed delivers.
type Broadcaster struct {
	store    store.Store
	source   quote.Source
	hub      *WSHub
	interval time.Duration
	timeout  time.Duration

	mu   sync.Mutex
	subs map[chan []model.PricedBasket]struct{}
}

// New creates a broadcaster. hub may be nil if no WebSocket feed is wired.
func New(st store.Store, src quote.Source, hub *WSHub, interval, timeout time.Duration) *Broadcaster {
	return &Broadcaster{
		store:    st,
		source:   src,
		hub:      hub,
		interval: interval,
		timeout:  timeout,
		subs:     make(map[chan []model.PricedBasket]struct{}),
	}
}

// Subscribe registers a live-feed subscriber. The returned cancel function
// is idempotent and must be called when the subscriber goes away. Only
// ticks after the subscription are delivered; there is no backfill.
func (b *Broadcaster) Subscribe() (<-chan []model.PricedBasket, func()) {
	ch := make(chan []model.PricedBasket, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	metrics.StreamSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			// publish may have dropped the subscriber already and owns the
			// gauge decrement in that case.
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
				metrics.StreamSubscribers.Dec()
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// publish delivers one tick batch to every subscriber without blocking.
// A full buffer means the subscriber has stalled; it is dropped so the
// tick never waits on a slow consumer.
func (b *Broadcaster) publish(batch []model.PricedBasket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- batch:
		default:
			delete(b.subs, ch)
			close(ch)
			metrics.StreamSubscribers.Dec()
			slog.Warn("dropping stalled stream subscriber")
		}
	}
}

// Run executes the tick loop until the context is cancelled. Data errors
// are contained per tick and per basket; only a cancelled context stops
// the loop.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	slog.Info("broadcast scheduler started", "interval", b.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("broadcast scheduler stopped")
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// tick re-prices every stored basket against one shared quote snapshot and
// broadcasts the ordered batch. Baskets that fail to price are excluded
// from the batch and keep their previous snapshot in the store.
func (b *Broadcaster) tick(ctx context.Context) {
	baskets, err := b.store.List(ctx)
	if err != nil {
		slog.Error("broadcast tick: list baskets", "err", err)
		metrics.BroadcastTicks.WithLabelValues("error").Inc()
		return
	}
	if len(baskets) == 0 {
		metrics.BroadcastTicks.WithLabelValues("empty").Inc()
		return
	}

	quotes, fx, err := b.fetchSnapshot(ctx, baskets)
	if err != nil {
		slog.Warn("broadcast tick: quote snapshot unavailable", "err", err)
		metrics.QuoteFetchErrors.Inc()
		metrics.BroadcastTicks.WithLabelValues("unavailable").Inc()
		return
	}

	asOf := time.Now().UTC()
	batch := make([]model.PricedBasket, 0, len(baskets))
	for _, sb := range baskets {
		q, f := pricing.MergeOverrides(sb.Definition, quotes, fx)
		priced, err := pricing.Price(sb.Definition, q, f, asOf)
		if err != nil {
			// Last good snapshot stays readable in the store.
			slog.Warn("broadcast tick: basket pricing failed",
				"basket_id", sb.BasketID,
				"basket_name", sb.Definition.BasketName,
				"err", err,
			)
			continue
		}
		priced.BasketID = sb.BasketID
		if err := b.store.UpdatePricing(ctx, sb.BasketID, priced); err != nil {
			slog.Warn("broadcast tick: update pricing", "basket_id", sb.BasketID, "err", err)
			continue
		}
		batch = append(batch, priced)
	}

	if len(batch) > 0 {
		b.publish(batch)
		if b.hub != nil {
			b.hub.BroadcastBatch(batch)
		}
	}
	metrics.BroadcastTicks.WithLabelValues("ok").Inc()
}

// fetchSnapshot performs the single batched quote/FX fetch shared by every
// basket in the tick, under the configured timeout.
func (b *Broadcaster) fetchSnapshot(ctx context.Context, baskets []model.StoredBasket) (map[string]model.Quote, map[model.CurrencyPair]model.FxRate, error) {
	seen := make(map[string]bool)
	var tickers []string
	for _, sb := range baskets {
		for _, t := range pricing.RequiredTickers(sb.Definition) {
			if !seen[t] {
				seen[t] = true
				tickers = append(tickers, t)
			}
		}
	}

	fctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	quotes, err := b.source.FetchQuotes(fctx, tickers)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch quotes: %w", err)
	}

	seenPairs := make(map[model.CurrencyPair]bool)
	var pairs []model.CurrencyPair
	for _, sb := range baskets {
		for _, p := range pricing.RequiredPairs(sb.Definition, quotes) {
			if !seenPairs[p] {
				seenPairs[p] = true
				pairs = append(pairs, p)
			}
		}
	}

	fx, err := b.source.FetchFxRates(fctx, pairs)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch fx rates: %w", err)
	}
	return quotes, fx, nil
}

// HandleStream handles GET /baskets/stream as Server-Sent Events: one
// `data:` event per broadcast tick carrying the JSON batch. The connection
// stays open until the client disconnects.
func (b *Broadcaster) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := b.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case batch, open := <-ch:
			if !open {
				// Dropped for falling behind.
				return
			}
			data, err := json.Marshal(batch)
			if err != nil {
				slog.Error("stream: marshal batch", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
