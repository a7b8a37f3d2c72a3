package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/deltaone/basket-engine/internal/basket"
	"github.com/deltaone/basket-engine/internal/broadcast"
	"github.com/deltaone/basket-engine/internal/metrics"
	"github.com/deltaone/basket-engine/internal/quote"
	"github.com/deltaone/basket-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	quoteTimeout := durationEnv("QUOTE_TIMEOUT", 5*time.Second)
	interval := durationEnv("BROADCAST_INTERVAL", 5*time.Second)
	cacheTTL := durationEnv("QUOTE_CACHE_TTL", 3*time.Second)

	var cleanup []func()

	// --- Quote source ---
	// A missing API token is not an error: it silently selects the static
	// fallback dataset.
	var src quote.Source
	if token := os.Getenv("EODHD_API_TOKEN"); token != "" {
		src = quote.NewLiveSource(token, "", &http.Client{Timeout: quoteTimeout})
		slog.Info("live quote source enabled")
	} else {
		src = quote.NewStaticSource()
		slog.Warn("EODHD_API_TOKEN not set, using static fallback quotes")
	}

	// Optional Redis read-through quote cache.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		src = quote.NewCachedSource(src, rdb, cacheTTL)
		slog.Info("Redis quote cache enabled", "ttl", cacheTTL.String())
	}

	// Serve the last good snapshot when a fetch fails or times out.
	src = quote.NewLastGoodSource(src)

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Store and services ---
	st := store.NewMemoryStore()
	svc := basket.NewService(st, src, quoteTimeout)

	wsHub := broadcast.NewWSHub()
	go wsHub.Run()

	bc := broadcast.New(st, src, wsHub, interval, quoteTimeout)
	bcCtx, bcCancel := context.WithCancel(context.Background())
	defer bcCancel()
	go bc.Run(bcCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"basket-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Live feeds. The stream endpoint holds connections open for the
	// lifetime of the subscriber; no request timeout middleware applies.
	r.Get("/baskets/stream", bc.HandleStream)
	r.Get("/ws", wsHub.HandleWS)

	// Basket management.
	r.Post("/baskets", svc.CreateBasket)
	r.Get("/baskets", svc.ListBaskets)
	r.Get("/baskets/{basketID}", svc.GetBasket)
	r.Put("/baskets/{basketID}", svc.ReplaceBasket)
	r.Patch("/baskets/{basketID}", svc.ReplaceBasket)

	// One-shot pricing and quote lookup.
	r.Post("/pricing/basket", svc.PriceBasket)
	r.Get("/market-data/{ticker}", svc.GetMarketQuote)

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("basket-engine listening", "port", port, "interval", interval.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bcCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down basket-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("basket-engine stopped")
}

// durationEnv reads a duration env var, falling back on parse failure.
func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
		return fallback
	}
	return d
}
