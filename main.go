package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	zero "github.com/rs/zerolog/log"

	"github.com/atolldev/atoll/internal/actors"
	"github.com/atolldev/atoll/internal/blocklist"
	"github.com/atolldev/atoll/internal/cache"
	"github.com/atolldev/atoll/internal/client"
	"github.com/atolldev/atoll/internal/config"
	db "github.com/atolldev/atoll/internal/db/impl"
	"github.com/atolldev/atoll/internal/delivery"
	"github.com/atolldev/atoll/internal/federation"
	"github.com/atolldev/atoll/internal/followers"
	"github.com/atolldev/atoll/internal/initialization"
	"github.com/atolldev/atoll/internal/ratelimit"
	"github.com/atolldev/atoll/internal/web"
	"github.com/atolldev/atoll/internal/wellknown"

	_ "github.com/mattn/go-sqlite3"
)

const blocklistCacheSize = 1024

func main() {
	zero.Logger = zero.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	cfg, err := config.ReadConfig()
	if err != nil {
		zero.Fatal().Err(err).Msg("unable to read configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	d, err := initialization.OpenDB(cfg.DbUrl)
	if err != nil {
		zero.Fatal().Err(err).Msg("unable to open database")
	}
	zero.Info().Msg("database connection established")

	if err = initialization.SetupDB(d, cfg.MigrationsFolder, cfg.DbUrl); err != nil {
		zero.Fatal().Err(err).Msg("unable to run migrations")
	}

	tasks, err := initialization.InitQueue(d)
	if err != nil {
		zero.Fatal().Err(err).Msg("unable to set up the task queue")
	}

	ctx := context.Background()
	clk := clock.New()
	store := db.New(cfg, d)

	registry := actors.NewRegistry(store, cfg)
	keys := actors.NewKeyManager(store, cfg.RsaKeySize)
	if err = initialization.EnsureInstanceActor(ctx, registry, keys); err != nil {
		zero.Fatal().Err(err).Msg("unable to set up the instance actor")
	}

	guard := blocklist.NewGuard(store, cache.NewFlags(
		blocklistCacheSize,
		time.Duration(cfg.BlocklistCacheTTLSeconds)*time.Second,
	), clk)
	limiter := ratelimit.NewLimiter(cache.NewCounters(clk), guard,
		cfg.RateLimitMaxAttempts,
		time.Duration(cfg.RateLimitWindowMinutes)*time.Minute,
	)

	httpClient := client.New(&http.Client{
		Timeout: time.Duration(cfg.DeliveryTimeoutSeconds) * time.Second,
	}, client.DefaultResolver())

	deliveries := delivery.NewLog(store, clk)
	queue := delivery.NewQueue(ctx, store, tasks, httpClient, keys, deliveries, cfg)

	followerStore := followers.NewStore(store)
	dispatcher := federation.NewDispatcher(store, followerStore, httpClient, queue)

	// Expired blocks are swept periodically; lookups already treat expired
	// rows as inactive in between sweeps.
	go func() {
		ticker := clk.Ticker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := guard.DeactivateExpired(ctx); err != nil {
				zero.Error().Err(err).Msg("blocklist sweep failed")
			} else if n > 0 {
				zero.Info().Int64("deactivated", n).Msg("blocklist sweep")
			}
		}
	}()

	handler := web.New(cfg, registry, keys, dispatcher, guard, limiter, deliveries, store)
	router := chi.NewRouter()
	handler.Mount(router)
	wellknown.Mount(wellknown.NewResolver(registry), router)

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	zero.Info().Uint16("port", cfg.Port).Str("domain", cfg.Domain).Msg("started server")
	if err = s.ListenAndServe(); err != nil {
		zero.Fatal().Err(err).Msg("server stopped")
	}
}
