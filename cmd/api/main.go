package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"astrocredits/internal/gating"
	"astrocredits/internal/http/handlers"
	"astrocredits/internal/http/httpapi"
	"astrocredits/internal/infra"
	"astrocredits/internal/infra/geoip"
	"astrocredits/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	st := store.FromConfig(ctx, cfg, logger)

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		// Rate limiting is optional; run unlimited rather than refuse to start.
		logger.Warn().Err(err).Msg("redis unavailable, ip rate limiting disabled")
	}

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, guest country disabled")
	}

	rules := gating.Rules{
		FreeTriesPerPeriod: cfg.FreeTriesPerPeriod,
		PeriodDays:         cfg.FreeTriesPeriodDays,
	}

	app := handlers.NewApp(logger, st, rules, geo, cfg.IPSalt)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Redis:           rdb,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Int("free_tries", cfg.FreeTriesPerPeriod).
			Int("period_days", cfg.FreeTriesPeriodDays).
			Msgf("credits API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info().Msg("server stopped")
}
