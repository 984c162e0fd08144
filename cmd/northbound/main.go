// Command northbound runs the partner-facing gateway: it authenticates
// AK/SK-signed requests, virtualizes partner identifiers onto internal keys,
// and fronts the chat execution engine.
//
// Startup order: env → config → logging → database → tracing → router →
// HTTP server with graceful shutdown.
//
// @title        Northbound Partner Gateway API
// @version      1.0
// @description  Partner-facing request authentication and identity virtualization layer.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	_ "github.com/skylark-labs/northbound/docs"
	"github.com/skylark-labs/northbound/internal/config"
	httpapi "github.com/skylark-labs/northbound/internal/http"
	"github.com/skylark-labs/northbound/internal/observability"
	"github.com/skylark-labs/northbound/internal/repo"
	"github.com/skylark-labs/northbound/internal/services"
	"github.com/skylark-labs/northbound/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Local development convenience; absence of .env is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	switch cfg.Auth.Mode {
	case config.AuthModeTrustedIssuer:
		log.Warn().Msg("AUTH_MODE=trusted-issuer: bearer token signatures are NOT verified")
	case config.AuthModeBypass:
		log.Error().Msg("AUTH_MODE=bypass: all requests run as a fixed development identity")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	// Expired idempotency records are dead weight; sweep them hourly.
	go purgeIdempotencyLoop(ctx, db)

	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, services.NewLocalChatRunner(), cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("auth_mode", cfg.Auth.Mode).Msg("northbound gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}

// purgeIdempotencyLoop deletes expired idempotency records on a fixed
// interval until ctx is cancelled.
func purgeIdempotencyLoop(ctx context.Context, db *gorm.DB) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency records")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("purged expired idempotency records")
			}
		}
	}
}
