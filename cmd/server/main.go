// Command server runs the dealer negotiation HTTP API.
//
// Configuration comes from the environment (see internal/config); a .env
// file in the working directory is loaded first when present.
//
// @title       Dealer Negotiation API
// @version     1.0
// @description Buy/sell negotiations and order chats between customers and the dealership.
// @BasePath    /api/v1
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
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/dealer-negotiation-backend/internal/config"
	httpapi "github.com/tbourn/dealer-negotiation-backend/internal/http"
	"github.com/tbourn/dealer-negotiation-backend/internal/observability"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/services"
	"github.com/tbourn/dealer-negotiation-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg(".env not loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, attribute.String("db.system", cfg.DB.Driver))
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DB, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	typing, err := services.NewTypingService(ctx, cfg.TypingTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("typing store init failed")
	}
	defer typing.Close()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	svcs := httpapi.RegisterRoutes(r, db, cfg, typing)

	// The dealer identity must exist before the first negotiation; a failure
	// here is retried lazily on first use.
	if seller, err := svcs.Identities.GetOrCreateSeller(ctx); err != nil {
		log.Warn().Err(err).Msg("dealer identity not seeded")
	} else {
		log.Info().Str("dealer_id", seller.ID).Msg("dealer identity ready")
	}
	if cfg.Dealer.StaffAPIKey == "" {
		log.Warn().Msg("STAFF_API_KEY is empty; staff endpoints are unreachable")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("db", cfg.DB.Driver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
}
