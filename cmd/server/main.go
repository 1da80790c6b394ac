package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sermonforge/server/internal/ai"
	"github.com/sermonforge/server/internal/auth"
	"github.com/sermonforge/server/internal/billing"
	"github.com/sermonforge/server/internal/config"
	"github.com/sermonforge/server/internal/gateway"
	"github.com/sermonforge/server/internal/ledger"
	"github.com/sermonforge/server/internal/notes"
	"github.com/sermonforge/server/internal/quota"
	"github.com/sermonforge/server/internal/respcache"
	"github.com/sermonforge/server/internal/subscription"
	"github.com/sermonforge/server/internal/transcribe"
	"github.com/sermonforge/server/pkg/cache"
	"github.com/sermonforge/server/pkg/database"
	"github.com/sermonforge/server/pkg/events"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting SermonForge server")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	redisCache, err := cache.NewCache(cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()
	logger.Info("connected to Redis")

	eventBus := events.NewBus(logger)

	// Stores and domain services
	usageLedger := ledger.New(redisCache, logger)
	responseCache := respcache.New(redisCache, logger)
	subs := subscription.NewPostgresStore(db)
	gate := quota.NewGate(subs, usageLedger, logger)

	provider, err := ai.NewGeminiProvider(cfg.AI)
	if err != nil {
		logger.Fatal("failed to initialize AI provider", zap.Error(err))
	}
	aiGateway := ai.NewGateway(provider, responseCache, gate, usageLedger, eventBus, logger, cfg.AI.MaxOutputTokens)

	transcriber, err := transcribe.NewWhisperProvider(cfg.Transcribe)
	if err != nil {
		logger.Fatal("failed to initialize transcription provider", zap.Error(err))
	}

	authSvc := auth.NewService(auth.NewPostgresStore(db), cfg.Security)
	noteStore := notes.NewPostgresStore(db)

	planTiers := map[string]subscription.Tier{
		cfg.Billing.PremiumPlanID: subscription.TierPremium,
	}
	webhookHandler := billing.NewWebhookHandler(cfg.Billing.WebhookSecret, subs, planTiers, redisCache, eventBus, logger)
	logger.Info("initialized webhook handler")

	gw := gateway.NewGateway(db, redisCache, logger, authSvc, noteStore, aiGateway, gate, transcriber, webhookHandler, cfg.Monitoring.MetricsPath)
	logger.Info("initialized API gateway")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gw,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server",
			zap.String("address", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
