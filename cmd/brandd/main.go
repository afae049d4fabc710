// Command brandd runs the brand-intelligence conversational server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/actors"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/config"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/llm"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/observability"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/scheduler"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/server"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/sessions"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/store"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	metrics := observability.NewMetrics()

	ctx, cancel := signalContext()
	defer cancel()

	bootCtx, bootCancel := context.WithTimeout(ctx, 15*time.Second)
	defer bootCancel()
	mongo, err := store.Connect(bootCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = mongo.Close(closeCtx)
	}()

	cache := store.NewCache(bootCtx, mongo, metrics, logger)
	campaigns := mongo.Collection("campaign_posts")
	tracked := mongo.Collection("tracked_creators")

	actorClient := actors.NewClient(cfg.ApifyBaseURL, cfg.ApifyToken, cfg.ActorTimeout, logger)

	registry := agent.NewRegistry(metrics, logger)
	if err := tools.RegisterAll(registry, tools.Deps{
		Cache:     cache,
		Actors:    actorClient,
		Campaigns: campaigns,
		Logger:    logger,
	}); err != nil {
		return err
	}
	registry.OnSuccess(tools.AutoEnrollHook(tracked, logger))

	// The provider is a lazy handle: a missing API key surfaces on the
	// first chat request, not here.
	gemini := llm.NewLazy(cfg.GeminiAPIKey, cfg.LLMModel, metrics)

	orchestrator := agent.NewOrchestrator(gemini, registry, logger)

	sessionStore := sessions.NewStore(
		sessions.WithLimits(cfg.MaxSessions, cfg.SessionTTL),
		sessions.WithMetrics(metrics),
	)
	sessionStore.Start(ctx)

	sched := scheduler.New(logger)
	if err := scheduler.RegisterJobs(sched, scheduler.JobDeps{
		Registry:  registry,
		Campaigns: campaigns,
		Hashtags:  cfg.HomeHashtags,
		Logger:    logger,
	}); err != nil {
		return err
	}
	sched.Start(ctx)

	srv := server.New(orchestrator, sessionStore, mongo, metrics, logger,
		cfg.CORSOrigin, cfg.RequestTimeout)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port, "model", cfg.LLMModel)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = sched.Stop(shutdownCtx)
	return httpServer.Shutdown(shutdownCtx)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}
