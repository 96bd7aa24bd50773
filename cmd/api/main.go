package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lattices/api/internal/app"
	"lattices/api/internal/config"
	"lattices/api/internal/email"
	"lattices/api/internal/logging"
	"lattices/api/internal/provision"
	"lattices/api/internal/search"
	"lattices/api/internal/store"
	"lattices/api/internal/store/memstore"
	"lattices/api/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, nil)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]app.Pinger{}

	var factory store.Factory
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn().Msg("using in-memory store, data is lost on exit")
		mem := memstore.New()
		factory = mem
		checks["database"] = mem
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		for _, version := range applied {
			logger.Info().Str("version", version).Msg("applied migration")
		}

		pg := store.NewPostgresStore(db)
		factory = pg
		checks["database"] = pg
	}

	var cache app.ProvisionCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := provision.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisCache.Close()
		logger.Info().Msg("using redis for the provisioning cache")
		cache = redisCache
		checks["redis"] = redisCache
	} else {
		cache = provision.NewMemoryCache()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	index := search.NewService(meiliClient, logger)

	var mailer app.InvitationMailer
	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: "Lattices",
		AppURL:   cfg.AppURL,
	})
	if mail.IsConfigured() {
		mailer = mail
	} else {
		logger.Info().Msg("smtp not configured, invitation emails disabled")
	}

	services := app.New(app.Options{
		Factory:            factory,
		Logger:             logger,
		ProvisionCache:     cache,
		TodoIndex:          index,
		Mailer:             mailer,
		DedupWindow:        cfg.DedupWindow,
		NotificationExpiry: cfg.NotificationExpiry,
		InvitationTTL:      cfg.InvitationTTL,
	})

	cleanup := worker.NewCleanupWorker(
		services.Notifications,
		services.Invitations,
		cfg.CleanupInterval,
		cfg.CleanupBatchSize,
		logger,
	)
	go cleanup.Start(ctx)

	httpServer := app.NewHTTPServer(checks, logger.With().Str("component", "http").Logger())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("lattices api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
