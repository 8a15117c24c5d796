package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/premisehq/premise/pkg/api"
	"github.com/premisehq/premise/pkg/audit"
	"github.com/premisehq/premise/pkg/auth"
	"github.com/premisehq/premise/pkg/config"
	"github.com/premisehq/premise/pkg/middleware"
	"github.com/premisehq/premise/pkg/notify"
	"github.com/premisehq/premise/pkg/observability"
	"github.com/premisehq/premise/pkg/orgs"
	"github.com/premisehq/premise/pkg/rbac"
	"github.com/premisehq/premise/pkg/sso"
	"github.com/premisehq/premise/pkg/visitors"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	for _, migrate := range []func(context.Context, *sql.DB) error{
		auth.Migrate, orgs.Migrate, visitors.Migrate, audit.Migrate,
	} {
		if err := migrate(ctx, db); err != nil {
			logger.WithError(err).Error("migration failed")
			os.Exit(1)
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Error("failed to create audit logger")
		os.Exit(1)
	}
	defer auditLog.Close()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	store := auth.NewPostgresStore(db)
	resolver := rbac.NewResolver(store, rbac.DefaultResolverConfig())
	orgService := orgs.NewService(db, resolver)
	gate := rbac.NewGate(resolver, orgService, auditLog)

	totp := auth.NewTOTPManager(auth.DefaultTOTPConfig(cfg.Auth.TOTPIssuer))
	verifier := auth.NewVerifier(store, totp, auditLog, auth.VerifierConfig{
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutWindow:    cfg.Auth.LockoutWindow,
	})
	tokens := auth.NewTokenService(store, auth.TokenTTLs{
		auth.PurposeForgotPassword:     cfg.Auth.ForgotPasswordTokenTTL,
		auth.PurposeDisableTotp:        cfg.Auth.DisableTotpTokenTTL,
		auth.PurposeLinkAccountAzureAD: cfg.Auth.LinkAccountTokenTTL,
	})
	if metrics != nil {
		tokens.WithMetrics(metrics)
		gate.WithMetrics(metrics)
	}
	mailer := &notify.LogSender{Logger: logger.Slog()}
	authService := auth.NewService(store, verifier, tokens, totp, mailer, auditLog, resolver, auth.ServiceConfig{
		SessionTTL: cfg.Auth.SessionTTL,
		BaseURL:    cfg.Server.BaseURL,
	})

	var ssoService *sso.Service
	if cfg.Azure.Enabled {
		provider, err := sso.NewAzureProvider(ctx, sso.AzureConfig{
			TenantID:     cfg.Azure.TenantID,
			ClientID:     cfg.Azure.ClientID,
			ClientSecret: cfg.Azure.ClientSecret,
			RedirectURL:  cfg.Azure.RedirectURL,
		})
		if err != nil {
			logger.WithError(err).Error("failed to configure Azure SSO")
			os.Exit(1)
		}
		ssoService = sso.NewService(provider, authService)
		logger.Info("Azure SSO enabled")
	}

	var loginRateLimit *middleware.LoginRateLimitMiddleware
	if redisClient != nil {
		loginRateLimit = middleware.NewLoginRateLimitMiddleware(redisClient, nil)
	}

	server := api.NewServer(api.Dependencies{
		Auth:           authService,
		Store:          store,
		Orgs:           orgService,
		Visitors:       visitors.NewService(db),
		Gate:           gate,
		SSO:            ssoService,
		AuthMiddleware: middleware.NewAuthMiddleware(store),
		LoginRateLimit: loginRateLimit,
		Metrics:        metrics,
		Logger:         logger,
	})

	handler := withRequestContext(server, logger, auditLog)

	// Hourly cleanup of expired tokens and sessions
	scheduler := cron.New()
	_, err = scheduler.AddFunc("@hourly", func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := store.DeleteExpiredTokens(cleanupCtx, time.Now()); err != nil {
			logger.WithError(err).Warn("token cleanup failed")
		} else if n > 0 {
			logger.WithField("deleted", n).Info("expired tokens removed")
		}
		if n, err := store.DeleteExpiredSessions(cleanupCtx, time.Now()); err != nil {
			logger.WithError(err).Warn("session cleanup failed")
		} else if n > 0 {
			logger.WithField("deleted", n).Info("expired sessions removed")
		}
		if metrics != nil {
			metrics.UpdateDBStats(db)
		}
	})
	if err != nil {
		logger.WithError(err).Error("failed to schedule cleanup")
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient)
	healthMux.HandleFunc("/health", checker.Readiness)
	healthMux.HandleFunc("/health/live", checker.Liveness)
	healthMux.HandleFunc("/health/ready", checker.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", appServer.Addr).Info("server listening")
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := appServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown failed")
	}
}

// withRequestContext seeds each request's context with the logger and audit
// sink the handlers pull back out.
func withRequestContext(next http.Handler, logger *observability.Logger, auditLog audit.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithLogger(r.Context(), logger)
		ctx = audit.WithLogger(ctx, auditLog)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
