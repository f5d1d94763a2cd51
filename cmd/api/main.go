package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zakisheriff/One-Deploy/internal/app/migrate"
	httpx "github.com/zakisheriff/One-Deploy/internal/http"
	"github.com/zakisheriff/One-Deploy/internal/provider/github"
	"github.com/zakisheriff/One-Deploy/internal/provider/vercel"
	"github.com/zakisheriff/One-Deploy/internal/repository/postgres"
	"github.com/zakisheriff/One-Deploy/internal/service/auth"
	"github.com/zakisheriff/One-Deploy/internal/service/deploy"
	"github.com/zakisheriff/One-Deploy/internal/service/logs"
	"github.com/zakisheriff/One-Deploy/internal/service/reconcile"
	"github.com/zakisheriff/One-Deploy/internal/service/webhook"
	"github.com/zakisheriff/One-Deploy/internal/ws"
	"github.com/zakisheriff/One-Deploy/pkg/config"
	"github.com/zakisheriff/One-Deploy/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	providerHTTP := &http.Client{Timeout: cfg.ProviderTimeout}
	vercelClient := vercel.New(cfg.VercelToken, log,
		vercel.WithBaseURL(cfg.VercelAPIURL),
		vercel.WithTeamID(cfg.VercelTeamID),
		vercel.WithHTTPClient(providerHTTP),
	)
	githubClient := github.New(github.WithBaseURL(cfg.GitHubAPIURL), github.WithHTTPClient(providerHTTP))

	logSvc := logs.New(repo, ws.NewHub(), log)
	authSvc := auth.New(repo, repo, githubClient, auth.NewOAuthConfig(cfg), log, cfg)
	deploySvc := deploy.New(repo, repo, repo, vercelClient, logSvc, log, cfg.DefaultFramework)
	reconciler := reconcile.New(repo, repo, vercelClient, logSvc, log)
	webhookSvc := webhook.New(cfg.GitHubWebhookSecret, repo, authSvc, deploySvc, log)
	if strings.TrimSpace(cfg.GitHubWebhookSecret) == "" {
		log.Warn("GITHUB_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	if sweeper := reconcile.NewSweeper(repo, reconciler, log, cfg.ReconcileSweepSchedule, cfg.ReconcileStaleAfter); sweeper != nil {
		go func() {
			if err := sweeper.Run(ctx); err != nil {
				log.Error("reconcile sweeper failed", "error", err)
			}
		}()
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Logger:        log,
		Auth:          authSvc,
		Deploy:        deploySvc,
		Reconcile:     reconciler,
		Logs:          logSvc,
		Webhook:       webhookSvc,
		Limiter:       limiter,
		DBHealth:      pool.Ping,
		SecureCookies: cfg.IsProduction(),
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
