package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/loverose/auth-service/internal/core/port"
	"github.com/loverose/auth-service/internal/infra/config"
	"github.com/loverose/auth-service/internal/infra/database"
	kafkainfra "github.com/loverose/auth-service/internal/infra/kafka"
	"github.com/loverose/auth-service/internal/infra/logger"
	"github.com/loverose/auth-service/internal/infra/notification"
	redisinfra "github.com/loverose/auth-service/internal/infra/redis"
	"github.com/loverose/auth-service/internal/infra/security"
	"github.com/loverose/auth-service/internal/infra/telemetry"
	postgresrepo "github.com/loverose/auth-service/internal/repository/postgres"
	redisrepo "github.com/loverose/auth-service/internal/repository/redis"
	"github.com/loverose/auth-service/internal/transport/http/middleware"
	"github.com/loverose/auth-service/internal/transport/http/routes"
	"github.com/loverose/auth-service/internal/usecase"
)

// Application owns the wired service graph and its lifecycle.
type Application struct {
	cfg     *config.AppConfig
	engine  *gin.Engine
	logger  *zap.Logger
	pool    *pgxpool.Pool
	redis   *redisinfra.Client
	tracer  *telemetry.TracerProvider
	tokens  *postgresrepo.TokenRepository
	metrics *telemetry.Metrics
}

// New builds the application from configuration: connections, repositories,
// services, and the HTTP router.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init key provider: %w", err)
	}

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if err := security.ConfigureArgon2(argonCfg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)
	identityCache := redisrepo.NewIdentityCache(redisClient.Client(), cfg.Redis.IdentityStatePrefix)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "auth:rate-limit",
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	metrics := telemetry.NewMetrics()

	tokenService := usecase.NewTokenService(cfg, keyProvider)
	authService := usecase.NewAuthService(cfg, repos.Users, repos.Tokens, rateLimitStore, eventPublisher, identityCache, tokenService, metrics, log)
	authorizeService := usecase.NewAuthorizeService(cfg, repos.Users, identityCache, tokenService, log)

	resetNotifier := notification.NewLoggingResetNotifier(log)
	passwordResetService := usecase.NewPasswordResetService(cfg, repos.Users, repos.Tokens, rateLimitStore, eventPublisher, resetNotifier, identityCache, metrics, log)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     httpMetrics,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:          authService,
			Authorize:     authorizeService,
			PasswordReset: passwordResetService,
		},
	})

	return &Application{
		cfg:     cfg,
		engine:  engine,
		logger:  log,
		pool:    pool,
		redis:   redisClient,
		tracer:  tracer,
		tokens:  repos.Tokens,
		metrics: metrics,
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.tracer.Shutdown(shutdownCtx)
		}
	}()

	pruneCtx, stopPruner := context.WithCancel(ctx)
	defer stopPruner()
	go a.pruneExpiredTokens(pruneCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// pruneExpiredTokens periodically removes refresh and reset token rows whose
// expiry fell outside the retention window. Revoked rows inside the window
// are kept so reuse of a dead token is still detectable.
func (a *Application) pruneExpiredTokens(ctx context.Context) {
	if !a.cfg.Pruning.Enabled || a.tokens == nil {
		return
	}

	interval := a.cfg.Pruning.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	retain := a.cfg.Pruning.Retain
	if retain < 0 {
		retain = 0
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retain)
			removed, err := a.tokens.DeleteExpiredTokens(ctx, cutoff)
			if err != nil {
				a.logger.Warn("prune expired tokens failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				if a.metrics != nil && a.metrics.TokensPruned != nil {
					a.metrics.TokensPruned.Add(float64(removed))
				}
				a.logger.Info("pruned expired token records", zap.Int("removed", removed))
			}
		}
	}
}
