package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "passgate/docs"
	"passgate/internal/config"
	"passgate/internal/database"
	"passgate/internal/handlers"
	"passgate/internal/logger"
	"passgate/internal/mailer"
	"passgate/internal/middleware"
	"passgate/internal/migrations"
	"passgate/internal/ratelimit"
	"passgate/internal/repositories"
	"passgate/internal/routes"
	"passgate/internal/services"
	"passgate/internal/workers"
)

// devSecret signs tokens when SECRET_KEY is unset outside production.
const devSecret = "dev-only-secret-change-me"

func Run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === DB ===
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()

	if cfg.Database.AutoMigrate {
		if err := migrate(ctx, db, log); err != nil {
			return err
		}
	}

	// === Mail ===
	dispatcher := mailer.NewDispatcher(newSender(cfg.Email, log), log.Named("mailer"), mailer.Options{
		Workers:     cfg.Email.Workers,
		QueueSize:   cfg.Email.QueueSize,
		SendTimeout: cfg.Email.SendTimeout,
	})
	dispatcher.Start()

	// === Repos ===
	userRepo := repositories.NewUserRepository(db)
	pendingRepo := repositories.NewPendingRegistrationRepository(db)
	changeRepo := repositories.NewPendingPasswordChangeRepository(db)

	// === Services ===
	secret := cfg.Security.SecretKey
	if secret == "" {
		log.Warn("SECRET_KEY is not set, using the development secret")
		secret = devSecret
	}
	authService := services.NewAuthService(services.AuthOptions{
		Secret:     []byte(secret),
		AccessTTL:  cfg.Security.AccessTokenTTL,
		RefreshTTL: cfg.Security.RefreshTokenTTL,
	})
	registrationService := services.NewRegistrationService(userRepo, pendingRepo, authService, dispatcher, log, services.RegistrationOptions{
		CodeTTL:        cfg.Security.CodeTTL,
		ResendCooldown: cfg.Security.ResendCooldown,
		MaxAttempts:    cfg.Security.MaxCodeAttempts,
	})
	passwordChangeService := services.NewPasswordChangeService(userRepo, changeRepo, authService, dispatcher, log, services.PasswordChangeOptions{
		TTL:         cfg.Security.PasswordChangeTTL,
		MaxAttempts: cfg.Security.MaxCodeAttempts,
	})
	sessionService := services.NewSessionService(userRepo, pendingRepo, authService, log)

	// === Background ===
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	sweeper := &workers.ExpirySweeper{
		Changes:   passwordChangeService,
		Pending:   pendingRepo,
		Interval:  cfg.Security.SweepInterval,
		Retention: cfg.Security.PendingRetention,
		Logger:    log.Named("sweeper"),
	}
	go sweeper.Run(bgCtx)

	limiter, closeLimiter := newLimiter(bgCtx, cfg.Redis, log)
	defer closeLimiter()

	// === Gin ===
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(requestid.New())
	router.Use(middleware.AccessLog(log.Named("http")))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	routes.SetupRoutes(router, routes.Deps{
		Auth:      handlers.NewAuthHandler(registrationService, sessionService, log),
		Account:   handlers.NewAccountHandler(sessionService, passwordChangeService, log),
		Admin:     handlers.NewAdminHandler(passwordChangeService, dispatcher, log),
		Health:    handlers.NewHealthHandler(db, log),
		Secret:    []byte(secret),
		APIKeys:   cfg.Security.APIKeys,
		Limiter:   limiter,
		Register:  ratelimit.RuleFromConfig(cfg.RateLimit.Register),
		Resend:    ratelimit.RuleFromConfig(cfg.RateLimit.Resend),
		Login:     ratelimit.RuleFromConfig(cfg.RateLimit.Login),
		Logger:    log,
		EnableDoc: !cfg.IsProduction(),
	})

	// === Run ===
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		// a little past the request deadline so the 503 body still goes out
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", zap.Error(err))
	}
	cancelBg()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn("mail queue not fully drained", zap.Error(err), zap.Any("stats", dispatcher.Stats()))
	}
	log.Info("server stopped")
	return nil
}

func migrate(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	runner, err := migrations.NewRunner(db, log.Named("migrations"))
	if err != nil {
		return err
	}
	if _, err := runner.Up(ctx); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func newSender(cfg config.EmailConfig, log *zap.Logger) mailer.Sender {
	if cfg.DryRun || !cfg.Configured() {
		log.Warn("smtp not configured, emails will only be logged", zap.Bool("dry_run", cfg.DryRun))
		return mailer.NewLogSender(log.Named("mailer"))
	}
	return mailer.NewSMTPSender(cfg)
}

// newLimiter uses Redis when an address is configured so limits hold
// across instances, and an in-process limiter otherwise.
func newLimiter(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (ratelimit.Limiter, func()) {
	if cfg.Addr == "" {
		l := ratelimit.NewMemoryLimiter()
		go l.Cleanup(ctx, 5*time.Minute, time.Hour)
		return l, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, rate limiting fails open until it recovers", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return ratelimit.NewRedisLimiter(client, "passgate:rl:"), func() { _ = client.Close() }
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Retry-After", "X-Request-ID"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}
	if len(origins) == 1 && origins[0] == "*" {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
