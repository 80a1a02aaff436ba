package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"

	"github.com/newsalert/billing-portal/api/config"
	"github.com/newsalert/billing-portal/api/database"
	billingapp "github.com/newsalert/billing-portal/api/services/billing/app"
	billingdb "github.com/newsalert/billing-portal/api/services/billing/db"
	stripegw "github.com/newsalert/billing-portal/api/services/billing/gateway/stripe"
	"github.com/newsalert/billing-portal/api/services/billing/lock"
	"github.com/newsalert/billing-portal/api/services/billing/mail"
)

var billingService billingapp.Service
var redisClient *redis.Client
var healthServer = health.NewServer()
var initOnce sync.Once
var initErr error

// Init initializes config, database, and third-party clients, and wires services.
func Init() error {
	// If a service has already been injected (e.g., tests), do not override or init heavy deps.
	if billingService != nil {
		return nil
	}
	var err error
	if config.AppConfig == nil {
		config.AppConfig, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := config.AppConfig
	SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	if err := database.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(ctx, database.GetDB()); err != nil {
		return err
	}

	gateway := stripegw.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret, stripegw.Backoff{
		MaxAttempts: cfg.Billing.RateLimitMaxAttempts,
		BaseDelay:   cfg.Billing.RateLimitBaseDelay,
	})

	var locker lock.Locker = lock.Noop{}
	if cfg.RedisURL != "" {
		redisClient, err = lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = lock.NewRedisLocker(redisClient, cfg.Billing.OwnerLockTTL)
	} else {
		slog.Warn("REDIS_URL not set, owner operations rely on version checks only")
	}

	mailer, err := mail.New(ctx, cfg.Mail)
	if err != nil {
		return fmt.Errorf("failed to configure mail: %w", err)
	}

	billingService = billingapp.NewService(
		billingdb.New(database.GetDB()),
		gateway,
		billingapp.SettingsFromConfig(*cfg),
		billingapp.WithLocker(locker),
		billingapp.WithMailer(mailer),
	)
	return nil
}

func GetBillingService() billingapp.Service { return billingService }

// HealthServer is shared by the gRPC listener and the HTTP /healthz endpoint.
func HealthServer() *health.Server { return healthServer }

// SetBillingService allows tests to inject a stub implementation.
func SetBillingService(s billingapp.Service) { billingService = s }

// Ensure runs Init() once per process and returns any initialization error.
func Ensure() error {
	initOnce.Do(func() {
		initErr = Init()
	})
	return initErr
}

// Close releases the connections opened by Init.
func Close() {
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Warn("redis close failed", "err", err)
		}
	}
	if conn := database.GetDB(); conn != nil {
		if err := conn.Close(); err != nil {
			slog.Warn("database close failed", "err", err)
		}
	}
}

// SetupLogger installs the process-wide slog default. format is "json" or "text".
func SetupLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h).With("service", "billing-portal")
	slog.SetDefault(logger)
	return logger
}
