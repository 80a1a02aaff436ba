package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig holds the global application configuration
var AppConfig *Config

// Config holds the application configuration
type Config struct {
	DatabaseURL         string `env:"DATABASE_URL,required"`
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	// Optional: base URL for running remote HTTP integration tests (e.g., https://api.example.com)
	IntegrationBaseURL string `env:"INTEGRATION_BASE_URL"`
	// Server ports
	HTTPPort string `env:"PORT" envDefault:"8080"`
	GRPCPort string `env:"GRPC_PORT" envDefault:"50051"`

	// Public URL of the web app; trial links and redirects are built from it.
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	// Empty disables the Redis owner lock.
	RedisURL  string `env:"REDIS_URL"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Billing BillingConfig
	Mail    MailConfig
}

// BillingConfig is the recognised billing option surface.
type BillingConfig struct {
	AccountingStatuses []string `env:"VALID_SUBSCRIPTION_STATUSES" envDefault:"active,trialing,past_due,unpaid"`
	CheckoutStatuses   []string `env:"CHECKOUT_VALID_STATUSES" envDefault:"active,trialing"`

	LiteBaseSlots     int `env:"LITE_BASE_SLOTS" envDefault:"1"`
	BusinessBaseSlots int `env:"BUSINESS_BASE_SLOTS" envDefault:"4"`
	TrialBaseSlots    int `env:"TRIAL_BASE_SLOTS" envDefault:"1"`

	LiteProductIDs      []string `env:"LITE_PRODUCT_IDS"`
	BusinessProductIDs  []string `env:"BUSINESS_PRODUCT_IDS"`
	TrialPlanProductIDs []string `env:"TRIAL_PLAN_PRODUCT_IDS"`

	LitePriceMonthly     string `env:"LITE_PRICE_MONTHLY"`
	LitePriceYearly      string `env:"LITE_PRICE_YEARLY"`
	BusinessPriceMonthly string `env:"BUSINESS_PRICE_MONTHLY"`
	BusinessPriceYearly  string `env:"BUSINESS_PRICE_YEARLY"`

	LiteAddonProductIDs       []string `env:"LITE_ADDON_PRODUCT_IDS"`
	BusinessAddonProductIDs   []string `env:"BUSINESS_ADDON_PRODUCT_IDS"`
	LiteAddonPriceMonthly     string   `env:"LITE_ADDON_PRICE_MONTHLY"`
	LiteAddonPriceYearly      string   `env:"LITE_ADDON_PRICE_YEARLY"`
	BusinessAddonPriceMonthly string   `env:"BUSINESS_ADDON_PRICE_MONTHLY"`
	BusinessAddonPriceYearly  string   `env:"BUSINESS_ADDON_PRICE_YEARLY"`
	LiteAddonPaymentLink      string   `env:"LITE_ADDON_PAYMENT_LINK"`
	BusinessAddonPaymentLink  string   `env:"BUSINESS_ADDON_PAYMENT_LINK"`
	AddonMetadataKey          string   `env:"ADDON_PRODUCT_METADATA_KEY" envDefault:"addon"`

	TrialProductIDs []string      `env:"TRIAL_PRODUCT_IDS"`
	TrialDays       int64         `env:"TRIAL_DAYS" envDefault:"7"`
	TrialTokenTTL   time.Duration `env:"TRIAL_TOKEN_TTL" envDefault:"24h"`
	TrialDelivery   string        `env:"TRIAL_DELIVERY" envDefault:"email"`

	CacheTTLSeconds      int           `env:"CACHE_TTL_SECONDS" envDefault:"300"`
	RateLimitMaxAttempts int           `env:"STRIPE_RATE_LIMIT_MAX_ATTEMPTS" envDefault:"3"`
	RateLimitBaseDelay   time.Duration `env:"STRIPE_RATE_LIMIT_BASE_DELAY" envDefault:"500ms"`
	CustomerSearchLimit  int           `env:"CUSTOMER_SEARCH_LIMIT" envDefault:"10"`
	CheckoutSuccessURL   string        `env:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL    string        `env:"CHECKOUT_CANCEL_URL"`
	PortalReturnURL      string        `env:"PORTAL_RETURN_URL"`
	OwnerLockTTL         time.Duration `env:"OWNER_LOCK_TTL" envDefault:"15s"`
}

// MailConfig selects and configures the outbound mail driver.
type MailConfig struct {
	Driver               string `env:"MAIL_DRIVER" envDefault:"log"`
	From                 string `env:"MAIL_FROM" envDefault:"alerts@myanmarnewsalert.com"`
	ReplyTo              string `env:"MAIL_REPLY_TO"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SESRegion            string `env:"SES_REGION" envDefault:"us-east-1"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Try to load .env file from current directory and parent directories
	currentDir, _ := os.Getwd()
	for currentDir != "/" && currentDir != "." {
		envPath := filepath.Join(currentDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("failed to load .env file: %v", err)
			}
			break
		}
		currentDir = filepath.Dir(currentDir)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if cfg.Billing.TrialDelivery != "email" && cfg.Billing.TrialDelivery != "return" {
		return nil, fmt.Errorf("TRIAL_DELIVERY must be email or return, got %q", cfg.Billing.TrialDelivery)
	}
	return cfg, nil
}

// CacheTTL is the subscription cache lifetime.
func (b BillingConfig) CacheTTL() time.Duration {
	return time.Duration(b.CacheTTLSeconds) * time.Second
}
