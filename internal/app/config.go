package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for the tier refresh lock; empty disables cross-process locking" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Pricing      PricingConfig
	TierRefresh  TierRefreshConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig selects how best-discount candidates are enumerated.
type PricingConfig struct {
	Exhaustive bool `default:"false" usage:"Also evaluate coupon+membership+points stacks in best-discount search"`
}

// TierRefreshConfig controls the membership tier refresh job.
type TierRefreshConfig struct {
	Schedule  string        `default:"" usage:"Cron expression for scheduled refresh; empty disables scheduling"`
	BatchSize int           `default:"200" usage:"Customers per page"`
	Workers   int           `default:"4" usage:"Concurrent customer evaluations"`
	Timeout   time.Duration `default:"10m" usage:"Overall run timeout"`
	LockTTL   time.Duration `default:"15m" usage:"Distributed lock lifetime"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if c.TierRefresh.Schedule != "" {
		if _, err := cron.ParseStandard(c.TierRefresh.Schedule); err != nil {
			return errors.Wrapf(err, "invalid tier refresh schedule %q", c.TierRefresh.Schedule)
		}
	}
	if c.TierRefresh.Timeout <= 0 {
		return errors.New("tier refresh timeout must be positive")
	}
	if c.TierRefresh.LockTTL <= c.TierRefresh.Timeout {
		return errors.Errorf("tier refresh lock ttl %s must exceed timeout %s",
			c.TierRefresh.LockTTL, c.TierRefresh.Timeout)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
