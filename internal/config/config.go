package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/db"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

// DefaultPath is used when CONFIG_PATH is unset
const DefaultPath = "config/visibility.yaml"

// EnvPrefix prefixes every environment override, e.g. VISIBILITY_SCORING_RECENCY_HALF_LIFE_DAYS
const EnvPrefix = "VISIBILITY"

// Job names understood by the scheduler
const (
	JobVisibilityScore   = "visibility-score"
	JobCompetitorRefresh = "competitor-refresh"
	JobURLPerformance    = "url-performance"
	JobDailySummary      = "daily-summary"
)

// Config is the full service configuration
type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	HTTP        HTTPConfig          `mapstructure:"http" yaml:"http"`
	Database    db.Config           `mapstructure:"database" yaml:"database"`
	Redis       RedisConfig         `mapstructure:"redis" yaml:"redis"`
	Scoring     visibility.Params   `mapstructure:"scoring" yaml:"scoring"`
	URLs        urlnorm.Options     `mapstructure:"urls" yaml:"urls"`
	Competitors competitors.Options `mapstructure:"competitors" yaml:"competitors"`
	RateLimit   RateLimitConfig     `mapstructure:"rate_limit" yaml:"rate_limit"`
	Idempotency IdempotencyConfig   `mapstructure:"idempotency" yaml:"idempotency"`
	Jobs        map[string]Job      `mapstructure:"jobs" yaml:"jobs"`
	Tracing     tracing.Config      `mapstructure:"tracing" yaml:"tracing"`

	CronSecret string `mapstructure:"cron_secret" yaml:"-"`
}

// HTTPConfig holds listener ports and timeouts
type HTTPConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	HealthPort   int           `mapstructure:"health_port" yaml:"health_port"`
	MetricsPort  int           `mapstructure:"metrics_port" yaml:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// RedisConfig locates the cache. URL wins over Addr when both are set.
type RedisConfig struct {
	URL      string `mapstructure:"url" yaml:"-"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// Options builds client options from URL, or from Addr when URL is empty
func (r RedisConfig) Options() (*redis.Options, error) {
	if r.URL != "" {
		opts, err := redis.ParseURL(r.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	if r.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	return &redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB}, nil
}

// RateLimitConfig bounds gateway traffic
type RateLimitConfig struct {
	// Per client, shared through Redis
	RequestsPerWindow int           `mapstructure:"requests_per_window" yaml:"requests_per_window"`
	Window            time.Duration `mapstructure:"window" yaml:"window"`
	// Per target domain, in process
	RefreshPerSecond float64 `mapstructure:"refresh_per_second" yaml:"refresh_per_second"`
	RefreshBurst     int     `mapstructure:"refresh_burst" yaml:"refresh_burst"`
}

// IdempotencyConfig controls replay of ingest responses
type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// Job configures one scheduled job
type Job struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.health_port", 8081)
	v.SetDefault("http.metrics_port", 2112)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)

	v.SetDefault("database.driver", db.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "visibility")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "visibility")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "visibility.db")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	p := visibility.DefaultParams()
	v.SetDefault("scoring.recency_half_life_days", p.RecencyHalfLifeDays)
	v.SetDefault("scoring.recency_window_days", p.RecencyWindowDays)
	v.SetDefault("scoring.position_decay_range", p.PositionDecayRange)

	v.SetDefault("urls.keep_query_params", []string{})

	v.SetDefault("competitors.concurrency", 4)
	v.SetDefault("competitors.cache_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.requests_per_window", 120)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.refresh_per_second", 0.2)
	v.SetDefault("rate_limit.refresh_burst", 2)

	v.SetDefault("idempotency.ttl", 24*time.Hour)

	v.SetDefault("jobs", map[string]interface{}{
		JobVisibilityScore:   map[string]interface{}{"enabled": true, "schedule": "0 3 * * *"},
		JobCompetitorRefresh: map[string]interface{}{"enabled": true, "schedule": "30 3 * * *"},
		JobURLPerformance:    map[string]interface{}{"enabled": true, "schedule": "0 4 * * *"},
		JobDailySummary:      map[string]interface{}{"enabled": true, "schedule": "0 5 * * *"},
	})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "visibility-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("cron_secret", "")
}

// Path returns CONFIG_PATH or DefaultPath
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the file at path, applies defaults and environment overrides.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyConnectionEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyConnectionEnv lets the conventional deployment variables win over the file
func applyConnectionEnv(cfg *Config) {
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)

	cfg.Database.Host = getEnvOrDefault("POSTGRES_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvOrDefaultInt("POSTGRES_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("POSTGRES_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("POSTGRES_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("POSTGRES_DB", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.URL = getEnvOrDefault("REDIS_URL", cfg.Redis.URL)
	cfg.CronSecret = getEnvOrDefault("CRON_SECRET", cfg.CronSecret)
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var problems []string
	if c.Scoring.RecencyHalfLifeDays <= 0 {
		problems = append(problems, "scoring.recency_half_life_days must be positive")
	}
	if c.Scoring.RecencyWindowDays <= 0 {
		problems = append(problems, "scoring.recency_window_days must be positive")
	}
	if c.Scoring.PositionDecayRange <= 0 {
		problems = append(problems, "scoring.position_decay_range must be positive")
	}
	if c.Database.Driver != db.DriverPostgres && c.Database.Driver != db.DriverSQLite {
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Competitors.Concurrency < 0 {
		problems = append(problems, "competitors.concurrency must not be negative")
	}
	for name, job := range c.Jobs {
		if job.Enabled && strings.TrimSpace(job.Schedule) == "" {
			problems = append(problems, fmt.Sprintf("jobs.%s.schedule is empty", name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// YAML renders the effective configuration without secrets
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
