// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/browser"
	"github.com/alqutdigital/tender-watch/internal/crawler"
	"github.com/alqutdigital/tender-watch/internal/notify"
	"github.com/alqutdigital/tender-watch/internal/realtime"
	"github.com/alqutdigital/tender-watch/internal/scheduler"
	"github.com/alqutdigital/tender-watch/internal/storage"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database storage.PostgresConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Storage  StorageConfig
	Browser  browser.Config
	Crawler  crawler.Config
	Notify   notify.Config
	Schedule ScheduleConfig
	Log      logger.Config
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// RequestsPerMinute caps API requests per client address; 0 disables.
	RequestsPerMinute int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	storage.RedisConfig
	Enabled bool
	RunTTL  time.Duration
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	realtime.NATSConfig
	Enabled bool
}

// StorageConfig holds object storage configuration for page snapshots.
type StorageConfig struct {
	storage.MinIOConfig
	Enabled bool
}

// ScheduleConfig holds the cron schedule of unattended crawls.
type ScheduleConfig struct {
	Enabled bool
	Specs   map[announcement.Category]string
	// RunTimeout bounds each scheduled crawl.
	RunTimeout time.Duration
}

// Load reads an optional .env file, then configuration from environment
// variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds configuration from environment variables only.
func FromEnv() (*Config, error) {
	browserDefaults := browser.DefaultConfig()
	crawlDefaults := crawler.DefaultConfig()
	notifyDefaults := notify.DefaultConfig()
	natsDefaults := realtime.DefaultNATSConfig()

	specs, err := parseSpecs(getEnv("SCHEDULE_SPECS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			Environment:       getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout:   getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RequestsPerMinute: getEnvAsInt("API_REQUESTS_PER_MINUTE", 60),
		},
		Database: storage.PostgresConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "tender_watch"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		},
		Redis: RedisConfig{
			RedisConfig: storage.RedisConfig{
				Host:     getEnv("REDIS_HOST", "localhost"),
				Port:     getEnvAsInt("REDIS_PORT", 6379),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
			Enabled: getEnvAsBool("REDIS_ENABLED", true),
			RunTTL:  getEnvAsDuration("RUN_STATUS_TTL", 7*24*time.Hour),
		},
		NATS: NATSConfig{
			NATSConfig: realtime.NATSConfig{
				URL:            getEnv("NATS_URL", natsDefaults.URL),
				Name:           getEnv("NATS_NAME", natsDefaults.Name),
				MaxReconnects:  natsDefaults.MaxReconnects,
				ReconnectWait:  natsDefaults.ReconnectWait,
				ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", natsDefaults.ConnectTimeout),
				MaxAge:         getEnvAsDuration("NATS_MAX_AGE", natsDefaults.MaxAge),
			},
			Enabled: getEnvAsBool("NATS_ENABLED", false),
		},
		Storage: StorageConfig{
			MinIOConfig: storage.MinIOConfig{
				Endpoint:        getEnv("STORAGE_ENDPOINT", "localhost:9000"),
				AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
				SecretAccessKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
				BucketName:      getEnv("STORAGE_BUCKET", "tender-watch"),
				UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
				Region:          getEnv("STORAGE_REGION", "us-east-1"),
			},
			Enabled: getEnvAsBool("STORAGE_ENABLED", false),
		},
		Browser: browser.Config{
			Headless:        getEnvAsBool("BROWSER_HEADLESS", browserDefaults.Headless),
			ExecPath:        getEnv("BROWSER_EXEC_PATH", ""),
			ProxyHost:       getEnv("PROXY_HOST", ""),
			ProxyPort:       getEnvAsInt("PROXY_PORT", 0),
			UserAgents:      getEnvAsList("BROWSER_USER_AGENTS", browserDefaults.UserAgents),
			PageLoadTimeout: getEnvAsDuration("BROWSER_PAGE_LOAD_TIMEOUT", browserDefaults.PageLoadTimeout),
			ElementTimeout:  getEnvAsDuration("BROWSER_ELEMENT_TIMEOUT", browserDefaults.ElementTimeout),
			DownloadDir:     getEnv("BROWSER_DOWNLOAD_DIR", browserDefaults.DownloadDir),
			WindowWidth:     browserDefaults.WindowWidth,
			WindowHeight:    browserDefaults.WindowHeight,
		},
		Crawler: crawler.Config{
			TargetURL:        getEnv("CRAWLER_TARGET_URL", crawlDefaults.TargetURL),
			NavLabel:         getEnv("CRAWLER_NAV_LABEL", crawlDefaults.NavLabel),
			ElementTimeout:   getEnvAsDuration("BROWSER_ELEMENT_TIMEOUT", crawlDefaults.ElementTimeout),
			PollInterval:     crawlDefaults.PollInterval,
			Interval:         getEnvAsRange("CRAWLER_INTERVAL", crawlDefaults.Interval),
			ScrollSettle:     crawlDefaults.ScrollSettle,
			ListSettle:       getEnvAsRange("CRAWLER_LIST_SETTLE", crawlDefaults.ListSettle),
			ClickSettle:      getEnvAsRange("CRAWLER_CLICK_SETTLE", crawlDefaults.ClickSettle),
			BackSettle:       getEnvAsRange("CRAWLER_BACK_SETTLE", crawlDefaults.BackSettle),
			RecordGap:        getEnvAsRange("CRAWLER_RECORD_GAP", crawlDefaults.RecordGap),
			DetailSnapshot:   getEnvAsBool("CRAWLER_DETAIL_SNAPSHOT", false),
			ArchiveSnapshots: getEnvAsBool("STORAGE_ENABLED", false),
		},
		Notify: notify.Config{
			Enabled:   getEnvAsBool("DINGTALK_ENABLED", false),
			Webhook:   getEnv("DINGTALK_WEBHOOK", ""),
			Secret:    getEnv("DINGTALK_SECRET", ""),
			Timeout:   getEnvAsDuration("DINGTALK_TIMEOUT", notifyDefaults.Timeout),
			PerMinute: getEnvAsInt("DINGTALK_PER_MINUTE", notifyDefaults.PerMinute),
		},
		Schedule: ScheduleConfig{
			Enabled:    getEnvAsBool("SCHEDULE_ENABLED", true),
			Specs:      specs,
			RunTimeout: getEnvAsDuration("SCHEDULE_RUN_TIMEOUT", 2*time.Hour),
		},
		Log: logger.Config{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Notify.Enabled && c.Notify.Webhook == "" {
		return errors.New("DINGTALK_WEBHOOK must be set when DINGTALK_ENABLED is true")
	}
	if c.Crawler.TargetURL == "" {
		return errors.New("CRAWLER_TARGET_URL must not be empty")
	}
	if (c.Browser.ProxyHost == "") != (c.Browser.ProxyPort == 0) {
		return errors.New("PROXY_HOST and PROXY_PORT must be set together")
	}
	for name, r := range map[string]crawler.Range{
		"CRAWLER_INTERVAL":     c.Crawler.Interval,
		"CRAWLER_LIST_SETTLE":  c.Crawler.ListSettle,
		"CRAWLER_CLICK_SETTLE": c.Crawler.ClickSettle,
		"CRAWLER_BACK_SETTLE":  c.Crawler.BackSettle,
		"CRAWLER_RECORD_GAP":   c.Crawler.RecordGap,
	} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("%s: invalid range %s-%s", name, r.Min, r.Max)
		}
	}
	if c.Server.Environment == "production" && c.Database.Password == "" {
		return errors.New("DB_PASSWORD must be set in production")
	}
	return nil
}

// parseSpecs reads "CATEGORY=spec;CATEGORY=spec". Categories may be given by
// code or URL key. An empty value yields the default schedule.
func parseSpecs(v string) (map[announcement.Category]string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		out := make(map[announcement.Category]string, len(scheduler.DefaultSpecs))
		for c, s := range scheduler.DefaultSpecs {
			out[c] = s
		}
		return out, nil
	}

	out := make(map[announcement.Category]string)
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, spec, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(spec) == "" {
			return nil, fmt.Errorf("SCHEDULE_SPECS: malformed entry %q", part)
		}
		c, err := announcement.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("SCHEDULE_SPECS: %w", err)
		}
		out[c] = strings.TrimSpace(spec)
	}
	return out, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, "|") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsRange reads "min-max" durations, e.g. "3s-8s".
func getEnvAsRange(key string, defaultValue crawler.Range) crawler.Range {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	lo, hi, ok := strings.Cut(value, "-")
	if !ok {
		return defaultValue
	}
	from, err1 := time.ParseDuration(strings.TrimSpace(lo))
	to, err2 := time.ParseDuration(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil {
		return defaultValue
	}
	return crawler.Range{Min: from, Max: to}
}
