package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Monday     MondayConfig
	Harvest    HarvestConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	Actions    ActionsConfig
	TLS        TLSConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MondayConfig struct {
	SigningSecret string
	APIURL        string
	FileURL       string
}

type HarvestConfig struct {
	APIURL       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	UserAgent    string
	// AccountID is sent as Harvest-Account-Id when set.
	AccountID string
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled              bool
	PropagationTimes     []string
	TokenRefreshTimes    []string
	WorkerCount          int
	JobDelay             time.Duration
	JobTimeout           time.Duration
	QueueSize            int
	RunOnStartup         bool
	UpdatedSinceOverlap  time.Duration
	PageDelay            time.Duration
	TokenRefreshWindow   time.Duration
	SubscriptionListener bool
}

type ActionsConfig struct {
	Timeout      time.Duration
	MessagesFile string
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
	// SampleRatio is the fraction of root traces kept, 0 to 1.
	SampleRatio float64
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// source backs getEnv. It is rebuilt on every Load so tests see fresh env.
var source *koanf.Koanf

// loadSource layers the optional YAML file under the process environment.
// Keys are the lower-cased env names, so `db_host: x` in YAML equals DB_HOST=x.
func loadSource() (*koanf.Koanf, error) {
	k := koanf.New(".")

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		log.Printf("Loaded configuration file %s", path)
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	return k, nil
}

func Load() (*Config, error) {
	k, err := loadSource()
	if err != nil {
		return nil, err
	}
	source = k

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", "0s")
	if err != nil {
		return nil, err
	}
	schedulerJobTimeout, err := getDurationEnv("SCHEDULER_JOB_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}
	overlap, err := getDurationEnv("PROPAGATION_OVERLAP", "60m")
	if err != nil {
		return nil, err
	}
	pageDelay, err := getDurationEnv("PROPAGATION_PAGE_DELAY", "1s")
	if err != nil {
		return nil, err
	}
	refreshWindow, err := getDurationEnv("TOKEN_REFRESH_WINDOW", "30m")
	if err != nil {
		return nil, err
	}
	actionTimeout, err := getDurationEnv("ACTION_TIMEOUT", "3m")
	if err != nil {
		return nil, err
	}

	logMaxSize, err := getIntEnv("LOG_MAX_SIZE_MB", 50)
	if err != nil {
		return nil, err
	}
	logMaxBackups, err := getIntEnv("LOG_MAX_BACKUPS", 5)
	if err != nil {
		return nil, err
	}
	logMaxAge, err := getIntEnv("LOG_MAX_AGE_DAYS", 28)
	if err != nil {
		return nil, err
	}
	sampleRatio, err := getFloatEnv("OTEL_SAMPLE_RATIO", 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: splitList(getEnv("ALLOWED_HOSTS", "")),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "harvestsync"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "harvestsync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Monday: MondayConfig{
			SigningSecret: getEnv("MONDAY_SIGNING_SECRET", ""),
			APIURL:        getEnv("MONDAY_API_URL", "https://api.monday.com/v2"),
			FileURL:       getEnv("MONDAY_FILE_URL", "https://api.monday.com/v2/file"),
		},
		Harvest: HarvestConfig{
			APIURL:       getEnv("HARVEST_API_URL", "https://api.harvestapp.com/v2"),
			TokenURL:     getEnv("HARVEST_TOKEN_URL", "https://id.getharvest.com/api/v2/oauth2/token"),
			ClientID:     getEnv("HARVEST_CLIENT_ID", ""),
			ClientSecret: getEnv("HARVEST_CLIENT_SECRET", ""),
			UserAgent:    getEnv("HARVEST_USER_AGENT", "harvestsync"),
			AccountID:    getEnv("HARVEST_ACCOUNT_ID", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:              getBoolEnv("SCHEDULER_ENABLED", true),
			PropagationTimes:     splitList(getEnv("PROPAGATION_SCHEDULE", "*:00,*:15,*:30,*:45")),
			TokenRefreshTimes:    splitList(getEnv("TOKEN_REFRESH_SCHEDULE", "*:00,*:10,*:30")),
			WorkerCount:          schedulerWorkers,
			JobDelay:             schedulerJobDelay,
			JobTimeout:           schedulerJobTimeout,
			QueueSize:            schedulerQueueSize,
			RunOnStartup:         getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
			UpdatedSinceOverlap:  overlap,
			PageDelay:            pageDelay,
			TokenRefreshWindow:   refreshWindow,
			SubscriptionListener: getBoolEnv("SUBSCRIPTION_LISTENER_ENABLED", true),
		},
		Actions: ActionsConfig{
			Timeout:      actionTimeout,
			MessagesFile: getEnv("MESSAGES_FILE", ""),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "harvestsync"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
			SampleRatio:  sampleRatio,
		},
		Log: LogConfig{
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  logMaxSize,
			MaxBackups: logMaxBackups,
			MaxAgeDays: logMaxAge,
		},
	}

	if cfg.Monday.SigningSecret == "" {
		return nil, fmt.Errorf("MONDAY_SIGNING_SECRET is required")
	}
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
	}

	if cfg.Scheduler.Enabled {
		if len(cfg.Scheduler.PropagationTimes) == 0 {
			return nil, fmt.Errorf("PROPAGATION_SCHEDULE must list at least one time")
		}
		if len(cfg.Scheduler.TokenRefreshTimes) == 0 {
			return nil, fmt.Errorf("TOKEN_REFRESH_SCHEDULE must list at least one time")
		}
	}

	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1, got %v", cfg.Telemetry.SampleRatio)
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if source == nil {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return defaultValue
	}
	if value := source.String(strings.ToLower(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDurationEnv(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
