/**
 * @description
 * Configuration for the induction-sync binaries (worker and ingest). Settings are read
 * with Viper from the environment or an optional .env file in the working directory.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 *
 * @notes
 * - A single flat Config struct serves both binaries; each binary validates only the keys
 *   it needs via ValidateWorker / ValidateIngest.
 * - HikCentral credentials and endpoints live here rather than in code so they can be
 *   rotated per deployment.
 */
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Worker modes.
const (
	ModeBatch  = "batch"
	ModeFanout = "fanout"
	ModePerson = "person"
)

// Config stores all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	RabbitMQURL        string        `mapstructure:"RABBITMQ_URL"`
	RabbitMQHeartbeat  time.Duration `mapstructure:"RABBITMQ_HEARTBEAT"`
	QueueName          string        `mapstructure:"QUEUE_NAME"`
	CreatePersonQueue  string        `mapstructure:"QUEUE_CREATE_PERSON"`
	DeadLetterExchange string        `mapstructure:"RABBITMQ_DEAD_LETTER_EXCHANGE"`

	WorkerMode        string `mapstructure:"WORKER_MODE"`
	WorkerConcurrency int    `mapstructure:"WORKER_CONCURRENCY"`
	MetricsAddr       string `mapstructure:"METRICS_ADDR"`

	HikvisionBaseURL        string        `mapstructure:"HIKVISION_BASE_URL"`
	HikvisionAppKey         string        `mapstructure:"HIKVISION_APP_KEY"`
	HikvisionAppSecret      string        `mapstructure:"HIKVISION_APP_SECRET"`
	HikvisionTLSInsecure    bool          `mapstructure:"HIKVISION_TLS_INSECURE"`
	HikvisionCAFile         string        `mapstructure:"HIKVISION_CA_FILE"`
	HikvisionRequestTimeout time.Duration `mapstructure:"HIKVISION_REQUEST_TIMEOUT"`
	PhotoDownloadTimeout    time.Duration `mapstructure:"PHOTO_DOWNLOAD_TIMEOUT"`
	HikvisionMaxRetries     int           `mapstructure:"HIKVISION_MAX_RETRIES"`
	HikvisionRetryBaseDelay time.Duration `mapstructure:"HIKVISION_RETRY_BASE_DELAY"`
	HikvisionRetryMaxDelay  time.Duration `mapstructure:"HIKVISION_RETRY_MAX_DELAY"`
	HikvisionOrgIndexCode   string        `mapstructure:"HIKVISION_ORG_INDEX_CODE"`
	HikvisionRemark         string        `mapstructure:"HIKVISION_REMARK"`
	HikvisionBeginTime      string        `mapstructure:"HIKVISION_BEGIN_TIME"`
	HikvisionEndTime        string        `mapstructure:"HIKVISION_END_TIME"`
	DefaultPhoneNumber      string        `mapstructure:"DEFAULT_PHONE_NUMBER"`
	DefaultEmail            string        `mapstructure:"DEFAULT_EMAIL"`
	RegionalGroupMapping    string        `mapstructure:"REGIONAL_GROUP_MAPPING"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	ServerPort         string `mapstructure:"SERVER_PORT"`
	EposhBaseURL       string `mapstructure:"EPOSH_BASE_URL"`
	EposhAPIKey        string `mapstructure:"EPOSH_API_KEY"`
	EposhAppID         string `mapstructure:"EPOSH_APP_ID"`
	EposhPageLimit     int    `mapstructure:"EPOSH_PAGE_LIMIT"`
	IngestSchedule     string `mapstructure:"INGEST_SCHEDULE"`
	IngestJWTSecret    string `mapstructure:"INGEST_JWT_SECRET"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	RedisURL       string        `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string        `mapstructure:"REDIS_KEY_PREFIX"`
	IngestLockTTL  time.Duration `mapstructure:"INGEST_LOCK_TTL"`
}

var defaults = map[string]interface{}{
	"LOG_LEVEL":                  "info",
	"RABBITMQ_HEARTBEAT":         "60s",
	"QUEUE_NAME":                 "hikvision_sync",
	"QUEUE_CREATE_PERSON":        "hikvision_create_person",
	"WORKER_MODE":                ModeBatch,
	"WORKER_CONCURRENCY":         1,
	"METRICS_ADDR":               ":9102",
	"HIKVISION_TLS_INSECURE":     false,
	"HIKVISION_REQUEST_TIMEOUT":  "30s",
	"PHOTO_DOWNLOAD_TIMEOUT":     "10s",
	"HIKVISION_MAX_RETRIES":      2,
	"HIKVISION_RETRY_BASE_DELAY": "500ms",
	"HIKVISION_RETRY_MAX_DELAY":  "5s",
	"HIKVISION_ORG_INDEX_CODE":   "84",
	"HIKVISION_REMARK":           "From Eposh Induction",
	"HIKVISION_BEGIN_TIME":       "2026-01-05T00:00:00+08:00",
	"HIKVISION_END_TIME":         "2030-12-31T23:59:59+08:00",
	"DEFAULT_PHONE_NUMBER":       "0000000000",
	"DEFAULT_EMAIL":              "xxx@gmail.com",
	"SERVER_PORT":                "5000",
	"EPOSH_APP_ID":               "hcpvision",
	"EPOSH_PAGE_LIMIT":           100,
	"CORS_ALLOWED_ORIGINS":       "*",
	"REDIS_KEY_PREFIX":           "induction-sync:ingest",
	"INGEST_LOCK_TTL":            "20h",
}

var envKeys = []string{
	"LOG_LEVEL",
	"RABBITMQ_URL",
	"RABBITMQ_HEARTBEAT",
	"QUEUE_NAME",
	"QUEUE_CREATE_PERSON",
	"RABBITMQ_DEAD_LETTER_EXCHANGE",
	"WORKER_MODE",
	"WORKER_CONCURRENCY",
	"METRICS_ADDR",
	"HIKVISION_BASE_URL",
	"HIKVISION_APP_KEY",
	"HIKVISION_APP_SECRET",
	"HIKVISION_TLS_INSECURE",
	"HIKVISION_CA_FILE",
	"HIKVISION_REQUEST_TIMEOUT",
	"PHOTO_DOWNLOAD_TIMEOUT",
	"HIKVISION_MAX_RETRIES",
	"HIKVISION_RETRY_BASE_DELAY",
	"HIKVISION_RETRY_MAX_DELAY",
	"HIKVISION_ORG_INDEX_CODE",
	"HIKVISION_REMARK",
	"HIKVISION_BEGIN_TIME",
	"HIKVISION_END_TIME",
	"DEFAULT_PHONE_NUMBER",
	"DEFAULT_EMAIL",
	"REGIONAL_GROUP_MAPPING",
	"DATABASE_URL",
	"SERVER_PORT",
	"EPOSH_BASE_URL",
	"EPOSH_API_KEY",
	"EPOSH_APP_ID",
	"EPOSH_PAGE_LIMIT",
	"INGEST_SCHEDULE",
	"INGEST_JWT_SECRET",
	"CORS_ALLOWED_ORIGINS",
	"REDIS_URL",
	"REDIS_KEY_PREFIX",
	"INGEST_LOCK_TTL",
}

// LoadConfig reads configuration from an optional .env file and the environment.
func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		// A missing .env is normal in containers; anything else is a broken file.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, fmt.Errorf("failed to read config file: %w", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("unable to decode config: %w", err)
	}

	config.WorkerMode = strings.ToLower(strings.TrimSpace(config.WorkerMode))
	config.HikvisionBaseURL = strings.TrimRight(strings.TrimSpace(config.HikvisionBaseURL), "/")
	config.EposhBaseURL = strings.TrimSpace(config.EposhBaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	if config.WorkerConcurrency < 1 {
		config.WorkerConcurrency = 1
	}
	if config.HikvisionMaxRetries < 0 {
		config.HikvisionMaxRetries = 0
	}
	return config, nil
}

// ValidateWorker reports the keys the worker cannot run without.
func (c Config) ValidateWorker() error {
	switch c.WorkerMode {
	case ModeBatch, ModeFanout, ModePerson:
	default:
		return fmt.Errorf("invalid WORKER_MODE %q (want %s, %s or %s)", c.WorkerMode, ModeBatch, ModeFanout, ModePerson)
	}

	required := map[string]string{"RABBITMQ_URL": c.RabbitMQURL}
	// Fan-out only republishes; it never talks to HikCentral.
	if c.WorkerMode != ModeFanout {
		required["HIKVISION_BASE_URL"] = c.HikvisionBaseURL
		required["HIKVISION_APP_KEY"] = c.HikvisionAppKey
		required["HIKVISION_APP_SECRET"] = c.HikvisionAppSecret
	}
	if missing := missingKeys(required); len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateIngest reports the keys the ingest API cannot run without.
func (c Config) ValidateIngest() error {
	missing := missingKeys(map[string]string{
		"RABBITMQ_URL":   c.RabbitMQURL,
		"EPOSH_BASE_URL": c.EposhBaseURL,
		"EPOSH_API_KEY":  c.EposhAPIKey,
	})
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// HikvisionConfigured reports whether HikCentral credentials are present.
func (c Config) HikvisionConfigured() bool {
	return c.HikvisionBaseURL != "" && c.HikvisionAppKey != "" && c.HikvisionAppSecret != ""
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func missingKeys(values map[string]string) []string {
	var missing []string
	for key, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	// Map iteration order is random; keep error messages stable.
	sort.Strings(missing)
	return missing
}
