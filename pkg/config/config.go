package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"crisis-monitor/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Archive backends accepted by ARCHIVE_BACKEND
var archiveBackends = map[string]bool{"memory": true, "redis": true, "sqlite": true}

// Config represents the complete service configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Session   SessionConfig   `yaml:"session"`
	Messaging MessagingConfig `yaml:"messaging"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EnableWebSocket bool          `yaml:"enable_websocket"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputFile string `yaml:"output_file"`
}

// SessionConfig holds live session configuration
type SessionConfig struct {
	MaxSessions        int           `yaml:"max_sessions"`
	HistoryWindow      int           `yaml:"history_window"`
	ShardCount         int           `yaml:"shard_count"`
	Timeout            time.Duration `yaml:"timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	AllowImplicitStart bool          `yaml:"allow_implicit_start"`
}

// MessagingConfig holds AMQP event publishing configuration
type MessagingConfig struct {
	AMQPEnabled        bool          `yaml:"amqp_enabled"`
	AMQPUrl            string        `yaml:"amqp_url"`
	Exchange           string        `yaml:"exchange"`
	QueueName          string        `yaml:"queue_name"`
	MessageTTL         time.Duration `yaml:"message_ttl"`
	QueueSize          int           `yaml:"queue_size"`
	PublishAssessments bool          `yaml:"publish_assessments"`
}

// ArchiveConfig holds ended-session archive configuration
type ArchiveConfig struct {
	Backend       string        `yaml:"backend"`
	MaxEntries    int           `yaml:"max_entries"`
	SQLitePath    string        `yaml:"sqlite_path"`
	RedisAddress  string        `yaml:"redis_address"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`

	// Consecutive failures before the remote backend is bypassed, and for
	// how long. Not used by the memory backend.
	BreakerThreshold int64         `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RateLimitConfig holds per-client HTTP and ingest rate limiting
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ClientTTL         time.Duration `yaml:"client_ttl"`
	ExemptIPs         []string      `yaml:"exempt_ips"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8002,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			EnableWebSocket: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Session: SessionConfig{
			MaxSessions:        50,
			HistoryWindow:      100,
			ShardCount:         16,
			Timeout:            2 * time.Hour,
			SweepInterval:      2 * time.Minute,
			AllowImplicitStart: true,
		},
		Messaging: MessagingConfig{
			Exchange:           "crisis.events",
			MessageTTL:         12 * time.Hour,
			QueueSize:          256,
			PublishAssessments: true,
		},
		Archive: ArchiveConfig{
			Backend:      "memory",
			MaxEntries:   1000,
			SQLitePath:   filepath.Join("data", "archive.db"),
			RedisAddress: "localhost:6379",
			RedisTTL:     7 * 24 * time.Hour,

			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			ClientTTL:         10 * time.Minute,
			ExemptIPs:         []string{"127.0.0.1", "::1"},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CRISIS_CONFIG_FILE and the environment, in increasing precedence.
func Load(logger *logrus.Logger) (*Config, error) {
	loadEnvFile(logger)

	config := Default()

	if path := os.Getenv("CRISIS_CONFIG_FILE"); path != "" {
		if err := loadYAML(path, config); err != nil {
			return nil, errors.Wrap(err, "failed to load configuration file", map[string]interface{}{"path": path})
		}
		logger.WithField("path", path).Info("Loaded configuration file")
	}

	loadHTTPConfig(logger, &config.HTTP)
	loadLoggingConfig(logger, &config.Logging)
	loadSessionConfig(&config.Session)
	loadMessagingConfig(&config.Messaging)
	loadArchiveConfig(&config.Archive)
	loadMetricsConfig(&config.Metrics)
	loadRateLimitConfig(&config.RateLimit)

	if err := validateConfig(logger, config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// loadEnvFile loads the first .env file found near the working directory
func loadEnvFile(logger *logrus.Logger) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	candidates := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}
	for _, envFile := range candidates {
		if _, statErr := os.Stat(envFile); statErr != nil {
			continue
		}
		absPath, _ := filepath.Abs(envFile)
		if err := godotenv.Load(envFile); err != nil {
			logger.WithError(err).WithField("path", absPath).Warn("Failed to load .env file")
			continue
		}
		logger.WithField("path", absPath).Info("Successfully loaded .env file")
		return
	}
	logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
}

func loadYAML(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) {
	config.Host = getEnv("HTTP_HOST", config.Host)

	port := getEnvInt("HTTP_PORT", config.Port)
	if port < 1 || port > 65535 {
		logger.Warnf("Invalid HTTP_PORT value, using %d", config.Port)
	} else {
		config.Port = port
	}

	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", config.ReadTimeout)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", config.WriteTimeout)
	config.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", config.ShutdownTimeout)
	config.EnableWebSocket = getEnvBool("HTTP_ENABLE_WEBSOCKET", config.EnableWebSocket)
	config.AllowedOrigins = getEnvList("HTTP_ALLOWED_ORIGINS", config.AllowedOrigins)

	config.TLSEnabled = getEnvBool("HTTP_TLS_ENABLED", config.TLSEnabled)
	config.TLSCertFile = getEnv("HTTP_TLS_CERT_FILE", config.TLSCertFile)
	config.TLSKeyFile = getEnv("HTTP_TLS_KEY_FILE", config.TLSKeyFile)
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", config.Level)
	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", config.Format)
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", config.OutputFile)
}

func loadSessionConfig(config *SessionConfig) {
	config.MaxSessions = getEnvInt("MAX_CONCURRENT_SESSIONS", config.MaxSessions)
	config.HistoryWindow = getEnvInt("SESSION_HISTORY_WINDOW", config.HistoryWindow)
	config.ShardCount = getEnvInt("SESSION_SHARD_COUNT", config.ShardCount)
	config.Timeout = getEnvDuration("SESSION_TIMEOUT", config.Timeout)
	config.SweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", config.SweepInterval)
	config.AllowImplicitStart = getEnvBool("SESSION_ALLOW_IMPLICIT_START", config.AllowImplicitStart)
}

func loadMessagingConfig(config *MessagingConfig) {
	config.AMQPUrl = getEnv("AMQP_URL", config.AMQPUrl)
	config.AMQPEnabled = getEnvBool("AMQP_ENABLED", config.AMQPEnabled || config.AMQPUrl != "")
	config.Exchange = getEnv("AMQP_EXCHANGE", config.Exchange)
	config.QueueName = getEnv("AMQP_QUEUE_NAME", config.QueueName)
	config.MessageTTL = getEnvDuration("AMQP_MESSAGE_TTL", config.MessageTTL)
	config.QueueSize = getEnvInt("AMQP_PUBLISH_QUEUE_SIZE", config.QueueSize)
	config.PublishAssessments = getEnvBool("AMQP_PUBLISH_ASSESSMENTS", config.PublishAssessments)
}

func loadArchiveConfig(config *ArchiveConfig) {
	config.Backend = strings.ToLower(getEnv("ARCHIVE_BACKEND", config.Backend))
	config.MaxEntries = getEnvInt("ARCHIVE_MAX_ENTRIES", config.MaxEntries)
	config.SQLitePath = getEnv("ARCHIVE_SQLITE_PATH", config.SQLitePath)
	config.RedisAddress = getEnv("REDIS_ADDR", config.RedisAddress)
	config.RedisPassword = getEnv("REDIS_PASSWORD", config.RedisPassword)
	config.RedisDB = getEnvInt("REDIS_DB", config.RedisDB)
	config.RedisTTL = getEnvDuration("ARCHIVE_REDIS_TTL", config.RedisTTL)
	config.BreakerThreshold = int64(getEnvInt("ARCHIVE_BREAKER_THRESHOLD", int(config.BreakerThreshold)))
	config.BreakerTimeout = getEnvDuration("ARCHIVE_BREAKER_TIMEOUT", config.BreakerTimeout)
}

func loadMetricsConfig(config *MetricsConfig) {
	config.Enabled = getEnvBool("METRICS_ENABLED", config.Enabled)
	config.Path = getEnv("METRICS_PATH", config.Path)
}

func loadRateLimitConfig(config *RateLimitConfig) {
	config.Enabled = getEnvBool("RATE_LIMIT_ENABLED", config.Enabled)
	config.RequestsPerSecond = getEnvFloat("RATE_LIMIT_RPS", config.RequestsPerSecond)
	config.Burst = getEnvInt("RATE_LIMIT_BURST", config.Burst)
	config.ClientTTL = getEnvDuration("RATE_LIMIT_CLIENT_TTL", config.ClientTTL)
	config.ExemptIPs = getEnvList("RATE_LIMIT_EXEMPT_IPS", config.ExemptIPs)
}

// validateConfig rejects combinations the service cannot run with
func validateConfig(logger *logrus.Logger, config *Config) error {
	if config.HTTP.Port < 1 || config.HTTP.Port > 65535 {
		return errors.NewInvalidInput(fmt.Sprintf("invalid HTTP port: %d", config.HTTP.Port))
	}
	if config.HTTP.TLSEnabled && (config.HTTP.TLSCertFile == "" || config.HTTP.TLSKeyFile == "") {
		return errors.NewInvalidInput("HTTP_TLS_ENABLED requires HTTP_TLS_CERT_FILE and HTTP_TLS_KEY_FILE")
	}

	if config.Session.MaxSessions <= 0 {
		return errors.NewInvalidInput("MAX_CONCURRENT_SESSIONS must be positive")
	}
	if config.Session.Timeout <= 0 {
		return errors.NewInvalidInput("invalid SESSION_TIMEOUT: must be a positive duration")
	}
	if config.Session.SweepInterval <= 0 {
		return errors.NewInvalidInput("invalid SESSION_SWEEP_INTERVAL: must be a positive duration")
	}
	if config.Session.SweepInterval >= config.Session.Timeout {
		logger.Warn("SESSION_SWEEP_INTERVAL should be smaller than SESSION_TIMEOUT for effective cleanup")
	}

	if config.Messaging.AMQPEnabled && config.Messaging.AMQPUrl == "" {
		return errors.NewInvalidInput("AMQP_ENABLED is set but AMQP_URL is empty")
	}

	if !archiveBackends[config.Archive.Backend] {
		return errors.NewInvalidInput(fmt.Sprintf("unknown ARCHIVE_BACKEND %q", config.Archive.Backend))
	}
	if config.Archive.Backend == "sqlite" && config.Archive.SQLitePath == "" {
		return errors.NewInvalidInput("ARCHIVE_SQLITE_PATH is required for the sqlite archive")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst < 1) {
		return errors.NewInvalidInput("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}

	if config.Logging.OutputFile != "" {
		f, err := os.OpenFile(config.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("cannot write to log file: %s", config.Logging.OutputFile))
		}
		f.Close()
	}

	return nil
}

// Address returns the HTTP listen address
func (h HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// ApplyLogging applies the logging configuration to the logger
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
