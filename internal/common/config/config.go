package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	OPA       OPAConfig
	Kafka     KafkaConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	MetricsPort    int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	JWTExpiration time.Duration
}

type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	EnableFile bool
	FilePath   string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type OPAConfig struct {
	Enabled                 bool
	URL                     string
	TimeoutSeconds          int
	PolicyPath              string
	CacheTTLSeconds         int
	BundleURL               string
	CircuitFailureThreshold int
	CircuitTimeoutSeconds   int
	CacheEvictInterval      time.Duration
}

func (c OPAConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c OPAConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c OPAConfig) CircuitTimeout() time.Duration {
	return time.Duration(c.CircuitTimeoutSeconds) * time.Second
}

// Validate checks the settings the policy client needs. A disabled config is
// always valid.
func (c OPAConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	if strings.TrimSpace(c.URL) == "" {
		errs = append(errs, errors.New("opa url must not be empty"))
	}
	if strings.TrimSpace(c.PolicyPath) == "" {
		errs = append(errs, errors.New("opa policy path must not be empty"))
	}
	if c.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("opa timeout must be positive, got %d", c.TimeoutSeconds))
	}
	if c.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("opa cache ttl must not be negative, got %d", c.CacheTTLSeconds))
	}
	return errors.Join(errs...)
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8042),
			MetricsPort:    getEnvInt("METRICS_PORT", 9100),
			ReadTimeout:    getEnvDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:    getEnvDuration("IDLE_TIMEOUT", 120*time.Second),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "xzepr"),
			Password:        getEnv("DB_PASSWORD", "password"),
			Database:        getEnv("DB_NAME", "xzepr"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
			JWTIssuer:     getEnv("JWT_ISSUER", "xzepr"),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 15*time.Minute),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			EnableFile: getEnvBool("LOG_ENABLE_FILE", false),
			FilePath:   getEnv("LOG_FILE_PATH", "/var/log/xzepr/api.log"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 600),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 50),
		},
		OPA: OPAConfig{
			Enabled:                 getEnvBool("OPA_ENABLED", false),
			URL:                     getEnv("OPA_URL", "http://localhost:8181"),
			TimeoutSeconds:          getEnvInt("OPA_TIMEOUT_SECONDS", 5),
			PolicyPath:              getEnv("OPA_POLICY_PATH", "/v1/data/xzepr/rbac/allow"),
			CacheTTLSeconds:         getEnvInt("OPA_CACHE_TTL_SECONDS", 300),
			BundleURL:               getEnv("OPA_BUNDLE_URL", ""),
			CircuitFailureThreshold: getEnvInt("OPA_CB_FAILURE_THRESHOLD", 5),
			CircuitTimeoutSeconds:   getEnvInt("OPA_CB_TIMEOUT_SECONDS", 30),
			CacheEvictInterval:      getEnvDuration("OPA_CACHE_EVICT_INTERVAL", time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "xzepr.events"),
		},
	}

	if err := cfg.OPA.Validate(); err != nil {
		return nil, fmt.Errorf("invalid opa config: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
