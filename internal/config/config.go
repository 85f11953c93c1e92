// Package config provides application configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Log      LogConfig
	Lock     LockConfig
	Redis    RedisConfig
	Billing  BillingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig holds database connection settings.
// DSN takes precedence over the discrete fields when set; Driver selects
// postgres (default) or sqlite, in which case DSN is a file path.
type DatabaseConfig struct {
	Driver   string
	RawDSN   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Debug    bool
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev        bool
	Migrations bool
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// LockConfig selects the per-entity lock backend.
type LockConfig struct {
	Backend string // memory or redis
	TTL     time.Duration
	Prefix  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// BillingConfig holds business defaults.
type BillingConfig struct {
	VATRate             float64
	FuelSurchargeRate   float64
	PaymentTermDays     int
	AutoAcceptThreshold float64 // fraction of the pre-invoice TTC
	VigilanceAlertDays  int
}

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	if d.RawDSN != "" {
		return d.RawDSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			RawDSN:   getEnv("DATABASE_DSN", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "prefacturation"),
			Password: getEnv("DB_PASSWORD", "prefacturation"),
			DBName:   getEnv("DB_NAME", "prefacturation"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Debug:    getEnvBool("DB_DEBUG", false),
		},
		App: AppConfig{
			Dev:        getEnvBool("DEV", true),
			Migrations: getEnvBool("MIGRATIONS", true),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Lock: LockConfig{
			Backend: strings.ToLower(getEnv("LOCK_BACKEND", "memory")),
			TTL:     getEnvDuration("LOCK_TTL", 30*time.Second),
			Prefix:  getEnv("LOCK_PREFIX", "prefacturation:lock:"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Billing: BillingConfig{
			VATRate:             getEnvFloat("VAT_RATE", 0.20),
			FuelSurchargeRate:   getEnvFloat("FUEL_SURCHARGE_RATE", 0.10),
			PaymentTermDays:     getEnvInt("PAYMENT_TERM_DAYS", 30),
			AutoAcceptThreshold: getEnvFloat("AUTO_ACCEPT_THRESHOLD", 0.01),
			VigilanceAlertDays:  getEnvInt("VIGILANCE_ALERT_DAYS", 30),
		},
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}
