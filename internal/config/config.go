// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/logger"
)

const (
	devSessionSecret    = "devsessionsecret"
	devCronSecret       = "devcronsecret"
	devNewsletterSecret = "devnewslettersecret"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Log      logger.LogConfig
	Stripe   StripeConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	RabbitMQ RabbitMQConfig
	Mail     MailConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For header is believed. Empty trusts no proxy.
	TrustedProxies []string
}

// Proxies parses TrustedProxies. A bare address is a single-host range.
func (s ServerConfig) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// DatabaseConfig selects one of the supported gorm drivers.
type DatabaseConfig struct {
	Driver     string // postgres, sqlite or mysql
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
	Debug      bool
}

type AppConfig struct {
	Dev              bool
	Migrations       bool
	BaseURL          string
	SessionSecret    string
	CronSecret       string
	NewsletterSecret string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ProPriceID    string
}

type RedisConfig struct {
	Addr     string
	Password string
}

type KafkaConfig struct {
	Broker string
	Topic  string
}

type RabbitMQConfig struct {
	URL        string
	EmailQueue string
}

type MailConfig struct {
	From string
}

// DSN returns the driver specific connection string.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "sqlite":
		return d.SQLitePath
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	default:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
		)
	}
}

// URL returns the PostgreSQL connection string in URL format (golang-migrate).
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
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 60),
			TrustedProxies: getEnvList("TRUSTED_PROXIES"),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvInt("DB_PORT", 5432),
			User:       getEnv("DB_USER", "declair"),
			Password:   getEnv("DB_PASSWORD", "declair"),
			DBName:     getEnv("DB_NAME", "declair"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "declair.db"),
			Debug:      getEnvBool("DB_DEBUG", false),
		},
		App: AppConfig{
			Dev:              getEnvBool("DEV", true),
			Migrations:       getEnvBool("MIGRATIONS", false),
			BaseURL:          getEnv("APP_BASE_URL", "http://localhost:8080"),
			SessionSecret:    getEnv("SESSION_SECRET", devSessionSecret),
			CronSecret:       getEnv("CRON_SECRET", devCronSecret),
			NewsletterSecret: getEnv("NEWSLETTER_SECRET", devNewsletterSecret),
		},
		Log: logger.LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "console"),
			TimeFormat: getEnv("LOG_TIME_FORMAT", time.RFC3339),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			ProPriceID:    getEnv("STRIPE_PRO_PRICE_ID", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Broker: getEnv("KAFKA_BROKER", ""),
			Topic:  getEnv("KAFKA_TOPIC", "declair.events"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:        getEnv("RABBITMQ_URL", ""),
			EmailQueue: getEnv("RABBITMQ_EMAIL_QUEUE", "emails"),
		},
		Mail: MailConfig{
			From: getEnv("MAIL_FROM", "Declair <noreply@declair.nl>"),
		},
	}
}

// Validate rejects malformed proxy ranges, and production configurations
// that still carry development secrets or lack the Stripe keys.
func (c *Config) Validate() error {
	if _, err := c.Server.Proxies(); err != nil {
		return err
	}
	if c.App.Dev {
		return nil
	}
	var errs []error
	if c.App.SessionSecret == devSessionSecret {
		errs = append(errs, errors.New("SESSION_SECRET must be set"))
	}
	if c.App.CronSecret == devCronSecret {
		errs = append(errs, errors.New("CRON_SECRET must be set"))
	}
	if c.App.NewsletterSecret == devNewsletterSecret {
		errs = append(errs, errors.New("NEWSLETTER_SECRET must be set"))
	}
	if c.Stripe.SecretKey == "" || c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET must be set"))
	}
	return errors.Join(errs...)
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

// getEnvList splits a comma separated environment variable, dropping empty
// entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
