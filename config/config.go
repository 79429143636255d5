package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8082"`
	DatabaseURL string `env:"DATABASE_URL"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	JWTSecret string `env:"JWT_SECRET"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv    string `env:"APP_ENV" envDefault:"dev"`

	Checkout Checkout

	// CartRateLimit is the number of cart mutations allowed per owner per
	// minute. Zero disables the limit.
	CartRateLimit int `env:"CART_RATE_LIMIT" envDefault:"20"`

	// StaleCartAfter enables the reaper when positive.
	StaleCartAfter time.Duration `env:"STALE_CART_AFTER" envDefault:"0s"`
	ReapInterval   time.Duration `env:"REAP_INTERVAL" envDefault:"10m"`
}

type Checkout struct {
	SecretKey      string `env:"STRIPE_SECRET_KEY"`
	PublishableKey string `env:"STRIPE_PUBLISHABLE_KEY"`
	Currency       string `env:"CHECKOUT_CURRENCY" envDefault:"usd"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Checkout.Currency == "" {
		errs = append(errs, errors.New("CHECKOUT_CURRENCY must not be empty"))
	}
	if c.CartRateLimit < 0 {
		errs = append(errs, errors.New("CART_RATE_LIMIT must not be negative"))
	}
	if c.StaleCartAfter > 0 && c.ReapInterval <= 0 {
		errs = append(errs, errors.New("REAP_INTERVAL must be positive when STALE_CART_AFTER is set"))
	}
	return errors.Join(errs...)
}
