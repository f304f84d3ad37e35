// Package config содержит логику чтения конфигурации сервиса пожертвований.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса пожертвований.
// Секреты шлюзов и админ-доступа задаются только переменными окружения.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL"`
	StripeSecretKey   string        `env:"STRIPE_SECRET_KEY"`
	RazorpayKeyID     string        `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret string        `env:"RAZORPAY_KEY_SECRET"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	AdminLogin        string        `env:"ADMIN_LOGIN"`
	AdminPassword     string        `env:"ADMIN_PASSWORD"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envReconcileInterval := cfg.ReconcileInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.DurationVar(&cfg.ReconcileInterval, "i", time.Minute, "budget reconciliation interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envReconcileInterval != 0 {
		cfg.ReconcileInterval = envReconcileInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Minute
	}

	return cfg, nil
}
