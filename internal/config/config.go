// Package config содержит логику чтения конфигурации службы гарантийной поддержки.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultIndexCache     = "memory"
)

// Config содержит параметры конфигурации службы.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	EmbeddingAPIURL string `env:"EMBEDDING_API_URL"`
	EmbeddingAPIKey string `env:"EMBEDDING_API_KEY"`
	EmbeddingModel  string `env:"EMBEDDING_MODEL"`
	IndexCache      string `env:"INDEX_CACHE"`

	PolicyFile string `env:"POLICY_FILE"`

	SMTPAddr     string `env:"SMTP_ADDR"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	AuthSecret string `env:"AUTH_SECRET"`
	StaffToken string `env:"STAFF_TOKEN"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	fromEnv := Config{}
	if err := env.Parse(&fromEnv); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.EmbeddingAPIURL, "e", "", "embeddings API endpoint")
	flag.StringVar(&cfg.IndexCache, "c", defaultIndexCache, "policy index cache: memory, redis://... or sqlite:<path>")
	flag.StringVar(&cfg.PolicyFile, "p", "", "policy rules YAML file")
	flag.StringVar(&cfg.AuthSecret, "s", "", "session cookie signing secret")
	flag.StringVar(&cfg.StaffToken, "t", "", "bearer token for staff operations")

	flag.Parse()

	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.EmbeddingAPIURL, fromEnv.EmbeddingAPIURL)
	override(&cfg.IndexCache, fromEnv.IndexCache)
	override(&cfg.PolicyFile, fromEnv.PolicyFile)
	override(&cfg.AuthSecret, fromEnv.AuthSecret)
	override(&cfg.StaffToken, fromEnv.StaffToken)

	cfg.EmbeddingAPIKey = fromEnv.EmbeddingAPIKey
	cfg.EmbeddingModel = fromEnv.EmbeddingModel
	cfg.SMTPAddr = fromEnv.SMTPAddr
	cfg.SMTPUser = fromEnv.SMTPUser
	cfg.SMTPPassword = fromEnv.SMTPPassword
	cfg.SMTPFrom = fromEnv.SMTPFrom

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.IndexCache == "" {
		cfg.IndexCache = defaultIndexCache
	}

	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
