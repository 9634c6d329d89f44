// Package config loads coordinator configuration from the environment,
// following the flat-struct / getEnv-helper pattern used throughout this
// codebase's ambient stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the coordinator service.
type Config struct {
	// Chain Configuration
	EthereumURL           string
	EthChainID            int64
	EscrowContractAddress string

	// Signer Configuration
	SignerPrivateKey string

	// Server Configuration
	MetricsAddr string
	HealthAddr  string

	// Database Configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds

	// Tailer Configuration
	TailerBatchSize    uint64
	TailerReorgDepth   uint64
	TailerPollInterval time.Duration

	// Sweeper Configuration
	SweeperInterval time.Duration
	SweeperBatchSize int

	// Prover Configuration
	ProverBaseURL   string
	ProverAPIKey    string
	ProverProgramID string

	// Pipeline Configuration
	ProofPollMaxConcurrent int
	InputStreamCacheSize   int

	// Service Configuration
	LogLevel string
}

// Load reads configuration from environment variables.
//
// Required variables have no defaults and must be explicitly set; call
// Validate() after Load() before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		EthereumURL:           getEnv("ETHEREUM_URL", ""),
		EthChainID:            getEnvInt64("ETH_CHAIN_ID", 11155111),
		EscrowContractAddress: getEnv("ESCROW_CONTRACT_ADDRESS", ""),

		SignerPrivateKey: getEnv("SIGNER_PRIVATE_KEY", ""),

		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:9090"),
		HealthAddr:  getEnv("HEALTH_ADDR", "0.0.0.0:8081"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),

		TailerBatchSize:    uint64(getEnvInt("TAILER_BATCH_SIZE", 8)),
		TailerReorgDepth:   uint64(getEnvInt("TAILER_REORG_DEPTH", 2)),
		TailerPollInterval: getEnvDuration("TAILER_POLL_INTERVAL", 6*time.Second),

		SweeperInterval:  getEnvDuration("SWEEPER_INTERVAL", 60*time.Second),
		SweeperBatchSize: getEnvInt("SWEEPER_BATCH_SIZE", 100),

		ProverBaseURL:   getEnv("PROVER_BASE_URL", ""),
		ProverAPIKey:    getEnv("PROVER_API_KEY", ""),
		ProverProgramID: getEnv("PROVER_PROGRAM_ID", ""),

		ProofPollMaxConcurrent: getEnvInt("PROOF_POLL_MAX_CONCURRENT", 4),
		InputStreamCacheSize:   getEnvInt("INPUT_STREAM_CACHE_SIZE", 512),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// This must be called after Load() before starting the service in production.
func (c *Config) Validate() error {
	var errs []string

	if c.EthereumURL == "" {
		errs = append(errs, "ETHEREUM_URL is required but not set")
	}
	if c.EscrowContractAddress == "" {
		errs = append(errs, "ESCROW_CONTRACT_ADDRESS is required but not set")
	}
	if c.SignerPrivateKey == "" {
		errs = append(errs, "SIGNER_PRIVATE_KEY is required but not set")
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	} else if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		errs = append(errs, "DATABASE_URL must use sslmode=require for production security")
	}

	if c.ProverBaseURL == "" {
		errs = append(errs, "PROVER_BASE_URL is required but not set")
	}
	if c.ProverAPIKey == "" {
		errs = append(errs, "PROVER_API_KEY is required but not set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development against a devnet. WARNING: do not use this in production.
func (c *Config) ValidateForDevelopment() error {
	if c.EthereumURL == "" {
		return fmt.Errorf("development configuration validation failed:\n  - ETHEREUM_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
