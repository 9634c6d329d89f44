package config

import (
	"os"

	"github.com/spf13/viper"
)

// LoadDefaultsFile reads an optional YAML defaults file (coordinator.yaml)
// and applies ETHEREUM_URL / DATABASE_URL / prover-related env vars from it
// when they are not already set in the process environment. Env vars remain
// authoritative; this only supplies fallback defaults for local development,
// so operators are not forced to export a dozen variables by hand.
func LoadDefaultsFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for _, key := range []string{
		"ETHEREUM_URL", "ETH_CHAIN_ID", "ESCROW_CONTRACT_ADDRESS",
		"SIGNER_PRIVATE_KEY", "DATABASE_URL", "PROVER_BASE_URL",
		"PROVER_API_KEY", "PROVER_PROGRAM_ID", "METRICS_ADDR", "HEALTH_ADDR",
	} {
		if os.Getenv(key) != "" {
			continue
		}
		if value := v.GetString(key); value != "" {
			os.Setenv(key, value)
		}
	}

	return nil
}
