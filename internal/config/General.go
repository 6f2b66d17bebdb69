package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// MarketName identifies the option market this OVM instance manages (e.g. "sETH-sUSD").
	MarketName string

	// QuoteDenom is the denomination of the quote (stable) asset.
	QuoteDenom string
	// BaseDenom is the denomination of the base (underlying) asset.
	BaseDenom string

	// CycleBatchLimit bounds how many queued deposits/withdrawals a single
	// engine cycle will attempt to process.
	CycleBatchLimit int

	// WebPort is the port for the read-only status API.
	WebPort string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	MarketName, err = getEnv("OVM_MARKET")
	if err != nil {
		return err
	}

	QuoteDenom, err = getEnv("OVM_QUOTE_DENOM")
	if err != nil {
		return err
	}

	BaseDenom, err = getEnv("OVM_BASE_DENOM")
	if err != nil {
		return err
	}

	CycleBatchLimit, err = getEnvAsInt("OVM_CYCLE_BATCH_LIMIT")
	if err != nil {
		return err
	}
	if CycleBatchLimit <= 0 {
		return errors.New("OVM_CYCLE_BATCH_LIMIT must be positive")
	}

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	log.Info().
		Str("market", MarketName).
		Str("quoteDenom", QuoteDenom).
		Str("baseDenom", BaseDenom).
		Int("cycleBatchLimit", CycleBatchLimit).
		Msg("Application configuration loaded")
	return nil
}

// getEnv retrieves a required environment variable.
func getEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", errors.New("required environment variable not set: " + key)
	}
	return value, nil
}

// getEnvAsInt retrieves a required environment variable and parses it as an int.
func getEnvAsInt(key string) (int, error) {
	raw, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("environment variable is not a valid integer: " + key)
	}
	return value, nil
}
