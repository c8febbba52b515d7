package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/remit/service/solana"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL     string
	SolanaNetwork    string
	TokenMintAddress string
	TokenDecimals    uint8

	// Sender key material. Only the worker signs, so neither is required by Load;
	// SenderKey reports the absence when it is actually needed.
	SenderPrivateKey  string
	SenderKeypairPath string

	// Transfer behaviour
	Commitment          rpc.CommitmentType
	FinalityCommitment  rpc.ConfirmationStatusType
	AccountCreationMode solana.AccountCreationMode
	SkipPreflight       bool
	FinalityTimeout     time.Duration
	StatusPollInterval  time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "mainnet")
	cfg.TokenMintAddress = os.Getenv("TOKEN_MINT_ADDRESS")
	if cfg.TokenMintAddress == "" {
		mint, err := solana.DefaultUSDCMint(cfg.SolanaNetwork)
		if err != nil {
			errs = append(errs, fmt.Errorf("TOKEN_MINT_ADDRESS is required: %w", err))
		}
		cfg.TokenMintAddress = mint
	} else if _, err := solana.ParseAddress(cfg.TokenMintAddress); err != nil {
		errs = append(errs, fmt.Errorf("TOKEN_MINT_ADDRESS: %w", err))
	}

	decimals, err := parseInt("TOKEN_DECIMALS", int(solana.USDCDecimals))
	if err != nil {
		errs = append(errs, err)
	} else if decimals < 0 || decimals > maxTokenDecimals {
		errs = append(errs, fmt.Errorf("TOKEN_DECIMALS must be between 0 and %d, got %d", maxTokenDecimals, decimals))
	} else {
		cfg.TokenDecimals = uint8(decimals)
	}

	cfg.SenderPrivateKey = os.Getenv("SENDER_PRIVATE_KEY")
	cfg.SenderKeypairPath = os.Getenv("SENDER_KEYPAIR_PATH")
	if cfg.SenderPrivateKey != "" && cfg.SenderKeypairPath != "" {
		errs = append(errs, fmt.Errorf("SENDER_PRIVATE_KEY and SENDER_KEYPAIR_PATH are mutually exclusive"))
	}

	// Transfer behaviour
	commitment, err := solana.ParseConfirmationStatus(getEnvOrDefault("COMMITMENT", "confirmed"))
	if err != nil {
		errs = append(errs, fmt.Errorf("COMMITMENT: %w", err))
	} else {
		cfg.Commitment = rpc.CommitmentType(commitment)
	}

	finality, err := solana.ParseConfirmationStatus(getEnvOrDefault("FINALITY_COMMITMENT", "finalized"))
	if err != nil {
		errs = append(errs, fmt.Errorf("FINALITY_COMMITMENT: %w", err))
	} else {
		cfg.FinalityCommitment = finality
	}

	mode, err := solana.ParseAccountCreationMode(getEnvOrDefault("ACCOUNT_CREATION_MODE", "atomic"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ACCOUNT_CREATION_MODE: %w", err))
	} else {
		cfg.AccountCreationMode = mode
	}

	skip, err := parseBool("SKIP_PREFLIGHT", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SkipPreflight = skip
	}

	finalityTimeout, err := parseDuration("FINALITY_TIMEOUT", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FinalityTimeout = finalityTimeout
	}

	pollInterval, err := parseDuration("STATUS_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StatusPollInterval = pollInterval
	}

	if cfg.StatusPollInterval > 0 && cfg.FinalityTimeout > 0 && cfg.StatusPollInterval >= cfg.FinalityTimeout {
		errs = append(errs, fmt.Errorf("STATUS_POLL_INTERVAL (%v) must be shorter than FINALITY_TIMEOUT (%v)",
			cfg.StatusPollInterval, cfg.FinalityTimeout))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "remit-transfers")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if _, err := solana.ParseAddress(c.TokenMintAddress); err != nil {
		errs = append(errs, fmt.Errorf("TokenMintAddress: %w", err))
	}

	if c.TokenDecimals > maxTokenDecimals {
		errs = append(errs, fmt.Errorf("TokenDecimals must be at most %d", maxTokenDecimals))
	}

	if c.SenderPrivateKey != "" && c.SenderKeypairPath != "" {
		errs = append(errs, fmt.Errorf("SenderPrivateKey and SenderKeypairPath are mutually exclusive"))
	}

	if _, err := solana.ParseAccountCreationMode(string(c.AccountCreationMode)); err != nil {
		errs = append(errs, fmt.Errorf("AccountCreationMode: %w", err))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.StatusPollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("StatusPollInterval must be at least 100ms"))
	}

	if c.FinalityTimeout <= c.StatusPollInterval {
		errs = append(errs, fmt.Errorf("FinalityTimeout must be longer than StatusPollInterval"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// SenderKey loads the signing key from SENDER_PRIVATE_KEY or SENDER_KEYPAIR_PATH.
func (c *Config) SenderKey() (solanago.PrivateKey, error) {
	switch {
	case c.SenderPrivateKey != "":
		return solana.ParsePrivateKey(c.SenderPrivateKey)
	case c.SenderKeypairPath != "":
		return solana.LoadKeypairFile(c.SenderKeypairPath)
	default:
		return nil, fmt.Errorf("%w: set SENDER_PRIVATE_KEY or SENDER_KEYPAIR_PATH", solana.ErrInvalidKey)
	}
}

// SolanaOptions returns the transfer client options described by this configuration.
func (c *Config) SolanaOptions() solana.Options {
	return solana.Options{
		Commitment:      c.Commitment,
		AccountCreation: c.AccountCreationMode,
		PollInterval:    c.StatusPollInterval,
		SkipPreflight:   c.SkipPreflight,
	}
}

// maxTokenDecimals keeps 10^decimals representable in u64 base units.
const maxTokenDecimals = 19

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
