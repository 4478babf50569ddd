package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName         = "Bynomo"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultCurrency        = "BNB"
	defaultShutdownDelay   = 30 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultConfirmTimeout  = 2 * time.Minute
	defaultReceiptPoll     = 2 * time.Second
	defaultGasReserve      = "0.001"
	defaultWithdrawPerMin  = 5
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	confirmTimeoutEnvVar   = "CONFIRMATION_TIMEOUT"
	receiptPollEnvVar      = "RECEIPT_POLL_INTERVAL"
	accountLockTTLEnvVar   = "ACCOUNT_LOCK_TTL"
	gasReserveEnvVar       = "TREASURY_GAS_RESERVE"
	feeRateEnvVar          = "WITHDRAW_FEE_RATE"
	withdrawRateEnvVar     = "WITHDRAW_RATE_LIMIT_PER_MIN"
	chainIDEnvVar          = "BNB_CHAIN_ID"
	depositVerifyEnvVar    = "DEPOSIT_VERIFY_ONCHAIN"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Chain and treasury.
	RPCURL              string
	ChainID             int64
	TreasuryKey         string
	GasReserve          decimal.Decimal
	ConfirmTimeout      time.Duration
	ReceiptPollInterval time.Duration

	// Withdrawal and deposit policy.
	DefaultCurrency       string
	FixedFeeRate          *decimal.Decimal
	WithdrawRateLimit     int
	AccountLockTTL        time.Duration
	VerifyDepositsOnChain bool

	// AdminKeyHash is a bcrypt hash of the operator API key.
	AdminKeyHash string
}

// Load reads configuration values from the environment (and an optional .env
// file) and populates a Config instance.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:               getEnv("APP_NAME", defaultAppName),
		AppEnv:                getEnv("APP_ENV", defaultAppEnv),
		Port:                  getEnv("PORT", defaultPort),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		IdempotencyTTL:        defaultIdempotencyTTL,
		RPCURL:                strings.TrimSpace(os.Getenv("BNB_RPC_URL")),
		TreasuryKey:           strings.TrimSpace(os.Getenv("BNB_TREASURY_SECRET_KEY")),
		GasReserve:            decimal.RequireFromString(defaultGasReserve),
		ConfirmTimeout:        defaultConfirmTimeout,
		ReceiptPollInterval:   defaultReceiptPoll,
		DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", defaultCurrency)),
		WithdrawRateLimit:     defaultWithdrawPerMin,
		VerifyDepositsOnChain: true,
		AdminKeyHash:          os.Getenv("ADMIN_KEY_HASH"),
	}

	var err error
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.ConfirmTimeout, err = durationFromEnv("", confirmTimeoutEnvVar, cfg.ConfirmTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReceiptPollInterval, err = durationFromEnv("", receiptPollEnvVar, cfg.ReceiptPollInterval); err != nil {
		return Config{}, err
	}
	cfg.AccountLockTTL = cfg.ConfirmTimeout + time.Minute
	if cfg.AccountLockTTL, err = durationFromEnv("", accountLockTTLEnvVar, cfg.AccountLockTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccountLockTTL <= cfg.ConfirmTimeout {
		return Config{}, fmt.Errorf("%s must exceed %s", accountLockTTLEnvVar, confirmTimeoutEnvVar)
	}
	// In-flight withdrawals must be able to finish their confirmation wait
	// and ledger write before the process exits.
	cfg.ShutdownPeriod = cfg.ConfirmTimeout + defaultShutdownDelay
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod <= cfg.ConfirmTimeout {
		return Config{}, fmt.Errorf("%s must exceed %s", shutdownDurationEnvVar, confirmTimeoutEnvVar)
	}

	if v := os.Getenv(gasReserveEnvVar); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return Config{}, fmt.Errorf("invalid %s: %q", gasReserveEnvVar, v)
		}
		cfg.GasReserve = d
	}

	if v := os.Getenv(feeRateEnvVar); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", feeRateEnvVar, err)
		}
		if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return Config{}, fmt.Errorf("%s must be in [0,1), got %s", feeRateEnvVar, v)
		}
		cfg.FixedFeeRate = &d
	}

	if v := os.Getenv(withdrawRateEnvVar); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", withdrawRateEnvVar, err)
		}
		cfg.WithdrawRateLimit = n
	}

	if v := os.Getenv(chainIDEnvVar); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", chainIDEnvVar, err)
		}
		cfg.ChainID = id
	}

	if v := os.Getenv(depositVerifyEnvVar); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", depositVerifyEnvVar, err)
		}
		cfg.VerifyDepositsOnChain = b
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.AdminKeyHash == "" {
			return Config{}, fmt.Errorf("ADMIN_KEY_HASH must be set")
		}
	}

	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("BNB_RPC_URL must be set")
	}
	if cfg.TreasuryKey == "" {
		return Config{}, fmt.Errorf("BNB_TREASURY_SECRET_KEY must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local/development environment,
// where in-memory backends stand in for Postgres and Redis.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// durationFromEnv reads a duration from either an integer-seconds variable or
// a Go duration string variable, seconds taking precedence.
func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
