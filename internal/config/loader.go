package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYSWAP_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYSWAP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYSWAP_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYSWAP_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYSWAP_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "POLYSWAP_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "POLYSWAP_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.ComposableCow, "POLYSWAP_CHAIN_COMPOSABLE_COW")
	setStr(&cfg.Chain.OrderHandler, "POLYSWAP_CHAIN_ORDER_HANDLER")
	setStr(&cfg.Chain.FallbackHandler, "POLYSWAP_CHAIN_FALLBACK_HANDLER")
	setStr(&cfg.Chain.Settlement, "POLYSWAP_CHAIN_SETTLEMENT")
	setStr(&cfg.Chain.VaultRelayer, "POLYSWAP_CHAIN_VAULT_RELAYER")
	setStr(&cfg.Chain.MultiSend, "POLYSWAP_CHAIN_MULTI_SEND")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYSWAP_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.ApiKey, "POLYSWAP_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYSWAP_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYSWAP_POLYMARKET_API_PASSPHRASE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYSWAP_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYSWAP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYSWAP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYSWAP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYSWAP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYSWAP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYSWAP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYSWAP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYSWAP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYSWAP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYSWAP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSWAP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSWAP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSWAP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSWAP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSWAP_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYSWAP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSWAP_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSWAP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSWAP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSWAP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYSWAP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYSWAP_S3_FORCE_PATH_STYLE")

	// ── Flow ──
	setDuration(&cfg.Flow.OrderBudget, "POLYSWAP_FLOW_ORDER_BUDGET")
	setDuration(&cfg.Flow.SetupBudget, "POLYSWAP_FLOW_SETUP_BUDGET")
	setDuration(&cfg.Flow.CancelBudget, "POLYSWAP_FLOW_CANCEL_BUDGET")
	setDuration(&cfg.Flow.PropagationDelay, "POLYSWAP_FLOW_PROPAGATION_DELAY")
	setDuration(&cfg.Flow.ReconcileInterval, "POLYSWAP_FLOW_RECONCILE_INTERVAL")
	setDuration(&cfg.Flow.ArchiveInterval, "POLYSWAP_FLOW_ARCHIVE_INTERVAL")
	setInt(&cfg.Flow.ArchiveRetentionDays, "POLYSWAP_FLOW_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYSWAP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYSWAP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYSWAP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYSWAP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYSWAP_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "POLYSWAP_SERVER_RATE_LIMIT_WINDOW")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYSWAP_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
