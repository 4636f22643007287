package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads .env if present and
// applies DAKE_* overrides. An empty path skips the file. The result is not
// validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose DAKE_* variable is set, so
// secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) error {
	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "DAKE_LEDGER_BACKEND")
	if v := os.Getenv("DAKE_LEDGER_GENESIS"); v != "" {
		genesis, err := parseGenesis(v)
		if err != nil {
			return fmt.Errorf("config: DAKE_LEDGER_GENESIS: %w", err)
		}
		cfg.Ledger.Genesis = genesis
	}

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DAKE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "DAKE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DAKE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DAKE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DAKE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DAKE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DAKE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DAKE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DAKE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DAKE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DAKE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DAKE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DAKE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DAKE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DAKE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DAKE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DAKE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "DAKE_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "DAKE_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DAKE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DAKE_S3_REGION")
	setStr(&cfg.S3.Bucket, "DAKE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DAKE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DAKE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DAKE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DAKE_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.PrivateKey, "DAKE_ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "DAKE_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "DAKE_ORACLE_KEY_PASSWORD")
	setStr(&cfg.Oracle.ProgramAddress, "DAKE_ORACLE_PROGRAM_ADDRESS")

	// ── Market ──
	setStr(&cfg.Market.DefaultAccounting, "DAKE_MARKET_DEFAULT_ACCOUNTING")
	setUint64(&cfg.Market.DefaultSeedLiquidity, "DAKE_MARKET_DEFAULT_SEED_LIQUIDITY")
	setBool(&cfg.Market.EnforceResolutionTime, "DAKE_MARKET_ENFORCE_RESOLUTION_TIME")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DAKE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "DAKE_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "DAKE_ARCHIVE_PREFIX")

	// ── Server ──
	setInt(&cfg.Server.Port, "DAKE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DAKE_SERVER_CORS_ORIGINS")
	setInt64(&cfg.Server.ChainID, "DAKE_SERVER_CHAIN_ID")
	setDuration(&cfg.Server.AuthMaxSkew, "DAKE_SERVER_AUTH_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "DAKE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DAKE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DAKE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DAKE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DAKE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DAKE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DAKE_MODE")
	setStr(&cfg.LogLevel, "DAKE_LOG_LEVEL")
	return nil
}

// parseGenesis reads "0xaddr=balance,0xaddr=balance".
func parseGenesis(v string) ([]GenesisAccount, error) {
	var out []GenesisAccount
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, bal, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q: want address=balance", entry)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(bal), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		out = append(out, GenesisAccount{Address: strings.TrimSpace(addr), Balance: n})
	}
	return out, nil
}

// Typed env-var helpers. Each mutates the target only when the variable is
// set and parses.

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
