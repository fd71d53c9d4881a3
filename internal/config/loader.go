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
// built-in defaults, applies BATTLED_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BATTLED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.PlatformWallet, "BATTLED_MARKET_PLATFORM_WALLET")
	setDuration(&cfg.Market.MinDuration, "BATTLED_MARKET_MIN_DURATION")
	setDuration(&cfg.Market.MaxDuration, "BATTLED_MARKET_MAX_DURATION")
	setDuration(&cfg.Market.MaxStartDelay, "BATTLED_MARKET_MAX_START_DELAY")

	// ── Admin ──
	setStr(&cfg.Admin.Address, "BATTLED_ADMIN_ADDRESS")
	setStr(&cfg.Admin.PrivateKey, "BATTLED_ADMIN_PRIVATE_KEY")
	setStr(&cfg.Admin.EncryptedKeyPath, "BATTLED_ADMIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Admin.KeyPassword, "BATTLED_ADMIN_KEY_PASSWORD")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "BATTLED_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "BATTLED_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "BATTLED_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "BATTLED_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "BATTLED_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "BATTLED_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "BATTLED_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "BATTLED_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "BATTLED_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "BATTLED_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "BATTLED_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BATTLED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BATTLED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BATTLED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BATTLED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BATTLED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BATTLED_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BATTLED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BATTLED_S3_REGION")
	setStr(&cfg.S3.Bucket, "BATTLED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BATTLED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BATTLED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BATTLED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BATTLED_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BATTLED_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "BATTLED_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "BATTLED_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BATTLED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BATTLED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BATTLED_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BATTLED_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitRPS, "BATTLED_SERVER_RATE_LIMIT_RPS")
	setBool(&cfg.Server.RequireSignatures, "BATTLED_SERVER_REQUIRE_SIGNATURES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BATTLED_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BATTLED_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BATTLED_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BATTLED_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BATTLED_MODE")
	setStr(&cfg.LogLevel, "BATTLED_LOG_LEVEL")
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
