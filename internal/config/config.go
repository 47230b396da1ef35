package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		UI
		Auth
		Federation
		Crypto
		Audit
		Tasks
		Log
	}

	HTTP struct {
		Port int32
		Host string
	}

	Global struct {
		ShutdownTimeoutInSeconds int
	}

	Database struct {
		Path string
		// ConnectTimeout bounds the retry loop around the initial connection.
		ConnectTimeout time.Duration
		MaxOpenConns   int
	}

	UI struct {
		TemplatesPath string
		StaticPath    string
	}

	Auth struct {
		SessionSecret   string
		SessionLifetime time.Duration
		SecureCookies   bool // Set to false for local dev without HTTPS

		// Password hashing
		HashAlgorithm     string // "bcrypt" or "argon2id"
		BcryptCost        int
		Argon2Time        uint32
		Argon2MemoryKiB   uint32
		Argon2Threads     uint8
		MinPasswordLength int

		// Rate limiting configuration
		MaxLoginAttempts int           // Max failed attempts before lockout (default: 5)
		RateLimitWindow  time.Duration // Time window for counting attempts (default: 15m)
		LockoutDuration  time.Duration // How long to lock out (default: 30m)
	}

	// Provider holds the client registration for one external identity provider.
	// A provider with an empty ClientID is disabled.
	Provider struct {
		ClientID     string
		ClientSecret string
		AuthURL      string // Overrides the provider default when set
		TokenURL     string
		UserInfoURL  string
		Scopes       []string
	}

	Federation struct {
		BaseURL         string        // Public URL used to build callback addresses
		StateSecret     string        // Signs the handshake state cookie; falls back to the session secret
		StateTTL        time.Duration // How long a started handshake stays valid
		ExchangeTimeout time.Duration // Deadline for the server-to-server code exchange
		Google          Provider
		GitHub          Provider
	}

	Crypto struct {
		EncryptionKey string // base64-encoded 32-byte key
		KeyFilePath   string
	}

	Audit struct {
		RetentionDays   int
		CleanupSchedule string // Cron format: "30 3 * * *" = daily at 03:30
	}

	Tasks struct {
		Enabled           bool
		Workers           int
		MaxRetries        int
		RetryDelay        time.Duration
		TaskTimeout       time.Duration
		ReleaseAfter      time.Duration
		CleanupInterval   time.Duration
		RetentionDuration time.Duration
	}

	Log struct {
		Level    string
		Encoding string // "console" or "json"
	}
)

// Enabled reports whether the provider has a client registration.
func (p Provider) Enabled() bool {
	return p.ClientID != ""
}

// CallbackURL returns the redirect address registered with the named provider.
func (f Federation) CallbackURL(provider string) string {
	return strings.TrimRight(f.BaseURL, "/") + "/auth/" + provider + "/callback"
}

func splitScopes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	scopes := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			scopes = append(scopes, f)
		}
	}
	return scopes
}

func provider(v *viper.Viper, prefix string) Provider {
	return Provider{
		ClientID:     v.GetString(prefix + "_CLIENT_ID"),
		ClientSecret: v.GetString(prefix + "_CLIENT_SECRET"),
		AuthURL:      v.GetString(prefix + "_AUTH_URL"),
		TokenURL:     v.GetString(prefix + "_TOKEN_URL"),
		UserInfoURL:  v.GetString(prefix + "_USERINFO_URL"),
		Scopes:       splitScopes(v.GetString(prefix + "_SCOPES")),
	}
}

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8188)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("database_connect_timeout", "30s")
	v.SetDefault("database_max_open_conns", 8)
	v.SetDefault("templates_path", "./templates")
	v.SetDefault("static_path", "./static")

	// Auth defaults
	v.SetDefault("auth_session_secret", "")       // Auto-generated if empty
	v.SetDefault("auth_session_lifetime", "24h")  // 24 hours
	v.SetDefault("auth_secure_cookies", true)     // HTTPS-only cookies
	v.SetDefault("auth_hash_algorithm", "bcrypt") // bcrypt or argon2id
	v.SetDefault("auth_bcrypt_cost", 12)          // bcrypt cost factor
	v.SetDefault("auth_argon2_time", 1)
	v.SetDefault("auth_argon2_memory_kib", 64*1024)
	v.SetDefault("auth_argon2_threads", 4)
	v.SetDefault("auth_min_password_length", 8)
	v.SetDefault("auth_max_login_attempts", 5)    // Max failed attempts
	v.SetDefault("auth_rate_limit_window", "15m") // Window for counting attempts
	v.SetDefault("auth_lockout_duration", "30m")  // Lockout duration

	// Federation defaults
	v.SetDefault("federation_base_url", "http://localhost:8188")
	v.SetDefault("federation_state_secret", "")
	v.SetDefault("federation_state_ttl", "10m")
	v.SetDefault("federation_exchange_timeout", "10s")

	// Crypto defaults
	v.SetDefault("crypto_encryption_key", "")
	v.SetDefault("crypto_key_file", DefaultKeyFilePath)

	// Audit defaults
	v.SetDefault("audit_retention_days", 30)
	v.SetDefault("audit_cleanup_schedule", "30 3 * * *")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_max_retries", 3)
	v.SetDefault("task_retry_delay", "1m")
	v.SetDefault("task_timeout", "5m")
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")
	v.SetDefault("task_retention_duration", "24h")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "console")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path:           v.GetString("DATABASE_PATH"),
			ConnectTimeout: v.GetDuration("DATABASE_CONNECT_TIMEOUT"),
			MaxOpenConns:   v.GetInt("DATABASE_MAX_OPEN_CONNS"),
		},
		UI: UI{
			TemplatesPath: v.GetString("TEMPLATES_PATH"),
			StaticPath:    v.GetString("STATIC_PATH"),
		},
		Auth: Auth{
			SessionSecret:     v.GetString("AUTH_SESSION_SECRET"),
			SessionLifetime:   v.GetDuration("AUTH_SESSION_LIFETIME"),
			SecureCookies:     v.GetBool("AUTH_SECURE_COOKIES"),
			HashAlgorithm:     v.GetString("AUTH_HASH_ALGORITHM"),
			BcryptCost:        v.GetInt("AUTH_BCRYPT_COST"),
			Argon2Time:        v.GetUint32("AUTH_ARGON2_TIME"),
			Argon2MemoryKiB:   v.GetUint32("AUTH_ARGON2_MEMORY_KIB"),
			Argon2Threads:     uint8(v.GetUint("AUTH_ARGON2_THREADS")),
			MinPasswordLength: v.GetInt("AUTH_MIN_PASSWORD_LENGTH"),
			MaxLoginAttempts:  v.GetInt("AUTH_MAX_LOGIN_ATTEMPTS"),
			RateLimitWindow:   v.GetDuration("AUTH_RATE_LIMIT_WINDOW"),
			LockoutDuration:   v.GetDuration("AUTH_LOCKOUT_DURATION"),
		},
		Federation: Federation{
			BaseURL:         v.GetString("FEDERATION_BASE_URL"),
			StateSecret:     v.GetString("FEDERATION_STATE_SECRET"),
			StateTTL:        v.GetDuration("FEDERATION_STATE_TTL"),
			ExchangeTimeout: v.GetDuration("FEDERATION_EXCHANGE_TIMEOUT"),
			Google:          provider(v, "GOOGLE"),
			GitHub:          provider(v, "GITHUB"),
		},
		Crypto: Crypto{
			EncryptionKey: v.GetString("CRYPTO_ENCRYPTION_KEY"),
			KeyFilePath:   v.GetString("CRYPTO_KEY_FILE"),
		},
		Audit: Audit{
			RetentionDays:   v.GetInt("AUDIT_RETENTION_DAYS"),
			CleanupSchedule: v.GetString("AUDIT_CLEANUP_SCHEDULE"),
		},
		Tasks: Tasks{
			Enabled:           v.GetBool("TASKS_ENABLED"),
			Workers:           v.GetInt("TASK_WORKERS"),
			MaxRetries:        v.GetInt("TASK_MAX_RETRIES"),
			RetryDelay:        v.GetDuration("TASK_RETRY_DELAY"),
			TaskTimeout:       v.GetDuration("TASK_TIMEOUT"),
			ReleaseAfter:      v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval:   v.GetDuration("TASK_CLEANUP_INTERVAL"),
			RetentionDuration: v.GetDuration("TASK_RETENTION_DURATION"),
		},
		Log: Log{
			Level:    v.GetString("LOG_LEVEL"),
			Encoding: v.GetString("LOG_ENCODING"),
		},
	}
}
