package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, int32(8188), cfg.HTTP.Port)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionLifetime)
	assert.Equal(t, "bcrypt", cfg.Auth.HashAlgorithm)
	assert.Equal(t, 8, cfg.Auth.MinPasswordLength)
	assert.Equal(t, 10*time.Second, cfg.Federation.ExchangeTimeout)
	assert.False(t, cfg.Federation.Google.Enabled())
	assert.False(t, cfg.Federation.GitHub.Enabled())
}

func TestNewConfig_ProviderFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "client-1")
	t.Setenv("GOOGLE_CLIENT_SECRET", "s3cret")
	t.Setenv("GOOGLE_SCOPES", "openid, email profile")
	t.Setenv("FEDERATION_BASE_URL", "https://secrets.example.com/")

	cfg := NewConfig()

	assert.True(t, cfg.Federation.Google.Enabled())
	assert.Equal(t, "s3cret", cfg.Federation.Google.ClientSecret)
	assert.Equal(t, []string{"openid", "email", "profile"}, cfg.Federation.Google.Scopes)
	assert.Equal(t, "https://secrets.example.com/auth/google/callback", cfg.Federation.CallbackURL("google"))
}

func TestSplitScopes(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"read:user", []string{"read:user"}},
		{"read:user,user:email", []string{"read:user", "user:email"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, splitScopes(tt.raw), "raw=%q", tt.raw)
	}
}

func TestValidateCronSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"30 3 * * *", false},
		{"*/5 * * * *", false},
		{"", true},
		{"not a schedule", true},
		{"0 30 3 * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronSchedule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"argon2id", func(c *Config) { c.Auth.HashAlgorithm = "argon2id" }, ""},
		{"cleanup disabled", func(c *Config) { c.Audit.CleanupSchedule = "" }, ""},
		{"unknown algorithm", func(c *Config) { c.Auth.HashAlgorithm = "md5" }, "AUTH_HASH_ALGORITHM"},
		{"negative password length", func(c *Config) { c.Auth.MinPasswordLength = -1 }, "AUTH_MIN_PASSWORD_LENGTH"},
		{"negative retention", func(c *Config) { c.Audit.RetentionDays = -1 }, "AUDIT_RETENTION_DAYS"},
		{"bad schedule", func(c *Config) { c.Audit.CleanupSchedule = "daily" }, "AUDIT_CLEANUP_SCHEDULE"},
		{"negative session lifetime", func(c *Config) { c.Auth.SessionLifetime = -time.Hour }, "AUTH_SESSION_LIFETIME"},
		{"negative exchange timeout", func(c *Config) { c.Federation.ExchangeTimeout = -time.Second }, "FEDERATION_EXCHANGE_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := NewConfig()
	cfg.Auth.HashAlgorithm = "md5"
	cfg.Audit.CleanupSchedule = "daily"

	err := cfg.Validate()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "AUTH_HASH_ALGORITHM")
		assert.Contains(t, err.Error(), "AUDIT_CLEANUP_SCHEDULE")
	}
}
