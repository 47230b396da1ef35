package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidateCronSchedule validates a five-field cron expression.
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return errors.New("schedule is empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	return err
}

// Validate reports every setting that cannot work, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	switch c.Auth.HashAlgorithm {
	case "", "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("AUTH_HASH_ALGORITHM: unknown algorithm %q", c.Auth.HashAlgorithm))
	}
	if c.Auth.MinPasswordLength < 0 {
		errs = append(errs, errors.New("AUTH_MIN_PASSWORD_LENGTH: must not be negative"))
	}
	if c.Auth.MaxLoginAttempts < 0 {
		errs = append(errs, errors.New("AUTH_MAX_LOGIN_ATTEMPTS: must not be negative"))
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, errors.New("AUDIT_RETENTION_DAYS: must not be negative"))
	}

	// An empty schedule disables audit cleanup.
	if c.Audit.CleanupSchedule != "" {
		if err := ValidateCronSchedule(c.Audit.CleanupSchedule); err != nil {
			errs = append(errs, fmt.Errorf("AUDIT_CLEANUP_SCHEDULE %q: %w", c.Audit.CleanupSchedule, err))
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"DATABASE_CONNECT_TIMEOUT", c.Database.ConnectTimeout},
		{"AUTH_SESSION_LIFETIME", c.Auth.SessionLifetime},
		{"AUTH_RATE_LIMIT_WINDOW", c.Auth.RateLimitWindow},
		{"AUTH_LOCKOUT_DURATION", c.Auth.LockoutDuration},
		{"FEDERATION_STATE_TTL", c.Federation.StateTTL},
		{"FEDERATION_EXCHANGE_TIMEOUT", c.Federation.ExchangeTimeout},
		{"TASK_RETRY_DELAY", c.Tasks.RetryDelay},
		{"TASK_TIMEOUT", c.Tasks.TaskTimeout},
		{"TASK_RELEASE_AFTER", c.Tasks.ReleaseAfter},
		{"TASK_CLEANUP_INTERVAL", c.Tasks.CleanupInterval},
		{"TASK_RETENTION_DURATION", c.Tasks.RetentionDuration},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative, got %s", d.name, d.value))
		}
	}

	return errors.Join(errs...)
}
