package http

import (
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/auth"
	"github.com/mrlokans/secrets/internal/federation"
)

// Auditor records every event the HTTP surface produces.
type Auditor interface {
	auth.Auditor
	federation.Auditor
	SecretAuditor
}

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Core dependencies
	AuthService *auth.Service
	Sessions    *auth.SessionManager
	Auditor     Auditor
	Database    Pinger
	Logger      *zap.Logger

	// Account activity (optional)
	AuditReader AuditReader

	// Task queue (optional)
	TaskQueue          TaskQueue
	AuditRetentionDays int

	// Federated sign-in (optional)
	Federation *federation.Strategy

	// Login rate limiting
	RateLimit auth.RateLimitConfig

	// CSRF protection is applied when a secret is set
	CSRFSecret    []byte
	SecureCookies bool

	// UI paths
	TemplatesPath string
	StaticPath    string

	// Application info
	Version string
}
