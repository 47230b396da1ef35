package auth

import (
	"errors"
	"html/template"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/audit"
	"github.com/mrlokans/secrets/internal/entities"
)

// Messages shown to the user agent. Internal error text never reaches it.
const (
	msgInvalidCredentials = "Invalid login or password"
	msgUnavailable        = "Service temporarily unavailable. Please try again."
	msgTooManyAttempts    = "Too many login attempts. Please try again later."
)

// loginErrors maps the error codes other flows redirect to /login with.
// Unknown codes are ignored so the query string cannot inject text.
var loginErrors = map[string]string{
	"external_auth_failed": "Sign-in with the identity provider failed. Please try again.",
	"identity_linked":      "That identity is already linked to another account.",
	"session_expired":      "Your session has expired. Please sign in again.",
	"csrf":                 "Your form expired. Please try again.",
}

// Auditor records authentication events.
type Auditor interface {
	LogAuth(userID, action string, req audit.Request, err error)
	LogAccount(userID, action, description string, err error)
}

// isLocalPath validates that a redirect path is local to prevent open redirect attacks.
// Returns true if the path is safe for redirect (local path only).
func isLocalPath(path string) bool {
	if path == "" {
		return false
	}

	// Must start with /
	if !strings.HasPrefix(path, "/") {
		return false
	}

	// Reject protocol-relative URLs (//evil.com)
	if strings.HasPrefix(path, "//") {
		return false
	}

	// Reject URLs with schemes
	if strings.Contains(path, "://") {
		return false
	}

	// Reject paths with backslashes (potential bypass attempts)
	if strings.Contains(path, "\\") {
		return false
	}

	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}

	return true
}

// SafeRedirect returns a safe redirect path, defaulting to "/" if invalid.
func SafeRedirect(path string) string {
	if isLocalPath(path) {
		return path
	}
	return "/"
}

// RequestInfo extracts the audit origin of a request.
func RequestInfo(c *gin.Context) audit.Request {
	return audit.Request{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// AuthControllerConfig wires an AuthController.
type AuthControllerConfig struct {
	Service       *Service
	Sessions      *SessionManager
	Auditor       Auditor
	Logger        *zap.Logger
	TemplatesPath string
	RateLimit     RateLimitConfig
	// Providers lists the enabled federated providers shown on the login page.
	Providers []string
}

// AuthController handles authentication-related HTTP endpoints.
type AuthController struct {
	service     *Service
	sessions    *SessionManager
	auditor     Auditor
	logger      *zap.Logger
	templates   *template.Template
	rateLimiter *RateLimiter
	providers   []string
}

// NewAuthController creates a new authentication controller.
func NewAuthController(cfg AuthControllerConfig) *AuthController {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var tmpl *template.Template
	if cfg.TemplatesPath != "" {
		pattern := filepath.Join(cfg.TemplatesPath, "auth", "*.html")
		parsed, err := template.New("").Funcs(TemplateFuncs()).ParseGlob(pattern)
		if err != nil {
			// Templates might not exist, responses fall back to JSON
			logger.Debug("auth templates not loaded", zap.String("pattern", pattern), zap.Error(err))
		} else {
			tmpl = parsed
		}
	}

	return &AuthController{
		service:     cfg.Service,
		sessions:    cfg.Sessions,
		auditor:     cfg.Auditor,
		logger:      logger.Named("auth"),
		templates:   tmpl,
		rateLimiter: NewRateLimiter(cfg.RateLimit),
		providers:   cfg.Providers,
	}
}

// RegisterRoutes registers authentication routes on the router.
func (ac *AuthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/login", ac.LoginPage)
	router.POST("/login", ac.Login)
	router.GET("/register", ac.RegisterPage)
	router.POST("/register", ac.Register)
	router.POST("/logout", ac.Logout)
	router.GET("/logout", ac.Logout) // Support GET for simple logout links
	router.GET("/profile/password", ac.PasswordPage)
	router.POST("/profile/password", ac.ChangePassword)
}

// Stop cleans up resources (rate limiter background goroutine).
func (ac *AuthController) Stop() {
	if ac.rateLimiter != nil {
		ac.rateLimiter.Stop()
	}
}

// LoginPage renders the login form.
func (ac *AuthController) LoginPage(c *gin.Context) {
	next := SafeRedirect(c.Query("next"))

	if IsAuthenticated(c) {
		c.Redirect(http.StatusFound, next)
		return
	}

	ac.renderTemplate(c, http.StatusOK, "login.html", gin.H{
		"Title":     "Login",
		"Next":      next,
		"Providers": ac.providers,
		"CSRFToken": GetCSRFToken(c),
		"Error":     loginErrors[c.Query("error")],
	})
}

// Login handles the login form submission.
func (ac *AuthController) Login(c *gin.Context) {
	login := c.PostForm("login")
	password := c.PostForm("password")
	next := SafeRedirect(c.PostForm("next"))
	clientIP := c.ClientIP()
	limiterKey := entities.NormalizeLogin(login)

	page := func(status int, msg string) {
		ac.renderTemplate(c, status, "login.html", gin.H{
			"Title":     "Login",
			"Next":      next,
			"Login":     login,
			"Providers": ac.providers,
			"CSRFToken": GetCSRFToken(c),
			"Error":     msg,
		})
	}

	if allowed, retryAfter := ac.rateLimiter.Allow(clientIP, limiterKey); !allowed {
		c.Header("Retry-After", retryAfterSeconds(retryAfter))
		ac.audit(func(a Auditor) {
			a.LogAuth("", entities.AuditActionRateLimited, RequestInfo(c), ErrTooManyAttempts)
		})
		page(http.StatusTooManyRequests, msgTooManyAttempts)
		return
	}

	user, err := ac.service.Authenticate(c.Request.Context(), login, password)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			logAuthError(ac.logger, c, "login failed: store unavailable", err)
			page(http.StatusServiceUnavailable, msgUnavailable)
			return
		}

		ac.rateLimiter.RecordFailure(clientIP, limiterKey)
		ac.audit(func(a Auditor) {
			a.LogAuth("", entities.AuditActionLogin, RequestInfo(c), err)
		})
		page(http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	ac.rateLimiter.RecordSuccess(clientIP, limiterKey)

	if err := ac.sessions.Issue(c, user); err != nil {
		logAuthError(ac.logger, c, "failed to start session", err)
		page(http.StatusServiceUnavailable, msgUnavailable)
		return
	}

	ac.audit(func(a Auditor) {
		a.LogAuth(user.ID.String(), entities.AuditActionLogin, RequestInfo(c), nil)
	})
	c.Redirect(http.StatusFound, next)
}

// RegisterPage renders the registration form.
func (ac *AuthController) RegisterPage(c *gin.Context) {
	if IsAuthenticated(c) {
		c.Redirect(http.StatusFound, "/")
		return
	}

	ac.renderTemplate(c, http.StatusOK, "register.html", gin.H{
		"Title":     "Register",
		"Providers": ac.providers,
		"CSRFToken": GetCSRFToken(c),
	})
}

// Register creates a local account and signs it in.
func (ac *AuthController) Register(c *gin.Context) {
	login := c.PostForm("login")
	password := c.PostForm("password")
	confirm, hasConfirm := c.GetPostForm("confirm_password")

	page := func(status int, msg string) {
		ac.renderTemplate(c, status, "register.html", gin.H{
			"Title":     "Register",
			"Login":     login,
			"Providers": ac.providers,
			"CSRFToken": GetCSRFToken(c),
			"Error":     msg,
		})
	}

	if hasConfirm && confirm != password {
		page(http.StatusBadRequest, "Passwords do not match")
		return
	}

	user, err := ac.service.Register(c.Request.Context(), login, password)
	if err != nil {
		status, msg := http.StatusBadRequest, "Failed to create account"
		switch {
		case errors.Is(err, ErrStoreUnavailable):
			logAuthError(ac.logger, c, "registration failed: store unavailable", err)
			status, msg = http.StatusServiceUnavailable, msgUnavailable
		case errors.Is(err, ErrDuplicateLogin):
			status, msg = http.StatusConflict, "That login is already taken"
		case errors.Is(err, ErrLoginRequired):
			msg = "Login is required"
		case errors.Is(err, ErrLoginTooLong):
			msg = "Login is too long"
		case errors.Is(err, ErrPasswordRequired):
			msg = "Password is required"
		case errors.Is(err, ErrPasswordTooShort):
			msg = "Password is too short"
		case errors.Is(err, ErrPasswordTooLong):
			msg = "Password is too long"
		default:
			logAuthError(ac.logger, c, "registration failed", err)
		}
		ac.audit(func(a Auditor) {
			a.LogAccount("", entities.AuditActionRegister, "local registration", err)
		})
		page(status, msg)
		return
	}

	if err := ac.sessions.Issue(c, user); err != nil {
		logAuthError(ac.logger, c, "failed to start session", err)
		page(http.StatusServiceUnavailable, msgUnavailable)
		return
	}

	ac.audit(func(a Auditor) {
		a.LogAccount(user.ID.String(), entities.AuditActionRegister, "local registration", nil)
	})
	c.Redirect(http.StatusFound, "/")
}

// Logout destroys the session and redirects to login.
func (ac *AuthController) Logout(c *gin.Context) {
	userID := ""
	if user := CurrentUser(c); user != nil {
		userID = user.ID.String()
	}

	err := ac.sessions.Revoke(c)
	if err != nil {
		logAuthError(ac.logger, c, "failed to end session", err)
	}
	if userID != "" {
		ac.audit(func(a Auditor) {
			a.LogAuth(userID, entities.AuditActionLogout, RequestInfo(c), err)
		})
	}

	c.Redirect(http.StatusFound, "/login")
}

// PasswordPage renders the change password form.
func (ac *AuthController) PasswordPage(c *gin.Context) {
	user := CurrentUser(c)
	ac.renderTemplate(c, http.StatusOK, "password.html", gin.H{
		"Title":       "Change password",
		"HasPassword": user != nil && user.HasPassword(),
		"CSRFToken":   GetCSRFToken(c),
	})
}

// ChangePassword replaces the signed-in user's password.
func (ac *AuthController) ChangePassword(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	current := c.PostForm("current_password")
	next := c.PostForm("new_password")

	page := func(status int, data gin.H) {
		data["Title"] = "Change password"
		data["HasPassword"] = user.HasPassword()
		data["CSRFToken"] = GetCSRFToken(c)
		ac.renderTemplate(c, status, "password.html", data)
	}

	err := ac.service.ChangePassword(c.Request.Context(), user.ID, current, next)
	if err != nil {
		status, msg := http.StatusBadRequest, "Failed to change password"
		switch {
		case errors.Is(err, ErrStoreUnavailable):
			logAuthError(ac.logger, c, "password change failed: store unavailable", err)
			status, msg = http.StatusServiceUnavailable, msgUnavailable
		case errors.Is(err, ErrInvalidCredentials):
			msg = "Current password is incorrect"
		case errors.Is(err, ErrNoLocalCredential):
			msg = "This account signs in with an external provider"
		case errors.Is(err, ErrPasswordRequired):
			msg = "New password is required"
		case errors.Is(err, ErrPasswordTooShort):
			msg = "New password is too short"
		case errors.Is(err, ErrPasswordTooLong):
			msg = "New password is too long"
		default:
			logAuthError(ac.logger, c, "password change failed", err)
		}
		ac.audit(func(a Auditor) {
			a.LogAccount(user.ID.String(), entities.AuditActionPasswordChange, "password change", err)
		})
		page(status, gin.H{"Error": msg})
		return
	}

	ac.audit(func(a Auditor) {
		a.LogAccount(user.ID.String(), entities.AuditActionPasswordChange, "password change", nil)
	})
	page(http.StatusOK, gin.H{"Message": "Password updated"})
}

func (ac *AuthController) audit(fn func(Auditor)) {
	if ac.auditor != nil {
		fn(ac.auditor)
	}
}

// renderTemplate renders an auth template or falls back to JSON.
func (ac *AuthController) renderTemplate(c *gin.Context, status int, name string, data gin.H) {
	if ac.templates == nil || ac.templates.Lookup(name) == nil {
		c.JSON(status, data)
		return
	}

	if data == nil {
		data = gin.H{}
	}
	if _, ok := data["CSRFToken"]; !ok {
		data["CSRFToken"] = GetCSRFToken(c)
	}

	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := ac.templates.ExecuteTemplate(c.Writer, name, data); err != nil {
		ac.logger.Error("template error", zap.String("template", name), zap.Error(err))
	}
}
