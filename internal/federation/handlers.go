package federation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/audit"
	"github.com/mrlokans/secrets/internal/auth"
	"github.com/mrlokans/secrets/internal/database"
	"github.com/mrlokans/secrets/internal/entities"
)

// StateCookieName carries the signed handshake state between Begin and the
// callback. Scoped to the /auth/ routes.
const StateCookieName = "oauth_state"

const stateCookiePath = "/auth/"

// Auditor records federated sign-in events.
type Auditor interface {
	LogFederated(userID, provider, action string, req audit.Request, err error)
}

type ControllerConfig struct {
	Strategy      *Strategy
	Sessions      *auth.SessionManager
	Auditor       Auditor
	Logger        *zap.Logger
	SecureCookies bool
}

// Controller serves the initiate and callback endpoints.
type Controller struct {
	strategy *Strategy
	sessions *auth.SessionManager
	auditor  Auditor
	logger   *zap.Logger
	secure   bool
}

func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		strategy: cfg.Strategy,
		sessions: cfg.Sessions,
		auditor:  cfg.Auditor,
		logger:   logger.Named("federation"),
		secure:   cfg.SecureCookies,
	}
}

func (fc *Controller) RegisterRoutes(router gin.IRouter) {
	router.GET("/auth/:provider", fc.Initiate)
	router.GET("/auth/:provider/callback", fc.Callback)
}

// Initiate redirects the user agent to the provider.
func (fc *Controller) Initiate(c *gin.Context) {
	next := auth.SafeRedirect(c.Query("next"))

	hs, err := fc.strategy.Begin(c.Param("provider"), next)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown identity provider"})
			return
		}
		fc.logger.Error("failed to start handshake", zap.String("provider", c.Param("provider")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start sign-in"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     StateCookieName,
		Value:    hs.StateCookie,
		Path:     stateCookiePath,
		MaxAge:   int(fc.strategy.states.TTL().Seconds()),
		Expires:  hs.Expires,
		HttpOnly: true,
		Secure:   fc.secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, hs.AuthURL)
}

// Callback completes the handshake and starts a session.
func (fc *Controller) Callback(c *gin.Context) {
	providerName := c.Param("provider")
	stateCookie, _ := c.Cookie(StateCookieName)
	fc.clearStateCookie(c)

	current := auth.CurrentUser(c)
	outcome, err := fc.strategy.Complete(c.Request.Context(), providerName, Callback{
		Code:        c.Query("code"),
		State:       c.Query("state"),
		Error:       c.Query("error"),
		StateCookie: stateCookie,
	}, current)
	if err != nil {
		fc.fail(c, providerName, current, err)
		return
	}

	if err := fc.sessions.Issue(c, outcome.User); err != nil {
		fc.logger.Error("failed to start session", zap.String("provider", providerName), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
		return
	}

	action := entities.AuditActionFederatedLogin
	if outcome.Linked {
		action = entities.AuditActionLinkIdentity
	}
	fc.audit(outcome.User.ID.String(), providerName, action, c, nil)

	c.Redirect(http.StatusFound, auth.SafeRedirect(outcome.Next))
}

func (fc *Controller) fail(c *gin.Context, providerName string, current *entities.User, err error) {
	userID := ""
	if current != nil {
		userID = current.ID.String()
	}

	switch {
	case errors.Is(err, ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown identity provider"})
	case database.IsUnavailable(err):
		fc.logger.Error("federated sign-in failed: store unavailable", zap.String("provider", providerName), zap.Error(err))
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	case errors.Is(err, ErrIdentityLinked):
		fc.audit(userID, providerName, entities.AuditActionLinkIdentity, c, err)
		c.Redirect(http.StatusFound, "/login?error=identity_linked")
	default:
		fc.logger.Warn("federated sign-in failed", zap.String("provider", providerName), zap.Error(err))
		fc.audit(userID, providerName, entities.AuditActionFederatedLogin, c, err)
		c.Redirect(http.StatusFound, "/login?error=external_auth_failed")
	}
}

func (fc *Controller) clearStateCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     stateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   fc.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (fc *Controller) audit(userID, provider, action string, c *gin.Context, err error) {
	if fc.auditor != nil {
		fc.auditor.LogFederated(userID, provider, action, auth.RequestInfo(c), err)
	}
}
