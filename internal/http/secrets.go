package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/auth"
	"github.com/mrlokans/secrets/internal/database"
)

// SecretAuditor records secret updates.
type SecretAuditor interface {
	LogSecret(userID string, err error)
}

// SecretsController serves the protected resource: each user's own secret.
type SecretsController struct {
	service *auth.Service
	auditor SecretAuditor
	pages   *pages
	logger  *zap.Logger
}

func NewSecretsController(service *auth.Service, auditor SecretAuditor, pages *pages, logger *zap.Logger) *SecretsController {
	return &SecretsController{
		service: service,
		auditor: auditor,
		pages:   pages,
		logger:  logger,
	}
}

// Secrets reveals the signed-in user's secret.
func (sc *SecretsController) Secrets(c *gin.Context) {
	user := auth.CurrentUser(c)
	if user == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	secret, err := sc.service.RevealSecret(user)
	if err != nil {
		sc.logger.Error("failed to reveal secret", zap.String("user_id", user.ID.String()), zap.Error(err))
		sc.pages.render(c, http.StatusInternalServerError, "secrets.html", gin.H{"error": "failed to load secret"})
		return
	}

	sc.pages.render(c, http.StatusOK, "secrets.html", gin.H{
		"login":  user.DisplayName(),
		"secret": secret,
	})
}

// SubmitPage renders the form for storing a secret.
func (sc *SecretsController) SubmitPage(c *gin.Context) {
	sc.pages.render(c, http.StatusOK, "submit.html", gin.H{})
}

// Submit stores the signed-in user's secret, replacing any previous one.
func (sc *SecretsController) Submit(c *gin.Context) {
	user := auth.CurrentUser(c)
	if user == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	err := sc.service.SetSecret(c.Request.Context(), user.ID, c.PostForm("secret"))
	if sc.auditor != nil {
		sc.auditor.LogSecret(user.ID.String(), err)
	}
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSecretTooLong):
			sc.pages.render(c, http.StatusBadRequest, "submit.html", gin.H{"error": "Secret is too long"})
		case database.IsUnavailable(err):
			c.Header("Retry-After", "5")
			sc.pages.render(c, http.StatusServiceUnavailable, "submit.html", gin.H{"error": "Service temporarily unavailable. Please try again."})
		default:
			sc.logger.Error("failed to store secret", zap.String("user_id", user.ID.String()), zap.Error(err))
			sc.pages.render(c, http.StatusInternalServerError, "submit.html", gin.H{"error": "Failed to store secret"})
		}
		return
	}

	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"message": "Secret saved"})
		return
	}
	c.Redirect(http.StatusSeeOther, "/secrets")
}
