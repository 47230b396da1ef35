package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/entities"
)

// Issue starts a session for user and writes the cookie. A session the
// request already carried is ended first so a planted token cannot be
// promoted to an authenticated one.
func (sm *SessionManager) Issue(c *gin.Context, user *entities.User) error {
	ctx := c.Request.Context()

	if old := sm.TokenFromRequest(c.Request); old != "" {
		if err := sm.EndSession(ctx, old); err != nil {
			return err
		}
	}

	token, expiry, err := sm.StartSession(ctx, user)
	if err != nil {
		return err
	}
	sm.WriteCookie(ctx, c.Writer, token, expiry)
	return nil
}

// Revoke ends the request's session, if any, and clears the cookie.
func (sm *SessionManager) Revoke(c *gin.Context) error {
	ctx := c.Request.Context()
	err := sm.EndSession(ctx, sm.TokenFromRequest(c.Request))
	sm.ClearCookie(ctx, c.Writer)
	return err
}

func logAuthError(logger *zap.Logger, c *gin.Context, msg string, err error) {
	logger.Error(msg,
		zap.String("path", c.Request.URL.Path),
		zap.String("ip", c.ClientIP()),
		zap.Error(err))
}
