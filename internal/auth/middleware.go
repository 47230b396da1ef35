package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/entities"
)

// ContextKeyUser is the gin context key holding the resolved *entities.User.
const ContextKeyUser = "auth_user"

type userContextKey struct{}

// Gate resolves the session on every request and denies anything outside
// the public list unless a user is bound. Routes are protected by default.
type Gate struct {
	sessions       *SessionManager
	logger         *zap.Logger
	publicPaths    map[string]bool
	publicPrefixes []string
}

// NewGate creates the authorization gate.
func NewGate(sessions *SessionManager, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		sessions: sessions,
		logger:   logger.Named("gate"),
		publicPaths: map[string]bool{
			"/":            true,
			"/health":      true,
			"/ping":        true,
			"/login":       true,
			"/register":    true,
			"/logout":      true,
			"/favicon.ico": true,
		},
		publicPrefixes: []string{"/auth/", "/static/"},
	}
}

// Handler returns a Gin middleware handler that authenticates requests.
func (g *Gate) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		public := g.isPublicPath(c.Request.URL.Path)
		token := g.sessions.TokenFromRequest(c.Request)

		user, err := g.sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			logAuthError(g.logger, c, "failed to resolve session", err)
			if !public {
				g.unavailable(c)
				return
			}
			c.Next()
			return
		}

		if user == nil && token != "" {
			g.sessions.ClearCookie(c.Request.Context(), c.Writer)
		}
		if user != nil {
			c.Set(ContextKeyUser, user)
			c.Request = c.Request.WithContext(WithUser(c.Request.Context(), user))
		}

		if public || user != nil {
			c.Next()
			return
		}

		g.deny(c)
	}
}

// deny short-circuits with a challenge: 401 for API clients, a redirect to
// the login entry point for browsers.
func (g *Gate) deny(c *gin.Context) {
	if isAPIRequest(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication required",
		})
		return
	}

	c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
	c.Abort()
}

func (g *Gate) unavailable(c *gin.Context) {
	c.Header("Retry-After", "5")
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error": "service temporarily unavailable",
	})
}

// isPublicPath checks if a path should be accessible without authentication.
func (g *Gate) isPublicPath(path string) bool {
	if g.publicPaths[path] {
		return true
	}
	for _, prefix := range g.publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// isAPIRequest determines if this is an API request vs web browser request.
func isAPIRequest(c *gin.Context) bool {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *entities.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user bound by the gate, or nil.
func UserFromContext(ctx context.Context) *entities.User {
	user, _ := ctx.Value(userContextKey{}).(*entities.User)
	return user
}

// CurrentUser retrieves the authenticated user from the gin context.
// Returns nil on public routes without a session.
func CurrentUser(c *gin.Context) *entities.User {
	if u, exists := c.Get(ContextKeyUser); exists {
		if user, ok := u.(*entities.User); ok {
			return user
		}
	}
	return nil
}

// IsAuthenticated returns true if the request is authenticated.
func IsAuthenticated(c *gin.Context) bool {
	return CurrentUser(c) != nil
}
