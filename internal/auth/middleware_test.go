package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/secrets/internal/config"
	"github.com/mrlokans/secrets/internal/entities"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupGate(t *testing.T) (*gin.Engine, *SessionManager, *Service) {
	t.Helper()

	sm, svc, _ := setupSessionManager(t)
	gate := NewGate(sm, nil)

	router := gin.New()
	router.Use(gate.Handler())
	router.GET("/protected", func(c *gin.Context) {
		user := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":  user.ID.String(),
			"from_ctx": UserFromContext(c.Request.Context()).ID.String(),
		})
	})
	router.GET("/api/protected", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"authenticated": IsAuthenticated(c)})
	})

	return router, sm, svc
}

func loginCookie(t *testing.T, sm *SessionManager, user *entities.User) *http.Cookie {
	t.Helper()
	token, _, err := sm.StartSession(context.Background(), user)
	require.NoError(t, err)
	return &http.Cookie{Name: SessionCookieName, Value: token}
}

func TestGate_PublicPaths(t *testing.T) {
	sm, _, _ := setupSessionManager(t)
	gate := NewGate(sm, nil)

	publicPaths := []string{
		"/",
		"/health",
		"/ping",
		"/login",
		"/register",
		"/logout",
		"/auth/google",
		"/auth/github/callback",
		"/static/style.css",
		"/favicon.ico",
	}

	for _, path := range publicPaths {
		t.Run(path, func(t *testing.T) {
			router := gin.New()
			router.Use(gate.Handler())
			router.GET(path, func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, path, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("Expected status 200 for public path %s, got %d", path, rr.Code)
			}
		})
	}
}

func TestGate_ProtectedPath_RedirectsToLogin(t *testing.T) {
	router, _, _ := setupGate(t)

	req := httptest.NewRequest(http.MethodGet, "/protected?tab=2", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/login?next=%2Fprotected%3Ftab%3D2", rr.Header().Get("Location"))
}

func TestGate_APIPath_Returns401(t *testing.T) {
	router, _, _ := setupGate(t)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/protected", nil),
		func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			r.Header.Set("Accept", "application/json")
			return r
		}(),
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"authentication required"}`, rr.Body.String())
	}
}

func TestGate_ValidSessionBindsUser(t *testing.T) {
	router, sm, svc := setupGate(t)

	user, err := svc.Register(context.Background(), "alice", "pw1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(loginCookie(t, sm, user))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"user_id":"`+user.ID.String()+`","from_ctx":"`+user.ID.String()+`"}`, rr.Body.String())
}

func TestGate_PublicPathSeesSession(t *testing.T) {
	router, sm, svc := setupGate(t)

	user, err := svc.Register(context.Background(), "alice", "pw1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(loginCookie(t, sm, user))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.JSONEq(t, `{"authenticated":true}`, rr.Body.String())
}

func TestGate_EndedSessionIsRejectedAndCookieCleared(t *testing.T) {
	router, sm, svc := setupGate(t)

	user, err := svc.Register(context.Background(), "alice", "pw1")
	require.NoError(t, err)
	cookie := loginCookie(t, sm, user)
	require.NoError(t, sm.EndSession(context.Background(), cookie.Value))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)

	var cleared bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookieName && c.Value == "" {
			cleared = true
		}
	}
	assert.True(t, cleared, "stale session cookie should be cleared")
}

func TestGate_StoreUnavailable(t *testing.T) {
	svc, repo := setupTestService(t)
	db := setupTestDB(t)
	sqlDB, err := db.SQLDB()
	require.NoError(t, err)
	store, err := NewSQLiteSessionStore(sqlDB)
	require.NoError(t, err)
	store.StopCleanup()

	sm := NewSessionManager(store, repo, config.Auth{SessionLifetime: time.Hour})
	user, err := svc.Register(context.Background(), "alice", "pw1")
	require.NoError(t, err)
	cookie := loginCookie(t, sm, user)

	require.NoError(t, db.Close())

	router := gin.New()
	router.Use(NewGate(sm, nil).Handler())
	router.GET("/protected", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "closed")

	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCurrentUser_NoUser(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, CurrentUser(c))
	assert.False(t, IsAuthenticated(c))
	assert.Nil(t, UserFromContext(context.Background()))
}

func TestSessionManager_Issue_ReplacesExistingSession(t *testing.T) {
	sm := NewSessionManager(memstore.NewWithCleanupInterval(0), nil, config.Auth{})
	ctx := context.Background()
	user := &entities.User{}
	require.NoError(t, user.BeforeCreate(nil))

	oldToken, _, err := sm.StartSession(ctx, user)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	c.Request = httptest.NewRequest(http.MethodPost, "/login", nil)
	c.Request.AddCookie(&http.Cookie{Name: SessionCookieName, Value: oldToken})

	require.NoError(t, sm.Issue(c, user))

	var newToken string
	for _, ck := range rr.Result().Cookies() {
		if ck.Name == SessionCookieName {
			newToken = ck.Value
		}
	}
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, oldToken, newToken)

	_, found, err := sm.Store.Find(oldToken)
	require.NoError(t, err)
	assert.False(t, found, "previous session must be gone")
}

func TestGate_StaleCookieLoginSetsOneSessionCookie(t *testing.T) {
	sm, svc, _ := setupSessionManager(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, "alice", "pw1-long-enough")
	require.NoError(t, err)

	router := gin.New()
	router.Use(NewGate(sm, nil).Handler())
	router.POST("/login", func(c *gin.Context) {
		require.NoError(t, sm.Issue(c, user))
		c.Status(http.StatusSeeOther)
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale-token"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var sessionCookies []*http.Cookie
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			sessionCookies = append(sessionCookies, cookie)
		}
	}
	require.Len(t, sessionCookies, 1)
	require.NotEmpty(t, sessionCookies[0].Value)

	resolved, err := sm.Resolve(ctx, sessionCookies[0].Value)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, user.ID, resolved.ID)
}

func TestGate_StaleCookieIsCleared(t *testing.T) {
	router, _, _ := setupGate(t)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale-token"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
}
