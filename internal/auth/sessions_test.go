package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/secrets/internal/config"
	"github.com/mrlokans/secrets/internal/database/users"
	"github.com/mrlokans/secrets/internal/entities"
)

func setupSessionManager(t *testing.T) (*SessionManager, *Service, *users.Repository) {
	t.Helper()

	svc, repo := setupTestService(t)
	store := memstore.NewWithCleanupInterval(0)
	t.Cleanup(store.StopCleanup)

	sm := NewSessionManager(store, repo, config.Auth{
		SessionLifetime: 24 * time.Hour,
		SecureCookies:   false,
	})
	return sm, svc, repo
}

func TestNewSessionManager(t *testing.T) {
	sm, _, _ := setupSessionManager(t)

	assert.Equal(t, SessionCookieName, sm.Cookie.Name)
	assert.True(t, sm.Cookie.HttpOnly)
	assert.False(t, sm.Cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, sm.Cookie.SameSite)
	assert.Equal(t, 24*time.Hour, sm.Lifetime)
}

func TestSessionManager_DefaultLifetime(t *testing.T) {
	sm := NewSessionManager(memstore.NewWithCleanupInterval(0), nil, config.Auth{SecureCookies: true})
	assert.Equal(t, 24*time.Hour, sm.Lifetime)
	assert.True(t, sm.Cookie.Secure)
}

func TestSessionManager_StartAndResolve(t *testing.T) {
	sm, svc, _ := setupSessionManager(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "pw1")
	require.NoError(t, err)

	token, expiry, err := sm.StartSession(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiry, time.Minute)

	resolved, err := sm.Resolve(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, user.ID, resolved.ID)

	loginAt, ok := sm.LoginTime(ctx, token)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), loginAt, time.Minute)

	other, _, err := sm.StartSession(ctx, user)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestSessionManager_StartSessionRequiresUser(t *testing.T) {
	sm, _, _ := setupSessionManager(t)

	_, _, err := sm.StartSession(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoUser)
	_, _, err = sm.StartSession(context.Background(), &entities.User{})
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestSessionManager_ResolveUnknownTokens(t *testing.T) {
	sm, _, _ := setupSessionManager(t)
	ctx := context.Background()

	for _, token := range []string{"", "not-a-real-token", "x"} {
		user, err := sm.Resolve(ctx, token)
		assert.NoError(t, err)
		assert.Nil(t, user)
	}
}

func TestSessionManager_ResolveDeletedUser(t *testing.T) {
	sm, svc, _ := setupSessionManager(t)
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "ghost", "pw-ghost")
	require.NoError(t, err)

	// A manager backed by an empty user table sees the session but no user.
	empty := NewSessionManager(sm.Store, users.NewRepository(db.DB), config.Auth{})
	token, _, err := empty.StartSession(ctx, user)
	require.NoError(t, err)

	resolved, err := empty.Resolve(ctx, token)
	assert.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestSessionManager_EndSession(t *testing.T) {
	sm, svc, _ := setupSessionManager(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "bob", "pw-bob")
	require.NoError(t, err)

	token, _, err := sm.StartSession(ctx, user)
	require.NoError(t, err)

	require.NoError(t, sm.EndSession(ctx, token))

	resolved, err := sm.Resolve(ctx, token)
	assert.NoError(t, err)
	assert.Nil(t, resolved)

	assert.NoError(t, sm.EndSession(ctx, token))
	assert.NoError(t, sm.EndSession(ctx, "never-existed"))
	assert.NoError(t, sm.EndSession(ctx, ""))
}

func TestSessionManager_Expiry(t *testing.T) {
	svc, repo := setupTestService(t)
	sm := NewSessionManager(memstore.NewWithCleanupInterval(0), repo, config.Auth{SessionLifetime: 50 * time.Millisecond})
	ctx := context.Background()

	user, err := svc.Register(ctx, "short", "pw-short")
	require.NoError(t, err)

	token, _, err := sm.StartSession(ctx, user)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	resolved, err := sm.Resolve(ctx, token)
	assert.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestSessionManager_SQLiteStore(t *testing.T) {
	svc, repo := setupTestService(t)
	db := setupTestDB(t)
	sqlDB, err := db.SQLDB()
	require.NoError(t, err)

	store, err := NewSQLiteSessionStore(sqlDB)
	require.NoError(t, err)
	t.Cleanup(store.StopCleanup)

	sm := NewSessionManager(store, repo, config.Auth{SessionLifetime: time.Hour})
	ctx := context.Background()

	user, err := svc.Register(ctx, "persisted", "pw-persisted")
	require.NoError(t, err)

	token, _, err := sm.StartSession(ctx, user)
	require.NoError(t, err)

	var count int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM sessions WHERE token = ?`, token).Scan(&count))
	assert.Equal(t, 1, count)

	resolved, err := sm.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	require.NoError(t, sm.EndSession(ctx, token))
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM sessions WHERE token = ?`, token).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSessionManager_StoreUnavailable(t *testing.T) {
	svc, repo := setupTestService(t)
	db := setupTestDB(t)
	sqlDB, err := db.SQLDB()
	require.NoError(t, err)
	store, err := NewSQLiteSessionStore(sqlDB)
	require.NoError(t, err)
	store.StopCleanup()

	sm := NewSessionManager(store, repo, config.Auth{})
	ctx := context.Background()
	user, err := svc.Register(ctx, "outage", "pw-outage")
	require.NoError(t, err)

	require.NoError(t, db.Close())

	_, _, err = sm.StartSession(ctx, user)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = sm.Resolve(ctx, "some-token")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSessionManager_Cookies(t *testing.T) {
	sm, _, _ := setupSessionManager(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	sm.WriteCookie(ctx, w, "tok-123", time.Now().Add(time.Hour))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, "tok-123", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, "tok-123", sm.TokenFromRequest(req))
	assert.Empty(t, sm.TokenFromRequest(httptest.NewRequest(http.MethodGet, "/", nil)))

	w = httptest.NewRecorder()
	sm.ClearCookie(ctx, w)
	cleared := w.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Empty(t, cleared[0].Value)
	assert.True(t, cleared[0].MaxAge < 0)
}

func TestLocalLoginSessionScenario(t *testing.T) {
	sm, svc, _ := setupSessionManager(t)
	ctx := context.Background()

	alice, err := svc.Register(ctx, "alice", "pw1")
	require.NoError(t, err)

	authed, err := svc.Authenticate(ctx, "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, authed.ID)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, _, err := sm.StartSession(ctx, authed)
	require.NoError(t, err)

	resolved, err := sm.Resolve(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, alice.ID, resolved.ID)
	assert.Equal(t, "alice", resolved.LoginName())

	require.NoError(t, sm.EndSession(ctx, token))

	resolved, err = sm.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}
