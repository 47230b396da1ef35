package auth

import (
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"

	"github.com/mrlokans/secrets/internal/config"
	"github.com/mrlokans/secrets/internal/database"
	"github.com/mrlokans/secrets/internal/entities"
)

// Session data keys. Only the user reference and the login time are stored;
// the user record is always read through the credential store.
const (
	SessionKeyUserID  = "user_id"
	SessionKeyLoginAt = "login_at"
)

const SessionCookieName = "session"

var ErrNoUser = errors.New("cannot start a session without a user")

func init() {
	// Register types that will be stored in sessions
	gob.Register(time.Time{})
}

// UserFinder loads the user a session refers to.
type UserFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
}

// SessionManager issues opaque session tokens, resolves them back to users
// and ends them. It is the only component that writes session state.
type SessionManager struct {
	*scs.SessionManager
	users UserFinder
}

// NewSQLiteSessionStore creates the sessions table if needed and returns a
// store backed by it. The store runs a background cleanup of expired rows;
// call StopCleanup on shutdown.
func NewSQLiteSessionStore(sqlDB *sql.DB) (*sqlite3store.SQLite3Store, error) {
	_, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		expiry REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry);`)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}
	return sqlite3store.NewWithCleanupInterval(sqlDB, 5*time.Minute), nil
}

// NewSessionManager creates a configured session manager.
func NewSessionManager(store scs.Store, users UserFinder, cfg config.Auth) *SessionManager {
	sm := scs.New()
	sm.Store = store

	sm.Lifetime = cfg.SessionLifetime
	if sm.Lifetime <= 0 {
		sm.Lifetime = 24 * time.Hour
	}

	sm.Cookie.Name = SessionCookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.Secure = cfg.SecureCookies
	// Lax, not Strict: the browser must send the cookie on the top-level
	// redirect back from the identity provider.
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Path = "/"

	return &SessionManager{SessionManager: sm, users: users}
}

// StartSession binds a new token to user and returns it with its expiry.
func (sm *SessionManager) StartSession(ctx context.Context, user *entities.User) (string, time.Time, error) {
	if user == nil || user.ID == uuid.Nil {
		return "", time.Time{}, ErrNoUser
	}

	sctx, err := sm.Load(ctx, "")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	sm.Put(sctx, SessionKeyUserID, user.ID.String())
	sm.Put(sctx, SessionKeyLoginAt, time.Now().UTC())

	token, expiry, err := sm.Commit(sctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: failed to commit session: %w", ErrStoreUnavailable, err)
	}
	return token, expiry, nil
}

// Resolve returns the user bound to token. A missing, expired or unknown
// token, or a user that no longer exists, yields nil without an error. Only
// store failures are returned.
func (sm *SessionManager) Resolve(ctx context.Context, token string) (*entities.User, error) {
	if token == "" {
		return nil, nil
	}

	sctx, err := sm.Load(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session: %w", ErrStoreUnavailable, err)
	}

	raw := sm.GetString(sctx, SessionKeyUserID)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}

	user, err := sm.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// LoginTime returns when the session behind token was started.
func (sm *SessionManager) LoginTime(ctx context.Context, token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	sctx, err := sm.Load(ctx, token)
	if err != nil {
		return time.Time{}, false
	}
	at, ok := sm.Get(sctx, SessionKeyLoginAt).(time.Time)
	return at, ok
}

// EndSession removes the binding for token. Ending a session that is already
// gone, or an empty token, is not an error.
func (sm *SessionManager) EndSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	sctx, err := sm.Load(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: failed to load session: %w", ErrStoreUnavailable, err)
	}
	if err := sm.Destroy(sctx); err != nil {
		return fmt.Errorf("%w: failed to destroy session: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// TokenFromRequest returns the session token carried by r, if any.
func (sm *SessionManager) TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(sm.Cookie.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// WriteCookie hands token to the user agent, replacing any session cookie
// already set on this response.
func (sm *SessionManager) WriteCookie(ctx context.Context, w http.ResponseWriter, token string, expiry time.Time) {
	sm.dropSessionCookie(w)
	sm.WriteSessionCookie(ctx, w, token, expiry)
}

// ClearCookie tells the user agent to drop its session cookie.
func (sm *SessionManager) ClearCookie(ctx context.Context, w http.ResponseWriter) {
	sm.dropSessionCookie(w)
	sm.WriteSessionCookie(ctx, w, "", time.Time{})
}

// dropSessionCookie removes pending Set-Cookie headers for the session
// cookie so a response carries at most one.
func (sm *SessionManager) dropSessionCookie(w http.ResponseWriter) {
	header := w.Header()
	prefix := sm.Cookie.Name + "="
	var kept []string
	for _, v := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}
}
