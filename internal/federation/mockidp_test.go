package federation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrlokans/secrets/internal/config"
	"github.com/mrlokans/secrets/internal/crypto"
	"github.com/mrlokans/secrets/internal/database"
	"github.com/mrlokans/secrets/internal/database/users"
	"github.com/mrlokans/secrets/internal/federation"
	"github.com/mrlokans/secrets/internal/federation/providers"
	"github.com/mrlokans/secrets/internal/tokenstore"
)

const (
	noSubject  = "no-subject"
	badCode    = "rejected-code"
	codePrefix = "code-for:"
)

// mockIdP is a minimal authorization server. The code it is handed names the
// subject the profile endpoint will report.
type mockIdP struct {
	*httptest.Server
	exchanges atomic.Int32
	mu        sync.Mutex
	verifiers []string
}

func newMockIdP(t *testing.T) *mockIdP {
	t.Helper()
	m := &mockIdP{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		m.exchanges.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		code := r.PostForm.Get("code")
		verifier := r.PostForm.Get("code_verifier")

		w.Header().Set("Content-Type", "application/json")
		if code == badCode || verifier == "" || !strings.HasPrefix(code, codePrefix) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}

		m.mu.Lock()
		m.verifiers = append(m.verifiers, verifier)
		m.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at:" + strings.TrimPrefix(code, codePrefix),
			"refresh_token": "rt:" + strings.TrimPrefix(code, codePrefix),
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "openid email",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		subject, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer at:")
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		doc := map[string]interface{}{"email": subject + "@example.com", "name": "Test User"}
		if subject != noSubject {
			doc["sub"] = subject
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockIdP) config() config.Provider {
	return config.Provider{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      m.URL + "/authorize",
		TokenURL:     m.URL + "/token",
		UserInfoURL:  m.URL + "/userinfo",
	}
}

func (m *mockIdP) provider() *providers.OAuthProvider {
	return providers.New(providers.Google, m.config(), "http://localhost:8188/auth/google/callback")
}

type fixture struct {
	idp      *mockIdP
	db       *database.Database
	users    *users.Repository
	tokens   *tokenstore.TokenStore
	states   *federation.StateCodec
	strategy *federation.Strategy
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(context.Background(), config.Database{
		Path:           filepath.Join(t.TempDir(), "federation.db"),
		ConnectTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key, err := crypto.GenerateKeyBytes()
	require.NoError(t, err)
	enc, err := crypto.NewEncryptor(key)
	require.NoError(t, err)

	codec, err := federation.NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	require.NoError(t, err)

	idp := newMockIdP(t)
	repo := users.NewRepository(db.DB)
	tokens := tokenstore.New(db.DB, enc)

	f := &fixture{
		idp:    idp,
		db:     db,
		users:  repo,
		tokens: tokens,
		states: codec,
	}
	f.strategy = f.withProviders(t, idp.provider())
	return f
}

func (f *fixture) idpConfig() config.Provider {
	return f.idp.config()
}

// withProviders builds a strategy over the fixture's store and state codec.
func (f *fixture) withProviders(t *testing.T, ps ...federation.Provider) *federation.Strategy {
	t.Helper()
	return federation.NewStrategy(federation.StrategyConfig{
		Registry:        federation.NewRegistry(ps...),
		Users:           f.users,
		Tokens:          f.tokens,
		States:          f.states,
		ExchangeTimeout: 5 * time.Second,
	})
}

// begin starts a handshake and returns the state echoed back by the provider.
func (f *fixture) begin(t *testing.T, next string) (*federation.Handshake, string) {
	t.Helper()
	hs, err := f.strategy.Begin(providers.ProviderGoogle, next)
	require.NoError(t, err)

	u, err := url.Parse(hs.AuthURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return hs, state
}

// callback simulates the provider redirect for subject.
func (f *fixture) callback(t *testing.T, subject string) federation.Callback {
	t.Helper()
	hs, state := f.begin(t, "/secrets")
	return federation.Callback{
		Code:        codePrefix + subject,
		State:       state,
		StateCookie: hs.StateCookie,
	}
}
