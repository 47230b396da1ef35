package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mrlokans/secrets/internal/config"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		fields  Fields
		want    string
		wantErr bool
	}{
		{"google sub", `{"sub":"g-123","email":"a@example.com"}`, Google.Fields, "g-123", false},
		{"github numeric id", `{"id":583231,"login":"octocat"}`, GitHub.Fields, "583231", false},
		{"github large id keeps precision", `{"id":9007199254740993}`, GitHub.Fields, "9007199254740993", false},
		{"missing subject", `{"email":"a@example.com"}`, Google.Fields, "", true},
		{"empty subject", `{"sub":""}`, Google.Fields, "", true},
		{"subject of wrong type", `{"sub":{"nested":true}}`, Google.Fields, "", true},
		{"not json", `<html>`, Google.Fields, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := parseProfile([]byte(tt.body), tt.fields)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, profile.Subject)
		})
	}
}

func TestParseProfile_OptionalFields(t *testing.T) {
	profile, err := parseProfile([]byte(`{"id":1,"login":"octocat","email":"o@example.com"}`), GitHub.Fields)
	require.NoError(t, err)
	assert.Equal(t, "octocat", profile.Name)
	assert.Equal(t, "o@example.com", profile.Email)
}

func TestNew_AppliesOverrides(t *testing.T) {
	p := New(Google, config.Provider{ClientID: "cid"}, "https://app.example/auth/google/callback")
	assert.Equal(t, "google", p.Name())
	assert.Equal(t, Google.Endpoint.TokenURL, p.oauth.Endpoint.TokenURL)
	assert.Equal(t, Google.Scopes, p.oauth.Scopes)
	assert.Equal(t, googleUserInfoURL, p.userInfoURL)

	p = New(GitHub, config.Provider{
		ClientID:    "cid",
		AuthURL:     "https://ghe.example/login/oauth/authorize",
		TokenURL:    "https://ghe.example/login/oauth/access_token",
		UserInfoURL: "https://ghe.example/api/v3/user",
		Scopes:      []string{"read:user"},
	}, "")
	assert.Equal(t, "https://ghe.example/login/oauth/authorize", p.oauth.Endpoint.AuthURL)
	assert.Equal(t, "https://ghe.example/login/oauth/access_token", p.oauth.Endpoint.TokenURL)
	assert.Equal(t, "https://ghe.example/api/v3/user", p.userInfoURL)
	assert.Equal(t, []string{"read:user"}, p.oauth.Scopes)
}

func TestAuthCodeURL(t *testing.T) {
	p := New(Google, config.Provider{ClientID: "cid"}, "https://app.example/auth/google/callback")
	verifier := oauth2.GenerateVerifier()

	raw := p.AuthCodeURL("nonce-1", verifier)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "nonce-1", q.Get("state"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "https://app.example/auth/google/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
	assert.NotContains(t, raw, verifier)
}

func TestExchangeAndFetchProfile(t *testing.T) {
	var gotVerifier, gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotVerifier = r.PostForm.Get("code_verifier")
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "gho_token",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":583231,"login":"octocat"}`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Provider{
		ClientID:     "cid",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/user",
	}
	p := New(GitHub, cfg, "http://localhost/auth/github/callback")
	ctx := context.Background()

	token, err := p.Exchange(ctx, "good-code", "the-verifier")
	require.NoError(t, err)
	assert.Equal(t, "gho_token", token.AccessToken)
	assert.Equal(t, "the-verifier", gotVerifier)

	profile, err := p.FetchProfile(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "583231", profile.Subject)
	assert.Equal(t, "octocat", profile.Name)
	assert.Contains(t, gotAuth, "gho_token")

	_, err = p.Exchange(ctx, "bad-code", "the-verifier")
	assert.Error(t, err)

	cfg.UserInfoURL = srv.URL + "/broken"
	_, err = New(GitHub, cfg, "").FetchProfile(ctx, token)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	assert.Empty(t, FromConfig(config.Federation{}))

	enabled := FromConfig(config.Federation{
		BaseURL: "https://app.example/",
		GitHub:  config.Provider{ClientID: "gh"},
	})
	require.Len(t, enabled, 1)
	assert.Equal(t, ProviderGitHub, enabled[0].Name())

	gh := enabled[0].(*OAuthProvider)
	assert.Equal(t, "https://app.example/auth/github/callback", gh.oauth.RedirectURL)
}
