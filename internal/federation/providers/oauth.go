// Package providers holds the identity providers the service can delegate
// sign-in to. All of them share one authorization code implementation and
// differ only in endpoints and in how the profile document names its fields.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/mrlokans/secrets/internal/config"
	"github.com/mrlokans/secrets/internal/federation"
)

const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"

	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserInfoURL = "https://api.github.com/user"

	maxProfileBytes = 1 << 20
)

// Fields names the profile document members a provider uses.
type Fields struct {
	Subject string
	Email   string
	Name    string
}

// Definition describes one provider's defaults.
type Definition struct {
	Name        string
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	Scopes      []string
	Fields      Fields
}

var (
	Google = Definition{
		Name:        ProviderGoogle,
		Endpoint:    endpoints.Google,
		UserInfoURL: googleUserInfoURL,
		Scopes:      []string{"openid", "email", "profile"},
		Fields:      Fields{Subject: "sub", Email: "email", Name: "name"},
	}

	// GitHub's numeric user id is stable; the login can be renamed.
	GitHub = Definition{
		Name:        ProviderGitHub,
		Endpoint:    endpoints.GitHub,
		UserInfoURL: githubUserInfoURL,
		Scopes:      []string{"read:user", "user:email"},
		Fields:      Fields{Subject: "id", Email: "email", Name: "login"},
	}
)

// OAuthProvider implements federation.Provider over golang.org/x/oauth2.
type OAuthProvider struct {
	name        string
	oauth       *oauth2.Config
	userInfoURL string
	fields      Fields
	httpClient  *http.Client
}

// New creates a provider from def, overridden by any endpoint or scope set
// in cfg. redirectURL is the callback address registered with the provider.
func New(def Definition, cfg config.Provider, redirectURL string) *OAuthProvider {
	endpoint := def.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfoURL := def.UserInfoURL
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}
	scopes := def.Scopes
	if len(cfg.Scopes) > 0 {
		scopes = cfg.Scopes
	}

	return &OAuthProvider{
		name: def.Name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		fields:      def.Fields,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FromConfig builds every provider with a client registration.
func FromConfig(cfg config.Federation) []federation.Provider {
	var enabled []federation.Provider
	for _, entry := range []struct {
		def Definition
		cfg config.Provider
	}{
		{Google, cfg.Google},
		{GitHub, cfg.GitHub},
	} {
		if entry.cfg.Enabled() {
			enabled = append(enabled, New(entry.def, entry.cfg, cfg.CallbackURL(entry.def.Name)))
		}
	}
	return enabled
}

func (p *OAuthProvider) Name() string {
	return p.name
}

func (p *OAuthProvider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *OAuthProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

func (p *OAuthProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*federation.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request failed with status %d", resp.StatusCode)
	}

	return parseProfile(body, p.fields)
}

func parseProfile(body []byte, fields Fields) (*federation.Profile, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	profile := &federation.Profile{
		Subject: stringField(doc, fields.Subject),
		Email:   stringField(doc, fields.Email),
		Name:    stringField(doc, fields.Name),
	}
	if profile.Subject == "" {
		return nil, fmt.Errorf("profile has no %q member", fields.Subject)
	}
	return profile, nil
}

// stringField reads a string or numeric member as text.
func stringField(doc map[string]interface{}, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
