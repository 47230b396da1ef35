package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/oauth2"

	"github.com/mrlokans/secrets/internal/database/users"
)

var (
	// ErrExternalAuthFailure covers every way a delegation handshake can fail:
	// a provider-reported error, a state mismatch or expiry, a failed code
	// exchange, or a profile without a subject.
	ErrExternalAuthFailure = errors.New("external authentication failed")
	ErrProviderNotFound    = errors.New("provider not registered")
	// ErrIdentityLinked is returned when linking an identity that belongs
	// to another account.
	ErrIdentityLinked = users.ErrIdentityLinked
)

// Profile is the part of the provider's user record the service relies on.
type Profile struct {
	Subject string // Stable provider-issued identifier, never empty
	Email   string
	Name    string
}

// Provider is one external identity provider speaking the authorization
// code flow.
type Provider interface {
	// Name returns the provider identifier used in routes (e.g. "google").
	Name() string

	// AuthCodeURL builds the authorization URL carrying state and the S256
	// challenge derived from verifier.
	AuthCodeURL(state, verifier string) string

	// Exchange trades an authorization code for tokens, server to server.
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)

	// FetchProfile retrieves the signed-in user's profile.
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// Registry manages registered identity providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider to the registry
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
