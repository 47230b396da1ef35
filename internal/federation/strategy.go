// Package federation implements sign-in through external identity providers
// using the authorization code flow with PKCE.
//
// A handshake starts with Begin, which returns the provider URL and a signed
// state value for a short-lived cookie. Nothing is stored server-side until
// the callback. Complete verifies that state, exchanges the code and resolves
// the provider subject to exactly one local user.
package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mrlokans/secrets/internal/entities"
)

const defaultExchangeTimeout = 10 * time.Second

// UserStore resolves provider identities to users.
type UserStore interface {
	FindOrCreateByExternalID(ctx context.Context, provider, externalID string, seed entities.User) (*entities.User, bool, error)
	LinkExternalID(ctx context.Context, userID uuid.UUID, provider, externalID string) (*entities.User, error)
	Save(ctx context.Context, user *entities.User) error
}

// TokenSaver keeps the tokens a provider issued.
type TokenSaver interface {
	SaveToken(ctx context.Context, token *entities.DecryptedToken) error
}

type StrategyConfig struct {
	Registry *Registry
	Users    UserStore
	Tokens   TokenSaver // Optional
	States   *StateCodec
	// ExchangeTimeout bounds the code exchange and profile fetch together.
	ExchangeTimeout time.Duration
	Logger          *zap.Logger
}

// Strategy runs the delegation handshake.
type Strategy struct {
	registry        *Registry
	users           UserStore
	tokens          TokenSaver
	states          *StateCodec
	exchangeTimeout time.Duration
	logger          *zap.Logger
}

func NewStrategy(cfg StrategyConfig) *Strategy {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ExchangeTimeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}
	return &Strategy{
		registry:        cfg.Registry,
		users:           cfg.Users,
		tokens:          cfg.Tokens,
		states:          cfg.States,
		exchangeTimeout: timeout,
		logger:          logger.Named("federation"),
	}
}

// Providers lists the enabled provider names.
func (s *Strategy) Providers() []string {
	return s.registry.List()
}

// Handshake is a started delegation: where to send the user agent and the
// signed state it must bring back.
type Handshake struct {
	AuthURL     string
	StateCookie string
	Expires     time.Time
}

// Begin starts a handshake with the named provider. next is where the user
// lands after a successful callback.
func (s *Strategy) Begin(providerName, next string) (*Handshake, error) {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	verifier := oauth2.GenerateVerifier()
	st, signed, err := s.states.Issue(provider.Name(), verifier, next)
	if err != nil {
		return nil, err
	}

	return &Handshake{
		AuthURL:     provider.AuthCodeURL(st.Nonce, verifier),
		StateCookie: signed,
		Expires:     st.Expires,
	}, nil
}

// Callback is what the provider redirect and the state cookie carry back.
type Callback struct {
	Code        string
	State       string
	Error       string // Provider-reported error code, if any
	StateCookie string
}

// Outcome of a completed handshake.
type Outcome struct {
	User     *entities.User
	Provider string
	Created  bool // A new user was created for the identity
	Linked   bool // The identity was attached to the signed-in user
	Next     string
}

// Complete finishes a handshake. When current is non-nil the identity is
// linked to that user instead of signing in as the identity's owner.
//
// Handshake failures are reported as ErrExternalAuthFailure and leave no
// record behind. Store failures are returned unchanged.
func (s *Strategy) Complete(ctx context.Context, providerName string, cb Callback, current *entities.User) (*Outcome, error) {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	if cb.Error != "" {
		return nil, fmt.Errorf("%w: provider returned %q", ErrExternalAuthFailure, cb.Error)
	}

	st, err := s.states.Verify(cb.StateCookie, cb.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalAuthFailure, err)
	}
	if st.Provider != provider.Name() {
		return nil, fmt.Errorf("%w: state issued for provider %q", ErrExternalAuthFailure, st.Provider)
	}
	if cb.Code == "" {
		return nil, fmt.Errorf("%w: no authorization code", ErrExternalAuthFailure)
	}

	token, profile, err := s.exchange(ctx, provider, cb.Code, st.Verifier)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Provider: provider.Name(), Next: st.Next}
	if current != nil {
		user, err := s.users.LinkExternalID(ctx, current.ID, provider.Name(), profile.Subject)
		if err != nil {
			return nil, err
		}
		outcome.User = user
		outcome.Linked = true
	} else {
		seed := entities.User{Email: profile.Email}
		user, created, err := s.users.FindOrCreateByExternalID(ctx, provider.Name(), profile.Subject, seed)
		if err != nil {
			return nil, err
		}
		outcome.User = user
		outcome.Created = created
		if !created {
			s.refreshEmail(ctx, user, profile.Email)
		}
	}

	s.saveToken(ctx, outcome.User, provider.Name(), profile.Subject, token)

	s.logger.Info("federated sign-in completed",
		zap.String("provider", provider.Name()),
		zap.String("user_id", outcome.User.ID.String()),
		zap.Bool("created", outcome.Created),
		zap.Bool("linked", outcome.Linked))
	return outcome, nil
}

// exchange trades the code and fetches the profile under one deadline.
func (s *Strategy) exchange(ctx context.Context, provider Provider, code, verifier string) (*oauth2.Token, *Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()

	token, err := provider.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: code exchange: %w", ErrExternalAuthFailure, err)
	}

	profile, err := provider.FetchProfile(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: profile: %w", ErrExternalAuthFailure, err)
	}
	if profile == nil || profile.Subject == "" {
		return nil, nil, fmt.Errorf("%w: profile has no subject", ErrExternalAuthFailure)
	}
	return token, profile, nil
}

// refreshEmail keeps the informational email in step with the provider. A
// failure is logged and the sign-in proceeds with the stored record.
func (s *Strategy) refreshEmail(ctx context.Context, user *entities.User, email string) {
	if email == "" || email == user.Email {
		return
	}

	previous := user.Email
	user.Email = email
	if err := s.users.Save(ctx, user); err != nil {
		user.Email = previous
		s.logger.Warn("failed to refresh profile email",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	}
}

// saveToken stores the provider tokens. A failure costs only the stored
// tokens, never the sign-in.
func (s *Strategy) saveToken(ctx context.Context, user *entities.User, provider, subject string, token *oauth2.Token) {
	if s.tokens == nil || token == nil || token.AccessToken == "" {
		return
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		exp := token.Expiry
		expiresAt = &exp
	}
	scope, _ := token.Extra("scope").(string)

	err := s.tokens.SaveToken(ctx, &entities.DecryptedToken{
		UserID:       user.ID,
		Provider:     entities.OAuthProvider(provider),
		AccountID:    subject,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    expiresAt,
		Scope:        scope,
	})
	if err != nil {
		s.logger.Warn("failed to store provider token",
			zap.String("provider", provider),
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	}
}

// IsHandshakeFailure reports whether err is a failed handshake rather than a
// store or configuration problem.
func IsHandshakeFailure(err error) bool {
	return errors.Is(err, ErrExternalAuthFailure)
}
