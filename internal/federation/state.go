package federation

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultStateTTL = 10 * time.Minute

var (
	ErrStateInvalid  = errors.New("handshake state invalid")
	ErrStateMismatch = errors.New("handshake state mismatch")
)

// State is what a started handshake remembers until its callback. It lives
// only in a signed cookie on the client.
type State struct {
	Nonce    string
	Provider string
	Verifier string
	Next     string
	Expires  time.Time
}

type stateClaims struct {
	Provider string `json:"prv"`
	Verifier string `json:"pkce"`
	Next     string `json:"next,omitempty"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies handshake state as an HS256 JWT.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec creates a codec. A non-positive ttl selects ten minutes.
func NewStateCodec(secret []byte, ttl time.Duration) (*StateCodec, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("state secret must be at least 16 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateCodec{secret: secret, ttl: ttl, now: time.Now}, nil
}

// TTL returns how long an issued state stays valid.
func (c *StateCodec) TTL() time.Duration {
	return c.ttl
}

// Issue creates fresh state for provider and returns it with its signed form.
func (c *StateCodec) Issue(provider, verifier, next string) (*State, string, error) {
	nonce, err := randomNonce()
	if err != nil {
		return nil, "", err
	}

	now := c.now()
	st := &State{
		Nonce:    nonce,
		Provider: provider,
		Verifier: verifier,
		Next:     next,
		Expires:  now.Add(c.ttl),
	}

	claims := stateClaims{
		Provider: provider,
		Verifier: verifier,
		Next:     next,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(st.Expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign state: %w", err)
	}
	return st, signed, nil
}

// Verify checks the signed state and that the value echoed by the provider
// matches its nonce.
func (c *StateCodec) Verify(signed, echoed string) (*State, error) {
	if signed == "" {
		return nil, fmt.Errorf("%w: no state cookie", ErrStateInvalid)
	}

	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateInvalid, err)
	}

	if claims.ID == "" || subtle.ConstantTimeCompare([]byte(claims.ID), []byte(echoed)) != 1 {
		return nil, ErrStateMismatch
	}

	return &State{
		Nonce:    claims.ID,
		Provider: claims.Provider,
		Verifier: claims.Verifier,
		Next:     claims.Next,
		Expires:  claims.ExpiresAt.Time,
	}, nil
}

func randomNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
