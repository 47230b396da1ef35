package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/database"
	"github.com/mrlokans/secrets/internal/entities"
)

const (
	maxLoginLength  = 254
	maxSecretLength = 64 * 1024
)

var (
	// ErrInvalidCredentials covers both an unknown login and a wrong password.
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrDuplicateLogin     = errors.New("login is already registered")
	ErrLoginRequired      = errors.New("login is required")
	ErrLoginTooLong       = errors.New("login is too long")
	ErrNoLocalCredential  = errors.New("account has no local password")
	ErrSecretTooLong      = errors.New("secret is too long")

	// ErrStoreUnavailable is returned unchanged from the store so callers can
	// tell an outage apart from bad credentials.
	ErrStoreUnavailable = database.ErrStoreUnavailable
)

// UserStore is the subset of the credential store the local strategy needs.
type UserStore interface {
	FindByLogin(ctx context.Context, login string) (*entities.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	Create(ctx context.Context, user *entities.User) error
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	UpdateSecret(ctx context.Context, userID uuid.UUID, ciphertext string) error
	TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
	Count(ctx context.Context) (int64, error)
}

// SecretSealer encrypts the user's secret bound to the owning user.
type SecretSealer interface {
	SealFor(plaintext, subject string) (string, error)
	OpenFor(ciphertext, subject string) (string, error)
}

// Service is the local credential authority: registration, password login
// and the operations that need the user's password or secret.
type Service struct {
	store  UserStore
	hasher *Hasher
	sealer SecretSealer
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new authentication service.
func NewService(store UserStore, hasher *Hasher, sealer SecretSealer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		hasher: hasher,
		sealer: sealer,
		logger: logger.Named("auth"),
		now:    time.Now,
	}
}

// Hasher exposes the password hasher, e.g. for the CLI.
func (s *Service) Hasher() *Hasher {
	return s.hasher
}

// Register creates a local account. The login is normalized before storage.
func (s *Service) Register(ctx context.Context, login, password string) (*entities.User, error) {
	normalized := entities.NormalizeLogin(login)
	if normalized == "" {
		return nil, ErrLoginRequired
	}
	if len(normalized) > maxLoginLength {
		return nil, ErrLoginTooLong
	}
	if err := s.hasher.Validate(password); err != nil {
		return nil, err
	}

	_, err := s.store.FindByLogin(ctx, normalized)
	if err == nil {
		return nil, ErrDuplicateLogin
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &entities.User{
		Login:        &normalized,
		PasswordHash: passwordHash,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, ErrDuplicateLogin
		}
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

// Authenticate checks a login and password. An unknown login and a wrong
// password both return ErrInvalidCredentials after comparable work. Store
// failures are returned as they are.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*entities.User, error) {
	normalized := entities.NormalizeLogin(login)
	if normalized == "" || password == "" {
		s.hasher.VerifyDummy(password)
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.FindByLogin(ctx, normalized)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.HasPassword() {
		s.hasher.VerifyDummy(password)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	now := s.now()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to record last login", zap.String("user_id", user.ID.String()), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	return user, nil
}

// rehash upgrades a hash made with outdated parameters. Failure only costs
// the upgrade, never the login.
func (s *Service) rehash(ctx context.Context, user *entities.User, password string) {
	newHash, err := s.hasher.hash(password)
	if err != nil {
		s.logger.Warn("failed to rehash password", zap.String("user_id", user.ID.String()), zap.Error(err))
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		s.logger.Warn("failed to store rehashed password", zap.String("user_id", user.ID.String()), zap.Error(err))
		return
	}
	user.PasswordHash = newHash
}

// ChangePassword replaces the password after verifying the current one.
// Existing sessions stay valid.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasPassword() {
		return ErrNoLocalCredential
	}
	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.store.UpdatePasswordHash(ctx, user.ID, newHash)
}

// SetSecret encrypts and stores the user's secret.
func (s *Service) SetSecret(ctx context.Context, userID uuid.UUID, secret string) error {
	if len(secret) > maxSecretLength {
		return ErrSecretTooLong
	}
	ciphertext, err := s.sealer.SealFor(secret, userID.String())
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}
	return s.store.UpdateSecret(ctx, userID, ciphertext)
}

// RevealSecret decrypts the secret held on user. Empty when none is set.
func (s *Service) RevealSecret(user *entities.User) (string, error) {
	secret, err := s.sealer.OpenFor(user.SecretPayload, user.ID.String())
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return secret, nil
}

// HasUsers returns true if any users exist in the database.
func (s *Service) HasUsers(ctx context.Context) (bool, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
