// Package users is the credential store: lookups by login, external identity
// and id, plus the atomic find-or-create used by federated sign-in.
//
// # Usage
//
//	repo := users.NewRepository(db)
//	user, err := repo.FindByLogin(ctx, "alice")
//	user, created, err := repo.FindOrCreateByExternalID(ctx, "google", "g-123", seed)
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/secrets/internal/database"
	"github.com/mrlokans/secrets/internal/entities"
)

// ErrIdentityLinked is returned when an external identity already belongs to
// another user, or the user is already linked to a different identity.
var ErrIdentityLinked = errors.New("external identity is linked to another account")

// Repository handles all user database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new users repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByLogin returns the user whose normalized login equals login exactly.
// Wildcard characters in login carry no meaning.
func (r *Repository) FindByLogin(ctx context.Context, login string) (*entities.User, error) {
	normalized := entities.NormalizeLogin(login)
	if normalized == "" {
		return nil, database.ErrNotFound
	}

	var user entities.User
	err := r.db.WithContext(ctx).Where("login = ?", normalized).Take(&user).Error
	if err != nil {
		return nil, database.Classify(err)
	}
	return &user, nil
}

// FindByExternalID returns the user linked to (provider, externalID).
func (r *Repository) FindByExternalID(ctx context.Context, provider, externalID string) (*entities.User, error) {
	if provider == "" || externalID == "" {
		return nil, database.ErrNotFound
	}

	var user entities.User
	err := r.db.WithContext(ctx).
		Where("external_provider = ? AND external_id = ?", provider, externalID).
		Take(&user).Error
	if err != nil {
		return nil, database.Classify(err)
	}
	return &user, nil
}

// FindByID returns the user with the given identifier.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	var user entities.User
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if err != nil {
		return nil, database.Classify(err)
	}
	return &user, nil
}

// Create inserts a new user. A login or external identity that is already
// taken yields database.ErrConflict and leaves the table unchanged.
func (r *Repository) Create(ctx context.Context, user *entities.User) error {
	if user.Login != nil {
		normalized := entities.NormalizeLogin(*user.Login)
		user.Login = &normalized
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(user)
	if result.Error != nil {
		return database.Classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return database.ErrConflict
	}
	return nil
}

// Save persists every column of an existing user. It never inserts: a user
// whose row is gone yields database.ErrNotFound, and a login or identity taken
// by someone else yields database.ErrConflict.
func (r *Repository) Save(ctx context.Context, user *entities.User) error {
	if user.ID == uuid.Nil {
		return database.ErrNotFound
	}
	if user.Login != nil {
		normalized := entities.NormalizeLogin(*user.Login)
		user.Login = &normalized
	}

	result := r.db.WithContext(ctx).Model(user).Where("id = ?", user.ID).Select("*").Updates(user)
	if result.Error != nil {
		return database.Classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return database.ErrNotFound
	}
	return nil
}

// FindOrCreateByExternalID returns the user linked to (provider, externalID),
// creating it from seed when none exists. Concurrent callers for the same pair
// all receive the same user; created is true for exactly one of them.
func (r *Repository) FindOrCreateByExternalID(ctx context.Context, provider, externalID string, seed entities.User) (*entities.User, bool, error) {
	if provider == "" || externalID == "" {
		return nil, false, fmt.Errorf("external identity requires provider and subject")
	}

	existing, err := r.FindByExternalID(ctx, provider, externalID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	user := seed
	user.ID = uuid.Nil
	user.Login = nil
	user.PasswordHash = ""
	user.ExternalProvider = &provider
	user.ExternalID = &externalID

	err = r.Create(ctx, &user)
	if err == nil {
		return &user, true, nil
	}
	if !errors.Is(err, database.ErrConflict) {
		return nil, false, err
	}

	// Another caller won the insert. Its row is committed by the time our
	// insert observed the conflict, but re-read with a short retry in case
	// the reader connection lags behind the writer under WAL.
	var winner *entities.User
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	reread := func() error {
		found, err := r.FindByExternalID(ctx, provider, externalID)
		if err != nil {
			return err
		}
		winner = found
		return nil
	}
	if err := backoff.Retry(reread, backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx)); err != nil {
		return nil, false, err
	}
	return winner, false, nil
}

// LinkExternalID attaches (provider, externalID) to an existing user.
// Linking the identity a user already has is a no-op.
func (r *Repository) LinkExternalID(ctx context.Context, userID uuid.UUID, provider, externalID string) (*entities.User, error) {
	var linked *entities.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user entities.User
		if err := tx.Where("id = ?", userID).Take(&user).Error; err != nil {
			return err
		}

		if user.HasExternalIdentity() {
			if *user.ExternalProvider == provider && *user.ExternalID == externalID {
				linked = &user
				return nil
			}
			return ErrIdentityLinked
		}

		var owner entities.User
		err := tx.Where("external_provider = ? AND external_id = ?", provider, externalID).Take(&owner).Error
		if err == nil {
			return ErrIdentityLinked
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user.ExternalProvider = &provider
		user.ExternalID = &externalID
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"external_provider": provider,
			"external_id":       externalID,
		}).Error; err != nil {
			return err
		}
		linked = &user
		return nil
	})
	if errors.Is(err, ErrIdentityLinked) {
		return nil, err
	}
	if err != nil {
		if errors.Is(database.Classify(err), database.ErrConflict) {
			return nil, ErrIdentityLinked
		}
		return nil, database.Classify(err)
	}
	return linked, nil
}

// UpdatePasswordHash replaces the stored hash, e.g. after a password change
// or a transparent rehash on login.
func (r *Repository) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	return r.updateColumn(ctx, userID, "password_hash", hash)
}

// UpdateSecret replaces the encrypted secret payload.
func (r *Repository) UpdateSecret(ctx context.Context, userID uuid.UUID, ciphertext string) error {
	return r.updateColumn(ctx, userID, "secret_payload", ciphertext)
}

// TouchLastLogin records a successful sign-in.
func (r *Repository) TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.updateColumn(ctx, userID, "last_login_at", at)
}

// Count returns the number of users.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.User{}).Count(&count).Error; err != nil {
		return 0, database.Classify(err)
	}
	return count, nil
}

func (r *Repository) updateColumn(ctx context.Context, userID uuid.UUID, column string, value interface{}) error {
	result := r.db.WithContext(ctx).Model(&entities.User{}).Where("id = ?", userID).Update(column, value)
	if result.Error != nil {
		return database.Classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return database.ErrNotFound
	}
	return nil
}
