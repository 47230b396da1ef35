// Package tokenstore keeps the tokens an identity provider issued at sign-in,
// encrypted with AES-256-GCM and bound to the owning user.
package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/secrets/internal/crypto"
	"github.com/mrlokans/secrets/internal/database"
	"github.com/mrlokans/secrets/internal/entities"
)

// TokenStore provides secure storage for OAuth tokens
type TokenStore struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
}

// New creates a TokenStore on an already migrated database.
func New(db *gorm.DB, encryptor *crypto.Encryptor) *TokenStore {
	return &TokenStore{db: db, encryptor: encryptor}
}

// subject binds ciphertext to its row so tokens cannot be swapped between users.
func subject(userID uuid.UUID, provider entities.OAuthProvider) string {
	return userID.String() + "/" + string(provider)
}

// SaveToken encrypts and stores the token, replacing any previous token the
// user holds for the same provider.
func (s *TokenStore) SaveToken(ctx context.Context, token *entities.DecryptedToken) error {
	subj := subject(token.UserID, token.Provider)

	encAccessToken, err := s.encryptor.SealFor(token.AccessToken, subj)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	encRefreshToken, err := s.encryptor.SealFor(token.RefreshToken, subj)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	dbToken := &entities.OAuthToken{
		UserID:       token.UserID,
		Provider:     token.Provider,
		AccountID:    token.AccountID,
		AccessToken:  encAccessToken,
		RefreshToken: encRefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.ExpiresAt,
		Scope:        token.Scope,
	}
	if dbToken.TokenType == "" {
		dbToken.TokenType = "Bearer"
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"account_id":    dbToken.AccountID,
			"access_token":  encAccessToken,
			"refresh_token": encRefreshToken,
			"token_type":    dbToken.TokenType,
			"expires_at":    dbToken.ExpiresAt,
			"scope":         dbToken.Scope,
			"updated_at":    time.Now(),
		}),
	}).Create(dbToken).Error
	if err != nil {
		return fmt.Errorf("failed to save token: %w", database.Classify(err))
	}

	return nil
}

// GetToken retrieves and decrypts the user's token for provider.
// Returns nil, nil when none is stored.
func (s *TokenStore) GetToken(ctx context.Context, userID uuid.UUID, provider entities.OAuthProvider) (*entities.DecryptedToken, error) {
	var dbToken entities.OAuthToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Take(&dbToken).Error
	if err != nil {
		if err = database.Classify(err); err == database.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return s.decryptToken(&dbToken)
}

// DeleteForUser removes every token held for the user.
func (s *TokenStore) DeleteForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&entities.OAuthToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete tokens: %w", database.Classify(result.Error))
	}
	return result.RowsAffected, nil
}

// decryptToken decrypts the sensitive fields of a token
func (s *TokenStore) decryptToken(dbToken *entities.OAuthToken) (*entities.DecryptedToken, error) {
	subj := subject(dbToken.UserID, dbToken.Provider)

	accessToken, err := s.encryptor.OpenFor(dbToken.AccessToken, subj)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	refreshToken, err := s.encryptor.OpenFor(dbToken.RefreshToken, subj)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &entities.DecryptedToken{
		UserID:       dbToken.UserID,
		Provider:     dbToken.Provider,
		AccountID:    dbToken.AccountID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    dbToken.TokenType,
		ExpiresAt:    dbToken.ExpiresAt,
		Scope:        dbToken.Scope,
	}, nil
}
