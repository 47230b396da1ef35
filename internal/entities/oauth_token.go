package entities

import (
	"time"

	"github.com/google/uuid"
)

// OAuthProvider identifies an external identity provider.
type OAuthProvider string

const (
	OAuthProviderGoogle OAuthProvider = "google"
	OAuthProviderGitHub OAuthProvider = "github"
)

// OAuthToken stores the encrypted tokens a provider issued during a federated login.
// One row per user and provider.
type OAuthToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   uuid.UUID     `gorm:"type:text;not null;uniqueIndex:idx_oauth_user_provider" json:"user_id"`
	Provider OAuthProvider `gorm:"type:varchar(50);not null;uniqueIndex:idx_oauth_user_provider" json:"provider"`

	// AccountID is the provider-issued subject identifier
	AccountID string `gorm:"type:varchar(255);not null" json:"account_id"`

	// AccessToken and RefreshToken are base64-encoded AES-256-GCM ciphertext
	AccessToken  string `gorm:"type:text;not null" json:"-"`
	RefreshToken string `gorm:"type:text" json:"-"`

	TokenType string     `gorm:"type:varchar(50);default:Bearer" json:"token_type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scope     string     `gorm:"type:text" json:"scope,omitempty"`
}

func (OAuthToken) TableName() string {
	return "oauth_tokens"
}

// IsExpired reports whether the access token is past (or within five minutes of) its expiry.
func (t *OAuthToken) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return time.Now().Add(5 * time.Minute).After(*t.ExpiresAt)
}

// DecryptedToken holds the plaintext token values in memory. Never persisted.
type DecryptedToken struct {
	UserID       uuid.UUID
	Provider     OAuthProvider
	AccountID    string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
	Scope        string
}
