package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is one principal. A local account carries Login and PasswordHash; a
// federated account carries ExternalProvider and ExternalID. Both pairs may be
// present once an account has been linked.
type User struct {
	ID uuid.UUID `gorm:"type:text;primaryKey" json:"id"`

	// Login is stored normalized (see NormalizeLogin). NULL for federated-only accounts.
	Login        *string `gorm:"uniqueIndex;size:255" json:"login,omitempty"`
	PasswordHash string  `gorm:"size:255" json:"-"`

	ExternalProvider *string `gorm:"size:50;uniqueIndex:idx_users_external" json:"external_provider,omitempty"`
	ExternalID       *string `gorm:"size:255;uniqueIndex:idx_users_external" json:"external_id,omitempty"`

	// Email is informational only and is not unique.
	Email string `gorm:"size:255" json:"email,omitempty"`

	// SecretPayload is AES-256-GCM ciphertext bound to the user ID.
	SecretPayload string `gorm:"type:text" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns the identifier when the caller did not.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// HasPassword reports whether the account can authenticate locally.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasExternalIdentity reports whether the account is linked to a provider.
func (u *User) HasExternalIdentity() bool {
	return u.ExternalID != nil && *u.ExternalID != ""
}

// LoginName returns the login or an empty string for federated-only accounts.
func (u *User) LoginName() string {
	if u.Login == nil {
		return ""
	}
	return *u.Login
}

// DisplayName picks the most human-friendly identifier available.
func (u *User) DisplayName() string {
	switch {
	case u.Login != nil && *u.Login != "":
		return *u.Login
	case u.Email != "":
		return u.Email
	case u.HasExternalIdentity():
		return *u.ExternalProvider + ":" + *u.ExternalID
	default:
		return u.ID.String()
	}
}

// NormalizeLogin applies the login case policy: surrounding whitespace is
// dropped and the result is lower-cased. Lookups compare the normalized value
// for exact equality.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
