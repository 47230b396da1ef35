package entities

import "time"

type AuditEventType string

const (
	AuditEventAuth     AuditEventType = "auth"
	AuditEventAccount  AuditEventType = "account"
	AuditEventSecret   AuditEventType = "secret"
)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailed  AuditStatus = "failed"
)

// Audit actions recorded by the authentication flows.
const (
	AuditActionRegister       = "register"
	AuditActionLogin          = "login"
	AuditActionLogout         = "logout"
	AuditActionFederatedLogin = "federated_login"
	AuditActionLinkIdentity   = "link_identity"
	AuditActionPasswordChange = "password_change"
	AuditActionSecretUpdate   = "secret_update"
	AuditActionRateLimited    = "rate_limited"
)

type AuditEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      string         `gorm:"index;size:36" json:"user_id,omitempty"` // Empty when the actor is unknown
	EventType   AuditEventType `gorm:"index;size:50" json:"event_type"`
	Action      string         `gorm:"size:100" json:"action"`
	Description string         `gorm:"size:500" json:"description"`
	Provider    string         `gorm:"size:50" json:"provider,omitempty"`
	IPAddress   string         `gorm:"size:45" json:"ip_address,omitempty"`
	UserAgent   string         `gorm:"size:500" json:"user_agent,omitempty"`
	Status      AuditStatus    `gorm:"size:20" json:"status"`
	ErrorMsg    string         `gorm:"size:500" json:"error_msg,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
