package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MetadataMemberNumber is the user metadata key carrying the member number
const MetadataMemberNumber = "member_number"

// User is the identity attached to a backend session. Only the fields the
// bridge reads are modeled.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// MemberNumber returns the member number stored in the user metadata
func (u *User) MemberNumber() string {
	if u == nil || u.UserMetadata == nil {
		return ""
	}
	if v, ok := u.UserMetadata[MetadataMemberNumber].(string); ok {
		return v
	}
	return ""
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.UserMetadata == nil {
		u.UserMetadata = make(map[string]any)
	}
	u.UserMetadata[key] = val
	return u
}

// Clone returns a deep enough copy for snapshots
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.UserMetadata != nil {
		c.UserMetadata = make(map[string]any, len(u.UserMetadata))
		for k, v := range u.UserMetadata {
			c.UserMetadata[k] = v
		}
	}
	return &c
}

// Session is the backend issued authentication bundle
type Session struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	User         *User      `json:"user,omitempty"`
}

// HasUser reports whether the session carries an identity
func (s *Session) HasUser() bool {
	return s != nil && s.User != nil
}

// Member is the directory record
type Member struct {
	bun.BaseModel       `bun:"table:members,alias:mbr"`
	ID                  uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	MemberNumber        string         `bun:"member_number,notnull,unique" json:"member_number"`
	Email               string         `bun:"email,notnull" json:"email"`
	FirstName           string         `bun:"first_name" json:"first_name,omitempty"`
	LastName            string         `bun:"last_name" json:"last_name,omitempty"`
	PasswordHash        string         `bun:"password_hash" json:"-"`
	UserMetadata        map[string]any `bun:"user_metadata,type:json" json:"user_metadata,omitempty"`
	FailedLoginAttempts int            `bun:"failed_login_attempts,notnull,default:0" json:"failed_login_attempts"`
	LastFailedLoginAt   *time.Time     `bun:"last_failed_login_at,nullzero" json:"last_failed_login_at,omitempty"`
	LockedUntil         *time.Time     `bun:"locked_until,nullzero" json:"locked_until,omitempty"`
	CreatedAt           *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsLocked reports whether the member is inside a lockout window
func (m *Member) IsLocked(now time.Time) bool {
	return m != nil && m.LockedUntil != nil && now.Before(*m.LockedUntil)
}

// ToUser maps the directory record to a session identity
func (m *Member) ToUser() *User {
	u := &User{
		ID:    m.ID.String(),
		Email: m.Email,
	}
	for k, v := range m.UserMetadata {
		u.AddMetadata(k, v)
	}
	return u
}

// EmailStatus is the delivery status of an email log
type EmailStatus = string

const (
	// EmailStatusPending waits for the delivery subsystem
	EmailStatusPending EmailStatus = "pending"
	// EmailStatusSent was handed to the mail provider
	EmailStatusSent EmailStatus = "sent"
	// EmailStatusFailed delivery failed
	EmailStatusFailed EmailStatus = "failed"
)

const (
	// EmailTypePasswordReset is the password reset email type
	EmailTypePasswordReset = "password_reset"
	// PasswordResetSubject is the subject line of reset emails
	PasswordResetSubject = "Password Reset Request"
)

// EmailLog is a durable record of an outbound email intent
type EmailLog struct {
	bun.BaseModel  `bun:"table:email_logs,alias:eml"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	RecipientEmail string         `bun:"recipient_email,notnull" json:"recipient_email"`
	Subject        string         `bun:"subject,notnull" json:"subject"`
	EmailType      string         `bun:"email_type,notnull" json:"email_type"`
	MemberNumber   string         `bun:"member_number" json:"member_number"`
	Status         EmailStatus    `bun:"status,notnull" json:"status"`
	Metadata       map[string]any `bun:"metadata,type:json" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// TokenTypePasswordReset scopes reset tokens
const TokenTypePasswordReset = "password_reset"

// PasswordResetToken is a one time token issued server side
type PasswordResetToken struct {
	bun.BaseModel `bun:"table:password_reset_tokens,alias:prt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	MemberNumber  string     `bun:"member_number,notnull" json:"member_number"`
	Token         string     `bun:"token,notnull,unique" json:"token"`
	TokenType     string     `bun:"token_type,notnull" json:"token_type"`
	ExpiresAt     *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// RevokedSession records a signed out access token by its jti until the
// token would have expired anyway
type RevokedSession struct {
	bun.BaseModel `bun:"table:revoked_sessions,alias:rvs"`
	ID            string    `bun:"id,pk" json:"id"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// StoredState is a row of the durable key/value table backing the session store
type StoredState struct {
	bun.BaseModel `bun:"table:auth_storage,alias:aus"`
	Key           string     `bun:"key,pk" json:"key"`
	Value         string     `bun:"value,notnull" json:"value"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
