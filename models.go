package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthProvider names how a user authenticates
type AuthProvider string

const (
	// ProviderEmail is the email and password provider
	ProviderEmail    AuthProvider = "email"
	ProviderGoogle   AuthProvider = "google"
	ProviderFacebook AuthProvider = "facebook"
	ProviderApple    AuthProvider = "apple"
)

// RoleID references one of the fixed roles
type RoleID int

const (
	RoleAdmin RoleID = 1
	RoleUser  RoleID = 2
)

// Valid reports whether the id names a known role.
func (r RoleID) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	}
	return false
}

func (r RoleID) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleUser:
		return "user"
	}
	return "unknown"
}

// UserStatus drives email confirmation gating
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)

// Valid reports whether the status is one of the known values.
func (s UserStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string       `bun:"email,nullzero,unique" json:"email,omitempty"`
	PasswordHash  string       `bun:"password_hash,nullzero" json:"-"`
	Provider      AuthProvider `bun:"provider,notnull" json:"provider,omitempty"`
	SocialID      string       `bun:"social_id,nullzero" json:"social_id,omitempty"`
	FirstName     string       `bun:"first_name" json:"first_name,omitempty"`
	LastName      string       `bun:"last_name" json:"last_name,omitempty"`
	PhotoID       string       `bun:"photo_id,nullzero" json:"photo_id,omitempty"`
	Role          RoleID       `bun:"role_id,notnull" json:"role_id,omitempty"`
	Status        UserStatus   `bun:"status,notnull" json:"status,omitempty"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time   `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// HasPassword reports whether the user can sign in with a password.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Session is one authenticated client instance. Hash is the rotating
// secret a refresh token must present, it is not a password hash.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID        uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Hash          string    `bun:"hash,notnull" json:"-"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// UserPatch lists the columns an update may touch, nil fields are left as is.
type UserPatch struct {
	Email        *string
	PasswordHash *string
	FirstName    *string
	LastName     *string
	PhotoID      *string
	Status       *UserStatus
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Email == nil && p.PasswordHash == nil && p.FirstName == nil &&
		p.LastName == nil && p.PhotoID == nil && p.Status == nil
}

// Profile holds the registration input
type Profile struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	PhotoID   string
	Role      *RoleID
	Status    *UserStatus
}

// ProfilePatch holds a profile update. Password and OldPassword are plaintext.
type ProfilePatch struct {
	FirstName   *string
	LastName    *string
	Email       *string
	Password    *string
	OldPassword *string
	PhotoID     *string
}

// ActingUser identifies the caller of an authenticated operation, it is
// built from a verified access token.
type ActingUser struct {
	UserID    uuid.UUID
	SessionID int64
	Role      RoleID
}

// LoginResponse is returned by a successful login
type LoginResponse struct {
	AccessToken     string    `json:"token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"token_expires"`
	User            *User     `json:"user"`
}

// RefreshResponse is returned by a successful refresh
type RefreshResponse struct {
	AccessToken     string    `json:"token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"token_expires"`
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func statusPtr(s UserStatus) *UserStatus { return &s }
