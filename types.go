package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger is the structured logger used across the package. Messages are
// plain strings and args are key/value pairs, glog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// UserStore persists user records.
//
// Lookups must return an error matching ErrRecordNotFound (errors.Is) when
// no record exists. Stores never hash passwords, PasswordHash values are
// always hash-ready by the time they reach a store.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// SessionStore persists one row per authenticated client.
type SessionStore interface {
	Create(ctx context.Context, session *Session) (*Session, error)
	FindByID(ctx context.Context, id int64) (*Session, error)
	// RotateHash replaces the session hash with next only if the stored
	// value still equals previous. It reports false when the condition
	// did not hold, the check and write must be a single atomic step.
	RotateHash(ctx context.Context, id int64, previous, next string) (bool, error)
	// DeleteByID is idempotent, deleting an unknown id is not an error.
	DeleteByID(ctx context.Context, id int64) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteAllForUserExcept(ctx context.Context, userID uuid.UUID, keepID int64) error
}

// Mailer delivers the signed hashes issued by the confirmation and reset flows.
type Mailer interface {
	SendConfirmEmail(ctx context.Context, to, hash string) error
	SendConfirmNewEmail(ctx context.Context, to, hash string) error
	SendForgotPassword(ctx context.Context, to, hash string, expiresAt time.Time) error
}

// FileLookup resolves photo references attached to a profile.
type FileLookup interface {
	FileExists(ctx context.Context, id string) (bool, error)
}

// Limiter throttles attempts for a key, i.e. a normalized email.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// PasswordHasher is the one-way hash used for stored passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(password, hash string) error
}
