package auth

import (
	"context"
	"errors"
)

// CredentialValidator checks email/password logins and opens a session on
// success.
type CredentialValidator struct {
	users         UserStore
	sessions      *SessionManager
	hasher        PasswordHasher
	limiter       Limiter
	requireActive bool
	logger        Logger
}

// NewCredentialValidator creates a new CredentialValidator instance
func NewCredentialValidator(users UserStore, sessions *SessionManager, hasher PasswordHasher) *CredentialValidator {
	return &CredentialValidator{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		logger:   defaultLogger(),
	}
}

func (v *CredentialValidator) WithLogger(logger Logger) *CredentialValidator {
	v.logger = normalizeLogger(logger)
	return v
}

// WithLimiter throttles login attempts per email.
func (v *CredentialValidator) WithLimiter(limiter Limiter) *CredentialValidator {
	v.limiter = limiter
	return v
}

// WithRequireActiveStatus rejects users that did not confirm their email.
func (v *CredentialValidator) WithRequireActiveStatus(require bool) *CredentialValidator {
	v.requireActive = require
	return v
}

// ValidateLogin checks the credentials and returns a fresh token pair bound
// to a new session.
func (v *CredentialValidator) ValidateLogin(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = NormalizeEmail(email)

	if err := allow(ctx, v.limiter, "login:"+email, v.logger); err != nil {
		return nil, err
	}

	user, err := v.verify(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if v.requireActive && user.Status != StatusActive {
		return nil, ErrEmailNotConfirmed
	}

	session, err := v.sessions.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	pair, err := v.sessions.IssueTokenPair(user, session)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		User:            user,
	}, nil
}

func (v *CredentialValidator) verify(ctx context.Context, email, password string) (*User, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := v.users.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		v.logger.Error("Login find user error", "error", err)
		return nil, internalError(err, "failed to load user")
	}

	if user.Provider != ProviderEmail || !user.HasPassword() {
		return nil, ErrInvalidCredentials
	}

	if err := v.hasher.Compare(password, user.PasswordHash); err != nil {
		if !errors.Is(err, ErrMismatchedHashAndPassword) {
			v.logger.Error("Login verify password error", "error", err, "user_id", user.ID)
		}
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// allow consults limiter when one is configured. Limiter backend failures
// let the attempt through.
func allow(ctx context.Context, limiter Limiter, key string, logger Logger) error {
	if limiter == nil {
		return nil
	}

	ok, err := limiter.Allow(ctx, key)
	if err != nil {
		logger.Warn("rate limiter unavailable", "key", key, "error", err)
		return nil
	}
	if !ok {
		return ErrTooManyAttempts
	}
	return nil
}
