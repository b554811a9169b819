package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	goerrors "github.com/goliatone/go-errors"
)

// PasswordResetFlow issues forgot-password tokens and redeems them.
type PasswordResetFlow struct {
	users    UserStore
	sessions *SessionManager
	tokens   *TokenService
	mailer   Mailer
	hasher   PasswordHasher
	limiter  Limiter
	logger   Logger
}

// NewPasswordResetFlow creates a new PasswordResetFlow instance
func NewPasswordResetFlow(users UserStore, sessions *SessionManager, tokens *TokenService, mailer Mailer, hasher PasswordHasher) *PasswordResetFlow {
	return &PasswordResetFlow{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		mailer:   mailer,
		hasher:   hasher,
		logger:   defaultLogger(),
	}
}

func (f *PasswordResetFlow) WithLogger(logger Logger) *PasswordResetFlow {
	f.logger = normalizeLogger(logger)
	return f
}

// WithLimiter throttles forgot password requests per email.
func (f *PasswordResetFlow) WithLimiter(limiter Limiter) *PasswordResetFlow {
	f.limiter = limiter
	return f
}

// ForgotPassword mails a forgot-password token to the user owning email.
// Delivery is synchronous: a mail failure is returned so the request can
// be retried.
func (f *PasswordResetFlow) ForgotPassword(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)

	if err := allow(ctx, f.limiter, "forgot:"+email, f.logger); err != nil {
		return nil, err
	}

	if email == "" {
		return nil, ErrUserNotFound
	}

	user, err := f.users.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, internalError(err, "failed to load user")
	}

	hash, expiresAt, err := f.tokens.Sign(TokenForgotPassword, &ForgotPasswordClaims{
		ForgotUserID: user.ID,
		Fingerprint:  passwordFingerprint(user),
	})
	if err != nil {
		return nil, err
	}

	if f.mailer == nil {
		return nil, goerrors.New("no mailer configured", goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal)
	}

	if err := f.mailer.SendForgotPassword(ctx, user.Email, hash, expiresAt); err != nil {
		f.logger.Error("forgot password delivery failed", "error", err, "user_id", user.ID)
		return nil, internalError(err, "failed to deliver forgot password mail")
	}

	return user, nil
}

// ResetPassword redeems a forgot-password token. A token only matches the
// password it was issued against, so it can be redeemed once. On success
// every session of the user is revoked.
func (f *PasswordResetFlow) ResetPassword(ctx context.Context, hash, password string) (*User, error) {
	claims := &ForgotPasswordClaims{}
	if err := f.tokens.Verify(TokenForgotPassword, hash, claims); err != nil {
		return nil, err
	}

	user, err := f.users.FindByID(ctx, claims.ForgotUserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, internalError(err, "failed to load user")
	}

	if subtle.ConstantTimeCompare([]byte(claims.Fingerprint), []byte(passwordFingerprint(user))) != 1 {
		f.logger.Warn("forgot password token already spent", "user_id", user.ID)
		return nil, ErrInvalidOrExpiredToken
	}

	passwordHash, err := f.hasher.Hash(password)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	updated, err := f.users.Update(ctx, user.ID, UserPatch{
		PasswordHash: &passwordHash,
	})
	if err != nil {
		return nil, internalError(err, "failed to update password")
	}

	if err := f.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return nil, err
	}

	return updated, nil
}

// passwordFingerprint digests the stored password hash. Every bcrypt hash is
// salted, so any password write yields a new fingerprint.
func passwordFingerprint(user *User) string {
	sum := sha256.Sum256([]byte(user.PasswordHash))
	return hex.EncodeToString(sum[:16])
}
