package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// AuthService is the entry point composing credential checks, the
// confirmation and reset flows and the session lifecycle.
type AuthService struct {
	users         UserStore
	sessionStore  SessionStore
	mailer        Mailer
	secrets       SecretsProvider
	hasher        PasswordHasher
	limiter       Limiter
	files         FileLookup
	activity      ActivitySink
	logger        Logger
	issuer        string
	audience      []string
	now           func() time.Time
	requireActive bool
	hashidIDs     bool

	tokens      *TokenService
	sessions    *SessionManager
	credentials *CredentialValidator
	confirm     *ConfirmationFlow
	reset       *PasswordResetFlow
	profile     *ProfileUpdater
}

// Option configures an AuthService
type Option func(*AuthService)

func WithLogger(logger Logger) Option {
	return func(s *AuthService) {
		s.logger = normalizeLogger(logger)
	}
}

// WithActivitySink sets the sink used to emit audit events.
func WithActivitySink(sink ActivitySink) Option {
	return func(s *AuthService) {
		s.activity = normalizeActivitySink(sink)
	}
}

// WithPasswordHasher replaces the bcrypt hasher.
func WithPasswordHasher(hasher PasswordHasher) Option {
	return func(s *AuthService) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

// WithLimiter throttles login and forgot password attempts.
func WithLimiter(limiter Limiter) Option {
	return func(s *AuthService) {
		s.limiter = limiter
	}
}

// WithFileLookup enables photo reference checks on register and update.
func WithFileLookup(files FileLookup) Option {
	return func(s *AuthService) {
		s.files = files
	}
}

// WithIssuer sets the iss claim of every token.
func WithIssuer(issuer string) Option {
	return func(s *AuthService) {
		s.issuer = issuer
	}
}

// WithAudience sets the aud claim of every token. Verification requires the
// first entry.
func WithAudience(audience ...string) Option {
	return func(s *AuthService) {
		s.audience = audience
	}
}

// WithClock overrides the time source used for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRequireConfirmedEmail rejects logins of inactive users.
func WithRequireConfirmedEmail(require bool) Option {
	return func(s *AuthService) {
		s.requireActive = require
	}
}

// WithHashidUserIDs derives user ids from the registration email.
func WithHashidUserIDs(enabled bool) Option {
	return func(s *AuthService) {
		s.hashidIDs = enabled
	}
}

// NewAuthService creates a new AuthService instance
func NewAuthService(users UserStore, sessions SessionStore, mailer Mailer, secrets SecretsProvider, opts ...Option) *AuthService {
	s := &AuthService{
		users:        users,
		sessionStore: sessions,
		mailer:       mailer,
		secrets:      secrets,
		hasher:       BcryptHasher{},
		activity:     noopActivitySink{},
		logger:       defaultLogger(),
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.tokens = NewTokenService(secrets).
		WithIssuer(s.issuer).
		WithAudience(s.audience...).
		WithClock(s.now).
		WithLogger(s.logger)

	s.sessions = NewSessionManager(users, sessions, s.tokens).
		WithLogger(s.logger)

	s.credentials = NewCredentialValidator(users, s.sessions, s.hasher).
		WithLimiter(s.limiter).
		WithRequireActiveStatus(s.requireActive).
		WithLogger(s.logger)

	s.confirm = NewConfirmationFlow(users, s.tokens, mailer).
		WithLogger(s.logger)

	s.reset = NewPasswordResetFlow(users, s.sessions, s.tokens, mailer, s.hasher).
		WithLimiter(s.limiter).
		WithLogger(s.logger)

	s.profile = NewProfileUpdater(users, s.sessions, s.confirm, s.hasher).
		WithFileLookup(s.files).
		WithLogger(s.logger)

	return s
}

// Tokens exposes the token service.
func (s *AuthService) Tokens() *TokenService {
	return s.tokens
}

// Sessions exposes the session lifecycle manager.
func (s *AuthService) Sessions() *SessionManager {
	return s.sessions
}

// Login validates the credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	if err := ctxErr(ctx, "login"); err != nil {
		return nil, err
	}

	res, err := s.credentials.ValidateLogin(ctx, email, password)
	if err != nil {
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata: map[string]any{
				"email": NormalizeEmail(email),
				"error": ErrorKind(err),
			},
		})
		return nil, err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    res.User.ID.String(),
	})

	return res, nil
}

// Register creates an email user and sends the confirm-email notice in the
// background. Role defaults to RoleUser and status to StatusInactive.
func (s *AuthService) Register(ctx context.Context, profile Profile) (*User, error) {
	if err := ctxErr(ctx, "registration"); err != nil {
		return nil, err
	}

	email := NormalizeEmail(profile.Email)

	role := RoleUser
	if profile.Role != nil {
		if !profile.Role.Valid() {
			return nil, ErrRoleNotExists
		}
		role = *profile.Role
	}

	status := StatusInactive
	if profile.Status != nil {
		if !profile.Status.Valid() {
			return nil, ErrStatusNotExists
		}
		status = *profile.Status
	}

	if err := s.profile.checkPhoto(ctx, profile.PhotoID); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailAlreadyExists
	} else if !IsNotFound(err) {
		return nil, internalError(err, "failed to load user")
	}

	passwordHash, err := s.hasher.Hash(profile.Password)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	user := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Provider:     ProviderEmail,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		PhotoID:      profile.PhotoID,
		Role:         role,
		Status:       status,
	}

	hashed := false
	if s.hashidIDs {
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
			hashed = true
		}
	}

	created, err := s.users.Create(ctx, user)
	if hashed && errors.Is(err, ErrDuplicateUserID) {
		// the email was released by a user that moved to another address
		s.logger.Warn("hashid user id taken, using random id", "hashid", user.ID)
		user.ID = uuid.New()
		created, err = s.users.Create(ctx, user)
	}
	if err != nil {
		return nil, internalError(err, "failed to create user")
	}

	s.confirm.SendConfirmEmail(ctx, created)

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventRegistered,
		UserID:    created.ID.String(),
	})

	return created, nil
}

// ConfirmEmail redeems a confirm-email token.
func (s *AuthService) ConfirmEmail(ctx context.Context, hash string) error {
	user, err := s.confirm.ConfirmEmail(ctx, hash)
	if err != nil {
		return err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventEmailConfirmed,
		UserID:    user.ID.String(),
	})

	return nil
}

// ConfirmNewEmail redeems a confirm-new-email token.
func (s *AuthService) ConfirmNewEmail(ctx context.Context, hash string) error {
	user, err := s.confirm.ConfirmNewEmail(ctx, hash)
	if err != nil {
		return err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventNewEmailConfirmed,
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"email": user.Email},
	})

	return nil
}

// ForgotPassword mails a reset token to the owner of email.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	if err := ctxErr(ctx, "forgot password"); err != nil {
		return err
	}

	user, err := s.reset.ForgotPassword(ctx, email)
	if err != nil {
		return err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		UserID:    user.ID.String(),
	})

	return nil
}

// ResetPassword redeems a forgot-password token and revokes every session
// of the user.
func (s *AuthService) ResetPassword(ctx context.Context, hash, password string) error {
	if err := ctxErr(ctx, "password reset"); err != nil {
		return err
	}

	user, err := s.reset.ResetPassword(ctx, hash, password)
	if err != nil {
		return err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    user.ID.String(),
	})

	return nil
}

// Refresh rotates the session and returns a new token pair.
func (s *AuthService) Refresh(ctx context.Context, sessionID int64, hash string) (*RefreshResponse, error) {
	if err := ctxErr(ctx, "refresh"); err != nil {
		return nil, err
	}

	pair, err := s.sessions.Refresh(ctx, sessionID, hash)
	if err != nil {
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventRefreshFailure,
			SessionID: sessionID,
			Metadata:  map[string]any{"error": ErrorKind(err)},
		})
		return nil, err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventRefresh,
		SessionID: sessionID,
	})

	return &RefreshResponse{
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		AccessExpiresAt: pair.AccessExpiresAt,
	}, nil
}

// RefreshWithToken verifies a signed refresh token and redeems it.
func (s *AuthService) RefreshWithToken(ctx context.Context, raw string) (*RefreshResponse, error) {
	claims, err := s.sessions.VerifyRefresh(raw)
	if err != nil {
		return nil, err
	}
	return s.Refresh(ctx, claims.SessionID, claims.Hash)
}

// Logout deletes the session, it is idempotent.
func (s *AuthService) Logout(ctx context.Context, sessionID int64) error {
	if err := s.sessions.Logout(ctx, sessionID); err != nil {
		return err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		SessionID: sessionID,
	})

	return nil
}

// Update applies a profile patch for the acting user.
func (s *AuthService) Update(ctx context.Context, acting ActingUser, patch ProfilePatch) (*User, error) {
	if err := ctxErr(ctx, "profile update"); err != nil {
		return nil, err
	}

	result, err := s.profile.Update(ctx, acting, patch)
	if err != nil {
		return nil, err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		UserID:    result.User.ID.String(),
		SessionID: acting.SessionID,
		Metadata: map[string]any{
			"password_changed": result.PasswordChanged,
			"email_changed":    result.EmailChanged,
		},
	})

	return result.User, nil
}

// Me returns the acting user.
func (s *AuthService) Me(ctx context.Context, acting ActingUser) (*User, error) {
	user, err := s.users.FindByID(ctx, acting.UserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, internalError(err, "failed to load user")
	}
	return user, nil
}

// SoftDelete deletes the acting user and revokes all of its sessions.
func (s *AuthService) SoftDelete(ctx context.Context, acting ActingUser) error {
	if err := s.users.SoftDelete(ctx, acting.UserID); err != nil {
		if IsNotFound(err) {
			return ErrUserNotFound
		}
		return internalError(err, "failed to delete user")
	}

	if err := s.sessions.RevokeAllForUser(ctx, acting.UserID); err != nil {
		return err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventUserDeleted,
		UserID:    acting.UserID.String(),
	})

	return nil
}

// Authenticate resolves the caller of an access token.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (ActingUser, error) {
	return s.sessions.Authenticate(ctx, accessToken)
}

// Wait blocks until pending notification mails were handed to the mailer.
func (s *AuthService) Wait() {
	s.confirm.Wait()
}

func (s *AuthService) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error",
			"event", event.EventType,
			"session_id", event.SessionID,
			"error", err,
		)
	}
}

func ctxErr(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+operation)
	default:
		return nil
	}
}
