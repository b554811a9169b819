package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const sessionHashBytes = 32

// TokenPair is the access/refresh pair bound to one session
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionManager creates, rotates and revokes sessions and mints the token
// pairs bound to them.
type SessionManager struct {
	users    UserStore
	sessions SessionStore
	tokens   *TokenService
	newHash  func() (string, error)
	logger   Logger
}

// NewSessionManager creates a new SessionManager instance
func NewSessionManager(users UserStore, sessions SessionStore, tokens *TokenService) *SessionManager {
	return &SessionManager{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		newHash:  NewSessionHash,
		logger:   defaultLogger(),
	}
}

func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	m.logger = normalizeLogger(logger)
	return m
}

// NewSessionHash returns a random hex encoded session secret.
func NewSessionHash() (string, error) {
	buf := make([]byte, sessionHashBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate session hash")
	}
	return hex.EncodeToString(buf), nil
}

// Create opens a new session for user.
func (m *SessionManager) Create(ctx context.Context, user *User) (*Session, error) {
	hash, err := m.newHash()
	if err != nil {
		return nil, err
	}

	session, err := m.sessions.Create(ctx, &Session{
		UserID: user.ID,
		Hash:   hash,
	})
	if err != nil {
		return nil, internalError(err, "failed to create session")
	}

	return session, nil
}

// IssueTokenPair signs an access token and a refresh token for session.
func (m *SessionManager) IssueTokenPair(user *User, session *Session) (TokenPair, error) {
	access := &AccessClaims{
		Role:      user.Role,
		SessionID: session.ID,
		Hash:      session.Hash,
	}
	access.Subject = user.ID.String()

	accessToken, accessExpiresAt, err := m.tokens.Sign(TokenAccess, access)
	if err != nil {
		return TokenPair{}, err
	}

	refresh := &RefreshClaims{
		SessionID: session.ID,
		Hash:      session.Hash,
	}
	refresh.Subject = strconv.FormatInt(session.ID, 10)

	refreshToken, refreshExpiresAt, err := m.tokens.Sign(TokenRefresh, refresh)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// Refresh redeems the session identified by sessionID. The presented hash
// must equal the stored one, on success the hash is rotated so the
// presented value can never be redeemed again.
func (m *SessionManager) Refresh(ctx context.Context, sessionID int64, hash string) (TokenPair, error) {
	session, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if IsNotFound(err) {
			return TokenPair{}, ErrSessionNotFound
		}
		return TokenPair{}, internalError(err, "failed to load session")
	}

	if subtle.ConstantTimeCompare([]byte(session.Hash), []byte(hash)) != 1 {
		return TokenPair{}, ErrHashMismatch
	}

	user, err := m.users.FindByID(ctx, session.UserID)
	if err != nil {
		if IsNotFound(err) {
			return TokenPair{}, ErrSessionNotFound
		}
		return TokenPair{}, internalError(err, "failed to load session user")
	}

	if !user.Role.Valid() {
		return TokenPair{}, ErrUnresolvedRole
	}

	next, err := m.newHash()
	if err != nil {
		return TokenPair{}, err
	}

	rotated, err := m.sessions.RotateHash(ctx, session.ID, hash, next)
	if err != nil {
		return TokenPair{}, internalError(err, "failed to rotate session hash")
	}
	if !rotated {
		m.logger.Warn("session hash rotated concurrently", "session_id", session.ID)
		return TokenPair{}, ErrHashMismatch
	}

	session.Hash = next

	return m.IssueTokenPair(user, session)
}

// RefreshWithToken verifies a signed refresh token and redeems it.
func (m *SessionManager) RefreshWithToken(ctx context.Context, raw string) (TokenPair, error) {
	claims, err := m.VerifyRefresh(raw)
	if err != nil {
		return TokenPair{}, err
	}
	return m.Refresh(ctx, claims.SessionID, claims.Hash)
}

// VerifyRefresh decodes a refresh token. Failures are ErrUnauthorized.
func (m *SessionManager) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.tokens.Verify(TokenRefresh, raw, claims); err != nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// VerifyAccess decodes an access token. Failures are ErrUnauthorized.
func (m *SessionManager) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.tokens.Verify(TokenAccess, raw, claims); err != nil {
		return nil, ErrUnauthorized
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Authenticate verifies an access token and checks the session it is bound
// to still exists with the same hash, so tokens of a rotated or revoked
// session stop working before they expire.
func (m *SessionManager) Authenticate(ctx context.Context, raw string) (ActingUser, error) {
	claims, err := m.VerifyAccess(raw)
	if err != nil {
		return ActingUser{}, err
	}

	session, err := m.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		if IsNotFound(err) {
			return ActingUser{}, ErrSessionNotFound
		}
		return ActingUser{}, internalError(err, "failed to load session")
	}

	userID, _ := claims.UserID()
	if session.UserID != userID || subtle.ConstantTimeCompare([]byte(session.Hash), []byte(claims.Hash)) != 1 {
		return ActingUser{}, ErrHashMismatch
	}

	return ActingUser{
		UserID:    userID,
		SessionID: session.ID,
		Role:      claims.Role,
	}, nil
}

// Logout deletes the session. Unknown ids are not an error.
func (m *SessionManager) Logout(ctx context.Context, sessionID int64) error {
	if err := m.sessions.DeleteByID(ctx, sessionID); err != nil && !IsNotFound(err) {
		return internalError(err, "failed to delete session")
	}
	return nil
}

// RevokeAllForUser deletes every session of the user.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	if err := m.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return internalError(err, "failed to revoke sessions")
	}
	return nil
}

// RevokeAllForUserExcept deletes every session of the user but keepID.
func (m *SessionManager) RevokeAllForUserExcept(ctx context.Context, userID uuid.UUID, keepID int64) error {
	if err := m.sessions.DeleteAllForUserExcept(ctx, userID, keepID); err != nil {
		return internalError(err, "failed to revoke sessions")
	}
	return nil
}
