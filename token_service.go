package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService signs and verifies the tokens of every kind
type TokenService struct {
	secrets  SecretsProvider
	issuer   string
	audience jwt.ClaimStrings
	now      func() time.Time
	logger   Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(secrets SecretsProvider) *TokenService {
	return &TokenService{
		secrets: secrets,
		now:     time.Now,
		logger:  defaultLogger(),
	}
}

// WithIssuer sets the iss claim and requires it on verification.
func (s *TokenService) WithIssuer(issuer string) *TokenService {
	s.issuer = issuer
	return s
}

// WithAudience sets the aud claim and requires it on verification.
func (s *TokenService) WithAudience(audience ...string) *TokenService {
	s.audience = jwt.ClaimStrings(audience)
	return s
}

// WithClock overrides the time source used for iat/exp.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *TokenService) WithLogger(logger Logger) *TokenService {
	s.logger = normalizeLogger(logger)
	return s
}

// Sign fills the registered claims and signs claims as a token of the given
// kind. It returns the token and its absolute expiry.
func (s *TokenService) Sign(kind TokenKind, claims Claims) (string, time.Time, error) {
	if claims == nil {
		return "", time.Time{}, goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	secret, err := s.secrets.TokenSecret(kind)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve token secret")
	}

	now := s.now()
	base := claims.base()
	base.Kind = kind
	base.Issuer = s.issuer
	base.Audience = s.audience
	base.IssuedAt = jwt.NewNumericDate(now)
	base.ExpiresAt = jwt.NewNumericDate(now.Add(secret.TTL))
	ensureTokenID(&base.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret.Key)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return signed, base.ExpiresAt.Time, nil
}

// Verify parses raw as a token of the given kind into claims. Every
// verification failure is reported as ErrInvalidOrExpiredToken.
func (s *TokenService) Verify(kind TokenKind, raw string, claims Claims) error {
	if claims == nil {
		return goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	secret, err := s.secrets.TokenSecret(kind)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve token secret")
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience[0]))
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret.Key, nil
	}, parserOptions...)

	if err != nil || !token.Valid {
		s.logger.Debug("token verification failed", "kind", kind, "error", err)
		return ErrInvalidOrExpiredToken
	}

	if got := claims.base().Kind; got != kind {
		s.logger.Warn("token kind mismatch", "expected", kind, "got", got)
		return ErrInvalidOrExpiredToken
	}

	return nil
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
