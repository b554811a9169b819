package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind names a token class. Every kind is signed with its own secret
// and carries its kind in the payload.
type TokenKind string

const (
	TokenAccess          TokenKind = "access"
	TokenRefresh         TokenKind = "refresh"
	TokenConfirmEmail    TokenKind = "confirm_email"
	TokenConfirmNewEmail TokenKind = "confirm_new_email"
	TokenForgotPassword  TokenKind = "forgot_password"
)

// TokenKinds lists every kind the token service signs.
var TokenKinds = []TokenKind{
	TokenAccess,
	TokenRefresh,
	TokenConfirmEmail,
	TokenConfirmNewEmail,
	TokenForgotPassword,
}

// TokenClaims holds the registered claims shared by every token kind.
type TokenClaims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"knd"`
}

func (c *TokenClaims) base() *TokenClaims { return c }

// Claims is implemented by the kind specific claim types of this package
// only, so arbitrary payloads can not be signed.
type Claims interface {
	jwt.Claims
	base() *TokenClaims
}

// AccessClaims authorizes API calls
type AccessClaims struct {
	TokenClaims
	Role      RoleID `json:"role"`
	SessionID int64  `json:"sid"`
	Hash      string `json:"hash"`
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// RefreshClaims is redeemable once per rotation
type RefreshClaims struct {
	TokenClaims
	SessionID int64  `json:"sid"`
	Hash      string `json:"hash"`
}

// ConfirmEmailClaims proves control of a mailbox. NewEmail is only set on
// confirm-new-email tokens and pins the address the token was issued for.
type ConfirmEmailClaims struct {
	TokenClaims
	ConfirmUserID uuid.UUID `json:"confirmEmailUserId"`
	NewEmail      string    `json:"newEmail,omitempty"`
}

// ForgotPasswordClaims authorizes a single password reset. Fingerprint
// pins the password hash the token was issued against, a reset changes the
// hash and so spends the token.
type ForgotPasswordClaims struct {
	TokenClaims
	ForgotUserID uuid.UUID `json:"forgotUserId"`
	Fingerprint  string    `json:"pwf"`
}

var (
	_ Claims = (*AccessClaims)(nil)
	_ Claims = (*RefreshClaims)(nil)
	_ Claims = (*ConfirmEmailClaims)(nil)
	_ Claims = (*ForgotPasswordClaims)(nil)
)
