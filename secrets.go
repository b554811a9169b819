package auth

import (
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// TokenSecret is the signing key and lifetime of one token kind
type TokenSecret struct {
	Key []byte
	TTL time.Duration
}

// Validate checks the secret can be used to sign tokens.
func (s TokenSecret) Validate() error {
	if len(s.Key) == 0 {
		return goerrors.New("token secret must not be empty", goerrors.CategoryBadInput)
	}
	if s.TTL <= 0 {
		return goerrors.New("token TTL must be positive", goerrors.CategoryBadInput)
	}
	return nil
}

// SecretsProvider resolves the secret of a token kind. It is read on every
// sign and verify call so secrets can rotate without a restart.
type SecretsProvider interface {
	TokenSecret(kind TokenKind) (TokenSecret, error)
}

// StaticSecrets is a fixed SecretsProvider
type StaticSecrets map[TokenKind]TokenSecret

// TokenSecret implements SecretsProvider.
func (s StaticSecrets) TokenSecret(kind TokenKind) (TokenSecret, error) {
	secret, ok := s[kind]
	if !ok {
		return TokenSecret{}, goerrors.New(fmt.Sprintf("no secret configured for token kind %q", kind), goerrors.CategoryInternal)
	}
	return secret, secret.Validate()
}

// ValidateSecrets checks every kind resolves to a usable secret and that no
// two kinds share the same key.
func ValidateSecrets(provider SecretsProvider) error {
	seen := make(map[string]TokenKind, len(TokenKinds))
	for _, kind := range TokenKinds {
		secret, err := provider.TokenSecret(kind)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, fmt.Sprintf("invalid secret for token kind %q", kind))
		}
		if other, ok := seen[string(secret.Key)]; ok {
			return goerrors.New(fmt.Sprintf("token kinds %q and %q share a secret", other, kind), goerrors.CategoryBadInput)
		}
		seen[string(secret.Key)] = kind
	}
	return nil
}
