package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-session-auth"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherHash(t *testing.T) {
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  auth.ErrNoEmptyString,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.Hash(tt.password)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			assert.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tt.password, hash)
			assert.NoError(t, hasher.Compare(tt.password, hash))
		})
	}
}

func TestBcryptHasherCompare(t *testing.T) {
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	password := "testPassword123!"
	hash, err := hasher.Hash(password)
	assert.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		wantErr  bool
	}{
		{
			name:     "Matching password",
			password: password,
			hash:     hash,
		},
		{
			name:     "Wrong password",
			password: "wrongPassword",
			hash:     hash,
			wantErr:  true,
		},
		{
			name:     "Invalid hash",
			password: password,
			hash:     "invalidhash",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hasher.Compare(tt.password, tt.hash)

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			assert.Error(t, err)
			if tt.hash == hash {
				assert.Equal(t, auth.ErrMismatchedHashAndPassword, err)
			}
		})
	}
}

func TestHashPasswordUsesDefaultCost(t *testing.T) {
	if testing.Short() {
		t.Skip("default bcrypt cost is slow")
	}

	hash, err := auth.HashPassword("a-long-enough-password")
	assert.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("a-long-enough-password", hash))
	assert.Equal(t, auth.ErrMismatchedHashAndPassword, auth.ComparePasswordAndHash("other", hash))
}
