package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pmujumdar27/erp-admission/internal/config"
)

func TestAuthenticator_Login(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("wrong", hash))

	jwtManager := NewJWTManager("secret", "erp-admission", time.Hour)
	a := NewAuthenticator([]config.UserConfig{
		{ID: "1", Username: "Alice", PasswordHash: hash, Role: "admin"},
	}, jwtManager)

	token, p, err := a.Login("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, Principal{ID: "1", Username: "Alice", Role: "admin"}, p)

	claims, err := jwtManager.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)

	_, _, err = a.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Login("bob", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
