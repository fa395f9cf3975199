package auth

import (
	"strings"

	"github.com/pmujumdar27/erp-admission/internal/config"
)

// Authenticator checks credentials against the configured users.
type Authenticator struct {
	users map[string]config.UserConfig
	jwt   *JWTManager
}

func NewAuthenticator(users []config.UserConfig, jwtManager *JWTManager) *Authenticator {
	byName := make(map[string]config.UserConfig, len(users))
	for _, u := range users {
		byName[strings.ToLower(u.Username)] = u
	}
	return &Authenticator{users: byName, jwt: jwtManager}
}

// Login returns a signed token for valid credentials.
func (a *Authenticator) Login(username, password string) (string, Principal, error) {
	u, ok := a.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok || !CheckPassword(password, u.PasswordHash) {
		return "", Principal{}, ErrInvalidCredentials
	}

	p := Principal{ID: u.ID, Username: u.Username, Role: u.Role}
	token, _, err := a.jwt.Generate(p)
	if err != nil {
		return "", Principal{}, err
	}
	return token, p, nil
}
