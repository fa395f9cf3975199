package ratelimit

import "strings"

// RequestInfo is what key generators may use to identify a caller.
type RequestInfo struct {
	IP       string
	Username string
	UserID   string
	Role     string
}

// KeyGenerator resolves the identity a request is counted against.
type KeyGenerator func(RequestInfo) string

// ByIP keys on the client address.
func ByIP(r RequestInfo) string {
	return r.IP
}

// ByIPAndUsername keys authentication attempts on address and submitted
// username, so one address trying many usernames and many addresses trying
// one username are limited separately. Without a username it keys on IP.
func ByIPAndUsername(r RequestInfo) string {
	username := strings.ToLower(strings.TrimSpace(r.Username))
	if username == "" {
		return r.IP
	}
	return r.IP + "-" + username
}

// ByUser keys authenticated callers on their user id and everyone else on IP.
func ByUser(r RequestInfo) string {
	if r.UserID != "" {
		return "user-" + r.UserID
	}
	return r.IP
}

// ByRole shares one bucket across every user holding a role.
func ByRole(r RequestInfo) string {
	if r.Role != "" {
		return "role-" + r.Role
	}
	return r.IP
}

var keyGenerators = map[string]KeyGenerator{
	"ip":          ByIP,
	"ip_username": ByIPAndUsername,
	"user":        ByUser,
	"role":        ByRole,
}

// KeyGeneratorByName looks up a built-in generator. The empty name is ip.
func KeyGeneratorByName(name string) (KeyGenerator, bool) {
	if name == "" {
		name = "ip"
	}
	g, ok := keyGenerators[name]
	return g, ok
}
