package auth

import "time"

// Config drives authentication behavior. An empty Secret disables auth.
type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// Claims are extracted from the JWT token.
type Claims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}
