package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Extension identifies the operator's telephone extension; it is the
// principal the event gateway authorizes call subscriptions against.
type Claims struct {
	jwt.RegisteredClaims

	Extension string    `json:"extension"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

// Identity is the decoded principal handed to the realtime gateway.
type Identity struct {
	Extension string
	Role      string
}
