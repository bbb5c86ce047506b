package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with the session's wallet binding
type AccessClaims struct {
	jwt.RegisteredClaims
	Wallet string `json:"wallet"`
}
