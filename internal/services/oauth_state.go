package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OAuthState is the context carried across the provider's authorize/callback
// round trip. It travels as a signed token inside the redirect URL, so the
// server keeps no session for the flow.
type OAuthState struct {
	ProjectID      uint   `json:"project_id"`
	ReturnTo       string `json:"return_to"`
	RepositoryType string `json:"repository_type"`
	RepositoryURL  string `json:"repository_url"`
}

type stateClaims struct {
	OAuthState
	jwt.RegisteredClaims
}

// StateCodec signs and verifies OAuth state tokens. Tokens are HS256 JWTs
// with a short expiry; anything that fails verification decodes to nil.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
}

func NewStateCodec(secret string, ttl time.Duration) *StateCodec {
	return &StateCodec{secret: []byte(secret), ttl: ttl}
}

// Encode signs the state into a URL-safe token.
func (c *StateCodec) Encode(st *OAuthState) (string, error) {
	now := time.Now()
	claims := stateClaims{
		OAuthState: *st,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "trackflow",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies a state token and returns its payload. It never returns
// an error: tampered, expired or otherwise invalid tokens yield nil, and
// callers must treat nil as a failed flow rather than assuming defaults.
func (c *StateCodec) Decode(tokenString string) *OAuthState {
	if tokenString == "" {
		return nil
	}

	var claims stateClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}

	return &claims.OAuthState
}
