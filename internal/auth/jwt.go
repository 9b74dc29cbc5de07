package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	IdentityID string `json:"identity_id"`
	Role       string `json:"role"`
	TenantCode string `json:"tenant_code"`
	jwt.RegisteredClaims
}

type TokenFailure string

const (
	TokenMalformed        TokenFailure = "malformed"
	TokenSignatureInvalid TokenFailure = "signature_invalid"
	TokenExpired          TokenFailure = "expired"
	TokenInvalid          TokenFailure = "invalid"
)

func NewAccessToken(secret, issuer string, ttl time.Duration, claims Claims) (string, error) {
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.IdentityID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, options...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// ClassifyError buckets a ParseToken failure. Callers surface every
// bucket as unauthenticated; the split exists for tests and logs.
func ClassifyError(err error) TokenFailure {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return TokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return TokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenExpired
	default:
		return TokenInvalid
	}
}
