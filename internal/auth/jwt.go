package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload issued to dashboard and admin users. Role
// drives the RBAC policy; everything else rides in RegisteredClaims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseJWT verifies an HS256 token against secret and returns its
// claims. Any verification failure maps onto the package sentinels so
// the middleware never leaks parser internals to clients.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	switch {
	case tokenString == "":
		return nil, ErrEmptyToken
	case len(secret) == 0:
		return nil, errors.New("auth: empty secret")
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	}

	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &claims, keyFunc)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	if _, ok := NormalizeRole(claims.Role); !ok {
		return nil, ErrInvalidRole
	}
	return &claims, nil
}
