// Package auth supplies the externally-owned authorization check for the
// upload surface: JWT bearer tokens whose claims carry the uploader
// identity and its collection grants. The storage core itself never
// inspects credentials.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated uploader attached to a request.
type Principal struct {
	Owner       string
	Collections []string
}

// HasCollection reports whether the principal may write to a collection.
// A grant of "*" covers every collection.
func (p Principal) HasCollection(collection string) bool {
	for _, c := range p.Collections {
		if c == "*" || c == collection {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Claims are the JWT claims expected on upload tokens.
type Claims struct {
	jwt.RegisteredClaims
	Owner       string   `json:"owner"`
	Collections []string `json:"collections"`
}

// Validator validates upload tokens signed with a shared HMAC secret.
type Validator struct {
	secret []byte
}

// NewValidator creates a validator. An empty secret yields a nil
// validator; middleware treats that as fail-closed.
func NewValidator(secret string) *Validator {
	if secret == "" {
		return nil
	}
	return &Validator{secret: []byte(secret)}
}

// Validate parses and validates a token string.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	if v == nil {
		return nil, errors.New("validator uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Owner == "" {
		return nil, errors.New("token carries no owner")
	}
	return claims, nil
}
