package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims are the JWT claims carried by identity tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	Verify(token string) (model.Identity, error)
}

// TokenManager signs and verifies HMAC identity tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the given identity.
func (tm *TokenManager) Issue(identity model.Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// Verify parses and validates a token, returning the identity it carries.
func (tm *TokenManager) Verify(tokenString string) (model.Identity, error) {
	if tokenString == "" {
		return model.Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil || !token.Valid {
		return model.Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return model.Identity{}, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = model.RoleMember
	}

	return model.Identity{UserID: claims.Subject, Role: role}, nil
}
