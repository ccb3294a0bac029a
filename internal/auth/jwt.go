// Package auth implements the credential store and, additionally, the
// operator/admin authentication used by the admin-only agent management
// routes (out of scope for the core pipeline, but needed for a runnable
// server to have any way to seed credentials and police agents).
//
// Admin auth is JWT-based rather than bearer-credential based: a single
// operator role signs in with a password (checked against a bcrypt hash)
// and receives a short-lived HMAC-signed token.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminRole is the only role an admin token can carry; Clawcierge has no
// per-operator accounts, just a single shared operator credential.
const AdminRole = "admin"

// AdminClaims is the payload of an admin JWT.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates admin tokens.
type JWTManager struct {
	secretKey     []byte
	issuer        string
	tokenDuration time.Duration
}

// NewJWTManager builds a manager signing with secretKey. tokenDuration
// defaults to 24h if zero.
func NewJWTManager(secretKey, issuer string, tokenDuration time.Duration) *JWTManager {
	if tokenDuration == 0 {
		tokenDuration = 24 * time.Hour
	}
	if issuer == "" {
		issuer = "clawcierge"
	}
	return &JWTManager{secretKey: []byte(secretKey), issuer: issuer, tokenDuration: tokenDuration}
}

// TokenDuration returns the lifetime new tokens are issued with.
func (m *JWTManager) TokenDuration() time.Duration {
	return m.tokenDuration
}

// GenerateAdminToken signs a new admin-role token.
func (m *JWTManager) GenerateAdminToken() (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   AdminRole,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateAdminToken verifies signature, expiry, and issuer, and rejects
// any algorithm other than HMAC (guards against the classic "alg: none"
// substitution attack).
func (m *JWTManager) ValidateAdminToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Role != AdminRole {
		return nil, fmt.Errorf("invalid admin token")
	}
	return claims, nil
}

// HashPassword bcrypt-hashes an operator password for storage/comparison.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches the bcrypt hash.
func ComparePassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
