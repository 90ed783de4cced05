package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// tokenIssuer is set on every issued token and required on validation
	tokenIssuer = "meshroute"
	// DefaultTokenTTL is how long issued tokens stay valid
	DefaultTokenTTL = 24 * time.Hour
)

// JWTClaims represents the JWT token claims
type JWTClaims struct {
	ClientID string `json:"client_id"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth handles JWT token creation and validation
type JWTAuth struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewJWTAuth creates a new JWT authentication handler. A non-positive ttl
// uses DefaultTokenTTL.
func NewJWTAuth(secretKey string, ttl time.Duration) *JWTAuth {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTAuth{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		now:       time.Now,
	}
}

// GenerateToken creates a new JWT token for a client
func (j *JWTAuth) GenerateToken(clientID string, isAdmin bool) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, errors.New("clientID cannot be empty")
	}

	now := j.now()
	expiresAt := now.Add(j.ttl)

	claims := JWTClaims{
		ClientID: clientID,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims type")
	}
	if claims.ClientID == "" {
		return nil, errors.New("token has no client ID")
	}

	return claims, nil
}
