package httpapi

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestJWTAuth tests basic JWT authentication functionality
func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	if err != nil {
		t.Fatalf("Expected no error generating token, got %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}
	if expiresAt.IsZero() {
		t.Error("Expected valid expiration time")
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Expected no error validating token, got %v", err)
	}
	if claims.ClientID != "test-client" {
		t.Errorf("Expected ClientID 'test-client', got '%s'", claims.ClientID)
	}
	if claims.Subject != "test-client" || claims.Issuer != tokenIssuer {
		t.Errorf("Expected subject and issuer to be set, got %q %q", claims.Subject, claims.Issuer)
	}
	if claims.IsAdmin {
		t.Error("Expected IsAdmin to be false")
	}

	if _, err := auth.ValidateToken("invalid-token"); err == nil {
		t.Error("Expected error for invalid token")
	}
	if _, err := auth.ValidateToken(""); err == nil {
		t.Error("Expected error for empty token")
	}
	if _, _, err := auth.GenerateToken("", false); err == nil {
		t.Error("Expected error for empty client ID")
	}
}

func TestJWTAuth_Claims(t *testing.T) {
	auth := NewJWTAuth("claims-test-secret", time.Hour)

	t.Run("admin_token", func(t *testing.T) {
		token, _, err := auth.GenerateToken("admin", true)
		if err != nil {
			t.Fatalf("Expected no error generating admin token, got %v", err)
		}
		claims, err := auth.ValidateToken(token)
		if err != nil {
			t.Fatalf("Expected no error validating admin token, got %v", err)
		}
		if !claims.IsAdmin {
			t.Error("Expected IsAdmin to be true for admin token")
		}
	})

	t.Run("token_ttl", func(t *testing.T) {
		_, expiresAt, err := auth.GenerateToken("expiry-test", false)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if diff := time.Until(expiresAt) - time.Hour; diff.Abs() > time.Minute {
			t.Errorf("Token expiration time off by %v", diff)
		}
	})

	t.Run("bearer_prefix", func(t *testing.T) {
		token, _, _ := auth.GenerateToken("bearer-test", false)
		claims, err := auth.ValidateToken("Bearer " + token)
		if err != nil {
			t.Fatalf("Expected no error validating bearer token, got %v", err)
		}
		if claims.ClientID != "bearer-test" {
			t.Errorf("Expected ClientID 'bearer-test', got '%s'", claims.ClientID)
		}
	})

	t.Run("wrong_secret", func(t *testing.T) {
		token, _, _ := NewJWTAuth("other-secret", 0).GenerateToken("client", false)
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for token signed with another secret")
		}
	})

	t.Run("expired", func(t *testing.T) {
		past := NewJWTAuth("claims-test-secret", time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, _ := past.GenerateToken("late", false)
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for expired token")
		}
	})

	t.Run("foreign_issuer", func(t *testing.T) {
		claims := JWTClaims{
			ClientID:         "client",
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("claims-test-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for token from another issuer")
		}
	})

	t.Run("unexpected_algorithm", func(t *testing.T) {
		claims := JWTClaims{
			ClientID:         "client",
			RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("claims-test-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for HS512 token")
		}
	})
}
