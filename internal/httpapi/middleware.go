package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContextKey type for context keys to avoid collisions
type ContextKey string

const (
	// ClientIDKey is the context key for the authenticated client ID
	ClientIDKey ContextKey = "client_id"
	// IsAdminKey is the context key for admin status
	IsAdminKey ContextKey = "is_admin"
	// RequestIDKey is the context key for the request ID
	RequestIDKey ContextKey = "request_id"
)

// requestIDHeader carries the request ID in both directions.
const requestIDHeader = "X-Request-ID"

// Middleware provides HTTP middleware functions
type Middleware struct {
	jwtAuth *JWTAuth
	noAuth  bool // Development mode: bypass authentication
	logger  *slog.Logger
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(jwtAuth *JWTAuth, noAuth bool, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		jwtAuth: jwtAuth,
		noAuth:  noAuth,
		logger:  logger,
	}
}

// AuthRequired middleware requires valid JWT authentication
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Development mode: bypass authentication
		if m.noAuth {
			// Set development context with default values
			ctx := context.WithValue(r.Context(), ClientIDKey, "dev-client")
			ctx = context.WithValue(ctx, IsAdminKey, false)

			next(w, r.WithContext(ctx))
			return
		}

		// Normal authentication flow
		token := m.extractToken(r)
		if token == "" {
			m.writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtAuth.ValidateToken(token)
		if err != nil {
			m.writeError(w, "Invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		// Add claims to request context
		ctx := context.WithValue(r.Context(), ClientIDKey, claims.ClientID)
		ctx = context.WithValue(ctx, IsAdminKey, claims.IsAdmin)

		next(w, r.WithContext(ctx))
	}
}

// AdminRequired middleware requires admin privileges
// Note: Admin endpoints are NEVER bypassed, even in no-auth mode
func (m *Middleware) AdminRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Admin endpoints always require proper JWT authentication
		token := m.extractToken(r)
		if token == "" {
			m.writeError(w, "Authorization header required for admin access", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtAuth.ValidateToken(token)
		if err != nil {
			m.writeError(w, "Invalid token for admin access: "+err.Error(), http.StatusUnauthorized)
			return
		}

		if !claims.IsAdmin {
			m.writeError(w, "Admin privileges required", http.StatusForbidden)
			return
		}

		// Add claims to request context
		ctx := context.WithValue(r.Context(), ClientIDKey, claims.ClientID)
		ctx = context.WithValue(ctx, IsAdminKey, claims.IsAdmin)

		next(w, r.WithContext(ctx))
	}
}

// CORS middleware adds CORS headers for browser compatibility
func (m *Middleware) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// ContentType middleware sets the content type to JSON
func (m *Middleware) ContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logging middleware tags each request with an ID and logs its outcome
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(rec, r.WithContext(context.WithValue(r.Context(), RequestIDKey, requestID)))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		m.logger.LogAttrs(r.Context(), level, "http request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.bytes),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// Recovery middleware recovers from panics and returns 500 error
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("handler panic", "path", r.URL.Path, "panic", err)
				m.writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// Helper functions

// extractToken extracts the JWT token from the Authorization header
func (m *Middleware) extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Support both "Bearer token" and "token" formats
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return authHeader
}

// writeError writes an error response as JSON
func (m *Middleware) writeError(w http.ResponseWriter, message string, statusCode int) {
	writeError(w, message, statusCode)
}

// GetClientID extracts the client ID from the request context
func GetClientID(r *http.Request) string {
	if clientID, ok := r.Context().Value(ClientIDKey).(string); ok {
		return clientID
	}
	return ""
}

// IsAdmin checks if the current request is from an admin user
func IsAdmin(r *http.Request) bool {
	if isAdmin, ok := r.Context().Value(IsAdminKey).(bool); ok {
		return isAdmin
	}
	return false
}

// GetRequestID extracts the request ID from the request context
func GetRequestID(r *http.Request) string {
	if requestID, ok := r.Context().Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
