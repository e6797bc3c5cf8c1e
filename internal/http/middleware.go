package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"authd/internal/lib/jwt"
)

type contextKey string

const contextUserIDKey contextKey = "user_id"

// UserID extracts the authenticated user id stored by the auth middleware.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextUserIDKey).(int64)
	return id, ok
}

// AccessVerifier is the slice of the token authority the middleware needs.
type AccessVerifier interface {
	VerifyAccess(token string) (*jwt.Claims, error)
}

type AuthMiddleware struct {
	verifier AccessVerifier
}

func NewAuthMiddleware(verifier AccessVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate validates the bearer token and puts the subject id into the
// request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing authorization header"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid authorization header"})
			return
		}

		claims, err := m.verifier.VerifyAccess(parts[1])
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), contextUserIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging emits one slog record per request.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
