package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"authd/internal/services/auth"
	"authd/internal/services/items"
	"authd/internal/services/tokens"
	"authd/internal/services/users"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: messageFor(err)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

var errBadRequest = errors.New("invalid request body")

// statusFor translates service errors into HTTP status codes. Every token
// authority failure is a plain 401: the client cannot distinguish a forged
// token from a reused one, it just has to log in again.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tokens.ErrReuseDetected),
		errors.Is(err, tokens.ErrTokenExpired),
		errors.Is(err, tokens.ErrUnknownToken),
		errors.Is(err, tokens.ErrInvalidToken),
		errors.Is(err, tokens.ErrWrongTokenType),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUserInactive),
		errors.Is(err, users.ErrForbidden),
		errors.Is(err, items.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, items.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, users.ErrPasswordTooShort),
		errors.Is(err, users.ErrWrongPassword),
		errors.Is(err, items.ErrInvalidName),
		errors.Is(err, items.ErrInvalidStatus),
		errors.Is(err, items.ErrEmptyQuery),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err.Error()
		}
		err = unwrapped
	}
}
