package httpapi

import (
	"log/slog"
	"net/http"
)

type RouterDependencies struct {
	Logger      *slog.Logger
	AuthHandler *AuthHandler
	UserHandler *UserHandler
	ItemHandler *ItemHandler
	Auth        *AuthMiddleware
}

// NewRouter assembles the public and bearer-protected routes.
func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /auth/register", deps.AuthHandler.Register)
	mux.HandleFunc("POST /auth/login", deps.AuthHandler.Login)
	mux.HandleFunc("POST /auth/refresh", deps.AuthHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", deps.AuthHandler.Logout)

	protect := func(h http.HandlerFunc) http.Handler {
		return deps.Auth.Authenticate(h)
	}

	mux.Handle("POST /auth/logout-all", protect(deps.AuthHandler.LogoutAll))

	mux.Handle("GET /users/me", protect(deps.UserHandler.Me))
	mux.Handle("PATCH /users/me", protect(deps.UserHandler.UpdateMe))
	mux.Handle("DELETE /users/me", protect(deps.UserHandler.DeactivateMe))
	mux.Handle("POST /users/me/password", protect(deps.UserHandler.ChangePassword))
	mux.Handle("GET /users", protect(deps.UserHandler.List))
	mux.Handle("GET /users/{id}", protect(deps.UserHandler.PublicProfile))
	mux.Handle("DELETE /users/{id}", protect(deps.UserHandler.Deactivate))

	mux.Handle("POST /items", protect(deps.ItemHandler.Create))
	mux.Handle("GET /items", protect(deps.ItemHandler.List))
	mux.Handle("GET /items/search", protect(deps.ItemHandler.Search))
	mux.Handle("GET /items/{id}", protect(deps.ItemHandler.Get))
	mux.Handle("PATCH /items/{id}", protect(deps.ItemHandler.Update))
	mux.Handle("POST /items/{id}/status", protect(deps.ItemHandler.SetStatus))
	mux.Handle("DELETE /items/{id}", protect(deps.ItemHandler.Delete))

	return Logging(deps.Logger)(mux)
}
