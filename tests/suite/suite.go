package suite

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"authd/internal/config"
	httpapi "authd/internal/http"
	"authd/internal/lib/password"
	"authd/internal/services/auth"
	"authd/internal/services/items"
	"authd/internal/services/tokens"
	"authd/internal/services/users"
	"authd/internal/storage/sqlite"
)

const migrationFile = "../migrations/0001_init.up.sql"

type Suite struct {
	*testing.T
	Cfg     *config.Config
	Server  *httptest.Server
	Storage *sqlite.Storage
}

func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()
	t.Parallel()

	cfg := config.LoadConfig("../config/test.yaml")
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "authd.db")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	store, err := sqlite.New(cfg.Storage.SQLitePath)
	if err != nil {
		t.Fatalf("failed to open sqlite storage: %v", err)
	}

	schema, err := os.ReadFile(migrationFile)
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, string(schema)); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)

	hasher := password.NewHasher(password.Params{
		Time:    cfg.Auth.Argon2.Time,
		Memory:  cfg.Auth.Argon2.Memory,
		Threads: cfg.Auth.Argon2.Threads,
	})
	authority := tokens.New(logger, store, tokens.Config{
		Secret:     cfg.Auth.Secret,
		Pepper:     cfg.Auth.Pepper,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	authService := auth.New(logger, store, store, store, store, authority, hasher, cfg.Auth.PasswordMinLength)
	userService := users.New(logger, store, store, store, hasher, cfg.Auth.PasswordMinLength)
	itemService := items.New(logger, store, store)

	router := httpapi.NewRouter(httpapi.RouterDependencies{
		Logger:      logger,
		AuthHandler: httpapi.NewAuthHandler(authService),
		UserHandler: httpapi.NewUserHandler(userService),
		ItemHandler: httpapi.NewItemHandler(itemService),
		Auth:        httpapi.NewAuthMiddleware(authority),
	})

	server := httptest.NewServer(router)

	t.Cleanup(func() {
		t.Helper()
		cancel()
		server.Close()
		_ = store.Close()
	})

	return ctx, &Suite{
		T:       t,
		Cfg:     cfg,
		Server:  server,
		Storage: store,
	}
}

// Do sends a JSON request to the test server. A non-empty token is attached
// as a bearer Authorization header. The decoded body lands in out when the
// response has one and out is non-nil.
func (s *Suite) Do(method, path, token string, body, out any) int {
	s.T.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.T.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.Server.URL+path, reqBody)
	if err != nil {
		s.T.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Server.Client().Do(req)
	if err != nil {
		s.T.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			s.T.Fatalf("failed to decode response body: %v", err)
		}
	}

	return resp.StatusCode
}
