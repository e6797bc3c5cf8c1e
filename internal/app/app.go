package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"authd/internal/app/httpapp"
	"authd/internal/config"
	"authd/internal/domain/models"
	httpapi "authd/internal/http"
	"authd/internal/lib/password"
	"authd/internal/services/auth"
	"authd/internal/services/items"
	"authd/internal/services/tokens"
	"authd/internal/services/users"
	"authd/internal/storage/mongodb"
	"authd/internal/storage/sqlite"
)

// Storage is the union of persistence operations the services need. Both the
// sqlite and mongodb backends satisfy it.
type Storage interface {
	SaveUser(ctx context.Context, user *models.User) (int64, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, userID int64) (*models.User, error)
	UserByPublicID(ctx context.Context, publicID string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error)
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	UpdateUserProfile(ctx context.Context, userID int64, firstName, lastName string) error
	UpdateUserPassword(ctx context.Context, userID int64, passHash string) error
	SetUserActive(ctx context.Context, userID int64, active bool) error

	SaveItem(ctx context.Context, item *models.Item) (int64, error)
	ItemByPublicID(ctx context.Context, publicID string) (*models.Item, error)
	ListItems(ctx context.Context, ownerID int64, status string, limit, offset int) ([]*models.Item, int64, error)
	SearchItems(ctx context.Context, ownerID int64, query string, limit int) ([]*models.Item, error)
	UpdateItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, itemID int64) error

	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	RefreshToken(ctx context.Context, id string) (*models.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldID string, next *models.RefreshToken) error
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) error
	RevokeFamily(ctx context.Context, family string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error)
}

type App struct {
	HTTPSrv *httpapp.App

	closeStorage func(ctx context.Context) error
}

func New(logger *slog.Logger, cfg *config.Config) *App {
	store, closeStorage := newStorage(logger, cfg)

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

	httpApp := httpapp.New(
		logger,
		router,
		cfg.HTTP.Port,
		cfg.HTTP.ReadTimeout,
		cfg.HTTP.WriteTimeout,
		cfg.HTTP.IdleTimeout,
	)

	return &App{
		HTTPSrv:      httpApp,
		closeStorage: closeStorage,
	}
}

// Stop shuts the HTTP server down gracefully and closes the storage.
func (a *App) Stop(ctx context.Context) {
	a.HTTPSrv.Stop(ctx)
	if err := a.closeStorage(ctx); err != nil {
		panic(err)
	}
}

func newStorage(logger *slog.Logger, cfg *config.Config) (Storage, func(ctx context.Context) error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			panic(err)
		}
		if purged, err := store.PurgeExpiredTokens(context.Background(), 24*time.Hour); err != nil {
			logger.Warn("failed to purge expired refresh tokens", slog.String("error", err.Error()))
		} else if purged > 0 {
			logger.Info("purged expired refresh tokens", slog.Int64("count", purged))
		}
		return store, func(context.Context) error { return store.Close() }
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := mongodb.New(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
		if err != nil {
			panic(err)
		}
		return store, store.Close
	default:
		panic(fmt.Sprintf("unknown storage backend: %q", cfg.Storage.Backend))
	}
}
