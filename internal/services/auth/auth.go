package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"authd/internal/domain/models"
	"authd/internal/lib/password"
	"authd/internal/lib/sl"
	"authd/internal/services/tokens"
	"authd/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrPasswordTooShort   = errors.New("password too short")
)

type UserSaver interface {
	SaveUser(ctx context.Context, user *models.User) (int64, error)
}

type UserProvider interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, userID int64) (*models.User, error)
}

type LoginRecorder interface {
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
}

type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error)
}

// Auth implements registration, login and session lifecycle on top of the
// token authority.
type Auth struct {
	logger        *slog.Logger
	userSaver     UserSaver
	userProvider  UserProvider
	loginRecorder LoginRecorder
	revoker       SessionRevoker
	authority     *tokens.Authority
	hasher        *password.Hasher
	passMinLen    int
}

// New returns a new instance of the Auth service.
func New(
	logger *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	loginRecorder LoginRecorder,
	revoker SessionRevoker,
	authority *tokens.Authority,
	hasher *password.Hasher,
	passMinLen int,
) *Auth {
	return &Auth{
		logger:        logger,
		userSaver:     userSaver,
		userProvider:  userProvider,
		loginRecorder: loginRecorder,
		revoker:       revoker,
		authority:     authority,
		hasher:        hasher,
		passMinLen:    passMinLen,
	}
}

// Register creates a new account and issues its first token pair.
func (a *Auth) Register(
	ctx context.Context,
	email, pass, firstName, lastName string,
) (*models.User, *tokens.Pair, error) {
	const op = "auth.Register"
	log := a.logger.With(slog.String("op", op), slog.String("email", email))
	log.Info("register request")

	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}
	if len(pass) < a.passMinLen {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrPasswordTooShort)
	}

	passHash, err := a.hasher.Hash(pass)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	user := &models.User{
		PublicID:  uuid.NewString(),
		Email:     email,
		PassHash:  passHash,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Role:      models.RoleUser,
		IsActive:  true,
	}

	user.ID, err = a.userSaver.SaveUser(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			log.Warn("user already exists", sl.Err(err))
			return nil, nil, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := a.authority.IssuePair(ctx, user.ID, "")
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("userID", user.ID))

	return user, pair, nil
}

// Login authenticates credentials and issues a token pair with a fresh family.
// Unknown email and wrong password fail identically.
func (a *Auth) Login(ctx context.Context, email, pass string) (*models.User, *tokens.Pair, error) {
	const op = "auth.Login"
	log := a.logger.With(slog.String("op", op))
	log.Info("login request", slog.String("email", email))

	email = strings.ToLower(strings.TrimSpace(email))

	user, err := a.userProvider.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := a.hasher.Verify(pass, user.PassHash)
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Warn("invalid password", slog.Int64("userID", user.ID))
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.IsActive {
		log.Warn("inactive user login attempt", slog.Int64("userID", user.ID))
		return nil, nil, fmt.Errorf("%s: %w", op, ErrUserInactive)
	}

	now := time.Now()
	if err := a.loginRecorder.UpdateLastLogin(ctx, user.ID, now); err != nil {
		log.Error("failed to update last login", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	user.LastLoginAt = &now

	pair, err := a.authority.IssuePair(ctx, user.ID, "")
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.Int64("userID", user.ID))

	return user, pair, nil
}

// Refresh rotates a refresh token into a new pair.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (*tokens.Pair, error) {
	const op = "auth.Refresh"

	pair, err := a.authority.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pair, nil
}

// Logout revokes a single refresh token. Idempotent.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"

	if err := a.authority.RevokeOne(ctx, refreshToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// LogoutAll revokes every refresh token the user holds, across all families,
// and returns how many were revoked.
func (a *Auth) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	const op = "auth.LogoutAll"
	log := a.logger.With(slog.String("op", op), slog.Int64("userID", userID))

	count, err := a.revoker.RevokeAllForUser(ctx, userID, time.Now())
	if err != nil {
		log.Error("failed to revoke user tokens", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out everywhere", slog.Int64("revoked", count))

	return count, nil
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t")
}
