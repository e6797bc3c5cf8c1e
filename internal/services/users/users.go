package users

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
	"authd/internal/storage"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrForbidden        = errors.New("forbidden")
	ErrWrongPassword    = errors.New("wrong password")
	ErrPasswordTooShort = errors.New("password too short")
)

type UserProvider interface {
	UserByID(ctx context.Context, userID int64) (*models.User, error)
	UserByPublicID(ctx context.Context, publicID string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error)
}

type UserUpdater interface {
	UpdateUserProfile(ctx context.Context, userID int64, firstName, lastName string) error
	UpdateUserPassword(ctx context.Context, userID int64, passHash string) error
	SetUserActive(ctx context.Context, userID int64, active bool) error
}

type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error)
}

// Page describes a limit/offset page request. Zero values fall back to the
// defaults; PerPage is capped at MaxPerPage.
type Page struct {
	Page    int
	PerPage int
}

const (
	defaultPerPage = 20
	MaxPerPage     = 100
)

func (p Page) normalize() (limit, offset int) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	per := p.PerPage
	if per < 1 {
		per = defaultPerPage
	}
	if per > MaxPerPage {
		per = MaxPerPage
	}
	return per, (page - 1) * per
}

// PageMeta is the pagination metadata returned alongside list results.
type PageMeta struct {
	Page    int
	PerPage int
	Total   int64
}

// Users implements profile and administration operations.
type Users struct {
	logger   *slog.Logger
	provider UserProvider
	updater  UserUpdater
	revoker  SessionRevoker
	hasher   *password.Hasher

	passMinLen int
}

func New(
	logger *slog.Logger,
	provider UserProvider,
	updater UserUpdater,
	revoker SessionRevoker,
	hasher *password.Hasher,
	passMinLen int,
) *Users {
	return &Users{
		logger:     logger,
		provider:   provider,
		updater:    updater,
		revoker:    revoker,
		hasher:     hasher,
		passMinLen: passMinLen,
	}
}

// Me returns the user's own profile.
func (u *Users) Me(ctx context.Context, userID int64) (*models.User, error) {
	const op = "users.Me"

	user, err := u.provider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// Update changes the user's profile fields. Empty values keep the current one.
func (u *Users) Update(ctx context.Context, userID int64, firstName, lastName string) (*models.User, error) {
	const op = "users.Update"
	log := u.logger.With(slog.String("op", op), slog.Int64("userID", userID))

	user, err := u.provider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if v := strings.TrimSpace(firstName); v != "" {
		user.FirstName = v
	}
	if v := strings.TrimSpace(lastName); v != "" {
		user.LastName = v
	}

	if err := u.updater.UpdateUserProfile(ctx, userID, user.FirstName, user.LastName); err != nil {
		log.Error("failed to update profile", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("profile updated")

	return user, nil
}

// ChangePassword verifies the old password, stores the new hash and revokes
// every refresh token of the user so stolen sessions die with the old
// password.
func (u *Users) ChangePassword(ctx context.Context, userID int64, oldPass, newPass string) error {
	const op = "users.ChangePassword"
	log := u.logger.With(slog.String("op", op), slog.Int64("userID", userID))

	if len(newPass) < u.passMinLen {
		return fmt.Errorf("%s: %w", op, ErrPasswordTooShort)
	}

	user, err := u.provider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := u.hasher.Verify(oldPass, user.PassHash)
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Warn("wrong current password")
		return fmt.Errorf("%s: %w", op, ErrWrongPassword)
	}

	newHash, err := u.hasher.Hash(newPass)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := u.updater.UpdateUserPassword(ctx, userID, newHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := u.revoker.RevokeAllForUser(ctx, userID, time.Now()); err != nil {
		log.Error("failed to revoke sessions", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed, sessions revoked")

	return nil
}

// PublicProfile returns another user's profile by public id. Deactivated
// accounts are reported as missing.
func (u *Users) PublicProfile(ctx context.Context, publicID string) (*models.User, error) {
	const op = "users.PublicProfile"

	user, err := u.provider.UserByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return user, nil
}

// DeactivateSelf disables the caller's own account and revokes every refresh
// token. The account stays on record; only is_active flips.
func (u *Users) DeactivateSelf(ctx context.Context, userID int64) error {
	const op = "users.DeactivateSelf"
	log := u.logger.With(slog.String("op", op), slog.Int64("userID", userID))

	if _, err := u.provider.UserByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := u.updater.SetUserActive(ctx, userID, false); err != nil {
		log.Error("failed to deactivate account", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := u.revoker.RevokeAllForUser(ctx, userID, time.Now()); err != nil {
		log.Error("failed to revoke sessions", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("account deactivated")

	return nil
}

// List returns a page of users. Admin only.
func (u *Users) List(ctx context.Context, callerID int64, page Page) ([]*models.User, *PageMeta, error) {
	const op = "users.List"

	caller, err := u.provider.UserByID(ctx, callerID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if !caller.IsAdmin() {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	limit, offset := page.normalize()

	list, total, err := u.provider.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	meta := &PageMeta{Page: max(page.Page, 1), PerPage: limit, Total: total}

	return list, meta, nil
}

// Deactivate disables an account by its public id and revokes its refresh
// tokens. Admin only.
func (u *Users) Deactivate(ctx context.Context, callerID int64, publicID string) error {
	const op = "users.Deactivate"
	log := u.logger.With(slog.String("op", op), slog.String("publicID", publicID))

	caller, err := u.provider.UserByID(ctx, callerID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !caller.IsAdmin() {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	target, err := u.provider.UserByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := u.updater.SetUserActive(ctx, target.ID, false); err != nil {
		log.Error("failed to deactivate user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := u.revoker.RevokeAllForUser(ctx, target.ID, time.Now()); err != nil {
		log.Error("failed to revoke sessions", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user deactivated", slog.Int64("userID", target.ID))

	return nil
}
