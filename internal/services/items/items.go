package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"authd/internal/domain/models"
	"authd/internal/lib/sl"
	"authd/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrItemNotFound  = errors.New("item not found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidName   = errors.New("item name is required")
	ErrInvalidStatus = errors.New("invalid item status")
	ErrEmptyQuery    = errors.New("search query is required")
)

type ItemStore interface {
	SaveItem(ctx context.Context, item *models.Item) (int64, error)
	ItemByPublicID(ctx context.Context, publicID string) (*models.Item, error)
	ListItems(ctx context.Context, ownerID int64, status string, limit, offset int) ([]*models.Item, int64, error)
	SearchItems(ctx context.Context, ownerID int64, query string, limit int) ([]*models.Item, error)
	UpdateItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, itemID int64) error
}

type UserProvider interface {
	UserByID(ctx context.Context, userID int64) (*models.User, error)
}

// Page mirrors the limit/offset convention used across the API.
type Page struct {
	Page    int
	PerPage int
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
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
	if per > maxPerPage {
		per = maxPerPage
	}
	return per, (page - 1) * per
}

type PageMeta struct {
	Page    int
	PerPage int
	Total   int64
}

// Items implements the demo CRUD resource with per-owner access control.
type Items struct {
	logger *slog.Logger
	store  ItemStore
	users  UserProvider
}

func New(logger *slog.Logger, store ItemStore, users UserProvider) *Items {
	return &Items{logger: logger, store: store, users: users}
}

// Create stores a new draft item owned by the caller.
func (i *Items) Create(ctx context.Context, ownerID int64, name, description string) (*models.Item, error) {
	const op = "items.Create"
	log := i.logger.With(slog.String("op", op), slog.Int64("ownerID", ownerID))

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidName)
	}

	item := &models.Item{
		PublicID:    uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Status:      models.ItemStatusDraft,
	}

	id, err := i.store.SaveItem(ctx, item)
	if err != nil {
		log.Error("failed to save item", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	item.ID = id

	log.Info("item created", slog.String("publicID", item.PublicID))

	return item, nil
}

// Get returns an item visible to the caller: its owner, or any admin.
func (i *Items) Get(ctx context.Context, callerID int64, publicID string) (*models.Item, error) {
	const op = "items.Get"

	item, err := i.fetchOwned(ctx, op, callerID, publicID)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// List returns one page of the caller's items, newest first, optionally
// filtered by status.
func (i *Items) List(ctx context.Context, callerID int64, status string, page Page) ([]*models.Item, *PageMeta, error) {
	const op = "items.List"

	if status != "" && !models.ValidItemStatus(status) {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidStatus)
	}

	limit, offset := page.normalize()

	list, total, err := i.store.ListItems(ctx, callerID, status, limit, offset)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	meta := &PageMeta{Page: max(page.Page, 1), PerPage: limit, Total: total}

	return list, meta, nil
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 100
)

// Search returns the caller's items whose name contains the query,
// case-insensitive, newest first. Limit <= 0 falls back to the default.
func (i *Items) Search(ctx context.Context, callerID int64, query string, limit int) ([]*models.Item, error) {
	const op = "items.Search"

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyQuery)
	}

	if limit < 1 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	list, err := i.store.SearchItems(ctx, callerID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return list, nil
}

// Update changes name and/or description. Empty values keep the current one.
func (i *Items) Update(ctx context.Context, callerID int64, publicID, name, description string) (*models.Item, error) {
	const op = "items.Update"
	log := i.logger.With(slog.String("op", op), slog.String("publicID", publicID))

	item, err := i.fetchOwned(ctx, op, callerID, publicID)
	if err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(name); v != "" {
		item.Name = v
	}
	if v := strings.TrimSpace(description); v != "" {
		item.Description = v
	}

	if err := i.store.UpdateItem(ctx, item); err != nil {
		log.Error("failed to update item", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return item, nil
}

// SetStatus moves an item to the given status.
func (i *Items) SetStatus(ctx context.Context, callerID int64, publicID, status string) (*models.Item, error) {
	const op = "items.SetStatus"
	log := i.logger.With(slog.String("op", op), slog.String("publicID", publicID))

	if !models.ValidItemStatus(status) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidStatus)
	}

	item, err := i.fetchOwned(ctx, op, callerID, publicID)
	if err != nil {
		return nil, err
	}

	item.Status = status
	if err := i.store.UpdateItem(ctx, item); err != nil {
		log.Error("failed to update item", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return item, nil
}

// Delete removes an item permanently.
func (i *Items) Delete(ctx context.Context, callerID int64, publicID string) error {
	const op = "items.Delete"
	log := i.logger.With(slog.String("op", op), slog.String("publicID", publicID))

	item, err := i.fetchOwned(ctx, op, callerID, publicID)
	if err != nil {
		return err
	}

	if err := i.store.DeleteItem(ctx, item.ID); err != nil {
		log.Error("failed to delete item", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("item deleted")

	return nil
}

// fetchOwned loads an item and enforces the ownership rule: only the owner or
// an admin may touch it.
func (i *Items) fetchOwned(ctx context.Context, op string, callerID int64, publicID string) (*models.Item, error) {
	item, err := i.store.ItemByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrItemNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if item.OwnerID == callerID {
		return item, nil
	}

	caller, err := i.users.UserByID(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return item, nil
}
