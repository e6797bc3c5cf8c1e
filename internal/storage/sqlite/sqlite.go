package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New opens (or creates) the database at storagePath. The busy timeout keeps
// concurrent rotation transactions queued instead of failing with
// SQLITE_BUSY.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", storagePath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

// DB exposes the underlying handle for migrations and tests.
func (s *Storage) DB() *sql.DB { return s.db }

func (s *Storage) Close() error { return s.db.Close() }

// --- users ---

func (s *Storage) SaveUser(ctx context.Context, user *models.User) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (public_id, email, pass_hash, first_name, last_name, role, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.PublicID, user.Email, user.PassHash, user.FirstName, user.LastName, user.Role, user.IsActive,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.LastInsertId()
}

const userColumns = `id, public_id, email, pass_hash, first_name, last_name, role, is_active, last_login_at, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.PublicID, &user.Email, &user.PassHash,
		&user.FirstName, &user.LastName, &user.Role, &user.IsActive,
		&user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.sqlite.UserByEmail"

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.sqlite.UserByID"

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) UserByPublicID(ctx context.Context, publicID string) (*models.User, error) {
	const op = "storage.sqlite.UserByPublicID"

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE public_id = ?`, publicID)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error) {
	const op = "storage.sqlite.ListUsers"

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		err := rows.Scan(
			&user.ID, &user.PublicID, &user.Email, &user.PassHash,
			&user.FirstName, &user.LastName, &user.Role, &user.IsActive,
			&user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	return users, total, nil
}

func (s *Storage) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	const op = "storage.sqlite.UpdateLastLogin"

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) UpdateUserProfile(ctx context.Context, userID int64, firstName, lastName string) error {
	const op = "storage.sqlite.UpdateUserProfile"

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET first_name = ?, last_name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		firstName, lastName, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) UpdateUserPassword(ctx context.Context, userID int64, passHash string) error {
	const op = "storage.sqlite.UpdateUserPassword"

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET pass_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, passHash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) SetUserActive(ctx context.Context, userID int64, active bool) error {
	const op = "storage.sqlite.SetUserActive"

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, active, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// --- items ---

const itemColumns = `id, public_id, owner_id, name, description, status, created_at, updated_at`

func (s *Storage) SaveItem(ctx context.Context, item *models.Item) (int64, error) {
	const op = "storage.sqlite.SaveItem"

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO items (public_id, owner_id, name, description, status) VALUES (?, ?, ?, ?, ?)`,
		item.PublicID, item.OwnerID, item.Name, item.Description, item.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.LastInsertId()
}

func (s *Storage) ItemByPublicID(ctx context.Context, publicID string) (*models.Item, error) {
	const op = "storage.sqlite.ItemByPublicID"

	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE public_id = ?`, publicID)

	var item models.Item
	err := row.Scan(
		&item.ID, &item.PublicID, &item.OwnerID, &item.Name,
		&item.Description, &item.Status, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrItemNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &item, nil
}

func (s *Storage) ListItems(ctx context.Context, ownerID int64, status string, limit, offset int) ([]*models.Item, int64, error) {
	const op = "storage.sqlite.ListItems"

	where := `WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		var item models.Item
		err := rows.Scan(
			&item.ID, &item.PublicID, &item.OwnerID, &item.Name,
			&item.Description, &item.Status, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	return items, total, nil
}

func (s *Storage) SearchItems(ctx context.Context, ownerID int64, query string, limit int) ([]*models.Item, error) {
	const op = "storage.sqlite.SearchItems"

	pattern := "%" + escapeLike(query) + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE owner_id = ? AND name LIKE ? ESCAPE '\' ORDER BY id DESC LIMIT ?`,
		ownerID, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		var item models.Item
		err := rows.Scan(
			&item.ID, &item.PublicID, &item.OwnerID, &item.Name,
			&item.Description, &item.Status, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

// escapeLike neutralizes LIKE metacharacters in user input.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Storage) UpdateItem(ctx context.Context, item *models.Item) error {
	const op = "storage.sqlite.UpdateItem"

	result, err := s.db.ExecContext(ctx,
		`UPDATE items SET name = ?, description = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		item.Name, item.Description, item.Status, item.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrItemNotFound)
	}
	return nil
}

func (s *Storage) DeleteItem(ctx context.Context, itemID int64) error {
	const op = "storage.sqlite.DeleteItem"

	result, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrItemNotFound)
	}
	return nil
}

// --- refresh tokens ---

func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.sqlite.SaveRefreshToken"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, family, user_id, issued_at, expires_at, revoked)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		token.ID, token.Family, token.UserID, token.IssuedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RefreshToken(ctx context.Context, id string) (*models.RefreshToken, error) {
	const op = "storage.sqlite.RefreshToken"

	row := s.db.QueryRowContext(ctx,
		`SELECT id, family, user_id, issued_at, expires_at, revoked, revoked_at, replaced_by
		 FROM refresh_tokens WHERE id = ?`, id)

	var token models.RefreshToken
	err := row.Scan(
		&token.ID, &token.Family, &token.UserID, &token.IssuedAt,
		&token.ExpiresAt, &token.Revoked, &token.RevokedAt, &token.ReplacedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &token, nil
}

// RotateRefreshToken revokes the old record and inserts its successor in one
// transaction. The UPDATE is conditioned on revoked = 0: when zero rows are
// affected the compare-and-set lost and storage.ErrTokenRevoked is returned
// with nothing committed.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldID string, next *models.RefreshToken) error {
	const op = "storage.sqlite.RotateRefreshToken"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, revoked_at = ?, replaced_by = ?
		 WHERE id = ? AND revoked = 0`,
		next.IssuedAt, next.ID, oldID,
	)
	if err != nil {
		return fmt.Errorf("%s: revoke old: %w", op, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = ?)`, oldID).Scan(&exists); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !exists {
			return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return fmt.Errorf("%s: %w", op, storage.ErrTokenRevoked)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, family, user_id, issued_at, expires_at, revoked)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		next.ID, next.Family, next.UserID, next.IssuedAt, next.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: insert new: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RevokeRefreshToken(ctx context.Context, id string, at time.Time) error {
	const op = "storage.sqlite.RevokeRefreshToken"

	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0`,
		at, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RevokeFamily(ctx context.Context, family string, at time.Time) error {
	const op = "storage.sqlite.RevokeFamily"

	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE family = ? AND revoked = 0`,
		at, family)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error) {
	const op = "storage.sqlite.RevokeAllForUser"

	result, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE user_id = ? AND revoked = 0`,
		at, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.RowsAffected()
}

// PurgeExpiredTokens deletes records past expiry plus a grace window. Storage
// hygiene only; expiry itself is enforced lazily at rotation time.
func (s *Storage) PurgeExpiredTokens(ctx context.Context, grace time.Duration) (int64, error) {
	const op = "storage.sqlite.PurgeExpiredTokens"

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, time.Now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.RowsAffected()
}
