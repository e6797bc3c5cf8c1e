package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	schema, err := os.ReadFile("../../../migrations/0001_init.up.sql")
	require.NoError(t, err)
	_, err = store.DB().Exec(string(schema))
	require.NoError(t, err)

	return store
}

func testUser() *models.User {
	return &models.User{
		PublicID:  uuid.NewString(),
		Email:     gofakeit.Email(),
		PassHash:  "$argon2id$v=19$m=16384,t=1,p=1$c2FsdA$aGFzaA",
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		Role:      models.RoleUser,
		IsActive:  true,
	}
}

func testToken(userID int64, family string) *models.RefreshToken {
	return &models.RefreshToken{
		ID:        uuid.NewString(),
		Family:    family,
		UserID:    userID,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(30 * 24 * time.Hour),
	}
}

func TestSaveUserAndLookup(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user := testUser()
	id, err := store.SaveUser(ctx, user)
	require.NoError(t, err)
	require.NotZero(t, id)

	byEmail, err := store.UserByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)
	assert.Equal(t, user.PublicID, byEmail.PublicID)
	assert.Equal(t, user.PassHash, byEmail.PassHash)
	assert.True(t, byEmail.IsActive)
	assert.Nil(t, byEmail.LastLoginAt)

	byID, err := store.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, user.Email, byID.Email)

	byPublic, err := store.UserByPublicID(ctx, user.PublicID)
	require.NoError(t, err)
	assert.Equal(t, id, byPublic.ID)
}

func TestSaveUserDuplicateEmail(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user := testUser()
	_, err := store.SaveUser(ctx, user)
	require.NoError(t, err)

	dup := testUser()
	dup.Email = user.Email
	_, err = store.SaveUser(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrUserAlreadyExists)
}

func TestUserNotFound(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	_, err := store.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = store.UserByID(ctx, 12345)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUpdateUserFields(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user := testUser()
	id, err := store.SaveUser(ctx, user)
	require.NoError(t, err)

	loginAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.UpdateLastLogin(ctx, id, loginAt))
	require.NoError(t, store.UpdateUserProfile(ctx, id, "New", "Name"))
	require.NoError(t, store.UpdateUserPassword(ctx, id, "new-hash"))
	require.NoError(t, store.SetUserActive(ctx, id, false))

	got, err := store.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "New", got.FirstName)
	assert.Equal(t, "Name", got.LastName)
	assert.Equal(t, "new-hash", got.PassHash)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.LastLoginAt)
	assert.Equal(t, loginAt.Unix(), got.LastLoginAt.Unix())
}

func TestListUsers(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.SaveUser(ctx, testUser())
		require.NoError(t, err)
	}

	page, total, err := store.ListUsers(ctx, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 3)

	rest, total, err := store.ListUsers(ctx, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, rest, 2)
}

func TestItemCRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	ownerID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	item := &models.Item{
		PublicID:    uuid.NewString(),
		OwnerID:     ownerID,
		Name:        gofakeit.ProductName(),
		Description: gofakeit.Sentence(5),
		Status:      models.ItemStatusDraft,
	}
	item.ID, err = store.SaveItem(ctx, item)
	require.NoError(t, err)

	got, err := store.ItemByPublicID(ctx, item.PublicID)
	require.NoError(t, err)
	assert.Equal(t, item.Name, got.Name)
	assert.Equal(t, models.ItemStatusDraft, got.Status)

	got.Name = "renamed"
	got.Status = models.ItemStatusActive
	require.NoError(t, store.UpdateItem(ctx, got))

	got, err = store.ItemByPublicID(ctx, item.PublicID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, models.ItemStatusActive, got.Status)

	require.NoError(t, store.DeleteItem(ctx, got.ID))
	_, err = store.ItemByPublicID(ctx, item.PublicID)
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
}

func TestListItemsFilterAndOrder(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	ownerID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)
	otherID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	statuses := []string{models.ItemStatusDraft, models.ItemStatusActive, models.ItemStatusActive}
	var lastPublicID string
	for _, status := range statuses {
		item := &models.Item{
			PublicID: uuid.NewString(),
			OwnerID:  ownerID,
			Name:     gofakeit.ProductName(),
			Status:   status,
		}
		_, err := store.SaveItem(ctx, item)
		require.NoError(t, err)
		lastPublicID = item.PublicID
	}
	_, err = store.SaveItem(ctx, &models.Item{
		PublicID: uuid.NewString(),
		OwnerID:  otherID,
		Name:     gofakeit.ProductName(),
		Status:   models.ItemStatusDraft,
	})
	require.NoError(t, err)

	all, total, err := store.ListItems(ctx, ownerID, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, lastPublicID, all[0].PublicID)

	active, total, err := store.ListItems(ctx, ownerID, models.ItemStatusActive, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, active, 2)
}

func TestSearchItems(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	ownerID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)
	otherID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	names := []string{"Blue Widget", "Red widget", "Gasket"}
	for _, name := range names {
		_, err := store.SaveItem(ctx, &models.Item{
			PublicID: uuid.NewString(),
			OwnerID:  ownerID,
			Name:     name,
			Status:   models.ItemStatusDraft,
		})
		require.NoError(t, err)
	}
	_, err = store.SaveItem(ctx, &models.Item{
		PublicID: uuid.NewString(),
		OwnerID:  otherID,
		Name:     "Widget Pro",
		Status:   models.ItemStatusDraft,
	})
	require.NoError(t, err)

	// Case-insensitive substring match scoped to the owner, newest first.
	got, err := store.SearchItems(ctx, ownerID, "widget", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Red widget", got[0].Name)
	assert.Equal(t, "Blue Widget", got[1].Name)

	got, err = store.SearchItems(ctx, ownerID, "widget", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// LIKE metacharacters are literals, not wildcards.
	got, err = store.SearchItems(ctx, ownerID, "%", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	userID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	token := testToken(userID, uuid.NewString())
	require.NoError(t, store.SaveRefreshToken(ctx, token))

	got, err := store.RefreshToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, token.Family, got.Family)
	assert.Equal(t, userID, got.UserID)
	assert.False(t, got.Revoked)
	assert.Nil(t, got.ReplacedBy)

	_, err = store.RefreshToken(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRotateRefreshToken(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	userID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	family := uuid.NewString()
	old := testToken(userID, family)
	require.NoError(t, store.SaveRefreshToken(ctx, old))

	next := testToken(userID, family)
	require.NoError(t, store.RotateRefreshToken(ctx, old.ID, next))

	rotated, err := store.RefreshToken(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, rotated.Revoked)
	require.NotNil(t, rotated.ReplacedBy)
	assert.Equal(t, next.ID, *rotated.ReplacedBy)

	successor, err := store.RefreshToken(ctx, next.ID)
	require.NoError(t, err)
	assert.False(t, successor.Revoked)

	// A second rotation of the same token loses the compare-and-set.
	err = store.RotateRefreshToken(ctx, old.ID, testToken(userID, family))
	assert.ErrorIs(t, err, storage.ErrTokenRevoked)

	err = store.RotateRefreshToken(ctx, "missing", testToken(userID, family))
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRotateRefreshTokenConcurrent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	userID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	family := uuid.NewString()
	old := testToken(userID, family)
	require.NoError(t, store.SaveRefreshToken(ctx, old))

	const workers = 8
	results := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.RotateRefreshToken(ctx, old.ID, testToken(userID, family))
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, storage.ErrTokenRevoked):
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, losses)
}

func TestRevokeFamily(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	userID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	family := uuid.NewString()
	first := testToken(userID, family)
	second := testToken(userID, family)
	outsider := testToken(userID, uuid.NewString())
	for _, token := range []*models.RefreshToken{first, second, outsider} {
		require.NoError(t, store.SaveRefreshToken(ctx, token))
	}

	revokedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.RevokeFamily(ctx, family, revokedAt))

	for _, id := range []string{first.ID, second.ID} {
		got, err := store.RefreshToken(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		require.NotNil(t, got.RevokedAt)
		assert.Equal(t, revokedAt.Unix(), got.RevokedAt.Unix())
	}

	untouched, err := store.RefreshToken(ctx, outsider.ID)
	require.NoError(t, err)
	assert.False(t, untouched.Revoked)
}

func TestRevokeAllForUser(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	userID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)
	otherID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	require.NoError(t, store.SaveRefreshToken(ctx, testToken(userID, uuid.NewString())))
	require.NoError(t, store.SaveRefreshToken(ctx, testToken(userID, uuid.NewString())))
	other := testToken(otherID, uuid.NewString())
	require.NoError(t, store.SaveRefreshToken(ctx, other))

	count, err := store.RevokeAllForUser(ctx, userID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Already-revoked tokens are not counted twice.
	count, err = store.RevokeAllForUser(ctx, userID, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, count)

	untouched, err := store.RefreshToken(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, untouched.Revoked)
}

func TestPurgeExpiredTokens(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	userID, err := store.SaveUser(ctx, testUser())
	require.NoError(t, err)

	longGone := testToken(userID, uuid.NewString())
	longGone.ExpiresAt = time.Now().UTC().Add(-48 * time.Hour)
	justExpired := testToken(userID, uuid.NewString())
	justExpired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	live := testToken(userID, uuid.NewString())
	for _, token := range []*models.RefreshToken{longGone, justExpired, live} {
		require.NoError(t, store.SaveRefreshToken(ctx, token))
	}

	purged, err := store.PurgeExpiredTokens(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = store.RefreshToken(ctx, longGone.ID)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	// Inside the grace window, still present.
	_, err = store.RefreshToken(ctx, justExpired.ID)
	require.NoError(t, err)
	_, err = store.RefreshToken(ctx, live.ID)
	require.NoError(t, err)
}
