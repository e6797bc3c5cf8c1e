package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authd/internal/domain/models"
	"authd/internal/lib/jwt"
	"authd/internal/lib/sl"
	"authd/internal/storage"

	"github.com/google/uuid"
)

// Caller-facing errors. The HTTP layer maps all of them to 401.
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrUnknownToken   = errors.New("unknown refresh token")

	// ErrReuseDetected means an already-rotated or revoked refresh token was
	// presented again. By the time the caller sees this error the whole token
	// family has been revoked.
	ErrReuseDetected = errors.New("refresh token reuse detected")
)

// Config holds the keying material and TTLs of an Authority. Constructed
// explicitly and passed in, never read from ambient state, so tests can run
// isolated authorities with distinct keys and clocks.
type Config struct {
	Secret     string
	Pepper     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// TokenStore is the persistence contract the Authority needs. RotateRefreshToken
// must be atomic: revoke the old record, link its successor and insert the new
// record in one transaction, conditioned on the old record still being
// unrevoked at commit time (storage.ErrTokenRevoked when that compare-and-set
// loses).
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	RefreshToken(ctx context.Context, id string) (*models.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldID string, next *models.RefreshToken) error
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) error
	RevokeFamily(ctx context.Context, family string, at time.Time) error
}

// Pair is an issued access/refresh token pair. RefreshToken is the raw opaque
// token; only its hash is persisted.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Family           string
}

// Authority mints, verifies and rotates token pairs, and enforces refresh
// token single use with family-wide reuse detection.
type Authority struct {
	logger *slog.Logger
	store  TokenStore
	cfg    Config
	now    func() time.Time
}

// New returns a new Authority.
func New(logger *slog.Logger, store TokenStore, cfg Config) *Authority {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Authority{
		logger: logger,
		store:  store,
		cfg:    cfg,
		now:    now,
	}
}

// IssuePair mints an access/refresh pair for userID. An empty family starts a
// new one (fresh login); a non-empty family continues an existing rotation
// chain. The refresh record is committed before the pair is returned.
func (a *Authority) IssuePair(ctx context.Context, userID int64, family string) (*Pair, error) {
	const op = "tokens.IssuePair"
	log := a.logger.With(slog.String("op", op), slog.Int64("userID", userID))

	if family == "" {
		family = uuid.NewString()
	}

	now := a.now()

	raw, err := newRefreshTokenRaw()
	if err != nil {
		log.Error("failed to generate refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	record := &models.RefreshToken{
		ID:        a.hashRefreshToken(raw),
		Family:    family,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.cfg.RefreshTTL),
	}

	// Sign before the write so the store commit is the last fallible step.
	access, _, err := jwt.NewAccessToken(userID, a.cfg.Secret, a.cfg.AccessTTL, now)
	if err != nil {
		log.Error("failed to sign access token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.store.SaveRefreshToken(ctx, record); err != nil {
		log.Error("failed to save refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return a.assemblePair(access, raw, record), nil
}

// VerifyAccess checks the signature, type and expiry of an access token and
// returns its claims. Pure computation, no side effects.
func (a *Authority) VerifyAccess(token string) (*jwt.Claims, error) {
	const op = "tokens.VerifyAccess"

	claims, err := jwt.ParseAccessToken(token, a.cfg.Secret, a.now)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		case errors.Is(err, jwt.ErrWrongTokenType):
			return nil, fmt.Errorf("%s: %w", op, ErrWrongTokenType)
		default:
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
	}

	return claims, nil
}

// Rotate exchanges a still-active refresh token for a new pair in the same
// family, revoking the consumed token in the same transaction that creates
// its successor.
//
// Presenting an already-revoked token is treated as a reuse event: the whole
// family is revoked before ErrReuseDetected is returned. An unknown token is
// indistinguishable from a forged one and yields ErrUnknownToken. A plain
// expired token yields ErrTokenExpired and leaves the record untouched.
func (a *Authority) Rotate(ctx context.Context, rawRefresh string) (*Pair, error) {
	const op = "tokens.Rotate"
	log := a.logger.With(slog.String("op", op))

	id := a.hashRefreshToken(rawRefresh)

	record, err := a.store.RefreshToken(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("refresh token not found")
			return nil, fmt.Errorf("%s: %w", op, ErrUnknownToken)
		}
		log.Error("failed to get refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := a.now()

	if !record.ExpiresAt.After(now) {
		log.Warn("refresh token expired", slog.String("family", record.Family))
		return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	if record.Revoked {
		return nil, a.handleReuse(ctx, op, record)
	}

	raw, err := newRefreshTokenRaw()
	if err != nil {
		log.Error("failed to generate refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	next := &models.RefreshToken{
		ID:        a.hashRefreshToken(raw),
		Family:    record.Family,
		UserID:    record.UserID,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.cfg.RefreshTTL),
	}

	// Sign before the rotation commits: once the old token is revoked every
	// remaining step has to be infallible or the pair is lost to the caller.
	access, _, err := jwt.NewAccessToken(record.UserID, a.cfg.Secret, a.cfg.AccessTTL, now)
	if err != nil {
		log.Error("failed to sign access token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.store.RotateRefreshToken(ctx, id, next); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) {
			// Lost the compare-and-set: a concurrent caller rotated this
			// token first. Same treatment as malicious reuse.
			return nil, a.handleReuse(ctx, op, record)
		}
		log.Error("failed to rotate refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("refresh token rotated",
		slog.Int64("userID", record.UserID),
		slog.String("family", record.Family),
	)

	return a.assemblePair(access, raw, next), nil
}

// RevokeOne revokes a single refresh token (single-session logout).
// Idempotent: revoking an already-revoked or unknown token is a no-op.
func (a *Authority) RevokeOne(ctx context.Context, rawRefresh string) error {
	const op = "tokens.RevokeOne"

	if err := a.store.RevokeRefreshToken(ctx, a.hashRefreshToken(rawRefresh), a.now()); err != nil {
		a.logger.Error("failed to revoke refresh token", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RevokeFamily revokes every non-revoked token in a family ("logout
// everywhere" for one login chain). Idempotent.
func (a *Authority) RevokeFamily(ctx context.Context, family string) error {
	const op = "tokens.RevokeFamily"

	if err := a.store.RevokeFamily(ctx, family, a.now()); err != nil {
		a.logger.Error("failed to revoke token family", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// handleReuse revokes the whole family of a reused token and returns
// ErrReuseDetected. The cascade is mandatory: it runs before the error is
// surfaced and failure to cascade is surfaced instead of the reuse error.
func (a *Authority) handleReuse(ctx context.Context, op string, record *models.RefreshToken) error {
	a.logger.Warn("refresh token reuse detected, revoking family",
		slog.String("op", op),
		slog.Int64("userID", record.UserID),
		slog.String("family", record.Family),
	)

	if err := a.store.RevokeFamily(ctx, record.Family, a.now()); err != nil {
		a.logger.Error("failed to revoke token family", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: revoke family: %w", op, err)
	}

	return fmt.Errorf("%s: %w", op, ErrReuseDetected)
}

func (a *Authority) assemblePair(access, rawRefresh string, record *models.RefreshToken) *Pair {
	return &Pair{
		AccessToken:      access,
		RefreshToken:     rawRefresh,
		AccessExpiresAt:  record.IssuedAt.Add(a.cfg.AccessTTL),
		RefreshExpiresAt: record.ExpiresAt,
		Family:           record.Family,
	}
}

// hashRefreshToken computes the peppered SHA-256 hash that serves as the
// record ID for a raw refresh token.
func (a *Authority) hashRefreshToken(token string) string {
	h := sha256.New()
	h.Write([]byte(token + a.cfg.Pepper))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// newRefreshTokenRaw generates a cryptographically secure random token.
func newRefreshTokenRaw() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
