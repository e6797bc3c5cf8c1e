package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client   *mongo.Client
	database *mongo.Database
	users    *mongo.Collection
	items    *mongo.Collection
	counters *mongo.Collection
	tokens   *mongo.Collection
}

type userDoc struct {
	ID          int64      `bson:"_id"`
	PublicID    string     `bson:"public_id"`
	Email       string     `bson:"email"`
	PassHash    string     `bson:"pass_hash"`
	FirstName   string     `bson:"first_name"`
	LastName    string     `bson:"last_name"`
	Role        string     `bson:"role"`
	IsActive    bool       `bson:"is_active"`
	LastLoginAt *time.Time `bson:"last_login_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

type itemDoc struct {
	ID          int64     `bson:"_id"`
	PublicID    string    `bson:"public_id"`
	OwnerID     int64     `bson:"owner_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

type refreshTokenDoc struct {
	ID         string     `bson:"_id"`
	Family     string     `bson:"family"`
	UserID     int64      `bson:"user_id"`
	IssuedAt   time.Time  `bson:"issued_at"`
	ExpiresAt  time.Time  `bson:"expires_at"`
	Revoked    bool       `bson:"revoked"`
	RevokedAt  *time.Time `bson:"revoked_at,omitempty"`
	ReplacedBy *string    `bson:"replaced_by,omitempty"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		users:    db.Collection("users"),
		items:    db.Collection("items"),
		counters: db.Collection("counters"),
		tokens:   db.Collection("refresh_tokens"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

const tokenGraceSeconds = 24 * 60 * 60

func (s *Storage) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "public_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.public_id index: %w", err)
	}

	_, err = s.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "public_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("items.public_id index: %w", err)
	}

	_, err = s.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("items.owner_id index: %w", err)
	}

	_, err = s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "family", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens.family index: %w", err)
	}

	_, err = s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens.user_id index: %w", err)
	}

	// TTL sweep for storage hygiene; expiry itself is enforced lazily at use
	// time. The grace window keeps recently expired rows visible to reuse
	// detection.
	_, err = s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(tokenGraceSeconds),
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens.expires_at TTL index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// nextID atomically increments and returns the next ID for a given collection.
func (s *Storage) nextID(ctx context.Context, collectionName string) (int64, error) {
	filter := bson.D{{Key: "_id", Value: collectionName}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// --- users ---

func userFromDoc(doc *userDoc) *models.User {
	return &models.User{
		ID:          doc.ID,
		PublicID:    doc.PublicID,
		Email:       doc.Email,
		PassHash:    doc.PassHash,
		FirstName:   doc.FirstName,
		LastName:    doc.LastName,
		Role:        doc.Role,
		IsActive:    doc.IsActive,
		LastLoginAt: doc.LastLoginAt,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func (s *Storage) SaveUser(ctx context.Context, user *models.User) (int64, error) {
	const op = "storage.mongodb.SaveUser"

	id, err := s.nextID(ctx, "users")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	now := time.Now()
	doc := userDoc{
		ID:        id,
		PublicID:  user.PublicID,
		Email:     user.Email,
		PassHash:  user.PassHash,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
		IsActive:  user.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.users.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) findUser(ctx context.Context, op string, filter bson.D) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return userFromDoc(&doc), nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.UserByEmail", bson.D{{Key: "email", Value: email}})
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.UserByID", bson.D{{Key: "_id", Value: userID}})
}

func (s *Storage) UserByPublicID(ctx context.Context, publicID string) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.UserByPublicID", bson.D{{Key: "public_id", Value: publicID}})
}

func (s *Storage) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error) {
	const op = "storage.mongodb.ListUsers"

	total, err := s.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := s.users.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var users []*models.User
	for cursor.Next(ctx) {
		var doc userDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, userFromDoc(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	return users, total, nil
}

func (s *Storage) updateUser(ctx context.Context, op string, userID int64, set bson.D) error {
	set = append(set, bson.E{Key: "updated_at", Value: time.Now()})
	_, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	return s.updateUser(ctx, "storage.mongodb.UpdateLastLogin", userID,
		bson.D{{Key: "last_login_at", Value: at}})
}

func (s *Storage) UpdateUserProfile(ctx context.Context, userID int64, firstName, lastName string) error {
	return s.updateUser(ctx, "storage.mongodb.UpdateUserProfile", userID,
		bson.D{{Key: "first_name", Value: firstName}, {Key: "last_name", Value: lastName}})
}

func (s *Storage) UpdateUserPassword(ctx context.Context, userID int64, passHash string) error {
	return s.updateUser(ctx, "storage.mongodb.UpdateUserPassword", userID,
		bson.D{{Key: "pass_hash", Value: passHash}})
}

func (s *Storage) SetUserActive(ctx context.Context, userID int64, active bool) error {
	return s.updateUser(ctx, "storage.mongodb.SetUserActive", userID,
		bson.D{{Key: "is_active", Value: active}})
}

// --- items ---

func itemFromDoc(doc *itemDoc) *models.Item {
	return &models.Item{
		ID:          doc.ID,
		PublicID:    doc.PublicID,
		OwnerID:     doc.OwnerID,
		Name:        doc.Name,
		Description: doc.Description,
		Status:      doc.Status,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func (s *Storage) SaveItem(ctx context.Context, item *models.Item) (int64, error) {
	const op = "storage.mongodb.SaveItem"

	id, err := s.nextID(ctx, "items")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	now := time.Now()
	doc := itemDoc{
		ID:          id,
		PublicID:    item.PublicID,
		OwnerID:     item.OwnerID,
		Name:        item.Name,
		Description: item.Description,
		Status:      item.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.items.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) ItemByPublicID(ctx context.Context, publicID string) (*models.Item, error) {
	const op = "storage.mongodb.ItemByPublicID"

	var doc itemDoc
	err := s.items.FindOne(ctx, bson.D{{Key: "public_id", Value: publicID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrItemNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return itemFromDoc(&doc), nil
}

func (s *Storage) ListItems(ctx context.Context, ownerID int64, status string, limit, offset int) ([]*models.Item, int64, error) {
	const op = "storage.mongodb.ListItems"

	filter := bson.D{{Key: "owner_id", Value: ownerID}}
	if status != "" {
		filter = append(filter, bson.E{Key: "status", Value: status})
	}

	total, err := s.items.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := s.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var items []*models.Item
	for cursor.Next(ctx) {
		var doc itemDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		items = append(items, itemFromDoc(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	return items, total, nil
}

func (s *Storage) SearchItems(ctx context.Context, ownerID int64, query string, limit int) ([]*models.Item, error) {
	const op = "storage.mongodb.SearchItems"

	filter := bson.D{
		{Key: "owner_id", Value: ownerID},
		{Key: "name", Value: bson.D{
			{Key: "$regex", Value: regexp.QuoteMeta(query)},
			{Key: "$options", Value: "i"},
		}},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var items []*models.Item
	for cursor.Next(ctx) {
		var doc itemDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		items = append(items, itemFromDoc(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

func (s *Storage) UpdateItem(ctx context.Context, item *models.Item) error {
	const op = "storage.mongodb.UpdateItem"

	result, err := s.items.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: item.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "name", Value: item.Name},
			{Key: "description", Value: item.Description},
			{Key: "status", Value: item.Status},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrItemNotFound)
	}
	return nil
}

func (s *Storage) DeleteItem(ctx context.Context, itemID int64) error {
	const op = "storage.mongodb.DeleteItem"

	result, err := s.items.DeleteOne(ctx, bson.D{{Key: "_id", Value: itemID}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrItemNotFound)
	}
	return nil
}

// --- refresh tokens ---

func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.mongodb.SaveRefreshToken"

	doc := refreshTokenDoc{
		ID:        token.ID,
		Family:    token.Family,
		UserID:    token.UserID,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	}

	if _, err := s.tokens.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RefreshToken(ctx context.Context, id string) (*models.RefreshToken, error) {
	const op = "storage.mongodb.RefreshToken"

	var doc refreshTokenDoc
	err := s.tokens.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.RefreshToken{
		ID:         doc.ID,
		Family:     doc.Family,
		UserID:     doc.UserID,
		IssuedAt:   doc.IssuedAt,
		ExpiresAt:  doc.ExpiresAt,
		Revoked:    doc.Revoked,
		RevokedAt:  doc.RevokedAt,
		ReplacedBy: doc.ReplacedBy,
	}, nil
}

// RotateRefreshToken inserts the successor first and then revokes the old
// record with a FindOneAndUpdate filtered on revoked: false, so only one
// concurrent caller can win; the loser gets storage.ErrTokenRevoked.
//
// The write order matters: standalone mongod has no multi-document
// transactions, so a failure between the two writes must leave the old token
// still active. An orphaned successor is harmless — its raw token is never
// returned to anyone — and ages out through the TTL index.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldID string, next *models.RefreshToken) error {
	const op = "storage.mongodb.RotateRefreshToken"

	doc := refreshTokenDoc{
		ID:        next.ID,
		Family:    next.Family,
		UserID:    next.UserID,
		IssuedAt:  next.IssuedAt,
		ExpiresAt: next.ExpiresAt,
	}
	if _, err := s.tokens.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%s: insert new: %w", op, err)
	}

	err := s.tokens.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oldID}, {Key: "revoked", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "revoked", Value: true},
			{Key: "revoked_at", Value: next.IssuedAt},
			{Key: "replaced_by", Value: next.ID},
		}}},
	).Err()
	if err != nil {
		// The rotation did not happen; take the successor back out so the
		// family holds no live record the caller never received.
		if _, derr := s.tokens.DeleteOne(ctx, bson.D{{Key: "_id", Value: next.ID}}); derr != nil {
			return fmt.Errorf("%s: remove successor: %w", op, derr)
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Record either absent or already revoked; disambiguate.
			count, countErr := s.tokens.CountDocuments(ctx, bson.D{{Key: "_id", Value: oldID}})
			if countErr != nil {
				return fmt.Errorf("%s: %w", op, countErr)
			}
			if count == 0 {
				return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
			}
			return fmt.Errorf("%s: %w", op, storage.ErrTokenRevoked)
		}
		return fmt.Errorf("%s: revoke old: %w", op, err)
	}

	return nil
}

func (s *Storage) RevokeRefreshToken(ctx context.Context, id string, at time.Time) error {
	const op = "storage.mongodb.RevokeRefreshToken"

	_, err := s.tokens.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "revoked", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "revoked", Value: true},
			{Key: "revoked_at", Value: at},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RevokeFamily(ctx context.Context, family string, at time.Time) error {
	const op = "storage.mongodb.RevokeFamily"

	_, err := s.tokens.UpdateMany(ctx,
		bson.D{{Key: "family", Value: family}, {Key: "revoked", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "revoked", Value: true},
			{Key: "revoked_at", Value: at},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error) {
	const op = "storage.mongodb.RevokeAllForUser"

	result, err := s.tokens.UpdateMany(ctx,
		bson.D{{Key: "user_id", Value: userID}, {Key: "revoked", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "revoked", Value: true},
			{Key: "revoked_at", Value: at},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.ModifiedCount, nil
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
