package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"

	"authd/internal/config"
	"authd/internal/domain/models"
	"authd/internal/lib/password"
	"authd/internal/storage"
	"authd/internal/storage/mongodb"
	"authd/internal/storage/sqlite"
)

func main() {
	var configPath, migrationsPath, adminEmail, adminPassword string
	var seedAdmin bool
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&migrationsPath, "migrations", "migrations", "path to migrations directory (sqlite backend)")
	flag.BoolVar(&seedAdmin, "seed", false, "seed an admin user into the database")
	flag.StringVar(&adminEmail, "admin-email", "admin@example.com", "email of the seeded admin user")
	flag.StringVar(&adminPassword, "admin-password", "", "password of the seeded admin user (required with -seed)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg := config.LoadConfig(configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.Storage.Backend {
	case "sqlite":
		migrateSQLite(migrationsPath, cfg.Storage.SQLitePath)
		if seedAdmin {
			store, err := sqlite.New(cfg.Storage.SQLitePath)
			if err != nil {
				log.Fatalf("failed to open sqlite storage: %v", err)
			}
			defer store.Close()
			seed(ctx, cfg, store, adminEmail, adminPassword)
		}
	case "mongo":
		log.Println("Connecting to MongoDB...")
		store, err := mongodb.New(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
		if err != nil {
			log.Fatalf("failed to connect to mongodb: %v", err)
		}
		defer store.Close(ctx)
		log.Println("MongoDB connected, indexes created successfully")

		if seedAdmin {
			seed(ctx, cfg, store, adminEmail, adminPassword)
		}
	default:
		log.Fatalf("unknown storage backend: %q", cfg.Storage.Backend)
	}

	fmt.Println("Database initialization completed successfully")
}

func migrateSQLite(migrationsPath, storagePath string) {
	m, err := migrate.New(
		"file://"+migrationsPath,
		"sqlite3://"+storagePath,
	)
	if err != nil {
		log.Fatalf("failed to init migrations: %v", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("no new migrations to apply")
			return
		}
		log.Fatalf("failed to apply migrations: %v", err)
	}

	log.Println("migrations applied")
}

type userSeeder interface {
	SaveUser(ctx context.Context, user *models.User) (int64, error)
}

func seed(ctx context.Context, cfg *config.Config, store userSeeder, email, pass string) {
	if pass == "" {
		log.Fatal("-admin-password is required with -seed")
	}
	if len(pass) < cfg.Auth.PasswordMinLength {
		log.Fatalf("admin password must be at least %d characters", cfg.Auth.PasswordMinLength)
	}

	hasher := password.NewHasher(password.Params{
		Time:    cfg.Auth.Argon2.Time,
		Memory:  cfg.Auth.Argon2.Memory,
		Threads: cfg.Auth.Argon2.Threads,
	})
	passHash, err := hasher.Hash(pass)
	if err != nil {
		log.Fatalf("failed to hash admin password: %v", err)
	}

	_, err = store.SaveUser(ctx, &models.User{
		PublicID:  uuid.NewString(),
		Email:     email,
		PassHash:  passHash,
		FirstName: "Admin",
		Role:      models.RoleAdmin,
		IsActive:  true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			log.Printf("admin user %s already exists, skipping", email)
			return
		}
		log.Fatalf("failed to seed admin user: %v", err)
	}

	log.Printf("admin user seeded (email=%s)", email)
}
