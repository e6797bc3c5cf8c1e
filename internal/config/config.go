package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
	Auth    AuthConfig    `yaml:"auth"`
}

type StorageConfig struct {
	// Backend selects the storage implementation: "sqlite" or "mongo".
	Backend    string      `yaml:"backend" env:"STORAGE_BACKEND" env-default:"sqlite"`
	SQLitePath string      `yaml:"sqlite_path" env:"SQLITE_PATH"`
	Mongo      MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"authd"`
}

type HTTPConfig struct {
	Port         int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type AuthConfig struct {
	// Secret signs access tokens; Pepper is mixed into refresh token hashes.
	Secret            string        `yaml:"secret" env:"AUTH_SECRET" env-required:"true"`
	Pepper            string        `yaml:"pepper" env:"AUTH_PEPPER"`
	AccessTTL         time.Duration `yaml:"access_ttl" env:"ACCESS_TTL" env-default:"15m"`
	RefreshTTL        time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL" env-default:"720h"`
	PasswordMinLength int           `yaml:"password_min_length" env-default:"8"`
	Argon2            Argon2Config  `yaml:"argon2"`
}

type Argon2Config struct {
	Time    uint32 `yaml:"time" env-default:"2"`
	Memory  uint32 `yaml:"memory" env-default:"65536"`
	Threads uint8  `yaml:"threads" env-default:"2"`
}

func LoadConfig(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
