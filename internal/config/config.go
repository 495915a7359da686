package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Token store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreDynamo = "dynamodb"
)

type Config struct {
	Client     ClientConfig     `yaml:"client"`
	TokenStore TokenStoreConfig `yaml:"token_store"`
	Server     ServerConfig     `yaml:"server"`
	DynamoDB   DynamoDBConfig   `yaml:"dynamodb"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
}

type ClientConfig struct {
	BaseURL string        `yaml:"base_url" env:"MINERVA_API_URL" env-default:"http://localhost:8080"`
	Timeout time.Duration `yaml:"timeout" env:"MINERVA_API_TIMEOUT" env-default:"10s"`
}

type TokenStoreConfig struct {
	Backend string `yaml:"backend" env:"TOKEN_STORE" env-default:"file"`
	Path    string `yaml:"path" env:"TOKEN_STORE_PATH"`
	// Secret seals file-store values when set.
	Secret string `yaml:"secret" env:"TOKEN_STORE_SECRET"`
	Prefix string `yaml:"prefix" env:"TOKEN_STORE_PREFIX" env-default:"minerva"`
}

type ServerConfig struct {
	Port         string        `yaml:"port" env:"PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	// SeedPassword is given to the demo accounts created at startup.
	SeedPassword string `yaml:"seed_password" env:"DEVSERVER_SEED_PASSWORD" env-default:"Minerva@2024"`
}

type DynamoDBConfig struct {
	Endpoint  string `yaml:"endpoint" env:"DYNAMODB_ENDPOINT"`
	Region    string `yaml:"region" env:"DYNAMODB_REGION" env-default:"us-east-1"`
	TableName string `yaml:"table_name" env:"DYNAMODB_TABLE_NAME" env-default:"MinervaVault"`
}

type RedisConfig struct {
	Endpoint string `yaml:"endpoint" env:"REDIS_ENDPOINT" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type JWTConfig struct {
	SecretKey     string        `yaml:"secret_key" env:"JWT_SECRET_KEY"`
	AccessExpiry  time.Duration `yaml:"access_expiry" env:"JWT_ACCESS_EXPIRY" env-default:"5m"`
	RefreshExpiry time.Duration `yaml:"refresh_expiry" env:"JWT_REFRESH_EXPIRY" env-default:"24h"`
}

// Load reads CONFIG_PATH when it is set and then applies the environment on top.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}

	if cfg.TokenStore.Backend == StoreFile && cfg.TokenStore.Path == "" {
		cfg.TokenStore.Path = DefaultTokenPath()
	}

	if err := cfg.validateClient(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadServer is Load plus the checks the dev server needs.
func LoadServer() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.JWT.SecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(cfg.JWT.SecretKey) < 32 {
		return nil, fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	return cfg, nil
}

func (c *Config) validateClient() error {
	if c.Client.BaseURL == "" {
		return fmt.Errorf("MINERVA_API_URL must not be empty")
	}

	if c.Client.Timeout <= 0 {
		return fmt.Errorf("MINERVA_API_TIMEOUT must be positive")
	}

	switch c.TokenStore.Backend {
	case StoreMemory, StoreFile, StoreRedis, StoreDynamo:
	default:
		return fmt.Errorf("unknown TOKEN_STORE backend %q", c.TokenStore.Backend)
	}

	if c.TokenStore.Secret != "" && len(c.TokenStore.Secret) < 32 {
		return fmt.Errorf("TOKEN_STORE_SECRET must be at least 32 bytes")
	}

	return nil
}

// DefaultTokenPath is where the file store keeps tokens between runs.
func DefaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "minerva-vault", "tokens.json")
}
