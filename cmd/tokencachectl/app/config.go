// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store/crypt"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
)

// Config is read from the environment.
type Config struct {
	Store      StoreConfig
	Encryption EncryptionConfig

	// CallingUID is the uid the broker acts for.
	CallingUID int    `env:"TOKENCACHE_CALLING_UID, default=0"`
	LogLevel   string `env:"TOKENCACHE_LOG_LEVEL, default=warn"`
}

// StoreConfig selects where cache entries are kept.
type StoreConfig struct {
	// Backend is one of "memory", "file" (default), "sqlite" or "redis".
	Backend string `env:"TOKENCACHE_BACKEND, default=file"`

	// Dir is the directory of the file backend. It defaults to a directory under the
	// user cache directory.
	Dir string `env:"TOKENCACHE_DIR"`

	SQLitePath string `env:"TOKENCACHE_SQLITE_PATH, default=tokencache.db"`

	RedisAddr   string `env:"TOKENCACHE_REDIS_ADDR, default=localhost:6379"`
	RedisPrefix string `env:"TOKENCACHE_REDIS_PREFIX, default=tokencache:"`

	// MemoryTTL, when positive, serves single key reads from memory for that long.
	MemoryTTL  time.Duration `env:"TOKENCACHE_MEMORY_TTL, default=0s"`
	MemorySize int           `env:"TOKENCACHE_MEMORY_SIZE, default=10000"`
}

// EncryptionConfig selects how values are encrypted at rest.
type EncryptionConfig struct {
	// Mode is one of "off" (default), "keyring" or "keyvault".
	Mode string `env:"TOKENCACHE_ENCRYPTION, default=off"`

	KeyringUser string `env:"TOKENCACHE_KEYRING_USER, default=default"`

	KeyVaultURL    string `env:"TOKENCACHE_KEYVAULT_URL"`
	KeyVaultSecret string `env:"TOKENCACHE_KEYVAULT_SECRET, default=tokencache-key"`
	// KeyVaultToken is a bearer token for the vault, obtained out of band.
	KeyVaultToken string `env:"TOKENCACHE_KEYVAULT_TOKEN"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig(ctx context.Context) (Config, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	switch cfg.Store.Backend {
	case "memory", "file", "sqlite", "redis":
	default:
		return Config{}, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
	}
	switch cfg.Encryption.Mode {
	case "off", "keyring":
	case "keyvault":
		if cfg.Encryption.KeyVaultURL == "" {
			return Config{}, fmt.Errorf("TOKENCACHE_KEYVAULT_URL is required for keyvault encryption")
		}
	default:
		return Config{}, fmt.Errorf("unknown encryption mode %q", cfg.Encryption.Mode)
	}
	return cfg, nil
}

// Logger returns a logger writing text to w at the configured level.
func (c Config) Logger(w io.Writer) (*logger.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return logger.New(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// Factory opens the configured backend. The returned function releases it.
func (c Config) Factory(ctx context.Context, log *logger.Logger) (store.Factory, func() error, error) {
	var (
		f       store.Factory
		release = func() error { return nil }
	)
	switch c.Store.Backend {
	case "memory":
		f = store.NewMemoryFactory()
	case "file":
		dir := c.Store.Dir
		if dir == "" {
			base, err := os.UserCacheDir()
			if err != nil {
				return nil, nil, fmt.Errorf("TOKENCACHE_DIR is not set and there is no user cache directory: %w", err)
			}
			dir = filepath.Join(base, "microsoft-identity-cache")
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, err
		}
		f = store.NewFileFactory(dir)
	case "sqlite":
		db, err := store.OpenSQLite(ctx, c.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		f, release = db, db.Close
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.Store.RedisAddr})
		f, release = store.NewRedisFactory(client, c.Store.RedisPrefix), client.Close
	}

	if c.Store.MemoryTTL > 0 {
		inner := f
		f = store.FactoryFunc(func(name string) (store.Store, error) {
			s, err := inner.Open(name)
			if err != nil {
				return nil, err
			}
			return store.NewCached(s, c.Store.MemorySize, c.Store.MemoryTTL), nil
		})
	}

	enc, err := c.encrypter(ctx)
	if err != nil {
		_ = release()
		return nil, nil, err
	}
	if enc != nil {
		f = store.EncryptedFactory{Factory: f, Encrypter: enc, Log: log}
	}
	return f, release, nil
}

func (c Config) encrypter(ctx context.Context) (store.Encrypter, error) {
	var (
		secret []byte
		err    error
	)
	switch c.Encryption.Mode {
	case "keyring":
		secret, err = crypt.KeyringKey(crypt.DefaultKeyringService, c.Encryption.KeyringUser)
	case "keyvault":
		client, cerr := crypt.NewKeyVaultClient(c.Encryption.KeyVaultURL, staticToken(c.Encryption.KeyVaultToken))
		if cerr != nil {
			return nil, cerr
		}
		secret, err = crypt.KeyVaultKey(ctx, client, c.Encryption.KeyVaultSecret)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	aead, err := crypt.NewAEAD(secret, crypt.DefaultInfo)
	if err != nil {
		return nil, err
	}
	return aead, nil
}
