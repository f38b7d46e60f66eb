package storage

import (
	"fmt"

	"githook-runner/internal/common/errors"
	"githook-runner/internal/config"
)

// NewStorage creates a storage backend from application configuration. The
// backend is selected once here; callers only ever see the Storage
// interface.
func NewStorage(cfg *config.Config) (Storage, error) {
	var storageConfig StorageConfig

	switch cfg.DatabaseType {
	case "sqlite":
		storageConfig = GenericConfig{
			"type": "sqlite",
			"path": cfg.DatabasePath,
		}

	case "postgres", "postgresql":
		storageConfig = GenericConfig{
			"type":     "postgres",
			"host":     cfg.PostgresHost,
			"port":     cfg.PostgresPort,
			"database": cfg.PostgresDB,
			"username": cfg.PostgresUser,
			"password": cfg.PostgresPassword,
			"sslmode":  cfg.PostgresSSLMode,
		}

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	backendType := cfg.DatabaseType
	if backendType == "postgresql" {
		backendType = "postgres"
	}

	return Create(backendType, storageConfig)
}
