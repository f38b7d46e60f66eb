package postgres

import (
	"fmt"
	"strconv"

	"githook-runner/internal/storage"
)

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	switch cfg := config.(type) {
	case *Config:
		return NewAdapter(cfg)
	case storage.GenericConfig:
		port := 5432
		if p, err := strconv.Atoi(cfg.GetString("port")); err == nil && p > 0 {
			port = p
		}
		return NewAdapter(&Config{
			Host:     cfg.GetString("host"),
			Port:     port,
			Database: cfg.GetString("database"),
			Username: cfg.GetString("username"),
			Password: cfg.GetString("password"),
			SSLMode:  cfg.GetString("sslmode"),
		})
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
