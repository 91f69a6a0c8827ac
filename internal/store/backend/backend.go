// Package backend opens the store.Store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"duiwatch/internal/config"
	"duiwatch/internal/logger"
	"duiwatch/internal/store"
	"duiwatch/internal/store/memstore"
	"duiwatch/internal/store/payload"
	"duiwatch/internal/store/sqlstore"
)

// Driver names accepted in store.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = sqlstore.DriverSQLite
	DriverPostgres = sqlstore.DriverPostgres
	DriverPayload  = "payload"
)

// Open connects the configured backend. SQL backends create their tables
// when cfg.EnsureSchema is set or the driver is sqlite.
func Open(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (store.Store, error) {
	if log == nil {
		log = logger.NewNop()
	}

	switch cfg.Driver {
	case DriverMemory, "":
		log.Info("💾 Using in-memory store")

		return memstore.New(), nil
	case DriverSQLite, DriverPostgres:
		s, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}

		if cfg.EnsureSchema || cfg.Driver == DriverSQLite {
			if err := s.EnsureSchema(ctx); err != nil {
				_ = s.Close()

				return nil, err
			}
		}

		log.Info("💾 Connected to SQL store", "driver", cfg.Driver)

		return s, nil
	case DriverPayload:
		s, err := payload.Open(ctx, cfg.Payload, log)
		if err != nil {
			return nil, err
		}

		log.Info("💾 Using Payload CMS store", "url", cfg.Payload.URL)

		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrUnsupported, cfg.Driver)
	}
}
