package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/vitos/trade_engine/internal/domain"
)

// Store is a position repository that owns a database handle.
type Store interface {
	domain.PositionRepository
	Close() error
}

// Open returns the position store for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}
