// Package storage provides the persistence backends for the governance engine.
// The memory backend serves tests and dry runs; durable state lives in the
// sqlite subpackage.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/storage/sqlite"
)

// Supported storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open returns the store selected by driver.
func Open(ctx context.Context, driver, path string) (domain.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, "":
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}
