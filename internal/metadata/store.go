// Package metadata persists dataset definitions and the catalog's last
// update time.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soltixdb/gridcat/internal/config"
	"github.com/soltixdb/gridcat/internal/models"
)

// ErrNoDefinitions is returned by LoadDefinitions when nothing has been saved
// yet, as opposed to an empty saved catalog
var ErrNoDefinitions = errors.New("no saved dataset definitions")

// Store persists the catalog state
type Store interface {
	// LoadDefinitions returns the saved definitions in their saved order
	LoadDefinitions(ctx context.Context) ([]models.DatasetDefinition, error)
	// SaveDefinitions replaces all saved definitions
	SaveDefinitions(ctx context.Context, defs []models.DatasetDefinition) error

	// LastUpdateTime returns the time of the last successful refresh of any
	// dataset, zero if none was recorded
	LastUpdateTime(ctx context.Context) (time.Time, error)
	SetLastUpdateTime(ctx context.Context, t time.Time) error

	Close() error
}

// NewStore creates the store selected by cfg.Store.Backend
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.GetDataPath(cfg.Store.File)), nil
	case "etcd":
		return NewEtcdStore(EtcdOptions{
			Endpoints:   cfg.Etcd.Endpoints,
			Prefix:      cfg.Etcd.Prefix,
			DialTimeout: cfg.Etcd.DialTimeout,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
		})
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func cloneDefinitions(defs []models.DatasetDefinition) []models.DatasetDefinition {
	if defs == nil {
		return nil
	}
	return append(make([]models.DatasetDefinition, 0, len(defs)), defs...)
}
