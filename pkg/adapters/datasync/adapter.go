// Package datasync defines the contract every data sync source implements
// and the registry the sync engine looks adapters up in.
package datasync

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// Adapter is one kind of external source (calendar feed, issue tracker,
// another table, ...).
type Adapter interface {
	// Type is the stable name the adapter is registered under.
	Type() string

	// AllowedParams lists the configuration keys persisted for this type.
	AllowedParams() []string

	// ValidateParams checks the adapter parameters before anything is persisted.
	ValidateParams(params map[string]any) error

	// Properties returns the full property catalogue for the configuration.
	// It must include at least one UniquePrimary property.
	Properties(ctx context.Context, ds *models.DataSync) ([]Property, error)

	// AllRows fetches the complete current row set, keyed by property key.
	// Only the given keys need to be present. Failures talking to the source
	// are reported as *apperrors.SyncError.
	AllRows(ctx context.Context, ds *models.DataSync, keys []string) ([]map[string]any, error)
}

// ValuesPreparer is implemented by adapters that derive parameters from the
// principal creating the data sync.
type ValuesPreparer interface {
	PrepareValues(ctx context.Context, userID uuid.UUID, params map[string]any) (map[string]any, error)
}
