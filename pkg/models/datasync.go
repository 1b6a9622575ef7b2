package models

import (
	"time"

	"github.com/google/uuid"
)

// DataSync is one configured synchronization of an external source into a table.
// Config holds the adapter parameters; it is encrypted at rest by the service layer.
type DataSync struct {
	ID        uuid.UUID      `json:"id" yaml:"id"`
	TableID   uuid.UUID      `json:"table_id" yaml:"table_id"`
	Type      string         `json:"type" yaml:"type"` // "ical_calendar", "github_issues", ...
	Config    map[string]any `json:"config" yaml:"config"`
	LastSync  *time.Time     `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	LastError *string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

// StringParam returns a string adapter parameter, or "" when unset.
func (d *DataSync) StringParam(key string) string {
	if v, ok := d.Config[key].(string); ok {
		return v
	}
	return ""
}

// DataSyncProperty binds one property key of a data sync to the field
// mirroring it.
type DataSyncProperty struct {
	ID            uuid.UUID `json:"id" yaml:"-"`
	DataSyncID    uuid.UUID `json:"data_sync_id" yaml:"-"`
	FieldID       uuid.UUID `json:"field_id" yaml:"field_id"`
	Key           string    `json:"key" yaml:"key"`
	UniquePrimary bool      `json:"unique_primary" yaml:"unique_primary"`
	// Immutable is informational; see datasync.Property.
	Immutable bool `json:"immutable" yaml:"immutable"`
}
