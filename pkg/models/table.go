package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Table is a user-defined table. Its rows live in a dynamically created
// PostgreSQL table named by StorageName.
type Table struct {
	ID          uuid.UUID `json:"id"`
	DatabaseID  uuid.UUID `json:"database_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"` // denormalized from the database
	Name        string    `json:"name"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StorageName is the physical table holding this table's rows.
func (t *Table) StorageName() string {
	return "database_table_" + compactID(t.ID)
}

func compactID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
