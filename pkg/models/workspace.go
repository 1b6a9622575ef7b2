package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace groups databases and the users allowed to work on them.
type Workspace struct {
	ID        uuid.UUID `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// WorkspaceUser represents a user's membership in a workspace.
type WorkspaceUser struct {
	WorkspaceID uuid.UUID `json:"workspace_id" yaml:"workspace_id"`
	UserID      uuid.UUID `json:"user_id" yaml:"user_id"`
	Role        string    `json:"role" yaml:"role"` // 'admin', 'builder', 'editor', 'viewer'
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Role constants for workspace membership, strongest first.
const (
	RoleAdmin   = "admin"
	RoleBuilder = "builder"
	RoleEditor  = "editor"
	RoleViewer  = "viewer"
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleAdmin, RoleBuilder, RoleEditor, RoleViewer}

// IsValidRole checks if the given role is valid.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Database is a container of tables inside a workspace.
type Database struct {
	ID          uuid.UUID `json:"id" yaml:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id" yaml:"workspace_id"`
	Name        string    `json:"name" yaml:"name"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}
