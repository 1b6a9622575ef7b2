package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
	"github.com/ekaya-inc/ekaya-datasync/pkg/repositories"
)

// Operation names an action checked against a workspace role.
type Operation string

const (
	OpCreateTable Operation = "database.create_table"
	OpReadTable   Operation = "database.table.read"
	OpUpdateTable Operation = "database.table.update"
	OpDeleteTable Operation = "database.table.delete"
	OpSyncTable   Operation = "database.table.sync"
	OpReadRows    Operation = "database.table.read_rows"
	OpUpdateRows  Operation = "database.table.update_rows"
)

// rolePolicy lists the operations each role may perform beyond the ones
// granted to every structural role.
var rolePolicy = map[string]map[Operation]bool{
	models.RoleEditor: {OpReadTable: true, OpReadRows: true, OpUpdateRows: true},
	models.RoleViewer: {OpReadTable: true, OpReadRows: true},
}

// PermissionService decides what a workspace member may do.
type PermissionService interface {
	// Check returns ErrPermissionDenied unless the user may perform op in the workspace.
	Check(ctx context.Context, userID, workspaceID uuid.UUID, op Operation) error

	// CanReadRows reports whether the user may read the rows of a table.
	CanReadRows(ctx context.Context, userID uuid.UUID, table *models.Table) (bool, error)
}

type permissionService struct {
	workspaces repositories.WorkspaceRepository
	logger     *zap.Logger
}

// NewPermissionService creates a role based permission service.
func NewPermissionService(workspaces repositories.WorkspaceRepository, logger *zap.Logger) PermissionService {
	return &permissionService{
		workspaces: workspaces,
		logger:     logger.Named("permissions"),
	}
}

func (s *permissionService) Check(ctx context.Context, userID, workspaceID uuid.UUID, op Operation) error {
	allowed, err := s.allowed(ctx, userID, workspaceID, op)
	if err != nil {
		return err
	}
	if !allowed {
		s.logger.Debug("Permission denied",
			zap.String("user_id", userID.String()),
			zap.String("workspace_id", workspaceID.String()),
			zap.String("operation", string(op)))
		return fmt.Errorf("%w: %s", apperrors.ErrPermissionDenied, op)
	}
	return nil
}

func (s *permissionService) CanReadRows(ctx context.Context, userID uuid.UUID, table *models.Table) (bool, error) {
	return s.allowed(ctx, userID, table.WorkspaceID, OpReadRows)
}

func (s *permissionService) allowed(ctx context.Context, userID, workspaceID uuid.UUID, op Operation) (bool, error) {
	role, err := s.workspaces.GetUserRole(ctx, workspaceID, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve role: %w", err)
	}

	switch role {
	case models.RoleAdmin, models.RoleBuilder:
		return true, nil
	}
	return rolePolicy[role][op], nil
}

var _ PermissionService = (*permissionService)(nil)
