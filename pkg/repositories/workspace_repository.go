package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/database"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// WorkspaceRepository defines data access for workspaces, their members and databases.
type WorkspaceRepository interface {
	Create(ctx context.Context, ws *models.Workspace) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)

	// AddUser adds a member or changes the role of an existing one.
	AddUser(ctx context.Context, workspaceID, userID uuid.UUID, role string) error

	// GetUserRole returns the member's role. Returns ErrNotFound for non-members.
	GetUserRole(ctx context.Context, workspaceID, userID uuid.UUID) (string, error)

	CreateDatabase(ctx context.Context, db *models.Database) error
	GetDatabase(ctx context.Context, id uuid.UUID) (*models.Database, error)
}

type workspaceRepository struct {
	db *database.DB
}

// NewWorkspaceRepository creates a new workspace repository.
func NewWorkspaceRepository(db *database.DB) WorkspaceRepository {
	return &workspaceRepository{db: db}
}

func (r *workspaceRepository) Create(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == uuid.Nil {
		ws.ID = uuid.New()
	}
	ws.CreatedAt = time.Now()

	_, err := r.db.Conn(ctx).Exec(ctx,
		`INSERT INTO workspaces (id, name, created_at) VALUES ($1, $2, $3)`,
		ws.ID, ws.Name, ws.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (r *workspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	var ws models.Workspace
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT id, name, created_at FROM workspaces WHERE id = $1`, id).
		Scan(&ws.ID, &ws.Name, &ws.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

func (r *workspaceRepository) AddUser(ctx context.Context, workspaceID, userID uuid.UUID, role string) error {
	if !models.IsValidRole(role) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidRole, role)
	}

	query := `
		INSERT INTO workspace_users (workspace_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`

	if _, err := r.db.Conn(ctx).Exec(ctx, query, workspaceID, userID, role, time.Now()); err != nil {
		return fmt.Errorf("failed to add workspace user: %w", err)
	}
	return nil
}

func (r *workspaceRepository) GetUserRole(ctx context.Context, workspaceID, userID uuid.UUID) (string, error) {
	var role string
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT role FROM workspace_users WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to get workspace role: %w", err)
	}
	return role, nil
}

func (r *workspaceRepository) CreateDatabase(ctx context.Context, db *models.Database) error {
	if db.ID == uuid.Nil {
		db.ID = uuid.New()
	}
	db.CreatedAt = time.Now()

	_, err := r.db.Conn(ctx).Exec(ctx,
		`INSERT INTO databases (id, workspace_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		db.ID, db.WorkspaceID, db.Name, db.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}

func (r *workspaceRepository) GetDatabase(ctx context.Context, id uuid.UUID) (*models.Database, error) {
	var db models.Database
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT id, workspace_id, name, created_at FROM databases WHERE id = $1`, id).
		Scan(&db.ID, &db.WorkspaceID, &db.Name, &db.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	return &db, nil
}

// Ensure workspaceRepository implements WorkspaceRepository at compile time.
var _ WorkspaceRepository = (*workspaceRepository)(nil)
