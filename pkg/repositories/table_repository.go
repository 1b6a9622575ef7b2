package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/database"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// TableRepository defines data access for user-defined table metadata and
// the physical tables holding their rows.
type TableRepository interface {
	// Create inserts table metadata. The physical table is created separately
	// by CreateStorage.
	Create(ctx context.Context, table *models.Table) error

	// GetByID returns the table with its workspace. Returns ErrNotFound if missing.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Table, error)

	// NextOrder returns the order for a new table in the database.
	NextOrder(ctx context.Context, databaseID uuid.UUID) (int, error)

	// Delete removes the metadata; fields, data syncs and properties cascade.
	Delete(ctx context.Context, id uuid.UUID) error

	// CreateStorage creates the physical table with a column per field in
	// one DDL statement.
	CreateStorage(ctx context.Context, table *models.Table, fields []*models.Field) error

	// DropStorage drops the physical table.
	DropStorage(ctx context.Context, table *models.Table) error
}

type tableRepository struct {
	db *database.DB
}

// NewTableRepository creates a new table repository.
func NewTableRepository(db *database.DB) TableRepository {
	return &tableRepository{db: db}
}

func (r *tableRepository) Create(ctx context.Context, table *models.Table) error {
	if table.ID == uuid.Nil {
		table.ID = uuid.New()
	}
	now := time.Now()
	table.CreatedAt = now
	table.UpdatedAt = now

	query := `
		INSERT INTO tables (id, database_id, name, "order", created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Conn(ctx).Exec(ctx, query,
		table.ID, table.DatabaseID, table.Name, table.Order, table.CreatedAt, table.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: database %s", apperrors.ErrNotFound, table.DatabaseID)
		}
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (r *tableRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Table, error) {
	query := `
		SELECT t.id, t.database_id, d.workspace_id, t.name, t."order", t.created_at, t.updated_at
		FROM tables t
		JOIN databases d ON d.id = t.database_id
		WHERE t.id = $1`

	var t models.Table
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&t.ID, &t.DatabaseID, &t.WorkspaceID, &t.Name, &t.Order, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get table: %w", err)
	}
	return &t, nil
}

func (r *tableRepository) NextOrder(ctx context.Context, databaseID uuid.UUID) (int, error) {
	var order int
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX("order"), 0) + 1 FROM tables WHERE database_id = $1`, databaseID).
		Scan(&order)
	if err != nil {
		return 0, fmt.Errorf("failed to get next table order: %w", err)
	}
	return order, nil
}

func (r *tableRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM tables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *tableRepository) CreateStorage(ctx context.Context, table *models.Table, fields []*models.Field) error {
	name := pgx.Identifier{table.StorageName()}.Sanitize()

	columns := []string{
		"id BIGSERIAL PRIMARY KEY",
		"search_vector tsvector",
	}
	for _, f := range fields {
		columns = append(columns, pgx.Identifier{f.ColumnName()}.Sanitize()+" "+f.SQLType())
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(columns, ", "))
	if _, err := r.db.Conn(ctx).Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create storage for table %s: %w", table.ID, err)
	}

	index := pgx.Identifier{"idx_" + table.StorageName() + "_search"}.Sanitize()
	if _, err := r.db.Conn(ctx).Exec(ctx,
		fmt.Sprintf("CREATE INDEX %s ON %s USING gin (search_vector)", index, name)); err != nil {
		return fmt.Errorf("failed to create search index for table %s: %w", table.ID, err)
	}
	return nil
}

func (r *tableRepository) DropStorage(ctx context.Context, table *models.Table) error {
	ddl := "DROP TABLE IF EXISTS " + pgx.Identifier{table.StorageName()}.Sanitize()
	if _, err := r.db.Conn(ctx).Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to drop storage for table %s: %w", table.ID, err)
	}
	return nil
}

// Ensure tableRepository implements TableRepository at compile time.
var _ TableRepository = (*tableRepository)(nil)
