package repositories

import (
	"context"
	"encoding/json"
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

// FieldRepository defines data access for fields and their physical columns.
type FieldRepository interface {
	// Create inserts field metadata. Returns ErrConflict when the name is taken
	// in the table or a second primary field is created.
	Create(ctx context.Context, field *models.Field) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Field, error)

	// ListByTable returns the fields of a table in display order.
	ListByTable(ctx context.Context, tableID uuid.UUID) ([]*models.Field, error)

	// NextOrder returns the order for a new field in the table.
	NextOrder(ctx context.Context, tableID uuid.UUID) (int, error)

	// Delete removes the metadata. A data sync property bound to the field cascades.
	Delete(ctx context.Context, id uuid.UUID) error

	// AddColumn adds the field's column to an existing physical table.
	AddColumn(ctx context.Context, table *models.Table, field *models.Field) error

	// DropColumn removes the field's column from the physical table.
	DropColumn(ctx context.Context, table *models.Table, field *models.Field) error
}

type fieldRepository struct {
	db *database.DB
}

// NewFieldRepository creates a new field repository.
func NewFieldRepository(db *database.DB) FieldRepository {
	return &fieldRepository{db: db}
}

const fieldColumns = `id, table_id, name, type, "order", is_primary, read_only, options, created_at`

func (r *fieldRepository) Create(ctx context.Context, field *models.Field) error {
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	field.CreatedAt = time.Now()

	options, err := json.Marshal(field.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal field options: %w", err)
	}

	query := `INSERT INTO fields (` + fieldColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.db.Conn(ctx).Exec(ctx, query,
		field.ID, field.TableID, field.Name, string(field.Type), field.Order,
		field.Primary, field.ReadOnly, options, field.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: field %q", apperrors.ErrConflict, field.Name)
		}
		return fmt.Errorf("failed to create field: %w", err)
	}
	return nil
}

func (r *fieldRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Field, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id = $1`, id)
	f, err := scanField(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	return f, nil
}

func (r *fieldRepository) ListByTable(ctx context.Context, tableID uuid.UUID) ([]*models.Field, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+fieldColumns+` FROM fields WHERE table_id = $1 ORDER BY "order", created_at`, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer rows.Close()

	var fields []*models.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fields: %w", err)
	}
	return fields, nil
}

func (r *fieldRepository) NextOrder(ctx context.Context, tableID uuid.UUID) (int, error) {
	var order int
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX("order"), -1) + 1 FROM fields WHERE table_id = $1`, tableID).
		Scan(&order)
	if err != nil {
		return 0, fmt.Errorf("failed to get next field order: %w", err)
	}
	return order, nil
}

func (r *fieldRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM fields WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete field: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *fieldRepository) AddColumn(ctx context.Context, table *models.Table, field *models.Field) error {
	ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		pgx.Identifier{table.StorageName()}.Sanitize(),
		pgx.Identifier{field.ColumnName()}.Sanitize(),
		field.SQLType())
	if _, err := r.db.Conn(ctx).Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to add column for field %s: %w", field.ID, err)
	}
	return nil
}

func (r *fieldRepository) DropColumn(ctx context.Context, table *models.Table, field *models.Field) error {
	ddl := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s",
		pgx.Identifier{table.StorageName()}.Sanitize(),
		pgx.Identifier{field.ColumnName()}.Sanitize())
	if _, err := r.db.Conn(ctx).Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to drop column for field %s: %w", field.ID, err)
	}
	return nil
}

func scanField(row pgx.Row) (*models.Field, error) {
	var f models.Field
	var fieldType string
	var options []byte
	if err := row.Scan(&f.ID, &f.TableID, &f.Name, &fieldType, &f.Order,
		&f.Primary, &f.ReadOnly, &options, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Type = models.FieldType(fieldType)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &f.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options of field %s: %w", f.ID, err)
		}
	}
	return &f, nil
}

// Ensure fieldRepository implements FieldRepository at compile time.
var _ FieldRepository = (*fieldRepository)(nil)
