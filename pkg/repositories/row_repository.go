package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-datasync/pkg/database"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// RowRepository reads and writes the rows of a dynamically created table.
// Rows are addressed by storage id and carry values keyed by field id; only
// the given fields are read or written.
type RowRepository interface {
	// List returns every row of the table ordered by id, projecting the given fields.
	List(ctx context.Context, table *models.Table, fields []*models.Field) ([]models.Row, error)

	// BulkCreate inserts rows in one batch and returns their new ids in input order.
	BulkCreate(ctx context.Context, table *models.Table, fields []*models.Field, values []map[uuid.UUID]models.Value) ([]int64, error)

	// BulkUpdate rewrites the given fields of each row in one batch.
	BulkUpdate(ctx context.Context, table *models.Table, fields []*models.Field, rows []models.Row) error

	// BulkDelete removes rows by id.
	BulkDelete(ctx context.Context, table *models.Table, ids []int64) error

	// RefreshSearchIndex rebuilds the search vector of every row from the
	// table's searchable fields.
	RefreshSearchIndex(ctx context.Context, table *models.Table, fields []*models.Field) error
}

type rowRepository struct {
	db *database.DB
}

// NewRowRepository creates a new row repository.
func NewRowRepository(db *database.DB) RowRepository {
	return &rowRepository{db: db}
}

func (r *rowRepository) List(ctx context.Context, table *models.Table, fields []*models.Field) ([]models.Row, error) {
	columns := []string{"id"}
	for _, f := range fields {
		columns = append(columns, pgx.Identifier{f.ColumnName()}.Sanitize())
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id",
		strings.Join(columns, ", "), pgx.Identifier{table.StorageName()}.Sanitize())

	rows, err := r.db.Conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows of table %s: %w", table.ID, err)
	}
	defer rows.Close()

	var result []models.Row
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		id, ok := raw[0].(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected row id type %T", raw[0])
		}
		row := models.Row{ID: id, Values: make(map[uuid.UUID]models.Value, len(fields))}
		for i, f := range fields {
			stored, err := fromDB(raw[i+1])
			if err != nil {
				return nil, fmt.Errorf("failed to read field %q of row %d: %w", f.Name, id, err)
			}
			v, err := models.NormalizeValue(f, stored)
			if err != nil {
				return nil, fmt.Errorf("failed to read field %q of row %d: %w", f.Name, id, err)
			}
			row.Values[f.ID] = v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

func (r *rowRepository) BulkCreate(ctx context.Context, table *models.Table, fields []*models.Field, values []map[uuid.UUID]models.Value) ([]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}

	name := pgx.Identifier{table.StorageName()}.Sanitize()
	var query string
	if len(fields) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", name)
	} else {
		columns := make([]string, len(fields))
		placeholders := make([]string, len(fields))
		for i, f := range fields {
			columns[i] = pgx.Identifier{f.ColumnName()}.Sanitize()
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	}

	batch := &pgx.Batch{}
	for _, v := range values {
		args := make([]any, len(fields))
		for i, f := range fields {
			args[i] = dbValue(f, v[f.ID])
		}
		batch.Queue(query, args...)
	}

	results := r.db.Conn(ctx).SendBatch(ctx, batch)
	defer results.Close()

	ids := make([]int64, 0, len(values))
	for range values {
		var id int64
		if err := results.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to create row in table %s: %w", table.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *rowRepository) BulkUpdate(ctx context.Context, table *models.Table, fields []*models.Field, rows []models.Row) error {
	if len(rows) == 0 || len(fields) == 0 {
		return nil
	}

	assignments := make([]string, len(fields))
	for i, f := range fields {
		assignments[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{f.ColumnName()}.Sanitize(), i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		pgx.Identifier{table.StorageName()}.Sanitize(), strings.Join(assignments, ", "), len(fields)+1)

	batch := &pgx.Batch{}
	for _, row := range rows {
		args := make([]any, 0, len(fields)+1)
		for _, f := range fields {
			args = append(args, dbValue(f, row.Values[f.ID]))
		}
		args = append(args, row.ID)
		batch.Queue(query, args...)
	}

	results := r.db.Conn(ctx).SendBatch(ctx, batch)
	defer results.Close()

	for _, row := range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to update row %d in table %s: %w", row.ID, table.ID, err)
		}
	}
	return nil
}

func (r *rowRepository) BulkDelete(ctx context.Context, table *models.Table, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", pgx.Identifier{table.StorageName()}.Sanitize())
	if _, err := r.db.Conn(ctx).Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("failed to delete rows from table %s: %w", table.ID, err)
	}
	return nil
}

func (r *rowRepository) RefreshSearchIndex(ctx context.Context, table *models.Table, fields []*models.Field) error {
	var parts []string
	for _, f := range fields {
		if f.Searchable() {
			parts = append(parts, pgx.Identifier{f.ColumnName()}.Sanitize())
		}
	}

	document := "''"
	if len(parts) > 0 {
		document = "concat_ws(' ', " + strings.Join(parts, ", ") + ")"
	}
	query := fmt.Sprintf("UPDATE %s SET search_vector = to_tsvector('simple', %s)",
		pgx.Identifier{table.StorageName()}.Sanitize(), document)

	if _, err := r.db.Conn(ctx).Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to refresh search index of table %s: %w", table.ID, err)
	}
	return nil
}

// dbValue converts a normalized value to something pgx encodes for the
// field's column.
func dbValue(f *models.Field, v models.Value) any {
	switch tv := v.(type) {
	case nil:
		if f.Type == models.FieldTypeBoolean {
			return false
		}
		return nil
	case civil.Date:
		return tv.In(time.UTC)
	case decimal.Decimal:
		return pgtype.Numeric{Int: tv.Coefficient(), Exp: tv.Exponent(), Valid: true}
	default:
		return tv
	}
}

// fromDB converts a value decoded by pgx into one models.NormalizeValue
// accepts. numeric columns decode to pgtype.Numeric.
func fromDB(v any) (any, error) {
	n, ok := v.(pgtype.Numeric)
	if !ok {
		return v, nil
	}
	switch {
	case !n.Valid:
		return nil, nil
	case n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil:
		return nil, fmt.Errorf("numeric value is not a finite number")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// Ensure rowRepository implements RowRepository at compile time.
var _ RowRepository = (*rowRepository)(nil)
