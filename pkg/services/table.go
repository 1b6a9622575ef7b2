package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/events"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
	"github.com/ekaya-inc/ekaya-datasync/pkg/repositories"
)

// FieldDeletionGuard vetoes the deletion of a field by returning an error.
// Guards are skipped when the whole table is being deleted.
type FieldDeletionGuard func(ctx context.Context, table *models.Table, field *models.Field) error

// TableService provisions user-defined tables and their rows.
//
// The Bulk* methods are the silent write path used by the sync engine: they
// publish no row events and leave the search index alone. UpdateRows is the
// manual edit path and does both.
type TableService interface {
	// CreateEmptyTable creates table metadata without fields or storage.
	CreateEmptyTable(ctx context.Context, databaseID uuid.UUID, name string) (*models.Table, error)

	// CreateField stores field metadata with the next column order. The
	// physical column is created later by CreateStorage.
	CreateField(ctx context.Context, table *models.Table, field *models.Field) error

	// CreateStorage creates the physical table with a column for every field.
	CreateStorage(ctx context.Context, table *models.Table) error

	// AddField creates a field on a table whose storage already exists.
	AddField(ctx context.Context, table *models.Table, field *models.Field) error

	// DeleteField permanently removes a field and its column. The primary
	// field and fields protected by a guard can only go when allowPrimary is set.
	DeleteField(ctx context.Context, table *models.Table, field *models.Field, allowPrimary bool) error

	// AddDeletionGuard registers a guard consulted by DeleteField.
	AddDeletionGuard(guard FieldDeletionGuard)

	GetTable(ctx context.Context, id uuid.UUID) (*models.Table, error)
	ListFields(ctx context.Context, tableID uuid.UUID) ([]*models.Field, error)
	ListRows(ctx context.Context, table *models.Table, fields []*models.Field) ([]models.Row, error)

	BulkCreateRows(ctx context.Context, table *models.Table, fields []*models.Field, values []map[uuid.UUID]models.Value) ([]int64, error)
	BulkUpdateRows(ctx context.Context, table *models.Table, fields []*models.Field, rows []models.Row) error
	BulkDeleteRows(ctx context.Context, table *models.Table, ids []int64) error
	RefreshSearchIndex(ctx context.Context, table *models.Table) error

	// UpdateRows applies manual edits on behalf of a user. Read-only fields
	// are refused with ErrReadOnlyField.
	UpdateRows(ctx context.Context, userID, tableID uuid.UUID, rows []models.Row) error

	// DeleteTable drops the storage and the metadata of a table. Fields,
	// data syncs and property mappings cascade.
	DeleteTable(ctx context.Context, table *models.Table) error
}

type tableService struct {
	tables repositories.TableRepository
	fields repositories.FieldRepository
	rows   repositories.RowRepository
	perms  PermissionService
	bus    *events.Bus
	guards []FieldDeletionGuard
	logger *zap.Logger
}

// NewTableService creates a new table service.
func NewTableService(
	tables repositories.TableRepository,
	fields repositories.FieldRepository,
	rows repositories.RowRepository,
	perms PermissionService,
	bus *events.Bus,
	logger *zap.Logger,
) TableService {
	return &tableService{
		tables: tables,
		fields: fields,
		rows:   rows,
		perms:  perms,
		bus:    bus,
		logger: logger.Named("tables"),
	}
}

func (s *tableService) CreateEmptyTable(ctx context.Context, databaseID uuid.UUID, name string) (*models.Table, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}

	order, err := s.tables.NextOrder(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	table := &models.Table{DatabaseID: databaseID, Name: name, Order: order}
	if err := s.tables.Create(ctx, table); err != nil {
		return nil, err
	}

	// Reload for the workspace id.
	return s.tables.GetByID(ctx, table.ID)
}

func (s *tableService) CreateField(ctx context.Context, table *models.Table, field *models.Field) error {
	if !field.Type.IsValid() {
		return fmt.Errorf("unsupported field type %q", field.Type)
	}
	order, err := s.fields.NextOrder(ctx, table.ID)
	if err != nil {
		return err
	}
	field.TableID = table.ID
	field.Order = order
	return s.fields.Create(ctx, field)
}

func (s *tableService) CreateStorage(ctx context.Context, table *models.Table) error {
	fields, err := s.fields.ListByTable(ctx, table.ID)
	if err != nil {
		return err
	}
	return s.tables.CreateStorage(ctx, table, fields)
}

func (s *tableService) AddField(ctx context.Context, table *models.Table, field *models.Field) error {
	if err := s.CreateField(ctx, table, field); err != nil {
		return err
	}
	return s.fields.AddColumn(ctx, table, field)
}

func (s *tableService) DeleteField(ctx context.Context, table *models.Table, field *models.Field, allowPrimary bool) error {
	if !allowPrimary {
		if field.Primary {
			return fmt.Errorf("%w: %q", apperrors.ErrCannotDeletePrimary, field.Name)
		}
		for _, guard := range s.guards {
			if err := guard(ctx, table, field); err != nil {
				return err
			}
		}
	}

	if err := s.fields.Delete(ctx, field.ID); err != nil {
		return err
	}
	return s.fields.DropColumn(ctx, table, field)
}

func (s *tableService) AddDeletionGuard(guard FieldDeletionGuard) {
	s.guards = append(s.guards, guard)
}

func (s *tableService) GetTable(ctx context.Context, id uuid.UUID) (*models.Table, error) {
	return s.tables.GetByID(ctx, id)
}

func (s *tableService) ListFields(ctx context.Context, tableID uuid.UUID) ([]*models.Field, error) {
	return s.fields.ListByTable(ctx, tableID)
}

func (s *tableService) ListRows(ctx context.Context, table *models.Table, fields []*models.Field) ([]models.Row, error) {
	return s.rows.List(ctx, table, fields)
}

func (s *tableService) BulkCreateRows(ctx context.Context, table *models.Table, fields []*models.Field, values []map[uuid.UUID]models.Value) ([]int64, error) {
	return s.rows.BulkCreate(ctx, table, fields, values)
}

func (s *tableService) BulkUpdateRows(ctx context.Context, table *models.Table, fields []*models.Field, rows []models.Row) error {
	return s.rows.BulkUpdate(ctx, table, fields, rows)
}

func (s *tableService) BulkDeleteRows(ctx context.Context, table *models.Table, ids []int64) error {
	return s.rows.BulkDelete(ctx, table, ids)
}

func (s *tableService) RefreshSearchIndex(ctx context.Context, table *models.Table) error {
	fields, err := s.fields.ListByTable(ctx, table.ID)
	if err != nil {
		return err
	}
	return s.rows.RefreshSearchIndex(ctx, table, fields)
}

func (s *tableService) UpdateRows(ctx context.Context, userID, tableID uuid.UUID, rows []models.Row) error {
	table, err := s.tables.GetByID(ctx, tableID)
	if err != nil {
		return err
	}
	if err := s.perms.Check(ctx, userID, table.WorkspaceID, OpUpdateRows); err != nil {
		return err
	}

	fields, err := s.fields.ListByTable(ctx, table.ID)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*models.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}

	// Validate everything before the first write.
	type edit struct {
		fields []*models.Field
		row    models.Row
	}
	edits := make([]edit, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		e := edit{row: models.Row{ID: row.ID, Values: make(map[uuid.UUID]models.Value, len(row.Values))}}
		for fieldID, raw := range row.Values {
			f, ok := byID[fieldID]
			if !ok {
				return fmt.Errorf("%w: field %s", apperrors.ErrNotFound, fieldID)
			}
			if f.ReadOnly {
				return fmt.Errorf("%w: %q", apperrors.ErrReadOnlyField, f.Name)
			}
			v, err := models.NormalizeValue(f, raw)
			if err != nil {
				return fmt.Errorf("invalid value for field %q: %w", f.Name, err)
			}
			e.fields = append(e.fields, f)
			e.row.Values[fieldID] = v
		}
		edits = append(edits, e)
		ids = append(ids, row.ID)
	}

	for _, e := range edits {
		if err := s.rows.BulkUpdate(ctx, table, e.fields, []models.Row{e.row}); err != nil {
			return err
		}
	}
	if err := s.rows.RefreshSearchIndex(ctx, table, fields); err != nil {
		return err
	}

	s.bus.Publish(ctx, events.Event{Type: events.RowsUpdated, TableID: table.ID, UserID: userID, RowIDs: ids})
	return nil
}

func (s *tableService) DeleteTable(ctx context.Context, table *models.Table) error {
	if err := s.tables.DropStorage(ctx, table); err != nil {
		return err
	}
	if err := s.tables.Delete(ctx, table.ID); err != nil {
		return err
	}
	s.logger.Info("Deleted table",
		zap.String("table_id", table.ID.String()),
		zap.String("name", table.Name))
	return nil
}

var _ TableService = (*tableService)(nil)
