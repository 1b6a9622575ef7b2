// Package localtable mirrors another table of the same installation.
package localtable

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// Type is the registry name of the adapter.
const Type = "local_baserow_table"

const (
	paramSourceTable    = "source_table_id"
	paramAuthorizedUser = "authorized_user_id"
)

// TableSource reads tables, their fields and their rows.
type TableSource interface {
	GetTable(ctx context.Context, id uuid.UUID) (*models.Table, error)
	ListFields(ctx context.Context, tableID uuid.UUID) ([]*models.Field, error)
	ListRows(ctx context.Context, table *models.Table, fields []*models.Field) ([]models.Row, error)
}

// ReadChecker decides whether a user may read the rows of a table.
type ReadChecker interface {
	CanReadRows(ctx context.Context, userID uuid.UUID, table *models.Table) (bool, error)
}

type params struct {
	SourceTableID string `json:"source_table_id" validate:"required,uuid"`
}

// Adapter reads the source table on behalf of the user that created the
// data sync.
type Adapter struct {
	tables TableSource
	perms  ReadChecker
}

// NewAdapter creates the local table adapter.
func NewAdapter(tables TableSource, perms ReadChecker) *Adapter {
	return &Adapter{tables: tables, perms: perms}
}

var (
	_ datasync.Adapter        = (*Adapter)(nil)
	_ datasync.ValuesPreparer = (*Adapter)(nil)
)

func (a *Adapter) Type() string { return Type }

func (a *Adapter) AllowedParams() []string {
	return []string{paramSourceTable, paramAuthorizedUser}
}

func (a *Adapter) ValidateParams(p map[string]any) error {
	return datasync.DecodeParams(p, &params{})
}

// PrepareValues binds the data sync to the creating user. Every later sync
// reads the source table with that user's permissions.
func (a *Adapter) PrepareValues(ctx context.Context, userID uuid.UUID, p map[string]any) (map[string]any, error) {
	prepared := make(map[string]any, len(p)+1)
	for k, v := range p {
		prepared[k] = v
	}
	prepared[paramAuthorizedUser] = userID.String()
	return prepared, nil
}

// FieldKey is the property key of a source field.
func FieldKey(fieldID uuid.UUID) string {
	return "field_" + fieldID.String()
}

func (a *Adapter) Properties(ctx context.Context, ds *models.DataSync) ([]datasync.Property, error) {
	table, err := a.sourceTable(ctx, ds)
	if err != nil {
		return nil, err
	}
	fields, err := a.tables.ListFields(ctx, table.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source fields: %w", err)
	}

	rowID := datasync.NumberProperty("id", "Row ID", true)
	rowID.Immutable = true
	properties := []datasync.Property{rowID}

	for _, f := range fields {
		properties = append(properties, fieldProperty(f))
	}
	return properties, nil
}

// fieldProperty mirrors a source field into a field of the same type and options.
func fieldProperty(source *models.Field) datasync.Property {
	p := datasync.Property{
		Key:       FieldKey(source.ID),
		Name:      source.Name,
		Immutable: true,
		NewField: func(name string) *models.Field {
			return &models.Field{Name: name, Type: source.Type, Options: source.Options}
		},
	}
	if source.Type == models.FieldTypeDate {
		p.Equal = models.CompareDate
	}
	return p
}

func (a *Adapter) AllRows(ctx context.Context, ds *models.DataSync, keys []string) ([]map[string]any, error) {
	table, err := a.sourceTable(ctx, ds)
	if err != nil {
		return nil, err
	}
	fields, err := a.tables.ListFields(ctx, table.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source fields: %w", err)
	}

	enabled := make(map[string]bool, len(keys))
	for _, k := range keys {
		enabled[k] = true
	}
	var selected []*models.Field
	for _, f := range fields {
		if enabled[FieldKey(f.ID)] {
			selected = append(selected, f)
		}
	}

	rows, err := a.tables.ListRows(ctx, table, selected)
	if err != nil {
		return nil, fmt.Errorf("failed to read source rows: %w", err)
	}

	result := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]any, len(selected)+1)
		out["id"] = row.ID
		for _, f := range selected {
			out[FieldKey(f.ID)] = row.Values[f.ID]
		}
		result = append(result, out)
	}
	return result, nil
}

func (a *Adapter) sourceTable(ctx context.Context, ds *models.DataSync) (*models.Table, error) {
	tableID, err := uuid.Parse(ds.StringParam(paramSourceTable))
	if err != nil {
		return nil, apperrors.NewSyncError("The source table doesn't exist.")
	}
	table, err := a.tables.GetTable(ctx, tableID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NewSyncError("The source table doesn't exist.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source table: %w", err)
	}

	userID, err := uuid.Parse(ds.StringParam(paramAuthorizedUser))
	if err != nil {
		return nil, apperrors.NewSyncError("The authorized user doesn't have access to the table.")
	}
	ok, err := a.perms.CanReadRows(ctx, userID, table)
	if err != nil {
		return nil, fmt.Errorf("failed to check source table permissions: %w", err)
	}
	if !ok {
		return nil, apperrors.NewSyncError("The authorized user doesn't have access to the table.")
	}
	return table, nil
}
