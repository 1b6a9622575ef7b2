package localtable

import (
	"context"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

type mockTableSource struct {
	table        *models.Table
	fields       []*models.Field
	rows         []models.Row
	listedFields []*models.Field
}

func (m *mockTableSource) GetTable(ctx context.Context, id uuid.UUID) (*models.Table, error) {
	if m.table == nil || m.table.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return m.table, nil
}

func (m *mockTableSource) ListFields(ctx context.Context, tableID uuid.UUID) ([]*models.Field, error) {
	return m.fields, nil
}

func (m *mockTableSource) ListRows(ctx context.Context, table *models.Table, fields []*models.Field) ([]models.Row, error) {
	m.listedFields = fields
	return m.rows, nil
}

type mockReadChecker struct {
	allowed bool
}

func (m *mockReadChecker) CanReadRows(ctx context.Context, userID uuid.UUID, table *models.Table) (bool, error) {
	return m.allowed, nil
}

func setup() (*mockTableSource, *models.Field, *models.Field) {
	name := &models.Field{ID: uuid.New(), Name: "Name", Type: models.FieldTypeText}
	due := &models.Field{ID: uuid.New(), Name: "Due", Type: models.FieldTypeDate}
	src := &mockTableSource{
		table:  &models.Table{ID: uuid.New(), Name: "Source"},
		fields: []*models.Field{name, due},
		rows: []models.Row{
			{ID: 1, Values: map[uuid.UUID]models.Value{name.ID: "a", due.ID: civil.Date{Year: 2024, Month: 1, Day: 2}}},
			{ID: 2, Values: map[uuid.UUID]models.Value{name.ID: "b"}},
		},
	}
	return src, name, due
}

func dataSyncFor(tableID uuid.UUID) *models.DataSync {
	return &models.DataSync{Type: Type, Config: map[string]any{
		paramSourceTable:    tableID.String(),
		paramAuthorizedUser: uuid.New().String(),
	}}
}

func TestAdapter_Properties(t *testing.T) {
	src, name, due := setup()
	a := NewAdapter(src, &mockReadChecker{allowed: true})

	props, err := datasync.Properties(context.Background(), a, dataSyncFor(src.table.ID))
	require.NoError(t, err)
	require.Len(t, props, 3)

	assert.Equal(t, "id", props[0].Key)
	assert.True(t, props[0].UniquePrimary)
	assert.True(t, props[0].Immutable)
	assert.Equal(t, FieldKey(name.ID), props[1].Key)
	assert.Equal(t, models.FieldTypeText, props[1].Field().Type)
	assert.Equal(t, FieldKey(due.ID), props[2].Key)
	assert.True(t, props[2].Immutable)
}

func TestAdapter_AllRows_OnlyEnabledKeys(t *testing.T) {
	src, name, due := setup()
	a := NewAdapter(src, &mockReadChecker{allowed: true})

	rows, err := a.AllRows(context.Background(), dataSyncFor(src.table.ID), []string{"id", FieldKey(name.ID)})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, src.listedFields, 1)

	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "a", rows[0][FieldKey(name.ID)])
	_, hasDue := rows[0][FieldKey(due.ID)]
	assert.False(t, hasDue)
}

func TestAdapter_MissingTable(t *testing.T) {
	src, _, _ := setup()
	a := NewAdapter(src, &mockReadChecker{allowed: true})

	_, err := a.AllRows(context.Background(), dataSyncFor(uuid.New()), nil)
	syncErr, ok := apperrors.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, "The source table doesn't exist.", syncErr.Message)
}

func TestAdapter_NoReadAccess(t *testing.T) {
	src, _, _ := setup()
	a := NewAdapter(src, &mockReadChecker{allowed: false})

	_, err := a.Properties(context.Background(), dataSyncFor(src.table.ID))
	syncErr, ok := apperrors.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, "The authorized user doesn't have access to the table.", syncErr.Message)
}

func TestAdapter_PrepareValues(t *testing.T) {
	a := NewAdapter(&mockTableSource{}, &mockReadChecker{})
	user := uuid.New()
	in := map[string]any{paramSourceTable: "x", paramAuthorizedUser: "forged"}

	out, err := a.PrepareValues(context.Background(), user, in)
	require.NoError(t, err)
	assert.Equal(t, user.String(), out[paramAuthorizedUser])
	assert.Equal(t, "forged", in[paramAuthorizedUser])
}
