package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
	"github.com/ekaya-inc/ekaya-datasync/pkg/repositories"
)

// fakeStore is an in-memory stand-in for the PostgreSQL metadata and
// dynamic tables. WithinTransaction snapshots the whole store and restores
// it when fn fails, so rollback behaviour can be asserted.
type fakeStore struct {
	roles     map[[2]uuid.UUID]string
	databases map[uuid.UUID]*models.Database
	tables    map[uuid.UUID]*models.Table
	storage   map[uuid.UUID]*fakeStorage
	fields    map[uuid.UUID]*models.Field
	syncs     map[uuid.UUID]*models.DataSync
	configs   map[uuid.UUID]string
	props     map[uuid.UUID]*models.DataSyncProperty

	// Call counters for the bulk row operations.
	createCalls  int
	updateCalls  int
	deleteCalls  int
	refreshCalls int
	updatedIDs   []int64
	isoLevels    []pgx.TxIsoLevel

	droppedColumns []uuid.UUID

	createStorageErr error
}

type fakeStorage struct {
	nextID  int64
	columns map[uuid.UUID]bool
	rows    map[int64]map[uuid.UUID]models.Value
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:     make(map[[2]uuid.UUID]string),
		databases: make(map[uuid.UUID]*models.Database),
		tables:    make(map[uuid.UUID]*models.Table),
		storage:   make(map[uuid.UUID]*fakeStorage),
		fields:    make(map[uuid.UUID]*models.Field),
		syncs:     make(map[uuid.UUID]*models.DataSync),
		configs:   make(map[uuid.UUID]string),
		props:     make(map[uuid.UUID]*models.DataSyncProperty),
	}
}

// snapshot copies everything a transaction may change.
type fakeSnapshot struct {
	tables  map[uuid.UUID]models.Table
	storage map[uuid.UUID]fakeStorage
	fields  map[uuid.UUID]models.Field
	syncs   map[uuid.UUID]models.DataSync
	configs map[uuid.UUID]string
	props   map[uuid.UUID]models.DataSyncProperty
}

func (s *fakeStore) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		tables:  make(map[uuid.UUID]models.Table),
		storage: make(map[uuid.UUID]fakeStorage),
		fields:  make(map[uuid.UUID]models.Field),
		syncs:   make(map[uuid.UUID]models.DataSync),
		configs: make(map[uuid.UUID]string),
		props:   make(map[uuid.UUID]models.DataSyncProperty),
	}
	for k, v := range s.tables {
		snap.tables[k] = *v
	}
	for k, v := range s.storage {
		c := fakeStorage{nextID: v.nextID, columns: make(map[uuid.UUID]bool), rows: make(map[int64]map[uuid.UUID]models.Value)}
		for col := range v.columns {
			c.columns[col] = true
		}
		for id, row := range v.rows {
			c.rows[id] = copyValues(row)
		}
		snap.storage[k] = c
	}
	for k, v := range s.fields {
		snap.fields[k] = *v
	}
	for k, v := range s.syncs {
		snap.syncs[k] = *v
	}
	for k, v := range s.configs {
		snap.configs[k] = v
	}
	for k, v := range s.props {
		snap.props[k] = *v
	}
	return snap
}

func (s *fakeStore) restore(snap fakeSnapshot) {
	s.tables = make(map[uuid.UUID]*models.Table)
	for k, v := range snap.tables {
		s.tables[k] = &v
	}
	s.storage = make(map[uuid.UUID]*fakeStorage)
	for k, v := range snap.storage {
		s.storage[k] = &v
	}
	s.fields = make(map[uuid.UUID]*models.Field)
	for k, v := range snap.fields {
		s.fields[k] = &v
	}
	s.syncs = make(map[uuid.UUID]*models.DataSync)
	for k, v := range snap.syncs {
		s.syncs[k] = &v
	}
	s.configs = snap.configs
	s.props = make(map[uuid.UUID]*models.DataSyncProperty)
	for k, v := range snap.props {
		s.props[k] = &v
	}
}

func copyValues(values map[uuid.UUID]models.Value) map[uuid.UUID]models.Value {
	c := make(map[uuid.UUID]models.Value, len(values))
	for k, v := range values {
		c[k] = v
	}
	return c
}

func (s *fakeStore) WithinTransaction(ctx context.Context, isoLevel pgx.TxIsoLevel, fn func(ctx context.Context) error) error {
	s.isoLevels = append(s.isoLevels, isoLevel)
	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *fakeStore) resetCounters() {
	s.createCalls, s.updateCalls, s.deleteCalls, s.refreshCalls = 0, 0, 0, 0
	s.updatedIDs = nil
}

func (s *fakeStore) fieldsOf(tableID uuid.UUID) []*models.Field {
	var fields []*models.Field
	for _, f := range s.fields {
		if f.TableID == tableID {
			c := *f
			fields = append(fields, &c)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Order < fields[j].Order })
	return fields
}

func (s *fakeStore) rowsOf(tableID uuid.UUID) map[int64]map[uuid.UUID]models.Value {
	st, ok := s.storage[tableID]
	if !ok {
		return nil
	}
	return st.rows
}

// --- workspaces ---

type fakeWorkspaceRepo struct{ s *fakeStore }

func (r fakeWorkspaceRepo) Create(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == uuid.Nil {
		ws.ID = uuid.New()
	}
	return nil
}

func (r fakeWorkspaceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	return &models.Workspace{ID: id}, nil
}

func (r fakeWorkspaceRepo) AddUser(ctx context.Context, workspaceID, userID uuid.UUID, role string) error {
	r.s.roles[[2]uuid.UUID{workspaceID, userID}] = role
	return nil
}

func (r fakeWorkspaceRepo) GetUserRole(ctx context.Context, workspaceID, userID uuid.UUID) (string, error) {
	role, ok := r.s.roles[[2]uuid.UUID{workspaceID, userID}]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return role, nil
}

func (r fakeWorkspaceRepo) CreateDatabase(ctx context.Context, db *models.Database) error {
	if db.ID == uuid.Nil {
		db.ID = uuid.New()
	}
	c := *db
	r.s.databases[db.ID] = &c
	return nil
}

func (r fakeWorkspaceRepo) GetDatabase(ctx context.Context, id uuid.UUID) (*models.Database, error) {
	db, ok := r.s.databases[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *db
	return &c, nil
}

// --- tables ---

type fakeTableRepo struct{ s *fakeStore }

func (r fakeTableRepo) Create(ctx context.Context, table *models.Table) error {
	db, ok := r.s.databases[table.DatabaseID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if table.ID == uuid.Nil {
		table.ID = uuid.New()
	}
	c := *table
	c.WorkspaceID = db.WorkspaceID
	r.s.tables[table.ID] = &c
	return nil
}

func (r fakeTableRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Table, error) {
	t, ok := r.s.tables[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r fakeTableRepo) NextOrder(ctx context.Context, databaseID uuid.UUID) (int, error) {
	order := 1
	for _, t := range r.s.tables {
		if t.DatabaseID == databaseID && t.Order >= order {
			order = t.Order + 1
		}
	}
	return order, nil
}

func (r fakeTableRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.s.tables[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.tables, id)
	for fid, f := range r.s.fields {
		if f.TableID == id {
			delete(r.s.fields, fid)
			r.s.cascadeField(fid)
		}
	}
	for sid, ds := range r.s.syncs {
		if ds.TableID == id {
			delete(r.s.syncs, sid)
			delete(r.s.configs, sid)
		}
	}
	return nil
}

func (r fakeTableRepo) CreateStorage(ctx context.Context, table *models.Table, fields []*models.Field) error {
	if r.s.createStorageErr != nil {
		return r.s.createStorageErr
	}
	st := &fakeStorage{columns: make(map[uuid.UUID]bool), rows: make(map[int64]map[uuid.UUID]models.Value)}
	for _, f := range fields {
		st.columns[f.ID] = true
	}
	r.s.storage[table.ID] = st
	return nil
}

func (r fakeTableRepo) DropStorage(ctx context.Context, table *models.Table) error {
	delete(r.s.storage, table.ID)
	return nil
}

// --- fields ---

type fakeFieldRepo struct{ s *fakeStore }

func (r fakeFieldRepo) Create(ctx context.Context, field *models.Field) error {
	for _, f := range r.s.fields {
		if f.TableID == field.TableID && (f.Name == field.Name || (f.Primary && field.Primary)) {
			return apperrors.ErrConflict
		}
	}
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	field.CreatedAt = time.Now()
	c := *field
	r.s.fields[field.ID] = &c
	return nil
}

func (r fakeFieldRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Field, error) {
	f, ok := r.s.fields[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (r fakeFieldRepo) ListByTable(ctx context.Context, tableID uuid.UUID) ([]*models.Field, error) {
	return r.s.fieldsOf(tableID), nil
}

func (r fakeFieldRepo) NextOrder(ctx context.Context, tableID uuid.UUID) (int, error) {
	order := 0
	for _, f := range r.s.fields {
		if f.TableID == tableID && f.Order >= order {
			order = f.Order + 1
		}
	}
	return order, nil
}

func (r fakeFieldRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.s.fields[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.fields, id)
	r.s.cascadeField(id)
	return nil
}

func (s *fakeStore) cascadeField(fieldID uuid.UUID) {
	for pid, p := range s.props {
		if p.FieldID == fieldID {
			delete(s.props, pid)
		}
	}
}

func (r fakeFieldRepo) AddColumn(ctx context.Context, table *models.Table, field *models.Field) error {
	st, ok := r.s.storage[table.ID]
	if !ok {
		return errors.New("storage does not exist")
	}
	st.columns[field.ID] = true
	return nil
}

func (r fakeFieldRepo) DropColumn(ctx context.Context, table *models.Table, field *models.Field) error {
	st, ok := r.s.storage[table.ID]
	if !ok {
		return errors.New("storage does not exist")
	}
	delete(st.columns, field.ID)
	r.s.droppedColumns = append(r.s.droppedColumns, field.ID)
	for _, row := range st.rows {
		delete(row, field.ID)
	}
	return nil
}

// --- rows ---

type fakeRowRepo struct{ s *fakeStore }

func (r fakeRowRepo) List(ctx context.Context, table *models.Table, fields []*models.Field) ([]models.Row, error) {
	st, ok := r.s.storage[table.ID]
	if !ok {
		return nil, errors.New("storage does not exist")
	}
	ids := make([]int64, 0, len(st.rows))
	for id := range st.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]models.Row, 0, len(ids))
	for _, id := range ids {
		row := models.Row{ID: id, Values: make(map[uuid.UUID]models.Value, len(fields))}
		for _, f := range fields {
			row.Values[f.ID] = st.rows[id][f.ID]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r fakeRowRepo) BulkCreate(ctx context.Context, table *models.Table, fields []*models.Field, values []map[uuid.UUID]models.Value) ([]int64, error) {
	r.s.createCalls++
	st := r.s.storage[table.ID]
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		st.nextID++
		row := make(map[uuid.UUID]models.Value, len(fields))
		for _, f := range fields {
			row[f.ID] = v[f.ID]
		}
		st.rows[st.nextID] = row
		ids = append(ids, st.nextID)
	}
	return ids, nil
}

func (r fakeRowRepo) BulkUpdate(ctx context.Context, table *models.Table, fields []*models.Field, rows []models.Row) error {
	r.s.updateCalls++
	st := r.s.storage[table.ID]
	for _, row := range rows {
		existing, ok := st.rows[row.ID]
		if !ok {
			return apperrors.ErrNotFound
		}
		for _, f := range fields {
			existing[f.ID] = row.Values[f.ID]
		}
		r.s.updatedIDs = append(r.s.updatedIDs, row.ID)
	}
	return nil
}

func (r fakeRowRepo) BulkDelete(ctx context.Context, table *models.Table, ids []int64) error {
	r.s.deleteCalls++
	st := r.s.storage[table.ID]
	for _, id := range ids {
		delete(st.rows, id)
	}
	return nil
}

func (r fakeRowRepo) RefreshSearchIndex(ctx context.Context, table *models.Table, fields []*models.Field) error {
	r.s.refreshCalls++
	return nil
}

// --- data syncs ---

type fakeDataSyncRepo struct{ s *fakeStore }

func (r fakeDataSyncRepo) Create(ctx context.Context, ds *models.DataSync, encryptedConfig string) error {
	for _, existing := range r.s.syncs {
		if existing.TableID == ds.TableID {
			return apperrors.ErrConflict
		}
	}
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	c := *ds
	c.Config = nil
	r.s.syncs[ds.ID] = &c
	r.s.configs[ds.ID] = encryptedConfig
	return nil
}

func (r fakeDataSyncRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DataSync, string, error) {
	ds, ok := r.s.syncs[id]
	if !ok {
		return nil, "", apperrors.ErrNotFound
	}
	c := *ds
	return &c, r.s.configs[id], nil
}

func (r fakeDataSyncRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.DataSync, string, error) {
	return r.GetByID(ctx, id)
}

func (r fakeDataSyncRepo) GetByTableID(ctx context.Context, tableID uuid.UUID) (*models.DataSync, string, error) {
	for id, ds := range r.s.syncs {
		if ds.TableID == tableID {
			return r.GetByID(ctx, id)
		}
	}
	return nil, "", apperrors.ErrNotFound
}

func (r fakeDataSyncRepo) List(ctx context.Context) ([]*models.DataSync, []string, error) {
	var syncs []*models.DataSync
	var configs []string
	for id, ds := range r.s.syncs {
		c := *ds
		syncs = append(syncs, &c)
		configs = append(configs, r.s.configs[id])
	}
	return syncs, configs, nil
}

func (r fakeDataSyncRepo) SetLastError(ctx context.Context, id uuid.UUID, message string) error {
	ds, ok := r.s.syncs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ds.LastError = &message
	return nil
}

func (r fakeDataSyncRepo) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	ds, ok := r.s.syncs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ds.LastSync = &at
	ds.LastError = nil
	return nil
}

func (r fakeDataSyncRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.s.syncs, id)
	delete(r.s.configs, id)
	return nil
}

func (r fakeDataSyncRepo) CreateProperty(ctx context.Context, p *models.DataSyncProperty) error {
	for _, existing := range r.s.props {
		if existing.DataSyncID == p.DataSyncID && existing.Key == p.Key {
			return apperrors.ErrConflict
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	c := *p
	r.s.props[p.ID] = &c
	return nil
}

func (r fakeDataSyncRepo) ListProperties(ctx context.Context, dataSyncID uuid.UUID) ([]*models.DataSyncProperty, error) {
	var props []*models.DataSyncProperty
	for _, p := range r.s.props {
		if p.DataSyncID == dataSyncID {
			c := *p
			props = append(props, &c)
		}
	}
	order := func(p *models.DataSyncProperty) int {
		if f, ok := r.s.fields[p.FieldID]; ok {
			return f.Order
		}
		return -1
	}
	sort.Slice(props, func(i, j int) bool { return order(props[i]) < order(props[j]) })
	return props, nil
}

func (r fakeDataSyncRepo) DeleteProperty(ctx context.Context, id uuid.UUID) error {
	delete(r.s.props, id)
	return nil
}

var (
	_ repositories.WorkspaceRepository = fakeWorkspaceRepo{}
	_ repositories.TableRepository     = fakeTableRepo{}
	_ repositories.FieldRepository     = fakeFieldRepo{}
	_ repositories.RowRepository       = fakeRowRepo{}
	_ repositories.DataSyncRepository  = fakeDataSyncRepo{}
	_ Transactor                       = (*fakeStore)(nil)
)
