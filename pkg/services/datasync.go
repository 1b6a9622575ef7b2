package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/crypto"
	"github.com/ekaya-inc/ekaya-datasync/pkg/events"
	"github.com/ekaya-inc/ekaya-datasync/pkg/metrics"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
	"github.com/ekaya-inc/ekaya-datasync/pkg/repositories"
)

// Transactor opens scoped transactions. *database.DB implements it.
type Transactor interface {
	WithinTransaction(ctx context.Context, isoLevel pgx.TxIsoLevel, fn func(ctx context.Context) error) error
}

// DataSyncService provisions synced tables and reconciles them with their source.
type DataSyncService interface {
	// ListProperties returns the property catalogue of a type for parameters
	// that have not been saved yet.
	ListProperties(ctx context.Context, userID uuid.UUID, dsType string, params map[string]any) ([]datasync.Property, error)

	// CreateDataSyncTable creates a table mirroring the visible properties.
	// Identity properties are always included, ahead of the requested ones.
	CreateDataSyncTable(ctx context.Context, userID, databaseID uuid.UUID, dsType string, visible []string, tableName string, params map[string]any) (*models.DataSync, error)

	// SetVisibleProperties adds and removes columns so that exactly the
	// requested properties, plus the identity, are mirrored.
	SetVisibleProperties(ctx context.Context, userID, id uuid.UUID, visible []string) (*models.DataSync, error)

	// SyncDataSyncTable reconciles the table with the source on behalf of a user.
	SyncDataSyncTable(ctx context.Context, userID, id uuid.UUID) (*models.DataSync, error)

	// AuthorizeSync checks that the user may sync the data sync.
	AuthorizeSync(ctx context.Context, userID, id uuid.UUID) error

	// RunSync reconciles without a principal. Used by scheduled jobs.
	RunSync(ctx context.Context, id uuid.UUID) (*models.DataSync, error)

	GetDataSync(ctx context.Context, id uuid.UUID) (*models.DataSync, error)
	ListDataSyncs(ctx context.Context) ([]*models.DataSync, error)

	// GetProperties returns the property mappings in field order.
	GetProperties(ctx context.Context, id uuid.UUID) ([]*models.DataSyncProperty, error)

	// DeleteDataSyncTable deletes the synced table with its data sync.
	DeleteDataSyncTable(ctx context.Context, userID, id uuid.UUID) error
}

type dataSyncService struct {
	tx         Transactor
	repo       repositories.DataSyncRepository
	workspaces repositories.WorkspaceRepository
	tables     TableService
	perms      PermissionService
	registry   *datasync.Registry
	encryptor  *crypto.ConfigEncryptor
	bus        *events.Bus
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewDataSyncService creates the data sync service and registers its field
// deletion guard with the table service.
func NewDataSyncService(
	tx Transactor,
	repo repositories.DataSyncRepository,
	workspaces repositories.WorkspaceRepository,
	tables TableService,
	perms PermissionService,
	registry *datasync.Registry,
	encryptor *crypto.ConfigEncryptor,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) DataSyncService {
	s := &dataSyncService{
		tx:         tx,
		repo:       repo,
		workspaces: workspaces,
		tables:     tables,
		perms:      perms,
		registry:   registry,
		encryptor:  encryptor,
		bus:        bus,
		metrics:    m,
		logger:     logger.Named("datasync"),
	}
	tables.AddDeletionGuard(s.guardIdentityField)
	return s
}

func (s *dataSyncService) ListProperties(ctx context.Context, userID uuid.UUID, dsType string, params map[string]any) ([]datasync.Property, error) {
	adapter, err := s.registry.Get(dsType)
	if err != nil {
		return nil, err
	}
	ds, err := s.prepare(ctx, adapter, userID, params)
	if err != nil {
		return nil, err
	}
	return datasync.Properties(ctx, adapter, ds)
}

// prepare builds an unsaved data sync from user supplied parameters.
func (s *dataSyncService) prepare(ctx context.Context, adapter datasync.Adapter, userID uuid.UUID, params map[string]any) (*models.DataSync, error) {
	if params == nil {
		params = map[string]any{}
	}
	if preparer, ok := adapter.(datasync.ValuesPreparer); ok {
		prepared, err := preparer.PrepareValues(ctx, userID, params)
		if err != nil {
			return nil, err
		}
		params = prepared
	}
	params = datasync.ExtractAllowed(adapter, params)
	if err := adapter.ValidateParams(params); err != nil {
		return nil, err
	}
	return &models.DataSync{Type: adapter.Type(), Config: params}, nil
}

func (s *dataSyncService) CreateDataSyncTable(ctx context.Context, userID, databaseID uuid.UUID, dsType string, visible []string, tableName string, params map[string]any) (*models.DataSync, error) {
	db, err := s.workspaces.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := s.perms.Check(ctx, userID, db.WorkspaceID, OpCreateTable); err != nil {
		return nil, err
	}

	adapter, err := s.registry.Get(dsType)
	if err != nil {
		return nil, err
	}
	ds, err := s.prepare(ctx, adapter, userID, params)
	if err != nil {
		return nil, err
	}

	catalogue, err := datasync.Properties(ctx, adapter, ds)
	if err != nil {
		return nil, err
	}
	properties, err := selectProperties(catalogue, visible)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.encryptor.EncryptConfig(ds.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt data sync config: %w", err)
	}

	var table *models.Table
	err = s.tx.WithinTransaction(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		table, err = s.tables.CreateEmptyTable(ctx, databaseID, tableName)
		if err != nil {
			return err
		}

		ds.TableID = table.ID
		if err := s.repo.Create(ctx, ds, encrypted); err != nil {
			return err
		}

		hasPrimary := false
		for _, p := range properties {
			field := p.Field()
			field.ReadOnly = true
			if p.UniquePrimary && !hasPrimary {
				field.Primary = true
				hasPrimary = true
			}
			if err := s.tables.CreateField(ctx, table, field); err != nil {
				return fmt.Errorf("failed to create field for property %q: %w", p.Key, err)
			}
			if err := s.createMapping(ctx, ds, p, field); err != nil {
				return err
			}
		}
		if !hasPrimary {
			return apperrors.ErrNoUniqueIdentity
		}

		return s.tables.CreateStorage(ctx, table)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created synced table",
		zap.String("data_sync_id", ds.ID.String()),
		zap.String("table_id", table.ID.String()),
		zap.String("type", ds.Type),
		zap.Int("properties", len(properties)))

	s.bus.Publish(ctx, events.Event{Type: events.TableCreated, TableID: table.ID, UserID: userID})
	return ds, nil
}

func (s *dataSyncService) createMapping(ctx context.Context, ds *models.DataSync, p datasync.Property, field *models.Field) error {
	return s.repo.CreateProperty(ctx, &models.DataSyncProperty{
		DataSyncID:    ds.ID,
		FieldID:       field.ID,
		Key:           p.Key,
		UniquePrimary: p.UniquePrimary,
		Immutable:     p.Immutable,
	})
}

// selectProperties returns the identity properties missing from visible in
// declared order, followed by the visible properties in requested order.
func selectProperties(catalogue []datasync.Property, visible []string) ([]datasync.Property, error) {
	byKey := datasync.ByKey(catalogue)
	requested := make(map[string]bool, len(visible))
	for _, key := range visible {
		if _, ok := byKey[key]; !ok {
			return nil, fmt.Errorf("%w: %q", apperrors.ErrPropertyNotFound, key)
		}
		requested[key] = true
	}

	var selected []datasync.Property
	for _, p := range catalogue {
		if p.UniquePrimary && !requested[p.Key] {
			selected = append(selected, p)
		}
	}
	seen := make(map[string]bool, len(visible))
	for _, key := range visible {
		if seen[key] {
			continue
		}
		seen[key] = true
		selected = append(selected, byKey[key])
	}
	return selected, nil
}

func (s *dataSyncService) SetVisibleProperties(ctx context.Context, userID, id uuid.UUID, visible []string) (*models.DataSync, error) {
	var ds *models.DataSync
	var table *models.Table
	added, removed := 0, 0

	err := s.tx.WithinTransaction(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		var encrypted string
		var err error
		ds, encrypted, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		table, err = s.tables.GetTable(ctx, ds.TableID)
		if err != nil {
			return err
		}
		if err := s.perms.Check(ctx, userID, table.WorkspaceID, OpUpdateTable); err != nil {
			return err
		}
		if ds.Config, err = s.decryptConfig(encrypted); err != nil {
			return err
		}

		adapter, err := s.registry.Get(ds.Type)
		if err != nil {
			return err
		}
		catalogue, err := datasync.Properties(ctx, adapter, ds)
		if err != nil {
			return err
		}
		properties, err := selectProperties(catalogue, visible)
		if err != nil {
			return err
		}

		mappings, err := s.repo.ListProperties(ctx, ds.ID)
		if err != nil {
			return err
		}
		mapped := make(map[string]*models.DataSyncProperty, len(mappings))
		for _, m := range mappings {
			mapped[m.Key] = m
		}
		wanted := make(map[string]bool, len(properties))
		for _, p := range properties {
			wanted[p.Key] = true
		}

		for _, p := range properties {
			if _, ok := mapped[p.Key]; ok {
				continue
			}
			field := p.Field()
			field.ReadOnly = true
			if err := s.tables.AddField(ctx, table, field); err != nil {
				return fmt.Errorf("failed to add field for property %q: %w", p.Key, err)
			}
			if err := s.createMapping(ctx, ds, p, field); err != nil {
				return err
			}
			added++
		}

		fields, err := s.tables.ListFields(ctx, table.ID)
		if err != nil {
			return err
		}
		fieldsByID := fieldIndex(fields)
		for _, m := range mappings {
			if wanted[m.Key] {
				continue
			}
			if field, ok := fieldsByID[m.FieldID]; ok {
				if err := s.tables.DeleteField(ctx, table, field, false); err != nil {
					return err
				}
			}
			if err := s.repo.DeleteProperty(ctx, m.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if added > 0 || removed > 0 {
		s.logger.Info("Updated visible properties",
			zap.String("data_sync_id", ds.ID.String()),
			zap.Int("added", added),
			zap.Int("removed", removed))
		s.bus.Publish(ctx, events.Event{Type: events.TableUpdated, TableID: table.ID, UserID: userID, ForceRefresh: true})
	}
	return ds, nil
}

// guardIdentityField keeps columns backing identity properties from being
// deleted on their own.
func (s *dataSyncService) guardIdentityField(ctx context.Context, table *models.Table, field *models.Field) error {
	ds, _, err := s.repo.GetByTableID(ctx, table.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	mappings, err := s.repo.ListProperties(ctx, ds.ID)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if m.FieldID == field.ID && m.UniquePrimary {
			return fmt.Errorf("%w: %q backs identity property %q", apperrors.ErrCannotDeletePrimary, field.Name, m.Key)
		}
	}
	return nil
}

func (s *dataSyncService) AuthorizeSync(ctx context.Context, userID, id uuid.UUID) error {
	ds, _, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	table, err := s.tables.GetTable(ctx, ds.TableID)
	if err != nil {
		return err
	}
	return s.perms.Check(ctx, userID, table.WorkspaceID, OpSyncTable)
}

func (s *dataSyncService) SyncDataSyncTable(ctx context.Context, userID, id uuid.UUID) (*models.DataSync, error) {
	if err := s.AuthorizeSync(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.sync(ctx, userID, id)
}

func (s *dataSyncService) RunSync(ctx context.Context, id uuid.UUID) (*models.DataSync, error) {
	return s.sync(ctx, uuid.Nil, id)
}

func (s *dataSyncService) GetDataSync(ctx context.Context, id uuid.UUID) (*models.DataSync, error) {
	ds, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ds.Config, err = s.decryptConfig(encrypted); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *dataSyncService) ListDataSyncs(ctx context.Context) ([]*models.DataSync, error) {
	syncs, encrypted, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, ds := range syncs {
		if ds.Config, err = s.decryptConfig(encrypted[i]); err != nil {
			return nil, fmt.Errorf("data sync %s: %w", ds.ID, err)
		}
	}
	return syncs, nil
}

func (s *dataSyncService) GetProperties(ctx context.Context, id uuid.UUID) ([]*models.DataSyncProperty, error) {
	return s.repo.ListProperties(ctx, id)
}

func (s *dataSyncService) DeleteDataSyncTable(ctx context.Context, userID, id uuid.UUID) error {
	var table *models.Table
	err := s.tx.WithinTransaction(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		ds, _, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		table, err = s.tables.GetTable(ctx, ds.TableID)
		if err != nil {
			return err
		}
		if err := s.perms.Check(ctx, userID, table.WorkspaceID, OpDeleteTable); err != nil {
			return err
		}

		// The primary and identity fields go too, which only the allowance
		// permits. Their property mappings cascade with them.
		fields, err := s.tables.ListFields(ctx, table.ID)
		if err != nil {
			return err
		}
		for _, field := range fields {
			if err := s.tables.DeleteField(ctx, table, field, true); err != nil {
				return fmt.Errorf("failed to delete field %q: %w", field.Name, err)
			}
		}
		return s.tables.DeleteTable(ctx, table)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Deleted synced table",
		zap.String("data_sync_id", id.String()),
		zap.String("table_id", table.ID.String()))
	s.bus.Publish(ctx, events.Event{Type: events.TableDeleted, TableID: table.ID, UserID: userID})
	return nil
}

func (s *dataSyncService) decryptConfig(encrypted string) (map[string]any, error) {
	config, err := s.encryptor.DecryptConfig(encrypted)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
		}
		return nil, err
	}
	return config, nil
}

func fieldIndex(fields []*models.Field) map[uuid.UUID]*models.Field {
	m := make(map[uuid.UUID]*models.Field, len(fields))
	for _, f := range fields {
		m[f.ID] = f
	}
	return m
}

var _ DataSyncService = (*dataSyncService)(nil)
