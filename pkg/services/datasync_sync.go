package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/events"
	"github.com/ekaya-inc/ekaya-datasync/pkg/logging"
	"github.com/ekaya-inc/ekaya-datasync/pkg/metrics"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// sync brings the table of a data sync in line with its source. The read
// and the writes share one repeatable read transaction holding a row lock on
// the data sync. A SyncError rolls the transaction back and is recorded in
// last_error by a second transaction; the call then returns normally.
func (s *dataSyncService) sync(ctx context.Context, userID, id uuid.UUID) (*models.DataSync, error) {
	started := time.Now()
	if s.metrics != nil {
		s.metrics.RunningSyncs.Inc()
		defer s.metrics.RunningSyncs.Dec()
	}

	var (
		ds    *models.DataSync
		table *models.Table
		plan  *syncPlan
	)
	dsType := "unknown"

	err := s.tx.WithinTransaction(ctx, pgx.RepeatableRead, func(ctx context.Context) error {
		var encrypted string
		var err error
		ds, encrypted, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		dsType = ds.Type
		if ds.Config, err = s.decryptConfig(encrypted); err != nil {
			return err
		}
		table, err = s.tables.GetTable(ctx, ds.TableID)
		if err != nil {
			return err
		}

		columns, identity, err := s.enabledColumns(ctx, ds, table)
		if err != nil {
			return err
		}

		fields := make([]*models.Field, len(columns))
		keys := make([]string, len(columns))
		for i, c := range columns {
			fields[i] = c.field
			keys[i] = c.property.Key
		}

		existing, err := s.tables.ListRows(ctx, table, fields)
		if err != nil {
			return err
		}

		adapter, err := s.registry.Get(ds.Type)
		if err != nil {
			return err
		}
		incoming, err := adapter.AllRows(ctx, ds, keys)
		if err != nil {
			return err
		}

		plan, err = planSync(columns, identity, existing, incoming)
		if err != nil {
			return err
		}
		if plan.duplicates > 0 {
			s.logger.Warn("Source returned duplicate identities, keeping the last row",
				zap.String("data_sync_id", ds.ID.String()),
				zap.Int("duplicates", plan.duplicates))
		}

		if err := s.apply(ctx, table, fields, plan); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := s.repo.MarkSynced(ctx, ds.ID, now); err != nil {
			return err
		}
		ds.LastSync = &now
		ds.LastError = nil
		return nil
	})

	if err != nil {
		syncErr, ok := apperrors.AsSyncError(err)
		if !ok {
			s.metrics.ObserveSync(dsType, metrics.OutcomeFailure, started, 0, 0, 0)
			return nil, err
		}
		s.metrics.ObserveSync(dsType, metrics.OutcomeSyncErr, started, 0, 0, 0)
		return s.recordSyncError(ctx, id, syncErr)
	}

	s.logger.Info("Synced table",
		zap.String("data_sync_id", ds.ID.String()),
		zap.String("type", ds.Type),
		zap.Int("created", len(plan.creates)),
		zap.Int("updated", len(plan.updates)),
		zap.Int("deleted", len(plan.deletes)),
		zap.Duration("duration", time.Since(started)))
	s.metrics.ObserveSync(ds.Type, metrics.OutcomeSuccess, started,
		len(plan.creates), len(plan.updates), len(plan.deletes))

	s.bus.Publish(ctx, events.Event{Type: events.TableUpdated, TableID: table.ID, UserID: userID, ForceRefresh: true})
	return ds, nil
}

// enabledColumns pairs every mapping with its property and field. Mappings
// whose property left the catalogue are skipped; a missing identity is a
// schema error.
func (s *dataSyncService) enabledColumns(ctx context.Context, ds *models.DataSync, table *models.Table) ([]syncColumn, []syncColumn, error) {
	adapter, err := s.registry.Get(ds.Type)
	if err != nil {
		return nil, nil, err
	}
	catalogue, err := datasync.Properties(ctx, adapter, ds)
	if err != nil {
		return nil, nil, err
	}
	byKey := datasync.ByKey(catalogue)

	mappings, err := s.repo.ListProperties(ctx, ds.ID)
	if err != nil {
		return nil, nil, err
	}
	fields, err := s.tables.ListFields(ctx, table.ID)
	if err != nil {
		return nil, nil, err
	}
	fieldsByID := fieldIndex(fields)

	var columns []syncColumn
	columnsByKey := make(map[string]syncColumn, len(mappings))
	for _, m := range mappings {
		p, ok := byKey[m.Key]
		if !ok {
			s.logger.Warn("Mapped property no longer offered by the source",
				zap.String("data_sync_id", ds.ID.String()),
				zap.String("key", m.Key))
			continue
		}
		field, ok := fieldsByID[m.FieldID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: property %q has no field", apperrors.ErrSchema, m.Key)
		}
		c := syncColumn{property: p, field: field}
		columns = append(columns, c)
		columnsByKey[m.Key] = c
	}

	var identity []syncColumn
	for _, key := range datasync.IdentityKeys(catalogue) {
		c, ok := columnsByKey[key]
		if !ok {
			return nil, nil, fmt.Errorf("%w: identity property %q is not mapped", apperrors.ErrSchema, key)
		}
		identity = append(identity, c)
	}
	return columns, identity, nil
}

// apply writes the plan with the silent bulk operations, then refreshes the
// search index once.
func (s *dataSyncService) apply(ctx context.Context, table *models.Table, fields []*models.Field, plan *syncPlan) error {
	if plan.empty() {
		return nil
	}
	if len(plan.creates) > 0 {
		if _, err := s.tables.BulkCreateRows(ctx, table, fields, plan.creates); err != nil {
			return err
		}
	}
	if len(plan.updates) > 0 {
		if err := s.tables.BulkUpdateRows(ctx, table, fields, plan.updates); err != nil {
			return err
		}
	}
	if len(plan.deletes) > 0 {
		if err := s.tables.BulkDeleteRows(ctx, table, plan.deletes); err != nil {
			return err
		}
	}
	return s.tables.RefreshSearchIndex(ctx, table)
}

func (s *dataSyncService) recordSyncError(ctx context.Context, id uuid.UUID, syncErr *apperrors.SyncError) (*models.DataSync, error) {
	message := logging.SanitizeMessage(syncErr.Message)
	s.logger.Warn("Sync failed",
		zap.String("data_sync_id", id.String()),
		zap.String("message", message),
		zap.String("cause", logging.SanitizeError(syncErr.Err)))

	err := s.tx.WithinTransaction(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		return s.repo.SetLastError(ctx, id, message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record sync error: %w", err)
	}
	return s.GetDataSync(ctx, id)
}
