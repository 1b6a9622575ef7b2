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

// DataSyncRepository defines data access for data syncs and their property
// mappings. The config column holds the encrypted adapter parameters; the
// repository never sees them in plain text.
type DataSyncRepository interface {
	Create(ctx context.Context, ds *models.DataSync, encryptedConfig string) error

	// GetByID returns the data sync and its encrypted config.
	GetByID(ctx context.Context, id uuid.UUID) (*models.DataSync, string, error)

	// GetForUpdate is GetByID taking a row lock held until the enclosing
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.DataSync, string, error)

	GetByTableID(ctx context.Context, tableID uuid.UUID) (*models.DataSync, string, error)

	// List returns every data sync with its encrypted config, oldest first.
	List(ctx context.Context) ([]*models.DataSync, []string, error)

	// SetLastError records a failed sync. The last successful sync time is kept.
	SetLastError(ctx context.Context, id uuid.UUID, message string) error

	// MarkSynced records a successful sync and clears the last error.
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error

	Delete(ctx context.Context, id uuid.UUID) error

	CreateProperty(ctx context.Context, p *models.DataSyncProperty) error

	// ListProperties returns the mappings in the order of their fields.
	ListProperties(ctx context.Context, dataSyncID uuid.UUID) ([]*models.DataSyncProperty, error)

	DeleteProperty(ctx context.Context, id uuid.UUID) error
}

type dataSyncRepository struct {
	db *database.DB
}

// NewDataSyncRepository creates a new data sync repository.
func NewDataSyncRepository(db *database.DB) DataSyncRepository {
	return &dataSyncRepository{db: db}
}

const dataSyncColumns = `id, table_id, type, config, last_sync, last_error, created_at, updated_at`

func (r *dataSyncRepository) Create(ctx context.Context, ds *models.DataSync, encryptedConfig string) error {
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	query := `INSERT INTO data_syncs (` + dataSyncColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Conn(ctx).Exec(ctx, query,
		ds.ID, ds.TableID, ds.Type, encryptedConfig, ds.LastSync, ds.LastError, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: table %s already has a data sync", apperrors.ErrConflict, ds.TableID)
		}
		return fmt.Errorf("failed to create data sync: %w", err)
	}
	return nil
}

func (r *dataSyncRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DataSync, string, error) {
	return r.get(ctx, `SELECT `+dataSyncColumns+` FROM data_syncs WHERE id = $1`, id)
}

func (r *dataSyncRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.DataSync, string, error) {
	return r.get(ctx, `SELECT `+dataSyncColumns+` FROM data_syncs WHERE id = $1 FOR UPDATE`, id)
}

func (r *dataSyncRepository) GetByTableID(ctx context.Context, tableID uuid.UUID) (*models.DataSync, string, error) {
	return r.get(ctx, `SELECT `+dataSyncColumns+` FROM data_syncs WHERE table_id = $1`, tableID)
}

func (r *dataSyncRepository) get(ctx context.Context, query string, arg any) (*models.DataSync, string, error) {
	ds, config, err := scanDataSync(r.db.Conn(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get data sync: %w", err)
	}
	return ds, config, nil
}

func (r *dataSyncRepository) List(ctx context.Context) ([]*models.DataSync, []string, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT `+dataSyncColumns+` FROM data_syncs ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list data syncs: %w", err)
	}
	defer rows.Close()

	var syncs []*models.DataSync
	var configs []string
	for rows.Next() {
		ds, config, err := scanDataSync(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan data sync: %w", err)
		}
		syncs = append(syncs, ds)
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating data syncs: %w", err)
	}
	return syncs, configs, nil
}

func (r *dataSyncRepository) SetLastError(ctx context.Context, id uuid.UUID, message string) error {
	result, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE data_syncs SET last_error = $2, updated_at = $3 WHERE id = $1`, id, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set data sync last error: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSyncRepository) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE data_syncs SET last_sync = $2, last_error = NULL, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark data sync synced: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSyncRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM data_syncs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete data sync: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSyncRepository) CreateProperty(ctx context.Context, p *models.DataSyncProperty) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	query := `
		INSERT INTO data_sync_properties (id, data_sync_id, field_id, key, unique_primary, immutable)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Conn(ctx).Exec(ctx, query,
		p.ID, p.DataSyncID, p.FieldID, p.Key, p.UniquePrimary, p.Immutable)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: property %q already mapped", apperrors.ErrConflict, p.Key)
		}
		return fmt.Errorf("failed to create data sync property: %w", err)
	}
	return nil
}

func (r *dataSyncRepository) ListProperties(ctx context.Context, dataSyncID uuid.UUID) ([]*models.DataSyncProperty, error) {
	query := `
		SELECT p.id, p.data_sync_id, p.field_id, p.key, p.unique_primary, p.immutable
		FROM data_sync_properties p
		JOIN fields f ON f.id = p.field_id
		WHERE p.data_sync_id = $1
		ORDER BY f."order", f.created_at`

	rows, err := r.db.Conn(ctx).Query(ctx, query, dataSyncID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sync properties: %w", err)
	}
	defer rows.Close()

	var properties []*models.DataSyncProperty
	for rows.Next() {
		var p models.DataSyncProperty
		if err := rows.Scan(&p.ID, &p.DataSyncID, &p.FieldID, &p.Key, &p.UniquePrimary, &p.Immutable); err != nil {
			return nil, fmt.Errorf("failed to scan data sync property: %w", err)
		}
		properties = append(properties, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating data sync properties: %w", err)
	}
	return properties, nil
}

func (r *dataSyncRepository) DeleteProperty(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM data_sync_properties WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete data sync property: %w", err)
	}
	return nil
}

func scanDataSync(row pgx.Row) (*models.DataSync, string, error) {
	var ds models.DataSync
	var config string
	if err := row.Scan(&ds.ID, &ds.TableID, &ds.Type, &config,
		&ds.LastSync, &ds.LastError, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, "", err
	}
	return &ds, config, nil
}

// Ensure dataSyncRepository implements DataSyncRepository at compile time.
var _ DataSyncRepository = (*dataSyncRepository)(nil)
