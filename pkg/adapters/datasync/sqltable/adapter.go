// Package sqltable mirrors a table of an external PostgreSQL or SQL Server
// database.
package sqltable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	mssql "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// Type is the registry name of the adapter.
const Type = "sql_table"

// maxDecimalPlaces caps the precision of mirrored number fields.
const maxDecimalPlaces = 10

// Column is a column of the source table.
type Column struct {
	Name         string
	DataType     string
	Scale        int
	IsPrimaryKey bool
}

// Adapter opens a short-lived connection per call. Primary key columns form
// the row identity.
type Adapter struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewAdapter creates the SQL table adapter. timeout bounds every call
// against the source database.
func NewAdapter(timeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{timeout: timeout, logger: logger.Named("sql_table")}
}

var _ datasync.Adapter = (*Adapter)(nil)

func (a *Adapter) Type() string { return Type }

func (a *Adapter) AllowedParams() []string { return allowedParams }

func (a *Adapter) ValidateParams(params map[string]any) error {
	_, err := FromMap(params)
	return err
}

func (a *Adapter) Properties(ctx context.Context, ds *models.DataSync) ([]datasync.Property, error) {
	cfg, err := FromMap(ds.Config)
	if err != nil {
		return nil, err
	}

	var columns []Column
	err = a.withDB(ctx, cfg, func(ctx context.Context, db *sql.DB) error {
		columns, err = discoverColumns(ctx, db, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, apperrors.NewSyncError("The table %s.%s doesn't exist.", cfg.Schema, cfg.Table)
	}

	properties := make([]datasync.Property, 0, len(columns))
	for _, c := range columns {
		properties = append(properties, columnProperty(c))
	}
	return properties, nil
}

func (a *Adapter) AllRows(ctx context.Context, ds *models.DataSync, keys []string) ([]map[string]any, error) {
	cfg, err := FromMap(ds.Config)
	if err != nil {
		return nil, apperrors.WrapSyncError(err, "The database connection settings are invalid.")
	}

	var rows []map[string]any
	err = a.withDB(ctx, cfg, func(ctx context.Context, db *sql.DB) error {
		columns, err := discoverColumns(ctx, db, cfg)
		if err != nil {
			return err
		}
		rows, err = selectRows(ctx, db, cfg, selectedColumns(columns, keys))
		return err
	})
	return rows, err
}

// withDB opens the source database, runs fn and closes it. Every failure
// that is not a cancellation by the caller becomes a SyncError.
func (a *Adapter) withDB(ctx context.Context, cfg *Config, fn func(ctx context.Context, db *sql.DB) error) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	db, err := sql.Open(dialectFor(cfg.Driver).driverName(), cfg.dsn())
	if err != nil {
		return apperrors.WrapSyncError(err, "Could not connect to the database.")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return a.syncError(ctx, err, "Could not connect to the database.")
	}
	if err := fn(ctx, db); err != nil {
		return a.syncError(ctx, err, "Could not read the source table.")
	}
	return nil
}

func (a *Adapter) syncError(ctx context.Context, err error, message string) error {
	if _, ok := apperrors.AsSyncError(err); ok {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.WrapSyncError(err, "The database did not respond in time.")
	}
	a.logger.Debug("Source database call failed", zap.Error(err))
	return apperrors.WrapSyncError(err, message)
}

func discoverColumns(ctx context.Context, db *sql.DB, cfg *Config) ([]Column, error) {
	rows, err := db.QueryContext(ctx, dialectFor(cfg.Driver).columnsQuery(), cfg.Schema, cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Scale, &c.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.DataType = strings.ToLower(c.DataType)
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// selectedColumns keeps the columns whose keys are enabled, in table order.
func selectedColumns(columns []Column, keys []string) []Column {
	enabled := make(map[string]bool, len(keys))
	for _, k := range keys {
		enabled[k] = true
	}
	var selected []Column
	for _, c := range columns {
		if enabled[c.Name] {
			selected = append(selected, c)
		}
	}
	return selected
}

// selectQuery builds the SELECT for the given columns. The filter has been
// checked by FromMap.
func selectQuery(cfg *Config, columns []Column) string {
	d := dialectFor(cfg.Driver)
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quote(c.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(quoted, ", "), d.quote(cfg.Schema), d.quote(cfg.Table))
	if cfg.Filter != "" {
		query += " WHERE (" + cfg.Filter + ")"
	}
	return query
}

func selectRows(ctx context.Context, db *sql.DB, cfg *Config, columns []Column) ([]map[string]any, error) {
	if len(columns) == 0 {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, selectQuery(cfg, columns))
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var result []map[string]any
	dest := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for rows.Next() {
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			row[c.Name] = convertValue(dest[i], c.DataType)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// convertValue turns a driver value into something models.NormalizeValue
// accepts.
func convertValue(v any, dataType string) any {
	switch tv := v.(type) {
	case nil, int64, float64, bool, string, time.Time:
		return tv
	case []byte:
		if dataType == "uniqueidentifier" {
			var id mssql.UniqueIdentifier
			if err := id.Scan(tv); err == nil {
				return id.String()
			}
		}
		return string(tv)
	default:
		return fmt.Sprint(tv)
	}
}

// columnProperty maps a source column to the property mirroring it.
func columnProperty(c Column) datasync.Property {
	var p datasync.Property
	switch c.DataType {
	case "smallint", "integer", "int", "bigint", "tinyint":
		p = datasync.DecimalProperty(c.Name, c.Name, 0)
	case "numeric", "decimal", "money", "smallmoney":
		p = datasync.DecimalProperty(c.Name, c.Name, min(c.Scale, maxDecimalPlaces))
	case "real", "double precision", "float":
		p = datasync.DecimalProperty(c.Name, c.Name, 5)
	case "boolean", "bit":
		p = datasync.BooleanProperty(c.Name, c.Name)
	case "date":
		p = datasync.DateProperty(c.Name, c.Name, false)
	case "timestamp without time zone", "timestamp with time zone",
		"datetime", "datetime2", "smalldatetime", "datetimeoffset":
		p = datasync.DateProperty(c.Name, c.Name, true)
	case "text", "ntext":
		p = datasync.LongTextProperty(c.Name, c.Name)
	default:
		p = datasync.TextProperty(c.Name, c.Name, false)
	}
	p.UniquePrimary = c.IsPrimaryKey
	p.Immutable = c.IsPrimaryKey
	return p
}
