package sqltable

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// dialect holds what differs between the supported source databases.
type dialect interface {
	driverName() string
	quote(identifier string) string
	columnsQuery() string
}

func dialectFor(driver string) dialect {
	if driver == DriverSQLServer {
		return sqlServerDialect{}
	}
	return postgresDialect{}
}

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "pgx" }

func (postgresDialect) quote(identifier string) string {
	return pgx.Identifier{identifier}.Sanitize()
}

// Primary key detection goes through pg_index so composite keys and keys
// created as plain unique indexes by ORMs are both found.
func (postgresDialect) columnsQuery() string {
	return `
		SELECT
			c.column_name,
			c.data_type,
			COALESCE(c.numeric_scale, 0),
			EXISTS (
				SELECT 1
				FROM pg_index ix
				JOIN pg_class t ON t.oid = ix.indrelid
				JOIN pg_namespace n ON n.oid = t.relnamespace
				JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
				WHERE ix.indisprimary
				  AND n.nspname = c.table_schema
				  AND t.relname = c.table_name
				  AND a.attname = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`
}

type sqlServerDialect struct{}

func (sqlServerDialect) driverName() string { return "sqlserver" }

// quote mirrors QUOTENAME: brackets, with ] escaped as ]].
func (sqlServerDialect) quote(identifier string) string {
	return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
}

func (sqlServerDialect) columnsQuery() string {
	return `
		SELECT
			c.name,
			tp.name,
			CAST(c.scale AS int),
			CAST(CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS bit)
		FROM sys.columns c
		INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
		LEFT JOIN (
			SELECT ic.object_id, ic.column_id
			FROM sys.index_columns ic
			INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
			WHERE i.is_primary_key = 1
		) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
		WHERE c.object_id = OBJECT_ID(QUOTENAME(@p1) + N'.' + QUOTENAME(@p2))
		ORDER BY c.column_id`
}
