package sqltable

import (
	"fmt"
	"net/url"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/config"
)

// Supported drivers.
const (
	DriverPostgres  = "postgres"
	DriverSQLServer = "sqlserver"
)

// Config contains the connection options of the source database and the
// table to mirror.
type Config struct {
	Driver                 string `json:"driver" validate:"required,oneof=postgres sqlserver"`
	Host                   string `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port                   int    `json:"port" validate:"omitempty,min=1,max=65535"`
	User                   string `json:"user" validate:"required"`
	Password               string `json:"password"`
	Database               string `json:"database" validate:"required"`
	Schema                 string `json:"schema"`
	Table                  string `json:"table" validate:"required"`
	Filter                 string `json:"filter"`
	SSLMode                string `json:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	TrustServerCertificate bool   `json:"trust_server_certificate"`
}

var allowedParams = []string{
	"driver", "host", "port", "user", "password", "database",
	"schema", "table", "filter", "ssl_mode", "trust_server_certificate",
}

// FromMap parses and validates the data sync parameters, filling in the
// driver defaults.
func FromMap(params map[string]any) (*Config, error) {
	var cfg Config
	if err := datasync.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverPostgres:
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
		if cfg.Schema == "" {
			cfg.Schema = "public"
		}
		if cfg.SSLMode == "" {
			cfg.SSLMode = "require"
		}
	case DriverSQLServer:
		if cfg.Port == 0 {
			cfg.Port = 1433
		}
		if cfg.Schema == "" {
			cfg.Schema = "dbo"
		}
	}

	if err := checkFilter(cfg.Filter); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkFilter rejects row filters that try to escape the WHERE clause.
func checkFilter(filter string) error {
	if filter == "" {
		return nil
	}
	for _, token := range []string{";", "--", "/*", "*/"} {
		if strings.Contains(filter, token) {
			return fmt.Errorf("%w: filter must not contain %q", apperrors.ErrInvalidConfig, token)
		}
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(filter); isSQLi {
		return fmt.Errorf("%w: filter rejected (fingerprint %s)", apperrors.ErrInvalidConfig, fingerprint)
	}
	return nil
}

// dsn builds the driver connection string. All user-provided parts are
// escaped so passwords with @, / or ? survive. localhost is resolved to the
// Docker host when running in a container.
func (c *Config) dsn() string {
	host := config.SourceHost(c.Host)

	if c.Driver == DriverSQLServer {
		query := url.Values{}
		query.Add("database", c.Database)
		query.Add("encrypt", "true")
		if c.TrustServerCertificate {
			query.Add("TrustServerCertificate", "true")
		}
		return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
			url.QueryEscape(c.User),
			url.QueryEscape(c.Password),
			host,
			c.Port,
			query.Encode(),
		)
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		host,
		c.Port,
		url.QueryEscape(c.Database),
		c.SSLMode,
	)
}
