package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

type propertyView struct {
	Key           string `yaml:"key" json:"key"`
	Name          string `yaml:"name,omitempty" json:"name,omitempty"`
	FieldType     string `yaml:"field_type,omitempty" json:"field_type,omitempty"`
	FieldID       string `yaml:"field_id,omitempty" json:"field_id,omitempty"`
	UniquePrimary bool   `yaml:"unique_primary" json:"unique_primary"`
	Immutable     bool   `yaml:"immutable" json:"immutable"`
}

type dataSyncView struct {
	ID         uuid.UUID      `yaml:"id" json:"id"`
	TableID    uuid.UUID      `yaml:"table_id" json:"table_id"`
	Type       string         `yaml:"type" json:"type"`
	LastSync   *time.Time     `yaml:"last_sync,omitempty" json:"last_sync,omitempty"`
	LastError  *string        `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	Properties []propertyView `yaml:"properties,omitempty" json:"properties,omitempty"`
}

func newDataSyncView(ds *models.DataSync, props []*models.DataSyncProperty) dataSyncView {
	view := dataSyncView{
		ID:        ds.ID,
		TableID:   ds.TableID,
		Type:      ds.Type,
		LastSync:  ds.LastSync,
		LastError: ds.LastError,
	}
	for _, p := range props {
		view.Properties = append(view.Properties, propertyView{
			Key:           p.Key,
			FieldID:       p.FieldID.String(),
			UniquePrimary: p.UniquePrimary,
			Immutable:     p.Immutable,
		})
	}
	return view
}

func newCatalogueView(props []datasync.Property) []propertyView {
	views := make([]propertyView, 0, len(props))
	for _, p := range props {
		views = append(views, propertyView{
			Key:           p.Key,
			Name:          p.Name,
			FieldType:     string(p.Field().Type),
			UniquePrimary: p.UniquePrimary,
			Immutable:     p.Immutable,
		})
	}
	return views
}

// render writes v in the requested format.
func render(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", format, formatYAML, formatJSON)
	}
}
