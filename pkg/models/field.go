package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FieldType identifies the kind of values a field stores.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeLongText FieldType = "long_text"
	FieldTypeURL      FieldType = "url"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
)

// ValidFieldTypes lists every supported field type.
var ValidFieldTypes = []FieldType{
	FieldTypeText, FieldTypeLongText, FieldTypeURL,
	FieldTypeNumber, FieldTypeBoolean, FieldTypeDate,
}

// IsValid reports whether t is a known field type.
func (t FieldType) IsValid() bool {
	for _, v := range ValidFieldTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Date format options.
const (
	DateFormatISO = "ISO"
	DateFormatUS  = "US"
	DateFormatEU  = "EU"
)

// FieldOptions holds type-specific settings. Only the options relevant to
// the field's type are meaningful.
type FieldOptions struct {
	NumberDecimalPlaces    int    `json:"number_decimal_places,omitempty"`
	NumberNegative         bool   `json:"number_negative,omitempty"`
	DateIncludeTime        bool   `json:"date_include_time,omitempty"`
	DateFormat             string `json:"date_format,omitempty"`
	DateTimeFormat         string `json:"date_time_format,omitempty"` // "24" or "12"
	DateShowTzinfo         bool   `json:"date_show_tzinfo,omitempty"`
	LongTextEnableRichText bool   `json:"long_text_enable_rich_text,omitempty"`
}

// Field is a column of a user-defined table.
type Field struct {
	ID        uuid.UUID    `json:"id"`
	TableID   uuid.UUID    `json:"table_id"`
	Name      string       `json:"name"`
	Type      FieldType    `json:"type"`
	Order     int          `json:"order"`
	Primary   bool         `json:"primary"`
	ReadOnly  bool         `json:"read_only"`
	Options   FieldOptions `json:"options"`
	CreatedAt time.Time    `json:"created_at"`
}

// ColumnName is the physical column backing this field.
func (f *Field) ColumnName() string {
	return "field_" + compactID(f.ID)
}

// SQLType is the PostgreSQL column type for the field.
func (f *Field) SQLType() string {
	switch f.Type {
	case FieldTypeNumber:
		return fmt.Sprintf("numeric(40,%d)", f.Options.NumberDecimalPlaces)
	case FieldTypeBoolean:
		return "boolean NOT NULL DEFAULT false"
	case FieldTypeDate:
		if f.Options.DateIncludeTime {
			return "timestamptz"
		}
		return "date"
	default:
		return "text"
	}
}

// Searchable reports whether the field contributes to the full-text search vector.
func (f *Field) Searchable() bool {
	switch f.Type {
	case FieldTypeText, FieldTypeLongText, FieldTypeURL:
		return true
	}
	return false
}

// NewTextField returns an unsaved text field.
func NewTextField(name string) *Field {
	return &Field{Name: name, Type: FieldTypeText}
}

// NewLongTextField returns an unsaved long text field.
func NewLongTextField(name string) *Field {
	return &Field{Name: name, Type: FieldTypeLongText}
}

// NewURLField returns an unsaved URL field.
func NewURLField(name string) *Field {
	return &Field{Name: name, Type: FieldTypeURL}
}

// NewNumberField returns an unsaved number field.
func NewNumberField(name string, decimalPlaces int, negative bool) *Field {
	return &Field{
		Name: name,
		Type: FieldTypeNumber,
		Options: FieldOptions{
			NumberDecimalPlaces: decimalPlaces,
			NumberNegative:      negative,
		},
	}
}

// NewBooleanField returns an unsaved boolean field.
func NewBooleanField(name string) *Field {
	return &Field{Name: name, Type: FieldTypeBoolean}
}

// NewDateField returns an unsaved date field. ISO format, 24h clock.
func NewDateField(name string, includeTime, showTzinfo bool) *Field {
	opts := FieldOptions{
		DateFormat:      DateFormatISO,
		DateIncludeTime: includeTime,
		DateShowTzinfo:  showTzinfo,
	}
	if includeTime {
		opts.DateTimeFormat = "24"
	}
	return &Field{Name: name, Type: FieldTypeDate, Options: opts}
}
