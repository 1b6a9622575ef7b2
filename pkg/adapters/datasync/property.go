package datasync

import (
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// Property describes one column of an external source. Properties are
// produced fresh by the adapter on every call; two properties are the same
// iff their keys match.
type Property struct {
	Key  string
	Name string

	// UniquePrimary marks the property as (part of) the row identity. With
	// several identity properties the identity is their tuple in declared order.
	UniquePrimary bool

	// Immutable marks the created field's settings as owned by the source.
	// It is recorded on the property mapping and reported, but nothing
	// changes field settings after creation, so there is nothing to refuse.
	// Cell edits are blocked separately through Field.ReadOnly.
	Immutable bool

	// NewField builds the unsaved field mirroring this property.
	NewField func(name string) *models.Field

	// Equal compares an existing and an incoming value. Nil means ValuesEqual.
	Equal func(existing, incoming models.Value) bool
}

// Field returns a new unsaved field for the property, named after it.
func (p Property) Field() *models.Field {
	f := p.NewField(p.Name)
	f.Name = p.Name
	return f
}

// IsEqual applies the property's equality rule.
func (p Property) IsEqual(existing, incoming models.Value) bool {
	if p.Equal != nil {
		return p.Equal(existing, incoming)
	}
	return models.ValuesEqual(existing, incoming)
}

// TextProperty is a property mirrored into a text field.
func TextProperty(key, name string, uniquePrimary bool) Property {
	return Property{Key: key, Name: name, UniquePrimary: uniquePrimary, NewField: models.NewTextField}
}

// LongTextProperty is a property mirrored into a long text field.
func LongTextProperty(key, name string) Property {
	return Property{Key: key, Name: name, NewField: models.NewLongTextField}
}

// URLProperty is a property mirrored into a URL field.
func URLProperty(key, name string) Property {
	return Property{Key: key, Name: name, NewField: models.NewURLField}
}

// NumberProperty is an integer property mirrored into a number field.
func NumberProperty(key, name string, uniquePrimary bool) Property {
	return Property{
		Key:           key,
		Name:          name,
		UniquePrimary: uniquePrimary,
		NewField: func(name string) *models.Field {
			return models.NewNumberField(name, 0, false)
		},
	}
}

// BooleanProperty is a property mirrored into a boolean field.
func BooleanProperty(key, name string) Property {
	return Property{Key: key, Name: name, NewField: models.NewBooleanField}
}

// DecimalProperty is a fractional number property.
func DecimalProperty(key, name string, decimalPlaces int) Property {
	return Property{
		Key:  key,
		Name: name,
		NewField: func(name string) *models.Field {
			return models.NewNumberField(name, decimalPlaces, true)
		},
	}
}

// DateProperty is a date or datetime property. Dates and datetimes on the
// same day compare equal so a source switching representation does not
// rewrite every row.
func DateProperty(key, name string, includeTime bool) Property {
	return Property{
		Key:  key,
		Name: name,
		NewField: func(name string) *models.Field {
			return models.NewDateField(name, includeTime, includeTime)
		},
		Equal: models.CompareDate,
	}
}

// IdentityKeys returns the keys of the identity properties in declared order.
func IdentityKeys(properties []Property) []string {
	var keys []string
	for _, p := range properties {
		if p.UniquePrimary {
			keys = append(keys, p.Key)
		}
	}
	return keys
}

// ByKey indexes properties by key.
func ByKey(properties []Property) map[string]Property {
	m := make(map[string]Property, len(properties))
	for _, p := range properties {
		m[p.Key] = p
	}
	return m
}
