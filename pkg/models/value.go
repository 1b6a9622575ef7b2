package models

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Value is a cell value. Normalized values have one of these dynamic types:
// nil, string, decimal.Decimal, bool, civil.Date or time.Time (UTC).
// Numbers stay exact so large integer identities never collide.
type Value = any

// Row is a row of a user-defined table, addressed by its storage id and
// holding values keyed by field id.
type Row struct {
	ID     int64               `json:"id"`
	Values map[uuid.UUID]Value `json:"values"`
}

// Clone returns a copy of the row with its own value map.
func (r Row) Clone() Row {
	values := make(map[uuid.UUID]Value, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Row{ID: r.ID, Values: values}
}

// NormalizeValue converts a raw value produced by a source adapter into the
// representation stored by the field.
func NormalizeValue(field *Field, raw any) (Value, error) {
	switch field.Type {
	case FieldTypeText, FieldTypeLongText, FieldTypeURL:
		return normalizeText(raw), nil
	case FieldTypeNumber:
		return normalizeNumber(field, raw)
	case FieldTypeBoolean:
		return normalizeBoolean(raw)
	case FieldTypeDate:
		return normalizeDate(field, raw)
	default:
		return nil, fmt.Errorf("unsupported field type %q", field.Type)
	}
}

func normalizeText(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func normalizeNumber(field *Field, raw any) (Value, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		d = v
	case int:
		d = decimal.NewFromInt(int64(v))
	case int32:
		d = decimal.NewFromInt32(v)
	case int64:
		d = decimal.NewFromInt(v)
	case uint64:
		d = decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
	case float32:
		return normalizeNumber(field, float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid number %v", v)
		}
		d = decimal.NewFromFloat(v)
	case json.Number:
		return normalizeNumber(field, string(v))
	case []byte:
		return normalizeNumber(field, string(v))
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return nil, nil
		}
		parsed, err := decimal.NewFromString(text)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", v, err)
		}
		d = parsed
	default:
		return nil, fmt.Errorf("cannot convert %T to number", raw)
	}
	if d.IsNegative() && !field.Options.NumberNegative {
		return nil, fmt.Errorf("negative number %s not allowed", d)
	}
	return d.Round(int32(field.Options.NumberDecimalPlaces)), nil
}

func normalizeBoolean(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "f", "no", "n", "off":
			return false, nil
		case "1", "true", "t", "yes", "y", "on", "checked":
			return true, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", v)
	case int, int64, float64:
		return fmt.Sprint(v) != "0", nil
	default:
		return nil, fmt.Errorf("cannot convert %T to boolean", raw)
	}
}

func normalizeDate(field *Field, raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if field.Options.DateIncludeTime {
			return v.UTC(), nil
		}
		return civil.DateOf(v), nil
	case civil.Date:
		if field.Options.DateIncludeTime {
			return v.In(time.UTC), nil
		}
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		if d, err := civil.ParseDate(v); err == nil {
			return normalizeDate(field, d)
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q", v)
		}
		return normalizeDate(field, t)
	default:
		return nil, fmt.Errorf("cannot convert %T to date", raw)
	}
}

// ValuesEqual is the default equality between two normalized values.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case civil.Date:
		bv, ok := b.(civil.Date)
		return ok && av == bv
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// CompareDate treats a date and a datetime as equal when the datetime falls
// on that date in UTC. Two datetimes compare as instants.
func CompareDate(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ad, aIsDate := a.(civil.Date)
	bd, bIsDate := b.(civil.Date)
	at, aIsTime := a.(time.Time)
	bt, bIsTime := b.(time.Time)

	switch {
	case aIsDate && bIsDate:
		return ad == bd
	case aIsTime && bIsTime:
		return at.Equal(bt)
	case aIsDate && bIsTime:
		return ad == civil.DateOf(bt.UTC())
	case aIsTime && bIsDate:
		return civil.DateOf(at.UTC()) == bd
	}
	return ValuesEqual(a, b)
}

// IdentityKey encodes an ordered tuple of normalized values into a comparable
// map key. Equal tuples always produce equal keys.
func IdentityKey(values ...Value) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		switch tv := v.(type) {
		case nil:
			b.WriteString("0:")
		case string:
			b.WriteString("s:")
			b.WriteString(tv)
		case decimal.Decimal:
			// String drops trailing zeros, so 1.50 and 1.5 share a key.
			b.WriteString("n:")
			b.WriteString(tv.String())
		case bool:
			b.WriteString("b:")
			b.WriteString(strconv.FormatBool(tv))
		case civil.Date:
			b.WriteString("d:")
			b.WriteString(tv.String())
		case time.Time:
			b.WriteString("t:")
			b.WriteString(tv.UTC().Format(time.RFC3339Nano))
		default:
			b.WriteString("x:")
			b.WriteString(fmt.Sprint(tv))
		}
	}
	return b.String()
}
