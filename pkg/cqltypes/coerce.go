package cqltypes

import (
	"fmt"
	"math"
	"time"

	"github.com/gocql/gocql"
)

// Coerce converts a loosely-typed host value to a value the driver can bind
// for a column of type t. Nil passes through as a null bind. A value that
// cannot represent the column type yields an error naming both sides, so
// validation failures surface before any statement reaches the driver.
func Coerce(t Type, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch t.Kind {
	case KindText:
		return coerceText(value)
	case KindTinyInt, KindSmallInt, KindInt, KindBigInt, KindVarint, KindCounter:
		return coerceInt(t, value)
	case KindFloat, KindDouble:
		return coerceFloat(t, value)
	case KindDecimal:
		// The driver marshals decimals from several representations; pass
		// through and let it reject what it cannot handle.
		return value, nil
	case KindBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, coerceError(t, value)
	case KindTimestamp, KindDate, KindTime:
		return coerceTime(t, value)
	case KindUUID, KindTimeUUID:
		return coerceUUID(t, value)
	case KindBlob:
		return coerceBlob(value)
	case KindInet:
		return value, nil
	case KindList, KindSet:
		return coerceCollection(t, value)
	case KindMap:
		return coerceMap(t, value)
	default:
		return value, nil
	}
}

func coerceText(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return nil, fmt.Errorf("cannot bind %T as text", value)
	}
}

func coerceInt(t Type, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, coerceError(t, value)
		}
		return int64(v), nil
	case float64:
		// JSON decoding produces float64 for all numbers; accept whole values.
		if v != math.Trunc(v) {
			return nil, coerceError(t, value)
		}
		return int64(v), nil
	default:
		return nil, coerceError(t, value)
	}
}

func coerceFloat(t Type, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return nil, coerceError(t, value)
	}
}

func coerceTime(t Type, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case int64:
		// Millisecond epoch, the wire representation of a CQL timestamp.
		return time.UnixMilli(v), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("cannot bind %q as %s: %v", v, t, err)
		}
		return parsed, nil
	default:
		return nil, coerceError(t, value)
	}
}

func coerceUUID(t Type, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case gocql.UUID:
		return v, nil
	case string:
		id, err := gocql.ParseUUID(v)
		if err != nil {
			return nil, fmt.Errorf("cannot bind %q as %s: %v", v, t, err)
		}
		return id, nil
	case [16]byte:
		return gocql.UUID(v), nil
	default:
		return nil, coerceError(t, value)
	}
}

func coerceBlob(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot bind %T as blob", value)
	}
}

func coerceCollection(t Type, value interface{}) (interface{}, error) {
	items, ok := value.([]interface{})
	if !ok {
		// Typed slices bind natively through the driver.
		return value, nil
	}
	if t.Elem == nil {
		return items, nil
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		coerced, err := Coerce(*t.Elem, item)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

func coerceMap(t Type, value interface{}) (interface{}, error) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return value, nil
	}
	if t.Elem == nil {
		return m, nil
	}
	out := make(map[string]interface{}, len(m))
	for k, item := range m {
		coerced, err := Coerce(*t.Elem, item)
		if err != nil {
			return nil, err
		}
		out[k] = coerced
	}
	return out, nil
}

// CoerceAll coerces each item against the same type, for IN predicates.
func CoerceAll(t Type, values []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(values))
	for i, v := range values {
		coerced, err := Coerce(t, v)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

func coerceError(t Type, value interface{}) error {
	return fmt.Errorf("cannot bind %T value %v as %s", value, value, t)
}
