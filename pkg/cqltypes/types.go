// Package cqltypes maps between CQL column types and Go value
// representations. It is pure and stateless: parsing of CQL type text,
// coercion of loosely-typed input values to driver-bindable values, and
// normalization of driver output values.
package cqltypes

import (
	"strings"

	"github.com/gocql/gocql"
)

// Kind enumerates the CQL storage classes the engine understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindTinyInt
	KindSmallInt
	KindInt
	KindBigInt
	KindVarint
	KindCounter
	KindFloat
	KindDouble
	KindDecimal
	KindBoolean
	KindTimestamp
	KindDate
	KindTime
	KindUUID
	KindTimeUUID
	KindBlob
	KindInet
	KindList
	KindSet
	KindMap
)

// Type describes a parsed CQL column type. For list and set types Elem is
// the element type; for map types Key and Elem are the key and value types.
type Type struct {
	Kind Kind
	Elem *Type
	Key  *Type
	CQL  string
}

// IsCollection reports whether the type is a list, set or map.
func (t Type) IsCollection() bool {
	return t.Kind == KindList || t.Kind == KindSet || t.Kind == KindMap
}

func (t Type) String() string {
	if t.CQL != "" {
		return t.CQL
	}
	return "unknown"
}

var scalarKinds = map[string]Kind{
	"text":      KindText,
	"varchar":   KindText,
	"ascii":     KindText,
	"tinyint":   KindTinyInt,
	"smallint":  KindSmallInt,
	"int":       KindInt,
	"bigint":    KindBigInt,
	"varint":    KindVarint,
	"counter":   KindCounter,
	"float":     KindFloat,
	"double":    KindDouble,
	"decimal":   KindDecimal,
	"boolean":   KindBoolean,
	"timestamp": KindTimestamp,
	"date":      KindDate,
	"time":      KindTime,
	"uuid":      KindUUID,
	"timeuuid":  KindTimeUUID,
	"blob":      KindBlob,
	"inet":      KindInet,
}

// ParseType parses CQL type text such as "int", "list<text>" or
// "map<text, bigint>". Frozen wrappers are unwrapped. Unrecognized types
// (user-defined types included) parse as KindUnknown and pass values
// through uncoerced.
func ParseType(s string) Type {
	raw := strings.TrimSpace(s)
	lower := strings.ToLower(raw)

	if strings.HasPrefix(lower, "frozen<") {
		return ParseType(elementText(raw))
	}

	if kind, ok := scalarKinds[lower]; ok {
		return Type{Kind: kind, CQL: lower}
	}

	switch {
	case strings.HasPrefix(lower, "list<"):
		elem := ParseType(elementText(raw))
		return Type{Kind: KindList, Elem: &elem, CQL: lower}
	case strings.HasPrefix(lower, "set<"):
		elem := ParseType(elementText(raw))
		return Type{Kind: KindSet, Elem: &elem, CQL: lower}
	case strings.HasPrefix(lower, "map<"):
		key, val := mapElementText(raw)
		k := ParseType(key)
		v := ParseType(val)
		return Type{Kind: KindMap, Key: &k, Elem: &v, CQL: lower}
	}

	return Type{Kind: KindUnknown, CQL: lower}
}

// elementText extracts the bracketed element from collection type text,
// e.g. "list<text>" yields "text".
func elementText(dataType string) string {
	start := strings.Index(dataType, "<")
	end := strings.LastIndex(dataType, ">")
	if start != -1 && end != -1 && end > start {
		return dataType[start+1 : end]
	}
	return dataType
}

// mapElementText splits "map<k, v>" into key and value type text. The split
// honors nesting so "map<text, frozen<list<int>>>" parses correctly.
func mapElementText(dataType string) (string, string) {
	inner := elementText(dataType)
	depth := 0
	for i, r := range inner {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				return strings.TrimSpace(inner[:i]), strings.TrimSpace(inner[i+1:])
			}
		}
	}
	return inner, ""
}

// ToCQL converts a friendly type name to its CQL type name. Names already
// in CQL form are returned unchanged, so callers can pass either.
func ToCQL(name string) string {
	switch strings.ToLower(name) {
	case "string":
		return "text"
	case "integer":
		return "int"
	case "long":
		return "bigint"
	case "bool":
		return "boolean"
	default:
		return strings.ToLower(name)
	}
}

// FromCassandra normalizes a driver output value to the generic
// representation exposed to callers. UUIDs become strings; collections are
// normalized element-wise; everything else is returned as the driver
// produced it.
func FromCassandra(value interface{}) interface{} {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case gocql.UUID:
		return v.String()
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = FromCassandra(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, e := range v {
			out[k] = FromCassandra(e)
		}
		return out
	default:
		return value
	}
}
