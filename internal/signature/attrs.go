package signature

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// FieldType identifies the column or relation kind of a field.
type FieldType string

const (
	AutoField            FieldType = "AutoField"
	BigAutoField         FieldType = "BigAutoField"
	BooleanField         FieldType = "BooleanField"
	CharField            FieldType = "CharField"
	TextField            FieldType = "TextField"
	IntegerField         FieldType = "IntegerField"
	BigIntegerField      FieldType = "BigIntegerField"
	SmallIntegerField    FieldType = "SmallIntegerField"
	PositiveIntegerField FieldType = "PositiveIntegerField"
	FloatField           FieldType = "FloatField"
	DecimalField         FieldType = "DecimalField"
	DateField            FieldType = "DateField"
	DateTimeField        FieldType = "DateTimeField"
	TimeField            FieldType = "TimeField"
	EmailField           FieldType = "EmailField"
	SlugField            FieldType = "SlugField"
	URLField             FieldType = "URLField"
	UUIDField            FieldType = "UUIDField"
	BinaryField          FieldType = "BinaryField"
	JSONField            FieldType = "JSONField"
	ForeignKey           FieldType = "ForeignKey"
	OneToOneField        FieldType = "OneToOneField"
	ManyToManyField      FieldType = "ManyToManyField"
)

var knownFieldTypes = map[FieldType]bool{
	AutoField: true, BigAutoField: true, BooleanField: true, CharField: true,
	TextField: true, IntegerField: true, BigIntegerField: true,
	SmallIntegerField: true, PositiveIntegerField: true, FloatField: true,
	DecimalField: true, DateField: true, DateTimeField: true, TimeField: true,
	EmailField: true, SlugField: true, URLField: true, UUIDField: true,
	BinaryField: true, JSONField: true, ForeignKey: true, OneToOneField: true,
	ManyToManyField: true,
}

// ParseFieldType resolves a type name such as "CharField" or
// "models.CharField".
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(strings.TrimPrefix(s, "models."))
	if !knownFieldTypes[t] {
		return "", fmt.Errorf("unknown field type %q", s)
	}
	return t, nil
}

// IsRelation reports whether the type points at another model.
func (t FieldType) IsRelation() bool {
	return t == ForeignKey || t == OneToOneField || t == ManyToManyField
}

// IsManyToMany reports whether the field is stored in a join table.
func (t FieldType) IsManyToMany() bool { return t == ManyToManyField }

// IsAuto reports whether the column is database-generated.
func (t FieldType) IsAuto() bool { return t == AutoField || t == BigAutoField }

// AttrKind is the value kind accepted by a field attribute.
type AttrKind int

const (
	KindBool AttrKind = iota
	KindInt
	KindString
)

type attrSpec struct {
	kind AttrKind
	def  any
}

// attrSpecs is the table of known field attributes and their defaults.
var attrSpecs = map[string]attrSpec{
	"primary_key":    {KindBool, false},
	"max_length":     {KindInt, nil},
	"unique":         {KindBool, false},
	"null":           {KindBool, false},
	"db_index":       {KindBool, false},
	"db_column":      {KindString, nil},
	"db_tablespace":  {KindString, nil},
	"related_model":  {KindString, nil},
	"max_digits":     {KindInt, nil},
	"decimal_places": {KindInt, nil},
	"db_table":       {KindString, nil},
	"db_comment":     {KindString, nil},
}

// typeDefaults overrides attrSpecs for specific field types.
var typeDefaults = map[FieldType]map[string]any{
	ForeignKey:    {"db_index": true},
	OneToOneField: {"db_index": true, "unique": true},
}

// AttrNames returns every known attribute name in sorted order.
func AttrNames() []string {
	names := make([]string, 0, len(attrSpecs))
	for name := range attrSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsKnownAttr reports whether name is a declared field attribute.
func IsKnownAttr(name string) bool {
	_, ok := attrSpecs[name]
	return ok
}

// AttrDefault returns the value an absent attribute takes for a field of
// type t.
func AttrDefault(t FieldType, name string) any {
	if over, ok := typeDefaults[t]; ok {
		if v, ok := over[name]; ok {
			return v
		}
	}
	return attrSpecs[name].def
}

// NormalizeAttr validates v against the declared kind of the attribute and
// converts numeric representations (as produced by JSON or YAML decoding)
// to int.
func NormalizeAttr(name string, v any) (any, error) {
	spec, ok := attrSpecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown field attribute %q", name)
	}
	if v == nil {
		if spec.kind == KindBool {
			return nil, fmt.Errorf("field attribute %q cannot be None", name)
		}
		return nil, nil
	}

	switch spec.kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindInt:
		if n, ok := toInt(v); ok {
			return n, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("field attribute %q has invalid value %v (%T)", name, v, v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case float32:
		if float64(n) == math.Trunc(float64(n)) {
			return int(n), true
		}
	}
	return 0, false
}
