package schema

import "sort"

// TypeKey names a field's semantic type. The set is closed.
type TypeKey string

const (
	TypeString    TypeKey = "String"
	TypeInteger   TypeKey = "Integer"
	TypeLong      TypeKey = "Long"
	TypeFloat     TypeKey = "Float"
	TypeDecimal   TypeKey = "Decimal"
	TypeBoolean   TypeKey = "Boolean"
	TypeDateTime  TypeKey = "DateTime"
	TypeObjectID  TypeKey = "ObjectId"
	TypeUUID      TypeKey = "UUID"
	TypeBinary    TypeKey = "Binary"
	TypeURL       TypeKey = "URL"
	TypeEmail     TypeKey = "Email"
	TypeReference TypeKey = "Reference"
	TypeEmbedded  TypeKey = "Embedded"
	TypeList      TypeKey = "List"
	TypeDict      TypeKey = "Dict"
)

var typeKeys = map[TypeKey]bool{
	TypeString: true, TypeInteger: true, TypeLong: true, TypeFloat: true,
	TypeDecimal: true, TypeBoolean: true, TypeDateTime: true, TypeObjectID: true,
	TypeUUID: true, TypeBinary: true, TypeURL: true, TypeEmail: true,
	TypeReference: true, TypeEmbedded: true, TypeList: true, TypeDict: true,
}

// Valid reports whether k is a registered type key.
func (k TypeKey) Valid() bool { return typeKeys[k] }

// Container reports whether values of this type hold an element type.
func (k TypeKey) Container() bool { return k == TypeList || k == TypeDict }

// Targeted reports whether the type refers to another document type.
func (k TypeKey) Targeted() bool { return k == TypeEmbedded || k == TypeReference }

// TypeKeys returns every registered type key, sorted.
func TypeKeys() []TypeKey {
	keys := make([]TypeKey, 0, len(typeKeys))
	for k := range typeKeys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Well known field parameters.
const (
	ParamDBField   = "db_field"
	ParamRequired  = "required"
	ParamDefault   = "default"
	ParamNull      = "null"
	ParamUnique    = "unique"
	ParamMaxLength = "max_length"
	ParamMinLength = "min_length"
	ParamMinValue  = "min_value"
	ParamMaxValue  = "max_value"
	ParamChoices   = "choices"
	ParamRegex     = "regex"
)

// EmbeddedPrefix marks embedded document names.
const EmbeddedPrefix = "~"
