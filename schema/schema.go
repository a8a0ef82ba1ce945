package schema

import (
	"sort"
	"strings"
)

// State maps document type names to their last known shape.
type State map[string]*Document

// Document is the shape of a top-level document or an embedded document.
type Document struct {
	// Collection is empty for embedded documents.
	Collection string           `bson:"collection,omitempty" json:"collection,omitempty" yaml:"collection,omitempty"`
	Parent     string           `bson:"parent,omitempty" json:"parent,omitempty" yaml:"parent,omitempty"`
	Dynamic    bool             `bson:"dynamic,omitempty" json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	Fields     map[string]Field `bson:"fields" json:"fields" yaml:"fields"`
	Indexes    map[string]Index `bson:"indexes" json:"indexes" yaml:"indexes,omitempty"`
}

// Field is a typed attribute of a document.
type Field struct {
	TypeKey TypeKey `bson:"type_key" json:"type_key" yaml:"type_key"`
	// Target names the document type of Embedded and Reference fields.
	Target string `bson:"target,omitempty" json:"target,omitempty" yaml:"target,omitempty"`
	// Elem is the element type of List and Dict fields.
	Elem   *Field         `bson:"elem,omitempty" json:"elem,omitempty" yaml:"elem,omitempty"`
	Params map[string]any `bson:"params,omitempty" json:"params,omitempty" yaml:"params,omitempty"`
}

// IndexKey is one component of an index.
type IndexKey struct {
	Field     string `bson:"field" json:"field" yaml:"field"`
	Direction int    `bson:"direction" json:"direction" yaml:"direction"`
}

// Index is a named ordering or uniqueness constraint.
type Index struct {
	Keys   []IndexKey `bson:"keys" json:"keys" yaml:"keys"`
	Unique bool       `bson:"unique,omitempty" json:"unique,omitempty" yaml:"unique,omitempty"`
	Sparse bool       `bson:"sparse,omitempty" json:"sparse,omitempty" yaml:"sparse,omitempty"`
	Text   bool       `bson:"text,omitempty" json:"text,omitempty" yaml:"text,omitempty"`
}

// IsEmbedded reports whether name denotes an embedded document type.
func IsEmbedded(name string) bool { return strings.HasPrefix(name, EmbeddedPrefix) }

// NewDocument returns an empty document bound to collection.
func NewDocument(collection string) *Document {
	return &Document{
		Collection: collection,
		Fields:     map[string]Field{},
		Indexes:    map[string]Index{},
	}
}

// Names returns the document names in state, sorted.
func (s State) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named document or nil.
func (s State) Get(name string) *Document {
	if s == nil {
		return nil
	}
	return s[name]
}

// FieldNames returns the document's own field names, sorted.
func (d *Document) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexNames returns the document's index names, sorted.
func (d *Document) IndexNames() []string {
	names := make([]string, 0, len(d.Indexes))
	for name := range d.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Param returns a field parameter.
func (f Field) Param(name string) (any, bool) {
	v, ok := f.Params[name]
	return v, ok
}

// DBField returns the storage key of a field called name.
func (f Field) DBField(name string) string {
	if v, ok := f.Params[ParamDBField].(string); ok && v != "" {
		return v
	}
	return name
}

// Required reports the required flag.
func (f Field) Required() bool {
	v, _ := f.Params[ParamRequired].(bool)
	return v
}

// Default returns the declared default.
func (f Field) Default() (any, bool) {
	v, ok := f.Params[ParamDefault]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// WithParam returns a copy of f with one parameter set. A nil value removes it.
func (f Field) WithParam(name string, value any) Field {
	out := f
	out.Params = make(map[string]any, len(f.Params)+1)
	for k, v := range f.Params {
		out.Params[k] = v
	}
	if value == nil {
		delete(out.Params, name)
	} else {
		out.Params[name] = value
	}
	if len(out.Params) == 0 {
		out.Params = nil
	}
	return out
}

// FieldNames returns the names of the indexed fields.
func (i Index) FieldNames() []string {
	out := make([]string, len(i.Keys))
	for n, k := range i.Keys {
		out[n] = k.Field
	}
	return out
}
