package schema

import (
	"math"
	"reflect"
	"sort"

	"github.com/tiendc/go-deepcopy"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	if err := deepcopy.Copy(&out, s); err != nil {
		// deepcopy only fails on unsupported kinds, which a decoded state never holds
		panic(err)
	}
	return out
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{}
	if err := deepcopy.Copy(out, d); err != nil {
		panic(err)
	}
	return out
}

// Canonical returns a copy of the state with every optional part made
// explicit: empty maps are allocated, db_field defaults to the field name
// and parameter values use normalized Go types.
func (s State) Canonical() State {
	out := s.Clone()
	for _, doc := range out {
		if doc.Fields == nil {
			doc.Fields = map[string]Field{}
		}
		if doc.Indexes == nil {
			doc.Indexes = map[string]Index{}
		}
		for name, f := range doc.Fields {
			f = canonicalField(f)
			if _, ok := f.Params[ParamDBField]; !ok {
				f = f.WithParam(ParamDBField, name)
			}
			doc.Fields[name] = f
		}
	}
	return out
}

// Normalized returns a copy of the state whose parameter values went through
// NormalizeValue. Unlike Canonical it adds no defaults.
func (s State) Normalized() State {
	out := s.Clone()
	for _, doc := range out {
		if doc.Fields == nil {
			doc.Fields = map[string]Field{}
		}
		if doc.Indexes == nil {
			doc.Indexes = map[string]Index{}
		}
		for name, f := range doc.Fields {
			doc.Fields[name] = canonicalField(f)
		}
	}
	return out
}

func canonicalField(f Field) Field {
	if len(f.Params) > 0 {
		params := make(map[string]any, len(f.Params))
		for k, v := range f.Params {
			if v == nil {
				continue
			}
			params[k] = NormalizeValue(v)
		}
		f.Params = params
		if len(params) == 0 {
			f.Params = nil
		}
	}
	if f.Elem != nil {
		elem := canonicalField(*f.Elem)
		f.Elem = &elem
	}
	return f
}

// NormalizeValue maps decoded parameter values onto a small set of Go types:
// integers become int64, BSON arrays become []any and documents map[string]any.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case numeric:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case primitive.A:
		return normalizeSlice(val)
	case []any:
		return normalizeSlice(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case primitive.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = NormalizeValue(e.Value)
		}
		return m
	case primitive.M:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	default:
		return v
	}
}

// numeric is satisfied by json.Number.
type numeric interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = NormalizeValue(v)
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = NormalizeValue(v)
	}
	return out
}

// ValuesEqual compares two parameter values, treating numbers of different
// Go types as equal when they hold the same value.
func ValuesEqual(a, b any) bool {
	a, b = NormalizeValue(a), NormalizeValue(b)
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !ValuesEqual(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Equal reports whether two fields are structurally identical.
func (f Field) Equal(o Field) bool {
	if f.TypeKey != o.TypeKey || f.Target != o.Target {
		return false
	}
	if (f.Elem == nil) != (o.Elem == nil) {
		return false
	}
	if f.Elem != nil && !f.Elem.Equal(*o.Elem) {
		return false
	}
	return paramsEqual(f.Params, o.Params, nil)
}

func paramsEqual(a, b map[string]any, skip map[string]bool) bool {
	for k, v := range a {
		if skip[k] {
			continue
		}
		w, ok := b[k]
		if !ok || !ValuesEqual(v, w) {
			return false
		}
	}
	for k := range b {
		if skip[k] {
			continue
		}
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

// ChangedParams lists the parameter names whose values differ, sorted.
func ChangedParams(a, b map[string]any) []string {
	var out []string
	for k, v := range a {
		if w, ok := b[k]; !ok || !ValuesEqual(v, w) {
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two indexes are identical.
func (i Index) Equal(o Index) bool {
	return reflect.DeepEqual(i.Keys, o.Keys) && i.Unique == o.Unique &&
		i.Sparse == o.Sparse && i.Text == o.Text
}

// Equal reports whether two documents are identical, ignoring nil versus empty maps.
func (d *Document) Equal(o *Document) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Collection != o.Collection || d.Parent != o.Parent || d.Dynamic != o.Dynamic {
		return false
	}
	if len(d.Fields) != len(o.Fields) || len(d.Indexes) != len(o.Indexes) {
		return false
	}
	for name, f := range d.Fields {
		g, ok := o.Fields[name]
		if !ok || !f.Equal(g) {
			return false
		}
	}
	for name, i := range d.Indexes {
		j, ok := o.Indexes[name]
		if !ok || !i.Equal(j) {
			return false
		}
	}
	return true
}

// Equal reports whether two states describe the same documents.
func (s State) Equal(o State) bool {
	if len(s) != len(o) {
		return false
	}
	for name, d := range s {
		if !d.Equal(o[name]) {
			return false
		}
	}
	return true
}

// Diff describes the first difference between two states, or "" when equal.
func (s State) Diff(o State) string {
	for _, name := range s.Names() {
		od, ok := o[name]
		if !ok {
			return "document " + name + " only on the left"
		}
		if !s[name].Equal(od) {
			return "document " + name + " differs"
		}
	}
	for _, name := range o.Names() {
		if _, ok := s[name]; !ok {
			return "document " + name + " only on the right"
		}
	}
	return ""
}
