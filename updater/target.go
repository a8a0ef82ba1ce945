package updater

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/schema"
)

// Path segments with special meaning.
const (
	EachItem  = "$[]"
	EachValue = "$*"
)

// maxEmbeddingDepth bounds the search for embedded document locations.
const maxEmbeddingDepth = 32

// Target is one place where records of a document type are stored: a
// collection plus the path of the enclosing sub-document, if embedded.
type Target struct {
	Collection string
	Path       []string
	Filter     bson.M
}

// Embedded reports whether the target addresses sub-documents.
func (t Target) Embedded() bool { return len(t.Path) > 0 }

// Iterates reports whether the path passes through arrays or mappings.
func (t Target) Iterates() bool {
	for _, seg := range t.Path {
		if seg == EachItem || seg == EachValue {
			return true
		}
	}
	return false
}

// FieldPath returns the dotted path of a field inside the target.
func (t Target) FieldPath(dbField string) string {
	return strings.Join(append(append([]string(nil), t.Path...), dbField), ".")
}

func (t Target) String() string {
	if !t.Embedded() {
		return t.Collection
	}
	return t.Collection + "." + strings.Join(t.Path, ".")
}

// Targets returns the storage locations of the named document type.
// Top level documents live in their collection, filtered by "_cls" when
// they derive from another document. Embedded documents are located by
// walking the fields of every top level document.
func Targets(s schema.State, name string) []Target {
	doc := s.Get(name)
	if doc == nil {
		return nil
	}
	if !schema.IsEmbedded(name) {
		t := Target{Collection: doc.Collection}
		if cls := s.ClassFilter(name); len(cls) > 0 {
			t.Filter = bson.M{"_cls": bson.M{"$in": cls}}
		}
		return []Target{t}
	}

	var out []Target
	for _, top := range s.Names() {
		if schema.IsEmbedded(top) {
			continue
		}
		topDoc := s[top]
		base := Target{Collection: topDoc.Collection}
		if cls := s.ClassFilter(top); len(cls) > 0 {
			base.Filter = bson.M{"_cls": bson.M{"$in": cls}}
		}
		w := &locator{state: s, name: name, base: base}
		w.fields(topDoc.Fields, nil, 0)
		out = append(out, w.found...)
	}
	return out
}

type locator struct {
	state schema.State
	name  string
	base  Target
	found []Target
}

func (w *locator) fields(fields map[string]schema.Field, prefix []string, depth int) {
	if depth > maxEmbeddingDepth {
		return
	}
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		f := fields[n]
		w.field(f, appendPath(prefix, f.DBField(n)), depth)
	}
}

func (w *locator) field(f schema.Field, path []string, depth int) {
	switch f.TypeKey {
	case schema.TypeEmbedded:
		if f.Target == w.name {
			t := Target{Collection: w.base.Collection, Path: path, Filter: copyFilter(w.base.Filter)}
			if !t.Iterates() {
				if t.Filter == nil {
					t.Filter = bson.M{}
				}
				t.Filter[strings.Join(path, ".")] = bson.M{"$type": "object"}
			}
			w.found = append(w.found, t)
		}
		w.fields(w.state.EffectiveFields(f.Target), path, depth+1)
	case schema.TypeList:
		if f.Elem != nil {
			w.field(*f.Elem, appendPath(path, EachItem), depth+1)
		}
	case schema.TypeDict:
		if f.Elem != nil {
			w.field(*f.Elem, appendPath(path, EachValue), depth+1)
		}
	}
}

func appendPath(prefix []string, seg string) []string {
	out := make([]string, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = seg
	return out
}

func copyFilter(f bson.M) bson.M {
	if f == nil {
		return nil
	}
	out := make(bson.M, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
