package schema

import (
	"fmt"

	"github.com/rediwo/redi-migrate/types"
)

// Validate checks that the reference graph of the state is well formed. It
// returns warnings for related documents that share a collection and a
// SchemaError for anything that makes the state inconsistent.
func (s State) Validate() ([]string, error) {
	var warnings []string

	for _, name := range s.Names() {
		doc := s[name]
		if doc == nil {
			return warnings, types.SchemaErrorf("document %s has no definition", name)
		}
		embedded := IsEmbedded(name)
		if embedded && doc.Collection != "" {
			return warnings, types.SchemaErrorf("embedded document %s must not have a collection", name)
		}
		if !embedded && doc.Collection == "" {
			return warnings, types.SchemaErrorf("document %s has no collection", name)
		}
		if doc.Parent != "" {
			parent, ok := s[doc.Parent]
			if !ok || parent == nil {
				return warnings, types.SchemaErrorf("document %s inherits from unknown document %s", name, doc.Parent)
			}
			if IsEmbedded(doc.Parent) != embedded {
				return warnings, types.SchemaErrorf("document %s and its parent %s differ in embeddedness", name, doc.Parent)
			}
			if root := s[s.Root(name)]; root != nil && root.Parent != "" {
				return warnings, types.SchemaErrorf("inheritance cycle through %s", name)
			}
		}

		for _, fn := range doc.FieldNames() {
			if err := s.validateField(name, fn, doc.Fields[fn]); err != nil {
				return warnings, err
			}
		}

		for _, in := range doc.IndexNames() {
			idx := doc.Indexes[in]
			if len(idx.Keys) == 0 {
				return warnings, types.SchemaErrorf("index %s.%s has no keys", name, in)
			}
			for _, k := range idx.Keys {
				if !s.HasField(name, k.Field) {
					return warnings, types.SchemaErrorf("index %s.%s references missing field %s", name, in, k.Field)
				}
			}
		}
	}

	// collection sharing
	owners := map[string]string{}
	for _, name := range s.Names() {
		doc := s[name]
		if IsEmbedded(name) {
			continue
		}
		other, ok := owners[doc.Collection]
		if !ok {
			owners[doc.Collection] = name
			continue
		}
		if !s.Related(name, other) {
			return warnings, types.SchemaErrorf("documents %s and %s share collection %q without inheritance", other, name, doc.Collection)
		}
		warnings = append(warnings, fmt.Sprintf("documents %s and %s share collection %q", other, name, doc.Collection))
	}

	return warnings, nil
}

func (s State) validateField(doc, name string, f Field) error {
	if !f.TypeKey.Valid() {
		return types.SchemaErrorf("field %s.%s has unknown type %q", doc, name, f.TypeKey)
	}
	switch {
	case f.TypeKey.Targeted():
		if f.Target == "" {
			return types.SchemaErrorf("field %s.%s has no target document", doc, name)
		}
		target, ok := s[f.Target]
		if !ok || target == nil {
			return types.SchemaErrorf("field %s.%s references unknown document %s", doc, name, f.Target)
		}
		if f.TypeKey == TypeEmbedded && !IsEmbedded(f.Target) {
			return types.SchemaErrorf("field %s.%s embeds non-embedded document %s", doc, name, f.Target)
		}
		if f.TypeKey == TypeReference && IsEmbedded(f.Target) {
			return types.SchemaErrorf("field %s.%s references embedded document %s", doc, name, f.Target)
		}
	case f.TypeKey.Container():
		if f.Elem == nil {
			return types.SchemaErrorf("field %s.%s has no element type", doc, name)
		}
		return s.validateField(doc, name+".[]", *f.Elem)
	}
	return nil
}
