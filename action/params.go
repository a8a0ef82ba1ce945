package action

import (
	"sort"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// Keys of a field definition that are not field parameters.
const (
	keyTypeKey = "type_key"
	keyTarget  = "target"
	keyElem    = "elem"
)

// fieldParams flattens a field into named parameters.
func fieldParams(f schema.Field) map[string]any {
	out := make(map[string]any, len(f.Params)+3)
	for k, v := range f.Params {
		out[k] = v
	}
	out[keyTypeKey] = string(f.TypeKey)
	if f.Target != "" {
		out[keyTarget] = f.Target
	}
	if f.Elem != nil {
		out[keyElem] = fieldParams(*f.Elem)
	}
	return out
}

// fieldFromParams is the inverse of fieldParams.
func fieldFromParams(p map[string]any) (schema.Field, error) {
	var f schema.Field
	tk, ok := p[keyTypeKey].(string)
	if !ok || tk == "" {
		return f, types.SchemaErrorf("field definition has no type_key")
	}
	f.TypeKey = schema.TypeKey(tk)
	if !f.TypeKey.Valid() {
		return f, types.SchemaErrorf("unknown type_key %q", tk)
	}
	if t, ok := p[keyTarget]; ok && t != nil {
		s, isStr := t.(string)
		if !isStr {
			return f, types.SchemaErrorf("target must be a document name")
		}
		f.Target = s
	}
	if e, ok := p[keyElem]; ok && e != nil {
		m, isMap := e.(map[string]any)
		if !isMap {
			return f, types.SchemaErrorf("elem must be a field definition")
		}
		elem, err := fieldFromParams(m)
		if err != nil {
			return f, err
		}
		f.Elem = &elem
	}
	for k, v := range p {
		if k == keyTypeKey || k == keyTarget || k == keyElem || v == nil {
			continue
		}
		f = f.WithParam(k, v)
	}
	return f, nil
}

// fieldChanges lists the named parameters that differ between two fields.
// Removed parameters map to nil.
func fieldChanges(old, new schema.Field) map[string]any {
	a, b := fieldParams(old), fieldParams(new)
	out := map[string]any{}
	for _, k := range schema.ChangedParams(a, b) {
		out[k] = b[k]
	}
	return out
}

// applyFieldChanges applies named parameter changes to a field.
func applyFieldChanges(f schema.Field, changes map[string]any) (schema.Field, error) {
	p := fieldParams(f)
	for k, v := range changes {
		if v == nil {
			delete(p, k)
			continue
		}
		p[k] = v
	}
	return fieldFromParams(p)
}

// documentParams are the document level settings carried by document actions.
func documentParams(d *schema.Document) map[string]any {
	out := map[string]any{}
	if d.Collection != "" {
		out["collection"] = d.Collection
	}
	if d.Parent != "" {
		out["parent"] = d.Parent
	}
	if d.Dynamic {
		out["dynamic"] = true
	}
	return out
}

func documentFromParams(s Spec, p map[string]any) (*schema.Document, error) {
	tmp := Spec{Kind: s.Kind, Params: p}
	doc := schema.NewDocument("")
	var err error
	if doc.Collection, err = tmp.paramString("collection"); err != nil {
		return nil, err
	}
	if doc.Parent, err = tmp.paramString("parent"); err != nil {
		return nil, err
	}
	if doc.Dynamic, err = tmp.paramBool("dynamic"); err != nil {
		return nil, err
	}
	return doc, nil
}

// indexParams flattens an index into named parameters.
func indexParams(idx schema.Index) map[string]any {
	keys := make([]any, len(idx.Keys))
	for i, k := range idx.Keys {
		keys[i] = []any{k.Field, int64(k.Direction)}
	}
	out := map[string]any{"fields": keys}
	if idx.Unique {
		out["unique"] = true
	}
	if idx.Sparse {
		out["sparse"] = true
	}
	if idx.Text {
		out["text"] = true
	}
	return out
}

func indexFromParams(s Spec) (schema.Index, error) {
	var idx schema.Index
	raw, ok := s.Params["fields"].([]any)
	if !ok || len(raw) == 0 {
		return idx, types.SchemaErrorf("%s: fields must be a non-empty list", s.Kind)
	}
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			idx.Keys = append(idx.Keys, schema.Asc(v))
		case []any:
			if len(v) != 2 {
				return idx, types.SchemaErrorf("%s: index key must be [field, direction]", s.Kind)
			}
			name, nameOK := v[0].(string)
			dir, dirOK := v[1].(int64)
			if !nameOK || !dirOK || (dir != 1 && dir != -1) {
				return idx, types.SchemaErrorf("%s: invalid index key %v", s.Kind, v)
			}
			idx.Keys = append(idx.Keys, schema.IndexKey{Field: name, Direction: int(dir)})
		default:
			return idx, types.SchemaErrorf("%s: invalid index key %v", s.Kind, item)
		}
	}
	var err error
	if idx.Unique, err = s.paramBool("unique"); err != nil {
		return idx, err
	}
	if idx.Sparse, err = s.paramBool("sparse"); err != nil {
		return idx, err
	}
	if idx.Text, err = s.paramBool("text"); err != nil {
		return idx, err
	}
	return idx, nil
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
