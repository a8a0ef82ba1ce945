package action

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
	"github.com/rediwo/redi-migrate/updater"
)

// CreateField adds a field. Stored records missing the field receive the
// declared default; under the strict policy a required field without a
// default must already be present everywhere.
type CreateField struct {
	base
	Field string
	Def   schema.Field
}

func NewCreateField(doc, field string, def schema.Field) *CreateField {
	return &CreateField{base: newBase(KindCreateField, doc), Field: field, Def: def}
}

func (a *CreateField) Kind() Kind { return KindCreateField }

func (a *CreateField) Inverse() (Action, error) {
	return a.inherit(NewDropField(a.doc, a.Field, a.Def)), nil
}

func (a *CreateField) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	if _, exists := doc.Fields[a.Field]; exists {
		return types.SchemaErrorf("field %s.%s already exists", a.doc, a.Field)
	}
	if !a.Def.TypeKey.Valid() {
		return types.SchemaErrorf("field %s.%s has unknown type %q", a.doc, a.Field, a.Def.TypeKey)
	}
	doc.Fields[a.Field] = a.Def
	return nil
}

func (a *CreateField) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	return fillMissing(ctx, ec, a.doc, a.Def.DBField(a.Field), a.Def)
}

func (a *CreateField) Spec() Spec {
	s := a.spec(KindCreateField, a.doc, a.Field)
	s.Params = fieldParams(a.Def)
	return s
}

func decodeCreateField(s Spec) (Action, error) {
	doc, field, def, err := decodeFieldDef(s)
	if err != nil {
		return nil, err
	}
	return NewCreateField(doc, field, def), nil
}

func decodeFieldDef(s Spec) (string, string, schema.Field, error) {
	doc, err := s.argString(0, "document")
	if err != nil {
		return "", "", schema.Field{}, err
	}
	field, err := s.argString(1, "field")
	if err != nil {
		return "", "", schema.Field{}, err
	}
	def, err := fieldFromParams(s.Params)
	if err != nil {
		return "", "", schema.Field{}, fmt.Errorf("%s(%s, %s): %w", s.Kind, doc, field, err)
	}
	return doc, field, def, nil
}

// DropField removes a field and unsets it in every stored record.
type DropField struct {
	base
	Field string
	Def   schema.Field
}

func NewDropField(doc, field string, def schema.Field) *DropField {
	return &DropField{base: newBase(KindDropField, doc), Field: field, Def: def}
}

func (a *DropField) Kind() Kind { return KindDropField }

func (a *DropField) Inverse() (Action, error) {
	if a.Def.TypeKey == "" {
		return nil, unprepared(a)
	}
	return a.inherit(NewCreateField(a.doc, a.Field, a.Def)), nil
}

func (a *DropField) Prepare(left schema.State) error {
	if a.Def.TypeKey != "" {
		return nil
	}
	doc := left.Get(a.doc)
	if doc == nil {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	def, ok := doc.Fields[a.Field]
	if !ok {
		return types.SchemaErrorf("field %s.%s does not exist", a.doc, a.Field)
	}
	a.Def = def
	return nil
}

func (a *DropField) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	if _, exists := doc.Fields[a.Field]; !exists {
		return types.SchemaErrorf("field %s.%s does not exist", a.doc, a.Field)
	}
	def := doc.Fields[a.Field]
	delete(doc.Fields, a.Field)
	for _, name := range append([]string{a.doc}, s.Descendants(a.doc)...) {
		for in, idx := range s[name].Indexes {
			for _, k := range idx.Keys {
				if !s.HasField(name, k.Field) {
					doc.Fields[a.Field] = def
					return types.SchemaErrorf("field %s.%s is used by index %s.%s", a.doc, a.Field, name, in)
				}
			}
		}
	}
	return nil
}

func (a *DropField) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	key := a.Def.DBField(a.Field)
	if key == "" {
		key = a.Field
	}
	op := updater.Operation{
		Name:     fmt.Sprintf("drop %s.%s", a.doc, a.Field),
		Requires: []updater.Capability{updater.CapUpdateOperators},
		Bulk: func(t updater.Target) (bson.M, any, bool) {
			path := t.FieldPath(key)
			return bson.M{path: bson.M{"$exists": true}}, bson.M{"$unset": bson.M{path: ""}}, true
		},
		Record: func(_ updater.Record, doc bson.M) (bool, error) {
			if _, ok := doc[key]; !ok {
				return false, nil
			}
			delete(doc, key)
			return true, nil
		},
	}
	return ec.Run(ctx, updater.Targets(ec.Schema, a.doc), op)
}

func (a *DropField) Spec() Spec {
	s := a.spec(KindDropField, a.doc, a.Field)
	if a.Def.TypeKey != "" {
		s.Params = fieldParams(a.Def)
	}
	return s
}

func decodeDropField(s Spec) (Action, error) {
	doc, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	field, err := s.argString(1, "field")
	if err != nil {
		return nil, err
	}
	a := NewDropField(doc, field, schema.Field{})
	if len(s.Params) > 0 {
		if a.Def, err = fieldFromParams(s.Params); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// RenameField renames a field in the schema. The storage key is kept; a
// changed db_field is handled by AlterField.
type RenameField struct {
	base
	Field   string
	NewName string
}

func NewRenameField(doc, field, newName string) *RenameField {
	return &RenameField{base: newBase(KindRenameField, doc), Field: field, NewName: newName}
}

func (a *RenameField) Kind() Kind { return KindRenameField }

func (a *RenameField) Inverse() (Action, error) {
	return a.inherit(NewRenameField(a.doc, a.NewName, a.Field)), nil
}

func (a *RenameField) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	def, exists := doc.Fields[a.Field]
	if !exists {
		return types.SchemaErrorf("field %s.%s does not exist", a.doc, a.Field)
	}
	if _, taken := doc.Fields[a.NewName]; taken {
		return types.SchemaErrorf("field %s.%s already exists", a.doc, a.NewName)
	}
	if _, hasDB := def.Params[schema.ParamDBField]; !hasDB {
		def = def.WithParam(schema.ParamDBField, a.Field)
	}
	delete(doc.Fields, a.Field)
	doc.Fields[a.NewName] = def

	// indexes keep pointing at the same storage key under the new name
	for _, name := range append([]string{a.doc}, s.Descendants(a.doc)...) {
		d := s[name]
		for in, idx := range d.Indexes {
			changed := false
			keys := make([]schema.IndexKey, len(idx.Keys))
			for i, k := range idx.Keys {
				if k.Field == a.Field {
					k.Field = a.NewName
					changed = true
				}
				keys[i] = k
			}
			if changed {
				idx.Keys = keys
				d.Indexes[in] = idx
			}
		}
	}
	return nil
}

func (a *RenameField) ApplyToStorage(context.Context, *ExecContext) error { return nil }

func (a *RenameField) Spec() Spec {
	s := a.spec(KindRenameField, a.doc, a.Field)
	s.Params["new_name"] = a.NewName
	return s
}

func decodeRenameField(s Spec) (Action, error) {
	doc, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	field, err := s.argString(1, "field")
	if err != nil {
		return nil, err
	}
	newName, err := s.requireParamString("new_name")
	if err != nil {
		return nil, err
	}
	return NewRenameField(doc, field, newName), nil
}

// fillMissing sets the default of a field on records that lack it. Under
// the strict policy a required field without default fails on the first
// record missing it.
func fillMissing(ctx context.Context, ec *ExecContext, doc, key string, def schema.Field) error {
	value, hasDefault := def.Default()
	if !hasDefault && (!def.Required() || !ec.Policy.Strict()) {
		return nil
	}
	op := updater.Operation{
		Name:     fmt.Sprintf("fill %s.%s", doc, key),
		Requires: []updater.Capability{updater.CapUpdateOperators},
		Bulk: func(t updater.Target) (bson.M, any, bool) {
			if !hasDefault {
				return nil, nil, false
			}
			path := t.FieldPath(key)
			return bson.M{path: bson.M{"$exists": false}}, bson.M{"$set": bson.M{path: value}}, true
		},
		Record: func(rec updater.Record, d bson.M) (bool, error) {
			if _, ok := d[key]; ok {
				return false, nil
			}
			if !hasDefault {
				return false, rec.Fail(key, types.ConversionErrorf("required field is missing and has no default"))
			}
			d[key] = value
			return true, nil
		},
	}
	return ec.Run(ctx, updater.Targets(ec.Schema, doc), op)
}
