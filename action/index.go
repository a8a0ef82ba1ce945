package action

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// CreateIndex adds an index over fields the document declares or inherits.
type CreateIndex struct {
	base
	Index string
	Def   schema.Index
}

func NewCreateIndex(doc, name string, def schema.Index) *CreateIndex {
	return &CreateIndex{base: newBase(KindCreateIndex, doc), Index: name, Def: def}
}

func (a *CreateIndex) Kind() Kind { return KindCreateIndex }

func (a *CreateIndex) Inverse() (Action, error) {
	return a.inherit(NewDropIndex(a.doc, a.Index, a.Def)), nil
}

func (a *CreateIndex) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	if _, exists := doc.Indexes[a.Index]; exists {
		return types.SchemaErrorf("index %s.%s already exists", a.doc, a.Index)
	}
	for _, k := range a.Def.Keys {
		if !s.HasField(a.doc, k.Field) {
			return types.SchemaErrorf("index %s.%s references missing field %s", a.doc, a.Index, k.Field)
		}
	}
	doc.Indexes[a.Index] = a.Def
	return nil
}

func (a *CreateIndex) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	model, collection, ok := indexModel(ec.Schema, a.doc, a.Index, a.Def)
	if !ok {
		return nil
	}
	if err := ec.Writer.CreateIndex(ctx, collection, model); err != nil {
		return types.WrapActionError(err, "create index %s on %s", a.Index, collection)
	}
	return nil
}

func (a *CreateIndex) Spec() Spec {
	s := a.spec(KindCreateIndex, a.doc, a.Index)
	s.Params = indexParams(a.Def)
	return s
}

func decodeCreateIndex(s Spec) (Action, error) {
	doc, name, def, err := decodeIndexDef(s)
	if err != nil {
		return nil, err
	}
	return NewCreateIndex(doc, name, def), nil
}

func decodeIndexDef(s Spec) (string, string, schema.Index, error) {
	doc, err := s.argString(0, "document")
	if err != nil {
		return "", "", schema.Index{}, err
	}
	name, err := s.argString(1, "index")
	if err != nil {
		return "", "", schema.Index{}, err
	}
	def, err := indexFromParams(s)
	return doc, name, def, err
}

// indexModel translates an index definition into storage terms. Indexes of
// embedded documents exist only in the schema.
func indexModel(s schema.State, doc, name string, def schema.Index) (types.IndexModel, string, bool) {
	d := s.Get(doc)
	if d == nil || schema.IsEmbedded(doc) {
		return types.IndexModel{}, "", false
	}
	fields := s.EffectiveFields(doc)
	keys := make(bson.D, 0, len(def.Keys))
	for _, k := range def.Keys {
		key := k.Field
		if f, ok := fields[k.Field]; ok {
			key = f.DBField(k.Field)
		}
		var dir any = k.Direction
		if def.Text {
			dir = "text"
		}
		keys = append(keys, bson.E{Key: key, Value: dir})
	}
	return types.IndexModel{Name: name, Keys: keys, Unique: def.Unique, Sparse: def.Sparse}, d.Collection, true
}

// DropIndex removes an index.
type DropIndex struct {
	base
	Index string
	Def   schema.Index
}

func NewDropIndex(doc, name string, def schema.Index) *DropIndex {
	return &DropIndex{base: newBase(KindDropIndex, doc), Index: name, Def: def}
}

func (a *DropIndex) Kind() Kind { return KindDropIndex }

func (a *DropIndex) Inverse() (Action, error) {
	if len(a.Def.Keys) == 0 {
		return nil, unprepared(a)
	}
	return a.inherit(NewCreateIndex(a.doc, a.Index, a.Def)), nil
}

func (a *DropIndex) Prepare(left schema.State) error {
	if len(a.Def.Keys) > 0 {
		return nil
	}
	doc := left.Get(a.doc)
	if doc == nil {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	def, ok := doc.Indexes[a.Index]
	if !ok {
		return types.SchemaErrorf("index %s.%s does not exist", a.doc, a.Index)
	}
	a.Def = def
	return nil
}

func (a *DropIndex) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	if _, exists := doc.Indexes[a.Index]; !exists {
		return types.SchemaErrorf("index %s.%s does not exist", a.doc, a.Index)
	}
	delete(doc.Indexes, a.Index)
	return nil
}

func (a *DropIndex) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	doc := ec.Schema.Get(a.doc)
	if doc == nil || schema.IsEmbedded(a.doc) {
		return nil
	}
	if err := ec.Writer.DropIndex(ctx, doc.Collection, a.Index); err != nil {
		return types.WrapActionError(err, "drop index %s on %s", a.Index, doc.Collection)
	}
	return nil
}

func (a *DropIndex) Spec() Spec {
	s := a.spec(KindDropIndex, a.doc, a.Index)
	if len(a.Def.Keys) > 0 {
		s.Params = indexParams(a.Def)
	}
	return s
}

func decodeDropIndex(s Spec) (Action, error) {
	doc, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	name, err := s.argString(1, "index")
	if err != nil {
		return nil, err
	}
	a := NewDropIndex(doc, name, schema.Index{})
	if _, ok := s.Params["fields"]; ok {
		if a.Def, err = indexFromParams(s); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// RenameIndex gives an index a new name. Storage has no rename, so the
// index is dropped and created again under the new name.
type RenameIndex struct {
	base
	Index   string
	NewName string
}

func NewRenameIndex(doc, name, newName string) *RenameIndex {
	return &RenameIndex{base: newBase(KindRenameIndex, doc), Index: name, NewName: newName}
}

func (a *RenameIndex) Kind() Kind { return KindRenameIndex }

func (a *RenameIndex) Inverse() (Action, error) {
	return a.inherit(NewRenameIndex(a.doc, a.NewName, a.Index)), nil
}

func (a *RenameIndex) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	def, exists := doc.Indexes[a.Index]
	if !exists {
		return types.SchemaErrorf("index %s.%s does not exist", a.doc, a.Index)
	}
	if _, taken := doc.Indexes[a.NewName]; taken {
		return types.SchemaErrorf("index %s.%s already exists", a.doc, a.NewName)
	}
	delete(doc.Indexes, a.Index)
	doc.Indexes[a.NewName] = def
	return nil
}

func (a *RenameIndex) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	doc := ec.Schema.Get(a.doc)
	if doc == nil {
		return nil
	}
	def, ok := doc.Indexes[a.Index]
	if !ok {
		return types.SchemaErrorf("index %s.%s does not exist", a.doc, a.Index)
	}
	model, collection, ok := indexModel(ec.Schema, a.doc, a.NewName, def)
	if !ok {
		return nil
	}
	if err := ec.Writer.DropIndex(ctx, collection, a.Index); err != nil {
		return types.WrapActionError(err, "drop index %s on %s", a.Index, collection)
	}
	if err := ec.Writer.CreateIndex(ctx, collection, model); err != nil {
		return types.WrapActionError(err, "create index %s on %s", a.NewName, collection)
	}
	return nil
}

func (a *RenameIndex) Spec() Spec {
	s := a.spec(KindRenameIndex, a.doc, a.Index)
	s.Params["new_name"] = a.NewName
	return s
}

func decodeRenameIndex(s Spec) (Action, error) {
	doc, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	name, err := s.argString(1, "index")
	if err != nil {
		return nil, err
	}
	newName, err := s.requireParamString("new_name")
	if err != nil {
		return nil, err
	}
	return NewRenameIndex(doc, name, newName), nil
}
