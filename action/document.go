package action

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
	"github.com/rediwo/redi-migrate/updater"
)

// CreateDocument adds an empty document type. Fields and indexes are
// created by their own actions. Collections are created lazily by the
// server, so there is no storage effect.
type CreateDocument struct {
	base
	Def *schema.Document
}

func NewCreateDocument(name string, def *schema.Document) *CreateDocument {
	return &CreateDocument{base: newBase(KindCreateDocument, name), Def: shell(def)}
}

// shell copies the document settings without fields and indexes.
func shell(d *schema.Document) *schema.Document {
	out := schema.NewDocument("")
	if d != nil {
		out.Collection, out.Parent, out.Dynamic = d.Collection, d.Parent, d.Dynamic
	}
	return out
}

func (a *CreateDocument) Kind() Kind { return KindCreateDocument }

func (a *CreateDocument) Inverse() (Action, error) {
	return a.inherit(NewDropDocument(a.doc, a.Def)), nil
}

func (a *CreateDocument) ApplyToSchema(s schema.State) error {
	if _, exists := s[a.doc]; exists {
		return types.SchemaErrorf("document %s already exists", a.doc)
	}
	if schema.IsEmbedded(a.doc) != (a.Def.Collection == "") {
		return types.SchemaErrorf("document %s: only top level documents have a collection", a.doc)
	}
	s[a.doc] = shell(a.Def)
	return nil
}

func (a *CreateDocument) ApplyToStorage(context.Context, *ExecContext) error { return nil }

func (a *CreateDocument) Spec() Spec {
	s := a.spec(KindCreateDocument, a.doc)
	s.Params = documentParams(a.Def)
	return s
}

func decodeCreateDocument(s Spec) (Action, error) {
	name, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	def, err := documentFromParams(s, s.Params)
	if err != nil {
		return nil, err
	}
	return NewCreateDocument(name, def), nil
}

// DropDocument removes a document type that no longer has fields or
// indexes and drops its collection unless another document still uses it.
type DropDocument struct {
	base
	Def *schema.Document
}

func NewDropDocument(name string, def *schema.Document) *DropDocument {
	return &DropDocument{base: newBase(KindDropDocument, name), Def: shell(def)}
}

func (a *DropDocument) Kind() Kind { return KindDropDocument }

func (a *DropDocument) Inverse() (Action, error) {
	if a.Def.Collection == "" && !schema.IsEmbedded(a.doc) {
		return nil, unprepared(a)
	}
	return a.inherit(NewCreateDocument(a.doc, a.Def)), nil
}

func (a *DropDocument) Prepare(left schema.State) error {
	if a.Def.Collection == "" && !schema.IsEmbedded(a.doc) {
		if d := left.Get(a.doc); d != nil {
			a.Def = shell(d)
		}
	}
	return nil
}

func (a *DropDocument) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	if len(doc.Fields) > 0 || len(doc.Indexes) > 0 {
		return types.SchemaErrorf("document %s still has fields or indexes", a.doc)
	}
	if children := s.Children(a.doc); len(children) > 0 {
		return types.SchemaErrorf("document %s is the parent of %s", a.doc, strings.Join(children, ", "))
	}
	delete(s, a.doc)
	return nil
}

func (a *DropDocument) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	doc := ec.Schema.Get(a.doc)
	if doc == nil || schema.IsEmbedded(a.doc) {
		return nil
	}
	if users := ec.Schema.CollectionUsers(doc.Collection); len(users) > 1 {
		ec.log().Info("Keeping collection %s, still used by %s", doc.Collection, strings.Join(users, ", "))
		return nil
	}
	if err := ec.Writer.DropCollection(ctx, doc.Collection); err != nil {
		return types.WrapActionError(err, "drop collection %s", doc.Collection)
	}
	return nil
}

func (a *DropDocument) Spec() Spec {
	s := a.spec(KindDropDocument, a.doc)
	s.Params = documentParams(a.Def)
	return s
}

func decodeDropDocument(s Spec) (Action, error) {
	name, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	def, err := documentFromParams(s, s.Params)
	if err != nil {
		return nil, err
	}
	return NewDropDocument(name, def), nil
}

// RenameDocument renames a document type. References from fields and
// children follow the new name. Records of hierarchical documents have
// their "_cls" discriminator rewritten.
type RenameDocument struct {
	base
	NewName string
}

func NewRenameDocument(name, newName string) *RenameDocument {
	return &RenameDocument{base: newBase(KindRenameDocument, name), NewName: newName}
}

func (a *RenameDocument) Kind() Kind { return KindRenameDocument }

func (a *RenameDocument) Inverse() (Action, error) {
	return a.inherit(NewRenameDocument(a.NewName, a.doc)), nil
}

func (a *RenameDocument) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	if _, exists := s[a.NewName]; exists {
		return types.SchemaErrorf("document %s already exists", a.NewName)
	}
	if schema.IsEmbedded(a.doc) != schema.IsEmbedded(a.NewName) {
		return types.SchemaErrorf("cannot rename %s to %s: embeddedness differs", a.doc, a.NewName)
	}
	delete(s, a.doc)
	s[a.NewName] = doc
	for _, d := range s {
		if d.Parent == a.doc {
			d.Parent = a.NewName
		}
		for fn, f := range d.Fields {
			if renamed, changed := retarget(f, a.doc, a.NewName); changed {
				d.Fields[fn] = renamed
			}
		}
	}
	return nil
}

// retarget points a field and its element types from one document to another.
func retarget(f schema.Field, from, to string) (schema.Field, bool) {
	changed := false
	if f.Target == from {
		f.Target = to
		changed = true
	}
	if f.Elem != nil {
		if elem, ok := retarget(*f.Elem, from, to); ok {
			f.Elem = &elem
			changed = true
		}
	}
	return f, changed
}

func (a *RenameDocument) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	if schema.IsEmbedded(a.doc) || !ec.Schema.Hierarchical(a.doc) {
		return nil
	}
	after := ec.Schema.Clone()
	if err := a.ApplyToSchema(after); err != nil {
		return err
	}
	return rewriteClassPaths(ctx, ec, ec.Schema.Get(a.doc).Collection, a.doc, ec.Schema, a.NewName, after)
}

func (a *RenameDocument) Spec() Spec {
	s := a.spec(KindRenameDocument, a.doc)
	s.Params["new_name"] = a.NewName
	return s
}

func decodeRenameDocument(s Spec) (Action, error) {
	name, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	newName, err := s.requireParamString("new_name")
	if err != nil {
		return nil, err
	}
	return NewRenameDocument(name, newName), nil
}

// AlterDocument changes the collection, parent or dynamic flag of a document.
type AlterDocument struct {
	base
	Old *schema.Document
	New *schema.Document
	// changes holds call form parameters until Prepare resolves Old and New.
	changes map[string]any
}

func NewAlterDocument(name string, old, new *schema.Document) *AlterDocument {
	return &AlterDocument{base: newBase(KindAlterDocument, name), Old: shell(old), New: shell(new)}
}

func (a *AlterDocument) Kind() Kind { return KindAlterDocument }

func (a *AlterDocument) Inverse() (Action, error) {
	if a.changes != nil {
		return nil, unprepared(a)
	}
	return a.inherit(NewAlterDocument(a.doc, a.New, a.Old)), nil
}

func (a *AlterDocument) Prepare(left schema.State) error {
	if a.changes == nil {
		return nil
	}
	doc := left.Get(a.doc)
	if doc == nil {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	a.Old = shell(doc)
	p := documentParams(a.Old)
	for k, v := range a.changes {
		if v == nil {
			delete(p, k)
		} else {
			p[k] = v
		}
	}
	newDoc, err := documentFromParams(Spec{Kind: KindAlterDocument}, p)
	if err != nil {
		return err
	}
	a.New = newDoc
	a.changes = nil
	return nil
}

func (a *AlterDocument) ApplyToSchema(s schema.State) error {
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	if a.changes != nil {
		if err := a.Prepare(s); err != nil {
			return err
		}
	}
	if schema.IsEmbedded(a.doc) && a.New.Collection != "" {
		return types.SchemaErrorf("embedded document %s cannot have a collection", a.doc)
	}
	doc.Collection, doc.Parent, doc.Dynamic = a.New.Collection, a.New.Parent, a.New.Dynamic
	return nil
}

func (a *AlterDocument) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	if schema.IsEmbedded(a.doc) {
		return nil
	}
	before := ec.Schema
	after := before.Clone()
	if err := a.ApplyToSchema(after); err != nil {
		return err
	}

	collection := a.Old.Collection
	if a.Old.Collection != a.New.Collection {
		users := before.CollectionUsers(a.Old.Collection)
		if len(users) == 1 && len(after.CollectionUsers(a.New.Collection)) == 1 {
			if err := ec.Writer.RenameCollection(ctx, a.Old.Collection, a.New.Collection); err != nil {
				return types.WrapActionError(err, "rename collection %s to %s", a.Old.Collection, a.New.Collection)
			}
			collection = a.New.Collection
		} else {
			ec.log().Warn("Collection of %s changes from %s to %s; records are not moved between shared collections",
				a.doc, a.Old.Collection, a.New.Collection)
		}
	}

	if a.Old.Parent != a.New.Parent {
		return rewriteClassPaths(ctx, ec, collection, a.doc, before, a.doc, after)
	}
	return nil
}

func (a *AlterDocument) Spec() Spec {
	s := a.spec(KindAlterDocument, a.doc)
	if a.changes != nil {
		s.Params = a.changes
		return s
	}
	oldP, newP := documentParams(a.Old), documentParams(a.New)
	for _, k := range []string{"collection", "parent", "dynamic"} {
		if !schema.ValuesEqual(oldP[k], newP[k]) {
			s.Params[k] = newP[k]
		}
	}
	s.Old = oldP
	return s
}

func decodeAlterDocument(s Spec) (Action, error) {
	name, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	for k := range s.Params {
		if k != "collection" && k != "parent" && k != "dynamic" {
			return nil, types.SchemaErrorf("AlterDocument: unknown parameter %s", k)
		}
	}
	if s.Old == nil {
		a := &AlterDocument{base: newBase(KindAlterDocument, name), changes: s.Params}
		if a.changes == nil {
			a.changes = map[string]any{}
		}
		return a, nil
	}
	old, err := documentFromParams(s, s.Old)
	if err != nil {
		return nil, err
	}
	p := documentParams(old)
	for k, v := range s.Params {
		if v == nil {
			delete(p, k)
		} else {
			p[k] = v
		}
	}
	newDoc, err := documentFromParams(s, p)
	if err != nil {
		return nil, err
	}
	return NewAlterDocument(name, old, newDoc), nil
}

// rewriteClassPaths updates the "_cls" discriminator of the records of doc
// and its descendants after a rename or a change of parent.
func rewriteClassPaths(ctx context.Context, ec *ExecContext, collection, doc string, before schema.State, newDoc string, after schema.State) error {
	oldDoc := before.Get(doc)
	newDef := after.Get(newDoc)
	if oldDoc == nil || newDef == nil {
		return nil
	}
	type move struct{ from, to string }
	var moves []move
	oldNames := append([]string{doc}, before.Descendants(doc)...)
	for _, n := range oldNames {
		target := n
		if n == doc {
			target = newDoc
		}
		var from, to string
		if before.Hierarchical(n) {
			from = before.ClassPath(n)
		}
		if after.Hierarchical(target) {
			to = after.ClassPath(target)
		}
		if from != to {
			moves = append(moves, move{from, to})
		}
	}

	for _, m := range moves {
		filter := bson.M{"_cls": m.from}
		if m.from == "" {
			filter = bson.M{"_cls": bson.M{"$exists": false}}
		}
		var update bson.M
		if m.to == "" {
			update = bson.M{"$unset": bson.M{"_cls": ""}}
		} else {
			update = bson.M{"$set": bson.M{"_cls": m.to}}
		}
		from, to := m.from, m.to
		op := updater.Operation{
			Name:     "rewrite _cls",
			Requires: []updater.Capability{updater.CapUpdateOperators},
			Bulk: func(updater.Target) (bson.M, any, bool) {
				return filter, update, true
			},
			Filter: filter,
			Record: func(_ updater.Record, rec bson.M) (bool, error) {
				cur, _ := rec["_cls"].(string)
				if cur != from {
					return false, nil
				}
				if to == "" {
					delete(rec, "_cls")
				} else {
					rec["_cls"] = to
				}
				return true, nil
			},
		}
		if err := ec.Run(ctx, []updater.Target{{Collection: collection}}, op); err != nil {
			return err
		}
	}
	return nil
}
