package migration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rediwo/redi-migrate/action"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// Differ compiles the action chain turning one schema state into another.
type Differ struct {
	log logger.Logger
}

// NewDiffer creates a differ. A nil logger uses the global one.
func NewDiffer(log logger.Logger) *Differ {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Differ{log: log}
}

// Diff returns the forward chain from old to new, sorted by priority. The
// chain is verified by replaying it against old.
func (d *Differ) Diff(old, new schema.State) ([]action.Action, error) {
	target := new.Canonical()
	warnings, err := target.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		d.log.Warn("%s", w)
	}

	c := &compiler{old: old.Canonical(), new: target, log: d.log}
	c.cur = c.old.Clone()
	if err := c.compile(); err != nil {
		return nil, err
	}
	if !c.cur.Equal(c.new) {
		return nil, types.SchemaErrorf("compiled chain does not reach the target schema: %s", c.cur.Diff(c.new))
	}

	chain := c.chain
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].Priority() < chain[j].Priority() })

	replayed, err := Simulate(c.old, chain)
	if err != nil {
		return nil, err
	}
	if !replayed.Equal(c.new) {
		return nil, types.SchemaErrorf("ordered chain does not reach the target schema: %s", replayed.Diff(c.new))
	}
	return chain, nil
}

// Simulate applies a chain to a copy of s at the schema level.
func Simulate(s schema.State, chain []action.Action) (schema.State, error) {
	out := s.Clone()
	for _, a := range chain {
		if err := a.Prepare(out); err != nil {
			return nil, fmt.Errorf("%s: %w", action.Format(a), err)
		}
		if err := a.ApplyToSchema(out); err != nil {
			return nil, fmt.Errorf("%s: %w", action.Format(a), err)
		}
	}
	return out, nil
}

type compiler struct {
	old, new schema.State
	// cur is old with every emitted action applied.
	cur   schema.State
	chain []action.Action
	// created holds documents introduced by CreateDocument.
	created map[string]bool
	log     logger.Logger
}

func (c *compiler) emit(a action.Action, band int, prio schema.State, creating bool) error {
	a.SetPriority(action.ComputePriority(band, prio, a.Document(), creating))
	if err := a.Prepare(c.cur); err != nil {
		return err
	}
	if err := a.ApplyToSchema(c.cur); err != nil {
		return fmt.Errorf("%s: %w", action.Format(a), err)
	}
	c.chain = append(c.chain, a)
	return nil
}

func (c *compiler) compile() error {
	c.created = map[string]bool{}
	steps := []func() error{
		c.renameDocuments,
		c.createDocuments,
		c.renameFields,
		c.alterFields,
		c.alterDocuments,
		c.dropIndexes,
		c.dropFields,
		c.createFields,
		c.createIndexes,
		c.dropDocuments,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// only returns the names of a that are not in b, sorted.
func only(a, b schema.State) []string {
	var out []string
	for _, name := range a.Names() {
		if _, ok := b[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// common returns the documents present in both the current and the target
// state, ancestors first.
func (c *compiler) common() []string {
	var out []string
	for _, name := range c.new.Names() {
		if _, ok := c.cur[name]; ok && !c.created[name] {
			out = append(out, name)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return c.new.Depth(out[i]) < c.new.Depth(out[j]) })
	return out
}

func (c *compiler) renameDocuments() error {
	removed, added := only(c.cur, c.new), only(c.new, c.cur)
	pairs, amb := uniquePairs(removed, added, func(r, a string) bool {
		return schema.IsEmbedded(r) == schema.IsEmbedded(a) && sameDocumentShape(c.cur[r], c.new[a])
	})
	c.warnAmbiguous("documents", amb, pairs)
	for _, p := range pairs {
		if err := c.emit(action.NewRenameDocument(p[0], p[1]), action.BandRenameDocument, c.cur, true); err != nil {
			return err
		}
	}
	return nil
}

// sameDocumentShape compares two documents ignoring their collection. Two
// documents without fields never match.
func sameDocumentShape(a, b *schema.Document) bool {
	if len(a.Fields) == 0 {
		return false
	}
	x, y := a.Clone(), b.Clone()
	x.Collection, y.Collection = "", ""
	return x.Equal(y)
}

func (c *compiler) createDocuments() error {
	for _, name := range only(c.new, c.cur) {
		doc := c.new[name]
		if err := c.emit(action.NewCreateDocument(name, doc), action.BandCreateDocument, c.new, true); err != nil {
			return err
		}
		c.created[name] = true
		for _, f := range doc.FieldNames() {
			a := action.NewCreateField(name, f, doc.Fields[f])
			if err := c.emit(a, action.BandCreateDocument, c.new, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) renameFields() error {
	for _, name := range c.common() {
		cur, target := c.cur[name], c.new[name]
		removed := fieldsOnly(cur, target)
		added := fieldsOnly(target, cur)

		// same storage key first, then same structure
		pairs, byKey := uniquePairs(removed, added, func(r, a string) bool {
			return cur.Fields[r].DBField(r) == target.Fields[a].DBField(a)
		})
		removed, added = unpaired(removed, pairs, 0), unpaired(added, pairs, 1)
		byShape, amb := uniquePairs(removed, added, func(r, a string) bool {
			return fieldSignature(cur.Fields[r]).Equal(fieldSignature(target.Fields[a]))
		})
		pairs = append(pairs, byShape...)
		amb.removed = append(amb.removed, byKey.removed...)
		amb.added = append(amb.added, byKey.added...)
		c.warnAmbiguous(name+" fields", amb, pairs)

		for _, p := range pairs {
			if err := c.emit(action.NewRenameField(name, p[0], p[1]), action.BandRenameField, c.new, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// signatureExcluded are the parameters a renamed field may change.
var signatureExcluded = []string{schema.ParamDBField, schema.ParamRequired, schema.ParamDefault, schema.ParamNull}

// fieldSignature strips the parameters that do not identify a field.
func fieldSignature(f schema.Field) schema.Field {
	for _, p := range signatureExcluded {
		f = f.WithParam(p, nil)
	}
	return f
}

func fieldsOnly(a, b *schema.Document) []string {
	var out []string
	for _, f := range a.FieldNames() {
		if _, ok := b.Fields[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func (c *compiler) alterFields() error {
	for _, name := range c.common() {
		cur, target := c.cur[name], c.new[name]
		for _, f := range target.FieldNames() {
			old, ok := cur.Fields[f]
			if !ok || old.Equal(target.Fields[f]) {
				continue
			}
			a := action.NewAlterField(name, f, old, target.Fields[f])
			if err := c.emit(a, action.BandAlterField, c.new, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) alterDocuments() error {
	for _, name := range c.common() {
		cur, target := c.cur[name], c.new[name]
		if cur.Collection == target.Collection && cur.Parent == target.Parent && cur.Dynamic == target.Dynamic {
			continue
		}
		a := action.NewAlterDocument(name, cur, target)
		if err := c.emit(a, action.BandAlterDocument, c.new, true); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) dropIndexes() error {
	for _, name := range c.common() {
		cur, target := c.cur[name], c.new[name]
		var removed, added []string
		for _, idx := range cur.IndexNames() {
			if def, ok := target.Indexes[idx]; !ok || !def.Equal(cur.Indexes[idx]) {
				removed = append(removed, idx)
			}
		}
		for _, idx := range target.IndexNames() {
			if _, ok := cur.Indexes[idx]; !ok {
				added = append(added, idx)
			}
		}
		pairs, amb := uniquePairs(removed, added, func(r, a string) bool {
			return cur.Indexes[r].Equal(target.Indexes[a])
		})
		c.warnAmbiguous(name+" indexes", amb, pairs)
		for _, p := range pairs {
			if err := c.emit(action.NewRenameIndex(name, p[0], p[1]), action.BandRenameIndex, c.cur, false); err != nil {
				return err
			}
		}
		for _, idx := range unpaired(removed, pairs, 0) {
			a := action.NewDropIndex(name, idx, cur.Indexes[idx])
			if err := c.emit(a, action.BandDropIndex, c.cur, false); err != nil {
				return err
			}
		}
	}

	for _, name := range c.removedDocuments() {
		doc := c.cur[name]
		for _, idx := range doc.IndexNames() {
			a := action.NewDropIndex(name, idx, doc.Indexes[idx])
			a.SetDummy(c.storageGone(name))
			if err := c.emit(a, action.BandDropIndex, c.cur, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) dropFields() error {
	for _, name := range c.common() {
		cur, target := c.cur[name], c.new[name]
		for _, f := range fieldsOnly(cur, target) {
			if err := c.emit(action.NewDropField(name, f, cur.Fields[f]), action.BandDropField, c.cur, false); err != nil {
				return err
			}
		}
	}
	for _, name := range c.removedDocuments() {
		doc := c.cur[name]
		for _, f := range doc.FieldNames() {
			a := action.NewDropField(name, f, doc.Fields[f])
			a.SetDummy(c.storageGone(name))
			if err := c.emit(a, action.BandDropField, c.cur, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) createFields() error {
	for _, name := range c.common() {
		cur, target := c.cur[name], c.new[name]
		for _, f := range fieldsOnly(target, cur) {
			if err := c.emit(action.NewCreateField(name, f, target.Fields[f]), action.BandCreateField, c.new, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) createIndexes() error {
	for _, name := range c.new.Names() {
		cur, target := c.cur[name], c.new[name]
		for _, idx := range target.IndexNames() {
			if _, ok := cur.Indexes[idx]; ok {
				continue
			}
			a := action.NewCreateIndex(name, idx, target.Indexes[idx])
			if err := c.emit(a, action.BandCreateIndex, c.new, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) dropDocuments() error {
	for _, name := range c.removedDocuments() {
		a := action.NewDropDocument(name, c.cur[name])
		if err := c.emit(a, action.BandDropDocument, c.cur, false); err != nil {
			return err
		}
	}
	return nil
}

// removedDocuments lists documents that exist now but not in the target,
// descendants before their ancestors.
func (c *compiler) removedDocuments() []string {
	out := only(c.cur, c.new)
	sort.SliceStable(out, func(i, j int) bool { return c.cur.Depth(out[i]) > c.cur.Depth(out[j]) })
	return out
}

// storageGone reports whether the records of a removed document disappear
// anyway: embedded documents go with their container fields and top level
// documents with their collection.
func (c *compiler) storageGone(name string) bool {
	if schema.IsEmbedded(name) {
		return true
	}
	return len(c.new.CollectionUsers(c.cur[name].Collection)) == 0
}

// ambiguity holds the items that matched more than one counterpart.
type ambiguity struct {
	removed, added []string
}

// uniquePairs matches items of removed with items of added where match
// holds for exactly one candidate on both sides. Ambiguous items stay
// unmatched and are returned alongside the pairs.
func uniquePairs(removed, added []string, match func(r, a string) bool) ([][2]string, ambiguity) {
	candidates := map[string][]string{}
	reverse := map[string]int{}
	for _, r := range removed {
		for _, a := range added {
			if match(r, a) {
				candidates[r] = append(candidates[r], a)
				reverse[a]++
			}
		}
	}
	var pairs [][2]string
	paired := map[string]bool{}
	for _, r := range removed {
		if cs := candidates[r]; len(cs) == 1 && reverse[cs[0]] == 1 {
			pairs = append(pairs, [2]string{r, cs[0]})
			paired[cs[0]] = true
		}
	}
	var amb ambiguity
	for _, r := range removed {
		if cs := candidates[r]; len(cs) > 0 && !(len(cs) == 1 && paired[cs[0]]) {
			amb.removed = append(amb.removed, r)
		}
	}
	for _, a := range added {
		if reverse[a] > 0 && !paired[a] {
			amb.added = append(amb.added, a)
		}
	}
	return pairs, amb
}

// warnAmbiguous logs the rename candidates that were left to drop and create
// because they matched more than one counterpart. Items paired by a later
// pass are not reported.
func (c *compiler) warnAmbiguous(scope string, amb ambiguity, pairs [][2]string) {
	removed := unpaired(dedupe(amb.removed), pairs, 0)
	added := unpaired(dedupe(amb.added), pairs, 1)
	if len(removed) == 0 && len(added) == 0 {
		return
	}
	c.log.Warn("%s: ambiguous rename, dropping %s and creating %s instead",
		scope, strings.Join(removed, ", "), strings.Join(added, ", "))
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}

// unpaired returns the items not used at position side of pairs.
func unpaired(items []string, pairs [][2]string, side int) []string {
	used := map[string]bool{}
	for _, p := range pairs {
		used[p[side]] = true
	}
	var out []string
	for _, it := range items {
		if !used[it] {
			out = append(out, it)
		}
	}
	return out
}
