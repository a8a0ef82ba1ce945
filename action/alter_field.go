package action

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/convert"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
	"github.com/rediwo/redi-migrate/updater"
)

// AlterField changes the definition of a field. A type change converts
// stored values first, then every changed parameter is handled in name order.
type AlterField struct {
	base
	Field string
	Old   schema.Field
	New   schema.Field
	// changes holds call form parameters until Prepare resolves Old and New.
	changes map[string]any
}

func NewAlterField(doc, field string, old, new schema.Field) *AlterField {
	return &AlterField{base: newBase(KindAlterField, doc), Field: field, Old: old, New: new}
}

func (a *AlterField) Kind() Kind { return KindAlterField }

func (a *AlterField) Inverse() (Action, error) {
	if a.changes != nil {
		return nil, unprepared(a)
	}
	return a.inherit(NewAlterField(a.doc, a.Field, a.New, a.Old)), nil
}

func (a *AlterField) Prepare(left schema.State) error {
	if a.changes == nil {
		return nil
	}
	doc := left.Get(a.doc)
	if doc == nil {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	old, ok := doc.Fields[a.Field]
	if !ok {
		return types.SchemaErrorf("field %s.%s does not exist", a.doc, a.Field)
	}
	newDef, err := applyFieldChanges(old, a.changes)
	if err != nil {
		return err
	}
	a.Old, a.New, a.changes = old, newDef, nil
	return nil
}

func (a *AlterField) ApplyToSchema(s schema.State) error {
	if err := a.Prepare(s); err != nil {
		return err
	}
	doc, ok := s[a.doc]
	if !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	if _, exists := doc.Fields[a.Field]; !exists {
		return types.SchemaErrorf("field %s.%s does not exist", a.doc, a.Field)
	}
	if !a.New.TypeKey.Valid() {
		return types.SchemaErrorf("field %s.%s has unknown type %q", a.doc, a.Field, a.New.TypeKey)
	}
	doc.Fields[a.Field] = a.New
	return nil
}

// typeChanged reports whether the value shape differs between Old and New.
func (a *AlterField) typeChanged() bool {
	o, n := a.Old, a.New
	o.Params, n.Params = nil, nil
	return !o.Equal(n)
}

func (a *AlterField) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	if err := a.Prepare(ec.Schema); err != nil {
		return err
	}
	oldKey, newKey := a.Old.DBField(a.Field), a.New.DBField(a.Field)
	targets := updater.Targets(ec.Schema, a.doc)

	if a.typeChanged() {
		if err := ec.matrix().Check(a.Old, a.New); err != nil {
			return fmt.Errorf("%s.%s: %w", a.doc, a.Field, err)
		}
		if err := ec.Run(ctx, targets, a.convertOp(ec, oldKey)); err != nil {
			return err
		}
	}

	for _, param := range schema.ChangedParams(a.Old.Params, a.New.Params) {
		var err error
		switch param {
		case schema.ParamDBField:
			if oldKey != newKey {
				err = ec.Run(ctx, targets, renameKeyOp(a.doc, oldKey, newKey))
			}
		case schema.ParamRequired:
			if a.New.Required() && !a.Old.Required() {
				err = fillMissing(ctx, ec, a.doc, newKey, a.New)
			}
		case schema.ParamMaxLength, schema.ParamMinLength, schema.ParamMinValue,
			schema.ParamMaxValue, schema.ParamChoices, schema.ParamRegex:
			value, set := a.New.Params[param]
			if set && ec.Policy.Strict() {
				err = ec.Run(ctx, targets, checkOp(a.doc, newKey, param, value))
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *AlterField) convertOp(ec *ExecContext, key string) updater.Operation {
	m := ec.matrix()
	serverType := m.ServerType(a.Old, a.New)
	bulkable := serverType != "" && (m.Kind(a.Old, a.New) == convert.Lossless || !ec.Policy.Strict())
	policy := ec.Policy

	return updater.Operation{
		Name:     fmt.Sprintf("convert %s.%s from %s to %s", a.doc, a.Field, a.Old.TypeKey, a.New.TypeKey),
		Requires: []updater.Capability{updater.CapPipelineUpdate},
		Bulk: func(t updater.Target) (bson.M, any, bool) {
			if !bulkable {
				return nil, nil, false
			}
			path := t.FieldPath(key)
			conv := bson.M{"input": "$" + path, "to": serverType, "onNull": nil}
			if !policy.Strict() {
				conv["onError"] = "$" + path
			}
			filter := bson.M{path: bson.M{"$exists": true, "$ne": nil}}
			update := bson.A{bson.M{"$set": bson.M{path: bson.M{"$convert": conv}}}}
			return filter, update, true
		},
		Record: func(rec updater.Record, doc bson.M) (bool, error) {
			v, ok := doc[key]
			if !ok || v == nil {
				return false, nil
			}
			c := &convert.Converter{
				Matrix: m,
				Policy: policy,
				OnSkip: func(path string, value any, err error) {
					field := key
					if path != "" {
						field = key + "." + path
					}
					rec.Skipped(field, value, err)
				},
			}
			out, err := c.Convert(v, a.Old, a.New)
			if err != nil {
				return false, rec.Fail(key, err)
			}
			if reflect.DeepEqual(out, v) {
				return false, nil
			}
			if out == nil {
				delete(doc, key)
			} else {
				doc[key] = out
			}
			return true, nil
		},
	}
}

func renameKeyOp(doc, from, to string) updater.Operation {
	return updater.Operation{
		Name:     fmt.Sprintf("rename %s.%s to %s", doc, from, to),
		Requires: []updater.Capability{updater.CapUpdateOperators},
		Bulk: func(t updater.Target) (bson.M, any, bool) {
			src, dst := t.FieldPath(from), t.FieldPath(to)
			return bson.M{src: bson.M{"$exists": true}}, bson.M{"$rename": bson.M{src: dst}}, true
		},
		Record: func(_ updater.Record, d bson.M) (bool, error) {
			v, ok := d[from]
			if !ok {
				return false, nil
			}
			delete(d, from)
			d[to] = v
			return true, nil
		},
	}
}

// checkOp verifies a constraint parameter against stored values without
// changing them.
func checkOp(doc, key, param string, limit any) updater.Operation {
	return updater.Operation{
		Name: fmt.Sprintf("check %s.%s %s", doc, key, param),
		Record: func(rec updater.Record, d bson.M) (bool, error) {
			v, ok := d[key]
			if !ok || v == nil {
				return false, nil
			}
			if err := checkConstraint(param, limit, v); err != nil {
				return false, rec.Fail(key, err)
			}
			return false, nil
		},
	}
}

func checkConstraint(param string, limit, v any) error {
	switch param {
	case schema.ParamMaxLength, schema.ParamMinLength:
		n, ok := toFloat(limit)
		if !ok {
			return nil
		}
		length := -1
		switch val := v.(type) {
		case string:
			length = utf8.RuneCountInString(val)
		case bson.A:
			length = len(val)
		case []any:
			length = len(val)
		}
		if length < 0 {
			return nil
		}
		if param == schema.ParamMaxLength && float64(length) > n {
			return types.ConversionErrorf("length %d exceeds max_length %v", length, limit)
		}
		if param == schema.ParamMinLength && float64(length) < n {
			return types.ConversionErrorf("length %d is below min_length %v", length, limit)
		}
	case schema.ParamMinValue, schema.ParamMaxValue:
		bound, ok := toFloat(limit)
		value, isNum := toFloat(v)
		if !ok || !isNum {
			return nil
		}
		if param == schema.ParamMinValue && value < bound {
			return types.ConversionErrorf("%v is below min_value %v", v, limit)
		}
		if param == schema.ParamMaxValue && value > bound {
			return types.ConversionErrorf("%v exceeds max_value %v", v, limit)
		}
	case schema.ParamChoices:
		choices, ok := limit.([]any)
		if !ok {
			return nil
		}
		for _, c := range choices {
			if schema.ValuesEqual(c, v) {
				return nil
			}
		}
		return types.ConversionErrorf("%v is not one of the choices", v)
	case schema.ParamRegex:
		pattern, ok := limit.(string)
		s, isStr := v.(string)
		if !ok || !isStr {
			return nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return types.SchemaErrorf("invalid regex %q: %v", pattern, err)
		}
		if !re.MatchString(s) {
			return types.ConversionErrorf("%q does not match %q", s, pattern)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func (a *AlterField) Spec() Spec {
	s := a.spec(KindAlterField, a.doc, a.Field)
	if a.changes != nil {
		s.Params = a.changes
		return s
	}
	s.Params = fieldChanges(a.Old, a.New)
	s.Old = fieldParams(a.Old)
	return s
}

func decodeAlterField(s Spec) (Action, error) {
	doc, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	field, err := s.argString(1, "field")
	if err != nil {
		return nil, err
	}
	if s.Old == nil {
		changes := s.Params
		if changes == nil {
			changes = map[string]any{}
		}
		return &AlterField{base: newBase(KindAlterField, doc), Field: field, changes: changes}, nil
	}
	old, err := fieldFromParams(s.Old)
	if err != nil {
		return nil, err
	}
	newDef, err := applyFieldChanges(old, s.Params)
	if err != nil {
		return nil, err
	}
	return NewAlterField(doc, field, old, newDef), nil
}
