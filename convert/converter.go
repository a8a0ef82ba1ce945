package convert

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// Converter applies a field type change to stored values under a policy.
type Converter struct {
	Matrix *Matrix
	Policy types.Policy
	// OnSkip is called under the relaxed policy for every value left
	// unconverted. path is relative to the converted value.
	OnSkip func(path string, value any, err error)
}

// NewConverter returns a converter over the default matrix.
func NewConverter(policy types.Policy) *Converter {
	return &Converter{Matrix: Default(), Policy: policy}
}

// Convert converts v from one field schema to another. Missing and null
// values are returned unchanged. Under the strict policy the first failure is
// returned as a ConversionError; under the relaxed policy failing values are
// kept as they are.
func (c *Converter) Convert(v any, from, to schema.Field) (any, error) {
	return c.convert("", v, from, to)
}

func (c *Converter) convert(path string, v any, from, to schema.Field) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch {
	case from.TypeKey == to.TypeKey && from.TypeKey == schema.TypeList:
		if from.Elem == nil || to.Elem == nil {
			return v, nil
		}
		return c.convertList(path, v, *from.Elem, *to.Elem)

	case from.TypeKey == to.TypeKey && from.TypeKey == schema.TypeDict:
		if from.Elem == nil || to.Elem == nil {
			return v, nil
		}
		return c.convertDict(path, v, *from.Elem, *to.Elem)

	case from.TypeKey != schema.TypeList && to.TypeKey == schema.TypeList:
		if _, isList := asList(v); isList {
			// already a list, convert its elements
			if to.Elem == nil {
				return v, nil
			}
			return c.convertList(path, v, from, *to.Elem)
		}
		if to.Elem == nil {
			return bson.A{v}, nil
		}
		item, err := c.convert(path, v, from, *to.Elem)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return bson.A{}, nil
		}
		return bson.A{item}, nil

	case from.TypeKey == schema.TypeList && to.TypeKey != schema.TypeList:
		items, ok := asList(v)
		if !ok {
			return c.scalar(path, v, from, to)
		}
		if len(items) == 0 {
			return nil, nil
		}
		elem := from
		if from.Elem != nil {
			elem = *from.Elem
		}
		return c.convert(path+".0", items[0], elem, to)
	}

	return c.scalar(path, v, from, to)
}

func (c *Converter) scalar(path string, v any, from, to schema.Field) (any, error) {
	entry, err := c.Matrix.Lookup(from.TypeKey, to.TypeKey)
	if err != nil {
		return nil, err
	}
	out, err := entry.Convert(v, from, to)
	if err == nil {
		return out, nil
	}
	return c.fail(path, v, err)
}

func (c *Converter) fail(path string, v any, err error) (any, error) {
	if c.Policy.Strict() {
		if path != "" {
			return nil, types.ConversionErrorf("%s: %v", path[1:], err)
		}
		return nil, types.ConversionErrorf("%v", err)
	}
	if c.OnSkip != nil {
		c.OnSkip(trimDot(path), v, err)
	} else {
		logger.Warn("Leaving value %v unconverted: %v", v, err)
	}
	return v, nil
}

func (c *Converter) convertList(path string, v any, from, to schema.Field) (any, error) {
	items, ok := asList(v)
	if !ok {
		return c.fail(path, v, fmt.Errorf("expected a list, got %T", v))
	}
	if len(items) == 0 {
		return v, nil
	}
	out := make(bson.A, len(items))
	for i, item := range items {
		converted, err := c.convert(fmt.Sprintf("%s.%d", path, i), item, from, to)
		if err != nil {
			return nil, err
		}
		out[i] = converted
	}
	return out, nil
}

func (c *Converter) convertDict(path string, v any, from, to schema.Field) (any, error) {
	m, ok := asMap(v)
	if !ok {
		return c.fail(path, v, fmt.Errorf("expected a mapping, got %T", v))
	}
	if len(m) == 0 {
		return v, nil
	}
	out := make(bson.M, len(m))
	for k, item := range m {
		converted, err := c.convert(path+"."+k, item, from, to)
		if err != nil {
			return nil, err
		}
		out[k] = converted
	}
	return out, nil
}

func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case bson.A:
		return val, true
	case []any:
		return val, true
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case bson.M:
		return val, true
	case map[string]any:
		return val, true
	case primitive.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}

func trimDot(p string) string {
	if len(p) > 0 && p[0] == '.' {
		return p[1:]
	}
	return p
}
