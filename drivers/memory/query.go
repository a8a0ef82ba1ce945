package memory

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/schema"
)

// Match evaluates the subset of the query language the migration engine
// emits: equality, $exists, $ne, $in, $type "object" and $and, on dotted
// paths.
func Match(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		if key == "$and" {
			parts, ok := cond.(bson.A)
			if !ok {
				if arr, isArr := cond.([]any); isArr {
					parts = arr
				} else {
					return false, fmt.Errorf("$and expects an array, got %T", cond)
				}
			}
			for _, p := range parts {
				sub, ok := asMap(p)
				if !ok {
					return false, fmt.Errorf("$and element must be a document, got %T", p)
				}
				matched, err := Match(doc, sub)
				if err != nil || !matched {
					return false, err
				}
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return false, fmt.Errorf("unsupported query operator %s", key)
		}
		v, exists := Lookup(doc, key)
		matched, err := matchValue(v, exists, cond)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func matchValue(v any, exists bool, cond any) (bool, error) {
	ops, ok := asMap(cond)
	if !ok || !isOperatorDoc(ops) {
		return exists && schema.ValuesEqual(v, cond), nil
	}
	for op, arg := range ops {
		switch op {
		case "$exists":
			want, _ := arg.(bool)
			if exists != want {
				return false, nil
			}
		case "$ne":
			if exists && schema.ValuesEqual(v, arg) {
				return false, nil
			}
		case "$in":
			list, ok := asList(arg)
			if !ok {
				return false, fmt.Errorf("$in expects an array, got %T", arg)
			}
			found := false
			for _, item := range list {
				if exists && schema.ValuesEqual(v, item) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case "$type":
			if arg != "object" {
				return false, fmt.Errorf("unsupported $type %v", arg)
			}
			if _, isDoc := asMap(v); !exists || !isDoc {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported query operator %s", op)
		}
	}
	return true, nil
}

func isOperatorDoc(m bson.M) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// Lookup resolves a dotted path through documents and array indexes.
func Lookup(doc bson.M, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch c := cur.(type) {
		case bson.M:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case bson.A, []any:
			list, _ := asList(c)
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(list) {
				return nil, false
			}
			cur = list[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func applyUpdate(doc bson.M, update bson.M) error {
	for op, arg := range update {
		fields, ok := asMap(arg)
		if !ok {
			return fmt.Errorf("%s expects a document, got %T", op, arg)
		}
		switch op {
		case "$set":
			for path, v := range fields {
				if err := setPath(doc, path, v); err != nil {
					return err
				}
			}
		case "$unset":
			for path := range fields {
				unsetPath(doc, path)
			}
		case "$rename":
			for from, to := range fields {
				dst, ok := to.(string)
				if !ok {
					return fmt.Errorf("$rename target must be a string, got %T", to)
				}
				v, exists := Lookup(doc, from)
				if !exists {
					continue
				}
				unsetPath(doc, from)
				if err := setPath(doc, dst, v); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("unsupported update operator %s", op)
		}
	}
	return nil
}

func setPath(doc bson.M, path string, v any) error {
	segs := strings.Split(path, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			child := bson.M{}
			cur[seg] = child
			cur = child
			continue
		}
		m, ok := asMap(next)
		if !ok {
			return fmt.Errorf("cannot set %s: %s is a %T", path, seg, next)
		}
		cur[seg] = m
		cur = m
	}
	cur[segs[len(segs)-1]] = v
	return nil
}

func unsetPath(doc bson.M, path string) {
	segs := strings.Split(path, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		m, ok := asMap(cur[seg])
		if !ok {
			return
		}
		cur[seg] = m
		cur = m
	}
	delete(cur, segs[len(segs)-1])
}

func asMap(v any) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return bson.M(m), true
	case bson.D:
		return m.Map(), true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case bson.A:
		return l, true
	case []any:
		return l, true
	}
	return nil, false
}
