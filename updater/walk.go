package updater

import (
	"sort"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
)

// walk calls fn for every sub-document reached by path. Missing values and
// values of the wrong shape are skipped.
func walk(value any, path []string, at string, fn func(doc bson.M, at string) error) error {
	if len(path) == 0 {
		doc, ok := asDocument(value)
		if !ok {
			return nil
		}
		return fn(doc, at)
	}

	seg, rest := path[0], path[1:]
	switch seg {
	case EachItem:
		items, ok := value.(bson.A)
		if !ok {
			if plain, isSlice := value.([]any); isSlice {
				items, ok = plain, true
			}
		}
		if !ok {
			return nil
		}
		for i, item := range items {
			if err := walk(item, rest, join(at, strconv.Itoa(i)), fn); err != nil {
				return err
			}
		}
		return nil
	case EachValue:
		doc, ok := asDocument(value)
		if !ok {
			return nil
		}
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := walk(doc[k], rest, join(at, k), fn); err != nil {
				return err
			}
		}
		return nil
	}

	doc, ok := asDocument(value)
	if !ok {
		return nil
	}
	return walk(doc[seg], rest, join(at, seg), fn)
}

func asDocument(v any) (bson.M, bool) {
	switch val := v.(type) {
	case bson.M:
		return val, true
	case map[string]any:
		return bson.M(val), true
	}
	return nil, false
}

func join(at, seg string) string {
	if at == "" {
		return seg
	}
	return at + "." + seg
}
