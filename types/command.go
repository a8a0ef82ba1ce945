package types

import (
	"fmt"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Command is a storage mutation as recorded by a dry run.
type Command struct {
	Operation  string `json:"operation"`
	Collection string `json:"collection"`
	Filter     bson.M `json:"filter,omitempty"`
	Update     any    `json:"update,omitempty"`
	Documents  int    `json:"documents,omitempty"`
	Target     string `json:"target,omitempty"`
	Options    bson.M `json:"options,omitempty"`
}

// ToJSON renders the command with BSON values converted to plain JSON values.
func (c *Command) ToJSON() (string, error) {
	out := map[string]any{
		"operation":  c.Operation,
		"collection": c.Collection,
	}
	if c.Filter != nil {
		out["filter"] = PlainValue(c.Filter)
	}
	if c.Update != nil {
		out["update"] = PlainValue(c.Update)
	}
	if c.Documents > 0 {
		out["documents"] = c.Documents
	}
	if c.Target != "" {
		out["target"] = c.Target
	}
	if c.Options != nil {
		out["options"] = PlainValue(c.Options)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal command: %w", err)
	}
	return string(data), nil
}

func (c *Command) String() string {
	s, err := c.ToJSON()
	if err != nil {
		return fmt.Sprintf("%s %s", c.Operation, c.Collection)
	}
	return s
}

// PlainValue converts BSON container and scalar types into JSON friendly values.
func PlainValue(v any) any {
	switch val := v.(type) {
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = PlainValue(e.Value)
		}
		return m
	case bson.M:
		return plainMap(val)
	case map[string]any:
		return plainMap(val)
	case bson.A:
		return plainSlice(val)
	case []any:
		return plainSlice(val)
	case []bson.M:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = PlainValue(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	case primitive.Decimal128:
		return val.String()
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = PlainValue(v)
	}
	return out
}

func plainSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = PlainValue(v)
	}
	return out
}
