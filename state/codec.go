package state

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// EncodeSchema serializes a schema for stores that keep it as text.
func EncodeSchema(s schema.State) ([]byte, error) {
	if s == nil {
		s = schema.State{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, types.SchemaErrorf("encode schema: %v", err)
	}
	return data, nil
}

// DecodeSchema is the inverse of EncodeSchema. Empty input yields an empty
// schema.
func DecodeSchema(data []byte) (schema.State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return schema.State{}, nil
	}
	var s schema.State
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&s); err != nil {
		return nil, types.SchemaErrorf("decode schema: %v", err)
	}
	return s.Normalized(), nil
}

// EncodeProgress serializes a progress marker; nil encodes as nil.
func EncodeProgress(p *Progress) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, types.SchemaErrorf("encode progress: %v", err)
	}
	return data, nil
}

// DecodeProgress is the inverse of EncodeProgress.
func DecodeProgress(data []byte) (*Progress, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, types.SchemaErrorf("decode progress: %v", err)
	}
	return &p, nil
}
