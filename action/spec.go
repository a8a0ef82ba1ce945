package action

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// Spec is the serializable form of an action: the positional and named
// arguments of its call form plus the prior values alter actions need to
// be inverted.
type Spec struct {
	Kind     Kind           `json:"kind"`
	Args     []any          `json:"args"`
	Params   map[string]any `json:"params,omitempty"`
	Old      map[string]any `json:"old,omitempty"`
	Dummy    bool           `json:"dummy,omitempty"`
	Priority int            `json:"priority,omitempty"`
}

// Decoder builds an action from its spec.
type Decoder func(s Spec) (Action, error)

var (
	decoders   = map[Kind]Decoder{}
	decodersMu sync.RWMutex
)

// Register makes an action kind decodable. It panics on duplicates.
func Register(kind Kind, d Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	if _, exists := decoders[kind]; exists {
		panic(fmt.Sprintf("action kind %s already registered", kind))
	}
	decoders[kind] = d
}

// Kinds returns the registered kinds, sorted.
func Kinds() []Kind {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	out := make([]Kind, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decode resolves the kind of s and builds the action.
func Decode(s Spec) (Action, error) {
	decodersMu.RLock()
	d, ok := decoders[s.Kind]
	decodersMu.RUnlock()
	if !ok {
		return nil, types.SchemaErrorf("unknown action kind %q", s.Kind)
	}
	s.Args = normalizeSlice(s.Args)
	s.Params = normalizeMap(s.Params)
	s.Old = normalizeMap(s.Old)
	a, err := d(s)
	if err != nil {
		return nil, err
	}
	a.SetDummy(s.Dummy)
	if s.Priority != 0 {
		a.SetPriority(s.Priority)
	}
	return a, nil
}

func init() {
	Register(KindCreateDocument, decodeCreateDocument)
	Register(KindDropDocument, decodeDropDocument)
	Register(KindRenameDocument, decodeRenameDocument)
	Register(KindAlterDocument, decodeAlterDocument)
	Register(KindCreateField, decodeCreateField)
	Register(KindDropField, decodeDropField)
	Register(KindRenameField, decodeRenameField)
	Register(KindAlterField, decodeAlterField)
	Register(KindCreateIndex, decodeCreateIndex)
	Register(KindDropIndex, decodeDropIndex)
	Register(KindRenameIndex, decodeRenameIndex)
	Register(KindRunCustom, decodeRunCustom)
}

func normalizeValue(v any) any { return schema.NormalizeValue(v) }

func normalizeSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = normalizeValue(v)
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

// argString returns positional argument i as a string.
func (s Spec) argString(i int, what string) (string, error) {
	if i >= len(s.Args) {
		return "", types.SchemaErrorf("%s: missing %s", s.Kind, what)
	}
	str, ok := s.Args[i].(string)
	if !ok || str == "" {
		return "", types.SchemaErrorf("%s: %s must be a non-empty string", s.Kind, what)
	}
	return str, nil
}

// paramString returns a named string parameter, or "" when absent.
func (s Spec) paramString(name string) (string, error) {
	v, ok := s.Params[name]
	if !ok || v == nil {
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", types.SchemaErrorf("%s: %s must be a string", s.Kind, name)
	}
	return str, nil
}

func (s Spec) requireParamString(name string) (string, error) {
	str, err := s.paramString(name)
	if err == nil && str == "" {
		err = types.SchemaErrorf("%s: %s is required", s.Kind, name)
	}
	return str, err
}

func (s Spec) paramBool(name string) (bool, error) {
	v, ok := s.Params[name]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, types.SchemaErrorf("%s: %s must be a boolean", s.Kind, name)
	}
	return b, nil
}
