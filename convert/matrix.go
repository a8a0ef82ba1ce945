package convert

import (
	"sync"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// Kind classifies a conversion.
type Kind int

const (
	Unsupported Kind = iota
	// Lossless conversions never fail and keep all information.
	Lossless
	// Lossy conversions may fail or drop information.
	Lossy
)

func (k Kind) String() string {
	switch k {
	case Lossless:
		return "lossless"
	case Lossy:
		return "lossy"
	}
	return "unsupported"
}

// Func converts one scalar value. The field schemas carry the parameters of
// both sides.
type Func func(v any, from, to schema.Field) (any, error)

// Entry is one edge of the conversion matrix.
type Entry struct {
	From    schema.TypeKey
	To      schema.TypeKey
	Kind    Kind
	Convert Func
	// ServerType is the "$convert" target the server can apply in bulk, or ""
	// when the conversion only runs client side.
	ServerType string
}

type pair struct{ from, to schema.TypeKey }

// Matrix registers conversions between type keys.
type Matrix struct {
	mu      sync.RWMutex
	entries map[pair]Entry
}

// NewMatrix returns an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{entries: make(map[pair]Entry)}
}

var (
	defaultMatrix     *Matrix
	defaultMatrixOnce sync.Once
)

// Default returns the matrix with every built in conversion.
func Default() *Matrix {
	defaultMatrixOnce.Do(func() {
		defaultMatrix = NewMatrix()
		registerBuiltins(defaultMatrix)
	})
	return defaultMatrix
}

// Register adds or replaces an entry.
func (m *Matrix) Register(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pair{e.From, e.To}] = e
}

// Lookup resolves the entry for a type change. Identity changes always resolve.
func (m *Matrix) Lookup(from, to schema.TypeKey) (Entry, error) {
	if from == to {
		return Entry{From: from, To: to, Kind: Lossless, Convert: identity}, nil
	}
	m.mu.RLock()
	e, ok := m.entries[pair{from, to}]
	m.mu.RUnlock()
	if !ok || e.Kind == Unsupported || e.Convert == nil {
		return Entry{}, types.ConversionErrorf("no converter from %s to %s", from, to)
	}
	return e, nil
}

// Check verifies that a converter exists for a field change, including
// element types of containers.
func (m *Matrix) Check(from, to schema.Field) error {
	if from.TypeKey == to.TypeKey && from.TypeKey.Container() {
		if from.Elem == nil || to.Elem == nil {
			return nil
		}
		return m.Check(*from.Elem, *to.Elem)
	}
	if from.TypeKey == to.TypeKey {
		return nil
	}
	if to.TypeKey == schema.TypeList && to.Elem != nil {
		// scalar into list wraps the converted scalar
		return m.Check(from, *to.Elem)
	}
	if from.TypeKey == schema.TypeList && from.Elem != nil {
		// list into scalar extracts the first element
		return m.Check(*from.Elem, to)
	}
	_, err := m.Lookup(from.TypeKey, to.TypeKey)
	return err
}

// Kind returns the conversion kind for a field change.
func (m *Matrix) Kind(from, to schema.Field) Kind {
	if err := m.Check(from, to); err != nil {
		return Unsupported
	}
	if from.TypeKey == to.TypeKey {
		if from.Elem != nil && to.Elem != nil {
			return m.Kind(*from.Elem, *to.Elem)
		}
		return Lossless
	}
	if from.TypeKey.Container() || to.TypeKey.Container() {
		return Lossy
	}
	e, _ := m.Lookup(from.TypeKey, to.TypeKey)
	return e.Kind
}

// ServerType returns the "$convert" target for a scalar change, or "".
func (m *Matrix) ServerType(from, to schema.Field) string {
	if from.TypeKey.Container() || to.TypeKey.Container() {
		return ""
	}
	e, err := m.Lookup(from.TypeKey, to.TypeKey)
	if err != nil {
		return ""
	}
	return e.ServerType
}

func identity(v any, _, _ schema.Field) (any, error) { return v, nil }
