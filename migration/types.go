package migration

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/rediwo/redi-migrate/action"
	"github.com/rediwo/redi-migrate/types"
)

// Migration is a named, dependency-ordered chain of actions. It is not
// modified once written.
type Migration struct {
	Name         string
	Dependencies []string
	Policy       types.Policy
	Actions      []action.Action
}

// Step is one migration of a path together with its direction.
type Step struct {
	Migration *Migration
	Direction types.Direction
}

// Chain returns the actions to run in the given direction. Backward is the
// forward chain inverted action by action and reversed; it needs the
// forward actions prepared, see Graph.Prepare.
func (m *Migration) Chain(d types.Direction) ([]action.Action, error) {
	if d == types.Forward {
		return m.Actions, nil
	}
	chain, err := Invert(m.Actions)
	if err != nil {
		return nil, fmt.Errorf("migration %s: %w", m.Name, err)
	}
	return chain, nil
}

// Invert returns the inverse of a chain.
func Invert(chain []action.Action) ([]action.Action, error) {
	out := make([]action.Action, len(chain))
	for i, a := range chain {
		inv, err := a.Inverse()
		if err != nil {
			return nil, err
		}
		out[len(chain)-1-i] = inv
	}
	return out, nil
}

// Specs returns the serializable form of the forward chain.
func (m *Migration) Specs() []action.Spec {
	out := make([]action.Spec, len(m.Actions))
	for i, a := range m.Actions {
		out[i] = a.Spec()
	}
	return out
}

// Checksum fingerprints the dependencies, the policy and the encoded chain.
func (m *Migration) Checksum() (string, error) {
	data, err := json.Marshal(m.Specs())
	if err != nil {
		return "", fmt.Errorf("encode actions of %s: %w", m.Name, err)
	}
	h := xxhash.New()
	for _, dep := range m.Dependencies {
		_, _ = h.WriteString("dep:" + dep + "\n")
	}
	_, _ = h.WriteString("policy:" + string(m.Policy) + "\n")
	_, _ = h.Write(data)
	return strconv.FormatUint(h.Sum64(), 16), nil
}
