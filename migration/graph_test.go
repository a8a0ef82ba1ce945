package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/types"
)

func mig(name string, deps ...string) *Migration {
	return &Migration{Name: name, Dependencies: deps, Policy: types.PolicyStrict}
}

func stepNames(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Migration.Name
		if s.Direction == types.Backward {
			out[i] = "-" + out[i]
		}
	}
	return out
}

func TestPathToOrdersIndependentDependenciesByName(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAll([]*Migration{mig("C", "A", "B"), mig("B"), mig("A")}))

	steps, err := g.PathTo("C", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, stepNames(steps))
	assert.Equal(t, []string{"C"}, g.Heads())
}

func TestPathToSkipsAppliedAndUnrelated(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAll([]*Migration{
		mig("0001"), mig("0002", "0001"), mig("0003", "0002"), mig("side", "0001"),
	}))

	steps, err := g.PathTo("0003", []string{"0001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0002", "0003"}, stepNames(steps))

	steps, err = g.Pending([]string{"0001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0002", "0003", "side"}, stepNames(steps))
	assert.Equal(t, []string{"0003", "side"}, g.Heads())
}

func TestPathToBackwardFollowsAppliedOrder(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAll([]*Migration{mig("A"), mig("B"), mig("C", "A", "B")}))

	// B was applied before A
	applied := []string{"B", "A", "C"}
	steps, err := g.PathTo("B", applied)
	require.NoError(t, err)
	assert.Equal(t, []string{"-C", "-A"}, stepNames(steps))

	steps, err = g.PathTo(Zero, applied)
	require.NoError(t, err)
	assert.Equal(t, []string{"-C", "-A", "-B"}, stepNames(steps))

	steps, err = g.PathTo("C", applied)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestCycleIsRejectedAndGraphUnchanged(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(mig("A")))

	err := g.AddAll([]*Migration{mig("B", "A", "D"), mig("C", "B"), mig("D", "C")})
	require.Error(t, err)
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))
	assert.Contains(t, err.Error(), "cycle")

	assert.Equal(t, 1, g.Len())
	assert.Equal(t, []string{"A"}, g.Names())
	assert.Equal(t, []string{"A"}, g.Heads())
}

func TestGraphErrors(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(mig("A")))

	tests := []struct {
		name string
		run  func() error
	}{
		{"unknown dependency", func() error { return g.Add(mig("B", "missing")) }},
		{"duplicate", func() error { return g.Add(mig("A")) }},
		{"reserved name", func() error { return g.Add(mig(Zero)) }},
		{"unknown target", func() error { _, err := g.PathTo("nope", nil); return err }},
		{"applied migration not in graph", func() error { _, err := g.PathTo("A", []string{"gone"}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.Equal(t, types.ExitGraph, types.ExitCode(err))
		})
	}
}

func TestVerifyRejectsInconsistentHistory(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAll([]*Migration{mig("A"), mig("B", "A")}))

	require.NoError(t, g.Verify([]string{"A", "B"}))
	err := g.Verify([]string{"B"})
	require.Error(t, err)
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAll([]*Migration{
		mig("e", "c", "d"), mig("d", "b"), mig("c", "a"), mig("b", "a"), mig("a"), mig("f"),
	}))

	order := g.Names()
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	for _, name := range order {
		m, _ := g.Get(name)
		for _, dep := range m.Dependencies {
			assert.Less(t, pos[dep], pos[name], "%s before %s", dep, name)
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, order)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true, "d": true}, g.Ancestors("e"))
}
