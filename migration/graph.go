package migration

import (
	"sort"
	"strings"

	"github.com/rediwo/redi-migrate/types"
)

// Zero is the downgrade target that unapplies every migration.
const Zero = "zero"

// Graph holds migrations and their dependency edges.
type Graph struct {
	nodes map[string]*Migration
	// children maps a migration to the migrations depending on it.
	children map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: map[string]*Migration{}, children: map[string][]string{}}
}

// Add inserts one migration. Its dependencies must already be present.
func (g *Graph) Add(m *Migration) error {
	return g.AddAll([]*Migration{m})
}

// AddAll inserts a set of migrations whose dependencies are either already
// present or part of the set. Nothing is added when the set is rejected.
func (g *Graph) AddAll(ms []*Migration) error {
	batch := make(map[string]*Migration, len(ms))
	for _, m := range ms {
		if m.Name == "" || m.Name == Zero {
			return types.GraphErrorf("invalid migration name %q", m.Name)
		}
		if _, exists := g.nodes[m.Name]; exists {
			return types.GraphErrorf("migration %s already exists", m.Name)
		}
		if _, dup := batch[m.Name]; dup {
			return types.GraphErrorf("migration %s is defined twice", m.Name)
		}
		batch[m.Name] = m
	}
	for _, m := range ms {
		for _, dep := range m.Dependencies {
			if _, ok := g.nodes[dep]; ok {
				continue
			}
			if _, ok := batch[dep]; !ok {
				return types.GraphErrorf("migration %s depends on unknown migration %s", m.Name, dep)
			}
		}
	}

	// existing nodes are acyclic and cannot depend on new ones, so any cycle
	// lies inside the batch
	if cycle := findCycle(batch); len(cycle) > 0 {
		return types.GraphErrorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	for name, m := range batch {
		g.nodes[name] = m
	}
	for _, m := range ms {
		for _, dep := range m.Dependencies {
			g.children[dep] = append(g.children[dep], m.Name)
		}
	}
	return nil
}

// findCycle returns the nodes of one cycle among ms, or nil.
func findCycle(ms map[string]*Migration) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	color := make(map[string]int, len(ms))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = visiting
		stack = append(stack, name)
		deps := append([]string(nil), ms[name].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, inBatch := ms[dep]; !inBatch {
				continue
			}
			switch color[dep] {
			case visiting:
				for i, n := range stack {
					if n == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						break
					}
				}
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = done
		return false
	}

	names := make([]string, 0, len(ms))
	for n := range ms {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if color[n] == unvisited && visit(n) {
			return cycle
		}
	}
	return nil
}

// Get returns a migration by name.
func (g *Graph) Get(name string) (*Migration, bool) {
	m, ok := g.nodes[name]
	return m, ok
}

// Len returns the number of migrations.
func (g *Graph) Len() int { return len(g.nodes) }

// Names returns all migration names in topological order.
func (g *Graph) Names() []string {
	return g.topo(nil)
}

// Heads returns the migrations nothing depends on, sorted by name.
func (g *Graph) Heads() []string {
	var out []string
	for name := range g.nodes {
		if len(g.children[name]) == 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Ancestors returns the transitive dependencies of name.
func (g *Graph) Ancestors(name string) map[string]bool {
	out := map[string]bool{}
	var visit func(string)
	visit = func(n string) {
		for _, dep := range g.nodes[n].Dependencies {
			if !out[dep] {
				out[dep] = true
				visit(dep)
			}
		}
	}
	if _, ok := g.nodes[name]; ok {
		visit(name)
	}
	return out
}

// topo orders the selected nodes (all when include is nil) with Kahn's
// algorithm, breaking ties by name.
func (g *Graph) topo(include map[string]bool) []string {
	indegree := map[string]int{}
	for name, m := range g.nodes {
		if include != nil && !include[name] {
			continue
		}
		n := 0
		for _, dep := range m.Dependencies {
			if include == nil || include[dep] {
				n++
			}
		}
		indegree[name] = n
	}

	var ready []string
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	out := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		for _, child := range g.children[n] {
			if _, ok := indegree[child]; !ok {
				continue
			}
			indegree[child]--
			if indegree[child] == 0 {
				ready = insertSorted(ready, child)
			}
		}
	}
	return out
}

func insertSorted(list []string, s string) []string {
	i := sort.SearchStrings(list, s)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}

// Verify checks an applied history against the graph: every applied
// migration must be known and applied after all of its dependencies.
func (g *Graph) Verify(applied []string) error {
	seen := make(map[string]bool, len(applied))
	for _, name := range applied {
		m, ok := g.nodes[name]
		if !ok {
			return types.GraphErrorf("applied migration %s is not in the migrations directory", name)
		}
		for _, dep := range m.Dependencies {
			if !seen[dep] {
				return types.GraphErrorf("migration %s is applied but its dependency %s is not", name, dep)
			}
		}
		seen[name] = true
	}
	return nil
}

// PathTo computes the steps that bring the applied history to target.
// An unapplied target is reached forward through its unapplied
// dependencies in topological order. An applied target, or Zero, is
// reached backward by unapplying the history in reverse down to, but not
// including, target.
func (g *Graph) PathTo(target string, applied []string) ([]Step, error) {
	if err := g.Verify(applied); err != nil {
		return nil, err
	}
	isApplied := make(map[string]bool, len(applied))
	for _, name := range applied {
		isApplied[name] = true
	}

	if target != Zero {
		if _, ok := g.nodes[target]; !ok {
			return nil, types.GraphErrorf("unknown migration %s", target)
		}
	}

	if target != Zero && !isApplied[target] {
		include := g.Ancestors(target)
		include[target] = true
		for name := range isApplied {
			delete(include, name)
		}
		var steps []Step
		for _, name := range g.topo(include) {
			steps = append(steps, Step{Migration: g.nodes[name], Direction: types.Forward})
		}
		return steps, nil
	}

	var steps []Step
	for i := len(applied) - 1; i >= 0; i-- {
		if applied[i] == target {
			break
		}
		steps = append(steps, Step{Migration: g.nodes[applied[i]], Direction: types.Backward})
	}
	return steps, nil
}

// Pending returns every unapplied migration in topological order.
func (g *Graph) Pending(applied []string) ([]Step, error) {
	if err := g.Verify(applied); err != nil {
		return nil, err
	}
	include := make(map[string]bool, len(g.nodes))
	for name := range g.nodes {
		include[name] = true
	}
	for _, name := range applied {
		delete(include, name)
	}
	var steps []Step
	for _, name := range g.topo(include) {
		steps = append(steps, Step{Migration: g.nodes[name], Direction: types.Forward})
	}
	return steps, nil
}
