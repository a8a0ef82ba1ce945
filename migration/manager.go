package migration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/rediwo/redi-migrate/action"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

// Options configure a Manager.
type Options struct {
	MigrationsDir string
	// Policy is written into generated migrations.
	Policy types.Policy
	Run    RunOptions
}

// Manager implements the command surface: generating migrations and
// moving the database along the migration graph.
type Manager struct {
	store   state.Store
	storage types.Storage
	writer  types.Storage
	files   *FileManager
	differ  *Differ
	log     logger.Logger
	options Options
	now     func() time.Time
}

// NewManager creates a manager. storage and writer may be nil for
// operations that do not touch records.
func NewManager(store state.Store, storage, writer types.Storage, log logger.Logger, options Options) *Manager {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if options.MigrationsDir == "" {
		options.MigrationsDir = "./migrations"
	}
	if options.Policy == "" {
		options.Policy = types.PolicyStrict
	}
	return &Manager{
		store:   store,
		storage: storage,
		writer:  writer,
		files:   NewFileManager(options.MigrationsDir),
		differ:  NewDiffer(log),
		log:     log,
		options: options,
		now:     time.Now,
	}
}

// Files returns the migration file manager.
func (m *Manager) Files() *FileManager { return m.files }

// Graph loads the migration graph from disk.
func (m *Manager) Graph() (*Graph, error) {
	return m.files.LoadGraph()
}

// Replay returns the schema produced by applying every migration of the
// graph in topological order to an empty state.
func Replay(g *Graph) (schema.State, error) {
	return replay(g, g.Names())
}

// PrepareBackward replays the named migrations and their ancestors so their
// actions learn the definitions they replace. Backward chains of migrations
// decoded from files without those definitions cannot be built otherwise.
func (g *Graph) PrepareBackward(names ...string) error {
	include := map[string]bool{}
	for _, name := range names {
		if _, ok := g.nodes[name]; !ok {
			return types.GraphErrorf("unknown migration %s", name)
		}
		include[name] = true
		for dep := range g.Ancestors(name) {
			include[dep] = true
		}
	}
	if len(include) == 0 {
		return nil
	}
	_, err := replay(g, g.topo(include))
	return err
}

func replay(g *Graph, names []string) (schema.State, error) {
	s := schema.State{}
	for _, name := range names {
		mig, _ := g.Get(name)
		next, err := Simulate(s, mig.Actions)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", name, err)
		}
		s = next
	}
	return s, nil
}

// MakeMigrations compares the schema the existing migrations produce with
// desired and writes a new migration holding the difference. It returns
// nil when there is nothing to do.
func (m *Manager) MakeMigrations(desired schema.State, label string) (*Migration, error) {
	g, err := m.Graph()
	if err != nil {
		return nil, err
	}
	current, err := Replay(g)
	if err != nil {
		return nil, err
	}

	chain, err := m.differ.Diff(current, desired)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		m.log.Info("No changes detected")
		return nil, nil
	}

	name, err := m.files.NextName(label, m.now())
	if err != nil {
		return nil, err
	}
	mig := &Migration{
		Name:         name,
		Dependencies: g.Heads(),
		Policy:       m.options.Policy,
		Actions:      chain,
	}
	if err := g.Add(mig); err != nil {
		return nil, err
	}
	if err := m.files.WriteMigration(mig); err != nil {
		return nil, err
	}

	m.log.Info("Created migration %s with %d action(s)", name, len(chain))
	m.printMigrationPlan(chain)
	if m.hasDestructiveChanges(chain) {
		m.log.Warn("Migration %s removes stored data:", name)
		for _, a := range chain {
			if m.isDestructive(a) {
				m.log.Warn("  - %s", action.Format(a))
			}
		}
	}
	return mig, nil
}

// Migrate moves the database to target, forward or backward. An empty
// target applies every unapplied migration.
func (m *Manager) Migrate(ctx context.Context, target string) (*Report, error) {
	g, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	var steps []Step
	if target == "" {
		steps, err = g.Pending(applied)
	} else {
		steps, err = g.PathTo(target, applied)
	}
	if err != nil {
		return nil, err
	}
	return m.run(ctx, g, steps)
}

// Upgrade applies unapplied migrations up to target, or all of them when
// target is empty. It never unapplies anything.
func (m *Manager) Upgrade(ctx context.Context, target string) (*Report, error) {
	g, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if target == "" {
		steps, err := g.Pending(applied)
		if err != nil {
			return nil, err
		}
		return m.run(ctx, g, steps)
	}
	if target == Zero || state.IsApplied(records(applied), target) {
		return nil, types.GraphErrorf("upgrade target %s is already applied", target)
	}
	steps, err := g.PathTo(target, applied)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, g, steps)
}

// Downgrade unapplies migrations down to, but not including, target. An
// empty target unapplies the most recently applied migration.
func (m *Manager) Downgrade(ctx context.Context, target string) (*Report, error) {
	g, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if target == "" {
		switch len(applied) {
		case 0:
			m.log.Info("No applied migrations")
			return &Report{}, nil
		case 1:
			target = Zero
		default:
			target = applied[len(applied)-2]
		}
	}
	if target != Zero && !state.IsApplied(records(applied), target) {
		return nil, types.GraphErrorf("downgrade target %s is not applied", target)
	}
	steps, err := g.PathTo(target, applied)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, g, steps)
}

func records(names []string) []state.AppliedRecord {
	out := make([]state.AppliedRecord, len(names))
	for i, n := range names {
		out[i] = state.AppliedRecord{Name: n}
	}
	return out
}

func (m *Manager) load(ctx context.Context) (*Graph, []string, error) {
	g, err := m.Graph()
	if err != nil {
		return nil, nil, err
	}
	history, err := m.store.AppliedMigrations(ctx)
	if err != nil {
		return nil, nil, types.WrapActionError(err, "load applied migrations")
	}
	return g, state.Names(history), nil
}

func (m *Manager) run(ctx context.Context, g *Graph, steps []Step) (*Report, error) {
	if len(steps) == 0 {
		m.log.Info("No migrations to apply")
	}
	runner := NewRunner(g, m.store, m.storage, m.writer, m.log, m.options.Run)
	report, err := runner.Run(ctx, steps)
	if err != nil {
		return report, err
	}
	if m.options.Run.DryRun {
		m.log.Info("Dry run: %d command(s) would be issued", len(report.Commands))
	}
	return report, nil
}

// StatusEntry describes one migration for the status command.
type StatusEntry struct {
	Name         string
	Dependencies []string
	Applied      bool
	AppliedAt    time.Time
	// Missing marks an applied migration whose file is gone.
	Missing bool
}

// Status reports every migration in topological order followed by applied
// migrations that have no file, and the progress marker of an interrupted
// run, if any.
func (m *Manager) Status(ctx context.Context) ([]StatusEntry, *state.Progress, error) {
	g, err := m.Graph()
	if err != nil {
		return nil, nil, err
	}
	history, err := m.store.AppliedMigrations(ctx)
	if err != nil {
		return nil, nil, types.WrapActionError(err, "load applied migrations")
	}
	_, progress, err := m.store.LoadSchema(ctx)
	if err != nil {
		return nil, nil, types.WrapActionError(err, "load schema")
	}

	appliedAt := make(map[string]time.Time, len(history))
	for _, r := range history {
		appliedAt[r.Name] = r.AppliedAt
	}
	var entries []StatusEntry
	for _, name := range g.Names() {
		mig, _ := g.Get(name)
		at, ok := appliedAt[name]
		entries = append(entries, StatusEntry{Name: name, Dependencies: mig.Dependencies, Applied: ok, AppliedAt: at})
	}
	for _, r := range history {
		if _, ok := g.Get(r.Name); !ok {
			entries = append(entries, StatusEntry{Name: r.Name, Applied: true, AppliedAt: r.AppliedAt, Missing: true})
		}
	}
	return entries, progress, nil
}

// ShowResult is the printable form of one migration.
type ShowResult struct {
	Migration *Migration
	Checksum  string
	// Fingerprint identifies the schema the migration and its dependencies
	// produce.
	Fingerprint string
	Text        string
}

// Show renders a migration chain in call form for the given direction.
func (m *Manager) Show(name string, dir types.Direction) (*ShowResult, error) {
	g, err := m.Graph()
	if err != nil {
		return nil, err
	}
	mig, ok := g.Get(name)
	if !ok {
		return nil, types.GraphErrorf("unknown migration %s", name)
	}
	checksum, err := mig.Checksum()
	if err != nil {
		return nil, err
	}
	include := g.Ancestors(name)
	include[name] = true
	after, err := replay(g, g.topo(include))
	if err != nil {
		return nil, err
	}
	fingerprint, err := Fingerprint(after)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n", mig.Name, dir)
	fmt.Fprintf(&b, "# dependencies: %s\n", strings.Join(mig.Dependencies, ", "))
	fmt.Fprintf(&b, "# policy: %s\n", mig.Policy)
	fmt.Fprintf(&b, "# checksum: %s\n", checksum)
	fmt.Fprintf(&b, "# schema: %s\n", fingerprint)
	chain, err := mig.Chain(dir)
	if err != nil {
		return nil, err
	}
	b.WriteString(action.FormatChain(chain))

	return &ShowResult{Migration: mig, Checksum: checksum, Fingerprint: fingerprint, Text: b.String()}, nil
}

// Fingerprint hashes the canonical form of a schema.
func Fingerprint(s schema.State) (string, error) {
	data, err := json.Marshal(s.Canonical())
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

// printMigrationPlan logs the chain of a new migration
func (m *Manager) printMigrationPlan(chain []action.Action) {
	m.log.Debug("=== MIGRATION PLAN ===")
	for i, a := range chain {
		m.log.Debug("%d. %s", i+1, action.Format(a))
	}
	m.log.Debug("=== END MIGRATION PLAN ===")
}

// hasDestructiveChanges checks if the chain removes stored data
func (m *Manager) hasDestructiveChanges(chain []action.Action) bool {
	for _, a := range chain {
		if m.isDestructive(a) {
			return true
		}
	}
	return false
}

// isDestructive checks if an action removes stored data
func (m *Manager) isDestructive(a action.Action) bool {
	if a.Dummy() {
		return false
	}
	switch a.Kind() {
	case action.KindDropDocument, action.KindDropField:
		return true
	case action.KindAlterField:
		// Type changes can lose precision
		return true
	default:
		return false
	}
}
