package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/rediwo/redi-migrate/action"
	"github.com/rediwo/redi-migrate/convert"
	"github.com/rediwo/redi-migrate/drivers/trace"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/script"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
	"github.com/rediwo/redi-migrate/updater"
)

// Migration run states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"

	eventStart    = "start"
	eventComplete = "complete"
	eventFail     = "fail"
)

// DefaultLockTTL is the lease taken on the state store for one run.
const DefaultLockTTL = 10 * time.Minute

// RunOptions tune a Runner.
type RunOptions struct {
	// DryRun records storage commands instead of issuing them and leaves
	// the state store untouched.
	DryRun bool
	// SchemaOnly treats every action as dummy.
	SchemaOnly bool
	// BackendVersion overrides the version reported by the storage.
	BackendVersion string
	BatchSize      int
	Workers        int
	LockTTL        time.Duration
	// Owner identifies the run in the lock record. A random id by default.
	Owner  string
	Matrix *convert.Matrix
}

// Runner is the execution engine: it applies the chains of a path of
// migrations to storage, persisting schema and progress after every action.
type Runner struct {
	graph   *Graph
	store   state.Store
	storage types.Storage
	writer  types.Storage
	log     logger.Logger
	opts    RunOptions
}

// NewRunner creates a runner. writer receives every mutation; when nil,
// storage is used for reads and writes.
func NewRunner(graph *Graph, store state.Store, storage, writer types.Storage, log logger.Logger, opts RunOptions) *Runner {
	if writer == nil {
		writer = storage
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.Owner == "" {
		opts.Owner = uuid.NewString()
	}
	return &Runner{graph: graph, store: store, storage: storage, writer: writer, log: log, opts: opts}
}

// StepResult summarizes one migration of a run.
type StepResult struct {
	Migration string
	Direction types.Direction
	// Resumed is the number of actions skipped because an earlier run had
	// already completed them.
	Resumed int
	Applied int
	State   string
}

// Report is the outcome of a run.
type Report struct {
	Steps []StepResult
	// Commands holds the storage commands recorded in dry-run mode.
	Commands []types.Command
	// Schema is the schema after the last completed action.
	Schema schema.State
}

// run holds what is shared by the steps of one Run call.
type run struct {
	backend updater.Backend
	writer  types.Storage
	scripts *script.Runtime
	schema  schema.State
	resume  *state.Progress
}

// Run executes steps in order. It stops at the first failing action; the
// state store then reflects the last completed action and a later Run of
// the same path resumes from there.
func (r *Runner) Run(ctx context.Context, steps []Step) (*Report, error) {
	if r.graph != nil {
		var backward []string
		for _, step := range steps {
			if step.Direction == types.Backward {
				backward = append(backward, step.Migration.Name)
			}
		}
		if err := r.graph.PrepareBackward(backward...); err != nil {
			return nil, err
		}
	}

	if !r.opts.DryRun {
		if err := r.store.AcquireLock(ctx, r.opts.Owner, r.opts.LockTTL); err != nil {
			return nil, err
		}
		defer func() {
			// the run context may already be cancelled
			if err := r.store.ReleaseLock(context.Background(), r.opts.Owner); err != nil {
				r.log.Warn("Failed to release migration lock: %v", err)
			}
		}()
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		defer r.keepLease(ctx, cancel)()
	}

	current, progress, err := r.store.LoadSchema(ctx)
	if err != nil {
		return nil, types.WrapActionError(err, "load schema")
	}
	if progress, err = r.settle(ctx, current, progress); err != nil {
		return nil, err
	}
	if progress != nil {
		if len(steps) == 0 {
			r.log.Warn("Migration %s was interrupted after %d action(s) (%s)",
				progress.Migration, progress.Completed, progress.Direction)
		} else if steps[0].Migration.Name != progress.Migration || steps[0].Direction != progress.Direction {
			return nil, types.GraphErrorf("migration %s was interrupted while running %s after %d action(s); finish it before running %s",
				progress.Migration, progress.Direction, progress.Completed, steps[0].Migration.Name)
		}
	}

	rn := &run{
		writer:  r.writer,
		scripts: script.NewRuntime(r.log),
		schema:  current,
		resume:  progress,
	}
	if rn.backend, err = r.backend(ctx); err != nil {
		return nil, err
	}
	var tracer *trace.Storage
	if r.opts.DryRun {
		tracer = trace.New(r.writer, trace.WithLogger(r.log))
		rn.writer = tracer
	}

	report := &Report{}
	for _, step := range steps {
		result, err := r.runStep(ctx, rn, step)
		report.Steps = append(report.Steps, result)
		if err != nil {
			report.Schema = rn.schema
			if tracer != nil {
				report.Commands = tracer.Commands()
			}
			return report, fmt.Errorf("migration %s (%s): %w", step.Migration.Name, step.Direction, leaseErr(ctx, err))
		}
	}
	report.Schema = rn.schema
	if tracer != nil {
		report.Commands = tracer.Commands()
	}
	return report, nil
}

// keepLease renews the run lease every third of its TTL until the returned
// stop function is called. A failed renewal cancels the run.
func (r *Runner) keepLease(ctx context.Context, cancel context.CancelCauseFunc) (stop func()) {
	interval := r.opts.LockTTL / 3
	if interval <= 0 {
		interval = r.opts.LockTTL
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.store.AcquireLock(ctx, r.opts.Owner, r.opts.LockTTL); err != nil {
					if ctx.Err() != nil {
						return
					}
					r.log.Error("Failed to renew migration lock: %v", err)
					cancel(types.WrapActionError(err, "renew migration lock"))
					return
				}
				r.log.Debug("Renewed migration lock for %s", r.opts.Owner)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// leaseErr reports the lease failure behind a cancelled run instead of the
// bare cancellation.
func leaseErr(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause != nil && errors.Is(err, context.Canceled) && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

// settle clears a progress marker left by a run that completed its chain
// but stopped before clearing it.
func (r *Runner) settle(ctx context.Context, current schema.State, p *state.Progress) (*state.Progress, error) {
	if p == nil || r.graph == nil {
		return p, nil
	}
	m, ok := r.graph.Get(p.Migration)
	if !ok {
		return nil, types.GraphErrorf("interrupted migration %s is not in the migrations directory", p.Migration)
	}
	if p.Completed < len(m.Actions) {
		return p, nil
	}
	history, err := r.store.AppliedMigrations(ctx)
	if err != nil {
		return nil, types.WrapActionError(err, "load applied migrations")
	}
	if state.IsApplied(history, m.Name) != (p.Direction == types.Forward) {
		return p, nil
	}
	if !r.opts.DryRun {
		if err := r.store.SaveSchema(ctx, current, nil); err != nil {
			return nil, types.WrapActionError(err, "clear progress")
		}
	}
	return nil, nil
}

func (r *Runner) backend(ctx context.Context) (updater.Backend, error) {
	version := r.opts.BackendVersion
	if version == "" && r.storage != nil {
		v, err := r.storage.ServerVersion(ctx)
		if err != nil {
			return updater.Backend{}, types.WrapActionError(err, "query server version")
		}
		version = v
	}
	backend := updater.ParseBackend(version)
	r.log.Debug("Backend version %s", backend)
	return backend, nil
}

func (r *Runner) newMachine(name string) *fsm.FSM {
	return fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: eventStart, Src: []string{StatePending}, Dst: StateRunning},
			{Name: eventComplete, Src: []string{StateRunning}, Dst: StateCompleted},
			{Name: eventFail, Src: []string{StateRunning}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				r.log.Debug("Migration %s: %s -> %s", name, e.Src, e.Dst)
			},
		},
	)
}

func (r *Runner) runStep(ctx context.Context, rn *run, step Step) (StepResult, error) {
	m := step.Migration
	result := StepResult{Migration: m.Name, Direction: step.Direction}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	machine := r.newMachine(m.Name)
	if err := machine.Event(ctx, eventStart); err != nil {
		return result, err
	}

	start := 0
	if rn.resume != nil && rn.resume.Migration == m.Name && rn.resume.Direction == step.Direction {
		start = rn.resume.Completed
		result.Resumed = start
		r.log.Info("Resuming %s %s after %d action(s)", step.Direction, m.Name, start)
	}
	rn.resume = nil

	if step.Direction == types.Forward {
		r.log.Info("Applying %s", m.Name)
	} else {
		r.log.Info("Unapplying %s", m.Name)
	}

	chain, err := m.Chain(step.Direction)
	if err != nil {
		r.fail(ctx, machine, &result)
		return result, err
	}
	if start > len(chain) {
		result.State = StateFailed
		return result, types.SchemaErrorf("progress marker of %s is past the end of its chain", m.Name)
	}
	for i := start; i < len(chain); i++ {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, machine, &result)
			return result, err
		}
		if err := r.runAction(ctx, rn, m, chain[i]); err != nil {
			r.fail(ctx, machine, &result)
			return result, err
		}
		result.Applied++
		if !r.opts.DryRun {
			p := &state.Progress{Migration: m.Name, Direction: step.Direction, Completed: i + 1}
			if err := r.store.SaveSchema(ctx, rn.schema, p); err != nil {
				r.fail(ctx, machine, &result)
				return result, types.WrapActionError(err, "save schema")
			}
		}
	}

	if !r.opts.DryRun {
		var err error
		if step.Direction == types.Forward {
			err = r.store.MarkApplied(ctx, m.Name)
		} else {
			err = r.store.MarkUnapplied(ctx, m.Name)
		}
		if err == nil {
			err = r.store.SaveSchema(ctx, rn.schema, nil)
		}
		if err != nil {
			r.fail(ctx, machine, &result)
			return result, types.WrapActionError(err, "record %s", m.Name)
		}
	}

	if err := machine.Event(ctx, eventComplete); err != nil {
		return result, err
	}
	result.State = machine.Current()
	return result, nil
}

func (r *Runner) fail(ctx context.Context, machine *fsm.FSM, result *StepResult) {
	_ = machine.Event(context.WithoutCancel(ctx), eventFail)
	result.State = machine.Current()
}

// runAction applies a to the in-memory schema and, unless the action is
// schema-only, to storage. rn.schema advances only on success.
func (r *Runner) runAction(ctx context.Context, rn *run, m *Migration, a action.Action) error {
	before := rn.schema
	if err := a.Prepare(before); err != nil {
		return err
	}
	after := before.Clone()
	if err := a.ApplyToSchema(after); err != nil {
		return err
	}

	desc := action.Format(a)
	if a.Dummy() || r.opts.SchemaOnly {
		r.log.Info("  %s (schema only)", desc)
		rn.schema = after
		return nil
	}

	r.log.Info("  %s", desc)
	started := time.Now()
	ec := &action.ExecContext{
		Context: updater.Context{
			Reader:    r.storage,
			Writer:    rn.writer,
			Backend:   rn.backend,
			Policy:    m.Policy,
			BatchSize: r.opts.BatchSize,
			Workers:   r.opts.Workers,
			Log:       r.log,
		},
		Schema:  before,
		Matrix:  r.opts.Matrix,
		Scripts: rn.scripts,
	}
	if err := a.ApplyToStorage(ctx, ec); err != nil {
		return err
	}
	r.log.Info("  %s %s done in %s", a.Kind(), a.Document(), time.Since(started).Round(time.Millisecond))
	rn.schema = after
	return nil
}
