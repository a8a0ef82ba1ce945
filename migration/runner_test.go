package migration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/types"
)

const (
	first  = "0001_auto_202601021504"
	second = "0002_auto_202601030930"
)

func seedBooks(f *fixture, extra ...bson.M) {
	f.storage.Insert("books",
		bson.M{"_id": "1", "name": "Dune", "year": "1965", "isbn": "x"},
		bson.M{"_id": "2", "year": "1999"},
	)
	f.storage.Insert("books", extra...)
}

func byID(recs []bson.M) map[string]bson.M {
	out := map[string]bson.M{}
	for _, r := range recs {
		out[r["_id"].(string)] = r
	}
	return out
}

func TestMigrateStrictStopsAndResumes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PolicyStrict, RunOptions{})
	seedBooks(f, bson.M{"_id": "3", "name": "Bad", "year": "abc"})

	report, err := f.manager.Migrate(ctx, "")
	require.Error(t, err)
	assert.Equal(t, types.ExitConversion, types.ExitCode(err))
	assert.Contains(t, err.Error(), "books")
	require.Len(t, report.Steps, 2)
	assert.Equal(t, StateCompleted, report.Steps[0].State)
	assert.Equal(t, StateFailed, report.Steps[1].State)
	assert.Equal(t, 4, report.Steps[1].Applied)

	// the schema reflects the last completed action
	s, progress, err := f.store.LoadSchema(ctx)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, second, progress.Migration)
	assert.Equal(t, types.Forward, progress.Direction)
	assert.Equal(t, 4, progress.Completed)
	assert.Contains(t, s["Book"].Fields, "caption")
	assert.Contains(t, s, "Author")

	recs := byID(f.storage.Records("books"))
	assert.Equal(t, "?", recs["2"]["name"], "default filled for the now required caption")
	assert.Equal(t, "1965", recs["1"]["year"], "failed batch left unconverted")
	assert.Equal(t, "abc", recs["3"]["year"])

	history, err := f.store.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, first, history[0].Name)

	// another path cannot start while the migration is half applied
	_, err = f.manager.Downgrade(ctx, "")
	require.Error(t, err)
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))

	_, err = f.storage.UpdateMany(ctx, "books", bson.M{"_id": "3"}, bson.M{"$set": bson.M{"year": "2000"}})
	require.NoError(t, err)

	report, err = f.manager.Migrate(ctx, "")
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, StepResult{Migration: second, Direction: types.Forward, Resumed: 4, Applied: 3, State: StateCompleted}, report.Steps[0])

	recs = byID(f.storage.Records("books"))
	assert.Equal(t, bson.M{"_id": "1", "name": "Dune", "year": int32(1965)}, recs["1"])
	assert.Equal(t, bson.M{"_id": "2", "name": "?", "year": int32(1999)}, recs["2"])
	assert.Equal(t, int32(2000), recs["3"]["year"])

	s, progress, err = f.store.LoadSchema(ctx)
	require.NoError(t, err)
	assert.Nil(t, progress)
	assert.True(t, s.Equal(booksV2().Canonical()), s.Diff(booksV2().Canonical()))
}

func TestMigrateRelaxedKeepsBadValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PolicyRelaxed, RunOptions{})
	seedBooks(f, bson.M{"_id": "3", "name": "Bad", "year": "abc"})

	report, err := f.manager.Migrate(ctx, "")
	require.NoError(t, err)
	require.Len(t, report.Steps, 2)

	recs := byID(f.storage.Records("books"))
	assert.Equal(t, int32(1965), recs["1"]["year"])
	assert.Equal(t, "abc", recs["3"]["year"])
	assert.Equal(t, "?", recs["2"]["name"])
}

func TestDowngradeRestoresData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PolicyStrict, RunOptions{})
	seedBooks(f)

	_, err := f.manager.Migrate(ctx, "")
	require.NoError(t, err)

	_, err = f.manager.Upgrade(ctx, second)
	require.Error(t, err)
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))

	report, err := f.manager.Downgrade(ctx, "")
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, types.Backward, report.Steps[0].Direction)

	recs := byID(f.storage.Records("books"))
	assert.Equal(t, "1965", recs["1"]["year"])
	assert.Equal(t, "1999", recs["2"]["year"])
	s, _, err := f.store.LoadSchema(ctx)
	require.NoError(t, err)
	assert.True(t, s.Equal(booksV1().Canonical()), s.Diff(booksV1().Canonical()))

	_, err = f.manager.Downgrade(ctx, second)
	require.Error(t, err)
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))

	_, err = f.manager.Downgrade(ctx, Zero)
	require.NoError(t, err)
	assert.NotContains(t, f.storage.Collections(), "books")
	history, err := f.store.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = f.manager.Upgrade(ctx, first)
	require.NoError(t, err)
	history, err = f.store.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, first, history[0].Name)
}

func TestDryRunRecordsCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PolicyStrict, RunOptions{DryRun: true})
	seedBooks(f)
	before := f.storage.Records("books")

	report, err := f.manager.Migrate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, before, f.storage.Records("books"))
	assert.True(t, report.Schema.Equal(booksV2().Canonical()))

	ops := map[string]bool{}
	for _, c := range report.Commands {
		ops[c.Operation] = true
		assert.NotEmpty(t, c.String())
	}
	assert.True(t, ops["replaceMany"], "per-record writes recorded")
	assert.True(t, ops["updateMany"], "bulk writes recorded")

	s, progress, err := f.store.LoadSchema(ctx)
	require.NoError(t, err)
	assert.Empty(t, s)
	assert.Nil(t, progress)
	history, err := f.store.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSchemaOnlyLeavesRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PolicyStrict, RunOptions{SchemaOnly: true})
	seedBooks(f)
	before := f.storage.Records("books")

	_, err := f.manager.Migrate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, before, f.storage.Records("books"))

	s, _, err := f.store.LoadSchema(ctx)
	require.NoError(t, err)
	assert.True(t, s.Equal(booksV2().Canonical()))
	history, err := f.store.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestLockHeldByAnotherRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PolicyStrict, RunOptions{Owner: "runner-a"})
	require.NoError(t, f.store.AcquireLock(ctx, "runner-b", time.Hour))

	_, err := f.manager.Migrate(ctx, "")
	require.Error(t, err)
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))
	assert.Contains(t, err.Error(), "runner-b")

	require.NoError(t, f.store.ReleaseLock(ctx, "runner-b"))
	_, err = f.manager.Migrate(ctx, "")
	require.NoError(t, err)

	// the run released its own lease
	require.NoError(t, f.store.AcquireLock(ctx, "runner-b", time.Hour))
}

func TestCancelledRunStopsBetweenActions(t *testing.T) {
	f := newFixture(t, types.PolicyStrict, RunOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.manager.Migrate(ctx, "")
	require.ErrorIs(t, err, context.Canceled)

	history, err := f.store.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStatusAndShow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PolicyStrict, RunOptions{})

	_, err := f.manager.Upgrade(ctx, first)
	require.NoError(t, err)

	entries, progress, err := f.manager.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, progress)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].Name)
	assert.True(t, entries[0].Applied)
	assert.False(t, entries[0].AppliedAt.IsZero())
	assert.Equal(t, second, entries[1].Name)
	assert.False(t, entries[1].Applied)
	assert.Equal(t, []string{first}, entries[1].Dependencies)

	shown, err := f.manager.Show(second, types.Forward)
	require.NoError(t, err)
	checksum, err := shown.Migration.Checksum()
	require.NoError(t, err)
	assert.Equal(t, checksum, shown.Checksum)
	assert.Contains(t, shown.Text, "# checksum: "+checksum)
	assert.Contains(t, shown.Text, "RenameField('Book', 'name', new_name='caption')")

	fingerprint, err := Fingerprint(booksV2())
	require.NoError(t, err)
	assert.Equal(t, fingerprint, shown.Fingerprint)

	backward, err := f.manager.Show(second, types.Backward)
	require.NoError(t, err)
	assert.Contains(t, backward.Text, "RenameField('Book', 'caption', new_name='name')")

	_, err = f.manager.Show("missing", types.Forward)
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))
}

func TestMakeMigrationsWithoutChanges(t *testing.T) {
	f := newFixture(t, types.PolicyStrict, RunOptions{})
	m, err := f.manager.MakeMigrations(booksV2(), "")
	require.NoError(t, err)
	assert.Nil(t, m)

	g, err := f.manager.Graph()
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []string{second}, g.Heads())
}
