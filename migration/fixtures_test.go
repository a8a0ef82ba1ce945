package migration

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/action"
	"github.com/rediwo/redi-migrate/drivers/memory"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

// booksV1 is Book with name, year (at most four characters) and isbn.
func booksV1() schema.State {
	return schema.State{
		"Book": schema.NewDocumentBuilder("books").
			Field("name", schema.StringField()).
			Field("year", schema.StringField().MaxLength(4)).
			Field("isbn", schema.StringField()).
			Build(),
	}
}

// booksV2 adds Author, renames name to caption, makes year an integer,
// drops isbn and references the author.
func booksV2() schema.State {
	return schema.State{
		"Author": schema.NewDocumentBuilder("authors").
			Field("name", schema.StringField().Required()).
			Build(),
		"Book": schema.NewDocumentBuilder("books").
			Field("caption", schema.StringField().DBField("name").Required().Default("?")).
			Field("year", schema.IntegerField()).
			Field("author", schema.ReferenceField("Author")).
			Build(),
	}
}

// describe renders an action as kind, document and the field or index it
// touches.
func describe(a action.Action) string {
	switch x := a.(type) {
	case *action.CreateField:
		return fmt.Sprintf("%s %s.%s", a.Kind(), a.Document(), x.Field)
	case *action.DropField:
		return fmt.Sprintf("%s %s.%s", a.Kind(), a.Document(), x.Field)
	case *action.AlterField:
		return fmt.Sprintf("%s %s.%s", a.Kind(), a.Document(), x.Field)
	case *action.RenameField:
		return fmt.Sprintf("%s %s.%s->%s", a.Kind(), a.Document(), x.Field, x.NewName)
	case *action.RenameDocument:
		return fmt.Sprintf("%s %s->%s", a.Kind(), a.Document(), x.NewName)
	case *action.CreateIndex:
		return fmt.Sprintf("%s %s.%s", a.Kind(), a.Document(), x.Index)
	case *action.DropIndex:
		return fmt.Sprintf("%s %s.%s", a.Kind(), a.Document(), x.Index)
	case *action.RenameIndex:
		return fmt.Sprintf("%s %s.%s->%s", a.Kind(), a.Document(), x.Index, x.NewName)
	}
	return fmt.Sprintf("%s %s", a.Kind(), a.Document())
}

func describeAll(chain []action.Action) []string {
	out := make([]string, len(chain))
	for i, a := range chain {
		out[i] = describe(a)
	}
	return out
}

type fixture struct {
	manager *Manager
	storage *memory.Storage
	store   *memory.StateStore
	dir     string
}

// newFixture writes booksV1 and booksV2 as migrations 0001 and 0002 into a
// temporary directory.
func newFixture(t *testing.T, policy types.Policy, run RunOptions) *fixture {
	t.Helper()
	f := &fixture{
		storage: memory.NewStorage(),
		store:   memory.NewStateStore(),
		dir:     t.TempDir(),
	}
	f.manager = f.newManager(policy, run)

	first, err := f.manager.MakeMigrations(booksV1(), "")
	require.NoError(t, err)
	require.Equal(t, "0001_auto_202601021504", first.Name)
	f.manager.now = func() time.Time { return time.Date(2026, 1, 3, 9, 30, 0, 0, time.UTC) }
	second, err := f.manager.MakeMigrations(booksV2(), "")
	require.NoError(t, err)
	require.Equal(t, "0002_auto_202601030930", second.Name)
	return f
}

func (f *fixture) newManager(policy types.Policy, run RunOptions) *Manager {
	m := NewManager(f.store, f.storage, nil, logger.NewNullLogger(), Options{
		MigrationsDir: f.dir,
		Policy:        policy,
		Run:           run,
	})
	m.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC) }
	return m
}
