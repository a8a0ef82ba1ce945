package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/registry"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

func TestMatch(t *testing.T) {
	doc := bson.M{"_id": 1, "name": "a", "n": int32(3), "meta": bson.M{"tag": "x"}, "items": bson.A{"p", "q"}}

	tests := []struct {
		name   string
		filter bson.M
		want   bool
	}{
		{"empty", bson.M{}, true},
		{"equality", bson.M{"name": "a"}, true},
		{"numeric equality across types", bson.M{"n": int64(3)}, true},
		{"exists", bson.M{"name": bson.M{"$exists": true}}, true},
		{"not exists", bson.M{"missing": bson.M{"$exists": false}}, true},
		{"ne", bson.M{"name": bson.M{"$ne": "b"}}, true},
		{"in", bson.M{"name": bson.M{"$in": bson.A{"b", "a"}}}, true},
		{"in miss", bson.M{"name": bson.M{"$in": []any{"b"}}}, false},
		{"dotted", bson.M{"meta.tag": "x"}, true},
		{"array index", bson.M{"items.1": "q"}, true},
		{"type object", bson.M{"meta": bson.M{"$type": "object"}}, true},
		{"type object on scalar", bson.M{"name": bson.M{"$type": "object"}}, false},
		{"and", bson.M{"$and": bson.A{bson.M{"name": "a"}, bson.M{"n": 4}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(doc, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Match(doc, bson.M{"name": bson.M{"$regex": "a"}})
	assert.Error(t, err)
}

func TestStorageUpdateMany(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	s.Insert("books",
		bson.M{"_id": 1, "name": "a", "meta": bson.M{"tag": "x"}},
		bson.M{"_id": 2},
	)

	n, err := s.UpdateMany(ctx, "books", bson.M{"name": bson.M{"$exists": true}}, bson.M{"$rename": bson.M{"name": "caption"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.UpdateMany(ctx, "books", bson.M{}, bson.M{"$set": bson.M{"meta.count": 0}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.UpdateMany(ctx, "books", bson.M{}, bson.M{"$unset": bson.M{"meta.tag": ""}})
	require.NoError(t, err)

	recs := s.Records("books")
	assert.Equal(t, bson.M{"_id": 1, "caption": "a", "meta": bson.M{"count": 0}}, recs[0])
	assert.Equal(t, bson.M{"_id": 2, "meta": bson.M{"count": 0}}, recs[1])

	_, err = s.UpdateMany(ctx, "books", bson.M{}, bson.A{bson.M{"$set": bson.M{}}})
	assert.Error(t, err)
}

func TestStorageIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	s.Insert("c", bson.M{"_id": 1, "sub": bson.M{"v": 1}})

	cur, err := s.Find(ctx, "c", nil, 10)
	require.NoError(t, err)
	require.True(t, cur.Next(ctx))
	doc, err := cur.Current()
	require.NoError(t, err)
	doc["sub"].(bson.M)["v"] = 2
	assert.False(t, cur.Next(ctx))
	require.NoError(t, cur.Err())

	assert.Equal(t, 1, s.Records("c")[0]["sub"].(bson.M)["v"])

	require.NoError(t, s.ReplaceMany(ctx, "c", []bson.M{doc}))
	assert.Equal(t, 2, s.Records("c")[0]["sub"].(bson.M)["v"])
	assert.Error(t, s.ReplaceMany(ctx, "c", []bson.M{{"_id": 9}}))
}

func TestStorageCursorHonorsContext(t *testing.T) {
	s := NewStorage()
	s.Insert("c", bson.M{"_id": 1})
	ctx, cancel := context.WithCancel(context.Background())
	cur, err := s.Find(ctx, "c", nil, 1)
	require.NoError(t, err)
	cancel()
	assert.False(t, cur.Next(ctx))
	assert.ErrorIs(t, cur.Err(), context.Canceled)
}

func TestStorageCollectionsAndIndexes(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	s.Insert("a", bson.M{"_id": 1, "k": "x"}, bson.M{"_id": 2, "k": "x"})

	err := s.CreateIndex(ctx, "a", types.IndexModel{Name: "k_1", Keys: bson.D{{Key: "k", Value: 1}}, Unique: true})
	assert.Error(t, err)
	require.NoError(t, s.CreateIndex(ctx, "a", types.IndexModel{Name: "k_1", Keys: bson.D{{Key: "k", Value: 1}}}))

	require.NoError(t, s.RenameCollection(ctx, "a", "b"))
	assert.Equal(t, []string{"b"}, s.Collections())
	assert.Contains(t, s.Indexes("b"), "k_1")

	require.NoError(t, s.DropIndex(ctx, "b", "k_1"))
	assert.Error(t, s.DropIndex(ctx, "b", "k_1"))

	require.NoError(t, s.DropCollection(ctx, "b"))
	assert.Empty(t, s.Collections())

	v, err := s.ServerVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, v)
}

func TestStateStore(t *testing.T) {
	ctx := context.Background()
	st := NewStateStore()

	s, p, err := st.LoadSchema(ctx)
	require.NoError(t, err)
	assert.Empty(t, s)
	assert.Nil(t, p)

	saved := schema.State{"Book": schema.NewDocument("books")}
	require.NoError(t, st.SaveSchema(ctx, saved, &state.Progress{Migration: "0001", Completed: 2}))
	saved["Other"] = schema.NewDocument("other")

	s, p, err = st.LoadSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Book"}, s.Names())
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Completed)

	require.NoError(t, st.MarkApplied(ctx, "0001"))
	require.NoError(t, st.MarkApplied(ctx, "0002"))
	assert.Error(t, st.MarkApplied(ctx, "0001"))
	hist, err := st.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002"}, state.Names(hist))
	assert.Less(t, hist[0].Seq, hist[1].Seq)

	require.NoError(t, st.MarkUnapplied(ctx, "0002"))
	assert.Error(t, st.MarkUnapplied(ctx, "0002"))
}

func TestStateStoreLock(t *testing.T) {
	ctx := context.Background()
	st := NewStateStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	require.NoError(t, st.AcquireLock(ctx, "a", time.Minute))
	require.NoError(t, st.AcquireLock(ctx, "a", time.Minute))

	err := st.AcquireLock(ctx, "b", time.Minute)
	require.Error(t, err)
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))

	now = now.Add(2 * time.Minute)
	require.NoError(t, st.AcquireLock(ctx, "b", time.Minute))

	require.NoError(t, st.ReleaseLock(ctx, "a"))
	assert.Error(t, st.AcquireLock(ctx, "a", time.Minute))
	require.NoError(t, st.ReleaseLock(ctx, "b"))
	require.NoError(t, st.AcquireLock(ctx, "a", time.Minute))
}

func TestOpenByURI(t *testing.T) {
	ctx := context.Background()
	s1, err := registry.OpenStorage(ctx, "memory://shared?version=6.0.0", nil)
	require.NoError(t, err)
	s2, err := registry.OpenStorage(ctx, "memory://shared", nil)
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	v, err := s1.ServerVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6.0.0", v)

	other, err := registry.OpenStorage(ctx, "memory://other", nil)
	require.NoError(t, err)
	assert.NotSame(t, s1, other)

	st1, err := registry.OpenState(ctx, "memory://shared", "ignored")
	require.NoError(t, err)
	st2, err := registry.OpenState(ctx, "memory://shared", "ignored")
	require.NoError(t, err)
	assert.Same(t, st1, st2)
}
