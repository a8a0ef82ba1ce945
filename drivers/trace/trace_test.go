package trace

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/drivers/memory"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/types"
)

func TestDryRunRecordsWithoutWriting(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStorage()
	mem.Insert("books", bson.M{"_id": 1, "name": "a"})
	s := New(mem)

	_, err := s.UpdateMany(ctx, "books", bson.M{}, bson.M{"$unset": bson.M{"name": ""}})
	require.NoError(t, err)
	require.NoError(t, s.DropCollection(ctx, "books"))
	require.NoError(t, s.CreateIndex(ctx, "books", types.IndexModel{Name: "i", Keys: bson.D{{Key: "name", Value: 1}}, Unique: true}))

	cmds := s.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "updateMany", cmds[0].Operation)
	assert.Equal(t, "drop", cmds[1].Operation)
	assert.Equal(t, true, cmds[2].Options["unique"])
	assert.JSONEq(t, `{"operation":"drop","collection":"books"}`, cmds[1].String())

	assert.Equal(t, []bson.M{{"_id": 1, "name": "a"}}, mem.Records("books"))

	cur, err := s.Find(ctx, "books", nil, 10)
	require.NoError(t, err)
	assert.True(t, cur.Next(ctx))

	s.Reset()
	assert.Empty(t, s.Commands())
}

func TestPassThrough(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStorage()
	mem.Insert("books", bson.M{"_id": 1, "name": "a"})
	s := New(mem, PassThrough())

	require.NoError(t, s.ReplaceMany(ctx, "books", []bson.M{{"_id": 1, "name": "b"}}))
	require.NoError(t, s.RenameCollection(ctx, "books", "volumes"))

	assert.Equal(t, []bson.M{{"_id": 1, "name": "b"}}, mem.Records("volumes"))
	cmds := s.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, 1, cmds[0].Documents)
	assert.Equal(t, "volumes", cmds[1].Target)
}

func TestLogsRecordedCommands(t *testing.T) {
	rec := logger.NewRecorder()
	s := New(memory.NewStorage(), WithLogger(rec))

	require.NoError(t, s.DropIndex(context.Background(), "books", "isbn_1"))

	lines := rec.Lines(logger.LogLevelInfo)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "* "), lines[0])
	assert.Contains(t, lines[0], `"isbn_1"`)
}
