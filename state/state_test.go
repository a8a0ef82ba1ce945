package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

func TestSchemaCodec(t *testing.T) {
	s := schema.State{
		"Book": schema.NewDocumentBuilder("books").
			Field("year", schema.IntegerField().Param("min_value", 1450)).
			Field("tags", schema.ListField(schema.StringField().Choices("a", "b"))).
			Index("year_1", schema.Index{Keys: []schema.IndexKey{schema.Asc("year")}}).
			Build(),
	}

	data, err := EncodeSchema(s)
	require.NoError(t, err)
	got, err := DecodeSchema(data)
	require.NoError(t, err)

	assert.True(t, s.Equal(got), s.Diff(got))
	assert.Equal(t, int64(1450), got["Book"].Fields["year"].Params["min_value"])
}

func TestDecodeEmpty(t *testing.T) {
	s, err := DecodeSchema(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	p, err := DecodeProgress([]byte("  "))
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = DecodeSchema([]byte("{"))
	assert.Equal(t, types.ExitSchema, types.ExitCode(err))
}

func TestProgressCodec(t *testing.T) {
	data, err := EncodeProgress(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	p := &Progress{Migration: "0002_auto", Direction: types.Backward, Completed: 3}
	data, err = EncodeProgress(p)
	require.NoError(t, err)
	got, err := DecodeProgress(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestHistoryHelpers(t *testing.T) {
	now := time.Now()
	history := []AppliedRecord{{Name: "a", AppliedAt: now, Seq: 1}, {Name: "b", AppliedAt: now, Seq: 2}}
	assert.True(t, IsApplied(history, "b"))
	assert.False(t, IsApplied(history, "c"))
	assert.Equal(t, []string{"a", "b"}, Names(history))

	err := LockHeldError("runner-b", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.EqualError(t, err, "migration lock held by runner-b until 2026-01-02T03:04:05Z")
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))
}
