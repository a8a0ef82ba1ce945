package types

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"graph", GraphErrorf("cycle through %s", "0002"), ExitGraph},
		{"schema", SchemaErrorf("bad"), ExitSchema},
		{"conversion", ConversionErrorf("bad"), ExitConversion},
		{"record", NewRecordError("books", 3, "year", fmt.Errorf("not a number")), ExitConversion},
		{"action", WrapActionError(fmt.Errorf("connection reset"), "drop %s", "books"), ExitStorage},
		{"wrapped graph", fmt.Errorf("migration 0002: %w", GraphErrorf("held")), ExitGraph},
		{"other", fmt.Errorf("plain"), ExitOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestWrapActionErrorKeepsClass(t *testing.T) {
	assert.Nil(t, WrapActionError(nil, "ignored"))

	err := WrapActionError(SchemaErrorf("decode schema"), "load schema")
	assert.Equal(t, ExitSchema, ExitCode(err))
	assert.False(t, errors.Is(err, ErrAction))
	assert.Contains(t, err.Error(), "load schema: decode schema")
	assert.True(t, Classified(err))
	assert.False(t, Classified(fmt.Errorf("plain")))
}

func TestRecordError(t *testing.T) {
	cause := fmt.Errorf("cannot parse %q", "MCMLXV")
	err := NewRecordError("books", 3, "year", cause)
	assert.Equal(t, `books: record 3, field year: cannot parse "MCMLXV"`, err.Error())

	var rec *RecordError
	wrapped := fmt.Errorf("AlterField: %w", err)
	require.True(t, errors.As(wrapped, &rec))
	assert.Equal(t, "year", rec.Path)
	assert.True(t, errors.Is(wrapped, ErrConversion))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)
	assert.True(t, p.Strict())

	p, err = ParsePolicy(" Relaxed ")
	require.NoError(t, err)
	assert.Equal(t, PolicyRelaxed, p)
	assert.False(t, p.Strict())

	_, err = ParsePolicy("lenient")
	assert.Error(t, err)
}

func TestDirection(t *testing.T) {
	for _, d := range []Direction{Forward, Backward} {
		got, err := ParseDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestCommandJSON(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("5f1d7b3e9c4a2b1d8e6f0a12")
	require.NoError(t, err)
	at := primitive.NewDateTimeFromTime(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC))

	c := Command{
		Operation:  "updateMany",
		Collection: "books",
		Filter:     bson.M{"_id": oid, "tags": bson.A{"a", bson.D{{Key: "b", Value: 1}}}},
		Update:     bson.M{"$set": bson.M{"updated": at}},
	}
	s, err := c.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"operation": "updateMany",
		"collection": "books",
		"filter": {"_id": "5f1d7b3e9c4a2b1d8e6f0a12", "tags": ["a", {"b": 1}]},
		"update": {"$set": {"updated": "2026-01-02T15:04:05.000Z"}}
	}`, s)

	assert.JSONEq(t, `{"operation":"renameCollection","collection":"books","target":"volumes"}`,
		(&Command{Operation: "renameCollection", Collection: "books", Target: "volumes"}).String())
}
