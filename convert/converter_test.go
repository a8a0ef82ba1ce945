package convert

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

func field(k schema.TypeKey) schema.Field { return schema.Field{TypeKey: k} }

func listOf(k schema.TypeKey) schema.Field {
	e := field(k)
	return schema.Field{TypeKey: schema.TypeList, Elem: &e}
}

func dictOf(k schema.TypeKey) schema.Field {
	e := field(k)
	return schema.Field{TypeKey: schema.TypeDict, Elem: &e}
}

func TestScalarConversions(t *testing.T) {
	oid := primitive.NewObjectID()
	tests := []struct {
		name     string
		value    any
		from, to schema.TypeKey
		expected any
		wantErr  bool
	}{
		{"string to integer", "1999", schema.TypeString, schema.TypeInteger, int32(1999), false},
		{"padded string to integer", " 42 ", schema.TypeString, schema.TypeInteger, int32(42), false},
		{"big string to integer", "5000000000", schema.TypeString, schema.TypeInteger, int64(5000000000), false},
		{"non numeric string to integer", "nineteen", schema.TypeString, schema.TypeInteger, nil, true},
		{"fraction to integer", 1.5, schema.TypeFloat, schema.TypeInteger, nil, true},
		{"integral float to long", 3.0, schema.TypeFloat, schema.TypeLong, int64(3), false},
		{"integer to string", int32(7), schema.TypeInteger, schema.TypeString, "7", false},
		{"integer to float", int32(7), schema.TypeInteger, schema.TypeFloat, 7.0, false},
		{"string to boolean", "yes", schema.TypeString, schema.TypeBoolean, true, false},
		{"bad boolean", "perhaps", schema.TypeString, schema.TypeBoolean, nil, true},
		{"objectid to string", oid, schema.TypeObjectID, schema.TypeString, oid.Hex(), false},
		{"string to objectid", oid.Hex(), schema.TypeString, schema.TypeObjectID, oid, false},
		{"objectid to reference", oid, schema.TypeObjectID, schema.TypeReference, oid, false},
		{"dbref to objectid", bson.M{"$ref": "author", "$id": oid}, schema.TypeReference, schema.TypeObjectID, oid, false},
		{"email", " a@b.org ", schema.TypeString, schema.TypeEmail, "a@b.org", false},
		{"bad url", "not a url", schema.TypeString, schema.TypeURL, nil, true},
		{
			"date", "2020-01-02", schema.TypeString, schema.TypeDateTime,
			primitive.NewDateTimeFromTime(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)), false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConverter(types.PolicyStrict)
			got, err := c.Convert(tt.value, field(tt.from), field(tt.to))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrConversion))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	c := NewConverter(types.PolicyStrict)
	s := "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	bin, err := c.Convert(s, field(schema.TypeString), field(schema.TypeUUID))
	require.NoError(t, err)
	assert.Equal(t, bson.TypeBinaryUUID, bin.(primitive.Binary).Subtype)

	back, err := c.Convert(bin, field(schema.TypeUUID), field(schema.TypeString))
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestRelaxedLeavesValue(t *testing.T) {
	var skipped []string
	c := NewConverter(types.PolicyRelaxed)
	c.OnSkip = func(path string, _ any, _ error) { skipped = append(skipped, path) }

	got, err := c.Convert("abc", field(schema.TypeString), field(schema.TypeInteger))
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	got, err = c.Convert(bson.A{"1", "x", "3"}, listOf(schema.TypeString), listOf(schema.TypeInteger))
	require.NoError(t, err)
	assert.Equal(t, bson.A{int32(1), "x", int32(3)}, got)
	assert.Equal(t, []string{"", "1"}, skipped)
}

func TestContainerComposition(t *testing.T) {
	calls := 0
	m := NewMatrix()
	m.Register(Entry{
		From: schema.TypeString, To: schema.TypeInteger, Kind: Lossy,
		Convert: func(v any, from, to schema.Field) (any, error) {
			calls++
			return numberConverter(schema.TypeInteger)(v, from, to)
		},
	})
	c := &Converter{Matrix: m, Policy: types.PolicyStrict}

	t.Run("empty list skips element converter", func(t *testing.T) {
		calls = 0
		got, err := c.Convert(bson.A{}, listOf(schema.TypeString), listOf(schema.TypeInteger))
		require.NoError(t, err)
		assert.Equal(t, bson.A{}, got)
		assert.Zero(t, calls)
	})

	t.Run("empty dict skips element converter", func(t *testing.T) {
		calls = 0
		got, err := c.Convert(bson.M{}, dictOf(schema.TypeString), dictOf(schema.TypeInteger))
		require.NoError(t, err)
		assert.Equal(t, bson.M{}, got)
		assert.Zero(t, calls)
	})

	t.Run("every element converted", func(t *testing.T) {
		calls = 0
		got, err := c.Convert(bson.A{"1", "2"}, listOf(schema.TypeString), listOf(schema.TypeInteger))
		require.NoError(t, err)
		assert.Equal(t, bson.A{int32(1), int32(2)}, got)
		assert.Equal(t, 2, calls)
	})

	t.Run("dict values converted", func(t *testing.T) {
		got, err := c.Convert(bson.M{"a": "1"}, dictOf(schema.TypeString), dictOf(schema.TypeInteger))
		require.NoError(t, err)
		assert.Equal(t, bson.M{"a": int32(1)}, got)
	})

	t.Run("element failure under strict", func(t *testing.T) {
		_, err := c.Convert(bson.A{"1", "x"}, listOf(schema.TypeString), listOf(schema.TypeInteger))
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrConversion))
		assert.Contains(t, err.Error(), "1:")
	})
}

func TestListScalarWrapping(t *testing.T) {
	c := NewConverter(types.PolicyStrict)

	got, err := c.Convert("5", field(schema.TypeString), listOf(schema.TypeInteger))
	require.NoError(t, err)
	assert.Equal(t, bson.A{int32(5)}, got)

	got, err = c.Convert(bson.A{"5", "6"}, listOf(schema.TypeString), field(schema.TypeInteger))
	require.NoError(t, err)
	assert.Equal(t, int32(5), got)

	got, err = c.Convert(bson.A{}, listOf(schema.TypeString), field(schema.TypeString))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMissingEntry(t *testing.T) {
	m := Default()
	_, err := m.Lookup(schema.TypeBoolean, schema.TypeDateTime)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConversion))

	assert.NoError(t, m.Check(listOf(schema.TypeString), listOf(schema.TypeInteger)))
	assert.Error(t, m.Check(listOf(schema.TypeBoolean), listOf(schema.TypeDateTime)))
	assert.Equal(t, Lossless, m.Kind(field(schema.TypeInteger), field(schema.TypeString)))
	assert.Equal(t, Lossy, m.Kind(field(schema.TypeString), field(schema.TypeInteger)))
	assert.Equal(t, "int", m.ServerType(field(schema.TypeString), field(schema.TypeInteger)))
	assert.Equal(t, "", m.ServerType(listOf(schema.TypeString), listOf(schema.TypeInteger)))
}

func TestNilPassesThrough(t *testing.T) {
	c := NewConverter(types.PolicyStrict)
	got, err := c.Convert(nil, field(schema.TypeString), field(schema.TypeInteger))
	require.NoError(t, err)
	assert.Nil(t, got)
}
