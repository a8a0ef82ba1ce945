package schema

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/types"
)

func bookState() State {
	return State{
		"Book": NewDocumentBuilder("book").
			Field("name", StringField()).
			Field("year", StringField().MaxLength(4)).
			Field("author", ReferenceField("Author")).
			Field("address", EmbeddedField("~Address")).
			Index("name_idx", Index{Keys: []IndexKey{Asc("name")}}).
			Build(),
		"Author": NewDocumentBuilder("author").
			Field("name", StringField().Required()).
			Build(),
		"~Address": Embedded().
			Field("city", StringField()).
			Build(),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(State)
		wantErr bool
		warns   int
	}{
		{name: "valid", mutate: func(State) {}},
		{
			name: "dangling embedded target",
			mutate: func(s State) {
				s["Book"].Fields["address"] = EmbeddedField("~Missing").Build()
			},
			wantErr: true,
		},
		{
			name: "reference to embedded document",
			mutate: func(s State) {
				s["Book"].Fields["author"] = ReferenceField("~Address").Build()
			},
			wantErr: true,
		},
		{
			name: "index on missing field",
			mutate: func(s State) {
				s["Book"].Indexes["bad"] = Index{Keys: []IndexKey{Asc("isbn")}}
			},
			wantErr: true,
		},
		{
			name:    "unknown type key",
			mutate:  func(s State) { s["Author"].Fields["x"] = NewField("Blob").Build() },
			wantErr: true,
		},
		{
			name:    "list without element",
			mutate:  func(s State) { s["Author"].Fields["tags"] = Field{TypeKey: TypeList} },
			wantErr: true,
		},
		{
			name:    "unrelated documents share a collection",
			mutate:  func(s State) { s["Author"].Collection = "book" },
			wantErr: true,
		},
		{
			name: "derived document shares parent collection",
			mutate: func(s State) {
				s["Novel"] = NewDocumentBuilder("book").Parent("Book").Build()
			},
			warns: 1,
		},
		{
			name: "index on inherited field",
			mutate: func(s State) {
				s["Novel"] = NewDocumentBuilder("book").Parent("Book").
					Index("year_idx", Index{Keys: []IndexKey{Desc("year")}}).Build()
			},
			warns: 1,
		},
		{
			name:    "embedded document with collection",
			mutate:  func(s State) { s["~Address"].Collection = "addr" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := bookState()
			tt.mutate(s)
			warnings, err := s.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrSchema))
				return
			}
			require.NoError(t, err)
			assert.Len(t, warnings, tt.warns)
		})
	}
}

func TestInheritance(t *testing.T) {
	s := State{
		"Item":  NewDocumentBuilder("item").Field("name", StringField()).Build(),
		"Book":  NewDocumentBuilder("item").Parent("Item").Field("isbn", StringField()).Build(),
		"Novel": NewDocumentBuilder("item").Parent("Book").Field("genre", StringField()).Build(),
	}

	assert.Equal(t, []string{"Book", "Item"}, s.Ancestors("Novel"))
	assert.Equal(t, "Item", s.Root("Novel"))
	assert.Equal(t, "Item.Book.Novel", s.ClassPath("Novel"))
	assert.Equal(t, []string{"Book", "Novel"}, s.Descendants("Item"))
	assert.Equal(t, []string{"Item.Book", "Item.Book.Novel"}, s.ClassFilter("Book"))
	assert.Nil(t, s.ClassFilter("Item"))
	assert.True(t, s.Hierarchical("Item"))
	assert.True(t, s.HasField("Novel", "name"))
	assert.Len(t, s.EffectiveFields("Novel"), 3)
	assert.Equal(t, []string{"Book", "Item", "Novel"}, s.CollectionUsers("item"))
}

func TestCanonical(t *testing.T) {
	s := State{
		"Book": &Document{
			Collection: "book",
			Fields: map[string]Field{
				"year": {TypeKey: TypeString, Params: map[string]any{ParamMaxLength: int32(4)}},
				"tags": {TypeKey: TypeList, Elem: &Field{TypeKey: TypeString}},
			},
		},
	}

	c := s.Canonical()
	require.NotNil(t, c["Book"].Indexes)
	assert.Equal(t, "year", c["Book"].Fields["year"].Params[ParamDBField])
	assert.Equal(t, int64(4), c["Book"].Fields["year"].Params[ParamMaxLength])
	assert.Equal(t, "tags", c["Book"].Fields["tags"].DBField("tags"))

	// the source state is untouched
	_, ok := s["Book"].Fields["year"].Params[ParamDBField]
	assert.False(t, ok)
	assert.True(t, c.Equal(c.Canonical()))
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		a, b  any
		equal bool
	}{
		{int32(4), int64(4), true},
		{4, 4.0, true},
		{"4", 4, false},
		{[]any{"a", int32(1)}, []any{"a", int64(1)}, true},
		{map[string]any{"a": 1}, map[string]any{"a": 1.0}, true},
		{map[string]any{"a": 1}, map[string]any{"b": 1}, false},
		{nil, nil, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.equal, ValuesEqual(tt.a, tt.b), "%v vs %v", tt.a, tt.b)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := bookState()
	c := s.Clone()
	c["Book"].Fields["year"].Params[ParamMaxLength] = int64(10)
	c["Book"].Indexes["name_idx"].Keys[0].Direction = -1

	assert.Equal(t, int64(4), s["Book"].Fields["year"].Params[ParamMaxLength])
	assert.Equal(t, 1, s["Book"].Indexes["name_idx"].Keys[0].Direction)
}

func TestChangedParams(t *testing.T) {
	a := map[string]any{"db_field": "name", "required": false}
	b := map[string]any{"db_field": "name", "required": true, "default": "?"}
	assert.Equal(t, []string{"default", "required"}, ChangedParams(a, b))
}
