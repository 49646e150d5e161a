package keys

import (
	"errors"
	"testing"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mallSchema(t *testing.T) *attr.Schema {
	t.Helper()
	s, err := attr.NewSchema([]attr.Attribute{
		{Name: "id", Type: attr.String()},
		{Name: "mall", Type: attr.String()},
		{Name: "building", Type: attr.String()},
		{Name: "unit", Type: attr.String()},
		{Name: "store", Type: attr.String()},
		{Name: "floor", Type: attr.Number(), Padding: &attr.Padding{Length: 4, Char: "0"}},
		{Name: "open", Type: attr.Boolean()},
		{Name: "tags", Type: attr.StringSet()},
		{Name: "category", Type: attr.String(), Label: "cat"},
		{Name: "code", Type: attr.String(), Padding: &attr.Padding{Length: 4, Char: "0"}},
	})
	require.NoError(t, err)
	return s
}

func TestBuildFacets(t *testing.T) {
	s := mallSchema(t)
	pk := MustNew(Spec{Field: "pk", Prefix: "$MallStoreDirectory", Facets: []string{"mall"}}, s)
	sk := MustNew(Spec{Field: "sk", Prefix: "$entity_1", Facets: []string{"building", "unit", "store"}}, s)

	t.Run("full", func(t *testing.T) {
		got, err := pk.Build(map[string]any{"mall": "EastPointe"})
		require.NoError(t, err)
		assert.Equal(t, "$mallstoredirectory#mall_eastpointe", got)

		got, err = sk.Build(map[string]any{"building": "BuildingA", "unit": "B47", "store": "LatteLarrys"})
		require.NoError(t, err)
		assert.Equal(t, "$entity_1#building_buildinga#unit_b47#store_lattelarrys", got)
	})

	t.Run("gap truncation", func(t *testing.T) {
		tests := []struct {
			name   string
			values map[string]any
			want   string
		}{
			{"none", map[string]any{}, "$entity_1#building_"},
			{"first", map[string]any{"mall": "m", "building": "b"}, "$entity_1#building_b#unit_"},
			{"gap", map[string]any{"building": "b", "store": "s"}, "$entity_1#building_b#unit_"},
			{"nil is missing", map[string]any{"building": nil, "unit": "u"}, "$entity_1#building_"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.want, sk.BuildPartial(tt.values))
			})
		}
	})

	t.Run("incomplete", func(t *testing.T) {
		_, err := sk.Build(map[string]any{"unit": "u"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ddberr.ErrIncompleteKeyFacets))
		var derr *ddberr.Error
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, []string{"building", "store"}, derr.Attributes)
	})

	t.Run("many", func(t *testing.T) {
		got := sk.BuildMany([]map[string]any{{"building": "a"}, {"building": "b", "unit": "c"}})
		assert.Equal(t, []string{"$entity_1#building_a#unit_", "$entity_1#building_b#unit_c#store_"}, got)
	})
}

func TestCasingAndLabels(t *testing.T) {
	s := mallSchema(t)
	tests := []struct {
		casing Casing
		want   string
	}{
		{"", "$svc#cat_shoes#floor_0007"},
		{CasingDefault, "$svc#cat_shoes#floor_0007"},
		{CasingLower, "$svc#cat_shoes#floor_0007"},
		{CasingUpper, "$SVC#CAT_SHOES#FLOOR_0007"},
		{CasingNone, "$Svc#cat_Shoes#floor_0007"},
	}
	for _, tt := range tests {
		t.Run(string(tt.casing), func(t *testing.T) {
			c := MustNew(Spec{Field: "gsi1pk", Prefix: "$Svc", Facets: []string{"category", "floor"}, Casing: tt.casing}, s)
			got, err := c.Build(map[string]any{"category": "Shoes", "floor": 7})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := New(Spec{Field: "pk", Facets: []string{"mall"}, Casing: "camel"}, s)
	assert.ErrorIs(t, err, ddberr.ErrSchemaValidation)
}

func TestRawKey(t *testing.T) {
	s := mallSchema(t)
	c := MustNew(Spec{Field: "id", Prefix: "$ignored", Facets: []string{"id"}}, s)
	assert.True(t, c.IsRaw())
	got, err := c.Build(map[string]any{"id": "AbC-1"})
	require.NoError(t, err)
	assert.Equal(t, "AbC-1", got)

	parsed, err := c.Parse("AbC-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "AbC-1"}, parsed)
}

func TestTemplate(t *testing.T) {
	s := mallSchema(t)
	c := MustNew(Spec{Field: "sk", Template: "location#:building#unit_:unit"}, s)
	assert.Equal(t, []string{"building", "unit"}, c.Facets())
	assert.Equal(t, "location#", c.Prefix())

	got, err := c.Build(map[string]any{"building": "A", "unit": "7"})
	require.NoError(t, err)
	assert.Equal(t, "location#a#unit_7", got)
	assert.Equal(t, "location#a#unit_", c.BuildPartial(map[string]any{"building": "A"}))

	parsed, err := c.Parse("location#a#unit_7")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"building": "a", "unit": "7"}, parsed)

	t.Run("construction errors", func(t *testing.T) {
		tests := []struct {
			name     string
			template string
			want     string
		}{
			{"no placeholders", "location#", "no :name placeholders"},
			{"unknown attribute", "a#:prop5", `"prop5"`},
			{"duplicate", ":unit#:unit", "more than once"},
			{"adjacent", "x:building:unit", "adjacent placeholders"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := New(Spec{Field: "sk", Template: tt.template}, s)
				require.Error(t, err)
				assert.ErrorIs(t, err, ddberr.ErrSchemaValidation)
				assert.Contains(t, err.Error(), tt.want)
			})
		}
	})
}

func TestConstructionErrors(t *testing.T) {
	s := mallSchema(t)
	_, err := New(Spec{Field: "pk", Facets: []string{"mall", "prop5"}}, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prop5")
	var derr *ddberr.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, []string{"prop5"}, derr.Attributes)

	_, err = New(Spec{Field: "pk", Facets: []string{"tags"}}, s)
	assert.ErrorIs(t, err, ddberr.ErrSchemaValidation)

	_, err = New(Spec{Field: "pk", Facets: []string{"mall"}, Template: ":mall"}, s)
	assert.ErrorIs(t, err, ddberr.ErrSchemaValidation)

	assert.Panics(t, func() { MustNew(Spec{Facets: []string{"mall"}}, s) })
}

func TestParseRoundTrip(t *testing.T) {
	s := mallSchema(t)
	facets := MustNew(Spec{Field: "sk", Prefix: "$entity_1", Facets: []string{"building", "floor", "open"}}, s)
	units := MustNew(Spec{Field: "sk", Prefix: "$entity_1", Facets: []string{"building", "unit"}}, s)

	tests := []struct {
		name   string
		c      *Composer
		values map[string]any
		key    string
	}{
		{
			name:   "typed facets",
			c:      facets,
			values: map[string]any{"building": "west", "floor": float64(12), "open": true},
			key:    "$entity_1#building_west#floor_0012#open_true",
		},
		{
			name:   "empty first facet",
			c:      units,
			values: map[string]any{"building": "", "unit": "u1"},
			key:    "$entity_1#building_#unit_u1",
		},
		{
			name:   "empty last facet",
			c:      units,
			values: map[string]any{"building": "b", "unit": ""},
			key:    "$entity_1#building_b#unit_",
		},
		{
			name:   "all facets empty",
			c:      units,
			values: map[string]any{"building": "", "unit": ""},
			key:    "$entity_1#building_#unit_",
		},
		{
			name:   "padded string",
			c:      MustNew(Spec{Field: "sk", Prefix: "$e_1", Facets: []string{"code", "unit"}}, s),
			values: map[string]any{"code": "7", "unit": "u"},
			key:    "$e_1#code_0007#unit_u",
		},
		{
			name:   "padded string at full length",
			c:      MustNew(Spec{Field: "sk", Prefix: "$e_1", Facets: []string{"code"}}, s),
			values: map[string]any{"code": "1234"},
			key:    "$e_1#code_1234",
		},
		{
			name:   "padded number",
			c:      MustNew(Spec{Field: "sk", Prefix: "$e_1", Facets: []string{"floor"}}, s),
			values: map[string]any{"floor": float64(7)},
			key:    "$e_1#floor_0007",
		},
		{
			name:   "padded zero",
			c:      MustNew(Spec{Field: "sk", Prefix: "$e_1", Facets: []string{"floor"}}, s),
			values: map[string]any{"floor": float64(0)},
			key:    "$e_1#floor_0000",
		},
		{
			name:   "template",
			c:      MustNew(Spec{Field: "sk", Template: "location#:building#unit_:unit"}, s),
			values: map[string]any{"building": "a", "unit": "7"},
			key:    "location#a#unit_7",
		},
		{
			name:   "case preserved",
			c:      MustNew(Spec{Field: "sk", Prefix: "$Entity_1", Facets: []string{"building", "unit"}, Casing: CasingNone}, s),
			values: map[string]any{"building": "West", "unit": "B47"},
			key:    "$Entity_1#building_West#unit_B47",
		},
		{
			name:   "upper case",
			c:      MustNew(Spec{Field: "sk", Prefix: "$e_1", Facets: []string{"building"}, Casing: CasingUpper}, s),
			values: map[string]any{"building": "WEST"},
			key:    "$E_1#BUILDING_WEST",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := tt.c.Build(tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.key, key)

			parsed, err := tt.c.Parse(key)
			require.NoError(t, err)
			assert.Equal(t, tt.values, parsed)
		})
	}

	t.Run("partial", func(t *testing.T) {
		tests := []struct {
			name   string
			values map[string]any
			want   map[string]any
		}{
			{"nothing", map[string]any{}, map[string]any{}},
			{"first", map[string]any{"building": "west"}, map[string]any{"building": "west"}},
			{"gap", map[string]any{"building": "west", "open": true}, map[string]any{"building": "west"}},
			{"all but last", map[string]any{"building": "west", "floor": 3}, map[string]any{"building": "west", "floor": float64(3)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				parsed, err := facets.Parse(facets.BuildPartial(tt.values))
				require.NoError(t, err)
				assert.Equal(t, tt.want, parsed)
			})
		}
	})

	t.Run("foreign prefix", func(t *testing.T) {
		_, err := facets.Parse("$other_1#building_x")
		assert.Error(t, err)
	})
}
