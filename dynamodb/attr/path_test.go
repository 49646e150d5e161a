package attr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		want    []PathSegment
		wantErr bool
	}{
		{path: "name", want: []PathSegment{{Name: "name"}}},
		{path: "rooms[0].name", want: []PathSegment{{Name: "rooms", Indexes: []int{0}}, {Name: "name"}}},
		{path: "grid[1][2]", want: []PathSegment{{Name: "grid", Indexes: []int{1, 2}}}},
		{path: "", wantErr: true},
		{path: "a..b", wantErr: true},
		{path: "a[x]", wantErr: true},
		{path: "a[1", wantErr: true},
		{path: "a[1]b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.path, JoinPath(got))
		})
	}
}

func TestResolve(t *testing.T) {
	s := mustSchema(t,
		Attribute{Name: "address", Field: "addr", Type: Map(Attribute{Name: "street", Field: "st", Type: String()})},
		Attribute{Name: "rooms", Type: List(Attribute{Type: Map(Attribute{Name: "size", Type: Number()})})},
		Attribute{Name: "meta", Type: Map()},
		Attribute{Name: "count", Type: Number()},
	)

	a, fields, err := s.Resolve("address.street")
	require.NoError(t, err)
	assert.Equal(t, KindString, a.Type.Kind)
	assert.Equal(t, "addr.st", JoinPath(fields))

	a, fields, err = s.Resolve("rooms[3].size")
	require.NoError(t, err)
	assert.Equal(t, KindNumber, a.Type.Kind)
	assert.Equal(t, "rooms[3].size", JoinPath(fields))

	a, _, err = s.Resolve("meta.anything")
	require.NoError(t, err)
	assert.Equal(t, KindCustom, a.Type.Kind)

	for _, bad := range []string{"nope", "address.nope", "count.x", "count[0]"} {
		_, _, err := s.Resolve(bad)
		assert.Error(t, err, bad)
	}
}
