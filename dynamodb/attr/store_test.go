package attr

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s := mustSchema(t,
		Attribute{Name: "name", Type: String(), Field: "n"},
		Attribute{Name: "count", Type: Number()},
		Attribute{Name: "active", Type: Boolean()},
		Attribute{Name: "tags", Type: StringSet()},
		Attribute{Name: "scores", Type: NumberSet()},
		Attribute{Name: "address", Type: Map(Attribute{Name: "street", Type: String(), Field: "st"})},
		Attribute{Name: "rooms", Type: List(Attribute{Type: Map(Attribute{Name: "name", Type: String()})})},
		Attribute{Name: "empty", Type: StringSet()},
	)
	item, err := s.Normalize(Item{
		"name":    "x",
		"count":   3,
		"active":  true,
		"tags":    []string{"a", "b"},
		"scores":  []int{1, 2},
		"address": map[string]any{"street": "main"},
		"rooms":   []any{map[string]any{"name": "r1"}},
		"empty":   []string{},
	}, ModePut)
	require.NoError(t, err)

	av, err := s.ToStore(item)
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "x"}, av["n"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, av["count"])
	assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"a", "b"}}, av["tags"])
	assert.Equal(t, &types.AttributeValueMemberNS{Value: []string{"1", "2"}}, av["scores"])
	assert.Equal(t, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"st": &types.AttributeValueMemberS{Value: "main"},
	}}, av["address"])
	assert.NotContains(t, av, "empty")
	assert.NotContains(t, av, "name")

	back, err := s.FromStore(av)
	require.NoError(t, err)
	assert.Equal(t, Item{
		"name":    "x",
		"count":   float64(3),
		"active":  true,
		"tags":    []string{"a", "b"},
		"scores":  []float64{1, 2},
		"address": map[string]any{"street": "main"},
		"rooms":   []any{map[string]any{"name": "r1"}},
	}, back)
}

func TestFormat(t *testing.T) {
	s := mustSchema(t,
		Attribute{Name: "name", Type: String(), Get: func(v any, _ Item) any { return strings.ToUpper(v.(string)) }},
		Attribute{Name: "password", Type: String(), Hidden: true},
		Attribute{Name: "profile", Type: Map(
			Attribute{Name: "bio", Type: String()},
			Attribute{Name: "secret", Type: String(), Hidden: true},
		)},
	)
	out, err := s.Format(Item{
		"name":     "ann",
		"password": "hunter2",
		"profile":  map[string]any{"bio": "hi", "secret": "s"},
		"pk":       "$svc#id_1",
	})
	require.NoError(t, err)
	assert.Equal(t, Item{"name": "ANN", "profile": map[string]any{"bio": "hi"}}, out)

	viaMode, err := s.Normalize(Item{"name": "bo"}, ModeRead)
	require.NoError(t, err)
	assert.Equal(t, Item{"name": "BO"}, viaMode)
}

func TestWalkAndFieldPath(t *testing.T) {
	s := mustSchema(t,
		Attribute{Name: "address", Field: "addr", Type: Map(Attribute{Name: "street", Field: "st", Type: String()})},
		Attribute{Name: "rooms", Type: List(Attribute{Type: Map(Attribute{Name: "name", Field: "nm", Type: String()})})},
	)
	var paths []string
	s.Walk(func(path string, a *Attribute) bool {
		paths = append(paths, path)
		return true
	})
	assert.Equal(t, []string{"address", "address.street", "rooms", "rooms[*]", "rooms[*].name"}, paths)
	assert.Equal(t, []string{"addr", "st"}, s.FieldPath([]string{"address", "street"}))
	assert.Equal(t, []string{"rooms", "nm"}, s.FieldPath([]string{"rooms", "name"}))
	assert.Equal(t, []string{"other", "x"}, s.FieldPath([]string{"other", "x"}))
}
