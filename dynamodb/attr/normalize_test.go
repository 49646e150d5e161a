package attr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSchema(t *testing.T, attrs ...Attribute) *Schema {
	t.Helper()
	s, err := NewSchema(attrs)
	require.NoError(t, err)
	return s
}

func validationErrors(t *testing.T, err error) ValidationErrors {
	t.Helper()
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	return verrs
}

func TestNormalizeDefaultsAreIdempotent(t *testing.T) {
	calls := 0
	s := mustSchema(t,
		Attribute{Name: "id", Type: String(), DefaultFunc: func() any {
			calls++
			return fmt.Sprintf("id-%d", calls)
		}},
		Attribute{Name: "status", Type: Enum("active", "inactive"), Default: "active"},
		Attribute{Name: "address", Type: Map(
			Attribute{Name: "country", Type: String(), Default: "SE"},
		)},
	)

	first, err := s.Normalize(Item{}, ModePut)
	require.NoError(t, err)
	assert.Equal(t, Item{"id": "id-1", "status": "active"}, first)

	second, err := s.Normalize(first, ModePut)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	t.Run("descendant defaults need a container", func(t *testing.T) {
		out, err := s.Normalize(Item{"id": "x", "address": map[string]any{}}, ModePut)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"country": "SE"}, out["address"])
	})

	t.Run("static defaults are not shared", func(t *testing.T) {
		s := mustSchema(t, Attribute{Name: "meta", Type: Map(), Default: map[string]any{"a": "b"}})
		one, err := s.Normalize(Item{}, ModePut)
		require.NoError(t, err)
		one["meta"].(map[string]any)["a"] = "changed"
		two, err := s.Normalize(Item{}, ModePut)
		require.NoError(t, err)
		assert.Equal(t, "b", two["meta"].(map[string]any)["a"])
	})
}

func TestNormalizeTypeChecks(t *testing.T) {
	s := mustSchema(t,
		Attribute{Name: "name", Type: String(), Required: true},
		Attribute{Name: "count", Type: Number()},
		Attribute{Name: "ok", Type: Boolean()},
		Attribute{Name: "status", Type: Enum("active", "inactive")},
		Attribute{Name: "tags", Type: StringSet()},
		Attribute{Name: "scores", Type: NumberSet()},
	)

	t.Run("accepts coercible values", func(t *testing.T) {
		out, err := s.Normalize(Item{
			"name":   "a",
			"count":  int32(7),
			"ok":     true,
			"status": "inactive",
			"tags":   map[string]struct{}{"b": {}, "a": {}},
			"scores": []int{3, 1, 3},
		}, ModePut)
		require.NoError(t, err)
		assert.Equal(t, int32(7), out["count"])
		assert.Equal(t, []string{"a", "b"}, out["tags"])
		assert.Equal(t, []float64{3, 1}, out["scores"])
	})

	tests := []struct {
		name  string
		item  Item
		field string
		code  ErrorCode
	}{
		{"missing required", Item{}, "name", CodeRequired},
		{"wrong scalar", Item{"name": "a", "count": "7"}, "count", CodeTypeMismatch},
		{"enum member", Item{"name": "a", "status": "gone"}, "status", CodeTypeMismatch},
		{"set element", Item{"name": "a", "tags": []any{"x", 1}}, "tags", CodeTypeMismatch},
		{"boolean", Item{"name": "a", "ok": "true"}, "ok", CodeTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Normalize(tt.item, ModePut)
			verrs := validationErrors(t, err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
			assert.Equal(t, tt.code, verrs[0].Code)
		})
	}
}

func TestNormalizeValidationOrder(t *testing.T) {
	var calls []string
	record := func(name string, fail bool) Validator {
		return func(v any) error {
			calls = append(calls, name)
			if fail {
				return ErrInvalidValue
			}
			return nil
		}
	}
	build := func(failStreet bool) *Schema {
		return mustSchema(t,
			Attribute{Name: "a", Type: String(), Validate: record("a", false)},
			Attribute{Name: "address", Type: Map(
				Attribute{Name: "street", Type: String(), Validate: record("address.street", failStreet)},
				Attribute{Name: "city", Type: String(), Validate: record("address.city", false)},
			), Validate: record("address", false)},
			Attribute{Name: "tags", Type: List(Attribute{Type: String(), Validate: record("tags[*]", false)}), Validate: record("tags", false)},
		)
	}
	item := Item{
		"a":       "x",
		"address": map[string]any{"street": "s", "city": "c"},
		"tags":    []string{"t1", "t2"},
	}

	t.Run("children before containers", func(t *testing.T) {
		calls = nil
		out, err := build(false).Normalize(item, ModePut)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "address.street", "address.city", "address", "tags[*]", "tags[*]", "tags"}, calls)
		assert.Equal(t, []any{"t1", "t2"}, out["tags"])
	})

	t.Run("failing child skips its container only", func(t *testing.T) {
		calls = nil
		_, err := build(true).Normalize(item, ModePut)
		verrs := validationErrors(t, err)
		require.Len(t, verrs, 1)
		assert.Equal(t, "address.street", verrs[0].Field)
		assert.Equal(t, GenericReason, verrs[0].Reason)
		assert.Equal(t, []string{"a", "address.street", "address.city", "tags[*]", "tags[*]", "tags"}, calls)
	})
}

func TestNormalizeCollectsNestedPaths(t *testing.T) {
	s := mustSchema(t,
		Attribute{Name: "rooms", Type: List(Attribute{Type: Map(
			Attribute{Name: "name", Type: String(), Required: true},
		)})},
		Attribute{Name: "owner", Type: String(), Required: true},
	)
	_, err := s.Normalize(Item{"rooms": []any{map[string]any{}}}, ModePut)
	verrs := validationErrors(t, err)
	assert.Equal(t, []string{"rooms[*].name", "owner"}, verrs.Fields())

	var derr *ddberr.Error
	assert.False(t, errors.As(err, &derr), "attribute errors are wrapped by the entity layer")
}

func TestValidatorResults(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		validate  Validator
		reason    string
		wantCause bool
	}{
		{"predicate", Predicate(func(v any) bool { return v == "bad" }), GenericReason, false},
		{"message", Message(func(v any) string { return "too short" }), "too short", false},
		{"reason", func(v any) error { return Reason("nope") }, "nope", false},
		{"plain error", func(v any) error { return boom }, GenericReason, true},
		{"panic", func(v any) error { panic("kaboom") }, GenericReason, true},
		{"pattern", Pattern(regexp.MustCompile(`^[0-9]+$`)), `Value does not match pattern "^[0-9]+$"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSchema(t, Attribute{Name: "v", Type: String(), Validate: tt.validate})
			_, err := s.Normalize(Item{"v": "bad"}, ModePut)
			verrs := validationErrors(t, err)
			require.Len(t, verrs, 1)
			assert.Equal(t, CodeInvalidValue, verrs[0].Code)
			assert.Equal(t, tt.reason, verrs[0].Reason)
			if tt.wantCause {
				require.Error(t, verrs[0].Cause)
			} else {
				assert.NoError(t, verrs[0].Cause)
			}
		})
	}

	t.Run("plain error is the cause", func(t *testing.T) {
		s := mustSchema(t, Attribute{Name: "v", Type: String(), Validate: func(v any) error { return boom }})
		_, err := s.Normalize(Item{"v": "x"}, ModePut)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("panic is captured", func(t *testing.T) {
		s := mustSchema(t, Attribute{Name: "v", Type: String(), Validate: func(v any) error { panic("kaboom") }})
		_, err := s.Normalize(Item{"v": "x"}, ModePut)
		assert.True(t, strings.Contains(err.Error(), "validator panicked: kaboom"))
	})
}

func TestNormalizeSetTransform(t *testing.T) {
	s := mustSchema(t,
		Attribute{Name: "email", Type: String(), Set: func(v any, _ Item) any { return strings.ToLower(v.(string)) }},
		Attribute{Name: "bad", Type: String(), Set: func(v any, _ Item) any { panic("no") }},
	)
	out, err := s.Normalize(Item{"email": "A@B.SE"}, ModePut)
	require.NoError(t, err)
	assert.Equal(t, "a@b.se", out["email"])

	_, err = s.Normalize(Item{"bad": "x"}, ModePut)
	verrs := validationErrors(t, err)
	assert.Equal(t, CodeTransform, verrs[0].Code)
}

func TestNormalizeUpdate(t *testing.T) {
	s := mustSchema(t,
		Attribute{Name: "id", Type: String(), ReadOnly: true},
		Attribute{Name: "name", Type: String(), Required: true},
		Attribute{Name: "nick", Type: String(), Default: "anon"},
		Attribute{Name: "address", Type: Map(Attribute{Name: "country", Type: String(), Default: "SE"})},
	)

	out, err := s.Normalize(Item{"name": "x", "address": map[string]any{}}, ModeUpdate)
	require.NoError(t, err)
	assert.Equal(t, Item{"name": "x", "address": map[string]any{"country": "SE"}}, out)

	_, err = s.Normalize(Item{"id": "x", "name": nil, "nope": 1}, ModeUpdate)
	verrs := validationErrors(t, err)
	require.Len(t, verrs, 3)
	assert.Equal(t, []string{"id", "name", "nope"}, verrs.Fields())
	assert.Equal(t, CodeReadOnly, verrs[0].Code)
	assert.Equal(t, CodeRequired, verrs[1].Code)
	assert.Equal(t, CodeUnknownAttribute, verrs[2].Code)

	require.NoError(t, s.CheckRemovable("nick"))
	verrs = validationErrors(t, s.CheckRemovable("name", "id"))
	assert.Equal(t, []string{"name", "id"}, verrs.Fields())
}

func TestNewSchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		attrs []Attribute
		want  string
	}{
		{"duplicate name", []Attribute{{Name: "a", Type: String()}, {Name: "a", Type: Number()}}, `duplicate attribute "a"`},
		{"duplicate field", []Attribute{{Name: "a", Type: String()}, {Name: "b", Type: String(), Field: "a"}}, `both use field "a"`},
		{"empty enum", []Attribute{{Name: "e", Type: Enum()}}, `"e": property "enum"`},
		{"missing type", []Attribute{{Name: "x"}}, `"x": property "type"`},
		{"list without item", []Attribute{{Name: "l", Type: Type{Kind: KindList}}}, `"l": property "items"`},
		{"nested", []Attribute{{Name: "m", Type: Map(Attribute{Name: "p", Type: Type{Kind: KindSet, Elem: KindBoolean}})}}, `"m.p": property "items"`},
		{"padding", []Attribute{{Name: "n", Type: Number(), Padding: &Padding{Length: 3}}}, `"n": property "padding"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.attrs)
			require.Error(t, err)
			assert.ErrorIs(t, err, ddberr.ErrSchemaValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
