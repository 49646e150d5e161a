// Package keys encodes attribute values into composite key strings and parses
// them back.
//
// A key is either a list of facets, rendered as a prefix followed by
// "#label_value" for every facet, or a template with :name placeholders.
// Sort keys are built progressively: composition stops at the first missing
// facet, leaving that facet's label so the result works as a begins_with
// prefix.
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
)

// Casing controls the case of a composed key.
type Casing string

const (
	CasingDefault Casing = "default"
	CasingLower   Casing = "lower"
	CasingUpper   Casing = "upper"
	CasingNone    Casing = "none"
)

// Apply returns s in the given casing. The zero value behaves like
// CasingDefault, which is lower case.
func (c Casing) Apply(s string) string {
	switch c {
	case CasingUpper:
		return strings.ToUpper(s)
	case CasingNone:
		return s
	default:
		return strings.ToLower(s)
	}
}

func (c Casing) valid() bool {
	switch c {
	case "", CasingDefault, CasingLower, CasingUpper, CasingNone:
		return true
	}
	return false
}

// Spec describes one key of an index.
type Spec struct {
	// Field is the physical attribute the key is stored in.
	Field string
	// Prefix is written before the facets. Templates ignore it.
	Prefix   string
	Facets   []string
	Template string
	Casing   Casing
}

// Composer builds and parses the key described by a Spec.
// It is immutable and safe for concurrent use.
type Composer struct {
	spec   Spec
	facets []*attr.Attribute
	tokens []token
	raw    bool
}

// New validates spec against the schema and returns its Composer.
func New(spec Spec, schema *attr.Schema) (*Composer, error) {
	c := &Composer{spec: spec}
	if spec.Field == "" {
		return nil, ddberr.New(ddberr.CodeSchemaValidation, "key definition is missing a field name")
	}
	if !spec.Casing.valid() {
		return nil, ddberr.New(ddberr.CodeSchemaValidation,
			"key %q: property \"casing\" received %q, expected one of default, lower, upper, none", spec.Field, spec.Casing)
	}
	names := spec.Facets
	if spec.Template != "" {
		if len(spec.Facets) > 0 {
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"key %q declares both facets and a template", spec.Field)
		}
		tokens, err := tokenize(spec.Template)
		if err != nil {
			return nil, ddberr.Wrap(ddberr.CodeSchemaValidation, err, "key %q", spec.Field)
		}
		c.tokens = tokens
		names = placeholders(tokens)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		a, ok := schema.Lookup(name)
		if !ok {
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"key %q references unknown attribute %q", spec.Field, name).WithAttributes(name)
		}
		if seen[name] {
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"key %q uses attribute %q more than once", spec.Field, name).WithAttributes(name)
		}
		seen[name] = true
		switch a.Type.Kind {
		case attr.KindString, attr.KindNumber, attr.KindBoolean, attr.KindEnum:
		default:
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"key %q: attribute %q has type %s, expected a string, number, boolean or enum", spec.Field, name, a.Type).WithAttributes(name)
		}
		c.facets = append(c.facets, a)
	}
	c.raw = spec.Template == "" && len(c.facets) == 1 && c.facets[0].FieldName() == spec.Field
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(spec Spec, schema *attr.Schema) *Composer {
	c, err := New(spec, schema)
	if err != nil {
		panic(fmt.Sprintf("keys.MustNew: %v", err))
	}
	return c
}

// Field returns the physical attribute name of the key.
func (c *Composer) Field() string { return c.spec.Field }

// Casing returns the configured casing.
func (c *Composer) Casing() Casing { return c.spec.Casing }

// IsTemplate reports whether the key is defined by a template.
func (c *Composer) IsTemplate() bool { return c.tokens != nil }

// IsRaw reports whether the key field is the facet attribute itself, in which
// case the value is stored as is, without prefix, label or casing.
func (c *Composer) IsRaw() bool { return c.raw }

// Facets returns the facet attribute names in key order.
func (c *Composer) Facets() []string {
	names := make([]string, len(c.facets))
	for i, a := range c.facets {
		names[i] = a.Name
	}
	return names
}

// Prefix returns the part of the key that does not depend on any value.
func (c *Composer) Prefix() string {
	switch {
	case c.raw:
		return ""
	case c.tokens != nil:
		if c.tokens[0].literal {
			return c.tokens[0].value
		}
		return ""
	default:
		return c.spec.Casing.Apply(c.spec.Prefix)
	}
}

// Missing returns the facets without a value, in key order.
func (c *Composer) Missing(values map[string]any) []string {
	var missing []string
	for _, a := range c.facets {
		if !has(values, a.Name) {
			missing = append(missing, a.Name)
		}
	}
	return missing
}

// Build composes the complete key. It fails with IncompleteKeyFacets naming
// every missing facet.
func (c *Composer) Build(values map[string]any) (string, error) {
	if missing := c.Missing(values); len(missing) > 0 {
		return "", ddberr.New(ddberr.CodeIncompleteKeyFacets,
			"incomplete key facets for %q: missing %s", c.spec.Field, quoteAll(missing)).WithAttributes(missing...)
	}
	return c.BuildPartial(values), nil
}

// BuildPartial composes as much of the key as the values allow, stopping at
// the first missing facet.
func (c *Composer) BuildPartial(values map[string]any) string {
	if c.raw {
		if !has(values, c.facets[0].Name) {
			return ""
		}
		return formatValue(c.facets[0], values[c.facets[0].Name])
	}
	if c.tokens != nil {
		return c.buildTemplate(values)
	}
	var b strings.Builder
	b.WriteString(c.spec.Prefix)
	for _, a := range c.facets {
		b.WriteString("#")
		b.WriteString(a.KeyLabel())
		b.WriteString("_")
		if !has(values, a.Name) {
			break
		}
		b.WriteString(formatValue(a, values[a.Name]))
	}
	return c.spec.Casing.Apply(b.String())
}

func (c *Composer) buildTemplate(values map[string]any) string {
	var b strings.Builder
	byName := c.byName()
	for _, t := range c.tokens {
		if t.literal {
			b.WriteString(t.value)
			continue
		}
		if !has(values, t.value) {
			break
		}
		b.WriteString(c.spec.Casing.Apply(formatValue(byName[t.value], values[t.value])))
	}
	return b.String()
}

// BuildMany composes one partial key per value set, in input order.
func (c *Composer) BuildMany(sets []map[string]any) []string {
	out := make([]string, len(sets))
	for i, values := range sets {
		out[i] = c.BuildPartial(values)
	}
	return out
}

// Parse extracts the facet values from a key built by this Composer. Values
// are typed back from their attribute: numbers as float64, booleans as bool.
// A truncated key yields the facets before the truncation point. An empty
// segment of a string facet parses as the empty string.
func (c *Composer) Parse(key string) (map[string]any, error) {
	out := make(map[string]any, len(c.facets))
	if c.raw {
		v, err := parseValue(c.facets[0], key)
		if err != nil {
			return nil, err
		}
		out[c.facets[0].Name] = v
		return out, nil
	}
	if c.tokens != nil {
		return out, c.parseTemplate(key, out)
	}

	prefix := c.spec.Casing.Apply(c.spec.Prefix)
	if !strings.HasPrefix(key, prefix) {
		return nil, fmt.Errorf("key %q does not start with %q", key, prefix)
	}
	rest := key[len(prefix):]
	for i, a := range c.facets {
		last := i+1 == len(c.facets)
		if rest == "" {
			break
		}
		marker := c.spec.Casing.Apply("#" + a.KeyLabel() + "_")
		if !strings.HasPrefix(rest, marker) {
			return nil, fmt.Errorf("key %q: expected %q at %q", key, marker, rest)
		}
		rest = rest[len(marker):]
		if rest == "" && !last {
			// label of the first missing facet
			break
		}
		end := len(rest)
		if !last {
			next := c.spec.Casing.Apply("#" + c.facets[i+1].KeyLabel() + "_")
			if idx := strings.Index(rest, next); idx >= 0 {
				end = idx
			}
		}
		if end == 0 && !textual(a) {
			break
		}
		v, err := parseValue(a, rest[:end])
		if err != nil {
			return nil, err
		}
		out[a.Name] = v
		rest = rest[end:]
	}
	return out, nil
}

// textual reports whether an empty key segment is a valid value of a.
func textual(a *attr.Attribute) bool {
	return a.Type.Kind == attr.KindString || a.Type.Kind == attr.KindEnum
}

func (c *Composer) parseTemplate(key string, out map[string]any) error {
	byName := c.byName()
	rest := key
	for i, t := range c.tokens {
		if rest == "" {
			return nil
		}
		if t.literal {
			if !strings.HasPrefix(rest, t.value) {
				return fmt.Errorf("key %q does not match template %q", key, c.spec.Template)
			}
			rest = rest[len(t.value):]
			continue
		}
		end := len(rest)
		if i+1 < len(c.tokens) {
			if idx := strings.Index(rest, c.tokens[i+1].value); idx >= 0 {
				end = idx
			}
		}
		v, err := parseValue(byName[t.value], rest[:end])
		if err != nil {
			return err
		}
		out[t.value] = v
		rest = rest[end:]
	}
	return nil
}

func (c *Composer) byName() map[string]*attr.Attribute {
	m := make(map[string]*attr.Attribute, len(c.facets))
	for _, a := range c.facets {
		m[a.Name] = a
	}
	return m
}

func has(values map[string]any, name string) bool {
	v, ok := values[name]
	return ok && v != nil
}

func formatValue(a *attr.Attribute, v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case bool:
		s = strconv.FormatBool(t)
	default:
		if n, ok := attr.FormatNumber(v); ok {
			s = n
		} else {
			s = fmt.Sprint(v)
		}
	}
	if p := a.Padding; p != nil {
		if n := p.Length - len([]rune(s)); n > 0 {
			s = strings.Repeat(p.Char, n) + s
		}
	}
	return s
}

// unpad removes the padding formatValue added. Only values of exactly the
// padded length can carry padding.
func unpad(a *attr.Attribute, s string) string {
	p := a.Padding
	if p == nil || p.Char == "" || len([]rune(s)) != p.Length {
		return s
	}
	cutset := p.Char + strings.ToLower(p.Char) + strings.ToUpper(p.Char)
	return strings.TrimLeft(s, cutset)
}

func parseValue(a *attr.Attribute, s string) (any, error) {
	s = unpad(a, s)
	switch a.Type.Kind {
	case attr.KindNumber:
		if s == "" {
			s = "0"
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("facet %q: %w", a.Name, err)
		}
		return f, nil
	case attr.KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("facet %q: %w", a.Name, err)
		}
		return b, nil
	}
	return s, nil
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = strconv.Quote(n)
	}
	return strings.Join(q, ", ")
}
