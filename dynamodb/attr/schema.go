package attr

import (
	"github.com/acksell/facet/dynamodb/ddberr"
)

// Schema is a validated, ordered set of attribute definitions.
type Schema struct {
	attrs   []*Attribute
	byName  map[string]*Attribute
	byField map[string]*Attribute
}

// NewSchema validates the definitions and returns the schema.
// Attribute names and storage field names must be unique.
func NewSchema(attrs []Attribute) (*Schema, error) {
	s := &Schema{
		byName:  make(map[string]*Attribute, len(attrs)),
		byField: make(map[string]*Attribute, len(attrs)),
	}
	for i := range attrs {
		a := attrs[i]
		if a.Name == "" {
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"invalid attribute definition at position %d: property \"name\" received \"\", expected a non-empty string", i)
		}
		if _, dup := s.byName[a.Name]; dup {
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"duplicate attribute %q", a.Name).WithAttributes(a.Name)
		}
		if other, dup := s.byField[a.FieldName()]; dup {
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"attributes %q and %q both use field %q", other.Name, a.Name, a.FieldName()).WithAttributes(other.Name, a.Name)
		}
		if err := checkDefinition(a.Name, &a); err != nil {
			return nil, err
		}
		p := &a
		s.attrs = append(s.attrs, p)
		s.byName[a.Name] = p
		s.byField[a.FieldName()] = p
	}
	return s, nil
}

func checkDefinition(path string, a *Attribute) error {
	invalid := func(prop string, received any, expected string) error {
		return ddberr.New(ddberr.CodeSchemaValidation,
			"invalid attribute definition for %q: property %q received %v, expected %s",
			path, prop, received, expected).WithAttributes(path)
	}
	switch a.Type.Kind {
	case KindString, KindNumber, KindBoolean, KindCustom:
	case KindEnum:
		if len(a.Type.Enum) == 0 {
			return invalid("enum", "[]", "at least one value")
		}
	case KindSet:
		if a.Type.Elem != KindString && a.Type.Elem != KindNumber {
			return invalid("items", a.Type.Elem, `"string" or "number"`)
		}
	case KindList:
		if a.Type.Item == nil {
			return invalid("items", "nil", "an item definition")
		}
		return checkDefinition(path+"[*]", a.Type.Item)
	case KindMap:
		seen := make(map[string]bool, len(a.Type.Properties))
		for i := range a.Type.Properties {
			p := &a.Type.Properties[i]
			if p.Name == "" {
				return invalid("properties", `""`, "named properties")
			}
			if seen[p.FieldName()] {
				return invalid("properties", p.FieldName(), "unique property fields")
			}
			seen[p.FieldName()] = true
			if err := checkDefinition(path+"."+p.Name, p); err != nil {
				return err
			}
		}
	default:
		return invalid("type", a.Type.Kind, "one of string, number, boolean, enum, set, list, map, any")
	}
	if a.Padding != nil && (a.Padding.Length <= 0 || len([]rune(a.Padding.Char)) != 1) {
		return invalid("padding", *a.Padding, "a positive length and a single character")
	}
	return nil
}

// Attributes returns the definitions in declaration order.
func (s *Schema) Attributes() []*Attribute {
	return s.attrs
}

// Names returns the attribute names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.attrs))
	for i, a := range s.attrs {
		names[i] = a.Name
	}
	return names
}

// Lookup returns the attribute named name.
func (s *Schema) Lookup(name string) (*Attribute, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// LookupField returns the attribute stored under field.
func (s *Schema) LookupField(field string) (*Attribute, bool) {
	a, ok := s.byField[field]
	return a, ok
}

// Walk visits every attribute and nested definition depth first, in
// declaration order, passing the attribute path. Returning false from fn
// skips the descendants of that attribute.
func (s *Schema) Walk(fn func(path string, a *Attribute) bool) {
	for _, a := range s.attrs {
		walk(a.Name, a, fn)
	}
}

func walk(path string, a *Attribute, fn func(string, *Attribute) bool) {
	if !fn(path, a) {
		return
	}
	switch a.Type.Kind {
	case KindList:
		walk(path+"[*]", a.Type.Item, fn)
	case KindMap:
		for i := range a.Type.Properties {
			p := &a.Type.Properties[i]
			walk(path+"."+p.Name, p, fn)
		}
	}
}

// FieldPath translates an attribute path such as "address.street" into
// storage field names. Unknown segments are returned unchanged.
func (s *Schema) FieldPath(path []string) []string {
	out := make([]string, len(path))
	var props []Attribute
	for i, seg := range path {
		out[i] = seg
		var a *Attribute
		if i == 0 {
			a, _ = s.Lookup(seg)
		} else {
			for j := range props {
				if props[j].Name == seg {
					a = &props[j]
					break
				}
			}
		}
		if a == nil {
			props = nil
			continue
		}
		out[i] = a.FieldName()
		t := a.Type
		for t.Kind == KindList && t.Item != nil {
			t = t.Item.Type
		}
		props = t.Properties
	}
	return out
}
