package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attr refers to an attribute, or a path inside one, from a callback.
type Attr struct {
	path string
}

// Field refers to a property of a map attribute.
func (a Attr) Field(name string) Attr {
	if a.path == "" {
		return a
	}
	return Attr{path: a.path + "." + name}
}

// Index refers to an element of a list attribute.
func (a Attr) Index(i int) Attr {
	if a.path == "" {
		return a
	}
	return Attr{path: a.path + "[" + strconv.Itoa(i) + "]"}
}

// Path returns the attribute path.
func (a Attr) Path() string { return a.path }

// Attrs holds every declared attribute by name. Use Get to refer to an
// attribute that may not exist so the error can name it.
type Attrs map[string]Attr

// Get returns the attribute named name, declared or not.
func (a Attrs) Get(name string) Attr {
	return Attr{path: name}
}

func attrsOf(schema *attr.Schema) Attrs {
	out := make(Attrs, len(schema.Attributes()))
	for _, a := range schema.Attributes() {
		out[a.Name] = Attr{path: a.Name}
	}
	return out
}

// WhereFunc renders a filter or condition expression using the operations in
// ops. Every attribute and value must go through ops so it is registered.
//
//	func(a expr.Attrs, op expr.Ops) string {
//	    return op.Eq(a["status"], "open") + " AND " + op.Gt(a["rent"], 2000)
//	}
type WhereFunc func(a Attrs, op Ops) string

// callbackState collects what a callback referenced and the first error.
type callbackState struct {
	b    *Builder
	refs int
	err  error
}

func (s *callbackState) fail(format string, args ...any) {
	if s.err == nil {
		s.err = ddberr.New(ddberr.CodeInvalidFilterResponse, format, args...)
	}
}

// resolve returns the alias path and definition of a, recording a failure
// for unknown attributes.
func (s *callbackState) resolve(a Attr) (string, *attr.Attribute) {
	s.refs++
	if a.path == "" {
		s.fail("reference to an undeclared attribute")
		return "", nil
	}
	def, fields, err := s.b.schema.Resolve(a.path)
	if err != nil {
		s.fail("invalid attribute reference %q: %v", a.path, err)
		return "", nil
	}
	return s.b.reg.Path(fields), def
}

func (s *callbackState) value(name string, def *attr.Attribute, v any) string {
	av, err := marshalValue(def, v)
	if err != nil {
		s.fail("invalid value for %q: %v", name, err)
		return ""
	}
	return s.b.reg.Value(name, av)
}

func marshalValue(def *attr.Attribute, v any) (types.AttributeValue, error) {
	if av, ok := v.(types.AttributeValue); ok {
		return av, nil
	}
	if def != nil {
		switch def.Type.Kind {
		case attr.KindNumber, attr.KindMap, attr.KindList:
			return def.Marshal(v)
		case attr.KindSet:
			if _, isString := v.(string); !isString {
				if _, isNum := attr.Float(v); !isNum {
					return def.Marshal(v)
				}
			}
		}
	}
	return attributevalue.Marshal(v)
}

// Ops renders the operations available to a WhereFunc.
type Ops struct {
	s *callbackState
}

func (o Ops) compare(a Attr, op string, v any) string {
	name, def := o.s.resolve(a)
	if def == nil {
		return ""
	}
	return name + " " + op + " " + o.s.value(def.Name, def, v)
}

func (o Ops) Eq(a Attr, v any) string  { return o.compare(a, "=", v) }
func (o Ops) Ne(a Attr, v any) string  { return o.compare(a, "<>", v) }
func (o Ops) Gt(a Attr, v any) string  { return o.compare(a, ">", v) }
func (o Ops) Gte(a Attr, v any) string { return o.compare(a, ">=", v) }
func (o Ops) Lt(a Attr, v any) string  { return o.compare(a, "<", v) }
func (o Ops) Lte(a Attr, v any) string { return o.compare(a, "<=", v) }

// Between renders an inclusive range check.
func (o Ops) Between(a Attr, lo, hi any) string {
	name, def := o.s.resolve(a)
	if def == nil {
		return ""
	}
	return fmt.Sprintf("(%s BETWEEN %s AND %s)", name, o.s.value(def.Name, def, lo), o.s.value(def.Name, def, hi))
}

func (o Ops) function(fn string, a Attr, v any) string {
	name, def := o.s.resolve(a)
	if def == nil {
		return ""
	}
	return fn + "(" + name + ", " + o.s.value(def.Name, def, v) + ")"
}

func (o Ops) BeginsWith(a Attr, v any) string { return o.function("begins_with", a, v) }
func (o Ops) Contains(a Attr, v any) string   { return o.function("contains", a, v) }
func (o Ops) NotContains(a Attr, v any) string {
	if s := o.function("contains", a, v); s != "" {
		return "NOT " + s
	}
	return ""
}

// Type checks the DynamoDB type of an attribute, e.g. "S" or "N".
func (o Ops) Type(a Attr, typ string) string {
	name, def := o.s.resolve(a)
	if def == nil {
		return ""
	}
	return "attribute_type(" + name + ", " + o.s.b.reg.Value(def.Name, &types.AttributeValueMemberS{Value: typ}) + ")"
}

func (o Ops) Exists(a Attr) string {
	name, _ := o.s.resolve(a)
	if name == "" {
		return ""
	}
	return "attribute_exists(" + name + ")"
}

func (o Ops) NotExists(a Attr) string {
	name, _ := o.s.resolve(a)
	if name == "" {
		return ""
	}
	return "attribute_not_exists(" + name + ")"
}

// Size renders size(#name) for use as an operand.
func (o Ops) Size(a Attr) string {
	name, _ := o.s.resolve(a)
	if name == "" {
		return ""
	}
	return "size(" + name + ")"
}

// Name renders the alias of an attribute for use as an operand.
func (o Ops) Name(a Attr) string {
	name, _ := o.s.resolve(a)
	return name
}

// Value registers v as a value of the attribute and renders its alias.
func (o Ops) Value(a Attr, v any) string {
	_, def := o.s.resolve(a)
	if def == nil {
		return ""
	}
	return o.s.value(def.Name, def, v)
}

// Escape registers a value that is not tied to an attribute.
func (o Ops) Escape(v any) string {
	return o.s.value("escaped", nil, v)
}

// runWhere invokes fn behind a recover boundary.
func (b *Builder) runWhere(fn WhereFunc) (out string, err error) {
	s := &callbackState{b: b}
	defer func() {
		if r := recover(); r != nil {
			err = ddberr.Wrap(ddberr.CodeInvalidFilterResponse, fmt.Errorf("%v", r), "where callback panicked")
		}
	}()
	out = strings.TrimSpace(fn(attrsOf(b.schema), Ops{s: s}))
	if s.err != nil {
		return "", s.err
	}
	if out == "" && s.refs > 0 {
		return "", ddberr.New(ddberr.CodeInvalidFilterResponse,
			"where callback referenced attributes but returned an empty expression")
	}
	return out, nil
}
