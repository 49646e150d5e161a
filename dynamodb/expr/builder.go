package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Identity fields stamped on every item to tell entities on a shared table
// apart.
const (
	FieldEntity  = "__facet_e__"
	FieldVersion = "__facet_v__"
)

// Identity names one entity version for identity filters.
type Identity struct {
	Entity  string
	Version string
}

// SortOp is a sort key comparison in a key condition.
type SortOp string

const (
	SortEq         SortOp = "="
	SortBeginsWith SortOp = "begins_with"
	SortBetween    SortOp = "between"
	SortGt         SortOp = ">"
	SortGte        SortOp = ">="
	SortLt         SortOp = "<"
	SortLte        SortOp = "<="
)

// SortKey is the sort key part of a key condition. Between takes two values,
// every other operator one.
type SortKey struct {
	Field  string
	Op     SortOp
	Values []types.AttributeValue
}

// Expressions is the output of a Builder. Empty strings mean the expression
// is absent.
type Expressions struct {
	KeyCondition string
	Filter       string
	Condition    string
	Update       string
	Projection   string
	Names        map[string]string
	Values       map[string]types.AttributeValue
}

// Builder assembles the expressions of one request.
type Builder struct {
	schema *attr.Schema
	reg    *Registry

	key        string
	filters    []string
	conditions []string
	projection []string
	update     *Update
	err        error
}

// NewBuilder returns a Builder resolving attribute paths against schema.
func NewBuilder(schema *attr.Schema) *Builder {
	return &Builder{schema: schema, reg: NewRegistry()}
}

// Registry returns the alias registry of the build.
func (b *Builder) Registry() *Registry { return b.reg }

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// KeyCondition sets the key condition. sk may be nil.
func (b *Builder) KeyCondition(pkField string, pk types.AttributeValue, sk *SortKey) {
	cond := b.reg.Name(pkField) + " = " + b.reg.Value(pkField, pk)
	if sk != nil {
		name := b.reg.Name(sk.Field)
		want := 1
		if sk.Op == SortBetween {
			want = 2
		}
		if len(sk.Values) != want {
			b.setErr(ddberr.New(ddberr.CodeInvalidOptions, "sort key operator %q takes %d values, got %d", sk.Op, want, len(sk.Values)))
			return
		}
		v := b.reg.Value(sk.Field, sk.Values[0])
		switch sk.Op {
		case SortBeginsWith:
			cond += " AND begins_with(" + name + ", " + v + ")"
		case SortBetween:
			cond += " AND " + name + " BETWEEN " + v + " AND " + b.reg.Value(sk.Field, sk.Values[1])
		case SortEq, SortGt, SortGte, SortLt, SortLte:
			cond += " AND " + name + " " + string(sk.Op) + " " + v
		default:
			b.setErr(ddberr.New(ddberr.CodeInvalidOptions, "unknown sort key operator %q", sk.Op))
			return
		}
	}
	b.key = cond
}

// Where adds a filter rendered by fn.
func (b *Builder) Where(fn WhereFunc) {
	out, err := b.runWhere(fn)
	if err != nil {
		b.setErr(err)
		return
	}
	if out != "" {
		b.filters = append(b.filters, out)
	}
}

// ConditionWhere adds a write condition rendered by fn.
func (b *Builder) ConditionWhere(fn WhereFunc) {
	out, err := b.runWhere(fn)
	if err != nil {
		b.setErr(err)
		return
	}
	if out != "" {
		b.conditions = append(b.conditions, out)
	}
}

// Filter adds a filter from the expression package.
func (b *Builder) Filter(cb expression.ConditionBuilder) {
	if out := b.importCondition(cb); out != "" {
		b.filters = append(b.filters, out)
	}
}

// Condition adds a write condition from the expression package.
func (b *Builder) Condition(cb expression.ConditionBuilder) {
	if out := b.importCondition(cb); out != "" {
		b.conditions = append(b.conditions, out)
	}
}

// FilterEquals adds an equality filter for each attribute in values, in the
// order of names.
func (b *Builder) FilterEquals(names []string, values map[string]any) {
	for _, n := range names {
		def, fields, err := b.schema.Resolve(n)
		if err != nil {
			b.setErr(ddberr.Wrap(ddberr.CodeInvalidFilterResponse, err, "filter on %q", n))
			return
		}
		av, err := marshalValue(def, values[n])
		if err != nil {
			b.setErr(ddberr.Wrap(ddberr.CodeValidation, err, "filter on %q", n))
			return
		}
		b.filters = append(b.filters, b.reg.Path(fields)+" = "+b.reg.Value(def.Name, av))
	}
}

// FieldBeginsWith adds a begins_with filter on a physical field.
func (b *Builder) FieldBeginsWith(field, prefix string) {
	b.filters = append(b.filters, "begins_with("+b.reg.Name(field)+", "+
		b.reg.Value(field, &types.AttributeValueMemberS{Value: prefix})+")")
}

// KeysExist adds a write condition requiring the fields to exist, or not to
// exist, on the stored item.
func (b *Builder) KeysExist(exists bool, fields ...string) {
	fn := "attribute_not_exists"
	if exists {
		fn = "attribute_exists"
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fn + "(" + b.reg.Name(f) + ")"
	}
	b.conditions = append(b.conditions, strings.Join(parts, " AND "))
}

// Identity adds the identity filter for the entities. Several entities form
// a single OR group.
func (b *Builder) Identity(ids ...Identity) {
	if len(ids) == 0 {
		return
	}
	e, v := b.reg.Name(FieldEntity), b.reg.Name(FieldVersion)
	clauses := make([]string, len(ids))
	for i, id := range ids {
		ea := b.reg.Value(FieldEntity+"_"+id.Entity, &types.AttributeValueMemberS{Value: id.Entity})
		va := b.reg.Value(FieldVersion+"_"+id.Entity, &types.AttributeValueMemberS{Value: id.Version})
		clauses[i] = e + " = " + ea + " AND " + v + " = " + va
	}
	if len(clauses) == 1 {
		b.filters = append(b.filters, clauses[0])
		return
	}
	for i, c := range clauses {
		clauses[i] = "(" + c + ")"
	}
	b.filters = append(b.filters, strings.Join(clauses, " OR "))
}

// Project limits the returned fields.
func (b *Builder) Project(fields ...string) {
	for _, f := range fields {
		b.projection = append(b.projection, b.reg.Name(f))
	}
}

// Update returns the update expression of the build.
func (b *Builder) Update() *Update {
	if b.update == nil {
		b.update = &Update{b: b}
	}
	return b.update
}

// Build renders the expressions. It returns the first error recorded while
// building.
func (b *Builder) Build() (Expressions, error) {
	if b.err != nil {
		return Expressions{}, b.err
	}
	out := Expressions{
		KeyCondition: b.key,
		Filter:       joinAnd(b.filters),
		Condition:    joinAnd(b.conditions),
		Projection:   strings.Join(b.projection, ", "),
	}
	if b.update != nil {
		out.Update = b.update.render()
	}
	out.Names = b.reg.Names()
	out.Values = b.reg.Values()
	return out, nil
}

func joinAnd(frags []string) string {
	switch len(frags) {
	case 0:
		return ""
	case 1:
		return frags[0]
	}
	parts := make([]string, len(frags))
	for i, f := range frags {
		parts[i] = "(" + f + ")"
	}
	return strings.Join(parts, " AND ")
}

// placeholderRegex matches the #0 and :0 style placeholders produced by the
// expression package.
var placeholderRegex = regexp.MustCompile(`[#:][0-9]+`)

// importCondition renders cb and moves its placeholders into the registry.
// Names that match a declared attribute are renamed to its storage field.
func (b *Builder) importCondition(cb expression.ConditionBuilder) string {
	e, err := expression.NewBuilder().WithCondition(cb).Build()
	if err != nil {
		b.setErr(ddberr.Wrap(ddberr.CodeInvalidFilterResponse, err, "build condition"))
		return ""
	}
	names, values := e.Names(), e.Values()
	var missing error
	out := placeholderRegex.ReplaceAllStringFunc(*e.Condition(), func(tok string) string {
		if tok[0] == '#' {
			name, ok := names[tok]
			if !ok {
				missing = fmt.Errorf("placeholder %s has no name", tok)
				return tok
			}
			if a, ok := b.schema.Lookup(name); ok {
				name = a.FieldName()
			}
			return b.reg.Name(name)
		}
		v, ok := values[tok]
		if !ok {
			missing = fmt.Errorf("placeholder %s has no value", tok)
			return tok
		}
		return b.reg.Value("v", v)
	})
	if missing != nil {
		b.setErr(ddberr.Wrap(ddberr.CodeInvalidFilterResponse, missing, "import condition"))
		return ""
	}
	return out
}
