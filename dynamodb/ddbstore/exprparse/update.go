package exprparse

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Update is a parsed UpdateExpression.
type Update struct {
	set    []setAction
	remove []Path
	add    []pathValue
	del    []pathValue
}

type pathValue struct {
	path  Path
	value types.AttributeValue
}

// setValue is the right hand side of a SET action.
type setValue interface {
	resolve(item Item) (types.AttributeValue, error)
}

type setAction struct {
	path  Path
	value setValue
}

type operandValue struct{ o Operand }

func (v operandValue) resolve(item Item) (types.AttributeValue, error) {
	av, ok, err := v.o.Resolve(item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("the provided expression refers to an attribute that does not exist in the item")
	}
	return av, nil
}

type arithValue struct {
	op   string
	l, r setValue
}

func (v arithValue) resolve(item Item) (types.AttributeValue, error) {
	l, err := v.l.resolve(item)
	if err != nil {
		return nil, err
	}
	r, err := v.r.resolve(item)
	if err != nil {
		return nil, err
	}
	ln, lok := l.(*types.AttributeValueMemberN)
	rn, rok := r.(*types.AttributeValueMemberN)
	if !lok || !rok {
		return nil, fmt.Errorf("an operand in the update expression has an incorrect data type")
	}
	x, err := parseNumber(ln.Value)
	if err != nil {
		return nil, err
	}
	y, err := parseNumber(rn.Value)
	if err != nil {
		return nil, err
	}
	if v.op == "-" {
		x.Sub(x, y)
	} else {
		x.Add(x, y)
	}
	return &types.AttributeValueMemberN{Value: formatNumber(x)}, nil
}

type ifNotExistsValue struct {
	path     Path
	fallback setValue
}

func (v ifNotExistsValue) resolve(item Item) (types.AttributeValue, error) {
	if av, ok := v.path.Get(item); ok {
		return av, nil
	}
	return v.fallback.resolve(item)
}

type listAppendValue struct{ l, r setValue }

func (v listAppendValue) resolve(item Item) (types.AttributeValue, error) {
	l, err := v.l.resolve(item)
	if err != nil {
		return nil, err
	}
	r, err := v.r.resolve(item)
	if err != nil {
		return nil, err
	}
	ll, lok := l.(*types.AttributeValueMemberL)
	rl, rok := r.(*types.AttributeValueMemberL)
	if !lok || !rok {
		return nil, fmt.Errorf("list_append expects two lists")
	}
	return &types.AttributeValueMemberL{Value: append(slices.Clone(ll.Value), rl.Value...)}, nil
}

// ParseUpdate parses an UpdateExpression.
func ParseUpdate(expr string, env Env) (*Update, error) {
	p, err := newParser(expr, env)
	if err != nil {
		return nil, err
	}
	u := &Update{}
	seen := map[string]bool{}
	for p.peek().kind != tokEOF {
		t := p.next()
		kw := strings.ToUpper(t.text)
		if t.kind != tokIdent || seen[kw] {
			return nil, fmt.Errorf("parse %q: unexpected %s", expr, t)
		}
		seen[kw] = true
		for {
			if err := u.parseAction(p, kw); err != nil {
				return nil, fmt.Errorf("parse %q: %w", expr, err)
			}
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("parse %q: empty update expression", expr)
	}
	if err := u.checkOverlap(); err != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	return u, nil
}

// checkOverlap rejects expressions addressing a path twice, or a path and
// one of its descendants.
func (u *Update) checkOverlap() error {
	var paths []Path
	for _, a := range u.set {
		paths = append(paths, a.path)
	}
	paths = append(paths, u.remove...)
	for _, a := range u.add {
		paths = append(paths, a.path)
	}
	for _, a := range u.del {
		paths = append(paths, a.path)
	}
	for i, a := range paths {
		for _, b := range paths[i+1:] {
			if a.overlaps(b) {
				return fmt.Errorf("two document paths overlap with each other; path one: [%s], path two: [%s]", a, b)
			}
		}
	}
	return nil
}

// overlaps reports whether one path is equal to or a prefix of the other.
func (p Path) overlaps(q Path) bool {
	n := min(len(p), len(q))
	for i := range n {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

func (u *Update) parseAction(p *parser, kw string) error {
	path, err := p.parsePath()
	if err != nil {
		return err
	}
	switch kw {
	case "SET":
		if t := p.next(); t.kind != tokOp || t.text != "=" {
			return fmt.Errorf("expected =, got %s", t)
		}
		v, err := p.parseSetValue()
		if err != nil {
			return err
		}
		u.set = append(u.set, setAction{path: path, value: v})
	case "REMOVE":
		u.remove = append(u.remove, path)
	case "ADD", "DELETE":
		t, err := p.expect(tokValue, "value placeholder")
		if err != nil {
			return err
		}
		v, err := p.value(t)
		if err != nil {
			return err
		}
		if kw == "ADD" {
			u.add = append(u.add, pathValue{path, v})
		} else {
			u.del = append(u.del, pathValue{path, v})
		}
	default:
		return fmt.Errorf("unknown clause %q", kw)
	}
	return nil
}

func (p *parser) parseSetValue() (setValue, error) {
	l, err := p.parseSetOperand()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokOp && (t.text == "+" || t.text == "-") {
		p.next()
		r, err := p.parseSetOperand()
		if err != nil {
			return nil, err
		}
		return arithValue{op: t.text, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) parseSetOperand() (setValue, error) {
	t := p.peek()
	if t.kind == tokIdent && p.toks[p.i+1].kind == tokLParen {
		switch strings.ToLower(t.text) {
		case "if_not_exists":
			p.next()
			p.next()
			path, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, ","); err != nil {
				return nil, err
			}
			fallback, err := p.parseSetOperand()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return ifNotExistsValue{path: path, fallback: fallback}, nil
		case "list_append":
			p.next()
			p.next()
			l, err := p.parseSetOperand()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, ","); err != nil {
				return nil, err
			}
			r, err := p.parseSetOperand()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return listAppendValue{l: l, r: r}, nil
		}
	}
	o, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return operandValue{o}, nil
}

// Paths returns the top level attribute names the update writes or removes.
func (u *Update) Paths() []string {
	var names []string
	add := func(p Path) {
		if !slices.Contains(names, p.Top()) {
			names = append(names, p.Top())
		}
	}
	for _, a := range u.set {
		add(a.path)
	}
	for _, p := range u.remove {
		add(p)
	}
	for _, a := range u.add {
		add(a.path)
	}
	for _, a := range u.del {
		add(a.path)
	}
	return names
}

// Apply returns a copy of item with the update applied. Operands are
// resolved against the item as it was before the update.
func (u *Update) Apply(item Item) (Item, error) {
	before := CloneItem(item)
	if before == nil {
		before = Item{}
	}
	out := CloneItem(before)

	values := make([]types.AttributeValue, len(u.set))
	for i, a := range u.set {
		v, err := a.value.resolve(before)
		if err != nil {
			return nil, fmt.Errorf("SET %s: %w", a.path, err)
		}
		values[i] = Clone(v)
	}
	for i, a := range u.set {
		if err := a.path.Set(out, values[i]); err != nil {
			return nil, fmt.Errorf("SET %s: %w", a.path, err)
		}
	}
	for _, p := range u.remove {
		p.Remove(out)
	}
	for _, a := range u.add {
		if err := add(out, a.path, a.value); err != nil {
			return nil, fmt.Errorf("ADD %s: %w", a.path, err)
		}
	}
	for _, a := range u.del {
		if err := deleteFromSet(out, a.path, a.value); err != nil {
			return nil, fmt.Errorf("DELETE %s: %w", a.path, err)
		}
	}
	return out, nil
}

func add(item Item, path Path, v types.AttributeValue) error {
	cur, ok := path.Get(item)
	if !ok {
		return path.Set(item, Clone(v))
	}
	switch c := cur.(type) {
	case *types.AttributeValueMemberN:
		n, ok := v.(*types.AttributeValueMemberN)
		if !ok {
			return fmt.Errorf("ADD expects a number for a number attribute")
		}
		sum, err := arithValue{op: "+", l: operandValue{valueOperand{c}}, r: operandValue{valueOperand{n}}}.resolve(nil)
		if err != nil {
			return err
		}
		return path.Set(item, sum)
	case *types.AttributeValueMemberSS:
		s, ok := v.(*types.AttributeValueMemberSS)
		if !ok {
			return fmt.Errorf("ADD expects a string set")
		}
		return path.Set(item, &types.AttributeValueMemberSS{Value: union(c.Value, s.Value, func(a, b string) bool { return a == b })})
	case *types.AttributeValueMemberNS:
		s, ok := v.(*types.AttributeValueMemberNS)
		if !ok {
			return fmt.Errorf("ADD expects a number set")
		}
		return path.Set(item, &types.AttributeValueMemberNS{Value: union(c.Value, s.Value, numbersEqual)})
	}
	return fmt.Errorf("ADD is not supported for type %s", TypeOf(cur))
}

func deleteFromSet(item Item, path Path, v types.AttributeValue) error {
	cur, ok := path.Get(item)
	if !ok {
		return nil
	}
	var remaining int
	switch c := cur.(type) {
	case *types.AttributeValueMemberSS:
		s, ok := v.(*types.AttributeValueMemberSS)
		if !ok {
			return fmt.Errorf("DELETE expects a string set")
		}
		c.Value = slices.DeleteFunc(c.Value, func(x string) bool { return slices.Contains(s.Value, x) })
		remaining = len(c.Value)
	case *types.AttributeValueMemberNS:
		s, ok := v.(*types.AttributeValueMemberNS)
		if !ok {
			return fmt.Errorf("DELETE expects a number set")
		}
		c.Value = slices.DeleteFunc(c.Value, func(x string) bool {
			return slices.ContainsFunc(s.Value, func(y string) bool { return numbersEqual(x, y) })
		})
		remaining = len(c.Value)
	default:
		return fmt.Errorf("DELETE is not supported for type %s", TypeOf(cur))
	}
	if remaining == 0 {
		path.Remove(item)
	}
	return nil
}

func numbersEqual(a, b string) bool {
	c, err := compareNumbers(a, b)
	return err == nil && c == 0
}

func union[T any](a, b []T, eq func(T, T) bool) []T {
	out := slices.Clone(a)
	for _, x := range b {
		if !slices.ContainsFunc(out, func(y T) bool { return eq(x, y) }) {
			out = append(out, x)
		}
	}
	return out
}
