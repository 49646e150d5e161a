package exprparse

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition is a parsed condition or filter expression.
type Condition interface {
	Eval(item Item) (bool, error)
}

// Operand is a path, a value or size(path).
type Operand interface {
	// Resolve returns the operand's value in item. ok is false when a
	// path does not exist.
	Resolve(item Item) (v types.AttributeValue, ok bool, err error)
}

type pathOperand struct{ path Path }

func (o pathOperand) Resolve(item Item) (types.AttributeValue, bool, error) {
	v, ok := o.path.Get(item)
	return v, ok, nil
}

type valueOperand struct{ v types.AttributeValue }

func (o valueOperand) Resolve(Item) (types.AttributeValue, bool, error) {
	return o.v, true, nil
}

type sizeOperand struct{ path Path }

func (o sizeOperand) Resolve(item Item) (types.AttributeValue, bool, error) {
	v, ok := o.path.Get(item)
	if !ok {
		return nil, false, nil
	}
	var n int
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		n = utf8.RuneCountInString(av.Value)
	case *types.AttributeValueMemberB:
		n = len(av.Value)
	case *types.AttributeValueMemberSS:
		n = len(av.Value)
	case *types.AttributeValueMemberNS:
		n = len(av.Value)
	case *types.AttributeValueMemberBS:
		n = len(av.Value)
	case *types.AttributeValueMemberL:
		n = len(av.Value)
	case *types.AttributeValueMemberM:
		n = len(av.Value)
	default:
		return nil, false, fmt.Errorf("size() is not supported for type %s of %s", TypeOf(v), o.path)
	}
	return &types.AttributeValueMemberN{Value: fmt.Sprint(n)}, true, nil
}

type andCond struct{ l, r Condition }

func (c andCond) Eval(item Item) (bool, error) {
	ok, err := c.l.Eval(item)
	if err != nil || !ok {
		return false, err
	}
	return c.r.Eval(item)
}

type orCond struct{ l, r Condition }

func (c orCond) Eval(item Item) (bool, error) {
	ok, err := c.l.Eval(item)
	if err != nil || ok {
		return ok, err
	}
	return c.r.Eval(item)
}

type notCond struct{ c Condition }

func (c notCond) Eval(item Item) (bool, error) {
	ok, err := c.c.Eval(item)
	return !ok, err
}

type compareCond struct {
	op   string
	l, r Operand
}

func (c compareCond) Eval(item Item) (bool, error) {
	l, lok, err := c.l.Resolve(item)
	if err != nil {
		return false, err
	}
	r, rok, err := c.r.Resolve(item)
	if err != nil {
		return false, err
	}
	if !lok || !rok {
		return c.op == "<>", nil
	}
	switch c.op {
	case "=":
		return Equal(l, r), nil
	case "<>":
		return !Equal(l, r), nil
	}
	cmp, ok := Compare(l, r)
	if !ok {
		return false, nil
	}
	switch c.op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("unknown comparator %q", c.op)
}

type betweenCond struct{ v, lo, hi Operand }

func (c betweenCond) Eval(item Item) (bool, error) {
	var vals [3]types.AttributeValue
	for i, o := range []Operand{c.v, c.lo, c.hi} {
		v, ok, err := o.Resolve(item)
		if err != nil || !ok {
			return false, err
		}
		vals[i] = v
	}
	lo, ok1 := Compare(vals[0], vals[1])
	hi, ok2 := Compare(vals[0], vals[2])
	return ok1 && ok2 && lo >= 0 && hi <= 0, nil
}

type inCond struct {
	v    Operand
	list []Operand
}

func (c inCond) Eval(item Item) (bool, error) {
	v, ok, err := c.v.Resolve(item)
	if err != nil || !ok {
		return false, err
	}
	for _, o := range c.list {
		w, ok, err := o.Resolve(item)
		if err != nil {
			return false, err
		}
		if ok && Equal(v, w) {
			return true, nil
		}
	}
	return false, nil
}

type funcCond struct {
	name string
	path Path
	arg  Operand
}

func (c funcCond) Eval(item Item) (bool, error) {
	v, exists := c.path.Get(item)
	switch c.name {
	case "attribute_exists":
		return exists, nil
	case "attribute_not_exists":
		return !exists, nil
	}
	if !exists {
		return false, nil
	}
	arg, ok, err := c.arg.Resolve(item)
	if err != nil || !ok {
		return false, err
	}
	switch c.name {
	case "attribute_type":
		s, isS := arg.(*types.AttributeValueMemberS)
		if !isS {
			return false, fmt.Errorf("attribute_type expects a string type descriptor")
		}
		return TypeOf(v) == s.Value, nil
	case "begins_with":
		return hasPrefix(v, arg), nil
	case "contains":
		return contains(v, arg), nil
	}
	return false, fmt.Errorf("unknown function %q", c.name)
}

func contains(v, arg types.AttributeValue) bool {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		s, ok := arg.(*types.AttributeValueMemberS)
		return ok && strings.Contains(av.Value, s.Value)
	case *types.AttributeValueMemberB:
		b, ok := arg.(*types.AttributeValueMemberB)
		return ok && bytes.Contains(av.Value, b.Value)
	case *types.AttributeValueMemberSS:
		s, ok := arg.(*types.AttributeValueMemberS)
		return ok && slices.Contains(av.Value, s.Value)
	case *types.AttributeValueMemberNS:
		n, ok := arg.(*types.AttributeValueMemberN)
		return ok && slices.ContainsFunc(av.Value, func(m string) bool {
			return Equal(n, &types.AttributeValueMemberN{Value: m})
		})
	case *types.AttributeValueMemberBS:
		b, ok := arg.(*types.AttributeValueMemberB)
		return ok && slices.ContainsFunc(av.Value, func(m []byte) bool { return bytes.Equal(m, b.Value) })
	case *types.AttributeValueMemberL:
		return slices.ContainsFunc(av.Value, func(e types.AttributeValue) bool { return Equal(e, arg) })
	}
	return false
}

// ParseCondition parses a ConditionExpression or FilterExpression.
func ParseCondition(expr string, env Env) (Condition, error) {
	p, err := newParser(expr, env)
	if err != nil {
		return nil, err
	}
	c, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	if err := p.done(); err != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	return c, nil
}

// EvalCondition parses expr and evaluates it against item. An empty
// expression always holds.
func EvalCondition(expr *string, env Env, item Item) (bool, error) {
	if expr == nil || *expr == "" {
		return true, nil
	}
	c, err := ParseCondition(*expr, env)
	if err != nil {
		return false, err
	}
	return c.Eval(item)
}

func (p *parser) parseOr() (Condition, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = orCond{l, r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Condition, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = andCond{l, r}
	}
	return l, nil
}

func (p *parser) parseNot() (Condition, error) {
	if p.keyword("NOT") {
		p.next()
		c, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notCond{c}, nil
	}
	return p.parsePrimary()
}

var conditionFuncs = []string{"attribute_exists", "attribute_not_exists", "attribute_type", "begins_with", "contains"}

func (p *parser) parsePrimary() (Condition, error) {
	if p.peek().kind == tokLParen {
		p.next()
		c, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return c, nil
	}
	if t := p.peek(); t.kind == tokIdent && slices.Contains(conditionFuncs, strings.ToLower(t.text)) && p.toks[p.i+1].kind == tokLParen {
		return p.parseFunc()
	}
	l, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch {
	case p.keyword("BETWEEN"):
		p.next()
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			return nil, fmt.Errorf("expected AND in BETWEEN, got %s", p.peek())
		}
		p.next()
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return betweenCond{l, lo, hi}, nil
	case p.keyword("IN"):
		p.next()
		if _, err := p.expect(tokLParen, "("); err != nil {
			return nil, err
		}
		var list []Operand
		for {
			o, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			list = append(list, o)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inCond{l, list}, nil
	}
	t := p.next()
	if t.kind != tokOp || t.text == "+" || t.text == "-" {
		return nil, fmt.Errorf("expected comparator, got %s", t)
	}
	r, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return compareCond{op: t.text, l: l, r: r}, nil
}

func (p *parser) parseFunc() (Condition, error) {
	name := strings.ToLower(p.next().text)
	p.next() // (
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	c := funcCond{name: name, path: path}
	if name != "attribute_exists" && name != "attribute_not_exists" {
		if _, err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		if c.arg, err = p.parseOperand(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.peek()
	switch {
	case t.kind == tokValue:
		p.next()
		v, err := p.value(t)
		if err != nil {
			return nil, err
		}
		return valueOperand{v}, nil
	case t.kind == tokIdent && strings.EqualFold(t.text, "size") && p.toks[p.i+1].kind == tokLParen:
		p.next()
		p.next()
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return sizeOperand{path}, nil
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	return pathOperand{path}, nil
}
