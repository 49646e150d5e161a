package exprparse

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Projection is a parsed ProjectionExpression.
type Projection []Path

// ParseProjection parses a comma separated list of document paths.
func ParseProjection(expr string, names map[string]string) (Projection, error) {
	p, err := newParser(expr, Env{Names: names})
	if err != nil {
		return nil, err
	}
	var proj Projection
	for {
		path, err := p.parsePath()
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", expr, err)
		}
		proj = append(proj, path)
		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}
	if err := p.done(); err != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	return proj, nil
}

// Apply returns the projected copy of item. Nested map paths keep their
// parents, list elements are collected in path order.
func (proj Projection) Apply(item Item) Item {
	out := Item{}
	for _, path := range proj {
		v, ok := path.Get(item)
		if !ok {
			continue
		}
		dst := out
		var parent types.AttributeValue
		for i, e := range path[:len(path)-1] {
			next := path[i+1]
			parent = ensureContainer(dst, parent, e, next.IsIndex)
			if m, ok := parent.(*types.AttributeValueMemberM); ok {
				dst = m.Value
			}
		}
		last := path[len(path)-1]
		switch pv := parent.(type) {
		case nil:
			out[last.Name] = Clone(v)
		case *types.AttributeValueMemberM:
			pv.Value[last.Name] = Clone(v)
		case *types.AttributeValueMemberL:
			pv.Value = append(pv.Value, Clone(v))
		}
	}
	return out
}

// ensureContainer returns the container for e below parent, creating it.
// dst is the map of parent, or the top level item when parent is nil.
func ensureContainer(dst Item, parent types.AttributeValue, e PathElem, list bool) types.AttributeValue {
	create := func() types.AttributeValue {
		if list {
			return &types.AttributeValueMemberL{}
		}
		return &types.AttributeValueMemberM{Value: Item{}}
	}
	if l, ok := parent.(*types.AttributeValueMemberL); ok {
		c := create()
		l.Value = append(l.Value, c)
		return c
	}
	if c, ok := dst[e.Name]; ok {
		return c
	}
	c := create()
	dst[e.Name] = c
	return c
}

// ApplyAll projects every item, returning items unchanged when expr is empty.
func ApplyAll(expr *string, names map[string]string, items []Item) ([]Item, error) {
	if expr == nil || *expr == "" {
		return items, nil
	}
	proj, err := ParseProjection(*expr, names)
	if err != nil {
		return nil, err
	}
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = proj.Apply(item)
	}
	return out, nil
}
