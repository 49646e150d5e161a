package exprparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a DynamoDB item.
type Item = map[string]types.AttributeValue

// Env holds the ExpressionAttributeNames and ExpressionAttributeValues of a request.
type Env struct {
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// PathElem is a map key or, when IsIndex is set, a list index.
type PathElem struct {
	Name    string
	Index   int
	IsIndex bool
}

// Path is a document path such as a.b[2].c with placeholders resolved.
type Path []PathElem

func (p Path) String() string {
	var b strings.Builder
	for i, e := range p {
		switch {
		case e.IsIndex:
			fmt.Fprintf(&b, "[%d]", e.Index)
		case i > 0:
			b.WriteString("." + e.Name)
		default:
			b.WriteString(e.Name)
		}
	}
	return b.String()
}

// Top returns the top level attribute name.
func (p Path) Top() string {
	return p[0].Name
}

// Get resolves p in item.
func (p Path) Get(item Item) (types.AttributeValue, bool) {
	cur, ok := item[p[0].Name]
	if !ok {
		return nil, false
	}
	for _, e := range p[1:] {
		switch v := cur.(type) {
		case *types.AttributeValueMemberM:
			if e.IsIndex {
				return nil, false
			}
			if cur, ok = v.Value[e.Name]; !ok {
				return nil, false
			}
		case *types.AttributeValueMemberL:
			if !e.IsIndex || e.Index >= len(v.Value) {
				return nil, false
			}
			cur = v.Value[e.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at p, which must address an existing map or list parent.
// An index past the end of a list appends.
func (p Path) Set(item Item, v types.AttributeValue) error {
	if len(p) == 1 {
		item[p[0].Name] = v
		return nil
	}
	parent, ok := p[:len(p)-1].Get(item)
	if !ok {
		return fmt.Errorf("document path %s does not exist", p[:len(p)-1])
	}
	last := p[len(p)-1]
	switch pv := parent.(type) {
	case *types.AttributeValueMemberM:
		if last.IsIndex {
			return fmt.Errorf("document path %s is not a list", p[:len(p)-1])
		}
		pv.Value[last.Name] = v
	case *types.AttributeValueMemberL:
		if !last.IsIndex {
			return fmt.Errorf("document path %s is not a map", p[:len(p)-1])
		}
		if last.Index >= len(pv.Value) {
			pv.Value = append(pv.Value, v)
		} else {
			pv.Value[last.Index] = v
		}
	default:
		return fmt.Errorf("document path %s is not a container", p[:len(p)-1])
	}
	return nil
}

// Remove deletes the value at p if it exists.
func (p Path) Remove(item Item) {
	if len(p) == 1 {
		delete(item, p[0].Name)
		return
	}
	parent, ok := p[:len(p)-1].Get(item)
	if !ok {
		return
	}
	last := p[len(p)-1]
	switch pv := parent.(type) {
	case *types.AttributeValueMemberM:
		delete(pv.Value, last.Name)
	case *types.AttributeValueMemberL:
		if last.IsIndex && last.Index < len(pv.Value) {
			pv.Value = append(pv.Value[:last.Index], pv.Value[last.Index+1:]...)
		}
	}
}

func (p *parser) parsePath() (Path, error) {
	var path Path
	elem, err := p.pathName()
	if err != nil {
		return nil, err
	}
	path = append(path, elem)
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			elem, err := p.pathName()
			if err != nil {
				return nil, err
			}
			path = append(path, elem)
		case tokLBracket:
			p.next()
			t, err := p.expect(tokNumber, "list index")
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(t.text)
			if err != nil {
				return nil, fmt.Errorf("invalid list index %s", t)
			}
			if _, err := p.expect(tokRBracket, "]"); err != nil {
				return nil, err
			}
			path = append(path, PathElem{Index: n, IsIndex: true})
		default:
			return path, nil
		}
	}
}

func (p *parser) pathName() (PathElem, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return PathElem{Name: t.text}, nil
	case tokName:
		name, ok := p.env.Names[t.text]
		if !ok {
			return PathElem{}, fmt.Errorf("expression attribute name %s is not defined", t.text)
		}
		return PathElem{Name: name}, nil
	}
	return PathElem{}, fmt.Errorf("expected attribute name, got %s", t)
}

func (p *parser) value(t token) (types.AttributeValue, error) {
	v, ok := p.env.Values[t.text]
	if !ok {
		return nil, fmt.Errorf("expression attribute value %s is not defined", t.text)
	}
	return v, nil
}
