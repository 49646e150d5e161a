package attr

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ToStore renames attributes to their storage fields and marshals the item.
// Empty sets are omitted since DynamoDB cannot store them.
func (s *Schema) ToStore(item Item) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(item))
	for _, a := range s.attrs {
		v, ok := item[a.Name]
		if !ok || v == nil {
			continue
		}
		av, err := a.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal attribute %q: %w", a.Name, err)
		}
		if av != nil {
			out[a.FieldName()] = av
		}
	}
	return out, nil
}

// FromStore is the inverse of ToStore. Fields that are not declared
// attributes are ignored.
func (s *Schema) FromStore(av map[string]types.AttributeValue) (Item, error) {
	out := make(Item, len(av))
	for _, a := range s.attrs {
		fav, ok := av[a.FieldName()]
		if !ok {
			continue
		}
		v, err := a.Unmarshal(fav)
		if err != nil {
			return nil, fmt.Errorf("unmarshal attribute %q: %w", a.Name, err)
		}
		out[a.Name] = v
	}
	return out, nil
}

// Marshal converts v to its storage representation. It returns a nil
// AttributeValue for an empty set.
func (a *Attribute) Marshal(v any) (types.AttributeValue, error) {
	if v == nil {
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}
	switch a.Type.Kind {
	case KindNumber:
		n, ok := FormatNumber(v)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return &types.AttributeValueMemberN{Value: n}, nil
	case KindSet:
		elems, ok := setElements(v)
		if !ok {
			return nil, fmt.Errorf("expected set, got %T", v)
		}
		if len(elems) == 0 {
			return nil, nil
		}
		vals := make([]string, len(elems))
		for i, e := range elems {
			if a.Type.Elem == KindNumber {
				n, ok := FormatNumber(e)
				if !ok {
					return nil, fmt.Errorf("expected number set element, got %T", e)
				}
				vals[i] = n
				continue
			}
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string set element, got %T", e)
			}
			vals[i] = s
		}
		if a.Type.Elem == KindNumber {
			return &types.AttributeValueMemberNS{Value: vals}, nil
		}
		return &types.AttributeValueMemberSS{Value: vals}, nil
	case KindList:
		l, ok := asList(v)
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", v)
		}
		out := make([]types.AttributeValue, 0, len(l))
		for _, e := range l {
			av, err := a.Type.Item.Marshal(e)
			if err != nil {
				return nil, err
			}
			if av == nil {
				av = &types.AttributeValueMemberNULL{Value: true}
			}
			out = append(out, av)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case KindMap:
		m, ok := asMap(v)
		if !ok {
			return nil, fmt.Errorf("expected map, got %T", v)
		}
		if len(a.Type.Properties) == 0 {
			return attributevalue.Marshal(m)
		}
		out := make(map[string]types.AttributeValue, len(m))
		for i := range a.Type.Properties {
			p := &a.Type.Properties[i]
			pv, ok := m[p.Name]
			if !ok || pv == nil {
				continue
			}
			av, err := p.Marshal(pv)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", p.Name, err)
			}
			if av != nil {
				out[p.FieldName()] = av
			}
		}
		return &types.AttributeValueMemberM{Value: out}, nil
	}
	return attributevalue.Marshal(v)
}

// Unmarshal converts a stored value back to its Go form: numbers become
// float64, string sets []string, number sets []float64, lists []any and maps
// map[string]any keyed by property name.
func (a *Attribute) Unmarshal(av types.AttributeValue) (any, error) {
	switch t := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberSS:
		return append([]string(nil), t.Value...), nil
	case *types.AttributeValueMemberNS:
		out := make([]float64, len(t.Value))
		for i, s := range t.Value {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	case *types.AttributeValueMemberL:
		if a.Type.Kind != KindList || a.Type.Item == nil {
			break
		}
		out := make([]any, len(t.Value))
		for i, e := range t.Value {
			v, err := a.Type.Item.Unmarshal(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *types.AttributeValueMemberM:
		if a.Type.Kind != KindMap || len(a.Type.Properties) == 0 {
			break
		}
		out := make(map[string]any, len(t.Value))
		for i := range a.Type.Properties {
			p := &a.Type.Properties[i]
			pav, ok := t.Value[p.FieldName()]
			if !ok {
				continue
			}
			v, err := p.Unmarshal(pav)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", p.Name, err)
			}
			out[p.Name] = v
		}
		return out, nil
	}
	var v any
	if err := attributevalue.Unmarshal(av, &v); err != nil {
		return nil, err
	}
	return v, nil
}
