package attr

import (
	"fmt"
)

// Format prepares a stored item, keyed by attribute name, for the caller:
// get transforms run children first and hidden attributes are removed.
// Keys that are not declared attributes are dropped.
func (s *Schema) Format(item Item) (Item, error) {
	out := make(Item, len(item))
	for _, a := range s.attrs {
		v, ok := item[a.Name]
		if !ok || a.Hidden {
			continue
		}
		fv, err := format(a.Name, a, v, item)
		if err != nil {
			return nil, err
		}
		out[a.Name] = fv
	}
	return out, nil
}

func format(path string, a *Attribute, v any, parent Item) (any, error) {
	switch a.Type.Kind {
	case KindMap:
		if m, ok := v.(map[string]any); ok && len(a.Type.Properties) > 0 {
			out := make(map[string]any, len(m))
			for i := range a.Type.Properties {
				p := &a.Type.Properties[i]
				pv, ok := m[p.Name]
				if !ok || p.Hidden {
					continue
				}
				fv, err := format(path+"."+p.Name, p, pv, m)
				if err != nil {
					return nil, err
				}
				out[p.Name] = fv
			}
			v = out
		}
	case KindList:
		if l, ok := v.([]any); ok {
			out := make([]any, len(l))
			for i, e := range l {
				fv, err := format(path+"[*]", a.Type.Item, e, nil)
				if err != nil {
					return nil, err
				}
				out[i] = fv
			}
			v = out
		}
	}
	if a.Get == nil || v == nil {
		return v, nil
	}
	fv, err := callTransform(a.Get, v, parent)
	if err != nil {
		return nil, fmt.Errorf("formatting attribute %q: %w", path, err)
	}
	return fv, nil
}
