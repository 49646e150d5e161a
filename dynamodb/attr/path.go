package attr

import (
	"fmt"
	"strconv"
	"strings"
)

// PathSegment is one step of an attribute path: a name followed by zero or
// more list indexes, e.g. rooms[0].
type PathSegment struct {
	Name    string
	Indexes []int
}

func (p PathSegment) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	for _, i := range p.Indexes {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("]")
	}
	return b.String()
}

// ParsePath splits a document path such as "rooms[0].name" into segments.
func ParsePath(path string) ([]PathSegment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty attribute path")
	}
	var segs []PathSegment
	for _, part := range strings.Split(path, ".") {
		name, rest, _ := strings.Cut(part, "[")
		if name == "" {
			return nil, fmt.Errorf("invalid attribute path %q", path)
		}
		seg := PathSegment{Name: name}
		for rest != "" {
			num, after, ok := strings.Cut(rest, "]")
			if !ok {
				return nil, fmt.Errorf("invalid attribute path %q: unclosed index", path)
			}
			i, err := strconv.Atoi(num)
			if err != nil || i < 0 {
				return nil, fmt.Errorf("invalid attribute path %q: bad index %q", path, num)
			}
			seg.Indexes = append(seg.Indexes, i)
			rest = strings.TrimPrefix(after, "[")
			if after != "" && !strings.HasPrefix(after, "[") {
				return nil, fmt.Errorf("invalid attribute path %q", path)
			}
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// JoinPath renders segments back into a path string.
func JoinPath(segs []PathSegment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// Resolve finds the definition at an attribute path and returns it together
// with the path renamed to storage fields. Properties of maps declared
// without properties are accepted and resolve to an untyped definition.
func (s *Schema) Resolve(path string) (*Attribute, []PathSegment, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, nil, err
	}
	fields := make([]PathSegment, len(segs))
	var cur *Attribute
	for i, seg := range segs {
		switch {
		case i == 0:
			a, ok := s.byName[seg.Name]
			if !ok {
				return nil, nil, fmt.Errorf("unknown attribute %q", seg.Name)
			}
			cur = a
		case cur.Type.Kind == KindMap && len(cur.Type.Properties) == 0:
			cur = &Attribute{Name: seg.Name, Type: Custom(nil)}
		case cur.Type.Kind == KindMap:
			var next *Attribute
			for j := range cur.Type.Properties {
				if cur.Type.Properties[j].Name == seg.Name {
					next = &cur.Type.Properties[j]
					break
				}
			}
			if next == nil {
				return nil, nil, fmt.Errorf("unknown property %q in %q", seg.Name, path)
			}
			cur = next
		case cur.Type.Kind == KindCustom:
			cur = &Attribute{Name: seg.Name, Type: Custom(nil)}
		default:
			return nil, nil, fmt.Errorf("attribute path %q: %s has no properties", path, cur.Type)
		}
		fields[i] = PathSegment{Name: cur.FieldName(), Indexes: seg.Indexes}
		for range seg.Indexes {
			switch cur.Type.Kind {
			case KindList:
				cur = cur.Type.Item
			case KindCustom:
			default:
				return nil, nil, fmt.Errorf("attribute path %q: %s is not a list", path, cur.Type)
			}
		}
	}
	return cur, fields, nil
}
