package entity

import (
	"encoding/base64"
	"encoding/json"
	"maps"
	"strconv"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/index"
	"github.com/acksell/facet/dynamodb/index/keys"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyValue is a key attribute in cursor form. Numbers keep their DynamoDB
// string form.
type keyValue struct {
	S *string `json:"S,omitempty"`
	N *string `json:"N,omitempty"`
	B []byte  `json:"B,omitempty"`
}

// EncodeCursor turns a LastEvaluatedKey into an opaque cursor. An empty key
// gives an empty cursor.
func EncodeCursor(key ddbsdk.Item) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	m := make(map[string]keyValue, len(key))
	for name, av := range key {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			m[name] = keyValue{S: &v.Value}
		case *types.AttributeValueMemberN:
			m[name] = keyValue{N: &v.Value}
		case *types.AttributeValueMemberB:
			m[name] = keyValue{B: v.Value}
		default:
			return "", ddberr.New(ddberr.CodeInvalidCursor, "encode cursor: key attribute %q is a %T", name, av)
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", ddberr.Wrap(ddberr.CodeInvalidCursor, err, "encode cursor")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor is the inverse of EncodeCursor.
func DecodeCursor(cursor string) (ddbsdk.Item, error) {
	if cursor == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ddberr.Wrap(ddberr.CodeInvalidCursor, err, "decode cursor")
	}
	var m map[string]keyValue
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, ddberr.Wrap(ddberr.CodeInvalidCursor, err, "decode cursor")
	}
	if len(m) == 0 {
		return nil, ddberr.New(ddberr.CodeInvalidCursor, "decode cursor: no key attributes")
	}
	key := make(ddbsdk.Item, len(m))
	for name, v := range m {
		switch {
		case v.S != nil:
			key[name] = &types.AttributeValueMemberS{Value: *v.S}
		case v.N != nil:
			if _, err := strconv.ParseFloat(*v.N, 64); err != nil {
				return nil, ddberr.Wrap(ddberr.CodeInvalidCursor, err, "decode cursor: key attribute %q", name)
			}
			key[name] = &types.AttributeValueMemberN{Value: *v.N}
		case v.B != nil:
			key[name] = &types.AttributeValueMemberB{Value: v.B}
		default:
			return nil, ddberr.New(ddberr.CodeInvalidCursor, "decode cursor: key attribute %q has no value", name)
		}
	}
	return key, nil
}

// Conversions translates between composite attributes, stored keys and
// cursors. An empty access pattern means the table index.
type Conversions struct {
	e *Entity
}

// Conversions returns the key conversions of the entity.
func (e *Entity) Conversions() Conversions {
	return Conversions{e: e}
}

type (
	FromComposite struct{ e *Entity }
	FromKeys      struct{ e *Entity }
	FromCursor    struct{ e *Entity }
)

func (c Conversions) FromComposite() FromComposite { return FromComposite{e: c.e} }
func (c Conversions) FromKeys() FromKeys           { return FromKeys{e: c.e} }
func (c Conversions) FromCursor() FromCursor       { return FromCursor{e: c.e} }

func (e *Entity) accessPattern(name string) (*index.Index, error) {
	if name == "" {
		return e.indexes.Main(), nil
	}
	return e.indexes.Get(name)
}

// ToKeys composes the keys of the access pattern. Keys of a secondary index
// include the table keys, which DynamoDB needs to resume a read on it.
func (f FromComposite) ToKeys(composite attr.Item, accessPattern string) (ddbsdk.Item, error) {
	idx, err := f.e.accessPattern(accessPattern)
	if err != nil {
		return nil, err
	}
	out, err := f.e.keysOf(idx, composite)
	if err != nil {
		return nil, err
	}
	if !idx.IsMain() {
		main, err := f.e.primaryKey(composite)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, main)
	}
	return out, nil
}

func (f FromComposite) ToCursor(composite attr.Item, accessPattern string) (string, error) {
	key, err := f.ToKeys(composite, accessPattern)
	if err != nil {
		return "", err
	}
	return EncodeCursor(key)
}

// ToComposite parses the facet values out of stored keys.
func (f FromKeys) ToComposite(key ddbsdk.Item, accessPattern string) (attr.Item, error) {
	idx, err := f.e.accessPattern(accessPattern)
	if err != nil {
		return nil, err
	}
	out := make(attr.Item)
	composers := []*keys.Composer{idx.PK, idx.SK}
	if !idx.IsMain() {
		main := f.e.indexes.Main()
		composers = append(composers, main.PK, main.SK)
	}
	for _, c := range composers {
		if c == nil {
			continue
		}
		av, ok := key[c.Field()]
		if !ok {
			return nil, ddberr.New(ddberr.CodeMissingKeyFacets, "key field %q is missing", c.Field())
		}
		values, err := f.e.parseKey(c, av)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, values)
	}
	return out, nil
}

func (f FromKeys) ToCursor(key ddbsdk.Item) (string, error) {
	return EncodeCursor(key)
}

func (f FromCursor) ToKeys(cursor string) (ddbsdk.Item, error) {
	return DecodeCursor(cursor)
}

func (f FromCursor) ToComposite(cursor, accessPattern string) (attr.Item, error) {
	key, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return FromKeys(f).ToComposite(key, accessPattern)
}

// ToCursor returns the cursor that resumes a read of accessPattern after
// item.
func (e *Entity) ToCursor(item attr.Item, accessPattern string) (string, error) {
	return e.Conversions().FromComposite().ToCursor(item, accessPattern)
}

func (e *Entity) parseKey(c *keys.Composer, av types.AttributeValue) (attr.Item, error) {
	if c.IsRaw() {
		a, _ := e.attrs.Lookup(c.Facets()[0])
		v, err := a.Unmarshal(av)
		if err != nil {
			return nil, ddberr.Wrap(ddberr.CodeValidation, err, "key field %q", c.Field())
		}
		return attr.Item{a.Name: v}, nil
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return nil, ddberr.New(ddberr.CodeValidation, "key field %q: expected a string, got %T", c.Field(), av)
	}
	values, err := c.Parse(s.Value)
	if err != nil {
		return nil, ddberr.Wrap(ddberr.CodeValidation, err, "key field %q", c.Field())
	}
	return values, nil
}
