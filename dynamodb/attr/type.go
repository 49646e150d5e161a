package attr

import (
	"fmt"
	"strings"
)

// Kind is the tag of a Type.
type Kind int

const (
	KindString Kind = iota + 1
	KindNumber
	KindBoolean
	KindEnum
	KindSet
	KindList
	KindMap
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindEnum:
		return "enum"
	case KindSet:
		return "set"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindCustom:
		return "any"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Type is a tagged variant describing the shape of an attribute value.
// Only the fields relevant to Kind are read.
type Type struct {
	Kind Kind

	// Enum holds the accepted literals for KindEnum.
	Enum []string
	// Elem is the element kind of a KindSet (KindString or KindNumber).
	Elem Kind
	// Item describes every element of a KindList.
	Item *Attribute
	// Properties describes the keys of a KindMap, in declaration order.
	Properties []Attribute
	// Check optionally restricts the values accepted by KindCustom.
	Check func(v any) bool
}

func String() Type  { return Type{Kind: KindString} }
func Number() Type  { return Type{Kind: KindNumber} }
func Boolean() Type { return Type{Kind: KindBoolean} }

// Enum accepts only the given string literals.
func Enum(values ...string) Type {
	return Type{Kind: KindEnum, Enum: values}
}

// StringSet is a set of strings, stored as a DynamoDB SS.
func StringSet() Type { return Type{Kind: KindSet, Elem: KindString} }

// NumberSet is a set of numbers, stored as a DynamoDB NS.
func NumberSet() Type { return Type{Kind: KindSet, Elem: KindNumber} }

// List is an ordered list whose elements are described by item.
// The item's Name is ignored.
func List(item Attribute) Type {
	return Type{Kind: KindList, Item: &item}
}

// Map is a document with the given properties.
func Map(props ...Attribute) Type {
	return Type{Kind: KindMap, Properties: props}
}

// Custom accepts any non-nil value for which check returns true.
// A nil check accepts every value.
func Custom(check func(v any) bool) Type {
	return Type{Kind: KindCustom, Check: check}
}

// String renders the type the way it appears in error messages,
// e.g. "list<map>" or "enum(active|inactive)".
func (t Type) String() string {
	switch t.Kind {
	case KindEnum:
		return "enum(" + strings.Join(t.Enum, "|") + ")"
	case KindSet:
		return "set<" + t.Elem.String() + ">"
	case KindList:
		if t.Item == nil {
			return "list"
		}
		return "list<" + t.Item.Type.String() + ">"
	default:
		return t.Kind.String()
	}
}
