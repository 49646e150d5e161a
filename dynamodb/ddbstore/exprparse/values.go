package exprparse

import (
	"bytes"
	"fmt"
	"math/big"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const numberPrec = 256

func parseNumber(s string) (*big.Float, error) {
	f, _, err := big.ParseFloat(s, 10, numberPrec, big.ToNearestEven)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return f, nil
}

// formatNumber renders f with the 38 significant digits DynamoDB keeps.
func formatNumber(f *big.Float) string {
	return f.Text('g', 38)
}

// TypeOf returns the DynamoDB type descriptor of v, e.g. "S" or "NS".
func TypeOf(v types.AttributeValue) string {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	}
	return ""
}

// Equal reports whether a and b hold the same value. Sets compare
// regardless of order.
func Equal(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		c, err := compareNumbers(av.Value, bv.Value)
		return err == nil && c == 0
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(av.Value, bv.Value)
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return ok
	case *types.AttributeValueMemberSS:
		bv, ok := b.(*types.AttributeValueMemberSS)
		return ok && sameMembers(av.Value, bv.Value)
	case *types.AttributeValueMemberNS:
		bv, ok := b.(*types.AttributeValueMemberNS)
		return ok && sameMembers(normalizeNumbers(av.Value), normalizeNumbers(bv.Value))
	case *types.AttributeValueMemberBS:
		bv, ok := b.(*types.AttributeValueMemberBS)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for _, x := range av.Value {
			if !slices.ContainsFunc(bv.Value, func(y []byte) bool { return bytes.Equal(x, y) }) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberL:
		bv, ok := b.(*types.AttributeValueMemberL)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for i := range av.Value {
			if !Equal(av.Value[i], bv.Value[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberM:
		bv, ok := b.(*types.AttributeValueMemberM)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for k, x := range av.Value {
			y, ok := bv.Value[k]
			if !ok || !Equal(x, y) {
				return false
			}
		}
		return true
	}
	return false
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !slices.Contains(b, x) {
			return false
		}
	}
	return true
}

func normalizeNumbers(ns []string) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		if f, err := parseNumber(n); err == nil {
			out[i] = formatNumber(f)
		} else {
			out[i] = n
		}
	}
	return out
}

func compareNumbers(a, b string) (int, error) {
	x, err := parseNumber(a)
	if err != nil {
		return 0, err
	}
	y, err := parseNumber(b)
	if err != nil {
		return 0, err
	}
	return x.Cmp(y), nil
}

// Compare orders two scalar values of the same type (S, N or B). ok is
// false when the values are not comparable.
func Compare(a, b types.AttributeValue) (c int, ok bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		if bv, isS := b.(*types.AttributeValueMemberS); isS {
			return cmpStrings(av.Value, bv.Value), true
		}
	case *types.AttributeValueMemberN:
		if bv, isN := b.(*types.AttributeValueMemberN); isN {
			c, err := compareNumbers(av.Value, bv.Value)
			return c, err == nil
		}
	case *types.AttributeValueMemberB:
		if bv, isB := b.(*types.AttributeValueMemberB); isB {
			return bytes.Compare(av.Value, bv.Value), true
		}
	}
	return 0, false
}

func cmpStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Clone deep copies v.
func Clone(v types.AttributeValue) types.AttributeValue {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: av.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: av.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: slices.Clone(av.Value)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: av.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: av.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: slices.Clone(av.Value)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: slices.Clone(av.Value)}
	case *types.AttributeValueMemberBS:
		bs := make([][]byte, len(av.Value))
		for i, b := range av.Value {
			bs[i] = slices.Clone(b)
		}
		return &types.AttributeValueMemberBS{Value: bs}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(av.Value))
		for i, e := range av.Value {
			l[i] = Clone(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: CloneItem(av.Value)}
	}
	return v
}

// CloneItem deep copies item.
func CloneItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = Clone(v)
	}
	return out
}
