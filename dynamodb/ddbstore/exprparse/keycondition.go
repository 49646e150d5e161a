package exprparse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SortOp is a sort key comparison in a key condition.
type SortOp string

const (
	SortEq         SortOp = "="
	SortLt         SortOp = "<"
	SortLte        SortOp = "<="
	SortGt         SortOp = ">"
	SortGte        SortOp = ">="
	SortBetween    SortOp = "BETWEEN"
	SortBeginsWith SortOp = "begins_with"
)

// SortCondition constrains the sort key of a query.
type SortCondition struct {
	Op     SortOp
	Values []types.AttributeValue
}

// Match reports whether sk satisfies the condition.
func (s *SortCondition) Match(sk types.AttributeValue) bool {
	if s == nil {
		return true
	}
	switch s.Op {
	case SortBeginsWith:
		return hasPrefix(sk, s.Values[0])
	case SortBetween:
		lo, ok1 := Compare(sk, s.Values[0])
		hi, ok2 := Compare(sk, s.Values[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	}
	c, ok := Compare(sk, s.Values[0])
	if !ok {
		return false
	}
	switch s.Op {
	case SortEq:
		return c == 0
	case SortLt:
		return c < 0
	case SortLte:
		return c <= 0
	case SortGt:
		return c > 0
	case SortGte:
		return c >= 0
	}
	return false
}

func hasPrefix(v, prefix types.AttributeValue) bool {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		p, ok := prefix.(*types.AttributeValueMemberS)
		return ok && strings.HasPrefix(av.Value, p.Value)
	case *types.AttributeValueMemberB:
		p, ok := prefix.(*types.AttributeValueMemberB)
		return ok && bytes.HasPrefix(av.Value, p.Value)
	}
	return false
}

// KeyCondition is a parsed KeyConditionExpression.
type KeyCondition struct {
	PartitionKey types.AttributeValue
	SortKey      *SortCondition
}

// ParseKeyCondition parses expr for a table or index keyed by pkName and
// skName. The expression must be an equality on the partition key, optionally
// ANDed with one sort key condition.
func ParseKeyCondition(expr string, env Env, pkName, skName string) (KeyCondition, error) {
	c, err := ParseCondition(expr, env)
	if err != nil {
		return KeyCondition{}, err
	}
	var parts []Condition
	var flatten func(Condition) error
	flatten = func(c Condition) error {
		switch n := c.(type) {
		case andCond:
			if err := flatten(n.l); err != nil {
				return err
			}
			return flatten(n.r)
		case orCond, notCond, inCond:
			return fmt.Errorf("invalid key condition %q: only AND is supported", expr)
		}
		parts = append(parts, c)
		return nil
	}
	if err := flatten(c); err != nil {
		return KeyCondition{}, err
	}
	if len(parts) > 2 {
		return KeyCondition{}, fmt.Errorf("invalid key condition %q: at most two conditions are supported", expr)
	}
	var kc KeyCondition
	for _, part := range parts {
		field, sc, err := sortCondition(part)
		if err != nil {
			return KeyCondition{}, fmt.Errorf("invalid key condition %q: %w", expr, err)
		}
		switch {
		case field == pkName && sc.Op == SortEq && kc.PartitionKey == nil:
			kc.PartitionKey = sc.Values[0]
		case field == skName && skName != "" && kc.SortKey == nil:
			kc.SortKey = sc
		default:
			return KeyCondition{}, fmt.Errorf("invalid key condition %q: unexpected condition on %q", expr, field)
		}
	}
	if kc.PartitionKey == nil {
		return KeyCondition{}, fmt.Errorf("invalid key condition %q: missing equality on partition key %q", expr, pkName)
	}
	return kc, nil
}

func sortCondition(c Condition) (string, *SortCondition, error) {
	switch n := c.(type) {
	case compareCond:
		path, ok := n.l.(pathOperand)
		val, vok := n.r.(valueOperand)
		if !ok || !vok || len(path.path) != 1 || n.op == "<>" {
			return "", nil, fmt.Errorf("unsupported comparison")
		}
		return path.path.Top(), &SortCondition{Op: SortOp(n.op), Values: []types.AttributeValue{val.v}}, nil
	case betweenCond:
		path, ok := n.v.(pathOperand)
		lo, lok := n.lo.(valueOperand)
		hi, hok := n.hi.(valueOperand)
		if !ok || !lok || !hok || len(path.path) != 1 {
			return "", nil, fmt.Errorf("unsupported BETWEEN")
		}
		return path.path.Top(), &SortCondition{Op: SortBetween, Values: []types.AttributeValue{lo.v, hi.v}}, nil
	case funcCond:
		arg, ok := n.arg.(valueOperand)
		if n.name != "begins_with" || !ok || len(n.path) != 1 {
			return "", nil, fmt.Errorf("unsupported function %s", n.name)
		}
		return n.path.Top(), &SortCondition{Op: SortBeginsWith, Values: []types.AttributeValue{arg.v}}, nil
	}
	return "", nil, fmt.Errorf("unsupported condition")
}
