package table

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type PrimaryKeyDefinition struct {
	PartitionKey KeyDef
	// SortKey has an empty Name when the table has no sort key.
	SortKey KeyDef
}

type KeyDef struct {
	Name string
	Kind KeyKind
}

type KeyKind string

const (
	KeyKindS KeyKind = "S"
	KeyKindN KeyKind = "N"
	KeyKindB KeyKind = "B"
)

type PrimaryKeyValues struct {
	PartitionKey any
	SortKey      any
}

type PrimaryKey struct {
	Definition PrimaryKeyDefinition
	Values     PrimaryKeyValues
}

// DDB marshals the key into the map DynamoDB expects for Key parameters.
func (k PrimaryKey) DDB() (map[string]types.AttributeValue, error) {
	pk, err := marshalKeyValue(k.Definition.PartitionKey.Kind, k.Values.PartitionKey)
	if err != nil {
		return nil, fmt.Errorf("marshal partition key of type %T with value %v: %w", k.Values.PartitionKey, k.Values.PartitionKey, err)
	}
	if err := attributeMatchesDefinition(k.Definition.PartitionKey.Kind, pk); err != nil {
		return nil, fmt.Errorf("partition key kind does not match dynamo value: %w", err)
	}
	if k.Definition.SortKey.Name == "" {
		return map[string]types.AttributeValue{
			k.Definition.PartitionKey.Name: pk,
		}, nil
	}
	if k.Values.SortKey == nil {
		return nil, fmt.Errorf("sort key %q is required but got nil", k.Definition.SortKey.Name)
	}
	sk, err := marshalKeyValue(k.Definition.SortKey.Kind, k.Values.SortKey)
	if err != nil {
		return nil, fmt.Errorf("marshal sort key of type %T with value %v: %w", k.Values.SortKey, k.Values.SortKey, err)
	}
	if err := attributeMatchesDefinition(k.Definition.SortKey.Kind, sk); err != nil {
		return nil, fmt.Errorf("sort key %q kind does not match dynamo value: %w", k.Definition.SortKey.Name, err)
	}

	return map[string]types.AttributeValue{
		k.Definition.PartitionKey.Name: pk,
		k.Definition.SortKey.Name:      sk,
	}, nil
}

// marshalKeyValue marshals v. Numbers given in their string form, as
// ExtractPrimaryKey returns them, stay numbers.
func marshalKeyValue(kind KeyKind, v any) (types.AttributeValue, error) {
	if s, ok := v.(string); ok && kind == KeyKindN {
		return &types.AttributeValueMemberN{Value: s}, nil
	}
	return attributevalue.Marshal(v)
}

func attributeMatchesDefinition(want KeyKind, v types.AttributeValue) error {
	var got KeyKind
	switch v.(type) {
	case *types.AttributeValueMemberS:
		got = KeyKindS
	case *types.AttributeValueMemberN:
		got = KeyKindN
	case *types.AttributeValueMemberB:
		got = KeyKindB
	default:
		return fmt.Errorf("unexpected key attribute type %T", v)
	}
	if got != want {
		return fmt.Errorf("got KeyKind %q want %q", got, want)
	}
	return nil
}
