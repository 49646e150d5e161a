// Package table describes the physical DynamoDB tables entities are stored in.
package table

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type TableDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
	TimeToLiveKey  string
	GSIs           []GSIDefinition
}

// GSIDefinition represents a Global Secondary Index definition.
type GSIDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
}

// GSI returns the index named name.
func (t TableDefinition) GSI(name string) (GSIDefinition, bool) {
	for _, g := range t.GSIs {
		if g.Name == name {
			return g, true
		}
	}
	return GSIDefinition{}, false
}

// KeysOf returns the key definition of the table, or of the named GSI.
func (t TableDefinition) KeysOf(index string) (PrimaryKeyDefinition, error) {
	if index == "" {
		return t.KeyDefinitions, nil
	}
	g, ok := t.GSI(index)
	if !ok {
		return PrimaryKeyDefinition{}, fmt.Errorf("table %q has no index %q", t.Name, index)
	}
	return g.KeyDefinitions, nil
}

// ExtractPrimaryKey extracts the primary key values from a document.
func (g GSIDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return g.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (t TableDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return t.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (k PrimaryKeyDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	part, ok := doc[k.PartitionKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("partition key %q not found", k.PartitionKey.Name)
	}
	if err := attributeMatchesDefinition(k.PartitionKey.Kind, part); err != nil {
		return PrimaryKey{}, fmt.Errorf("document key %q kind does not match definition: %w", k.PartitionKey.Name, err)
	}
	pk := PrimaryKey{
		Definition: k,
		Values: PrimaryKeyValues{
			PartitionKey: keyValueFromAV(part),
		},
	}
	if k.SortKey.Name == "" {
		return pk, nil
	}
	sort, ok := doc[k.SortKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("sort key %q not found on document", k.SortKey.Name)
	}
	if err := attributeMatchesDefinition(k.SortKey.Kind, sort); err != nil {
		return PrimaryKey{}, fmt.Errorf("sort key %q kind does not match definition: %w", k.SortKey.Name, err)
	}
	pk.Values.SortKey = keyValueFromAV(sort)
	return pk, nil
}

// keyValueFromAV is only called after attributeMatchesDefinition accepted av.
func keyValueFromAV(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return v.Value
	}
	return nil
}

// ToCreateTableInput describes the table for CreateTable, using on-demand
// billing and projecting all attributes into every GSI.
func (t TableDefinition) ToCreateTableInput() *dynamodb.CreateTableInput {
	var attrs []types.AttributeDefinition
	seen := map[string]bool{}
	addAttr := func(k KeyDef) {
		if k.Name == "" || seen[k.Name] {
			return
		}
		seen[k.Name] = true
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: aws.String(k.Name),
			AttributeType: types.ScalarAttributeType(k.Kind),
		})
	}

	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(t.Name),
		KeySchema:   t.KeyDefinitions.keySchema(),
		BillingMode: types.BillingModePayPerRequest,
	}
	addAttr(t.KeyDefinitions.PartitionKey)
	addAttr(t.KeyDefinitions.SortKey)
	for _, g := range t.GSIs {
		addAttr(g.KeyDefinitions.PartitionKey)
		addAttr(g.KeyDefinitions.SortKey)
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(g.Name),
			KeySchema:  g.KeyDefinitions.keySchema(),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	in.AttributeDefinitions = attrs
	return in
}

func (k PrimaryKeyDefinition) keySchema() []types.KeySchemaElement {
	ks := []types.KeySchemaElement{{
		AttributeName: aws.String(k.PartitionKey.Name),
		KeyType:       types.KeyTypeHash,
	}}
	if k.SortKey.Name != "" {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(k.SortKey.Name),
			KeyType:       types.KeyTypeRange,
		})
	}
	return ks
}
