package table

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

var pkAndSKTable = TableDefinition{
	Name: "mall",
	KeyDefinitions: PrimaryKeyDefinition{
		PartitionKey: KeyDef{Name: "pk", Kind: KeyKindS},
		SortKey:      KeyDef{Name: "sk", Kind: KeyKindS},
	},
	GSIs: []GSIDefinition{{
		Name: "gsi1",
		KeyDefinitions: PrimaryKeyDefinition{
			PartitionKey: KeyDef{Name: "gsi1pk", Kind: KeyKindS},
			SortKey:      KeyDef{Name: "sk", Kind: KeyKindS},
		},
	}},
}

func TestExtractPrimaryKey(t *testing.T) {
	t.Run("extracts both keys", func(t *testing.T) {
		doc := map[string]types.AttributeValue{
			"pk":    &types.AttributeValueMemberS{Value: "a"},
			"sk":    &types.AttributeValueMemberS{Value: "b"},
			"other": &types.AttributeValueMemberS{Value: "c"},
		}
		pk, err := pkAndSKTable.ExtractPrimaryKey(doc)
		require.NoError(t, err)
		require.Equal(t, "a", pk.Values.PartitionKey)
		require.Equal(t, "b", pk.Values.SortKey)

		ddb, err := pk.DDB()
		require.NoError(t, err)
		require.Len(t, ddb, 2)
	})
	t.Run("missing sort key", func(t *testing.T) {
		_, err := pkAndSKTable.ExtractPrimaryKey(map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "a"},
		})
		require.Error(t, err)
	})
	t.Run("wrong kind", func(t *testing.T) {
		_, err := pkAndSKTable.ExtractPrimaryKey(map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberN{Value: "1"},
			"sk": &types.AttributeValueMemberS{Value: "b"},
		})
		require.Error(t, err)
	})
	t.Run("numeric keys marshal back to numbers", func(t *testing.T) {
		numeric := PrimaryKeyDefinition{
			PartitionKey: KeyDef{Name: "id", Kind: KeyKindN},
		}
		pk, err := numeric.ExtractPrimaryKey(map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberN{Value: "9007199254740993"},
		})
		require.NoError(t, err)
		ddb, err := pk.DDB()
		require.NoError(t, err)
		require.Equal(t, map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberN{Value: "9007199254740993"},
		}, ddb)
	})
	t.Run("nil sort key value", func(t *testing.T) {
		_, err := PrimaryKey{Definition: pkAndSKTable.KeyDefinitions, Values: PrimaryKeyValues{PartitionKey: "a"}}.DDB()
		require.Error(t, err)
	})
}

func TestKeysOf(t *testing.T) {
	k, err := pkAndSKTable.KeysOf("gsi1")
	require.NoError(t, err)
	require.Equal(t, "gsi1pk", k.PartitionKey.Name)

	_, err = pkAndSKTable.KeysOf("gsi9")
	require.Error(t, err)
}

func TestToCreateTableInput(t *testing.T) {
	in := pkAndSKTable.ToCreateTableInput()
	require.Equal(t, "mall", aws.ToString(in.TableName))
	require.Len(t, in.AttributeDefinitions, 3, "shared sort key is declared once")
	require.Len(t, in.GlobalSecondaryIndexes, 1)
	require.Equal(t, types.KeyTypeRange, in.GlobalSecondaryIndexes[0].KeySchema[1].KeyType)
	require.Equal(t, types.BillingModePayPerRequest, in.BillingMode)
}
