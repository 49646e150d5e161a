package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/acksell/facet/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSchema = `
table:
  name: StoreDirectory
  partitionKey: {name: pk, kind: S}
  sortKey: {name: sk, kind: S}
  gsis:
    - name: gsi1
      partitionKey: {name: gsi1pk, kind: S}
      sortKey: {name: gsi1sk, kind: S}
entities:
  - model: {service: MallStoreDirectory, entity: MallStores, version: "1"}
    attributes:
      - {name: storeId, type: string, required: true}
      - {name: mall, type: string, required: true}
      - {name: building, type: string, required: true}
      - {name: unit, type: string, required: true}
      - {name: category, type: string}
      - {name: rent, type: number}
    indexes:
      - accessPattern: store
        pk: {field: pk, facets: [storeId]}
        sk: {field: sk}
      - accessPattern: units
        index: gsi1
        pk: {field: gsi1pk, facets: [mall]}
        sk: {field: gsi1sk, facets: [building, unit]}
    filters:
      inCategory: {equals: [category]}
  - model: {service: MallStoreDirectory, entity: Malls, version: "1"}
    attributes:
      - {name: mall, type: string, required: true}
    indexes:
      - accessPattern: mall
        pk: {field: pk, facets: [mall]}
        sk: {field: sk}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfig(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, configFilename), "schema: schema/facet.schema.yaml\ntable: Other\ndataDir: .facet\nregion: eu-west-1\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, err := LoadConfig(nested)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Schema:  filepath.Join(root, "schema", "facet.schema.yaml"),
		Table:   "Other",
		DataDir: filepath.Join(root, ".facet"),
		Region:  "eu-west-1",
	}, cfg)

	t.Run("invalid yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, configFilename), "schema: [")
		_, err := LoadConfig(dir)
		assert.ErrorContains(t, err, "parsing")
	})
}

func TestDiscoverWithWalk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "service", schemaFilename), testSchema)
	writeFile(t, filepath.Join(root, "node_modules", "pkg", schemaFilename), testSchema)
	writeFile(t, filepath.Join(root, "service", "other.yaml"), testSchema)

	files, err := discoverWithWalk(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "service", schemaFilename)}, files)

	path, err := DiscoverSchema(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "service", schemaFilename), path)

	_, err = DiscoverSchema(t.TempDir())
	assert.ErrorContains(t, err, "use --schema")
}

func TestEntityName(t *testing.T) {
	doc, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)

	_, err = entityName(doc, "")
	assert.ErrorContains(t, err, "MallStores, Malls")

	name, err := entityName(doc, "Malls")
	require.NoError(t, err)
	assert.Equal(t, "Malls", name)
}

func TestBuildOperation(t *testing.T) {
	doc, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	stores, err := doc.Entity("MallStores")
	require.NoError(t, err)

	tests := []struct {
		name  string
		flags opFlags
		check func(t *testing.T, p *renderedParams)
	}{
		{
			name:  "get",
			flags: opFlags{op: "get", values: `{"storeId":"S1"}`},
			check: func(t *testing.T, p *renderedParams) {
				assert.Equal(t, "StoreDirectory", p.TableName)
				assert.Equal(t, map[string]any{
					"pk": "$mallstoredirectory#storeid_s1",
					"sk": "$mallstores_1",
				}, p.Key)
			},
		},
		{
			name:  "query with sort condition",
			flags: opFlags{op: "query", index: "units", values: `{"mall":"EastPointe"}`, sort: "begins", sortValues: `{"building":"A"}`},
			check: func(t *testing.T, p *renderedParams) {
				assert.Equal(t, "gsi1", p.IndexName)
				assert.Equal(t, "#gsi1pk = :gsi1pk AND begins_with(#gsi1sk, :gsi1sk)", p.KeyConditionExpression)
				assert.Equal(t, "$mallstores_1#building_a#unit_", p.ExpressionAttributeValues[":gsi1sk"])
			},
		},
		{
			name: "query with named filter and options",
			flags: opFlags{
				op: "query", index: "units", values: `{"mall":"EastPointe"}`,
				filter: "inCategory", filterArgs: `["food"]`, limit: 5, desc: true, table: "Other",
			},
			check: func(t *testing.T, p *renderedParams) {
				assert.Equal(t, "Other", p.TableName)
				assert.Contains(t, p.FilterExpression, "#category = :category")
				assert.Equal(t, int32(5), p.Limit)
				require.NotNil(t, p.ScanIndexForward)
				assert.False(t, *p.ScanIndexForward)
			},
		},
		{
			name:  "patch",
			flags: opFlags{op: "patch", values: `{"storeId":"S1"}`, set: `{"category":"food"}`, remove: "rent"},
			check: func(t *testing.T, p *renderedParams) {
				assert.Contains(t, p.UpdateExpression, "SET ")
				assert.Contains(t, p.UpdateExpression, "REMOVE #rent")
				assert.Equal(t, "food", p.ExpressionAttributeValues[":category"])
				assert.NotEmpty(t, p.ConditionExpression)
			},
		},
		{
			name:  "scan",
			flags: opFlags{op: "scan"},
			check: func(t *testing.T, p *renderedParams) {
				assert.Empty(t, p.KeyConditionExpression)
				assert.NotEmpty(t, p.FilterExpression)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := buildOperation(stores, &tt.flags)
			require.NoError(t, err)
			p, err := op.params(tt.flags.options())
			require.NoError(t, err)
			out, err := renderParams(p)
			require.NoError(t, err)
			tt.check(t, out)
		})
	}

	t.Run("errors", func(t *testing.T) {
		for _, f := range []opFlags{
			{op: "explode"},
			{op: "query", values: `{"mall":"EastPointe"}`},
			{op: "get", values: `not json`},
			{op: "query", index: "units", values: `{"mall":"EastPointe"}`, sort: "between", sortValues: `{"building":"A"}`},
			{op: "query", index: "units", values: `{"mall":"EastPointe"}`, sort: "near", sortValues: `{}`},
		} {
			_, err := buildOperation(stores, &f)
			assert.Error(t, err, f.op)
		}
	})
}

func TestRunLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), schemaFilename)
	writeFile(t, path, testSchema)

	var out bytes.Buffer
	err := runRun(context.Background(), []string{
		"--local", "--schema", path, "--entity", "MallStores", "--op", "put",
		"--values", `{"storeId":"S1","mall":"EastPointe","building":"A","unit":"1","rent":1500}`,
	}, &out)
	require.NoError(t, err)

	var res struct {
		Data map[string]any
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "EastPointe", res.Data["mall"])
	assert.Equal(t, float64(1500), res.Data["rent"])
}

type fakeTableCreator struct {
	got *dynamodb.CreateTableInput
}

func (f *fakeTableCreator) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.got = params
	return &dynamodb.CreateTableOutput{TableDescription: &types.TableDescription{
		TableName:   params.TableName,
		TableStatus: types.TableStatusCreating,
	}}, nil
}

func TestTableCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), schemaFilename)
	writeFile(t, path, testSchema)

	t.Run("dry run", func(t *testing.T) {
		var out bytes.Buffer
		err := runTable(context.Background(), []string{"create", "--schema", path, "--table", "Other", "--dry-run"}, &out)
		require.NoError(t, err)

		var in struct {
			TableName              string
			BillingMode            string
			AttributeDefinitions   []map[string]any
			GlobalSecondaryIndexes []map[string]any
		}
		require.NoError(t, json.Unmarshal(out.Bytes(), &in))
		assert.Equal(t, "Other", in.TableName)
		assert.Equal(t, "PAY_PER_REQUEST", in.BillingMode)
		assert.Len(t, in.AttributeDefinitions, 4)
		require.Len(t, in.GlobalSecondaryIndexes, 1)
		assert.Equal(t, "gsi1", in.GlobalSecondaryIndexes[0]["IndexName"])
	})

	t.Run("create", func(t *testing.T) {
		doc, err := schema.Load(path)
		require.NoError(t, err)
		client := &fakeTableCreator{}
		var out bytes.Buffer
		err = createTable(context.Background(), client, doc.TableDefinition().ToCreateTableInput(), zaptest.NewLogger(t), &out)
		require.NoError(t, err)
		assert.Equal(t, "StoreDirectory", aws.ToString(client.got.TableName))
		assert.Equal(t, types.BillingModePayPerRequest, client.got.BillingMode)
		assert.Contains(t, out.String(), `"TableStatus": "CREATING"`)
	})

	t.Run("unknown subcommand", func(t *testing.T) {
		err := runTable(context.Background(), []string{"drop"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "facet table create")
	})
}
