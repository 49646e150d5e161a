package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbstore"
	"github.com/acksell/facet/dynamodb/entity"
	"github.com/acksell/facet/dynamodb/table"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const mallDocument = `
table:
  name: StoreDirectory
  partitionKey: {name: pk, kind: S}
  sortKey: {name: sk, kind: S}
  timeToLive: ttl
  gsis:
    - name: gsi1
      partitionKey: {name: gsi1pk, kind: S}
      sortKey: {name: gsi1sk, kind: S}
entities:
  - model: {service: MallStoreDirectory, entity: MallStores, version: "1"}
    attributes:
      - {name: storeId, type: string, required: true, generate: uuid}
      - {name: mall, type: string, required: true}
      - {name: building, type: string, required: true}
      - {name: unit, type: string, required: true}
      - {name: store, type: string, required: true, pattern: "^[A-Za-z]+$"}
      - {name: category, type: enum, values: [food, spa, clothing], default: food}
      - {name: tags, type: set, elem: string}
      - name: contact
        type: map
        properties:
          - {name: email, type: string}
          - {name: phones, type: list, item: {name: phone, type: string}}
    indexes:
      - accessPattern: store
        pk: {field: pk, facets: [storeId]}
        sk: {field: sk}
      - accessPattern: units
        index: gsi1
        collection: tenants
        pk: {field: gsi1pk, facets: [mall]}
        sk: {field: gsi1sk, facets: [building, unit, store]}
    filters:
      inCategory: {equals: [category]}
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(mallDocument))
	require.NoError(t, err)

	assert.Equal(t, table.TableDefinition{
		Name: "StoreDirectory",
		KeyDefinitions: table.PrimaryKeyDefinition{
			PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
			SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
		},
		TimeToLiveKey: "ttl",
		GSIs: []table.GSIDefinition{{
			Name: "gsi1",
			KeyDefinitions: table.PrimaryKeyDefinition{
				PartitionKey: table.KeyDef{Name: "gsi1pk", Kind: table.KeyKindS},
				SortKey:      table.KeyDef{Name: "gsi1sk", Kind: table.KeyKindS},
			},
		}},
	}, doc.TableDefinition())

	schemas, err := doc.Schemas()
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	s := schemas[0]
	assert.Equal(t, entity.Model{Service: "MallStoreDirectory", Entity: "MallStores", Version: "1"}, s.Model)
	assert.Equal(t, "StoreDirectory", s.Table)
	assert.Equal(t, "ttl", s.TimeToLiveField)
	require.Len(t, s.Attributes, 8)
	assert.Equal(t, attr.Enum("food", "spa", "clothing"), s.Attributes[5].Type)
	assert.Equal(t, attr.StringSet(), s.Attributes[6].Type)
	assert.Equal(t, attr.KindMap, s.Attributes[7].Type.Kind)
	assert.Equal(t, attr.KindList, s.Attributes[7].Type.Properties[1].Type.Kind)
	require.Len(t, s.Indexes, 2)
	assert.Equal(t, "tenants", s.Indexes[1].Collection)
	assert.Equal(t, []string{"building", "unit", "store"}, s.Indexes[1].SK.Facets)
	assert.Contains(t, s.Filters, "inCategory")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown key",
			doc:  "table: {name: T, partitionKey: {name: pk, kind: S}, extra: 1}\n",
			want: "field extra not found",
		},
		{
			name: "missing entities",
			doc:  "table: {name: T, partitionKey: {name: pk, kind: S}}\n",
			want: "Entities is required",
		},
		{
			name: "bad key kind",
			doc: `
table: {name: T, partitionKey: {name: pk, kind: X}}
entities:
  - model: {service: s, entity: e, version: "1"}
    attributes: [{name: id, type: string}]
    indexes: [{accessPattern: byId, pk: {field: pk, facets: [id]}}]
`,
			want: "Table.PartitionKey.Kind must be one of: S N B",
		},
		{
			name: "enum without values",
			doc: `
table: {name: T, partitionKey: {name: pk, kind: S}}
entities:
  - model: {service: s, entity: e, version: "1"}
    attributes: [{name: id, type: string}, {name: status, type: enum}]
    indexes: [{accessPattern: byId, pk: {field: pk, facets: [id]}}]
`,
			want: "Entities[0].Attributes[1].Values is required when Type enum",
		},
		{
			name: "facets and template",
			doc: `
table: {name: T, partitionKey: {name: pk, kind: S}}
entities:
  - model: {service: s, entity: e, version: "1"}
    attributes: [{name: id, type: string}]
    indexes: [{accessPattern: byId, pk: {field: pk, facets: [id], template: "x#:id"}}]
`,
			want: "Facets cannot be combined with Template",
		},
		{
			name: "unknown generator",
			doc: `
table: {name: T, partitionKey: {name: pk, kind: S}}
entities:
  - model: {service: s, entity: e, version: "1"}
    attributes: [{name: id, type: string, generate: sequence}]
    indexes: [{accessPattern: byId, pk: {field: pk, facets: [id]}}]
`,
			want: "Generate must be one of: uuid now",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ddberr.ErrSchemaValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEntities(t *testing.T) {
	doc, err := Parse([]byte(mallDocument))
	require.NoError(t, err)

	t.Run("undeclared facet", func(t *testing.T) {
		broken, err := Parse([]byte(mallDocument))
		require.NoError(t, err)
		broken.Entities[0].Indexes[0].PK.Facets = []string{"storeId", "prop5"}
		_, err = broken.Compile()
		require.ErrorIs(t, err, ddberr.ErrSchemaValidation)
		assert.Contains(t, err.Error(), "prop5")
	})

	t.Run("invalid pattern", func(t *testing.T) {
		broken, err := Parse([]byte(mallDocument))
		require.NoError(t, err)
		broken.Entities[0].Attributes[4].Pattern = "(["
		_, err = broken.Schemas()
		assert.ErrorIs(t, err, ddberr.ErrSchemaValidation)
	})

	compiled, err := doc.Compile()
	require.NoError(t, err)
	require.Len(t, compiled, 1)
	assert.Equal(t, "MallStores", compiled[0].Model().Entity)

	_, err = doc.Entity("Nope")
	assert.ErrorIs(t, err, ddberr.ErrInvalidOptions)

	store, err := ddbstore.New(ddbstore.StoreOptions{InMemory: true, Logger: zap.NewNop()}, doc.TableDefinition())
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	stores, err := doc.Entity("MallStores", entity.WithClient(store))
	require.NoError(t, err)

	ctx := context.Background()
	put, err := stores.Put(attr.Item{
		"mall": "EastPointe", "building": "BuildingA", "unit": "B47", "store": "LatteLarrys",
		"contact": map[string]any{"email": "hi@latte.example", "phones": []any{"555-0100"}},
	}).Go(ctx)
	require.NoError(t, err)
	id, ok := put.Data["storeId"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, "food", put.Data["category"])

	got, err := stores.Get(attr.Item{"storeId": id}).Go(ctx)
	require.NoError(t, err)
	assert.Equal(t, put.Data, got.Data)

	res, err := stores.Query("units", attr.Item{"mall": "EastPointe"}).Named("inCategory", "food").Go(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Data, 1)

	_, err = stores.Put(attr.Item{
		"mall": "EastPointe", "building": "BuildingA", "unit": "B48", "store": "Latte Larrys",
	}).Go(ctx)
	assert.ErrorIs(t, err, ddberr.ErrValidation)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mallDocument), 0o600))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "StoreDirectory", doc.Table.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
