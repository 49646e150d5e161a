package service

import (
	"context"
	"testing"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/ddbstore"
	"github.com/acksell/facet/dynamodb/entity"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/acksell/facet/dynamodb/index"
	"github.com/acksell/facet/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var directoryTable = table.TableDefinition{
	Name: "Directory",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
	GSIs: []table.GSIDefinition{{
		Name: "gsi1",
		KeyDefinitions: table.PrimaryKeyDefinition{
			PartitionKey: table.KeyDef{Name: "gsi1pk", Kind: table.KeyKindS},
			SortKey:      table.KeyDef{Name: "gsi1sk", Kind: table.KeyKindS},
		},
	}},
}

// member builds an entity of the directory collection keyed by id and
// sorted by sortBy within a mall.
func member(name, id, sortBy string) entity.Schema {
	return entity.Schema{
		Model: entity.Model{Service: "MallDirectory", Entity: name, Version: "1"},
		Table: "Directory",
		Attributes: []attr.Attribute{
			{Name: "mall", Type: attr.String(), Required: true},
			{Name: id, Type: attr.String(), Required: true},
			{Name: sortBy, Type: attr.String(), Required: true},
		},
		Indexes: []index.Definition{
			{
				AccessPattern: "byId",
				PK:            index.Key{Field: "pk", Facets: []string{id}},
				SK:            &index.Key{Field: "sk"},
			},
			{
				AccessPattern: "byMall",
				Index:         "gsi1",
				PK:            index.Key{Field: "gsi1pk", Facets: []string{"mall"}},
				SK:            &index.Key{Field: "gsi1sk", Facets: []string{sortBy}},
				Collection:    "directory",
			},
		},
	}
}

func mustEntity(t *testing.T, s entity.Schema, opts ...entity.EntityOption) *entity.Entity {
	t.Helper()
	e, err := entity.New(s, opts...)
	require.NoError(t, err)
	return e
}

func newStore(t *testing.T) *ddbstore.Store {
	t.Helper()
	store, err := ddbstore.New(ddbstore.StoreOptions{InMemory: true, Logger: zaptest.NewLogger(t)}, directoryTable)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestAdd(t *testing.T) {
	stores := mustEntity(t, member("Stores", "store", "unit"))

	tests := []struct {
		name   string
		schema func() entity.Schema
		want   string
	}{
		{
			name: "other service",
			schema: func() entity.Schema {
				s := member("Events", "eventId", "date")
				s.Model.Service = "Elsewhere"
				return s
			},
			want: `belongs to service "Elsewhere"`,
		},
		{
			name: "other table",
			schema: func() entity.Schema {
				s := member("Events", "eventId", "date")
				s.Table = "Other"
				return s
			},
			want: `uses table "Other"`,
		},
		{
			name:   "duplicate entity",
			schema: func() entity.Schema { return member("Stores", "store", "unit") },
			want:   "already registered",
		},
		{
			name: "collection on another index",
			schema: func() entity.Schema {
				s := member("Events", "eventId", "date")
				s.Indexes[1].Index = "gsi2"
				s.Indexes[1].PK.Field = "gsi2pk"
				s.Indexes[1].SK.Field = "gsi2sk"
				return s
			},
			want: `is on index "gsi1", got "gsi2"`,
		},
		{
			name: "collection with other partition facets",
			schema: func() entity.Schema {
				s := member("Events", "eventId", "date")
				s.Indexes[1].PK.Facets = []string{"date"}
				s.Indexes[1].SK.Facets = []string{"eventId"}
				return s
			},
			want: "partition key facets",
		},
		{
			name: "collection with a sort key template",
			schema: func() entity.Schema {
				s := member("Events", "eventId", "date")
				s.Indexes[1].SK = &index.Key{Field: "gsi1sk", Template: "date#:date"}
				return s
			},
			want: "sort key template",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New("MallDirectory")
			require.NoError(t, svc.Add(stores))
			err := svc.Add(mustEntity(t, tt.schema()))
			require.ErrorIs(t, err, ddberr.ErrSchemaValidation)
			assert.Contains(t, err.Error(), tt.want)
			assert.Len(t, svc.Entities(), 1)
		})
	}

	t.Run("all or nothing", func(t *testing.T) {
		svc := New("MallDirectory")
		bad := member("Events", "eventId", "date")
		bad.Table = "Other"
		err := svc.Add(stores, mustEntity(t, bad))
		require.Error(t, err)
		assert.Empty(t, svc.Entities())
		assert.Empty(t, svc.Collections())
	})

	t.Run("members", func(t *testing.T) {
		svc := New("MallDirectory")
		events := mustEntity(t, member("Events", "eventId", "date"))
		require.NoError(t, svc.Add(stores))
		require.NoError(t, svc.Add(events))
		assert.Equal(t, map[string][]string{"directory": {"Stores", "Events"}}, svc.Collections())
		got, ok := svc.Entity("Events")
		require.True(t, ok)
		assert.Same(t, events, got)
	})
}

func TestCollectionParams(t *testing.T) {
	svc := New("MallDirectory")
	require.NoError(t, svc.Add(
		mustEntity(t, member("Stores", "store", "unit")),
		mustEntity(t, member("Events", "eventId", "date")),
	))

	p, err := svc.Collection("directory", attr.Item{"mall": "EastPointe"}).
		Where(func(a expr.Attrs, op expr.Ops) string {
			return op.Eq(a["mall"], "EastPointe")
		}).
		Params()
	require.NoError(t, err)
	assert.Equal(t, "gsi1", p.IndexName)
	assert.Equal(t, "#gsi1pk = :gsi1pk AND begins_with(#gsi1sk, :gsi1sk)", p.KeyConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "$malldirectory#mall_eastpointe"}, p.ExpressionAttributeValues[":gsi1pk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "$directory"}, p.ExpressionAttributeValues[":gsi1sk"])
	assert.Equal(t,
		"((#__facet_e__ = :__facet_e___Stores AND #__facet_v__ = :__facet_v___Stores) OR "+
			"(#__facet_e__ = :__facet_e___Events AND #__facet_v__ = :__facet_v___Events)) AND (#mall = :mall)",
		p.FilterExpression)

	_, err = svc.Collection("nope", attr.Item{"mall": "EastPointe"}).Params()
	assert.ErrorIs(t, err, ddberr.ErrInvalidIndexName)

	_, err = svc.Collection("directory", attr.Item{}).Params()
	assert.ErrorIs(t, err, ddberr.ErrMissingKeyFacets)
}

func TestCollectionGo(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	stores := mustEntity(t, member("Stores", "store", "unit"), entity.WithClient(store))
	events := mustEntity(t, member("Events", "eventId", "date"), entity.WithClient(store))
	kiosks := mustEntity(t, member("Kiosks", "kiosk", "spot"), entity.WithClient(store))

	svc := New("MallDirectory", WithLogger(zaptest.NewLogger(t)))
	_, err := svc.Collection("directory", attr.Item{"mall": "EastPointe"}).Go(ctx)
	assert.ErrorIs(t, err, ddberr.ErrInvalidOptions)
	require.NoError(t, svc.Add(stores, events))

	for _, op := range []interface {
		Go(context.Context, ...entity.Option) (*entity.ItemResult, error)
	}{
		stores.Put(attr.Item{"mall": "EastPointe", "store": "LatteLarrys", "unit": "A1"}),
		stores.Put(attr.Item{"mall": "EastPointe", "store": "BookBarn", "unit": "B2"}),
		stores.Put(attr.Item{"mall": "WestPointe", "store": "Shoes", "unit": "C3"}),
		events.Put(attr.Item{"mall": "EastPointe", "eventId": "E1", "date": "2024-05-01"}),
		kiosks.Put(attr.Item{"mall": "EastPointe", "kiosk": "K1", "spot": "north"}),
	} {
		_, err := op.Go(ctx)
		require.NoError(t, err)
	}

	res, err := svc.Collection("directory", attr.Item{"mall": "EastPointe"}).Go(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Cursor)
	assert.Equal(t, map[string][]attr.Item{
		"Events": {{"mall": "EastPointe", "eventId": "E1", "date": "2024-05-01"}},
		"Stores": {
			{"mall": "EastPointe", "store": "LatteLarrys", "unit": "A1"},
			{"mall": "EastPointe", "store": "BookBarn", "unit": "B2"},
		},
	}, res.Data)

	res, err = svc.Collection("directory", attr.Item{"mall": "EastPointe"}).Go(ctx, entity.IgnoreOwnership())
	require.NoError(t, err)
	assert.NotContains(t, res.Data, "Kiosks")
	assert.Len(t, res.Data["Stores"], 2)

	res, err = svc.Collection("directory", attr.Item{"mall": "EastPointe"}).
		Where(func(a expr.Attrs, op expr.Ops) string {
			return op.Eq(a["unit"], "B2")
		}).
		Go(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]attr.Item{
		"Stores": {{"mall": "EastPointe", "store": "BookBarn", "unit": "B2"}},
	}, res.Data)
}

func TestTransactWrite(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	stores := mustEntity(t, member("Stores", "store", "unit"), entity.WithClient(store))
	events := mustEntity(t, member("Events", "eventId", "date"), entity.WithClient(store))
	svc := New("MallDirectory")
	require.NoError(t, svc.Add(stores, events))

	latte := attr.Item{"mall": "EastPointe", "store": "LatteLarrys", "unit": "A1"}
	opening := attr.Item{"mall": "EastPointe", "eventId": "E1", "date": "2024-05-01"}
	err := svc.TransactWrite(ctx, []ddbsdk.Action{
		stores.Create(latte),
		events.Create(opening),
	})
	require.NoError(t, err)

	got, err := events.Get(attr.Item{"eventId": "E1"}).Go(ctx)
	require.NoError(t, err)
	assert.Equal(t, opening, got.Data)

	t.Run("condition failure writes nothing", func(t *testing.T) {
		err := svc.TransactWrite(ctx, []ddbsdk.Action{
			stores.Create(latte),
			events.Put(attr.Item{"mall": "EastPointe", "eventId": "E2", "date": "2024-06-01"}),
		})
		require.ErrorIs(t, err, ddberr.ErrClient)

		got, err := events.Get(attr.Item{"eventId": "E2"}).Go(ctx)
		require.NoError(t, err)
		assert.Nil(t, got.Data)
	})

	t.Run("check", func(t *testing.T) {
		err := svc.TransactWrite(ctx, []ddbsdk.Action{
			stores.Check(attr.Item{"store": "LatteLarrys"}, func(a expr.Attrs, op expr.Ops) string {
				return op.Eq(a["unit"], "A1")
			}),
			events.Patch(attr.Item{"eventId": "E1"}).Set(attr.Item{"mall": "EastPointe", "date": "2024-05-02"}),
		})
		require.NoError(t, err)

		got, err := events.Get(attr.Item{"eventId": "E1"}).Go(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2024-05-02", got.Data["date"])
	})

	t.Run("duplicate item", func(t *testing.T) {
		err := svc.TransactWrite(ctx, []ddbsdk.Action{
			events.Delete(attr.Item{"eventId": "E1"}),
			events.Patch(attr.Item{"eventId": "E1"}).Set(attr.Item{"mall": "EastPointe", "date": "2024-05-03"}),
		})
		assert.ErrorIs(t, err, ddberr.ErrInvalidOptions)
		assert.ErrorIs(t, err, ddbsdk.ErrDuplicateItem)
	})

	t.Run("no client", func(t *testing.T) {
		err := New("MallDirectory").TransactWrite(ctx, nil)
		assert.ErrorIs(t, err, ddberr.ErrInvalidOptions)
	})
}
