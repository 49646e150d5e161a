// Package entity maps a declarative entity model onto a DynamoDB table.
//
// An Entity is defined once from a Schema and is immutable afterwards. Its
// operations (Get, Put, Create, Update, Patch, Delete, Query, Scan, Find,
// Match and the batch variants) are builders: Params renders the request
// without side effects and Go sends it through the configured client.
//
//	e, err := entity.New(entity.Schema{
//	    Model: entity.Model{Service: "mallstoredirectory", Entity: "mallstore", Version: "1"},
//	    Table: "StoreDirectory",
//	    Attributes: []attr.Attribute{...},
//	    Indexes: []index.Definition{...},
//	}, entity.WithClient(client))
//
//	res, err := e.Query("units", attr.Item{"mall": "EastPointe"}).
//	    Begins(attr.Item{"building": "BuildingA"}).
//	    Go(ctx)
package entity

import (
	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/acksell/facet/dynamodb/index"
	"github.com/acksell/facet/dynamodb/index/keys"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Model identifies an entity. Service and entity names are part of every key
// the entity writes, the version allows several shapes of one entity to live
// on the same table.
type Model struct {
	Service string
	Entity  string
	Version string
}

// NamedFilter is a reusable filter declared on the schema and applied with
// Named on reads.
type NamedFilter func(a expr.Attrs, op expr.Ops, args ...any) string

// Schema declares an entity.
type Schema struct {
	Model Model
	// Table is the default table name, see WithTable to override it per call.
	Table      string
	Attributes []attr.Attribute
	// Indexes declares the access patterns. Exactly one must address the
	// table itself.
	Indexes []index.Definition
	Filters map[string]NamedFilter
	// TimeToLiveField is the field holding item expiry, set with WithTTL.
	TimeToLiveField string
}

// Entity is a compiled Schema.
type Entity struct {
	model     Model
	table     string
	ttl       string
	attrs     *attr.Schema
	indexes   *index.Set
	filters   map[string]NamedFilter
	client    ddbsdk.AWSDynamoClientV2
	batchOpts []ddbsdk.BatchOption
}

// EntityOption configures an Entity.
type EntityOption func(*Entity)

// WithClient sets the client Go sends requests with.
func WithClient(c ddbsdk.AWSDynamoClientV2) EntityOption {
	return func(e *Entity) {
		e.client = c
	}
}

// WithBatchOptions configures the batcher used by the batch operations.
func WithBatchOptions(opts ...ddbsdk.BatchOption) EntityOption {
	return func(e *Entity) {
		e.batchOpts = append(e.batchOpts, opts...)
	}
}

// New validates s and compiles it. Every failure is a *ddberr.Error with
// CodeSchemaValidation.
func New(s Schema, opts ...EntityOption) (*Entity, error) {
	for _, p := range []struct{ name, value string }{
		{"service", s.Model.Service},
		{"entity", s.Model.Entity},
		{"version", s.Model.Version},
	} {
		if p.value == "" {
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"invalid model: property %q received \"\", expected a non-empty string", p.name)
		}
	}
	schema, err := attr.NewSchema(s.Attributes)
	if err != nil {
		return nil, err
	}
	for _, a := range schema.Attributes() {
		if f := a.FieldName(); f == expr.FieldEntity || f == expr.FieldVersion {
			return nil, ddberr.New(ddberr.CodeSchemaValidation,
				"attribute %q uses field %q, which is reserved for entity identity", a.Name, f).WithAttributes(a.Name)
		}
	}
	set, err := index.Compile(s.Indexes, schema, index.Prefixes{
		Service: s.Model.Service,
		Entity:  s.Model.Entity,
		Version: s.Model.Version,
	})
	if err != nil {
		return nil, err
	}
	for _, idx := range set.All() {
		for _, c := range []*keys.Composer{idx.PK, idx.SK} {
			if c == nil || c.IsRaw() {
				continue
			}
			if a, ok := schema.LookupField(c.Field()); ok {
				return nil, ddberr.New(ddberr.CodeSchemaValidation,
					"attribute %q uses field %q, which is a composite key of access pattern %q",
					a.Name, c.Field(), idx.AccessPattern).WithAttributes(a.Name)
			}
		}
	}
	for name, f := range s.Filters {
		if f == nil {
			return nil, ddberr.New(ddberr.CodeSchemaValidation, "filter %q is nil", name)
		}
	}

	e := &Entity{
		model:   s.Model,
		table:   s.Table,
		ttl:     s.TimeToLiveField,
		attrs:   schema,
		indexes: set,
		filters: s.Filters,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Model returns the entity identity.
func (e *Entity) Model() Model { return e.model }

// TableName returns the default table name.
func (e *Entity) TableName() string { return e.table }

// Schema returns the attribute schema.
func (e *Entity) Schema() *attr.Schema { return e.attrs }

// Indexes returns the compiled access patterns.
func (e *Entity) Indexes() *index.Set { return e.indexes }

// Client returns the configured client, nil if none.
func (e *Entity) Client() ddbsdk.AWSDynamoClientV2 { return e.client }

// Identity returns the identity stamped on the items of the entity.
func (e *Entity) Identity() expr.Identity {
	return expr.Identity{Entity: e.model.Entity, Version: e.model.Version}
}

// Owns reports whether a stored item was written by this entity.
func (e *Entity) Owns(item ddbsdk.Item) bool {
	return stringField(item, expr.FieldEntity) == e.model.Entity &&
		stringField(item, expr.FieldVersion) == e.model.Version
}

// FormatItem converts a stored item into attribute values: storage fields
// are renamed, key and identity fields dropped, get transforms applied and
// hidden attributes removed.
func (e *Entity) FormatItem(item ddbsdk.Item) (attr.Item, error) {
	return e.format(item, nil)
}

func (e *Entity) format(item ddbsdk.Item, only []string) (attr.Item, error) {
	values, err := e.attrs.FromStore(item)
	if err != nil {
		return nil, ddberr.Wrap(ddberr.CodeValidation, err, "read %s item", e.model.Entity)
	}
	out, err := e.attrs.Format(values)
	if err != nil {
		return nil, ddberr.Wrap(ddberr.CodeValidation, err, "format %s item", e.model.Entity)
	}
	if len(only) > 0 {
		projected := make(attr.Item, len(only))
		for _, name := range only {
			if v, ok := out[name]; ok {
				projected[name] = v
			}
		}
		out = projected
	}
	return out, nil
}

func (e *Entity) stampIdentity(item ddbsdk.Item) {
	item[expr.FieldEntity] = &types.AttributeValueMemberS{Value: e.model.Entity}
	item[expr.FieldVersion] = &types.AttributeValueMemberS{Value: e.model.Version}
}

func stringField(item ddbsdk.Item, field string) string {
	if s, ok := item[field].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// keyValue returns the stored form of a composed key.
func (e *Entity) keyValue(c *keys.Composer, key string, values attr.Item) (types.AttributeValue, error) {
	if !c.IsRaw() {
		return &types.AttributeValueMemberS{Value: key}, nil
	}
	a, _ := e.attrs.Lookup(c.Facets()[0])
	av, err := a.Marshal(values[a.Name])
	if err != nil {
		return nil, ddberr.Wrap(ddberr.CodeValidation, err, "key %q", c.Field())
	}
	return av, nil
}

// keysOf composes the complete keys of idx.
func (e *Entity) keysOf(idx *index.Index, values attr.Item) (ddbsdk.Item, error) {
	pk, sk, err := idx.Keys(values, true)
	if err != nil {
		return nil, err
	}
	out := make(ddbsdk.Item, 2)
	if out[idx.PK.Field()], err = e.keyValue(idx.PK, pk, values); err != nil {
		return nil, err
	}
	if idx.SK != nil {
		if out[idx.SK.Field()], err = e.keyValue(idx.SK, sk, values); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// primaryKey composes the table key of the item identified by values.
func (e *Entity) primaryKey(values attr.Item) (ddbsdk.Item, error) {
	return e.keysOf(e.indexes.Main(), values)
}

// keyFields returns the table key fields.
func (e *Entity) keyFields() []string {
	main := e.indexes.Main()
	fields := []string{main.PK.Field()}
	if main.SK != nil {
		fields = append(fields, main.SK.Field())
	}
	return fields
}

func (e *Entity) noClient() error {
	return ddberr.New(ddberr.CodeInvalidOptions, "entity %q has no client, see WithClient", e.model.Entity)
}

func clientError(err error, op string) error {
	return ddberr.Wrap(ddberr.CodeClient, err, "%s failed", op)
}
