package entity

import (
	"context"
	"maps"
	"strconv"
	"time"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	_ ddbsdk.Action = (*PutOp)(nil)
	_ ddbsdk.Action = (*DeleteOp)(nil)
	_ ddbsdk.Action = (*UpdateOp)(nil)
	_ ddbsdk.Action = (*CheckOp)(nil)
)

// conditions are the user conditions of a write.
type conditions struct {
	where []expr.WhereFunc
	cbs   []expression.ConditionBuilder
}

func (c *conditions) apply(b *expr.Builder) {
	for _, fn := range c.where {
		b.ConditionWhere(fn)
	}
	for _, cb := range c.cbs {
		b.Condition(cb)
	}
}

// PutOp writes a whole item.
type PutOp struct {
	e      *Entity
	item   attr.Item
	create bool
	ttl    *time.Time
	conditions
}

// Put returns an operation creating or replacing item.
func (e *Entity) Put(item attr.Item) *PutOp {
	return &PutOp{e: e, item: item}
}

// Create is like Put but fails when the item already exists.
func (e *Entity) Create(item attr.Item) *PutOp {
	return &PutOp{e: e, item: item, create: true}
}

// Where adds a condition rendered by fn.
func (p *PutOp) Where(fn expr.WhereFunc) *PutOp {
	p.where = append(p.where, fn)
	return p
}

// Condition adds a condition built with the expression package.
func (p *PutOp) Condition(cb expression.ConditionBuilder) *PutOp {
	p.cbs = append(p.cbs, cb)
	return p
}

// WithTTL sets the expiry of the item. The schema must declare a
// TimeToLiveField.
func (p *PutOp) WithTTL(expiry time.Time) *PutOp {
	p.ttl = &expiry
	return p
}

// ttlValue is the DynamoDB TTL representation of t, in epoch seconds.
func ttlValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// storeItem normalizes item and returns it with every key and the identity
// fields.
func (e *Entity) storeItem(item attr.Item) (attr.Item, ddbsdk.Item, error) {
	normalized, err := e.attrs.Normalize(item, attr.ModePut)
	if err != nil {
		return nil, nil, ddberr.Wrap(ddberr.CodeValidation, err, "invalid %s item", e.model.Entity)
	}
	stored, err := e.attrs.ToStore(normalized)
	if err != nil {
		return nil, nil, ddberr.Wrap(ddberr.CodeValidation, err, "invalid %s item", e.model.Entity)
	}
	key, err := e.primaryKey(normalized)
	if err != nil {
		return nil, nil, err
	}
	maps.Copy(stored, key)
	secondary, err := e.indexes.SecondaryKeys(normalized)
	if err != nil {
		return nil, nil, err
	}
	for field, v := range secondary {
		stored[field] = &types.AttributeValueMemberS{Value: v}
	}
	e.stampIdentity(stored)
	return normalized, stored, nil
}

func (p *PutOp) build(table string) (*Params, attr.Item, error) {
	normalized, stored, err := p.e.storeItem(p.item)
	if err != nil {
		return nil, nil, err
	}
	if p.ttl != nil {
		if p.e.ttl == "" {
			return nil, nil, ddberr.New(ddberr.CodeInvalidOptions,
				"entity %q has no time to live field", p.e.model.Entity)
		}
		stored[p.e.ttl] = ttlValue(*p.ttl)
	}
	b := expr.NewBuilder(p.e.attrs)
	if p.create {
		b.KeysExist(false, p.e.keyFields()...)
	}
	p.conditions.apply(b)
	x, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	params := &Params{TableName: table, Item: stored}
	params.setExpressions(x)
	return params, normalized, nil
}

func (p *PutOp) Params(opts ...Option) (*Params, error) {
	o, err := p.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	params, _, err := p.build(o.table)
	return params, err
}

// Go writes the item and returns it as a read would.
func (p *PutOp) Go(ctx context.Context, opts ...Option) (*ItemResult, error) {
	if p.e.client == nil {
		return nil, p.e.noClient()
	}
	o, err := p.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	params, normalized, err := p.build(o.table)
	if err != nil {
		return nil, err
	}
	if _, err := p.e.client.PutItem(ctx, params.ToPutItemInput()); err != nil {
		return nil, clientError(err, "put item")
	}
	if o.raw {
		return &ItemResult{Raw: params.Item}, nil
	}
	data, err := p.e.attrs.Format(normalized)
	if err != nil {
		return nil, ddberr.Wrap(ddberr.CodeValidation, err, "format %s item", p.e.model.Entity)
	}
	return &ItemResult{Data: data}, nil
}

func (p *PutOp) TableName() string { return p.e.table }

func (p *PutOp) Key() (ddbsdk.Item, error) {
	params, _, err := p.build(p.e.table)
	if err != nil {
		return nil, err
	}
	return params.keyOf(p.e.keyFields()), nil
}

func (p *PutOp) TransactWriteItem() (types.TransactWriteItem, error) {
	params, _, err := p.build(p.e.table)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Put: params.ToPut()}, nil
}

// keyOf returns the key fields of the item in p.
func (p *Params) keyOf(fields []string) ddbsdk.Item {
	key := make(ddbsdk.Item, len(fields))
	for _, f := range fields {
		key[f] = p.Item[f]
	}
	return key
}

// DeleteOp deletes an item by its table key.
type DeleteOp struct {
	e   *Entity
	key attr.Item
	conditions
}

// Delete returns an operation deleting the item identified by key.
func (e *Entity) Delete(key attr.Item) *DeleteOp {
	return &DeleteOp{e: e, key: key}
}

func (d *DeleteOp) Where(fn expr.WhereFunc) *DeleteOp {
	d.where = append(d.where, fn)
	return d
}

func (d *DeleteOp) Condition(cb expression.ConditionBuilder) *DeleteOp {
	d.cbs = append(d.cbs, cb)
	return d
}

func (d *DeleteOp) build(table string) (*Params, error) {
	key, err := d.e.primaryKey(d.key)
	if err != nil {
		return nil, err
	}
	b := expr.NewBuilder(d.e.attrs)
	d.conditions.apply(b)
	x, err := b.Build()
	if err != nil {
		return nil, err
	}
	p := &Params{TableName: table, Key: key, ReturnValues: types.ReturnValueAllOld}
	p.setExpressions(x)
	return p, nil
}

func (d *DeleteOp) Params(opts ...Option) (*Params, error) {
	o, err := d.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	return d.build(o.table)
}

// Go deletes the item and returns it as it was, Data is nil when there was
// no item.
func (d *DeleteOp) Go(ctx context.Context, opts ...Option) (*ItemResult, error) {
	if d.e.client == nil {
		return nil, d.e.noClient()
	}
	o, err := d.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	p, err := d.build(o.table)
	if err != nil {
		return nil, err
	}
	out, err := d.e.client.DeleteItem(ctx, p.ToDeleteItemInput())
	if err != nil {
		return nil, clientError(err, "delete item")
	}
	return d.e.itemResult(out.Attributes, o)
}

func (d *DeleteOp) TableName() string { return d.e.table }

func (d *DeleteOp) Key() (ddbsdk.Item, error) { return d.e.primaryKey(d.key) }

func (d *DeleteOp) TransactWriteItem() (types.TransactWriteItem, error) {
	p, err := d.build(d.e.table)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Delete: p.ToDelete()}, nil
}

// CheckOp is a condition on an item that takes part in a transaction
// without writing it.
type CheckOp struct {
	e   *Entity
	key attr.Item
	fn  expr.WhereFunc
}

// Check returns a transaction condition on the item identified by key.
func (e *Entity) Check(key attr.Item, fn expr.WhereFunc) *CheckOp {
	return &CheckOp{e: e, key: key, fn: fn}
}

func (c *CheckOp) build(table string) (*Params, error) {
	key, err := c.e.primaryKey(c.key)
	if err != nil {
		return nil, err
	}
	b := expr.NewBuilder(c.e.attrs)
	b.ConditionWhere(c.fn)
	x, err := b.Build()
	if err != nil {
		return nil, err
	}
	if x.Condition == "" {
		return nil, ddberr.New(ddberr.CodeInvalidFilterResponse, "condition check on %q rendered no condition", c.e.model.Entity)
	}
	p := &Params{TableName: table, Key: key}
	p.setExpressions(x)
	return p, nil
}

func (c *CheckOp) Params(opts ...Option) (*Params, error) {
	o, err := c.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	return c.build(o.table)
}

func (c *CheckOp) TableName() string { return c.e.table }

func (c *CheckOp) Key() (ddbsdk.Item, error) { return c.e.primaryKey(c.key) }

func (c *CheckOp) TransactWriteItem() (types.TransactWriteItem, error) {
	p, err := c.build(c.e.table)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{ConditionCheck: p.ToConditionCheck()}, nil
}
