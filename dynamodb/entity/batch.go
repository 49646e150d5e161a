package entity

import (
	"context"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// BatchGetResult is the result of BatchGet. Unprocessed holds the key
// facets of the items that could not be read after the last retry.
type BatchGetResult struct {
	Data        []attr.Item
	Raw         []ddbsdk.Item
	Unprocessed []attr.Item
}

// BatchWriteResult is the result of BatchPut and BatchDelete.
type BatchWriteResult struct {
	Unprocessed []attr.Item
}

func (e *Entity) batcher(o *options) (*ddbsdk.Batcher, error) {
	opts := e.batchOpts
	if o.concurrency != nil {
		opts = append(append([]ddbsdk.BatchOption(nil), opts...), ddbsdk.WithConcurrency(*o.concurrency))
	}
	return ddbsdk.NewBatcher(e.client, opts...)
}

// unprocessed parses table keys back into key facets.
func (e *Entity) unprocessed(keys []ddbsdk.Item) ([]attr.Item, error) {
	out := make([]attr.Item, 0, len(keys))
	for _, k := range keys {
		c, err := e.Conversions().FromKeys().ToComposite(k, "")
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// BatchGetOp reads items by their table keys.
type BatchGetOp struct {
	e    *Entity
	keys []attr.Item
}

// BatchGet returns an operation reading the items identified by keys.
func (e *Entity) BatchGet(keys []attr.Item) *BatchGetOp {
	return &BatchGetOp{e: e, keys: keys}
}

func (g *BatchGetOp) params(o *options) (*Params, error) {
	p := &Params{TableName: o.table, ConsistentRead: o.consistent}
	for _, k := range g.keys {
		key, err := g.e.primaryKey(k)
		if err != nil {
			return nil, err
		}
		p.Keys = append(p.Keys, key)
	}
	b := expr.NewBuilder(g.e.attrs)
	g.e.project(b, o)
	x, err := b.Build()
	if err != nil {
		return nil, err
	}
	p.setExpressions(x)
	return p, nil
}

func (g *BatchGetOp) Params(opts ...Option) (*Params, error) {
	o, err := g.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	return g.params(o)
}

// Go reads the items in chunks. Items written by other entities are left
// out unless IgnoreOwnership is set.
func (g *BatchGetOp) Go(ctx context.Context, opts ...Option) (*BatchGetResult, error) {
	if g.e.client == nil {
		return nil, g.e.noClient()
	}
	o, err := g.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	p, err := g.params(o)
	if err != nil {
		return nil, err
	}
	b, err := g.e.batcher(o)
	if err != nil {
		return nil, err
	}
	got, err := b.Get(ctx, p.TableName, p.Keys, p.ToKeysAndAttributes())
	if err != nil {
		return nil, clientError(err, "batch get")
	}
	res := &BatchGetResult{}
	if res.Unprocessed, err = g.e.unprocessed(got.Unprocessed); err != nil {
		return nil, err
	}
	for _, item := range got.Items {
		if !o.ignoreOwnership && !g.e.Owns(item) {
			continue
		}
		if o.raw {
			res.Raw = append(res.Raw, item)
			continue
		}
		data, err := g.e.format(item, o.attributes)
		if err != nil {
			return nil, err
		}
		res.Data = append(res.Data, data)
	}
	return res, nil
}

// BatchPutOp writes items without conditions.
type BatchPutOp struct {
	e     *Entity
	items []attr.Item
}

// BatchPut returns an operation putting every item.
func (e *Entity) BatchPut(items []attr.Item) *BatchPutOp {
	return &BatchPutOp{e: e, items: items}
}

func (bp *BatchPutOp) Params(opts ...Option) (*Params, error) {
	o, err := bp.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	p := &Params{TableName: o.table}
	for _, item := range bp.items {
		_, stored, err := bp.e.storeItem(item)
		if err != nil {
			return nil, err
		}
		p.Items = append(p.Items, stored)
	}
	return p, nil
}

func (bp *BatchPutOp) Go(ctx context.Context, opts ...Option) (*BatchWriteResult, error) {
	p, err := bp.Params(opts...)
	if err != nil {
		return nil, err
	}
	return bp.e.batchWrite(ctx, p, opts)
}

// BatchDeleteOp deletes items by their table keys without conditions.
type BatchDeleteOp struct {
	e    *Entity
	keys []attr.Item
}

// BatchDelete returns an operation deleting the items identified by keys.
func (e *Entity) BatchDelete(keys []attr.Item) *BatchDeleteOp {
	return &BatchDeleteOp{e: e, keys: keys}
}

func (bd *BatchDeleteOp) Params(opts ...Option) (*Params, error) {
	o, err := bd.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	p := &Params{TableName: o.table}
	for _, k := range bd.keys {
		key, err := bd.e.primaryKey(k)
		if err != nil {
			return nil, err
		}
		p.Keys = append(p.Keys, key)
	}
	return p, nil
}

func (bd *BatchDeleteOp) Go(ctx context.Context, opts ...Option) (*BatchWriteResult, error) {
	p, err := bd.Params(opts...)
	if err != nil {
		return nil, err
	}
	return bd.e.batchWrite(ctx, p, opts)
}

func (e *Entity) batchWrite(ctx context.Context, p *Params, opts []Option) (*BatchWriteResult, error) {
	if e.client == nil {
		return nil, e.noClient()
	}
	o, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	b, err := e.batcher(o)
	if err != nil {
		return nil, err
	}
	res, err := b.Write(ctx, p.TableName, p.ToWriteRequests())
	if err != nil {
		return nil, clientError(err, "batch write")
	}
	keys := make([]ddbsdk.Item, 0, len(res.Unprocessed))
	for _, req := range res.Unprocessed {
		keys = append(keys, writeKey(req, e.keyFields()))
	}
	unprocessed, err := e.unprocessed(keys)
	if err != nil {
		return nil, err
	}
	return &BatchWriteResult{Unprocessed: unprocessed}, nil
}

func writeKey(req types.WriteRequest, fields []string) ddbsdk.Item {
	if req.DeleteRequest != nil {
		return req.DeleteRequest.Key
	}
	key := make(ddbsdk.Item, len(fields))
	for _, f := range fields {
		key[f] = req.PutRequest.Item[f]
	}
	return key
}
