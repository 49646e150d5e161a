package service

import (
	"context"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/entity"
	"github.com/acksell/facet/dynamodb/expr"
	"go.uber.org/zap"
)

// CollectionResult holds the items of a collection read keyed by entity
// name.
type CollectionResult struct {
	Data   map[string][]attr.Item
	Cursor string
}

// CollectionOp reads every member of a collection on one partition.
type CollectionOp struct {
	s      *Service
	name   string
	facets attr.Item
	where  []expr.WhereFunc
}

// Collection returns a read of the named collection on the partition
// identified by the partition key facets.
func (s *Service) Collection(name string, facets attr.Item) *CollectionOp {
	return &CollectionOp{s: s, name: name, facets: facets}
}

// Where adds a filter. Attribute references resolve against the first
// member of the collection.
func (c *CollectionOp) Where(fn expr.WhereFunc) *CollectionOp {
	c.where = append(c.where, fn)
	return c
}

func (c *CollectionOp) Params(opts ...entity.Option) (*entity.Params, error) {
	coll, err := c.s.collection(c.name)
	if err != nil {
		return nil, err
	}
	return coll.members[0].CollectionParams(c.name, c.facets, coll.identities(), c.where, opts...)
}

// Go runs the query and groups the items by the entity that wrote them.
// Items of entities outside the collection are dropped.
func (c *CollectionOp) Go(ctx context.Context, opts ...entity.Option) (*CollectionResult, error) {
	client, err := c.s.dynamo()
	if err != nil {
		return nil, err
	}
	coll, err := c.s.collection(c.name)
	if err != nil {
		return nil, err
	}
	p, err := coll.members[0].CollectionParams(c.name, c.facets, coll.identities(), c.where, opts...)
	if err != nil {
		return nil, err
	}
	items, last, err := entity.Read(ctx, client, p, false, opts...)
	if err != nil {
		return nil, err
	}
	res := &CollectionResult{Data: make(map[string][]attr.Item, len(coll.members))}
	if res.Cursor, err = entity.EncodeCursor(last); err != nil {
		return nil, err
	}
	dropped := 0
	for _, item := range items {
		owner := coll.owner(item)
		if owner == nil {
			dropped++
			continue
		}
		data, err := owner.FormatItem(item)
		if err != nil {
			return nil, err
		}
		name := owner.Model().Entity
		res.Data[name] = append(res.Data[name], data)
	}
	c.s.logger.Debug("collection read",
		zap.String("collection", c.name),
		zap.Int("items", len(items)),
		zap.Int("dropped", dropped))
	return res, nil
}

func (c *collection) owner(item ddbsdk.Item) *entity.Entity {
	for _, m := range c.members {
		if m.Owns(item) {
			return m
		}
	}
	return nil
}
