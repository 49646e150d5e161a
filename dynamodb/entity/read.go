package entity

import (
	"context"
	"slices"
	"strings"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/acksell/facet/dynamodb/index"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ItemResult is the result of a single item operation. Data is nil when no
// item was found, or when the Raw option is set, in which case Raw holds the
// stored item.
type ItemResult struct {
	Data attr.Item
	Raw  ddbsdk.Item
}

// ListResult is the result of a read. Cursor resumes the read and is empty
// when there are no more items.
type ListResult struct {
	Data   []attr.Item
	Raw    []ddbsdk.Item
	Cursor string
}

func (e *Entity) itemResult(item ddbsdk.Item, o *options) (*ItemResult, error) {
	if len(item) == 0 {
		return &ItemResult{}, nil
	}
	if o.raw {
		return &ItemResult{Raw: item}, nil
	}
	data, err := e.format(item, o.attributes)
	if err != nil {
		return nil, err
	}
	return &ItemResult{Data: data}, nil
}

func (e *Entity) listResult(items []ddbsdk.Item, last ddbsdk.Item, o *options) (*ListResult, error) {
	cursor, err := EncodeCursor(last)
	if err != nil {
		return nil, err
	}
	res := &ListResult{Cursor: cursor}
	if o.raw {
		res.Raw = items
		return res, nil
	}
	res.Data = make([]attr.Item, 0, len(items))
	for _, item := range items {
		data, err := e.format(item, o.attributes)
		if err != nil {
			return nil, err
		}
		res.Data = append(res.Data, data)
	}
	return res, nil
}

// GetOp reads one item by its table key.
type GetOp struct {
	e   *Entity
	key attr.Item
}

// Get returns an operation reading the item identified by the table key
// facets in key.
func (e *Entity) Get(key attr.Item) *GetOp {
	return &GetOp{e: e, key: key}
}

func (op *GetOp) params(o *options) (*Params, error) {
	key, err := op.e.primaryKey(op.key)
	if err != nil {
		return nil, err
	}
	b := expr.NewBuilder(op.e.attrs)
	op.e.project(b, o)
	x, err := b.Build()
	if err != nil {
		return nil, err
	}
	p := &Params{TableName: o.table, Key: key, ConsistentRead: o.consistent}
	p.setExpressions(x)
	return p, nil
}

func (op *GetOp) Params(opts ...Option) (*Params, error) {
	o, err := op.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	return op.params(o)
}

// Go reads the item. An item written by another entity is reported as not
// found unless IgnoreOwnership is set.
func (op *GetOp) Go(ctx context.Context, opts ...Option) (*ItemResult, error) {
	if op.e.client == nil {
		return nil, op.e.noClient()
	}
	o, err := op.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	p, err := op.params(o)
	if err != nil {
		return nil, err
	}
	out, err := op.e.client.GetItem(ctx, p.ToGetItemInput())
	if err != nil {
		return nil, clientError(err, "get item")
	}
	if len(out.Item) > 0 && !o.ignoreOwnership && !op.e.Owns(out.Item) {
		return &ItemResult{}, nil
	}
	return op.e.itemResult(out.Item, o)
}

// filters are the user predicates of a read.
type filters struct {
	where []expr.WhereFunc
	cbs   []expression.ConditionBuilder
	named []namedCall
}

type namedCall struct {
	name string
	args []any
}

func (f *filters) apply(e *Entity, b *expr.Builder) error {
	for _, fn := range f.where {
		b.Where(fn)
	}
	for _, cb := range f.cbs {
		b.Filter(cb)
	}
	for _, n := range f.named {
		nf, ok := e.filters[n.name]
		if !ok {
			return ddberr.New(ddberr.CodeInvalidOptions, "entity %q has no filter %q", e.model.Entity, n.name)
		}
		args := n.args
		b.Where(func(a expr.Attrs, op expr.Ops) string { return nf(a, op, args...) })
	}
	return nil
}

// sortCondition is the requested sort key comparison of a query.
type sortCondition struct {
	op     expr.SortOp
	values []attr.Item
}

// QueryOp reads the items of one partition of an access pattern.
type QueryOp struct {
	e       *Entity
	pattern string
	facets  attr.Item
	sort    *sortCondition
	filters
}

// Query returns an operation reading the access pattern. facets must hold
// every partition key facet and may hold leading sort key facets.
//
// Without a sort key operator the complete sort key is matched exactly and a
// partial one as a prefix.
func (e *Entity) Query(accessPattern string, facets attr.Item) *QueryOp {
	return &QueryOp{e: e, pattern: accessPattern, facets: facets}
}

func (q *QueryOp) withSort(op expr.SortOp, values ...attr.Item) *QueryOp {
	q.sort = &sortCondition{op: op, values: values}
	return q
}

// Begins matches sort keys starting with the facets.
func (q *QueryOp) Begins(facets attr.Item) *QueryOp { return q.withSort(expr.SortBeginsWith, facets) }

// Between matches sort keys between the two facet sets, inclusive.
func (q *QueryOp) Between(lo, hi attr.Item) *QueryOp { return q.withSort(expr.SortBetween, lo, hi) }

func (q *QueryOp) Gt(facets attr.Item) *QueryOp  { return q.withSort(expr.SortGt, facets) }
func (q *QueryOp) Gte(facets attr.Item) *QueryOp { return q.withSort(expr.SortGte, facets) }
func (q *QueryOp) Lt(facets attr.Item) *QueryOp  { return q.withSort(expr.SortLt, facets) }
func (q *QueryOp) Lte(facets attr.Item) *QueryOp { return q.withSort(expr.SortLte, facets) }

// Where adds a filter rendered by fn.
func (q *QueryOp) Where(fn expr.WhereFunc) *QueryOp {
	q.where = append(q.where, fn)
	return q
}

// Filter adds a filter built with the expression package.
func (q *QueryOp) Filter(cb expression.ConditionBuilder) *QueryOp {
	q.cbs = append(q.cbs, cb)
	return q
}

// Named applies a filter declared on the schema.
func (q *QueryOp) Named(name string, args ...any) *QueryOp {
	q.named = append(q.named, namedCall{name: name, args: args})
	return q
}

// readPlan is a resolved read: the index and key condition of a query, or a
// scan when idx is nil.
type readPlan struct {
	idx  *index.Index
	pk   types.AttributeValue
	sort *expr.SortKey
}

// planQuery resolves the key condition of idx from the supplied values.
func (e *Entity) planQuery(idx *index.Index, values attr.Item, sc *sortCondition) (readPlan, error) {
	if missing := idx.PK.Missing(values); len(missing) > 0 {
		return readPlan{}, ddberr.New(ddberr.CodeMissingKeyFacets,
			"query %q is missing partition key facets %q", idx.AccessPattern, missing).WithAttributes(missing...)
	}
	plan := readPlan{idx: idx}
	pk, err := idx.PK.Build(values)
	if err != nil {
		return readPlan{}, err
	}
	if plan.pk, err = e.keyValue(idx.PK, pk, values); err != nil {
		return readPlan{}, err
	}
	if idx.SK == nil {
		if sc != nil {
			return readPlan{}, ddberr.New(ddberr.CodeInvalidOptions,
				"access pattern %q has no sort key to compare", idx.AccessPattern)
		}
		return plan, nil
	}

	if sc == nil {
		complete := len(idx.SK.Missing(values)) == 0
		switch {
		case complete:
			sc = &sortCondition{op: expr.SortEq, values: []attr.Item{values}}
		case idx.SK.IsRaw():
			return plan, nil
		default:
			sc = &sortCondition{op: expr.SortBeginsWith, values: []attr.Item{values}}
		}
	}
	sk := &expr.SortKey{Field: idx.SK.Field(), Op: sc.op}
	for _, v := range sc.values {
		merged := make(attr.Item, len(values)+len(v))
		for k, x := range values {
			merged[k] = x
		}
		for k, x := range v {
			merged[k] = x
		}
		var av types.AttributeValue
		if idx.SK.IsRaw() {
			if len(idx.SK.Missing(merged)) > 0 {
				return readPlan{}, ddberr.New(ddberr.CodeIncompleteKeyFacets,
					"query %q: sort key operator %q needs facet %q", idx.AccessPattern, sc.op, idx.SK.Facets()[0])
			}
			if av, err = e.keyValue(idx.SK, "", merged); err != nil {
				return readPlan{}, err
			}
		} else {
			partial := idx.SK.BuildPartial(merged)
			if partial == "" && sc.op == expr.SortBeginsWith {
				return plan, nil
			}
			av = &types.AttributeValueMemberS{Value: partial}
		}
		sk.Values = append(sk.Values, av)
	}
	plan.sort = sk
	return plan, nil
}

// readParams renders the request of a plan. ids are the identities the
// results are filtered on.
func (e *Entity) readParams(plan readPlan, o *options, ids []expr.Identity, configure func(b *expr.Builder) error) (*Params, error) {
	b := expr.NewBuilder(e.attrs)
	p := &Params{TableName: o.table, Limit: o.limit, ConsistentRead: o.consistent}
	if plan.idx != nil {
		p.IndexName = plan.idx.Index
		b.KeyCondition(plan.idx.PK.Field(), plan.pk, plan.sort)
		if o.order == Desc {
			p.ScanIndexForward = aws.Bool(false)
		}
	}
	if !o.ignoreOwnership {
		b.Identity(ids...)
	}
	if configure != nil {
		if err := configure(b); err != nil {
			return nil, err
		}
	}
	e.project(b, o)
	x, err := b.Build()
	if err != nil {
		return nil, err
	}
	p.setExpressions(x)
	if p.ExclusiveStartKey, err = DecodeCursor(o.cursor); err != nil {
		return nil, err
	}
	return p, nil
}

// Read sends the query or scan in p, following pages as configured.
func Read(ctx context.Context, client ddbsdk.AWSDynamoClientV2, p *Params, scan bool, opts ...Option) ([]ddbsdk.Item, ddbsdk.Item, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return read(ctx, client, p, scan, o)
}

func read(ctx context.Context, client ddbsdk.AWSDynamoClientV2, p *Params, scan bool, o *options) ([]ddbsdk.Item, ddbsdk.Item, error) {
	var pager *ddbsdk.Pager
	if scan {
		pager = ddbsdk.NewScanPager(client, p.ToScanInput())
	} else {
		pager = ddbsdk.NewQueryPager(client, p.ToQueryInput())
	}
	items, last, err := pager.All(ctx, o.maxPages())
	if err != nil {
		op := "query"
		if scan {
			op = "scan"
		}
		return nil, nil, clientError(err, op)
	}
	return items, last, nil
}

func (q *QueryOp) params(o *options) (*Params, error) {
	idx, err := q.e.indexes.Get(q.pattern)
	if err != nil {
		return nil, err
	}
	plan, err := q.e.planQuery(idx, q.facets, q.sort)
	if err != nil {
		return nil, err
	}
	return q.e.readParams(plan, o, []expr.Identity{q.e.Identity()}, func(b *expr.Builder) error {
		return q.filters.apply(q.e, b)
	})
}

func (q *QueryOp) Params(opts ...Option) (*Params, error) {
	o, err := q.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	return q.params(o)
}

func (q *QueryOp) Go(ctx context.Context, opts ...Option) (*ListResult, error) {
	return q.e.goRead(ctx, opts, false, q.params)
}

func (e *Entity) goRead(ctx context.Context, opts []Option, scan bool, params func(*options) (*Params, error)) (*ListResult, error) {
	if e.client == nil {
		return nil, e.noClient()
	}
	o, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	p, err := params(o)
	if err != nil {
		return nil, err
	}
	items, last, err := read(ctx, e.client, p, scan, o)
	if err != nil {
		return nil, err
	}
	return e.listResult(items, last, o)
}

// ScanOp reads every item of the entity on the table.
type ScanOp struct {
	e *Entity
	filters
}

// Scan returns an operation reading the whole table, filtered to the items
// of the entity.
func (e *Entity) Scan() *ScanOp {
	return &ScanOp{e: e}
}

func (s *ScanOp) Where(fn expr.WhereFunc) *ScanOp {
	s.where = append(s.where, fn)
	return s
}

func (s *ScanOp) Filter(cb expression.ConditionBuilder) *ScanOp {
	s.cbs = append(s.cbs, cb)
	return s
}

func (s *ScanOp) Named(name string, args ...any) *ScanOp {
	s.named = append(s.named, namedCall{name: name, args: args})
	return s
}

func (e *Entity) scanParams(o *options, configure func(b *expr.Builder) error) (*Params, error) {
	return e.readParams(readPlan{}, o, []expr.Identity{e.Identity()}, func(b *expr.Builder) error {
		if !o.ignoreOwnership {
			main := e.indexes.Main()
			if prefix := main.PK.Prefix(); prefix != "" {
				b.FieldBeginsWith(main.PK.Field(), prefix)
			}
			if main.SK != nil {
				if prefix := main.SK.Prefix(); prefix != "" {
					b.FieldBeginsWith(main.SK.Field(), prefix)
				}
			}
		}
		if configure == nil {
			return nil
		}
		return configure(b)
	})
}

func (s *ScanOp) params(o *options) (*Params, error) {
	return s.e.scanParams(o, func(b *expr.Builder) error {
		return s.filters.apply(s.e, b)
	})
}

func (s *ScanOp) Params(opts ...Option) (*Params, error) {
	o, err := s.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	return s.params(o)
}

func (s *ScanOp) Go(ctx context.Context, opts ...Option) (*ListResult, error) {
	return s.e.goRead(ctx, opts, true, s.params)
}

// FindOp reads items by attribute values, using the index that best matches
// them.
type FindOp struct {
	e      *Entity
	values attr.Item
	// all filters on every supplied attribute, including the key facets.
	all bool
}

// Find returns an operation that queries the index using the most supplied
// attributes and filters on the others. It scans when no index qualifies.
func (e *Entity) Find(values attr.Item) *FindOp {
	return &FindOp{e: e, values: values}
}

// Match is like Find but filters on every supplied attribute.
func (e *Entity) Match(values attr.Item) *FindOp {
	return &FindOp{e: e, values: values, all: true}
}

func (f *FindOp) params(o *options) (*Params, error) {
	var names []string
	for _, name := range f.e.attrs.Names() {
		if v, ok := f.values[name]; ok && v != nil {
			names = append(names, name)
		}
	}
	for name := range f.values {
		if _, ok := f.e.attrs.Lookup(name); !ok {
			return nil, ddberr.New(ddberr.CodeValidation,
				"attribute %q does not exist on entity %q", name, f.e.model.Entity).WithAttributes(name)
		}
	}

	m := f.e.indexes.FindBest(names)
	if !m.Found() {
		return f.e.scanParams(o, func(b *expr.Builder) error {
			b.FilterEquals(names, f.values)
			return nil
		})
	}
	idx, err := f.e.indexes.Get(m.AccessPattern)
	if err != nil {
		return nil, err
	}
	used := make(attr.Item, len(m.Facets))
	for _, fm := range m.Facets {
		used[fm.Name] = f.values[fm.Name]
	}
	plan, err := f.e.planQuery(idx, used, nil)
	if err != nil {
		return nil, err
	}
	rest := names
	if !f.all {
		rest = slices.DeleteFunc(slices.Clone(names), func(n string) bool {
			_, ok := used[n]
			return ok
		})
	}
	return f.e.readParams(plan, o, []expr.Identity{f.e.Identity()}, func(b *expr.Builder) error {
		b.FilterEquals(rest, f.values)
		return nil
	})
}

func (f *FindOp) Params(opts ...Option) (*Params, error) {
	o, err := f.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	return f.params(o)
}

// Go sends a query, or a scan when no index qualified.
func (f *FindOp) Go(ctx context.Context, opts ...Option) (*ListResult, error) {
	if f.e.client == nil {
		return nil, f.e.noClient()
	}
	o, err := f.e.resolve(opts)
	if err != nil {
		return nil, err
	}
	p, err := f.params(o)
	if err != nil {
		return nil, err
	}
	items, last, err := read(ctx, f.e.client, p, p.KeyConditionExpression == "", o)
	if err != nil {
		return nil, err
	}
	return f.e.listResult(items, last, o)
}

// CollectionParams renders a query of collection on the partition of facets,
// filtered to the identities ids and to every where predicate. It is used by
// services to read several entities sharing a partition.
func (e *Entity) CollectionParams(collection string, facets attr.Item, ids []expr.Identity, where []expr.WhereFunc, opts ...Option) (*Params, error) {
	var idx *index.Index
	for _, i := range e.indexes.All() {
		if i.Collection == collection {
			idx = i
			break
		}
	}
	if idx == nil {
		return nil, ddberr.New(ddberr.CodeInvalidIndexName,
			"entity %q is not a member of collection %q", e.model.Entity, collection)
	}
	if idx.SK == nil || idx.SK.IsTemplate() {
		return nil, ddberr.New(ddberr.CodeSchemaValidation,
			"collection %q needs a faceted sort key on access pattern %q", collection, idx.AccessPattern)
	}
	o, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	plan, err := e.planQuery(idx, facets, nil)
	if err != nil {
		return nil, err
	}
	prefix, _, _ := strings.Cut(idx.SK.Prefix(), "#")
	plan.sort = &expr.SortKey{
		Field:  idx.SK.Field(),
		Op:     expr.SortBeginsWith,
		Values: []types.AttributeValue{&types.AttributeValueMemberS{Value: prefix}},
	}
	return e.readParams(plan, o, ids, func(b *expr.Builder) error {
		for _, fn := range where {
			b.Where(fn)
		}
		return nil
	})
}
