package entity

import (
	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/expr"
)

// Order is the sort key order of query results.
type Order int

const (
	Asc Order = iota
	Desc
)

// Option configures a single operation.
type Option func(*options)

type options struct {
	table           string
	limit           int32
	pages           int
	allPages        bool
	cursor          string
	order           Order
	consistent      bool
	attributes      []string
	ignoreOwnership bool
	raw             bool
	concurrency     *int
}

// WithTable overrides the table name of the entity.
func WithTable(name string) Option {
	return func(o *options) {
		o.table = name
	}
}

// WithLimit sets the Limit of each request.
func WithLimit(n int32) Option {
	return func(o *options) {
		o.limit = n
	}
}

// WithPages sets how many pages a read fetches. The default is one.
func WithPages(n int) Option {
	return func(o *options) {
		o.pages = n
	}
}

// AllPages makes a read fetch pages until the results are exhausted.
func AllPages() Option {
	return func(o *options) {
		o.allPages = true
	}
}

// WithCursor resumes a read from a cursor returned by a previous one.
func WithCursor(cursor string) Option {
	return func(o *options) {
		o.cursor = cursor
	}
}

// WithOrder sets the sort key order of query results.
func WithOrder(order Order) Option {
	return func(o *options) {
		o.order = order
	}
}

// Consistent requests strongly consistent reads.
func Consistent() Option {
	return func(o *options) {
		o.consistent = true
	}
}

// WithAttributes limits the returned attributes.
func WithAttributes(names ...string) Option {
	return func(o *options) {
		o.attributes = append(o.attributes, names...)
	}
}

// IgnoreOwnership skips the identity filters on reads, returning items
// written by other entities too.
func IgnoreOwnership() Option {
	return func(o *options) {
		o.ignoreOwnership = true
	}
}

// Raw returns the stored items without formatting.
func Raw() Option {
	return func(o *options) {
		o.raw = true
	}
}

// WithConcurrency bounds the in-flight requests of batch operations.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = &n
	}
}

func (e *Entity) resolve(opts []Option) (*options, error) {
	o := &options{table: e.table}
	for _, opt := range opts {
		opt(o)
	}
	if o.table == "" {
		return nil, ddberr.New(ddberr.CodeInvalidOptions, "entity %q has no table name, see WithTable", e.model.Entity)
	}
	if o.limit < 0 {
		return nil, ddberr.New(ddberr.CodeInvalidOptions, "option \"limit\" received %d, expected a positive number", o.limit)
	}
	if o.pages < 0 {
		return nil, ddberr.New(ddberr.CodeInvalidOptions, "option \"pages\" received %d, expected a positive number", o.pages)
	}
	if o.order != Asc && o.order != Desc {
		return nil, ddberr.New(ddberr.CodeInvalidOptions, "option \"order\" received %d, expected Asc or Desc", o.order)
	}
	for _, name := range o.attributes {
		if _, ok := e.attrs.Lookup(name); !ok {
			return nil, ddberr.New(ddberr.CodeInvalidOptions,
				"option \"attributes\" received unknown attribute %q", name).WithAttributes(name)
		}
	}
	return o, nil
}

// maxPages returns the page bound for ddbsdk.Pager.All.
func (o *options) maxPages() int {
	switch {
	case o.allPages:
		return 0
	case o.pages == 0:
		return 1
	}
	return o.pages
}

// project adds the projection of the requested attributes. Identity fields
// are always projected so ownership can be checked.
func (e *Entity) project(b *expr.Builder, o *options) {
	if len(o.attributes) == 0 {
		return
	}
	for _, name := range o.attributes {
		a, _ := e.attrs.Lookup(name)
		b.Project(a.FieldName())
	}
	b.Project(expr.FieldEntity, expr.FieldVersion)
}
