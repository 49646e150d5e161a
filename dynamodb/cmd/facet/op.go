package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/acksell/facet/dynamodb/attr"
	"github.com/acksell/facet/dynamodb/entity"
	"github.com/acksell/facet/dynamodb/schema"
)

// opFlags are shared by params and run.
type opFlags struct {
	schema          string
	entity          string
	op              string
	index           string
	values          string
	sort            string
	sortValues      string
	set             string
	add             string
	remove          string
	filter          string
	filterArgs      string
	limit           int
	pages           int
	all             bool
	cursor          string
	desc            bool
	consistent      bool
	ignoreOwnership bool
	raw             bool
	table           string
	verbose         bool
}

func (f *opFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.schema, "schema", "", "path to the schema document (default: facet.yaml or discovered facet.schema.yaml)")
	fs.StringVar(&f.entity, "entity", "", "entity name (required if the schema has more than one)")
	fs.StringVar(&f.op, "op", "get", "operation: get, put, create, update, patch, delete, query, scan, find, match")
	fs.StringVar(&f.index, "index", "", "access pattern of a query")
	fs.StringVar(&f.values, "values", "{}", "JSON object with the key, item or facets of the operation")
	fs.StringVar(&f.sort, "sort", "", "sort key condition of a query: begins, between, gt, gte, lt, lte")
	fs.StringVar(&f.sortValues, "sort-values", "", "JSON object with sort key facets, or an array of two for between")
	fs.StringVar(&f.set, "set", "", "JSON object of attributes to set on update or patch")
	fs.StringVar(&f.add, "add", "", "JSON object of attributes to add to on update or patch")
	fs.StringVar(&f.remove, "remove", "", "comma separated attributes to remove on update or patch")
	fs.StringVar(&f.filter, "filter", "", "named filter of a query or scan")
	fs.StringVar(&f.filterArgs, "filter-args", "", "JSON array of named filter arguments")
	fs.IntVar(&f.limit, "limit", 0, "maximum items evaluated per page")
	fs.IntVar(&f.pages, "pages", 0, "maximum pages to read")
	fs.BoolVar(&f.all, "all", false, "read all pages")
	fs.StringVar(&f.cursor, "cursor", "", "cursor of a previous read")
	fs.BoolVar(&f.desc, "desc", false, "descending sort key order")
	fs.BoolVar(&f.consistent, "consistent", false, "strongly consistent read")
	fs.BoolVar(&f.ignoreOwnership, "ignore-ownership", false, "return items of other entities")
	fs.BoolVar(&f.raw, "raw", false, "return stored items unformatted")
	fs.StringVar(&f.table, "table", "", "table name override")
	fs.BoolVar(&f.verbose, "verbose", false, "development logging")
}

func (f *opFlags) options() []entity.Option {
	var opts []entity.Option
	if f.table != "" {
		opts = append(opts, entity.WithTable(f.table))
	}
	if f.limit > 0 {
		opts = append(opts, entity.WithLimit(int32(f.limit)))
	}
	if f.pages > 0 {
		opts = append(opts, entity.WithPages(f.pages))
	}
	if f.all {
		opts = append(opts, entity.AllPages())
	}
	if f.cursor != "" {
		opts = append(opts, entity.WithCursor(f.cursor))
	}
	if f.desc {
		opts = append(opts, entity.WithOrder(entity.Desc))
	}
	if f.consistent {
		opts = append(opts, entity.Consistent())
	}
	if f.ignoreOwnership {
		opts = append(opts, entity.IgnoreOwnership())
	}
	if f.raw {
		opts = append(opts, entity.Raw())
	}
	return opts
}

// loadDocument resolves the schema path from the flag, the config or
// discovery, in that order.
func loadDocument(path string, cfg Config) (*schema.Document, error) {
	if path == "" {
		path = cfg.Schema
	}
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if path, err = DiscoverSchema(wd); err != nil {
			return nil, err
		}
	}
	return schema.Load(path)
}

// entityName picks the entity of the document the flags name.
func entityName(doc *schema.Document, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if len(doc.Entities) == 1 {
		return doc.Entities[0].Model.Entity, nil
	}
	names := make([]string, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		names = append(names, e.Model.Entity)
	}
	return "", fmt.Errorf("--entity is required, one of: %s", strings.Join(names, ", "))
}

func decodeItem(flagName, s string) (attr.Item, error) {
	if s == "" {
		return attr.Item{}, nil
	}
	var item attr.Item
	if err := json.Unmarshal([]byte(s), &item); err != nil {
		return nil, fmt.Errorf("--%s: %w", flagName, err)
	}
	if item == nil {
		item = attr.Item{}
	}
	return item, nil
}

// operation is the subset of the entity operations the command runs.
type operation interface {
	params(opts []entity.Option) (*entity.Params, error)
	run(ctx context.Context, opts []entity.Option) (any, error)
}

type itemOperation struct {
	paramsFn func(...entity.Option) (*entity.Params, error)
	goFn     func(context.Context, ...entity.Option) (*entity.ItemResult, error)
}

func (o itemOperation) params(opts []entity.Option) (*entity.Params, error) {
	return o.paramsFn(opts...)
}

func (o itemOperation) run(ctx context.Context, opts []entity.Option) (any, error) {
	return o.goFn(ctx, opts...)
}

type listOperation struct {
	paramsFn func(...entity.Option) (*entity.Params, error)
	goFn     func(context.Context, ...entity.Option) (*entity.ListResult, error)
}

func (o listOperation) params(opts []entity.Option) (*entity.Params, error) {
	return o.paramsFn(opts...)
}

func (o listOperation) run(ctx context.Context, opts []entity.Option) (any, error) {
	return o.goFn(ctx, opts...)
}

// buildOperation turns the flags into an operation of e.
func buildOperation(e *entity.Entity, f *opFlags) (operation, error) {
	values, err := decodeItem("values", f.values)
	if err != nil {
		return nil, err
	}

	switch f.op {
	case "get":
		op := e.Get(values)
		return itemOperation{op.Params, op.Go}, nil
	case "put":
		op := e.Put(values)
		return itemOperation{op.Params, op.Go}, nil
	case "create":
		op := e.Create(values)
		return itemOperation{op.Params, op.Go}, nil
	case "delete":
		op := e.Delete(values)
		return itemOperation{op.Params, op.Go}, nil
	case "update", "patch":
		return buildUpdate(e, f, values)
	case "query":
		return buildQuery(e, f, values)
	case "scan":
		op := e.Scan()
		if f.filter != "" {
			args, err := filterArgs(f.filterArgs)
			if err != nil {
				return nil, err
			}
			op.Named(f.filter, args...)
		}
		return listOperation{op.Params, op.Go}, nil
	case "find":
		op := e.Find(values)
		return listOperation{op.Params, op.Go}, nil
	case "match":
		op := e.Match(values)
		return listOperation{op.Params, op.Go}, nil
	}
	return nil, fmt.Errorf("unknown operation %q", f.op)
}

func buildUpdate(e *entity.Entity, f *opFlags, key attr.Item) (operation, error) {
	op := e.Update(key)
	if f.op == "patch" {
		op = e.Patch(key)
	}
	set, err := decodeItem("set", f.set)
	if err != nil {
		return nil, err
	}
	add, err := decodeItem("add", f.add)
	if err != nil {
		return nil, err
	}
	if len(set) > 0 {
		op.Set(set)
	}
	if len(add) > 0 {
		op.Add(add)
	}
	if f.remove != "" {
		op.Remove(strings.Split(f.remove, ",")...)
	}
	return itemOperation{op.Params, op.Go}, nil
}

func buildQuery(e *entity.Entity, f *opFlags, facets attr.Item) (operation, error) {
	if f.index == "" {
		return nil, errors.New("--index is required for query")
	}
	op := e.Query(f.index, facets)

	switch f.sort {
	case "":
	case "between":
		var bounds []attr.Item
		if err := json.Unmarshal([]byte(f.sortValues), &bounds); err != nil || len(bounds) != 2 {
			return nil, errors.New("--sort-values: between takes a JSON array of two objects")
		}
		op.Between(bounds[0], bounds[1])
	default:
		sv, err := decodeItem("sort-values", f.sortValues)
		if err != nil {
			return nil, err
		}
		conds := map[string]func(attr.Item) *entity.QueryOp{
			"begins": op.Begins,
			"gt":     op.Gt,
			"gte":    op.Gte,
			"lt":     op.Lt,
			"lte":    op.Lte,
		}
		cond, ok := conds[f.sort]
		if !ok {
			return nil, fmt.Errorf("unknown sort condition %q", f.sort)
		}
		cond(sv)
	}

	if f.filter != "" {
		args, err := filterArgs(f.filterArgs)
		if err != nil {
			return nil, err
		}
		op.Named(f.filter, args...)
	}
	return listOperation{op.Params, op.Go}, nil
}

func filterArgs(s string) ([]any, error) {
	if s == "" {
		return nil, nil
	}
	var args []any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("--filter-args: %w", err)
	}
	return args, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
