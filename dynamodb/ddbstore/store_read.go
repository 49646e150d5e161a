package ddbstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/acksell/facet/dynamodb/ddbstore/exprparse"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// readRange describes one pass over a keyspace.
type readRange struct {
	table   *tableSchema
	ks      keyspace
	prefix  []byte
	forward bool
	// limit caps the number of items evaluated, zero means no limit.
	limit int
	start Item
	// match reports whether an item satisfies the key condition. Items
	// that don't match are not counted against limit.
	match  func(Item) bool
	filter exprparse.Condition
}

type readResult struct {
	items   []Item
	scanned int
	last    Item
}

func (s *Store) read(r readRange) (readResult, error) {
	var res readResult
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = !r.forward
		opts.Prefix = r.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := r.prefix
		if !r.forward {
			seek = incrementBytes(r.prefix)
		}
		var start []byte
		if r.start != nil {
			var err error
			if start, err = r.startKey(); err != nil {
				return validationError("invalid ExclusiveStartKey: %v", err)
			}
			seek = start
		}

		var lastEvaluated Item
		for it.Seek(seek); it.ValidForPrefix(r.prefix); it.Next() {
			if start != nil && bytes.Equal(it.Item().Key(), start) {
				continue
			}
			var item Item
			err := it.Item().Value(func(val []byte) error {
				var err error
				item, err = deserializeItem(val)
				return err
			})
			if err != nil {
				return err
			}
			if r.match != nil && !r.match(item) {
				continue
			}
			if lastEvaluated != nil {
				// Another item remains past the limit.
				res.last = r.table.lastEvaluatedKey(r.ks, lastEvaluated)
				return nil
			}
			res.scanned++
			keep, err := r.filter.Eval(item)
			if err != nil {
				return validationError("invalid FilterExpression: %v", err)
			}
			if keep {
				res.items = append(res.items, item)
			}
			if r.limit > 0 && res.scanned == r.limit {
				lastEvaluated = item
			}
		}
		return nil
	})
	return res, err
}

func (r readRange) startKey() ([]byte, error) {
	if r.ks.index == "" {
		return r.ks.encode(r.start, nil)
	}
	tableKey, err := r.table.main.encode(r.start, nil)
	if err != nil {
		return nil, err
	}
	return r.ks.encode(r.start, tableKey)
}

// always is the filter of requests without a FilterExpression.
type always struct{}

func (always) Eval(Item) (bool, error) { return true, nil }

func parseFilter(expr *string, env exprparse.Env) (exprparse.Condition, error) {
	if aws.ToString(expr) == "" {
		return always{}, nil
	}
	c, err := exprparse.ParseCondition(*expr, env)
	if err != nil {
		return nil, validationError("invalid FilterExpression: %v", err)
	}
	return c, nil
}

func readLimit(limit *int32) (int, error) {
	if limit == nil {
		return 0, nil
	}
	if *limit < 1 {
		return 0, validationError("limit must be greater than or equal to 1")
	}
	return int(*limit), nil
}

func checkConsistentRead(consistent *bool, index *string) error {
	if aws.ToBool(consistent) && aws.ToString(index) != "" {
		return validationError("consistent reads are not supported on global secondary indexes")
	}
	return nil
}

// Query returns the items of one partition that match a key condition.
func (s *Store) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if params == nil {
		return nil, fmt.Errorf("params is required")
	}
	if params.KeyConditionExpression == nil {
		return nil, validationError("key condition expression is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	ks, err := t.keyspace(params.IndexName)
	if err != nil {
		return nil, err
	}
	if err := checkConsistentRead(params.ConsistentRead, params.IndexName); err != nil {
		return nil, err
	}
	limit, err := readLimit(params.Limit)
	if err != nil {
		return nil, err
	}

	env := envOf(params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	kc, err := exprparse.ParseKeyCondition(*params.KeyConditionExpression, env, ks.keys.PartitionKey.Name, ks.keys.SortKey.Name)
	if err != nil {
		return nil, validationError("%v", err)
	}
	prefix, err := ks.partitionPrefix(kc.PartitionKey)
	if err != nil {
		return nil, validationError("invalid key condition: %v", err)
	}
	filter, err := parseFilter(params.FilterExpression, env)
	if err != nil {
		return nil, err
	}

	res, err := s.read(readRange{
		table:   t,
		ks:      ks,
		prefix:  prefix,
		forward: aws.ToBool(params.ScanIndexForward) || params.ScanIndexForward == nil,
		limit:   limit,
		start:   params.ExclusiveStartKey,
		match: func(item Item) bool {
			if kc.SortKey == nil {
				return true
			}
			return kc.SortKey.Match(item[ks.keys.SortKey.Name])
		},
		filter: filter,
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.QueryOutput{
		Count:            int32(len(res.items)),
		ScannedCount:     int32(res.scanned),
		LastEvaluatedKey: res.last,
	}
	if params.Select == types.SelectCount {
		return out, nil
	}
	if out.Items, err = exprparse.ApplyAll(params.ProjectionExpression, params.ExpressionAttributeNames, res.items); err != nil {
		return nil, validationError("invalid ProjectionExpression: %v", err)
	}
	return out, nil
}

// Scan returns every item of a table or index, in key order.
func (s *Store) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if params == nil {
		return nil, fmt.Errorf("params is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	ks, err := t.keyspace(params.IndexName)
	if err != nil {
		return nil, err
	}
	if err := checkConsistentRead(params.ConsistentRead, params.IndexName); err != nil {
		return nil, err
	}
	limit, err := readLimit(params.Limit)
	if err != nil {
		return nil, err
	}
	env := envOf(params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	filter, err := parseFilter(params.FilterExpression, env)
	if err != nil {
		return nil, err
	}

	res, err := s.read(readRange{
		table:   t,
		ks:      ks,
		prefix:  ks.prefix(),
		forward: true,
		limit:   limit,
		start:   params.ExclusiveStartKey,
		filter:  filter,
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.ScanOutput{
		Count:            int32(len(res.items)),
		ScannedCount:     int32(res.scanned),
		LastEvaluatedKey: res.last,
	}
	if params.Select == types.SelectCount {
		return out, nil
	}
	if out.Items, err = exprparse.ApplyAll(params.ProjectionExpression, params.ExpressionAttributeNames, res.items); err != nil {
		return nil, validationError("invalid ProjectionExpression: %v", err)
	}
	return out, nil
}
