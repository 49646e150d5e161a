package ddbstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/acksell/facet/dynamodb/ddbstore/exprparse"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const (
	maxBatchGetKeys     = 100
	maxBatchWrites      = 25
	maxTransactionItems = 100
)

// BatchGetItem returns the items with the given keys. Missing items are
// left out of the response, every key is always processed.
func (s *Store) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationError("request items are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var total int
	for _, ka := range params.RequestItems {
		total += len(ka.Keys)
	}
	if total > maxBatchGetKeys {
		return nil, validationError("too many items requested for the BatchGetItem call")
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]Item),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	err := s.db.View(func(txn *badger.Txn) error {
		for name, ka := range params.RequestItems {
			t, err := s.getTable(aws.String(name))
			if err != nil {
				return err
			}
			var found []Item
			for _, key := range ka.Keys {
				if err := t.validateKey(key); err != nil {
					return err
				}
				k, err := t.main.encode(key, nil)
				if err != nil {
					return err
				}
				item, err := readItem(txn, k)
				if err != nil {
					return err
				}
				if item != nil {
					found = append(found, item)
				}
			}
			if found, err = exprparse.ApplyAll(ka.ProjectionExpression, ka.ExpressionAttributeNames, found); err != nil {
				return validationError("invalid ProjectionExpression: %v", err)
			}
			out.Responses[name] = found
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchWriteItem puts and deletes items without conditions, atomically.
func (s *Store) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationError("request items are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var muts []mutation
	for name, reqs := range params.RequestItems {
		t, err := s.getTable(aws.String(name))
		if err != nil {
			return nil, err
		}
		for _, req := range reqs {
			var m mutation
			switch {
			case req.PutRequest != nil:
				m, err = putMutation(t, req.PutRequest.Item)
			case req.DeleteRequest != nil:
				m, err = deleteMutation(t, req.DeleteRequest.Key)
			default:
				err = validationError("write request must contain a put or a delete request")
			}
			if err != nil {
				return nil, err
			}
			muts = append(muts, m)
		}
	}
	if len(muts) > maxBatchWrites {
		return nil, validationError("too many items requested for the BatchWriteItem call")
	}
	if err := checkDistinctKeys(muts); err != nil {
		return nil, validationError("provided list of item keys contains duplicates")
	}

	err := s.update(func(txn *badger.Txn) error {
		for _, m := range muts {
			p, err := prepare(txn, m)
			if err != nil {
				return err
			}
			if err := p.commit(txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}, nil
}

// TransactGetItems reads items from a consistent snapshot.
func (s *Store) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	if params == nil || len(params.TransactItems) == 0 {
		return nil, validationError("transact items are required")
	}
	if len(params.TransactItems) > maxTransactionItems {
		return nil, validationError("member must have length less than or equal to %d", maxTransactionItems)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &dynamodb.TransactGetItemsOutput{Responses: make([]types.ItemResponse, len(params.TransactItems))}
	err := s.db.View(func(txn *badger.Txn) error {
		for i, ti := range params.TransactItems {
			get := ti.Get
			if get == nil {
				return validationError("transact item %d has no Get", i)
			}
			t, err := s.getTable(get.TableName)
			if err != nil {
				return err
			}
			if err := t.validateKey(get.Key); err != nil {
				return err
			}
			k, err := t.main.encode(get.Key, nil)
			if err != nil {
				return err
			}
			item, err := readItem(txn, k)
			if err != nil {
				return err
			}
			if item == nil {
				continue
			}
			items, err := exprparse.ApplyAll(get.ProjectionExpression, get.ExpressionAttributeNames, []Item{item})
			if err != nil {
				return validationError("invalid ProjectionExpression: %v", err)
			}
			out.Responses[i].Item = items[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransactWriteItems applies all writes or none. When a condition fails the
// returned TransactionCanceledException carries one reason per item.
func (s *Store) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if params == nil || len(params.TransactItems) == 0 {
		return nil, validationError("transact items are required")
	}
	if len(params.TransactItems) > maxTransactionItems {
		return nil, validationError("member must have length less than or equal to %d", maxTransactionItems)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	muts := make([]mutation, len(params.TransactItems))
	returnOnFailure := make([]types.ReturnValuesOnConditionCheckFailure, len(params.TransactItems))
	for i, ti := range params.TransactItems {
		m, rv, err := s.transactMutation(ti)
		if err != nil {
			return nil, err
		}
		muts[i], returnOnFailure[i] = m, rv
	}
	if err := checkDistinctKeys(muts); err != nil {
		return nil, validationError("transaction request cannot include multiple operations on one item")
	}

	err := s.update(func(txn *badger.Txn) error {
		ps := make([]prepared, len(muts))
		reasons := make([]types.CancellationReason, len(muts))
		var failed bool
		for i, m := range muts {
			p, err := prepare(txn, m)
			switch {
			case errors.Is(err, errConditionFailed):
				failed = true
				reasons[i] = types.CancellationReason{
					Code:    aws.String("ConditionalCheckFailed"),
					Message: aws.String("The conditional request failed"),
				}
				if returnOnFailure[i] == types.ReturnValuesOnConditionCheckFailureAllOld {
					reasons[i].Item = p.current
				}
			case err != nil:
				return err
			default:
				reasons[i] = types.CancellationReason{Code: aws.String("None")}
			}
			ps[i] = p
		}
		if failed {
			codes := make([]string, len(reasons))
			for i, r := range reasons {
				codes[i] = aws.ToString(r.Code)
			}
			return &types.TransactionCanceledException{
				Message:             aws.String(fmt.Sprintf("Transaction cancelled, please refer cancellation reasons for specific reasons [%s]", strings.Join(codes, ", "))),
				CancellationReasons: reasons,
			}
		}
		for _, p := range ps {
			if err := p.commit(txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (s *Store) transactMutation(ti types.TransactWriteItem) (mutation, types.ReturnValuesOnConditionCheckFailure, error) {
	switch {
	case ti.Put != nil:
		t, err := s.getTable(ti.Put.TableName)
		if err != nil {
			return mutation{}, "", err
		}
		m, err := putMutation(t, ti.Put.Item)
		m.condition = ti.Put.ConditionExpression
		m.env = envOf(ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues)
		return m, ti.Put.ReturnValuesOnConditionCheckFailure, err
	case ti.Delete != nil:
		t, err := s.getTable(ti.Delete.TableName)
		if err != nil {
			return mutation{}, "", err
		}
		m, err := deleteMutation(t, ti.Delete.Key)
		m.condition = ti.Delete.ConditionExpression
		m.env = envOf(ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues)
		return m, ti.Delete.ReturnValuesOnConditionCheckFailure, err
	case ti.Update != nil:
		t, err := s.getTable(ti.Update.TableName)
		if err != nil {
			return mutation{}, "", err
		}
		env := envOf(ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
		m, err := updateMutation(t, ti.Update.Key, ti.Update.UpdateExpression, env)
		m.condition = ti.Update.ConditionExpression
		return m, ti.Update.ReturnValuesOnConditionCheckFailure, err
	case ti.ConditionCheck != nil:
		t, err := s.getTable(ti.ConditionCheck.TableName)
		if err != nil {
			return mutation{}, "", err
		}
		if err := t.validateKey(ti.ConditionCheck.Key); err != nil {
			return mutation{}, "", err
		}
		if aws.ToString(ti.ConditionCheck.ConditionExpression) == "" {
			return mutation{}, "", validationError("condition check requires a ConditionExpression")
		}
		return mutation{
			table:     t,
			key:       ti.ConditionCheck.Key,
			condition: ti.ConditionCheck.ConditionExpression,
			env:       envOf(ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues),
		}, ti.ConditionCheck.ReturnValuesOnConditionCheckFailure, nil
	}
	return mutation{}, "", validationError("transact item must contain exactly one action")
}

// checkDistinctKeys fails when two mutations address the same item.
func checkDistinctKeys(muts []mutation) error {
	seen := make(map[string]bool, len(muts))
	for _, m := range muts {
		k, err := m.table.main.encode(m.key, nil)
		if err != nil {
			return err
		}
		if seen[string(k)] {
			return fmt.Errorf("duplicate key")
		}
		seen[string(k)] = true
	}
	return nil
}
