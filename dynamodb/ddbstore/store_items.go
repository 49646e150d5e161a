package ddbstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/acksell/facet/dynamodb/ddbstore/exprparse"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

var errConditionFailed = errors.New("condition failed")

// mutation is a conditional write to a single item.
type mutation struct {
	table     *tableSchema
	key       Item
	condition *string
	env       exprparse.Env
	// apply returns the item to store given the current one. A nil result
	// deletes the item. mutations without apply only check the condition.
	apply func(current Item) (Item, error)
}

// prepared is a mutation whose condition held, ready to be written.
type prepared struct {
	m       mutation
	key     []byte
	current Item
	next    Item
}

// prepare reads the current item and evaluates the condition. It returns
// errConditionFailed along with the current item when the condition fails.
func prepare(txn *badger.Txn, m mutation) (prepared, error) {
	key, err := m.table.main.encode(m.key, nil)
	if err != nil {
		return prepared{}, validationError("the provided key element does not match the schema: %v", err)
	}
	current, err := readItem(txn, key)
	if err != nil {
		return prepared{}, err
	}
	p := prepared{m: m, key: key, current: current}
	ok, err := exprparse.EvalCondition(m.condition, m.env, current)
	if err != nil {
		return prepared{}, validationError("invalid ConditionExpression: %v", err)
	}
	if !ok {
		return p, errConditionFailed
	}
	if m.apply != nil {
		if p.next, err = m.apply(current); err != nil {
			return prepared{}, err
		}
	}
	return p, nil
}

func (p prepared) commit(txn *badger.Txn) error {
	if p.m.apply == nil {
		return nil
	}
	return writeItem(txn, p.m.table, p.key, p.current, p.next)
}

// mutate prepares and commits m in its own transaction.
func (s *Store) mutate(m mutation, returnOnFailure types.ReturnValuesOnConditionCheckFailure) (prepared, error) {
	var p prepared
	err := s.update(func(txn *badger.Txn) error {
		var err error
		p, err = prepare(txn, m)
		if errors.Is(err, errConditionFailed) {
			failed := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
			if returnOnFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
				failed.Item = p.current
			}
			return failed
		}
		if err != nil {
			return err
		}
		return p.commit(txn)
	})
	return p, err
}

func putMutation(t *tableSchema, item Item) (mutation, error) {
	if item == nil {
		return mutation{}, validationError("item is required")
	}
	key := t.main.keyOf(item)
	if err := t.validateKey(key); err != nil {
		return mutation{}, err
	}
	return mutation{
		table: t,
		key:   key,
		apply: func(Item) (Item, error) { return exprparse.CloneItem(item), nil },
	}, nil
}

func deleteMutation(t *tableSchema, key Item) (mutation, error) {
	if err := t.validateKey(key); err != nil {
		return mutation{}, err
	}
	return mutation{
		table: t,
		key:   key,
		apply: func(Item) (Item, error) { return nil, nil },
	}, nil
}

func updateMutation(t *tableSchema, key Item, expr *string, env exprparse.Env) (mutation, error) {
	if err := t.validateKey(key); err != nil {
		return mutation{}, err
	}
	var u *exprparse.Update
	if aws.ToString(expr) != "" {
		var err error
		if u, err = exprparse.ParseUpdate(*expr, env); err != nil {
			return mutation{}, validationError("invalid UpdateExpression: %v", err)
		}
		for _, name := range u.Paths() {
			if _, isKey := key[name]; isKey {
				return mutation{}, validationError("cannot update attribute %s: this attribute is part of the key", name)
			}
		}
	}
	return mutation{
		table: t,
		key:   key,
		env:   env,
		apply: func(current Item) (Item, error) {
			base := exprparse.CloneItem(current)
			if base == nil {
				base = exprparse.CloneItem(key)
			}
			if u == nil {
				return base, nil
			}
			next, err := u.Apply(base)
			if err != nil {
				return nil, validationError("invalid UpdateExpression: %v", err)
			}
			return next, nil
		},
	}, nil
}

// GetItem returns the item with the given key.
func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
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
	if err := t.validateKey(params.Key); err != nil {
		return nil, err
	}
	var item Item
	err = s.db.View(func(txn *badger.Txn) error {
		key, err := t.main.encode(params.Key, nil)
		if err != nil {
			return err
		}
		item, err = readItem(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	items, err := exprparse.ApplyAll(params.ProjectionExpression, params.ExpressionAttributeNames, []Item{item})
	if err != nil {
		return nil, validationError("invalid ProjectionExpression: %v", err)
	}
	return &dynamodb.GetItemOutput{Item: items[0]}, nil
}

// PutItem creates or replaces an item.
func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
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
	m, err := putMutation(t, params.Item)
	if err != nil {
		return nil, err
	}
	m.condition = params.ConditionExpression
	m.env = envOf(params.ExpressionAttributeNames, params.ExpressionAttributeValues)

	p, err := s.mutate(m, params.ReturnValuesOnConditionCheckFailure)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.PutItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueNone, "":
	case types.ReturnValueAllOld:
		out.Attributes = p.current
	default:
		return nil, validationError("ReturnValues %s is not supported for PutItem", params.ReturnValues)
	}
	return out, nil
}

// DeleteItem deletes the item with the given key.
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
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
	m, err := deleteMutation(t, params.Key)
	if err != nil {
		return nil, err
	}
	m.condition = params.ConditionExpression
	m.env = envOf(params.ExpressionAttributeNames, params.ExpressionAttributeValues)

	p, err := s.mutate(m, params.ReturnValuesOnConditionCheckFailure)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.DeleteItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueNone, "":
	case types.ReturnValueAllOld:
		out.Attributes = p.current
	default:
		return nil, validationError("ReturnValues %s is not supported for DeleteItem", params.ReturnValues)
	}
	return out, nil
}

// UpdateItem edits the item with the given key, creating it if needed.
func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
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
	env := envOf(params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	m, err := updateMutation(t, params.Key, params.UpdateExpression, env)
	if err != nil {
		return nil, err
	}
	m.condition = params.ConditionExpression

	p, err := s.mutate(m, params.ReturnValuesOnConditionCheckFailure)
	if err != nil {
		return nil, err
	}

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueNone, "":
	case types.ReturnValueAllOld:
		out.Attributes = p.current
	case types.ReturnValueAllNew:
		out.Attributes = p.next
	case types.ReturnValueUpdatedOld, types.ReturnValueUpdatedNew:
		src := p.next
		if params.ReturnValues == types.ReturnValueUpdatedOld {
			src = p.current
		}
		u, err := exprparse.ParseUpdate(aws.ToString(params.UpdateExpression), env)
		if err != nil {
			return out, nil
		}
		out.Attributes = Item{}
		for _, name := range u.Paths() {
			if v, ok := src[name]; ok {
				out.Attributes[name] = v
			}
		}
	default:
		return nil, validationError("unknown ReturnValues %s", params.ReturnValues)
	}
	return out, nil
}
