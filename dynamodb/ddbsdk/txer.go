package ddbsdk

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MaxTransactItems is the DynamoDB limit of actions per transaction.
const MaxTransactItems = 100

var (
	ErrTooManyActions = fmt.Errorf("ddbsdk: a transaction holds at most %d actions", MaxTransactItems)
	ErrDuplicateItem  = errors.New("ddbsdk: an action already exists for the item")
)

type TxOption func(*txOpts)

// WithIdempotencyToken sets the ClientRequestToken of the transaction.
func WithIdempotencyToken(token string) TxOption {
	return func(o *txOpts) {
		o.idempotencyToken = token
	}
}

type txOpts struct {
	idempotencyToken string
}

// Txer collects actions and commits them in one TransactWriteItems call.
type Txer struct {
	awsddb AWSDynamoClientV2
	opts   txOpts

	// errors from AddAction are also returned by Commit.
	errs  []error
	items []types.TransactWriteItem
	keys  []txKey
}

type txKey struct {
	table string
	key   Item
}

func NewTxer(ddb AWSDynamoClientV2, opts ...TxOption) *Txer {
	tx := &Txer{awsddb: ddb}
	for _, opt := range opts {
		opt(&tx.opts)
	}
	return tx
}

// Len returns the number of staged actions.
func (tx *Txer) Len() int {
	return len(tx.items)
}

// AddAction stages the action for the commit. Handling the error is
// optional, Commit returns it as well.
func (tx *Txer) AddAction(a Action) error {
	err := tx.add(a)
	if err != nil {
		tx.errs = append(tx.errs, err)
	}
	return err
}

func (tx *Txer) add(a Action) error {
	if len(tx.items) >= MaxTransactItems {
		return ErrTooManyActions
	}
	key, err := a.Key()
	if err != nil {
		return fmt.Errorf("failed to get primary key: %w", err)
	}
	table := a.TableName()
	if table == "" {
		return fmt.Errorf("missing table name for action %T", a)
	}
	for _, k := range tx.keys {
		if k.table == table && keysEqual(k.key, key) {
			return fmt.Errorf("%w in table %q", ErrDuplicateItem, table)
		}
	}
	item, err := a.TransactWriteItem()
	if err != nil {
		return err
	}
	tx.items = append(tx.items, item)
	tx.keys = append(tx.keys, txKey{table: table, key: key})
	return nil
}

// Commit writes the staged actions. A single Put, Update or Delete is sent
// as a plain request instead of a transaction.
func (tx *Txer) Commit(ctx context.Context) error {
	if err := errors.Join(tx.errs...); err != nil {
		return err
	}
	switch len(tx.items) {
	case 0:
		return nil
	case 1:
		if done, err := tx.commitSingle(ctx, tx.items[0]); done {
			return err
		}
	}
	in := &dynamodb.TransactWriteItemsInput{TransactItems: tx.items}
	if tx.opts.idempotencyToken != "" {
		in.ClientRequestToken = aws.String(tx.opts.idempotencyToken)
	}
	if _, err := tx.awsddb.TransactWriteItems(ctx, in); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (tx *Txer) commitSingle(ctx context.Context, item types.TransactWriteItem) (bool, error) {
	switch {
	case item.Put != nil:
		p := item.Put
		_, err := tx.awsddb.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 p.TableName,
			Item:                      p.Item,
			ConditionExpression:       p.ConditionExpression,
			ExpressionAttributeNames:  p.ExpressionAttributeNames,
			ExpressionAttributeValues: p.ExpressionAttributeValues,
		})
		return true, err
	case item.Update != nil:
		u := item.Update
		_, err := tx.awsddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 u.TableName,
			Key:                       u.Key,
			UpdateExpression:          u.UpdateExpression,
			ConditionExpression:       u.ConditionExpression,
			ExpressionAttributeNames:  u.ExpressionAttributeNames,
			ExpressionAttributeValues: u.ExpressionAttributeValues,
		})
		return true, err
	case item.Delete != nil:
		d := item.Delete
		_, err := tx.awsddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 d.TableName,
			Key:                       d.Key,
			ConditionExpression:       d.ConditionExpression,
			ExpressionAttributeNames:  d.ExpressionAttributeNames,
			ExpressionAttributeValues: d.ExpressionAttributeValues,
		})
		return true, err
	}
	return false, nil
}

// keysEqual checks if two key maps have the same key attribute values.
func keysEqual(a, b Item) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !attributeValuesEqual(av, bv) {
			return false
		}
	}
	return true
}

func attributeValuesEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		if bv, ok := b.(*types.AttributeValueMemberS); ok {
			return av.Value == bv.Value
		}
	case *types.AttributeValueMemberN:
		if bv, ok := b.(*types.AttributeValueMemberN); ok {
			return av.Value == bv.Value
		}
	case *types.AttributeValueMemberB:
		if bv, ok := b.(*types.AttributeValueMemberB); ok {
			return string(av.Value) == string(bv.Value)
		}
	}
	return false
}
