// Package ddbstore is a DynamoDB-compatible store backed by BadgerDB.
//
// It implements the item, query, batch and transaction calls facet makes,
// evaluating expressions with package exprparse, and is used as a local
// table and as a test double for the entity layer.
package ddbstore

import (
	"errors"
	"fmt"

	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/ddbstore/exprparse"
	"github.com/acksell/facet/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Item is a DynamoDB item.
type Item = map[string]types.AttributeValue

var _ ddbsdk.AWSDynamoClientV2 = (*Store)(nil)

// maxConflictRetries bounds how often a write is retried after a badger
// transaction conflict.
const maxConflictRetries = 5

// Store is a DynamoDB-compatible store backed by BadgerDB.
type Store struct {
	db     *badger.DB
	tables map[string]*tableSchema
	logger *zap.Logger
}

type tableSchema struct {
	definition table.TableDefinition
	main       keyspace
	gsis       []keyspace
}

// keyspace returns the keyspace of the table, or of the named index.
func (t *tableSchema) keyspace(index *string) (keyspace, error) {
	name := aws.ToString(index)
	if name == "" {
		return t.main, nil
	}
	keys, err := t.definition.KeysOf(name)
	if err != nil {
		return keyspace{}, validationError("the table does not have the specified index: %s", name)
	}
	return keyspace{table: t.definition.Name, index: name, keys: keys}, nil
}

// validateKey checks that key holds exactly the primary key attributes.
func (t *tableSchema) validateKey(key Item) error {
	pk, err := t.definition.ExtractPrimaryKey(key)
	if err != nil {
		return validationError("the provided key element does not match the schema: %v", err)
	}
	canonical, err := pk.DDB()
	if err != nil {
		return validationError("the provided key element does not match the schema: %v", err)
	}
	if len(key) != len(canonical) {
		return validationError("the provided key element does not match the schema")
	}
	if _, err := t.main.encode(canonical, nil); err != nil {
		return validationError("the provided key element does not match the schema: %v", err)
	}
	return nil
}

// lastEvaluatedKey returns the table and index key attributes of item.
func (t *tableSchema) lastEvaluatedKey(ks keyspace, item Item) Item {
	out := t.main.keyOf(item)
	for k, v := range ks.keyOf(item) {
		out[k] = v
	}
	return out
}

// StoreOptions configures the BadgerDB store.
type StoreOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger receives store and BadgerDB logs. If nil, logging is disabled.
	Logger *zap.Logger
}

// New opens a store holding the given tables.
func New(opts StoreOptions, defs ...table.TableDefinition) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	logger := opts.Logger
	if logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{logger.Named("badger").Sugar()})
	} else {
		logger = zap.NewNop()
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	tables := make(map[string]*tableSchema, len(defs))
	for _, def := range defs {
		if _, ok := tables[def.Name]; ok {
			return nil, fmt.Errorf("table %q defined twice", def.Name)
		}
		schema := &tableSchema{
			definition: def,
			main:       keyspace{table: def.Name, keys: def.KeyDefinitions},
		}
		for _, gsi := range def.GSIs {
			schema.gsis = append(schema.gsis, keyspace{table: def.Name, index: gsi.Name, keys: gsi.KeyDefinitions})
		}
		tables[def.Name] = schema
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &Store{db: db, tables: tables, logger: logger}, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getTable(tableName *string) (*tableSchema, error) {
	if tableName == nil {
		return nil, validationError("table name is required")
	}
	schema, ok := s.tables[*tableName]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + *tableName)}
	}
	return schema, nil
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent transactions.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("retrying conflicting transaction", zap.Int("attempt", attempt+1))
	}
	return err
}

func readItem(txn *badger.Txn, key []byte) (Item, error) {
	it, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item Item
	err = it.Value(func(val []byte) error {
		item, err = deserializeItem(val)
		return err
	})
	return item, err
}

// writeItem replaces the item stored under key, keeping every index in
// sync. A nil next deletes the item.
func writeItem(txn *badger.Txn, t *tableSchema, key []byte, prev, next Item) error {
	for _, g := range t.gsis {
		if prev == nil {
			break
		}
		if gk, err := g.encode(prev, key); err == nil {
			if err := txn.Delete(gk); err != nil {
				return fmt.Errorf("delete index %s entry: %w", g.index, err)
			}
		}
	}
	if next == nil {
		return txn.Delete(key)
	}
	data, err := serializeItem(next)
	if err != nil {
		return err
	}
	if err := txn.Set(key, data); err != nil {
		return err
	}
	for _, g := range t.gsis {
		// Indexes are sparse: items without the index key are not indexed.
		gk, err := g.encode(next, key)
		if err != nil {
			continue
		}
		if err := txn.Set(gk, data); err != nil {
			return fmt.Errorf("set index %s entry: %w", g.index, err)
		}
	}
	return nil
}

func envOf(names map[string]string, values map[string]types.AttributeValue) exprparse.Env {
	return exprparse.Env{Names: names, Values: values}
}

func validationError(format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
