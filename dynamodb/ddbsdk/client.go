package ddbsdk

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// Client decorates an AWSDynamoClientV2 with request logging and metrics.
type Client struct {
	awsddb  AWSDynamoClientV2
	logger  *zap.Logger
	metrics *Metrics
}

var _ AWSDynamoClientV2 = &Client{}

type ClientOption func(*Client)

// WithLogger logs every request at debug level.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records request counts and latencies into m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

func New(awsddb AWSDynamoClientV2, opts ...ClientOption) *Client {
	c := &Client{
		awsddb: awsddb,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Logger returns the logger requests are logged to.
func (c *Client) Logger() *zap.Logger {
	return c.logger
}

// Metrics returns the configured metrics, or nil.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

func instrument[T any](ctx context.Context, c *Client, op, table string, call func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := call(ctx)
	took := time.Since(start)
	c.metrics.observe(op, took.Seconds(), err)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("table", table),
		zap.Duration("took", took),
	}
	if err != nil {
		c.logger.Debug("dynamodb request failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Debug("dynamodb request", fields...)
	}
	return out, err
}

func tables[V any](m map[string]V) string {
	return strings.Join(slices.Sorted(maps.Keys(m)), ",")
}

func (c *Client) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return instrument(ctx, c, "BatchGetItem", tables(params.RequestItems), func(ctx context.Context) (*dynamodb.BatchGetItemOutput, error) {
		return c.awsddb.BatchGetItem(ctx, params, optFns...)
	})
}

func (c *Client) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return instrument(ctx, c, "BatchWriteItem", tables(params.RequestItems), func(ctx context.Context) (*dynamodb.BatchWriteItemOutput, error) {
		return c.awsddb.BatchWriteItem(ctx, params, optFns...)
	})
}

func (c *Client) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return instrument(ctx, c, "DeleteItem", aws.ToString(params.TableName), func(ctx context.Context) (*dynamodb.DeleteItemOutput, error) {
		return c.awsddb.DeleteItem(ctx, params, optFns...)
	})
}

func (c *Client) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return instrument(ctx, c, "GetItem", aws.ToString(params.TableName), func(ctx context.Context) (*dynamodb.GetItemOutput, error) {
		return c.awsddb.GetItem(ctx, params, optFns...)
	})
}

func (c *Client) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return instrument(ctx, c, "PutItem", aws.ToString(params.TableName), func(ctx context.Context) (*dynamodb.PutItemOutput, error) {
		return c.awsddb.PutItem(ctx, params, optFns...)
	})
}

func (c *Client) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	return instrument(ctx, c, "TransactGetItems", "", func(ctx context.Context) (*dynamodb.TransactGetItemsOutput, error) {
		return c.awsddb.TransactGetItems(ctx, params, optFns...)
	})
}

func (c *Client) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return instrument(ctx, c, "TransactWriteItems", "", func(ctx context.Context) (*dynamodb.TransactWriteItemsOutput, error) {
		return c.awsddb.TransactWriteItems(ctx, params, optFns...)
	})
}

func (c *Client) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return instrument(ctx, c, "Query", aws.ToString(params.TableName), func(ctx context.Context) (*dynamodb.QueryOutput, error) {
		return c.awsddb.Query(ctx, params, optFns...)
	})
}

func (c *Client) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return instrument(ctx, c, "Scan", aws.ToString(params.TableName), func(ctx context.Context) (*dynamodb.ScanOutput, error) {
		return c.awsddb.Scan(ctx, params, optFns...)
	})
}

func (c *Client) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return instrument(ctx, c, "UpdateItem", aws.ToString(params.TableName), func(ctx context.Context) (*dynamodb.UpdateItemOutput, error) {
		return c.awsddb.UpdateItem(ctx, params, optFns...)
	})
}
