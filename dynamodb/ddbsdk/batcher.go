package ddbsdk

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DynamoDB request limits.
const (
	MaxBatchWrite = 25
	MaxBatchGet   = 100
)

const defaultMaxRetries = 8

// ErrInvalidConcurrency is returned by [NewBatcher] for a concurrency below one.
var ErrInvalidConcurrency = errors.New("ddbsdk: batch concurrency must be at least 1")

// Batcher splits batch requests into chunks within the DynamoDB limits,
// sends up to the configured number of chunks at once and retries
// unprocessed items with backoff.
type Batcher struct {
	awsddb  AWSDynamoClientV2
	opts    batchOpts
	logger  *zap.Logger
	metrics *Metrics
}

// NewBatcher creates a Batcher. When ddb is a [Client] its logger and
// metrics are used unless overridden with [WithBatchLogger].
func NewBatcher(ddb AWSDynamoClientV2, opts ...BatchOption) (*Batcher, error) {
	b := &Batcher{
		awsddb: ddb,
		logger: zap.NewNop(),
		opts: batchOpts{
			concurrency: 1,
			maxRetries:  defaultMaxRetries,
			backoff:     DefaultBackoff,
		},
	}
	if c, ok := ddb.(*Client); ok {
		b.logger = c.logger
		b.metrics = c.metrics
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	if b.opts.concurrency < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidConcurrency, b.opts.concurrency)
	}
	if b.opts.maxRetries < 0 {
		return nil, fmt.Errorf("ddbsdk: max retries must not be negative, got %d", b.opts.maxRetries)
	}
	if b.opts.logger != nil {
		b.logger = b.opts.logger
	}
	return b, nil
}

// WriteResult is the outcome of [Batcher.Write].
type WriteResult struct {
	// Unprocessed holds the requests still unprocessed after the last retry.
	Unprocessed []types.WriteRequest
	// Retries counts retried chunk requests.
	Retries int
}

// Done returns true if all items were successfully processed.
func (r WriteResult) Done() bool {
	return len(r.Unprocessed) == 0
}

// GetResult is the outcome of [Batcher.Get].
type GetResult struct {
	Items []Item
	// Unprocessed holds the keys still unprocessed after the last retry.
	Unprocessed []Item
	Retries     int
}

// Write sends reqs to table in chunks of [MaxBatchWrite].
func (b *Batcher) Write(ctx context.Context, table string, reqs []types.WriteRequest) (WriteResult, error) {
	var (
		mu  sync.Mutex
		res WriteResult
	)
	err := b.run(ctx, len(reqs), MaxBatchWrite, func(ctx context.Context, lo, hi int) error {
		unprocessed, retries, err := b.writeChunk(ctx, table, reqs[lo:hi])
		mu.Lock()
		defer mu.Unlock()
		res.Unprocessed = append(res.Unprocessed, unprocessed...)
		res.Retries += retries
		return err
	})
	b.metrics.unprocessed("BatchWriteItem", len(res.Unprocessed))
	return res, err
}

func (b *Batcher) writeChunk(ctx context.Context, table string, pending []types.WriteRequest) ([]types.WriteRequest, int, error) {
	for attempt := 0; ; attempt++ {
		out, err := b.awsddb.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: pending},
		})
		if err != nil {
			return pending, attempt, fmt.Errorf("batch write to %q: %w", table, err)
		}
		pending = out.UnprocessedItems[table]
		if len(pending) == 0 {
			return nil, attempt, nil
		}
		if attempt >= b.opts.maxRetries {
			b.logger.Warn("batch write retries exhausted",
				zap.String("table", table),
				zap.Int("unprocessed", len(pending)),
				zap.Int("retries", attempt))
			return pending, attempt, nil
		}
		b.logger.Warn("retrying unprocessed batch write items",
			zap.String("table", table),
			zap.Int("unprocessed", len(pending)),
			zap.Int("attempt", attempt+1))
		b.metrics.retried("BatchWriteItem")
		if err := sleep(ctx, b.opts.backoff(attempt)); err != nil {
			return pending, attempt, err
		}
	}
}

// Get reads keys from table in chunks of [MaxBatchGet]. Projection and
// consistency are taken from tmpl, whose Keys are ignored.
func (b *Batcher) Get(ctx context.Context, table string, keys []Item, tmpl types.KeysAndAttributes) (GetResult, error) {
	var (
		mu  sync.Mutex
		res GetResult
	)
	err := b.run(ctx, len(keys), MaxBatchGet, func(ctx context.Context, lo, hi int) error {
		items, unprocessed, retries, err := b.getChunk(ctx, table, keys[lo:hi], tmpl)
		mu.Lock()
		defer mu.Unlock()
		res.Items = append(res.Items, items...)
		res.Unprocessed = append(res.Unprocessed, unprocessed...)
		res.Retries += retries
		return err
	})
	b.metrics.unprocessed("BatchGetItem", len(res.Unprocessed))
	return res, err
}

func (b *Batcher) getChunk(ctx context.Context, table string, pending []Item, tmpl types.KeysAndAttributes) ([]Item, []Item, int, error) {
	var items []Item
	for attempt := 0; ; attempt++ {
		req := tmpl
		req.Keys = pending
		out, err := b.awsddb.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{table: req},
		})
		if err != nil {
			return items, pending, attempt, fmt.Errorf("batch get from %q: %w", table, err)
		}
		items = append(items, out.Responses[table]...)
		pending = out.UnprocessedKeys[table].Keys
		if len(pending) == 0 {
			return items, nil, attempt, nil
		}
		if attempt >= b.opts.maxRetries {
			b.logger.Warn("batch get retries exhausted",
				zap.String("table", table),
				zap.Int("unprocessed", len(pending)),
				zap.Int("retries", attempt))
			return items, pending, attempt, nil
		}
		b.logger.Warn("retrying unprocessed batch get keys",
			zap.String("table", table),
			zap.Int("unprocessed", len(pending)),
			zap.Int("attempt", attempt+1))
		b.metrics.retried("BatchGetItem")
		if err := sleep(ctx, b.opts.backoff(attempt)); err != nil {
			return items, pending, attempt, err
		}
	}
}

// run calls fn for every [lo, hi) chunk of n elements, at most
// concurrency at a time.
func (b *Batcher) run(ctx context.Context, n, size int, fn func(ctx context.Context, lo, hi int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.concurrency)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		g.Go(func() error {
			return fn(ctx, lo, hi)
		})
	}
	return g.Wait()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type BatchOption func(*batchOpts)

// BackoffFunc returns the duration to wait before retry attempt n.
type BackoffFunc func(attempt int) time.Duration

// WithConcurrency bounds the number of chunk requests in flight.
func WithConcurrency(n int) BatchOption {
	return func(o *batchOpts) {
		o.concurrency = n
	}
}

// WithMaxRetries sets the maximum number of retries per chunk.
func WithMaxRetries(n int) BatchOption {
	return func(o *batchOpts) {
		o.maxRetries = n
	}
}

// WithBackoff sets a custom backoff function.
func WithBackoff(fn BackoffFunc) BatchOption {
	return func(o *batchOpts) {
		o.backoff = fn
	}
}

// WithBatchLogger overrides the logger retries are reported to.
func WithBatchLogger(l *zap.Logger) BatchOption {
	return func(o *batchOpts) {
		o.logger = l
	}
}

// ExponentialBackoff returns a capped exponential backoff with full jitter.
// Wait time is: rand(0, min(cap, base * multiplier^attempt))
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
func ExponentialBackoff(base time.Duration, multiplier float64, cap time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		factor := 1.0
		for range attempt {
			factor *= multiplier
		}
		backoff := min(time.Duration(float64(base)*factor), cap)
		if backoff <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(backoff)))
	}
}

// DefaultBackoff is [ExponentialBackoff] with 50ms base, 2x multiplier, 5s cap.
var DefaultBackoff = ExponentialBackoff(50*time.Millisecond, 2.0, 5*time.Second)

type batchOpts struct {
	concurrency int
	maxRetries  int
	backoff     BackoffFunc
	logger      *zap.Logger
}
