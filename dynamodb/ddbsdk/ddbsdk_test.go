package ddbsdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeDDB implements the calls a test sets, and panics on the others.
type fakeDDB struct {
	AWSDynamoClientV2

	mu    sync.Mutex
	calls []string

	batchWrite func(*dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)
	batchGet   func(*dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error)
	query      func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	getItem    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
}

func (f *fakeDDB) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeDDB) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.record("BatchWriteItem")
	return f.batchWrite(in)
}

func (f *fakeDDB) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.record("BatchGetItem")
	return f.batchGet(in)
}

func (f *fakeDDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.record("Query")
	return f.query(in)
}

func (f *fakeDDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.record("GetItem")
	return f.getItem(in)
}

func (f *fakeDDB) PutItem(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.record("PutItem")
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.record(fmt.Sprintf("TransactWriteItems:%d:%s", len(in.TransactItems), aws.ToString(in.ClientRequestToken)))
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func putRequests(n int) []types.WriteRequest {
	reqs := make([]types.WriteRequest, n)
	for i := range reqs {
		reqs[i] = types.WriteRequest{PutRequest: &types.PutRequest{Item: Item{
			"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("item#%d", i)},
		}}}
	}
	return reqs
}

func noBackoff(int) time.Duration { return 0 }

func TestBatcherWriteChunks(t *testing.T) {
	var sizes []int
	var mu sync.Mutex
	f := &fakeDDB{batchWrite: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(in.RequestItems["tbl"]))
		return &dynamodb.BatchWriteItemOutput{}, nil
	}}
	b, err := NewBatcher(f)
	require.NoError(t, err)

	res, err := b.Write(context.Background(), "tbl", putRequests(60))
	require.NoError(t, err)
	assert.True(t, res.Done())
	assert.Equal(t, []int{25, 25, 10}, sizes)
}

func TestBatcherWriteRetriesUnprocessed(t *testing.T) {
	var attempt atomic.Int32
	f := &fakeDDB{batchWrite: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		if attempt.Add(1) == 1 {
			return &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{
				"tbl": in.RequestItems["tbl"][:2],
			}}, nil
		}
		return &dynamodb.BatchWriteItemOutput{}, nil
	}}
	core, logs := observer.New(zap.WarnLevel)
	b, err := NewBatcher(f, WithBackoff(noBackoff), WithBatchLogger(zap.New(core)))
	require.NoError(t, err)

	res, err := b.Write(context.Background(), "tbl", putRequests(5))
	require.NoError(t, err)
	assert.True(t, res.Done())
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, 1, logs.FilterMessage("retrying unprocessed batch write items").Len())
}

func TestBatcherWriteMaxRetries(t *testing.T) {
	f := &fakeDDB{batchWrite: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		return &dynamodb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}}
	b, err := NewBatcher(f, WithBackoff(noBackoff), WithMaxRetries(2))
	require.NoError(t, err)

	res, err := b.Write(context.Background(), "tbl", putRequests(3))
	require.NoError(t, err)
	assert.False(t, res.Done())
	assert.Len(t, res.Unprocessed, 3)
	assert.Equal(t, 2, res.Retries)
	assert.Len(t, f.calls, 3)
}

func TestBatcherWriteError(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeDDB{batchWrite: func(*dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		return nil, boom
	}}
	b, err := NewBatcher(f)
	require.NoError(t, err)

	_, err = b.Write(context.Background(), "tbl", putRequests(1))
	require.ErrorIs(t, err, boom)
}

func TestBatcherCancelled(t *testing.T) {
	f := &fakeDDB{batchWrite: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		return &dynamodb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}}
	b, err := NewBatcher(f, WithBackoff(func(int) time.Duration { return time.Hour }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := b.Write(ctx, "tbl", putRequests(2))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Unprocessed, 2)
}

func TestBatcherConcurrency(t *testing.T) {
	t.Run("rejects values below one", func(t *testing.T) {
		_, err := NewBatcher(&fakeDDB{}, WithConcurrency(0))
		require.ErrorIs(t, err, ErrInvalidConcurrency)
	})

	t.Run("bounds requests in flight", func(t *testing.T) {
		var inflight, peak atomic.Int32
		f := &fakeDDB{batchWrite: func(*dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			n := inflight.Add(1)
			defer inflight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return &dynamodb.BatchWriteItemOutput{}, nil
		}}
		b, err := NewBatcher(f, WithConcurrency(2))
		require.NoError(t, err)

		res, err := b.Write(context.Background(), "tbl", putRequests(MaxBatchWrite*6))
		require.NoError(t, err)
		assert.True(t, res.Done())
		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Len(t, f.calls, 6)
	})
}

func TestBatcherGet(t *testing.T) {
	var first atomic.Bool
	first.Store(true)
	f := &fakeDDB{batchGet: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
		req := in.RequestItems["tbl"]
		assert.Equal(t, aws.String("#pk"), req.ProjectionExpression)
		out := &dynamodb.BatchGetItemOutput{Responses: map[string][]Item{}}
		keys := req.Keys
		if first.CompareAndSwap(true, false) {
			out.UnprocessedKeys = map[string]types.KeysAndAttributes{"tbl": {Keys: keys[:1]}}
			keys = keys[1:]
		}
		out.Responses["tbl"] = keys
		return out, nil
	}}
	b, err := NewBatcher(f, WithBackoff(noBackoff))
	require.NoError(t, err)

	keys := make([]Item, 150)
	for i := range keys {
		keys[i] = Item{"pk": &types.AttributeValueMemberS{Value: fmt.Sprint(i)}}
	}
	res, err := b.Get(context.Background(), "tbl", keys, types.KeysAndAttributes{ProjectionExpression: aws.String("#pk")})
	require.NoError(t, err)
	assert.Len(t, res.Items, 150)
	assert.Empty(t, res.Unprocessed)
	assert.Equal(t, 1, res.Retries)
	assert.Len(t, f.calls, 3)
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(10*time.Millisecond, 2, 50*time.Millisecond)
	for attempt, limit := range []time.Duration{10, 20, 40, 50, 50} {
		d := backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, limit*time.Millisecond)
	}
	assert.Zero(t, ExponentialBackoff(0, 2, time.Second)(3))
}

type testAction struct {
	table string
	pk    string
	item  types.TransactWriteItem
}

func (a testAction) TableName() string { return a.table }

func (a testAction) Key() (Item, error) {
	return Item{"pk": &types.AttributeValueMemberS{Value: a.pk}}, nil
}

func (a testAction) TransactWriteItem() (types.TransactWriteItem, error) {
	return a.item, nil
}

func putAction(table, pk string) testAction {
	return testAction{table: table, pk: pk, item: types.TransactWriteItem{Put: &types.Put{
		TableName: aws.String(table),
		Item:      Item{"pk": &types.AttributeValueMemberS{Value: pk}},
	}}}
}

func TestTxer(t *testing.T) {
	t.Run("single action uses a plain request", func(t *testing.T) {
		f := &fakeDDB{}
		tx := NewTxer(f)
		require.NoError(t, tx.AddAction(putAction("tbl", "a")))
		require.NoError(t, tx.Commit(context.Background()))
		assert.Equal(t, []string{"PutItem"}, f.calls)
	})

	t.Run("several actions are one transaction", func(t *testing.T) {
		f := &fakeDDB{}
		tx := NewTxer(f, WithIdempotencyToken("tok"))
		require.NoError(t, tx.AddAction(putAction("tbl", "a")))
		require.NoError(t, tx.AddAction(putAction("tbl", "b")))
		require.NoError(t, tx.AddAction(putAction("other", "a")))
		require.NoError(t, tx.Commit(context.Background()))
		assert.Equal(t, []string{"TransactWriteItems:3:tok"}, f.calls)
	})

	t.Run("duplicate item", func(t *testing.T) {
		f := &fakeDDB{}
		tx := NewTxer(f)
		require.NoError(t, tx.AddAction(putAction("tbl", "a")))
		require.ErrorIs(t, tx.AddAction(putAction("tbl", "a")), ErrDuplicateItem)
		require.ErrorIs(t, tx.Commit(context.Background()), ErrDuplicateItem)
		assert.Empty(t, f.calls)
	})

	t.Run("too many actions", func(t *testing.T) {
		tx := NewTxer(&fakeDDB{})
		for i := range MaxTransactItems {
			require.NoError(t, tx.AddAction(putAction("tbl", fmt.Sprint(i))))
		}
		require.ErrorIs(t, tx.AddAction(putAction("tbl", "overflow")), ErrTooManyActions)
		assert.Equal(t, MaxTransactItems, tx.Len())
	})

	t.Run("empty commit", func(t *testing.T) {
		f := &fakeDDB{}
		require.NoError(t, NewTxer(f).Commit(context.Background()))
		assert.Empty(t, f.calls)
	})
}

func TestPager(t *testing.T) {
	pages := [][]string{{"a", "b"}, {"c"}, {"d"}}
	f := &fakeDDB{query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		i := 0
		if in.ExclusiveStartKey != nil {
			fmt.Sscan(in.ExclusiveStartKey["page"].(*types.AttributeValueMemberN).Value, &i)
		}
		out := &dynamodb.QueryOutput{}
		for _, v := range pages[i] {
			out.Items = append(out.Items, Item{"pk": &types.AttributeValueMemberS{Value: v}})
		}
		if i+1 < len(pages) {
			out.LastEvaluatedKey = Item{"page": &types.AttributeValueMemberN{Value: fmt.Sprint(i + 1)}}
		}
		return out, nil
	}}

	t.Run("all pages", func(t *testing.T) {
		items, last, err := NewQueryPager(f, &dynamodb.QueryInput{TableName: aws.String("tbl")}).All(context.Background(), 0)
		require.NoError(t, err)
		assert.Len(t, items, 4)
		assert.Nil(t, last)
	})

	t.Run("limited pages resume", func(t *testing.T) {
		p := NewQueryPager(f, &dynamodb.QueryInput{TableName: aws.String("tbl")})
		items, last, err := p.All(context.Background(), 2)
		require.NoError(t, err)
		assert.Len(t, items, 3)
		require.NotNil(t, last)
		assert.True(t, p.HasMore())

		items, last, err = NewQueryPager(f, &dynamodb.QueryInput{TableName: aws.String("tbl"), ExclusiveStartKey: last}).All(context.Background(), 0)
		require.NoError(t, err)
		assert.Len(t, items, 1)
		assert.Nil(t, last)
	})
}

func TestClientInstrumentation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	core, logs := observer.New(zap.DebugLevel)

	boom := errors.New("boom")
	f := &fakeDDB{getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		if aws.ToString(in.TableName) == "broken" {
			return nil, boom
		}
		return &dynamodb.GetItemOutput{}, nil
	}}
	c := New(f, WithLogger(zap.New(core)), WithMetrics(m))

	_, err = c.GetItem(context.Background(), &dynamodb.GetItemInput{TableName: aws.String("tbl")})
	require.NoError(t, err)
	_, err = c.GetItem(context.Background(), &dynamodb.GetItemInput{TableName: aws.String("broken")})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GetItem", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GetItem", "error")))
	assert.Equal(t, 1, logs.FilterMessage("dynamodb request").Len())
	assert.Equal(t, 1, logs.FilterMessage("dynamodb request failed").Len())

	_, err = NewMetrics(reg)
	require.Error(t, err, "collectors are already registered")
}

func TestBatcherInheritsClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	f := &fakeDDB{batchWrite: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		return &dynamodb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}}
	b, err := NewBatcher(New(f, WithMetrics(m)), WithBackoff(noBackoff), WithMaxRetries(1))
	require.NoError(t, err)

	_, err = b.Write(context.Background(), "tbl", putRequests(4))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("BatchWriteItem")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Unprocessed.WithLabelValues("BatchWriteItem")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("BatchWriteItem", "ok")))
}
