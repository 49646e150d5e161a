package ddbsdk

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Page is one response page of a Query or Scan.
type Page struct {
	Items []Item
	// LastEvaluatedKey is nil on the last page.
	LastEvaluatedKey Item
}

// Pager follows LastEvaluatedKey across Query or Scan pages.
type Pager struct {
	fetch func(ctx context.Context, start Item) (Page, error)

	next  Item
	pages int
	done  bool
}

// NewQueryPager pages through in. in.ExclusiveStartKey is the first start key.
func NewQueryPager(ddb AWSDynamoClientV2, in *dynamodb.QueryInput) *Pager {
	req := *in
	return &Pager{
		next: in.ExclusiveStartKey,
		fetch: func(ctx context.Context, start Item) (Page, error) {
			req.ExclusiveStartKey = start
			out, err := ddb.Query(ctx, &req)
			if err != nil {
				return Page{}, fmt.Errorf("query failed: %w", err)
			}
			return Page{Items: out.Items, LastEvaluatedKey: out.LastEvaluatedKey}, nil
		},
	}
}

// NewScanPager pages through in. in.ExclusiveStartKey is the first start key.
func NewScanPager(ddb AWSDynamoClientV2, in *dynamodb.ScanInput) *Pager {
	req := *in
	return &Pager{
		next: in.ExclusiveStartKey,
		fetch: func(ctx context.Context, start Item) (Page, error) {
			req.ExclusiveStartKey = start
			out, err := ddb.Scan(ctx, &req)
			if err != nil {
				return Page{}, fmt.Errorf("scan failed: %w", err)
			}
			return Page{Items: out.Items, LastEvaluatedKey: out.LastEvaluatedKey}, nil
		},
	}
}

// HasMore reports whether Next can fetch another page.
func (p *Pager) HasMore() bool {
	return !p.done
}

// Pages returns the number of pages fetched.
func (p *Pager) Pages() int {
	return p.pages
}

func (p *Pager) Next(ctx context.Context) (Page, error) {
	if p.done {
		return Page{}, nil
	}
	page, err := p.fetch(ctx, p.next)
	if err != nil {
		return Page{}, err
	}
	p.pages++
	p.next = page.LastEvaluatedKey
	p.done = len(page.LastEvaluatedKey) == 0
	return page, nil
}

// All fetches up to maxPages pages, all when maxPages < 1, and returns
// their items and the key to resume from.
func (p *Pager) All(ctx context.Context, maxPages int) ([]Item, Item, error) {
	var items []Item
	for p.HasMore() && (maxPages < 1 || p.pages < maxPages) {
		page, err := p.Next(ctx)
		if err != nil {
			return items, p.next, err
		}
		items = append(items, page.Items...)
	}
	return items, p.next, nil
}
