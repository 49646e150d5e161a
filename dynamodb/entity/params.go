package entity

import (
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/expr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Params is the request an operation renders, in the shape of the DynamoDB
// API. Empty strings and nil maps are left out of the SDK inputs.
type Params struct {
	TableName                 string
	IndexName                 string
	Key                       ddbsdk.Item
	Item                      ddbsdk.Item
	KeyConditionExpression    string
	FilterExpression          string
	UpdateExpression          string
	ConditionExpression       string
	ProjectionExpression      string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
	Limit                     int32
	ScanIndexForward          *bool
	ExclusiveStartKey         ddbsdk.Item
	ConsistentRead            bool
	ReturnValues              types.ReturnValue

	// Keys holds the keys of BatchGet and BatchDelete.
	Keys []ddbsdk.Item
	// Items holds the items of BatchPut.
	Items []ddbsdk.Item
}

func (p *Params) setExpressions(x expr.Expressions) {
	p.KeyConditionExpression = x.KeyCondition
	p.FilterExpression = x.Filter
	p.UpdateExpression = x.Update
	p.ConditionExpression = x.Condition
	p.ProjectionExpression = x.Projection
	if len(x.Names) > 0 {
		p.ExpressionAttributeNames = x.Names
	}
	if len(x.Values) > 0 {
		p.ExpressionAttributeValues = x.Values
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func (p *Params) limit() *int32 {
	if p.Limit == 0 {
		return nil
	}
	return aws.Int32(p.Limit)
}

func (p *Params) consistent() *bool {
	if !p.ConsistentRead {
		return nil
	}
	return aws.Bool(true)
}

func (p *Params) ToGetItemInput() *dynamodb.GetItemInput {
	return &dynamodb.GetItemInput{
		TableName:                aws.String(p.TableName),
		Key:                      p.Key,
		ProjectionExpression:     optional(p.ProjectionExpression),
		ExpressionAttributeNames: p.ExpressionAttributeNames,
		ConsistentRead:           p.consistent(),
	}
}

func (p *Params) ToPutItemInput() *dynamodb.PutItemInput {
	return &dynamodb.PutItemInput{
		TableName:                 aws.String(p.TableName),
		Item:                      p.Item,
		ConditionExpression:       optional(p.ConditionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
		ReturnValues:              p.ReturnValues,
	}
}

func (p *Params) ToDeleteItemInput() *dynamodb.DeleteItemInput {
	return &dynamodb.DeleteItemInput{
		TableName:                 aws.String(p.TableName),
		Key:                       p.Key,
		ConditionExpression:       optional(p.ConditionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
		ReturnValues:              p.ReturnValues,
	}
}

func (p *Params) ToUpdateItemInput() *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(p.TableName),
		Key:                       p.Key,
		UpdateExpression:          optional(p.UpdateExpression),
		ConditionExpression:       optional(p.ConditionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
		ReturnValues:              p.ReturnValues,
	}
}

func (p *Params) ToQueryInput() *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:                 aws.String(p.TableName),
		IndexName:                 optional(p.IndexName),
		KeyConditionExpression:    optional(p.KeyConditionExpression),
		FilterExpression:          optional(p.FilterExpression),
		ProjectionExpression:      optional(p.ProjectionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
		Limit:                     p.limit(),
		ScanIndexForward:          p.ScanIndexForward,
		ExclusiveStartKey:         p.ExclusiveStartKey,
		ConsistentRead:            p.consistent(),
	}
}

func (p *Params) ToScanInput() *dynamodb.ScanInput {
	return &dynamodb.ScanInput{
		TableName:                 aws.String(p.TableName),
		IndexName:                 optional(p.IndexName),
		FilterExpression:          optional(p.FilterExpression),
		ProjectionExpression:      optional(p.ProjectionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
		Limit:                     p.limit(),
		ExclusiveStartKey:         p.ExclusiveStartKey,
		ConsistentRead:            p.consistent(),
	}
}

// ToKeysAndAttributes returns the per-table part of a BatchGetItem request.
func (p *Params) ToKeysAndAttributes() types.KeysAndAttributes {
	return types.KeysAndAttributes{
		Keys:                     p.Keys,
		ProjectionExpression:     optional(p.ProjectionExpression),
		ExpressionAttributeNames: p.ExpressionAttributeNames,
		ConsistentRead:           p.consistent(),
	}
}

// ToWriteRequests returns a put request per item followed by a delete
// request per key.
func (p *Params) ToWriteRequests() []types.WriteRequest {
	reqs := make([]types.WriteRequest, 0, len(p.Items)+len(p.Keys))
	for _, item := range p.Items {
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	for _, key := range p.Keys {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
	}
	return reqs
}

func (p *Params) ToPut() *types.Put {
	return &types.Put{
		TableName:                 aws.String(p.TableName),
		Item:                      p.Item,
		ConditionExpression:       optional(p.ConditionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
	}
}

func (p *Params) ToDelete() *types.Delete {
	return &types.Delete{
		TableName:                 aws.String(p.TableName),
		Key:                       p.Key,
		ConditionExpression:       optional(p.ConditionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
	}
}

func (p *Params) ToUpdate() *types.Update {
	return &types.Update{
		TableName:                 aws.String(p.TableName),
		Key:                       p.Key,
		UpdateExpression:          aws.String(p.UpdateExpression),
		ConditionExpression:       optional(p.ConditionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
	}
}

func (p *Params) ToConditionCheck() *types.ConditionCheck {
	return &types.ConditionCheck{
		TableName:                 aws.String(p.TableName),
		Key:                       p.Key,
		ConditionExpression:       aws.String(p.ConditionExpression),
		ExpressionAttributeNames:  p.ExpressionAttributeNames,
		ExpressionAttributeValues: p.ExpressionAttributeValues,
	}
}
