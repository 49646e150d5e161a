package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/acksell/facet/dynamodb/ddbsdk"
	"github.com/acksell/facet/dynamodb/ddbstore"
	"github.com/acksell/facet/dynamodb/entity"
	"github.com/acksell/facet/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
)

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig() (Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}
	return LoadConfig(wd)
}

// prepare builds the operation the flags describe on an entity of doc.
func prepare(doc *schema.Document, f *opFlags, cfg Config, opts ...entity.EntityOption) (operation, error) {
	if f.table == "" {
		f.table = cfg.Table
	}
	name, err := entityName(doc, f.entity)
	if err != nil {
		return nil, err
	}
	e, err := doc.Entity(name, opts...)
	if err != nil {
		return nil, err
	}
	return buildOperation(e, f)
}

func runParams(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("params", flag.ExitOnError)
	var f opFlags
	f.register(fs)
	fs.Usage = func() {
		fmt.Println(`facet params - Print the DynamoDB request of an operation

Usage:
  facet params [flags]

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	doc, err := loadDocument(f.schema, cfg)
	if err != nil {
		return err
	}
	op, err := prepare(doc, &f, cfg)
	if err != nil {
		return err
	}
	p, err := op.params(f.options())
	if err != nil {
		return err
	}
	out, err := renderParams(p)
	if err != nil {
		return err
	}
	return writeJSON(w, out)
}

// renderedParams is Params with attribute values in plain JSON form.
type renderedParams struct {
	TableName                 string            `json:"TableName"`
	IndexName                 string            `json:"IndexName,omitempty"`
	Key                       map[string]any    `json:"Key,omitempty"`
	Item                      map[string]any    `json:"Item,omitempty"`
	KeyConditionExpression    string            `json:"KeyConditionExpression,omitempty"`
	FilterExpression          string            `json:"FilterExpression,omitempty"`
	UpdateExpression          string            `json:"UpdateExpression,omitempty"`
	ConditionExpression       string            `json:"ConditionExpression,omitempty"`
	ProjectionExpression      string            `json:"ProjectionExpression,omitempty"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames,omitempty"`
	ExpressionAttributeValues map[string]any    `json:"ExpressionAttributeValues,omitempty"`
	Limit                     int32             `json:"Limit,omitempty"`
	ScanIndexForward          *bool             `json:"ScanIndexForward,omitempty"`
	ExclusiveStartKey         map[string]any    `json:"ExclusiveStartKey,omitempty"`
	ConsistentRead            bool              `json:"ConsistentRead,omitempty"`
	ReturnValues              string            `json:"ReturnValues,omitempty"`
}

func renderParams(p *entity.Params) (*renderedParams, error) {
	out := &renderedParams{
		TableName:                p.TableName,
		IndexName:                p.IndexName,
		KeyConditionExpression:   p.KeyConditionExpression,
		FilterExpression:         p.FilterExpression,
		UpdateExpression:         p.UpdateExpression,
		ConditionExpression:      p.ConditionExpression,
		ProjectionExpression:     p.ProjectionExpression,
		ExpressionAttributeNames: p.ExpressionAttributeNames,
		Limit:                    p.Limit,
		ScanIndexForward:         p.ScanIndexForward,
		ConsistentRead:           p.ConsistentRead,
		ReturnValues:             string(p.ReturnValues),
	}
	maps := []struct {
		in  map[string]types.AttributeValue
		out *map[string]any
	}{
		{p.Key, &out.Key},
		{p.Item, &out.Item},
		{p.ExpressionAttributeValues, &out.ExpressionAttributeValues},
		{p.ExclusiveStartKey, &out.ExclusiveStartKey},
	}
	for _, m := range maps {
		if len(m.in) == 0 {
			continue
		}
		if err := attributevalue.UnmarshalMap(m.in, m.out); err != nil {
			return nil, fmt.Errorf("render params: %w", err)
		}
	}
	return out, nil
}

func runRun(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		f       opFlags
		local   bool
		dataDir string
	)
	f.register(fs)
	fs.BoolVar(&local, "local", false, "run against a local store instead of DynamoDB")
	fs.StringVar(&dataDir, "data-dir", "", "directory of the local store (default: facet.yaml dataDir, in memory if empty)")
	fs.Usage = func() {
		fmt.Println(`facet run - Run an operation and print the result

Usage:
  facet run [flags]

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(f.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	doc, err := loadDocument(f.schema, cfg)
	if err != nil {
		return err
	}

	var awsddb ddbsdk.AWSDynamoClientV2
	if local {
		if dataDir == "" {
			dataDir = cfg.DataDir
		}
		def := doc.TableDefinition()
		if f.table != "" {
			def.Name = f.table
		} else if cfg.Table != "" {
			def.Name = cfg.Table
		}
		store, err := ddbstore.New(ddbstore.StoreOptions{Path: dataDir, Logger: logger}, def)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		defer store.Close()
		awsddb = store
	} else {
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		awsddb = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
	}
	client := ddbsdk.New(awsddb, ddbsdk.WithLogger(logger))

	op, err := prepare(doc, &f, cfg, entity.WithClient(client))
	if err != nil {
		return err
	}

	logger.Debug("running operation",
		zap.String("entity", f.entity),
		zap.String("op", f.op),
		zap.Bool("local", local))
	res, err := op.run(ctx, f.options())
	if err != nil {
		return err
	}
	return writeJSON(w, res)
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

func runWhoami(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println(`facet whoami - Print the AWS caller identity live runs use

Usage:
  facet whoami`)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	out, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("get caller identity: %w", err)
	}
	identity := callerIdentity{
		Account: aws.ToString(out.Account),
		Arn:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
		Region:  awsCfg.Region,
	}

	// Principals without iam:ListAccountAliases still get their identity.
	aliases, err := iam.NewFromConfig(awsCfg).ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
	if err == nil {
		identity.AccountAliases = aliases.AccountAliases
	}
	return writeJSON(w, identity)
}

type callerIdentity struct {
	Account        string   `json:"account"`
	AccountAliases []string `json:"accountAliases,omitempty"`
	Arn            string   `json:"arn"`
	UserID         string   `json:"userId"`
	Region         string   `json:"region"`
}
