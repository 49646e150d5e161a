package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// tableCreator is implemented by the DynamoDB client.
type tableCreator interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

func runTable(ctx context.Context, args []string, w io.Writer) error {
	if len(args) == 0 || args[0] != "create" {
		return fmt.Errorf("usage: facet table create [flags]")
	}
	fs := flag.NewFlagSet("table create", flag.ExitOnError)
	var (
		schemaPath string
		tableName  string
		dryRun     bool
		verbose    bool
	)
	fs.StringVar(&schemaPath, "schema", "", "path to the schema document (default: facet.yaml or discovered facet.schema.yaml)")
	fs.StringVar(&tableName, "table", "", "table name override")
	fs.BoolVar(&dryRun, "dry-run", false, "print the CreateTable request instead of sending it")
	fs.BoolVar(&verbose, "verbose", false, "development logging")
	fs.Usage = func() {
		fmt.Println(`facet table create - Create the table of the schema
The table uses on-demand billing and projects all attributes into its GSIs.

Usage:
  facet table create [flags]

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	doc, err := loadDocument(schemaPath, cfg)
	if err != nil {
		return err
	}
	def := doc.TableDefinition()
	switch {
	case tableName != "":
		def.Name = tableName
	case cfg.Table != "":
		def.Name = cfg.Table
	}
	in := def.ToCreateTableInput()
	if dryRun {
		return writeJSON(w, in)
	}

	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return createTable(ctx, client, in, logger, w)
}

func createTable(ctx context.Context, client tableCreator, in *dynamodb.CreateTableInput, logger *zap.Logger, w io.Writer) error {
	logger.Info("creating table",
		zap.String("table", aws.ToString(in.TableName)),
		zap.Int("gsis", len(in.GlobalSecondaryIndexes)))
	out, err := client.CreateTable(ctx, in)
	if err != nil {
		return fmt.Errorf("create table %s: %w", aws.ToString(in.TableName), err)
	}
	return writeJSON(w, out.TableDescription)
}
