// facet renders and runs entity operations described by a YAML schema.
//
// # Installation
//
//	go install github.com/acksell/facet/dynamodb/cmd/facet@latest
//
// # Commands
//
//	facet params   Print the DynamoDB request of an operation
//	facet run      Run an operation against DynamoDB or a local store
//	facet table    Create the table of the schema
//	facet whoami   Print the AWS identity live runs use
//	facet version  Print the version
//
// # Examples
//
//	facet params --entity MallStores --op query --index units --values '{"mall":"EastPointe"}'
//	facet run --local --entity MallStores --op put --values '{"storeId":"S1",...}'
//	facet run --entity MallStores --op get --values '{"storeId":"S1"}'
//	facet table create --dry-run
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd {
	case "params":
		err = runParams(args, os.Stdout)
	case "run":
		err = runRun(ctx, args, os.Stdout)
	case "table":
		err = runTable(ctx, args, os.Stdout)
	case "whoami":
		err = runWhoami(ctx, args, os.Stdout)
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("facet version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "facet: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "facet %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`facet - schema-driven DynamoDB entities

Usage:
  facet <command> [flags]

Commands:
  params   Print the DynamoDB request parameters of an operation
  run      Run an operation and print the result
  table    Create the table of the schema (table create)
  whoami   Print the AWS caller identity
  version  Print the version

Operations (--op):
  get, put, create, update, patch, delete, query, scan, find, match

Configuration (optional):
  Create facet.yaml in the project, it is found by walking up from the
  working directory:

    schema: ./schema/facet.schema.yaml
    table: StoreDirectory      # overrides the table of the schema
    dataDir: ./.facet          # badger directory for --local runs
    endpoint: http://localhost:8000
    region: eu-west-1
    profile: dev

  Without a schema setting, facet.schema.yaml files are discovered.

Run 'facet <command> --help' for more information on a command.`)
}
