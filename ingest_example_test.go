package ingest_test

import (
	"context"

	ingest "github.com/Azure/kusto-ingest-go"
)

// client is a QueryClient connected to the service's data management endpoint
// (https://ingest-<cluster>.<domain>). Constructing one is up to the host application.
var client ingest.QueryClient

func Example_ingestionFromFile() {
	in, err := ingest.New(client, "database", "table")
	if err != nil {
		panic(err)
	}
	defer in.Close()

	ctx := context.Background()

	// Upload a local CSV file and queue it for ingestion.
	if _, err := in.FromFile(ctx, "/path/to/file.csv"); err != nil {
		panic(err)
	}
}

func Example_ingestionStatus() {
	in, err := ingest.New(client, "database", "table")
	if err != nil {
		panic(err)
	}
	defer in.Close()

	ctx := context.Background()

	// Request table based status tracking and follow the ingestion to a final state.
	result, err := in.FromFile(ctx, "/path/to/file.csv", ingest.ReportResultToTable())
	if err != nil {
		panic(err)
	}

	rec := <-result.Wait(ctx)
	if err := rec.ToError(); err != nil {
		panic(err)
	}
}
