package ingest

import (
	"context"
	"io"

	"github.com/Azure/kusto-ingest-go/data/table"
	"github.com/Azure/kusto-ingest-go/kql"
)

// QueryClient is the control-plane client the ingestion client is built on. It issues
// management commands against the service's data management endpoint and returns their
// primary result. Implementations must be safe for concurrent use.
type QueryClient interface {
	io.Closer

	// Endpoint returns the endpoint the client is connected to.
	Endpoint() string

	// Mgmt issues a management command against the given database.
	Mgmt(ctx context.Context, db string, query *kql.Builder) (*table.Rowset, error)
}
