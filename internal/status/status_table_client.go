// Package status provides access to the service-managed table ingestion statuses are
// reported to.
package status

import (
	"github.com/Azure/azure-sdk-for-go/storage"

	"github.com/Azure/kusto-ingest-go/errors"
	"github.com/Azure/kusto-ingest-go/internal/resources"
)

const (
	defaultTimeout = 10000
	fullmetadata   = "application/json;odata=fullmetadata"
)

// TableClient reads and writes rows of the ingestion status table addressed by one
// status-table handle.
type TableClient struct {
	tableURI resources.URI
	client   storage.Client
	service  storage.TableServiceClient
	table    *storage.Table
}

// NewTableClient creates a TableClient from a status-table handle.
func NewTableClient(uri resources.URI) (*TableClient, error) {
	c, err := storage.NewAccountSASClientFromEndpointToken(uri.URL().String(), uri.SAS().Encode())
	if err != nil {
		return nil, errors.E(errors.OpStatus, errors.KTable, err)
	}

	ts := c.GetTableService()
	tc := ts.GetTableReference(uri.ObjectName())

	return &TableClient{
		tableURI: uri,
		client:   c,
		service:  ts,
		table:    tc,
	}, nil
}

// Read reads the status row stored under (partitionKey, rowKey).
func (c *TableClient) Read(partitionKey, rowKey string) (map[string]interface{}, error) {
	entity := c.table.GetEntityReference(partitionKey, rowKey)

	if err := entity.Get(defaultTimeout, fullmetadata, nil); err != nil {
		return nil, errors.E(errors.OpStatus, errors.KTable, err)
	}

	return entity.Properties, nil
}

// Write inserts a status row under (partitionKey, rowKey).
func (c *TableClient) Write(partitionKey, rowKey string, data map[string]interface{}) error {
	entity := c.table.GetEntityReference(partitionKey, rowKey)
	entity.Properties = data

	options := &storage.EntityOptions{}
	options.Timeout = defaultTimeout

	if err := entity.Insert(fullmetadata, options); err != nil {
		return errors.E(errors.OpStatus, errors.KTable, err)
	}

	return nil
}
