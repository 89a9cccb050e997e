package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Azure/kusto-ingest-go/data/table"
	"github.com/Azure/kusto-ingest-go/data/types"
	"github.com/Azure/kusto-ingest-go/data/value"
	"github.com/Azure/kusto-ingest-go/errors"
	"github.com/Azure/kusto-ingest-go/internal/properties"
	"github.com/Azure/kusto-ingest-go/kql"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient fakes the control plane. It answers the resource, token and version
// statements and counts every call.
type fakeClient struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[string]func() (*table.Rowset, error)
}

func newFakeClient() *fakeClient {
	f := &fakeClient{
		calls:     map[string]int{},
		responses: map[string]func() (*table.Rowset, error){},
	}
	f.respond(".get ingestion resources", func() (*table.Rowset, error) {
		return mustRowset(
			table.Columns{
				{Name: "ResourceTypeName", Type: types.String},
				{Name: "StorageRoot", Type: types.String},
			},
			strRow("TempStorage", "https://account.blob.core.windows.net/store?sas=a"),
			strRow("SecuredReadyForAggregationQueue", "https://account.queue.core.windows.net/ready?sas=b"),
			strRow("FailedIngestionsQueue", "https://account.queue.core.windows.net/failed?sas=c"),
			strRow("SuccessfulIngestionsQueue", "https://account.queue.core.windows.net/success?sas=d"),
			strRow("IngestionsStatusTable", "https://account.table.core.windows.net/status?sas=e"),
		), nil
	})
	f.respond(".get kusto identity token", func() (*table.Rowset, error) {
		return mustRowset(
			table.Columns{{Name: "AuthorizationContext", Type: types.String}},
			strRow("authtoken"),
		), nil
	})
	f.respond(".show version", func() (*table.Rowset, error) {
		return mustRowset(
			table.Columns{{Name: "ServiceType", Type: types.String}},
			strRow("DataManagement"),
		), nil
	})
	return f
}

func (f *fakeClient) respond(stmt string, fn func() (*table.Rowset, error)) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[stmt] = fn
	return f
}

func (f *fakeClient) count(stmt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stmt]
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) Endpoint() string { return "https://test.kusto.windows.net" }

func (f *fakeClient) Mgmt(_ context.Context, _ string, query *kql.Builder) (*table.Rowset, error) {
	f.mu.Lock()
	f.calls[query.String()]++
	fn := f.responses[query.String()]
	f.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("no response registered for %q", query.String())
	}
	return fn()
}

func mustRowset(cols table.Columns, rows ...value.Values) *table.Rowset {
	rs, err := table.NewRowset(cols, rows...)
	if err != nil {
		panic(err)
	}
	return rs
}

func strRow(vals ...string) value.Values {
	row := make(value.Values, 0, len(vals))
	for _, v := range vals {
		row = append(row, value.String{Valid: true, Value: v})
	}
	return row
}

// fakeQueued records the calls the façade hands to the upload path.
type fakeQueued struct {
	mu sync.Mutex

	localFrom  string
	blobFrom   string
	blobSize   int64
	readerData []byte
	props      []properties.All

	err error
}

func (f *fakeQueued) Local(_ context.Context, from string, props properties.All) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localFrom = from
	f.props = append(f.props, props)
	return f.err
}

func (f *fakeQueued) Reader(_ context.Context, reader io.Reader, props properties.All) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.readerData = data
	f.props = append(f.props, props)
	return "blobname", f.err
}

func (f *fakeQueued) Blob(_ context.Context, from string, fileSize int64, props properties.All) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobFrom = from
	f.blobSize = fileSize
	f.props = append(f.props, props)
	return f.err
}

func (f *fakeQueued) Close() error { return nil }

func (f *fakeQueued) lastProps(t *testing.T) properties.All {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.props)
	return f.props[len(f.props)-1]
}

func newTestIngestion(t *testing.T, client *fakeClient, fs *fakeQueued) *Ingestion {
	t.Helper()
	i, err := New(client, "testdb", "testtable")
	require.NoError(t, err)
	i.fs = fs
	t.Cleanup(i.mgr.Close)
	return i
}

func TestNewValidatesArgs(t *testing.T) {
	_, err := New(nil, "db", "table")
	assert.Error(t, err)

	client := newFakeClient()
	_, err = New(client, "", "table")
	assert.Error(t, err)

	_, err = New(client, "db", "")
	assert.Error(t, err)
}

func TestFromFileWithBlobPath(t *testing.T) {
	fs := &fakeQueued{}
	i := newTestIngestion(t, newFakeClient(), fs)

	const blobPath = "https://account.blob.core.windows.net/store/payload.csv.gz?sas=a"

	result, err := i.FromFile(context.Background(), blobPath, RawDataSize(100))
	require.NoError(t, err)

	assert.Equal(t, blobPath, fs.blobFrom)
	assert.Equal(t, int64(100), fs.blobSize)

	props := fs.lastProps(t)
	assert.Equal(t, "authtoken", props.Ingestion.Additional.AuthContext)
	assert.Equal(t, "testdb", props.Ingestion.DatabaseName)
	assert.Equal(t, "testtable", props.Ingestion.TableName)
	assert.NotEqual(t, uuid.Nil, props.Ingestion.ID)
	assert.Equal(t, props.Source.ID, props.Ingestion.ID)

	rec := <-result.Wait(context.Background())
	assert.Equal(t, Queued, rec.Status)
	assert.Nil(t, rec.ToError())
}

func TestFromReaderRejectsFileOnlyOptions(t *testing.T) {
	fs := &fakeQueued{}
	i := newTestIngestion(t, newFakeClient(), fs)

	_, err := i.FromReader(context.Background(), bytes.NewReader([]byte("a,b\n")), DeleteSource())
	require.Error(t, err)
	assert.Equal(t, errors.KClientArgs, errors.GetKind(err))
	assert.Empty(t, fs.props, "no upload may happen when option validation fails")
}

func TestFromRowsetMaterializesCSV(t *testing.T) {
	fs := &fakeQueued{}
	i := newTestIngestion(t, newFakeClient(), fs)

	rs := mustRowset(
		table.Columns{
			{Name: "name", Type: types.String},
			{Name: "count", Type: types.Long},
		},
		value.Values{value.String{Valid: true, Value: "aaa"}, value.Long{Valid: true, Value: 42}},
		value.Values{value.String{Valid: true, Value: "bbb"}, value.Long{Valid: true, Value: 7}},
	)

	_, err := i.FromRowset(context.Background(), rs)
	require.NoError(t, err)

	assert.Equal(t, "aaa,42\nbbb,7\n", string(fs.readerData))
	props := fs.lastProps(t)
	assert.Equal(t, CSV, props.Ingestion.Additional.Format)
}

func TestReportToTableOpensPollingClient(t *testing.T) {
	fs := &fakeQueued{}
	i := newTestIngestion(t, newFakeClient(), fs)

	result, err := i.FromFile(context.Background(),
		"https://account.blob.core.windows.net/store/payload.csv?sas=a",
		ReportResultToTable())
	require.NoError(t, err)

	props := fs.lastProps(t)
	assert.Equal(t, properties.ReportStatusToTable, props.Ingestion.ReportMethod)
	assert.Equal(t, properties.FailureAndSuccess, props.Ingestion.ReportLevel)

	assert.Equal(t, Pending, result.record.Status)
	assert.NotNil(t, result.tableClient)
}

func TestServiceErrorTriggersProbe(t *testing.T) {
	client := newFakeClient()
	client.respond(".show version", func() (*table.Rowset, error) {
		return mustRowset(
			table.Columns{{Name: "ServiceType", Type: types.String}},
			strRow("Engine"),
		), nil
	})

	fs := &fakeQueued{err: errors.ES(errors.OpFileIngest, errors.KService, "ingestion rejected")}
	i := newTestIngestion(t, client, fs)

	_, err := i.FromFile(context.Background(), "https://account.blob.core.windows.net/store/x.csv?sas=a")
	require.Error(t, err)
	assert.Equal(t, errors.KService, errors.GetKind(err), "the original error is surfaced unchanged")
	assert.Equal(t, 1, client.count(".show version"), "a service error runs the probe exactly once")
}

func TestClientErrorSkipsProbe(t *testing.T) {
	client := newFakeClient()
	fs := &fakeQueued{err: errors.ES(errors.OpFileIngest, errors.KLocalFileSystem, "no such file").SetNoRetry()}
	i := newTestIngestion(t, client, fs)

	_, err := i.FromFile(context.Background(), "https://account.blob.core.windows.net/store/x.csv?sas=a")
	require.Error(t, err)
	assert.Equal(t, 0, client.count(".show version"))
}
