package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Azure/kusto-ingest-go/data/table"
	"github.com/Azure/kusto-ingest-go/errors"
	"github.com/Azure/kusto-ingest-go/internal/properties"
	"github.com/Azure/kusto-ingest-go/internal/queued"
	"github.com/Azure/kusto-ingest-go/internal/resources"
	"github.com/Azure/kusto-ingest-go/utils"
)

// Ingestor is an interface for queued data ingestion.
type Ingestor interface {
	io.Closer

	// FromFile ingests a local file or a blob URL.
	FromFile(ctx context.Context, fPath string, options ...FileOption) (*Result, error)

	// FromReader ingests from an io.Reader.
	FromReader(ctx context.Context, reader io.Reader, options ...FileOption) (*Result, error)
}

// Ingestion provides queued ingestion into a single database and table. It stages
// payloads in service-provided storage and posts notification messages the service
// consumes; the heavy lifting of obtaining and rotating the storage endpoints is done
// by the resource manager it owns.
type Ingestion struct {
	db    string
	table string

	client QueryClient
	mgr    *resources.Manager
	fs     queued.Queued

	log zerolog.Logger

	bufferSize    int
	maxBuffers    int
	uploadTimeout time.Duration
}

var _ Ingestor = (*Ingestion)(nil)

// Option is an optional argument to New.
type Option func(i *Ingestion)

// WithStaticBuffer sets a static buffer size and buffer count for uploads.
func WithStaticBuffer(bufferSize int, maxBuffers int) Option {
	return func(i *Ingestion) {
		i.bufferSize = bufferSize
		i.maxBuffers = maxBuffers
	}
}

// WithUploadTimeout bounds each payload upload. Default 10 minutes.
func WithUploadTimeout(d time.Duration) Option {
	return func(i *Ingestion) {
		i.uploadTimeout = d
	}
}

// WithLogger sets the logger the client emits to. Defaults to utils.Logger.
func WithLogger(log zerolog.Logger) Option {
	return func(i *Ingestion) {
		i.log = log
	}
}

// New is the constructor for Ingestion. The client must be connected to the service's
// data management endpoint. The caller keeps ownership of the client; Close releases
// everything else.
func New(client QueryClient, db, table string, options ...Option) (*Ingestion, error) {
	switch {
	case client == nil:
		return nil, errors.ES(errors.OpFileIngest, errors.KClientArgs, "the client cannot be nil")
	case db == "":
		return nil, errors.ES(errors.OpFileIngest, errors.KClientArgs, "the database name cannot be an empty string")
	case table == "":
		return nil, errors.ES(errors.OpFileIngest, errors.KClientArgs, "the table name cannot be an empty string")
	}

	i := &Ingestion{
		db:            db,
		table:         table,
		client:        client,
		log:           utils.Logger,
		uploadTimeout: queued.DefaultUploadTimeout,
	}
	for _, o := range options {
		o(i)
	}

	mgr, err := resources.New(client, resources.WithLogger(i.log))
	if err != nil {
		return nil, err
	}

	fsOpts := []queued.Option{queued.WithUploadTimeout(i.uploadTimeout)}
	if i.bufferSize > 0 || i.maxBuffers > 0 {
		fsOpts = append(fsOpts, queued.WithStaticBuffer(i.bufferSize, i.maxBuffers))
	}
	fs, err := queued.New(db, table, mgr, fsOpts...)
	if err != nil {
		mgr.Close()
		return nil, err
	}

	i.mgr = mgr
	i.fs = fs

	return i, nil
}

// FromFile ingests a payload addressed by fPath. A local path is uploaded to
// service-provided storage first; an https:// path is taken to be an already staged
// blob and reduces directly to the notification message.
func (i *Ingestion) FromFile(ctx context.Context, fPath string, options ...FileOption) (*Result, error) {
	local, err := queued.IsLocalPath(fPath)
	if err != nil {
		return nil, errors.ES(errors.OpFileIngest, errors.KClientArgs, "%s", err)
	}

	source := fromFile
	if !local {
		source = fromBlob
	}

	props := i.newProp()
	if local {
		props.Source.OriginalSource = fPath
	}

	result, err := i.prepForIngestion(ctx, &props, options, source)
	if err != nil {
		return nil, err
	}

	if local {
		err = i.fs.Local(ctx, fPath, props)
	} else {
		if props.Ingestion.RawDataSize == 0 {
			i.log.Warn().Msg("ingesting a blob without a raw data size hint; the service will estimate the size")
		}
		err = i.fs.Blob(ctx, fPath, props.Ingestion.RawDataSize, props)
	}
	if err != nil {
		i.diagnoseServiceError(ctx, err)
		return nil, err
	}

	return result.putQueued(ctx, i.mgr), nil
}

// FromReader ingests a payload from an io.Reader. The payload is gzip compressed on
// the way up unless DontCompress was given or the format carries its own compression.
func (i *Ingestion) FromReader(ctx context.Context, reader io.Reader, options ...FileOption) (*Result, error) {
	if reader == nil {
		return nil, errors.ES(errors.OpFileIngest, errors.KClientArgs, "the reader cannot be nil")
	}

	props := i.newProp()
	result, err := i.prepForIngestion(ctx, &props, options, fromReader)
	if err != nil {
		return nil, err
	}

	if _, err := i.fs.Reader(ctx, reader, props); err != nil {
		i.diagnoseServiceError(ctx, err)
		return nil, err
	}

	return result.putQueued(ctx, i.mgr), nil
}

// FromRowset materializes a tabular result to CSV in memory and ingests it through the
// reader path.
func (i *Ingestion) FromRowset(ctx context.Context, rs *table.Rowset, options ...FileOption) (*Result, error) {
	if rs == nil || len(rs.Columns) == 0 {
		return nil, errors.ES(errors.OpFileIngest, errors.KClientArgs, "the rowset cannot be nil or empty")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	record := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for c, v := range row {
			record[c] = v.String()
		}
		if err := w.Write(record); err != nil {
			return nil, errors.ES(errors.OpFileIngest, errors.KClientInternal, "could not materialize the rowset to csv: %s", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.ES(errors.OpFileIngest, errors.KClientInternal, "could not materialize the rowset to csv: %s", err)
	}

	props := i.newProp()
	props.Ingestion.Additional.Format = properties.CSV

	result, err := i.prepForIngestion(ctx, &props, options, fromRowset)
	if err != nil {
		return nil, err
	}

	if _, err := i.fs.Reader(ctx, &buf, props); err != nil {
		i.diagnoseServiceError(ctx, err)
		return nil, err
	}

	return result.putQueued(ctx, i.mgr), nil
}

// Close releases the background refreshers and upload machinery. The query client is
// the caller's to close.
func (i *Ingestion) Close() error {
	return i.fs.Close()
}

func (i *Ingestion) newProp() properties.All {
	return properties.All{
		Ingestion: properties.Ingestion{
			DatabaseName: i.db,
			TableName:    i.table,
		},
	}
}

// prepForIngestion applies the caller's options and stamps the identity token and source
// id onto the properties. It must run before the payload is handed to the upload path,
// because the notification message carries the token and the source id, and the source
// id keys the status table row the upload path opens when table reporting was requested.
func (i *Ingestion) prepForIngestion(ctx context.Context, props *properties.All, options []FileOption, source from) (*Result, error) {
	for _, o := range options {
		if err := o.apply(props, source); err != nil {
			return nil, err
		}
	}

	auth, err := i.mgr.IdentityToken(ctx)
	if err != nil {
		i.diagnoseServiceError(ctx, err)
		return nil, err
	}
	props.Ingestion.Additional.AuthContext = auth

	if props.Source.ID == uuid.Nil {
		props.Source.ID = uuid.New()
	}
	props.Ingestion.ID = props.Source.ID

	return newResult().putProps(*props), nil
}

// diagnoseServiceError probes the endpoint's service type after a peer-attributable
// failure, to catch queued ingestion pointed at an engine endpoint. The original error
// is surfaced unchanged regardless.
func (i *Ingestion) diagnoseServiceError(ctx context.Context, err error) {
	if !errors.ServiceSide(err) {
		return
	}
	if st := i.mgr.ServiceType(ctx); st != "" && st != "DataManagement" {
		i.log.Warn().Str("serviceType", st).Msgf(
			"endpoint %q is not a data management endpoint; queued ingestion requires the ingest- endpoint", i.client.Endpoint())
	}
}
