// Package queued provides the ability to take data from a variety of sources, stage it
// in blob storage and post the ingestion notification the service consumes.
package queued

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-storage-queue-go/azqueue"
	"github.com/google/uuid"

	"github.com/Azure/kusto-ingest-go/errors"
	"github.com/Azure/kusto-ingest-go/internal/gzip"
	"github.com/Azure/kusto-ingest-go/internal/properties"
	"github.com/Azure/kusto-ingest-go/internal/resources"
	"github.com/Azure/kusto-ingest-go/internal/status"
)

const _1MiB = 1024 * 1024

const (
	// BlockSize and Concurrency were derived from cloud-to-cloud upload tests of various
	// file sizes. DO NOT CHANGE UNLESS YOU KNOW BETTER.
	BlockSize   = 8 * _1MiB
	Concurrency = 50

	// DefaultUploadTimeout bounds a single payload upload.
	DefaultUploadTimeout = 10 * time.Minute
)

// Queued provides methods for taking data from various sources and ingesting it using
// queued ingestion.
type Queued interface {
	io.Closer
	Local(ctx context.Context, from string, props properties.All) error
	Reader(ctx context.Context, reader io.Reader, props properties.All) (string, error)
	Blob(ctx context.Context, from string, fileSize int64, props properties.All) error
}

// uploadStream mimics azblob.Client.UploadStream to allow fakes for testing.
type uploadStream func(context.Context, io.Reader, *azblob.Client, string, string, *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)

// uploadBlob mimics azblob.Client.UploadFile to allow fakes for testing.
type uploadBlob func(context.Context, *os.File, *azblob.Client, string, string, *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)

// enqueue mimics azqueue.MessagesURL.Enqueue to allow fakes for testing.
type enqueue func(ctx context.Context, to azqueue.MessagesURL, message string) (*azqueue.EnqueueMessageResponse, error)

// writeStatusRow mimics status.TableClient.Write to allow fakes for testing.
type writeStatusRow func(uri resources.URI, partitionKey, rowKey string, data map[string]interface{}) error

// Ingestion provides methods for taking data from a filesystem of some type and
// ingesting it into the service. This object is scoped for a single database and table.
type Ingestion struct {
	db    string
	table string
	mgr   resources.ResourcesManager

	uploadStream uploadStream
	uploadBlob   uploadBlob
	enqueue      enqueue
	writeStatus  writeStatusRow

	bufferSize    int
	maxBuffers    int
	uploadTimeout time.Duration
}

// Option is an optional argument to New.
type Option func(s *Ingestion)

// WithStaticBuffer sets a static buffer size and buffer count for uploads.
func WithStaticBuffer(bufferSize int, maxBuffers int) Option {
	return func(s *Ingestion) {
		s.bufferSize = bufferSize
		s.maxBuffers = maxBuffers
	}
}

// WithUploadTimeout bounds each payload upload. Default 10 minutes.
func WithUploadTimeout(d time.Duration) Option {
	return func(s *Ingestion) {
		s.uploadTimeout = d
	}
}

// New is the constructor for Ingestion.
func New(db, table string, mgr resources.ResourcesManager, options ...Option) (*Ingestion, error) {
	i := &Ingestion{
		db:            db,
		table:         table,
		mgr:           mgr,
		uploadTimeout: DefaultUploadTimeout,
		uploadStream: func(ctx context.Context, reader io.Reader, client *azblob.Client, container, blob string, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error) {
			return client.UploadStream(ctx, container, blob, reader, o)
		},
		uploadBlob: func(ctx context.Context, file *os.File, client *azblob.Client, container, blob string, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error) {
			return client.UploadFile(ctx, container, blob, file, o)
		},
		enqueue: func(ctx context.Context, to azqueue.MessagesURL, message string) (*azqueue.EnqueueMessageResponse, error) {
			return to.Enqueue(ctx, message, 0, 0)
		},
		writeStatus: func(uri resources.URI, partitionKey, rowKey string, data map[string]interface{}) error {
			client, err := status.NewTableClient(uri)
			if err != nil {
				return err
			}
			return client.Write(partitionKey, rowKey, data)
		},
	}

	for _, opt := range options {
		opt(i)
	}

	return i, nil
}

// Local ingests a local file.
func (i *Ingestion) Local(ctx context.Context, from string, props properties.All) error {
	container, containerURI, err := i.upstreamContainer(ctx)
	if err != nil {
		return err
	}

	// Check the queue now so we don't upload a file and then find there is no queue to
	// notify. A missing container is handled by upstreamContainer.
	if _, err := i.mgr.GetQueue(ctx); err != nil {
		return err
	}

	blobURL, size, err := i.localToBlob(ctx, from, container, containerURI, &props)
	if err != nil {
		return err
	}

	if err := i.Blob(ctx, blobURL, size, props); err != nil {
		return err
	}

	if props.Source.DeleteLocalSource {
		if err := os.Remove(from); err != nil {
			return errors.ES(errors.OpFileIngest, errors.KLocalFileSystem, "file was uploaded successfully, but the local file could not be deleted: %s", err)
		}
	}

	return nil
}

// Reader uploads a payload via an io.Reader. If the function succeeds, it returns the
// name of the created blob.
func (i *Ingestion) Reader(ctx context.Context, reader io.Reader, props properties.All) (string, error) {
	container, containerURI, err := i.upstreamContainer(ctx)
	if err != nil {
		return "", err
	}

	if _, err := i.mgr.GetQueue(ctx); err != nil {
		return "", err
	}

	shouldCompress := ShouldCompress(&props, properties.CTUnknown)
	name := blobName(i.db, i.table, baseName(props), props.Ingestion.Additional.Format, shouldCompress)

	uploadCtx, cancel := context.WithTimeout(ctx, i.uploadTimeout)
	defer cancel()

	if shouldCompress {
		reader = gzip.Compress(reader)
	}

	_, err = i.uploadStream(
		uploadCtx,
		reader,
		container,
		containerURI.ObjectName(),
		name,
		&azblob.UploadStreamOptions{BlockSize: int64(i.blockSize()), Concurrency: i.concurrency()},
	)
	if err != nil {
		return name, errors.ES(errors.OpFileIngest, errors.KBlobstore, "problem uploading to blob storage: %s", err)
	}

	size := int64(0)
	if gz, ok := reader.(*gzip.Streamer); ok {
		size = gz.InputSize()
	}

	if err := i.Blob(ctx, authenticatedBlobPath(containerURI, name), size, props); err != nil {
		return name, err
	}

	return name, nil
}

// Blob enqueues an ingestion notification for a payload already staged in blob storage.
func (i *Ingestion) Blob(ctx context.Context, from string, fileSize int64, props properties.All) error {
	to, err := i.upstreamQueue(ctx)
	if err != nil {
		return err
	}

	props.Ingestion.BlobPath = from
	if fileSize != 0 {
		props.Ingestion.RawDataSize = fileSize
	}

	props.Ingestion.RetainBlobOnSuccess = !props.Source.DeleteLocalSource

	if err := CompleteFormatFromFileName(&props, from); err != nil {
		return err
	}

	if err := i.openStatusRow(ctx, &props); err != nil {
		return err
	}

	j, err := props.Ingestion.MarshalJSONString()
	if err != nil {
		return errors.ES(errors.OpFileIngest, errors.KClientInternal, "could not marshal the ingestion blob info: %s", err).SetNoRetry()
	}

	if _, err := i.enqueue(ctx, to, j); err != nil {
		return errors.E(errors.OpFileIngest, errors.KBlobstore, err)
	}

	return nil
}

// openStatusRow writes the Pending status table row for the ingestion and attaches its
// reference to the properties, so it travels inside the notification message. Runs only
// when table reporting was requested, after the payload is staged and before the
// notification is serialized.
func (i *Ingestion) openStatusRow(ctx context.Context, props *properties.All) error {
	if props.Ingestion.ReportLevel == properties.None ||
		(props.Ingestion.ReportMethod != properties.ReportStatusToTable &&
			props.Ingestion.ReportMethod != properties.ReportStatusToQueueAndTable) {
		return nil
	}
	if props.Ingestion.TableEntryRef != nil {
		return nil
	}

	tableURI, err := i.mgr.GetStatusTable(ctx)
	if err != nil {
		return err
	}

	// Both keys are the ingestion source id, so the row can be found from the source
	// alone.
	key := props.Ingestion.ID.String()
	row := map[string]interface{}{
		"Status":              "Pending",
		"IngestionSourceId":   key,
		"IngestionSourcePath": props.Ingestion.BlobPath,
		"Database":            props.Ingestion.DatabaseName,
		"Table":               props.Ingestion.TableName,
		"UpdatedOn":           time.Now().Format(time.RFC3339Nano),
	}
	if err := i.writeStatus(*tableURI, key, key, row); err != nil {
		return err
	}

	props.Ingestion.TableEntryRef = &properties.StatusTableDescription{
		TableConnectionString: tableURI.String(),
		PartitionKey:          key,
		RowKey:                key,
	}

	return nil
}

// CompleteFormatFromFileName discovers the payload format from the file name when the
// caller did not specify one, defaulting to CSV.
func CompleteFormatFromFileName(props *properties.All, from string) error {
	if props.Ingestion.Additional.Format != properties.DFUnknown {
		return nil
	}

	et := properties.DataFormatDiscovery(from)
	if et == properties.DFUnknown {
		et = properties.CSV
	}
	props.Ingestion.Additional.Format = et

	return nil
}

// upstreamContainer selects the next container handle and opens a client against it.
func (i *Ingestion) upstreamContainer(ctx context.Context) (*azblob.Client, *resources.URI, error) {
	storageURI, err := i.mgr.GetTempStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	serviceURL := fmt.Sprintf("https://%s?%s", storageURI.Account(), storageURI.SAS().Encode())
	client, err := azblob.NewClientWithNoCredential(serviceURL, nil)
	if err != nil {
		return nil, nil, errors.E(errors.OpFileIngest, errors.KBlobstore, err)
	}

	return client, storageURI, nil
}

// upstreamQueue selects the next notification queue handle and opens a messages client
// against it, applying the Manager's queue request options.
func (i *Ingestion) upstreamQueue(ctx context.Context) (azqueue.MessagesURL, error) {
	queue, err := i.mgr.GetQueue(ctx)
	if err != nil {
		return azqueue.MessagesURL{}, err
	}

	service, err := url.Parse(fmt.Sprintf("https://%s?%s", queue.Account(), queue.SAS().Encode()))
	if err != nil {
		return azqueue.MessagesURL{}, errors.E(errors.OpFileIngest, errors.KClientInternal, err)
	}

	creds := azqueue.NewAnonymousCredential()
	p := azqueue.NewPipeline(creds, azqueue.PipelineOptions{Retry: i.mgr.QueueRequestOptions()})

	return azqueue.NewServiceURL(*service, p).NewQueueURL(queue.ObjectName()).NewMessagesURL(), nil
}

// authenticatedBlobPath reassembles the addressable path of a staged blob from the
// container handle it was uploaded through: base URL + "/" + blob + "?" + SAS.
func authenticatedBlobPath(u *resources.URI, blob string) string {
	return fmt.Sprintf("https://%s/%s/%s?%s", u.Account(), u.ObjectName(), blob, u.SAS().Encode())
}

// localToBlob copies a local file to a blob. It returns the authenticated blob URL, the
// payload size and an error if there was one.
func (i *Ingestion) localToBlob(ctx context.Context, from string, client *azblob.Client, containerURI *resources.URI, props *properties.All) (string, int64, error) {
	compression := CompressionDiscovery(from)
	shouldCompress := ShouldCompress(props, compression)
	name := blobName(i.db, i.table, filepath.Base(from), props.Ingestion.Additional.Format, shouldCompress)

	file, err := os.Open(from)
	if err != nil {
		return "", 0, errors.ES(
			errors.OpFileIngest,
			errors.KLocalFileSystem,
			"problem retrieving source file %q: %s", from, err,
		).SetNoRetry()
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", 0, errors.ES(
			errors.OpFileIngest,
			errors.KLocalFileSystem,
			"could not Stat the file(%s): %s", from, err,
		).SetNoRetry()
	}

	uploadCtx, cancel := context.WithTimeout(ctx, i.uploadTimeout)
	defer cancel()

	if shouldCompress {
		gstream := gzip.New()
		gstream.Reset(file)

		_, err = i.uploadStream(
			uploadCtx,
			gstream,
			client,
			containerURI.ObjectName(),
			name,
			&azblob.UploadStreamOptions{BlockSize: int64(i.blockSize()), Concurrency: i.concurrency()},
		)
		if err != nil {
			return "", 0, errors.ES(errors.OpFileIngest, errors.KBlobstore, "problem uploading to blob storage: %s", err)
		}
		return authenticatedBlobPath(containerURI, name), gstream.InputSize(), nil
	}

	// UploadFile uploads blocks in parallel for optimal performance and can handle
	// large files as well.
	_, err = i.uploadBlob(
		uploadCtx,
		file,
		client,
		containerURI.ObjectName(),
		name,
		&azblob.UploadFileOptions{
			BlockSize:   int64(i.blockSize()),
			Concurrency: uint16(i.concurrency()),
		},
	)
	if err != nil {
		return "", 0, errors.ES(errors.OpFileIngest, errors.KBlobstore, "problem uploading to blob storage: %s", err)
	}

	return authenticatedBlobPath(containerURI, name), stat.Size(), nil
}

func (i *Ingestion) blockSize() int {
	if i.bufferSize > 0 {
		return i.bufferSize
	}
	return BlockSize
}

func (i *Ingestion) concurrency() int {
	if i.maxBuffers > 0 {
		return i.maxBuffers
	}
	return Concurrency
}

// blobName synthesizes the name of a staged blob:
// {db}__{table}__{base}__{uuid}[.{format}][.{compression}].
func blobName(db, table, base string, format properties.DataFormat, compressed bool) string {
	name := fmt.Sprintf("%s__%s__%s__%s", db, table, base, uuid.New().String())
	if format != properties.DFUnknown {
		name = name + "." + format.String()
	}
	if compressed {
		name = name + ".gz"
	}
	return name
}

func baseName(props properties.All) string {
	if props.Source.OriginalSource != "" {
		return filepath.Base(props.Source.OriginalSource)
	}
	return "stream"
}

// ShouldCompress reports whether a payload should be gzip compressed before upload:
// compressible formats that are not already compressed, unless the caller opted out.
func ShouldCompress(props *properties.All, compression properties.CompressionType) bool {
	if props.Source.DontCompress {
		return false
	}
	if compression == properties.CTUnknown && props.Source.OriginalSource != "" {
		compression = CompressionDiscovery(props.Source.OriginalSource)
	}
	if compression == properties.GZIP || compression == properties.ZIP {
		return false
	}
	switch props.Ingestion.Additional.Format {
	case properties.AVRO, properties.ORC, properties.Parquet:
		// Binary formats carry their own compression.
		return false
	}
	return true
}

// CompressionDiscovery looks at the file extension. If it is one we support, we return
// the CompressionType that represents that value. Otherwise we return CTNone to
// indicate that the file should be compressed.
func CompressionDiscovery(fName string) properties.CompressionType {
	var ext string
	if strings.HasPrefix(strings.ToLower(fName), "http") {
		// Only the URL path names the file; the SAS query string must not leak into
		// the extension.
		name := fName
		if u, err := url.Parse(fName); err == nil {
			name = u.Path
		}
		ext = strings.ToLower(filepath.Ext(path.Base(name)))
	} else {
		ext = strings.ToLower(filepath.Ext(fName))
	}

	switch ext {
	case ".gz":
		return properties.GZIP
	case ".zip":
		return properties.ZIP
	}
	return properties.CTNone
}

// This allows mocking the stat func later on.
var statFunc = os.Stat

// IsLocalPath detects whether a path points to a filesystem accessible file. An http(s)
// path returns false; anything else must stat to a regular file.
func IsLocalPath(s string) (bool, error) {
	u, err := url.Parse(s)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return false, nil
		}
	}

	stat, err := statFunc(s)
	if err != nil {
		return false, fmt.Errorf("it is not a valid local file path (could not stat file) and not a valid blob path")
	}

	if stat.IsDir() {
		return false, fmt.Errorf("path is a local directory and not a valid file")
	}

	return true, nil
}

// Close implements io.Closer, releasing the resource manager.
func (i *Ingestion) Close() error {
	i.mgr.Close()
	return nil
}
