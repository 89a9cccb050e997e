// Package properties provides the REST properties that are serialized and sent to the
// service based upon the type of ingestion being done.
package properties

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Azure/kusto-ingest-go/errors"
)

// CompressionType is a file's compression type.
type CompressionType int8

// String implements fmt.Stringer.
func (c CompressionType) String() string {
	switch c {
	case GZIP:
		return "gzip"
	case ZIP:
		return "zip"
	}
	return "unknown compression type"
}

// MarshalJSON implements json.Marshaler.
func (c CompressionType) MarshalJSON() ([]byte, error) {
	if c == 0 {
		return nil, fmt.Errorf("CTUnknown is an invalid compression type")
	}
	return []byte(fmt.Sprintf("%q", c.String())), nil
}

const (
	// CTUnknown indicates that the compression type was unset.
	CTUnknown CompressionType = 0
	// CTNone indicates that the file was not compressed.
	CTNone CompressionType = 1
	// GZIP indicates that the file is GZIP compressed.
	GZIP CompressionType = 2
	// ZIP indicates that the file is ZIP compressed.
	ZIP CompressionType = 3
)

// DataFormat indicates what type of encoding format was used for source data.
type DataFormat int

const (
	// DFUnknown indicates the DataFormat is not set.
	DFUnknown DataFormat = 0
	// CSV indicates the source is encoded in comma separated values.
	CSV DataFormat = 1
	// JSON indicates the source is encoded in JavaScript Object Notation.
	JSON DataFormat = 2
	// AVRO indicates the source is encoded in Apache Avro format.
	AVRO DataFormat = 3
	// Parquet indicates the source is encoded in Apache Parquet format.
	Parquet DataFormat = 4
	// ORC indicates the source is encoded in Apache Optimized Row Columnar format.
	ORC DataFormat = 5
	// PSV is pipe "|" separated values.
	PSV DataFormat = 6
	// Raw is a text file that has only a single string value.
	Raw DataFormat = 7
	// SCSV is a file containing semicolon ";" separated values.
	SCSV DataFormat = 8
	// SOHSV is a file containing SOH-separated values (ASCII codepoint 1).
	SOHSV DataFormat = 9
	// TSV is a file containing tab separated values ("\t").
	TSV DataFormat = 10
	// TXT is a text file with lines delimited by "\n".
	TXT DataFormat = 11
)

var dfToExt = map[DataFormat]string{
	CSV: "csv", JSON: "json", AVRO: "avro", Parquet: "parquet", ORC: "orc",
	PSV: "psv", Raw: "raw", SCSV: "scsv", SOHSV: "sohsv", TSV: "tsv", TXT: "txt",
}

var dfToCamel = map[DataFormat]string{
	CSV: "Csv", JSON: "Json", AVRO: "Avro", Parquet: "Parquet", ORC: "Orc",
	PSV: "Psv", Raw: "Raw", SCSV: "Scsv", SOHSV: "Sohsv", TSV: "Tsv", TXT: "Txt",
}

// String implements fmt.Stringer. It returns the file extension for the format.
func (d DataFormat) String() string {
	return dfToExt[d]
}

// CamelCase returns the CamelCase wire rendering of the format.
func (d DataFormat) CamelCase() string {
	return dfToCamel[d]
}

// MarshalJSON implements json.Marshaler.
func (d DataFormat) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return nil, fmt.Errorf("DFUnknown is an invalid data format")
	}
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

// DataFormatDiscovery looks at a file name and tries to discern its data format from
// the extension, ignoring trailing compression extensions.
func DataFormatDiscovery(fName string) DataFormat {
	name := fName
	if u, err := url.Parse(fName); err == nil && u.Scheme != "" {
		name = u.Path
	}

	ext := filepath.Ext(strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(name), ".zip"), ".gz"))
	for df, e := range dfToExt {
		if "."+e == ext {
			return df
		}
	}
	return DFUnknown
}

// ReportLevel is the level of statuses the service reports on an ingestion.
type ReportLevel int

const (
	// FailureOnly reports failed ingestions only.
	FailureOnly ReportLevel = 0
	// None disables status reporting.
	None ReportLevel = 1
	// FailureAndSuccess reports failed and successful ingestions.
	FailureAndSuccess ReportLevel = 2
)

// ReportMethod is where the service reports ingestion statuses to.
type ReportMethod int

const (
	// ReportStatusToQueue reports to the report queues.
	ReportStatusToQueue ReportMethod = 0
	// ReportStatusToTable reports to the ingestion status table.
	ReportStatusToTable ReportMethod = 1
	// ReportStatusToQueueAndTable reports to both.
	ReportStatusToQueueAndTable ReportMethod = 2
)

// StatusTableDescription references the status table row created for an ingestion, so
// the service can update it as the ingestion progresses.
type StatusTableDescription struct {
	// TableConnectionString is the status table URI including its SAS.
	TableConnectionString string `json:"TableConnectionString"`
	// PartitionKey is the partition key of the row.
	PartitionKey string `json:"PartitionKey"`
	// RowKey is the row key of the row.
	RowKey string `json:"RowKey"`
}

// All holds the complete set of properties that might be used during an ingestion.
type All struct {
	// Ingestion is the set of properties that are serialized into the queued message.
	Ingestion Ingestion
	// Source provides options about the source payload being uploaded.
	Source SourceOptions
}

// SourceOptions are options the user provides about the source payload.
type SourceOptions struct {
	// ID is the unique identifier of this ingestion source. Assigned if unset.
	ID uuid.UUID

	// OriginalSource is the path of the payload before it was handed over, used to
	// discover its format and compression.
	OriginalSource string

	// DontCompress indicates the payload must not be gzip compressed before upload.
	DontCompress bool

	// DeleteLocalSource indicates the local file is deleted after it has been consumed.
	DeleteLocalSource bool
}

// Ingestion is the JSON serializable set of properties posted to the notification queue.
type Ingestion struct {
	// ID is the unique identifier for this ingestion.
	ID uuid.UUID `json:"Id"`
	// BlobPath is the URI of the staged payload, including its credential.
	BlobPath string
	// DatabaseName is the name of the database the data will ingest into.
	DatabaseName string
	// TableName is the name of the table the data will ingest into.
	TableName string
	// RawDataSize is the uncompressed size of the payload, if known.
	RawDataSize int64 `json:",omitempty"`
	// RetainBlobOnSuccess indicates the staged blob should not be deleted after a
	// successful ingestion.
	RetainBlobOnSuccess bool `json:",omitempty"`
	// FlushImmediately bypasses the service's aggregation window.
	FlushImmediately bool
	// IgnoreSizeLimit bypasses the service's payload size limit.
	IgnoreSizeLimit bool `json:",omitempty"`
	// ReportLevel is the level of statuses the service reports back.
	ReportLevel ReportLevel
	// ReportMethod is where the service reports statuses to.
	ReportMethod ReportMethod
	// SourceMessageCreationTime is when the message was created.
	SourceMessageCreationTime time.Time `json:",omitempty"`
	// Additional holds the properties nested under AdditionalProperties on the wire.
	Additional Additional `json:"AdditionalProperties"`
	// TableEntryRef references the status table row tracking this ingestion. Nil unless
	// table reporting was requested.
	TableEntryRef *StatusTableDescription `json:"IngestionStatusInTable,omitempty"`
}

// Additional holds the nested additional properties.
type Additional struct {
	// AuthContext is the identity token the service uses to authorize the ingestion.
	AuthContext string `json:"authorizationContext,omitempty"`
	// IngestionMapping is a JSON string mapping the data to the table's columns.
	IngestionMapping string `json:"ingestionMapping,omitempty"`
	// IngestionMappingRef names a mapping previously uploaded to the service.
	IngestionMappingRef string `json:"ingestionMappingReference,omitempty"`
	// IngestionMappingType is what the mapping reference is encoded in.
	IngestionMappingType DataFormat `json:"ingestionMappingType,omitempty"`
	// ValidationPolicy is a JSON encoded string describing the validation to apply.
	ValidationPolicy string `json:"validationPolicy,omitempty"`
	// Format is the format of the payload.
	Format DataFormat `json:"format,omitempty"`
	// Tags is a list of tags to associate with the ingested data.
	Tags []string `json:"tags,omitempty"`
	// IngestIfNotExists prevents ingestion when the table already holds data tagged
	// with an ingest-by tag of the same value.
	IngestIfNotExists string `json:"ingestIfNotExists,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a Additional) MarshalJSON() ([]byte, error) {
	// The mapping type and the data format are the same enumeration, but the service
	// matches the mapping type against CamelCase strings and the format against
	// lowercase ones. Re-encode the mapping type after the fact.
	type additional2 Additional

	b, err := json.Marshal(additional2(a))
	if err != nil {
		return nil, err
	}

	m := map[string]interface{}{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}

	if _, ok := m["ingestionMappingType"]; ok {
		m["ingestionMappingType"] = a.IngestionMappingType.CamelCase()
	}

	return json.Marshal(m)
}

// MarshalJSONString marshals Ingestion into the UTF-8 JSON string posted to the
// notification queue.
func (i Ingestion) MarshalJSONString() (string, error) {
	i = i.defaults()
	if err := i.validate(); err != nil {
		return "", err
	}

	j, err := json.Marshal(i)
	if err != nil {
		return "", errors.E(errors.OpFileIngest, errors.KClientInternal, err)
	}
	return string(j), nil
}

// defaults fills in values that can be auto-generated if not set.
func (i Ingestion) defaults() Ingestion {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.SourceMessageCreationTime.IsZero() {
		i.SourceMessageCreationTime = time.Now()
	}
	i.Additional.Tags = lo.Uniq(i.Additional.Tags)
	return i
}

func (i Ingestion) validate() error {
	if i.ID == uuid.Nil {
		return errors.ES(errors.OpFileIngest, errors.KClientArgs, "the ID cannot be a zero value UUID")
	}
	switch "" {
	case i.DatabaseName:
		return errors.ES(errors.OpFileIngest, errors.KClientArgs, "the database name cannot be an empty string")
	case i.TableName:
		return errors.ES(errors.OpFileIngest, errors.KClientArgs, "the table name cannot be an empty string")
	case i.Additional.AuthContext:
		return errors.ES(errors.OpFileIngest, errors.KClientArgs, "the authorization context was an empty string, which is not allowed")
	case i.BlobPath:
		return errors.ES(errors.OpFileIngest, errors.KClientArgs, "the BlobPath was not set")
	}
	return nil
}
