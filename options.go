package ingest

import (
	"github.com/google/uuid"

	"github.com/Azure/kusto-ingest-go/errors"
	"github.com/Azure/kusto-ingest-go/internal/properties"
)

// DataFormat indicates what type of encoding format was used for source data.
type DataFormat = properties.DataFormat

// Data formats for source payloads.
const (
	// DFUnknown indicates the DataFormat is not set.
	DFUnknown DataFormat = properties.DFUnknown
	// CSV indicates the source is encoded in comma separated values.
	CSV DataFormat = properties.CSV
	// JSON indicates the source is encoded in JavaScript Object Notation.
	JSON DataFormat = properties.JSON
	// AVRO indicates the source is encoded in Apache Avro format.
	AVRO DataFormat = properties.AVRO
	// Parquet indicates the source is encoded in Apache Parquet format.
	Parquet DataFormat = properties.Parquet
	// ORC indicates the source is encoded in Apache Optimized Row Columnar format.
	ORC DataFormat = properties.ORC
	// PSV is pipe "|" separated values.
	PSV DataFormat = properties.PSV
	// Raw is a text file that has only a single string value.
	Raw DataFormat = properties.Raw
	// SCSV is a file containing semicolon ";" separated values.
	SCSV DataFormat = properties.SCSV
	// SOHSV is a file containing SOH-separated values (ASCII codepoint 1).
	SOHSV DataFormat = properties.SOHSV
	// TSV is a file containing tab separated values ("\t").
	TSV DataFormat = properties.TSV
	// TXT is a text file with lines delimited by "\n".
	TXT DataFormat = properties.TXT
)

// from describes the type of source an option is applied to.
type from int

const (
	fromFile from = iota
	fromReader
	fromBlob
	fromRowset
)

var fromNames = map[from]string{
	fromFile:   "file",
	fromReader: "reader",
	fromBlob:   "blob",
	fromRowset: "rowset",
}

// FileOption is an optional argument to FromFile, FromReader and FromRowset.
type FileOption struct {
	name    string
	sources map[from]bool // nil means all sources
	run     func(p *properties.All) error
}

func (o FileOption) apply(p *properties.All, f from) error {
	if o.sources != nil && !o.sources[f] {
		return errors.ES(errors.OpFileIngest, errors.KClientArgs, "%s is not a valid option for a %s source", o.name, fromNames[f])
	}
	return o.run(p)
}

// FileFormat tells the service what format the payload is encoded in. When not
// provided, the client attempts to discover it from the file name.
func FileFormat(et DataFormat) FileOption {
	return FileOption{
		name: "FileFormat",
		run: func(p *properties.All) error {
			p.Ingestion.Additional.Format = et
			return nil
		},
	}
}

// IngestionMappingRef provides the name of a mapping previously created on the service.
func IngestionMappingRef(ref string, mappingKind DataFormat) FileOption {
	return FileOption{
		name: "IngestionMappingRef",
		run: func(p *properties.All) error {
			p.Ingestion.Additional.IngestionMappingRef = ref
			p.Ingestion.Additional.IngestionMappingType = mappingKind
			return nil
		},
	}
}

// IngestionMapping provides a mapping of the payload's fields to the table's columns.
func IngestionMapping(mapping string, mappingKind DataFormat) FileOption {
	return FileOption{
		name: "IngestionMapping",
		run: func(p *properties.All) error {
			p.Ingestion.Additional.IngestionMapping = mapping
			p.Ingestion.Additional.IngestionMappingType = mappingKind
			return nil
		},
	}
}

// ValidationPolicy sets a JSON encoded validation policy applied to the ingestion.
func ValidationPolicy(policy string) FileOption {
	return FileOption{
		name: "ValidationPolicy",
		run: func(p *properties.All) error {
			p.Ingestion.Additional.ValidationPolicy = policy
			return nil
		},
	}
}

// FlushImmediately bypasses the service's aggregation window for this ingestion.
func FlushImmediately() FileOption {
	return FileOption{
		name: "FlushImmediately",
		run: func(p *properties.All) error {
			p.Ingestion.FlushImmediately = true
			return nil
		},
	}
}

// IgnoreSizeLimit bypasses the service's payload size limit.
func IgnoreSizeLimit() FileOption {
	return FileOption{
		name: "IgnoreSizeLimit",
		run: func(p *properties.All) error {
			p.Ingestion.IgnoreSizeLimit = true
			return nil
		},
	}
}

// Tags associates the given tags with the ingested data.
func Tags(tags []string) FileOption {
	return FileOption{
		name: "Tags",
		run: func(p *properties.All) error {
			p.Ingestion.Additional.Tags = tags
			return nil
		},
	}
}

// IngestIfNotExists prevents the ingestion when the table already holds data tagged
// with an ingest-by tag of the same value.
func IngestIfNotExists(value string) FileOption {
	return FileOption{
		name: "IngestIfNotExists",
		run: func(p *properties.All) error {
			p.Ingestion.Additional.IngestIfNotExists = value
			return nil
		},
	}
}

// RawDataSize provides the uncompressed payload size. For blob sources, where the
// client never sees the payload, this hint lets the service size the ingestion.
func RawDataSize(size int64) FileOption {
	return FileOption{
		name: "RawDataSize",
		run: func(p *properties.All) error {
			if size < 0 {
				return errors.ES(errors.OpFileIngest, errors.KClientArgs, "RawDataSize cannot be negative")
			}
			p.Ingestion.RawDataSize = size
			return nil
		},
	}
}

// SourceID sets the unique identifier of the ingestion source. Assigned when not
// provided. The id keys the status table row when table reporting is requested.
func SourceID(id uuid.UUID) FileOption {
	return FileOption{
		name: "SourceID",
		run: func(p *properties.All) error {
			if id == uuid.Nil {
				return errors.ES(errors.OpFileIngest, errors.KClientArgs, "SourceID cannot be a zero value UUID")
			}
			p.Source.ID = id
			return nil
		},
	}
}

// DeleteSource deletes the local source file after it has been uploaded.
func DeleteSource() FileOption {
	return FileOption{
		name:    "DeleteSource",
		sources: map[from]bool{fromFile: true},
		run: func(p *properties.All) error {
			p.Source.DeleteLocalSource = true
			return nil
		},
	}
}

// DontCompress stops the client from gzip compressing the payload before upload.
func DontCompress() FileOption {
	return FileOption{
		name:    "DontCompress",
		sources: map[from]bool{fromFile: true, fromReader: true, fromRowset: true},
		run: func(p *properties.All) error {
			p.Source.DontCompress = true
			return nil
		},
	}
}

// ReportResultToTable requests per-ingestion status tracking through the service's
// status table. Use Result.Wait to follow the row to a final state.
func ReportResultToTable() FileOption {
	return FileOption{
		name: "ReportResultToTable",
		run: func(p *properties.All) error {
			p.Ingestion.ReportLevel = properties.FailureAndSuccess
			p.Ingestion.ReportMethod = properties.ReportStatusToTable
			return nil
		},
	}
}
