package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Azure/kusto-ingest-go/internal/properties"
)

// StatusCode is the ingestion status.
type StatusCode string

const (
	// Pending status represents a temporary status.
	// Might change during the course of ingestion based on the
	// outcome of the data ingestion operation.
	Pending StatusCode = "Pending"
	// Succeeded status represents a permanent status.
	// The data has been successfully ingested.
	Succeeded StatusCode = "Succeeded"
	// Failed status represents a permanent status.
	// The data has not been ingested.
	Failed StatusCode = "Failed"
	// Queued status represents a permanent status.
	// The data has been queued for ingestion and status tracking was not requested.
	// (This does not indicate that the ingestion was successful.)
	Queued StatusCode = "Queued"
	// Skipped status represents a permanent status.
	// No data was supplied for ingestion. The ingest operation was skipped.
	Skipped StatusCode = "Skipped"
	// PartiallySucceeded status represents a permanent status.
	// Part of the data was successfully ingested, while other parts failed.
	PartiallySucceeded StatusCode = "PartiallySucceeded"

	// StatusRetrievalFailed means the client ran into trouble reading the status from the service.
	StatusRetrievalFailed StatusCode = "StatusRetrievalFailed"
	// StatusRetrievalCanceled means the user canceled the status check.
	StatusRetrievalCanceled StatusCode = "StatusRetrievalCanceled"
	// ClientError means an error was detected on the client side.
	ClientError StatusCode = "ClientError"
)

// IsFinal returns true if the status is a final status, or false if the status is temporary.
func (i StatusCode) IsFinal() bool {
	return i != Pending
}

// FailureStatusCode indicates the status of failed ingestion attempts.
type FailureStatusCode string

const (
	// Unknown represents an undefined or unset failure state.
	Unknown FailureStatusCode = "Unknown"
	// Permanent represents a failure state that will not benefit from a retry attempt.
	Permanent FailureStatusCode = "Permanent"
	// Transient represents a retryable failure state.
	Transient FailureStatusCode = "Transient"
	// Exhausted represents a retryable failure that has exhausted all retry attempts.
	Exhausted FailureStatusCode = "Exhausted"
)

// StatusRecord is a record containing information regarding the status of an ingestion.
type StatusRecord struct {
	// Status is the ingestion status returned from the service. Status remains 'Pending'
	// during the ingestion process and is updated by the service once the ingestion
	// completes. When the report method is 'Queue', the status will always be 'Queued'
	// and the caller needs to query the report queues, as configured.
	Status StatusCode

	// IngestionSourceID is a unique identifier representing the ingested source. It can
	// be supplied during the ingestion execution.
	IngestionSourceID uuid.UUID

	// IngestionSourcePath is the URI of the blob, potentially including the secret
	// needed to access it.
	IngestionSourcePath string

	// Database is the name of the database holding the target table.
	Database string

	// Table is the name of the target table into which the data will be ingested.
	Table string

	// UpdatedOn is the last updated time of the ingestion status.
	UpdatedOn time.Time

	// OperationID is the ingestion's operation ID.
	OperationID uuid.UUID

	// ActivityID is the ingestion's activity ID.
	ActivityID uuid.UUID

	// ErrorCode indicates the failure's error code, in case of a failure.
	ErrorCode string

	// FailureStatus indicates the failure's status, in case of a failure.
	FailureStatus FailureStatusCode

	// Details holds the failure's details, in case of a failure.
	Details string

	// OriginatesFromUpdatePolicy indicates whether a failure originated from an update
	// policy.
	OriginatesFromUpdatePolicy bool
}

// newStatusRecord creates a new record initialized with defaults.
func newStatusRecord() StatusRecord {
	return StatusRecord{
		Status:              Failed,
		IngestionSourceID:   uuid.Nil,
		IngestionSourcePath: "Undefined",
		Database:            "Undefined",
		Table:               "Undefined",
		UpdatedOn:           time.Now(),
		ErrorCode:           "Unknown",
		FailureStatus:       Unknown,
	}
}

// FromProps takes in data from the ingestion properties.
func (r *StatusRecord) FromProps(props properties.All) {
	r.IngestionSourceID = props.Source.ID
	r.Database = props.Ingestion.DatabaseName
	r.Table = props.Ingestion.TableName
	r.UpdatedOn = time.Now()

	if props.Ingestion.BlobPath != "" && r.IngestionSourcePath == "Undefined" {
		r.IngestionSourcePath = props.Ingestion.BlobPath
	}
}

// FromMap reads an ingestion status record from a status table row.
func (r *StatusRecord) FromMap(data map[string]interface{}) {
	str := func(key string) string {
		if v, ok := data[key].(string); ok {
			return v
		}
		return ""
	}

	if s := str("Status"); s != "" {
		r.Status = StatusCode(s)
	}
	if s := str("IngestionSourceId"); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			r.IngestionSourceID = id
		}
	}
	if s := str("IngestionSourcePath"); s != "" {
		r.IngestionSourcePath = s
	}
	if s := str("Database"); s != "" {
		r.Database = s
	}
	if s := str("Table"); s != "" {
		r.Table = s
	}
	if t, err := time.Parse(time.RFC3339Nano, str("UpdatedOn")); err == nil {
		r.UpdatedOn = t
	}
	if s := str("OperationId"); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			r.OperationID = id
		}
	}
	if s := str("ActivityId"); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			r.ActivityID = id
		}
	}
	if s := str("ErrorCode"); s != "" {
		r.ErrorCode = s
	}
	if s := str("FailureStatus"); s != "" {
		r.FailureStatus = FailureStatusCode(s)
	}
	if s := str("Details"); s != "" {
		r.Details = s
	}
	r.OriginatesFromUpdatePolicy = strings.EqualFold(str("OriginatesFromUpdatePolicy"), "true")
}

// ToMap converts an ingestion status record to a status table row.
func (r *StatusRecord) ToMap() map[string]interface{} {
	// We only create the initial record; OperationId, ActivityId, ErrorCode,
	// FailureStatus, Details and OriginatesFromUpdatePolicy are the service's to write.
	return map[string]interface{}{
		"Status":              string(r.Status),
		"IngestionSourceId":   r.IngestionSourceID.String(),
		"IngestionSourcePath": r.IngestionSourcePath,
		"Database":            r.Database,
		"Table":               r.Table,
		"UpdatedOn":           r.UpdatedOn.Format(time.RFC3339Nano),
	}
}

// String implements fmt.Stringer.
func (r StatusRecord) String() string {
	return fmt.Sprintf("IngestionSourceID: '%s', IngestionSourcePath: '%s', Status: '%s', FailureStatus: '%s', ErrorCode: '%s', Database: '%s', Table: '%s', UpdatedOn: '%s', Details: '%s'",
		r.IngestionSourceID,
		r.IngestionSourcePath,
		r.Status,
		r.FailureStatus,
		r.ErrorCode,
		r.Database,
		r.Table,
		r.UpdatedOn,
		r.Details)
}

// ToError converts an ingestion status to an error if failed or partially succeeded,
// or nil if succeeded or queued.
func (r StatusRecord) ToError() error {
	switch r.Status {
	case Succeeded, Queued:
		return nil
	case PartiallySucceeded:
		return fmt.Errorf("ingestion succeeded partially\n%s", r)
	}
	return fmt.Errorf("ingestion failed\n%s", r)
}
