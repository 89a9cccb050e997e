package ingest

import (
	"context"
	"time"

	"github.com/Azure/kusto-ingest-go/internal/properties"
	"github.com/Azure/kusto-ingest-go/internal/resources"
	"github.com/Azure/kusto-ingest-go/internal/status"
)

// Result provides a way for users to track the state of ingestion jobs.
type Result struct {
	record        StatusRecord
	tableClient   *status.TableClient
	reportToTable bool
}

// newResult creates an initial ingestion status record.
func newResult() *Result {
	return &Result{record: newStatusRecord()}
}

// putProps records the target and reporting preferences of the ingestion.
func (r *Result) putProps(props properties.All) *Result {
	r.reportToTable = props.Ingestion.ReportLevel != properties.None &&
		(props.Ingestion.ReportMethod == properties.ReportStatusToTable ||
			props.Ingestion.ReportMethod == properties.ReportStatusToQueueAndTable)
	r.record.FromProps(props)

	return r
}

// putQueued sets the initial success status depending on the status reporting state.
// The Pending row itself was written by the upload path before the notification was
// enqueued; here we only open a client to poll it with.
func (r *Result) putQueued(ctx context.Context, mgr *resources.Manager) *Result {
	if !r.reportToTable {
		r.record.Status = Queued
		return r
	}

	tableURI, err := mgr.GetStatusTable(ctx)
	if err != nil {
		r.record.Status = StatusRetrievalFailed
		r.record.FailureStatus = Transient
		r.record.Details = "Failed getting status table URI: " + err.Error()
		return r
	}

	client, err := status.NewTableClient(*tableURI)
	if err != nil {
		r.record.Status = StatusRetrievalFailed
		r.record.FailureStatus = Transient
		r.record.Details = "Failed creating a status table client: " + err.Error()
		return r
	}

	r.record.Status = Pending
	r.tableClient = client

	return r
}

// Wait returns a channel that can be checked for the ingestion result. If table
// reporting was not requested, the channel yields the in-memory record immediately.
func (r *Result) Wait(ctx context.Context) chan StatusRecord {
	ch := make(chan StatusRecord, 1)

	go func() {
		defer close(ch)

		if !r.record.Status.IsFinal() && r.reportToTable {
			r.poll(ctx)
		}

		ch <- r.record
	}()

	return ch
}

func (r *Result) poll(ctx context.Context) {
	if r.tableClient == nil {
		return
	}

	key := r.record.IngestionSourceID.String()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.record.Status = StatusRetrievalCanceled
			r.record.FailureStatus = Transient
			return

		case <-ticker.C:
			smap, err := r.tableClient.Read(key, key)
			if err != nil {
				r.record.Status = StatusRetrievalFailed
				r.record.FailureStatus = Transient
				r.record.Details = "Failed reading from the status table: " + err.Error()
				return
			}

			r.record.FromMap(smap)
			if r.record.Status.IsFinal() {
				return
			}
		}
	}
}
