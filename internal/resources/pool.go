package resources

import (
	"strings"
	"sync/atomic"

	"github.com/Azure/kusto-ingest-go/errors"
)

// Kind enumerates the kinds of ingestion resources the service vends.
type Kind int

const (
	// TempStorage identifies blob containers for staging ingestion payloads.
	TempStorage Kind = iota
	// SecuredReadyForAggregationQueue identifies the queues ingestion notifications are posted to.
	SecuredReadyForAggregationQueue
	// FailedIngestionsQueue identifies the queues failure reports are posted to.
	FailedIngestionsQueue
	// SuccessfulIngestionsQueue identifies the queues success reports are posted to.
	SuccessfulIngestionsQueue
	// IngestionsStatusTable identifies the table per-ingestion status rows are written to.
	IngestionsStatusTable
)

var kindNames = map[Kind]string{
	TempStorage:                     "TempStorage",
	SecuredReadyForAggregationQueue: "SecuredReadyForAggregationQueue",
	FailedIngestionsQueue:           "FailedIngestionsQueue",
	SuccessfulIngestionsQueue:       "SuccessfulIngestionsQueue",
	IngestionsStatusTable:           "IngestionsStatusTable",
}

// String implements fmt.Stringer. It returns the wire name used by the service.
func (k Kind) String() string {
	return kindNames[k]
}

// KindByName looks a Kind up by its wire name, case-insensitively. An unknown name is a
// configuration error that aborts the refresh that encountered it.
func KindByName(name string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k, nil
		}
	}
	return 0, errors.ES(errors.OpMgmt, errors.KConfig, "unknown ingestion resource kind %q", name)
}

// pool is an ordered set of interchangeable handles of a single kind plus a rotation
// cursor. Pools are filled during a refresh and read-shared afterwards; the slice is
// never mutated once its snapshot is published.
type pool struct {
	kind   Kind
	uris   []*URI
	cursor atomic.Int64
}

func newPool(k Kind) *pool {
	return &pool{kind: k}
}

func (p *pool) add(u *URI) {
	p.uris = append(p.uris, u)
}

// next returns the next handle in rotation. The cursor advances before the read, so a
// pool of n >= 2 serves index 1 first and index 0 only after a wrap. The cursor is
// atomic because concurrent readers of one pool generation rotate it under a shared
// read lock.
func (p *pool) next() (*URI, error) {
	n := int64(len(p.uris))
	if n == 0 {
		return nil, errors.ES(errors.OpMgmt, errors.KService, "no %s ingestion resources are available", p.kind)
	}
	return p.uris[p.cursor.Add(1)%n], nil
}

func (p *pool) empty() bool {
	return len(p.uris) == 0
}
