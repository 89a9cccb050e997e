// Package resources manages the short-lived storage endpoints the ingestion service
// vends: blob containers for staging payloads, notification and report queues, the
// ingestion status table and the identity token ingest messages must carry. The
// endpoints embed time-limited credentials and are re-fetched from the service on a
// fixed cadence; callers obtain the next handle in rotation without ever waiting on
// the service while the pools are populated.
package resources

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-storage-queue-go/azqueue"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Azure/kusto-ingest-go/data/table"
	"github.com/Azure/kusto-ingest-go/data/value"
	"github.com/Azure/kusto-ingest-go/errors"
	"github.com/Azure/kusto-ingest-go/kql"
	"github.com/Azure/kusto-ingest-go/utils"
)

// defaultDB is the database management commands are addressed to.
const defaultDB = "NetDefaultDB"

const (
	defaultRefreshInterval = 1 * time.Hour
	failureRefreshInterval = 15 * time.Minute

	maxRetryAttempts  = 4
	baseRetryInterval = 2 * time.Second
	maxRetryInterval  = 30 * time.Second
)

var (
	ingestionResourcesStmt = kql.New(".get ingestion resources")
	identityTokenStmt      = kql.New(".get kusto identity token")
	showVersionStmt        = kql.New(".show version")
)

const serviceTypeColumn = "ServiceType"

// mgmter is the subset of the query client the Manager uses.
type mgmter interface {
	Mgmt(ctx context.Context, db string, query *kql.Builder) (*table.Rowset, error)
}

// ResourcesManager is the subset of the Manager the ingestion paths consume. Consumers
// take the interface so they can be tested against fake resource sets.
type ResourcesManager interface {
	GetTempStorage(ctx context.Context) (*URI, error)
	GetQueue(ctx context.Context) (*URI, error)
	GetStatusTable(ctx context.Context) (*URI, error)
	QueueRequestOptions() azqueue.RetryOptions
	Close()
}

// snapshot is the atomic unit of refresh: one pool per resource kind. A snapshot is
// filled privately and published wholesale, so readers observe either all-old pools or
// all-new pools, never a mix.
type snapshot struct {
	containers    *pool
	queues        *pool
	failedQueues  *pool
	successQueues *pool
	statusTables  *pool
}

func newSnapshot() *snapshot {
	return &snapshot{
		containers:    newPool(TempStorage),
		queues:        newPool(SecuredReadyForAggregationQueue),
		failedQueues:  newPool(FailedIngestionsQueue),
		successQueues: newPool(SuccessfulIngestionsQueue),
		statusTables:  newPool(IngestionsStatusTable),
	}
}

func (s *snapshot) pool(k Kind) *pool {
	switch k {
	case TempStorage:
		return s.containers
	case SecuredReadyForAggregationQueue:
		return s.queues
	case FailedIngestionsQueue:
		return s.failedQueues
	case SuccessfulIngestionsQueue:
		return s.successQueues
	case IngestionsStatusTable:
		return s.statusTables
	}
	return nil
}

// add parses one (kind name, storage root) row into the matching pool.
func (s *snapshot) add(kindName, storageRoot string) error {
	k, err := KindByName(kindName)
	if err != nil {
		return err
	}
	u, err := Parse(storageRoot)
	if err != nil {
		return err
	}
	s.pool(k).add(u)
	return nil
}

// Manager caches the ingestion resources and identity token for one service endpoint.
// It is safe for concurrent use; an application may hold several for different
// endpoints.
type Manager struct {
	client mgmter

	defaultRefresh time.Duration
	failureRefresh time.Duration
	log            zerolog.Logger

	// resourcesMu guards snap. Writers use a non-blocking acquire so concurrent
	// refreshes collapse to one; readers always take the read side before touching a
	// pool. resourcesMu and tokenMu are never held together.
	resourcesMu sync.RWMutex
	snap        *snapshot

	tokenMu sync.RWMutex
	token   string

	queueMu      sync.Mutex
	queueOptions azqueue.RetryOptions

	done      chan struct{}
	closeOnce sync.Once

	// test seams
	timeAfter  func(time.Duration) <-chan time.Time
	newBackOff func() backoff.BackOff
}

var _ ResourcesManager = (*Manager)(nil)

// Option is an optional argument to New.
type Option func(m *Manager)

// WithDefaultRefreshInterval sets the cadence of successful refreshes. Default 1 hour.
func WithDefaultRefreshInterval(d time.Duration) Option {
	return func(m *Manager) { m.defaultRefresh = d }
}

// WithFailureRefreshInterval sets the cadence after a failed refresh. Default 15 minutes.
func WithFailureRefreshInterval(d time.Duration) Option {
	return func(m *Manager) { m.failureRefresh = d }
}

// WithLogger sets the logger the Manager emits to. Defaults to utils.Logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// New constructs a Manager and starts its two background refreshers, one for the
// ingestion resources and one for the identity token. Both run once immediately, then
// on the success cadence, falling back to the failure cadence after an error.
func New(client mgmter, options ...Option) (*Manager, error) {
	if client == nil {
		return nil, errors.ES(errors.OpServConn, errors.KClientArgs, "resources.New: client cannot be nil")
	}
	m := &Manager{
		client:         client,
		defaultRefresh: defaultRefreshInterval,
		failureRefresh: failureRefreshInterval,
		log:            utils.Logger,
		snap:           newSnapshot(),
		done:           make(chan struct{}),
		timeAfter:      time.After,
		newBackOff:     defaultBackOff,
	}
	for _, o := range options {
		o(m)
	}

	go m.refreshLoop("ingestion resources", m.refreshIngestionResources)
	go m.refreshLoop("identity token", m.refreshIdentityToken)

	return m, nil
}

// Close cancels future refreshes. Refreshes already in flight are allowed to finish;
// publication is atomic, so abandoning them is safe. Close is idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// refreshLoop drives one refresh task. The next run is armed only after the previous
// one completes, so a task never overlaps itself.
func (m *Manager) refreshLoop(name string, refresh func(context.Context) error) {
	var delay time.Duration
	for {
		select {
		case <-m.done:
			return
		default:
		}
		select {
		case <-m.done:
			return
		case <-m.timeAfter(delay):
		}

		if err := refresh(context.Background()); err != nil {
			m.log.Error().Err(err).Msgf("error refreshing %s", name)
			delay = m.failureRefresh
		} else {
			delay = m.defaultRefresh
		}
	}
}

// GetTempStorage returns a handle to a blob container for staging an ingestion payload.
func (m *Manager) GetTempStorage(ctx context.Context) (*URI, error) {
	return m.getResource(ctx, TempStorage)
}

// GetQueue returns a handle to an ingestion notification queue.
func (m *Manager) GetQueue(ctx context.Context) (*URI, error) {
	return m.getResource(ctx, SecuredReadyForAggregationQueue)
}

// GetFailedQueue returns a handle to a failure report queue.
func (m *Manager) GetFailedQueue(ctx context.Context) (*URI, error) {
	return m.getResource(ctx, FailedIngestionsQueue)
}

// GetSuccessfulQueue returns a handle to a success report queue.
func (m *Manager) GetSuccessfulQueue(ctx context.Context) (*URI, error) {
	return m.getResource(ctx, SuccessfulIngestionsQueue)
}

// GetStatusTable returns a handle to the ingestion status table.
func (m *Manager) GetStatusTable(ctx context.Context) (*URI, error) {
	return m.getResource(ctx, IngestionsStatusTable)
}

func (m *Manager) getResource(ctx context.Context, k Kind) (*URI, error) {
	m.resourcesMu.RLock()
	p := m.snap.pool(k)
	if !p.empty() {
		u, err := p.next()
		m.resourcesMu.RUnlock()
		return u, err
	}
	m.resourcesMu.RUnlock()

	// The pool is empty, refresh on demand. If another refresh is already holding the
	// write lock this returns immediately; the read acquire below then waits for that
	// refresh to publish.
	if err := m.refreshIngestionResources(ctx); err != nil {
		return nil, err
	}

	m.resourcesMu.RLock()
	defer m.resourcesMu.RUnlock()
	p = m.snap.pool(k)
	if p.empty() {
		return nil, errors.ES(errors.OpMgmt, errors.KService, "unable to get ingestion resources for this type: %s", k)
	}
	return p.next()
}

// IdentityToken returns the current identity token, refreshing it on demand if it has
// not been obtained yet.
func (m *Manager) IdentityToken(ctx context.Context) (string, error) {
	m.tokenMu.RLock()
	tok := m.token
	m.tokenMu.RUnlock()
	if tok != "" {
		return tok, nil
	}

	if err := m.refreshIdentityToken(ctx); err != nil {
		return "", err
	}

	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	if m.token == "" {
		return "", errors.ES(errors.OpMgmt, errors.KService, "Unable to get Identity token")
	}
	return m.token, nil
}

// SetQueueRequestOptions sets the retry options applied to queue clients constructed
// after this call. Handles already extracted are unaffected.
func (m *Manager) SetQueueRequestOptions(opts azqueue.RetryOptions) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	m.queueOptions = opts
}

// QueueRequestOptions returns the retry options to apply when constructing a queue
// client from a handle.
func (m *Manager) QueueRequestOptions() azqueue.RetryOptions {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return m.queueOptions
}

// refreshIngestionResources fetches the current resource set from the service and
// publishes it wholesale. If another refresh holds the write lock the call returns
// immediately; redundant refreshes are worthless and any caller that needs a handle
// waits on the read side.
func (m *Manager) refreshIngestionResources(ctx context.Context) error {
	if !m.resourcesMu.TryLock() {
		return nil
	}
	defer m.resourcesMu.Unlock()

	m.log.Info().Msg("refreshing ingestion resources")
	rows, err := m.execMgmt(ctx, ingestionResourcesStmt)
	if err != nil {
		return classifyMgmtErr(err, "error refreshing ingestion resources")
	}

	snap := newSnapshot()
	for i, row := range rows.Rows {
		kindName, storageRoot, err := stringPair(row)
		if err != nil {
			return errors.ES(errors.OpMgmt, errors.KClientInternal, "ingestion resources row %d: %v", i, err)
		}
		if err := snap.add(kindName, storageRoot); err != nil {
			// The previous snapshot stays published; a half-built set is never visible.
			return err
		}
	}
	m.snap = snap
	m.log.Info().Msg("refreshing ingestion resources finished")
	return nil
}

// refreshIdentityToken fetches the identity token. Same non-blocking write acquire as
// refreshIngestionResources, under its own lock: the token and the resources refresh
// independently and must not contend.
func (m *Manager) refreshIdentityToken(ctx context.Context) error {
	if !m.tokenMu.TryLock() {
		return nil
	}
	defer m.tokenMu.Unlock()

	m.log.Info().Msg("refreshing identity token")
	rows, err := m.execMgmt(ctx, identityTokenStmt)
	if err != nil {
		return classifyMgmtErr(err, "error refreshing identity token")
	}
	if len(rows.Rows) == 0 || len(rows.Rows[0]) == 0 {
		return errors.ES(errors.OpMgmt, errors.KService, "identity token response had no rows")
	}
	if len(rows.Rows) > 1 {
		return errors.ES(errors.OpMgmt, errors.KClientInternal, "identity token response had %d rows, expected 1", len(rows.Rows))
	}
	s, ok := rows.Rows[0][0].(value.String)
	if !ok {
		return errors.ES(errors.OpMgmt, errors.KClientInternal, "identity token column was a %T, expected a string", rows.Rows[0][0])
	}
	m.token = s.Value
	return nil
}

// ServiceType issues ".show version" and returns the endpoint's ServiceType, or the
// empty string if the call fails or yields no rows. This is a best-effort diagnostic;
// probe errors are logged, never returned.
func (m *Manager) ServiceType(ctx context.Context) string {
	m.log.Info().Msg("getting version to determine the endpoint's service type")
	rows, err := m.client.Mgmt(ctx, defaultDB, showVersionStmt)
	if err != nil {
		m.log.Warn().Err(err).Msg("could not retrieve the service type executing '.show version'")
		return ""
	}
	idx := rows.ColumnIndex(serviceTypeColumn)
	if idx < 0 || len(rows.Rows) == 0 {
		m.log.Warn().Msg("'.show version' did not return a ServiceType value")
		return ""
	}
	s, ok := rows.Rows[0][idx].(value.String)
	if !ok {
		m.log.Warn().Msgf("'.show version' ServiceType column was a %T, expected a string", rows.Rows[0][idx])
		return ""
	}
	return s.Value
}

// execMgmt issues a management command through the retry policy: up to 4 attempts with
// exponential-randomized backoff between 2s and 30s, retrying only throttle errors.
// Any other error aborts the attempt loop and is returned unchanged.
func (m *Manager) execMgmt(ctx context.Context, stmt *kql.Builder) (*table.Rowset, error) {
	var rows *table.Rowset
	op := func() error {
		r, err := m.client.Mgmt(ctx, defaultDB, stmt)
		if err != nil {
			if errors.Throttled(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		rows = r
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(m.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return rows, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseRetryInterval
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, maxRetryAttempts-1)
}

// classifyMgmtErr tags a management-call failure by origin: peer-attributable failures
// become KService, everything else KClientInternal. The original error stays attached.
func classifyMgmtErr(err error, msg string) error {
	kind := errors.KClientInternal
	if errors.ServiceSide(err) {
		kind = errors.KService
	}
	if e, ok := err.(*errors.Error); ok {
		return errors.W(e, errors.ES(errors.OpMgmt, kind, msg))
	}
	return errors.ES(errors.OpMgmt, kind, "%s: %v", msg, err)
}

// stringPair extracts the (kind name, storage root) columns of one resources row.
func stringPair(row value.Values) (string, string, error) {
	if len(row) < 2 {
		return "", "", errors.ES(errors.OpMgmt, errors.KClientInternal, "row had %d columns, expected 2", len(row))
	}
	name, ok := row[0].(value.String)
	if !ok {
		return "", "", errors.ES(errors.OpMgmt, errors.KClientInternal, "ResourceTypeName column was a %T, expected a string", row[0])
	}
	root, ok := row[1].(value.String)
	if !ok {
		return "", "", errors.ES(errors.OpMgmt, errors.KClientInternal, "StorageRoot column was a %T, expected a string", row[1])
	}
	return name.Value, root.Value, nil
}
