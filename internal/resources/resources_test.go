package resources

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kylelemons/godebug/pretty"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/kusto-ingest-go/data/table"
	"github.com/Azure/kusto-ingest-go/data/types"
	"github.com/Azure/kusto-ingest-go/data/value"
	"github.com/Azure/kusto-ingest-go/errors"
	"github.com/Azure/kusto-ingest-go/kql"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc           string
		url            string
		err            bool
		wantAccount    string
		wantObjectName string
	}{
		{
			desc: "no object name provided",
			url:  "https://account.queue.core.windows.net/",
			err:  true,
		},
		{
			desc: "bad scheme",
			url:  "http://account.table.core.windows.net/objectname",
			err:  true,
		},
		{
			desc: "account is missing, but has leading dot",
			url:  "https://.queue.core.windows.net/objectname",
			err:  true,
		},
		{
			desc:           "success",
			url:            "https://account.table.core.windows.net/objectname",
			wantAccount:    "account.table.core.windows.net",
			wantObjectName: "objectname",
		},
		{
			desc:           "success non-public cloud",
			url:            "https://account.table.kusto.chinacloudapi.cn/objectname",
			wantAccount:    "account.table.kusto.chinacloudapi.cn",
			wantObjectName: "objectname",
		},
		{
			desc:           "success dns zone",
			url:            "https://account.z01.blob.storage.azure.net/objectname?sas=token",
			wantAccount:    "account.z01.blob.storage.azure.net",
			wantObjectName: "objectname",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.desc, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(test.url)

			if test.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.wantAccount, got.Account())
			assert.Equal(t, test.wantObjectName, got.ObjectName())
			assert.Equal(t, test.url, got.String())
		})
	}
}

func mustParse(s string) *URI {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func TestPoolRotation(t *testing.T) {
	t.Parallel()

	h0 := mustParse("https://account.queue.core.windows.net/q0")
	h1 := mustParse("https://account.queue.core.windows.net/q1")
	h2 := mustParse("https://account.queue.core.windows.net/q2")

	p := newPool(SecuredReadyForAggregationQueue)

	_, err := p.next()
	assert.Error(t, err, "next() on an empty pool must fail")

	p.add(h0)
	p.add(h1)
	p.add(h2)

	// The cursor advances before the read, so index 1 comes first.
	want := []*URI{h1, h2, h0, h1, h2, h0}
	for i, w := range want {
		got, err := p.next()
		require.NoError(t, err)
		assert.Same(t, w, got, "next() call %d", i)
	}
}

func TestPoolSingle(t *testing.T) {
	t.Parallel()

	h := mustParse("https://account.blob.core.windows.net/c0")
	p := newPool(TempStorage)
	p.add(h)

	for i := 0; i < 3; i++ {
		got, err := p.next()
		require.NoError(t, err)
		assert.Same(t, h, got)
	}
}

func TestKindByName(t *testing.T) {
	t.Parallel()

	for k, name := range kindNames {
		got, err := KindByName(name)
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := KindByName("securedreadyforaggregationqueue")
	require.NoError(t, err)
	assert.Equal(t, SecuredReadyForAggregationQueue, got)

	_, err = KindByName("MysteryQueue")
	require.Error(t, err)
	assert.Equal(t, errors.KConfig, errors.GetKind(err))
}

// FakeMgmt fakes the management side of the query client. Responses are selected by
// statement text and every call is counted.
type FakeMgmt struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[string]func(count int) (*table.Rowset, error)
}

func NewFakeMgmt() *FakeMgmt {
	return &FakeMgmt{
		calls:     map[string]int{},
		responses: map[string]func(int) (*table.Rowset, error){},
	}
}

func (f *FakeMgmt) respond(stmt string, fn func(count int) (*table.Rowset, error)) *FakeMgmt {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[stmt] = fn
	return f
}

func (f *FakeMgmt) count(stmt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stmt]
}

func (f *FakeMgmt) Mgmt(_ context.Context, db string, query *kql.Builder) (*table.Rowset, error) {
	if db != defaultDB {
		panic(fmt.Sprintf("expected db to be %q, was %q", defaultDB, db))
	}

	f.mu.Lock()
	f.calls[query.String()]++
	count := f.calls[query.String()]
	fn := f.responses[query.String()]
	f.mu.Unlock()

	if fn == nil {
		panic(fmt.Sprintf("no response registered for statement %q", query.String()))
	}
	return fn(count)
}

func resourceRows(pairs ...[2]string) *table.Rowset {
	cols := table.Columns{
		{Name: "ResourceTypeName", Type: types.String},
		{Name: "StorageRoot", Type: types.String},
	}
	rows := make([]value.Values, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, value.Values{
			value.String{Valid: true, Value: p[0]},
			value.String{Valid: true, Value: p[1]},
		})
	}
	rs, err := table.NewRowset(cols, rows...)
	if err != nil {
		panic(err)
	}
	return rs
}

func fullResourceRows() *table.Rowset {
	return resourceRows(
		[2]string{"TempStorage", "https://account.blob.core.windows.net/storageroot0?sas=a"},
		[2]string{"SecuredReadyForAggregationQueue", "https://account.queue.core.windows.net/ready0?sas=b"},
		[2]string{"FailedIngestionsQueue", "https://account.queue.core.windows.net/failed0?sas=c"},
		[2]string{"SuccessfulIngestionsQueue", "https://account.queue.core.windows.net/success0?sas=d"},
		[2]string{"IngestionsStatusTable", "https://account.table.core.windows.net/status0?sas=e"},
	)
}

func tokenRows(tokens ...string) *table.Rowset {
	cols := table.Columns{{Name: "AuthorizationContext", Type: types.String}}
	rows := make([]value.Values, 0, len(tokens))
	for _, tok := range tokens {
		rows = append(rows, value.Values{value.String{Valid: true, Value: tok}})
	}
	rs, err := table.NewRowset(cols, rows...)
	if err != nil {
		panic(err)
	}
	return rs
}

func serviceTypeRows(st string) *table.Rowset {
	cols := table.Columns{
		{Name: "BuildVersion", Type: types.String},
		{Name: "ServiceType", Type: types.String},
	}
	rs, err := table.NewRowset(cols, value.Values{
		value.String{Valid: true, Value: "1.0.0"},
		value.String{Valid: true, Value: st},
	})
	if err != nil {
		panic(err)
	}
	return rs
}

// testManager builds a Manager without starting its refresh loops, with retry sleeps
// zeroed out.
func testManager(client mgmter) *Manager {
	return &Manager{
		client:         client,
		defaultRefresh: defaultRefreshInterval,
		failureRefresh: failureRefreshInterval,
		log:            zerolog.Nop(),
		snap:           newSnapshot(),
		done:           make(chan struct{}),
		timeAfter:      time.After,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetryAttempts-1)
		},
	}
}

func TestRefreshPublishesAllPools(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(int) (*table.Rowset, error) {
		return fullResourceRows(), nil
	})
	m := testManager(fake)

	require.NoError(t, m.refreshIngestionResources(context.Background()))

	want := map[Kind]string{
		TempStorage:                     "storageroot0",
		SecuredReadyForAggregationQueue: "ready0",
		FailedIngestionsQueue:           "failed0",
		SuccessfulIngestionsQueue:       "success0",
		IngestionsStatusTable:           "status0",
	}
	for kind, object := range want {
		u, err := m.getResource(context.Background(), kind)
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, object, u.ObjectName(), "kind %s", kind)
	}

	// The pools were already populated; none of the gets above may have refreshed.
	assert.Equal(t, 1, fake.count(".get ingestion resources"))
}

func TestEmptyPoolTriggersRefresh(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(int) (*table.Rowset, error) {
		return resourceRows([2]string{"SecuredReadyForAggregationQueue", "https://a.queue.core.windows.net/q?sas=x"}), nil
	})
	m := testManager(fake)

	u, err := m.GetQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a.queue.core.windows.net", u.Account())
	assert.Equal(t, "q", u.ObjectName())
	assert.Equal(t, 1, fake.count(".get ingestion resources"))

	// A kind the response did not carry stays empty and surfaces a service error,
	// refreshing once more on the way.
	_, err = m.GetTempStorage(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KService, errors.GetKind(err))
	assert.Equal(t, 2, fake.count(".get ingestion resources"))
}

func TestUnknownKindAbortsWithoutPartialPublish(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(count int) (*table.Rowset, error) {
		if count == 1 {
			return fullResourceRows(), nil
		}
		return resourceRows(
			[2]string{"TempStorage", "https://account.blob.core.windows.net/newroot?sas=f"},
			[2]string{"MysteryQueue", "https://account.queue.core.windows.net/mystery?sas=g"},
		), nil
	})
	m := testManager(fake)

	require.NoError(t, m.refreshIngestionResources(context.Background()))

	err := m.refreshIngestionResources(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KConfig, errors.GetKind(err))

	// The first snapshot must still be fully observable.
	u, err := m.GetTempStorage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "storageroot0", u.ObjectName())
}

func TestBadStorageRootAborts(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(int) (*table.Rowset, error) {
		return resourceRows([2]string{"TempStorage", "https://.blob.core.windows.net/storageroot"}), nil
	})
	m := testManager(fake)

	err := m.refreshIngestionResources(context.Background())
	require.Error(t, err)
}

func TestThrottleRetryThenSuccess(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(count int) (*table.Rowset, error) {
		if count <= 3 {
			return nil, errors.ES(errors.OpMgmt, errors.KThrottled, "throttled, retry later")
		}
		return fullResourceRows(), nil
	})
	m := testManager(fake)

	require.NoError(t, m.refreshIngestionResources(context.Background()))
	assert.Equal(t, 4, fake.count(".get ingestion resources"))

	u, err := m.GetQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready0", u.ObjectName())
}

func TestThrottleRetryExhausted(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(int) (*table.Rowset, error) {
		return nil, errors.ES(errors.OpMgmt, errors.KThrottled, "throttled, retry later")
	})
	m := testManager(fake)

	err := m.refreshIngestionResources(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KService, errors.GetKind(err))
	assert.Equal(t, maxRetryAttempts, fake.count(".get ingestion resources"))
}

func TestNonThrottleErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(int) (*table.Rowset, error) {
		return nil, errors.ES(errors.OpMgmt, errors.KHTTPError, "500 internal server error")
	})
	m := testManager(fake)

	err := m.refreshIngestionResources(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KService, errors.GetKind(err))
	assert.Equal(t, 1, fake.count(".get ingestion resources"))
}

func TestClientSideErrorClassification(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(int) (*table.Rowset, error) {
		return nil, errors.ES(errors.OpMgmt, errors.KClientArgs, "bad statement")
	})
	m := testManager(fake)

	err := m.refreshIngestionResources(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KClientInternal, errors.GetKind(err))
}

func TestConcurrentRefreshCollapse(t *testing.T) {
	t.Parallel()

	const workers = 10

	release := make(chan struct{})
	var inFlight atomic.Int32
	fake := NewFakeMgmt().respond(".get ingestion resources", func(int) (*table.Rowset, error) {
		inFlight.Add(1)
		<-release
		return fullResourceRows(), nil
	})
	m := testManager(fake)

	var completed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.refreshIngestionResources(context.Background()))
			completed.Add(1)
		}()
	}

	// Wait for the winner to enter the control-plane call and every loser to bounce
	// off the write lock.
	for inFlight.Load() != 1 || completed.Load() != workers-1 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, 1, fake.count(".get ingestion resources"))
}

func TestIdentityToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc    string
		fake    *FakeMgmt
		err     bool
		want    string
		wantKnd errors.Kind
	}{
		{
			desc: "mgmt returns an error",
			fake: NewFakeMgmt().respond(".get kusto identity token", func(int) (*table.Rowset, error) {
				return nil, errors.ES(errors.OpMgmt, errors.KHTTPError, "some error")
			}),
			err:     true,
			wantKnd: errors.KService,
		},
		{
			desc: "returned two rows, only one allowed",
			fake: NewFakeMgmt().respond(".get kusto identity token", func(int) (*table.Rowset, error) {
				return tokenRows("authtoken", "authtoken2"), nil
			}),
			err:     true,
			wantKnd: errors.KClientInternal,
		},
		{
			desc: "success",
			fake: NewFakeMgmt().respond(".get kusto identity token", func(int) (*table.Rowset, error) {
				return tokenRows("authtoken"), nil
			}),
			want: "authtoken",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.desc, func(t *testing.T) {
			t.Parallel()
			m := testManager(test.fake)

			got, err := m.IdentityToken(context.Background())

			if test.err {
				require.Error(t, err)
				assert.Equal(t, test.wantKnd, errors.GetKind(err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.want, got)

			// The token is cached; a second call must not refresh.
			got, err = m.IdentityToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
			assert.Equal(t, 1, test.fake.count(".get kusto identity token"))
		})
	}
}

func TestTokenIndependentOfResources(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().
		respond(".get ingestion resources", func(int) (*table.Rowset, error) {
			return nil, errors.ES(errors.OpMgmt, errors.KHTTPError, "resources down")
		}).
		respond(".get kusto identity token", func(int) (*table.Rowset, error) {
			return tokenRows("authtoken"), nil
		})
	m := testManager(fake)

	tok, err := m.IdentityToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "authtoken", tok)

	_, err = m.GetQueue(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KService, errors.GetKind(err))
}

func TestServiceTypeProbe(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".show version", func(int) (*table.Rowset, error) {
		return serviceTypeRows("DataManagement"), nil
	})
	m := testManager(fake)
	assert.Equal(t, "DataManagement", m.ServiceType(context.Background()))

	fake = NewFakeMgmt().respond(".show version", func(int) (*table.Rowset, error) {
		return nil, errors.ES(errors.OpMgmt, errors.KHTTPError, "boom")
	})
	m = testManager(fake)
	assert.Equal(t, "", m.ServiceType(context.Background()), "probe errors are swallowed")
	assert.Equal(t, 1, fake.count(".show version"), "the probe does not retry")
}

// fakeTimer records the delays the refresh loop asks for and fires on demand.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	fire   chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{fire: make(chan time.Time)}
}

func (f *fakeTimer) after(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	return f.fire
}

func (f *fakeTimer) recorded() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func (f *fakeTimer) waitLen(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if len(f.recorded()) >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d timer arms, have %d", n, len(f.recorded()))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRefreshCadence(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(count int) (*table.Rowset, error) {
		if count == 1 {
			return nil, errors.ES(errors.OpMgmt, errors.KHTTPError, "transient outage")
		}
		return fullResourceRows(), nil
	})

	m := testManager(fake)
	timer := newFakeTimer()
	m.timeAfter = timer.after

	go m.refreshLoop("ingestion resources", m.refreshIngestionResources)

	// First run is armed at interval zero.
	timer.waitLen(t, 1)
	timer.fire <- time.Time{}

	// The first refresh failed, so the loop reschedules at the failure cadence.
	timer.waitLen(t, 2)
	timer.fire <- time.Time{}

	// The second refresh succeeded, back to the success cadence.
	timer.waitLen(t, 3)

	if diff := pretty.Compare([]time.Duration{0, failureRefreshInterval, defaultRefreshInterval}, timer.recorded()); diff != "" {
		t.Errorf("TestRefreshCadence: timer delays: -want/+got:\n%s", diff)
	}

	m.Close()
}

func TestCloseStopsScheduler(t *testing.T) {
	t.Parallel()

	fake := NewFakeMgmt().respond(".get ingestion resources", func(int) (*table.Rowset, error) {
		return fullResourceRows(), nil
	})

	m := testManager(fake)
	timer := newFakeTimer()
	m.timeAfter = timer.after

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		m.refreshLoop("ingestion resources", m.refreshIngestionResources)
	}()

	timer.waitLen(t, 1)
	timer.fire <- time.Time{}
	timer.waitLen(t, 2)

	m.Close()
	m.Close() // idempotent

	select {
	case <-loopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh loop did not stop after Close")
	}

	assert.Equal(t, 1, fake.count(".get ingestion resources"), "no refresh may run after Close")
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	fake := NewFakeMgmt().
		respond(".get ingestion resources", func(int) (*table.Rowset, error) {
			return fullResourceRows(), nil
		}).
		respond(".get kusto identity token", func(int) (*table.Rowset, error) {
			return tokenRows("authtoken"), nil
		})

	m, err := New(fake, WithDefaultRefreshInterval(time.Hour), WithFailureRefreshInterval(15*time.Minute))
	require.NoError(t, err)
	defer m.Close()

	// Both refreshers run once at construction; wait for their results to land.
	deadline := time.Now().Add(5 * time.Second)
	for fake.count(".get ingestion resources") == 0 || fake.count(".get kusto identity token") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial refreshes did not run")
		}
		time.Sleep(time.Millisecond)
	}

	u, err := m.GetQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready0", u.ObjectName())
}
