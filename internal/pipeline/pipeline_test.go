package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prashant21b/kreditbee/internal/analytics"
	"github.com/prashant21b/kreditbee/internal/mfapi"
	"github.com/prashant21b/kreditbee/internal/store"
)

// --- fakes -----------------------------------------------------------------

type fakeUpstream struct {
	refs      []mfapi.SchemeRef
	histories map[string]*mfapi.SchemeHistory
	fetchErr  map[string]error
	listErr   error
	fetched   []string
	listGate  chan struct{} // when set, ListSchemes blocks until closed
}

func (f *fakeUpstream) ListSchemes(ctx context.Context) ([]mfapi.SchemeRef, error) {
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.refs, f.listErr
}

func (f *fakeUpstream) FetchScheme(_ context.Context, code string) (*mfapi.SchemeHistory, error) {
	f.fetched = append(f.fetched, code)
	if err := f.fetchErr[code]; err != nil {
		return nil, err
	}
	h, ok := f.histories[code]
	if !ok {
		return nil, mfapi.ErrSchemeNotFound
	}
	return h, nil
}

type fakeFunds struct {
	rows map[string]store.Fund
}

func (f *fakeFunds) Upsert(_ context.Context, fund store.Fund) error {
	if f.rows == nil {
		f.rows = map[string]store.Fund{}
	}
	f.rows[fund.SchemeCode] = fund
	return nil
}

type fakeNAVs struct {
	rows map[string]map[int64]float64 // code -> unix day -> nav
}

func (f *fakeNAVs) BulkUpsert(_ context.Context, code string, points []store.NavPoint) error {
	if f.rows == nil {
		f.rows = map[string]map[int64]float64{}
	}
	if f.rows[code] == nil {
		f.rows[code] = map[int64]float64{}
	}
	for _, p := range points {
		f.rows[code][p.Date.Unix()/86400] = p.NAV
	}
	return nil
}

func (f *fakeNAVs) History(_ context.Context, code string) ([]store.NavPoint, error) {
	days := make([]int64, 0, len(f.rows[code]))
	for d := range f.rows[code] {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	points := make([]store.NavPoint, len(days))
	for i, d := range days {
		points[i] = store.NavPoint{Date: time.Unix(d*86400, 0).UTC(), NAV: f.rows[code][d]}
	}
	return points, nil
}

func (f *fakeNAVs) MaxDate(_ context.Context, code string) (time.Time, bool, error) {
	if len(f.rows[code]) == 0 {
		return time.Time{}, false, nil
	}
	var maxDay int64
	for d := range f.rows[code] {
		if d > maxDay {
			maxDay = d
		}
	}
	return time.Unix(maxDay*86400, 0).UTC(), true, nil
}

func (f *fakeNAVs) count(code string) int { return len(f.rows[code]) }

type fakeSync struct {
	states map[string]*store.SyncState
}

func syncKey(code string, st store.SyncType) string { return code + "/" + string(st) }

func (f *fakeSync) Get(_ context.Context, code string, st store.SyncType) (*store.SyncState, error) {
	s, ok := f.states[syncKey(code, st)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSync) MarkInProgress(_ context.Context, code string, st store.SyncType) error {
	if f.states == nil {
		f.states = map[string]*store.SyncState{}
	}
	now := time.Now()
	f.states[syncKey(code, st)] = &store.SyncState{
		SchemeCode: code, SyncType: st, Status: store.SyncInProgress, StartedAt: &now,
	}
	return nil
}

func (f *fakeSync) MarkCompleted(_ context.Context, code string, st store.SyncType, last time.Time, total int) error {
	s := f.states[syncKey(code, st)]
	if s == nil {
		return fmt.Errorf("mark completed before in_progress for %s", code)
	}
	now := time.Now()
	s.Status = store.SyncCompleted
	s.LastSyncedDate = &last
	s.TotalRecords = total
	s.CompletedAt = &now
	return nil
}

func (f *fakeSync) MarkFailed(_ context.Context, code string, st store.SyncType, msg string) error {
	s := f.states[syncKey(code, st)]
	if s == nil {
		return fmt.Errorf("mark failed before in_progress for %s", code)
	}
	s.Status = store.SyncFailed
	s.ErrorMessage = msg
	return nil
}

func (f *fakeSync) CompletedSchemes(_ context.Context, st store.SyncType) ([]string, error) {
	var codes []string
	for _, s := range f.states {
		if s.SyncType == st && s.Status == store.SyncCompleted {
			codes = append(codes, s.SchemeCode)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (f *fakeSync) seed(code string, st store.SyncType, status store.SyncStatus) {
	if f.states == nil {
		f.states = map[string]*store.SyncState{}
	}
	f.states[syncKey(code, st)] = &store.SyncState{SchemeCode: code, SyncType: st, Status: status}
}

type fakeStatus struct {
	state    store.PipelineState
	percents []float64
	failMsg  string
	resets   int
}

func (f *fakeStatus) Start(_ context.Context, _ string) error {
	f.state = store.PipelineRunning
	f.percents = append(f.percents, 0)
	return nil
}

func (f *fakeStatus) Progress(_ context.Context, _ string, pct float64, _, _, _ int) error {
	f.percents = append(f.percents, pct)
	return nil
}

func (f *fakeStatus) Complete(context.Context) error {
	f.state = store.PipelineIdle
	f.percents = append(f.percents, 100)
	return nil
}

func (f *fakeStatus) Fail(_ context.Context, msg string) error {
	f.state = store.PipelineFailed
	f.failMsg = msg
	return nil
}

func (f *fakeStatus) ResetStale(context.Context) (bool, error) {
	f.resets++
	if f.state == store.PipelineRunning {
		f.state = store.PipelineIdle
		return true, nil
	}
	return false, nil
}

type fakeAnalytics struct {
	rows map[string][]analytics.WindowResult
}

func (f *fakeAnalytics) Upsert(_ context.Context, code string, r analytics.WindowResult) error {
	if f.rows == nil {
		f.rows = map[string][]analytics.WindowResult{}
	}
	f.rows[code] = append(f.rows[code], r)
	return nil
}

// --- helpers ---------------------------------------------------------------

type fixture struct {
	upstream  *fakeUpstream
	funds     *fakeFunds
	navs      *fakeNAVs
	sync      *fakeSync
	status    *fakeStatus
	analytics *fakeAnalytics
	orch      *Orchestrator
}

func newFixture(t *testing.T, upstream *fakeUpstream) *fixture {
	t.Helper()
	f := &fixture{
		upstream:  upstream,
		funds:     &fakeFunds{},
		navs:      &fakeNAVs{},
		sync:      &fakeSync{},
		status:    &fakeStatus{},
		analytics: &fakeAnalytics{},
	}
	orch, err := New(Deps{
		Upstream:  f.upstream,
		Funds:     f.funds,
		NAVs:      f.navs,
		Sync:      f.sync,
		Status:    f.status,
		Analytics: f.analytics,
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func dailyHistory(start time.Time, days int) *mfapi.SchemeHistory {
	navs := make([]mfapi.NavPoint, days)
	for i := range days {
		navs[i] = mfapi.NavPoint{Date: start.AddDate(0, 0, i), NAV: 100 + float64(i)*0.1}
	}
	return &mfapi.SchemeHistory{
		Meta: mfapi.SchemeMeta{SchemeType: "Open Ended"},
		NAVs: navs,
	}
}

var testRefs = []mfapi.SchemeRef{
	{SchemeCode: "111", SchemeName: "HDFC Mid Cap Fund Direct Growth"},
	{SchemeCode: "222", SchemeName: "Axis Small Cap Fund Direct Growth"},
	{SchemeCode: "999", SchemeName: "HDFC Large Cap Fund Direct Growth"}, // filtered out
}

// --- tests -----------------------------------------------------------------

func TestRunFull_HappyPath(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		refs: testRefs,
		histories: map[string]*mfapi.SchemeHistory{
			"111": dailyHistory(start, 400),
			"222": dailyHistory(start, 400),
		},
	}
	f := newFixture(t, upstream)

	require.NoError(t, f.orch.RunFull(t.Context()))

	// Both matching schemes ingested, the large-cap one never fetched.
	assert.ElementsMatch(t, []string{"111", "222"}, upstream.fetched)
	assert.Equal(t, 400, f.navs.count("111"))

	st, err := f.sync.Get(t.Context(), "111", store.SyncBackfill)
	require.NoError(t, err)
	assert.Equal(t, store.SyncCompleted, st.Status)
	assert.Equal(t, 400, st.TotalRecords)
	require.NotNil(t, st.LastSyncedDate)
	assert.Equal(t, start.AddDate(0, 0, 399), *st.LastSyncedDate)

	// Fund rows carry discovery labels plus authoritative scheme type.
	fund := f.funds.rows["111"]
	assert.Equal(t, "HDFC", fund.AMC)
	assert.Equal(t, "Mid Cap Direct Growth", fund.Category)
	assert.Equal(t, "Open Ended", fund.SchemeType)

	// 400 days of history produce at least the 1Y analytics row.
	assert.NotEmpty(t, f.analytics.rows["111"])

	assert.Equal(t, store.PipelineIdle, f.status.state)
	for i := 1; i < len(f.status.percents); i++ {
		assert.GreaterOrEqual(t, f.status.percents[i], f.status.percents[i-1])
	}
	assert.Equal(t, 100.0, f.status.percents[len(f.status.percents)-1])
}

func TestRunFull_ResumeSkipsCompleted(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		refs: []mfapi.SchemeRef{
			{SchemeCode: "111", SchemeName: "HDFC Mid Cap Fund Direct Growth"},
			{SchemeCode: "222", SchemeName: "Axis Small Cap Fund Direct Growth"},
			{SchemeCode: "333", SchemeName: "Tata Small Cap Fund Direct Growth"},
		},
		histories: map[string]*mfapi.SchemeHistory{
			"111": dailyHistory(start, 10),
			"222": dailyHistory(start, 10),
			"333": dailyHistory(start, 10),
		},
	}
	f := newFixture(t, upstream)

	// 111 finished in a previous run; 222 failed; 333 was never touched.
	f.sync.seed("111", store.SyncBackfill, store.SyncCompleted)
	f.sync.seed("222", store.SyncBackfill, store.SyncFailed)

	require.NoError(t, f.orch.RunFull(t.Context()))

	// Exactly the failed and pending schemes are re-fetched.
	assert.ElementsMatch(t, []string{"222", "333"}, upstream.fetched)
}

func TestRunFull_RateLimitBreachAborts(t *testing.T) {
	upstream := &fakeUpstream{
		refs:     testRefs,
		fetchErr: map[string]error{"111": mfapi.ErrRateLimitBreach},
	}
	f := newFixture(t, upstream)

	err := f.orch.RunFull(t.Context())
	require.ErrorIs(t, err, mfapi.ErrRateLimitBreach)

	assert.Equal(t, store.PipelineFailed, f.status.state)
	st, err := f.sync.Get(t.Context(), "111", store.SyncBackfill)
	require.NoError(t, err)
	assert.Equal(t, store.SyncFailed, st.Status)
	// The run aborted before touching the second scheme.
	assert.Equal(t, []string{"111"}, upstream.fetched)
}

func TestRunFull_TransientErrorFailsOnlyThatScheme(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		refs: testRefs,
		histories: map[string]*mfapi.SchemeHistory{
			"222": dailyHistory(start, 10),
		},
		fetchErr: map[string]error{"111": mfapi.ErrUpstreamUnavailable},
	}
	f := newFixture(t, upstream)

	require.NoError(t, f.orch.RunFull(t.Context()))

	st, err := f.sync.Get(t.Context(), "111", store.SyncBackfill)
	require.NoError(t, err)
	assert.Equal(t, store.SyncFailed, st.Status)
	assert.NotEmpty(t, st.ErrorMessage)

	st, err = f.sync.Get(t.Context(), "222", store.SyncBackfill)
	require.NoError(t, err)
	assert.Equal(t, store.SyncCompleted, st.Status)

	assert.Equal(t, store.PipelineIdle, f.status.state)
}

func TestRunFull_Idempotent(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		refs: testRefs,
		histories: map[string]*mfapi.SchemeHistory{
			"111": dailyHistory(start, 50),
			"222": dailyHistory(start, 50),
		},
	}
	f := newFixture(t, upstream)

	require.NoError(t, f.orch.RunFull(t.Context()))
	firstCount := f.navs.count("111")
	firstFetches := len(upstream.fetched)

	require.NoError(t, f.orch.RunFull(t.Context()))

	// The second run skips completed schemes and writes nothing new.
	assert.Equal(t, firstCount, f.navs.count("111"))
	assert.Equal(t, firstFetches, len(upstream.fetched))
}

func TestRunIncremental_AppendsOnlyNewRows(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		refs: testRefs,
		histories: map[string]*mfapi.SchemeHistory{
			"111": dailyHistory(start, 400),
		},
	}
	f := newFixture(t, upstream)

	// Backfill completed earlier with 398 of the 400 rows present.
	f.sync.seed("111", store.SyncBackfill, store.SyncCompleted)
	older := dailyHistory(start, 398)
	points := make([]store.NavPoint, len(older.NAVs))
	for i, p := range older.NAVs {
		points[i] = store.NavPoint{Date: p.Date, NAV: p.NAV}
	}
	require.NoError(t, f.navs.BulkUpsert(t.Context(), "111", points))

	require.NoError(t, f.orch.RunIncremental(t.Context()))

	assert.Equal(t, 400, f.navs.count("111"))

	st, err := f.sync.Get(t.Context(), "111", store.SyncIncremental)
	require.NoError(t, err)
	assert.Equal(t, store.SyncCompleted, st.Status)
	assert.Equal(t, 2, st.TotalRecords)
	require.NotNil(t, st.LastSyncedDate)
	assert.Equal(t, start.AddDate(0, 0, 399), *st.LastSyncedDate)

	// New rows arrived, so analytics were recomputed.
	assert.NotEmpty(t, f.analytics.rows["111"])
	assert.Equal(t, store.PipelineIdle, f.status.state)
}

func TestRunIncremental_NoNewRowsSkipsAnalytics(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		refs:      testRefs,
		histories: map[string]*mfapi.SchemeHistory{"111": dailyHistory(start, 100)},
	}
	f := newFixture(t, upstream)

	f.sync.seed("111", store.SyncBackfill, store.SyncCompleted)
	history := upstream.histories["111"]
	points := make([]store.NavPoint, len(history.NAVs))
	for i, p := range history.NAVs {
		points[i] = store.NavPoint{Date: p.Date, NAV: p.NAV}
	}
	require.NoError(t, f.navs.BulkUpsert(t.Context(), "111", points))

	require.NoError(t, f.orch.RunIncremental(t.Context()))

	assert.Empty(t, f.analytics.rows)
	assert.Equal(t, store.PipelineIdle, f.status.state)

	st, err := f.sync.Get(t.Context(), "111", store.SyncIncremental)
	require.NoError(t, err)
	assert.Equal(t, store.SyncCompleted, st.Status)
	assert.Zero(t, st.TotalRecords)
}

func TestRunIncremental_NoBackfilledSchemes(t *testing.T) {
	f := newFixture(t, &fakeUpstream{refs: testRefs})

	require.NoError(t, f.orch.RunIncremental(t.Context()))
	assert.Empty(t, f.upstream.fetched)
	assert.Equal(t, store.PipelineIdle, f.status.state)
}

func TestTrigger_Conflict(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		gate := make(chan struct{})
		upstream := &fakeUpstream{listGate: gate}
		f := newFixture(t, upstream)

		require.NoError(t, f.orch.Trigger(t.Context(), ModeFull))
		synctest.Wait()
		assert.True(t, f.orch.Running())

		err := f.orch.Trigger(t.Context(), ModeFull)
		assert.ErrorIs(t, err, ErrAlreadyRunning)
		err = f.orch.RunIncremental(t.Context())
		assert.ErrorIs(t, err, ErrAlreadyRunning)

		close(gate)
		synctest.Wait()
		assert.False(t, f.orch.Running())
	})
}

func TestTrigger_InvalidMode(t *testing.T) {
	f := newFixture(t, &fakeUpstream{})

	err := f.orch.Trigger(t.Context(), Mode("hourly"))
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.False(t, f.orch.Running())
}

func TestRecover_ResetsStaleRun(t *testing.T) {
	f := newFixture(t, &fakeUpstream{})
	f.status.state = store.PipelineRunning

	require.NoError(t, f.orch.Recover(t.Context()))
	assert.Equal(t, store.PipelineIdle, f.status.state)
	assert.Equal(t, 1, f.status.resets)
}

func TestNew_MissingDependency(t *testing.T) {
	_, err := New(Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestRunFull_DiscoveryErrorFailsRun(t *testing.T) {
	f := newFixture(t, &fakeUpstream{listErr: errors.New("catalog down")})

	err := f.orch.RunFull(t.Context())
	require.Error(t, err)
	assert.Equal(t, store.PipelineFailed, f.status.state)
	assert.Contains(t, f.status.failMsg, "catalog down")
}
